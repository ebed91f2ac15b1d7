package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Strategy selects how consumed stock is costed.
type Strategy string

const (
	// StrategyFIFO consumes the oldest batches first.
	StrategyFIFO Strategy = "FIFO"
	// StrategyLIFO consumes the newest batches first.
	StrategyLIFO Strategy = "LIFO"
	// StrategyAverage prices consumption at the weighted average of remaining batches.
	StrategyAverage Strategy = "AVERAGE"
	// StrategySpecific consumes from a caller-identified batch only.
	StrategySpecific Strategy = "SPECIFIC"
)

// Valid reports whether s is a supported strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFIFO, StrategyLIFO, StrategyAverage, StrategySpecific:
		return true
	}
	return false
}

// LocationType classifies a stock location.
type LocationType string

const (
	LocationWarehouse          LocationType = "warehouse"
	LocationStore              LocationType = "store"
	LocationDistributionCenter LocationType = "distribution_center"
	LocationVirtual            LocationType = "virtual"
)

// Valid reports whether t is a supported location type.
func (t LocationType) Valid() bool {
	switch t {
	case LocationWarehouse, LocationStore, LocationDistributionCenter, LocationVirtual:
		return true
	}
	return false
}

// MovementType enumerates every recorded quantity change.
type MovementType string

const (
	MovementReceipt            MovementType = "receipt"
	MovementSale               MovementType = "sale"
	MovementTransferOut        MovementType = "transfer_out"
	MovementTransferIn         MovementType = "transfer_in"
	MovementAdjustmentIncrease MovementType = "adjustment_increase"
	MovementAdjustmentDecrease MovementType = "adjustment_decrease"
	MovementReservation        MovementType = "reservation"
	MovementReservationRelease MovementType = "reservation_release"
	MovementReturn             MovementType = "return"
	MovementWriteOff           MovementType = "write_off"
)

// Direction returns +1 when the movement adds on-hand stock, -1 when it
// removes on-hand stock and 0 when it only touches reserved quantity.
func (t MovementType) Direction() int {
	switch t {
	case MovementReceipt, MovementTransferIn, MovementAdjustmentIncrease, MovementReturn:
		return 1
	case MovementSale, MovementTransferOut, MovementAdjustmentDecrease, MovementWriteOff:
		return -1
	case MovementReservation, MovementReservationRelease:
		return 0
	}
	return 0
}

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementReceipt, MovementSale, MovementTransferOut, MovementTransferIn,
		MovementAdjustmentIncrease, MovementAdjustmentDecrease, MovementReservation,
		MovementReservationRelease, MovementReturn, MovementWriteOff:
		return true
	}
	return false
}

// TransferStatus is the lifecycle state of a StockTransfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferInTransit TransferStatus = "in_transit"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

// Open reports whether the transfer still holds or may hold stock.
func (s TransferStatus) Open() bool {
	return s == TransferPending || s == TransferInTransit
}

// ReservationStatus is the lifecycle state of a Reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Product is a tenant scoped stock keeping unit.
type Product struct {
	ID                 string           `json:"id"`
	TenantID           string           `json:"tenant_id"`
	SKU                string           `json:"sku"`
	Name               string           `json:"name"`
	UnitOfMeasure      string           `json:"unit_of_measure"`
	TrackInventory     bool             `json:"track_inventory"`
	AllowNegativeStock bool             `json:"allow_negative_stock"`
	Strategy           Strategy         `json:"inventory_strategy"`
	ReorderPoint       *decimal.Decimal `json:"reorder_point,omitempty"`
	ReorderQuantity    *decimal.Decimal `json:"reorder_quantity,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Location is a place stock is held. ParentID is empty for roots.
type Location struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	Name      string       `json:"name"`
	Type      LocationType `json:"location_type"`
	ParentID  string       `json:"parent_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// StockLevel is the per (tenant, product, location) aggregate.
type StockLevel struct {
	TenantID   string          `json:"tenant_id"`
	ProductID  string          `json:"product_id"`
	LocationID string          `json:"location_id"`
	OnHand     decimal.Decimal `json:"quantity_on_hand"`
	Reserved   decimal.Decimal `json:"quantity_reserved"`
	InTransit  decimal.Decimal `json:"quantity_in_transit"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Available is on-hand minus reserved.
func (l StockLevel) Available() decimal.Decimal {
	return l.OnHand.Sub(l.Reserved)
}

// Key returns the aggregate key of the level.
func (l StockLevel) Key() shared.AggregateKey {
	return shared.AggregateKey{TenantID: l.TenantID, ProductID: l.ProductID, LocationID: l.LocationID}
}

// NewStockLevel returns a zeroed level for key, as created lazily on first movement.
func NewStockLevel(key shared.AggregateKey) StockLevel {
	return StockLevel{
		TenantID:   key.TenantID,
		ProductID:  key.ProductID,
		LocationID: key.LocationID,
		OnHand:     decimal.Zero,
		Reserved:   decimal.Zero,
		InTransit:  decimal.Zero,
	}
}

// StockBatch is a receipt lot consulted by costing.
type StockBatch struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	ProductID   string          `json:"product_id"`
	LocationID  string          `json:"location_id"`
	BatchNumber string          `json:"batch_number"`
	Quantity    decimal.Decimal `json:"quantity"`
	Remaining   decimal.Decimal `json:"remaining_quantity"`
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
	ReceivedAt  time.Time       `json:"received_at"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
}

// Key returns the aggregate the batch belongs to.
func (b StockBatch) Key() shared.AggregateKey {
	return shared.AggregateKey{TenantID: b.TenantID, ProductID: b.ProductID, LocationID: b.LocationID}
}

// StockMovement is an immutable record of one quantity change.
type StockMovement struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id"`
	ProductID     string           `json:"product_id"`
	LocationID    string           `json:"location_id"`
	Type          MovementType     `json:"movement_type"`
	Quantity      decimal.Decimal  `json:"quantity"`
	CostPerUnit   *decimal.Decimal `json:"cost_per_unit,omitempty"`
	BatchID       string           `json:"batch_id,omitempty"`
	ChannelID     string           `json:"channel_id,omitempty"`
	ReferenceType string           `json:"reference_type,omitempty"`
	ReferenceID   string           `json:"reference_id,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	PerformedBy   string           `json:"performed_by"`
	CreatedAt     time.Time        `json:"created_at"`
}

// CostSegment is one slice of a consumption attributed to a batch. An empty
// BatchID marks a pooled (AVERAGE) or shortfall segment.
type CostSegment struct {
	BatchID     string          `json:"batch_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
}

// StockTransfer moves stock between two locations of one product.
type StockTransfer struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	ProductID      string          `json:"product_id"`
	FromLocationID string          `json:"from_location_id"`
	ToLocationID   string          `json:"to_location_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Status         TransferStatus  `json:"status"`
	BatchID        string          `json:"batch_id,omitempty"`
	Segments       []CostSegment   `json:"segments,omitempty"`
	InitiatedBy    string          `json:"initiated_by"`
	InitiatedAt    time.Time       `json:"initiated_at"`
	DispatchedAt   *time.Time      `json:"dispatched_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	Note           string          `json:"note,omitempty"`
}

// SourceKey is the aggregate stock leaves from.
func (t StockTransfer) SourceKey() shared.AggregateKey {
	return shared.AggregateKey{TenantID: t.TenantID, ProductID: t.ProductID, LocationID: t.FromLocationID}
}

// DestinationKey is the aggregate stock arrives at.
func (t StockTransfer) DestinationKey() shared.AggregateKey {
	return shared.AggregateKey{TenantID: t.TenantID, ProductID: t.ProductID, LocationID: t.ToLocationID}
}

// Reservation holds available stock for an external order or cart.
type Reservation struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	ProductID     string            `json:"product_id"`
	LocationID    string            `json:"location_id"`
	ChannelID     string            `json:"channel_id,omitempty"`
	Quantity      decimal.Decimal   `json:"quantity"`
	Status        ReservationStatus `json:"status"`
	BatchID       string            `json:"batch_id,omitempty"`
	ReferenceType string            `json:"reference_type,omitempty"`
	ReferenceID   string            `json:"reference_id,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	CreatedBy     string            `json:"created_by"`
	CreatedAt     time.Time         `json:"created_at"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
}

// Key returns the aggregate the reservation holds stock on.
func (r Reservation) Key() shared.AggregateKey {
	return shared.AggregateKey{TenantID: r.TenantID, ProductID: r.ProductID, LocationID: r.LocationID}
}

// ProductInput creates a product.
type ProductInput struct {
	TenantID           string
	SKU                string
	Name               string
	UnitOfMeasure      string
	TrackInventory     bool
	AllowNegativeStock bool
	Strategy           Strategy
	ReorderPoint       *decimal.Decimal
	ReorderQuantity    *decimal.Decimal
	PerformedBy        string
}

// ProductUpdate changes descriptive product fields. Nil fields are left alone;
// the costing strategy cannot be changed.
type ProductUpdate struct {
	TenantID           string
	ProductID          string
	Name               *string
	UnitOfMeasure      *string
	AllowNegativeStock *bool
	ReorderPoint       *decimal.Decimal
	ReorderQuantity    *decimal.Decimal
	ClearReorderPoint  bool
	PerformedBy        string
}

// LocationInput creates a location.
type LocationInput struct {
	TenantID    string
	Name        string
	Type        LocationType
	ParentID    string
	PerformedBy string
}

// ReceiveInput receives stock into a location as a new batch.
type ReceiveInput struct {
	TenantID       string
	ProductID      string
	LocationID     string
	Quantity       decimal.Decimal
	CostPerUnit    decimal.Decimal
	BatchNumber    string
	ExpiryDate     *time.Time
	ReceivedAt     time.Time
	ReferenceType  string
	ReferenceID    string
	PerformedBy    string
	IdempotencyKey string
}

// SellInput consumes available stock through the costing engine.
type SellInput struct {
	TenantID       string
	ProductID      string
	LocationID     string
	ChannelID      string
	Quantity       decimal.Decimal
	BatchID        string
	ReferenceType  string
	ReferenceID    string
	PerformedBy    string
	IdempotencyKey string
}

// AdjustInput applies a signed delta to on-hand stock. Type may narrow the
// movement to return (positive delta) or write_off (negative delta).
type AdjustInput struct {
	TenantID       string
	ProductID      string
	LocationID     string
	Delta          decimal.Decimal
	Reason         string
	CostPerUnit    *decimal.Decimal
	BatchID        string
	Type           MovementType
	ReferenceType  string
	ReferenceID    string
	PerformedBy    string
	IdempotencyKey string
}

// TransferInput opens a transfer between two locations.
type TransferInput struct {
	TenantID        string
	ProductID       string
	FromLocationID  string
	ToLocationID    string
	Quantity        decimal.Decimal
	BatchID         string
	RequireApproval bool
	Note            string
	PerformedBy     string
}

// ReservationInput places a hold on available stock.
type ReservationInput struct {
	TenantID      string
	ProductID     string
	LocationID    string
	ChannelID     string
	Quantity      decimal.Decimal
	BatchID       string
	ReferenceType string
	ReferenceID   string
	ExpiresAt     *time.Time
	PerformedBy   string
}

// StockLevelFilter narrows ListStockLevels.
type StockLevelFilter struct {
	TenantID   string
	ProductID  string
	LocationID string
	Limit      int
}

// MovementFilter narrows ListMovements. Results are newest first unless Ascending.
type MovementFilter struct {
	TenantID      string
	ProductID     string
	LocationID    string
	Types         []MovementType
	ReferenceType string
	ReferenceID   string
	From          time.Time
	To            time.Time
	Ascending     bool
	Limit         int
}

// TransferFilter narrows ListTransfers.
type TransferFilter struct {
	TenantID   string
	ProductID  string
	LocationID string
	Status     TransferStatus
	Limit      int
}

// ReservationFilter narrows ListReservations.
type ReservationFilter struct {
	TenantID   string
	ProductID  string
	LocationID string
	ChannelID  string
	Status     ReservationStatus
	Limit      int
}

// Repository level lookups return these when a row is absent. They wrap
// shared.ErrNotFound so callers can test either.
var (
	ErrProductNotFound     = notFound("product")
	ErrLocationNotFound    = notFound("location")
	ErrTransferNotFound    = notFound("transfer")
	ErrReservationNotFound = notFound("reservation")
	ErrBatchNotFound       = notFound("batch")
	ErrStockLevelNotFound  = notFound("stock level")
)

type notFoundError struct{ entity string }

func notFound(entity string) error { return &notFoundError{entity: entity} }

func (e *notFoundError) Error() string { return "inventory: " + e.entity + " not found" }

func (e *notFoundError) Is(target error) bool { return target == shared.ErrNotFound }

var errZeroQuantity = fmt.Errorf("inventory: quantity must be greater than zero: %w", shared.ErrInvalidInput)
