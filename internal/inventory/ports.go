package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/events"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts storage for the service. Reads outside WithTx see
// committed state only.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetProduct(ctx context.Context, tenantID, id string) (Product, error)
	ListProducts(ctx context.Context, tenantID string, limit int) ([]Product, error)
	GetLocation(ctx context.Context, tenantID, id string) (Location, error)
	ListLocations(ctx context.Context, tenantID string, limit int) ([]Location, error)
	GetStockLevel(ctx context.Context, key shared.AggregateKey) (StockLevel, error)
	ListStockLevels(ctx context.Context, filter StockLevelFilter) ([]StockLevel, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
	ListBatches(ctx context.Context, key shared.AggregateKey) ([]StockBatch, error)
	GetTransfer(ctx context.Context, tenantID, id string) (StockTransfer, error)
	ListTransfers(ctx context.Context, filter TransferFilter) ([]StockTransfer, error)
	GetReservation(ctx context.Context, tenantID, id string) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	ListDueReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
}

// TxRepository exposes transactional operations used by service. Lookups by
// id return the row whatever its tenant; the service checks ownership.
type TxRepository interface {
	audit.Appender

	GetProduct(ctx context.Context, id string) (Product, error)
	FindProductBySKU(ctx context.Context, tenantID, sku string) (Product, error)
	InsertProduct(ctx context.Context, p Product) error
	UpdateProduct(ctx context.Context, p Product) error
	GetLocation(ctx context.Context, id string) (Location, error)
	InsertLocation(ctx context.Context, l Location) error

	// LockStockLevels takes exclusive locks on keys in shared.LockOrder and
	// returns their current levels, zeroed when absent.
	LockStockLevels(ctx context.Context, keys ...shared.AggregateKey) (map[shared.AggregateKey]StockLevel, error)
	SaveStockLevel(ctx context.Context, level StockLevel) error

	ListBatchesForUpdate(ctx context.Context, key shared.AggregateKey) ([]StockBatch, error)
	InsertBatch(ctx context.Context, b StockBatch) error
	UpdateBatchRemaining(ctx context.Context, id string, remaining decimal.Decimal) error

	InsertMovements(ctx context.Context, movements []StockMovement) error

	FindOpenTransfer(ctx context.Context, tenantID, productID, fromID, toID string) (StockTransfer, error)
	GetTransferForUpdate(ctx context.Context, id string) (StockTransfer, error)
	InsertTransfer(ctx context.Context, t StockTransfer) error
	UpdateTransfer(ctx context.Context, t StockTransfer) error

	GetReservationForUpdate(ctx context.Context, id string) (Reservation, error)
	InsertReservation(ctx context.Context, r Reservation) error
	UpdateReservation(ctx context.Context, r Reservation) error
	// BatchHolds sums the active reservations of key per batch. The level
	// lock of key must be held.
	BatchHolds(ctx context.Context, key shared.AggregateKey) (map[string]decimal.Decimal, error)
}

// AuditPort records audit entries through the open transaction.
type AuditPort interface {
	Record(ctx context.Context, dst audit.Appender, c audit.Change) (audit.Entry, error)
}

// EventPort publishes events after commit.
type EventPort interface {
	Publish(ctx context.Context, evts []events.Event) ([]events.Event, error)
}

// IdempotencyPort records request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}
