// Package events derives inventory events from ledger transitions and
// delivers them to subscribed channels.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Type names an inventory event.
type Type string

const (
	TypeStockUpdated         Type = "stock_updated"
	TypeStockLow             Type = "stock_low"
	TypeStockOut             Type = "stock_out"
	TypeReservationCreated   Type = "reservation_created"
	TypeReservationFulfilled Type = "reservation_fulfilled"
	TypeReservationCancelled Type = "reservation_cancelled"
	TypeReservationExpired   Type = "reservation_expired"
	TypeTransferInitiated    Type = "transfer_initiated"
	TypeTransferCompleted    Type = "transfer_completed"
	TypeTransferCancelled    Type = "transfer_cancelled"
)

// AllTypes lists every event type in a stable order.
var AllTypes = []Type{
	TypeStockUpdated, TypeStockLow, TypeStockOut,
	TypeReservationCreated, TypeReservationFulfilled, TypeReservationCancelled, TypeReservationExpired,
	TypeTransferInitiated, TypeTransferCompleted, TypeTransferCancelled,
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is an immutable derived fact. ProcessedAt is set once dispatch
// to every matching subscription has been handed off.
type Event struct {
	ID          string
	TenantID    string
	Type        Type
	ProductID   string
	LocationID  string
	ChannelID   string
	Payload     Payload
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Payload is the closed set of event bodies. The concrete type is fixed by
// the event Type.
type Payload interface {
	isPayload()
}

// StockPayload accompanies stock_updated.
type StockPayload struct {
	OnHand            decimal.Decimal `json:"quantity_on_hand"`
	Reserved          decimal.Decimal `json:"quantity_reserved"`
	InTransit         decimal.Decimal `json:"quantity_in_transit"`
	Available         decimal.Decimal `json:"quantity_available"`
	PreviousAvailable decimal.Decimal `json:"previous_available"`
}

// ThresholdPayload accompanies stock_low and stock_out.
type ThresholdPayload struct {
	Available         decimal.Decimal  `json:"quantity_available"`
	PreviousAvailable decimal.Decimal  `json:"previous_available"`
	ReorderPoint      *decimal.Decimal `json:"reorder_point,omitempty"`
	ReorderQuantity   *decimal.Decimal `json:"reorder_quantity,omitempty"`
}

// ReservationPayload accompanies reservation_* events.
type ReservationPayload struct {
	ReservationID string          `json:"reservation_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Status        string          `json:"status"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
}

// TransferPayload accompanies transfer_* events.
type TransferPayload struct {
	TransferID     string          `json:"transfer_id"`
	FromLocationID string          `json:"from_location_id"`
	ToLocationID   string          `json:"to_location_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Status         string          `json:"status"`
}

func (StockPayload) isPayload()       {}
func (ThresholdPayload) isPayload()   {}
func (ReservationPayload) isPayload() {}
func (TransferPayload) isPayload()    {}

type wireEvent struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Type        Type            `json:"event_type"`
	ProductID   string          `json:"product_id,omitempty"`
	LocationID  string          `json:"location_id,omitempty"`
	ChannelID   string          `json:"channel_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// MarshalJSON renders the event envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	payload := []byte("{}")
	if e.Payload != nil {
		var err error
		if payload, err = json.Marshal(e.Payload); err != nil {
			return nil, err
		}
	}
	return json.Marshal(wireEvent{
		ID:          e.ID,
		TenantID:    e.TenantID,
		Type:        e.Type,
		ProductID:   e.ProductID,
		LocationID:  e.LocationID,
		ChannelID:   e.ChannelID,
		Payload:     payload,
		CreatedAt:   e.CreatedAt,
		ProcessedAt: e.ProcessedAt,
	})
}

// UnmarshalJSON decodes the payload variant selected by the event type.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	payload, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		ID:          w.ID,
		TenantID:    w.TenantID,
		Type:        w.Type,
		ProductID:   w.ProductID,
		LocationID:  w.LocationID,
		ChannelID:   w.ChannelID,
		Payload:     payload,
		CreatedAt:   w.CreatedAt,
		ProcessedAt: w.ProcessedAt,
	}
	return nil
}

// DecodePayload parses raw into the payload variant for t.
func DecodePayload(t Type, raw []byte) (Payload, error) {
	switch t {
	case TypeStockUpdated:
		var p StockPayload
		err := json.Unmarshal(orEmpty(raw), &p)
		return p, err
	case TypeStockLow, TypeStockOut:
		var p ThresholdPayload
		err := json.Unmarshal(orEmpty(raw), &p)
		return p, err
	case TypeReservationCreated, TypeReservationFulfilled, TypeReservationCancelled, TypeReservationExpired:
		var p ReservationPayload
		err := json.Unmarshal(orEmpty(raw), &p)
		return p, err
	case TypeTransferInitiated, TypeTransferCompleted, TypeTransferCancelled:
		var p TransferPayload
		err := json.Unmarshal(orEmpty(raw), &p)
		return p, err
	}
	return nil, fmt.Errorf("events: unknown event type %q", t)
}

func orEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
