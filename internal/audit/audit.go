// Package audit records an append-only diff log of every ledger mutation.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Entity types recorded by the ledger.
const (
	EntityProduct      = "product"
	EntityLocation     = "location"
	EntityStockLevel   = "stock_level"
	EntityBatch        = "stock_batch"
	EntityTransfer     = "stock_transfer"
	EntityReservation  = "reservation"
	EntityChannel      = "channel"
	EntitySubscription = "channel_subscription"
)

// Entry is one immutable audit row.
type Entry struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Action        string          `json:"action"`
	PreviousState json.RawMessage `json:"previous_state,omitempty"`
	NewState      json.RawMessage `json:"new_state,omitempty"`
	PerformedBy   string          `json:"performed_by"`
	Reason        string          `json:"reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Change describes a mutation before it is serialised into an Entry.
// Previous is nil for creations.
type Change struct {
	TenantID    string
	EntityType  string
	EntityID    string
	Action      string
	Previous    any
	Next        any
	PerformedBy string
	Reason      string
}

// Filter narrows a search. TenantID is always enforced.
type Filter struct {
	TenantID    string
	EntityType  string
	EntityID    string
	Action      string
	PerformedBy string
	From        time.Time
	To          time.Time
	Limit       int
	// Offset skips that many matching entries, oldest first.
	Offset      int
}

// Appender writes entries inside the caller's unit of work.
type Appender interface {
	AppendAudit(ctx context.Context, entry Entry) error
}

// Reader returns entries matching a filter in chronological order.
type Reader interface {
	SearchAudit(ctx context.Context, filter Filter) ([]Entry, error)
}
