package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Level is the quantity snapshot of one stock level aggregate.
type Level struct {
	TenantID   string
	ProductID  string
	LocationID string
	OnHand     decimal.Decimal
	Reserved   decimal.Decimal
	InTransit  decimal.Decimal
}

// Available is on-hand minus reserved.
func (l Level) Available() decimal.Decimal {
	return l.OnHand.Sub(l.Reserved)
}

// Thresholds carries the product reorder settings.
type Thresholds struct {
	ReorderPoint    *decimal.Decimal
	ReorderQuantity *decimal.Decimal
}

// StockTransition derives the events for one stock level write. stock_updated
// is always emitted. stock_low fires only when available crosses from above
// the reorder point to at or below it, and stock_out only when it crosses
// from positive to zero or below, so neither repeats while the level stays low.
func StockTransition(before, after Level, th Thresholds, at time.Time) []Event {
	prev, curr := before.Available(), after.Available()
	base := Event{
		TenantID:   after.TenantID,
		ProductID:  after.ProductID,
		LocationID: after.LocationID,
		CreatedAt:  at,
	}
	out := make([]Event, 0, 3)

	updated := base
	updated.Type = TypeStockUpdated
	updated.Payload = StockPayload{
		OnHand:            after.OnHand,
		Reserved:          after.Reserved,
		InTransit:         after.InTransit,
		Available:         curr,
		PreviousAvailable: prev,
	}
	out = append(out, updated)

	threshold := ThresholdPayload{
		Available:         curr,
		PreviousAvailable: prev,
		ReorderPoint:      th.ReorderPoint,
		ReorderQuantity:   th.ReorderQuantity,
	}
	if rp := th.ReorderPoint; rp != nil && prev.GreaterThan(*rp) && curr.LessThanOrEqual(*rp) {
		low := base
		low.Type = TypeStockLow
		low.Payload = threshold
		out = append(out, low)
	}
	if prev.IsPositive() && !curr.IsPositive() {
		stockOut := base
		stockOut.Type = TypeStockOut
		stockOut.Payload = threshold
		out = append(out, stockOut)
	}
	return out
}
