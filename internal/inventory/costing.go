package inventory

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// DefaultAveragePrecision is the number of decimal places an AVERAGE unit
// cost is rounded to.
const DefaultAveragePrecision int32 = 4

// CostRequest parameterises one consumption.
type CostRequest struct {
	Strategy Strategy
	Quantity decimal.Decimal
	// BatchID is required for StrategySpecific and ignored otherwise.
	BatchID string
	// Precision rounds the AVERAGE unit cost. Zero means DefaultAveragePrecision.
	Precision int32
	// AllowShortfall lets FIFO, LIFO and AVERAGE cover missing quantity with a
	// batch-less segment priced at FallbackCost. SPECIFIC never spills over.
	AllowShortfall bool
	FallbackCost   decimal.Decimal
}

// SelectBatches chooses which batches cover req.Quantity and at what unit
// cost. It is a pure function: batches are never modified and the same input
// always yields the same segments. Sufficiency is checked before any segment
// is produced.
func SelectBatches(batches []StockBatch, req CostRequest) ([]CostSegment, error) {
	if !req.Quantity.IsPositive() {
		return nil, errZeroQuantity
	}
	switch req.Strategy {
	case StrategyFIFO:
		return selectOrdered(batches, req, true)
	case StrategyLIFO:
		return selectOrdered(batches, req, false)
	case StrategySpecific:
		return selectSpecific(batches, req)
	case StrategyAverage:
		return selectAverage(batches, req)
	}
	return nil, fmt.Errorf("inventory: unknown strategy %q: %w", req.Strategy, shared.ErrInvalidStrategyConfiguration)
}

// TotalCost sums quantity times unit cost over segments.
func TotalCost(segments []CostSegment) decimal.Decimal {
	total := decimal.Zero
	for _, seg := range segments {
		total = total.Add(seg.Quantity.Mul(seg.CostPerUnit))
	}
	return total
}

// AverageCost is the remaining-quantity weighted cost over batches with
// positive remaining quantity. ok is false when nothing remains.
func AverageCost(batches []StockBatch, precision int32) (avg decimal.Decimal, ok bool) {
	qty := decimal.Zero
	value := decimal.Zero
	for _, b := range batches {
		if !b.Remaining.IsPositive() {
			continue
		}
		qty = qty.Add(b.Remaining)
		value = value.Add(b.Remaining.Mul(b.CostPerUnit))
	}
	if !qty.IsPositive() {
		return decimal.Zero, false
	}
	if precision <= 0 {
		precision = DefaultAveragePrecision
	}
	return value.DivRound(qty, precision+8).Round(precision), true
}

// LatestCost returns the unit cost of the most recently received batch.
func LatestCost(batches []StockBatch) (decimal.Decimal, bool) {
	var latest *StockBatch
	for i := range batches {
		b := &batches[i]
		if latest == nil || b.ReceivedAt.After(latest.ReceivedAt) ||
			(b.ReceivedAt.Equal(latest.ReceivedAt) && b.ID > latest.ID) {
			latest = b
		}
	}
	if latest == nil {
		return decimal.Zero, false
	}
	return latest.CostPerUnit, true
}

func selectOrdered(batches []StockBatch, req CostRequest, ascending bool) ([]CostSegment, error) {
	candidates := make([]StockBatch, 0, len(batches))
	remaining := decimal.Zero
	for _, b := range batches {
		if b.Remaining.IsPositive() {
			candidates = append(candidates, b)
			remaining = remaining.Add(b.Remaining)
		}
	}
	if remaining.LessThan(req.Quantity) && !req.AllowShortfall {
		return nil, insufficient(req.Quantity, remaining)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			if ascending {
				return a.ReceivedAt.Before(b.ReceivedAt)
			}
			return a.ReceivedAt.After(b.ReceivedAt)
		}
		if ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	needed := req.Quantity
	segments := make([]CostSegment, 0, len(candidates)+1)
	for _, b := range candidates {
		if !needed.IsPositive() {
			break
		}
		take := decimal.Min(b.Remaining, needed)
		segments = append(segments, CostSegment{BatchID: b.ID, Quantity: take, CostPerUnit: b.CostPerUnit})
		needed = needed.Sub(take)
	}
	if needed.IsPositive() {
		segments = append(segments, CostSegment{Quantity: needed, CostPerUnit: req.FallbackCost})
	}
	return segments, nil
}

func selectSpecific(batches []StockBatch, req CostRequest) ([]CostSegment, error) {
	if req.BatchID == "" {
		return nil, fmt.Errorf("inventory: SPECIFIC costing requires a batch: %w", shared.ErrInvalidStrategyConfiguration)
	}
	for _, b := range batches {
		if b.ID != req.BatchID {
			continue
		}
		if b.Remaining.LessThan(req.Quantity) {
			return nil, insufficient(req.Quantity, b.Remaining)
		}
		return []CostSegment{{BatchID: b.ID, Quantity: req.Quantity, CostPerUnit: b.CostPerUnit}}, nil
	}
	return nil, fmt.Errorf("inventory: batch %s does not belong to this stock level: %w", req.BatchID, shared.ErrInvalidStrategyConfiguration)
}

func selectAverage(batches []StockBatch, req CostRequest) ([]CostSegment, error) {
	remaining := decimal.Zero
	for _, b := range batches {
		if b.Remaining.IsPositive() {
			remaining = remaining.Add(b.Remaining)
		}
	}
	if remaining.LessThan(req.Quantity) && !req.AllowShortfall {
		return nil, insufficient(req.Quantity, remaining)
	}
	avg, ok := AverageCost(batches, req.Precision)
	if !ok {
		avg = req.FallbackCost
	}
	return []CostSegment{{Quantity: req.Quantity, CostPerUnit: avg}}, nil
}

func insufficient(requested, remaining decimal.Decimal) error {
	return fmt.Errorf("inventory: requested %s, %s remaining in batches: %w", requested, remaining, shared.ErrInsufficientStock)
}
