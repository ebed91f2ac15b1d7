package events

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func level(onHand, reserved int64) Level {
	return Level{
		TenantID:   "t1",
		ProductID:  "p1",
		LocationID: "l1",
		OnHand:     decimal.NewFromInt(onHand),
		Reserved:   decimal.NewFromInt(reserved),
		InTransit:  decimal.Zero,
	}
}

func types(evts []Event) []Type {
	out := make([]Type, len(evts))
	for i, e := range evts {
		out[i] = e.Type
	}
	return out
}

func reorderAt(v int64) Thresholds {
	rp := decimal.NewFromInt(v)
	return Thresholds{ReorderPoint: &rp}
}

func TestStockLowFiresOncePerCrossing(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th := reorderAt(50)

	first := StockTransition(level(60, 0), level(45, 0), th, at)
	require.Equal(t, []Type{TypeStockUpdated, TypeStockLow}, types(first))

	low := first[1].Payload.(ThresholdPayload)
	require.True(t, low.Available.Equal(decimal.NewFromInt(45)))
	require.True(t, low.PreviousAvailable.Equal(decimal.NewFromInt(60)))

	again := StockTransition(level(45, 0), level(40, 0), th, at)
	require.Equal(t, []Type{TypeStockUpdated}, types(again))
}

func TestStockLowBoundaryIsInclusive(t *testing.T) {
	evts := StockTransition(level(51, 0), level(50, 0), reorderAt(50), time.Now())
	require.Equal(t, []Type{TypeStockUpdated, TypeStockLow}, types(evts))
}

func TestStockOutOnReachingZero(t *testing.T) {
	evts := StockTransition(level(45, 0), level(0, 0), reorderAt(50), time.Now())
	require.Equal(t, []Type{TypeStockUpdated, TypeStockOut}, types(evts))

	crossBoth := StockTransition(level(60, 0), level(10, 10), reorderAt(50), time.Now())
	require.Equal(t, []Type{TypeStockUpdated, TypeStockLow, TypeStockOut}, types(crossBoth))

	stillOut := StockTransition(level(0, 0), level(-5, 0), reorderAt(50), time.Now())
	require.Equal(t, []Type{TypeStockUpdated}, types(stillOut))
}

func TestNoThresholdWithoutReorderPoint(t *testing.T) {
	evts := StockTransition(level(60, 0), level(1, 0), Thresholds{}, time.Now())
	require.Equal(t, []Type{TypeStockUpdated}, types(evts))
}

func TestRestockDoesNotEmitThreshold(t *testing.T) {
	evts := StockTransition(level(10, 0), level(100, 0), reorderAt(50), time.Now())
	require.Equal(t, []Type{TypeStockUpdated}, types(evts))
}
