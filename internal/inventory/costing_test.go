package inventory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func day(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

func threeBatches() []StockBatch {
	return []StockBatch{
		{ID: "batch3", Remaining: dec("10"), Quantity: dec("10"), CostPerUnit: dec("120"), ReceivedAt: day(30)},
		{ID: "batch1", Remaining: dec("10"), Quantity: dec("10"), CostPerUnit: dec("100"), ReceivedAt: day(1)},
		{ID: "batch2", Remaining: dec("10"), Quantity: dec("10"), CostPerUnit: dec("110"), ReceivedAt: day(15)},
	}
}

func requireSegments(t *testing.T, want, got []CostSegment) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].BatchID, got[i].BatchID, "segment %d", i)
		require.True(t, want[i].Quantity.Equal(got[i].Quantity), "segment %d qty %s", i, got[i].Quantity)
		require.True(t, want[i].CostPerUnit.Equal(got[i].CostPerUnit), "segment %d cost %s", i, got[i].CostPerUnit)
	}
}

func TestFIFOConsumesOldestFirst(t *testing.T) {
	segs, err := SelectBatches(threeBatches(), CostRequest{Strategy: StrategyFIFO, Quantity: dec("15")})
	require.NoError(t, err)
	requireSegments(t, []CostSegment{
		{BatchID: "batch1", Quantity: dec("10"), CostPerUnit: dec("100")},
		{BatchID: "batch2", Quantity: dec("5"), CostPerUnit: dec("110")},
	}, segs)
	require.True(t, TotalCost(segs).Equal(dec("1550")))
}

func TestLIFOConsumesNewestFirst(t *testing.T) {
	segs, err := SelectBatches(threeBatches(), CostRequest{Strategy: StrategyLIFO, Quantity: dec("15")})
	require.NoError(t, err)
	requireSegments(t, []CostSegment{
		{BatchID: "batch3", Quantity: dec("10"), CostPerUnit: dec("120")},
		{BatchID: "batch2", Quantity: dec("5"), CostPerUnit: dec("110")},
	}, segs)
	require.True(t, TotalCost(segs).Equal(dec("1750")))
}

func TestOrderedTieBreakOnBatchID(t *testing.T) {
	batches := []StockBatch{
		{ID: "b", Remaining: dec("1"), CostPerUnit: dec("2"), ReceivedAt: day(1)},
		{ID: "a", Remaining: dec("1"), CostPerUnit: dec("1"), ReceivedAt: day(1)},
	}
	fifo, err := SelectBatches(batches, CostRequest{Strategy: StrategyFIFO, Quantity: dec("1")})
	require.NoError(t, err)
	require.Equal(t, "a", fifo[0].BatchID)

	lifo, err := SelectBatches(batches, CostRequest{Strategy: StrategyLIFO, Quantity: dec("1")})
	require.NoError(t, err)
	require.Equal(t, "b", lifo[0].BatchID)
}

func TestOrderedSkipsDepletedBatches(t *testing.T) {
	batches := threeBatches()
	batches[1].Remaining = decimal.Zero
	segs, err := SelectBatches(batches, CostRequest{Strategy: StrategyFIFO, Quantity: dec("12")})
	require.NoError(t, err)
	requireSegments(t, []CostSegment{
		{BatchID: "batch2", Quantity: dec("10"), CostPerUnit: dec("110")},
		{BatchID: "batch3", Quantity: dec("2"), CostPerUnit: dec("120")},
	}, segs)
}

func TestAverageDoesNotDepleteBatches(t *testing.T) {
	batches := []StockBatch{
		{ID: "a", Remaining: dec("100"), CostPerUnit: dec("10"), ReceivedAt: day(1)},
		{ID: "b", Remaining: dec("200"), CostPerUnit: dec("12"), ReceivedAt: day(2)},
		{ID: "c", Remaining: dec("50"), CostPerUnit: dec("15"), ReceivedAt: day(3)},
	}
	segs, err := SelectBatches(batches, CostRequest{Strategy: StrategyAverage, Quantity: dec("50")})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Empty(t, segs[0].BatchID)
	require.True(t, segs[0].CostPerUnit.Equal(dec("11.8571")), segs[0].CostPerUnit.String())
	require.True(t, TotalCost(segs).Equal(dec("592.855")), TotalCost(segs).String())

	require.True(t, batches[0].Remaining.Equal(dec("100")))
	require.True(t, batches[1].Remaining.Equal(dec("200")))
	require.True(t, batches[2].Remaining.Equal(dec("50")))
}

func TestSpecificConsumesOnlyTargetBatch(t *testing.T) {
	segs, err := SelectBatches(threeBatches(), CostRequest{Strategy: StrategySpecific, Quantity: dec("4"), BatchID: "batch2"})
	require.NoError(t, err)
	requireSegments(t, []CostSegment{{BatchID: "batch2", Quantity: dec("4"), CostPerUnit: dec("110")}}, segs)

	_, err = SelectBatches(threeBatches(), CostRequest{Strategy: StrategySpecific, Quantity: dec("11"), BatchID: "batch2"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, err = SelectBatches(threeBatches(), CostRequest{Strategy: StrategySpecific, Quantity: dec("1")})
	require.ErrorIs(t, err, shared.ErrInvalidStrategyConfiguration)

	_, err = SelectBatches(threeBatches(), CostRequest{Strategy: StrategySpecific, Quantity: dec("1"), BatchID: "other"})
	require.ErrorIs(t, err, shared.ErrInvalidStrategyConfiguration)
}

func TestSpecificNeverSpillsOver(t *testing.T) {
	_, err := SelectBatches(threeBatches(), CostRequest{
		Strategy:       StrategySpecific,
		Quantity:       dec("11"),
		BatchID:        "batch1",
		AllowShortfall: true,
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestInsufficientRemainingFailsBeforeSelection(t *testing.T) {
	for _, strategy := range []Strategy{StrategyFIFO, StrategyLIFO, StrategyAverage} {
		_, err := SelectBatches(threeBatches(), CostRequest{Strategy: strategy, Quantity: dec("31")})
		require.ErrorIs(t, err, shared.ErrInsufficientStock, string(strategy))
	}
}

func TestShortfallSegmentUsesFallbackCost(t *testing.T) {
	segs, err := SelectBatches(threeBatches(), CostRequest{
		Strategy:       StrategyFIFO,
		Quantity:       dec("35"),
		AllowShortfall: true,
		FallbackCost:   dec("120"),
	})
	require.NoError(t, err)
	require.Len(t, segs, 4)
	require.Empty(t, segs[3].BatchID)
	require.True(t, segs[3].Quantity.Equal(dec("5")))
	require.True(t, segs[3].CostPerUnit.Equal(dec("120")))
}

func TestSelectionIsDeterministic(t *testing.T) {
	first, err := SelectBatches(threeBatches(), CostRequest{Strategy: StrategyFIFO, Quantity: dec("25")})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := SelectBatches(threeBatches(), CostRequest{Strategy: StrategyFIFO, Quantity: dec("25")})
		require.NoError(t, err)
		requireSegments(t, first, again)
	}
}

func TestSelectRejectsBadRequests(t *testing.T) {
	_, err := SelectBatches(threeBatches(), CostRequest{Strategy: StrategyFIFO, Quantity: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = SelectBatches(threeBatches(), CostRequest{Strategy: "RANDOM", Quantity: dec("1")})
	require.ErrorIs(t, err, shared.ErrInvalidStrategyConfiguration)
}

func TestLatestCost(t *testing.T) {
	cost, ok := LatestCost(threeBatches())
	require.True(t, ok)
	require.True(t, cost.Equal(dec("120")))

	_, ok = LatestCost(nil)
	require.False(t, ok)
}
