package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryLog struct {
	entries []Entry
	failing bool
}

func (m *memoryLog) AppendAudit(ctx context.Context, e Entry) error {
	if m.failing {
		return errors.New("disk full")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryLog) SearchAudit(ctx context.Context, f Filter) ([]Entry, error) {
	var out []Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if f.Matches(m.entries[i]) {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestRecordSerialisesStates(t *testing.T) {
	log := &memoryLog{}
	rec := NewRecorder(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	entry, err := rec.Record(context.Background(), log, Change{
		TenantID:    "t1",
		EntityType:  EntityProduct,
		EntityID:    "p1",
		Action:      "create",
		Next:        map[string]any{"sku": "SKU-1"},
		PerformedBy: "alice",
	})
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)
	require.Nil(t, entry.PreviousState)
	require.JSONEq(t, `{"sku":"SKU-1"}`, string(entry.NewState))
	require.Len(t, log.entries, 1)
}

func TestRecordRequiresIdentity(t *testing.T) {
	rec := NewRecorder(nil)
	_, err := rec.Record(context.Background(), &memoryLog{}, Change{EntityType: EntityProduct, EntityID: "p1", Action: "create"})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestRecordPropagatesAppendFailure(t *testing.T) {
	rec := NewRecorder(nil)
	_, err := rec.Record(context.Background(), &memoryLog{failing: true}, Change{
		TenantID: "t1", EntityType: EntityProduct, EntityID: "p1", Action: "create",
	})
	require.Error(t, err)
}

func TestEntityHistoryIsChronologicalAndTenantScoped(t *testing.T) {
	log := &memoryLog{}
	rec := NewRecorder(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()
	for _, c := range []Change{
		{TenantID: "t1", EntityType: EntityTransfer, EntityID: "tr1", Action: "initiate", Next: map[string]string{"status": "in_transit"}},
		{TenantID: "t2", EntityType: EntityTransfer, EntityID: "tr1", Action: "initiate"},
		{TenantID: "t1", EntityType: EntityTransfer, EntityID: "tr1", Action: "complete", Previous: map[string]string{"status": "in_transit"}, Next: map[string]string{"status": "completed"}},
		{TenantID: "t1", EntityType: EntityTransfer, EntityID: "tr2", Action: "initiate"},
	} {
		_, err := rec.Record(ctx, log, c)
		require.NoError(t, err)
	}

	svc := NewService(log)
	history, err := svc.EntityHistory(ctx, "t1", EntityTransfer, "tr1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "initiate", history[0].Action)
	require.Equal(t, "complete", history[1].Action)

	var prev map[string]string
	require.NoError(t, json.Unmarshal(history[1].PreviousState, &prev))
	require.Equal(t, "in_transit", prev["status"])
}

func TestSearchValidatesInput(t *testing.T) {
	svc := NewService(&memoryLog{})
	_, err := svc.Search(context.Background(), " ", Filter{})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = svc.Search(context.Background(), "t1", Filter{
		From: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestSearchFiltersByAction(t *testing.T) {
	log := &memoryLog{}
	rec := NewRecorder(nil)
	ctx := context.Background()
	for _, action := range []string{"receive", "sell", "sell"} {
		_, err := rec.Record(ctx, log, Change{TenantID: "t1", EntityType: EntityStockLevel, EntityID: "k", Action: action})
		require.NoError(t, err)
	}
	entries, err := NewService(log).Search(ctx, "t1", Filter{Action: "sell"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
