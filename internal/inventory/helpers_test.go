package inventory_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/events"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/memstore"
)

const (
	tenantA = "tenant-a"
	tenantB = "tenant-b"
	actor   = "user-1"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturePublisher struct {
	mu     sync.Mutex
	seq    int
	events []events.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, evts []events.Event) ([]events.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Event, len(evts))
	for i, e := range evts {
		p.seq++
		e.ID = "evt-" + strconv.Itoa(p.seq)
		out[i] = e
	}
	p.events = append(p.events, out...)
	return out, p.err
}

func (p *capturePublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *capturePublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	svc       *inventory.Service
	store     *memstore.Store
	publisher *capturePublisher
	clock     *clock
	audit     *audit.Service
	warehouse string
	store2    string
	skus      int
}

func newFixture(t *testing.T, idem inventory.IdempotencyPort) *fixture {
	t.Helper()
	store := memstore.New()
	pub := &capturePublisher{}
	clk := newClock()
	svc := inventory.NewService(store, audit.NewRecorder(clk.Now), pub, idem, inventory.ServiceConfig{Now: clk.Now})
	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		svc:       svc,
		store:     store,
		publisher: pub,
		clock:     clk,
		audit:     audit.NewService(store),
	}
	f.warehouse = f.location(tenantA, "Main warehouse")
	f.store2 = f.location(tenantA, "Downtown store")
	return f
}

func (f *fixture) location(tenantID, name string) string {
	f.t.Helper()
	loc, err := f.svc.CreateLocation(f.ctx, inventory.LocationInput{TenantID: tenantID, Name: name, PerformedBy: actor})
	require.NoError(f.t, err)
	return loc.ID
}

func (f *fixture) product(in inventory.ProductInput) inventory.Product {
	f.t.Helper()
	if in.TenantID == "" {
		in.TenantID = tenantA
	}
	if in.SKU == "" {
		f.skus++
		in.SKU = "SKU-" + strconv.Itoa(f.skus)
	}
	if in.Name == "" {
		in.Name = "Widget"
	}
	in.TrackInventory = true
	in.PerformedBy = actor
	p, err := f.svc.CreateProduct(f.ctx, in)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) receive(productID, locationID, qty, cost string, receivedAt time.Time) inventory.ReceiveResult {
	f.t.Helper()
	res, err := f.svc.ReceiveStock(f.ctx, inventory.ReceiveInput{
		TenantID:    tenantA,
		ProductID:   productID,
		LocationID:  locationID,
		Quantity:    dec(qty),
		CostPerUnit: dec(cost),
		ReceivedAt:  receivedAt,
		PerformedBy: actor,
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) level(productID, locationID string) inventory.StockLevel {
	f.t.Helper()
	lvl, err := f.svc.GetStockLevel(f.ctx, tenantA, productID, locationID)
	require.NoError(f.t, err)
	return lvl
}

func requireLevel(t *testing.T, lvl inventory.StockLevel, onHand, reserved, inTransit string) {
	t.Helper()
	require.True(t, lvl.OnHand.Equal(dec(onHand)), "on hand %s, want %s", lvl.OnHand, onHand)
	require.True(t, lvl.Reserved.Equal(dec(reserved)), "reserved %s, want %s", lvl.Reserved, reserved)
	require.True(t, lvl.InTransit.Equal(dec(inTransit)), "in transit %s, want %s", lvl.InTransit, inTransit)
	require.True(t, lvl.Available().Equal(lvl.OnHand.Sub(lvl.Reserved)))
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(dec(want)), "got %s, want %s", got, want)
}

func jan(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

var errBroker = errors.New("broker unavailable")

func (f *fixture) batchTotal(productID, locationID string) decimal.Decimal {
	f.t.Helper()
	batches, err := f.svc.ListBatches(f.ctx, tenantA, productID, locationID)
	require.NoError(f.t, err)
	total := decimal.Zero
	for _, b := range batches {
		total = total.Add(b.Remaining)
	}
	return total
}
