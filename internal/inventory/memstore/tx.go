package memstore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// tx stages writes until commit. Locks it takes are held until the
// transaction ends and may be re-entered.
type tx struct {
	store *Store
	held  map[string]struct{}
	order []string

	products         map[string]inventory.Product
	insertedProducts map[string]struct{}
	locations        map[string]inventory.Location
	levels           map[shared.AggregateKey]inventory.StockLevel
	batches          map[string]inventory.StockBatch
	movements        []inventory.StockMovement
	transfers        map[string]inventory.StockTransfer
	reservations     map[string]inventory.Reservation
	audit            []audit.Entry
}

var _ inventory.TxRepository = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		store:            s,
		held:             make(map[string]struct{}),
		products:         make(map[string]inventory.Product),
		insertedProducts: make(map[string]struct{}),
		locations:        make(map[string]inventory.Location),
		levels:           make(map[shared.AggregateKey]inventory.StockLevel),
		batches:          make(map[string]inventory.StockBatch),
		transfers:        make(map[string]inventory.StockTransfer),
		reservations:     make(map[string]inventory.Reservation),
	}
}

func (t *tx) lock(ctx context.Context, name string) error {
	if _, ok := t.held[name]; ok {
		return nil
	}
	if err := t.store.acquire(ctx, name); err != nil {
		return err
	}
	t.held[name] = struct{}{}
	t.order = append(t.order, name)
	return nil
}

func (t *tx) releaseAll() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.store.release(t.order[i])
	}
	t.order = nil
	t.held = make(map[string]struct{})
}

// commit applies staged writes atomically. SKUs are re-checked because
// product inserts are not serialised by aggregate locks.
func (t *tx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.insertedProducts {
		p := t.products[id]
		for _, existing := range s.products {
			if existing.TenantID == p.TenantID && existing.SKU == p.SKU && existing.ID != p.ID {
				return fmt.Errorf("memstore: sku %s: %w", p.SKU, shared.ErrConflict)
			}
		}
	}
	for id, p := range t.products {
		s.products[id] = p
	}
	for id, l := range t.locations {
		s.locations[id] = l
	}
	for k, l := range t.levels {
		s.levels[k] = l
	}
	for id, b := range t.batches {
		s.batches[id] = b
	}
	for id, tr := range t.transfers {
		s.transfers[id] = tr
	}
	for id, r := range t.reservations {
		s.reservations[id] = r
	}
	s.movements = append(s.movements, t.movements...)
	s.audit = append(s.audit, t.audit...)
	return nil
}

func (t *tx) AppendAudit(_ context.Context, e audit.Entry) error {
	t.audit = append(t.audit, e)
	return nil
}

func (t *tx) GetProduct(_ context.Context, id string) (inventory.Product, error) {
	if p, ok := t.products[id]; ok {
		return p, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if p, ok := t.store.products[id]; ok {
		return p, nil
	}
	return inventory.Product{}, inventory.ErrProductNotFound
}

func (t *tx) FindProductBySKU(_ context.Context, tenantID, sku string) (inventory.Product, error) {
	for _, p := range t.products {
		if p.TenantID == tenantID && p.SKU == sku {
			return p, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, p := range t.store.products {
		if p.TenantID == tenantID && p.SKU == sku {
			return p, nil
		}
	}
	return inventory.Product{}, inventory.ErrProductNotFound
}

func (t *tx) InsertProduct(ctx context.Context, p inventory.Product) error {
	if _, err := t.GetProduct(ctx, p.ID); err == nil {
		return fmt.Errorf("memstore: product %s exists: %w", p.ID, shared.ErrConflict)
	}
	t.products[p.ID] = p
	t.insertedProducts[p.ID] = struct{}{}
	return nil
}

func (t *tx) UpdateProduct(ctx context.Context, p inventory.Product) error {
	if _, err := t.GetProduct(ctx, p.ID); err != nil {
		return err
	}
	t.products[p.ID] = p
	return nil
}

func (t *tx) GetLocation(_ context.Context, id string) (inventory.Location, error) {
	if l, ok := t.locations[id]; ok {
		return l, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if l, ok := t.store.locations[id]; ok {
		return l, nil
	}
	return inventory.Location{}, inventory.ErrLocationNotFound
}

func (t *tx) InsertLocation(ctx context.Context, l inventory.Location) error {
	if _, err := t.GetLocation(ctx, l.ID); err == nil {
		return fmt.Errorf("memstore: location %s exists: %w", l.ID, shared.ErrConflict)
	}
	t.locations[l.ID] = l
	return nil
}

func (t *tx) LockStockLevels(ctx context.Context, keys ...shared.AggregateKey) (map[shared.AggregateKey]inventory.StockLevel, error) {
	out := make(map[shared.AggregateKey]inventory.StockLevel, len(keys))
	for _, k := range shared.LockOrder(keys...) {
		if err := t.lock(ctx, "level:"+k.String()); err != nil {
			return nil, err
		}
		out[k] = t.level(k)
	}
	return out, nil
}

func (t *tx) level(k shared.AggregateKey) inventory.StockLevel {
	if l, ok := t.levels[k]; ok {
		return l
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if l, ok := t.store.levels[k]; ok {
		return l
	}
	return inventory.NewStockLevel(k)
}

func (t *tx) SaveStockLevel(_ context.Context, l inventory.StockLevel) error {
	if _, ok := t.held["level:"+l.Key().String()]; !ok {
		return fmt.Errorf("memstore: stock level %s saved without lock", l.Key())
	}
	t.levels[l.Key()] = l
	return nil
}

func (t *tx) ListBatchesForUpdate(_ context.Context, key shared.AggregateKey) ([]inventory.StockBatch, error) {
	if _, ok := t.held["level:"+key.String()]; !ok {
		return nil, fmt.Errorf("memstore: batches of %s read without lock", key)
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return batchesFor(t.store.batches, t.batches, key), nil
}

func (t *tx) InsertBatch(_ context.Context, b inventory.StockBatch) error {
	t.batches[b.ID] = b
	return nil
}

func (t *tx) UpdateBatchRemaining(_ context.Context, id string, remaining decimal.Decimal) error {
	b, ok := t.batches[id]
	if !ok {
		t.store.mu.RLock()
		b, ok = t.store.batches[id]
		t.store.mu.RUnlock()
	}
	if !ok {
		return inventory.ErrBatchNotFound
	}
	b.Remaining = remaining
	t.batches[id] = b
	return nil
}

func (t *tx) InsertMovements(_ context.Context, movements []inventory.StockMovement) error {
	t.movements = append(t.movements, movements...)
	return nil
}

func (t *tx) FindOpenTransfer(_ context.Context, tenantID, productID, fromID, toID string) (inventory.StockTransfer, error) {
	match := func(tr inventory.StockTransfer) bool {
		return tr.TenantID == tenantID && tr.ProductID == productID &&
			tr.FromLocationID == fromID && tr.ToLocationID == toID && tr.Status.Open()
	}
	for _, tr := range t.transfers {
		if match(tr) {
			return tr, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for id, tr := range t.store.transfers {
		if _, staged := t.transfers[id]; staged {
			continue
		}
		if match(tr) {
			return tr, nil
		}
	}
	return inventory.StockTransfer{}, inventory.ErrTransferNotFound
}

func (t *tx) GetTransferForUpdate(ctx context.Context, id string) (inventory.StockTransfer, error) {
	if err := t.lock(ctx, "transfer:"+id); err != nil {
		return inventory.StockTransfer{}, err
	}
	if tr, ok := t.transfers[id]; ok {
		return tr, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if tr, ok := t.store.transfers[id]; ok {
		return tr, nil
	}
	return inventory.StockTransfer{}, inventory.ErrTransferNotFound
}

func (t *tx) InsertTransfer(_ context.Context, tr inventory.StockTransfer) error {
	t.transfers[tr.ID] = tr
	return nil
}

func (t *tx) UpdateTransfer(_ context.Context, tr inventory.StockTransfer) error {
	if _, ok := t.held["transfer:"+tr.ID]; !ok {
		return fmt.Errorf("memstore: transfer %s updated without lock", tr.ID)
	}
	t.transfers[tr.ID] = tr
	return nil
}

func (t *tx) GetReservationForUpdate(ctx context.Context, id string) (inventory.Reservation, error) {
	if err := t.lock(ctx, "reservation:"+id); err != nil {
		return inventory.Reservation{}, err
	}
	if r, ok := t.reservations[id]; ok {
		return r, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if r, ok := t.store.reservations[id]; ok {
		return r, nil
	}
	return inventory.Reservation{}, inventory.ErrReservationNotFound
}

func (t *tx) InsertReservation(_ context.Context, r inventory.Reservation) error {
	t.reservations[r.ID] = r
	return nil
}

func (t *tx) UpdateReservation(_ context.Context, r inventory.Reservation) error {
	if _, ok := t.held["reservation:"+r.ID]; !ok {
		return fmt.Errorf("memstore: reservation %s updated without lock", r.ID)
	}
	t.reservations[r.ID] = r
	return nil
}

func (t *tx) BatchHolds(_ context.Context, key shared.AggregateKey) (map[string]decimal.Decimal, error) {
	if _, ok := t.held["level:"+key.String()]; !ok {
		return nil, fmt.Errorf("memstore: holds of %s read without lock", key)
	}
	holds := make(map[string]decimal.Decimal)
	add := func(r inventory.Reservation) {
		if r.Key() == key && r.Status == inventory.ReservationActive && r.BatchID != "" {
			holds[r.BatchID] = holds[r.BatchID].Add(r.Quantity)
		}
	}
	for _, r := range t.reservations {
		add(r)
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for id, r := range t.store.reservations {
		if _, staged := t.reservations[id]; !staged {
			add(r)
		}
	}
	return holds, nil
}
