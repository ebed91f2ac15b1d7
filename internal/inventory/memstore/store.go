// Package memstore is an in-process implementation of the inventory
// repository. Aggregates are serialised with per-key locks taken in the same
// order as the PostgreSQL repository, writes are staged per transaction and
// applied atomically on commit, and reads outside a transaction see
// committed state only.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Store holds committed state.
type Store struct {
	mu           sync.RWMutex
	products     map[string]inventory.Product
	locations    map[string]inventory.Location
	levels       map[shared.AggregateKey]inventory.StockLevel
	batches      map[string]inventory.StockBatch
	movements    []inventory.StockMovement
	transfers    map[string]inventory.StockTransfer
	reservations map[string]inventory.Reservation
	audit        []audit.Entry

	lockMu sync.Mutex
	locks  map[string]chan struct{}
}

var (
	_ inventory.RepositoryPort = (*Store)(nil)
	_ audit.Reader             = (*Store)(nil)
	_ audit.Appender           = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		products:     make(map[string]inventory.Product),
		locations:    make(map[string]inventory.Location),
		levels:       make(map[shared.AggregateKey]inventory.StockLevel),
		batches:      make(map[string]inventory.StockBatch),
		transfers:    make(map[string]inventory.StockTransfer),
		reservations: make(map[string]inventory.Reservation),
		locks:        make(map[string]chan struct{}),
	}
}

// WithTx runs fn against a staged transaction and commits when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(s)
	defer tx.releaseAll()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// AppendAudit appends an entry outside any inventory transaction.
func (s *Store) AppendAudit(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

// SearchAudit returns matching entries oldest first, skipping f.Offset of
// them.
func (s *Store) SearchAudit(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Entry, 0)
	skip := f.Offset
	for _, e := range s.audit {
		if !f.Matches(e) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, tenantID, id string) (inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	if p.TenantID != tenantID {
		return inventory.Product{}, mismatch("product", id)
	}
	return p, nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string, limit int) ([]inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Product, 0)
	for _, p := range s.products {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return truncate(out, limit), nil
}

func (s *Store) GetLocation(_ context.Context, tenantID, id string) (inventory.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locations[id]
	if !ok {
		return inventory.Location{}, inventory.ErrLocationNotFound
	}
	if l.TenantID != tenantID {
		return inventory.Location{}, mismatch("location", id)
	}
	return l, nil
}

func (s *Store) ListLocations(_ context.Context, tenantID string, limit int) ([]inventory.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Location, 0)
	for _, l := range s.locations {
		if l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

func (s *Store) GetStockLevel(_ context.Context, key shared.AggregateKey) (inventory.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.levels[key]
	if !ok {
		return inventory.StockLevel{}, inventory.ErrStockLevelNotFound
	}
	return l, nil
}

func (s *Store) ListStockLevels(_ context.Context, f inventory.StockLevelFilter) ([]inventory.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.StockLevel, 0)
	for k, l := range s.levels {
		if k.TenantID != f.TenantID ||
			(f.ProductID != "" && k.ProductID != f.ProductID) ||
			(f.LocationID != "" && k.LocationID != f.LocationID) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return truncate(out, f.Limit), nil
}

func (s *Store) ListMovements(_ context.Context, f inventory.MovementFilter) ([]inventory.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.StockMovement, 0)
	for _, m := range s.movements {
		if movementMatches(f, m) {
			out = append(out, m)
		}
	}
	// movements are stored in commit order
	if !f.Ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return truncate(out, f.Limit), nil
}

func (s *Store) ListBatches(_ context.Context, key shared.AggregateKey) ([]inventory.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return batchesFor(s.batches, nil, key), nil
}

func (s *Store) GetTransfer(_ context.Context, tenantID, id string) (inventory.StockTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[id]
	if !ok {
		return inventory.StockTransfer{}, inventory.ErrTransferNotFound
	}
	if t.TenantID != tenantID {
		return inventory.StockTransfer{}, mismatch("transfer", id)
	}
	return t, nil
}

func (s *Store) ListTransfers(_ context.Context, f inventory.TransferFilter) ([]inventory.StockTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.StockTransfer, 0)
	for _, t := range s.transfers {
		if t.TenantID != f.TenantID ||
			(f.ProductID != "" && t.ProductID != f.ProductID) ||
			(f.LocationID != "" && t.FromLocationID != f.LocationID && t.ToLocationID != f.LocationID) ||
			(f.Status != "" && t.Status != f.Status) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InitiatedAt.Equal(out[j].InitiatedAt) {
			return out[i].InitiatedAt.After(out[j].InitiatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, f.Limit), nil
}

func (s *Store) GetReservation(_ context.Context, tenantID, id string) (inventory.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return inventory.Reservation{}, inventory.ErrReservationNotFound
	}
	if r.TenantID != tenantID {
		return inventory.Reservation{}, mismatch("reservation", id)
	}
	return r, nil
}

func (s *Store) ListReservations(_ context.Context, f inventory.ReservationFilter) ([]inventory.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Reservation, 0)
	for _, r := range s.reservations {
		if r.TenantID != f.TenantID ||
			(f.ProductID != "" && r.ProductID != f.ProductID) ||
			(f.LocationID != "" && r.LocationID != f.LocationID) ||
			(f.ChannelID != "" && r.ChannelID != f.ChannelID) ||
			(f.Status != "" && r.Status != f.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, f.Limit), nil
}

// ListDueReservations returns active reservations of every tenant whose
// expiry is at or before now, earliest expiry first.
func (s *Store) ListDueReservations(_ context.Context, now time.Time, limit int) ([]inventory.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Reservation, 0)
	for _, r := range s.reservations {
		if r.Status == inventory.ReservationActive && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(*out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

// acquire blocks until the named lock is free or ctx is done.
func (s *Store) acquire(ctx context.Context, name string) error {
	s.lockMu.Lock()
	ch, ok := s.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[name] = ch
	}
	s.lockMu.Unlock()
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release(name string) {
	s.lockMu.Lock()
	ch := s.locks[name]
	s.lockMu.Unlock()
	<-ch
}

func movementMatches(f inventory.MovementFilter, m inventory.StockMovement) bool {
	if m.TenantID != f.TenantID ||
		(f.ProductID != "" && m.ProductID != f.ProductID) ||
		(f.LocationID != "" && m.LocationID != f.LocationID) ||
		(f.ReferenceType != "" && m.ReferenceType != f.ReferenceType) ||
		(f.ReferenceID != "" && m.ReferenceID != f.ReferenceID) ||
		(!f.From.IsZero() && m.CreatedAt.Before(f.From)) ||
		(!f.To.IsZero() && m.CreatedAt.After(f.To)) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if m.Type == t {
			return true
		}
	}
	return false
}

// batchesFor merges committed and staged batches of key, oldest first.
func batchesFor(committed, staged map[string]inventory.StockBatch, key shared.AggregateKey) []inventory.StockBatch {
	out := make([]inventory.StockBatch, 0)
	for id, b := range committed {
		if b.Key() != key {
			continue
		}
		if override, ok := staged[id]; ok {
			b = override
		}
		out = append(out, b)
	}
	for id, b := range staged {
		if _, ok := committed[id]; !ok && b.Key() == key {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func mismatch(entity, id string) error {
	return fmt.Errorf("memstore: %s %s: %w", entity, id, shared.ErrTenantMismatch)
}
