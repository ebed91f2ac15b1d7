package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepo)(nil)
)

// WithTx executes the callback inside a repeatable-read transaction. The whole
// callback is rerun when PostgreSQL aborts it with a serialization failure.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const productColumns = `id, tenant_id, sku, name, unit_of_measure, track_inventory, allow_negative_stock,
	inventory_strategy, reorder_point, reorder_quantity, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.UnitOfMeasure, &p.TrackInventory,
		&p.AllowNegativeStock, &p.Strategy, &p.ReorderPoint, &p.ReorderQuantity, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

const locationColumns = `id, tenant_id, name, location_type, COALESCE(parent_id, ''), created_at, updated_at`

func scanLocation(row pgx.Row) (Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.TenantID, &l.Name, &l.Type, &l.ParentID, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, ErrLocationNotFound
	}
	return l, err
}

const levelColumns = `tenant_id, product_id, location_id, quantity_on_hand, quantity_reserved, quantity_in_transit, updated_at`

func scanLevel(row pgx.Row) (StockLevel, error) {
	var l StockLevel
	err := row.Scan(&l.TenantID, &l.ProductID, &l.LocationID, &l.OnHand, &l.Reserved, &l.InTransit, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLevel{}, ErrStockLevelNotFound
	}
	return l, err
}

const batchColumns = `id, tenant_id, product_id, location_id, batch_number, quantity, remaining_quantity,
	cost_per_unit, received_at, expiry_date`

func scanBatch(row pgx.Row) (StockBatch, error) {
	var b StockBatch
	err := row.Scan(&b.ID, &b.TenantID, &b.ProductID, &b.LocationID, &b.BatchNumber, &b.Quantity,
		&b.Remaining, &b.CostPerUnit, &b.ReceivedAt, &b.ExpiryDate)
	return b, err
}

const movementColumns = `id, tenant_id, product_id, location_id, movement_type, quantity, cost_per_unit,
	COALESCE(batch_id, ''), COALESCE(channel_id, ''), COALESCE(reference_type, ''), COALESCE(reference_id, ''),
	COALESCE(reason, ''), performed_by, created_at`

func scanMovement(row pgx.Row) (StockMovement, error) {
	var m StockMovement
	err := row.Scan(&m.ID, &m.TenantID, &m.ProductID, &m.LocationID, &m.Type, &m.Quantity, &m.CostPerUnit,
		&m.BatchID, &m.ChannelID, &m.ReferenceType, &m.ReferenceID, &m.Reason, &m.PerformedBy, &m.CreatedAt)
	return m, err
}

const transferColumns = `id, tenant_id, product_id, from_location_id, to_location_id, quantity, status,
	COALESCE(batch_id, ''), segments::text, initiated_by, initiated_at, dispatched_at, completed_at, cancelled_at,
	COALESCE(note, '')`

func scanTransfer(row pgx.Row) (StockTransfer, error) {
	var (
		t        StockTransfer
		segments string
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.ProductID, &t.FromLocationID, &t.ToLocationID, &t.Quantity, &t.Status,
		&t.BatchID, &segments, &t.InitiatedBy, &t.InitiatedAt, &t.DispatchedAt, &t.CompletedAt, &t.CancelledAt, &t.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockTransfer{}, ErrTransferNotFound
	}
	if err != nil {
		return StockTransfer{}, err
	}
	if err := json.Unmarshal([]byte(segments), &t.Segments); err != nil {
		return StockTransfer{}, fmt.Errorf("inventory: decode transfer segments: %w", err)
	}
	return t, nil
}

const reservationColumns = `id, tenant_id, product_id, location_id, COALESCE(channel_id, ''), quantity, status,
	COALESCE(batch_id, ''), COALESCE(reference_type, ''), COALESCE(reference_id, ''), expires_at, created_by,
	created_at, resolved_at`

func scanReservation(row pgx.Row) (Reservation, error) {
	var r Reservation
	err := row.Scan(&r.ID, &r.TenantID, &r.ProductID, &r.LocationID, &r.ChannelID, &r.Quantity, &r.Status,
		&r.BatchID, &r.ReferenceType, &r.ReferenceID, &r.ExpiresAt, &r.CreatedBy, &r.CreatedAt, &r.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrReservationNotFound
	}
	return r, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) { return scan(row) })
}

// owned turns a row of another tenant into ErrTenantMismatch.
func owned[T any](v T, err error, tenantOf func(T) string, tenantID, entity, id string) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if tenantOf(v) != tenantID {
		return zero, fmt.Errorf("inventory: %s %s: %w", entity, id, shared.ErrTenantMismatch)
	}
	return v, nil
}

// where accumulates positional filter clauses.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, v any) {
	w.args = append(w.args, v)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) String() string { return strings.Join(w.clauses, " AND ") }

func (w *where) limit(n int) string {
	w.args = append(w.args, shared.ClampLimit(n))
	return fmt.Sprintf("LIMIT $%d", len(w.args))
}

func (r *Repository) GetProduct(ctx context.Context, tenantID, id string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	return owned(p, err, func(p Product) string { return p.TenantID }, tenantID, "product", id)
}

func (r *Repository) ListProducts(ctx context.Context, tenantID string, limit int) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id = $1 ORDER BY sku LIMIT $2`,
		tenantID, shared.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanProduct)
}

func (r *Repository) GetLocation(ctx context.Context, tenantID, id string) (Location, error) {
	l, err := scanLocation(r.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id))
	return owned(l, err, func(l Location) string { return l.TenantID }, tenantID, "location", id)
}

func (r *Repository) ListLocations(ctx context.Context, tenantID string, limit int) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+locationColumns+` FROM locations WHERE tenant_id = $1 ORDER BY name, id LIMIT $2`,
		tenantID, shared.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLocation)
}

func (r *Repository) GetStockLevel(ctx context.Context, key shared.AggregateKey) (StockLevel, error) {
	return scanLevel(r.pool.QueryRow(ctx, `SELECT `+levelColumns+` FROM stock_levels
		WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3`, key.TenantID, key.ProductID, key.LocationID))
}

func (r *Repository) ListStockLevels(ctx context.Context, f StockLevelFilter) ([]StockLevel, error) {
	w := &where{}
	w.add("tenant_id = $%d", f.TenantID)
	if f.ProductID != "" {
		w.add("product_id = $%d", f.ProductID)
	}
	if f.LocationID != "" {
		w.add("location_id = $%d", f.LocationID)
	}
	query := `SELECT ` + levelColumns + ` FROM stock_levels WHERE ` + w.String() +
		` ORDER BY product_id, location_id ` + w.limit(f.Limit)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLevel)
}

func (r *Repository) ListMovements(ctx context.Context, f MovementFilter) ([]StockMovement, error) {
	w := &where{}
	w.add("tenant_id = $%d", f.TenantID)
	if f.ProductID != "" {
		w.add("product_id = $%d", f.ProductID)
	}
	if f.LocationID != "" {
		w.add("location_id = $%d", f.LocationID)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		w.add("movement_type = ANY($%d)", types)
	}
	if f.ReferenceType != "" {
		w.add("reference_type = $%d", f.ReferenceType)
	}
	if f.ReferenceID != "" {
		w.add("reference_id = $%d", f.ReferenceID)
	}
	if !f.From.IsZero() {
		w.add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		w.add("created_at <= $%d", f.To)
	}
	order := "created_at DESC, seq DESC"
	if f.Ascending {
		order = "created_at, seq"
	}
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE ` + w.String() +
		` ORDER BY ` + order + ` ` + w.limit(f.Limit)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMovement)
}

func (r *Repository) ListBatches(ctx context.Context, key shared.AggregateKey) ([]StockBatch, error) {
	return listBatches(ctx, r.pool, key, false)
}

func listBatches(ctx context.Context, q querier, key shared.AggregateKey, forUpdate bool) ([]StockBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM stock_batches
		WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3 ORDER BY received_at, id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, key.TenantID, key.ProductID, key.LocationID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBatch)
}

func (r *Repository) GetTransfer(ctx context.Context, tenantID, id string) (StockTransfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE id = $1`, id))
	return owned(t, err, func(t StockTransfer) string { return t.TenantID }, tenantID, "transfer", id)
}

func (r *Repository) ListTransfers(ctx context.Context, f TransferFilter) ([]StockTransfer, error) {
	w := &where{}
	w.add("tenant_id = $%d", f.TenantID)
	if f.ProductID != "" {
		w.add("product_id = $%d", f.ProductID)
	}
	if f.LocationID != "" {
		w.add("(from_location_id = $%[1]d OR to_location_id = $%[1]d)", f.LocationID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	query := `SELECT ` + transferColumns + ` FROM stock_transfers WHERE ` + w.String() +
		` ORDER BY initiated_at DESC, id DESC ` + w.limit(f.Limit)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransfer)
}

func (r *Repository) GetReservation(ctx context.Context, tenantID, id string) (Reservation, error) {
	res, err := scanReservation(r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	return owned(res, err, func(r Reservation) string { return r.TenantID }, tenantID, "reservation", id)
}

func (r *Repository) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	w := &where{}
	w.add("tenant_id = $%d", f.TenantID)
	if f.ProductID != "" {
		w.add("product_id = $%d", f.ProductID)
	}
	if f.LocationID != "" {
		w.add("location_id = $%d", f.LocationID)
	}
	if f.ChannelID != "" {
		w.add("channel_id = $%d", f.ChannelID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE ` + w.String() +
		` ORDER BY created_at DESC, id DESC ` + w.limit(f.Limit)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReservation)
}

func (r *Repository) ListDueReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE status = 'active' AND expires_at <= $1 ORDER BY expires_at, id LIMIT $2`, now, shared.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReservation)
}

func (t *txRepo) AppendAudit(ctx context.Context, e audit.Entry) error {
	return audit.InsertEntry(ctx, t.tx, e)
}

func (t *txRepo) GetProduct(ctx context.Context, id string) (Product, error) {
	return scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (t *txRepo) FindProductBySKU(ctx context.Context, tenantID, sku string) (Product, error) {
	return scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id = $1 AND sku = $2`, tenantID, sku))
}

func (t *txRepo) InsertProduct(ctx context.Context, p Product) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.TenantID, p.SKU, p.Name, p.UnitOfMeasure, p.TrackInventory, p.AllowNegativeStock,
		string(p.Strategy), p.ReorderPoint, p.ReorderQuantity, p.CreatedAt, p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("inventory: sku %s: %w", p.SKU, shared.ErrConflict)
	}
	return err
}

func (t *txRepo) UpdateProduct(ctx context.Context, p Product) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET name = $2, unit_of_measure = $3, allow_negative_stock = $4,
		reorder_point = $5, reorder_quantity = $6, updated_at = $7 WHERE id = $1`,
		p.ID, p.Name, p.UnitOfMeasure, p.AllowNegativeStock, p.ReorderPoint, p.ReorderQuantity, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (t *txRepo) GetLocation(ctx context.Context, id string) (Location, error) {
	return scanLocation(t.tx.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id))
}

func (t *txRepo) InsertLocation(ctx context.Context, l Location) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO locations (id, tenant_id, name, location_type, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
		l.ID, l.TenantID, l.Name, string(l.Type), l.ParentID, l.CreatedAt, l.UpdatedAt)
	return err
}

// LockStockLevels materialises missing level rows and locks every key with
// SELECT ... FOR UPDATE in lock order.
func (t *txRepo) LockStockLevels(ctx context.Context, keys ...shared.AggregateKey) (map[shared.AggregateKey]StockLevel, error) {
	out := make(map[shared.AggregateKey]StockLevel, len(keys))
	for _, k := range shared.LockOrder(keys...) {
		if _, err := t.tx.Exec(ctx, `INSERT INTO stock_levels (tenant_id, product_id, location_id)
			VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, k.TenantID, k.ProductID, k.LocationID); err != nil {
			return nil, fmt.Errorf("inventory: ensure level %s: %w", k, err)
		}
		lvl, err := scanLevel(t.tx.QueryRow(ctx, `SELECT `+levelColumns+` FROM stock_levels
			WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3 FOR UPDATE`, k.TenantID, k.ProductID, k.LocationID))
		if err != nil {
			return nil, fmt.Errorf("inventory: lock level %s: %w", k, err)
		}
		out[k] = lvl
	}
	return out, nil
}

func (t *txRepo) SaveStockLevel(ctx context.Context, l StockLevel) error {
	_, err := t.tx.Exec(ctx, `UPDATE stock_levels SET quantity_on_hand = $4, quantity_reserved = $5,
		quantity_in_transit = $6, updated_at = $7 WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3`,
		l.TenantID, l.ProductID, l.LocationID, l.OnHand, l.Reserved, l.InTransit, l.UpdatedAt)
	return err
}

func (t *txRepo) ListBatchesForUpdate(ctx context.Context, key shared.AggregateKey) ([]StockBatch, error) {
	return listBatches(ctx, t.tx, key, true)
}

func (t *txRepo) InsertBatch(ctx context.Context, b StockBatch) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.TenantID, b.ProductID, b.LocationID, b.BatchNumber, b.Quantity, b.Remaining,
		b.CostPerUnit, b.ReceivedAt, b.ExpiryDate)
	return err
}

func (t *txRepo) UpdateBatchRemaining(ctx context.Context, id string, remaining decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_batches SET remaining_quantity = $2 WHERE id = $1`, id, remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (t *txRepo) InsertMovements(ctx context.Context, movements []StockMovement) error {
	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(`INSERT INTO stock_movements (id, tenant_id, product_id, location_id, movement_type, quantity,
			cost_per_unit, batch_id, channel_id, reference_type, reference_id, reason, performed_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''),
			NULLIF($12, ''), $13, $14)`,
			m.ID, m.TenantID, m.ProductID, m.LocationID, string(m.Type), m.Quantity, m.CostPerUnit,
			m.BatchID, m.ChannelID, m.ReferenceType, m.ReferenceID, m.Reason, m.PerformedBy, m.CreatedAt)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) FindOpenTransfer(ctx context.Context, tenantID, productID, fromID, toID string) (StockTransfer, error) {
	return scanTransfer(t.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers
		WHERE tenant_id = $1 AND product_id = $2 AND from_location_id = $3 AND to_location_id = $4
		AND status IN ('pending', 'in_transit') LIMIT 1`, tenantID, productID, fromID, toID))
}

func (t *txRepo) GetTransferForUpdate(ctx context.Context, id string) (StockTransfer, error) {
	return scanTransfer(t.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) InsertTransfer(ctx context.Context, tr StockTransfer) error {
	segments, err := encodeSegments(tr.Segments)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO stock_transfers (id, tenant_id, product_id, from_location_id, to_location_id,
		quantity, status, batch_id, segments, initiated_by, initiated_at, dispatched_at, completed_at, cancelled_at, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9::jsonb, $10, $11, $12, $13, $14, NULLIF($15, ''))`,
		tr.ID, tr.TenantID, tr.ProductID, tr.FromLocationID, tr.ToLocationID, tr.Quantity, string(tr.Status),
		tr.BatchID, segments, tr.InitiatedBy, tr.InitiatedAt, tr.DispatchedAt, tr.CompletedAt, tr.CancelledAt, tr.Note)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("inventory: open transfer on route: %w", shared.ErrConflict)
	}
	return err
}

func (t *txRepo) UpdateTransfer(ctx context.Context, tr StockTransfer) error {
	segments, err := encodeSegments(tr.Segments)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `UPDATE stock_transfers SET status = $2, segments = $3::jsonb, dispatched_at = $4,
		completed_at = $5, cancelled_at = $6 WHERE id = $1`,
		tr.ID, string(tr.Status), segments, tr.DispatchedAt, tr.CompletedAt, tr.CancelledAt)
	return err
}

func encodeSegments(segments []CostSegment) (string, error) {
	if segments == nil {
		segments = []CostSegment{}
	}
	b, err := json.Marshal(segments)
	if err != nil {
		return "", fmt.Errorf("inventory: encode transfer segments: %w", err)
	}
	return string(b), nil
}

func (t *txRepo) GetReservationForUpdate(ctx context.Context, id string) (Reservation, error) {
	return scanReservation(t.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) InsertReservation(ctx context.Context, r Reservation) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO reservations (id, tenant_id, product_id, location_id, channel_id, quantity,
		status, batch_id, reference_type, reference_id, expires_at, created_by, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13, $14)`,
		r.ID, r.TenantID, r.ProductID, r.LocationID, r.ChannelID, r.Quantity, string(r.Status), r.BatchID,
		r.ReferenceType, r.ReferenceID, r.ExpiresAt, r.CreatedBy, r.CreatedAt, r.ResolvedAt)
	return err
}

func (t *txRepo) BatchHolds(ctx context.Context, key shared.AggregateKey) (map[string]decimal.Decimal, error) {
	rows, err := t.tx.Query(ctx, `SELECT batch_id, SUM(quantity) FROM reservations
		WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3 AND status = 'active' AND batch_id IS NOT NULL
		GROUP BY batch_id`, key.TenantID, key.ProductID, key.LocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	holds := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			batchID string
			qty     decimal.Decimal
		)
		if err := rows.Scan(&batchID, &qty); err != nil {
			return nil, err
		}
		holds[batchID] = qty
	}
	return holds, rows.Err()
}

func (t *txRepo) UpdateReservation(ctx context.Context, r Reservation) error {
	_, err := t.tx.Exec(ctx, `UPDATE reservations SET status = $2, resolved_at = $3 WHERE id = $1`,
		r.ID, string(r.Status), r.ResolvedAt)
	return err
}
