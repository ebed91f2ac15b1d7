package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer is satisfied by pgx.Tx and *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertEntrySQL = `INSERT INTO inventory_audit_logs
	(id, tenant_id, entity_type, entity_id, action, previous_state, new_state, performed_by, reason, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`

// InsertEntry writes e using db, typically the open transaction of a ledger operation.
func InsertEntry(ctx context.Context, db Execer, e Entry) error {
	_, err := db.Exec(ctx, insertEntrySQL,
		e.ID, e.TenantID, e.EntityType, e.EntityID, e.Action,
		nullableJSON(e.PreviousState), nullableJSON(e.NewState),
		e.PerformedBy, e.Reason, e.CreatedAt)
	return err
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Repository reads audit rows from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SearchAudit implements Reader.
func (r *Repository) SearchAudit(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where = []string{"tenant_id = $1"}
		args  = []any{f.TenantID}
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.PerformedBy != "" {
		add("performed_by = $%d", f.PerformedBy)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	args = append(args, f.Limit, max(f.Offset, 0))
	query := fmt.Sprintf(`SELECT id, tenant_id, entity_type, entity_id, action,
		COALESCE(previous_state::text, ''), COALESCE(new_state::text, ''), performed_by, COALESCE(reason, ''), created_at
		FROM inventory_audit_logs WHERE %s ORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: search: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e          Entry
			prev, next string
		)
		if err := row.Scan(&e.ID, &e.TenantID, &e.EntityType, &e.EntityID, &e.Action,
			&prev, &next, &e.PerformedBy, &e.Reason, &e.CreatedAt); err != nil {
			return Entry{}, err
		}
		if prev != "" {
			e.PreviousState = []byte(prev)
		}
		if next != "" {
			e.NewState = []byte(next)
		}
		return e, nil
	})
}
