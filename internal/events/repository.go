package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InsertEvent(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO inventory_events
		(id, tenant_id, event_type, product_id, location_id, channel_id, payload, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		e.ID, e.TenantID, string(e.Type), e.ProductID, e.LocationID, e.ChannelID, string(payload), e.CreatedAt)
	return err
}

func (r *Repository) MarkProcessed(ctx context.Context, tenantID, eventID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE inventory_events SET processed_at = $3
		WHERE tenant_id = $1 AND id = $2`, tenantID, eventID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	var (
		where = []string{"tenant_id = $1"}
		args  = []any{f.TenantID}
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Type != "" {
		add("event_type = $%d", string(f.Type))
	}
	if f.ProductID != "" {
		add("product_id = $%d", f.ProductID)
	}
	if f.LocationID != "" {
		add("location_id = $%d", f.LocationID)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	if f.OnlyPending {
		where = append(where, "processed_at IS NULL")
	}
	args = append(args, shared.ClampLimit(f.Limit))
	query := fmt.Sprintf(`SELECT id, tenant_id, event_type, COALESCE(product_id, ''), COALESCE(location_id, ''),
		COALESCE(channel_id, ''), payload::text, created_at, processed_at
		FROM inventory_events WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`, strings.Join(where, " AND "), len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("events: list: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			e       Event
			typ     string
			payload string
		)
		if err := row.Scan(&e.ID, &e.TenantID, &typ, &e.ProductID, &e.LocationID, &e.ChannelID, &payload, &e.CreatedAt, &e.ProcessedAt); err != nil {
			return Event{}, err
		}
		e.Type = Type(typ)
		p, err := DecodePayload(e.Type, []byte(payload))
		if err != nil {
			return Event{}, err
		}
		e.Payload = p
		return e, nil
	})
}

func (r *Repository) ActiveTargets(ctx context.Context, tenantID string) ([]Target, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.tenant_id, s.channel_id, COALESCE(s.product_id, ''), COALESCE(s.location_id, ''),
		s.event_types, s.status, s.created_at, s.updated_at,
		c.id, c.tenant_id, c.name, COALESCE(c.webhook_url, ''), COALESCE(c.secret, ''), c.created_at
		FROM channel_subscriptions s JOIN channels c ON c.id = s.channel_id AND c.tenant_id = s.tenant_id
		WHERE s.tenant_id = $1 AND s.status = 'active' ORDER BY s.id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("events: active targets: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Target, error) {
		var (
			t      Target
			types  []string
			status string
		)
		err := row.Scan(&t.Subscription.ID, &t.Subscription.TenantID, &t.Subscription.ChannelID,
			&t.Subscription.ProductID, &t.Subscription.LocationID, &types, &status,
			&t.Subscription.CreatedAt, &t.Subscription.UpdatedAt,
			&t.Channel.ID, &t.Channel.TenantID, &t.Channel.Name, &t.Channel.WebhookURL, &t.Channel.Secret, &t.Channel.CreatedAt)
		t.Subscription.Status = SubscriptionStatus(status)
		t.Subscription.EventTypes = toTypes(types)
		return t, err
	})
}

func (r *Repository) InsertChannel(ctx context.Context, ch Channel, entry audit.Entry) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO channels (id, tenant_id, name, webhook_url, secret, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)`,
			ch.ID, ch.TenantID, ch.Name, ch.WebhookURL, ch.Secret, ch.CreatedAt); err != nil {
			return err
		}
		return audit.InsertEntry(ctx, tx, entry)
	})
}

func (r *Repository) GetChannel(ctx context.Context, tenantID, id string) (Channel, error) {
	var ch Channel
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, name, COALESCE(webhook_url, ''), COALESCE(secret, ''), created_at
		FROM channels WHERE id = $1`, id).Scan(&ch.ID, &ch.TenantID, &ch.Name, &ch.WebhookURL, &ch.Secret, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	if ch.TenantID != tenantID {
		return Channel{}, shared.ErrTenantMismatch
	}
	return ch, nil
}

func (r *Repository) InsertSubscription(ctx context.Context, sub Subscription, entry audit.Entry) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO channel_subscriptions
			(id, tenant_id, channel_id, product_id, location_id, event_types, status, created_at, updated_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)`,
			sub.ID, sub.TenantID, sub.ChannelID, sub.ProductID, sub.LocationID, fromTypes(sub.EventTypes),
			string(sub.Status), sub.CreatedAt, sub.UpdatedAt); err != nil {
			return err
		}
		return audit.InsertEntry(ctx, tx, entry)
	})
}

func (r *Repository) GetSubscription(ctx context.Context, tenantID, id string) (Subscription, error) {
	subs, err := r.querySubscriptions(ctx, `WHERE id = $1`, id)
	if err != nil {
		return Subscription{}, err
	}
	if len(subs) == 0 {
		return Subscription{}, ErrSubscriptionNotFound
	}
	if subs[0].TenantID != tenantID {
		return Subscription{}, shared.ErrTenantMismatch
	}
	return subs[0], nil
}

func (r *Repository) UpdateSubscription(ctx context.Context, sub Subscription, entry audit.Entry) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE channel_subscriptions SET status = $3, updated_at = $4
			WHERE tenant_id = $1 AND id = $2`, sub.TenantID, sub.ID, string(sub.Status), sub.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrSubscriptionNotFound
		}
		return audit.InsertEntry(ctx, tx, entry)
	})
}

func (r *Repository) ListSubscriptions(ctx context.Context, tenantID, channelID string) ([]Subscription, error) {
	if channelID == "" {
		return r.querySubscriptions(ctx, `WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	}
	return r.querySubscriptions(ctx, `WHERE tenant_id = $1 AND channel_id = $2 ORDER BY created_at, id`, tenantID, channelID)
}

func (r *Repository) querySubscriptions(ctx context.Context, clause string, args ...any) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, channel_id, COALESCE(product_id, ''), COALESCE(location_id, ''),
		event_types, status, created_at, updated_at FROM channel_subscriptions `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("events: query subscriptions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Subscription, error) {
		var (
			s      Subscription
			types  []string
			status string
		)
		err := row.Scan(&s.ID, &s.TenantID, &s.ChannelID, &s.ProductID, &s.LocationID, &types, &status, &s.CreatedAt, &s.UpdatedAt)
		s.Status = SubscriptionStatus(status)
		s.EventTypes = toTypes(types)
		return s, err
	})
}

func toTypes(in []string) []Type {
	out := make([]Type, len(in))
	for i, t := range in {
		out[i] = Type(t)
	}
	return out
}

func fromTypes(in []Type) []string {
	out := make([]string, len(in))
	for i, t := range in {
		out[i] = string(t)
	}
	return out
}
