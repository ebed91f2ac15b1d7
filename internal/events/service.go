package events

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

var (
	// ErrChannelNotFound indicates an unknown channel.
	ErrChannelNotFound = fmt.Errorf("events: channel not found: %w", shared.ErrNotFound)
	// ErrSubscriptionNotFound indicates an unknown subscription.
	ErrSubscriptionNotFound = fmt.Errorf("events: subscription not found: %w", shared.ErrNotFound)
)

// ChannelInput registers a channel.
type ChannelInput struct {
	TenantID    string
	Name        string
	WebhookURL  string
	Secret      string
	PerformedBy string
}

// SubscriptionInput subscribes a channel to event types.
type SubscriptionInput struct {
	TenantID    string
	ChannelID   string
	ProductID   string
	LocationID  string
	EventTypes  []Type
	PerformedBy string
}

// Service administers channels and subscriptions and lists events.
type Service struct {
	store    Store
	recorder *audit.Recorder
	now      func() time.Time
}

// NewService builds the admin service.
func NewService(store Store, recorder *audit.Recorder) *Service {
	if recorder == nil {
		recorder = audit.NewRecorder(nil)
	}
	return &Service{store: store, recorder: recorder, now: time.Now}
}

// CreateChannel registers a channel. A webhook URL must be absolute http(s).
func (s *Service) CreateChannel(ctx context.Context, in ChannelInput) (Channel, error) {
	if in.TenantID == "" || strings.TrimSpace(in.Name) == "" {
		return Channel{}, fmt.Errorf("events: tenant and name required: %w", shared.ErrInvalidInput)
	}
	if in.WebhookURL != "" {
		u, err := url.Parse(in.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Channel{}, fmt.Errorf("events: invalid webhook url: %w", shared.ErrInvalidInput)
		}
		if in.Secret == "" {
			return Channel{}, fmt.Errorf("events: webhook secret required: %w", shared.ErrInvalidInput)
		}
	}
	ch := Channel{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		Name:       strings.TrimSpace(in.Name),
		WebhookURL: in.WebhookURL,
		Secret:     in.Secret,
		CreatedAt:  s.now().UTC(),
	}
	entry, err := s.recorder.Build(audit.Change{
		TenantID:    ch.TenantID,
		EntityType:  audit.EntityChannel,
		EntityID:    ch.ID,
		Action:      "create",
		Next:        ch,
		PerformedBy: in.PerformedBy,
	})
	if err != nil {
		return Channel{}, err
	}
	if err := s.store.InsertChannel(ctx, ch, entry); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

// Subscribe creates an active subscription for a channel of the same tenant.
func (s *Service) Subscribe(ctx context.Context, in SubscriptionInput) (Subscription, error) {
	if in.TenantID == "" || in.ChannelID == "" {
		return Subscription{}, fmt.Errorf("events: tenant and channel required: %w", shared.ErrInvalidInput)
	}
	if len(in.EventTypes) == 0 {
		return Subscription{}, fmt.Errorf("events: at least one event type required: %w", shared.ErrInvalidInput)
	}
	types := make([]Type, 0, len(in.EventTypes))
	seen := make(map[Type]struct{}, len(in.EventTypes))
	for _, t := range in.EventTypes {
		if !t.Valid() {
			return Subscription{}, fmt.Errorf("events: unknown event type %q: %w", t, shared.ErrInvalidInput)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}
	if _, err := s.store.GetChannel(ctx, in.TenantID, in.ChannelID); err != nil {
		return Subscription{}, err
	}
	now := s.now().UTC()
	sub := Subscription{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		ChannelID:  in.ChannelID,
		ProductID:  in.ProductID,
		LocationID: in.LocationID,
		EventTypes: types,
		Status:     SubscriptionActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	entry, err := s.recorder.Build(audit.Change{
		TenantID:    sub.TenantID,
		EntityType:  audit.EntitySubscription,
		EntityID:    sub.ID,
		Action:      "create",
		Next:        sub,
		PerformedBy: in.PerformedBy,
	})
	if err != nil {
		return Subscription{}, err
	}
	if err := s.store.InsertSubscription(ctx, sub, entry); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// UpdateSubscriptionStatus moves a subscription between active and paused,
// or cancels it. Cancelled is terminal.
func (s *Service) UpdateSubscriptionStatus(ctx context.Context, tenantID, id string, status SubscriptionStatus, performedBy string) (Subscription, error) {
	if !status.Valid() {
		return Subscription{}, fmt.Errorf("events: unknown status %q: %w", status, shared.ErrInvalidInput)
	}
	sub, err := s.store.GetSubscription(ctx, tenantID, id)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Status == SubscriptionCancelled {
		return Subscription{}, fmt.Errorf("events: subscription %s is cancelled: %w", id, shared.ErrInvalidStateTransition)
	}
	if sub.Status == status {
		return sub, nil
	}
	prev := sub
	sub.Status = status
	sub.UpdatedAt = s.now().UTC()
	entry, err := s.recorder.Build(audit.Change{
		TenantID:    tenantID,
		EntityType:  audit.EntitySubscription,
		EntityID:    sub.ID,
		Action:      "status_" + string(status),
		Previous:    prev,
		Next:        sub,
		PerformedBy: performedBy,
	})
	if err != nil {
		return Subscription{}, err
	}
	if err := s.store.UpdateSubscription(ctx, sub, entry); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// ListSubscriptions returns a tenant's subscriptions, optionally for one channel.
func (s *Service) ListSubscriptions(ctx context.Context, tenantID, channelID string) ([]Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("events: tenant required: %w", shared.ErrInvalidInput)
	}
	return s.store.ListSubscriptions(ctx, tenantID, channelID)
}

// ListEvents returns a tenant's events newest first.
func (s *Service) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	if filter.TenantID == "" {
		return nil, fmt.Errorf("events: tenant required: %w", shared.ErrInvalidInput)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("events: unknown event type %q: %w", filter.Type, shared.ErrInvalidInput)
	}
	filter.Limit = shared.ClampLimit(filter.Limit)
	return s.store.ListEvents(ctx, filter)
}
