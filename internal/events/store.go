package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// EventFilter narrows ListEvents. Results are newest first.
type EventFilter struct {
	TenantID    string
	Type        Type
	ProductID   string
	LocationID  string
	From        time.Time
	To          time.Time
	OnlyPending bool
	Limit       int
}

// Matches reports whether e satisfies f.
func (f EventFilter) Matches(e Event) bool {
	if e.TenantID != f.TenantID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.ProductID != "" && e.ProductID != f.ProductID {
		return false
	}
	if f.LocationID != "" && e.LocationID != f.LocationID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	if f.OnlyPending && e.ProcessedAt != nil {
		return false
	}
	return true
}

// Store persists events, channels and subscriptions. Channel and
// subscription writes carry their audit entry so both land together.
type Store interface {
	InsertEvent(ctx context.Context, e Event) error
	MarkProcessed(ctx context.Context, tenantID, eventID string, at time.Time) error
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
	ActiveTargets(ctx context.Context, tenantID string) ([]Target, error)

	InsertChannel(ctx context.Context, ch Channel, entry audit.Entry) error
	GetChannel(ctx context.Context, tenantID, id string) (Channel, error)
	InsertSubscription(ctx context.Context, sub Subscription, entry audit.Entry) error
	GetSubscription(ctx context.Context, tenantID, id string) (Subscription, error)
	UpdateSubscription(ctx context.Context, sub Subscription, entry audit.Entry) error
	ListSubscriptions(ctx context.Context, tenantID, channelID string) ([]Subscription, error)
}

// MemoryStore is a process local Store.
type MemoryStore struct {
	mu            sync.RWMutex
	events        []Event
	channels      map[string]Channel
	subscriptions map[string]Subscription
	audit         audit.Appender
}

// NewMemoryStore builds an empty store. Audit entries go to log when set.
func NewMemoryStore(log audit.Appender) *MemoryStore {
	return &MemoryStore{
		channels:      make(map[string]Channel),
		subscriptions: make(map[string]Subscription),
		audit:         log,
	}
}

func (s *MemoryStore) InsertEvent(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, tenantID, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == eventID && s.events[i].TenantID == tenantID {
			s.events[i].ProcessedAt = &at
			return nil
		}
	}
	return shared.ErrNotFound
}

func (s *MemoryStore) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := shared.ClampLimit(f.Limit)
	out := make([]Event, 0)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.Matches(s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) ActiveTargets(ctx context.Context, tenantID string) ([]Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Target
	for _, sub := range s.subscriptions {
		if sub.TenantID != tenantID || sub.Status != SubscriptionActive {
			continue
		}
		ch, ok := s.channels[sub.ChannelID]
		if !ok {
			continue
		}
		out = append(out, Target{Subscription: sub, Channel: ch})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subscription.ID < out[j].Subscription.ID })
	return out, nil
}

func (s *MemoryStore) InsertChannel(ctx context.Context, ch Channel, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendAudit(ctx, entry); err != nil {
		return err
	}
	s.channels[ch.ID] = ch
	return nil
}

func (s *MemoryStore) GetChannel(ctx context.Context, tenantID, id string) (Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return Channel{}, ErrChannelNotFound
	}
	if ch.TenantID != tenantID {
		return Channel{}, shared.ErrTenantMismatch
	}
	return ch, nil
}

func (s *MemoryStore) InsertSubscription(ctx context.Context, sub Subscription, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendAudit(ctx, entry); err != nil {
		return err
	}
	s.subscriptions[sub.ID] = sub
	return nil
}

func (s *MemoryStore) GetSubscription(ctx context.Context, tenantID, id string) (Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	if sub.TenantID != tenantID {
		return Subscription{}, shared.ErrTenantMismatch
	}
	return sub, nil
}

func (s *MemoryStore) UpdateSubscription(ctx context.Context, sub Subscription, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	if err := s.appendAudit(ctx, entry); err != nil {
		return err
	}
	s.subscriptions[sub.ID] = sub
	return nil
}

func (s *MemoryStore) ListSubscriptions(ctx context.Context, tenantID, channelID string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.TenantID == tenantID && (channelID == "" || sub.ChannelID == channelID) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) appendAudit(ctx context.Context, entry audit.Entry) error {
	if s.audit == nil || entry.ID == "" {
		return nil
	}
	return s.audit.AppendAudit(ctx, entry)
}
