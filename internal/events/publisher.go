package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/observability"
)

// Delivery is one signed webhook ready for transport.
type Delivery struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	EventID        string `json:"event_id"`
	EventType      Type   `json:"event_type"`
	ChannelID      string `json:"channel_id"`
	SubscriptionID string `json:"subscription_id"`
	URL            string `json:"url"`
	Body           []byte `json:"body"`
	Signature      string `json:"signature"`
}

// Dispatcher hands a delivery to a transport. Retries belong to the transport.
type Dispatcher interface {
	Dispatch(ctx context.Context, d Delivery) error
}

// Sink receives every published event regardless of subscriptions.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Publisher persists derived events and fans them out to matching channels.
// It runs after the ledger transaction commits, so its failures never
// affect stock state.
type Publisher struct {
	store       Store
	dispatcher  Dispatcher
	sinks       []Sink
	logger      *slog.Logger
	metrics     *observability.LedgerMetrics
	now         func() time.Time
	concurrency int
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSink adds a sink such as the Kafka stream.
func WithSink(s Sink) Option {
	return func(p *Publisher) {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the delivery counters.
func WithMetrics(m *observability.LedgerMetrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// WithConcurrency bounds parallel dispatches per event.
func WithConcurrency(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPublisher constructs a Publisher. A nil dispatcher records events
// without delivering them.
func NewPublisher(store Store, dispatcher Dispatcher, opts ...Option) *Publisher {
	p := &Publisher{
		store:       store,
		dispatcher:  dispatcher,
		logger:      slog.Default(),
		now:         time.Now,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stores each event, dispatches it to every matching subscription
// and marks it processed when every hand-off succeeded. It returns the
// stored events and the joined delivery errors.
func (p *Publisher) Publish(ctx context.Context, evts []Event) ([]Event, error) {
	if p == nil || len(evts) == 0 {
		return evts, nil
	}
	published := make([]Event, 0, len(evts))
	var errs []error
	targets := make(map[string][]Target)
	for _, e := range evts {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = p.now().UTC()
		}
		if err := p.store.InsertEvent(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("events: store %s: %w", e.Type, err))
			continue
		}
		tenantTargets, ok := targets[e.TenantID]
		if !ok {
			var err error
			tenantTargets, err = p.store.ActiveTargets(ctx, e.TenantID)
			if err != nil {
				errs = append(errs, fmt.Errorf("events: load subscriptions: %w", err))
				published = append(published, e)
				continue
			}
			targets[e.TenantID] = tenantTargets
		}
		if err := p.fanOut(ctx, e, tenantTargets); err != nil {
			errs = append(errs, err)
		} else {
			at := p.now().UTC()
			if err := p.store.MarkProcessed(ctx, e.TenantID, e.ID, at); err != nil {
				errs = append(errs, fmt.Errorf("events: mark processed: %w", err))
			} else {
				e.ProcessedAt = &at
			}
		}
		published = append(published, e)
	}
	return published, errors.Join(errs...)
}

// DeliveryID names the delivery of one event to one subscription. It is
// stable, so a repeated hand-off of the same pair is deduplicated by the
// queue.
func DeliveryID(eventID, subscriptionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("stockledger:delivery:"+eventID+":"+subscriptionID)).String()
}

func (p *Publisher) fanOut(ctx context.Context, e Event, targets []Target) error {
	body, err := CanonicalJSON(e)
	if err != nil {
		return err
	}
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	g.SetLimit(p.concurrency)
	for _, sink := range p.sinks {
		g.Go(func() error {
			if err := sink.Emit(ctx, e); err != nil {
				record(fmt.Errorf("events: sink %s: %w", e.ID, err))
			}
			return nil
		})
	}
	for _, t := range targets {
		if !t.Subscription.Matches(e) {
			continue
		}
		if p.dispatcher == nil || t.Channel.WebhookURL == "" {
			p.metrics.ObserveDelivery("skipped")
			continue
		}
		d := Delivery{
			ID:             DeliveryID(e.ID, t.Subscription.ID),
			TenantID:       e.TenantID,
			EventID:        e.ID,
			EventType:      e.Type,
			ChannelID:      t.Channel.ID,
			SubscriptionID: t.Subscription.ID,
			URL:            t.Channel.WebhookURL,
			Body:           body,
			Signature:      Sign(t.Channel.Secret, body),
		}
		g.Go(func() error {
			if err := p.dispatcher.Dispatch(ctx, d); err != nil {
				p.metrics.ObserveDelivery("failed")
				p.logger.Warn("event delivery failed",
					slog.String("tenant_id", d.TenantID),
					slog.String("event_id", d.EventID),
					slog.String("event_type", string(d.EventType)),
					slog.String("channel_id", d.ChannelID),
					slog.Any("error", err))
				record(fmt.Errorf("events: deliver %s to channel %s: %w", d.EventID, d.ChannelID, err))
				return nil
			}
			p.metrics.ObserveDelivery("ok")
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
