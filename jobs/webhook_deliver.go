package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/events"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// WebhookDeliverJob posts queued deliveries. Asynq retries a failed post with
// its own backoff until MaxRetry is spent.
type WebhookDeliverJob struct {
	Sender  events.Dispatcher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewWebhookDeliverJob initialises the delivery handler.
func NewWebhookDeliverJob(sender events.Dispatcher, logger *slog.Logger, metrics *jobmetrics.Metrics) *WebhookDeliverJob {
	return &WebhookDeliverJob{Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle executes one delivery attempt.
func (j *WebhookDeliverJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sender == nil {
		return errors.New("webhook deliver: handler not configured")
	}
	var d events.Delivery
	if err := json.Unmarshal(t.Payload(), &d); err != nil {
		return fmt.Errorf("webhook deliver: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if d.URL == "" {
		return fmt.Errorf("webhook deliver: delivery %s has no url: %w", d.ID, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskWebhookDeliver)
	defer func() { err = tracker.End(err) }()

	logger := j.logger().With(
		slog.String("delivery_id", d.ID),
		slog.String("event_id", d.EventID),
		slog.String("event_type", string(d.EventType)),
		slog.String("channel_id", d.ChannelID),
	)
	if err = j.Sender.Dispatch(ctx, d); err != nil {
		retry, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		logger.Warn("webhook delivery failed", slog.Int("retry", retry), slog.Int("max_retry", maxRetry), slog.Any("error", err))
		return err
	}
	j.metrics().AddProcessed(TaskWebhookDeliver, 1)
	logger.Debug("webhook delivered")
	return nil
}

func (j *WebhookDeliverJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *WebhookDeliverJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
