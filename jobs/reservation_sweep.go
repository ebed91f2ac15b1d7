package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// ReservationExpirer expires every active reservation due at now.
type ReservationExpirer interface {
	ExpireDue(ctx context.Context, now time.Time, batchSize int) (int, error)
}

// ReservationSweepJob releases holds whose deadline has passed.
type ReservationSweepJob struct {
	Expirer   ReservationExpirer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	BatchSize int
	clock     func() time.Time
}

// NewReservationSweepJob initialises the sweep handler.
func NewReservationSweepJob(expirer ReservationExpirer, batchSize int, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReservationSweepJob {
	return &ReservationSweepJob{
		Expirer:   expirer,
		Logger:    logger,
		Metrics:   metrics,
		BatchSize: batchSize,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep.
func (j *ReservationSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Expirer == nil {
		return errors.New("reservation sweep: handler not configured")
	}
	var payload ReservationSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = j.BatchSize
	}

	start := j.now()
	tracker := j.metrics().Track(TaskReservationSweep)
	defer func() { err = tracker.End(err) }()

	expired, err := j.Expirer.ExpireDue(ctx, start, payload.BatchSize)
	j.metrics().AddProcessed(TaskReservationSweep, expired)
	if err != nil {
		j.logger().Error("reservation sweep failed", slog.Int("expired", expired), slog.Any("error", err))
		return err
	}
	j.logger().Info("completed reservation sweep",
		slog.Int("expired", expired),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *ReservationSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *ReservationSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *ReservationSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
