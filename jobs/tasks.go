package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/events"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueWebhooks carries outbound channel deliveries.
	QueueWebhooks = "webhooks"

	// TaskWebhookDeliver posts one signed event to a channel webhook.
	TaskWebhookDeliver = "events:webhook_deliver"
	// TaskReservationSweep expires reservations past their deadline.
	TaskReservationSweep = "inventory:reservation_sweep"
)

// ReservationSweepPayload carries sweep parameters.
type ReservationSweepPayload struct {
	BatchSize    int       `json:"batch_size"`
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`
}

// NewWebhookDeliverTask wraps a delivery. The delivery id doubles as the task
// id so a re-enqueued delivery is not duplicated.
func NewWebhookDeliverTask(d events.Delivery, maxRetry int) (*asynq.Task, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueWebhooks), asynq.MaxRetry(maxRetry)}
	if d.ID != "" {
		opts = append(opts, asynq.TaskID(d.ID))
	}
	return asynq.NewTask(TaskWebhookDeliver, body, opts...), nil
}

// NewReservationSweepTask constructs the periodic sweep task.
func NewReservationSweepTask(batchSize int) (*asynq.Task, error) {
	body, err := json.Marshal(ReservationSweepPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReservationSweep, body, asynq.Queue(QueueDefault)), nil
}
