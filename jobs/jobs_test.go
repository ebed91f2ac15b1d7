package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/events"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeSender struct {
	got []events.Delivery
	err error
}

func (f *fakeSender) Dispatch(_ context.Context, d events.Delivery) error {
	f.got = append(f.got, d)
	return f.err
}

type fakeExpirer struct {
	batchSize int
	now       time.Time
	n         int
	err       error
}

func (f *fakeExpirer) ExpireDue(_ context.Context, now time.Time, batchSize int) (int, error) {
	f.now, f.batchSize = now, batchSize
	return f.n, f.err
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func delivery() events.Delivery {
	return events.Delivery{
		ID:        "dlv-1",
		TenantID:  "t1",
		EventID:   "evt-1",
		EventType: events.TypeStockLow,
		ChannelID: "ch-1",
		URL:       "https://shop.example/hook",
		Body:      []byte(`{"type":"stock_low"}`),
		Signature: "abc",
	}
}

func TestClientDispatchQueuesDelivery(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := NewClientWithEnqueuer(enq, 5)

	require.NoError(t, c.Dispatch(context.Background(), delivery()))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskWebhookDeliver, enq.tasks[0].Type())
	var d events.Delivery
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &d))
	require.Equal(t, delivery(), d)
}

func TestClientDispatchTreatsDuplicateAsQueued(t *testing.T) {
	c := NewClientWithEnqueuer(&fakeEnqueuer{err: asynq.ErrTaskIDConflict}, 5)
	require.NoError(t, c.Dispatch(context.Background(), delivery()))

	down := errors.New("redis down")
	c = NewClientWithEnqueuer(&fakeEnqueuer{err: down}, 5)
	require.ErrorIs(t, c.Dispatch(context.Background(), delivery()), down)
}

func TestWebhookDeliverJob(t *testing.T) {
	sender := &fakeSender{}
	job := NewWebhookDeliverJob(sender, nil, testMetrics())
	body, err := json.Marshal(delivery())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskWebhookDeliver, body)))
	require.Len(t, sender.got, 1)
	require.Equal(t, "dlv-1", sender.got[0].ID)

	sender.err = errors.New("503")
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskWebhookDeliver, body)), sender.err)

	err = job.Handle(context.Background(), asynq.NewTask(TaskWebhookDeliver, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = job.Handle(context.Background(), asynq.NewTask(TaskWebhookDeliver, []byte(`{"id":"x"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReservationSweepJob(t *testing.T) {
	exp := &fakeExpirer{n: 3}
	job := NewReservationSweepJob(exp, 200, nil, testMetrics())
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return fixed }

	task, err := NewReservationSweepTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 200, exp.batchSize)
	require.Equal(t, fixed, exp.now)

	task, err = NewReservationSweepTask(50)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 50, exp.batchSize)

	exp.err = errors.New("db gone")
	require.ErrorIs(t, job.Handle(context.Background(), task), exp.err)
}

type fakeInspector map[string]*asynq.QueueInfo

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := f[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(fakeInspector{QueueWebhooks: {Queue: QueueWebhooks, Pending: 4, Retry: 1}}, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"items":[
		{"queue":"default","pending":0,"retry":0,"archived":0},
		{"queue":"webhooks","pending":4,"retry":1,"archived":0}
	],"count":2}`, rr.Body.String())
}
