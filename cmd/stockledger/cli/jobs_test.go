package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/jobs"
)

type stubEnqueuer struct {
	tasks  []*asynq.Task
	closed bool
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func (s *stubEnqueuer) Close() error {
	s.closed = true
	return nil
}

type stubInspector struct {
	queues map[string]*asynq.QueueInfo
	err    error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.queues[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func (stubInspector) Close() error { return nil }

func TestTriggerReservationSweep(t *testing.T) {
	enq := &stubEnqueuer{}
	c := NewJobsCLIWith(enq, stubInspector{})

	info, err := c.Trigger(context.Background(), jobs.TaskReservationSweep, 25)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskReservationSweep, info.Type)
	require.Len(t, enq.tasks, 1)

	var payload jobs.ReservationSweepPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, 25, payload.BatchSize)

	_, err = c.Trigger(context.Background(), jobs.TaskWebhookDeliver, 0)
	require.Error(t, err)

	require.NoError(t, c.Close())
	require.True(t, enq.closed)
}

func TestStatsCommand(t *testing.T) {
	c := NewJobsCLIWith(&stubEnqueuer{}, stubInspector{queues: map[string]*asynq.QueueInfo{
		jobs.QueueWebhooks: {Queue: jobs.QueueWebhooks, Pending: 2, Retry: 1},
	}})

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	require.Equal(t, 0, c.StatsCommand(stdout, stderr))
	require.Empty(t, stderr.String())

	var stats []QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Equal(t, []QueueStats{
		{Queue: jobs.QueueDefault},
		{Queue: jobs.QueueWebhooks, Pending: 2, Retry: 1},
	}, stats)

	failing := NewJobsCLIWith(&stubEnqueuer{}, stubInspector{err: errors.New("redis down")})
	stdout.Reset()
	require.Equal(t, 1, failing.StatsCommand(stdout, stderr))
	require.Contains(t, stderr.String(), "redis down")
}
