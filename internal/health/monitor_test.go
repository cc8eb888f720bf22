package health

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenderflow/docpipe/internal/queue"
)

func testQueues(t *testing.T, b queue.Backend) map[string]*queue.Queue {
	t.Helper()
	q, err := queue.NewQueue("receipt-parse", b, map[string]any{"type": "object"}, nil)
	require.NoError(t, err)
	return map[string]*queue.Queue{"receipt-parse": q}
}

type downBackend struct {
	*queue.MemoryBackend
}

func (downBackend) Ping(context.Context) error { return errors.New("backend down") }

func TestMonitorHealthy(t *testing.T) {
	b := queue.NewMemoryBackend()
	m := NewMonitor(b, testQueues(t, b), map[string]Pinger{
		"objectStore": func(context.Context) error { return nil },
	}, NewRegistry(), 10, slog.Default())

	snap := m.Check(context.Background())
	require.Equal(t, StatusHealthy, snap.Status)
	require.True(t, snap.Services["queueBackend"].Reachable)
	require.True(t, snap.Services["objectStore"].Reachable)
	require.Contains(t, snap.Queues, "receipt-parse")
	require.Positive(t, snap.Resources.Goroutines)
}

func TestMonitorDegradedOnCapabilityFailure(t *testing.T) {
	b := queue.NewMemoryBackend()
	m := NewMonitor(b, testQueues(t, b), map[string]Pinger{
		"ocr": func(context.Context) error { return errors.New("tesseract missing") },
	}, nil, 10, slog.Default())

	snap := m.Check(context.Background())
	require.Equal(t, StatusDegraded, snap.Status)
	require.False(t, snap.Services["ocr"].Reachable)
	require.Contains(t, snap.Services["ocr"].Error, "tesseract missing")
}

func TestMonitorDegradedOnFailedBacklog(t *testing.T) {
	b := queue.NewMemoryBackend()
	ctx := context.Background()
	queues := testQueues(t, b)

	// Push three jobs into terminal failure; threshold is two.
	for i := 0; i < 3; i++ {
		id, err := b.Enqueue(ctx, "receipt-parse", []byte(`{}`), queue.Options{MaxAttempts: 1})
		require.NoError(t, err)
		_, err = b.Dequeue(ctx, "receipt-parse")
		require.NoError(t, err)
		_, err = b.Fail(ctx, "receipt-parse", id, "boom", false)
		require.NoError(t, err)
	}

	m := NewMonitor(b, queues, nil, nil, 2, slog.Default())
	snap := m.Check(ctx)
	require.Equal(t, StatusDegraded, snap.Status)
	require.Equal(t, 3, snap.Queues["receipt-parse"].Failed)
}

func TestMonitorUnhealthyWhenBackendDown(t *testing.T) {
	down := downBackend{queue.NewMemoryBackend()}
	m := NewMonitor(down, nil, map[string]Pinger{
		"objectStore": func(context.Context) error { return nil },
	}, nil, 10, slog.Default())

	snap := m.Check(context.Background())
	require.Equal(t, StatusUnhealthy, snap.Status)
	require.False(t, snap.Services["queueBackend"].Reachable)
}

func TestMonitorExportsQueueGauges(t *testing.T) {
	b := queue.NewMemoryBackend()
	reg := NewRegistry()
	queues := testQueues(t, b)

	_, err := b.Enqueue(context.Background(), "receipt-parse", []byte(`{}`), queue.Options{})
	require.NoError(t, err)

	m := NewMonitor(b, queues, nil, reg, 10, slog.Default())
	m.Check(context.Background())

	require.Contains(t, reg.RenderPrometheus(), `docpipe_queue_waiting{queue="receipt-parse"} 1`)
}
