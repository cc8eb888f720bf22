package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tenderflow/docpipe/constants"
)

func newTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSQLiteBackendRoundtrip(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, "q", []byte(`{"n":1}`), Options{Priority: 2})
	require.NoError(t, err)

	job, err := b.Dequeue(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, id, job.ID)
	require.Equal(t, constants.JobStatusActive, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.Equal(t, 2, job.Priority)
	require.JSONEq(t, `{"n":1}`, string(job.Payload))

	require.NoError(t, b.Heartbeat(ctx, "q", id))
	require.NoError(t, b.Ack(ctx, "q", id, []byte(`{"ok":true}`)))

	got, err := b.Job(ctx, "q", id)
	require.NoError(t, err)
	require.Equal(t, constants.JobStatusCompleted, got.Status)
	require.JSONEq(t, `{"ok":true}`, string(got.Result))
	require.False(t, got.FinishedAt.IsZero())
}

func TestSQLiteBackendPriorityOrder(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	low, err := b.Enqueue(ctx, "q", []byte(`{}`), Options{Priority: 0})
	require.NoError(t, err)
	high, err := b.Enqueue(ctx, "q", []byte(`{}`), Options{Priority: 9})
	require.NoError(t, err)

	first, err := b.Dequeue(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, high, first.ID)

	second, err := b.Dequeue(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, low, second.ID)
}

func TestSQLiteBackendFailAndRequeue(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, "q", []byte(`{}`), Options{MaxAttempts: 2})
	require.NoError(t, err)

	job, err := b.Dequeue(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, job)

	requeued, err := b.Fail(ctx, "q", id, "transient", true)
	require.NoError(t, err)
	require.True(t, requeued)

	got, err := b.Job(ctx, "q", id)
	require.NoError(t, err)
	require.Equal(t, constants.JobStatusWaiting, got.Status)
	require.Equal(t, "transient", got.LastError)
	// Backoff gate is in the future.
	require.True(t, got.VisibleAt.After(time.Now().Add(time.Second)))
}

func TestSQLiteBackendQueueIsolation(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	_, err := b.Enqueue(ctx, "a", []byte(`{}`), Options{})
	require.NoError(t, err)

	job, err := b.Dequeue(ctx, "b")
	require.NoError(t, err)
	require.Nil(t, job)

	counts, err := b.Counts(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 1, counts.Waiting)
}

func TestSQLiteBackendUnknownJob(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	_, err := b.Job(ctx, "q", "nope")
	require.ErrorIs(t, err, ErrNoSuchJob)
	require.ErrorIs(t, b.Heartbeat(ctx, "q", "nope"), ErrNoSuchJob)
	require.ErrorIs(t, b.Ack(ctx, "q", "nope", nil), ErrNoSuchJob)
}

func TestSQLiteBackendReclaimMarksStalled(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, "q", []byte(`{}`), Options{})
	require.NoError(t, err)
	job, err := b.Dequeue(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, job)

	// Worker goes silent past the stall window.
	time.Sleep(10 * time.Millisecond)
	reclaimed, failed, err := b.ReclaimStalled(ctx, "q", 5*time.Millisecond, 3)
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)
	require.Zero(t, failed)

	got, err := b.Job(ctx, "q", id)
	require.NoError(t, err)
	require.Equal(t, constants.JobStatusStalled, got.Status)
	require.Equal(t, 1, got.StallCount)

	counts, err := b.Counts(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, 1, counts.Stalled)
	require.Zero(t, counts.Waiting)

	// Redelivery claims the stalled job like a waiting one.
	job, err = b.Dequeue(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, id, job.ID)
	require.Equal(t, 2, job.Attempts)
}
