package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tenderflow/docpipe/constants"
)

// MemoryBackend keeps jobs in process memory. It honors the full Backend
// contract (priority, delay, backoff, stall reclaim, retention) but is not
// durable; it backs tests and local development.
type MemoryBackend struct {
	mu   sync.Mutex
	jobs map[string]*Job // id -> job
	seq  map[string]int  // queue -> enqueue sequence (FIFO tiebreak)
	ord  map[string]int  // job id -> sequence
	now  func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		jobs: make(map[string]*Job),
		seq:  make(map[string]int),
		ord:  make(map[string]int),
		now:  time.Now,
	}
}

// SetClock overrides the backend clock. Test hook.
func (b *MemoryBackend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *MemoryBackend) Enqueue(_ context.Context, queue string, payload []byte, opts Options) (string, error) {
	opts = opts.withDefaults()
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	id := uuid.NewString()
	b.seq[queue]++
	b.ord[id] = b.seq[queue]
	b.jobs[id] = &Job{
		ID:          id,
		Queue:       queue,
		Payload:     append([]byte(nil), payload...),
		Status:      constants.JobStatusWaiting,
		MaxAttempts: opts.MaxAttempts,
		Priority:    opts.Priority,
		EnqueuedAt:  now,
		VisibleAt:   now.Add(opts.Delay),
	}
	return id, nil
}

func (b *MemoryBackend) Dequeue(_ context.Context, queue string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	var best *Job
	for _, j := range b.jobs {
		if j.Queue != queue || !claimable(j.Status) || j.VisibleAt.After(now) {
			continue
		}
		if best == nil || j.Priority > best.Priority ||
			(j.Priority == best.Priority && b.ord[j.ID] < b.ord[best.ID]) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = constants.JobStatusActive
	best.Attempts++
	best.HeartbeatAt = now
	return cloneJob(best), nil
}

func (b *MemoryBackend) Ack(_ context.Context, queue, jobID string, result []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[jobID]
	if !ok || j.Queue != queue {
		return ErrNoSuchJob
	}
	j.Status = constants.JobStatusCompleted
	j.Result = append([]byte(nil), result...)
	j.FinishedAt = b.now()
	return nil
}

func (b *MemoryBackend) Fail(_ context.Context, queue, jobID, reason string, retryable bool) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[jobID]
	if !ok || j.Queue != queue {
		return false, ErrNoSuchJob
	}
	j.LastError = reason
	if retryable && j.Attempts < j.MaxAttempts {
		j.Status = constants.JobStatusWaiting
		j.VisibleAt = b.now().Add(BackoffDelay(j.Attempts))
		return true, nil
	}
	j.Status = constants.JobStatusFailed
	j.FinishedAt = b.now()
	return false, nil
}

func (b *MemoryBackend) Heartbeat(_ context.Context, queue, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[jobID]
	if !ok || j.Queue != queue {
		return ErrNoSuchJob
	}
	j.HeartbeatAt = b.now()
	return nil
}

func (b *MemoryBackend) ReclaimStalled(_ context.Context, queue string, stallAfter time.Duration, maxStallRetries int) (int, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.now().Add(-stallAfter)
	var reclaimed, failed int
	for _, j := range b.jobs {
		if j.Queue != queue || j.Status != constants.JobStatusActive || j.HeartbeatAt.After(cutoff) {
			continue
		}
		j.StallCount++
		if j.StallCount > maxStallRetries {
			j.Status = constants.JobStatusFailed
			j.LastError = "stall retry cap exceeded"
			j.FinishedAt = b.now()
			failed++
			continue
		}
		// Stalled jobs are immediately claimable; the status survives
		// until redelivery so the census can count them.
		j.Status = constants.JobStatusStalled
		j.VisibleAt = b.now()
		reclaimed++
	}
	return reclaimed, failed, nil
}

func claimable(s constants.JobStatus) bool {
	return s == constants.JobStatusWaiting || s == constants.JobStatusStalled
}

func (b *MemoryBackend) PurgeFinished(_ context.Context, queue string, keepCompleted, keepFailed int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	purged := 0
	purged += b.purgeLocked(queue, constants.JobStatusCompleted, keepCompleted)
	purged += b.purgeLocked(queue, constants.JobStatusFailed, keepFailed)
	return purged, nil
}

func (b *MemoryBackend) purgeLocked(queue string, status constants.JobStatus, keep int) int {
	var finished []*Job
	for _, j := range b.jobs {
		if j.Queue == queue && j.Status == status {
			finished = append(finished, j)
		}
	}
	if len(finished) <= keep {
		return 0
	}
	sort.Slice(finished, func(i, k int) bool { return finished[i].FinishedAt.After(finished[k].FinishedAt) })
	purged := 0
	for _, j := range finished[keep:] {
		delete(b.jobs, j.ID)
		delete(b.ord, j.ID)
		purged++
	}
	return purged
}

func (b *MemoryBackend) Counts(_ context.Context, queue string) (Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var c Counts
	for _, j := range b.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.Status {
		case constants.JobStatusWaiting:
			c.Waiting++
		case constants.JobStatusActive:
			c.Active++
		case constants.JobStatusCompleted:
			c.Completed++
		case constants.JobStatusFailed:
			c.Failed++
		case constants.JobStatusStalled:
			c.Stalled++
		}
	}
	return c, nil
}

func (b *MemoryBackend) Job(_ context.Context, queue, jobID string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[jobID]
	if !ok || j.Queue != queue {
		return nil, ErrNoSuchJob
	}
	return cloneJob(j), nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }
func (b *MemoryBackend) Close() error               { return nil }
