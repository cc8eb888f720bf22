package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tenderflow/docpipe/constants"
)

// ErrNoSuchJob is returned for operations against an unknown job id.
var ErrNoSuchJob = errors.New("no such job")

// Job is one unit of work on one queue. At-least-once delivery: a job may
// be handed to a worker more than once, so stage functions must be
// idempotent with respect to their payload.
type Job struct {
	ID          string
	Queue       string
	Payload     json.RawMessage
	Status      constants.JobStatus
	Attempts    int
	MaxAttempts int
	Priority    int
	StallCount  int
	LastError   string
	Result      json.RawMessage
	EnqueuedAt  time.Time
	VisibleAt   time.Time // delay / backoff gate; waiting jobs are invisible until this passes
	HeartbeatAt time.Time
	FinishedAt  time.Time
}

// Options tune a single enqueue call.
type Options struct {
	Priority    int
	Delay       time.Duration
	MaxAttempts int
}

// Counts is a point-in-time census of one queue.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Stalled   int `json:"stalled"`
}

// Backend is a durable at-least-once store for jobs. Implementations:
// sqlite (default), redis, memory (tests and dev).
//
// Dequeue is non-blocking and returns (nil, nil) when no job is ready;
// callers poll. A claimed job must be heartbeated until it is acked or
// failed, or the stall reaper will hand it to another worker.
type Backend interface {
	Enqueue(ctx context.Context, queue string, payload []byte, opts Options) (string, error)
	Dequeue(ctx context.Context, queue string) (*Job, error)
	Ack(ctx context.Context, queue, jobID string, result []byte) error
	// Fail records an attempt failure. With retryable=true and attempts
	// remaining the job is requeued with exponential backoff and Fail
	// returns true; otherwise the job is failed terminally and Fail
	// returns false.
	Fail(ctx context.Context, queue, jobID, reason string, retryable bool) (requeued bool, err error)
	Heartbeat(ctx context.Context, queue, jobID string) error
	// ReclaimStalled requeues active jobs whose heartbeat is older than
	// stallAfter. Jobs already stalled maxStallRetries times are failed
	// instead, so a permanently broken stage cannot loop forever.
	ReclaimStalled(ctx context.Context, queue string, stallAfter time.Duration, maxStallRetries int) (reclaimed, failed int, err error)
	// PurgeFinished trims completed/failed history beyond the retention caps.
	PurgeFinished(ctx context.Context, queue string, keepCompleted, keepFailed int) (purged int, err error)
	Counts(ctx context.Context, queue string) (Counts, error)
	Job(ctx context.Context, queue, jobID string) (*Job, error)
	Ping(ctx context.Context) error
	Close() error
}

const (
	backoffBase = 2 * time.Second
	backoffCap  = 5 * time.Minute

	defaultMaxAttempts = 3
)

// BackoffDelay returns the requeue delay after the given (1-based) failed
// attempt: base * 2^(attempt-1), capped.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

func cloneJob(j *Job) *Job {
	cp := *j
	cp.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.Result != nil {
		cp.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &cp
}
