package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tenderflow/docpipe/constants"
	"github.com/tenderflow/docpipe/internal/queue"
)

// StageFunc executes one job and reports the outcome. It must be idempotent
// with respect to the payload: at-least-once delivery means it can run more
// than once for the same job.
type StageFunc func(ctx context.Context, job *queue.Job) Outcome

// EventType names a pool lifecycle event.
type EventType string

const (
	EventCompleted   EventType = "completed"
	EventFailed      EventType = "failed"
	EventStalled     EventType = "stalled"
	EventWorkerError EventType = "workerError"
)

// Event carries one lifecycle transition to observers.
type Event struct {
	Type    EventType
	Queue   string
	JobID   string
	Attempt int
	Err     error
}

// Observer consumes pool events. Observer panics are isolated; they never
// propagate back into the pool.
type Observer func(Event)

// Pool pulls jobs from one queue and runs them through one stage function
// under a fixed concurrency cap. It owns heartbeating, the stall reaper and
// the retention purge for its queue.
type Pool struct {
	queueName string
	backend   queue.Backend
	logger    *slog.Logger

	concurrency     int
	pollInterval    time.Duration
	heartbeatEvery  time.Duration
	stallAfter      time.Duration
	maxStallRetries int
	jobTimeout      time.Duration
	keepCompleted   int
	keepFailed      int

	observers []Observer
	active    atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu      sync.Mutex
	started bool
}

type Option func(*Pool)

func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

func WithHeartbeatEvery(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.heartbeatEvery = d
		}
	}
}

func WithStallPolicy(stallAfter time.Duration, maxStallRetries int) Option {
	return func(p *Pool) {
		if stallAfter > 0 {
			p.stallAfter = stallAfter
		}
		if maxStallRetries > 0 {
			p.maxStallRetries = maxStallRetries
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

func WithRetention(keepCompleted, keepFailed int) Option {
	return func(p *Pool) {
		if keepCompleted > 0 {
			p.keepCompleted = keepCompleted
		}
		if keepFailed > 0 {
			p.keepFailed = keepFailed
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(p *Pool) {
		if obs != nil {
			p.observers = append(p.observers, obs)
		}
	}
}

func NewPool(queueName string, backend queue.Backend, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queueName:       queueName,
		backend:         backend,
		logger:          logger,
		concurrency:     4,
		pollInterval:    250 * time.Millisecond,
		heartbeatEvery:  5 * time.Second,
		stallAfter:      30 * time.Second,
		maxStallRetries: 3,
		jobTimeout:      3 * time.Minute,
		keepCompleted:   constants.KeepCompleted,
		keepFailed:      constants.KeepFailed,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Active returns the number of jobs currently executing. Probe for tests
// and the health monitor.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

func (p *Pool) Queue() string { return p.queueName }

// Start launches the worker goroutines and the stall/retention reaper.
func (p *Pool) Start(stage StageFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.logger.Info("worker started", "queue", p.queueName, "worker_id", workerID)
			p.workerLoop(ctx, workerID, stage)
			p.logger.Info("worker stopped", "queue", p.queueName, "worker_id", workerID)
		}(i + 1)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reaperLoop(ctx)
	}()
}

// Stop drains in-flight jobs, then returns. Jobs still waiting remain in
// the backend and resume on next start.
func (p *Pool) Stop(ctx context.Context) {
	p.once.Do(func() {
		p.mu.Lock()
		if !p.started {
			p.mu.Unlock()
			return
		}
		p.cancel()
		p.mu.Unlock()

		done := make(chan struct{})
		go func() { defer close(done); p.wg.Wait() }()

		select {
		case <-ctx.Done():
			p.logger.Warn("pool shutdown interrupted by context", "queue", p.queueName)
		case <-done:
			p.logger.Info("pool drained", "queue", p.queueName)
		}
	})
}

func (p *Pool) workerLoop(ctx context.Context, workerID int, stage StageFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.backend.Dequeue(ctx, p.queueName)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", "queue", p.queueName, "worker_id", workerID, "err", err)
			p.notify(Event{Type: EventWorkerError, Queue: p.queueName, Err: err})
			p.sleep(ctx, p.pollInterval*4)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.pollInterval)
			continue
		}
		p.execute(ctx, workerID, stage, job)
	}
}

func (p *Pool) execute(ctx context.Context, workerID int, stage StageFunc, job *queue.Job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	// The stage context is detached from pool cancellation: Stop drains
	// in-flight jobs rather than aborting them mid-run. Only the job
	// timeout bounds an executing stage.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.jobTimeout)
	defer cancel()

	// Heartbeat while the stage runs so the reaper leaves this job alone.
	hbDone := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.heartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-hbDone:
				return
			case <-t.C:
				if err := p.backend.Heartbeat(context.Background(), p.queueName, job.ID); err != nil {
					p.logger.Warn("heartbeat failed", "queue", p.queueName, "job_id", job.ID, "err", err)
				}
			}
		}
	}()

	outcome := p.runStage(jobCtx, stage, job)
	close(hbDone)

	switch outcome.Kind {
	case OutcomeCompleted:
		var result []byte
		if outcome.Result != nil {
			if b, err := json.Marshal(outcome.Result); err == nil {
				result = b
			}
		}
		if err := p.backend.Ack(context.Background(), p.queueName, job.ID, result); err != nil {
			p.logger.Error("ack failed", "queue", p.queueName, "job_id", job.ID, "err", err)
			p.notify(Event{Type: EventWorkerError, Queue: p.queueName, JobID: job.ID, Err: err})
			return
		}
		p.logger.Info("job completed", "queue", p.queueName, "job_id", job.ID, "worker_id", workerID, "attempt", job.Attempts)
		p.notify(Event{Type: EventCompleted, Queue: p.queueName, JobID: job.ID, Attempt: job.Attempts})

	case OutcomeRetry:
		reason := "retryable failure"
		if outcome.Err != nil {
			reason = outcome.Err.Error()
		}
		requeued, err := p.backend.Fail(context.Background(), p.queueName, job.ID, reason, true)
		if err != nil {
			p.logger.Error("fail(retryable) failed", "queue", p.queueName, "job_id", job.ID, "err", err)
			p.notify(Event{Type: EventWorkerError, Queue: p.queueName, JobID: job.ID, Err: err})
			return
		}
		if requeued {
			p.logger.Warn("job requeued with backoff",
				"queue", p.queueName, "job_id", job.ID, "attempt", job.Attempts,
				"max_attempts", job.MaxAttempts, "err", outcome.Err)
			return
		}
		p.logger.Error("job failed, attempts exhausted",
			"queue", p.queueName, "job_id", job.ID, "attempt", job.Attempts, "err", outcome.Err)
		p.notify(Event{Type: EventFailed, Queue: p.queueName, JobID: job.ID, Attempt: job.Attempts, Err: outcome.Err})

	case OutcomeFatal:
		reason := "fatal failure"
		if outcome.Err != nil {
			reason = outcome.Err.Error()
		}
		if _, err := p.backend.Fail(context.Background(), p.queueName, job.ID, reason, false); err != nil {
			p.logger.Error("fail(fatal) failed", "queue", p.queueName, "job_id", job.ID, "err", err)
			p.notify(Event{Type: EventWorkerError, Queue: p.queueName, JobID: job.ID, Err: err})
			return
		}
		p.logger.Error("job failed fatally", "queue", p.queueName, "job_id", job.ID, "err", outcome.Err)
		p.notify(Event{Type: EventFailed, Queue: p.queueName, JobID: job.ID, Attempt: job.Attempts, Err: outcome.Err})
	}
}

// runStage isolates stage panics: a panicking stage counts as a retryable
// failure and is reported as a workerError, not a pool crash.
func (p *Pool) runStage(ctx context.Context, stage StageFunc, job *queue.Job) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("stage panic: %v", r)
			p.logger.Error("stage panicked", "queue", p.queueName, "job_id", job.ID, "panic", r)
			p.notify(Event{Type: EventWorkerError, Queue: p.queueName, JobID: job.ID, Err: err})
			out = RetryableFailure(err)
		}
	}()
	return stage(ctx, job)
}

func (p *Pool) reaperLoop(ctx context.Context) {
	interval := p.stallAfter / 2
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			reclaimed, failed, err := p.backend.ReclaimStalled(context.Background(), p.queueName, p.stallAfter, p.maxStallRetries)
			if err != nil {
				p.logger.Error("stall reclaim failed", "queue", p.queueName, "err", err)
				continue
			}
			if reclaimed > 0 || failed > 0 {
				p.logger.Warn("stalled jobs handled", "queue", p.queueName, "reclaimed", reclaimed, "failed", failed)
				p.notify(Event{Type: EventStalled, Queue: p.queueName, Attempt: reclaimed + failed})
			}
			if _, err := p.backend.PurgeFinished(context.Background(), p.queueName, p.keepCompleted, p.keepFailed); err != nil {
				p.logger.Warn("retention purge failed", "queue", p.queueName, "err", err)
			}
		}
	}
}

func (p *Pool) notify(ev Event) {
	for _, obs := range p.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("observer panicked", "queue", p.queueName, "event", string(ev.Type), "panic", r)
				}
			}()
			obs(ev)
		}()
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
