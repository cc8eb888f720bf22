package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tenderflow/docpipe/constants"
	"github.com/tenderflow/docpipe/internal/alerts"
	"github.com/tenderflow/docpipe/internal/common"
	"github.com/tenderflow/docpipe/internal/extractor"
	"github.com/tenderflow/docpipe/internal/ocr"
	"github.com/tenderflow/docpipe/internal/queue"
	"github.com/tenderflow/docpipe/internal/repository"
	"github.com/tenderflow/docpipe/internal/rules"
	"github.com/tenderflow/docpipe/internal/storage"
	"github.com/tenderflow/docpipe/internal/worker"
)

// Deps are the capabilities the pipeline runs against. The queue backend,
// datastore, object store and OCR engine are owned by the caller; the
// pipeline owns the queues, producer, stage functions and worker pools.
type Deps struct {
	Backend    queue.Backend
	Store      storage.ObjectStore
	Recognizer ocr.Recognizer
	Registry   *extractor.Registry
	Repo       repository.Store
	Dispatcher *alerts.Dispatcher
	Rules      []rules.Rule
	Logger     *slog.Logger
	// Observer receives worker events (completions, failures, stalls)
	// for the metrics surface. Optional.
	Observer worker.Observer
}

// Pipeline is the process-wide orchestration context: five queues, five
// pools, one producer. Construct with New, run with Start, drain with Stop.
type Pipeline struct {
	backend  queue.Backend
	queues   map[string]*queue.Queue
	pools    []*worker.Pool
	stages   map[string]worker.StageFunc
	producer *Producer
	logger   *slog.Logger
	started  bool
}

func New(cfg *common.Config, deps Deps) (*Pipeline, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	schemas := Schemas()
	queues := make(map[string]*queue.Queue, len(schemas))
	for _, name := range constants.QueueNames {
		q, err := queue.NewQueue(name, deps.Backend, schemas[name], logger)
		if err != nil {
			return nil, fmt.Errorf("building queue %s: %w", name, err)
		}
		queues[name] = q
	}
	producer := NewProducer(queues)

	ruleSet := deps.Rules
	if ruleSet == nil {
		ruleSet = rules.DefaultRules()
	}
	stages := NewStages(StageDeps{
		Store:            deps.Store,
		Recognizer:       deps.Recognizer,
		Registry:         deps.Registry,
		Repo:             deps.Repo,
		Engine:           rules.NewEngine(ruleSet, logger),
		Dispatcher:       deps.Dispatcher,
		Producer:         producer,
		Logger:           logger,
		DefaultBucket:    cfg.Storage.Bucket,
		DefaultLanguages: splitLanguages(cfg.OCR.Languages),
		MinOCRConfidence: float32(cfg.OCR.MinConfidence),
		AlertChannel:     cfg.Alerts.DefaultChannel,
		AlertRecipients:  cfg.Alerts.DefaultRecipients,
	})

	stageFuncs := map[string]worker.StageFunc{
		constants.QueueReceiptParse:     stages.ReceiptParse,
		constants.QueueFileProcess:      stages.FileProcess,
		constants.QueueOCRProcess:       stages.OcrProcess,
		constants.QueueRulesApplication: stages.RulesApplication,
		constants.QueueAlertDispatch:    stages.AlertDispatch,
	}

	pools := make([]*worker.Pool, 0, len(stageFuncs))
	for _, name := range constants.QueueNames {
		concurrency := cfg.Worker.Concurrency[name]
		if concurrency <= 0 {
			concurrency = constants.DefaultConcurrency[name]
		}
		pool := worker.NewPool(name, deps.Backend, logger,
			worker.WithConcurrency(concurrency),
			worker.WithPollInterval(cfg.Worker.PollInterval),
			worker.WithHeartbeatEvery(cfg.Worker.HeartbeatEvery),
			worker.WithStallPolicy(cfg.Worker.StallAfter, cfg.Worker.MaxStallRetries),
			worker.WithJobTimeout(cfg.Worker.JobTimeout),
			worker.WithRetention(constants.KeepCompleted, constants.KeepFailed),
			worker.WithObserver(deps.Observer),
		)
		pools = append(pools, pool)
	}

	return &Pipeline{
		backend:  deps.Backend,
		queues:   queues,
		pools:    pools,
		stages:   stageFuncs,
		producer: producer,
		logger:   logger,
	}, nil
}

// Producer returns the enqueue API for the web/API collaborator.
func (p *Pipeline) Producer() *Producer { return p.producer }

// Queues exposes the queue table for the health surface.
func (p *Pipeline) Queues() map[string]*queue.Queue { return p.queues }

// Pools exposes the worker pools for liveness probes.
func (p *Pipeline) Pools() []*worker.Pool { return p.pools }

// Start launches every worker pool. Idempotent per process lifecycle.
func (p *Pipeline) Start() {
	if p.started {
		return
	}
	p.started = true
	for _, pool := range p.pools {
		pool.Start(p.stages[pool.Queue()])
	}
	p.logger.Info("pipeline started", "queues", len(p.queues))
}

// Stop drains every pool, then releases the queue backend.
func (p *Pipeline) Stop(ctx context.Context) {
	for _, pool := range p.pools {
		pool.Stop(ctx)
	}
	if err := p.backend.Close(); err != nil {
		p.logger.Error("failed to close queue backend", "error", err)
	}
	p.logger.Info("pipeline stopped")
}

func splitLanguages(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
