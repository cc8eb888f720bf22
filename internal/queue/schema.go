package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tenderflow/docpipe/internal/common"
)

// Queue binds a name, a backend and a payload schema. Enqueue validates the
// payload before it ever reaches the backend: bad payloads are rejected
// fast, never persisted.
type Queue struct {
	name    string
	backend Backend
	schema  *jsonschema.Schema
	logger  *slog.Logger
}

// NewQueue compiles schemaDoc (a JSON-Schema document as a generic map, the
// same shape the extraction schemas use) and returns the named queue.
func NewQueue(name string, backend Backend, schemaDoc map[string]any, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", name, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return &Queue{name: name, backend: backend, schema: s, logger: logger}, nil
}

func (q *Queue) Name() string { return q.name }

// Enqueue marshals payload, validates it against the queue schema and hands
// it to the backend. Returns the opaque job id.
func (q *Queue) Enqueue(ctx context.Context, payload any, opts Options) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", common.NewAppError("ENQUEUE_MARSHAL", "payload not serializable", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", common.NewAppError("ENQUEUE_MARSHAL", "payload not valid JSON", err)
	}
	if err := q.schema.Validate(doc); err != nil {
		q.logger.Warn("payload rejected at enqueue", "queue", q.name, "err", err)
		return "", fmt.Errorf("%w: %s: %v", common.ErrValidation, q.name, err)
	}
	id, err := q.backend.Enqueue(ctx, q.name, raw, opts)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", q.name, err)
	}
	q.logger.Info("job enqueued", "queue", q.name, "job_id", id, "priority", opts.Priority)
	return id, nil
}

// Job returns the current state of a job on this queue.
func (q *Queue) Job(ctx context.Context, jobID string) (*Job, error) {
	return q.backend.Job(ctx, q.name, jobID)
}

// Counts reports the queue census.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	return q.backend.Counts(ctx, q.name)
}
