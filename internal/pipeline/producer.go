package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tenderflow/docpipe/constants"
	"github.com/tenderflow/docpipe/internal/common"
	"github.com/tenderflow/docpipe/internal/queue"
)

// JobStatus is the producer-facing view of a job. Progress is coarse:
// attempt budget consumed while the job is live, 1 once it is terminal.
type JobStatus struct {
	JobID    string          `json:"jobId"`
	Queue    string          `json:"queue"`
	Status   string          `json:"status"`
	Progress float64         `json:"progress"`
	Attempts int             `json:"attempts"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// JobProgress maps a job onto [0,1]. Stages report no finer-grained signal,
// so the attempt budget stands in for progress on live jobs.
func JobProgress(job *queue.Job) float64 {
	switch job.Status {
	case constants.JobStatusCompleted, constants.JobStatusFailed:
		return 1
	}
	if job.MaxAttempts <= 0 {
		return 0
	}
	return float64(job.Attempts) / float64(job.MaxAttempts)
}

// Producer is the enqueue API consumed by the web/API collaborator. Every
// schedule call validates the payload against the queue's schema before the
// job is persisted.
type Producer struct {
	queues map[string]*queue.Queue
}

func NewProducer(queues map[string]*queue.Queue) *Producer {
	return &Producer{queues: queues}
}

func (p *Producer) ScheduleReceiptParse(ctx context.Context, payload ReceiptParsePayload, opts queue.Options) (string, error) {
	return p.schedule(ctx, constants.QueueReceiptParse, payload, opts)
}

func (p *Producer) ScheduleFileProcess(ctx context.Context, payload FileProcessPayload, opts queue.Options) (string, error) {
	return p.schedule(ctx, constants.QueueFileProcess, payload, opts)
}

func (p *Producer) ScheduleOcrProcess(ctx context.Context, payload OcrProcessPayload, opts queue.Options) (string, error) {
	return p.schedule(ctx, constants.QueueOCRProcess, payload, opts)
}

func (p *Producer) ScheduleRulesApplication(ctx context.Context, payload RulesApplicationPayload, opts queue.Options) (string, error) {
	return p.schedule(ctx, constants.QueueRulesApplication, payload, opts)
}

func (p *Producer) ScheduleAlertDispatch(ctx context.Context, payload AlertDispatchPayload, opts queue.Options) (string, error) {
	return p.schedule(ctx, constants.QueueAlertDispatch, payload, opts)
}

func (p *Producer) schedule(ctx context.Context, queueName string, payload any, opts queue.Options) (string, error) {
	q, ok := p.queues[queueName]
	if !ok {
		return "", fmt.Errorf("%w: %s", common.ErrUnknownQueue, queueName)
	}
	return q.Enqueue(ctx, payload, opts)
}

// GetJobStatus looks a job up by queue and id.
func (p *Producer) GetJobStatus(ctx context.Context, queueName, jobID string) (*JobStatus, error) {
	q, ok := p.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownQueue, queueName)
	}
	job, err := q.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatus{
		JobID:    job.ID,
		Queue:    job.Queue,
		Status:   string(job.Status),
		Progress: JobProgress(job),
		Attempts: job.Attempts,
		Result:   job.Result,
		Error:    job.LastError,
	}, nil
}
