package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tenderflow/docpipe/internal/alerts"
	"github.com/tenderflow/docpipe/internal/common"
	"github.com/tenderflow/docpipe/internal/queue"
	"github.com/tenderflow/docpipe/internal/worker"
)

// AlertDispatch sends the notification to every recipient. Failure is
// reported per recipient; the job only retries when no recipient at all
// could be reached.
func (s *Stages) AlertDispatch(ctx context.Context, job *queue.Job) worker.Outcome {
	var payload AlertDispatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return worker.FatalFailure(common.Fatal(fmt.Errorf("decoding payload: %w", err)))
	}

	alert := alerts.Alert{
		SubmissionID: payload.SubmissionID,
		TenantID:     payload.TenantID,
		Urgency:      payload.Urgency,
		Subject:      payload.Subject,
		Body:         payload.Body,
	}
	results := s.dispatcher.Dispatch(ctx, payload.Channel, payload.Recipients, alert)

	delivered := 0
	for _, r := range results {
		if r.Delivered {
			delivered++
		}
	}
	if delivered == 0 && len(results) > 0 {
		return worker.RetryableFailure(common.Transient(fmt.Errorf("no recipient reachable on %s (%d attempted)", payload.Channel, len(results))))
	}

	return worker.Completed(map[string]any{
		"submissionId": payload.SubmissionID,
		"channel":      payload.Channel,
		"delivered":    delivered,
		"recipients":   len(results),
		"results":      results,
	})
}
