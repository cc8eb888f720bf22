package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tenderflow/docpipe/internal/common"
	"github.com/tenderflow/docpipe/internal/queue"
	"github.com/tenderflow/docpipe/internal/repository"
	"github.com/tenderflow/docpipe/internal/rules"
	"github.com/tenderflow/docpipe/internal/worker"
)

// RulesApplication evaluates the rule set over extracted data, persists one
// validation record per match and fans notifiable matches out to
// alert-dispatch. Payloads without inline data fall back to the persisted
// extraction result for the submission.
func (s *Stages) RulesApplication(ctx context.Context, job *queue.Job) worker.Outcome {
	var payload RulesApplicationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return worker.FatalFailure(common.Fatal(fmt.Errorf("decoding payload: %w", err)))
	}

	data := payload.Data
	if len(data) == 0 {
		rec, err := s.repo.GetExtractionResult(ctx, payload.SubmissionID)
		if errors.Is(err, repository.ErrNotFound) {
			return worker.FatalFailure(common.Fatal(fmt.Errorf("no extraction result for submission %s", payload.SubmissionID)))
		}
		if err != nil {
			return worker.RetryableFailure(common.Transient(fmt.Errorf("loading extraction result: %w", err)))
		}
		data = rec.Data
	}

	matches := s.engine.Apply(data)
	for _, m := range matches {
		if err := s.repo.SaveValidationRecord(ctx, repository.ValidationRecord{
			SubmissionID: payload.SubmissionID,
			RuleID:       m.RuleID,
			Urgency:      m.Urgency,
			Message:      m.Message,
		}); err != nil {
			return worker.RetryableFailure(common.Transient(fmt.Errorf("persisting validation record: %w", err)))
		}
	}

	notifiable := rules.NotifiableMatches(matches, payload.UrgencyLevels)
	alerted := false
	if len(notifiable) > 0 && len(s.alertRecipients) > 0 {
		// Redelivered jobs re-evaluate the same matches; the marker keeps
		// each (submission, rule) pair from fanning out twice.
		fresh := make([]rules.Match, 0, len(notifiable))
		for _, m := range notifiable {
			first, err := s.repo.MarkAlerted(ctx, payload.SubmissionID, m.RuleID)
			if err != nil {
				return worker.RetryableFailure(common.Transient(fmt.Errorf("marking alert for rule %s: %w", m.RuleID, err)))
			}
			if first {
				fresh = append(fresh, m)
			}
		}
		if len(fresh) > 0 {
			if _, err := s.producer.ScheduleAlertDispatch(ctx, AlertDispatchPayload{
				SubmissionID: payload.SubmissionID,
				TenantID:     payload.TenantID,
				Channel:      s.alertChannel,
				Recipients:   s.alertRecipients,
				Urgency:      highestUrgency(fresh),
				Subject:      fmt.Sprintf("Document %s needs attention", payload.SubmissionID),
				Body:         renderAlertBody(payload.SubmissionID, fresh),
			}, queue.Options{}); err != nil {
				return worker.RetryableFailure(common.Transient(fmt.Errorf("chaining alert-dispatch: %w", err)))
			}
			alerted = true
		}
	}

	return worker.Completed(map[string]any{
		"submissionId": payload.SubmissionID,
		"matches":      len(matches),
		"alerted":      alerted,
	})
}

var urgencyRank = map[string]int{
	rules.UrgencyInfo:     1,
	rules.UrgencyWarning:  2,
	rules.UrgencyCritical: 3,
}

func highestUrgency(matches []rules.Match) string {
	top := rules.UrgencyInfo
	for _, m := range matches {
		if urgencyRank[m.Urgency] > urgencyRank[top] {
			top = m.Urgency
		}
	}
	return top
}

func renderAlertBody(submissionID string, matches []rules.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Submission %s triggered %d rule(s):\n", submissionID, len(matches))
	for _, m := range matches {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", m.Urgency, m.RuleID, m.Message)
	}
	return b.String()
}
