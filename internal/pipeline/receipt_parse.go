package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/tenderflow/docpipe/constants"
	"github.com/tenderflow/docpipe/internal/common"
	"github.com/tenderflow/docpipe/internal/extractor"
	"github.com/tenderflow/docpipe/internal/ocr"
	"github.com/tenderflow/docpipe/internal/queue"
	"github.com/tenderflow/docpipe/internal/repository"
	"github.com/tenderflow/docpipe/internal/worker"
)

// ReceiptParse is the main extraction path: fetch bytes, recognize text when
// the format needs it, run the extractor registry, persist the result and
// chain a rules-application job for the same submission. Every write is an
// upsert keyed on the submission id, so redelivery converges on one row.
func (s *Stages) ReceiptParse(ctx context.Context, job *queue.Job) worker.Outcome {
	var payload ReceiptParsePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return worker.FatalFailure(common.Fatal(fmt.Errorf("decoding payload: %w", err)))
	}

	mimeType := constants.NormalizeMime(payload.MimeType)
	if constants.MapMimeToFormat(mimeType) == "" {
		return worker.FatalFailure(common.Fatal(fmt.Errorf("unsupported mime type: %s", payload.MimeType)))
	}

	bucket := s.bucketOr(payload.Bucket)
	data, err := s.store.Get(ctx, bucket, payload.ReceiptKey)
	if err != nil {
		return worker.RetryableFailure(common.Transient(fmt.Errorf("fetching %s/%s: %w", bucket, payload.ReceiptKey, err)))
	}

	doc := extractor.Context{
		Raw:      data,
		MimeType: mimeType,
		Filename: payload.Filename,
	}

	switch {
	case constants.IsOCRable(mimeType):
		langs := s.languagesOr(payload.Languages)
		rec, err := s.recognizer.Recognize(ctx, data, mimeType, ocr.Options{Languages: langs})
		if err != nil {
			return worker.RetryableFailure(common.Transient(fmt.Errorf("recognizing text: %w", err)))
		}
		doc.Text = rec.Text
		if len(langs) > 0 {
			doc.Language = langs[0]
		}
	case mimeType == constants.MimeEmail:
		doc.Text, doc.Headers = parseEmail(data)
	default:
		doc.Text = string(data)
	}

	res := s.registry.SelectAndExtract(doc)
	if !res.Success {
		s.logger.Info("no extractor claimed document",
			"submission_id", payload.SubmissionID, "mime_type", mimeType)
	}

	rec := repository.ExtractionRecord{
		SubmissionID:     payload.SubmissionID,
		TenantID:         payload.TenantID,
		ExtractorType:    res.ExtractorType,
		ExtractorVersion: res.ExtractorVersion,
		Confidence:       res.Confidence,
		Data:             res.Data,
		SourceKey:        payload.ReceiptKey,
	}
	if err := s.repo.SaveExtractionResult(ctx, rec); err != nil {
		return worker.RetryableFailure(common.Transient(fmt.Errorf("persisting extraction result: %w", err)))
	}

	if _, err := s.producer.ScheduleRulesApplication(ctx, RulesApplicationPayload{
		SubmissionID: payload.SubmissionID,
		TenantID:     payload.TenantID,
		Data:         res.Data,
	}, queue.Options{}); err != nil {
		// Redelivery re-runs the upsert and retries the chain.
		return worker.RetryableFailure(common.Transient(fmt.Errorf("chaining rules-application: %w", err)))
	}

	return worker.Completed(map[string]any{
		"submissionId": payload.SubmissionID,
		"extractor":    res.ExtractorType,
		"confidence":   res.Confidence,
		"claimed":      res.Success,
	})
}

// parseEmail splits an RFC 822 message into body text and header hints for
// the portal-email extractor. A malformed message degrades to raw text.
func parseEmail(data []byte) (string, map[string]string) {
	msg, err := mail.ReadMessage(strings.NewReader(string(data)))
	if err != nil {
		return string(data), nil
	}
	headers := map[string]string{}
	for _, key := range []string{"From", "To", "Subject", "Date"} {
		if v := msg.Header.Get(key); v != "" {
			headers[key] = v
		}
	}
	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return string(data), headers
	}
	return string(body), headers
}
