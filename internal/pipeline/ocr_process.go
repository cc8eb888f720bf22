package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tenderflow/docpipe/constants"
	"github.com/tenderflow/docpipe/internal/common"
	"github.com/tenderflow/docpipe/internal/ocr"
	"github.com/tenderflow/docpipe/internal/queue"
	"github.com/tenderflow/docpipe/internal/repository"
	"github.com/tenderflow/docpipe/internal/worker"
)

// OcrProcess runs standalone recognition with preprocessing options. A
// result below the confidence floor is flagged low-confidence, never
// failed; empty text is a valid recognition.
func (s *Stages) OcrProcess(ctx context.Context, job *queue.Job) worker.Outcome {
	var payload OcrProcessPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return worker.FatalFailure(common.Fatal(fmt.Errorf("decoding payload: %w", err)))
	}

	mimeType := constants.NormalizeMime(payload.MimeType)
	if !constants.IsOCRable(mimeType) {
		return worker.FatalFailure(common.Fatal(fmt.Errorf("mime type not recognizable: %s", payload.MimeType)))
	}

	bucket := s.bucketOr(payload.Bucket)
	data, err := s.store.Get(ctx, bucket, payload.FileKey)
	if err != nil {
		return worker.RetryableFailure(common.Transient(fmt.Errorf("fetching %s/%s: %w", bucket, payload.FileKey, err)))
	}

	opts := ocr.Options{
		Languages:   s.languagesOr(payload.Languages),
		Denoise:     payload.Denoise,
		Contrast:    payload.Contrast,
		ResizeWidth: payload.ResizeWidth,
	}
	rec, err := s.recognizer.Recognize(ctx, data, mimeType, opts)
	if err != nil {
		return worker.RetryableFailure(common.Transient(fmt.Errorf("recognizing text: %w", err)))
	}

	lowConfidence := rec.Confidence < s.minOCRConfidence
	warnings := rec.Warnings
	if lowConfidence {
		warnings = append(warnings, fmt.Sprintf("confidence %.2f below floor %.2f", rec.Confidence, s.minOCRConfidence))
	}

	if err := s.repo.SaveRecognizedText(ctx, repository.RecognizedText{
		SubmissionID: payload.SubmissionID,
		Text:         rec.Text,
		Confidence:   rec.Confidence,
		Languages:    opts.Languages,
		Warnings:     warnings,
	}); err != nil {
		return worker.RetryableFailure(common.Transient(fmt.Errorf("persisting recognized text: %w", err)))
	}

	return worker.Completed(map[string]any{
		"submissionId":  payload.SubmissionID,
		"chars":         len(rec.Text),
		"confidence":    rec.Confidence,
		"lowConfidence": lowConfidence,
	})
}
