package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tenderflow/docpipe/constants"
	"github.com/tenderflow/docpipe/internal/alerts"
	"github.com/tenderflow/docpipe/internal/common"
	"github.com/tenderflow/docpipe/internal/extractor"
	"github.com/tenderflow/docpipe/internal/ocr"
	"github.com/tenderflow/docpipe/internal/pipeline"
	"github.com/tenderflow/docpipe/internal/queue"
	"github.com/tenderflow/docpipe/internal/repository"
	"github.com/tenderflow/docpipe/internal/rules"
	"github.com/tenderflow/docpipe/internal/storage"
)

// stubRecognizer returns a canned recognition for any document.
type stubRecognizer struct {
	text       string
	confidence float32
}

func (r stubRecognizer) Recognize(context.Context, []byte, string, ocr.Options) (ocr.Result, error) {
	return ocr.Result{Text: r.text, Confidence: r.confidence}, nil
}

func (stubRecognizer) Available(context.Context) error { return nil }

// captureNotifier records every alert it is asked to send.
type captureNotifier struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (*captureNotifier) Channel() string { return "webhook" }

func (n *captureNotifier) Send(_ context.Context, a alerts.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *captureNotifier) sent() []alerts.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]alerts.Alert(nil), n.alerts...)
}

type fixture struct {
	pipe     *pipeline.Pipeline
	objects  *storage.MemoryStore
	repo     *repository.MemoryStore
	notifier *captureNotifier
}

func newFixture(t *testing.T, ruleSet []rules.Rule) *fixture {
	t.Helper()
	logger := slog.Default()

	registry := extractor.NewRegistry(logger)
	registry.Register(extractor.NewInvoiceExtractor())

	notifier := &captureNotifier{}
	objects := storage.NewMemoryStore()
	repo := repository.NewMemoryStore()

	cfg := &common.Config{
		Storage: common.StorageConfig{Bucket: "documents"},
		OCR:     common.OCRConfig{Languages: "eng,rus", MinConfidence: 0.35},
		Alerts: common.AlertsConfig{
			DefaultChannel:    "webhook",
			DefaultRecipients: []string{"https://hooks.example.com/ops"},
		},
		Worker: common.WorkerConfig{
			PollInterval:    5 * time.Millisecond,
			HeartbeatEvery:  50 * time.Millisecond,
			StallAfter:      time.Second,
			MaxStallRetries: 3,
			JobTimeout:      5 * time.Second,
		},
	}

	pipe, err := pipeline.New(cfg, pipeline.Deps{
		Backend:    queue.NewMemoryBackend(),
		Store:      objects,
		Recognizer: stubRecognizer{text: "INVOICE #12345, Total: 450.00 USD", confidence: 0.9},
		Registry:   registry,
		Repo:       repo,
		Dispatcher: alerts.NewDispatcher(logger, notifier),
		Rules:      ruleSet,
		Logger:     logger,
	})
	require.NoError(t, err)

	pipe.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pipe.Stop(ctx)
	})
	return &fixture{pipe: pipe, objects: objects, repo: repo, notifier: notifier}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestPipelineProcessesInvoiceEndToEnd(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, fx.objects.Put(ctx, "documents", "uploads/inv-1.pdf", []byte("%PDF-1.4 scanned"), constants.MimePDF))

	jobID, err := fx.pipe.Producer().ScheduleReceiptParse(ctx, pipeline.ReceiptParsePayload{
		SubmissionID: "sub-001",
		TenantID:     "tenant-a",
		ReceiptKey:   "uploads/inv-1.pdf",
		MimeType:     constants.MimePDF,
		Filename:     "inv-1.pdf",
	}, queue.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	waitFor(t, func() bool {
		rec, err := fx.repo.GetExtractionResult(ctx, "sub-001")
		return err == nil && rec.Confidence > 0
	}, "extraction result")

	rec, err := fx.repo.GetExtractionResult(ctx, "sub-001")
	require.NoError(t, err)
	require.Equal(t, "generic-invoice", rec.ExtractorType)
	require.Equal(t, "tenant-a", rec.TenantID)
	require.InDelta(t, 0.85, float64(rec.Confidence), 1e-6)
	require.Equal(t, "12345", rec.Data["invoiceNumber"])
	require.InDelta(t, 450.00, rec.Data["amount"].(float64), 1e-6)
	require.Equal(t, "USD", rec.Data["currency"])

	// The parse stage chains into rules-application for the same submission.
	waitFor(t, func() bool {
		counts, err := fx.pipe.Queues()[constants.QueueRulesApplication].Counts(ctx)
		return err == nil && counts.Completed == 1
	}, "rules-application completion")

	status, err := fx.pipe.Producer().GetJobStatus(ctx, constants.QueueReceiptParse, jobID)
	require.NoError(t, err)
	require.Equal(t, string(constants.JobStatusCompleted), status.Status)
	require.Equal(t, 1.0, status.Progress)
}

func TestPipelineReplayConvergesOnOneRecord(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, fx.objects.Put(ctx, "documents", "uploads/inv-2.pdf", []byte("%PDF-1.4"), constants.MimePDF))
	payload := pipeline.ReceiptParsePayload{
		SubmissionID: "sub-replay",
		TenantID:     "tenant-a",
		ReceiptKey:   "uploads/inv-2.pdf",
		MimeType:     constants.MimePDF,
	}

	for i := 0; i < 2; i++ {
		_, err := fx.pipe.Producer().ScheduleReceiptParse(ctx, payload, queue.Options{})
		require.NoError(t, err)
	}

	waitFor(t, func() bool {
		counts, err := fx.pipe.Queues()[constants.QueueReceiptParse].Counts(ctx)
		return err == nil && counts.Completed == 2
	}, "both deliveries to complete")

	results, err := fx.repo.ListExtractionResults(ctx, "tenant-a", 10)
	require.NoError(t, err)
	require.Len(t, results, 1, "redelivery must upsert, not duplicate")
	require.Equal(t, "sub-replay", results[0].SubmissionID)
}

func TestPipelineRuleMatchFansOutToAlerts(t *testing.T) {
	fx := newFixture(t, []rules.Rule{{
		ID:      "amount-review",
		Field:   "amount",
		Op:      rules.OpGt,
		Value:   100.0,
		Urgency: rules.UrgencyCritical,
		Message: "amount requires review",
		Notify:  true,
	}})
	ctx := context.Background()

	require.NoError(t, fx.objects.Put(ctx, "documents", "uploads/inv-3.pdf", []byte("%PDF-1.4"), constants.MimePDF))
	_, err := fx.pipe.Producer().ScheduleReceiptParse(ctx, pipeline.ReceiptParsePayload{
		SubmissionID: "sub-alert",
		TenantID:     "tenant-a",
		ReceiptKey:   "uploads/inv-3.pdf",
		MimeType:     constants.MimePDF,
	}, queue.Options{})
	require.NoError(t, err)

	waitFor(t, func() bool { return len(fx.notifier.sent()) == 1 }, "alert delivery")

	sent := fx.notifier.sent()[0]
	require.Equal(t, "sub-alert", sent.SubmissionID)
	require.Equal(t, rules.UrgencyCritical, sent.Urgency)
	require.Equal(t, "https://hooks.example.com/ops", sent.Recipient)
	require.Contains(t, sent.Body, "amount requires review")

	records, err := fx.repo.ListValidationRecords(ctx, "sub-alert")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "amount-review", records[0].RuleID)
}

func TestPipelineReplayDoesNotDuplicateAlerts(t *testing.T) {
	fx := newFixture(t, []rules.Rule{{
		ID:      "amount-review",
		Field:   "amount",
		Op:      rules.OpGt,
		Value:   100.0,
		Urgency: rules.UrgencyCritical,
		Message: "amount requires review",
		Notify:  true,
	}})
	ctx := context.Background()

	require.NoError(t, fx.objects.Put(ctx, "documents", "uploads/inv-4.pdf", []byte("%PDF-1.4"), constants.MimePDF))
	payload := pipeline.ReceiptParsePayload{
		SubmissionID: "sub-once",
		TenantID:     "tenant-a",
		ReceiptKey:   "uploads/inv-4.pdf",
		MimeType:     constants.MimePDF,
	}

	for i := 0; i < 2; i++ {
		_, err := fx.pipe.Producer().ScheduleReceiptParse(ctx, payload, queue.Options{})
		require.NoError(t, err)
	}

	// Both deliveries chain rules-application; only the first may fan out.
	waitFor(t, func() bool {
		counts, err := fx.pipe.Queues()[constants.QueueRulesApplication].Counts(ctx)
		return err == nil && counts.Completed == 2
	}, "both rules-application runs")
	waitFor(t, func() bool { return len(fx.notifier.sent()) >= 1 }, "first alert delivery")

	time.Sleep(50 * time.Millisecond)
	require.Len(t, fx.notifier.sent(), 1, "redelivery must not send a second alert")
}

func TestPipelineRejectsPayloadMissingRequiredField(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.pipe.Producer().ScheduleReceiptParse(ctx, pipeline.ReceiptParsePayload{
		SubmissionID: "sub-bad",
		TenantID:     "tenant-a",
		// ReceiptKey and MimeType deliberately absent.
	}, queue.Options{})
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrValidation), "got %v", err)

	counts, err := fx.pipe.Queues()[constants.QueueReceiptParse].Counts(ctx)
	require.NoError(t, err)
	require.Zero(t, counts.Waiting+counts.Active+counts.Completed)
}

func TestPipelineMissingObjectRetriesThenFails(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	// No object stored under this key: the fetch is transient, so the job
	// burns through its attempts and lands in failed.
	_, err := fx.pipe.Producer().ScheduleReceiptParse(ctx, pipeline.ReceiptParsePayload{
		SubmissionID: "sub-gone",
		TenantID:     "tenant-a",
		ReceiptKey:   "uploads/missing.pdf",
		MimeType:     constants.MimePDF,
	}, queue.Options{MaxAttempts: 1})
	require.NoError(t, err)

	waitFor(t, func() bool {
		counts, err := fx.pipe.Queues()[constants.QueueReceiptParse].Counts(ctx)
		return err == nil && counts.Failed == 1
	}, "job failure")

	_, err = fx.repo.GetExtractionResult(ctx, "sub-gone")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPipelineOcrProcessPersistsRecognizedText(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, fx.objects.Put(ctx, "documents", "uploads/scan.png", []byte("png bytes"), constants.MimePNG))
	_, err := fx.pipe.Producer().ScheduleOcrProcess(ctx, pipeline.OcrProcessPayload{
		SubmissionID: "sub-ocr",
		TenantID:     "tenant-a",
		FileKey:      "uploads/scan.png",
		MimeType:     constants.MimePNG,
	}, queue.Options{})
	require.NoError(t, err)

	waitFor(t, func() bool {
		_, err := fx.repo.GetRecognizedText(ctx, "sub-ocr")
		return err == nil
	}, "recognized text")

	text, err := fx.repo.GetRecognizedText(ctx, "sub-ocr")
	require.NoError(t, err)
	require.Equal(t, "INVOICE #12345, Total: 450.00 USD", text.Text)
	require.InDelta(t, 0.9, float64(text.Confidence), 1e-6)
}
