package repository

import (
	"context"
	"time"
)

// ExtractionRecord is the persisted result of a document extraction.
type ExtractionRecord struct {
	SubmissionID     string
	TenantID         string
	ExtractorType    string
	ExtractorVersion string
	Confidence       float32
	Data             map[string]any
	SourceKey        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ValidationRecord is a single rule match recorded against a submission.
type ValidationRecord struct {
	SubmissionID string
	RuleID       string
	Urgency      string
	Message      string
	CreatedAt    time.Time
}

// FileMetadata describes a stored source document and its derived artifacts.
type FileMetadata struct {
	SubmissionID string
	Bucket       string
	Key          string
	Filename     string
	MimeType     string
	SizeBytes    int64
	ThumbnailKey string
	CreatedAt    time.Time
}

// RecognizedText holds OCR output for a submission.
type RecognizedText struct {
	SubmissionID string
	Text         string
	Confidence   float32
	Languages    []string
	Warnings     []string
	CreatedAt    time.Time
}

// Store persists pipeline artifacts. Saves are idempotent upserts keyed on
// submission id so replayed jobs converge on the same rows.
type Store interface {
	SaveExtractionResult(ctx context.Context, rec ExtractionRecord) error
	GetExtractionResult(ctx context.Context, submissionID string) (*ExtractionRecord, error)
	ListExtractionResults(ctx context.Context, tenantID string, limit int) ([]ExtractionRecord, error)
	SaveValidationRecord(ctx context.Context, rec ValidationRecord) error
	ListValidationRecords(ctx context.Context, submissionID string) ([]ValidationRecord, error)
	// MarkAlerted records that an alert went out for a rule match. It
	// returns true only the first time the (submission, rule) pair is
	// marked, so a replayed job can tell a fresh match from one it has
	// already fanned out.
	MarkAlerted(ctx context.Context, submissionID, ruleID string) (bool, error)
	SaveFileMetadata(ctx context.Context, meta FileMetadata) error
	SaveRecognizedText(ctx context.Context, text RecognizedText) error
	GetRecognizedText(ctx context.Context, submissionID string) (*RecognizedText, error)
	Ping(ctx context.Context) error
}
