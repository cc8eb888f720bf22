package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("record not found")

// PGStore implements Store on a Postgres pool.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPGStore(pool *pgxpool.Pool, logger *slog.Logger) *PGStore {
	return &PGStore{pool: pool, logger: logger}
}

// Migrate creates the schema if it does not exist yet.
func (s *PGStore) Migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS extraction_results (
			submission_id     TEXT PRIMARY KEY,
			tenant_id         TEXT NOT NULL,
			extractor_type    TEXT NOT NULL,
			extractor_version TEXT NOT NULL,
			confidence        REAL NOT NULL,
			data              JSONB NOT NULL,
			source_key        TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_extraction_tenant ON extraction_results (tenant_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS validation_records (
			submission_id TEXT NOT NULL,
			rule_id       TEXT NOT NULL,
			urgency       TEXT NOT NULL,
			message       TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (submission_id, rule_id)
		)`,
		`CREATE TABLE IF NOT EXISTS alert_markers (
				submission_id TEXT NOT NULL,
				rule_id       TEXT NOT NULL,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (submission_id, rule_id)
			)`,
		`CREATE TABLE IF NOT EXISTS file_metadata (
			submission_id TEXT PRIMARY KEY,
			bucket        TEXT NOT NULL,
			object_key    TEXT NOT NULL,
			filename      TEXT NOT NULL,
			mime_type     TEXT NOT NULL,
			size_bytes    BIGINT NOT NULL,
			thumbnail_key TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS recognized_texts (
			submission_id TEXT PRIMARY KEY,
			body          TEXT NOT NULL,
			confidence    REAL NOT NULL,
			languages     TEXT[] NOT NULL DEFAULT '{}',
			warnings      TEXT[] NOT NULL DEFAULT '{}',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	s.logger.Info("database schema ready")
	return nil
}

func (s *PGStore) SaveExtractionResult(ctx context.Context, rec ExtractionRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encoding extraction data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO extraction_results
			(submission_id, tenant_id, extractor_type, extractor_version, confidence, data, source_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (submission_id) DO UPDATE SET
			extractor_type    = EXCLUDED.extractor_type,
			extractor_version = EXCLUDED.extractor_version,
			confidence        = EXCLUDED.confidence,
			data              = EXCLUDED.data,
			source_key        = EXCLUDED.source_key,
			updated_at        = now()`,
		rec.SubmissionID, rec.TenantID, rec.ExtractorType, rec.ExtractorVersion,
		rec.Confidence, data, rec.SourceKey)
	if err != nil {
		return fmt.Errorf("saving extraction result: %w", err)
	}
	return nil
}

func (s *PGStore) GetExtractionResult(ctx context.Context, submissionID string) (*ExtractionRecord, error) {
	var rec ExtractionRecord
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT submission_id, tenant_id, extractor_type, extractor_version,
		       confidence, data, source_key, created_at, updated_at
		FROM extraction_results WHERE submission_id = $1`, submissionID).
		Scan(&rec.SubmissionID, &rec.TenantID, &rec.ExtractorType, &rec.ExtractorVersion,
			&rec.Confidence, &raw, &rec.SourceKey, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading extraction result: %w", err)
	}
	if err := json.Unmarshal(raw, &rec.Data); err != nil {
		return nil, fmt.Errorf("decoding extraction data: %w", err)
	}
	return &rec, nil
}

func (s *PGStore) ListExtractionResults(ctx context.Context, tenantID string, limit int) ([]ExtractionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT submission_id, tenant_id, extractor_type, extractor_version,
		       confidence, data, source_key, created_at, updated_at
		FROM extraction_results
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing extraction results: %w", err)
	}
	defer rows.Close()

	var out []ExtractionRecord
	for rows.Next() {
		var rec ExtractionRecord
		var raw []byte
		if err := rows.Scan(&rec.SubmissionID, &rec.TenantID, &rec.ExtractorType, &rec.ExtractorVersion,
			&rec.Confidence, &raw, &rec.SourceKey, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning extraction result: %w", err)
		}
		if err := json.Unmarshal(raw, &rec.Data); err != nil {
			return nil, fmt.Errorf("decoding extraction data: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) SaveValidationRecord(ctx context.Context, rec ValidationRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO validation_records (submission_id, rule_id, urgency, message)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (submission_id, rule_id) DO UPDATE SET
			urgency = EXCLUDED.urgency,
			message = EXCLUDED.message`,
		rec.SubmissionID, rec.RuleID, rec.Urgency, rec.Message)
	if err != nil {
		return fmt.Errorf("saving validation record: %w", err)
	}
	return nil
}

func (s *PGStore) ListValidationRecords(ctx context.Context, submissionID string) ([]ValidationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT submission_id, rule_id, urgency, message, created_at
		FROM validation_records WHERE submission_id = $1
		ORDER BY created_at ASC`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("listing validation records: %w", err)
	}
	defer rows.Close()

	var out []ValidationRecord
	for rows.Next() {
		var rec ValidationRecord
		if err := rows.Scan(&rec.SubmissionID, &rec.RuleID, &rec.Urgency, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning validation record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkAlerted(ctx context.Context, submissionID, ruleID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO alert_markers (submission_id, rule_id)
		VALUES ($1, $2)
		ON CONFLICT (submission_id, rule_id) DO NOTHING`,
		submissionID, ruleID)
	if err != nil {
		return false, fmt.Errorf("marking alert: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) SaveFileMetadata(ctx context.Context, meta FileMetadata) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO file_metadata (submission_id, bucket, object_key, filename, mime_type, size_bytes, thumbnail_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (submission_id) DO UPDATE SET
			bucket        = EXCLUDED.bucket,
			object_key    = EXCLUDED.object_key,
			filename      = EXCLUDED.filename,
			mime_type     = EXCLUDED.mime_type,
			size_bytes    = EXCLUDED.size_bytes,
			thumbnail_key = EXCLUDED.thumbnail_key`,
		meta.SubmissionID, meta.Bucket, meta.Key, meta.Filename, meta.MimeType, meta.SizeBytes, meta.ThumbnailKey)
	if err != nil {
		return fmt.Errorf("saving file metadata: %w", err)
	}
	return nil
}

func (s *PGStore) SaveRecognizedText(ctx context.Context, text RecognizedText) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recognized_texts (submission_id, body, confidence, languages, warnings)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (submission_id) DO UPDATE SET
			body       = EXCLUDED.body,
			confidence = EXCLUDED.confidence,
			languages  = EXCLUDED.languages,
			warnings   = EXCLUDED.warnings`,
		text.SubmissionID, text.Text, text.Confidence, text.Languages, text.Warnings)
	if err != nil {
		return fmt.Errorf("saving recognized text: %w", err)
	}
	return nil
}

func (s *PGStore) GetRecognizedText(ctx context.Context, submissionID string) (*RecognizedText, error) {
	var text RecognizedText
	err := s.pool.QueryRow(ctx, `
		SELECT submission_id, body, confidence, languages, warnings, created_at
		FROM recognized_texts WHERE submission_id = $1`, submissionID).
		Scan(&text.SubmissionID, &text.Text, &text.Confidence, &text.Languages, &text.Warnings, &text.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading recognized text: %w", err)
	}
	return &text, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
