package repository

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests.
type MemoryStore struct {
	mu          sync.RWMutex
	extractions map[string]ExtractionRecord
	validations map[string]map[string]ValidationRecord
	alerted     map[string]struct{}
	files       map[string]FileMetadata
	texts       map[string]RecognizedText
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		extractions: make(map[string]ExtractionRecord),
		validations: make(map[string]map[string]ValidationRecord),
		alerted:     make(map[string]struct{}),
		files:       make(map[string]FileMetadata),
		texts:       make(map[string]RecognizedText),
	}
}

func (s *MemoryStore) SaveExtractionResult(_ context.Context, rec ExtractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if prev, ok := s.extractions[rec.SubmissionID]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.extractions[rec.SubmissionID] = rec
	return nil
}

func (s *MemoryStore) GetExtractionResult(_ context.Context, submissionID string) (*ExtractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.extractions[submissionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) ListExtractionResults(_ context.Context, tenantID string, limit int) ([]ExtractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var out []ExtractionRecord
	for _, rec := range s.extractions {
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveValidationRecord(_ context.Context, rec ValidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byRule, ok := s.validations[rec.SubmissionID]
	if !ok {
		byRule = make(map[string]ValidationRecord)
		s.validations[rec.SubmissionID] = byRule
	}
	if prev, ok := byRule[rec.RuleID]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = time.Now()
	}
	byRule[rec.RuleID] = rec
	return nil
}

func (s *MemoryStore) ListValidationRecords(_ context.Context, submissionID string) ([]ValidationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ValidationRecord
	for _, rec := range s.validations[submissionID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) MarkAlerted(_ context.Context, submissionID, ruleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := submissionID + "/" + ruleID
	if _, ok := s.alerted[key]; ok {
		return false, nil
	}
	s.alerted[key] = struct{}{}
	return true, nil
}

func (s *MemoryStore) SaveFileMetadata(_ context.Context, meta FileMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.files[meta.SubmissionID]; ok {
		meta.CreatedAt = prev.CreatedAt
	} else {
		meta.CreatedAt = time.Now()
	}
	s.files[meta.SubmissionID] = meta
	return nil
}

// FileMetadataFor returns stored metadata for a submission. Test probe.
func (s *MemoryStore) FileMetadataFor(submissionID string) (FileMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.files[submissionID]
	return meta, ok
}

func (s *MemoryStore) SaveRecognizedText(_ context.Context, text RecognizedText) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.texts[text.SubmissionID]; ok {
		text.CreatedAt = prev.CreatedAt
	} else {
		text.CreatedAt = time.Now()
	}
	s.texts[text.SubmissionID] = text
	return nil
}

func (s *MemoryStore) GetRecognizedText(_ context.Context, submissionID string) (*RecognizedText, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.texts[submissionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &text, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
