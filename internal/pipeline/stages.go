package pipeline

import (
	"log/slog"

	"github.com/tenderflow/docpipe/internal/alerts"
	"github.com/tenderflow/docpipe/internal/extractor"
	"github.com/tenderflow/docpipe/internal/ocr"
	"github.com/tenderflow/docpipe/internal/repository"
	"github.com/tenderflow/docpipe/internal/rules"
	"github.com/tenderflow/docpipe/internal/storage"
)

// Stages bundles the external capabilities the five stage functions run
// against. Each stage is a pure function of its payload plus these
// capabilities; the worker pool owns all queue-level state transitions.
type Stages struct {
	store      storage.ObjectStore
	recognizer ocr.Recognizer
	registry   *extractor.Registry
	repo       repository.Store
	engine     *rules.Engine
	dispatcher *alerts.Dispatcher
	producer   *Producer
	logger     *slog.Logger

	defaultBucket     string
	defaultLanguages  []string
	minOCRConfidence  float32
	alertChannel      string
	alertRecipients   []string
	defaultThumbWidth int
}

// StageDeps are the constructor inputs for Stages.
type StageDeps struct {
	Store      storage.ObjectStore
	Recognizer ocr.Recognizer
	Registry   *extractor.Registry
	Repo       repository.Store
	Engine     *rules.Engine
	Dispatcher *alerts.Dispatcher
	Producer   *Producer
	Logger     *slog.Logger

	DefaultBucket    string
	DefaultLanguages []string
	MinOCRConfidence float32
	AlertChannel     string
	AlertRecipients  []string
}

func NewStages(deps StageDeps) *Stages {
	s := &Stages{
		store:             deps.Store,
		recognizer:        deps.Recognizer,
		registry:          deps.Registry,
		repo:              deps.Repo,
		engine:            deps.Engine,
		dispatcher:        deps.Dispatcher,
		producer:          deps.Producer,
		logger:            deps.Logger,
		defaultBucket:     deps.DefaultBucket,
		defaultLanguages:  deps.DefaultLanguages,
		minOCRConfidence:  deps.MinOCRConfidence,
		alertChannel:      deps.AlertChannel,
		alertRecipients:   deps.AlertRecipients,
		defaultThumbWidth: 320,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.alertChannel == "" {
		s.alertChannel = "email"
	}
	return s
}

func (s *Stages) bucketOr(bucket string) string {
	if bucket != "" {
		return bucket
	}
	return s.defaultBucket
}

func (s *Stages) languagesOr(langs []string) []string {
	if len(langs) > 0 {
		return langs
	}
	return s.defaultLanguages
}
