package extractor

import (
	"time"

	"github.com/tenderflow/docpipe/constants"
)

// Context is the input to one extraction attempt. Immutable: extractors
// must treat it as read-only and keep no state across calls.
type Context struct {
	Text     string // recognized OCR text, may be empty
	Raw      []byte
	MimeType string
	Filename string
	Headers  map[string]string // email headers when the source is a message
	Language string
}

// Result is the output of one extractor invocation. A persisted result is
// attributable to exactly one extractor; results are never merged.
type Result struct {
	Success          bool           `json:"success"`
	Confidence       float32        `json:"confidence"`
	Data             map[string]any `json:"data,omitempty"`
	ExtractorType    string         `json:"extractorType"`
	ExtractorVersion string         `json:"extractorVersion"`
	ProcessingTime   time.Duration  `json:"processingTime"`
	Error            string         `json:"error,omitempty"`
}

// Extractor turns recognized text/bytes into structured fields for one
// document family. Implementations are stateless across invocations.
type Extractor interface {
	Type() string
	Version() string
	SupportedMimeTypes() []string
	CanHandle(doc Context) bool
	Extract(doc Context) Result
}

// Miss is the zero-confidence result returned when no extractor claims a
// document. Not an error: it is persisted for manual review.
func Miss() Result {
	return Result{Success: false, Confidence: 0}
}

// ClampConfidence forces a confidence score into [0,1].
func ClampConfidence(c float32) float32 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func supportsMime(e Extractor, mime string) bool {
	mime = constants.NormalizeMime(mime)
	for _, m := range e.SupportedMimeTypes() {
		if m == "*/*" || m == mime {
			return true
		}
	}
	return false
}
