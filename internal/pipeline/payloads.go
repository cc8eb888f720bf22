package pipeline

import "github.com/tenderflow/docpipe/constants"

// Payload types for the five stage queues. Each has a JSON-Schema document
// checked at enqueue time so malformed producer input never reaches a worker.

// Schemas returns the JSON-Schema document for every stage queue, keyed by
// queue name. External producers validate against the same documents.
func Schemas() map[string]map[string]any {
	return map[string]map[string]any{
		constants.QueueReceiptParse:     receiptParseSchema(),
		constants.QueueFileProcess:      fileProcessSchema(),
		constants.QueueOCRProcess:       ocrProcessSchema(),
		constants.QueueRulesApplication: rulesApplicationSchema(),
		constants.QueueAlertDispatch:    alertDispatchSchema(),
	}
}

// ReceiptParsePayload drives the main extraction path: fetch, OCR, extract,
// persist, chain into rules-application.
type ReceiptParsePayload struct {
	SubmissionID string            `json:"submissionId"`
	TenantID     string            `json:"tenantId"`
	UserID       string            `json:"userId,omitempty"`
	Bucket       string            `json:"bucket,omitempty"`
	ReceiptKey   string            `json:"receiptKey"`
	MimeType     string            `json:"mimeType"`
	Filename     string            `json:"filename,omitempty"`
	Languages    []string          `json:"languages,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// FileProcessPayload derives metadata and a thumbnail for a stored document.
type FileProcessPayload struct {
	SubmissionID string `json:"submissionId"`
	TenantID     string `json:"tenantId"`
	Bucket       string `json:"bucket,omitempty"`
	FileKey      string `json:"fileKey"`
	MimeType     string `json:"mimeType"`
	Filename     string `json:"filename,omitempty"`
	ThumbWidth   int    `json:"thumbWidth,omitempty"`
}

// OcrProcessPayload is a standalone recognition request, used when callers
// want text without structured extraction.
type OcrProcessPayload struct {
	SubmissionID string   `json:"submissionId"`
	TenantID     string   `json:"tenantId"`
	Bucket       string   `json:"bucket,omitempty"`
	FileKey      string   `json:"fileKey"`
	MimeType     string   `json:"mimeType"`
	Languages    []string `json:"languages,omitempty"`
	Denoise      bool     `json:"denoise,omitempty"`
	Contrast     bool     `json:"contrast,omitempty"`
	ResizeWidth  int      `json:"resizeWidth,omitempty"`
}

// RulesApplicationPayload applies the rule set to extracted data.
type RulesApplicationPayload struct {
	SubmissionID string         `json:"submissionId"`
	TenantID     string         `json:"tenantId"`
	Data         map[string]any `json:"data,omitempty"`
	// UrgencyLevels limits which matches fan out to alert-dispatch;
	// empty means every notifiable match.
	UrgencyLevels []string `json:"urgencyLevels,omitempty"`
}

// AlertDispatchPayload sends one notification to a recipient set.
type AlertDispatchPayload struct {
	SubmissionID string   `json:"submissionId"`
	TenantID     string   `json:"tenantId"`
	Channel      string   `json:"channel"`
	Recipients   []string `json:"recipients"`
	Urgency      string   `json:"urgency"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
}

func receiptParseSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"submissionId", "tenantId", "receiptKey", "mimeType"},
		"properties": map[string]any{
			"submissionId": map[string]any{"type": "string", "minLength": 1},
			"tenantId":     map[string]any{"type": "string", "minLength": 1},
			"userId":       map[string]any{"type": "string"},
			"bucket":       map[string]any{"type": "string"},
			"receiptKey":   map[string]any{"type": "string", "minLength": 1},
			"mimeType":     map[string]any{"type": "string", "minLength": 1},
			"filename":     map[string]any{"type": "string"},
			"languages": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"metadata": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
	}
}

func fileProcessSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"submissionId", "tenantId", "fileKey", "mimeType"},
		"properties": map[string]any{
			"submissionId": map[string]any{"type": "string", "minLength": 1},
			"tenantId":     map[string]any{"type": "string", "minLength": 1},
			"bucket":       map[string]any{"type": "string"},
			"fileKey":      map[string]any{"type": "string", "minLength": 1},
			"mimeType":     map[string]any{"type": "string", "minLength": 1},
			"filename":     map[string]any{"type": "string"},
			"thumbWidth":   map[string]any{"type": "integer", "minimum": 0},
		},
	}
}

func ocrProcessSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"submissionId", "tenantId", "fileKey", "mimeType"},
		"properties": map[string]any{
			"submissionId": map[string]any{"type": "string", "minLength": 1},
			"tenantId":     map[string]any{"type": "string", "minLength": 1},
			"bucket":       map[string]any{"type": "string"},
			"fileKey":      map[string]any{"type": "string", "minLength": 1},
			"mimeType":     map[string]any{"type": "string", "minLength": 1},
			"languages": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"denoise":     map[string]any{"type": "boolean"},
			"contrast":    map[string]any{"type": "boolean"},
			"resizeWidth": map[string]any{"type": "integer", "minimum": 0},
		},
	}
}

func rulesApplicationSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"submissionId", "tenantId"},
		"properties": map[string]any{
			"submissionId": map[string]any{"type": "string", "minLength": 1},
			"tenantId":     map[string]any{"type": "string", "minLength": 1},
			"data":         map[string]any{"type": "object"},
			"urgencyLevels": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}
}

func alertDispatchSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"submissionId", "tenantId", "channel", "recipients"},
		"properties": map[string]any{
			"submissionId": map[string]any{"type": "string", "minLength": 1},
			"tenantId":     map[string]any{"type": "string", "minLength": 1},
			"channel":      map[string]any{"type": "string", "enum": []any{"webhook", "email"}},
			"recipients": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items":    map[string]any{"type": "string", "minLength": 1},
			},
			"urgency": map[string]any{"type": "string"},
			"subject": map[string]any{"type": "string"},
			"body":    map[string]any{"type": "string"},
		},
	}
}
