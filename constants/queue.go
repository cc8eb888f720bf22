package constants

// Queue names. Every stage owns exactly one queue.
const (
	QueueReceiptParse     = "receipt-parse"
	QueueFileProcess      = "file-process"
	QueueOCRProcess       = "ocr-process"
	QueueRulesApplication = "rules-application"
	QueueAlertDispatch    = "alert-dispatch"
)

// QueueNames lists every registered queue in a stable order.
var QueueNames = []string{
	QueueReceiptParse,
	QueueFileProcess,
	QueueOCRProcess,
	QueueRulesApplication,
	QueueAlertDispatch,
}

// Default concurrency per queue, chosen by resource profile:
// OCR is CPU/memory heavy, alert dispatch is pure I/O.
var DefaultConcurrency = map[string]int{
	QueueReceiptParse:     4,
	QueueFileProcess:      4,
	QueueOCRProcess:       2,
	QueueRulesApplication: 6,
	QueueAlertDispatch:    10,
}

// Retention caps for finished jobs kept around for inspection.
const (
	KeepCompleted = 100
	KeepFailed    = 50
)
