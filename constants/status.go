package constants

// JobStatus is the canonical lifecycle status for a queued job.
type JobStatus string

// Stable values (store these exact strings in the queue backend).
const (
	JobStatusWaiting   JobStatus = "waiting"   // enqueued, not yet claimed
	JobStatusActive    JobStatus = "active"    // claimed by a worker
	JobStatusCompleted JobStatus = "completed" // acked
	JobStatusFailed    JobStatus = "failed"    // terminal failure
	JobStatusStalled   JobStatus = "stalled"   // claimed worker stopped heartbeating
)
