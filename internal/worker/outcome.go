package worker

// OutcomeKind discriminates the result of one stage execution.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeRetry
	OutcomeFatal
)

// Outcome is the value a stage function returns instead of raising. The
// worker pool is the only place it is translated into ack/retry/fail.
type Outcome struct {
	Kind   OutcomeKind
	Result any
	Err    error
}

// Completed wraps a successful stage result.
func Completed(result any) Outcome {
	return Outcome{Kind: OutcomeCompleted, Result: result}
}

// RetryableFailure marks a transient failure; the job is requeued with
// backoff until its attempts run out.
func RetryableFailure(err error) Outcome {
	return Outcome{Kind: OutcomeRetry, Err: err}
}

// FatalFailure marks an unrecoverable failure; the job is failed
// immediately with no retry.
func FatalFailure(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}
