package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Pipeline error taxonomy. Stage functions and the queue layer wrap
// failures with one of these sentinels so the worker pool can translate
// them into ack/retry/fail decisions.
var (
	ErrValidation   = errors.New("validation failed")     // bad payload, rejected at enqueue, never retried
	ErrTransient    = errors.New("transient failure")     // capability hiccup, retried with backoff
	ErrFatal        = errors.New("fatal stage error")     // unsupported input or logic bug, no retry
	ErrUnknownQueue = errors.New("unknown queue")         // enqueue target was never registered
	ErrJobNotFound  = errors.New("job not found")         // status query for an unknown job id
	ErrUnavailable  = errors.New("capability unreachable") // health probe failure
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Transient wraps err so the worker pool retries it with backoff.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Fatal wraps err so the worker pool fails the job immediately.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
