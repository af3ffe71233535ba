package models

import (
	"errors"
	"fmt"
)

// Error taxonomy for the orchestration queue. Validation and budget errors are
// surfaced synchronously at submit time and never reach the queue; provider
// errors are handled via retry and fallback and only surface once exhausted.
var (
	// ErrBudgetExceeded is returned at admission when the request's estimated
	// cost would push the organization past its budget limit.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrProviderUnavailable is returned when a circuit breaker is open and the
	// call short-circuits without a network attempt.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderCall marks a transient failure during provider execution.
	ErrProviderCall = errors.New("provider call failed")

	// ErrTimeout marks an attempt that exceeded its deadline.
	ErrTimeout = errors.New("provider call timed out")

	// ErrNotFound is returned for unknown handles or handles past retention.
	ErrNotFound = errors.New("not found")
)

// ValidationError rejects a malformed request before admission. It is never
// retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
