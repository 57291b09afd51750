package llm

import (
	"errors"
	"time"
)

// Error classification for reasoning-gateway calls. Transport failures and
// 5xx/429 responses are transient; auth and malformed-request responses are
// fatal and must not be retried.

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error

	// retryAfter carries a server-requested delay (from Retry-After), if any.
	retryAfter time.Duration
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// NewRateLimitError wraps an error as transient with a server-requested delay.
func NewRateLimitError(err error, retryAfter time.Duration) error {
	return &TransientError{err: err, retryAfter: retryAfter}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// RetryAfter returns the server-requested retry delay, or zero when the error
// carries none.
func RetryAfter(err error) time.Duration {
	var transient *TransientError
	if errors.As(err, &transient) {
		return transient.retryAfter
	}
	return 0
}
