package executor

import (
	"errors"
	"fmt"
	"time"
)

// ErrFormatRejected is returned (wrapped) by a delivery sink when the
// destination rejects the formatted payload as structurally invalid. The
// pipeline reacts by falling back once to plain text.
var ErrFormatRejected = errors.New("formatted payload rejected")

// Retryable marks an error as transient: the generation call will be retried
// with backoff. Unmarked errors are fatal to the execution and abort
// immediately.
//
// Example:
//
//	return executor.Retryable(fmt.Errorf("rate limited: %w", err))
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// RetryableAfter marks an error as transient and carries the downstream
// system's suggested delay (e.g. an HTTP 429 Retry-After). The pipeline
// respects the hint, bounded by its backoff ceiling.
func RetryableAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryableError{err: err, after: after, hasAfter: true}
}

// IsRetryable reports whether err is marked with Retryable or RetryableAfter.
func IsRetryable(err error) bool {
	var re retryableError
	return errors.As(err, &re)
}

// retryAfterHint extracts the suggested delay, if any.
func retryAfterHint(err error) (time.Duration, bool) {
	var re retryableError
	if errors.As(err, &re) && re.hasAfter {
		return re.after, true
	}
	return 0, false
}

type retryableError struct {
	err      error
	after    time.Duration
	hasAfter bool
}

func (e retryableError) Error() string {
	if e.hasAfter {
		return fmt.Sprintf("retryable(after %s): %v", e.after, e.err)
	}
	return fmt.Sprintf("retryable: %v", e.err)
}

func (e retryableError) Unwrap() error { return e.err }
