// Package upstream provides the resilient client for the statistical data
// API: circuit breaking, rate limiting, retries with backoff, and cached
// fallback around every call.
package upstream

import (
	"errors"
	"fmt"
)

// TransientUpstreamError is surfaced when retries against the upstream are
// exhausted. The last observed status code is zero when no response was
// received.
type TransientUpstreamError struct {
	Operation  string
	StatusCode int
	Attempts   int
	Err        error
}

// Error implements error.
func (e *TransientUpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s failed after %d attempts: status %d: %v",
			e.Operation, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *TransientUpstreamError) Unwrap() error {
	return e.Err
}

// IsTransientUpstream reports whether err is a TransientUpstreamError.
func IsTransientUpstream(err error) bool {
	var target *TransientUpstreamError
	return errors.As(err, &target)
}

// UpstreamStatusError is a non-retryable upstream response, typically a
// 4xx other than 429.
type UpstreamStatusError struct {
	StatusCode int
	Body       []byte
}

// Error implements error.
func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// ValidationError indicates invalid caller input. It never counts against
// the circuit breaker and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
