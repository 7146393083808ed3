package retry

import (
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
)

// StatusCodeCondition retries on specific HTTP status codes.
type StatusCodeCondition struct {
	codes map[int]bool
}

// RetryOnStatusCodes creates a condition for the given status codes.
func RetryOnStatusCodes(statusCodes ...int) *StatusCodeCondition {
	codeMap := make(map[int]bool, len(statusCodes))
	for _, code := range statusCodes {
		codeMap[code] = true
	}
	return &StatusCodeCondition{codes: codeMap}
}

// ShouldRetry implements Condition.
func (c *StatusCodeCondition) ShouldRetry(err error, statusCode int) bool {
	return c.codes[statusCode]
}

// RetryableStatusCodes returns the transient upstream status codes.
func RetryableStatusCodes() *StatusCodeCondition {
	return RetryOnStatusCodes(
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504, // Gateway Timeout
	)
}

// NetworkErrorCondition retries on connection-level failures.
type NetworkErrorCondition struct{}

// RetryOnNetworkErrors creates a condition that retries on network errors.
func RetryOnNetworkErrors() *NetworkErrorCondition {
	return &NetworkErrorCondition{}
}

// ShouldRetry implements Condition.
func (c *NetworkErrorCondition) ShouldRetry(err error, statusCode int) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout() || urlErr.Temporary()
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	// Closed connections surface as EOF.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

// TimeoutCondition retries on timeout errors only.
type TimeoutCondition struct{}

// RetryOnTimeout creates a condition that retries on timeouts.
func RetryOnTimeout() *TimeoutCondition {
	return &TimeoutCondition{}
}

// ShouldRetry implements Condition.
func (c *TimeoutCondition) ShouldRetry(err error, statusCode int) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

// CompositeCondition combines conditions with OR logic.
type CompositeCondition struct {
	conditions []Condition
}

// RetryOnAny retries if any of the conditions match.
func RetryOnAny(conditions ...Condition) *CompositeCondition {
	return &CompositeCondition{conditions: conditions}
}

// ShouldRetry implements Condition.
func (c *CompositeCondition) ShouldRetry(err error, statusCode int) bool {
	for _, condition := range c.conditions {
		if condition.ShouldRetry(err, statusCode) {
			return true
		}
	}
	return false
}

// NeverRetryCondition never retries.
type NeverRetryCondition struct{}

// NeverRetry creates a condition that never retries.
func NeverRetry() *NeverRetryCondition {
	return &NeverRetryCondition{}
}

// ShouldRetry implements Condition.
func (c *NeverRetryCondition) ShouldRetry(err error, statusCode int) bool {
	return false
}
