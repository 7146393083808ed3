package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitExceededError is returned when a request does not fit under
// every configured tier. RetryAfter tells the caller how long to back off.
type RateLimitExceededError struct {
	Tier       Tier
	RetryAfter time.Duration
}

// Error implements error.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded on %s tier, retry after %s", e.Tier, e.RetryAfter)
}

// IsRateLimitExceeded reports whether err is a RateLimitExceededError.
func IsRateLimitExceeded(err error) bool {
	var target *RateLimitExceededError
	return errors.As(err, &target)
}

// ThreatBlockedError is returned when an identifier has an active block
// entry. Blocks supersede remaining quota.
type ThreatBlockedError struct {
	Reason    string
	ExpiresAt time.Time
}

// Error implements error.
func (e *ThreatBlockedError) Error() string {
	return fmt.Sprintf("identifier blocked (%s) until %s", e.Reason, e.ExpiresAt.Format(time.RFC3339))
}

// IsThreatBlocked reports whether err is a ThreatBlockedError.
func IsThreatBlocked(err error) bool {
	var target *ThreatBlockedError
	return errors.As(err, &target)
}
