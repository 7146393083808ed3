// Package retry provides a data-only retry policy with configurable
// backoff, executed by a plain control loop that honors cancellation.
package retry

import (
	"context"
	"time"

	"github.com/statgate/statgate/internal/observability"
)

// Policy defines retry behavior as data: attempt bound, backoff shape, and
// the conditions under which an attempt is retried. It carries no hidden
// state and can be shared across callers.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed wait.
	MaxBackoff time.Duration

	// BackoffFactor is the exponential growth factor.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0 to 1.0).
	Jitter float64

	// RetryOn lists the conditions that make an outcome retryable. Empty
	// means retry on any error.
	RetryOn []Condition

	// Logger for per-attempt debug logging.
	Logger observability.Logger
}

// Condition decides whether an outcome should be retried.
type Condition interface {
	ShouldRetry(err error, statusCode int) bool
}

// DefaultPolicy returns a Policy suited to upstream HTTP calls.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.25,
		RetryOn: []Condition{
			RetryableStatusCodes(),
			RetryOnNetworkErrors(),
		},
	}
}

// NoRetryPolicy returns a policy that makes a single attempt.
func NoRetryPolicy() *Policy {
	return &Policy{MaxAttempts: 1}
}

// normalize fills invalid fields with defaults.
func (p *Policy) normalize() {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.BackoffFactor <= 1 {
		p.BackoffFactor = 2.0
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0.25
	}
}

// AttemptFunc performs one attempt and reports the HTTP status code it
// observed, zero when no response was received.
type AttemptFunc func(ctx context.Context) (statusCode int, err error)

// Execute runs fn under the policy. The context is checked before every
// attempt and during backoff waits, so cancellation is never outwaited.
// Outcomes that no condition marks retryable are returned immediately.
func (p *Policy) Execute(ctx context.Context, operation string, fn AttemptFunc) error {
	p.normalize()

	backoff := NewExponentialBackoff(p.InitialBackoff, p.MaxBackoff, p.BackoffFactor, p.Jitter)
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			recordOutcome(operation, false, time.Since(start))
			return err
		}

		recordAttempt(operation)
		statusCode, err := fn(ctx)
		if err == nil {
			recordOutcome(operation, true, time.Since(start))
			return nil
		}
		lastErr = err

		if attempt == p.MaxAttempts-1 || !p.shouldRetry(err, statusCode) {
			break
		}

		wait := backoff.Next(attempt)
		recordBackoff(operation, wait)

		if p.Logger != nil {
			p.Logger.Debug("retrying operation",
				observability.String("operation", operation),
				observability.Int("attempt", attempt+1),
				observability.Int("max_attempts", p.MaxAttempts),
				observability.Int("status_code", statusCode),
				observability.Duration("wait", wait),
				observability.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			recordOutcome(operation, false, time.Since(start))
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	recordOutcome(operation, false, time.Since(start))
	return lastErr
}

func (p *Policy) shouldRetry(err error, statusCode int) bool {
	if len(p.RetryOn) == 0 {
		return err != nil
	}
	for _, condition := range p.RetryOn {
		if condition.ShouldRetry(err, statusCode) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the policy considers the outcome retryable.
// The API client uses it to classify upstream failures.
func (p *Policy) IsRetryable(err error, statusCode int) bool {
	return p.shouldRetry(err, statusCode)
}

// WithMaxAttempts sets the attempt bound.
func (p *Policy) WithMaxAttempts(n int) *Policy {
	p.MaxAttempts = n
	return p
}

// WithBackoff sets the backoff shape.
func (p *Policy) WithBackoff(initial, max time.Duration, factor, jitter float64) *Policy {
	p.InitialBackoff = initial
	p.MaxBackoff = max
	p.BackoffFactor = factor
	p.Jitter = jitter
	return p
}

// WithRetryOn sets the retry conditions.
func (p *Policy) WithRetryOn(conditions ...Condition) *Policy {
	p.RetryOn = conditions
	return p
}

// WithLogger sets the logger.
func (p *Policy) WithLogger(logger observability.Logger) *Policy {
	p.Logger = logger
	return p
}
