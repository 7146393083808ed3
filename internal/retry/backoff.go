package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the wait before the next retry attempt.
type Backoff interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff grows the wait by a constant factor per attempt with
// symmetric random jitter.
type ExponentialBackoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	jitter  float64
}

// NewExponentialBackoff creates an exponential backoff.
func NewExponentialBackoff(initial, max time.Duration, factor, jitter float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		initial: initial,
		max:     max,
		factor:  factor,
		jitter:  jitter,
	}
}

// Next implements Backoff.
func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	backoff := float64(b.initial) * math.Pow(b.factor, float64(attempt))
	if backoff > float64(b.max) {
		backoff = float64(b.max)
	}

	if b.jitter > 0 {
		jitterRange := backoff * b.jitter
		backoff += (rand.Float64() * 2 * jitterRange) - jitterRange
	}

	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

// ConstantBackoff waits the same interval between every attempt.
type ConstantBackoff struct {
	interval time.Duration
}

// NewConstantBackoff creates a constant backoff.
func NewConstantBackoff(interval time.Duration) *ConstantBackoff {
	return &ConstantBackoff{interval: interval}
}

// Next implements Backoff.
func (b *ConstantBackoff) Next(attempt int) time.Duration {
	return b.interval
}

// FullJitterBackoff waits a uniformly random duration between zero and the
// exponential ceiling. sleep = random_between(0, min(cap, base * 2^attempt)).
type FullJitterBackoff struct {
	initial time.Duration
	max     time.Duration
}

// NewFullJitterBackoff creates a full jitter backoff.
func NewFullJitterBackoff(initial, max time.Duration) *FullJitterBackoff {
	return &FullJitterBackoff{initial: initial, max: max}
}

// Next implements Backoff.
func (b *FullJitterBackoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	ceiling := float64(b.initial) * math.Pow(2, float64(attempt))
	if ceiling > float64(b.max) {
		ceiling = float64(b.max)
	}
	return time.Duration(rand.Float64() * ceiling)
}
