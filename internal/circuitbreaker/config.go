// Package circuitbreaker provides per-dependency failure isolation.
// It implements the circuit breaker pattern with escalating recovery
// timeouts to prevent cascading failures.
package circuitbreaker

import (
	"time"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive counted failures before
	// the circuit opens.
	FailureThreshold int

	// RecoveryTimeoutBase is the initial duration the circuit stays open
	// before admitting a half-open probe.
	RecoveryTimeoutBase time.Duration

	// RecoveryTimeoutMax caps the escalated recovery timeout.
	RecoveryTimeoutMax time.Duration

	// IsFailure decides whether an error counts toward opening the circuit.
	// If nil, every non-nil error counts. Caller-input errors should return
	// false here.
	IsFailure func(err error) bool

	// OnStateChange is called when the circuit breaker state changes.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:    5,
		RecoveryTimeoutBase: 60 * time.Second,
		RecoveryTimeoutMax:  600 * time.Second,
	}
}

// normalize fixes out-of-range values in place.
func (c *Config) normalize() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeoutBase < time.Millisecond {
		c.RecoveryTimeoutBase = 60 * time.Second
	}
	if c.RecoveryTimeoutMax < c.RecoveryTimeoutBase {
		c.RecoveryTimeoutMax = 10 * c.RecoveryTimeoutBase
	}
}

// WithFailureThreshold sets the failure threshold.
func (c *Config) WithFailureThreshold(n int) *Config {
	c.FailureThreshold = n
	return c
}

// WithRecoveryTimeouts sets the base and maximum recovery timeouts.
func (c *Config) WithRecoveryTimeouts(base, max time.Duration) *Config {
	c.RecoveryTimeoutBase = base
	c.RecoveryTimeoutMax = max
	return c
}

// WithIsFailure sets the failure classification predicate.
func (c *Config) WithIsFailure(fn func(err error) bool) *Config {
	c.IsFailure = fn
	return c
}

// WithOnStateChange sets the state change callback.
func (c *Config) WithOnStateChange(fn func(name string, from, to State)) *Config {
	c.OnStateChange = fn
	return c
}
