package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/statgate/statgate/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is probing whether the dependency
	// has recovered. Exactly one trial call is admitted.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker implements the circuit breaker pattern for a single
// dependency. The recovery timeout starts at the configured base and doubles
// on every re-open, capped at the configured maximum; a successful half-open
// probe resets it to the base.
type CircuitBreaker struct {
	name   string
	config *Config
	logger observability.Logger

	mu    sync.Mutex
	state State

	failureCount    int
	openedAt        time.Time
	recoveryTimeout time.Duration

	// set while the single half-open probe is in flight
	probeInFlight bool

	lastStateChange time.Time
}

// NewCircuitBreaker creates a new circuit breaker for the named dependency.
func NewCircuitBreaker(name string, config *Config, logger observability.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()

	if logger == nil {
		logger = observability.NopLogger()
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           StateClosed,
		recoveryTimeout: config.RecoveryTimeoutBase,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn under circuit breaker protection. If the circuit is open
// the dependency is never contacted and ErrCircuitOpen is returned. Errors
// for which the configured IsFailure predicate returns false (caller-input
// errors) do not count toward opening the circuit.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.Allow() {
		RecordRejection(cb.name)
		return ErrCircuitOpen
	}

	err := fn(ctx)

	if cb.isFailure(err) {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}

	return err
}

// Allow reports whether a call may proceed, transitioning Open to HalfOpen
// once the recovery timeout has elapsed. In half-open state only the single
// probe call is admitted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.openedAt) >= cb.recoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.probeInFlight = true
			return true
		}
		return false

	case StateHalfOpen:
		if !cb.probeInFlight {
			cb.probeInFlight = true
			return true
		}
		return false

	default:
		return false
	}
}

// ReleaseProbe returns an admitted half-open probe slot without recording
// an outcome. Callers use it when a call admitted by Allow is aborted
// before the dependency is contacted, so the probe slot is not lost.
func (cb *CircuitBreaker) ReleaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	RecordOutcome(cb.name, true)

	switch cb.state {
	case StateHalfOpen:
		cb.probeInFlight = false
		cb.failureCount = 0
		cb.recoveryTimeout = cb.config.RecoveryTimeoutBase
		cb.transitionTo(StateClosed)

	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure records a failed call that counts toward opening the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	RecordOutcome(cb.name, false)

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.open(false)
		}

	case StateHalfOpen:
		// The probe failed: reopen with an escalated timeout.
		cb.probeInFlight = false
		cb.open(true)
	}
}

// open transitions to StateOpen, escalating the recovery timeout when the
// circuit re-opens after a failed probe.
func (cb *CircuitBreaker) open(escalate bool) {
	if escalate {
		cb.recoveryTimeout *= 2
		if cb.recoveryTimeout > cb.config.RecoveryTimeoutMax {
			cb.recoveryTimeout = cb.config.RecoveryTimeoutMax
		}
	}
	cb.openedAt = time.Now()
	cb.transitionTo(StateOpen)
}

// transitionTo switches state. Callers must hold cb.mu.
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	RecordStateChange(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		observability.String("dependency", cb.name),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
		observability.Duration("recovery_timeout", cb.recoveryTimeout),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// isFailure reports whether err should count toward opening the circuit.
func (cb *CircuitBreaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}
	return true
}

// State returns a consistent snapshot of the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the circuit breaker back to closed state with the base
// recovery timeout. Intended for administrative use.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.probeInFlight = false
	cb.recoveryTimeout = cb.config.RecoveryTimeoutBase
	cb.transitionTo(StateClosed)
}

// Name returns the dependency name this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats holds a snapshot of circuit breaker state.
type Stats struct {
	State           State
	FailureCount    int
	OpenedAt        time.Time
	RecoveryTimeout time.Duration
	LastStateChange time.Time
}

// Stats returns a consistent snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		OpenedAt:        cb.openedAt,
		RecoveryTimeout: cb.recoveryTimeout,
		LastStateChange: cb.lastStateChange,
	}
}
