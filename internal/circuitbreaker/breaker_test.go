package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		FailureThreshold:    3,
		RecoveryTimeoutBase: 20 * time.Millisecond,
		RecoveryTimeoutMax:  160 * time.Millisecond,
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("upstream", testConfig(), nil)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		assert.Equal(t, StateClosed, cb.State())
	}

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_OpenFailsFast(t *testing.T) {
	cb := NewCircuitBreaker("upstream", testConfig(), nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open circuit must not contact the dependency")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("upstream", testConfig(), nil)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	assert.Equal(t, 0, cb.Stats().FailureCount)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker("upstream", testConfig(), nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(25 * time.Millisecond)

	assert.True(t, cb.Allow(), "first call after recovery timeout is the probe")
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe is admitted in half-open state")
}

func TestCircuitBreaker_ReleaseProbeReturnsSlot(t *testing.T) {
	cb := NewCircuitBreaker("upstream", testConfig(), nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(25 * time.Millisecond)

	require.True(t, cb.Allow())
	require.False(t, cb.Allow())

	// The admitted call was aborted before contacting the dependency.
	cb.ReleaseProbe()

	assert.True(t, cb.Allow(), "released probe slot is available again")
}

func TestCircuitBreaker_ProbeSuccessClosesAndResetsTimeout(t *testing.T) {
	cb := NewCircuitBreaker("upstream", testConfig(), nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(25 * time.Millisecond)
	require.True(t, cb.Allow())

	cb.RecordSuccess()

	stats := cb.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, 0, stats.FailureCount)
	assert.Equal(t, 20*time.Millisecond, stats.RecoveryTimeout)
}

func TestCircuitBreaker_ProbeFailureEscalatesTimeout(t *testing.T) {
	cb := NewCircuitBreaker("upstream", testConfig(), nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, 20*time.Millisecond, cb.Stats().RecoveryTimeout)

	time.Sleep(25 * time.Millisecond)
	require.True(t, cb.Allow())

	cb.RecordFailure()

	stats := cb.Stats()
	assert.Equal(t, StateOpen, stats.State)
	assert.Equal(t, 40*time.Millisecond, stats.RecoveryTimeout)
}

func TestCircuitBreaker_TimeoutCappedAtMax(t *testing.T) {
	cb := NewCircuitBreaker("upstream", testConfig(), nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	// Fail the probe repeatedly; the timeout doubles 20 -> 40 -> 80 -> 160
	// and must not exceed the 160ms cap afterwards.
	for i := 0; i < 6; i++ {
		time.Sleep(cb.Stats().RecoveryTimeout + 5*time.Millisecond)
		require.True(t, cb.Allow())
		cb.RecordFailure()
	}

	assert.Equal(t, 160*time.Millisecond, cb.Stats().RecoveryTimeout)
}

func TestCircuitBreaker_CallerInputErrorsDoNotCount(t *testing.T) {
	errValidation := errors.New("validation: bad dataset id")
	cfg := testConfig().WithIsFailure(func(err error) bool {
		return !errors.Is(err, errValidation)
	})
	cb := NewCircuitBreaker("upstream", cfg, nil)

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error {
			return errValidation
		})
		require.ErrorIs(t, err, errValidation)
	}

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ConcurrentFailures(t *testing.T) {
	cfg := &Config{
		FailureThreshold:    50,
		RecoveryTimeoutBase: time.Minute,
		RecoveryTimeoutMax:  10 * time.Minute,
	}
	cb := NewCircuitBreaker("upstream", cfg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.RecordFailure()
		}()
	}
	wg.Wait()

	assert.Equal(t, StateOpen, cb.State())
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(testConfig(), nil)

	a := r.GetOrCreate("metadata")
	b := r.GetOrCreate("metadata")
	assert.Same(t, a, b)

	c := r.GetOrCreate("analytics")
	assert.NotSame(t, a, c)

	stats := r.Stats()
	assert.Len(t, stats, 2)
	assert.Contains(t, stats, "metadata")
	assert.Contains(t, stats, "analytics")
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry(testConfig(), nil)
	cb := r.GetOrCreate("upstream")

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	r.ResetAll()
	assert.Equal(t, StateClosed, cb.State())
}
