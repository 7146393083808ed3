package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() *Policy {
	return &Policy{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestPolicy_SucceedsFirstAttempt(t *testing.T) {
	p := fastPolicy()

	calls := 0
	err := p.Execute(context.Background(), "test", func(ctx context.Context) (int, error) {
		calls++
		return 200, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_RetriesTransientFailures(t *testing.T) {
	p := fastPolicy()
	p.RetryOn = []Condition{RetryableStatusCodes()}

	// 503, 503, 503, then success.
	calls := 0
	err := p.Execute(context.Background(), "test", func(ctx context.Context) (int, error) {
		calls++
		if calls < 4 {
			return 503, errors.New("service unavailable")
		}
		return 200, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestPolicy_ExhaustsAttempts(t *testing.T) {
	p := fastPolicy()
	p.RetryOn = []Condition{RetryableStatusCodes()}

	wantErr := errors.New("service unavailable")
	calls := 0
	err := p.Execute(context.Background(), "test", func(ctx context.Context) (int, error) {
		calls++
		return 503, wantErr
	})

	require.Error(t, err)
	assert.Equal(t, wantErr, err)
	assert.Equal(t, 4, calls)
}

func TestPolicy_NonRetryableFailsImmediately(t *testing.T) {
	p := fastPolicy()
	p.RetryOn = []Condition{RetryableStatusCodes()}

	calls := 0
	err := p.Execute(context.Background(), "test", func(ctx context.Context) (int, error) {
		calls++
		return 400, errors.New("bad request")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_HonorsCancellation(t *testing.T) {
	p := &Policy{
		MaxAttempts:    10,
		InitialBackoff: time.Hour,
		MaxBackoff:     time.Hour,
		BackoffFactor:  2.0,
	}
	p.RetryOn = []Condition{RetryableStatusCodes()}

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Execute(ctx, "test", func(ctx context.Context) (int, error) {
			calls++
			return 503, errors.New("unavailable")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("execute did not return after cancellation")
	}
}

func TestPolicy_CancelledBeforeFirstAttempt(t *testing.T) {
	p := fastPolicy()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := p.Execute(ctx, "test", func(ctx context.Context) (int, error) {
		calls++
		return 200, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestPolicy_EmptyConditionsRetryAnyError(t *testing.T) {
	p := fastPolicy()
	p.RetryOn = nil

	calls := 0
	err := p.Execute(context.Background(), "test", func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("boom")
		}
		return 200, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestNoRetryPolicy(t *testing.T) {
	p := NoRetryPolicy()

	calls := 0
	err := p.Execute(context.Background(), "test", func(ctx context.Context) (int, error) {
		calls++
		return 503, errors.New("unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_IsRetryable(t *testing.T) {
	p := DefaultPolicy()

	assert.True(t, p.IsRetryable(errors.New("x"), 503))
	assert.True(t, p.IsRetryable(errors.New("x"), 429))
	assert.False(t, p.IsRetryable(errors.New("x"), 404))
}
