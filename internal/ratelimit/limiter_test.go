package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statgate/statgate/internal/ratelimit/store"
	"github.com/statgate/statgate/internal/threat"
)

// stubAssessor returns a fixed assessment.
type stubAssessor struct {
	level threat.Level
	score float64
}

func (s *stubAssessor) Assess(identifier string) threat.Assessment {
	return threat.Assessment{Identifier: identifier, Score: s.score, Level: s.level}
}

func newTestLimiter(t *testing.T, config *Config, assessor ThreatAssessor) *Limiter {
	t.Helper()

	counters := store.NewMemoryStore()
	t.Cleanup(func() { _ = counters.Close() })

	blocklist := NewBlocklist(nil, nil)
	l := NewLimiter(config, counters, blocklist, nil, assessor)
	l.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return l
}

func TestLimiter_BurstAllowsUpToLimit(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Tiers:       map[Tier]int64{TierBurst: 10, TierMinute: 60},
		BurstWindow: time.Second,
	}, nil)

	ctx := context.Background()

	allowed, denied := 0, 0
	var lastDenied *Result
	for i := 0; i < 15; i++ {
		res, err := l.Check(ctx, "client", "/v1/data")
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		} else {
			denied++
			lastDenied = res
		}
	}

	assert.Equal(t, 10, allowed)
	assert.Equal(t, 5, denied)
	require.NotNil(t, lastDenied)
	assert.Greater(t, lastDenied.RetryAfter, time.Duration(0))
	assert.True(t, IsRateLimitExceeded(lastDenied.Err()))
}

func TestLimiter_AndSemanticsAcrossTiers(t *testing.T) {
	// Burst permits 10 per second but the minute tier is the binding
	// constraint.
	l := newTestLimiter(t, &Config{
		Tiers:       map[Tier]int64{TierBurst: 10, TierMinute: 3},
		BurstWindow: time.Second,
	}, nil)

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, "client", "/v1/data")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := l.Check(ctx, "client", "/v1/data")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, TierMinute, res.Tier)
}

func TestLimiter_RetryAfterFromSlowestViolatedTier(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Tiers:       map[Tier]int64{TierBurst: 2, TierMinute: 2},
		BurstWindow: time.Second,
	}, nil)

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Check(ctx, "client", "/v1/data")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	// Both tiers are exhausted; retry_after must reflect the minute
	// window, not the burst window.
	res, err := l.Check(ctx, "client", "/v1/data")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, TierMinute, res.Tier)
	assert.Greater(t, res.RetryAfter, time.Second)
}

func TestLimiter_BlockPrecedesQuota(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Tiers: map[Tier]int64{TierMinute: 60},
	}, nil)

	ctx := context.Background()

	res, err := l.Check(ctx, "client", "/v1/data")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	l.Blocklist().Block(ctx, "client", "manual", time.Hour)

	// Quota remains but the block wins.
	res, err = l.Check(ctx, "client", "/v1/data")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.Blocked)
	assert.True(t, IsThreatBlocked(res.Err()))
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestLimiter_CriticalThreatCreatesBlock(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Tiers:         map[Tier]int64{TierMinute: 60},
		BlockDuration: 15 * time.Minute,
	}, &stubAssessor{level: threat.LevelCritical, score: 0.9})

	ctx := context.Background()

	res, err := l.Check(ctx, "attacker", "/v1/data")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.Blocked)

	entry, ok := l.Blocklist().Get("attacker")
	require.True(t, ok)
	assert.Equal(t, "attacker", entry.Identifier)
}

func TestLimiter_MediumThreatTightensLimit(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Tiers:                  map[Tier]int64{TierSecond: 10},
		ThreatAdjustmentFactor: 0.8,
	}, &stubAssessor{level: threat.LevelMedium, score: 0.5})

	ctx := context.Background()

	allowed := 0
	for i := 0; i < 10; i++ {
		res, err := l.Check(ctx, "client", "/v1/data")
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}

	// Effective limit is ceil(10 * 0.8) = 8.
	assert.Equal(t, 8, allowed)
}

func TestLimiter_AdaptiveRatioTightensLimit(t *testing.T) {
	counters := store.NewMemoryStore()
	t.Cleanup(func() { _ = counters.Close() })

	adaptive := NewAdaptiveController(AdaptiveConfig{
		LatencyThreshold: 100 * time.Millisecond,
		AdjustmentFactor: 0.5,
		MinRatio:         0.1,
		MaxRatio:         1.0,
	})
	t.Cleanup(adaptive.Close)

	l := NewLimiter(&Config{
		Tiers: map[Tier]int64{TierSecond: 10},
	}, counters, nil, adaptive, nil)
	l.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}

	// Slow responses halve the effective ratio.
	l.Observe("client", "/v1/data", 500*time.Millisecond)
	l.Observe("client", "/v1/data", 500*time.Millisecond)

	ctx := context.Background()
	allowed := 0
	for i := 0; i < 10; i++ {
		res, err := l.Check(ctx, "client", "/v1/data")
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}

	assert.Less(t, allowed, 10)
}

func TestLimiter_SoundUnderConcurrency(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Tiers: map[Tier]int64{TierMinute: 50},
	}, nil)

	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				res, err := l.Check(ctx, "client", "/v1/data")
				if err == nil && res.Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, allowed.Load(), int64(50))
	assert.Greater(t, allowed.Load(), int64(0))
}

func TestLimiter_IndependentIdentifiers(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Tiers: map[Tier]int64{TierSecond: 2},
	}, nil)

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Check(ctx, "a", "/v1/data")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := l.Check(ctx, "a", "/v1/data")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// A different identifier has its own windows.
	res, err = l.Check(ctx, "b", "/v1/data")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_NoTiersAllowsEverything(t *testing.T) {
	l := newTestLimiter(t, &Config{Tiers: map[Tier]int64{}}, nil)

	res, err := l.Check(context.Background(), "client", "/v1/data")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_TightestLimit(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Tiers: map[Tier]int64{TierBurst: 10, TierMinute: 60, TierDay: 10000},
	}, nil)

	assert.Equal(t, int64(10), l.TightestLimit())
}

func TestLimiter_StatsReportsBlocked(t *testing.T) {
	l := newTestLimiter(t, nil, nil)

	l.Blocklist().Block(context.Background(), "bad", "manual", time.Hour)

	stats := l.Stats()
	assert.Equal(t, 1, stats.BlockedIdentifiers)
	assert.False(t, stats.UsingLocalCounters)
}

func TestEffectiveLimit(t *testing.T) {
	tests := []struct {
		name    string
		nominal int64
		ratio   float64
		want    int64
	}{
		{"full ratio", 100, 1.0, 100},
		{"above one clamps to nominal", 100, 1.5, 100},
		{"scaled down", 100, 0.8, 80},
		{"rounds up", 10, 0.75, 8},
		{"never below one", 10, 0.01, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, effectiveLimit(tt.nominal, tt.ratio))
		})
	}
}

func TestLimiter_UpdateTiersTakesEffect(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Tiers: map[Tier]int64{TierMinute: 2},
	}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := l.Check(ctx, "client", "/data")
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	result, err := l.Check(ctx, "client", "/data")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	// Raising the limit at runtime unblocks the identifier within the
	// same window.
	l.UpdateTiers(map[Tier]int64{TierMinute: 10})
	assert.Equal(t, int64(10), l.TightestLimit())

	result, err = l.Check(ctx, "client", "/data")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}
