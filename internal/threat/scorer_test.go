package threat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestScorer(t *testing.T, config *Config) (*Scorer, *time.Time) {
	t.Helper()

	s := NewScorer(config)
	t.Cleanup(s.Close)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	s.now = func() time.Time { return *clock }

	return s, clock
}

func TestScorer_UnknownIdentifierIsLow(t *testing.T) {
	s, _ := newTestScorer(t, nil)

	a := s.Assess("nobody")
	assert.Equal(t, LevelLow, a.Level)
	assert.Zero(t, a.Score)
}

func TestScorer_NormalTrafficStaysLow(t *testing.T) {
	s, clock := newTestScorer(t, nil)

	for i := 0; i < 10; i++ {
		s.RecordRequest("client", "/v1/datasets")
		*clock = clock.Add(time.Second)
	}

	a := s.Assess("client")
	assert.Equal(t, LevelLow, a.Level)
	assert.Less(t, a.Score, 0.4)
}

func TestScorer_BurstFanoutIsCritical(t *testing.T) {
	s, clock := newTestScorer(t, nil)

	// 200 requests across 20 distinct endpoints within 10 seconds.
	for i := 0; i < 200; i++ {
		s.RecordRequest("attacker", fmt.Sprintf("/v1/endpoint-%d", i%20))
		*clock = clock.Add(50 * time.Millisecond)
	}

	a := s.Assess("attacker")
	assert.Equal(t, LevelCritical, a.Level)
	assert.GreaterOrEqual(t, a.Score, 0.85)
	assert.GreaterOrEqual(t, a.Evidence.DistinctEndpoints, 20)
}

func TestScorer_AuthFailuresRaiseScore(t *testing.T) {
	s, _ := newTestScorer(t, nil)

	before := s.Assess("client").Score

	for i := 0; i < 10; i++ {
		s.RecordAuthFailure("client")
	}

	a := s.Assess("client")
	assert.Greater(t, a.Score, before)
	assert.GreaterOrEqual(t, a.Level, LevelMedium)
	assert.Equal(t, 10, a.Evidence.AuthFailures)
}

func TestScorer_ScoreDecaysOverTime(t *testing.T) {
	s, clock := newTestScorer(t, nil)

	for i := 0; i < 200; i++ {
		s.RecordRequest("noisy", fmt.Sprintf("/e%d", i%20))
	}

	hot := s.Assess("noisy")
	assert.Equal(t, LevelCritical, hot.Level)

	// One half-life later the events have aged out of their windows and
	// the stored score has halved.
	*clock = clock.Add(time.Minute)
	cooled := s.Assess("noisy")
	assert.Less(t, cooled.Score, hot.Score)

	*clock = clock.Add(10 * time.Minute)
	cold := s.Assess("noisy")
	assert.Equal(t, LevelLow, cold.Level)
}

func TestScorer_EvidenceCountsRecentEventsOnly(t *testing.T) {
	s, clock := newTestScorer(t, nil)

	s.RecordRequest("client", "/a")
	*clock = clock.Add(2 * time.Minute)
	s.RecordRequest("client", "/b")

	a := s.Assess("client")
	assert.Equal(t, 1, a.Evidence.RequestsInWindow)
	assert.Equal(t, 1, a.Evidence.DistinctEndpoints)
}

func TestScorer_FreshSignalNeverLowersScoreBelowDecay(t *testing.T) {
	s, clock := newTestScorer(t, nil)

	for i := 0; i < 200; i++ {
		s.RecordRequest("client", fmt.Sprintf("/e%d", i%20))
	}
	hot := s.Assess("client").Score

	// A single innocuous request shortly after must not reset the score.
	*clock = clock.Add(time.Second)
	s.RecordRequest("client", "/a")

	after := s.Assess("client").Score
	assert.Greater(t, after, hot*0.9)
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelLow, "low"},
		{LevelMedium, "medium"},
		{LevelHigh, "high"},
		{LevelCritical, "critical"},
		{Level(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}
