package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/statgate/statgate/internal/observability"
	"github.com/statgate/statgate/internal/ratelimit/store"
	"github.com/statgate/statgate/internal/threat"
)

// ThreatAssessor is the read-only view of the threat scorer the limiter
// consults before granting quota.
type ThreatAssessor interface {
	Assess(identifier string) threat.Assessment
}

// Config holds limiter configuration.
type Config struct {
	// Tiers maps each enabled tier to its nominal limit. Tiers with a
	// zero or negative limit are disabled.
	Tiers map[Tier]int64

	// BurstWindow is the burst tier's window size.
	BurstWindow time.Duration

	// BlockDuration is how long a Critical identifier stays blocked.
	BlockDuration time.Duration

	// ThreatAdjustmentFactor scales effective limits for Medium threat
	// identifiers (applied twice for High). Defaults to the adaptive
	// controller's adjustment factor when zero.
	ThreatAdjustmentFactor float64

	Logger observability.Logger
}

// DefaultConfig returns limiter defaults.
func DefaultConfig() *Config {
	return &Config{
		Tiers: map[Tier]int64{
			TierBurst:  10,
			TierSecond: 10,
			TierMinute: 60,
			TierHour:   1000,
			TierDay:    10000,
		},
		BurstWindow:            time.Second,
		BlockDuration:          15 * time.Minute,
		ThreatAdjustmentFactor: 0.8,
	}
}

// Result is the outcome of one limiter check.
type Result struct {
	Allowed bool

	// Tier is the tier that determined the outcome: the violated tier on
	// denial, the tightest remaining tier on allow.
	Tier      Tier
	Remaining int64

	// ResetAfter is how long until the determining tier's window rolls
	// over. RetryAfter is set only on denial.
	ResetAfter time.Duration
	RetryAfter time.Duration

	// Blocked is set when the denial came from a block entry rather than
	// quota.
	Blocked        bool
	BlockReason    string
	BlockExpiresAt time.Time
}

// Err returns the typed error for a denied result, nil for an allowed one.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	if r.Blocked {
		return &ThreatBlockedError{Reason: r.BlockReason, ExpiresAt: r.BlockExpiresAt}
	}
	return &RateLimitExceededError{Tier: r.Tier, RetryAfter: r.RetryAfter}
}

// Limiter enforces multi-tier rate limits with AND semantics: a request is
// allowed only when it fits under every enabled tier. Counters live in the
// injected store; in distributed mode that is the shared store wrapped with
// a local fallback, and callers never see which backend is active.
type Limiter struct {
	config    *Config
	counters  store.Store
	blocklist *Blocklist
	adaptive  *AdaptiveController
	assessor  ThreatAssessor
	logger    observability.Logger
	now       func() time.Time

	// tiers is guarded separately so limits can be replaced at runtime by
	// a config reload.
	tiersMu sync.RWMutex
	tiers   map[Tier]int64
}

// NewLimiter creates a limiter. blocklist, adaptive, and assessor may be nil
// to disable the corresponding gate.
func NewLimiter(
	config *Config,
	counters store.Store,
	blocklist *Blocklist,
	adaptive *AdaptiveController,
	assessor ThreatAssessor,
) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	if config.BurstWindow <= 0 {
		config.BurstWindow = time.Second
	}
	if config.BlockDuration <= 0 {
		config.BlockDuration = 15 * time.Minute
	}
	if config.ThreatAdjustmentFactor <= 0 || config.ThreatAdjustmentFactor >= 1 {
		config.ThreatAdjustmentFactor = 0.8
	}

	tiers := make(map[Tier]int64, len(config.Tiers))
	for tier, limit := range config.Tiers {
		tiers[tier] = limit
	}

	return &Limiter{
		config:    config,
		counters:  counters,
		blocklist: blocklist,
		adaptive:  adaptive,
		assessor:  assessor,
		logger:    config.Logger,
		now:       time.Now,
		tiers:     tiers,
	}
}

// UpdateTiers replaces the tier limits at runtime. In-flight checks finish
// against the limits they started with.
func (l *Limiter) UpdateTiers(tiers map[Tier]int64) {
	next := make(map[Tier]int64, len(tiers))
	for tier, limit := range tiers {
		next[tier] = limit
	}

	l.tiersMu.Lock()
	l.tiers = next
	l.tiersMu.Unlock()

	l.logger.Info("rate limit tiers updated",
		observability.Int("tiers", len(next)),
	)
}

// tierLimits returns the current tier map. The map is replaced wholesale on
// update, never mutated, so reading it without copying is safe.
func (l *Limiter) tierLimits() map[Tier]int64 {
	l.tiersMu.RLock()
	defer l.tiersMu.RUnlock()
	return l.tiers
}

// Blocklist exposes the limiter's block list for administrative operations.
func (l *Limiter) Blocklist() *Blocklist {
	return l.blocklist
}

// Check evaluates one request for the identifier against the block list,
// the threat score, and every enabled tier, consuming quota when allowed.
// The block list is consulted first: an active block denies regardless of
// remaining quota.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string) (*Result, error) {
	now := l.now()

	if l.blocklist != nil {
		if entry, ok := l.blocklist.Get(identifier); ok {
			recordDecision("blocked")
			return l.blockedResult(entry, now), nil
		}
	}

	ratio := 1.0
	if l.assessor != nil {
		assessment := l.assessor.Assess(identifier)
		switch assessment.Level {
		case threat.LevelCritical:
			if l.blocklist != nil {
				reason := fmt.Sprintf("threat score %.2f (critical)", assessment.Score)
				entry := l.blocklist.Block(ctx, identifier, reason, l.config.BlockDuration)
				recordDecision("blocked")
				return l.blockedResult(entry, now), nil
			}
			ratio *= l.config.ThreatAdjustmentFactor * l.config.ThreatAdjustmentFactor
		case threat.LevelHigh:
			ratio *= l.config.ThreatAdjustmentFactor * l.config.ThreatAdjustmentFactor
		case threat.LevelMedium:
			ratio *= l.config.ThreatAdjustmentFactor
		}
	}
	if l.adaptive != nil {
		ratio *= l.adaptive.Ratio(identifier, endpoint)
	}

	var (
		tightest      Tier
		tightestLeft  int64 = math.MaxInt64
		tightestReset time.Duration
		violated      bool
		violatedTier  Tier
		violatedRetry time.Duration
		enabled       int
	)

	limits := l.tierLimits()
	for _, tier := range tierOrder {
		nominal, ok := limits[tier]
		if !ok || nominal <= 0 {
			continue
		}
		eff := effectiveLimit(nominal, ratio)

		w := currentWindow(tier, eff, l.config.BurstWindow, now)
		enabled++

		if violated {
			// A shorter tier already denied; the longer tiers are read
			// without consuming quota so retry_after reflects the
			// slowest violated window.
			count, err := l.counters.Get(ctx, w.key(identifier))
			if err != nil {
				if store.IsKeyNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("rate limit counter read: %w", err)
			}
			if count >= eff {
				reset := w.resetAfter(now)
				if reset > violatedRetry {
					violatedRetry = reset
					violatedTier = tier
				}
			}
			continue
		}

		count, err := l.counters.IncrementWithExpiry(ctx, w.key(identifier), 1, w.duration)
		if err != nil {
			return nil, fmt.Errorf("rate limit counter increment: %w", err)
		}

		if count > eff {
			violated = true
			violatedTier = tier
			violatedRetry = w.resetAfter(now)
			recordTierDenial(string(tier))
			continue
		}

		if left := eff - count; left < tightestLeft {
			tightestLeft = left
			tightest = tier
			tightestReset = w.resetAfter(now)
		}
	}

	if violated {
		recordDecision("denied")
		return &Result{
			Allowed:    false,
			Tier:       violatedTier,
			Remaining:  0,
			RetryAfter: violatedRetry,
			ResetAfter: violatedRetry,
		}, nil
	}

	if enabled == 0 {
		// No tiers enabled, everything passes.
		recordDecision("allowed")
		return &Result{Allowed: true}, nil
	}

	recordDecision("allowed")
	return &Result{
		Allowed:    true,
		Tier:       tightest,
		Remaining:  tightestLeft,
		ResetAfter: tightestReset,
	}, nil
}

// Observe feeds a measured response time into the adaptive controller.
func (l *Limiter) Observe(identifier, endpoint string, latency time.Duration) {
	if l.adaptive != nil {
		l.adaptive.Observe(identifier, endpoint, latency)
	}
}

// TightestLimit returns the smallest enabled tier limit. The API client
// derives its batch concurrency bound from it.
func (l *Limiter) TightestLimit() int64 {
	var tightest int64 = math.MaxInt64
	for _, limit := range l.tierLimits() {
		if limit > 0 && limit < tightest {
			tightest = limit
		}
	}
	if tightest == math.MaxInt64 {
		return 0
	}
	return tightest
}

// Stats is a snapshot of limiter state for health reporting.
type Stats struct {
	BlockedIdentifiers int  `json:"blocked_identifiers"`
	UsingLocalCounters bool `json:"using_local_counters"`
}

// Stats returns a snapshot for health reporting.
func (l *Limiter) Stats() Stats {
	s := Stats{}
	if l.blocklist != nil {
		s.BlockedIdentifiers = l.blocklist.Len()
	}
	if f, ok := l.counters.(*store.FallbackStore); ok {
		s.UsingLocalCounters = f.UsingLocal()
	}
	return s
}

func (l *Limiter) blockedResult(entry *BlockEntry, now time.Time) *Result {
	retry := entry.ExpiresAt.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return &Result{
		Allowed:        false,
		Blocked:        true,
		BlockReason:    entry.Reason,
		BlockExpiresAt: entry.ExpiresAt,
		RetryAfter:     retry,
	}
}

// effectiveLimit scales a nominal limit by the combined adjustment ratio,
// clamped to [1, nominal].
func effectiveLimit(nominal int64, ratio float64) int64 {
	if ratio >= 1 {
		return nominal
	}
	eff := int64(math.Ceil(float64(nominal) * ratio))
	if eff < 1 {
		eff = 1
	}
	if eff > nominal {
		eff = nominal
	}
	return eff
}
