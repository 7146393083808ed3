package ratelimit

import (
	"fmt"
	"time"
)

// Tier identifies one rate-limiting window granularity. A request must fit
// under every configured tier simultaneously.
type Tier string

const (
	TierBurst  Tier = "burst"
	TierSecond Tier = "second"
	TierMinute Tier = "minute"
	TierHour   Tier = "hour"
	TierDay    Tier = "day"
)

// tierOrder lists tiers from shortest to longest window. Evaluation follows
// this order so the shortest window rejects first under a burst.
var tierOrder = []Tier{TierBurst, TierSecond, TierMinute, TierHour, TierDay}

// TierLimit is the nominal limit for one tier. The burst tier may use a
// window shorter than one second; all other tiers have fixed durations.
type TierLimit struct {
	Limit  int64
	Window time.Duration
}

// Duration returns the window duration for the tier.
func (t Tier) Duration(burstWindow time.Duration) time.Duration {
	switch t {
	case TierBurst:
		if burstWindow > 0 {
			return burstWindow
		}
		return time.Second
	case TierSecond:
		return time.Second
	case TierMinute:
		return time.Minute
	case TierHour:
		return time.Hour
	case TierDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// window describes one active fixed window for a (identifier, tier) pair.
// Windows are derived from the clock on access, so rollover is lazy and no
// background sweep is needed; the counter store's expiry reclaims old keys.
type window struct {
	tier     Tier
	start    time.Time
	duration time.Duration
	limit    int64
}

// currentWindow computes the active window for a tier at the given instant.
func currentWindow(tier Tier, limit int64, burstWindow time.Duration, now time.Time) window {
	d := tier.Duration(burstWindow)
	return window{
		tier:     tier,
		start:    now.Truncate(d),
		duration: d,
		limit:    limit,
	}
}

// key returns the counter-store key for the window. The window start is part
// of the key, so a rolled-over window naturally starts from a fresh counter.
func (w window) key(identifier string) string {
	return fmt.Sprintf("%s:%s:%d", identifier, w.tier, w.start.UnixNano())
}

// resetAfter returns how long until the window rolls over.
func (w window) resetAfter(now time.Time) time.Duration {
	remaining := w.start.Add(w.duration).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
