package ratelimit

import (
	"sync"
	"time"
)

// ewmaAlpha weights new latency samples in the rolling average.
const ewmaAlpha = 0.2

// AdaptiveConfig tunes latency-driven limit adjustment.
type AdaptiveConfig struct {
	// LatencyThreshold is the rolling-average latency above which the
	// effective limit is reduced.
	LatencyThreshold time.Duration

	// AdjustmentFactor multiplies the effective ratio on each observation
	// above threshold, and divides it on each observation below.
	AdjustmentFactor float64

	// MinRatio and MaxRatio clamp the effective ratio relative to the
	// nominal limit. MaxRatio never exceeds 1.
	MinRatio float64
	MaxRatio float64

	// IdleExpiry evicts state for pairs with no recent traffic.
	IdleExpiry time.Duration
}

// DefaultAdaptiveConfig returns defaults for adaptive adjustment.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		LatencyThreshold: 2 * time.Second,
		AdjustmentFactor: 0.8,
		MinRatio:         0.1,
		MaxRatio:         1.0,
		IdleExpiry:       30 * time.Minute,
	}
}

func (c AdaptiveConfig) normalized() AdaptiveConfig {
	d := DefaultAdaptiveConfig()
	if c.LatencyThreshold <= 0 {
		c.LatencyThreshold = d.LatencyThreshold
	}
	if c.AdjustmentFactor <= 0 || c.AdjustmentFactor >= 1 {
		c.AdjustmentFactor = d.AdjustmentFactor
	}
	if c.MinRatio <= 0 {
		c.MinRatio = d.MinRatio
	}
	if c.MaxRatio <= 0 || c.MaxRatio > 1 {
		c.MaxRatio = d.MaxRatio
	}
	if c.MinRatio > c.MaxRatio {
		c.MinRatio = c.MaxRatio
	}
	if c.IdleExpiry <= 0 {
		c.IdleExpiry = d.IdleExpiry
	}
	return c
}

// adaptiveState holds the rolling latency average and current ratio for one
// (identifier, endpoint) pair.
type adaptiveState struct {
	mu       sync.Mutex
	avg      time.Duration
	samples  int64
	ratio    float64
	lastSeen time.Time
}

// AdaptiveController scales effective rate limits from measured response
// times. While the rolling average stays above threshold the ratio only
// shrinks; once it recovers the ratio only grows back toward nominal, never
// past it.
type AdaptiveController struct {
	config AdaptiveConfig
	states sync.Map

	janitor *time.Ticker
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	now     func() time.Time
}

// NewAdaptiveController creates an adaptive controller.
func NewAdaptiveController(config AdaptiveConfig) *AdaptiveController {
	c := &AdaptiveController{
		config:  config.normalized(),
		janitor: time.NewTicker(time.Minute),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go c.runJanitor()
	return c
}

func (c *AdaptiveController) key(identifier, endpoint string) string {
	return identifier + "\x00" + endpoint
}

// Observe feeds one measured response time into the rolling average and
// adjusts the effective ratio for the pair.
func (c *AdaptiveController) Observe(identifier, endpoint string, latency time.Duration) {
	value, _ := c.states.LoadOrStore(c.key(identifier, endpoint), &adaptiveState{ratio: c.config.MaxRatio})
	s := value.(*adaptiveState)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples++
	s.lastSeen = c.now()
	if s.samples == 1 {
		s.avg = latency
	} else {
		s.avg = time.Duration(float64(s.avg) + ewmaAlpha*float64(latency-s.avg))
	}

	if s.avg > c.config.LatencyThreshold {
		s.ratio *= c.config.AdjustmentFactor
		if s.ratio < c.config.MinRatio {
			s.ratio = c.config.MinRatio
		}
	} else if s.ratio < c.config.MaxRatio {
		s.ratio /= c.config.AdjustmentFactor
		if s.ratio > c.config.MaxRatio {
			s.ratio = c.config.MaxRatio
		}
	}

	recordAdaptiveRatio(endpoint, s.ratio)
}

// Ratio returns the effective-limit ratio for the pair, 1.0 when the pair
// has no recorded state.
func (c *AdaptiveController) Ratio(identifier, endpoint string) float64 {
	value, ok := c.states.Load(c.key(identifier, endpoint))
	if !ok {
		return c.config.MaxRatio
	}

	s := value.(*adaptiveState)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratio
}

// Average returns the current rolling-average latency for the pair.
func (c *AdaptiveController) Average(identifier, endpoint string) (time.Duration, bool) {
	value, ok := c.states.Load(c.key(identifier, endpoint))
	if !ok {
		return 0, false
	}

	s := value.(*adaptiveState)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avg, s.samples > 0
}

func (c *AdaptiveController) runJanitor() {
	for {
		select {
		case <-c.done:
			return
		case <-c.janitor.C:
			cutoff := c.now().Add(-c.config.IdleExpiry)
			c.states.Range(func(key, value any) bool {
				s := value.(*adaptiveState)
				s.mu.Lock()
				idle := s.lastSeen.Before(cutoff)
				s.mu.Unlock()
				if idle {
					c.states.Delete(key)
				}
				return true
			})
		}
	}
}

// Close stops the background janitor.
func (c *AdaptiveController) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.janitor.Stop()
	close(c.done)
}
