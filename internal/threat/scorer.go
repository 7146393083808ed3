package threat

import (
	"math"
	"sync"
	"time"

	"github.com/statgate/statgate/internal/observability"
)

// Level classifies an identifier's threat score.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Evidence summarizes the recent events behind a score.
type Evidence struct {
	RequestsInWindow  int `json:"requests_in_window"`
	DistinctEndpoints int `json:"distinct_endpoints"`
	AuthFailures      int `json:"auth_failures"`
}

// Assessment is the scorer's verdict for one identifier.
type Assessment struct {
	Identifier  string    `json:"identifier"`
	Score       float64   `json:"score"`
	Level       Level     `json:"level"`
	Evidence    Evidence  `json:"evidence"`
	LastUpdated time.Time `json:"last_updated"`
}

// Config tunes threat scoring.
type Config struct {
	// VelocityWindow and VelocityLimit define the request-rate signal:
	// VelocityLimit requests within VelocityWindow saturates the signal.
	VelocityWindow time.Duration
	VelocityLimit  int

	// FanoutWindow and FanoutLimit define the endpoint fan-out signal:
	// FanoutLimit distinct endpoints within FanoutWindow saturates it.
	FanoutWindow time.Duration
	FanoutLimit  int

	// AuthFailureWindow and AuthFailureLimit define the failed-auth signal.
	AuthFailureWindow time.Duration
	AuthFailureLimit  int

	// Signal weights. The combined score is clamped to [0, 1].
	VelocityWeight    float64
	FanoutWeight      float64
	AuthFailureWeight float64

	// DecayHalfLife halves a stale score for every interval without new
	// evidence.
	DecayHalfLife time.Duration

	// Score thresholds for the bands above LevelLow.
	MediumThreshold   float64
	HighThreshold     float64
	CriticalThreshold float64

	// IdleExpiry evicts identifiers with no recent events.
	IdleExpiry time.Duration

	Logger observability.Logger
}

// DefaultConfig returns scoring defaults.
func DefaultConfig() *Config {
	return &Config{
		VelocityWindow:    time.Minute,
		VelocityLimit:     120,
		FanoutWindow:      10 * time.Second,
		FanoutLimit:       10,
		AuthFailureWindow: time.Minute,
		AuthFailureLimit:  5,
		VelocityWeight:    0.45,
		FanoutWeight:      0.45,
		AuthFailureWeight: 0.4,
		DecayHalfLife:     time.Minute,
		MediumThreshold:   0.4,
		HighThreshold:     0.65,
		CriticalThreshold: 0.85,
		IdleExpiry:        30 * time.Minute,
	}
}

func (c *Config) normalize() *Config {
	d := DefaultConfig()
	if c.VelocityWindow <= 0 {
		c.VelocityWindow = d.VelocityWindow
	}
	if c.VelocityLimit <= 0 {
		c.VelocityLimit = d.VelocityLimit
	}
	if c.FanoutWindow <= 0 {
		c.FanoutWindow = d.FanoutWindow
	}
	if c.FanoutLimit <= 0 {
		c.FanoutLimit = d.FanoutLimit
	}
	if c.AuthFailureWindow <= 0 {
		c.AuthFailureWindow = d.AuthFailureWindow
	}
	if c.AuthFailureLimit <= 0 {
		c.AuthFailureLimit = d.AuthFailureLimit
	}
	if c.VelocityWeight <= 0 {
		c.VelocityWeight = d.VelocityWeight
	}
	if c.FanoutWeight <= 0 {
		c.FanoutWeight = d.FanoutWeight
	}
	if c.AuthFailureWeight <= 0 {
		c.AuthFailureWeight = d.AuthFailureWeight
	}
	if c.DecayHalfLife <= 0 {
		c.DecayHalfLife = d.DecayHalfLife
	}
	if c.MediumThreshold <= 0 {
		c.MediumThreshold = d.MediumThreshold
	}
	if c.HighThreshold <= 0 {
		c.HighThreshold = d.HighThreshold
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = d.CriticalThreshold
	}
	if c.IdleExpiry <= 0 {
		c.IdleExpiry = d.IdleExpiry
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger()
	}
	return c
}

// event is one recorded signal occurrence.
type event struct {
	at          time.Time
	endpoint    string
	authFailure bool
}

// identifierState holds the event log and last score for one identifier.
type identifierState struct {
	mu        sync.Mutex
	events    []event
	score     float64
	updatedAt time.Time
}

// Scorer maintains a decaying threat score per identifier from the raw event
// log it owns. It never consults the limiter; the limiter queries it
// read-only.
type Scorer struct {
	config *Config
	logger observability.Logger
	states sync.Map

	janitor *time.Ticker
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	now     func() time.Time
}

// NewScorer creates a threat scorer.
func NewScorer(config *Config) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.normalize()

	s := &Scorer{
		config:  config,
		logger:  config.Logger,
		janitor: time.NewTicker(time.Minute),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go s.runJanitor()
	return s
}

func (s *Scorer) state(identifier string) *identifierState {
	value, _ := s.states.LoadOrStore(identifier, &identifierState{})
	return value.(*identifierState)
}

// RecordRequest records one request event for the identifier.
func (s *Scorer) RecordRequest(identifier, endpoint string) {
	s.record(identifier, event{at: s.now(), endpoint: endpoint})
}

// RecordAuthFailure records one failed authentication for the identifier.
func (s *Scorer) RecordAuthFailure(identifier string) {
	s.record(identifier, event{at: s.now(), authFailure: true})
}

func (s *Scorer) record(identifier string, ev event) {
	st := s.state(identifier)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.events = append(st.events, ev)
	s.pruneLocked(st, ev.at)
	s.rescoreLocked(identifier, st, ev.at)
}

// Assess returns the current assessment for the identifier. The stored
// score decays between events, so repeated assessments of a quiet
// identifier trend back toward zero.
func (s *Scorer) Assess(identifier string) Assessment {
	value, ok := s.states.Load(identifier)
	if !ok {
		return Assessment{Identifier: identifier, Level: LevelLow}
	}

	st := value.(*identifierState)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := s.now()
	s.pruneLocked(st, now)
	score := s.decayedScoreLocked(st, now)
	ev := s.evidenceLocked(st, now)

	return Assessment{
		Identifier:  identifier,
		Score:       score,
		Level:       s.level(score),
		Evidence:    ev,
		LastUpdated: st.updatedAt,
	}
}

// pruneLocked drops events older than the longest signal window.
func (s *Scorer) pruneLocked(st *identifierState, now time.Time) {
	keep := s.config.VelocityWindow
	if s.config.AuthFailureWindow > keep {
		keep = s.config.AuthFailureWindow
	}
	if s.config.FanoutWindow > keep {
		keep = s.config.FanoutWindow
	}
	cutoff := now.Add(-keep)

	i := 0
	for i < len(st.events) && st.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		st.events = append(st.events[:0], st.events[i:]...)
	}
}

func (s *Scorer) evidenceLocked(st *identifierState, now time.Time) Evidence {
	velocityCutoff := now.Add(-s.config.VelocityWindow)
	fanoutCutoff := now.Add(-s.config.FanoutWindow)
	authCutoff := now.Add(-s.config.AuthFailureWindow)

	endpoints := make(map[string]struct{})
	ev := Evidence{}
	for _, e := range st.events {
		if e.authFailure {
			if !e.at.Before(authCutoff) {
				ev.AuthFailures++
			}
			continue
		}
		if !e.at.Before(velocityCutoff) {
			ev.RequestsInWindow++
		}
		if !e.at.Before(fanoutCutoff) {
			endpoints[e.endpoint] = struct{}{}
		}
	}
	ev.DistinctEndpoints = len(endpoints)
	return ev
}

// rescoreLocked recomputes the score from current evidence. A fresh signal
// score never lowers the stored score below its decayed value.
func (s *Scorer) rescoreLocked(identifier string, st *identifierState, now time.Time) {
	ev := s.evidenceLocked(st, now)

	velocity := saturate(float64(ev.RequestsInWindow) / float64(s.config.VelocityLimit))
	fanout := saturate(float64(ev.DistinctEndpoints) / float64(s.config.FanoutLimit))
	authFailures := saturate(float64(ev.AuthFailures) / float64(s.config.AuthFailureLimit))

	signal := saturate(velocity*s.config.VelocityWeight +
		fanout*s.config.FanoutWeight +
		authFailures*s.config.AuthFailureWeight)

	decayed := s.decayedScoreLocked(st, now)
	if signal > decayed {
		st.score = signal
	} else {
		st.score = decayed
	}
	st.updatedAt = now

	level := s.level(st.score)
	recordScore(level)
	if level >= LevelHigh {
		s.logger.Warn("elevated threat score",
			observability.String("identifier", identifier),
			observability.Float64("score", st.score),
			observability.String("level", level.String()),
			observability.Int("requests_in_window", ev.RequestsInWindow),
			observability.Int("distinct_endpoints", ev.DistinctEndpoints),
			observability.Int("auth_failures", ev.AuthFailures),
		)
	}
}

func (s *Scorer) decayedScoreLocked(st *identifierState, now time.Time) float64 {
	if st.updatedAt.IsZero() || st.score == 0 {
		return st.score
	}
	elapsed := now.Sub(st.updatedAt)
	if elapsed <= 0 {
		return st.score
	}
	halfLives := float64(elapsed) / float64(s.config.DecayHalfLife)
	return st.score * math.Pow(0.5, halfLives)
}

func (s *Scorer) level(score float64) Level {
	switch {
	case score >= s.config.CriticalThreshold:
		return LevelCritical
	case score >= s.config.HighThreshold:
		return LevelHigh
	case score >= s.config.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func saturate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *Scorer) runJanitor() {
	for {
		select {
		case <-s.done:
			return
		case <-s.janitor.C:
			cutoff := s.now().Add(-s.config.IdleExpiry)
			s.states.Range(func(key, value any) bool {
				st := value.(*identifierState)
				st.mu.Lock()
				idle := st.updatedAt.Before(cutoff)
				st.mu.Unlock()
				if idle {
					s.states.Delete(key)
				}
				return true
			})
		}
	}
}

// Close stops the background janitor.
func (s *Scorer) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.janitor.Stop()
	close(s.done)
}
