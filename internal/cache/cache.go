// Package cache provides TTL-keyed response caching with stale-read
// fallback.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/statgate/statgate/internal/observability"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// Entry is one cached payload. Entries are immutable once written; a
// newer write under the same key supersedes rather than mutates.
type Entry struct {
	Payload     []byte        `json:"payload"`
	ContentHash string        `json:"content_hash"`
	StoredAt    time.Time     `json:"stored_at"`
	TTL         time.Duration `json:"ttl"`
}

// Fresh reports whether the entry is within its TTL.
func (e *Entry) Fresh(now time.Time) bool {
	if e.TTL <= 0 {
		return true
	}
	return now.Before(e.StoredAt.Add(e.TTL))
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Cache stores responses keyed by request identity. Get returns only fresh
// entries; GetStale also returns expired ones that have not yet been
// evicted, for fallback when the upstream is unavailable.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	GetStale(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Stats contains cache statistics.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	StaleHits int64 `json:"stale_hits"`
	Size      int64 `json:"size"`
}

// HitRate returns the hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Backend identifiers.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds cache configuration.
type Config struct {
	// Backend selects the storage backend, "memory" or "redis".
	Backend string

	// DefaultTTL applies when Set is called with a zero ttl.
	DefaultTTL time.Duration

	// StaleRetention is how long an expired entry stays available for
	// stale reads before it is evicted.
	StaleRetention time.Duration

	// MaxEntries bounds the memory backend (LRU eviction).
	MaxEntries int

	// Redis holds connection settings for the redis backend.
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	Logger observability.Logger
}

// DefaultConfig returns cache defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:        BackendMemory,
		DefaultTTL:     5 * time.Minute,
		StaleRetention: time.Hour,
		MaxEntries:     10000,
		RedisPrefix:    "cache:",
	}
}

// New creates a cache from the configuration.
func New(cfg *Config) (Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	switch cfg.Backend {
	case BackendMemory, "":
		return newMemoryCache(cfg), nil
	case BackendRedis:
		return newRedisCache(cfg)
	default:
		return nil, ErrInvalidConfig
	}
}

// ContentHash returns the hex sha256 digest of the payload. Stored with
// the entry so callers can verify payload identity across fetches.
func ContentHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// newEntry builds an immutable entry for the payload.
func newEntry(payload []byte, ttl time.Duration, now time.Time) *Entry {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &Entry{
		Payload:     buf,
		ContentHash: ContentHash(buf),
		StoredAt:    now,
		TTL:         ttl,
	}
}
