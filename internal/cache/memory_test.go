package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryCache(t *testing.T, cfg *Config) (*memoryCache, *time.Time) {
	t.Helper()

	if cfg == nil {
		cfg = DefaultConfig()
	}

	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	mc := c.(*memoryCache)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	mc.now = func() time.Time { return *clock }

	return mc, clock
}

func TestMemoryCache_SetGet(t *testing.T) {
	c, _ := newTestMemoryCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("payload"), time.Minute))

	entry, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), entry.Payload)
	assert.Equal(t, ContentHash([]byte("payload")), entry.ContentHash)
}

func TestMemoryCache_Miss(t *testing.T) {
	c, _ := newTestMemoryCache(t, nil)

	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_ExpiredEntryMissesButServesStale(t *testing.T) {
	c, clock := newTestMemoryCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("payload"), time.Minute))

	*clock = clock.Add(2 * time.Minute)

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)

	entry, err := c.GetStale(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), entry.Payload)
}

func TestMemoryCache_IdenticalPayloadsShareHash(t *testing.T) {
	c, _ := newTestMemoryCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("same"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("same"), time.Minute))

	ea, err := c.Get(ctx, "a")
	require.NoError(t, err)
	eb, err := c.Get(ctx, "b")
	require.NoError(t, err)

	assert.Equal(t, ea.ContentHash, eb.ContentHash)
	assert.Equal(t, ea.Payload, eb.Payload)
}

func TestMemoryCache_NewerEntrySupersedes(t *testing.T) {
	c, _ := newTestMemoryCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("v1"), time.Minute))

	first, err := c.Get(ctx, "key")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "key", []byte("v2"), time.Minute))

	second, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), second.Payload)

	// The first entry was not mutated in place.
	assert.Equal(t, []byte("v1"), first.Payload)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	c, _ := newTestMemoryCache(t, cfg)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("b"), time.Minute))

	// Touch "a" so "b" is the LRU victim.
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "c", []byte("c"), time.Minute))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestMemoryCache_Delete(t *testing.T) {
	c, _ := newTestMemoryCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("payload"), time.Minute))
	require.NoError(t, c.Delete(ctx, "key"))

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.GetStale(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_ReapRemovesLongExpired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleRetention = time.Minute
	c, clock := newTestMemoryCache(t, cfg)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("payload"), time.Minute))

	*clock = clock.Add(3 * time.Minute)
	c.reapStale()

	_, err := c.GetStale(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Stats(t *testing.T) {
	c, _ := newTestMemoryCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("payload"), time.Minute))

	_, _ = c.Get(ctx, "key")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Size)
	assert.Equal(t, 50.0, stats.HitRate())
}

func TestMemoryCache_ZeroTTLUsesDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultTTL = time.Minute
	c, clock := newTestMemoryCache(t, cfg)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("payload"), 0))

	*clock = clock.Add(30 * time.Second)
	_, err := c.Get(ctx, "key")
	assert.NoError(t, err)

	*clock = clock.Add(time.Minute)
	_, err = c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
