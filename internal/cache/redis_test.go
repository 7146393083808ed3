package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*redisCache, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := DefaultConfig()
	cfg.Backend = BackendRedis
	cfg.StaleRetention = time.Hour

	c := newRedisCacheFromClient(client, cfg)
	t.Cleanup(func() { _ = c.Close() })

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	c.now = func() time.Time { return *clock }

	return c, clock
}

func TestRedisCache_SetGet(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("payload"), time.Minute))

	entry, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), entry.Payload)
	assert.Equal(t, ContentHash([]byte("payload")), entry.ContentHash)
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := newTestRedisCache(t)

	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_ExpiredEntryServedStale(t *testing.T) {
	c, clock := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("payload"), time.Minute))

	// Past the TTL but within stale retention: fresh read misses, stale
	// read succeeds.
	*clock = clock.Add(2 * time.Minute)

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)

	entry, err := c.GetStale(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), entry.Payload)
}

func TestRedisCache_Delete(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("payload"), time.Minute))
	require.NoError(t, c.Delete(ctx, "key"))

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_RequiresAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendRedis
	cfg.RedisAddress = ""

	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
