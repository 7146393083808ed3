package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/statgate/statgate/internal/observability"
)

// redisCache stores entries in Redis. The Redis expiry is the entry TTL
// plus the stale retention, so expired-but-recent entries remain readable
// through GetStale; freshness itself is judged from the stored entry.
type redisCache struct {
	client *redis.Client
	prefix string
	cfg    *Config
	logger observability.Logger
	now    func() time.Time
}

func newRedisCache(cfg *Config) (*redisCache, error) {
	if cfg.RedisAddress == "" {
		return nil, fmt.Errorf("%w: redis backend requires an address", ErrInvalidConfig)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddress, err)
	}

	return newRedisCacheFromClient(client, cfg), nil
}

// newRedisCacheFromClient wraps an existing client. Used by tests.
func newRedisCacheFromClient(client *redis.Client, cfg *Config) *redisCache {
	prefix := cfg.RedisPrefix
	if prefix == "" {
		prefix = "cache:"
	}
	return &redisCache{
		client: client,
		prefix: prefix,
		cfg:    cfg,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

func (c *redisCache) key(key string) string {
	return c.prefix + key
}

func (c *redisCache) load(ctx context.Context, key string) (*Entry, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &entry, nil
}

// Get implements Cache.
func (c *redisCache) Get(ctx context.Context, key string) (*Entry, error) {
	entry, err := c.load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			recordLookup("redis", "miss")
		}
		return nil, err
	}

	if !entry.Fresh(c.now()) {
		recordLookup("redis", "expired")
		return nil, ErrCacheMiss
	}

	recordLookup("redis", "hit")
	return entry, nil
}

// GetStale implements Cache.
func (c *redisCache) GetStale(ctx context.Context, key string) (*Entry, error) {
	entry, err := c.load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			recordLookup("redis", "stale_miss")
		}
		return nil, err
	}

	recordLookup("redis", "stale_hit")
	return entry, nil
}

// Set implements Cache.
func (c *redisCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	entry := newEntry(payload, ttl, c.now())

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	expiry := ttl + c.cfg.StaleRetention
	if err := c.client.Set(ctx, c.key(key), data, expiry).Err(); err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

// Delete implements Cache.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis cache delete: %w", err)
	}
	return nil
}

// Close implements Cache.
func (c *redisCache) Close() error {
	return c.client.Close()
}
