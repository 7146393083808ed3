package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/statgate/statgate/internal/observability"
)

// memoryCache is an in-process LRU cache. Expired entries stay resident
// for stale reads until StaleRetention passes or capacity evicts them.
type memoryCache struct {
	cfg    *Config
	logger observability.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List

	hits      int64
	misses    int64
	staleHits int64

	janitor *time.Ticker
	done    chan struct{}
	closed  bool
	now     func() time.Time
}

type memoryEntry struct {
	key   string
	entry *Entry
}

func newMemoryCache(cfg *Config) *memoryCache {
	c := &memoryCache{
		cfg:     cfg,
		logger:  cfg.Logger,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		janitor: time.NewTicker(time.Minute),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go c.runJanitor()
	return c
}

// Get implements Cache.
func (c *memoryCache) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		recordLookup("memory", "miss")
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry).entry
	if !entry.Fresh(c.now()) {
		c.misses++
		recordLookup("memory", "expired")
		return nil, ErrCacheMiss
	}

	c.lru.MoveToFront(elem)
	c.hits++
	recordLookup("memory", "hit")
	return entry, nil
}

// GetStale implements Cache.
func (c *memoryCache) GetStale(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		recordLookup("memory", "stale_miss")
		return nil, ErrCacheMiss
	}

	c.staleHits++
	recordLookup("memory", "stale_hit")
	return elem.Value.(*memoryEntry).entry, nil
}

// Set implements Cache.
func (c *memoryCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	entry := newEntry(payload, ttl, c.now())

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		// Supersede, never mutate.
		elem.Value = &memoryEntry{key: key, entry: entry}
		c.lru.MoveToFront(elem)
		return nil
	}

	c.entries[key] = c.lru.PushFront(&memoryEntry{key: key, entry: entry})

	for c.cfg.MaxEntries > 0 && len(c.entries) > c.cfg.MaxEntries {
		c.evictOldestLocked()
	}
	return nil
}

// Delete implements Cache.
func (c *memoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.Remove(elem)
		delete(c.entries, key)
	}
	return nil
}

// Stats returns a statistics snapshot.
func (c *memoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		StaleHits: c.staleHits,
		Size:      int64(len(c.entries)),
	}
}

// Close implements Cache.
func (c *memoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.janitor.Stop()
	close(c.done)
	return nil
}

func (c *memoryCache) evictOldestLocked() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	c.lru.Remove(elem)
	delete(c.entries, elem.Value.(*memoryEntry).key)
	recordEviction("memory")
}

// runJanitor reaps entries past their stale retention.
func (c *memoryCache) runJanitor() {
	for {
		select {
		case <-c.done:
			return
		case <-c.janitor.C:
			c.reapStale()
		}
	}
}

func (c *memoryCache) reapStale() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, elem := range c.entries {
		entry := elem.Value.(*memoryEntry).entry
		if entry.TTL <= 0 {
			continue
		}
		if now.After(entry.StoredAt.Add(entry.TTL + c.cfg.StaleRetention)) {
			c.lru.Remove(elem)
			delete(c.entries, key)
			recordEviction("memory")
		}
	}
}
