package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBlockStore is an in-memory BlockStore for tests.
type memoryBlockStore struct {
	mu      sync.Mutex
	entries map[string]*BlockEntry
	failing bool
}

func newMemoryBlockStore() *memoryBlockStore {
	return &memoryBlockStore{entries: make(map[string]*BlockEntry)}
}

func (s *memoryBlockStore) SaveBlock(ctx context.Context, entry *BlockEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store unavailable")
	}
	s.entries[entry.Identifier] = entry
	return nil
}

func (s *memoryBlockStore) DeleteBlock(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store unavailable")
	}
	delete(s.entries, identifier)
	return nil
}

func (s *memoryBlockStore) ListBlocks(ctx context.Context) ([]*BlockEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("store unavailable")
	}
	out := make([]*BlockEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *memoryBlockStore) has(identifier string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[identifier]
	return ok
}

func TestBlocklist_BlockAndGet(t *testing.T) {
	b := NewBlocklist(nil, nil)
	ctx := context.Background()

	entry := b.Block(ctx, "client", "manual", time.Hour)
	assert.Equal(t, "client", entry.Identifier)
	assert.Equal(t, "manual", entry.Reason)

	got, ok := b.Get("client")
	require.True(t, ok)
	assert.Equal(t, entry, got)

	_, ok = b.Get("other")
	assert.False(t, ok)
}

func TestBlocklist_Unblock(t *testing.T) {
	b := NewBlocklist(nil, nil)
	ctx := context.Background()

	b.Block(ctx, "client", "manual", time.Hour)

	assert.True(t, b.Unblock(ctx, "client"))
	assert.False(t, b.Unblock(ctx, "client"))

	_, ok := b.Get("client")
	assert.False(t, ok)
}

func TestBlocklist_ExpiredEntriesIgnored(t *testing.T) {
	b := NewBlocklist(nil, nil)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.Block(ctx, "client", "manual", time.Minute)

	_, ok := b.Get("client")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)

	_, ok = b.Get("client")
	assert.False(t, ok)
}

func TestBlocklist_PersistsThroughStore(t *testing.T) {
	s := newMemoryBlockStore()
	b := NewBlocklist(s, nil)
	ctx := context.Background()

	b.Block(ctx, "client", "manual", time.Hour)
	assert.True(t, s.has("client"))

	b.Unblock(ctx, "client")
	assert.False(t, s.has("client"))
}

func TestBlocklist_LoadRestoresActiveBlocks(t *testing.T) {
	s := newMemoryBlockStore()
	ctx := context.Background()

	now := time.Now()
	s.entries["active"] = &BlockEntry{
		Identifier: "active",
		Reason:     "threat",
		CreatedAt:  now.Add(-time.Minute),
		ExpiresAt:  now.Add(time.Hour),
	}
	s.entries["expired"] = &BlockEntry{
		Identifier: "expired",
		Reason:     "threat",
		CreatedAt:  now.Add(-2 * time.Hour),
		ExpiresAt:  now.Add(-time.Hour),
	}

	b := NewBlocklist(s, nil)
	require.NoError(t, b.Load(ctx))

	_, ok := b.Get("active")
	assert.True(t, ok)

	_, ok = b.Get("expired")
	assert.False(t, ok)
}

func TestBlocklist_StoreFailureStillBlocks(t *testing.T) {
	s := newMemoryBlockStore()
	s.failing = true

	b := NewBlocklist(s, nil)
	ctx := context.Background()

	// Persistence is best-effort; the in-memory block must hold.
	b.Block(ctx, "client", "manual", time.Hour)

	_, ok := b.Get("client")
	assert.True(t, ok)
}
