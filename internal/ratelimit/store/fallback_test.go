package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore wraps a MemoryStore and fails every operation while down.
type flakyStore struct {
	*MemoryStore

	mu   sync.Mutex
	down bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore()}
}

func (f *flakyStore) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyStore) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("connection refused")
	}
	return nil
}

func (f *flakyStore) Get(ctx context.Context, key string) (int64, error) {
	if err := f.err(); err != nil {
		return 0, err
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.MemoryStore.Set(ctx, key, value, expiration)
}

func (f *flakyStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	if err := f.err(); err != nil {
		return 0, err
	}
	return f.MemoryStore.Increment(ctx, key, delta)
}

func (f *flakyStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	if err := f.err(); err != nil {
		return 0, err
	}
	return f.MemoryStore.IncrementWithExpiry(ctx, key, delta, expiration)
}

func (f *flakyStore) Ping(ctx context.Context) error {
	return f.err()
}

func TestFallbackStore_UsesSharedWhenHealthy(t *testing.T) {
	shared := newFlakyStore()
	local := NewMemoryStore()

	f := NewFallbackStore(shared, local, nil)
	defer f.Close()

	ctx := context.Background()

	val, err := f.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
	assert.False(t, f.UsingLocal())

	// The local store saw nothing.
	_, err = local.Get(ctx, "counter")
	assert.True(t, IsKeyNotFound(err))
}

func TestFallbackStore_SwitchesToLocalOnFailure(t *testing.T) {
	shared := newFlakyStore()
	local := NewMemoryStore()

	f := NewFallbackStore(shared, local, &FallbackConfig{ProbeInterval: time.Hour})
	defer f.Close()

	ctx := context.Background()

	_, err := f.Increment(ctx, "counter", 1)
	require.NoError(t, err)

	shared.setDown(true)

	// Operation is retried against the local store, so the caller never
	// sees the shared outage.
	val, err := f.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
	assert.True(t, f.UsingLocal())

	// Subsequent operations stay local without touching the shared store.
	val, err = f.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)
}

func TestFallbackStore_RecoversToShared(t *testing.T) {
	shared := newFlakyStore()
	local := NewMemoryStore()

	f := NewFallbackStore(shared, local, &FallbackConfig{ProbeInterval: 10 * time.Millisecond})
	defer f.Close()

	ctx := context.Background()

	shared.setDown(true)
	_, err := f.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	require.True(t, f.UsingLocal())

	shared.setDown(false)

	assert.Eventually(t, func() bool {
		return !f.UsingLocal()
	}, time.Second, 5*time.Millisecond)

	_, err = f.Increment(ctx, "counter", 1)
	require.NoError(t, err)
}

func TestFallbackStore_KeyNotFoundIsNotAnOutage(t *testing.T) {
	shared := newFlakyStore()
	local := NewMemoryStore()

	f := NewFallbackStore(shared, local, nil)
	defer f.Close()

	_, err := f.Get(context.Background(), "missing")
	assert.True(t, IsKeyNotFound(err))
	assert.False(t, f.UsingLocal())
}

func TestFallbackStore_CallerCancellationIsNotAnOutage(t *testing.T) {
	shared := newFlakyStore()
	local := NewMemoryStore()

	f := NewFallbackStore(shared, local, nil)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Get(ctx, "key")
	assert.Error(t, err)
	assert.False(t, f.UsingLocal())
}

func TestFallbackStore_CloseIdempotent(t *testing.T) {
	f := NewFallbackStore(newFlakyStore(), NewMemoryStore(), nil)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}
