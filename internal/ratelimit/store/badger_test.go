package store

import (
	"context"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)

	s, err := NewBadgerStore(&BadgerStoreConfig{DB: db})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestBadgerStore_SetGet(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", 42, 0))

	val, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, int64(42), val)
}

func TestBadgerStore_GetMissing(t *testing.T) {
	s := newTestBadgerStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsKeyNotFound(err))
}

func TestBadgerStore_Increment(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	val, err := s.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = s.Increment(ctx, "counter", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), val)
}

func TestBadgerStore_IncrementWithExpiry(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	val, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = s.IncrementWithExpiry(ctx, "counter", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)
}

func TestBadgerStore_Delete(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", 1, 0))
	require.NoError(t, s.Delete(ctx, "key"))

	_, err := s.Get(ctx, "key")
	assert.True(t, IsKeyNotFound(err))

	// Deleting a missing key is not an error.
	require.NoError(t, s.Delete(ctx, "missing"))
}

func TestBadgerStore_ConcurrentIncrements(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				for {
					_, err := s.Increment(ctx, "counter", 1)
					if err == nil {
						break
					}
				}
			}
		}()
	}
	wg.Wait()

	val, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perGoroutine), val)
}

func TestBadgerStore_Ping(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(ctx))
}

func TestBadgerStore_Prefix(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()

	a, err := NewBadgerStore(&BadgerStoreConfig{DB: db, Prefix: "a/"})
	require.NoError(t, err)
	b, err := NewBadgerStore(&BadgerStoreConfig{DB: db, Prefix: "b/"})
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "key", 1, 0))

	_, err = b.Get(ctx, "key")
	assert.True(t, IsKeyNotFound(err))
}
