package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/statgate/statgate/internal/observability"
)

// FallbackStore wraps a shared counter store with a local one. While the
// shared store is reachable all operations go to it; when it fails the
// store switches to the local backend and probes the shared one in the
// background until it recovers. Counters accumulated locally during an
// outage are not merged back, so accounting is at-least-once per backend
// and limits remain enforced throughout.
type FallbackStore struct {
	shared Store
	local  Store
	logger observability.Logger

	sharedName    string
	probeInterval time.Duration

	usingLocal atomic.Bool

	mu      sync.Mutex
	probing bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// FallbackConfig holds configuration for the fallback store.
type FallbackConfig struct {
	// SharedName labels the shared backend in logs and metrics.
	SharedName string

	// ProbeInterval is how often the shared store is pinged while the
	// local store is active.
	ProbeInterval time.Duration

	Logger observability.Logger
}

// NewFallbackStore wraps shared with local.
func NewFallbackStore(shared, local Store, config *FallbackConfig) *FallbackStore {
	if config == nil {
		config = &FallbackConfig{}
	}
	name := config.SharedName
	if name == "" {
		name = "redis"
	}
	interval := config.ProbeInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	f := &FallbackStore{
		shared:        shared,
		local:         local,
		logger:        logger,
		sharedName:    name,
		probeInterval: interval,
		stopCh:        make(chan struct{}),
	}
	recordFallbackState(name, false)
	return f
}

// UsingLocal reports whether the local store is currently serving traffic.
func (f *FallbackStore) UsingLocal() bool {
	return f.usingLocal.Load()
}

// active returns the store to use for the next operation.
func (f *FallbackStore) active() Store {
	if f.usingLocal.Load() {
		return f.local
	}
	return f.shared
}

// switchToLocal moves traffic to the local store and starts the recovery
// probe. Safe to call concurrently.
func (f *FallbackStore) switchToLocal(cause error) {
	if f.usingLocal.Swap(true) {
		return
	}
	f.logger.Warn("shared counter store unavailable, switching to local store",
		observability.String("shared", f.sharedName),
		observability.Error(cause),
	)
	recordFallbackState(f.sharedName, true)
	recordFallbackSwitch(f.sharedName, "to_local")
	f.startProbe()
}

func (f *FallbackStore) startProbe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probing || f.closed.Load() {
		return
	}
	f.probing = true
	f.wg.Add(1)
	go f.probeLoop()
}

// probeLoop pings the shared store until it answers, then switches back.
func (f *FallbackStore) probeLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), f.probeInterval)
			err := f.shared.Ping(ctx)
			cancel()
			if err != nil {
				continue
			}

			f.usingLocal.Store(false)
			f.logger.Info("shared counter store recovered, switching back",
				observability.String("shared", f.sharedName),
			)
			recordFallbackState(f.sharedName, false)
			recordFallbackSwitch(f.sharedName, "to_shared")

			f.mu.Lock()
			f.probing = false
			f.mu.Unlock()
			return
		}
	}
}

// isBackendError reports whether err indicates the shared store itself
// failed rather than the request. Missing keys and caller cancellation are
// not backend failures.
func (f *FallbackStore) isBackendError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if IsKeyNotFound(err) {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return true
}

// Get implements Store.
func (f *FallbackStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := f.active().Get(ctx, key)
	if f.usingLocal.Load() || !f.isBackendError(ctx, err) {
		return val, err
	}
	f.switchToLocal(err)
	return f.local.Get(ctx, key)
}

// Set implements Store.
func (f *FallbackStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	err := f.active().Set(ctx, key, value, expiration)
	if f.usingLocal.Load() || !f.isBackendError(ctx, err) {
		return err
	}
	f.switchToLocal(err)
	return f.local.Set(ctx, key, value, expiration)
}

// Increment implements Store.
func (f *FallbackStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	val, err := f.active().Increment(ctx, key, delta)
	if f.usingLocal.Load() || !f.isBackendError(ctx, err) {
		return val, err
	}
	f.switchToLocal(err)
	return f.local.Increment(ctx, key, delta)
}

// IncrementWithExpiry implements Store.
func (f *FallbackStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	val, err := f.active().IncrementWithExpiry(ctx, key, delta, expiration)
	if f.usingLocal.Load() || !f.isBackendError(ctx, err) {
		return val, err
	}
	f.switchToLocal(err)
	return f.local.IncrementWithExpiry(ctx, key, delta, expiration)
}

// Delete implements Store.
func (f *FallbackStore) Delete(ctx context.Context, key string) error {
	err := f.active().Delete(ctx, key)
	if f.usingLocal.Load() || !f.isBackendError(ctx, err) {
		return err
	}
	f.switchToLocal(err)
	return f.local.Delete(ctx, key)
}

// Ping implements Store. It reports the health of whichever backend is
// currently serving traffic.
func (f *FallbackStore) Ping(ctx context.Context) error {
	return f.active().Ping(ctx)
}

// Close implements Store.
func (f *FallbackStore) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.stopCh)
	f.wg.Wait()

	err := f.shared.Close()
	if lerr := f.local.Close(); err == nil {
		err = lerr
	}
	return err
}
