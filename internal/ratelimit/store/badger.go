package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/statgate/statgate/internal/observability"
)

// badgerTxnRetries bounds optimistic transaction retries on conflict.
const badgerTxnRetries = 10

// BadgerStore implements Store on an embedded Badger database. It is used
// as the durable local backend when shared counters must survive process
// restarts without a Redis deployment.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	logger observability.Logger
}

// BadgerStoreConfig holds configuration for the Badger-backed store.
type BadgerStoreConfig struct {
	// DB is an already-open database shared with other subsystems. When
	// nil, a dedicated database is opened at Path.
	DB *badger.DB

	Path   string
	Prefix string
	Logger observability.Logger
}

// NewBadgerStore creates a Badger-backed counter store.
func NewBadgerStore(config *BadgerStoreConfig) (*BadgerStore, error) {
	if config == nil {
		return nil, errors.New("badger store config is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	db := config.DB
	if db == nil {
		if config.Path == "" {
			return nil, errors.New("badger store requires a path or an open database")
		}
		opts := badger.DefaultOptions(config.Path).
			WithLogger(nil).
			WithCompactL0OnClose(true)
		var err error
		db, err = badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open badger at %s: %w", config.Path, err)
		}
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = "ratelimit/"
	}

	return &BadgerStore{
		db:     db,
		prefix: []byte(prefix),
		logger: logger,
	}, nil
}

func (s *BadgerStore) key(key string) []byte {
	return append(append([]byte{}, s.prefix...), key...)
}

func encodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeCounter(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid counter encoding: %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before badger get: %w", err)
	}

	var value int64
	start := time.Now()
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, derr := decodeCounter(val)
			if derr != nil {
				return derr
			}
			value = v
			return nil
		})
	})
	recordStoreOperation("badger", "get", time.Since(start), err == nil || errors.Is(err, badger.ErrKeyNotFound))

	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		return 0, fmt.Errorf("badger get error: %w", err)
	}
	return value, nil
}

// Set implements Store.
func (s *BadgerStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before badger set: %w", err)
	}

	start := time.Now()
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(s.key(key), encodeCounter(value))
		if expiration > 0 {
			entry = entry.WithTTL(expiration)
		}
		return txn.SetEntry(entry)
	})
	recordStoreOperation("badger", "set", time.Since(start), err == nil)

	if err != nil {
		return fmt.Errorf("badger set error: %w", err)
	}
	return nil
}

// Increment implements Store.
func (s *BadgerStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.IncrementWithExpiry(ctx, key, delta, 0)
}

// IncrementWithExpiry implements Store. The expiry is applied only when the
// increment creates the key, matching the shared Redis semantics. Conflicting
// concurrent transactions are retried.
func (s *BadgerStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before badger incr: %w", err)
	}

	k := s.key(key)
	start := time.Now()

	var result int64
	var err error
	for attempt := 0; attempt < badgerTxnRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			var current int64
			created := false

			item, gerr := txn.Get(k)
			switch {
			case errors.Is(gerr, badger.ErrKeyNotFound):
				created = true
			case gerr != nil:
				return gerr
			default:
				if verr := item.Value(func(val []byte) error {
					v, derr := decodeCounter(val)
					if derr != nil {
						return derr
					}
					current = v
					return nil
				}); verr != nil {
					return verr
				}
			}

			next := current + delta
			entry := badger.NewEntry(k, encodeCounter(next))
			if created && expiration > 0 {
				entry = entry.WithTTL(expiration)
			} else if !created && item.ExpiresAt() > 0 {
				remaining := time.Until(time.Unix(int64(item.ExpiresAt()), 0))
				if remaining <= 0 {
					remaining = time.Second
				}
				entry = entry.WithTTL(remaining)
			}
			if serr := txn.SetEntry(entry); serr != nil {
				return serr
			}
			result = next
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	recordStoreOperation("badger", "increment_with_expiry", time.Since(start), err == nil)

	if err != nil {
		return 0, fmt.Errorf("badger increment error: %w", err)
	}
	return result, nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before badger delete: %w", err)
	}

	start := time.Now()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
	recordStoreOperation("badger", "delete", time.Since(start), err == nil)

	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("badger delete error: %w", err)
	}
	return nil
}

// Ping implements Store. An embedded database is reachable unless closed.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}
