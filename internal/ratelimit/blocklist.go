package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/statgate/statgate/internal/observability"
)

// BlockEntry records that an identifier is denied all traffic until
// ExpiresAt, regardless of remaining quota.
type BlockEntry struct {
	Identifier string    `json:"identifier"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry.
func (e *BlockEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// BlockStore persists block entries so blocks survive restarts. Implemented
// by the metadata store adapter.
type BlockStore interface {
	SaveBlock(ctx context.Context, entry *BlockEntry) error
	DeleteBlock(ctx context.Context, identifier string) error
	ListBlocks(ctx context.Context) ([]*BlockEntry, error)
}

// Blocklist tracks blocked identifiers in memory with write-through to an
// optional persistent store. Persistence is best-effort: a store failure
// never prevents the in-memory block from taking effect.
type Blocklist struct {
	entries sync.Map
	store   BlockStore
	logger  observability.Logger
	now     func() time.Time
}

// NewBlocklist creates a block list. store may be nil for purely in-memory
// operation.
func NewBlocklist(store BlockStore, logger observability.Logger) *Blocklist {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Blocklist{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Load restores persisted blocks. Expired entries are dropped.
func (b *Blocklist) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}

	entries, err := b.store.ListBlocks(ctx)
	if err != nil {
		return err
	}

	now := b.now()
	restored := 0
	for _, entry := range entries {
		if entry.Expired(now) {
			continue
		}
		b.entries.Store(entry.Identifier, entry)
		restored++
	}

	if restored > 0 {
		b.logger.Info("restored persisted blocks",
			observability.Int("count", restored),
		)
	}
	return nil
}

// Block records a block for the identifier.
func (b *Blocklist) Block(ctx context.Context, identifier, reason string, duration time.Duration) *BlockEntry {
	now := b.now()
	entry := &BlockEntry{
		Identifier: identifier,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(duration),
	}
	b.entries.Store(identifier, entry)
	recordBlock()

	b.logger.Warn("identifier blocked",
		observability.String("identifier", identifier),
		observability.String("reason", reason),
		observability.Time("expires_at", entry.ExpiresAt),
	)

	if b.store != nil {
		if err := b.store.SaveBlock(ctx, entry); err != nil {
			b.logger.Error("failed to persist block entry",
				observability.String("identifier", identifier),
				observability.Error(err),
			)
		}
	}
	return entry
}

// Unblock removes a block before its natural expiry. It reports whether an
// active block existed.
func (b *Blocklist) Unblock(ctx context.Context, identifier string) bool {
	_, existed := b.entries.LoadAndDelete(identifier)

	if b.store != nil {
		if err := b.store.DeleteBlock(ctx, identifier); err != nil {
			b.logger.Error("failed to delete persisted block entry",
				observability.String("identifier", identifier),
				observability.Error(err),
			)
		}
	}

	if existed {
		b.logger.Info("identifier unblocked",
			observability.String("identifier", identifier),
		)
	}
	return existed
}

// Get returns the active block for the identifier, if any. Expired entries
// are removed lazily.
func (b *Blocklist) Get(identifier string) (*BlockEntry, bool) {
	value, ok := b.entries.Load(identifier)
	if !ok {
		return nil, false
	}

	entry := value.(*BlockEntry)
	if entry.Expired(b.now()) {
		b.entries.Delete(identifier)
		if b.store != nil {
			// Expired entries are ignored either way, cleanup only.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = b.store.DeleteBlock(ctx, entry.Identifier)
			}()
		}
		return nil, false
	}
	return entry, true
}

// Len returns the number of tracked entries, including not-yet-reaped
// expired ones.
func (b *Blocklist) Len() int {
	n := 0
	b.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
