package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/statgate/statgate/internal/observability"
	"github.com/statgate/statgate/internal/ratelimit"
)

// Key-prefixed buckets inside the shared database.
const (
	datasetPrefix    = "dataset/"
	credentialPrefix = "credential/"
	auditPrefix      = "audit/"
	blockPrefix      = "block/"
	circuitPrefix    = "circuit/"
)

// auditKeyTimeLayout is fixed-width so audit keys sort chronologically.
const auditKeyTimeLayout = "2006-01-02T15:04:05.000000000Z"

// txnRetries bounds optimistic transaction retries on conflict.
const txnRetries = 10

// Store is the transactional metadata adapter on an embedded Badger
// database. It holds dataset records, consumer credentials, the
// administrative audit trail, persisted block entries, and circuit
// snapshots, each under its own key prefix.
type Store struct {
	db     *badger.DB
	ownsDB bool
	logger observability.Logger
	now    func() time.Time
}

// Config holds configuration for the metadata store.
type Config struct {
	// DB is an already-open database shared with other subsystems. When
	// nil, a dedicated database is opened at Path.
	DB *badger.DB

	Path   string
	Logger observability.Logger
}

// NewStore creates a metadata store.
func NewStore(config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.New("metadata store config is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	db := config.DB
	ownsDB := false
	if db == nil {
		if config.Path == "" {
			return nil, errors.New("metadata store requires a path or an open database")
		}
		opts := badger.DefaultOptions(config.Path).
			WithLogger(nil).
			WithCompactL0OnClose(true)
		var err error
		db, err = badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open badger at %s: %w", config.Path, err)
		}
		ownsDB = true
	}

	return &Store{
		db:     db,
		ownsDB: ownsDB,
		logger: logger,
		now:    time.Now,
	}, nil
}

// withTxn runs fn in a read-write transaction, retrying on write conflict
// so concurrent same-key writers serialize instead of failing.
func (s *Store) withTxn(ctx context.Context, operation string, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before metadata %s: %w", operation, err)
	}

	start := time.Now()
	var err error
	for attempt := 0; attempt < txnRetries; attempt++ {
		txn := s.db.NewTransaction(true)
		err = fn(txn)
		if err == nil {
			err = txn.Commit()
		}
		txn.Discard()
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	recordOperation(operation, time.Since(start), err == nil || IsNotFound(err) || IsAlreadyExists(err))
	return err
}

// withReadTxn runs fn in a read-only transaction.
func (s *Store) withReadTxn(ctx context.Context, operation string, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before metadata %s: %w", operation, err)
	}

	start := time.Now()
	err := s.db.View(fn)
	recordOperation(operation, time.Since(start), err == nil || IsNotFound(err))
	return err
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode metadata record: %w", err)
	}
	return txn.Set(key, raw)
}

func datasetKey(id string) []byte    { return []byte(datasetPrefix + id) }
func credentialKey(id string) []byte { return []byte(credentialPrefix + id) }
func blockKey(id string) []byte      { return []byte(blockPrefix + id) }
func circuitKey(name string) []byte  { return []byte(circuitPrefix + name) }

// auditEntry appends one audit record inside the caller's transaction so
// the trail commits atomically with the change it describes.
func (s *Store) auditEntry(txn *badger.Txn, action, subject, detail string, at time.Time) (*AuditRecord, error) {
	record := &AuditRecord{
		ID:      uuid.NewString(),
		Action:  action,
		Subject: subject,
		Detail:  detail,
		At:      at,
	}
	key := []byte(auditPrefix + at.UTC().Format(auditKeyTimeLayout) + "/" + record.ID)
	if err := setJSON(txn, key, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RegisterDataset commits a new dataset record. A live record with the same
// ID fails with ErrAlreadyExists; a soft-deleted one is replaced.
func (s *Store) RegisterDataset(ctx context.Context, record *DatasetRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("dataset record with an ID is required")
	}

	now := s.now()
	return s.withTxn(ctx, "register_dataset", func(txn *badger.Txn) error {
		var existing DatasetRecord
		err := getJSON(txn, datasetKey(record.ID), &existing)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("read dataset %s: %w", record.ID, err)
		case existing.Status != StatusDeleted:
			return alreadyExists("dataset", record.ID)
		}

		if record.Status == "" {
			record.Status = StatusRegistered
		}
		record.RegisteredAt = now
		record.UpdatedAt = now

		if err := setJSON(txn, datasetKey(record.ID), record); err != nil {
			return err
		}
		_, err = s.auditEntry(txn, AuditActionDatasetRegistered, record.ID, "", now)
		return err
	})
}

// GetDataset returns the dataset record. Soft-deleted records read as
// absent.
func (s *Store) GetDataset(ctx context.Context, id string) (*DatasetRecord, error) {
	var record DatasetRecord
	err := s.withReadTxn(ctx, "get_dataset", func(txn *badger.Txn) error {
		if err := getJSON(txn, datasetKey(id), &record); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFound("dataset", id)
			}
			return fmt.Errorf("read dataset %s: %w", id, err)
		}
		if record.Status == StatusDeleted {
			return notFound("dataset", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateDatasetStatus transitions a dataset's lifecycle state. The reason
// is recorded for failed and deleted transitions.
func (s *Store) UpdateDatasetStatus(ctx context.Context, id string, status DatasetStatus, reason string) error {
	now := s.now()
	return s.withTxn(ctx, "update_dataset_status", func(txn *badger.Txn) error {
		var record DatasetRecord
		if err := getJSON(txn, datasetKey(id), &record); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFound("dataset", id)
			}
			return fmt.Errorf("read dataset %s: %w", id, err)
		}

		record.Status = status
		record.StatusReason = reason
		record.UpdatedAt = now

		if err := setJSON(txn, datasetKey(id), &record); err != nil {
			return err
		}
		if status == StatusFailed {
			if _, err := s.auditEntry(txn, AuditActionLoadCompensated, id, reason, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetQualityScore updates the dataset's quality score, e.g. after a
// re-sync recomputes it.
func (s *Store) SetQualityScore(ctx context.Context, id string, score float64) error {
	now := s.now()
	return s.withTxn(ctx, "set_quality_score", func(txn *badger.Txn) error {
		var record DatasetRecord
		if err := getJSON(txn, datasetKey(id), &record); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFound("dataset", id)
			}
			return fmt.Errorf("read dataset %s: %w", id, err)
		}
		record.QualityScore = score
		record.UpdatedAt = now
		return setJSON(txn, datasetKey(id), &record)
	})
}

// ListDatasets returns all live dataset records.
func (s *Store) ListDatasets(ctx context.Context) ([]*DatasetRecord, error) {
	var records []*DatasetRecord
	err := s.withReadTxn(ctx, "list_datasets", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(datasetPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var record DatasetRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return fmt.Errorf("decode dataset record: %w", err)
			}
			if record.Status == StatusDeleted {
				continue
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteDataset soft-deletes a dataset. The record remains for the audit
// trail; reads treat it as absent.
func (s *Store) DeleteDataset(ctx context.Context, id, reason string) error {
	now := s.now()
	return s.withTxn(ctx, "delete_dataset", func(txn *badger.Txn) error {
		var record DatasetRecord
		if err := getJSON(txn, datasetKey(id), &record); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFound("dataset", id)
			}
			return fmt.Errorf("read dataset %s: %w", id, err)
		}
		if record.Status == StatusDeleted {
			return notFound("dataset", id)
		}

		record.Status = StatusDeleted
		record.StatusReason = reason
		record.UpdatedAt = now

		if err := setJSON(txn, datasetKey(id), &record); err != nil {
			return err
		}
		_, err := s.auditEntry(txn, AuditActionDatasetDeleted, id, reason, now)
		return err
	})
}

// PutCredential creates or updates a consumer credential.
func (s *Store) PutCredential(ctx context.Context, record *CredentialRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("credential record with an ID is required")
	}

	now := s.now()
	return s.withTxn(ctx, "put_credential", func(txn *badger.Txn) error {
		var existing CredentialRecord
		err := getJSON(txn, credentialKey(record.ID), &existing)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			record.CreatedAt = now
		case err != nil:
			return fmt.Errorf("read credential %s: %w", record.ID, err)
		default:
			record.CreatedAt = existing.CreatedAt
		}
		record.UpdatedAt = now
		return setJSON(txn, credentialKey(record.ID), record)
	})
}

// GetCredential returns one credential record.
func (s *Store) GetCredential(ctx context.Context, id string) (*CredentialRecord, error) {
	var record CredentialRecord
	err := s.withReadTxn(ctx, "get_credential", func(txn *badger.Txn) error {
		if err := getJSON(txn, credentialKey(id), &record); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFound("credential", id)
			}
			return fmt.Errorf("read credential %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteCredential removes a credential record.
func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	return s.withTxn(ctx, "delete_credential", func(txn *badger.Txn) error {
		if _, err := txn.Get(credentialKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFound("credential", id)
			}
			return fmt.Errorf("read credential %s: %w", id, err)
		}
		return txn.Delete(credentialKey(id))
	})
}

// ListCredentials returns all credential records.
func (s *Store) ListCredentials(ctx context.Context) ([]*CredentialRecord, error) {
	var records []*CredentialRecord
	err := s.withReadTxn(ctx, "list_credentials", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(credentialPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var record CredentialRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return fmt.Errorf("decode credential record: %w", err)
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AppendAudit records a standalone administrative action.
func (s *Store) AppendAudit(ctx context.Context, action, subject, detail string) (*AuditRecord, error) {
	var record *AuditRecord
	now := s.now()
	err := s.withTxn(ctx, "append_audit", func(txn *badger.Txn) error {
		var err error
		record, err = s.auditEntry(txn, action, subject, detail, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// AuditRange returns audit records with from <= At < to, oldest first.
// limit <= 0 means no limit.
func (s *Store) AuditRange(ctx context.Context, from, to time.Time, limit int) ([]*AuditRecord, error) {
	var records []*AuditRecord
	err := s.withReadTxn(ctx, "audit_range", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(auditPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(auditPrefix + from.UTC().Format(auditKeyTimeLayout))
		for it.Seek(seek); it.Valid(); it.Next() {
			var record AuditRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return fmt.Errorf("decode audit record: %w", err)
			}
			if !to.IsZero() && !record.At.Before(to) {
				break
			}
			records = append(records, &record)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveBlock implements ratelimit.BlockStore.
func (s *Store) SaveBlock(ctx context.Context, entry *ratelimit.BlockEntry) error {
	if entry == nil || entry.Identifier == "" {
		return errors.New("block entry with an identifier is required")
	}
	return s.withTxn(ctx, "save_block", func(txn *badger.Txn) error {
		if err := setJSON(txn, blockKey(entry.Identifier), entry); err != nil {
			return err
		}
		_, err := s.auditEntry(txn,
			AuditActionIdentifierBlocked, entry.Identifier, entry.Reason, s.now())
		return err
	})
}

// DeleteBlock implements ratelimit.BlockStore. Deleting an absent block is
// not an error; expiry cleanup races with explicit unblocks.
func (s *Store) DeleteBlock(ctx context.Context, identifier string) error {
	return s.withTxn(ctx, "delete_block", func(txn *badger.Txn) error {
		if _, err := txn.Get(blockKey(identifier)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return fmt.Errorf("read block %s: %w", identifier, err)
		}
		if err := txn.Delete(blockKey(identifier)); err != nil {
			return err
		}
		_, err := s.auditEntry(txn,
			AuditActionIdentifierUnblocked, identifier, "", s.now())
		return err
	})
}

// ListBlocks implements ratelimit.BlockStore.
func (s *Store) ListBlocks(ctx context.Context) ([]*ratelimit.BlockEntry, error) {
	var entries []*ratelimit.BlockEntry
	err := s.withReadTxn(ctx, "list_blocks", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(blockPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry ratelimit.BlockEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("decode block entry: %w", err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveCircuitSnapshot persists a breaker's last known state. Best-effort:
// callers log failures and continue.
func (s *Store) SaveCircuitSnapshot(ctx context.Context, snapshot *CircuitSnapshot) error {
	if snapshot == nil || snapshot.Name == "" {
		return errors.New("circuit snapshot with a name is required")
	}
	snapshot.SavedAt = s.now()
	return s.withTxn(ctx, "save_circuit_snapshot", func(txn *badger.Txn) error {
		return setJSON(txn, circuitKey(snapshot.Name), snapshot)
	})
}

// LoadCircuitSnapshots returns all persisted breaker states.
func (s *Store) LoadCircuitSnapshots(ctx context.Context) ([]*CircuitSnapshot, error) {
	var snapshots []*CircuitSnapshot
	err := s.withReadTxn(ctx, "load_circuit_snapshots", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(circuitPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var snapshot CircuitSnapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snapshot)
			}); err != nil {
				return fmt.Errorf("decode circuit snapshot: %w", err)
			}
			snapshots = append(snapshots, &snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// Ping reports whether the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("metadata database is closed")
	}
	return nil
}

// Close closes the database when this store owns it. A shared database is
// left open for its owner.
func (s *Store) Close() error {
	if !s.ownsDB || s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}
