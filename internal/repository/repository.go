package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/statgate/statgate/internal/analytics"
	"github.com/statgate/statgate/internal/cache"
	"github.com/statgate/statgate/internal/circuitbreaker"
	"github.com/statgate/statgate/internal/metadata"
	"github.com/statgate/statgate/internal/observability"
	"github.com/statgate/statgate/internal/ratelimit"
)

// MetadataStore is the transactional side of the repository. Implemented
// by the badger-backed metadata store.
type MetadataStore interface {
	RegisterDataset(ctx context.Context, record *metadata.DatasetRecord) error
	GetDataset(ctx context.Context, id string) (*metadata.DatasetRecord, error)
	UpdateDatasetStatus(ctx context.Context, id string, status metadata.DatasetStatus, reason string) error
	SetQualityScore(ctx context.Context, id string, score float64) error
	ListDatasets(ctx context.Context) ([]*metadata.DatasetRecord, error)
	DeleteDataset(ctx context.Context, id, reason string) error
	Ping(ctx context.Context) error
}

// AnalyticsStore is the time-series side of the repository. Implemented by
// the InfluxDB adapter.
type AnalyticsStore interface {
	LoadObservations(ctx context.Context, datasetID string, observations []analytics.Observation) error
	QueryRange(ctx context.Context, datasetID string, start, stop time.Time) ([]analytics.Row, error)
	CountRows(ctx context.Context, datasetID string, start, stop time.Time) (int64, error)
	DeleteDataset(ctx context.Context, datasetID string) error
	Ping(ctx context.Context) error
}

// Config holds repository configuration.
type Config struct {
	// ReadCacheTTL is the freshness window for cached range reads.
	ReadCacheTTL time.Duration

	// CompensationTimeout bounds the compensating cleanup that runs after
	// a failed or cancelled composite load.
	CompensationTimeout time.Duration

	Logger observability.Logger
}

// DefaultConfig returns repository defaults.
func DefaultConfig() *Config {
	return &Config{
		ReadCacheTTL:        5 * time.Minute,
		CompensationTimeout: 10 * time.Second,
	}
}

func (c *Config) normalize() {
	if c.ReadCacheTTL <= 0 {
		c.ReadCacheTTL = 5 * time.Minute
	}
	if c.CompensationTimeout <= 0 {
		c.CompensationTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger()
	}
}

// Repository is the unified facade over the metadata and analytics stores.
// It routes each operation to the right backend and keeps composite
// operations consistent with compensating updates.
type Repository struct {
	cfg       *Config
	meta      MetadataStore
	analytics AnalyticsStore
	breakers  *circuitbreaker.Registry
	limiter   *ratelimit.Limiter
	readCache cache.Cache
	logger    observability.Logger
}

// New creates a repository. breakers, limiter, and readCache may be nil;
// Status then omits the corresponding sections and reads are uncached.
func New(
	cfg *Config,
	meta MetadataStore,
	analyticsStore AnalyticsStore,
	breakers *circuitbreaker.Registry,
	limiter *ratelimit.Limiter,
	readCache cache.Cache,
) (*Repository, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()
	if meta == nil || analyticsStore == nil {
		return nil, errors.New("metadata and analytics stores are required")
	}

	return &Repository{
		cfg:       cfg,
		meta:      meta,
		analytics: analyticsStore,
		breakers:  breakers,
		limiter:   limiter,
		readCache: readCache,
		logger:    cfg.Logger,
	}, nil
}

// RegisterAndLoad commits dataset metadata, then bulk-loads its
// observations. The metadata record is registered in the loading state
// first; on load failure or cancellation a compensating update marks the
// dataset failed and scrubs any partially written observations, so no
// observations of a failed registration remain queryable.
func (r *Repository) RegisterAndLoad(
	ctx context.Context,
	record *metadata.DatasetRecord,
	observations []analytics.Observation,
) error {
	if record == nil || record.ID == "" {
		return errors.New("dataset record with an ID is required")
	}

	record.Status = metadata.StatusLoading
	if err := r.meta.RegisterDataset(ctx, record); err != nil {
		recordComposite("register_and_load", "metadata_rejected")
		return metadataErr("register dataset", err)
	}

	if err := r.analytics.LoadObservations(ctx, record.ID, observations); err != nil {
		r.compensateLoad(record.ID, err)
		recordComposite("register_and_load", "compensated")
		return analyticsErr("load observations", err)
	}

	if err := r.meta.UpdateDatasetStatus(ctx, record.ID, metadata.StatusRegistered, ""); err != nil {
		// The record is stuck in the loading state, so the loaded
		// observations must not stay queryable either.
		r.compensateLoad(record.ID, err)
		recordComposite("register_and_load", "finalize_failed")
		return metadataErr("finalize dataset status", err)
	}

	recordComposite("register_and_load", "ok")
	r.logger.Info("dataset registered and loaded",
		observability.String("dataset_id", record.ID),
		observability.Int("observations", len(observations)),
	)
	return nil
}

// compensateLoad runs under its own context so a cancelled composite still
// cleans up.
func (r *Repository) compensateLoad(datasetID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CompensationTimeout)
	defer cancel()

	if err := r.analytics.DeleteDataset(ctx, datasetID); err != nil {
		r.logger.Error("failed to scrub partial observations",
			observability.String("dataset_id", datasetID),
			observability.Error(err),
		)
	}
	if err := r.meta.UpdateDatasetStatus(ctx, datasetID, metadata.StatusFailed, cause.Error()); err != nil {
		r.logger.Error("failed to mark dataset failed",
			observability.String("dataset_id", datasetID),
			observability.Error(err),
		)
	}

	r.logger.Warn("compensated failed dataset load",
		observability.String("dataset_id", datasetID),
		observability.Error(cause),
	)
}

// Dataset returns one dataset's metadata.
func (r *Repository) Dataset(ctx context.Context, id string) (*metadata.DatasetRecord, error) {
	record, err := r.meta.GetDataset(ctx, id)
	if err != nil {
		if metadata.IsNotFound(err) {
			return nil, err
		}
		return nil, metadataErr("get dataset", err)
	}
	return record, nil
}

// ListDatasets returns all live datasets.
func (r *Repository) ListDatasets(ctx context.Context) ([]*metadata.DatasetRecord, error) {
	records, err := r.meta.ListDatasets(ctx)
	if err != nil {
		return nil, metadataErr("list datasets", err)
	}
	return records, nil
}

// SetQualityScore updates the dataset's quality score after a re-sync.
func (r *Repository) SetQualityScore(ctx context.Context, id string, score float64) error {
	if err := r.meta.SetQualityScore(ctx, id, score); err != nil {
		if metadata.IsNotFound(err) {
			return err
		}
		return metadataErr("set quality score", err)
	}
	return nil
}

// ReadRange returns a dataset's observations within [start, stop). Repeat
// reads inside the TTL are served from the read cache; fresh forces a
// store round trip.
func (r *Repository) ReadRange(
	ctx context.Context,
	datasetID string,
	start, stop time.Time,
	fresh bool,
) ([]analytics.Row, error) {
	if _, err := r.Dataset(ctx, datasetID); err != nil {
		return nil, err
	}

	key := rangeCacheKey(datasetID, start, stop)
	if r.readCache != nil && !fresh {
		if entry, err := r.readCache.Get(ctx, key); err == nil {
			var rows []analytics.Row
			if derr := json.Unmarshal(entry.Payload, &rows); derr == nil {
				recordRead("cache_hit")
				return rows, nil
			}
		}
	}

	rows, err := r.analytics.QueryRange(ctx, datasetID, start, stop)
	if err != nil {
		recordRead("error")
		return nil, analyticsErr("query range", err)
	}
	recordRead("store")

	if r.readCache != nil {
		if payload, merr := json.Marshal(rows); merr == nil {
			if cerr := r.readCache.Set(ctx, key, payload, r.cfg.ReadCacheTTL); cerr != nil {
				r.logger.Warn("read cache write failed",
					observability.String("dataset_id", datasetID),
					observability.Error(cerr),
				)
			}
		}
	}
	return rows, nil
}

// CountRows returns the number of stored observations for a dataset.
func (r *Repository) CountRows(ctx context.Context, datasetID string, start, stop time.Time) (int64, error) {
	if _, err := r.Dataset(ctx, datasetID); err != nil {
		return 0, err
	}
	total, err := r.analytics.CountRows(ctx, datasetID, start, stop)
	if err != nil {
		return 0, analyticsErr("count rows", err)
	}
	return total, nil
}

// DeleteDataset soft-deletes the metadata record and removes the dataset's
// observations. A failed observation scrub leaves the metadata deleted and
// reports the analytics failure for a retry.
func (r *Repository) DeleteDataset(ctx context.Context, id, reason string) error {
	if err := r.meta.DeleteDataset(ctx, id, reason); err != nil {
		if metadata.IsNotFound(err) {
			return err
		}
		return metadataErr("delete dataset", err)
	}
	if err := r.analytics.DeleteDataset(ctx, id); err != nil {
		return analyticsErr("delete observations", err)
	}
	return nil
}

// Degraded mode names reported by Status.
const (
	ModeAnalyticsUnavailable = "analytics-unavailable"
	ModeMetadataReadOnly     = "metadata-read-only"
	ModeMetadataUnavailable  = "metadata-unavailable"
)

// Report is a point-in-time health summary of the repository and the
// resilience components around it.
type Report struct {
	Healthy            bool                            `json:"healthy"`
	DegradedModes      []string                        `json:"degraded_modes,omitempty"`
	MetadataReachable  bool                            `json:"metadata_reachable"`
	AnalyticsReachable bool                            `json:"analytics_reachable"`
	Breakers           map[string]circuitbreaker.Stats `json:"breakers,omitempty"`
	Limiter            *ratelimit.Stats                `json:"limiter,omitempty"`
}

// Status aggregates store reachability, breaker states, and limiter
// saturation. Analytics being down makes composite writes impossible, so
// the dataset surface degrades to metadata-read-only.
func (r *Repository) Status(ctx context.Context) *Report {
	report := &Report{
		MetadataReachable:  r.meta.Ping(ctx) == nil,
		AnalyticsReachable: r.analytics.Ping(ctx) == nil,
	}

	if !report.MetadataReachable {
		report.DegradedModes = append(report.DegradedModes, ModeMetadataUnavailable)
	}
	if !report.AnalyticsReachable {
		report.DegradedModes = append(report.DegradedModes,
			ModeAnalyticsUnavailable, ModeMetadataReadOnly)
	}

	if r.breakers != nil {
		report.Breakers = r.breakers.Stats()
	}
	if r.limiter != nil {
		stats := r.limiter.Stats()
		report.Limiter = &stats
	}

	report.Healthy = report.MetadataReachable && report.AnalyticsReachable
	return report
}

func rangeCacheKey(datasetID string, start, stop time.Time) string {
	return cache.Key("RANGE", datasetID, map[string]string{
		"start": fmt.Sprintf("%d", start.UnixNano()),
		"stop":  fmt.Sprintf("%d", stop.UnixNano()),
	})
}
