package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"golang.org/x/sync/semaphore"

	"github.com/statgate/statgate/internal/observability"
)

// Observation is one time-series data point belonging to a dataset.
type Observation struct {
	At     time.Time
	Tags   map[string]string
	Fields map[string]interface{}
}

// Row is one field value returned by a range query.
type Row struct {
	Time  time.Time
	Field string
	Value interface{}
}

// Config holds configuration for the analytics adapter.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Measurement all observations are written under.
	Measurement string

	// WriteBatchSize bounds points per blocking write call.
	WriteBatchSize int

	Logger observability.Logger
}

// DefaultConfig returns adapter defaults.
func DefaultConfig() *Config {
	return &Config{
		Measurement:    "observations",
		WriteBatchSize: 1000,
	}
}

func (c *Config) normalize() {
	if c.Measurement == "" {
		c.Measurement = "observations"
	}
	if c.WriteBatchSize <= 0 {
		c.WriteBatchSize = 1000
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger()
	}
}

// Adapter is the analytical time-series adapter on InfluxDB. Bulk loads
// serialize through a weight-1 semaphore so concurrent composite
// operations queue instead of interleaving partial writes.
type Adapter struct {
	cfg    *Config
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	delete api.DeleteAPI
	loadQ  *semaphore.Weighted
	logger observability.Logger
}

// NewAdapter connects to InfluxDB and verifies reachability.
func NewAdapter(ctx context.Context, cfg *Config) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("analytics config is required")
	}
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("analytics URL, org, and bucket are required")
	}
	cfg.normalize()

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	if _, err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping influxdb at %s: %w", cfg.URL, err)
	}

	a := newAdapterFromAPIs(cfg,
		client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		client.QueryAPI(cfg.Org),
		client.DeleteAPI(),
	)
	a.client = client
	return a, nil
}

// newAdapterFromAPIs wires an adapter over pre-built API handles.
func newAdapterFromAPIs(cfg *Config, write api.WriteAPIBlocking, query api.QueryAPI, del api.DeleteAPI) *Adapter {
	cfg.normalize()
	return &Adapter{
		cfg:    cfg,
		write:  write,
		query:  query,
		delete: del,
		loadQ:  semaphore.NewWeighted(1),
		logger: cfg.Logger,
	}
}

// LoadObservations bulk-loads a dataset's observations. Loads queue behind
// the single-writer semaphore; cancellation while queued writes nothing.
func (a *Adapter) LoadObservations(ctx context.Context, datasetID string, observations []Observation) error {
	if datasetID == "" {
		return errors.New("dataset ID is required")
	}
	if len(observations) == 0 {
		return nil
	}

	if err := a.loadQ.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for load queue: %w", err)
	}
	defer a.loadQ.Release(1)

	start := time.Now()
	written := 0
	err := func() error {
		batch := make([]*write.Point, 0, a.cfg.WriteBatchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := a.write.WritePoint(ctx, batch...); err != nil {
				return fmt.Errorf("write observation batch: %w", err)
			}
			written += len(batch)
			batch = batch[:0]
			return nil
		}

		for _, obs := range observations {
			if err := ctx.Err(); err != nil {
				return err
			}
			tags := map[string]string{"dataset_id": datasetID}
			for k, v := range obs.Tags {
				if k != "dataset_id" {
					tags[k] = v
				}
			}
			batch = append(batch, influxdb2.NewPoint(a.cfg.Measurement, tags, obs.Fields, obs.At))
			if len(batch) >= a.cfg.WriteBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	}()

	recordLoad(time.Since(start), written, err == nil)
	if err != nil {
		return err
	}

	a.logger.Debug("observations loaded",
		observability.String("dataset_id", datasetID),
		observability.Int("count", written),
	)
	return nil
}

// QueryRange returns a dataset's field values within [start, stop).
func (a *Adapter) QueryRange(ctx context.Context, datasetID string, start, stop time.Time) ([]Row, error) {
	if datasetID == "" {
		return nil, errors.New("dataset ID is required")
	}

	flux := fmt.Sprintf(`
		from(bucket: %q)
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == %q)
		  |> filter(fn: (r) => r.dataset_id == %q)
		  |> sort(columns: ["_time"], desc: false)
	`, a.cfg.Bucket, fluxTime(start), fluxTime(stop), a.cfg.Measurement, datasetID)

	began := time.Now()
	result, err := a.query.Query(ctx, flux)
	recordQuery("range", time.Since(began), err == nil)
	if err != nil {
		return nil, fmt.Errorf("query range for dataset %s: %w", datasetID, err)
	}
	if result == nil {
		return nil, nil
	}

	var rows []Row
	for result.Next() {
		record := result.Record()
		rows = append(rows, Row{
			Time:  record.Time(),
			Field: record.Field(),
			Value: record.Value(),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read query result: %w", err)
	}
	return rows, nil
}

// CountRows returns the number of stored values for a dataset within
// [start, stop).
func (a *Adapter) CountRows(ctx context.Context, datasetID string, start, stop time.Time) (int64, error) {
	if datasetID == "" {
		return 0, errors.New("dataset ID is required")
	}

	flux := fmt.Sprintf(`
		from(bucket: %q)
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == %q)
		  |> filter(fn: (r) => r.dataset_id == %q)
		  |> count()
	`, a.cfg.Bucket, fluxTime(start), fluxTime(stop), a.cfg.Measurement, datasetID)

	began := time.Now()
	result, err := a.query.Query(ctx, flux)
	recordQuery("count", time.Since(began), err == nil)
	if err != nil {
		return 0, fmt.Errorf("count rows for dataset %s: %w", datasetID, err)
	}
	if result == nil {
		return 0, nil
	}

	var total int64
	for result.Next() {
		if v, ok := result.Record().Value().(int64); ok {
			total += v
		}
	}
	if err := result.Err(); err != nil {
		return 0, fmt.Errorf("read count result: %w", err)
	}
	return total, nil
}

// DeleteDataset removes every observation tagged with the dataset ID. Used
// as the compensating action when a composite registration rolls back.
func (a *Adapter) DeleteDataset(ctx context.Context, datasetID string) error {
	if datasetID == "" {
		return errors.New("dataset ID is required")
	}

	predicate := fmt.Sprintf(`_measurement="%s" AND dataset_id="%s"`,
		fluxEscape(a.cfg.Measurement), fluxEscape(datasetID))

	began := time.Now()
	err := a.delete.DeleteWithName(ctx, a.cfg.Org, a.cfg.Bucket,
		time.Unix(0, 0), time.Now().Add(time.Hour), predicate)
	recordQuery("delete", time.Since(began), err == nil)
	if err != nil {
		return fmt.Errorf("delete observations for dataset %s: %w", datasetID, err)
	}

	a.logger.Info("dataset observations deleted",
		observability.String("dataset_id", datasetID),
	)
	return nil
}

// Ping reports whether the InfluxDB server is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	ok, err := a.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping influxdb: %w", err)
	}
	if !ok {
		return errors.New("influxdb is not ready")
	}
	return nil
}

// Close releases the underlying client.
func (a *Adapter) Close() {
	if a.client != nil {
		a.client.Close()
	}
}

// fluxTime renders a time for interpolation into a Flux range call.
func fluxTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// fluxEscape neutralizes quotes in values interpolated into Flux strings.
func fluxEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
