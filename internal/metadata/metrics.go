package metadata

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statgate_metadata_operation_duration_seconds",
			Help:    "Latency of metadata store operations",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"operation"},
	)

	operationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_metadata_operation_errors_total",
			Help: "Total metadata store operation failures",
		},
		[]string{"operation"},
	)
)

func recordOperation(operation string, duration time.Duration, success bool) {
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if !success {
		operationErrors.WithLabelValues(operation).Inc()
	}
}
