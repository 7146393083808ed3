package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statgate_ratelimit_store_operation_duration_seconds",
			Help:    "Duration of rate limit store operations.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"backend", "operation"},
	)

	storeOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_ratelimit_store_operation_errors_total",
			Help: "Total number of failed rate limit store operations.",
		},
		[]string{"backend", "operation"},
	)

	storeFallbackActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statgate_ratelimit_store_fallback_active",
			Help: "Whether the local fallback store is serving traffic (1) instead of the shared store (0).",
		},
		[]string{"shared_backend"},
	)

	storeFallbackSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_ratelimit_store_fallback_switches_total",
			Help: "Total number of switches between shared and local counter stores.",
		},
		[]string{"shared_backend", "direction"},
	)
)

func recordStoreOperation(backend, operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if !success {
		storeOperationErrors.WithLabelValues(backend, operation).Inc()
	}
}

func recordFallbackState(sharedBackend string, local bool) {
	v := 0.0
	if local {
		v = 1.0
	}
	storeFallbackActive.WithLabelValues(sharedBackend).Set(v)
}

func recordFallbackSwitch(sharedBackend, direction string) {
	storeFallbackSwitches.WithLabelValues(sharedBackend, direction).Inc()
}
