package retry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_retry_attempts_total",
			Help: "Total number of attempts made under a retry policy.",
		},
		[]string{"operation"},
	)

	retryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_retry_outcomes_total",
			Help: "Total number of retried operations by final outcome.",
		},
		[]string{"operation", "result"},
	)

	retryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statgate_retry_duration_seconds",
			Help:    "Total duration of operations executed under a retry policy.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	retryBackoffWaits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statgate_retry_backoff_seconds",
			Help:    "Duration of backoff waits between attempts.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)
)

func recordAttempt(operation string) {
	retryAttempts.WithLabelValues(operation).Inc()
}

func recordOutcome(operation string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	retryOutcomes.WithLabelValues(operation, result).Inc()
	retryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func recordBackoff(operation string, wait time.Duration) {
	retryBackoffWaits.WithLabelValues(operation).Observe(wait.Seconds())
}
