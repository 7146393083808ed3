package upstream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_upstream_fetches_total",
			Help: "Total number of upstream fetches by outcome.",
		},
		[]string{"dependency", "outcome"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statgate_upstream_fetch_duration_seconds",
			Help:    "End-to-end duration of successful upstream fetches.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dependency"},
	)
)

func recordFetch(dependency, outcome string) {
	fetches.WithLabelValues(dependency, outcome).Inc()
}

func recordFetchDuration(dependency string, d time.Duration) {
	fetchDuration.WithLabelValues(dependency).Observe(d.Seconds())
}
