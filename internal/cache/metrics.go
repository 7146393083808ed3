package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_cache_lookups_total",
			Help: "Total number of cache lookups by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	cacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_cache_evictions_total",
			Help: "Total number of cache entries evicted.",
		},
		[]string{"backend"},
	)
)

func recordLookup(backend, outcome string) {
	cacheLookups.WithLabelValues(backend, outcome).Inc()
}

func recordEviction(backend string) {
	cacheEvictions.WithLabelValues(backend).Inc()
}
