package analytics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "statgate_analytics_load_duration_seconds",
			Help:    "Latency of bulk observation loads",
			Buckets: prometheus.DefBuckets,
		},
	)

	loadedPoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statgate_analytics_loaded_points_total",
			Help: "Total observation points written",
		},
	)

	loadErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statgate_analytics_load_errors_total",
			Help: "Total failed bulk loads",
		},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statgate_analytics_query_duration_seconds",
			Help:    "Latency of analytics queries by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	queryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_analytics_query_errors_total",
			Help: "Total failed analytics queries by kind",
		},
		[]string{"kind"},
	)
)

func recordLoad(duration time.Duration, points int, success bool) {
	loadDuration.Observe(duration.Seconds())
	loadedPoints.Add(float64(points))
	if !success {
		loadErrors.Inc()
	}
}

func recordQuery(kind string, duration time.Duration, success bool) {
	queryDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if !success {
		queryErrors.WithLabelValues(kind).Inc()
	}
}
