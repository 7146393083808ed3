package repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compositeOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_repository_composite_operations_total",
			Help: "Composite repository operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	rangeReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_repository_range_reads_total",
			Help: "Range reads by source",
		},
		[]string{"source"},
	)
)

func recordComposite(operation, outcome string) {
	compositeOperations.WithLabelValues(operation, outcome).Inc()
}

func recordRead(source string) {
	rangeReads.WithLabelValues(source).Inc()
}
