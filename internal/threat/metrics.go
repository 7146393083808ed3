package threat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scoreAssessments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_threat_assessments_total",
			Help: "Total number of threat score recomputations by resulting level.",
		},
		[]string{"level"},
	)
)

func recordScore(level Level) {
	scoreAssessments.WithLabelValues(level.String()).Inc()
}
