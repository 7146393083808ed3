package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	limiterDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_ratelimit_decisions_total",
			Help: "Total number of rate limit decisions by outcome.",
		},
		[]string{"outcome"},
	)

	tierDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_ratelimit_tier_denials_total",
			Help: "Total number of denials by violated tier.",
		},
		[]string{"tier"},
	)

	blocksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statgate_ratelimit_blocks_created_total",
			Help: "Total number of block entries created.",
		},
	)

	adaptiveRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statgate_ratelimit_adaptive_ratio",
			Help: "Current effective-limit ratio from adaptive adjustment.",
		},
		[]string{"endpoint"},
	)
)

func recordDecision(outcome string) {
	limiterDecisions.WithLabelValues(outcome).Inc()
}

func recordTierDenial(tier string) {
	tierDenials.WithLabelValues(tier).Inc()
}

func recordBlock() {
	blocksCreated.Inc()
}

func recordAdaptiveRatio(endpoint string, ratio float64) {
	adaptiveRatio.WithLabelValues(endpoint).Set(ratio)
}
