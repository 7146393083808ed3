package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// breakerState shows the current state of circuit breakers.
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statgate_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"dependency"},
	)

	// breakerOutcomesTotal counts successes and failures recorded by breakers.
	breakerOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_circuit_breaker_outcomes_total",
			Help: "Total number of call outcomes recorded by circuit breakers",
		},
		[]string{"dependency", "outcome"},
	)

	// breakerRejectedTotal counts calls rejected due to an open circuit.
	breakerRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_circuit_breaker_rejected_total",
			Help: "Total number of calls rejected due to an open circuit",
		},
		[]string{"dependency"},
	)

	// breakerStateChangesTotal counts state transitions.
	breakerStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statgate_circuit_breaker_state_changes_total",
			Help: "Total number of circuit breaker state changes",
		},
		[]string{"dependency", "from", "to"},
	)
)

// RecordOutcome records a success or failure outcome.
func RecordOutcome(name string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	breakerOutcomesTotal.WithLabelValues(name, outcome).Inc()
}

// RecordRejection records a call rejected by an open circuit.
func RecordRejection(name string) {
	breakerRejectedTotal.WithLabelValues(name).Inc()
}

// RecordStateChange records a state transition.
func RecordStateChange(name string, from, to State) {
	breakerStateChangesTotal.WithLabelValues(name, from.String(), to.String()).Inc()
	breakerState.WithLabelValues(name).Set(float64(to))
}
