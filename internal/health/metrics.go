package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var checkStatus = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "statgate_health_check_status",
		Help: "Current health check status (1=healthy, 0.5=degraded, 0=unhealthy)",
	},
	[]string{"check"},
)

func recordCheck(name string, status Status) {
	var value float64
	switch status {
	case StatusHealthy:
		value = 1
	case StatusDegraded:
		value = 0.5
	}
	checkStatus.WithLabelValues(name).Set(value)
}
