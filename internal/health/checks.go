package health

import (
	"context"
	"fmt"

	"github.com/statgate/statgate/internal/circuitbreaker"
	"github.com/statgate/statgate/internal/ratelimit"
)

// PingCheck wraps a store's Ping method. critical=false reports degraded
// instead of unhealthy on failure, for stores the service can run without.
func PingCheck(ping func(ctx context.Context) error, critical bool) CheckFunc {
	return func(ctx context.Context) Check {
		if err := ping(ctx); err != nil {
			status := StatusDegraded
			if critical {
				status = StatusUnhealthy
			}
			return Check{Status: status, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}

// BreakerCheck reports degraded while any circuit is not closed. An open
// circuit means a dependency is failing, not that this service is down.
func BreakerCheck(registry *circuitbreaker.Registry) CheckFunc {
	return func(ctx context.Context) Check {
		open := 0
		total := 0
		for _, stats := range registry.Stats() {
			total++
			if stats.State != circuitbreaker.StateClosed {
				open++
			}
		}
		if open > 0 {
			return Check{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d of %d circuits not closed", open, total),
			}
		}
		return Check{Status: StatusHealthy}
	}
}

// LimiterCheck reports degraded while rate limiting runs on the local
// fallback counter store.
func LimiterCheck(limiter *ratelimit.Limiter) CheckFunc {
	return func(ctx context.Context) Check {
		stats := limiter.Stats()
		if stats.UsingLocalCounters {
			return Check{
				Status:  StatusDegraded,
				Message: "rate limiting on local fallback counters",
			}
		}
		return Check{Status: StatusHealthy}
	}
}
