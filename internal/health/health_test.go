package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statgate/statgate/internal/circuitbreaker"
)

func TestChecker_ReadinessAggregation(t *testing.T) {
	c := NewChecker("test")
	c.RegisterCheck("a", func(ctx context.Context) Check {
		return Check{Status: StatusHealthy}
	})
	c.RegisterCheck("b", func(ctx context.Context) Check {
		return Check{Status: StatusDegraded, Message: "slow"}
	})

	response := c.Readiness(context.Background())
	assert.Equal(t, StatusDegraded, response.Status)
	assert.Len(t, response.Checks, 2)

	c.RegisterCheck("c", func(ctx context.Context) Check {
		return Check{Status: StatusUnhealthy, Message: "down"}
	})

	response = c.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, response.Status)
}

func TestChecker_DrainingFailsReadiness(t *testing.T) {
	c := NewChecker("test")
	c.RegisterCheck("a", func(ctx context.Context) Check {
		return Check{Status: StatusHealthy}
	})

	c.SetDraining(true)

	response := c.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, response.Status)
	assert.True(t, response.Draining)

	c.SetDraining(false)
	response = c.Readiness(context.Background())
	assert.Equal(t, StatusHealthy, response.Status)
}

func TestChecker_ReadinessHandlerStatusCodes(t *testing.T) {
	c := NewChecker("test")
	c.RegisterCheck("store", func(ctx context.Context) Check {
		return Check{Status: StatusHealthy}
	})

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.RegisterCheck("store", func(ctx context.Context) Check {
		return Check{Status: StatusUnhealthy, Message: "unreachable"}
	})

	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var response ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "unreachable", response.Checks["store"].Message)
}

func TestChecker_HealthHandler(t *testing.T) {
	c := NewChecker("1.2.3")

	rec := httptest.NewRecorder()
	c.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, StatusHealthy, response.Status)
	assert.Equal(t, "1.2.3", response.Version)
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck(func(ctx context.Context) error { return nil }, true)
	assert.Equal(t, StatusHealthy, ok(context.Background()).Status)

	critical := PingCheck(func(ctx context.Context) error { return assert.AnError }, true)
	assert.Equal(t, StatusUnhealthy, critical(context.Background()).Status)

	optional := PingCheck(func(ctx context.Context) error { return assert.AnError }, false)
	assert.Equal(t, StatusDegraded, optional(context.Background()).Status)
}

func TestBreakerCheck(t *testing.T) {
	registry := circuitbreaker.NewRegistry(nil, nil)
	cb := registry.GetOrCreate("statistics-api")

	check := BreakerCheck(registry)
	assert.Equal(t, StatusHealthy, check(context.Background()).Status)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	result := check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Contains(t, result.Message, "1 of 1")
}
