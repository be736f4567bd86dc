package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cyclops-relay/cyclops/internal/errors"
)

func TestHealthHandlerReturnsHealthyStatus(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("store", CheckerFunc(func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, map[string]string{"store": "healthy"}, resp.Checks)
}

func TestProbesReturnServiceUnavailableWhenUnhealthy(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("store", CheckerFunc(func(context.Context) error { return nil }))
	manager.RegisterChecker("credential_cache", CheckerFunc(func(context.Context) error {
		return errors.New("no refresh yet")
	}))

	probes := map[string]http.HandlerFunc{
		"aggregate": manager.HealthHandler,
		"live":      manager.LivenessHandler,
		"ready":     manager.ReadinessHandler,
		"startup":   manager.StartupHandler,
	}

	for probe, handler := range probes {
		t.Run(probe, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusServiceUnavailable, rec.Code)

			var resp apperrors.HTTPErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
			assert.Equal(t, probe, resp.Error.Details["probe"])
			assert.Equal(t, "unhealthy", resp.Error.Details["status"])
		})
	}
}

func TestProbeReturnsOKWithoutCheckers(t *testing.T) {
	manager := NewHealthManager("dev")

	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProbeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestDetermineOverallStatusTreatsTimeoutAsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")
	assert.Equal(t, "degraded", manager.determineOverallStatus(map[string]string{"a": "healthy", "b": "timeout"}))
	assert.Equal(t, "unhealthy", manager.determineOverallStatus(map[string]string{"a": "unhealthy", "b": "timeout"}))
	assert.Equal(t, "healthy", manager.determineOverallStatus(nil))
}

func TestRunHealthChecksHonoursCancelledContext(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("store", CheckerFunc(func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, map[string]string{"store": "timeout"}, manager.runHealthChecks(ctx))
}
