package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclops-relay/cyclops/internal/core"
	"github.com/cyclops-relay/cyclops/internal/core/engine"
	"github.com/cyclops-relay/cyclops/internal/core/keys"
)

type staticStatus engine.Status

func (s staticStatus) Snapshot() engine.Status { return engine.Status(s) }

func TestForwarderStatusHandler(t *testing.T) {
	queue := engine.NewPendingQueue(8)
	require.NoError(t, queue.Offer(core.NewPendingRequest("a", "42", "POST", "http://u", nil, nil)))

	cache := keys.NewCache()
	cache.Upsert([]core.ProjectKey{{ProjectID: "42"}, {ProjectID: "7"}})
	refreshed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.MarkRefreshed(refreshed)

	status := staticStatus{State: "awaiting_completion", Estimate: 40 * time.Millisecond, Interval: 40 * time.Millisecond, Samples: 3, Sent: 3}

	rec := httptest.NewRecorder()
	ForwarderStatusHandler(status, queue, cache)(rec, httptest.NewRequest(http.MethodGet, "/forwarder/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ForwarderStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "awaiting_completion", resp.Forwarder.State)
	assert.Equal(t, 40*time.Millisecond, resp.Forwarder.Interval)
	assert.Equal(t, uint64(3), resp.Forwarder.Sent)
	assert.Equal(t, QueueStatus{Depth: 1, Capacity: 8}, resp.Queue)
	assert.Equal(t, 2, resp.Keys.Cached)
	require.NotNil(t, resp.Keys.LastRefresh)
	assert.True(t, refreshed.Equal(*resp.Keys.LastRefresh))
}

func TestForwarderStatusHandlerWithoutSources(t *testing.T) {
	rec := httptest.NewRecorder()
	ForwarderStatusHandler(nil, nil, nil)(rec, httptest.NewRequest(http.MethodGet, "/forwarder/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ForwarderStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Nil(t, resp.Keys.LastRefresh)
}
