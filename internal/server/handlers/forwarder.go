package handlers

import (
	"net/http"
	"time"

	"github.com/cyclops-relay/cyclops/internal/core/engine"
)

// StatusSource exposes the controller snapshot.
type StatusSource interface {
	Snapshot() engine.Status
}

// QueueStats reports pending queue occupancy.
type QueueStats interface {
	Len() int
	Cap() int
}

// KeyStats reports credential cache occupancy.
type KeyStats interface {
	Len() int
	LastRefresh() time.Time
}

// ForwarderStatusResponse is served at /forwarder/status.
type ForwarderStatusResponse struct {
	Forwarder engine.Status `json:"forwarder"`
	Queue     QueueStatus   `json:"queue"`
	Keys      KeysStatus    `json:"keys"`
}

type QueueStatus struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

type KeysStatus struct {
	Cached      int        `json:"cached"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}

// ForwarderStatusHandler reports the throttle state alongside queue and key cache sizes.
func ForwarderStatusHandler(controller StatusSource, queue QueueStats, keys KeyStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp ForwarderStatusResponse
		if controller != nil {
			resp.Forwarder = controller.Snapshot()
		}
		if queue != nil {
			resp.Queue = QueueStatus{Depth: queue.Len(), Capacity: queue.Cap()}
		}
		if keys != nil {
			resp.Keys.Cached = keys.Len()
			if last := keys.LastRefresh(); !last.IsZero() {
				resp.Keys.LastRefresh = &last
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
