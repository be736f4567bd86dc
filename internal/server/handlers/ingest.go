package handlers

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyclops-relay/cyclops/internal/core"
	"github.com/cyclops-relay/cyclops/internal/core/engine"
	apperrors "github.com/cyclops-relay/cyclops/internal/errors"
	"github.com/cyclops-relay/cyclops/internal/metrics"
	"github.com/cyclops-relay/cyclops/internal/server/middleware"
)

// DefaultMaxBodyBytes bounds an accepted report when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// KeyLookup resolves project credentials.
type KeyLookup interface {
	Get(projectID string) (core.ProjectKey, bool)
}

// Enqueuer accepts reports without blocking.
type Enqueuer interface {
	Offer(req *core.PendingRequest) error
}

// ProjectLimiter enforces per-project ingest windows. Reserve must check and
// count a request atomically.
type ProjectLimiter interface {
	Reserve(ctx context.Context, projectID string) (bool, time.Duration, error)
}

// IngestResponse is returned for every accepted report.
type IngestResponse struct {
	ID string `json:"id"`
}

// IngestHandler accepts reports for known projects and queues them for the
// forwarder. It never talks to the upstream itself.
type IngestHandler struct {
	Keys         KeyLookup
	Queue        Enqueuer
	Limiter      ProjectLimiter
	Upstream     *url.URL
	MaxBodyBytes int64
	Logger       *logging.Logger
	NewID        func() string
}

var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Host":                {},
	"Content-Length":      {},
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := strings.TrimSpace(chi.URLParam(r, "project_id"))
	if projectID == "" {
		h.reject(w, r, metrics.IngestInvalid, apperrors.NewInvalidInputError("project id is required"))
		return
	}

	if h.Keys == nil {
		h.reject(w, r, metrics.IngestUnknownKey, apperrors.NewServiceUnavailableError("credential cache not ready"))
		return
	}
	if _, ok := h.Keys.Get(projectID); !ok {
		h.reject(w, r, metrics.IngestUnknownKey, apperrors.NewNotFoundError("unknown project "+projectID))
		return
	}

	if h.Limiter != nil {
		// quota is spent on admission, even if the body or queue later rejects it
		allowed, wait, err := h.Limiter.Reserve(ctx, projectID)
		if err != nil {
			// fail open: the store is advisory for ingest
			h.warn("Rate limit lookup failed", zap.String("project_id", projectID), zap.Error(err))
		} else if !allowed {
			h.reject(w, r, metrics.IngestRateLimited,
				apperrors.NewRateLimitedError("project "+projectID+" is rate limited", wait))
			return
		}
	}

	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			h.reject(w, r, metrics.IngestInvalid, apperrors.NewPayloadTooLargeError("report body exceeds limit"))
			return
		}
		h.reject(w, r, metrics.IngestInvalid, apperrors.WrapInvalidInput(ctx, err, "failed to read report body"))
		return
	}

	id := h.newID()
	req := core.NewPendingRequest(id, projectID, r.Method, h.target(r), forwardHeaders(r.Header), body)

	if err := h.Queue.Offer(req); err != nil {
		switch {
		case stderrors.Is(err, engine.ErrQueueFull):
			h.reject(w, r, metrics.IngestQueueFull, apperrors.NewQueueFullError("forward queue is full"))
		case stderrors.Is(err, engine.ErrQueueClosed):
			h.reject(w, r, metrics.IngestQueueFull, apperrors.NewServiceUnavailableError("relay is shutting down"))
		default:
			h.reject(w, r, metrics.IngestInvalid, apperrors.WrapInternal(ctx, err, "failed to queue report"))
		}
		return
	}

	metrics.RecordIngest(metrics.IngestAccepted)
	if h.Logger != nil {
		h.Logger.Debug("Report queued",
			zap.String("id", id),
			zap.String("project_id", projectID),
			zap.Int("bytes", len(body)),
			zap.String("request_id", middleware.GetRequestID(ctx)))
	}
	writeJSON(w, http.StatusAccepted, IngestResponse{ID: id})
}

// target joins the upstream base with the inbound path and query.
func (h *IngestHandler) target(r *http.Request) string {
	if h.Upstream == nil {
		return r.URL.RequestURI()
	}
	u := *h.Upstream
	u.Path = strings.TrimSuffix(u.Path, "/") + r.URL.Path
	u.RawPath = ""
	u.RawQuery = r.URL.RawQuery
	u.Fragment = ""
	return u.String()
}

func (h *IngestHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (h *IngestHandler) reject(w http.ResponseWriter, r *http.Request, result string, err error) {
	metrics.RecordIngest(result)
	apperrors.RespondWithError(w, r, err)
}

func (h *IngestHandler) warn(msg string, fields ...zap.Field) {
	if h.Logger != nil {
		h.Logger.Warn(msg, fields...)
	}
}

// forwardHeaders keeps the first value of every end-to-end header.
func forwardHeaders(in http.Header) map[string]string {
	out := make(map[string]string, len(in))
	for key, values := range in {
		canonical := http.CanonicalHeaderKey(key)
		if _, skip := hopByHopHeaders[canonical]; skip || len(values) == 0 {
			continue
		}
		out[canonical] = values[0]
	}
	return out
}
