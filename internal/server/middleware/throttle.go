package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/time/rate"

	"github.com/cyclops-relay/cyclops/internal/metrics"
)

// Throttle applies one shared token bucket to every request it wraps. A
// non-positive rps disables it.
func Throttle(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	retryAfter := time.Duration(math.Ceil(float64(time.Second) / rps))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordIngest(metrics.IngestRateLimited)
			metrics.RecordError("RATE_LIMITED", http.StatusTooManyRequests)

			seconds := int(math.Ceil(retryAfter.Seconds()))
			envelope := errors.NewErrorEnvelope("RATE_LIMITED", "relay ingest rate exceeded").
				WithCorrelationID(GetRequestID(r.Context())).
				WithDetails(map[string]interface{}{"retry_after_seconds": seconds})

			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeErrorResponse(w, envelope, http.StatusTooManyRequests)
		})
	}
}
