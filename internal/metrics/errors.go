package metrics

import (
	"strconv"

	"github.com/cyclops-relay/cyclops/internal/observability"
)

// Error metric names
const (
	ErrorsTotalName         = "errors_total"
	PanicsTotalName         = "panics_total"
	ErrorsByEndpointName    = "errors_by_endpoint"
	UpstreamErrorsTotalName = "upstream_errors_total"
)

// RecordError counts an error response by envelope code and HTTP status.
func RecordError(errorCode string, httpStatus int) {
	counter(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	counter(PanicsTotalName, nil)
}

// RecordErrorByEndpoint counts an error response against a route pattern.
// Callers pass the pattern, never the raw path.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	if endpoint == "" {
		endpoint = "/unknown"
	}
	counter(ErrorsByEndpointName, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}

// RecordUpstreamError counts a failed forward by failure kind.
func RecordUpstreamError(kind string) {
	if kind == "" {
		return
	}
	counter(UpstreamErrorsTotalName, map[string]string{"kind": kind})
}

func counter(name string, tags map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, tags)
	}
}
