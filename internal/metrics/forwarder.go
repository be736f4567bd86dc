package metrics

import (
	"time"

	"github.com/cyclops-relay/cyclops/internal/observability"
)

// Forwarding pipeline metric names
const (
	ForwardSendsTotal   = "forwarder_sends_total"
	ForwardSendDuration = "forwarder_send_duration_ms"
	ForwardInterval     = "forwarder_interval_ms"
	QueueDepth          = "queue_depth"
	IngestRequestsTotal = "ingest_requests_total"
	KeysRefreshTotal    = "keys_refresh_total"
	KeysCached          = "keys_cached"
)

// Ingest outcomes used as the result label.
const (
	IngestAccepted    = "accepted"
	IngestUnknownKey  = "unknown_project"
	IngestRateLimited = "rate_limited"
	IngestQueueFull   = "queue_full"
	IngestInvalid     = "invalid"
)

// Baseline is the gauge set published when the exporter starts: an empty
// queue, no cached keys, and sends spaced at the interval ceiling.
func Baseline(maxInterval time.Duration) map[string]float64 {
	return map[string]float64{
		QueueDepth:      0,
		KeysCached:      0,
		ForwardInterval: float64(maxInterval.Milliseconds()),
	}
}

// RecordForwardSend records one completed upstream send and its round trip.
func RecordForwardSend(success bool, elapsed time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}
	_ = sys.Counter(ForwardSendsTotal, 1, map[string]string{"status": status})
	_ = sys.Histogram(ForwardSendDuration, elapsed, map[string]string{"status": status})
}

// SetForwardInterval publishes the spacing currently enforced between sends.
func SetForwardInterval(interval time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ForwardInterval, float64(interval.Milliseconds()), nil)
	}
}

// SetQueueDepth publishes the number of requests waiting to be forwarded.
func SetQueueDepth(depth int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(QueueDepth, float64(depth), nil)
	}
}

// RecordIngest counts an ingest request by outcome.
func RecordIngest(result string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(IngestRequestsTotal, 1, map[string]string{"result": result})
	}
}

// RecordKeysRefresh counts a credential cache refresh attempt.
func RecordKeysRefresh(success bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	_ = observability.TelemetrySystem.Counter(KeysRefreshTotal, 1, map[string]string{"status": status})
}

// SetKeysCached publishes the number of project keys held in memory.
func SetKeysCached(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(KeysCached, float64(count), nil)
	}
}
