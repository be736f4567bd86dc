package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// fallbackExporterPort is reported when the exporter was asked for a random
// port and its bound address cannot be read back.
const fallbackExporterPort = 9090

var (
	// TelemetrySystem receives every relay metric. Nil while metrics are disabled.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint proxied by /metrics.
	PrometheusExporter *exporters.PrometheusExporter

	exporterPort int
)

// MetricsOptions configures the relay's Prometheus exporter.
type MetricsOptions struct {
	// Service names the process; it doubles as the namespace when Namespace is empty.
	Service   string
	Namespace string
	// Port of the exporter listener. 0 picks a free port.
	Port int
	// Baseline gauges are set once at startup so forwarder series exist
	// before the first report arrives.
	Baseline map[string]float64
}

// InitMetrics starts the exporter and the telemetry system behind it.
func InitMetrics(opts MetricsOptions) error {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = opts.Service
	}
	port := max(opts.Port, 0)
	exporterPort = port

	exporter := exporters.NewPrometheusExporter(namespace, net.JoinHostPort("", strconv.Itoa(port)))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter on port %d: %w", port, err)
	}

	if bound, err := boundPort(exporter.GetAddr()); err == nil {
		exporterPort = bound
	} else if port == 0 {
		exporterPort = fallbackExporterPort
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		_ = exporter.Stop()
		return fmt.Errorf("create telemetry system: %w", err)
	}

	PrometheusExporter = exporter
	TelemetrySystem = sys

	for name, value := range opts.Baseline {
		if err := sys.Gauge(name, value, nil); err != nil {
			return fmt.Errorf("publish baseline %s: %w", name, err)
		}
	}
	return nil
}

// ShutdownMetrics stops the exporter if it was started.
func ShutdownMetrics() error {
	if PrometheusExporter == nil {
		return nil
	}
	err := PrometheusExporter.Stop()
	PrometheusExporter = nil
	TelemetrySystem = nil
	return err
}

// ExporterPort is the port the exporter actually listens on.
func ExporterPort() int {
	return exporterPort
}

func boundPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
