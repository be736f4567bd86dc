package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cyclops-relay/cyclops/internal/observability"
)

func TestLoggerInitialization(t *testing.T) {
	t.Run("CLI logger", func(t *testing.T) {
		observability.InitCLILogger("cyclops-test", true)
		require.NotNil(t, observability.CLILogger)

		observability.CLILogger.Debug("CLI logger ready", zap.String("test", "value"))
	})

	t.Run("relay logger", func(t *testing.T) {
		observability.InitServerLoggerForEnvironment("cyclops-test", "DEBUG", "test", "cyclops")
		require.NotNil(t, observability.ServerLogger)

		observability.ServerLogger.Info("Forwarding controller started",
			zap.Duration("tick_period", 0),
			zap.String("component", "test"))
	})

	t.Run("sync is safe", func(t *testing.T) {
		assert.NotPanics(t, observability.SyncLoggers)
	})
}

func TestStructuredProfileWithCorrelation(t *testing.T) {
	logger, err := logging.New(&logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: "INFO",
		Service:      "correlation-test",
		Environment:  "test",
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
	})
	require.NoError(t, err)

	logger.Info("Request queued", zap.String("project_id", "42"))
}

func TestEmbeddedCrucibleVersion(t *testing.T) {
	version := crucible.GetVersion()
	assert.NotEmpty(t, version.Gofulmen)
	assert.NotEmpty(t, version.Crucible)
}

func TestShutdownMetricsWithoutExporter(t *testing.T) {
	original := observability.PrometheusExporter
	observability.PrometheusExporter = nil
	t.Cleanup(func() { observability.PrometheusExporter = original })

	require.NoError(t, observability.ShutdownMetrics())
}
