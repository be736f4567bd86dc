package config

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points XDG lookups at empty temp dirs so a developer's own config
// file cannot leak into the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	UseConfigFile("")
	t.Cleanup(func() { UseConfigFile("") })
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		// Verify store defaults
		assert.Equal(t, "libsql", cfg.Store.Driver)
		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir("cyclops"), "cyclops.db")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)

		// Verify forwarder defaults
		assert.Equal(t, 100, cfg.Forwarder.MaxSamples)
		assert.Equal(t, time.Second, cfg.Forwarder.MaxDumpInterval)
		assert.Equal(t, 20*time.Millisecond, cfg.Forwarder.TickPeriod)
		assert.Equal(t, 0.9, cfg.Forwarder.Percentile)
		assert.Equal(t, 5*time.Second, cfg.Forwarder.DrainTimeout)

		assert.Equal(t, 10000, cfg.Queue.Capacity)
		assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
		assert.Equal(t, 60*time.Second, cfg.Refresher.Period)
		assert.Zero(t, cfg.Ingest.RPS)
		assert.Equal(t, 600, cfg.Ingest.DefaultProjectLimit)

		assert.Equal(t, 0.9, cfg.RateLimitMargin)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
		assert.False(t, cfg.Debug.PprofEnabled)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)

		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"forwarder": map[string]any{
				"max_dump_interval": "500ms",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, 500*time.Millisecond, cfg.Forwarder.MaxDumpInterval)

		// Verify non-overridden values remain default
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 20*time.Millisecond, cfg.Forwarder.TickPeriod)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("CYCLOPS_PORT", "3000")
		t.Setenv("CYCLOPS_LOG_LEVEL", "warn")
		t.Setenv("CYCLOPS_METRICS_ENABLED", "false")
		t.Setenv("CYCLOPS_RATE_LIMIT_MARGIN", "0.8")
		t.Setenv("CYCLOPS_UPSTREAM_URL", "https://sentry.example.com")
		t.Setenv("CYCLOPS_PERCENTILE", "0.75")
		t.Setenv("CYCLOPS_RATE_LIMITS", "42=100, 7=20")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 0.8, cfg.RateLimitMargin)
		assert.Equal(t, "https://sentry.example.com", cfg.Upstream.URL)
		assert.Equal(t, 0.75, cfg.Forwarder.Percentile)
		assert.Equal(t, map[string]int{"42": 100, "7": 20}, cfg.RateLimits)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("CYCLOPS_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{
			"server": map[string]any{"port": 5000},
		})
		require.NoError(t, err)

		// Runtime override should take precedence over env var
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		isolate(t)

		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
upstream:
  url: https://collector.internal
forwarder:
  max_samples: 50
rate_limits:
  "42": 30
`), 0o600))
		UseConfigFile(path)
		t.Setenv("CYCLOPS_MAX_SAMPLES", "25")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "https://collector.internal", cfg.Upstream.URL)
		assert.Equal(t, 25, cfg.Forwarder.MaxSamples, "env wins over file")
		assert.Equal(t, 30, cfg.RateLimits["42"])
	})

	t.Run("MissingConfigFile", func(t *testing.T) {
		isolate(t)
		UseConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))

		_, err := Load(ctx)
		require.Error(t, err)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		isolate(t)

		_, err := Load(ctx, map[string]any{
			"forwarder": map[string]any{"percentile": 1.5},
			"upstream":  map[string]any{"url": "not a url"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "forwarder.percentile")
		assert.Contains(t, err.Error(), "upstream.url")
	})

	t.Run("InvalidRateLimits", func(t *testing.T) {
		isolate(t)
		t.Setenv("CYCLOPS_RATE_LIMITS", "42")

		_, err := Load(ctx)
		require.Error(t, err)
	})
}

func TestValidateRejectsNaNPercentile(t *testing.T) {
	cfg := &Config{}
	cfg.Forwarder.MaxSamples = 100
	cfg.Forwarder.MaxDumpInterval = time.Second
	cfg.Forwarder.TickPeriod = 20 * time.Millisecond
	cfg.Forwarder.Percentile = math.NaN()
	cfg.Queue.Capacity = 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forwarder.percentile")
}

func TestGetConfigReturnsLastLoad(t *testing.T) {
	isolate(t)

	cfg, err := Load(context.Background(), map[string]any{
		"server": map[string]any{"port": 7070},
	})
	require.NoError(t, err)

	current := GetConfig()
	require.NotNil(t, current)
	assert.Equal(t, cfg.Server.Port, current.Server.Port)
}

func TestEnvSpecs(t *testing.T) {
	envVarNames := make(map[string]bool)
	for _, spec := range getEnvSpecs() {
		envVarNames[spec.Name] = true
	}

	for _, name := range []string{
		"CYCLOPS_LOG_LEVEL",
		"CYCLOPS_PORT",
		"CYCLOPS_HOST",
		"CYCLOPS_METRICS_PORT",
		"CYCLOPS_DB_PATH",
		"CYCLOPS_UPSTREAM_URL",
		"CYCLOPS_MAX_DUMP_INTERVAL",
		"CYCLOPS_QUEUE_CAPACITY",
	} {
		assert.True(t, envVarNames[name], "%s must be mapped", name)
	}
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("CYCLOPS_READ_TIMEOUT", "45s")
	t.Setenv("CYCLOPS_TICK_PERIOD", "5ms")
	t.Setenv("CYCLOPS_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Millisecond, cfg.Forwarder.TickPeriod)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

func TestMergeSettings(t *testing.T) {
	dst := map[string]any{
		"server":      map[string]any{"host": "localhost", "port": 8080},
		"rate_limits": map[string]any{"1": 10},
	}
	mergeSettings(dst, map[string]any{
		"server":      map[string]any{"port": 9000},
		"rate_limits": map[string]int{"2": 20},
		"Upstream":    map[string]any{"url": "https://x"},
	})

	assert.Equal(t, map[string]any{"host": "localhost", "port": 9000}, dst["server"])
	assert.Equal(t, map[string]any{"1": 10, "2": 20}, dst["rate_limits"])
	assert.Equal(t, map[string]any{"url": "https://x"}, dst["upstream"])
}
