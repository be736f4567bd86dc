package cmd

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cyclops-relay/cyclops/internal/config"
	errwrap "github.com/cyclops-relay/cyclops/internal/errors"
	"github.com/cyclops-relay/cyclops/internal/metrics"
	"github.com/cyclops-relay/cyclops/internal/observability"
	"github.com/cyclops-relay/cyclops/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay",
	Long: `Accept reports on /api/{project_id}/store/ and forward them upstream,
pacing sends by the observed upstream latency.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-validate configuration (restart to apply)

On shutdown the relay stops accepting reports, waits for the in-flight send
and drops whatever is still queued.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, serveOverrides(cmd))
	if err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "configuration invalid")
	}

	identity := GetAppIdentity()
	namespace := identity.TelemetryNamespace()

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	observability.InitServerLoggerForEnvironment(identity.BinaryName, level, cfg.Logging.Environment, namespace)
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(observability.MetricsOptions{
			Service:   identity.BinaryName,
			Namespace: namespace,
			Port:      cfg.Metrics.Port,
			Baseline:  metrics.Baseline(cfg.Forwarder.MaxDumpInterval),
		}); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
	}

	r, err := newRelay(ctx, cfg, identity, logger)
	if err != nil {
		_ = observability.ShutdownMetrics()
		return err
	}
	handlers.SetAppIdentity(identity)

	logger.Info("Initializing relay",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("addr", r.server.Addr()),
		zap.String("upstream", cfg.Upstream.URL),
		zap.Int("queue_capacity", cfg.Queue.Capacity),
		zap.Duration("max_dump_interval", cfg.Forwarder.MaxDumpInterval),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
		zap.Int("metrics_port", observability.ExporterPort()))

	// Shutdown handlers run LIFO: relay first, logger flush last.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		observability.SyncLoggers()
		return nil
	})
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down relay...")
		if err := r.stop(ctx); err != nil {
			return errwrap.WrapInternal(ctx, err, "relay shutdown failed")
		}
		logger.Info("Relay stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: re-validating configuration")
		if _, err := config.Load(ctx, serveOverrides(cmd)); err != nil {
			logger.Error("Configuration reload failed", zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}
		logger.Info("Configuration is valid; restart the relay to apply changes")
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	r.start(ctx)

	serveErr := make(chan error, 2)
	go func() {
		err := r.server.Start()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()
	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			serveErr <- err
		}
	}()

	if err := <-serveErr; err != nil {
		stopErr := r.stop(context.Background())
		return errwrap.WrapInternal(ctx, multierr.Append(err, stopErr), "relay error")
	}
	return r.wait()
}

// serveOverrides maps explicitly set flags onto config keys.
func serveOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	flags := cmd.Flags()

	server := map[string]any{}
	if flags.Changed("host") {
		host, _ := flags.GetString("host")
		server["host"] = host
	}
	if flags.Changed("port") {
		port, _ := flags.GetInt("port")
		server["port"] = port
	}
	if len(server) > 0 {
		overrides["server"] = server
	}

	if flags.Changed("upstream") {
		upstream, _ := flags.GetString("upstream")
		overrides["upstream"] = map[string]any{"url": strings.TrimSpace(upstream)}
	}
	return overrides
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "listen host")
	serveCmd.Flags().IntP("port", "p", 8080, "listen port")
	serveCmd.Flags().String("upstream", "", "upstream collector base URL")
}
