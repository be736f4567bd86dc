package cmd

import (
	"context"
	"errors"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cyclops-relay/cyclops/internal/config"
	"github.com/cyclops-relay/cyclops/internal/core/keys"
	errwrap "github.com/cyclops-relay/cyclops/internal/errors"
	"github.com/cyclops-relay/cyclops/internal/observability"
	"github.com/cyclops-relay/cyclops/internal/server/handlers"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// registerHealthChecks wires the readiness checks of a running relay.
func registerHealthChecks(hm *handlers.HealthManager, cfg *config.Config, identity *appidentity.Identity, db pinger, cache *keys.Cache) {
	hm.RegisterChecker("store", handlers.CheckerFunc(db.Ping))
	hm.RegisterChecker("credential_cache", handlers.CheckerFunc(credentialCacheCheck(cache)))
	hm.RegisterChecker("app_identity", handlers.CheckerFunc(func(context.Context) error {
		return checkIdentity(identity)
	}))
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", handlers.CheckerFunc(func(context.Context) error {
			if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
				return errwrap.NewInternalError("telemetry system not initialized")
			}
			return nil
		}))
	}
}

// credentialCacheCheck fails until the first successful key refresh.
func credentialCacheCheck(cache *keys.Cache) func(context.Context) error {
	return func(context.Context) error {
		if cache == nil || cache.LastRefresh().IsZero() {
			return errors.New("credential cache has not been refreshed yet")
		}
		return nil
	}
}

func checkIdentity(identity *appidentity.Identity) error {
	switch {
	case identity == nil:
		return errwrap.NewConfigInvalidError("app identity not loaded")
	case identity.BinaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case identity.EnvPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case identity.ConfigName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the relay can load its identity and configuration and reach its store.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger

		if err := checkIdentity(GetAppIdentity()); err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "App identity check failed", err)
			return
		}
		logger.Info("✅ App identity loaded")

		cfg, err := loadConfig(cmd)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration check failed", err)
			return
		}
		logger.Info("✅ Configuration valid")

		if _, err := parseUpstream(cfg.Upstream.URL); err != nil {
			logger.Warn("⚠️  Upstream not usable for serve", zap.Error(err))
		} else {
			logger.Info("✅ Upstream configured", zap.String("upstream", cfg.Upstream.URL))
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Store check failed", err)
			return
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		count, err := db.CountProjectKeys(cmd.Context())
		if err != nil {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Store query failed", err)
			return
		}
		logger.Info("✅ Store reachable", zap.Int("project_keys", count))
		if count == 0 {
			logger.Warn("⚠️  No project keys stored; every report will be rejected")
		}

		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
