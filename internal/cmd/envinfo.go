package cmd

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cyclops-relay/cyclops/internal/config"
	"github.com/cyclops-relay/cyclops/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		deps := crucible.GetVersion()
		identity := GetAppIdentity()

		log.Info("=== cyclops Environment Information ===")
		log.Info("")
		log.Info("Application:")
		log.Info("  Name:       " + identity.BinaryName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")
		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+deps.Gofulmen, zap.String("gofulmen_version", deps.Gofulmen))
		log.Info("  Crucible:   "+deps.Crucible, zap.String("crucible_version", deps.Crucible))
		log.Info("")
		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  Platform:   "+runtime.GOOS+"/"+runtime.GOARCH, zap.String("goos", runtime.GOOS), zap.String("goarch", runtime.GOARCH))
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := loadConfig(cmd)
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Server:")
		log.Info(fmt.Sprintf("  Listen:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info(fmt.Sprintf("  Metrics:        enabled=%t port=%d", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info("  Config File:    " + config.DefaultConfigPath())
		log.Info("")

		log.Info("Store:")
		log.Info("  Driver:         " + cfg.Store.Driver)
		if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  URL:            " + cfg.Store.URL)
		} else {
			log.Info("  Path:           " + cfg.Store.Path)
		}
		log.Info("")

		log.Info("Forwarder:")
		upstream := cfg.Upstream.URL
		if strings.TrimSpace(upstream) == "" {
			upstream = "(not set)"
		}
		log.Info("  Upstream:          " + upstream)
		log.Info("  Upstream Timeout:  " + cfg.Upstream.Timeout.String())
		log.Info("  Max Dump Interval: " + cfg.Forwarder.MaxDumpInterval.String())
		log.Info("  Tick Period:       " + cfg.Forwarder.TickPeriod.String())
		log.Info(fmt.Sprintf("  Percentile:        %.2f", cfg.Forwarder.Percentile))
		log.Info(fmt.Sprintf("  Max Samples:       %d", cfg.Forwarder.MaxSamples))
		log.Info(fmt.Sprintf("  Queue Capacity:    %d", cfg.Queue.Capacity))
		log.Info("  Key Refresh:       " + cfg.Refresher.Period.String())
		log.Info("")

		log.Info("Ingest:")
		log.Info(fmt.Sprintf("  Global Throttle:   rps=%g burst=%d", cfg.Ingest.RPS, cfg.Ingest.Burst))
		log.Info(fmt.Sprintf("  Project Default:   %d/min (margin %.2f)", cfg.Ingest.DefaultProjectLimit, cfg.RateLimitMargin))
		projects := make([]string, 0, len(cfg.RateLimits))
		for project := range cfg.RateLimits {
			projects = append(projects, project)
		}
		sort.Strings(projects)
		for _, project := range projects {
			log.Info(fmt.Sprintf("  Project %s:  %d/min", project, cfg.RateLimits[project]))
		}
		log.Info("")
		log.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
