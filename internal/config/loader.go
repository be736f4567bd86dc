// Package config provides centralized configuration management for the relay.
// Layers, lowest precedence first:
// Layer 1: built-in defaults (SetDefaults)
// Layer 2: user config file (explicit --config or XDG discovery)
// Layer 3: CYCLOPS_* environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/cyclops-relay/cyclops/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity

	// explicitConfigFile is set from the --config flag
	explicitConfigFile string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetDefaults registers every built-in default on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")
	v.SetDefault("logging.environment", "production")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Forwarder defaults
	v.SetDefault("forwarder.max_samples", 100)
	v.SetDefault("forwarder.max_dump_interval", "1s")
	v.SetDefault("forwarder.tick_period", "20ms")
	v.SetDefault("forwarder.percentile", 0.9)
	v.SetDefault("forwarder.drain_timeout", "5s")

	v.SetDefault("queue.capacity", 10000)

	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.user_agent", "cyclops")

	v.SetDefault("refresher.period", "60s")

	// Ingest defaults
	v.SetDefault("ingest.rps", 0)
	v.SetDefault("ingest.burst", 100)
	v.SetDefault("ingest.max_body_bytes", 1<<20)
	v.SetDefault("ingest.default_project_limit", 600)

	// Rate limit defaults
	v.SetDefault("rate_limits", map[string]int{})
	v.SetDefault("rate_limit_margin", 0.9)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// UseConfigFile pins the user config file instead of XDG discovery.
// An empty path restores discovery.
func UseConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	explicitConfigFile = strings.TrimSpace(path)
}

// Load builds the configuration from all layers.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	v := viper.New()
	SetDefaults(v)

	if path := configFilePath(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}
	if err := applyDynamicEnvOverrides(envPrefix(), envOverrides); err != nil {
		return nil, err
	}

	merged := v.AllSettings()
	mergeSettings(merged, envOverrides)
	for _, overrides := range runtimeOverrides {
		mergeSettings(merged, overrides)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)

	return cfg, nil
}

// Validate rejects values the relay cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var problems []string
	if c.Forwarder.MaxSamples < 1 {
		problems = append(problems, "forwarder.max_samples must be at least 1")
	}
	if c.Forwarder.MaxDumpInterval <= 0 {
		problems = append(problems, "forwarder.max_dump_interval must be positive")
	}
	if c.Forwarder.TickPeriod <= 0 {
		problems = append(problems, "forwarder.tick_period must be positive")
	}
	if math.IsNaN(c.Forwarder.Percentile) || c.Forwarder.Percentile <= 0 || c.Forwarder.Percentile > 1 {
		problems = append(problems, "forwarder.percentile must be in (0, 1]")
	}
	if c.Queue.Capacity < 1 {
		problems = append(problems, "queue.capacity must be at least 1")
	}
	if c.Ingest.RPS < 0 {
		problems = append(problems, "ingest.rps must not be negative")
	}
	if raw := strings.TrimSpace(c.Upstream.URL); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			problems = append(problems, fmt.Sprintf("upstream.url %q is not an absolute URL", raw))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// configFilePath returns the explicit config file or the first existing
// XDG candidate. An empty result means no file layer.
func configFilePath() string {
	configMu.RLock()
	explicit := explicitConfigFile
	configMu.RUnlock()
	if explicit != "" {
		return explicit
	}

	for _, candidate := range getUserConfigPaths() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// getUserConfigPaths returns the list of user config file paths to check
// Uses gofulmen/config for XDG-compliant path discovery
func getUserConfigPaths() []string {
	configName, binaryName := appNamesForPaths()

	legacyNames := []string{}
	if binaryName != configName {
		legacyNames = append(legacyNames, binaryName)
	}

	return gfconfig.GetAppConfigPaths(configName, legacyNames...)
}

func envPrefix() string {
	prefix := appid.EnvPrefix
	if appIdentity != nil && strings.TrimSpace(appIdentity.EnvPrefix) != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},
		{Name: prefix + "LOG_ENVIRONMENT", Path: []string{"logging", "environment"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Forwarder config
		{Name: prefix + "MAX_SAMPLES", Path: []string{"forwarder", "max_samples"}, Type: EnvInt},
		{Name: prefix + "MAX_DUMP_INTERVAL", Path: []string{"forwarder", "max_dump_interval"}, Type: EnvString},
		{Name: prefix + "TICK_PERIOD", Path: []string{"forwarder", "tick_period"}, Type: EnvString},
		{Name: prefix + "PERCENTILE", Path: []string{"forwarder", "percentile"}, Type: EnvString},
		{Name: prefix + "DRAIN_TIMEOUT", Path: []string{"forwarder", "drain_timeout"}, Type: EnvString},

		{Name: prefix + "QUEUE_CAPACITY", Path: []string{"queue", "capacity"}, Type: EnvInt},

		// Upstream config
		{Name: prefix + "UPSTREAM_URL", Path: []string{"upstream", "url"}, Type: EnvString},
		{Name: prefix + "UPSTREAM_TIMEOUT", Path: []string{"upstream", "timeout"}, Type: EnvString},
		{Name: prefix + "UPSTREAM_USER_AGENT", Path: []string{"upstream", "user_agent"}, Type: EnvString},

		{Name: prefix + "REFRESH_PERIOD", Path: []string{"refresher", "period"}, Type: EnvString},

		// Ingest config
		{Name: prefix + "INGEST_RPS", Path: []string{"ingest", "rps"}, Type: EnvString},
		{Name: prefix + "INGEST_BURST", Path: []string{"ingest", "burst"}, Type: EnvInt},
		{Name: prefix + "INGEST_MAX_BODY_BYTES", Path: []string{"ingest", "max_body_bytes"}, Type: EnvInt},
		{Name: prefix + "INGEST_DEFAULT_PROJECT_LIMIT", Path: []string{"ingest", "default_project_limit"}, Type: EnvInt},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},
	}
}

// applyDynamicEnvOverrides handles variables that do not map to a single
// typed path: the rate limit margin and per-project limits
// ({PREFIX}RATE_LIMITS="42=100,7=20").
func applyDynamicEnvOverrides(prefix string, envOverrides map[string]any) error {
	if value := strings.TrimSpace(os.Getenv(prefix + "RATE_LIMIT_MARGIN")); value != "" {
		margin, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid rate limit margin: %w", err)
		}
		envOverrides["rate_limit_margin"] = margin
	}

	if value := strings.TrimSpace(os.Getenv(prefix + "RATE_LIMITS")); value != "" {
		limits, err := parseRateLimits(value)
		if err != nil {
			return err
		}
		envOverrides["rate_limits"] = limits
	}
	return nil
}

func parseRateLimits(raw string) (map[string]any, error) {
	limits := map[string]any{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		projectID, value, ok := strings.Cut(pair, "=")
		projectID = strings.TrimSpace(projectID)
		if !ok || projectID == "" {
			return nil, fmt.Errorf("invalid rate limit entry %q: want project=requests", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid rate limit for project %s: %q", projectID, value)
		}
		limits[projectID] = n
	}
	return limits, nil
}

// mergeSettings deep-merges src into dst. Nested maps merge; other values
// replace. Keys are lowercased to match viper's normalization.
func mergeSettings(dst, src map[string]any) {
	for key, value := range src {
		key = strings.ToLower(key)
		srcMap, srcIsMap := asMap(value)
		if !srcIsMap {
			dst[key] = value
			continue
		}
		dstMap, dstIsMap := asMap(dst[key])
		if !dstIsMap {
			dstMap = map[string]any{}
		}
		mergeSettings(dstMap, srcMap)
		dst[key] = dstMap
	}
}

func asMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[string]int:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = v
		}
		return out, true
	default:
		return nil, false
	}
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "cyclops" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = appid.ConfigName
	binaryName = appid.BinaryName
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultCacheDir returns the XDG-compliant cache directory for the app.
func DefaultCacheDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppCacheDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}
