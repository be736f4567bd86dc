package config

import (
	"time"
)

// Config represents the complete relay configuration. Values are layered:
// built-in defaults, then the user config file, then CYCLOPS_* environment
// variables, then runtime overrides (flags).
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Forwarder ForwarderConfig `mapstructure:"forwarder"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Refresher RefresherConfig `mapstructure:"refresher"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`

	// RateLimits maps project ids to accepted reports per minute.
	RateLimits      map[string]int `mapstructure:"rate_limits"`
	RateLimitMargin float64        `mapstructure:"rate_limit_margin"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// ForwarderConfig tunes the adaptive send controller.
type ForwarderConfig struct {
	// MaxSamples caps the latency history used for the estimate.
	MaxSamples int `mapstructure:"max_samples"`

	// MaxDumpInterval is the longest the relay waits between two sends.
	MaxDumpInterval time.Duration `mapstructure:"max_dump_interval"`

	// TickPeriod is how often the controller checks whether it may send.
	TickPeriod time.Duration `mapstructure:"tick_period"`

	// Percentile is the fraction of fastest samples averaged into the estimate.
	Percentile float64 `mapstructure:"percentile"`

	// DrainTimeout bounds the wait for an in-flight send during shutdown.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// QueueConfig sizes the in-memory pending queue.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// UpstreamConfig describes the collector reports are forwarded to.
type UpstreamConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// RefresherConfig controls the project key refresh loop.
type RefresherConfig struct {
	Period time.Duration `mapstructure:"period"`
}

// IngestConfig controls the producer endpoint.
type IngestConfig struct {
	// RPS and Burst configure the global token bucket; RPS 0 disables it.
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`

	// MaxBodyBytes rejects larger reports with 413.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`

	// DefaultProjectLimit applies to projects without a rate_limits entry
	// (reports per minute).
	DefaultProjectLimit int `mapstructure:"default_project_limit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`

	// Environment is attached to every structured log line.
	Environment string `mapstructure:"environment"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
