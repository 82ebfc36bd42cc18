package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Import    ImportConfig    `yaml:"import"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 60s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access API (empty = allow all)
	AllowedOrigins []string      `yaml:"allowed_origins"`  // CORS origins of the browser UI
}

// DatabaseConfig selects the relational store
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// DispatchConfig contains worker and webhook settings
type DispatchConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Schedule    string        `yaml:"schedule"`     // cron spec, default "@every 30s"
	HTTPTimeout time.Duration `yaml:"http_timeout"` // webhook timeout (default: 30s)
	Concurrency int           `yaml:"concurrency"`  // batches processed in parallel per pass
	BatchLimit  int           `yaml:"batch_limit"`  // due batches per pass (0 = all)
	Timezone    string        `yaml:"timezone"`     // zone of the daily counter (default: Local)
}

// RateLimitConfig selects the daily counter backend
type RateLimitConfig struct {
	Backend       string `yaml:"backend"` // sql, redis, bolt
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	BoltPath      string `yaml:"bolt_path"`
}

// EventsConfig contains outcome event publishing settings
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"` // Default: ex.disparos
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
	BoltPath      string        `yaml:"bolt_path"`      // counter snapshots survive restarts
}

// ImportConfig contains spreadsheet import settings
type ImportConfig struct {
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`   // Default: 10MB
	DefaultBatchSize int           `yaml:"default_batch_size"` // Default: 50
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`      // Google Sheets download (default: 30s)
}

// HistoryConfig contains dispatch history retention settings
type HistoryConfig struct {
	MaxAge          time.Duration `yaml:"max_age"`          // Delete entries older than this (0 = keep forever)
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // How often to run cleanup
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file. A .env file in the working
// directory is loaded first and ${VAR} references are expanded.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides secrets from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("DISPAROS_API_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv("DISPAROS_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("DISPAROS_REDIS_PASSWORD"); v != "" {
		c.RateLimit.RedisPassword = v
	}
	if v := os.Getenv("DISPAROS_AMQP_URL"); v != "" {
		c.Events.AMQPURL = v
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		// Immediate sends wait for the webhook
		c.API.WriteTimeout = 60 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "/var/lib/disparos/disparos.db"
	}

	if c.Dispatch.Schedule == "" {
		c.Dispatch.Schedule = "@every 30s"
	}
	if c.Dispatch.HTTPTimeout == 0 {
		c.Dispatch.HTTPTimeout = 30 * time.Second
	}
	if c.Dispatch.Concurrency == 0 {
		c.Dispatch.Concurrency = 1
	}
	if c.Dispatch.Timezone == "" {
		c.Dispatch.Timezone = "Local"
	}

	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "sql"
	}
	if c.RateLimit.Backend == "bolt" && c.RateLimit.BoltPath == "" {
		c.RateLimit.BoltPath = "/var/lib/disparos/ratelimit.db"
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = "ex.disparos"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Import.MaxUploadBytes == 0 {
		c.Import.MaxUploadBytes = 10 * 1024 * 1024 // 10MB
	}
	if c.Import.DefaultBatchSize == 0 {
		c.Import.DefaultBatchSize = 50
	}
	if c.Import.FetchTimeout == 0 {
		c.Import.FetchTimeout = 30 * time.Second
	}

	if c.History.CleanupInterval == 0 {
		c.History.CleanupInterval = time.Hour
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("invalid database.driver: %s (must be sqlite or postgres)", c.Database.Driver)
	}

	if c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("dispatch.concurrency must be at least 1")
	}
	if c.Dispatch.BatchLimit < 0 {
		return fmt.Errorf("dispatch.batch_limit must not be negative")
	}
	if _, err := time.LoadLocation(c.Dispatch.Timezone); err != nil {
		return fmt.Errorf("invalid dispatch.timezone: %s", c.Dispatch.Timezone)
	}

	switch c.RateLimit.Backend {
	case "sql":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("ratelimit.redis_addr is required for the redis backend")
		}
	case "bolt":
		if c.RateLimit.BoltPath == "" {
			return fmt.Errorf("ratelimit.bolt_path is required for the bolt backend")
		}
	default:
		return fmt.Errorf("invalid ratelimit.backend: %s (must be sql, redis, or bolt)", c.RateLimit.Backend)
	}

	if c.Events.Enabled && c.Events.AMQPURL == "" {
		return fmt.Errorf("events.amqp_url is required when events are enabled")
	}

	if c.Import.DefaultBatchSize < 1 || c.Import.DefaultBatchSize > 50 {
		return fmt.Errorf("import.default_batch_size must be between 1 and 50")
	}
	if c.History.MaxAge < 0 {
		return fmt.Errorf("history.max_age must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// Location returns the zone in which the daily counter rolls over. The
// default "Local" is the server zone, matching the Clock fallback.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Dispatch.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
