// Package config handles configuration loading for the proctoring engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"proctor-engine/internal/consumer"
	"proctor-engine/internal/event"
	"proctor-engine/internal/kafka"
	"proctor-engine/internal/scoring"
	"proctor-engine/internal/session"
	"proctor-engine/internal/storage"
	"proctor-engine/internal/storage/s3"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Auth       AuthConfig         `yaml:"auth"`
	RateLimit  RateLimitConfig    `yaml:"rate_limit"`
	CORS       CORSConfig         `yaml:"cors"`
	Queue      QueueConfig        `yaml:"queue"`
	Validation ValidationConfig   `yaml:"validation"`
	Policy     scoring.Policy     `yaml:"policy"`
	Sessions   SessionStoreConfig `yaml:"sessions"`
	Archive    ArchiveConfig      `yaml:"archive"`
	Consumer   consumer.Config    `yaml:"consumer"`
	Kafka      KafkaConfig        `yaml:"kafka"`
	Evidence   EvidenceConfig     `yaml:"evidence"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig holds API authentication settings. Keys are stored as bcrypt
// hashes, never plaintext.
type AuthConfig struct {
	Enabled      bool     `yaml:"enabled"`
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeyHashes []string `yaml:"api_key_hashes"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"` // Max requests per IP per window
	WindowSize    time.Duration `yaml:"window_size"`     // Time window for rate limiting
	BurstSize     int           `yaml:"burst_size"`      // Allow burst above limit temporarily
	CleanupPeriod time.Duration `yaml:"cleanup_period"`  // How often to clean old entries
	ExemptPaths   []string      `yaml:"exempt_paths"`    // Paths exempt from rate limiting
	TrustProxy    bool          `yaml:"trust_proxy"`     // Trust X-Forwarded-For header
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"` // Preflight cache duration in seconds
}

// QueueConfig holds archive queue settings.
type QueueConfig struct {
	Size int `yaml:"size"`
}

// ValidationConfig holds event validation settings.
type ValidationConfig struct {
	MaxEventAge time.Duration `yaml:"max_event_age"`
	MaxFuture   time.Duration `yaml:"max_future"`
}

// SessionStoreConfig selects and configures the session store backend.
type SessionStoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string              `yaml:"backend"`
	Redis   session.RedisConfig `yaml:"redis"`
}

// ArchiveConfig holds the ClickHouse archive settings.
type ArchiveConfig struct {
	Enabled     bool                      `yaml:"enabled"`
	ClickHouse  storage.ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter storage.BatchWriterConfig `yaml:"batch_writer"`
	Retention   storage.RetentionConfig   `yaml:"retention"`
}

// KafkaConfig holds the alert producer and detector consumer settings.
type KafkaConfig struct {
	// AlertsEnabled publishes escalation alerts to the alert topic.
	AlertsEnabled bool `yaml:"alerts_enabled"`

	// DetectorsEnabled consumes detector reports from the detector topic.
	DetectorsEnabled bool `yaml:"detectors_enabled"`

	Client kafka.Config `yaml:"client"`
}

// EvidenceConfig holds the S3 evidence store settings.
type EvidenceConfig struct {
	Enabled bool      `yaml:"enabled"`
	S3      s3.Config `yaml:"s3"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			Enabled:      false, // Disabled by default for development
			APIKeyHeader: "X-API-Key",
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 1000,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/health", "/metrics"},
			TrustProxy:    false,
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				"X-API-Key",
				"X-Request-ID",
			},
			ExposedHeaders: []string{
				"X-Request-ID",
				"X-RateLimit-Limit",
				"X-RateLimit-Remaining",
				"X-RateLimit-Reset",
			},
			AllowCredentials: false,
			MaxAge:           86400,
		},
		Queue: QueueConfig{
			Size: 100000,
		},
		Validation: ValidationConfig{
			MaxEventAge: 24 * time.Hour,
			MaxFuture:   5 * time.Minute,
		},
		Policy: scoring.DefaultPolicy(),
		Sessions: SessionStoreConfig{
			Backend: "memory",
			Redis:   session.DefaultRedisConfig(),
		},
		Archive: ArchiveConfig{
			Enabled:     false, // Disabled by default for development without ClickHouse
			ClickHouse:  storage.DefaultClickHouseConfig(),
			BatchWriter: storage.DefaultBatchWriterConfig(),
			Retention:   storage.DefaultRetentionConfig(),
		},
		Consumer: consumer.DefaultConfig(),
		Kafka: KafkaConfig{
			AlertsEnabled:    false,
			DetectorsEnabled: false,
			Client:           *kafka.DefaultConfig(),
		},
		Evidence: EvidenceConfig{
			Enabled: false,
			S3:      *s3.DefaultConfig(),
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("PROCTOR_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PROCTOR_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("PROCTOR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if hash := os.Getenv("PROCTOR_API_KEY_HASH"); hash != "" {
		c.Auth.APIKeyHashes = append(c.Auth.APIKeyHashes, hash)
		c.Auth.Enabled = true
	}

	if backend := os.Getenv("PROCTOR_SESSION_BACKEND"); backend != "" {
		c.Sessions.Backend = backend
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Sessions.Redis.Addr = addr
	}

	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Sessions.Redis.Password = pass
	}

	if enabled := os.Getenv("PROCTOR_ARCHIVE_ENABLED"); enabled == "true" {
		c.Archive.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Archive.ClickHouse.Hosts = []string{host}
	}

	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Archive.ClickHouse.Database = db
	}

	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Archive.ClickHouse.Username = user
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Archive.ClickHouse.Password = pass
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Client.Brokers = splitAndTrim(brokers, ",")
	}

	if enabled := os.Getenv("PROCTOR_ALERTS_ENABLED"); enabled == "true" {
		c.Kafka.AlertsEnabled = true
	}

	if enabled := os.Getenv("PROCTOR_DETECTORS_ENABLED"); enabled == "true" {
		c.Kafka.DetectorsEnabled = true
	}

	if bucket := os.Getenv("PROCTOR_EVIDENCE_BUCKET"); bucket != "" {
		c.Evidence.S3.Bucket = bucket
		c.Evidence.Enabled = true
	}

	if enabled := os.Getenv("PROCTOR_RATELIMIT_ENABLED"); enabled == "false" {
		c.RateLimit.Enabled = false
	}

	if rps := os.Getenv("PROCTOR_RATELIMIT_RPS"); rps != "" {
		fmt.Sscanf(rps, "%d", &c.RateLimit.RequestsPerIP)
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("config: invalid http port %d", c.Server.HTTPPort)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log level %q", c.Logging.Level)
	}

	if c.Queue.Size < 1 {
		return fmt.Errorf("config: queue size must be positive, got %d", c.Queue.Size)
	}

	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch c.Sessions.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Sessions.Backend)
	}

	if c.Auth.Enabled && len(c.Auth.APIKeyHashes) == 0 {
		return fmt.Errorf("config: auth enabled but no api key hashes configured")
	}

	if c.Kafka.AlertsEnabled || c.Kafka.DetectorsEnabled {
		if err := c.Kafka.Client.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	if c.Evidence.Enabled {
		if err := c.Evidence.S3.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	return nil
}

// ValidatorConfig converts validation settings for the event validator.
func (c *Config) ValidatorConfig() event.ValidatorConfig {
	return event.ValidatorConfig{
		MaxAge:    c.Validation.MaxEventAge,
		MaxFuture: c.Validation.MaxFuture,
	}
}

// splitAndTrim splits a string by separator and trims whitespace from
// each part.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
