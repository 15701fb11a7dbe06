package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for health-pulse-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3470"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// MigrationsPath is the directory holding golang-migrate SQL files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// NATS broker configuration
	NATS NATSConfig `yaml:"nats"`

	// Provider holds issue-tracker client settings shared by all integrations.
	Provider ProviderConfig `yaml:"provider"`

	// Pipeline holds worker pool and retry settings.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// StatusSocketURL is the outbound WebSocket endpoint for job status
	// broadcasts. Empty disables broadcasting (events are logged instead).
	StatusSocketURL string `yaml:"status_socket_url" env:"STATUS_SOCKET_URL" env-default:""`

	// Credential encryption key for integration secrets (provider API tokens).
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"healthpulse"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"health_pulse"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// URL builds a postgres connection URL from the individual fields.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// NATSConfig holds broker connection settings.
type NATSConfig struct {
	URL string `yaml:"url" env:"NATS_URL" env-default:"nats://127.0.0.1:4222"`
	// PublishRetries is how many times a publish is attempted before the
	// caller records a dead-letter row.
	PublishRetries int `yaml:"publish_retries" env:"NATS_PUBLISH_RETRIES" env-default:"3"`
}

// ProviderConfig holds issue-tracker HTTP client settings.
type ProviderConfig struct {
	// RequestTimeout applies per HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"PROVIDER_REQUEST_TIMEOUT" env-default:"30s"`
	// FetchTimeout caps a full page-fetch loop.
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"PROVIDER_FETCH_TIMEOUT" env-default:"30m"`
	// PageSize is the requested page size, capped by provider limits.
	PageSize int `yaml:"page_size" env:"PROVIDER_PAGE_SIZE" env-default:"100"`
	// MaxRetries is the HTTP attempt count on transient failures.
	MaxRetries int `yaml:"max_retries" env:"PROVIDER_MAX_RETRIES" env-default:"3"`
}

// PipelineConfig holds worker pool and message retry settings.
type PipelineConfig struct {
	// MaxMessageRetries is how many times a failed message is republished
	// before it is dead-lettered.
	MaxMessageRetries int `yaml:"max_message_retries" env:"PIPELINE_MAX_MESSAGE_RETRIES" env-default:"3"`
	// ShutdownGrace bounds how long workers may finish their current
	// message on shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" env:"PIPELINE_SHUTDOWN_GRACE" env-default:"3s"`
	// SchedulerInterval is how often the job scheduler looks for runnable
	// schedules.
	SchedulerInterval time.Duration `yaml:"scheduler_interval" env:"PIPELINE_SCHEDULER_INTERVAL" env-default:"30s"`
}

// Load reads configuration from config.yaml (if present) and the environment.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	// Load config from YAML file with environment variable overrides.
	// A missing file is fine: env vars and defaults cover everything.
	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if cfg.CredentialsKey == "" {
		return nil, fmt.Errorf("CREDENTIALS_KEY is required")
	}

	return cfg, nil
}
