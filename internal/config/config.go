package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Tracking TrackingConfig `yaml:"tracking"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Mailer   MailerConfig   `yaml:"mailer"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// TrackingConfig holds the tracking edge configuration. BaseURL is the
// public origin embedded into outbound mail (pixel and click links).
type TrackingConfig struct {
	Port               int    `yaml:"port"`
	BaseURL            string `yaml:"base_url"`
	DefaultRedirectURL string `yaml:"default_redirect_url"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// StorageConfig selects the repository backend.
// "postgres" is the production driver; "memory" runs without a database.
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// RedisConfig holds Redis connection settings for the dispatch lock.
// An empty Addr disables Redis; locking falls back to PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MailerConfig holds mail transport configuration
type MailerConfig struct {
	Driver         string          `yaml:"driver"` // "ses" or "simulated"
	FromName       string          `yaml:"from_name"`
	FromEmail      string          `yaml:"from_email"`
	TimeoutSeconds int             `yaml:"timeout_seconds"`
	SES            SESConfig       `yaml:"ses"`
	Simulated      SimulatedConfig `yaml:"simulated"`
}

// Timeout returns the per-delivery timeout as a duration
func (c MailerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// SimulatedConfig holds the fake transport used in development and tests
type SimulatedConfig struct {
	SuccessRate  float64 `yaml:"success_rate"`
	MinLatencyMS int     `yaml:"min_latency_ms"`
	MaxLatencyMS int     `yaml:"max_latency_ms"`
}

// DispatchConfig holds dispatch engine settings
type DispatchConfig struct {
	LockTTLSeconds int `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the dispatch lock TTL as a duration
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// LoggingConfig holds log level and redaction settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// RedactEnabled defaults redaction to on unless explicitly disabled.
func (c LoggingConfig) RedactEnabled() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file. A missing file is not an
// error; the config then comes from defaults and env overrides alone.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Tracking.Port == 0 {
		c.Tracking.Port = 8081
	}
	if c.Tracking.BaseURL == "" {
		c.Tracking.BaseURL = fmt.Sprintf("http://localhost:%d", c.Tracking.Port)
	}
	if c.Tracking.DefaultRedirectURL == "" {
		c.Tracking.DefaultRedirectURL = "https://example.com"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Storage.Driver == "" {
		if c.Database.URL != "" {
			c.Storage.Driver = "postgres"
		} else {
			c.Storage.Driver = "memory"
		}
	}
	if c.Mailer.Driver == "" {
		c.Mailer.Driver = "simulated"
	}
	if c.Mailer.TimeoutSeconds == 0 {
		c.Mailer.TimeoutSeconds = 30
	}
	if c.Mailer.SES.Region == "" {
		c.Mailer.SES.Region = "us-west-2"
	}
	if c.Mailer.Simulated.SuccessRate == 0 {
		c.Mailer.Simulated.SuccessRate = 1.0
	}
	if c.Dispatch.LockTTLSeconds == 0 {
		c.Dispatch.LockTTLSeconds = 600
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars on the host.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if port := os.Getenv("TRACKING_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Tracking.Port = p
		}
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Storage.Driver = "postgres"
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MAILER_DRIVER"); v != "" {
		cfg.Mailer.Driver = v
	}
	if v := os.Getenv("MAILER_FROM_EMAIL"); v != "" {
		cfg.Mailer.FromEmail = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Mailer.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Mailer.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mailer.SES.Region = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}
