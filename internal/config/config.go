// Package config loads the YAML configuration file and applies environment
// overrides. Secrets live in .env locally and in real env vars on ECS.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Provider  ProviderConfig  `yaml:"provider"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL                string `yaml:"url"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMin int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured connection lifetime as a duration.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMin) * time.Minute
}

// RedisConfig holds Redis settings for the distributed sweep locks.
// Disabled deployments fall back to PostgreSQL advisory locks.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProviderConfig holds delivery provider settings and the sender identity
// stamped on every scheduled message.
type ProviderConfig struct {
	Name   string       `yaml:"name"` // "ses"
	SES    SESConfig    `yaml:"ses"`
	Sender SenderConfig `yaml:"sender"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SenderConfig identifies who messages come from.
type SenderConfig struct {
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
	ReplyTo   string `yaml:"reply_to"`
}

// SchedulerConfig holds worker cadence and delivery retry policy.
type SchedulerConfig struct {
	ActivationIntervalSeconds int    `yaml:"activation_interval_seconds"`
	DispatchIntervalSeconds   int    `yaml:"dispatch_interval_seconds"`
	ReconcileIntervalSeconds  int    `yaml:"reconcile_interval_seconds"`
	DispatchBatchSize         int    `yaml:"dispatch_batch_size"`
	DispatchWorkers           int    `yaml:"dispatch_workers"`
	MaxEnqueueAttempts        int    `yaml:"max_enqueue_attempts"`
	RetryBaseSeconds          int    `yaml:"retry_base_seconds"`
	RetryMaxSeconds           int    `yaml:"retry_max_seconds"`
	AuditCron                 string `yaml:"audit_cron"`
	LockTTLSeconds            int    `yaml:"lock_ttl_seconds"`
}

// ActivationInterval returns the activation sweep cadence.
func (c SchedulerConfig) ActivationInterval() time.Duration {
	return time.Duration(c.ActivationIntervalSeconds) * time.Second
}

// DispatchInterval returns the dispatcher poll cadence.
func (c SchedulerConfig) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSeconds) * time.Second
}

// ReconcileInterval returns the event reconciler poll cadence.
func (c SchedulerConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}

// RetryBase returns the first retry delay of the enqueue backoff.
func (c SchedulerConfig) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseSeconds) * time.Second
}

// RetryMax returns the backoff cap.
func (c SchedulerConfig) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxSeconds) * time.Second
}

// LockTTL returns the distributed lock TTL.
func (c SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMin == 0 {
		cfg.Database.ConnMaxLifetimeMin = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "ses"
	}
	if cfg.Provider.SES.Region == "" {
		cfg.Provider.SES.Region = "us-east-1"
	}
	if cfg.Provider.SES.TimeoutSeconds == 0 {
		cfg.Provider.SES.TimeoutSeconds = 30
	}
	if cfg.Scheduler.ActivationIntervalSeconds == 0 {
		cfg.Scheduler.ActivationIntervalSeconds = 60
	}
	if cfg.Scheduler.DispatchIntervalSeconds == 0 {
		cfg.Scheduler.DispatchIntervalSeconds = 15
	}
	if cfg.Scheduler.ReconcileIntervalSeconds == 0 {
		cfg.Scheduler.ReconcileIntervalSeconds = 15
	}
	if cfg.Scheduler.DispatchBatchSize == 0 {
		cfg.Scheduler.DispatchBatchSize = 100
	}
	if cfg.Scheduler.DispatchWorkers == 0 {
		cfg.Scheduler.DispatchWorkers = 4
	}
	if cfg.Scheduler.MaxEnqueueAttempts == 0 {
		cfg.Scheduler.MaxEnqueueAttempts = 5
	}
	if cfg.Scheduler.RetryBaseSeconds == 0 {
		cfg.Scheduler.RetryBaseSeconds = 30
	}
	if cfg.Scheduler.RetryMaxSeconds == 0 {
		cfg.Scheduler.RetryMaxSeconds = 3600
	}
	if cfg.Scheduler.AuditCron == "" {
		cfg.Scheduler.AuditCron = "@every 10m"
	}
	if cfg.Scheduler.LockTTLSeconds == 0 {
		cfg.Scheduler.LockTTLSeconds = 300
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Database override (critical for ECS deployment where config.yaml has
	// local defaults)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.Provider.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.Provider.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.Provider.SES.Region = region
	}
	if v := os.Getenv("SENDER_FROM_EMAIL"); v != "" {
		cfg.Provider.Sender.FromEmail = v
	}
	if v := os.Getenv("SENDER_FROM_NAME"); v != "" {
		cfg.Provider.Sender.FromName = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MAX_ENQUEUE_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.MaxEnqueueAttempts = n
		}
	}

	return cfg, nil
}
