package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	TelegramToken  string
	DatabaseURL    string
	Storage        string
	MigrationsPath string
	LogLevel       string
	LogFormat      string
	PrometheusPort string
	Port           string

	SchedulerInterval    time.Duration
	SchedulerConcurrency int
	SchedulerBatchSize   int

	NotifyRate          float64
	NotifyQueueSize     int
	NotifyRetryInterval time.Duration
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// a missing .env is fine, real deployments use the environment
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		Storage:        getEnvOrDefault("STORAGE", StoragePostgres),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", "migrations"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "text"),
		PrometheusPort: getEnvOrDefault("PROMETHEUS_PORT", "9090"),
		Port:           getEnvOrDefault("PORT", "8080"),
	}

	var result *multierror.Error
	var err error

	if cfg.SchedulerInterval, err = getDuration("SCHEDULER_INTERVAL", time.Minute); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.SchedulerConcurrency, err = getInt("SCHEDULER_CONCURRENCY", 4); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.SchedulerBatchSize, err = getInt("SCHEDULER_BATCH_SIZE", 100); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.NotifyRate, err = getFloat("NOTIFY_RATE", 25); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.NotifyQueueSize, err = getInt("NOTIFY_QUEUE", 256); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.NotifyRetryInterval, err = getDuration("NOTIFY_RETRY_INTERVAL", 5*time.Minute); err != nil {
		result = multierror.Append(result, err)
	}

	switch cfg.Storage {
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			result = multierror.Append(result, fmt.Errorf("DATABASE_URL environment variable is required"))
		}
	case StorageMemory:
	default:
		result = multierror.Append(result, fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, cfg.Storage))
	}

	if cfg.SchedulerInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("SCHEDULER_INTERVAL must be positive"))
	}
	if cfg.SchedulerConcurrency < 1 {
		result = multierror.Append(result, fmt.Errorf("SCHEDULER_CONCURRENCY must be at least 1"))
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BotEnabled reports whether a Telegram token was configured.
func (c *Config) BotEnabled() bool {
	return c.TelegramToken != ""
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid number %q", key, value)
	}
	return f, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}
