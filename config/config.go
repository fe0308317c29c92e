package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// Worker tuning, §6.
	WorkerPollSeconds      int `env:"WORKER_POLL_SECONDS" envDefault:"30" validate:"min=1,max=3600"`
	WorkerBatchSize        int `env:"WORKER_BATCH_SIZE" envDefault:"200" validate:"min=1,max=10000"`
	WorkerLockLeaseSeconds int `env:"WORKER_LOCK_LEASE_SECONDS" envDefault:"120" validate:"min=1,max=86400"`
	MaxConcurrentRuns      int `env:"MAX_CONCURRENT_RUNS" envDefault:"100" validate:"min=1,max=10000"`

	// Upstream dispatch, §6.
	PuzzlebotBaseURL   string `env:"PUZZLEBOT_BASE_URL,required" validate:"required,url"`
	HTTPTimeoutSeconds int    `env:"HTTP_TIMEOUT_SECONDS" envDefault:"20" validate:"min=1,max=600"`
	HTTPRetries        int    `env:"HTTP_RETRIES" envDefault:"2" validate:"min=0,max=10"`

	// Lease monitor cadence — not in §6's explicit list, carried from the
	// teacher's reaper interval field.
	LeaseMonitorIntervalSeconds int `env:"LEASE_MONITOR_INTERVAL_SECONDS" envDefault:"30" validate:"min=1,max=3600"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.WorkerPollSeconds) * time.Second
}

func (c *Config) WorkerLockLease() time.Duration {
	return time.Duration(c.WorkerLockLeaseSeconds) * time.Second
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) LeaseMonitorInterval() time.Duration {
	return time.Duration(c.LeaseMonitorIntervalSeconds) * time.Second
}
