// Package config assembles the engine's runtime configuration from
// environment variables, with built-in defaults for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/opsgate/opsgate/pkg/database"
)

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown on SIGTERM.
	ShutdownTimeout time.Duration
}

// Config is the umbrella configuration for one engine process.
type Config struct {
	Server   ServerConfig
	Database database.Config

	// RunbookDir is loaded recursively at startup; empty disables loading.
	RunbookDir string

	// ExpiryInterval is the approval TTL sweep cadence.
	ExpiryInterval time.Duration

	// RollupInterval and RollupPeriod drive the metrics rollup processor.
	RollupInterval time.Duration
	RollupPeriod   time.Duration

	// RetentionDays and CleanupInterval drive the retention sweep.
	RetentionDays   int
	CleanupInterval time.Duration

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database:        database.DefaultConfig(),
		RunbookDir:      "runbooks",
		ExpiryInterval:  30 * time.Second,
		RollupInterval:  5 * time.Minute,
		RollupPeriod:    time.Hour,
		RetentionDays:   90,
		CleanupInterval: 12 * time.Hour,
		LogLevel:        "info",
	}
}

// LoadFromEnv builds a Config from OPSGATE_* and DB_* environment
// variables, falling back to defaults.
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Database = dbCfg

	if v := os.Getenv("OPSGATE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("OPSGATE_RUNBOOK_DIR"); v != "" {
		cfg.RunbookDir = v
	}
	if v := os.Getenv("OPSGATE_LOG_LEVEL"); v != "" {
		switch v {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = v
		default:
			return nil, fmt.Errorf("invalid OPSGATE_LOG_LEVEL: %q", v)
		}
	}

	var derr error
	cfg.ExpiryInterval = envDuration("OPSGATE_EXPIRY_INTERVAL", cfg.ExpiryInterval, &derr)
	cfg.RollupInterval = envDuration("OPSGATE_ROLLUP_INTERVAL", cfg.RollupInterval, &derr)
	cfg.RollupPeriod = envDuration("OPSGATE_ROLLUP_PERIOD", cfg.RollupPeriod, &derr)
	cfg.CleanupInterval = envDuration("OPSGATE_CLEANUP_INTERVAL", cfg.CleanupInterval, &derr)
	cfg.Server.ShutdownTimeout = envDuration("OPSGATE_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout, &derr)
	if derr != nil {
		return nil, derr
	}

	if v := os.Getenv("OPSGATE_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 {
			return nil, fmt.Errorf("invalid OPSGATE_RETENTION_DAYS: %q", v)
		}
		cfg.RetentionDays = days
	}

	return cfg, nil
}

// envDuration parses an environment variable as seconds. The first error
// wins; later calls become no-ops once *errp is set.
func envDuration(key string, fallback time.Duration, errp *error) time.Duration {
	v := os.Getenv(key)
	if v == "" || *errp != nil {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 1 {
		*errp = fmt.Errorf("invalid %s: %q (want seconds)", key, v)
		return fallback
	}
	return time.Duration(secs) * time.Second
}
