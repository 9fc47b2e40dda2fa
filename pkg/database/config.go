package database

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds store configuration.
type Config struct {
	// Path is the SQLite database file. ":memory:" opens an in-memory
	// store (used by tests).
	Path string

	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the built-in store defaults.
func DefaultConfig() Config {
	return Config{
		Path:            "opsgate.db",
		BusyTimeout:     5 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// LoadConfigFromEnv builds a Config from DB_* environment variables,
// falling back to defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.Path = path
	}
	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %q", v)
		}
		cfg.MaxOpenConns = n
	}
	if v := os.Getenv("DB_BUSY_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return Config{}, fmt.Errorf("invalid DB_BUSY_TIMEOUT_MS: %q", v)
		}
		cfg.BusyTimeout = time.Duration(ms) * time.Millisecond
	}

	return cfg, nil
}

// DSN renders the SQLite connection string with the pragmas the engine
// depends on (foreign keys, busy timeout).
func (c Config) DSN() string {
	sep := "?"
	if strings.Contains(c.Path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("file:%s%s_foreign_keys=on&_busy_timeout=%d",
		c.Path, sep, c.BusyTimeout.Milliseconds())
}
