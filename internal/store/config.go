// File path: internal/store/config.go
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config controls the SQLite catalog connection pool.
type Config struct {
	Path            string
	BusyTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the baseline catalog configuration.
func DefaultConfig() Config {
	return Config{
		Path:            filepath.Join("data", "catalog.db"),
		BusyTimeout:     5 * time.Second,
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// LoadConfig builds a Config from defaults and OPQL_CATALOG_* environment
// variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if value := strings.TrimSpace(os.Getenv("OPQL_CATALOG_PATH")); value != "" {
		cfg.Path = value
	}
	if value := strings.TrimSpace(os.Getenv("OPQL_CATALOG_BUSY_TIMEOUT")); value != "" {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPQL_CATALOG_BUSY_TIMEOUT: %w", err)
		}
		cfg.BusyTimeout = dur
	}
	if value := strings.TrimSpace(os.Getenv("OPQL_CATALOG_MAX_OPEN")); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPQL_CATALOG_MAX_OPEN: %w", err)
		}
		cfg.MaxOpenConns = n
	}
	if value := strings.TrimSpace(os.Getenv("OPQL_CATALOG_MAX_IDLE")); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPQL_CATALOG_MAX_IDLE: %w", err)
		}
		cfg.MaxIdleConns = n
	}
	return cfg, nil
}
