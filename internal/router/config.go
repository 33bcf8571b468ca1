// File path: internal/router/config.go
package router

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls rate limiting, abuse blocking and streaming delivery.
type Config struct {
	// Window and MaxRequests define the fixed-window limiter: the
	// (MaxRequests+1)-th call per principal and workspace within one
	// window is throttled.
	Window      time.Duration
	MaxRequests int
	// BlockMultiplier: once a principal accumulates more than
	// BlockMultiplier*MaxRequests throttles it enters the blocked set.
	BlockMultiplier int
	// ChunkSize caps rows per stream chunk; zero means min(10, limit).
	ChunkSize int
	// HotQueryCapacity bounds the hottest-query tracking cache.
	HotQueryCapacity int
	// AuditCapacity bounds the in-memory audit trail.
	AuditCapacity int
}

// DefaultConfig returns the baseline router configuration.
func DefaultConfig() Config {
	return Config{
		Window:           time.Minute,
		MaxRequests:      120,
		BlockMultiplier:  4,
		ChunkSize:        0,
		HotQueryCapacity: 512,
		AuditCapacity:    1000,
	}
}

// LoadConfig builds a Config from defaults and OPQL_ROUTER_* environment
// variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if value := strings.TrimSpace(os.Getenv("OPQL_ROUTER_WINDOW")); value != "" {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPQL_ROUTER_WINDOW: %w", err)
		}
		cfg.Window = dur
	}
	if value := strings.TrimSpace(os.Getenv("OPQL_ROUTER_MAX_REQUESTS")); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPQL_ROUTER_MAX_REQUESTS: %w", err)
		}
		cfg.MaxRequests = n
	}
	if value := strings.TrimSpace(os.Getenv("OPQL_ROUTER_CHUNK_SIZE")); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPQL_ROUTER_CHUNK_SIZE: %w", err)
		}
		cfg.ChunkSize = n
	}
	return applyDefaults(cfg), nil
}

func applyDefaults(cfg Config) Config {
	base := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = base.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = base.MaxRequests
	}
	if cfg.BlockMultiplier <= 0 {
		cfg.BlockMultiplier = base.BlockMultiplier
	}
	if cfg.HotQueryCapacity <= 0 {
		cfg.HotQueryCapacity = base.HotQueryCapacity
	}
	if cfg.AuditCapacity <= 0 {
		cfg.AuditCapacity = base.AuditCapacity
	}
	return cfg
}
