// Package config provides configuration management for the prevention engine.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no Redis or Postgres and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Cache settings
	CacheMaxItems int           // Maximum items in the local result cache
	CacheTTL      time.Duration // Default evaluation-result TTL

	// Engine settings
	PerRuleTimeout        time.Duration // Per-rule evaluation deadline
	PolypharmacyThreshold int           // Active-medication count that triggers review

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".cdss-prevention-engine")

	return &LiteConfig{
		DataDir:               dataDir,
		CacheMaxItems:         10000,
		CacheTTL:              15 * time.Minute,
		PerRuleTimeout:        5 * time.Second,
		PolypharmacyThreshold: 10,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	// Data directory
	if v := os.Getenv("CDSS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Cache settings
	if v := os.Getenv("CDSS_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("CDSS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Engine settings
	if v := os.Getenv("CDSS_RULE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PerRuleTimeout = d
		}
	}
	if v := os.Getenv("CDSS_POLYPHARMACY_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PolypharmacyThreshold = n
		}
	}

	// Logging
	if v := os.Getenv("CDSS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CDSS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// PlanDBPath returns the path to the prevention-plan SQLite database.
func (c *LiteConfig) PlanDBPath() string {
	return filepath.Join(c.DataDir, "plans.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}
