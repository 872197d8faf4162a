package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/cdss-prevention-engine/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/cdss-prevention-engine/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("CDSS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	// Engine defaults
	viper.SetDefault("engine.per_rule_timeout", "5s")
	viper.SetDefault("engine.worker_pool_size", 0) // 0 selects NumCPU x 2
	viper.SetDefault("engine.polypharmacy_threshold", 10)

	// Cache defaults; an empty redis_addr runs the cache local-only
	viper.SetDefault("cache.redis_addr", "")
	viper.SetDefault("cache.redis_password", "")
	viper.SetDefault("cache.redis_db", 0)
	viper.SetDefault("cache.op_timeout", "2s")
	viper.SetDefault("cache.result_ttl", "15m")
	viper.SetDefault("cache.reference_ttl", "24h")
	viper.SetDefault("cache.local_max_entries", 10000)
	viper.SetDefault("cache.failure_threshold", 3)
	viper.SetDefault("cache.cooldown", "30s")

	// Patient-context provider defaults; empty base_url disables fetching
	viper.SetDefault("provider.base_url", "")
	viper.SetDefault("provider.api_key", "")
	viper.SetDefault("provider.rate_limit", 10)
	viper.SetDefault("provider.timeout", "30s")

	// Alert database defaults; empty url disables persistence
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.migrations_path", "migrations")
	viper.SetDefault("database.max_conns", 25)
	viper.SetDefault("database.min_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	// Plan store defaults
	viper.SetDefault("plan_store.driver", "sqlite")
	viper.SetDefault("plan_store.path", "")
	viper.SetDefault("plan_store.dsn", "")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetEngineConfig returns engine configuration
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// GetCacheConfig returns cache configuration
func (m *Manager) GetCacheConfig() *domain.CacheConfig {
	return &m.config.Cache
}

// GetProviderConfig returns patient-context provider configuration
func (m *Manager) GetProviderConfig() *domain.ProviderConfig {
	return &m.config.Provider
}

// GetDatabaseConfig returns alert database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetPlanStoreConfig returns plan store configuration
func (m *Manager) GetPlanStoreConfig() *domain.PlanStoreConfig {
	return &m.config.PlanStore
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	// Validate engine configuration
	if config.Engine.PerRuleTimeout <= 0 {
		return fmt.Errorf("engine per-rule timeout must be positive, got %s", config.Engine.PerRuleTimeout)
	}
	if config.Engine.WorkerPoolSize < 0 {
		return fmt.Errorf("engine worker pool size must not be negative, got %d", config.Engine.WorkerPoolSize)
	}
	if config.Engine.PolypharmacyThreshold < 1 {
		return fmt.Errorf("polypharmacy threshold must be at least 1, got %d", config.Engine.PolypharmacyThreshold)
	}

	// Validate cache configuration
	if config.Cache.LocalMaxEntries < 1 {
		return fmt.Errorf("cache local_max_entries must be at least 1, got %d", config.Cache.LocalMaxEntries)
	}
	if config.Cache.FailureThreshold < 1 {
		return fmt.Errorf("cache failure_threshold must be at least 1, got %d", config.Cache.FailureThreshold)
	}
	if config.Cache.Cooldown <= 0 {
		return fmt.Errorf("cache cooldown must be positive, got %s", config.Cache.Cooldown)
	}

	// Validate plan store configuration
	switch config.PlanStore.Driver {
	case "sqlite":
		// Path defaults at open time when empty
	case "postgres":
		if config.PlanStore.DSN == "" {
			return fmt.Errorf("plan store driver postgres requires a dsn")
		}
	default:
		return fmt.Errorf("invalid plan store driver: %s", config.PlanStore.Driver)
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	if format := strings.ToLower(config.Logging.Format); format != "json" && format != "text" {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}
