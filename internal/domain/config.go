package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PlanStore PlanStoreConfig `mapstructure:"plan_store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EngineConfig tunes the rule evaluation engine. A WorkerPoolSize of 0
// means NumCPU x 2, resolved at engine construction.
type EngineConfig struct {
	PerRuleTimeout        time.Duration `mapstructure:"per_rule_timeout"`
	WorkerPoolSize        int           `mapstructure:"worker_pool_size"`
	PolypharmacyThreshold int           `mapstructure:"polypharmacy_threshold"`
}

// CacheConfig tunes the two-tier cache. An empty RedisAddr disables the
// distributed tier entirely; the layer then runs local-LRU-only, which is
// the zero-configuration test posture.
type CacheConfig struct {
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password"`
	RedisDB          int           `mapstructure:"redis_db"`
	OpTimeout        time.Duration `mapstructure:"op_timeout"`
	ResultTTL        time.Duration `mapstructure:"result_ttl"`
	ReferenceTTL     time.Duration `mapstructure:"reference_ttl"`
	LocalMaxEntries  int           `mapstructure:"local_max_entries"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// ProviderConfig configures the patient-context provider client. An empty
// BaseURL disables server-side context fetching; callers then supply the
// full PatientContext themselves.
type ProviderConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	RateLimit int           `mapstructure:"rate_limit"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig configures the optional Postgres alert persistence. An
// empty URL disables it.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PlanStoreConfig selects and configures the prevention-plan store backend.
type PlanStoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	Path   string `mapstructure:"path"`   // sqlite file path
	DSN    string `mapstructure:"dsn"`    // postgres connection string
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

// ConfigManager provides typed access to validated configuration.
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetEngineConfig() *EngineConfig
	GetCacheConfig() *CacheConfig
	Validate() error
}
