package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/assetperm/pkg/observability"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Audit sinks
const (
	AuditSinkDB     = "db"
	AuditSinkFile   = "file"
	AuditSinkMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage StorageConfig

	// Rule cache configuration
	Cache CacheConfig

	// Audit trail configuration
	Audit AuditConfig

	// Per-organization rate limiting
	RateLimit RateLimitConfig

	// Background jobs
	Jobs JobsConfig

	// Observability configuration
	Observability ObservabilityConfig

	// SeedFile, when set, is applied once at startup
	SeedFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// StorageConfig selects and configures the rule store
type StorageConfig struct {
	Type              string
	PostgresURL       string
	PostgresMaxConns  int
	PostgresIdleConns int
	PostgresTimeout   time.Duration
	RunMigrations     bool
}

// CacheConfig configures the rule cache
type CacheConfig struct {
	Enabled       bool
	MaxEntries    int
	TTL           time.Duration
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// AuditConfig configures where audit entries go
type AuditConfig struct {
	Sink       string
	FilePath   string
	BufferSize int

	// WriteTimeout bounds each buffered write to the sink
	WriteTimeout time.Duration
}

// RateLimitConfig bounds requests per organization. With Redis configured
// the budget is shared across nodes.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// JobsConfig holds cron schedules for background jobs
type JobsConfig struct {
	// CycleScanSchedule is a cron spec; empty disables the scan
	CycleScanSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		RateLimit:     loadRateLimitConfig(),
		Jobs:          JobsConfig{CycleScanSchedule: getEnv("ASSETPERM_CYCLE_SCAN_SCHEDULE", "@every 1h")},
		Observability: loadObservabilityConfig(),
		SeedFile:      getEnv("ASSETPERM_SEED_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ASSETPERM_HOST", "0.0.0.0"),
		Port:            getEnv("ASSETPERM_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ASSETPERM_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ASSETPERM_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ASSETPERM_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ASSETPERM_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("ASSETPERM_MAX_BODY_BYTES", 1<<20),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:              strings.ToLower(getEnv("ASSETPERM_STORAGE_TYPE", StorageMemory)),
		PostgresURL:       getEnv("ASSETPERM_POSTGRES_URL", ""),
		PostgresMaxConns:  getEnvInt("ASSETPERM_POSTGRES_MAX_CONNS", 20),
		PostgresIdleConns: getEnvInt("ASSETPERM_POSTGRES_IDLE_CONNS", 5),
		PostgresTimeout:   getEnvDuration("ASSETPERM_POSTGRES_TIMEOUT", 5*time.Second),
		RunMigrations:     getEnvBool("ASSETPERM_RUN_MIGRATIONS", true),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       getEnvBool("ASSETPERM_CACHE_ENABLED", false),
		MaxEntries:    getEnvInt("ASSETPERM_CACHE_MAX_ENTRIES", 10000),
		TTL:           getEnvDuration("ASSETPERM_CACHE_TTL", 5*time.Minute),
		RedisURL:      getEnv("ASSETPERM_REDIS_URL", ""),
		RedisPassword: getEnv("ASSETPERM_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("ASSETPERM_REDIS_DB", 0),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Sink:         strings.ToLower(getEnv("ASSETPERM_AUDIT_SINK", AuditSinkMemory)),
		FilePath:     getEnv("ASSETPERM_AUDIT_FILE", ""),
		BufferSize:   getEnvInt("ASSETPERM_AUDIT_BUFFER_SIZE", 1024),
		WriteTimeout: getEnvDuration("ASSETPERM_AUDIT_WRITE_TIMEOUT", 5*time.Second),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("ASSETPERM_RATE_LIMIT_ENABLED", false),
		RequestsPerWindow: getEnvInt("ASSETPERM_RATE_LIMIT_REQUESTS", 1000),
		Window:            getEnvDuration("ASSETPERM_RATE_LIMIT_WINDOW", time.Minute),
		Burst:             getEnvInt("ASSETPERM_RATE_LIMIT_BURST", 50),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("ASSETPERM_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ASSETPERM_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ASSETPERM_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ASSETPERM_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ASSETPERM_OTEL_SERVICE_NAME", "assetperm"),
		OTelServiceVersion: getEnv("ASSETPERM_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ASSETPERM_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ASSETPERM_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// OTel returns the tracing settings in the form InitOTel takes
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive when the cache is enabled")
	}

	switch c.Audit.Sink {
	case AuditSinkMemory:
	case AuditSinkDB:
		if c.Storage.Type != StoragePostgres {
			return fmt.Errorf("db audit sink requires postgres storage")
		}
	case AuditSinkFile:
		if c.Audit.FilePath == "" {
			return fmt.Errorf("audit file path is required for the file sink")
		}
	default:
		return fmt.Errorf("invalid audit sink: %s (must be memory, db, or file)", c.Audit.Sink)
	}
	if c.Audit.BufferSize < 0 {
		return fmt.Errorf("audit buffer size cannot be negative")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive when rate limiting is enabled")
	}

	if c.Jobs.CycleScanSchedule != "" {
		if _, err := cron.ParseStandard(c.Jobs.CycleScanSchedule); err != nil {
			return fmt.Errorf("invalid cycle scan schedule %q: %w", c.Jobs.CycleScanSchedule, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// parseLogLevel parses a log level string, falling back to info
func parseLogLevel(level string) observability.LogLevel {
	l, err := observability.ParseLevel(level)
	if err != nil {
		return observability.InfoLevel
	}
	return l
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
