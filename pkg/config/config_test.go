package config

import (
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/assetperm/pkg/observability"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("ASSETPERM_TEST_STR", "custom")
	t.Setenv("ASSETPERM_TEST_BOOL", "TRUE")
	t.Setenv("ASSETPERM_TEST_ONE", "1")
	t.Setenv("ASSETPERM_TEST_INT", "42")
	t.Setenv("ASSETPERM_TEST_BAD_INT", "forty")
	t.Setenv("ASSETPERM_TEST_INT64", "9000000000")
	t.Setenv("ASSETPERM_TEST_FLOAT", "0.25")
	t.Setenv("ASSETPERM_TEST_DURATION", "90s")
	t.Setenv("ASSETPERM_TEST_BAD_DURATION", "soon")

	if got := getEnv("ASSETPERM_TEST_STR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("ASSETPERM_TEST_UNSET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
	if !getEnvBool("ASSETPERM_TEST_BOOL", false) || !getEnvBool("ASSETPERM_TEST_ONE", false) {
		t.Error("getEnvBool() should accept TRUE and 1")
	}
	if !getEnvBool("ASSETPERM_TEST_UNSET", true) {
		t.Error("getEnvBool() should fall back to the default")
	}
	if got := getEnvInt("ASSETPERM_TEST_INT", 10); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("ASSETPERM_TEST_BAD_INT", 10); got != 10 {
		t.Errorf("getEnvInt() = %v, want 10 for an invalid value", got)
	}
	if got := getEnvInt64("ASSETPERM_TEST_INT64", 0); got != 9000000000 {
		t.Errorf("getEnvInt64() = %v", got)
	}
	if got := getEnvFloat("ASSETPERM_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := getEnvDuration("ASSETPERM_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("ASSETPERM_TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() = %v, want the default", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"INFO", observability.InfoLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"verbose", observability.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Type != StorageMemory {
		t.Errorf("Storage.Type = %v, want memory", cfg.Storage.Type)
	}
	if cfg.Audit.Sink != AuditSinkMemory || cfg.Audit.BufferSize != 1024 {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
	if cfg.Jobs.CycleScanSchedule != "@every 1h" {
		t.Errorf("Jobs.CycleScanSchedule = %v", cfg.Jobs.CycleScanSchedule)
	}
	if cfg.Cache.Enabled {
		t.Error("cache should be disabled by default")
	}
	if cfg.Observability.OTel().ServiceName != "assetperm" {
		t.Errorf("OTel().ServiceName = %v", cfg.Observability.OTel().ServiceName)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ASSETPERM_PORT", "9000")
	t.Setenv("ASSETPERM_STORAGE_TYPE", "Postgres")
	t.Setenv("ASSETPERM_POSTGRES_URL", "postgres://localhost/assetperm")
	t.Setenv("ASSETPERM_AUDIT_SINK", "db")
	t.Setenv("ASSETPERM_CACHE_ENABLED", "true")
	t.Setenv("ASSETPERM_REDIS_URL", "localhost:6379")
	t.Setenv("ASSETPERM_CACHE_TTL", "30s")
	t.Setenv("ASSETPERM_CYCLE_SCAN_SCHEDULE", "*/15 * * * *")
	t.Setenv("ASSETPERM_LOG_LEVEL", "debug")
	t.Setenv("ASSETPERM_SEED_FILE", "/etc/assetperm/seed.yaml")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Errorf("Server.Port = %v", cfg.Server.Port)
	}
	if cfg.Storage.Type != StoragePostgres {
		t.Errorf("Storage.Type = %v, want postgres", cfg.Storage.Type)
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTL != 30*time.Second || cfg.Cache.RedisURL != "localhost:6379" {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.SeedFile != "/etc/assetperm/seed.yaml" {
		t.Errorf("SeedFile = %v", cfg.SeedFile)
	}
}

func validConfig() Config {
	return Config{
		Server:  ServerConfig{Port: "8080", MaxBodyBytes: 1024},
		Storage: StorageConfig{Type: StorageMemory},
		Audit:   AuditConfig{Sink: AuditSinkMemory},
		Jobs:    JobsConfig{CycleScanSchedule: "@hourly"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port"},
		{"zero body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }, "max body bytes"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "sqlite" }, "invalid storage type"},
		{"postgres without url", func(c *Config) { c.Storage.Type = StoragePostgres }, "postgres URL"},
		{"db sink on memory storage", func(c *Config) { c.Audit.Sink = AuditSinkDB }, "requires postgres"},
		{"file sink without path", func(c *Config) { c.Audit.Sink = AuditSinkFile }, "audit file path"},
		{"unknown sink", func(c *Config) { c.Audit.Sink = "kafka" }, "invalid audit sink"},
		{"negative buffer", func(c *Config) { c.Audit.BufferSize = -1 }, "buffer size"},
		{"cache without entries", func(c *Config) { c.Cache.Enabled = true }, "cache max entries"},
		{"rate limit without window", func(c *Config) {
			c.RateLimit = RateLimitConfig{Enabled: true, RequestsPerWindow: 10}
		}, "rate limit"},
		{"bad schedule", func(c *Config) { c.Jobs.CycleScanSchedule = "every tuesday" }, "cycle scan schedule"},
		{"scan disabled", func(c *Config) { c.Jobs.CycleScanSchedule = "" }, ""},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "assetperm"
		}, "endpoint"},
		{"otel bad ratio", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = "collector:4317"
			c.Observability.OTelServiceName = "assetperm"
			c.Observability.OTelSampleRatio = 2
		}, "sample ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
