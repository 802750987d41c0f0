// Package config loads service configuration from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	ASSETPERM_HOST="0.0.0.0"
//	ASSETPERM_PORT="8080"
//	ASSETPERM_READ_TIMEOUT="15s"
//	ASSETPERM_MAX_BODY_BYTES="1048576"
//
// Storage settings:
//
//	ASSETPERM_STORAGE_TYPE="postgres"  # memory, postgres
//	ASSETPERM_POSTGRES_URL="postgres://localhost/assetperm?sslmode=disable"
//	ASSETPERM_POSTGRES_MAX_CONNS="20"
//	ASSETPERM_RUN_MIGRATIONS="true"
//
// Rule cache settings:
//
//	ASSETPERM_CACHE_ENABLED="true"
//	ASSETPERM_CACHE_MAX_ENTRIES="10000"
//	ASSETPERM_CACHE_TTL="5m"
//	ASSETPERM_REDIS_URL="redis://localhost:6379/0"  # optional shared tier
//
// Audit settings:
//
//	ASSETPERM_AUDIT_SINK="db"  # memory, db, file
//	ASSETPERM_AUDIT_FILE="/var/log/assetperm/audit.log"
//	ASSETPERM_AUDIT_BUFFER_SIZE="1024"  # 0 writes synchronously
//
// Rate limiting (per organization, shared through Redis when configured):
//
//	ASSETPERM_RATE_LIMIT_ENABLED="true"
//	ASSETPERM_RATE_LIMIT_REQUESTS="1000"
//	ASSETPERM_RATE_LIMIT_WINDOW="1m"
//	ASSETPERM_RATE_LIMIT_BURST="50"
//
// Jobs and seeding:
//
//	ASSETPERM_CYCLE_SCAN_SCHEDULE="@every 1h"  # empty disables
//	ASSETPERM_SEED_FILE="/etc/assetperm/seed.yaml"
//
// Observability settings:
//
//	ASSETPERM_LOG_LEVEL="info"  # debug, info, warn, error
//	ASSETPERM_METRICS_ENABLED="true"
//	ASSETPERM_OTEL_ENABLED="true"
//	ASSETPERM_OTEL_ENDPOINT="otel-collector:4317"
//	ASSETPERM_OTEL_SAMPLE_RATIO="0.1"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Storage: %s\n", cfg.Storage.Type)
package config
