package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/assetperm/pkg/audit"
	"github.com/platinummonkey/assetperm/pkg/config"
	"github.com/platinummonkey/assetperm/pkg/engine"
	"github.com/platinummonkey/assetperm/pkg/observability"
	"github.com/platinummonkey/assetperm/pkg/seed"
	"github.com/platinummonkey/assetperm/pkg/store"
)

func openPostgres(ctx context.Context, cfg config.StorageConfig, logger *observability.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.PostgresIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.RunMigrations {
		if err := store.RunMigrations(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func openRedis(cfg config.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}
	return redis.NewClient(opts), nil
}

// openAuditSink returns the configured recorder and, when the sink can be
// queried, the reader behind the audit routes. The file sink is write-only.
func openAuditSink(cfg *config.Config, db *sql.DB) (audit.Recorder, audit.Reader, error) {
	switch cfg.Audit.Sink {
	case config.AuditSinkDB:
		r, err := audit.NewDBRecorder(db)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	case config.AuditSinkFile:
		r, err := audit.NewFileRecorder(audit.FileRecorderConfig{BasePath: cfg.Audit.FilePath})
		if err != nil {
			return nil, nil, err
		}
		return r, nil, nil
	default:
		r := audit.NewMemoryRecorder()
		return r, r, nil
	}
}

func applySeed(ctx context.Context, m *engine.Manager, path string, log *logrus.Logger) error {
	files, err := seed.Load(path)
	if err != nil {
		return err
	}
	for _, f := range files {
		sum, err := seed.Apply(ctx, m, f)
		if err != nil {
			return fmt.Errorf("organization %s: %w", f.Organization, err)
		}
		log.WithFields(logrus.Fields{
			"organization":      f.Organization,
			"resource_types":    sum.ResourceTypes,
			"field_permissions": sum.FieldPermissions,
			"data_permissions":  sum.DataPermissions,
			"expansions":        sum.Expansions,
			"inheritance_edges": sum.InheritanceEdges,
		}).Info("Seed applied")
	}
	return nil
}
