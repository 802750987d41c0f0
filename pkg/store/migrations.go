package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/assetperm/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all permission schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create resource_types table",
			SQL: `
				CREATE TABLE IF NOT EXISTS resource_types (
					id BIGSERIAL PRIMARY KEY,
					organization_id VARCHAR(64) NOT NULL,
					name VARCHAR(100) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					fields TEXT[] NOT NULL DEFAULT '{}',
					deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_resource_types_org_name
					ON resource_types(organization_id, name) WHERE deleted = FALSE;
			`,
		},
		{
			Version:     2,
			Description: "Create roles and departments tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					organization_id VARCHAR(64) NOT NULL,
					id VARCHAR(64) NOT NULL,
					name VARCHAR(255) NOT NULL DEFAULT '',
					deleted BOOLEAN NOT NULL DEFAULT FALSE,
					PRIMARY KEY (organization_id, id)
				);

				CREATE TABLE IF NOT EXISTS departments (
					organization_id VARCHAR(64) NOT NULL,
					id VARCHAR(64) NOT NULL,
					parent_id VARCHAR(64),
					name VARCHAR(255) NOT NULL DEFAULT '',
					deleted BOOLEAN NOT NULL DEFAULT FALSE,
					PRIMARY KEY (organization_id, id),
					CHECK (parent_id IS NULL OR parent_id <> id)
				);

				CREATE INDEX IF NOT EXISTS idx_departments_parent ON departments(organization_id, parent_id);
			`,
		},
		{
			Version:     3,
			Description: "Create field_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS field_permissions (
					id BIGSERIAL PRIMARY KEY,
					organization_id VARCHAR(64) NOT NULL,
					principal_kind VARCHAR(20) NOT NULL CHECK (principal_kind IN ('user', 'role', 'department')),
					principal_id VARCHAR(64) NOT NULL,
					resource_type VARCHAR(100) NOT NULL,
					field_name VARCHAR(100) NOT NULL,
					permission_type VARCHAR(20) NOT NULL CHECK (permission_type IN ('read', 'write', 'hidden', 'masked')),
					mask_rule VARCHAR(100) NOT NULL DEFAULT '',
					priority INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					created_by VARCHAR(64) NOT NULL DEFAULT '',
					CHECK (permission_type <> 'masked' OR mask_rule <> '')
				);

				CREATE INDEX IF NOT EXISTS idx_field_permissions_lookup
					ON field_permissions(organization_id, resource_type, principal_kind, principal_id)
					WHERE deleted = FALSE;
			`,
		},
		{
			Version:     4,
			Description: "Create data_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS data_permissions (
					id BIGSERIAL PRIMARY KEY,
					organization_id VARCHAR(64) NOT NULL,
					principal_kind VARCHAR(20) NOT NULL CHECK (principal_kind IN ('user', 'role', 'department')),
					principal_id VARCHAR(64) NOT NULL,
					resource_type VARCHAR(100) NOT NULL,
					scope_type VARCHAR(20) NOT NULL CHECK (scope_type IN ('all', 'self', 'self_and_sub', 'department', 'specified', 'custom')),
					department_field VARCHAR(63) NOT NULL DEFAULT '',
					user_field VARCHAR(63) NOT NULL DEFAULT '',
					scope_value JSONB NOT NULL DEFAULT '{}',
					filter_conditions JSONB,
					priority INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					created_by VARCHAR(64) NOT NULL DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_data_permissions_lookup
					ON data_permissions(organization_id, resource_type, principal_kind, principal_id)
					WHERE deleted = FALSE;
			`,
		},
		{
			Version:     5,
			Description: "Create data_permission_expands table",
			SQL: `
				CREATE TABLE IF NOT EXISTS data_permission_expands (
					id BIGSERIAL PRIMARY KEY,
					organization_id VARCHAR(64) NOT NULL,
					data_permission_id BIGINT NOT NULL REFERENCES data_permissions(id),
					filter_conditions JSONB,
					allowed_fields TEXT[] NOT NULL DEFAULT '{}',
					denied_fields TEXT[] NOT NULL DEFAULT '{}',
					actions TEXT[] NOT NULL DEFAULT '{}',
					priority INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					created_by VARCHAR(64) NOT NULL DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_data_permission_expands_base
					ON data_permission_expands(organization_id, data_permission_id)
					WHERE deleted = FALSE;
			`,
		},
		{
			Version:     6,
			Description: "Create inheritance edge tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_inheritance (
					id BIGSERIAL PRIMARY KEY,
					organization_id VARCHAR(64) NOT NULL,
					parent_role_id VARCHAR(64) NOT NULL,
					child_role_id VARCHAR(64) NOT NULL,
					inheritance_type VARCHAR(20) NOT NULL CHECK (inheritance_type IN ('full', 'partial', 'exclude')),
					priority INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					allow_override BOOLEAN NOT NULL DEFAULT TRUE,
					deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					created_by VARCHAR(64) NOT NULL DEFAULT '',
					CHECK (parent_role_id <> child_role_id)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_role_inheritance_edge
					ON role_inheritance(organization_id, child_role_id, parent_role_id)
					WHERE deleted = FALSE;

				CREATE TABLE IF NOT EXISTS department_inheritance (
					id BIGSERIAL PRIMARY KEY,
					organization_id VARCHAR(64) NOT NULL,
					parent_department_id VARCHAR(64) NOT NULL,
					child_department_id VARCHAR(64) NOT NULL,
					inheritance_type VARCHAR(20) NOT NULL CHECK (inheritance_type IN ('data', 'field', 'both')),
					priority INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					allow_override BOOLEAN NOT NULL DEFAULT TRUE,
					deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					created_by VARCHAR(64) NOT NULL DEFAULT '',
					CHECK (parent_department_id <> child_department_id)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_department_inheritance_edge
					ON department_inheritance(organization_id, child_department_id, parent_department_id)
					WHERE deleted = FALSE;
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.GetLogger(ctx)
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS assetperm_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM assetperm_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO assetperm_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("migration completed")
	}

	return nil
}
