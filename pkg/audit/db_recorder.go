package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBRecorder records audit entries in PostgreSQL
type DBRecorder struct {
	db *sql.DB
}

// NewDBRecorder creates a database-backed recorder and ensures its table exists
func NewDBRecorder(db *sql.DB) (*DBRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	r := &DBRecorder{db: db}
	if err := r.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure permission_audit_logs table: %w", err)
	}
	return r, nil
}

// ensureTable creates the append-only audit table. The trigger rejects every
// UPDATE and DELETE, so rows can only ever be inserted.
func (r *DBRecorder) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS permission_audit_logs (
		id BIGSERIAL PRIMARY KEY,
		organization_id VARCHAR(100) NOT NULL,
		actor VARCHAR(255) NOT NULL DEFAULT '',
		target_user VARCHAR(255) NOT NULL DEFAULT '',
		operation_type VARCHAR(50) NOT NULL,
		target_type VARCHAR(50) NOT NULL,
		permission_details JSONB,
		content_type VARCHAR(100) NOT NULL DEFAULT '',
		object_id VARCHAR(255) NOT NULL DEFAULT '',
		result VARCHAR(20) NOT NULL CHECK (result IN ('success', 'failure')),
		error_message TEXT NOT NULL DEFAULT '',
		ip_address VARCHAR(45) NOT NULL DEFAULT '',
		request_id VARCHAR(100) NOT NULL DEFAULT '',
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_permission_audit_logs_org_time ON permission_audit_logs(organization_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_permission_audit_logs_actor ON permission_audit_logs(organization_id, actor);
	CREATE INDEX IF NOT EXISTS idx_permission_audit_logs_target_user ON permission_audit_logs(organization_id, target_user);
	CREATE INDEX IF NOT EXISTS idx_permission_audit_logs_operation ON permission_audit_logs(organization_id, operation_type);
	CREATE INDEX IF NOT EXISTS idx_permission_audit_logs_result ON permission_audit_logs(organization_id, result);

	CREATE OR REPLACE FUNCTION permission_audit_logs_immutable() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'permission_audit_logs is append-only';
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS permission_audit_logs_no_mutation ON permission_audit_logs;
	CREATE TRIGGER permission_audit_logs_no_mutation
		BEFORE UPDATE OR DELETE ON permission_audit_logs
		FOR EACH ROW EXECUTE FUNCTION permission_audit_logs_immutable();
	`

	_, err := r.db.Exec(query)
	return err
}

// Record inserts the entry and sets its id
func (r *DBRecorder) Record(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("audit entry is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var detailsJSON []byte
	if entry.PermissionDetails != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.PermissionDetails)
		if err != nil {
			return fmt.Errorf("failed to marshal permission details: %w", err)
		}
	}

	query := `
		INSERT INTO permission_audit_logs (
			organization_id, actor, target_user,
			operation_type, target_type, permission_details,
			content_type, object_id,
			result, error_message,
			ip_address, request_id, timestamp
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8,
			$9, $10,
			$11, $12, $13
		) RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		entry.OrganizationID, entry.Actor, entry.TargetUser,
		string(entry.OperationType), string(entry.TargetType), detailsJSON,
		entry.ContentType, entry.ObjectID,
		string(entry.Result), entry.ErrorMessage,
		entry.IPAddress, entry.RequestID, entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

const selectEntries = `
	SELECT
		id, organization_id, actor, target_user,
		operation_type, target_type, permission_details,
		content_type, object_id,
		result, error_message,
		ip_address, request_id, timestamp
	FROM permission_audit_logs`

func scanEntry(scan func(dest ...interface{}) error) (*Entry, error) {
	e := &Entry{}
	var detailsJSON []byte
	err := scan(
		&e.ID, &e.OrganizationID, &e.Actor, &e.TargetUser,
		&e.OperationType, &e.TargetType, &detailsJSON,
		&e.ContentType, &e.ObjectID,
		&e.Result, &e.ErrorMessage,
		&e.IPAddress, &e.RequestID, &e.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &e.PermissionDetails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permission details: %w", err)
		}
	}
	return e, nil
}

// Search returns matching entries, newest first
func (r *DBRecorder) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	if filter.OrganizationID == "" {
		return nil, errors.New("organization is required")
	}

	where, args := filter.where()
	query := selectEntries + where + " ORDER BY timestamp DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

// Get returns one entry of the organization
func (r *DBRecorder) Get(ctx context.Context, org string, id int64) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, selectEntries+" WHERE organization_id = $1 AND id = $2", org, id)
	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%d: %w", id, ErrEntryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return e, nil
}

// Stats counts the organization's entries by operation, result and target type
func (r *DBRecorder) Stats(ctx context.Context, org string, since, until *time.Time) (*Stats, error) {
	stats := newStats(org)
	stats.TimeRange = timeRange(since, until)

	where, args := Filter{OrganizationID: org, StartTime: since, EndTime: until}.where()

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT NULLIF(actor, '')) FROM permission_audit_logs"+where, args...,
	).Scan(&stats.TotalEntries, &stats.UniqueActors)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	groups := []struct {
		column string
		add    func(key string, n int64)
	}{
		{"operation_type", func(k string, n int64) { stats.EntriesByOperation[OperationType(k)] = n }},
		{"result", func(k string, n int64) { stats.EntriesByResult[Result(k)] = n }},
		{"target_type", func(k string, n int64) { stats.EntriesByTarget[TargetType(k)] = n }},
	}
	for _, g := range groups {
		if err := r.countBy(ctx, g.column, where, args, g.add); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (r *DBRecorder) countBy(ctx context.Context, column, where string, args []interface{}, add func(string, int64)) error {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM permission_audit_logs%s GROUP BY %s", column, where, column)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to count audit entries by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		add(key, n)
	}
	return rows.Err()
}

// Close does not close the shared database handle
func (r *DBRecorder) Close() error {
	return nil
}

// where builds the WHERE clause of a filter with $n placeholders
func (f Filter) where() (string, []interface{}) {
	args := []interface{}{f.OrganizationID}
	clause := " WHERE organization_id = $1"

	add := func(cond string, v interface{}) {
		args = append(args, v)
		clause += fmt.Sprintf(" AND "+cond, len(args))
	}

	if f.StartTime != nil {
		add("timestamp >= $%d", *f.StartTime)
	}
	if f.EndTime != nil {
		add("timestamp <= $%d", *f.EndTime)
	}
	if f.Actor != "" {
		add("actor = $%d", f.Actor)
	}
	if f.TargetUser != "" {
		add("target_user = $%d", f.TargetUser)
	}
	if len(f.OperationTypes) > 0 {
		ops := make([]string, len(f.OperationTypes))
		for i, op := range f.OperationTypes {
			ops[i] = string(op)
		}
		add("operation_type = ANY($%d)", pq.Array(ops))
	}
	if f.TargetType != "" {
		add("target_type = $%d", string(f.TargetType))
	}
	if f.ContentType != "" {
		add("content_type = $%d", f.ContentType)
	}
	if f.ObjectID != "" {
		add("object_id = $%d", f.ObjectID)
	}
	if f.Result != "" {
		add("result = $%d", string(f.Result))
	}
	return clause, args
}
