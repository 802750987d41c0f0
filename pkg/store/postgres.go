package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/assetperm/pkg/permission"
)

// PostgresStore handles permission data persistence in PostgreSQL
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new Postgres-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

var _ Store = (*PostgresStore)(nil)

// DB returns the underlying connection pool
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// principalArgs splits principal refs into parallel kind and id arrays for unnest
func principalArgs(principals []permission.PrincipalRef) (interface{}, interface{}) {
	kinds := make([]string, len(principals))
	ids := make([]string, len(principals))
	for i, p := range principals {
		kinds[i] = string(p.Kind)
		ids[i] = p.ID
	}
	return pq.Array(kinds), pq.Array(ids)
}

// ruleFilter appends the shared resource type and principal filters of a rule query
func ruleFilter(query string, args []interface{}, q RuleQuery) (string, []interface{}) {
	argCount := len(args) + 1
	if q.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, q.ResourceType)
		argCount++
	}
	if len(q.Principals) > 0 {
		kinds, ids := principalArgs(q.Principals)
		query += fmt.Sprintf(" AND (principal_kind, principal_id) IN (SELECT * FROM unnest($%d::text[], $%d::text[]))", argCount, argCount+1)
		args = append(args, kinds, ids)
	}
	return query, args
}

// notFound maps sql.ErrNoRows onto the package sentinel
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, permission.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// requireAffected reports ErrNotFound when an update touched no row
func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, permission.ErrNotFound)
	}
	return nil
}

// nullJSON stores empty JSON as SQL NULL
func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// CreateResourceType registers a resource type
func (s *PostgresStore) CreateResourceType(ctx context.Context, rt *permission.ResourceType) error {
	if err := rt.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO resource_types (organization_id, name, description, fields, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := s.now()
	err := s.db.QueryRowContext(ctx, query,
		rt.OrganizationID,
		rt.Name,
		rt.Description,
		pq.Array(rt.Fields),
		now,
	).Scan(&rt.ID)
	if err != nil {
		return fmt.Errorf("failed to create resource type: %w", uniqueViolation(err))
	}

	rt.CreatedAt = now
	rt.Deleted = false
	return nil
}

// DeleteResourceType soft-deletes a resource type that no live rule references
func (s *PostgresStore) DeleteResourceType(ctx context.Context, tenant permission.TenantContext, name string) error {
	var referenced bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM field_permissions WHERE organization_id = $1 AND resource_type = $2 AND deleted = FALSE
			UNION ALL
			SELECT 1 FROM data_permissions WHERE organization_id = $1 AND resource_type = $2 AND deleted = FALSE
		)
	`, tenant.OrganizationID, name).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("failed to check resource type references: %w", err)
	}
	if referenced {
		return fmt.Errorf("resource type %s is referenced by rules: %w", name, permission.ErrImmutable)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE resource_types SET deleted = TRUE WHERE organization_id = $1 AND name = $2 AND deleted = FALSE",
		tenant.OrganizationID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to delete resource type: %w", err)
	}
	return requireAffected(result, "resource type "+name)
}

const resourceTypeColumns = "id, organization_id, name, description, fields, deleted, created_at"

func scanResourceType(row rowScanner) (*permission.ResourceType, error) {
	var rt permission.ResourceType
	var fields pq.StringArray
	if err := row.Scan(&rt.ID, &rt.OrganizationID, &rt.Name, &rt.Description, &fields, &rt.Deleted, &rt.CreatedAt); err != nil {
		return nil, err
	}
	rt.Fields = []string(fields)
	return &rt, nil
}

// GetResourceType returns a registered resource type by name
func (s *PostgresStore) GetResourceType(ctx context.Context, tenant permission.TenantContext, name string) (*permission.ResourceType, error) {
	query := "SELECT " + resourceTypeColumns + " FROM resource_types WHERE organization_id = $1 AND name = $2 AND deleted = FALSE"

	rt, err := scanResourceType(s.db.QueryRowContext(ctx, query, tenant.OrganizationID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, permission.ErrUnknownResourceType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource type: %w", err)
	}
	return rt, nil
}

// ListResourceTypes returns all registered resource types ordered by name
func (s *PostgresStore) ListResourceTypes(ctx context.Context, tenant permission.TenantContext) ([]permission.ResourceType, error) {
	query := "SELECT " + resourceTypeColumns + " FROM resource_types WHERE organization_id = $1 AND deleted = FALSE ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, tenant.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource types: %w", err)
	}
	defer rows.Close()

	out := make([]permission.ResourceType, 0)
	for rows.Next() {
		rt, err := scanResourceType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource type: %w", err)
		}
		out = append(out, *rt)
	}
	return out, rows.Err()
}

// SaveRole inserts or replaces a role
func (s *PostgresStore) SaveRole(ctx context.Context, role *permission.Role) error {
	if err := role.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO roles (organization_id, id, name, deleted)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, id) DO UPDATE SET name = EXCLUDED.name, deleted = EXCLUDED.deleted
	`
	if _, err := s.db.ExecContext(ctx, query, role.OrganizationID, role.ID, role.Name, role.Deleted); err != nil {
		return fmt.Errorf("failed to save role: %w", err)
	}
	return nil
}

// GetRole returns a role by ID
func (s *PostgresStore) GetRole(ctx context.Context, tenant permission.TenantContext, id string) (*permission.Role, error) {
	var role permission.Role
	err := s.db.QueryRowContext(ctx,
		"SELECT organization_id, id, name, deleted FROM roles WHERE organization_id = $1 AND id = $2 AND deleted = FALSE",
		tenant.OrganizationID, id,
	).Scan(&role.OrganizationID, &role.ID, &role.Name, &role.Deleted)
	if err != nil {
		return nil, notFound(err, "role "+id)
	}
	return &role, nil
}

// SaveDepartment inserts or replaces a department
func (s *PostgresStore) SaveDepartment(ctx context.Context, dept *permission.Department) error {
	if err := dept.Validate(); err != nil {
		return err
	}

	var parent interface{}
	if dept.ParentID != "" {
		parent = dept.ParentID
	}

	query := `
		INSERT INTO departments (organization_id, id, parent_id, name, deleted)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, id) DO UPDATE
			SET parent_id = EXCLUDED.parent_id, name = EXCLUDED.name, deleted = EXCLUDED.deleted
	`
	if _, err := s.db.ExecContext(ctx, query, dept.OrganizationID, dept.ID, parent, dept.Name, dept.Deleted); err != nil {
		return fmt.Errorf("failed to save department: %w", err)
	}
	return nil
}

func scanDepartment(row rowScanner) (*permission.Department, error) {
	var dept permission.Department
	var parent sql.NullString
	if err := row.Scan(&dept.OrganizationID, &dept.ID, &parent, &dept.Name, &dept.Deleted); err != nil {
		return nil, err
	}
	if parent.Valid {
		dept.ParentID = parent.String
	}
	return &dept, nil
}

// GetDepartment returns a department by ID
func (s *PostgresStore) GetDepartment(ctx context.Context, tenant permission.TenantContext, id string) (*permission.Department, error) {
	dept, err := scanDepartment(s.db.QueryRowContext(ctx,
		"SELECT organization_id, id, parent_id, name, deleted FROM departments WHERE organization_id = $1 AND id = $2 AND deleted = FALSE",
		tenant.OrganizationID, id,
	))
	if err != nil {
		return nil, notFound(err, "department "+id)
	}
	return dept, nil
}

// ListChildDepartments returns the direct children of a department ordered by ID
func (s *PostgresStore) ListChildDepartments(ctx context.Context, tenant permission.TenantContext, parentID string) ([]permission.Department, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT organization_id, id, parent_id, name, deleted FROM departments WHERE organization_id = $1 AND parent_id = $2 AND deleted = FALSE ORDER BY id",
		tenant.OrganizationID, parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list child departments: %w", err)
	}
	defer rows.Close()

	var out []permission.Department
	for rows.Next() {
		dept, err := scanDepartment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		out = append(out, *dept)
	}
	return out, rows.Err()
}

const fieldPermissionColumns = `id, organization_id, principal_kind, principal_id, resource_type, field_name,
	permission_type, mask_rule, priority, is_active, deleted, created_at, updated_at, created_by`

func scanFieldPermission(row rowScanner) (*permission.FieldPermission, error) {
	var fp permission.FieldPermission
	err := row.Scan(
		&fp.ID,
		&fp.OrganizationID,
		&fp.Principal.Kind,
		&fp.Principal.ID,
		&fp.ResourceType,
		&fp.FieldName,
		&fp.PermissionType,
		&fp.MaskRule,
		&fp.Priority,
		&fp.IsActive,
		&fp.Deleted,
		&fp.CreatedAt,
		&fp.UpdatedAt,
		&fp.CreatedBy,
	)
	if err != nil {
		return nil, err
	}
	return &fp, nil
}

// CreateFieldPermission stores a new field permission
func (s *PostgresStore) CreateFieldPermission(ctx context.Context, fp *permission.FieldPermission) error {
	if err := fp.Validate(); err != nil {
		return err
	}
	if err := fp.Principal.Validate(); err != nil {
		return err
	}
	if _, err := s.GetResourceType(ctx, permission.TenantContext{OrganizationID: fp.OrganizationID}, fp.ResourceType); err != nil {
		return err
	}

	query := `
		INSERT INTO field_permissions (
			organization_id, principal_kind, principal_id, resource_type, field_name,
			permission_type, mask_rule, priority, is_active, created_at, updated_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	now := s.now()
	err := s.db.QueryRowContext(ctx, query,
		fp.OrganizationID,
		string(fp.Principal.Kind),
		fp.Principal.ID,
		fp.ResourceType,
		fp.FieldName,
		string(fp.PermissionType),
		fp.MaskRule,
		fp.Priority,
		fp.IsActive,
		now,
		now,
		fp.CreatedBy,
	).Scan(&fp.ID)
	if err != nil {
		return fmt.Errorf("failed to create field permission: %w", err)
	}

	fp.CreatedAt = now
	fp.UpdatedAt = now
	fp.Deleted = false
	return nil
}

// UpdateFieldPermission replaces the mutable attributes of a field permission.
// Principal, resource type and field name are frozen.
func (s *PostgresStore) UpdateFieldPermission(ctx context.Context, fp *permission.FieldPermission) error {
	if err := fp.Validate(); err != nil {
		return err
	}

	tenant := permission.TenantContext{OrganizationID: fp.OrganizationID}
	existing, err := s.GetFieldPermission(ctx, tenant, fp.ID)
	if err != nil {
		return err
	}
	if existing.Principal != fp.Principal || existing.ResourceType != fp.ResourceType || existing.FieldName != fp.FieldName {
		return fmt.Errorf("field permission %d binding: %w", fp.ID, permission.ErrImmutable)
	}

	query := `
		UPDATE field_permissions
		SET permission_type = $1, mask_rule = $2, priority = $3, is_active = $4, updated_at = $5
		WHERE id = $6 AND organization_id = $7 AND deleted = FALSE
	`

	now := s.now()
	result, err := s.db.ExecContext(ctx, query,
		string(fp.PermissionType),
		fp.MaskRule,
		fp.Priority,
		fp.IsActive,
		now,
		fp.ID,
		fp.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update field permission: %w", err)
	}
	if err := requireAffected(result, fmt.Sprintf("field permission %d", fp.ID)); err != nil {
		return err
	}

	fp.CreatedAt = existing.CreatedAt
	fp.CreatedBy = existing.CreatedBy
	fp.UpdatedAt = now
	return nil
}

// DeleteFieldPermission soft-deletes a field permission
func (s *PostgresStore) DeleteFieldPermission(ctx context.Context, tenant permission.TenantContext, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE field_permissions SET deleted = TRUE, updated_at = $1 WHERE id = $2 AND organization_id = $3 AND deleted = FALSE",
		s.now(), id, tenant.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete field permission: %w", err)
	}
	return requireAffected(result, fmt.Sprintf("field permission %d", id))
}

// GetFieldPermission returns a field permission by ID
func (s *PostgresStore) GetFieldPermission(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.FieldPermission, error) {
	query := "SELECT " + fieldPermissionColumns + " FROM field_permissions WHERE id = $1 AND organization_id = $2 AND deleted = FALSE"

	fp, err := scanFieldPermission(s.db.QueryRowContext(ctx, query, id, tenant.OrganizationID))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("field permission %d", id))
	}
	return fp, nil
}

// ListFieldPermissions returns non-deleted field permissions matching the query ordered by ID
func (s *PostgresStore) ListFieldPermissions(ctx context.Context, tenant permission.TenantContext, q RuleQuery) ([]permission.FieldPermission, error) {
	query := "SELECT " + fieldPermissionColumns + " FROM field_permissions WHERE organization_id = $1 AND deleted = FALSE"
	args := []interface{}{tenant.OrganizationID}

	query, args = ruleFilter(query, args, q)
	if len(q.FieldNames) > 0 {
		query += fmt.Sprintf(" AND field_name = ANY($%d)", len(args)+1)
		args = append(args, pq.Array(q.FieldNames))
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list field permissions: %w", err)
	}
	defer rows.Close()

	var out []permission.FieldPermission
	for rows.Next() {
		fp, err := scanFieldPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field permission: %w", err)
		}
		out = append(out, *fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field permissions: %w", err)
	}
	return out, nil
}

const dataPermissionColumns = `id, organization_id, principal_kind, principal_id, resource_type, scope_type,
	department_field, user_field, scope_value, filter_conditions, priority, is_active, deleted,
	created_at, updated_at, created_by`

func scanDataPermission(row rowScanner) (*permission.DataPermission, error) {
	var dp permission.DataPermission
	var scopeJSON, filterJSON []byte
	err := row.Scan(
		&dp.ID,
		&dp.OrganizationID,
		&dp.Principal.Kind,
		&dp.Principal.ID,
		&dp.ResourceType,
		&dp.ScopeType,
		&dp.DepartmentField,
		&dp.UserField,
		&scopeJSON,
		&filterJSON,
		&dp.Priority,
		&dp.IsActive,
		&dp.Deleted,
		&dp.CreatedAt,
		&dp.UpdatedAt,
		&dp.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	if len(scopeJSON) > 0 {
		if err := json.Unmarshal(scopeJSON, &dp.ScopeValue); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scope value: %w", err)
		}
	}
	if len(filterJSON) > 0 {
		dp.FilterConditions = json.RawMessage(filterJSON)
	}
	return &dp, nil
}

// CreateDataPermission stores a new data permission
func (s *PostgresStore) CreateDataPermission(ctx context.Context, dp *permission.DataPermission) error {
	if err := dp.Validate(); err != nil {
		return err
	}
	if err := dp.Principal.Validate(); err != nil {
		return err
	}
	if _, err := s.GetResourceType(ctx, permission.TenantContext{OrganizationID: dp.OrganizationID}, dp.ResourceType); err != nil {
		return err
	}

	scopeJSON, err := json.Marshal(dp.ScopeValue)
	if err != nil {
		return fmt.Errorf("failed to marshal scope value: %w", err)
	}

	query := `
		INSERT INTO data_permissions (
			organization_id, principal_kind, principal_id, resource_type, scope_type,
			department_field, user_field, scope_value, filter_conditions,
			priority, is_active, created_at, updated_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`

	now := s.now()
	err = s.db.QueryRowContext(ctx, query,
		dp.OrganizationID,
		string(dp.Principal.Kind),
		dp.Principal.ID,
		dp.ResourceType,
		string(dp.ScopeType),
		dp.DepartmentField,
		dp.UserField,
		scopeJSON,
		nullJSON(dp.FilterConditions),
		dp.Priority,
		dp.IsActive,
		now,
		now,
		dp.CreatedBy,
	).Scan(&dp.ID)
	if err != nil {
		return fmt.Errorf("failed to create data permission: %w", err)
	}

	dp.CreatedAt = now
	dp.UpdatedAt = now
	dp.Deleted = false
	return nil
}

// UpdateDataPermission replaces the mutable attributes of a data permission.
// Principal and resource type are frozen.
func (s *PostgresStore) UpdateDataPermission(ctx context.Context, dp *permission.DataPermission) error {
	if err := dp.Validate(); err != nil {
		return err
	}

	tenant := permission.TenantContext{OrganizationID: dp.OrganizationID}
	existing, err := s.GetDataPermission(ctx, tenant, dp.ID)
	if err != nil {
		return err
	}
	if existing.Principal != dp.Principal || existing.ResourceType != dp.ResourceType {
		return fmt.Errorf("data permission %d binding: %w", dp.ID, permission.ErrImmutable)
	}

	scopeJSON, err := json.Marshal(dp.ScopeValue)
	if err != nil {
		return fmt.Errorf("failed to marshal scope value: %w", err)
	}

	query := `
		UPDATE data_permissions
		SET scope_type = $1, department_field = $2, user_field = $3, scope_value = $4,
			filter_conditions = $5, priority = $6, is_active = $7, updated_at = $8
		WHERE id = $9 AND organization_id = $10 AND deleted = FALSE
	`

	now := s.now()
	result, err := s.db.ExecContext(ctx, query,
		string(dp.ScopeType),
		dp.DepartmentField,
		dp.UserField,
		scopeJSON,
		nullJSON(dp.FilterConditions),
		dp.Priority,
		dp.IsActive,
		now,
		dp.ID,
		dp.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update data permission: %w", err)
	}
	if err := requireAffected(result, fmt.Sprintf("data permission %d", dp.ID)); err != nil {
		return err
	}

	dp.CreatedAt = existing.CreatedAt
	dp.CreatedBy = existing.CreatedBy
	dp.UpdatedAt = now
	return nil
}

// DeleteDataPermission soft-deletes a data permission
func (s *PostgresStore) DeleteDataPermission(ctx context.Context, tenant permission.TenantContext, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE data_permissions SET deleted = TRUE, updated_at = $1 WHERE id = $2 AND organization_id = $3 AND deleted = FALSE",
		s.now(), id, tenant.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete data permission: %w", err)
	}
	return requireAffected(result, fmt.Sprintf("data permission %d", id))
}

// GetDataPermission returns a data permission by ID
func (s *PostgresStore) GetDataPermission(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.DataPermission, error) {
	query := "SELECT " + dataPermissionColumns + " FROM data_permissions WHERE id = $1 AND organization_id = $2 AND deleted = FALSE"

	dp, err := scanDataPermission(s.db.QueryRowContext(ctx, query, id, tenant.OrganizationID))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("data permission %d", id))
	}
	return dp, nil
}

// ListDataPermissions returns non-deleted data permissions matching the query ordered by ID
func (s *PostgresStore) ListDataPermissions(ctx context.Context, tenant permission.TenantContext, q RuleQuery) ([]permission.DataPermission, error) {
	query := "SELECT " + dataPermissionColumns + " FROM data_permissions WHERE organization_id = $1 AND deleted = FALSE"
	args := []interface{}{tenant.OrganizationID}

	query, args = ruleFilter(query, args, q)
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list data permissions: %w", err)
	}
	defer rows.Close()

	var out []permission.DataPermission
	for rows.Next() {
		dp, err := scanDataPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data permission: %w", err)
		}
		out = append(out, *dp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating data permissions: %w", err)
	}
	return out, nil
}

const expansionColumns = `id, organization_id, data_permission_id, filter_conditions, allowed_fields, denied_fields,
	actions, priority, is_active, deleted, created_at, updated_at, created_by`

func scanExpansion(row rowScanner) (*permission.DataPermissionExpand, error) {
	var e permission.DataPermissionExpand
	var filterJSON []byte
	var allowed, denied, actions pq.StringArray
	err := row.Scan(
		&e.ID,
		&e.OrganizationID,
		&e.DataPermissionID,
		&filterJSON,
		&allowed,
		&denied,
		&actions,
		&e.Priority,
		&e.IsActive,
		&e.Deleted,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	if len(filterJSON) > 0 {
		e.FilterConditions = json.RawMessage(filterJSON)
	}
	e.AllowedFields = []string(allowed)
	e.DeniedFields = []string(denied)
	e.Actions = []string(actions)
	return &e, nil
}

// CreateExpansion attaches an expansion to an existing data permission
func (s *PostgresStore) CreateExpansion(ctx context.Context, e *permission.DataPermissionExpand) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if _, err := s.GetDataPermission(ctx, permission.TenantContext{OrganizationID: e.OrganizationID}, e.DataPermissionID); err != nil {
		return err
	}

	query := `
		INSERT INTO data_permission_expands (
			organization_id, data_permission_id, filter_conditions, allowed_fields, denied_fields,
			actions, priority, is_active, created_at, updated_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	now := s.now()
	err := s.db.QueryRowContext(ctx, query,
		e.OrganizationID,
		e.DataPermissionID,
		nullJSON(e.FilterConditions),
		pq.Array(e.AllowedFields),
		pq.Array(e.DeniedFields),
		pq.Array(e.Actions),
		e.Priority,
		e.IsActive,
		now,
		now,
		e.CreatedBy,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to create expansion: %w", err)
	}

	e.CreatedAt = now
	e.UpdatedAt = now
	e.Deleted = false
	return nil
}

// UpdateExpansion replaces the mutable attributes of an expansion
func (s *PostgresStore) UpdateExpansion(ctx context.Context, e *permission.DataPermissionExpand) error {
	if err := e.Validate(); err != nil {
		return err
	}

	tenant := permission.TenantContext{OrganizationID: e.OrganizationID}
	existing, err := s.GetExpansion(ctx, tenant, e.ID)
	if err != nil {
		return err
	}
	if existing.DataPermissionID != e.DataPermissionID {
		return fmt.Errorf("expansion %d base rule: %w", e.ID, permission.ErrImmutable)
	}

	query := `
		UPDATE data_permission_expands
		SET filter_conditions = $1, allowed_fields = $2, denied_fields = $3, actions = $4,
			priority = $5, is_active = $6, updated_at = $7
		WHERE id = $8 AND organization_id = $9 AND deleted = FALSE
	`

	now := s.now()
	result, err := s.db.ExecContext(ctx, query,
		nullJSON(e.FilterConditions),
		pq.Array(e.AllowedFields),
		pq.Array(e.DeniedFields),
		pq.Array(e.Actions),
		e.Priority,
		e.IsActive,
		now,
		e.ID,
		e.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update expansion: %w", err)
	}
	if err := requireAffected(result, fmt.Sprintf("expansion %d", e.ID)); err != nil {
		return err
	}

	e.CreatedAt = existing.CreatedAt
	e.CreatedBy = existing.CreatedBy
	e.UpdatedAt = now
	return nil
}

// DeleteExpansion soft-deletes an expansion
func (s *PostgresStore) DeleteExpansion(ctx context.Context, tenant permission.TenantContext, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE data_permission_expands SET deleted = TRUE, updated_at = $1 WHERE id = $2 AND organization_id = $3 AND deleted = FALSE",
		s.now(), id, tenant.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete expansion: %w", err)
	}
	return requireAffected(result, fmt.Sprintf("expansion %d", id))
}

// GetExpansion returns an expansion by ID
func (s *PostgresStore) GetExpansion(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.DataPermissionExpand, error) {
	query := "SELECT " + expansionColumns + " FROM data_permission_expands WHERE id = $1 AND organization_id = $2 AND deleted = FALSE"

	e, err := scanExpansion(s.db.QueryRowContext(ctx, query, id, tenant.OrganizationID))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("expansion %d", id))
	}
	return e, nil
}

// ListExpansions returns non-deleted expansions of the given data permissions ordered by ID
func (s *PostgresStore) ListExpansions(ctx context.Context, tenant permission.TenantContext, dataPermissionIDs []int64) ([]permission.DataPermissionExpand, error) {
	if len(dataPermissionIDs) == 0 {
		return nil, nil
	}

	query := "SELECT " + expansionColumns + ` FROM data_permission_expands
		WHERE organization_id = $1 AND data_permission_id = ANY($2) AND deleted = FALSE
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, tenant.OrganizationID, pq.Array(dataPermissionIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list expansions: %w", err)
	}
	defer rows.Close()

	var out []permission.DataPermissionExpand
	for rows.Next() {
		e, err := scanExpansion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expansion: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expansions: %w", err)
	}
	return out, nil
}

// CreateRoleInheritance stores a child -> parent role edge
func (s *PostgresStore) CreateRoleInheritance(ctx context.Context, edge *permission.RoleInheritance) error {
	if err := edge.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO role_inheritance (
			organization_id, parent_role_id, child_role_id, inheritance_type,
			priority, is_active, allow_override, created_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := s.now()
	err := s.db.QueryRowContext(ctx, query,
		edge.OrganizationID,
		edge.ParentRoleID,
		edge.ChildRoleID,
		string(edge.InheritanceType),
		edge.Priority,
		edge.IsActive,
		edge.AllowOverride,
		now,
		edge.CreatedBy,
	).Scan(&edge.ID)
	if err != nil {
		return fmt.Errorf("failed to create role inheritance: %w", uniqueViolation(err))
	}

	edge.CreatedAt = now
	edge.Deleted = false
	return nil
}

// DeleteRoleInheritance soft-deletes a role edge
func (s *PostgresStore) DeleteRoleInheritance(ctx context.Context, tenant permission.TenantContext, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE role_inheritance SET deleted = TRUE WHERE id = $1 AND organization_id = $2 AND deleted = FALSE",
		id, tenant.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete role inheritance: %w", err)
	}
	return requireAffected(result, fmt.Sprintf("role inheritance %d", id))
}

// ListRoleInheritance returns non-deleted role edges ordered by ID
func (s *PostgresStore) ListRoleInheritance(ctx context.Context, tenant permission.TenantContext, childRoleID string) ([]permission.RoleInheritance, error) {
	query := `
		SELECT id, organization_id, parent_role_id, child_role_id, inheritance_type,
			priority, is_active, allow_override, deleted, created_at, created_by
		FROM role_inheritance
		WHERE organization_id = $1 AND deleted = FALSE`
	args := []interface{}{tenant.OrganizationID}
	if childRoleID != "" {
		query += " AND child_role_id = $2"
		args = append(args, childRoleID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list role inheritance: %w", err)
	}
	defer rows.Close()

	var out []permission.RoleInheritance
	for rows.Next() {
		var edge permission.RoleInheritance
		if err := rows.Scan(
			&edge.ID,
			&edge.OrganizationID,
			&edge.ParentRoleID,
			&edge.ChildRoleID,
			&edge.InheritanceType,
			&edge.Priority,
			&edge.IsActive,
			&edge.AllowOverride,
			&edge.Deleted,
			&edge.CreatedAt,
			&edge.CreatedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role inheritance: %w", err)
		}
		out = append(out, edge)
	}
	return out, rows.Err()
}

// CreateDepartmentInheritance stores a child -> parent department edge
func (s *PostgresStore) CreateDepartmentInheritance(ctx context.Context, edge *permission.DepartmentInheritance) error {
	if err := edge.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO department_inheritance (
			organization_id, parent_department_id, child_department_id, inheritance_type,
			priority, is_active, allow_override, created_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := s.now()
	err := s.db.QueryRowContext(ctx, query,
		edge.OrganizationID,
		edge.ParentDepartmentID,
		edge.ChildDepartmentID,
		string(edge.InheritanceType),
		edge.Priority,
		edge.IsActive,
		edge.AllowOverride,
		now,
		edge.CreatedBy,
	).Scan(&edge.ID)
	if err != nil {
		return fmt.Errorf("failed to create department inheritance: %w", uniqueViolation(err))
	}

	edge.CreatedAt = now
	edge.Deleted = false
	return nil
}

// DeleteDepartmentInheritance soft-deletes a department edge
func (s *PostgresStore) DeleteDepartmentInheritance(ctx context.Context, tenant permission.TenantContext, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE department_inheritance SET deleted = TRUE WHERE id = $1 AND organization_id = $2 AND deleted = FALSE",
		id, tenant.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete department inheritance: %w", err)
	}
	return requireAffected(result, fmt.Sprintf("department inheritance %d", id))
}

// ListDepartmentInheritance returns non-deleted department edges ordered by ID
func (s *PostgresStore) ListDepartmentInheritance(ctx context.Context, tenant permission.TenantContext, childDepartmentID string) ([]permission.DepartmentInheritance, error) {
	query := `
		SELECT id, organization_id, parent_department_id, child_department_id, inheritance_type,
			priority, is_active, allow_override, deleted, created_at, created_by
		FROM department_inheritance
		WHERE organization_id = $1 AND deleted = FALSE`
	args := []interface{}{tenant.OrganizationID}
	if childDepartmentID != "" {
		query += " AND child_department_id = $2"
		args = append(args, childDepartmentID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list department inheritance: %w", err)
	}
	defer rows.Close()

	var out []permission.DepartmentInheritance
	for rows.Next() {
		var edge permission.DepartmentInheritance
		if err := rows.Scan(
			&edge.ID,
			&edge.OrganizationID,
			&edge.ParentDepartmentID,
			&edge.ChildDepartmentID,
			&edge.InheritanceType,
			&edge.Priority,
			&edge.IsActive,
			&edge.AllowOverride,
			&edge.Deleted,
			&edge.CreatedAt,
			&edge.CreatedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan department inheritance: %w", err)
		}
		out = append(out, edge)
	}
	return out, rows.Err()
}

// ListOrganizations returns organizations owning live inheritance edges
func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT organization_id FROM role_inheritance WHERE deleted = FALSE
		UNION
		SELECT organization_id FROM department_inheritance WHERE deleted = FALSE
		ORDER BY organization_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		out = append(out, strings.TrimSpace(org))
	}
	return out, rows.Err()
}

// uniqueViolation maps a Postgres unique_violation to ErrAlreadyExists
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", permission.ErrAlreadyExists, pqErr.Detail)
	}
	return err
}
