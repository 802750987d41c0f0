// Package store persists permission rules, the organizational tree and
// inheritance edges.
//
// Every read filters soft-deleted rows explicitly; active flags are left
// to the resolvers so that inactive rules stay visible to management
// tooling. Two implementations are provided: MemoryStore for tests and
// single-node deployments, and PostgresStore backed by lib/pq.
package store

import (
	"context"

	"github.com/platinummonkey/assetperm/pkg/permission"
)

// RuleQuery selects rules of one resource type bound to a set of principals
type RuleQuery struct {
	ResourceType string
	Principals   []permission.PrincipalRef
	// FieldNames restricts field permissions to these fields when non-empty
	FieldNames []string
}

// Reader is the read side used by the resolvers
type Reader interface {
	// GetResourceType returns a registered resource type by name
	GetResourceType(ctx context.Context, tenant permission.TenantContext, name string) (*permission.ResourceType, error)

	// ListResourceTypes returns all registered resource types
	ListResourceTypes(ctx context.Context, tenant permission.TenantContext) ([]permission.ResourceType, error)

	// GetRole returns a role by ID
	GetRole(ctx context.Context, tenant permission.TenantContext, id string) (*permission.Role, error)

	// GetDepartment returns a department by ID
	GetDepartment(ctx context.Context, tenant permission.TenantContext, id string) (*permission.Department, error)

	// ListChildDepartments returns the direct children of a department in the organizational tree
	ListChildDepartments(ctx context.Context, tenant permission.TenantContext, parentID string) ([]permission.Department, error)

	// GetFieldPermission returns a field permission by ID
	GetFieldPermission(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.FieldPermission, error)

	// ListFieldPermissions returns field permissions matching the query
	ListFieldPermissions(ctx context.Context, tenant permission.TenantContext, q RuleQuery) ([]permission.FieldPermission, error)

	// GetDataPermission returns a data permission by ID
	GetDataPermission(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.DataPermission, error)

	// ListDataPermissions returns data permissions matching the query
	ListDataPermissions(ctx context.Context, tenant permission.TenantContext, q RuleQuery) ([]permission.DataPermission, error)

	// GetExpansion returns an expansion by ID
	GetExpansion(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.DataPermissionExpand, error)

	// ListExpansions returns the expansions attached to the given data permissions
	ListExpansions(ctx context.Context, tenant permission.TenantContext, dataPermissionIDs []int64) ([]permission.DataPermissionExpand, error)

	// ListRoleInheritance returns edges whose child is childRoleID, or all edges when it is empty
	ListRoleInheritance(ctx context.Context, tenant permission.TenantContext, childRoleID string) ([]permission.RoleInheritance, error)

	// ListDepartmentInheritance returns edges whose child is childDepartmentID, or all edges when it is empty
	ListDepartmentInheritance(ctx context.Context, tenant permission.TenantContext, childDepartmentID string) ([]permission.DepartmentInheritance, error)

	// ListOrganizations returns every organization that owns inheritance edges
	ListOrganizations(ctx context.Context) ([]string, error)
}

// Writer is the management side. Deletes are soft.
type Writer interface {
	CreateResourceType(ctx context.Context, rt *permission.ResourceType) error
	DeleteResourceType(ctx context.Context, tenant permission.TenantContext, name string) error

	SaveRole(ctx context.Context, role *permission.Role) error
	SaveDepartment(ctx context.Context, dept *permission.Department) error

	CreateFieldPermission(ctx context.Context, fp *permission.FieldPermission) error
	UpdateFieldPermission(ctx context.Context, fp *permission.FieldPermission) error
	DeleteFieldPermission(ctx context.Context, tenant permission.TenantContext, id int64) error

	CreateDataPermission(ctx context.Context, dp *permission.DataPermission) error
	UpdateDataPermission(ctx context.Context, dp *permission.DataPermission) error
	DeleteDataPermission(ctx context.Context, tenant permission.TenantContext, id int64) error

	CreateExpansion(ctx context.Context, e *permission.DataPermissionExpand) error
	UpdateExpansion(ctx context.Context, e *permission.DataPermissionExpand) error
	DeleteExpansion(ctx context.Context, tenant permission.TenantContext, id int64) error

	CreateRoleInheritance(ctx context.Context, edge *permission.RoleInheritance) error
	DeleteRoleInheritance(ctx context.Context, tenant permission.TenantContext, id int64) error

	CreateDepartmentInheritance(ctx context.Context, edge *permission.DepartmentInheritance) error
	DeleteDepartmentInheritance(ctx context.Context, tenant permission.TenantContext, id int64) error
}

// Store combines the read and write sides
type Store interface {
	Reader
	Writer
}

// principalKeys renders principal refs as lookup keys
func principalKeys(principals []permission.PrincipalRef) map[string]struct{} {
	keys := make(map[string]struct{}, len(principals))
	for _, p := range principals {
		keys[p.String()] = struct{}{}
	}
	return keys
}
