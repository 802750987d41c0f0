package cache

import (
	"context"

	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/store"
)

// Cached reads

func (s *Store) GetResourceType(ctx context.Context, tenant permission.TenantContext, name string) (*permission.ResourceType, error) {
	return load(ctx, s, tenant.OrganizationID, "rt:"+name, func() (*permission.ResourceType, error) {
		return s.next.GetResourceType(ctx, tenant, name)
	})
}

func (s *Store) GetDepartment(ctx context.Context, tenant permission.TenantContext, id string) (*permission.Department, error) {
	return load(ctx, s, tenant.OrganizationID, "dept:"+id, func() (*permission.Department, error) {
		return s.next.GetDepartment(ctx, tenant, id)
	})
}

func (s *Store) ListChildDepartments(ctx context.Context, tenant permission.TenantContext, parentID string) ([]permission.Department, error) {
	return load(ctx, s, tenant.OrganizationID, "children:"+parentID, func() ([]permission.Department, error) {
		return s.next.ListChildDepartments(ctx, tenant, parentID)
	})
}

func (s *Store) ListFieldPermissions(ctx context.Context, tenant permission.TenantContext, q store.RuleQuery) ([]permission.FieldPermission, error) {
	return load(ctx, s, tenant.OrganizationID, "fp:"+queryKey(q), func() ([]permission.FieldPermission, error) {
		return s.next.ListFieldPermissions(ctx, tenant, q)
	})
}

func (s *Store) ListDataPermissions(ctx context.Context, tenant permission.TenantContext, q store.RuleQuery) ([]permission.DataPermission, error) {
	return load(ctx, s, tenant.OrganizationID, "dp:"+queryKey(q), func() ([]permission.DataPermission, error) {
		return s.next.ListDataPermissions(ctx, tenant, q)
	})
}

func (s *Store) ListExpansions(ctx context.Context, tenant permission.TenantContext, dataPermissionIDs []int64) ([]permission.DataPermissionExpand, error) {
	return load(ctx, s, tenant.OrganizationID, "exp:"+idsKey(dataPermissionIDs), func() ([]permission.DataPermissionExpand, error) {
		return s.next.ListExpansions(ctx, tenant, dataPermissionIDs)
	})
}

func (s *Store) ListRoleInheritance(ctx context.Context, tenant permission.TenantContext, childRoleID string) ([]permission.RoleInheritance, error) {
	return load(ctx, s, tenant.OrganizationID, "ri:"+childRoleID, func() ([]permission.RoleInheritance, error) {
		return s.next.ListRoleInheritance(ctx, tenant, childRoleID)
	})
}

func (s *Store) ListDepartmentInheritance(ctx context.Context, tenant permission.TenantContext, childDepartmentID string) ([]permission.DepartmentInheritance, error) {
	return load(ctx, s, tenant.OrganizationID, "di:"+childDepartmentID, func() ([]permission.DepartmentInheritance, error) {
		return s.next.ListDepartmentInheritance(ctx, tenant, childDepartmentID)
	})
}

// Pass-through reads, used by management paths that need fresh rows

func (s *Store) ListResourceTypes(ctx context.Context, tenant permission.TenantContext) ([]permission.ResourceType, error) {
	return s.next.ListResourceTypes(ctx, tenant)
}

func (s *Store) GetRole(ctx context.Context, tenant permission.TenantContext, id string) (*permission.Role, error) {
	return s.next.GetRole(ctx, tenant, id)
}

func (s *Store) GetFieldPermission(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.FieldPermission, error) {
	return s.next.GetFieldPermission(ctx, tenant, id)
}

func (s *Store) GetDataPermission(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.DataPermission, error) {
	return s.next.GetDataPermission(ctx, tenant, id)
}

func (s *Store) GetExpansion(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.DataPermissionExpand, error) {
	return s.next.GetExpansion(ctx, tenant, id)
}

func (s *Store) ListOrganizations(ctx context.Context) ([]string, error) {
	return s.next.ListOrganizations(ctx)
}

// Writes

// write runs fn and invalidates org when it succeeds
func (s *Store) write(ctx context.Context, org string, fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	s.Invalidate(ctx, org)
	return nil
}

func (s *Store) CreateResourceType(ctx context.Context, rt *permission.ResourceType) error {
	return s.write(ctx, rt.OrganizationID, func() error { return s.next.CreateResourceType(ctx, rt) })
}

func (s *Store) DeleteResourceType(ctx context.Context, tenant permission.TenantContext, name string) error {
	return s.write(ctx, tenant.OrganizationID, func() error { return s.next.DeleteResourceType(ctx, tenant, name) })
}

func (s *Store) SaveRole(ctx context.Context, role *permission.Role) error {
	return s.write(ctx, role.OrganizationID, func() error { return s.next.SaveRole(ctx, role) })
}

func (s *Store) SaveDepartment(ctx context.Context, dept *permission.Department) error {
	return s.write(ctx, dept.OrganizationID, func() error { return s.next.SaveDepartment(ctx, dept) })
}

func (s *Store) CreateFieldPermission(ctx context.Context, fp *permission.FieldPermission) error {
	return s.write(ctx, fp.OrganizationID, func() error { return s.next.CreateFieldPermission(ctx, fp) })
}

func (s *Store) UpdateFieldPermission(ctx context.Context, fp *permission.FieldPermission) error {
	return s.write(ctx, fp.OrganizationID, func() error { return s.next.UpdateFieldPermission(ctx, fp) })
}

func (s *Store) DeleteFieldPermission(ctx context.Context, tenant permission.TenantContext, id int64) error {
	return s.write(ctx, tenant.OrganizationID, func() error { return s.next.DeleteFieldPermission(ctx, tenant, id) })
}

func (s *Store) CreateDataPermission(ctx context.Context, dp *permission.DataPermission) error {
	return s.write(ctx, dp.OrganizationID, func() error { return s.next.CreateDataPermission(ctx, dp) })
}

func (s *Store) UpdateDataPermission(ctx context.Context, dp *permission.DataPermission) error {
	return s.write(ctx, dp.OrganizationID, func() error { return s.next.UpdateDataPermission(ctx, dp) })
}

func (s *Store) DeleteDataPermission(ctx context.Context, tenant permission.TenantContext, id int64) error {
	return s.write(ctx, tenant.OrganizationID, func() error { return s.next.DeleteDataPermission(ctx, tenant, id) })
}

func (s *Store) CreateExpansion(ctx context.Context, e *permission.DataPermissionExpand) error {
	return s.write(ctx, e.OrganizationID, func() error { return s.next.CreateExpansion(ctx, e) })
}

func (s *Store) UpdateExpansion(ctx context.Context, e *permission.DataPermissionExpand) error {
	return s.write(ctx, e.OrganizationID, func() error { return s.next.UpdateExpansion(ctx, e) })
}

func (s *Store) DeleteExpansion(ctx context.Context, tenant permission.TenantContext, id int64) error {
	return s.write(ctx, tenant.OrganizationID, func() error { return s.next.DeleteExpansion(ctx, tenant, id) })
}

func (s *Store) CreateRoleInheritance(ctx context.Context, edge *permission.RoleInheritance) error {
	return s.write(ctx, edge.OrganizationID, func() error { return s.next.CreateRoleInheritance(ctx, edge) })
}

func (s *Store) DeleteRoleInheritance(ctx context.Context, tenant permission.TenantContext, id int64) error {
	return s.write(ctx, tenant.OrganizationID, func() error { return s.next.DeleteRoleInheritance(ctx, tenant, id) })
}

func (s *Store) CreateDepartmentInheritance(ctx context.Context, edge *permission.DepartmentInheritance) error {
	return s.write(ctx, edge.OrganizationID, func() error { return s.next.CreateDepartmentInheritance(ctx, edge) })
}

func (s *Store) DeleteDepartmentInheritance(ctx context.Context, tenant permission.TenantContext, id int64) error {
	return s.write(ctx, tenant.OrganizationID, func() error { return s.next.DeleteDepartmentInheritance(ctx, tenant, id) })
}
