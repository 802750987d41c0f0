package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetperm/pkg/permission"
)

var testTenant = permission.TenantContext{OrganizationID: "org-1"}

func fixedClock() func() time.Time {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func newSeededStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(WithClock(fixedClock()))
	require.NoError(t, s.CreateResourceType(context.Background(), &permission.ResourceType{
		OrganizationID: testTenant.OrganizationID,
		Name:           "asset",
		Fields:         []string{"id", "name", "price", "department_id", "created_by"},
	}))
	return s
}

func TestMemoryStore_ResourceTypes(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)

	rt, err := s.GetResourceType(ctx, testTenant, "asset")
	require.NoError(t, err)
	assert.Equal(t, "asset", rt.Name)
	assert.Len(t, rt.Fields, 5)

	_, err = s.GetResourceType(ctx, testTenant, "vehicle")
	assert.ErrorIs(t, err, permission.ErrUnknownResourceType)

	_, err = s.GetResourceType(ctx, permission.TenantContext{OrganizationID: "org-2"}, "asset")
	assert.ErrorIs(t, err, permission.ErrUnknownResourceType, "resource types are tenant scoped")

	err = s.CreateResourceType(ctx, &permission.ResourceType{OrganizationID: testTenant.OrganizationID, Name: "asset"})
	assert.Error(t, err)

	list, err := s.ListResourceTypes(ctx, testTenant)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore_DeleteReferencedResourceType(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)

	fp := &permission.FieldPermission{
		OrganizationID: testTenant.OrganizationID,
		Principal:      permission.RoleRef("staff"),
		ResourceType:   "asset",
		FieldName:      "price",
		PermissionType: permission.PermissionRead,
		IsActive:       true,
	}
	require.NoError(t, s.CreateFieldPermission(ctx, fp))

	err := s.DeleteResourceType(ctx, testTenant, "asset")
	assert.ErrorIs(t, err, permission.ErrImmutable)

	require.NoError(t, s.DeleteFieldPermission(ctx, testTenant, fp.ID))
	require.NoError(t, s.DeleteResourceType(ctx, testTenant, "asset"))

	_, err = s.GetResourceType(ctx, testTenant, "asset")
	assert.ErrorIs(t, err, permission.ErrUnknownResourceType)
}

func TestMemoryStore_FieldPermissionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)

	fp := &permission.FieldPermission{
		OrganizationID: testTenant.OrganizationID,
		Principal:      permission.RoleRef("staff"),
		ResourceType:   "asset",
		FieldName:      "price",
		PermissionType: permission.PermissionRead,
		Priority:       10,
		IsActive:       true,
		CreatedBy:      "admin",
	}
	require.NoError(t, s.CreateFieldPermission(ctx, fp))
	assert.NotZero(t, fp.ID)
	assert.False(t, fp.CreatedAt.IsZero())

	t.Run("unknown resource type", func(t *testing.T) {
		bad := *fp
		bad.ResourceType = "vehicle"
		assert.ErrorIs(t, s.CreateFieldPermission(ctx, &bad), permission.ErrUnknownResourceType)
	})

	t.Run("masked without rule", func(t *testing.T) {
		bad := *fp
		bad.PermissionType = permission.PermissionMasked
		assert.ErrorIs(t, s.CreateFieldPermission(ctx, &bad), permission.ErrValidation)
	})

	t.Run("update mutable attributes", func(t *testing.T) {
		upd := *fp
		upd.PermissionType = permission.PermissionWrite
		upd.Priority = 20
		require.NoError(t, s.UpdateFieldPermission(ctx, &upd))

		got, err := s.GetFieldPermission(ctx, testTenant, fp.ID)
		require.NoError(t, err)
		assert.Equal(t, permission.PermissionWrite, got.PermissionType)
		assert.Equal(t, 20, got.Priority)
		assert.Equal(t, fp.CreatedAt, got.CreatedAt)
		assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	})

	t.Run("binding is frozen", func(t *testing.T) {
		upd := *fp
		upd.FieldName = "name"
		assert.ErrorIs(t, s.UpdateFieldPermission(ctx, &upd), permission.ErrImmutable)
	})

	t.Run("other tenant cannot see it", func(t *testing.T) {
		_, err := s.GetFieldPermission(ctx, permission.TenantContext{OrganizationID: "org-2"}, fp.ID)
		assert.ErrorIs(t, err, permission.ErrNotFound)
	})

	t.Run("soft delete hides it", func(t *testing.T) {
		require.NoError(t, s.DeleteFieldPermission(ctx, testTenant, fp.ID))

		_, err := s.GetFieldPermission(ctx, testTenant, fp.ID)
		assert.ErrorIs(t, err, permission.ErrNotFound)

		list, err := s.ListFieldPermissions(ctx, testTenant, RuleQuery{ResourceType: "asset"})
		require.NoError(t, err)
		assert.Empty(t, list)

		assert.ErrorIs(t, s.DeleteFieldPermission(ctx, testTenant, fp.ID), permission.ErrNotFound)
	})
}

func TestMemoryStore_ListFieldPermissions_Filters(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)

	for _, fp := range []permission.FieldPermission{
		{Principal: permission.RoleRef("staff"), FieldName: "price", PermissionType: permission.PermissionRead, IsActive: true},
		{Principal: permission.RoleRef("manager"), FieldName: "price", PermissionType: permission.PermissionWrite, IsActive: true},
		{Principal: permission.UserRef("u1"), FieldName: "name", PermissionType: permission.PermissionWrite},
	} {
		fp := fp
		fp.OrganizationID = testTenant.OrganizationID
		fp.ResourceType = "asset"
		require.NoError(t, s.CreateFieldPermission(ctx, &fp))
	}

	list, err := s.ListFieldPermissions(ctx, testTenant, RuleQuery{
		ResourceType: "asset",
		Principals:   []permission.PrincipalRef{permission.RoleRef("staff"), permission.UserRef("u1")},
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "staff", list[0].Principal.ID)
	assert.Equal(t, "u1", list[1].Principal.ID)
	assert.False(t, list[1].IsActive, "inactive rules are returned to the resolver")

	list, err = s.ListFieldPermissions(ctx, testTenant, RuleQuery{ResourceType: "asset", FieldNames: []string{"price"}})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryStore_DataPermissionsAndExpansions(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)

	dp := &permission.DataPermission{
		OrganizationID: testTenant.OrganizationID,
		Principal:      permission.RoleRef("staff"),
		ResourceType:   "asset",
		ScopeType:      permission.ScopeSpecified,
		ScopeValue:     permission.ScopeValue{IDs: []string{"5", "6"}},
		IsActive:       true,
	}
	require.NoError(t, s.CreateDataPermission(ctx, dp))

	t.Run("specified scope must name something", func(t *testing.T) {
		bad := *dp
		bad.ScopeValue = permission.ScopeValue{}
		assert.ErrorIs(t, s.CreateDataPermission(ctx, &bad), permission.ErrValidation)
	})

	t.Run("custom scope must parse", func(t *testing.T) {
		bad := *dp
		bad.ScopeType = permission.ScopeCustom
		bad.FilterConditions = json.RawMessage(`"status == 'active'"`)
		assert.ErrorIs(t, s.CreateDataPermission(ctx, &bad), permission.ErrMalformedCustomFilter)
	})

	t.Run("returned values are copies", func(t *testing.T) {
		got, err := s.GetDataPermission(ctx, testTenant, dp.ID)
		require.NoError(t, err)
		got.ScopeValue.IDs[0] = "999"

		again, err := s.GetDataPermission(ctx, testTenant, dp.ID)
		require.NoError(t, err)
		assert.Equal(t, "5", again.ScopeValue.IDs[0])
	})

	exp := &permission.DataPermissionExpand{
		OrganizationID:   testTenant.OrganizationID,
		DataPermissionID: dp.ID,
		FilterConditions: json.RawMessage(`{"field":"status","value":"active"}`),
		DeniedFields:     []string{"price"},
		IsActive:         true,
	}
	require.NoError(t, s.CreateExpansion(ctx, exp))

	t.Run("expansion requires a base rule", func(t *testing.T) {
		bad := *exp
		bad.DataPermissionID = 12345
		assert.ErrorIs(t, s.CreateExpansion(ctx, &bad), permission.ErrNotFound)
	})

	list, err := s.ListExpansions(ctx, testTenant, []int64{dp.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"price"}, list[0].DeniedFields)

	upd := *exp
	upd.Priority = 7
	upd.DeniedFields = nil
	require.NoError(t, s.UpdateExpansion(ctx, &upd))
	got, err := s.GetExpansion(ctx, testTenant, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Priority)
	assert.Empty(t, got.DeniedFields)

	upd.DataPermissionID = dp.ID + 100
	assert.ErrorIs(t, s.UpdateExpansion(ctx, &upd), permission.ErrImmutable)

	require.NoError(t, s.DeleteExpansion(ctx, testTenant, exp.ID))
	list, err = s.ListExpansions(ctx, testTenant, []int64{dp.ID})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStore_InheritanceEdges(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)

	edge := &permission.RoleInheritance{
		OrganizationID:  testTenant.OrganizationID,
		ParentRoleID:    "manager",
		ChildRoleID:     "staff",
		InheritanceType: permission.InheritFull,
		IsActive:        true,
	}
	require.NoError(t, s.CreateRoleInheritance(ctx, edge))

	dup := *edge
	assert.Error(t, s.CreateRoleInheritance(ctx, &dup))

	loop := &permission.RoleInheritance{
		OrganizationID:  testTenant.OrganizationID,
		ParentRoleID:    "staff",
		ChildRoleID:     "staff",
		InheritanceType: permission.InheritFull,
	}
	assert.ErrorIs(t, s.CreateRoleInheritance(ctx, loop), permission.ErrSelfLoop)

	deptEdge := &permission.DepartmentInheritance{
		OrganizationID:     "org-2",
		ParentDepartmentID: "D1",
		ChildDepartmentID:  "D2",
		InheritanceType:    permission.InheritBoth,
		IsActive:           true,
	}
	require.NoError(t, s.CreateDepartmentInheritance(ctx, deptEdge))

	edges, err := s.ListRoleInheritance(ctx, testTenant, "staff")
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	edges, err = s.ListRoleInheritance(ctx, testTenant, "manager")
	require.NoError(t, err)
	assert.Empty(t, edges)

	orgs, err := s.ListOrganizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"org-1", "org-2"}, orgs)

	require.NoError(t, s.DeleteRoleInheritance(ctx, testTenant, edge.ID))
	orgs, err = s.ListOrganizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"org-2"}, orgs)
}

func TestMemoryStore_Departments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, d := range []permission.Department{
		{ID: "D1"},
		{ID: "D2", ParentID: "D1"},
		{ID: "D3", ParentID: "D1"},
		{ID: "D4", ParentID: "D2"},
	} {
		d := d
		d.OrganizationID = testTenant.OrganizationID
		require.NoError(t, s.SaveDepartment(ctx, &d))
	}

	children, err := s.ListChildDepartments(ctx, testTenant, "D1")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "D2", children[0].ID)
	assert.Equal(t, "D3", children[1].ID)

	err = s.SaveDepartment(ctx, &permission.Department{OrganizationID: testTenant.OrganizationID, ID: "D5", ParentID: "D5"})
	assert.ErrorIs(t, err, permission.ErrSelfLoop)

	_, err = s.GetDepartment(ctx, testTenant, "D9")
	assert.ErrorIs(t, err, permission.ErrNotFound)

	require.NoError(t, s.SaveRole(ctx, &permission.Role{OrganizationID: testTenant.OrganizationID, ID: "staff", Name: "Staff"}))
	role, err := s.GetRole(ctx, testTenant, "staff")
	require.NoError(t, err)
	assert.Equal(t, "Staff", role.Name)
}
