package inheritance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/store"
)

var tenant = permission.TenantContext{OrganizationID: "org-1"}

type graphBuilder struct {
	t     *testing.T
	store *store.MemoryStore
}

func newGraph(t *testing.T) *graphBuilder {
	return &graphBuilder{t: t, store: store.NewMemoryStore()}
}

func (g *graphBuilder) roles(ids ...string) *graphBuilder {
	for _, id := range ids {
		require.NoError(g.t, g.store.SaveRole(context.Background(), &permission.Role{OrganizationID: tenant.OrganizationID, ID: id}))
	}
	return g
}

func (g *graphBuilder) roleEdge(child, parent string, typ permission.RoleInheritanceType, active, allowOverride bool) *graphBuilder {
	require.NoError(g.t, g.store.CreateRoleInheritance(context.Background(), &permission.RoleInheritance{
		OrganizationID:  tenant.OrganizationID,
		ParentRoleID:    parent,
		ChildRoleID:     child,
		InheritanceType: typ,
		IsActive:        active,
		AllowOverride:   allowOverride,
	}))
	return g
}

func (g *graphBuilder) department(id, parent string) *graphBuilder {
	require.NoError(g.t, g.store.SaveDepartment(context.Background(), &permission.Department{
		OrganizationID: tenant.OrganizationID,
		ID:             id,
		ParentID:       parent,
	}))
	return g
}

func (g *graphBuilder) deptEdge(child, parent string, typ permission.DepartmentInheritanceType) *graphBuilder {
	require.NoError(g.t, g.store.CreateDepartmentInheritance(context.Background(), &permission.DepartmentInheritance{
		OrganizationID:     tenant.OrganizationID,
		ParentDepartmentID: parent,
		ChildDepartmentID:  child,
		InheritanceType:    typ,
		IsActive:           true,
		AllowOverride:      true,
	}))
	return g
}

func TestResolveEffectiveRoles_CycleTerminates(t *testing.T) {
	g := newGraph(t).roles("A", "B", "C").
		roleEdge("A", "B", permission.InheritFull, true, true).
		roleEdge("B", "C", permission.InheritFull, true, true).
		roleEdge("C", "A", permission.InheritFull, true, true)

	r := NewResolver(g.store)
	got, err := r.ResolveEffectiveRoles(context.Background(), tenant, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, got.Sorted())
}

func TestResolveEffectiveRoles_EdgeTypes(t *testing.T) {
	ctx := context.Background()

	t.Run("partial stops at the parent", func(t *testing.T) {
		g := newGraph(t).roles("staff", "manager", "director").
			roleEdge("staff", "manager", permission.InheritPartial, true, true).
			roleEdge("manager", "director", permission.InheritFull, true, true)

		got, err := NewResolver(g.store).ResolveEffectiveRoles(ctx, tenant, "staff")
		require.NoError(t, err)
		assert.Equal(t, []string{"manager", "staff"}, got.Sorted())
	})

	t.Run("exclude removes an otherwise inherited role", func(t *testing.T) {
		g := newGraph(t).roles("staff", "manager", "auditor").
			roleEdge("staff", "manager", permission.InheritFull, true, true).
			roleEdge("staff", "auditor", permission.InheritExclude, true, true).
			roleEdge("manager", "auditor", permission.InheritFull, true, true)

		got, err := NewResolver(g.store).ResolveEffectiveRoles(ctx, tenant, "staff")
		require.NoError(t, err)
		assert.Equal(t, []string{"manager", "staff"}, got.Sorted())
	})

	t.Run("exclude never removes the seed", func(t *testing.T) {
		g := newGraph(t).roles("staff", "manager").
			roleEdge("staff", "manager", permission.InheritFull, true, true).
			roleEdge("manager", "staff", permission.InheritExclude, true, true)

		got, err := NewResolver(g.store).ResolveEffectiveRoles(ctx, tenant, "staff")
		require.NoError(t, err)
		assert.True(t, got.Has("staff"))
	})

	t.Run("inactive edges are not followed", func(t *testing.T) {
		g := newGraph(t).roles("staff", "manager").
			roleEdge("staff", "manager", permission.InheritFull, false, true)

		got, err := NewResolver(g.store).ResolveEffectiveRoles(ctx, tenant, "staff")
		require.NoError(t, err)
		assert.Equal(t, []string{"staff"}, got.Sorted())
	})

	t.Run("unknown seed is empty", func(t *testing.T) {
		g := newGraph(t)
		got, err := NewResolver(g.store).ResolveEffectiveRoles(ctx, tenant, "ghost")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("depth bound", func(t *testing.T) {
		g := newGraph(t).roles("r0", "r1", "r2", "r3", "r4").
			roleEdge("r0", "r1", permission.InheritFull, true, true).
			roleEdge("r1", "r2", permission.InheritFull, true, true).
			roleEdge("r2", "r3", permission.InheritFull, true, true).
			roleEdge("r3", "r4", permission.InheritFull, true, true)

		got, err := NewResolver(g.store, WithMaxDepth(2)).ResolveEffectiveRoles(ctx, tenant, "r0")
		require.NoError(t, err)
		assert.Equal(t, []string{"r0", "r1", "r2"}, got.Sorted())
	})

	t.Run("tenants do not share edges", func(t *testing.T) {
		g := newGraph(t).roles("staff", "manager").
			roleEdge("staff", "manager", permission.InheritFull, true, true)

		other := permission.TenantContext{OrganizationID: "org-2"}
		require.NoError(t, g.store.SaveRole(ctx, &permission.Role{OrganizationID: other.OrganizationID, ID: "staff"}))

		got, err := NewResolver(g.store).ResolveEffectiveRoles(ctx, other, "staff")
		require.NoError(t, err)
		assert.Equal(t, []string{"staff"}, got.Sorted())
	})
}

func TestResolveEffectiveDepartments_Facets(t *testing.T) {
	ctx := context.Background()
	g := newGraph(t).department("D1", "").department("D2", "D1").department("D3", "").
		deptEdge("D2", "D1", permission.InheritData).
		deptEdge("D2", "D3", permission.InheritBoth)
	r := NewResolver(g.store)

	got, err := r.ResolveEffectiveDepartments(ctx, tenant, "D2", FacetField)
	require.NoError(t, err)
	assert.Equal(t, []string{"D2", "D3"}, got.Sorted())

	got, err = r.ResolveEffectiveDepartments(ctx, tenant, "D2", FacetData)
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "D2", "D3"}, got.Sorted())

	got, err = r.ResolveEffectiveDepartments(ctx, tenant, "D2", FacetAny)
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "D2", "D3"}, got.Sorted())

	got, err = r.ResolveEffectiveDepartments(ctx, tenant, "D9", FacetAny)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDescendants(t *testing.T) {
	ctx := context.Background()

	t.Run("walks the tree", func(t *testing.T) {
		g := newGraph(t).department("D1", "").department("D2", "D1").department("D3", "D1").department("D4", "D2").department("D5", "")
		got, err := NewResolver(g.store).Descendants(ctx, tenant, "D1")
		require.NoError(t, err)
		assert.Equal(t, []string{"D1", "D2", "D3", "D4"}, got.Sorted())
	})

	t.Run("terminates on a corrupted tree", func(t *testing.T) {
		g := newGraph(t).department("D1", "D3").department("D2", "D1").department("D3", "D2")
		got, err := NewResolver(g.store).Descendants(ctx, tenant, "D1")
		require.NoError(t, err)
		assert.Equal(t, []string{"D1", "D2", "D3"}, got.Sorted())
	})

	t.Run("unknown department", func(t *testing.T) {
		got, err := NewResolver(newGraph(t).store).Descendants(ctx, tenant, "D1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestPrincipals(t *testing.T) {
	g := newGraph(t).roles("staff", "manager").
		roleEdge("staff", "manager", permission.InheritFull, true, false).
		department("D1", "").department("D2", "D1").
		deptEdge("D2", "D1", permission.InheritField)

	pc := permission.PrincipalContext{
		Tenant:              tenant,
		UserID:              "u1",
		RoleIDs:             []string{"staff", "ghost"},
		PrimaryDepartmentID: "D2",
	}

	got, err := NewResolver(g.store).Principals(context.Background(), pc, FacetField)
	require.NoError(t, err)

	require.Len(t, got, 5)
	assert.Equal(t, permission.DepartmentRef("D2"), got[0].Ref)
	assert.Equal(t, permission.RoleRef("staff"), got[1].Ref)
	assert.Equal(t, permission.UserRef("u1"), got[2].Ref)
	assert.Equal(t, permission.DepartmentRef("D1"), got[3].Ref)
	assert.Equal(t, permission.RoleRef("manager"), got[4].Ref)
	assert.Equal(t, 1, got[4].Depth)
	assert.Zero(t, got[0].Depth)

	got, err = NewResolver(g.store).Principals(context.Background(), pc, FacetData)
	require.NoError(t, err)
	assert.NotContains(t, Refs(got), permission.DepartmentRef("D1"))
}

func TestDetectCycles(t *testing.T) {
	g := newGraph(t).roles("A", "B", "C", "D").
		roleEdge("A", "B", permission.InheritFull, true, true).
		roleEdge("B", "C", permission.InheritPartial, true, true).
		roleEdge("C", "A", permission.InheritFull, true, true).
		roleEdge("D", "A", permission.InheritExclude, true, true).
		roleEdge("A", "D", permission.InheritFull, true, true).
		department("D1", "").department("D2", "").
		deptEdge("D1", "D2", permission.InheritBoth).
		deptEdge("D2", "D1", permission.InheritData)

	cycles, err := NewResolver(g.store).DetectCycles(context.Background(), tenant)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, permission.PrincipalRole, cycles[0].Kind)
	assert.Equal(t, []string{"A", "B", "C", "A"}, cycles[0].Path)
	assert.Equal(t, "department:D1 -> D2 -> D1", cycles[1].String())
}
