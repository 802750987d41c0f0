package fieldaccess

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetperm/pkg/inheritance"
	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/scope"
	"github.com/platinummonkey/assetperm/pkg/store"
)

var tenant = permission.TenantContext{OrganizationID: "org-1"}

var staff = permission.PrincipalContext{
	Tenant:              tenant,
	UserID:              "u1",
	RoleIDs:             []string{"R1"},
	PrimaryDepartmentID: "D1",
}

type fixture struct {
	t     *testing.T
	store *store.MemoryStore
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{t: t, clock: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.store = store.NewMemoryStore(store.WithClock(func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}))
	ctx := context.Background()
	require.NoError(t, f.store.CreateResourceType(ctx, &permission.ResourceType{
		OrganizationID: tenant.OrganizationID,
		Name:           "asset",
		Fields:         []string{"name", "serial_number", "price", "salary"},
	}))
	require.NoError(t, f.store.SaveRole(ctx, &permission.Role{OrganizationID: tenant.OrganizationID, ID: "R1"}))
	require.NoError(t, f.store.SaveRole(ctx, &permission.Role{OrganizationID: tenant.OrganizationID, ID: "R2"}))
	require.NoError(t, f.store.SaveDepartment(ctx, &permission.Department{OrganizationID: tenant.OrganizationID, ID: "D1"}))
	return f
}

func (f *fixture) field(principal permission.PrincipalRef, name string, typ permission.PermissionType, priority int) *permission.FieldPermission {
	fp := &permission.FieldPermission{
		OrganizationID: tenant.OrganizationID,
		Principal:      principal,
		ResourceType:   "asset",
		FieldName:      name,
		PermissionType: typ,
		Priority:       priority,
		IsActive:       true,
	}
	if typ == permission.PermissionMasked {
		fp.MaskRule = "phone"
	}
	require.NoError(f.t, f.store.CreateFieldPermission(context.Background(), fp))
	return fp
}

func (f *fixture) resolver() *Resolver {
	inh := inheritance.NewResolver(f.store)
	return NewResolver(f.store, inh, scope.NewResolver(f.store, inh))
}

func TestResolve_UnconfiguredFieldIsHidden(t *testing.T) {
	f := newFixture(t)
	f.field(permission.RoleRef("R1"), "name", permission.PermissionRead, 0)

	got, err := f.resolver().Resolve(context.Background(), staff, "asset", []string{"name", "price"})
	require.NoError(t, err)
	assert.Equal(t, permission.PermissionRead, got["name"].Type)
	assert.Equal(t, permission.PermissionHidden, got["price"].Type)
	assert.Equal(t, SourceDefault, got["price"].Source)
	assert.Zero(t, got["price"].RuleID)
}

func TestResolve_PriorityWins(t *testing.T) {
	for _, order := range []string{"low first", "high first"} {
		t.Run(order, func(t *testing.T) {
			f := newFixture(t)
			if order == "low first" {
				f.field(permission.RoleRef("R1"), "price", permission.PermissionRead, 10)
				f.field(permission.DepartmentRef("D1"), "price", permission.PermissionWrite, 20)
			} else {
				f.field(permission.DepartmentRef("D1"), "price", permission.PermissionWrite, 20)
				f.field(permission.RoleRef("R1"), "price", permission.PermissionRead, 10)
			}

			got, err := f.resolver().Resolve(context.Background(), staff, "asset", []string{"price"})
			require.NoError(t, err)
			assert.Equal(t, permission.PermissionWrite, got["price"].Type)
			assert.True(t, got["price"].Writable())
			assert.Equal(t, "department:D1", got["price"].Source)
		})
	}
}

func TestResolve_NewerRuleBreaksTies(t *testing.T) {
	f := newFixture(t)
	f.field(permission.RoleRef("R1"), "price", permission.PermissionRead, 5)
	newer := f.field(permission.UserRef("u1"), "price", permission.PermissionHidden, 5)

	got, err := f.resolver().Resolve(context.Background(), staff, "asset", []string{"price"})
	require.NoError(t, err)
	assert.Equal(t, permission.PermissionHidden, got["price"].Type)
	assert.Equal(t, newer.ID, got["price"].RuleID)
}

func TestResolve_InheritedRulesCompeteOnPriority(t *testing.T) {
	for _, allowOverride := range []bool{false, true} {
		t.Run("allow_override="+strconv.FormatBool(allowOverride), func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.store.CreateRoleInheritance(context.Background(), &permission.RoleInheritance{
				OrganizationID:  tenant.OrganizationID,
				ChildRoleID:     "R1",
				ParentRoleID:    "R2",
				InheritanceType: permission.InheritFull,
				IsActive:        true,
				AllowOverride:   allowOverride,
			}))
			own := f.field(permission.RoleRef("R1"), "price", permission.PermissionWrite, 20)
			f.field(permission.RoleRef("R2"), "price", permission.PermissionHidden, 10)
			inherited := f.field(permission.RoleRef("R2"), "salary", permission.PermissionRead, 30)
			f.field(permission.RoleRef("R1"), "salary", permission.PermissionHidden, 5)

			got, err := f.resolver().Resolve(context.Background(), staff, "asset", []string{"price", "salary"})
			require.NoError(t, err)
			assert.Equal(t, permission.PermissionWrite, got["price"].Type)
			assert.Equal(t, own.ID, got["price"].RuleID)
			assert.Equal(t, permission.PermissionRead, got["salary"].Type)
			assert.Equal(t, inherited.ID, got["salary"].RuleID)
		})
	}
}

func TestResolve_Masked(t *testing.T) {
	f := newFixture(t)
	f.field(permission.RoleRef("R1"), "serial_number", permission.PermissionMasked, 0)

	got, err := f.resolver().Resolve(context.Background(), staff, "asset", []string{"serial_number"})
	require.NoError(t, err)
	assert.Equal(t, permission.PermissionMasked, got["serial_number"].Type)
	assert.Equal(t, "phone", got["serial_number"].MaskRule)
	assert.True(t, got["serial_number"].Visible())
	assert.False(t, got["serial_number"].Writable())
}

func TestResolve_HiddenSerialNumber(t *testing.T) {
	f := newFixture(t)
	f.field(permission.RoleRef("R1"), "name", permission.PermissionRead, 0)
	f.field(permission.RoleRef("R1"), "serial_number", permission.PermissionHidden, 0)
	f.field(permission.RoleRef("R1"), "price", permission.PermissionWrite, 0)

	got, err := f.resolver().Resolve(context.Background(), staff, "asset", []string{"name", "serial_number", "price"})
	require.NoError(t, err)
	assert.True(t, got["name"].Visible())
	assert.False(t, got["serial_number"].Visible())
	assert.True(t, got["price"].Writable())
}

func TestResolve_InactiveRulesIgnored(t *testing.T) {
	f := newFixture(t)
	fp := f.field(permission.RoleRef("R1"), "price", permission.PermissionWrite, 0)
	fp.IsActive = false
	require.NoError(t, f.store.UpdateFieldPermission(context.Background(), fp))

	got, err := f.resolver().Resolve(context.Background(), staff, "asset", []string{"price"})
	require.NoError(t, err)
	assert.Equal(t, permission.PermissionHidden, got["price"].Type)
}

func TestResolve_DefaultsToRegisteredFields(t *testing.T) {
	f := newFixture(t)
	f.field(permission.RoleRef("R1"), "name", permission.PermissionRead, 0)

	got, err := f.resolver().Resolve(context.Background(), staff, "asset", nil)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.True(t, got["name"].Visible())
	assert.False(t, got["salary"].Visible())

	_, err = f.resolver().Resolve(context.Background(), staff, "ghost", nil)
	assert.ErrorIs(t, err, permission.ErrUnknownResourceType)
}

func TestResolve_ExpansionOverlay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.field(permission.RoleRef("R1"), "salary", permission.PermissionRead, 0)
	f.field(permission.RoleRef("R1"), "name", permission.PermissionRead, 0)
	f.field(permission.RoleRef("R1"), "price", permission.PermissionRead, 0)

	base := &permission.DataPermission{
		OrganizationID: tenant.OrganizationID,
		Principal:      permission.RoleRef("R1"),
		ResourceType:   "asset",
		ScopeType:      permission.ScopeAll,
		IsActive:       true,
	}
	require.NoError(t, f.store.CreateDataPermission(ctx, base))
	exp := &permission.DataPermissionExpand{
		OrganizationID:   tenant.OrganizationID,
		DataPermissionID: base.ID,
		AllowedFields:    []string{"salary", "name"},
		DeniedFields:     []string{"salary"},
		Actions:          []string{"export"},
		IsActive:         true,
	}
	require.NoError(t, f.store.CreateExpansion(ctx, exp))

	t.Run("denied beats allowed", func(t *testing.T) {
		got, err := f.resolver().ResolveForAction(ctx, staff, "asset", "export", []string{"salary", "name", "price"})
		require.NoError(t, err)
		assert.Equal(t, permission.PermissionHidden, got["salary"].Type)
		assert.Equal(t, permission.PermissionRead, got["name"].Type)
		assert.Equal(t, permission.PermissionHidden, got["price"].Type, "not in the allowed list")
		assert.Equal(t, "expansion:"+itoa(exp.ID), got["price"].Source)
	})

	t.Run("other actions are untouched", func(t *testing.T) {
		got, err := f.resolver().ResolveForAction(ctx, staff, "asset", "view", []string{"salary", "price"})
		require.NoError(t, err)
		assert.Equal(t, permission.PermissionRead, got["salary"].Type)
		assert.Equal(t, permission.PermissionRead, got["price"].Type)
	})

	t.Run("any action applies every expansion", func(t *testing.T) {
		got, err := f.resolver().Resolve(ctx, staff, "asset", []string{"salary"})
		require.NoError(t, err)
		assert.Equal(t, permission.PermissionHidden, got["salary"].Type)
	})
}

func TestResolve_NoExpansionSource(t *testing.T) {
	f := newFixture(t)
	f.field(permission.RoleRef("R1"), "name", permission.PermissionRead, 0)

	r := NewResolver(f.store, inheritance.NewResolver(f.store), nil)
	got, err := r.Resolve(context.Background(), staff, "asset", []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, permission.PermissionRead, got["name"].Type)
}

func TestApplyOverlays(t *testing.T) {
	out := map[string]Access{"phone": {Type: permission.PermissionMasked}}
	applyOverlays(out, []permission.DataPermissionExpand{{ID: 9, IsActive: true, AllowedFields: []string{"phone"}}})
	assert.Equal(t, permission.PermissionMasked, out["phone"].Type)

	applyOverlays(out, []permission.DataPermissionExpand{{ID: 10, IsActive: false, DeniedFields: []string{"phone"}}})
	assert.Equal(t, permission.PermissionMasked, out["phone"].Type, "inactive expansions are skipped")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
