package engine

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetperm/pkg/audit"
	"github.com/platinummonkey/assetperm/pkg/contextkeys"
	"github.com/platinummonkey/assetperm/pkg/observability"
	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/store"
)

func adminContext() context.Context {
	ctx := contextkeys.WithActor(context.Background(), "admin")
	return contextkeys.WithRequestID(ctx, "req-9")
}

func TestManager_GrantAndRevokeFieldPermission(t *testing.T) {
	f := newFixture(t)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	m := NewManager(f.store, WithRecorder(f.recorder), WithMetrics(metrics))
	ctx := adminContext()

	fp := &permission.FieldPermission{
		OrganizationID: tenant.OrganizationID,
		Principal:      permission.UserRef("u7"),
		ResourceType:   "asset",
		FieldName:      "price",
		PermissionType: permission.PermissionRead,
		IsActive:       true,
	}
	require.NoError(t, m.GrantFieldPermission(ctx, fp))
	assert.NotZero(t, fp.ID)
	assert.Equal(t, "admin", fp.CreatedBy)

	fp.Priority = 50
	require.NoError(t, m.UpdateFieldPermission(ctx, fp))
	require.NoError(t, m.RevokeFieldPermission(ctx, tenant, fp.ID))

	entries := f.entries()
	require.Len(t, entries, 3)
	revoke, update, grant := entries[0], entries[1], entries[2]

	assert.Equal(t, audit.OperationGrant, grant.OperationType)
	assert.Equal(t, audit.TargetFieldPermission, grant.TargetType)
	assert.Equal(t, "admin", grant.Actor)
	assert.Equal(t, "u7", grant.TargetUser)
	assert.Equal(t, "asset", grant.ContentType)
	assert.Equal(t, idString(fp.ID), grant.ObjectID)
	assert.Equal(t, "req-9", grant.RequestID)
	assert.Equal(t, audit.ResultSuccess, grant.Result)

	assert.Equal(t, audit.OperationUpdate, update.OperationType)
	assert.Equal(t, audit.OperationRevoke, revoke.OperationType)
	assert.Equal(t, "u7", revoke.TargetUser)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RuleMutationsTotal.WithLabelValues("grant", "field_permission", "success")))

	_, err := f.store.GetFieldPermission(ctx, tenant, fp.ID)
	assert.ErrorIs(t, err, permission.ErrNotFound)
}

func TestManager_FailuresAreAudited(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.store, WithRecorder(f.recorder))
	ctx := adminContext()

	err := m.RevokeDataPermission(ctx, tenant, 999)
	assert.ErrorIs(t, err, permission.ErrNotFound)

	err = m.AddRoleInheritance(ctx, &permission.RoleInheritance{
		OrganizationID:  tenant.OrganizationID,
		ParentRoleID:    "R1",
		ChildRoleID:     "R1",
		InheritanceType: permission.InheritFull,
		IsActive:        true,
	})
	assert.ErrorIs(t, err, permission.ErrSelfLoop)

	err = m.GrantFieldPermission(ctx, &permission.FieldPermission{
		OrganizationID: tenant.OrganizationID,
		Principal:      permission.RoleRef("R1"),
		ResourceType:   "asset",
		FieldName:      "serial_number",
		PermissionType: permission.PermissionMasked,
	})
	assert.ErrorIs(t, err, permission.ErrValidation)

	entries := f.entries()
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, audit.ResultFailure, e.Result)
		assert.NotEmpty(t, e.ErrorMessage)
	}
	assert.Equal(t, audit.TargetRoleInheritance, entries[1].TargetType)
}

func TestManager_RulesTakeEffect(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.store, WithRecorder(f.recorder))
	e := f.engine()
	ctx := adminContext()

	require.NoError(t, m.RegisterResourceType(ctx, &permission.ResourceType{
		OrganizationID: tenant.OrganizationID,
		Name:           "purchase_request",
		Fields:         []string{"amount"},
	}))
	require.NoError(t, m.SaveDepartment(ctx, &permission.Department{OrganizationID: tenant.OrganizationID, ID: "D4", ParentID: "D1"}))

	dp := &permission.DataPermission{
		OrganizationID: tenant.OrganizationID,
		Principal:      permission.DepartmentRef("D1"),
		ResourceType:   "purchase_request",
		ScopeType:      permission.ScopeSelfAndSub,
		IsActive:       true,
	}
	require.NoError(t, m.GrantDataPermission(ctx, dp))

	req := Request{
		Principal:     staff,
		OperationType: audit.OperationView,
		TargetType:    audit.TargetData,
		ResourceType:  "purchase_request",
		Record:        map[string]any{"department_id": "D4"},
	}
	assert.True(t, e.Authorize(ctx, req).Allowed)

	require.NoError(t, m.AddExpansion(ctx, &permission.DataPermissionExpand{
		OrganizationID:   tenant.OrganizationID,
		DataPermissionID: dp.ID,
		FilterConditions: []byte(`[{"field":"amount","operator":"lt","value":1000}]`),
		IsActive:         true,
	}))
	req.Record = map[string]any{"department_id": "D4", "amount": 5000}
	d := e.Authorize(ctx, req)
	assert.False(t, d.Allowed, "expansion narrows the scope")
	assert.NotZero(t, d.AppliedExpansion)

	dp.IsActive = false
	require.NoError(t, m.UpdateDataPermission(ctx, dp))
	assert.Equal(t, ReasonNoMatchingRule, e.Authorize(ctx, req).Reason)

	err := m.DeleteResourceType(ctx, tenant, "purchase_request")
	assert.ErrorIs(t, err, permission.ErrImmutable, "still referenced by a rule")
}

func TestManager_GrantRequiresKnownPrincipal(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.store, WithRecorder(f.recorder))
	ctx := adminContext()

	err := m.GrantDataPermission(ctx, &permission.DataPermission{
		OrganizationID: tenant.OrganizationID,
		Principal:      permission.RoleRef("R9"),
		ResourceType:   "asset",
		ScopeType:      permission.ScopeAll,
		IsActive:       true,
	})
	assert.ErrorIs(t, err, permission.ErrNotFound)

	err = m.GrantFieldPermission(ctx, &permission.FieldPermission{
		OrganizationID: tenant.OrganizationID,
		Principal:      permission.DepartmentRef("X"),
		ResourceType:   "asset",
		FieldName:      "price",
		PermissionType: permission.PermissionRead,
		IsActive:       true,
	})
	assert.ErrorIs(t, err, permission.ErrNotFound)

	rules, err := f.store.ListDataPermissions(ctx, tenant, store.RuleQuery{ResourceType: "asset"})
	require.NoError(t, err)
	assert.Empty(t, rules, "rejected grants are not stored")

	entries := f.entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, audit.ResultFailure, e.Result)
	}

	// the same role works once it exists
	require.NoError(t, m.SaveRole(ctx, &permission.Role{OrganizationID: tenant.OrganizationID, ID: "R9"}))
	require.NoError(t, m.GrantDataPermission(ctx, &permission.DataPermission{
		OrganizationID: tenant.OrganizationID,
		Principal:      permission.RoleRef("R9"),
		ResourceType:   "asset",
		ScopeType:      permission.ScopeAll,
		IsActive:       true,
	}))
	d := f.engine().Authorize(ctx, Request{
		Principal:     permission.PrincipalContext{Tenant: tenant, UserID: "u2", RoleIDs: []string{"R9"}},
		OperationType: audit.OperationView,
		TargetType:    audit.TargetData,
		ResourceType:  "asset",
	})
	assert.True(t, d.Allowed, d.Reason)
}
