package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/platinummonkey/assetperm/pkg/audit"
	"github.com/platinummonkey/assetperm/pkg/contextkeys"
	"github.com/platinummonkey/assetperm/pkg/observability"
	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/store"
)

// Manager applies rule changes. Every call, successful or not, records one
// audit entry attributed to the actor found in the context.
type Manager struct {
	store store.Store
	opts  options
}

// NewManager creates a rule manager
func NewManager(s store.Store, opts ...Option) *Manager {
	return &Manager{store: s, opts: buildOptions(opts)}
}

// change describes one mutation for the audit trail
type change struct {
	org         string
	op          audit.OperationType
	target      audit.TargetType
	targetUser  string
	contentType string
	objectID    string
	details     map[string]interface{}
}

func (m *Manager) apply(ctx context.Context, c *change, fn func() error) error {
	ctx, span := observability.StartSpan(ctx, "engine.Manager."+string(c.op))
	err := fn()
	observability.EndSpan(span, err)
	m.opts.metrics.IncRuleMutation(string(c.op), string(c.target), err)

	entry := &audit.Entry{
		OrganizationID:    c.org,
		Actor:             contextkeys.GetActor(ctx),
		TargetUser:        c.targetUser,
		OperationType:     c.op,
		TargetType:        c.target,
		PermissionDetails: c.details,
		ContentType:       c.contentType,
		ObjectID:          c.objectID,
		Result:            audit.ResultSuccess,
		RequestID:         contextkeys.GetRequestID(ctx),
		Timestamp:         m.opts.now().UTC(),
	}
	if err != nil {
		entry.Result = audit.ResultFailure
		entry.ErrorMessage = err.Error()
	}
	record(ctx, m.opts, entry)

	if err == nil {
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"operation_type": c.op,
			"target_type":    c.target,
			"object_id":      c.objectID,
		}).Debug("rule change applied")
	}
	return err
}

// requirePrincipal rejects grants to roles and departments that were never
// saved; such rules could never match. Users are not registered here.
func (m *Manager) requirePrincipal(ctx context.Context, org string, p permission.PrincipalRef) error {
	if err := p.Validate(); err != nil {
		return err
	}
	tenant := permission.TenantContext{OrganizationID: org}
	var err error
	switch p.Kind {
	case permission.PrincipalRole:
		_, err = m.store.GetRole(ctx, tenant, p.ID)
	case permission.PrincipalDepartment:
		_, err = m.store.GetDepartment(ctx, tenant, p.ID)
	}
	if err != nil {
		return fmt.Errorf("principal %s: %w", p, err)
	}
	return nil
}

func userTarget(p permission.PrincipalRef) string {
	if p.Kind == permission.PrincipalUser {
		return p.ID
	}
	return ""
}

func idString(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func principalDetails(p permission.PrincipalRef) map[string]interface{} {
	return map[string]interface{}{"principal": p.String()}
}

// RegisterResourceType registers a new resource type
func (m *Manager) RegisterResourceType(ctx context.Context, rt *permission.ResourceType) error {
	c := &change{
		org:         rt.OrganizationID,
		op:          audit.OperationRegister,
		target:      audit.TargetResourceType,
		contentType: rt.Name,
		details:     map[string]interface{}{"fields": rt.Fields},
	}
	return m.apply(ctx, c, func() error {
		return m.store.CreateResourceType(ctx, rt)
	})
}

// DeleteResourceType removes a resource type no live rule references
func (m *Manager) DeleteResourceType(ctx context.Context, tenant permission.TenantContext, name string) error {
	c := &change{org: tenant.OrganizationID, op: audit.OperationDelete, target: audit.TargetResourceType, contentType: name}
	return m.apply(ctx, c, func() error {
		return m.store.DeleteResourceType(ctx, tenant, name)
	})
}

// SaveRole creates or replaces a role
func (m *Manager) SaveRole(ctx context.Context, role *permission.Role) error {
	c := &change{org: role.OrganizationID, op: audit.OperationUpdate, target: audit.TargetRole, objectID: role.ID}
	return m.apply(ctx, c, func() error {
		return m.store.SaveRole(ctx, role)
	})
}

// SaveDepartment creates or replaces a department in the organizational tree
func (m *Manager) SaveDepartment(ctx context.Context, dept *permission.Department) error {
	c := &change{
		org:      dept.OrganizationID,
		op:       audit.OperationUpdate,
		target:   audit.TargetDepartment,
		objectID: dept.ID,
		details:  map[string]interface{}{"parent_id": dept.ParentID},
	}
	return m.apply(ctx, c, func() error {
		return m.store.SaveDepartment(ctx, dept)
	})
}

// GrantFieldPermission stores a new field rule
func (m *Manager) GrantFieldPermission(ctx context.Context, fp *permission.FieldPermission) error {
	details := principalDetails(fp.Principal)
	details["field_name"] = fp.FieldName
	details["permission_type"] = fp.PermissionType
	details["priority"] = fp.Priority
	c := &change{
		org:         fp.OrganizationID,
		op:          audit.OperationGrant,
		target:      audit.TargetFieldPermission,
		targetUser:  userTarget(fp.Principal),
		contentType: fp.ResourceType,
		details:     details,
	}
	return m.apply(ctx, c, func() error {
		if fp.CreatedBy == "" {
			fp.CreatedBy = contextkeys.GetActor(ctx)
		}
		if err := m.requirePrincipal(ctx, fp.OrganizationID, fp.Principal); err != nil {
			return err
		}
		err := m.store.CreateFieldPermission(ctx, fp)
		c.objectID = idString(fp.ID)
		return err
	})
}

// UpdateFieldPermission changes type, mask, priority or activation of a field rule
func (m *Manager) UpdateFieldPermission(ctx context.Context, fp *permission.FieldPermission) error {
	c := &change{
		org:         fp.OrganizationID,
		op:          audit.OperationUpdate,
		target:      audit.TargetFieldPermission,
		targetUser:  userTarget(fp.Principal),
		contentType: fp.ResourceType,
		objectID:    idString(fp.ID),
		details: map[string]interface{}{
			"permission_type": fp.PermissionType,
			"priority":        fp.Priority,
			"is_active":       fp.IsActive,
		},
	}
	return m.apply(ctx, c, func() error {
		return m.store.UpdateFieldPermission(ctx, fp)
	})
}

// RevokeFieldPermission soft-deletes a field rule
func (m *Manager) RevokeFieldPermission(ctx context.Context, tenant permission.TenantContext, id int64) error {
	c := &change{org: tenant.OrganizationID, op: audit.OperationRevoke, target: audit.TargetFieldPermission, objectID: idString(id)}
	return m.apply(ctx, c, func() error {
		if fp, err := m.store.GetFieldPermission(ctx, tenant, id); err == nil {
			c.targetUser = userTarget(fp.Principal)
			c.contentType = fp.ResourceType
			c.details = principalDetails(fp.Principal)
		}
		return m.store.DeleteFieldPermission(ctx, tenant, id)
	})
}

// GrantDataPermission stores a new scope rule
func (m *Manager) GrantDataPermission(ctx context.Context, dp *permission.DataPermission) error {
	details := principalDetails(dp.Principal)
	details["scope_type"] = dp.ScopeType
	details["priority"] = dp.Priority
	c := &change{
		org:         dp.OrganizationID,
		op:          audit.OperationGrant,
		target:      audit.TargetDataPermission,
		targetUser:  userTarget(dp.Principal),
		contentType: dp.ResourceType,
		details:     details,
	}
	return m.apply(ctx, c, func() error {
		if dp.CreatedBy == "" {
			dp.CreatedBy = contextkeys.GetActor(ctx)
		}
		if err := m.requirePrincipal(ctx, dp.OrganizationID, dp.Principal); err != nil {
			return err
		}
		err := m.store.CreateDataPermission(ctx, dp)
		c.objectID = idString(dp.ID)
		return err
	})
}

// UpdateDataPermission replaces the mutable attributes of a scope rule
func (m *Manager) UpdateDataPermission(ctx context.Context, dp *permission.DataPermission) error {
	c := &change{
		org:         dp.OrganizationID,
		op:          audit.OperationUpdate,
		target:      audit.TargetDataPermission,
		targetUser:  userTarget(dp.Principal),
		contentType: dp.ResourceType,
		objectID:    idString(dp.ID),
		details: map[string]interface{}{
			"scope_type": dp.ScopeType,
			"priority":   dp.Priority,
			"is_active":  dp.IsActive,
		},
	}
	return m.apply(ctx, c, func() error {
		return m.store.UpdateDataPermission(ctx, dp)
	})
}

// RevokeDataPermission soft-deletes a scope rule
func (m *Manager) RevokeDataPermission(ctx context.Context, tenant permission.TenantContext, id int64) error {
	c := &change{org: tenant.OrganizationID, op: audit.OperationRevoke, target: audit.TargetDataPermission, objectID: idString(id)}
	return m.apply(ctx, c, func() error {
		if dp, err := m.store.GetDataPermission(ctx, tenant, id); err == nil {
			c.targetUser = userTarget(dp.Principal)
			c.contentType = dp.ResourceType
			c.details = principalDetails(dp.Principal)
		}
		return m.store.DeleteDataPermission(ctx, tenant, id)
	})
}

// AddExpansion attaches an expansion to a data permission
func (m *Manager) AddExpansion(ctx context.Context, e *permission.DataPermissionExpand) error {
	c := &change{
		org:    e.OrganizationID,
		op:     audit.OperationGrant,
		target: audit.TargetExpansion,
		details: map[string]interface{}{
			"data_permission_id": e.DataPermissionID,
			"allowed_fields":     e.AllowedFields,
			"denied_fields":      e.DeniedFields,
			"actions":            e.Actions,
		},
	}
	return m.apply(ctx, c, func() error {
		if e.CreatedBy == "" {
			e.CreatedBy = contextkeys.GetActor(ctx)
		}
		err := m.store.CreateExpansion(ctx, e)
		c.objectID = idString(e.ID)
		return err
	})
}

// UpdateExpansion replaces the mutable attributes of an expansion
func (m *Manager) UpdateExpansion(ctx context.Context, e *permission.DataPermissionExpand) error {
	c := &change{
		org:      e.OrganizationID,
		op:       audit.OperationUpdate,
		target:   audit.TargetExpansion,
		objectID: idString(e.ID),
		details: map[string]interface{}{
			"data_permission_id": e.DataPermissionID,
			"is_active":          e.IsActive,
		},
	}
	return m.apply(ctx, c, func() error {
		return m.store.UpdateExpansion(ctx, e)
	})
}

// RemoveExpansion soft-deletes an expansion
func (m *Manager) RemoveExpansion(ctx context.Context, tenant permission.TenantContext, id int64) error {
	c := &change{org: tenant.OrganizationID, op: audit.OperationRevoke, target: audit.TargetExpansion, objectID: idString(id)}
	return m.apply(ctx, c, func() error {
		return m.store.DeleteExpansion(ctx, tenant, id)
	})
}

// AddRoleInheritance stores a child -> parent role edge
func (m *Manager) AddRoleInheritance(ctx context.Context, edge *permission.RoleInheritance) error {
	c := &change{
		org:    edge.OrganizationID,
		op:     audit.OperationGrant,
		target: audit.TargetRoleInheritance,
		details: map[string]interface{}{
			"parent_role_id":   edge.ParentRoleID,
			"child_role_id":    edge.ChildRoleID,
			"inheritance_type": edge.InheritanceType,
			"allow_override":   edge.AllowOverride,
		},
	}
	return m.apply(ctx, c, func() error {
		if edge.CreatedBy == "" {
			edge.CreatedBy = contextkeys.GetActor(ctx)
		}
		err := m.store.CreateRoleInheritance(ctx, edge)
		c.objectID = idString(edge.ID)
		return err
	})
}

// RemoveRoleInheritance soft-deletes a role edge
func (m *Manager) RemoveRoleInheritance(ctx context.Context, tenant permission.TenantContext, id int64) error {
	c := &change{org: tenant.OrganizationID, op: audit.OperationRevoke, target: audit.TargetRoleInheritance, objectID: idString(id)}
	return m.apply(ctx, c, func() error {
		return m.store.DeleteRoleInheritance(ctx, tenant, id)
	})
}

// AddDepartmentInheritance stores a child -> parent department edge
func (m *Manager) AddDepartmentInheritance(ctx context.Context, edge *permission.DepartmentInheritance) error {
	c := &change{
		org:    edge.OrganizationID,
		op:     audit.OperationGrant,
		target: audit.TargetDepartmentInheritance,
		details: map[string]interface{}{
			"parent_department_id": edge.ParentDepartmentID,
			"child_department_id":  edge.ChildDepartmentID,
			"inheritance_type":     edge.InheritanceType,
			"allow_override":       edge.AllowOverride,
		},
	}
	return m.apply(ctx, c, func() error {
		if edge.CreatedBy == "" {
			edge.CreatedBy = contextkeys.GetActor(ctx)
		}
		err := m.store.CreateDepartmentInheritance(ctx, edge)
		c.objectID = idString(edge.ID)
		return err
	})
}

// RemoveDepartmentInheritance soft-deletes a department edge
func (m *Manager) RemoveDepartmentInheritance(ctx context.Context, tenant permission.TenantContext, id int64) error {
	c := &change{org: tenant.OrganizationID, op: audit.OperationRevoke, target: audit.TargetDepartmentInheritance, objectID: idString(id)}
	return m.apply(ctx, c, func() error {
		return m.store.DeleteDepartmentInheritance(ctx, tenant, id)
	})
}
