package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/assetperm/pkg/permission"
)

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	now    func() time.Time

	resourceTypes map[string]map[string]*permission.ResourceType // org -> name
	roles         map[string]map[string]*permission.Role
	departments   map[string]map[string]*permission.Department
	fieldPerms    map[int64]*permission.FieldPermission
	dataPerms     map[int64]*permission.DataPermission
	expansions    map[int64]*permission.DataPermissionExpand
	roleEdges     map[int64]*permission.RoleInheritance
	deptEdges     map[int64]*permission.DepartmentInheritance
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for created/updated timestamps
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:           time.Now,
		resourceTypes: make(map[string]map[string]*permission.ResourceType),
		roles:         make(map[string]map[string]*permission.Role),
		departments:   make(map[string]map[string]*permission.Department),
		fieldPerms:    make(map[int64]*permission.FieldPermission),
		dataPerms:     make(map[int64]*permission.DataPermission),
		expansions:    make(map[int64]*permission.DataPermissionExpand),
		roleEdges:     make(map[int64]*permission.RoleInheritance),
		deptEdges:     make(map[int64]*permission.DepartmentInheritance),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) allocID() int64 {
	s.nextID++
	return s.nextID
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func copyDataPermission(d *permission.DataPermission) permission.DataPermission {
	out := *d
	out.ScopeValue = permission.ScopeValue{
		IDs:         cloneStrings(d.ScopeValue.IDs),
		Departments: cloneStrings(d.ScopeValue.Departments),
		Users:       cloneStrings(d.ScopeValue.Users),
	}
	out.FilterConditions = cloneBytes(d.FilterConditions)
	return out
}

func copyExpansion(e *permission.DataPermissionExpand) permission.DataPermissionExpand {
	out := *e
	out.FilterConditions = cloneBytes(e.FilterConditions)
	out.AllowedFields = cloneStrings(e.AllowedFields)
	out.DeniedFields = cloneStrings(e.DeniedFields)
	out.Actions = cloneStrings(e.Actions)
	return out
}

// CreateResourceType registers a resource type. Names are unique per organization.
func (s *MemoryStore) CreateResourceType(ctx context.Context, rt *permission.ResourceType) error {
	if err := rt.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byName := s.resourceTypes[rt.OrganizationID]
	if byName == nil {
		byName = make(map[string]*permission.ResourceType)
		s.resourceTypes[rt.OrganizationID] = byName
	}
	if existing, ok := byName[rt.Name]; ok && !existing.Deleted {
		return fmt.Errorf("resource type %s: %w", rt.Name, permission.ErrAlreadyExists)
	}

	rt.ID = s.allocID()
	rt.CreatedAt = s.now()
	rt.Deleted = false
	stored := *rt
	stored.Fields = cloneStrings(rt.Fields)
	byName[rt.Name] = &stored
	return nil
}

// DeleteResourceType soft-deletes a resource type that no live rule references
func (s *MemoryStore) DeleteResourceType(ctx context.Context, tenant permission.TenantContext, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.resourceTypes[tenant.OrganizationID][name]
	if !ok || rt.Deleted {
		return fmt.Errorf("resource type %s: %w", name, permission.ErrNotFound)
	}
	for _, fp := range s.fieldPerms {
		if fp.OrganizationID == tenant.OrganizationID && fp.ResourceType == name && !fp.Deleted {
			return fmt.Errorf("resource type %s is referenced by field permission %d: %w", name, fp.ID, permission.ErrImmutable)
		}
	}
	for _, dp := range s.dataPerms {
		if dp.OrganizationID == tenant.OrganizationID && dp.ResourceType == name && !dp.Deleted {
			return fmt.Errorf("resource type %s is referenced by data permission %d: %w", name, dp.ID, permission.ErrImmutable)
		}
	}
	rt.Deleted = true
	return nil
}

// GetResourceType returns a registered resource type by name
func (s *MemoryStore) GetResourceType(ctx context.Context, tenant permission.TenantContext, name string) (*permission.ResourceType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.resourceTypes[tenant.OrganizationID][name]
	if !ok || rt.Deleted {
		return nil, fmt.Errorf("%s: %w", name, permission.ErrUnknownResourceType)
	}
	out := *rt
	out.Fields = cloneStrings(rt.Fields)
	return &out, nil
}

// ListResourceTypes returns all registered resource types ordered by name
func (s *MemoryStore) ListResourceTypes(ctx context.Context, tenant permission.TenantContext) ([]permission.ResourceType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]permission.ResourceType, 0, len(s.resourceTypes[tenant.OrganizationID]))
	for _, rt := range s.resourceTypes[tenant.OrganizationID] {
		if rt.Deleted {
			continue
		}
		c := *rt
		c.Fields = cloneStrings(rt.Fields)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveRole inserts or replaces a role
func (s *MemoryStore) SaveRole(ctx context.Context, role *permission.Role) error {
	if err := role.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.roles[role.OrganizationID]
	if byID == nil {
		byID = make(map[string]*permission.Role)
		s.roles[role.OrganizationID] = byID
	}
	stored := *role
	byID[role.ID] = &stored
	return nil
}

// GetRole returns a role by ID
func (s *MemoryStore) GetRole(ctx context.Context, tenant permission.TenantContext, id string) (*permission.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[tenant.OrganizationID][id]
	if !ok || role.Deleted {
		return nil, fmt.Errorf("role %s: %w", id, permission.ErrNotFound)
	}
	out := *role
	return &out, nil
}

// SaveDepartment inserts or replaces a department
func (s *MemoryStore) SaveDepartment(ctx context.Context, dept *permission.Department) error {
	if err := dept.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.departments[dept.OrganizationID]
	if byID == nil {
		byID = make(map[string]*permission.Department)
		s.departments[dept.OrganizationID] = byID
	}
	stored := *dept
	byID[dept.ID] = &stored
	return nil
}

// GetDepartment returns a department by ID
func (s *MemoryStore) GetDepartment(ctx context.Context, tenant permission.TenantContext, id string) (*permission.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dept, ok := s.departments[tenant.OrganizationID][id]
	if !ok || dept.Deleted {
		return nil, fmt.Errorf("department %s: %w", id, permission.ErrNotFound)
	}
	out := *dept
	return &out, nil
}

// ListChildDepartments returns the direct children of a department ordered by ID
func (s *MemoryStore) ListChildDepartments(ctx context.Context, tenant permission.TenantContext, parentID string) ([]permission.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []permission.Department
	for _, dept := range s.departments[tenant.OrganizationID] {
		if dept.Deleted || dept.ParentID != parentID || parentID == "" {
			continue
		}
		out = append(out, *dept)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateFieldPermission stores a new field permission
func (s *MemoryStore) CreateFieldPermission(ctx context.Context, fp *permission.FieldPermission) error {
	if err := fp.Validate(); err != nil {
		return err
	}
	if err := fp.Principal.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireResourceType(fp.OrganizationID, fp.ResourceType); err != nil {
		return err
	}

	now := s.now()
	fp.ID = s.allocID()
	fp.CreatedAt = now
	fp.UpdatedAt = now
	fp.Deleted = false
	stored := *fp
	s.fieldPerms[fp.ID] = &stored
	return nil
}

// UpdateFieldPermission replaces the mutable attributes of a field permission.
// Principal, resource type and field name are frozen.
func (s *MemoryStore) UpdateFieldPermission(ctx context.Context, fp *permission.FieldPermission) error {
	if err := fp.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.fieldPerms[fp.ID]
	if !ok || existing.Deleted || existing.OrganizationID != fp.OrganizationID {
		return fmt.Errorf("field permission %d: %w", fp.ID, permission.ErrNotFound)
	}
	if existing.Principal != fp.Principal || existing.ResourceType != fp.ResourceType || existing.FieldName != fp.FieldName {
		return fmt.Errorf("field permission %d binding: %w", fp.ID, permission.ErrImmutable)
	}

	existing.PermissionType = fp.PermissionType
	existing.MaskRule = fp.MaskRule
	existing.Priority = fp.Priority
	existing.IsActive = fp.IsActive
	existing.UpdatedAt = s.now()

	*fp = *existing
	return nil
}

// DeleteFieldPermission soft-deletes a field permission
func (s *MemoryStore) DeleteFieldPermission(ctx context.Context, tenant permission.TenantContext, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp, ok := s.fieldPerms[id]
	if !ok || fp.Deleted || fp.OrganizationID != tenant.OrganizationID {
		return fmt.Errorf("field permission %d: %w", id, permission.ErrNotFound)
	}
	fp.Deleted = true
	fp.UpdatedAt = s.now()
	return nil
}

// GetFieldPermission returns a field permission by ID
func (s *MemoryStore) GetFieldPermission(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.FieldPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fp, ok := s.fieldPerms[id]
	if !ok || fp.Deleted || fp.OrganizationID != tenant.OrganizationID {
		return nil, fmt.Errorf("field permission %d: %w", id, permission.ErrNotFound)
	}
	out := *fp
	return &out, nil
}

// ListFieldPermissions returns non-deleted field permissions matching the query ordered by ID
func (s *MemoryStore) ListFieldPermissions(ctx context.Context, tenant permission.TenantContext, q RuleQuery) ([]permission.FieldPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	principals := principalKeys(q.Principals)
	fields := make(map[string]struct{}, len(q.FieldNames))
	for _, f := range q.FieldNames {
		fields[f] = struct{}{}
	}

	var out []permission.FieldPermission
	for _, fp := range s.fieldPerms {
		if fp.Deleted || fp.OrganizationID != tenant.OrganizationID {
			continue
		}
		if q.ResourceType != "" && fp.ResourceType != q.ResourceType {
			continue
		}
		if len(q.Principals) > 0 {
			if _, ok := principals[fp.Principal.String()]; !ok {
				continue
			}
		}
		if len(fields) > 0 {
			if _, ok := fields[fp.FieldName]; !ok {
				continue
			}
		}
		out = append(out, *fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateDataPermission stores a new data permission
func (s *MemoryStore) CreateDataPermission(ctx context.Context, dp *permission.DataPermission) error {
	if err := dp.Validate(); err != nil {
		return err
	}
	if err := dp.Principal.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireResourceType(dp.OrganizationID, dp.ResourceType); err != nil {
		return err
	}

	now := s.now()
	dp.ID = s.allocID()
	dp.CreatedAt = now
	dp.UpdatedAt = now
	dp.Deleted = false
	stored := copyDataPermission(dp)
	s.dataPerms[dp.ID] = &stored
	return nil
}

// UpdateDataPermission replaces the mutable attributes of a data permission.
// Principal and resource type are frozen.
func (s *MemoryStore) UpdateDataPermission(ctx context.Context, dp *permission.DataPermission) error {
	if err := dp.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.dataPerms[dp.ID]
	if !ok || existing.Deleted || existing.OrganizationID != dp.OrganizationID {
		return fmt.Errorf("data permission %d: %w", dp.ID, permission.ErrNotFound)
	}
	if existing.Principal != dp.Principal || existing.ResourceType != dp.ResourceType {
		return fmt.Errorf("data permission %d binding: %w", dp.ID, permission.ErrImmutable)
	}

	updated := copyDataPermission(dp)
	updated.CreatedAt = existing.CreatedAt
	updated.CreatedBy = existing.CreatedBy
	updated.UpdatedAt = s.now()
	s.dataPerms[dp.ID] = &updated

	*dp = copyDataPermission(&updated)
	return nil
}

// DeleteDataPermission soft-deletes a data permission
func (s *MemoryStore) DeleteDataPermission(ctx context.Context, tenant permission.TenantContext, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dp, ok := s.dataPerms[id]
	if !ok || dp.Deleted || dp.OrganizationID != tenant.OrganizationID {
		return fmt.Errorf("data permission %d: %w", id, permission.ErrNotFound)
	}
	dp.Deleted = true
	dp.UpdatedAt = s.now()
	return nil
}

// GetDataPermission returns a data permission by ID
func (s *MemoryStore) GetDataPermission(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.DataPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dp, ok := s.dataPerms[id]
	if !ok || dp.Deleted || dp.OrganizationID != tenant.OrganizationID {
		return nil, fmt.Errorf("data permission %d: %w", id, permission.ErrNotFound)
	}
	out := copyDataPermission(dp)
	return &out, nil
}

// ListDataPermissions returns non-deleted data permissions matching the query ordered by ID
func (s *MemoryStore) ListDataPermissions(ctx context.Context, tenant permission.TenantContext, q RuleQuery) ([]permission.DataPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	principals := principalKeys(q.Principals)

	var out []permission.DataPermission
	for _, dp := range s.dataPerms {
		if dp.Deleted || dp.OrganizationID != tenant.OrganizationID {
			continue
		}
		if q.ResourceType != "" && dp.ResourceType != q.ResourceType {
			continue
		}
		if len(q.Principals) > 0 {
			if _, ok := principals[dp.Principal.String()]; !ok {
				continue
			}
		}
		out = append(out, copyDataPermission(dp))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateExpansion attaches an expansion to an existing data permission
func (s *MemoryStore) CreateExpansion(ctx context.Context, e *permission.DataPermissionExpand) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.dataPerms[e.DataPermissionID]
	if !ok || base.Deleted || base.OrganizationID != e.OrganizationID {
		return fmt.Errorf("data permission %d: %w", e.DataPermissionID, permission.ErrNotFound)
	}

	now := s.now()
	e.ID = s.allocID()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Deleted = false
	stored := copyExpansion(e)
	s.expansions[e.ID] = &stored
	return nil
}

// UpdateExpansion replaces the mutable attributes of an expansion
func (s *MemoryStore) UpdateExpansion(ctx context.Context, e *permission.DataPermissionExpand) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.expansions[e.ID]
	if !ok || existing.Deleted || existing.OrganizationID != e.OrganizationID {
		return fmt.Errorf("expansion %d: %w", e.ID, permission.ErrNotFound)
	}
	if existing.DataPermissionID != e.DataPermissionID {
		return fmt.Errorf("expansion %d base rule: %w", e.ID, permission.ErrImmutable)
	}

	updated := copyExpansion(e)
	updated.CreatedAt = existing.CreatedAt
	updated.CreatedBy = existing.CreatedBy
	updated.UpdatedAt = s.now()
	s.expansions[e.ID] = &updated

	*e = copyExpansion(&updated)
	return nil
}

// DeleteExpansion soft-deletes an expansion
func (s *MemoryStore) DeleteExpansion(ctx context.Context, tenant permission.TenantContext, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.expansions[id]
	if !ok || e.Deleted || e.OrganizationID != tenant.OrganizationID {
		return fmt.Errorf("expansion %d: %w", id, permission.ErrNotFound)
	}
	e.Deleted = true
	e.UpdatedAt = s.now()
	return nil
}

// GetExpansion returns an expansion by ID
func (s *MemoryStore) GetExpansion(ctx context.Context, tenant permission.TenantContext, id int64) (*permission.DataPermissionExpand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.expansions[id]
	if !ok || e.Deleted || e.OrganizationID != tenant.OrganizationID {
		return nil, fmt.Errorf("expansion %d: %w", id, permission.ErrNotFound)
	}
	out := copyExpansion(e)
	return &out, nil
}

// ListExpansions returns non-deleted expansions of the given data permissions ordered by ID
func (s *MemoryStore) ListExpansions(ctx context.Context, tenant permission.TenantContext, dataPermissionIDs []int64) ([]permission.DataPermissionExpand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(dataPermissionIDs))
	for _, id := range dataPermissionIDs {
		wanted[id] = struct{}{}
	}

	var out []permission.DataPermissionExpand
	for _, e := range s.expansions {
		if e.Deleted || e.OrganizationID != tenant.OrganizationID {
			continue
		}
		if _, ok := wanted[e.DataPermissionID]; !ok {
			continue
		}
		out = append(out, copyExpansion(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateRoleInheritance stores a child -> parent role edge
func (s *MemoryStore) CreateRoleInheritance(ctx context.Context, edge *permission.RoleInheritance) error {
	if err := edge.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.roleEdges {
		if existing.Deleted || existing.OrganizationID != edge.OrganizationID {
			continue
		}
		if existing.ParentRoleID == edge.ParentRoleID && existing.ChildRoleID == edge.ChildRoleID {
			return fmt.Errorf("role inheritance %s -> %s: %w", edge.ChildRoleID, edge.ParentRoleID, permission.ErrAlreadyExists)
		}
	}

	edge.ID = s.allocID()
	edge.CreatedAt = s.now()
	edge.Deleted = false
	stored := *edge
	s.roleEdges[edge.ID] = &stored
	return nil
}

// DeleteRoleInheritance soft-deletes a role edge
func (s *MemoryStore) DeleteRoleInheritance(ctx context.Context, tenant permission.TenantContext, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	edge, ok := s.roleEdges[id]
	if !ok || edge.Deleted || edge.OrganizationID != tenant.OrganizationID {
		return fmt.Errorf("role inheritance %d: %w", id, permission.ErrNotFound)
	}
	edge.Deleted = true
	return nil
}

// ListRoleInheritance returns non-deleted role edges ordered by ID
func (s *MemoryStore) ListRoleInheritance(ctx context.Context, tenant permission.TenantContext, childRoleID string) ([]permission.RoleInheritance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []permission.RoleInheritance
	for _, edge := range s.roleEdges {
		if edge.Deleted || edge.OrganizationID != tenant.OrganizationID {
			continue
		}
		if childRoleID != "" && edge.ChildRoleID != childRoleID {
			continue
		}
		out = append(out, *edge)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateDepartmentInheritance stores a child -> parent department edge
func (s *MemoryStore) CreateDepartmentInheritance(ctx context.Context, edge *permission.DepartmentInheritance) error {
	if err := edge.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.deptEdges {
		if existing.Deleted || existing.OrganizationID != edge.OrganizationID {
			continue
		}
		if existing.ParentDepartmentID == edge.ParentDepartmentID && existing.ChildDepartmentID == edge.ChildDepartmentID {
			return fmt.Errorf("department inheritance %s -> %s: %w", edge.ChildDepartmentID, edge.ParentDepartmentID, permission.ErrAlreadyExists)
		}
	}

	edge.ID = s.allocID()
	edge.CreatedAt = s.now()
	edge.Deleted = false
	stored := *edge
	s.deptEdges[edge.ID] = &stored
	return nil
}

// DeleteDepartmentInheritance soft-deletes a department edge
func (s *MemoryStore) DeleteDepartmentInheritance(ctx context.Context, tenant permission.TenantContext, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	edge, ok := s.deptEdges[id]
	if !ok || edge.Deleted || edge.OrganizationID != tenant.OrganizationID {
		return fmt.Errorf("department inheritance %d: %w", id, permission.ErrNotFound)
	}
	edge.Deleted = true
	return nil
}

// ListDepartmentInheritance returns non-deleted department edges ordered by ID
func (s *MemoryStore) ListDepartmentInheritance(ctx context.Context, tenant permission.TenantContext, childDepartmentID string) ([]permission.DepartmentInheritance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []permission.DepartmentInheritance
	for _, edge := range s.deptEdges {
		if edge.Deleted || edge.OrganizationID != tenant.OrganizationID {
			continue
		}
		if childDepartmentID != "" && edge.ChildDepartmentID != childDepartmentID {
			continue
		}
		out = append(out, *edge)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListOrganizations returns organizations owning live inheritance edges
func (s *MemoryStore) ListOrganizations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, edge := range s.roleEdges {
		if !edge.Deleted {
			seen[edge.OrganizationID] = struct{}{}
		}
	}
	for _, edge := range s.deptEdges {
		if !edge.Deleted {
			seen[edge.OrganizationID] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for org := range seen {
		out = append(out, org)
	}
	sort.Strings(out)
	return out, nil
}

// requireResourceType must be called with the lock held
func (s *MemoryStore) requireResourceType(org, name string) error {
	rt, ok := s.resourceTypes[org][name]
	if !ok || rt.Deleted {
		return fmt.Errorf("%s: %w", name, permission.ErrUnknownResourceType)
	}
	return nil
}
