package permission

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TenantContext carries the organization every resolver and store call is scoped to
type TenantContext struct {
	OrganizationID string `json:"organization_id" validate:"required"`
}

// PrincipalKind identifies what a rule is bound to
type PrincipalKind string

const (
	PrincipalUser       PrincipalKind = "user"
	PrincipalRole       PrincipalKind = "role"
	PrincipalDepartment PrincipalKind = "department"
)

// PrincipalRef binds a rule to a user, role or department
type PrincipalRef struct {
	Kind PrincipalKind `json:"kind" validate:"required,oneof=user role department"`
	ID   string        `json:"id" validate:"required"`
}

// String returns a string representation of the principal
func (p PrincipalRef) String() string {
	return string(p.Kind) + ":" + p.ID
}

// UserRef returns the principal ref of a user
func UserRef(id string) PrincipalRef { return PrincipalRef{Kind: PrincipalUser, ID: id} }

// RoleRef returns the principal ref of a role
func RoleRef(id string) PrincipalRef { return PrincipalRef{Kind: PrincipalRole, ID: id} }

// DepartmentRef returns the principal ref of a department
func DepartmentRef(id string) PrincipalRef { return PrincipalRef{Kind: PrincipalDepartment, ID: id} }

// ParsePrincipal parses the kind:id form produced by String
func ParsePrincipal(s string) (PrincipalRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return PrincipalRef{}, fmt.Errorf("%w: principal %q must be kind:id", ErrValidation, s)
	}
	switch k := PrincipalKind(kind); k {
	case PrincipalUser, PrincipalRole, PrincipalDepartment:
		return PrincipalRef{Kind: k, ID: id}, nil
	default:
		return PrincipalRef{}, fmt.Errorf("%w: unknown principal kind %q", ErrValidation, kind)
	}
}

// PrincipalContext is the already-resolved actor context supplied by callers
type PrincipalContext struct {
	Tenant              TenantContext `json:"tenant"`
	UserID              string        `json:"user_id"`
	RoleIDs             []string      `json:"role_ids,omitempty"`
	DepartmentIDs       []string      `json:"department_ids,omitempty"`
	PrimaryDepartmentID string        `json:"primary_department_id,omitempty"`
	IPAddress           string        `json:"ip_address,omitempty"`
	RequestID           string        `json:"request_id,omitempty"`
}

// Departments returns the department memberships with the primary department included
func (p PrincipalContext) Departments() []string {
	out := make([]string, 0, len(p.DepartmentIDs)+1)
	seen := make(map[string]struct{}, len(p.DepartmentIDs)+1)
	if p.PrimaryDepartmentID != "" {
		out = append(out, p.PrimaryDepartmentID)
		seen[p.PrimaryDepartmentID] = struct{}{}
	}
	for _, id := range p.DepartmentIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// PermissionType is the per-field access decision
type PermissionType string

const (
	PermissionRead   PermissionType = "read"
	PermissionWrite  PermissionType = "write"
	PermissionHidden PermissionType = "hidden"
	PermissionMasked PermissionType = "masked"
)

// Visible reports whether a field with this permission type may be shown at all
func (t PermissionType) Visible() bool {
	return t == PermissionRead || t == PermissionWrite || t == PermissionMasked
}

// ScopeType selects how a data permission restricts records
type ScopeType string

const (
	ScopeAll        ScopeType = "all"
	ScopeSelf       ScopeType = "self"
	ScopeSelfAndSub ScopeType = "self_and_sub"
	ScopeDepartment ScopeType = "department"
	ScopeSpecified  ScopeType = "specified"
	ScopeCustom     ScopeType = "custom"
)

// Default record field names used by data permissions
const (
	DefaultDepartmentField = "department_id"
	DefaultUserField       = "created_by"
	DefaultIDField         = "id"
)

// ResourceType is a registered business entity class (content-type equivalent)
type ResourceType struct {
	ID             int64     `json:"id"`
	OrganizationID string    `json:"organization_id" validate:"required"`
	Name           string    `json:"name" validate:"required,max=100"`
	Description    string    `json:"description,omitempty"`
	Fields         []string  `json:"fields,omitempty" validate:"dive,required"`
	Deleted        bool      `json:"deleted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Role is a role known to the organization
type Role struct {
	OrganizationID string `json:"organization_id" validate:"required"`
	ID             string `json:"id" validate:"required"`
	Name           string `json:"name"`
	Deleted        bool   `json:"deleted"`
}

// Department is a node of the organizational tree
type Department struct {
	OrganizationID string `json:"organization_id" validate:"required"`
	ID             string `json:"id" validate:"required"`
	ParentID       string `json:"parent_id,omitempty"`
	Name           string `json:"name"`
	Deleted        bool   `json:"deleted"`
}

// FieldPermission controls visibility and editability of one field
type FieldPermission struct {
	ID             int64          `json:"id"`
	OrganizationID string         `json:"organization_id" validate:"required"`
	Principal      PrincipalRef   `json:"principal"`
	ResourceType   string         `json:"resource_type" validate:"required"`
	FieldName      string         `json:"field_name" validate:"required"`
	PermissionType PermissionType `json:"permission_type" validate:"required,oneof=read write hidden masked"`
	MaskRule       string         `json:"mask_rule,omitempty"`
	Priority       int            `json:"priority"`
	IsActive       bool           `json:"is_active"`
	Deleted        bool           `json:"deleted"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CreatedBy      string         `json:"created_by,omitempty"`
}

// ScopeValue is the explicit allow-list of a specified-scope data permission
type ScopeValue struct {
	IDs         []string `json:"ids,omitempty"`
	Departments []string `json:"departments,omitempty"`
	Users       []string `json:"users,omitempty"`
}

// Empty reports whether the allow-list names nothing
func (v ScopeValue) Empty() bool {
	return len(v.IDs) == 0 && len(v.Departments) == 0 && len(v.Users) == 0
}

// DataPermission restricts which records of a resource type a principal may access
type DataPermission struct {
	ID               int64           `json:"id"`
	OrganizationID   string          `json:"organization_id" validate:"required"`
	Principal        PrincipalRef    `json:"principal"`
	ResourceType     string          `json:"resource_type" validate:"required"`
	ScopeType        ScopeType       `json:"scope_type" validate:"required,oneof=all self self_and_sub department specified custom"`
	DepartmentField  string          `json:"department_field,omitempty"`
	UserField        string          `json:"user_field,omitempty"`
	ScopeValue       ScopeValue      `json:"scope_value"`
	FilterConditions json.RawMessage `json:"filter_conditions,omitempty"`
	Priority         int             `json:"priority"`
	IsActive         bool            `json:"is_active"`
	Deleted          bool            `json:"deleted"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CreatedBy        string          `json:"created_by,omitempty"`
}

// DepartmentColumn returns the record field holding the department
func (d DataPermission) DepartmentColumn() string {
	if d.DepartmentField == "" {
		return DefaultDepartmentField
	}
	return d.DepartmentField
}

// UserColumn returns the record field holding the owning user
func (d DataPermission) UserColumn() string {
	if d.UserField == "" {
		return DefaultUserField
	}
	return d.UserField
}

// DataPermissionExpand narrows or overlays a base data permission
type DataPermissionExpand struct {
	ID               int64           `json:"id"`
	OrganizationID   string          `json:"organization_id" validate:"required"`
	DataPermissionID int64           `json:"data_permission_id" validate:"required"`
	FilterConditions json.RawMessage `json:"filter_conditions,omitempty"`
	AllowedFields    []string        `json:"allowed_fields,omitempty"`
	DeniedFields     []string        `json:"denied_fields,omitempty"`
	Actions          []string        `json:"actions,omitempty"`
	Priority         int             `json:"priority"`
	IsActive         bool            `json:"is_active"`
	Deleted          bool            `json:"deleted"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CreatedBy        string          `json:"created_by,omitempty"`
}

// AppliesTo reports whether the expansion's action whitelist admits the action
func (e DataPermissionExpand) AppliesTo(action string) bool {
	if len(e.Actions) == 0 {
		return true
	}
	for _, a := range e.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// HasFilter reports whether the expansion carries filter conditions
func (e DataPermissionExpand) HasFilter() bool {
	raw := string(e.FilterConditions)
	return raw != "" && raw != "null" && raw != "{}" && raw != "[]"
}

// RoleInheritanceType controls how a child role inherits from its parent
type RoleInheritanceType string

const (
	InheritFull    RoleInheritanceType = "full"
	InheritPartial RoleInheritanceType = "partial"
	InheritExclude RoleInheritanceType = "exclude"
)

// RoleInheritance is a directed child -> parent edge between roles
type RoleInheritance struct {
	ID              int64               `json:"id"`
	OrganizationID  string              `json:"organization_id" validate:"required"`
	ParentRoleID    string              `json:"parent_role_id" validate:"required"`
	ChildRoleID     string              `json:"child_role_id" validate:"required"`
	InheritanceType RoleInheritanceType `json:"inheritance_type" validate:"required,oneof=full partial exclude"`
	Priority        int                 `json:"priority"`
	IsActive        bool                `json:"is_active"`
	AllowOverride   bool                `json:"allow_override"`
	Deleted         bool                `json:"deleted"`
	CreatedAt       time.Time           `json:"created_at"`
	CreatedBy       string              `json:"created_by,omitempty"`
}

// DepartmentInheritanceType selects which rule family a department edge carries
type DepartmentInheritanceType string

const (
	InheritData  DepartmentInheritanceType = "data"
	InheritField DepartmentInheritanceType = "field"
	InheritBoth  DepartmentInheritanceType = "both"
)

// DepartmentInheritance is a directed child -> parent edge between departments
type DepartmentInheritance struct {
	ID                 int64                     `json:"id"`
	OrganizationID     string                    `json:"organization_id" validate:"required"`
	ParentDepartmentID string                    `json:"parent_department_id" validate:"required"`
	ChildDepartmentID  string                    `json:"child_department_id" validate:"required"`
	InheritanceType    DepartmentInheritanceType `json:"inheritance_type" validate:"required,oneof=data field both"`
	Priority           int                       `json:"priority"`
	IsActive           bool                      `json:"is_active"`
	AllowOverride      bool                      `json:"allow_override"`
	Deleted            bool                      `json:"deleted"`
	CreatedAt          time.Time                 `json:"created_at"`
	CreatedBy          string                    `json:"created_by,omitempty"`
}
