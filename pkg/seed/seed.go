// Package seed loads rule fixtures from YAML and applies them through the
// engine's Manager, so seeded rules are validated and audited like any
// other change.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/assetperm/pkg/engine"
	"github.com/platinummonkey/assetperm/pkg/permission"
)

// File is one organization's fixture
type File struct {
	Organization          string                  `yaml:"organization"`
	ResourceTypes         []ResourceType          `yaml:"resource_types"`
	Roles                 []Role                  `yaml:"roles"`
	Departments           []Department            `yaml:"departments"`
	FieldPermissions      []FieldPermission       `yaml:"field_permissions"`
	DataPermissions       []DataPermission        `yaml:"data_permissions"`
	RoleInheritance       []RoleInheritance       `yaml:"role_inheritance"`
	DepartmentInheritance []DepartmentInheritance `yaml:"department_inheritance"`
}

type ResourceType struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Fields      []string `yaml:"fields"`
}

type Role struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type Department struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Parent string `yaml:"parent"`
}

// FieldPermission binds Principal, written as kind:id, to one field
type FieldPermission struct {
	Principal    string `yaml:"principal"`
	ResourceType string `yaml:"resource_type"`
	Field        string `yaml:"field"`
	Permission   string `yaml:"permission"`
	MaskRule     string `yaml:"mask_rule"`
	Priority     int    `yaml:"priority"`
	Active       *bool  `yaml:"active"`
}

type DataPermission struct {
	Principal       string      `yaml:"principal"`
	ResourceType    string      `yaml:"resource_type"`
	Scope           string      `yaml:"scope"`
	DepartmentField string      `yaml:"department_field"`
	UserField       string      `yaml:"user_field"`
	IDs             []string    `yaml:"ids"`
	Departments     []string    `yaml:"departments"`
	Users           []string    `yaml:"users"`
	Filter          interface{} `yaml:"filter"`
	Priority        int         `yaml:"priority"`
	Active          *bool       `yaml:"active"`
	Expansions      []Expansion `yaml:"expansions"`
}

type Expansion struct {
	Filter        interface{} `yaml:"filter"`
	AllowedFields []string    `yaml:"allowed_fields"`
	DeniedFields  []string    `yaml:"denied_fields"`
	Actions       []string    `yaml:"actions"`
	Priority      int         `yaml:"priority"`
	Active        *bool       `yaml:"active"`
}

type RoleInheritance struct {
	Parent        string `yaml:"parent"`
	Child         string `yaml:"child"`
	Type          string `yaml:"type"`
	Priority      int    `yaml:"priority"`
	AllowOverride bool   `yaml:"allow_override"`
}

type DepartmentInheritance struct {
	Parent        string `yaml:"parent"`
	Child         string `yaml:"child"`
	Type          string `yaml:"type"`
	Priority      int    `yaml:"priority"`
	AllowOverride bool   `yaml:"allow_override"`
}

// Summary counts what Apply created
type Summary struct {
	ResourceTypes    int `json:"resource_types"`
	Roles            int `json:"roles"`
	Departments      int `json:"departments"`
	FieldPermissions int `json:"field_permissions"`
	DataPermissions  int `json:"data_permissions"`
	Expansions       int `json:"expansions"`
	InheritanceEdges int `json:"inheritance_edges"`
}

// Load reads fixtures from a file. A file may hold several YAML
// documents, one per organization.
func Load(path string) ([]File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads every YAML document from r
func Decode(r io.Reader) ([]File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var files []File
	for {
		var file File
		err := dec.Decode(&file)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse seed file: %w", err)
		}
		if file.Organization == "" {
			return nil, fmt.Errorf("seed document %d: organization is required", len(files)+1)
		}
		files = append(files, file)
	}
	return files, nil
}

// Apply creates everything in file, in dependency order, and stops at the
// first error.
func Apply(ctx context.Context, m *engine.Manager, file File) (Summary, error) {
	var sum Summary
	org := file.Organization

	for _, rt := range file.ResourceTypes {
		err := m.RegisterResourceType(ctx, &permission.ResourceType{
			OrganizationID: org,
			Name:           rt.Name,
			Description:    rt.Description,
			Fields:         rt.Fields,
		})
		if err != nil {
			return sum, fmt.Errorf("resource type %s: %w", rt.Name, err)
		}
		sum.ResourceTypes++
	}

	for _, r := range file.Roles {
		if err := m.SaveRole(ctx, &permission.Role{OrganizationID: org, ID: r.ID, Name: r.Name}); err != nil {
			return sum, fmt.Errorf("role %s: %w", r.ID, err)
		}
		sum.Roles++
	}

	for _, d := range file.Departments {
		dept := &permission.Department{OrganizationID: org, ID: d.ID, Name: d.Name, ParentID: d.Parent}
		if err := m.SaveDepartment(ctx, dept); err != nil {
			return sum, fmt.Errorf("department %s: %w", d.ID, err)
		}
		sum.Departments++
	}

	for i, fp := range file.FieldPermissions {
		principal, err := permission.ParsePrincipal(fp.Principal)
		if err != nil {
			return sum, fmt.Errorf("field permission %d: %w", i+1, err)
		}
		err = m.GrantFieldPermission(ctx, &permission.FieldPermission{
			OrganizationID: org,
			Principal:      principal,
			ResourceType:   fp.ResourceType,
			FieldName:      fp.Field,
			PermissionType: permission.PermissionType(fp.Permission),
			MaskRule:       fp.MaskRule,
			Priority:       fp.Priority,
			IsActive:       active(fp.Active),
		})
		if err != nil {
			return sum, fmt.Errorf("field permission %d: %w", i+1, err)
		}
		sum.FieldPermissions++
	}

	for i, dp := range file.DataPermissions {
		n, err := applyDataPermission(ctx, m, org, dp)
		if err != nil {
			return sum, fmt.Errorf("data permission %d: %w", i+1, err)
		}
		sum.DataPermissions++
		sum.Expansions += n
	}

	for _, e := range file.RoleInheritance {
		err := m.AddRoleInheritance(ctx, &permission.RoleInheritance{
			OrganizationID:  org,
			ParentRoleID:    e.Parent,
			ChildRoleID:     e.Child,
			InheritanceType: permission.RoleInheritanceType(e.Type),
			Priority:        e.Priority,
			AllowOverride:   e.AllowOverride,
			IsActive:        true,
		})
		if err != nil {
			return sum, fmt.Errorf("role inheritance %s -> %s: %w", e.Child, e.Parent, err)
		}
		sum.InheritanceEdges++
	}

	for _, e := range file.DepartmentInheritance {
		err := m.AddDepartmentInheritance(ctx, &permission.DepartmentInheritance{
			OrganizationID:     org,
			ParentDepartmentID: e.Parent,
			ChildDepartmentID:  e.Child,
			InheritanceType:    permission.DepartmentInheritanceType(e.Type),
			Priority:           e.Priority,
			AllowOverride:      e.AllowOverride,
			IsActive:           true,
		})
		if err != nil {
			return sum, fmt.Errorf("department inheritance %s -> %s: %w", e.Child, e.Parent, err)
		}
		sum.InheritanceEdges++
	}

	return sum, nil
}

func applyDataPermission(ctx context.Context, m *engine.Manager, org string, dp DataPermission) (int, error) {
	principal, err := permission.ParsePrincipal(dp.Principal)
	if err != nil {
		return 0, err
	}
	filter, err := toJSON(dp.Filter)
	if err != nil {
		return 0, err
	}
	rule := &permission.DataPermission{
		OrganizationID:   org,
		Principal:        principal,
		ResourceType:     dp.ResourceType,
		ScopeType:        permission.ScopeType(dp.Scope),
		DepartmentField:  dp.DepartmentField,
		UserField:        dp.UserField,
		ScopeValue:       permission.ScopeValue{IDs: dp.IDs, Departments: dp.Departments, Users: dp.Users},
		FilterConditions: filter,
		Priority:         dp.Priority,
		IsActive:         active(dp.Active),
	}
	if err := m.GrantDataPermission(ctx, rule); err != nil {
		return 0, err
	}

	for i, e := range dp.Expansions {
		filter, err := toJSON(e.Filter)
		if err != nil {
			return i, fmt.Errorf("expansion %d: %w", i+1, err)
		}
		err = m.AddExpansion(ctx, &permission.DataPermissionExpand{
			OrganizationID:   org,
			DataPermissionID: rule.ID,
			FilterConditions: filter,
			AllowedFields:    e.AllowedFields,
			DeniedFields:     e.DeniedFields,
			Actions:          e.Actions,
			Priority:         e.Priority,
			IsActive:         active(e.Active),
		})
		if err != nil {
			return i, fmt.Errorf("expansion %d: %w", i+1, err)
		}
	}
	return len(dp.Expansions), nil
}

func active(v *bool) bool {
	return v == nil || *v
}

// toJSON converts a YAML filter tree to the stored JSON form
func toJSON(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %v", permission.ErrMalformedCustomFilter, err)
	}
	return data, nil
}
