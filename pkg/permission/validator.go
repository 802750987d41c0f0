package permission

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/assetperm/pkg/predicate"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// GetValidator returns the shared struct validator
func GetValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
	})
	return validate
}

// formatValidationError converts validator errors into an ErrValidation wrap
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		e := validationErrors[0]
		return fmt.Errorf("%w: field '%s' failed on the '%s' tag", ErrValidation, e.Namespace(), e.Tag())
	}

	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// Validate checks a resource type before it is saved
func (r *ResourceType) Validate() error {
	return formatValidationError(GetValidator().Struct(r))
}

// Validate checks a field permission before it is saved
func (f *FieldPermission) Validate() error {
	if err := formatValidationError(GetValidator().Struct(f)); err != nil {
		return err
	}
	if f.PermissionType == PermissionMasked && f.MaskRule == "" {
		return fmt.Errorf("%w: masked permission requires a mask rule", ErrValidation)
	}
	return nil
}

// Validate checks a data permission before it is saved
func (d *DataPermission) Validate() error {
	if err := formatValidationError(GetValidator().Struct(d)); err != nil {
		return err
	}

	switch d.ScopeType {
	case ScopeSpecified:
		if d.ScopeValue.Empty() {
			return fmt.Errorf("%w: specified scope requires ids, departments or users", ErrValidation)
		}
	case ScopeCustom:
		if _, err := predicate.ParseConditions(d.FilterConditions); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedCustomFilter, err)
		}
	}

	if !predicate.ValidField(d.DepartmentColumn()) || !predicate.ValidField(d.UserColumn()) {
		return fmt.Errorf("%w: invalid department or user field name", ErrValidation)
	}
	return nil
}

// Validate checks an expansion before it is saved
func (e *DataPermissionExpand) Validate() error {
	if err := formatValidationError(GetValidator().Struct(e)); err != nil {
		return err
	}
	if e.HasFilter() {
		if _, err := predicate.ParseConditions(e.FilterConditions); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedCustomFilter, err)
		}
	}
	return nil
}

// Validate checks a role inheritance edge before it is saved
func (r *RoleInheritance) Validate() error {
	if err := formatValidationError(GetValidator().Struct(r)); err != nil {
		return err
	}
	if r.ParentRoleID == r.ChildRoleID {
		return fmt.Errorf("%w: role %s", ErrSelfLoop, r.ChildRoleID)
	}
	return nil
}

// Validate checks a department inheritance edge before it is saved
func (d *DepartmentInheritance) Validate() error {
	if err := formatValidationError(GetValidator().Struct(d)); err != nil {
		return err
	}
	if d.ParentDepartmentID == d.ChildDepartmentID {
		return fmt.Errorf("%w: department %s", ErrSelfLoop, d.ChildDepartmentID)
	}
	return nil
}

// Validate checks a principal context supplied by a caller
func (p *PrincipalContext) Validate() error {
	if p.Tenant.OrganizationID == "" {
		return fmt.Errorf("%w: organization is required", ErrValidation)
	}
	if p.UserID == "" && len(p.RoleIDs) == 0 && len(p.Departments()) == 0 {
		return ErrUnknownPrincipal
	}
	return nil
}

// Validate checks a principal reference
func (p PrincipalRef) Validate() error {
	return formatValidationError(GetValidator().Struct(p))
}

// Validate checks a role before it is saved
func (r *Role) Validate() error {
	return formatValidationError(GetValidator().Struct(r))
}

// Validate checks a department before it is saved
func (d *Department) Validate() error {
	if err := formatValidationError(GetValidator().Struct(d)); err != nil {
		return err
	}
	if d.ParentID == d.ID {
		return fmt.Errorf("%w: department %s", ErrSelfLoop, d.ID)
	}
	return nil
}
