// Package fieldaccess merges field permission rules into a per-field access
// decision. Unconfigured fields are hidden.
package fieldaccess

import (
	"context"
	"fmt"
	"sort"

	"github.com/platinummonkey/assetperm/pkg/inheritance"
	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/store"
)

// Source values for decisions that do not come from a field permission
const (
	SourceDefault         = "default"
	SourceMissingMaskRule = "missing_mask_rule"
)

// Access is the final decision for one field
type Access struct {
	Type     permission.PermissionType `json:"type"`
	MaskRule string                    `json:"mask_rule,omitempty"`
	// RuleID is the winning field permission, zero when none matched
	RuleID int64 `json:"rule_id,omitempty"`
	// Source names the principal of the winning rule, or the overriding expansion
	Source string `json:"source,omitempty"`
}

// Visible reports whether the field may be shown
func (a Access) Visible() bool { return a.Type.Visible() }

// Writable reports whether the field may be modified
func (a Access) Writable() bool { return a.Type == permission.PermissionWrite }

func hidden(source string) Access {
	return Access{Type: permission.PermissionHidden, Source: source}
}

// ExpansionSource supplies the active expansions overlaying field decisions
type ExpansionSource interface {
	Expansions(ctx context.Context, pc permission.PrincipalContext, resourceType, action string) ([]permission.DataPermissionExpand, error)
}

// Resolver resolves field access
type Resolver struct {
	store       store.Reader
	inheritance *inheritance.Resolver
	expansions  ExpansionSource
}

// NewResolver creates a field access resolver. expansions may be nil.
func NewResolver(r store.Reader, inh *inheritance.Resolver, expansions ExpansionSource) *Resolver {
	return &Resolver{store: r, inheritance: inh, expansions: expansions}
}

// Resolve returns a decision for every requested field, applying every active expansion
func (r *Resolver) Resolve(ctx context.Context, pc permission.PrincipalContext, resourceType string, fieldNames []string) (map[string]Access, error) {
	return r.ResolveForAction(ctx, pc, resourceType, "", fieldNames)
}

// ResolveForAction is Resolve restricted to the expansions admitting the action.
// With no field names, every field registered on the resource type is resolved.
func (r *Resolver) ResolveForAction(ctx context.Context, pc permission.PrincipalContext, resourceType, action string, fieldNames []string) (map[string]Access, error) {
	if len(fieldNames) == 0 {
		rt, err := r.store.GetResourceType(ctx, pc.Tenant, resourceType)
		if err != nil {
			return nil, err
		}
		fieldNames = rt.Fields
	}

	out := make(map[string]Access, len(fieldNames))
	for _, f := range fieldNames {
		out[f] = hidden(SourceDefault)
	}
	if len(fieldNames) == 0 {
		return out, nil
	}

	principals, err := r.inheritance.Principals(ctx, pc, inheritance.FacetField)
	if err != nil {
		return nil, err
	}
	if len(principals) == 0 {
		return out, nil
	}
	rules, err := r.store.ListFieldPermissions(ctx, pc.Tenant, store.RuleQuery{
		ResourceType: resourceType,
		Principals:   inheritance.Refs(principals),
		FieldNames:   fieldNames,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load field permissions: %w", err)
	}

	byField := make(map[string][]permission.FieldPermission)
	for _, rule := range rules {
		if !rule.IsActive || rule.Deleted || rule.ResourceType != resourceType {
			continue
		}
		if _, wanted := out[rule.FieldName]; !wanted {
			continue
		}
		byField[rule.FieldName] = append(byField[rule.FieldName], rule)
	}

	for field, candidates := range byField {
		winner := pick(candidates)
		access := Access{
			Type:     winner.PermissionType,
			MaskRule: winner.MaskRule,
			RuleID:   winner.ID,
			Source:   winner.Principal.String(),
		}
		if access.Type == permission.PermissionMasked && access.MaskRule == "" {
			access = hidden(SourceMissingMaskRule)
			access.RuleID = winner.ID
		}
		if access.Type != permission.PermissionMasked {
			access.MaskRule = ""
		}
		out[field] = access
	}

	if r.expansions == nil {
		return out, nil
	}
	expansions, err := r.expansions.Expansions(ctx, pc, resourceType, action)
	if err != nil {
		return nil, err
	}
	applyOverlays(out, expansions)
	return out, nil
}

// pick selects the winning rule across every effective principal:
// priority desc, created_at desc, id desc.
func pick(candidates []permission.FieldPermission) permission.FieldPermission {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return candidates[0]
}

// applyOverlays forces fields hidden by any expansion. Within one expansion
// denied_fields wins over allowed_fields.
func applyOverlays(out map[string]Access, expansions []permission.DataPermissionExpand) {
	for _, e := range expansions {
		if !e.IsActive || e.Deleted {
			continue
		}
		denied := toSet(e.DeniedFields)
		allowed := toSet(e.AllowedFields)
		source := fmt.Sprintf("expansion:%d", e.ID)

		for field, access := range out {
			if access.Type == permission.PermissionHidden {
				continue
			}
			if _, ok := denied[field]; ok {
				out[field] = hidden(source)
				continue
			}
			if len(allowed) > 0 {
				if _, ok := allowed[field]; !ok {
					out[field] = hidden(source)
				}
			}
		}
	}
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}
