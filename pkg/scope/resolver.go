// Package scope resolves the data permissions of a principal into a
// structural filter predicate over records of one resource type.
package scope

import (
	"context"
	"fmt"
	"sort"

	"github.com/platinummonkey/assetperm/pkg/inheritance"
	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/predicate"
	"github.com/platinummonkey/assetperm/pkg/store"
)

// Result is the outcome of scope resolution
type Result struct {
	Predicate *predicate.Node `json:"predicate"`
	// MatchedRules are the qualifying rules ordered by priority desc, then created_at desc
	MatchedRules []permission.DataPermission `json:"matched_rules,omitempty"`
	// AppliedExpansion is the expansion AND-ed on top of the union, if any
	AppliedExpansion *permission.DataPermissionExpand `json:"applied_expansion,omitempty"`
}

// Resolver builds scope predicates
type Resolver struct {
	store       store.Reader
	inheritance *inheritance.Resolver
}

// NewResolver creates a scope resolver
func NewResolver(r store.Reader, inh *inheritance.Resolver) *Resolver {
	return &Resolver{store: r, inheritance: inh}
}

// Resolve combines every qualifying data permission with OR, then narrows the
// union with the first matching expansion. No rule yields a deny-all predicate.
func (r *Resolver) Resolve(ctx context.Context, pc permission.PrincipalContext, resourceType, action string) (*Result, error) {
	rules, err := r.activeRules(ctx, pc, resourceType)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return &Result{Predicate: predicate.False()}, nil
	}

	var deptScope []string
	preds := make([]*predicate.Node, 0, len(rules))
	for i := range rules {
		rule := &rules[i]
		if rule.ScopeType == permission.ScopeSelfAndSub && deptScope == nil {
			deptScope, err = r.departmentsWithDescendants(ctx, pc)
			if err != nil {
				return nil, err
			}
		}
		p, err := rulePredicate(rule, pc, deptScope)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	result := &Result{
		Predicate:    predicate.Or(preds...),
		MatchedRules: rules,
	}

	expansions, err := r.expansionsOf(ctx, pc.Tenant, rules)
	if err != nil {
		return nil, err
	}
	for i := range expansions {
		e := expansions[i]
		if !e.HasFilter() || !e.AppliesTo(action) {
			continue
		}
		filter, err := predicate.ParseConditions(e.FilterConditions)
		if err != nil {
			return nil, fmt.Errorf("expansion %d: %w: %v", e.ID, permission.ErrMalformedCustomFilter, err)
		}
		result.Predicate = predicate.And(result.Predicate, filter)
		result.AppliedExpansion = &e
		break
	}

	return result, nil
}

// Expansions returns the active expansions of the principal's active data
// permissions that admit the action, ordered by priority desc. An empty
// action admits every expansion.
func (r *Resolver) Expansions(ctx context.Context, pc permission.PrincipalContext, resourceType, action string) ([]permission.DataPermissionExpand, error) {
	rules, err := r.activeRules(ctx, pc, resourceType)
	if err != nil {
		return nil, err
	}
	all, err := r.expansionsOf(ctx, pc.Tenant, rules)
	if err != nil {
		return nil, err
	}
	if action == "" {
		return all, nil
	}

	out := make([]permission.DataPermissionExpand, 0, len(all))
	for _, e := range all {
		if e.AppliesTo(action) {
			out = append(out, e)
		}
	}
	return out, nil
}

// activeRules loads non-deleted active data permissions bound to any effective principal
func (r *Resolver) activeRules(ctx context.Context, pc permission.PrincipalContext, resourceType string) ([]permission.DataPermission, error) {
	principals, err := r.inheritance.Principals(ctx, pc, inheritance.FacetData)
	if err != nil {
		return nil, err
	}
	if len(principals) == 0 {
		return nil, nil
	}

	rules, err := r.store.ListDataPermissions(ctx, pc.Tenant, store.RuleQuery{
		ResourceType: resourceType,
		Principals:   inheritance.Refs(principals),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load data permissions: %w", err)
	}

	active := make([]permission.DataPermission, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive && !rule.Deleted && rule.ResourceType == resourceType {
			active = append(active, rule)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return active, nil
}

// expansionsOf loads the active expansions of the given base rules.
// Expansions of a base rule that is missing from rules are skipped.
func (r *Resolver) expansionsOf(ctx context.Context, tenant permission.TenantContext, rules []permission.DataPermission) ([]permission.DataPermissionExpand, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(rules))
	bases := make(map[int64]struct{}, len(rules))
	for i, rule := range rules {
		ids[i] = rule.ID
		bases[rule.ID] = struct{}{}
	}

	expansions, err := r.store.ListExpansions(ctx, tenant, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load expansions: %w", err)
	}

	active := make([]permission.DataPermissionExpand, 0, len(expansions))
	for _, e := range expansions {
		if _, ok := bases[e.DataPermissionID]; !ok {
			continue
		}
		if e.IsActive && !e.Deleted {
			active = append(active, e)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return active, nil
}

// departmentsWithDescendants returns the memberships plus every descendant in the organizational tree
func (r *Resolver) departmentsWithDescendants(ctx context.Context, pc permission.PrincipalContext) ([]string, error) {
	all := make(inheritance.Set)
	for _, id := range pc.Departments() {
		all[id] = struct{}{}
		sub, err := r.inheritance.Descendants(ctx, pc.Tenant, id)
		if err != nil {
			return nil, err
		}
		for d := range sub {
			all[d] = struct{}{}
		}
	}
	return all.Sorted(), nil
}

// rulePredicate translates a single rule
func rulePredicate(rule *permission.DataPermission, pc permission.PrincipalContext, deptScope []string) (*predicate.Node, error) {
	switch rule.ScopeType {
	case permission.ScopeAll:
		return predicate.True(), nil
	case permission.ScopeSelf:
		if pc.UserID == "" {
			return predicate.False(), nil
		}
		return predicate.Eq(rule.UserColumn(), pc.UserID), nil
	case permission.ScopeSelfAndSub:
		return predicate.In(rule.DepartmentColumn(), deptScope), nil
	case permission.ScopeDepartment:
		return predicate.In(rule.DepartmentColumn(), pc.Departments()), nil
	case permission.ScopeSpecified:
		v := rule.ScopeValue
		return predicate.Or(
			predicate.In(permission.DefaultIDField, v.IDs),
			predicate.In(rule.DepartmentColumn(), v.Departments),
			predicate.In(rule.UserColumn(), v.Users),
		), nil
	case permission.ScopeCustom:
		n, err := predicate.ParseConditions(rule.FilterConditions)
		if err != nil {
			return nil, fmt.Errorf("data permission %d: %w: %v", rule.ID, permission.ErrMalformedCustomFilter, err)
		}
		return n, nil
	}
	return predicate.False(), nil
}
