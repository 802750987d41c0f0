// Package inheritance walks role and department inheritance graphs and the
// organizational department tree.
//
// Inheritance edges are not transitively validated against cycles, so every
// walk keeps a visited set and a depth bound; revisiting a node simply ends
// that branch. Unknown seed nodes yield an empty set.
package inheritance

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/store"
)

// DefaultMaxDepth bounds every traversal in addition to the visited set
const DefaultMaxDepth = 32

// Facet selects which department edges are followed
type Facet string

const (
	FacetData  Facet = "data"
	FacetField Facet = "field"
	FacetAny   Facet = "any"
)

// follows reports whether a department edge of type t carries this facet
func (f Facet) follows(t permission.DepartmentInheritanceType) bool {
	switch f {
	case FacetAny:
		return true
	case FacetData:
		return t == permission.InheritData || t == permission.InheritBoth
	case FacetField:
		return t == permission.InheritField || t == permission.InheritBoth
	}
	return false
}

// Set is an unordered set of node IDs
type Set map[string]struct{}

// Has reports membership
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Origin describes how a node was reached from its seed
type Origin struct {
	ID    string
	Depth int
	// EdgeID is the edge that first reached the node; zero for the seed
	EdgeID int64
}

// Resolver expands principals along inheritance edges
type Resolver struct {
	store    store.Reader
	maxDepth int
}

// Option configures a Resolver
type Option func(*Resolver)

// WithMaxDepth overrides DefaultMaxDepth
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// NewResolver creates an inheritance resolver reading from r
func NewResolver(r store.Reader, opts ...Option) *Resolver {
	res := &Resolver{store: r, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// ResolveEffectiveRoles returns the seed role and every ancestor role reachable over active edges
func (r *Resolver) ResolveEffectiveRoles(ctx context.Context, tenant permission.TenantContext, roleID string) (Set, error) {
	origins, err := r.walkRoles(ctx, tenant, roleID)
	if err != nil {
		return nil, err
	}
	return toSet(origins), nil
}

// ResolveEffectiveDepartments returns the seed department and every ancestor
// department reachable over active edges carrying the facet
func (r *Resolver) ResolveEffectiveDepartments(ctx context.Context, tenant permission.TenantContext, departmentID string, facet Facet) (Set, error) {
	origins, err := r.walkDepartments(ctx, tenant, departmentID, facet)
	if err != nil {
		return nil, err
	}
	return toSet(origins), nil
}

func toSet(origins map[string]Origin) Set {
	out := make(Set, len(origins))
	for id := range origins {
		out[id] = struct{}{}
	}
	return out
}

// sortRoleEdges orders edges by priority desc, then id asc
func sortRoleEdges(edges []permission.RoleInheritance) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Priority != edges[j].Priority {
			return edges[i].Priority > edges[j].Priority
		}
		return edges[i].ID < edges[j].ID
	})
}

func (r *Resolver) walkRoles(ctx context.Context, tenant permission.TenantContext, seed string) (map[string]Origin, error) {
	if _, err := r.store.GetRole(ctx, tenant, seed); err != nil {
		if errors.Is(err, permission.ErrNotFound) {
			return map[string]Origin{}, nil
		}
		return nil, fmt.Errorf("failed to load role %s: %w", seed, err)
	}

	origins := map[string]Origin{seed: {ID: seed}}
	expanded := map[string]bool{seed: true}
	excluded := make(map[string]bool)
	queue := []string{seed}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := queue[0]
		queue = queue[1:]

		depth := origins[id].Depth
		if depth >= r.maxDepth {
			continue
		}

		edges, err := r.store.ListRoleInheritance(ctx, tenant, id)
		if err != nil {
			return nil, fmt.Errorf("failed to list role inheritance of %s: %w", id, err)
		}
		sortRoleEdges(edges)

		for _, edge := range edges {
			if !edge.IsActive || edge.Deleted || edge.ChildRoleID != id {
				continue
			}
			parent := edge.ParentRoleID

			if edge.InheritanceType == permission.InheritExclude {
				if parent != seed {
					excluded[parent] = true
				}
				continue
			}

			if _, seen := origins[parent]; !seen {
				origins[parent] = Origin{ID: parent, Depth: depth + 1, EdgeID: edge.ID}
			}
			// partial edges grant the parent without walking past it
			if edge.InheritanceType == permission.InheritFull && !expanded[parent] {
				expanded[parent] = true
				queue = append(queue, parent)
			}
		}
	}

	for id := range excluded {
		delete(origins, id)
	}
	return origins, nil
}

func sortDepartmentEdges(edges []permission.DepartmentInheritance) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Priority != edges[j].Priority {
			return edges[i].Priority > edges[j].Priority
		}
		return edges[i].ID < edges[j].ID
	})
}

func (r *Resolver) walkDepartments(ctx context.Context, tenant permission.TenantContext, seed string, facet Facet) (map[string]Origin, error) {
	if _, err := r.store.GetDepartment(ctx, tenant, seed); err != nil {
		if errors.Is(err, permission.ErrNotFound) {
			return map[string]Origin{}, nil
		}
		return nil, fmt.Errorf("failed to load department %s: %w", seed, err)
	}

	origins := map[string]Origin{seed: {ID: seed}}
	queue := []string{seed}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := queue[0]
		queue = queue[1:]

		depth := origins[id].Depth
		if depth >= r.maxDepth {
			continue
		}

		edges, err := r.store.ListDepartmentInheritance(ctx, tenant, id)
		if err != nil {
			return nil, fmt.Errorf("failed to list department inheritance of %s: %w", id, err)
		}
		sortDepartmentEdges(edges)

		for _, edge := range edges {
			if !edge.IsActive || edge.Deleted || edge.ChildDepartmentID != id || !facet.follows(edge.InheritanceType) {
				continue
			}
			parent := edge.ParentDepartmentID
			if _, seen := origins[parent]; seen {
				continue
			}
			origins[parent] = Origin{ID: parent, Depth: depth + 1, EdgeID: edge.ID}
			queue = append(queue, parent)
		}
	}

	return origins, nil
}

// Descendants returns the department and all of its descendants in the
// organizational tree. Unknown departments yield an empty set.
func (r *Resolver) Descendants(ctx context.Context, tenant permission.TenantContext, departmentID string) (Set, error) {
	if _, err := r.store.GetDepartment(ctx, tenant, departmentID); err != nil {
		if errors.Is(err, permission.ErrNotFound) {
			return Set{}, nil
		}
		return nil, fmt.Errorf("failed to load department %s: %w", departmentID, err)
	}

	out := Set{departmentID: {}}
	type item struct {
		id    string
		depth int
	}
	queue := []item{{id: departmentID}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= r.maxDepth {
			continue
		}

		children, err := r.store.ListChildDepartments(ctx, tenant, cur.id)
		if err != nil {
			return nil, fmt.Errorf("failed to list child departments of %s: %w", cur.id, err)
		}
		for _, child := range children {
			if child.Deleted || out.Has(child.ID) {
				continue
			}
			out[child.ID] = struct{}{}
			queue = append(queue, item{id: child.ID, depth: cur.depth + 1})
		}
	}

	return out, nil
}

// Principal is an effective principal ref with its inheritance origin
type Principal struct {
	Ref   permission.PrincipalRef
	Depth int
}

// Principals materializes the effective principals of an actor: the user,
// every effective role and every effective department for the facet.
// The result is ordered by depth, then kind, then ID.
func (r *Resolver) Principals(ctx context.Context, pc permission.PrincipalContext, facet Facet) ([]Principal, error) {
	merged := make(map[permission.PrincipalRef]Principal)
	merge := func(p Principal) {
		if existing, ok := merged[p.Ref]; !ok || p.Depth < existing.Depth {
			merged[p.Ref] = p
		}
	}

	if pc.UserID != "" {
		merge(Principal{Ref: permission.UserRef(pc.UserID)})
	}

	for _, roleID := range pc.RoleIDs {
		origins, err := r.walkRoles(ctx, pc.Tenant, roleID)
		if err != nil {
			return nil, err
		}
		for _, o := range origins {
			merge(Principal{Ref: permission.RoleRef(o.ID), Depth: o.Depth})
		}
	}

	for _, deptID := range pc.Departments() {
		origins, err := r.walkDepartments(ctx, pc.Tenant, deptID, facet)
		if err != nil {
			return nil, err
		}
		for _, o := range origins {
			merge(Principal{Ref: permission.DepartmentRef(o.ID), Depth: o.Depth})
		}
	}

	out := make([]Principal, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		if out[i].Ref.Kind != out[j].Ref.Kind {
			return out[i].Ref.Kind < out[j].Ref.Kind
		}
		return out[i].Ref.ID < out[j].Ref.ID
	})
	return out, nil
}

// Refs extracts the principal refs
func Refs(principals []Principal) []permission.PrincipalRef {
	out := make([]permission.PrincipalRef, len(principals))
	for i, p := range principals {
		out[i] = p.Ref
	}
	return out
}
