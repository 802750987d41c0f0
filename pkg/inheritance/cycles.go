package inheritance

import (
	"context"
	"fmt"
	"sort"

	"github.com/platinummonkey/assetperm/pkg/permission"
)

// Cycle is a closed path of active inheritance edges, child first.
// The first node is repeated at the end.
type Cycle struct {
	Kind permission.PrincipalKind `json:"kind"`
	Path []string                 `json:"path"`
}

// String returns a string representation of the cycle
func (c Cycle) String() string {
	s := string(c.Kind) + ":"
	for i, id := range c.Path {
		if i > 0 {
			s += " -> "
		}
		s += id
	}
	return s
}

// DetectCycles reports cycles in the organization's active role and
// department inheritance graphs. It is an operational check and is never
// consulted when deciding access.
func (r *Resolver) DetectCycles(ctx context.Context, tenant permission.TenantContext) ([]Cycle, error) {
	roleEdges, err := r.store.ListRoleInheritance(ctx, tenant, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list role inheritance: %w", err)
	}
	deptEdges, err := r.store.ListDepartmentInheritance(ctx, tenant, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list department inheritance: %w", err)
	}

	roleGraph := make(map[string][]string)
	for _, e := range roleEdges {
		// exclude edges subtract rather than extend, they cannot loop a walk
		if e.IsActive && !e.Deleted && e.InheritanceType != permission.InheritExclude {
			roleGraph[e.ChildRoleID] = append(roleGraph[e.ChildRoleID], e.ParentRoleID)
		}
	}
	deptGraph := make(map[string][]string)
	for _, e := range deptEdges {
		if e.IsActive && !e.Deleted {
			deptGraph[e.ChildDepartmentID] = append(deptGraph[e.ChildDepartmentID], e.ParentDepartmentID)
		}
	}

	var out []Cycle
	for _, path := range findCycles(roleGraph) {
		out = append(out, Cycle{Kind: permission.PrincipalRole, Path: path})
	}
	for _, path := range findCycles(deptGraph) {
		out = append(out, Cycle{Kind: permission.PrincipalDepartment, Path: path})
	}
	return out, nil
}

const (
	unvisited = iota
	onStack
	done
)

// findCycles runs a depth-first search and returns one path per back edge
func findCycles(graph map[string][]string) [][]string {
	nodes := make([]string, 0, len(graph))
	for n, parents := range graph {
		nodes = append(nodes, n)
		sort.Strings(parents)
	}
	sort.Strings(nodes)

	state := make(map[string]int)
	var stack []string
	var cycles [][]string

	var visit func(n string)
	visit = func(n string) {
		state[n] = onStack
		stack = append(stack, n)
		for _, next := range graph[n] {
			switch state[next] {
			case unvisited:
				visit(next)
			case onStack:
				start := len(stack) - 1
				for stack[start] != next {
					start--
				}
				path := append([]string{}, stack[start:]...)
				cycles = append(cycles, append(path, next))
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
	}

	for _, n := range nodes {
		if state[n] == unvisited {
			visit(n)
		}
	}
	return cycles
}
