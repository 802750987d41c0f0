// Package predicate provides a small, serializable filter tree that data
// permission scopes resolve to.
//
// A Node is a tagged union: constant true/false, the and/or/not
// combinators, and compare leaves (field, operator, value). The engine
// never builds a native query; callers translate the tree with Evaluate
// (in-memory records) or ToSQL (Postgres WHERE fragment), or walk it
// themselves.
package predicate

import "regexp"

// Kind tags the node variant
type Kind string

const (
	KindTrue    Kind = "true"
	KindFalse   Kind = "false"
	KindAnd     Kind = "and"
	KindOr      Kind = "or"
	KindNot     Kind = "not"
	KindCompare Kind = "compare"
)

// Op is a comparison operator of a compare leaf
type Op string

const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpIn         Op = "in"
	OpNotIn      Op = "not_in"
	OpContains   Op = "contains"
	OpStartsWith Op = "startswith"
	OpIsNull     Op = "is_null"
)

// knownOps lists every operator accepted by the parser
var knownOps = map[Op]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpIn: {}, OpNotIn: {}, OpContains: {}, OpStartsWith: {}, OpIsNull: {},
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidField reports whether name is an acceptable record field identifier
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

// Node is one node of a predicate tree
type Node struct {
	Kind     Kind    `json:"kind"`
	Field    string  `json:"field,omitempty"`
	Op       Op      `json:"op,omitempty"`
	Value    any     `json:"value,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// True returns the unrestricted predicate
func True() *Node { return &Node{Kind: KindTrue} }

// False returns the deny-all predicate
func False() *Node { return &Node{Kind: KindFalse} }

// Compare returns a compare leaf
func Compare(field string, op Op, value any) *Node {
	return &Node{Kind: KindCompare, Field: field, Op: op, Value: value}
}

// Eq returns field == value
func Eq(field string, value any) *Node { return Compare(field, OpEq, value) }

// In returns field IN values. An empty list can match nothing.
func In(field string, values []string) *Node {
	if len(values) == 0 {
		return False()
	}
	list := make([]string, len(values))
	copy(list, values)
	return Compare(field, OpIn, list)
}

// IsUnrestricted reports whether the node matches every record
func (n *Node) IsUnrestricted() bool { return n != nil && n.Kind == KindTrue }

// IsDenyAll reports whether the node matches no record. A nil node denies.
func (n *Node) IsDenyAll() bool { return n == nil || n.Kind == KindFalse }

// And combines nodes with logical AND, folding constants and flattening
func And(nodes ...*Node) *Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		switch {
		case n == nil || n.Kind == KindFalse:
			return False()
		case n.Kind == KindTrue:
			continue
		case n.Kind == KindAnd:
			out = append(out, n.Children...)
		default:
			out = append(out, n)
		}
	}
	switch len(out) {
	case 0:
		return True()
	case 1:
		return out[0]
	}
	return &Node{Kind: KindAnd, Children: out}
}

// Or combines nodes with logical OR, folding constants and flattening
func Or(nodes ...*Node) *Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		switch {
		case n == nil || n.Kind == KindFalse:
			continue
		case n.Kind == KindTrue:
			return True()
		case n.Kind == KindOr:
			out = append(out, n.Children...)
		default:
			out = append(out, n)
		}
	}
	switch len(out) {
	case 0:
		return False()
	case 1:
		return out[0]
	}
	return &Node{Kind: KindOr, Children: out}
}

// Not negates a node
func Not(n *Node) *Node {
	switch {
	case n == nil || n.Kind == KindFalse:
		return True()
	case n.Kind == KindTrue:
		return False()
	case n.Kind == KindNot && len(n.Children) == 1:
		return n.Children[0]
	}
	return &Node{Kind: KindNot, Children: []*Node{n}}
}
