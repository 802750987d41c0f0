package predicate

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// SQL is a parameterized Postgres WHERE fragment
type SQL struct {
	Clause string
	Args   []interface{}
	// NextArg is the placeholder number following the last one used
	NextArg int
}

// ToSQL renders the tree as a WHERE fragment whose placeholders start at $startArg.
// Field names are validated and quoted, values are always bound.
func ToSQL(n *Node, startArg int) (*SQL, error) {
	if startArg < 1 {
		startArg = 1
	}
	b := &sqlBuilder{next: startArg}
	clause, err := b.build(n)
	if err != nil {
		return nil, err
	}
	return &SQL{Clause: clause, Args: b.args, NextArg: b.next}, nil
}

type sqlBuilder struct {
	args []interface{}
	next int
}

func (b *sqlBuilder) bind(v interface{}) string {
	b.args = append(b.args, v)
	placeholder := fmt.Sprintf("$%d", b.next)
	b.next++
	return placeholder
}

func (b *sqlBuilder) build(n *Node) (string, error) {
	if n == nil {
		return "FALSE", nil
	}

	switch n.Kind {
	case KindTrue:
		return "TRUE", nil
	case KindFalse:
		return "FALSE", nil
	case KindAnd, KindOr:
		if len(n.Children) == 0 {
			if n.Kind == KindAnd {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		parts := make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			part, err := b.build(child)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		sep := " AND "
		if n.Kind == KindOr {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	case KindNot:
		if len(n.Children) != 1 {
			return "", fmt.Errorf("not node requires exactly one child, got %d", len(n.Children))
		}
		inner, err := b.build(n.Children[0])
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case KindCompare:
		return b.compare(n)
	}

	return "", fmt.Errorf("unknown predicate kind %q", n.Kind)
}

func (b *sqlBuilder) compare(n *Node) (string, error) {
	if !ValidField(n.Field) {
		return "", fmt.Errorf("invalid field name %q", n.Field)
	}
	column := pq.QuoteIdentifier(n.Field)

	switch n.Op {
	case OpEq:
		if n.Value == nil {
			return column + " IS NULL", nil
		}
		return column + " = " + b.bind(n.Value), nil
	case OpNe:
		if n.Value == nil {
			return column + " IS NOT NULL", nil
		}
		return column + " <> " + b.bind(n.Value), nil
	case OpGt:
		return column + " > " + b.bind(n.Value), nil
	case OpGte:
		return column + " >= " + b.bind(n.Value), nil
	case OpLt:
		return column + " < " + b.bind(n.Value), nil
	case OpLte:
		return column + " <= " + b.bind(n.Value), nil
	case OpIn, OpNotIn:
		list, ok := toList(n.Value)
		if !ok {
			return "", fmt.Errorf("operator %s on %s requires a list value", n.Op, n.Field)
		}
		if len(list) == 0 {
			if n.Op == OpIn {
				return "FALSE", nil
			}
			return column + " IS NOT NULL", nil
		}
		// Bound as text[]; Postgres infers the element type from the column.
		values := make([]string, len(list))
		for i, v := range list {
			s, ok := asString(v)
			if !ok {
				return "", fmt.Errorf("operator %s on %s requires scalar list items", n.Op, n.Field)
			}
			values[i] = s
		}
		if n.Op == OpIn {
			return column + " = ANY(" + b.bind(pq.Array(values)) + ")", nil
		}
		return column + " <> ALL(" + b.bind(pq.Array(values)) + ")", nil
	case OpContains:
		s, _ := asString(n.Value)
		return column + " LIKE " + b.bind("%"+escapeLike(s)+"%"), nil
	case OpStartsWith:
		s, _ := asString(n.Value)
		return column + " LIKE " + b.bind(escapeLike(s)+"%"), nil
	case OpIsNull:
		if want, _ := n.Value.(bool); want {
			return column + " IS NULL", nil
		}
		return column + " IS NOT NULL", nil
	}

	return "", fmt.Errorf("unknown operator %q", n.Op)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
