package predicate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Limits on parsed condition trees
const (
	maxParseDepth = 16
	maxParseNodes = 256
)

var errEmptyConditions = errors.New("filter conditions are empty")

// condition is the wire shape of a field/operator/value triple or a logical group
type condition struct {
	Field    string            `json:"field"`
	Operator Op                `json:"operator"`
	Op       Op                `json:"op"`
	Value    any               `json:"value"`
	And      []json.RawMessage `json:"and"`
	Or       []json.RawMessage `json:"or"`
	Not      json.RawMessage   `json:"not"`
}

// ParseConditions interprets stored filter conditions structurally.
//
// Accepted forms are an array of triples (AND-ed), a single triple
// {"field","operator","value"}, or a group {"and": [...]}, {"or": [...]},
// {"not": {...}} nesting any of these. Nothing is ever evaluated as code.
func ParseConditions(raw json.RawMessage) (*Node, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, errEmptyConditions
	}

	p := &parser{}
	return p.parse(trimmed, 0)
}

type parser struct {
	nodes int
}

func (p *parser) parse(raw json.RawMessage, depth int) (*Node, error) {
	if depth > maxParseDepth {
		return nil, fmt.Errorf("filter conditions nested deeper than %d", maxParseDepth)
	}
	p.nodes++
	if p.nodes > maxParseNodes {
		return nil, fmt.Errorf("filter conditions exceed %d nodes", maxParseNodes)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errEmptyConditions
	}

	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("invalid condition list: %w", err)
		}
		return p.group(items, depth, And)
	}

	var c condition
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("invalid condition: %w", err)
	}

	groups := 0
	if c.And != nil {
		groups++
	}
	if c.Or != nil {
		groups++
	}
	if c.Not != nil {
		groups++
	}
	if groups > 1 || (groups == 1 && c.Field != "") {
		return nil, errors.New("condition mixes a field triple with logical groups")
	}

	switch {
	case c.And != nil:
		return p.group(c.And, depth, And)
	case c.Or != nil:
		return p.group(c.Or, depth, Or)
	case c.Not != nil:
		child, err := p.parse(c.Not, depth+1)
		if err != nil {
			return nil, err
		}
		return Not(child), nil
	}

	return leaf(c)
}

func (p *parser) group(items []json.RawMessage, depth int, combine func(...*Node) *Node) (*Node, error) {
	if len(items) == 0 {
		return nil, errEmptyConditions
	}
	children := make([]*Node, 0, len(items))
	for _, item := range items {
		child, err := p.parse(item, depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return combine(children...), nil
}

// leaf validates a triple and converts it into a compare node
func leaf(c condition) (*Node, error) {
	op := c.Operator
	if op == "" {
		op = c.Op
	}
	if op == "" {
		op = OpEq
	}

	if !ValidField(c.Field) {
		return nil, fmt.Errorf("invalid field name %q", c.Field)
	}
	if _, ok := knownOps[op]; !ok {
		return nil, fmt.Errorf("unknown operator %q", op)
	}

	value := normalizeValue(c.Value)

	switch op {
	case OpIn, OpNotIn:
		list, ok := toList(value)
		if !ok {
			return nil, fmt.Errorf("operator %s on %s requires a list value", op, c.Field)
		}
		for _, v := range list {
			if !isScalar(v) {
				return nil, fmt.Errorf("operator %s on %s requires scalar list items", op, c.Field)
			}
		}
	case OpIsNull:
		if value == nil {
			value = true
		}
		if _, ok := value.(bool); !ok {
			return nil, fmt.Errorf("operator is_null on %s requires a boolean", c.Field)
		}
	case OpContains, OpStartsWith:
		if _, ok := value.(string); !ok {
			return nil, fmt.Errorf("operator %s on %s requires a string", op, c.Field)
		}
	default:
		if value == nil && op != OpEq && op != OpNe {
			return nil, fmt.Errorf("operator %s on %s requires a value", op, c.Field)
		}
		if value != nil && !isScalar(value) {
			return nil, fmt.Errorf("operator %s on %s requires a scalar value", op, c.Field)
		}
	}

	return Compare(c.Field, op, value), nil
}

// normalizeValue converts json.Number into int64 or float64, recursively
func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v
}

// toList returns the items of any slice value
func toList(v any) ([]any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		return true
	}
	return false
}
