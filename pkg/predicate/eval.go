package predicate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Evaluate reports whether a record, keyed by field name, satisfies the tree
func Evaluate(n *Node, record map[string]any) (bool, error) {
	if n == nil {
		return false, nil
	}

	switch n.Kind {
	case KindTrue:
		return true, nil
	case KindFalse:
		return false, nil
	case KindAnd:
		for _, child := range n.Children {
			ok, err := Evaluate(child, record)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case KindOr:
		for _, child := range n.Children {
			ok, err := Evaluate(child, record)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case KindNot:
		if len(n.Children) != 1 {
			return false, fmt.Errorf("not node requires exactly one child, got %d", len(n.Children))
		}
		ok, err := Evaluate(n.Children[0], record)
		return !ok, err
	case KindCompare:
		return evaluateCompare(n, record[n.Field])
	}

	return false, fmt.Errorf("unknown predicate kind %q", n.Kind)
}

func evaluateCompare(n *Node, actual any) (bool, error) {
	switch n.Op {
	case OpEq:
		return equal(actual, n.Value), nil
	case OpNe:
		return !equal(actual, n.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		if actual == nil {
			return false, nil
		}
		cmp, ok := compareValues(actual, n.Value)
		if !ok {
			return false, nil
		}
		switch n.Op {
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpIn, OpNotIn:
		list, ok := toList(n.Value)
		if !ok {
			return false, fmt.Errorf("operator %s on %s requires a list value", n.Op, n.Field)
		}
		found := false
		for _, v := range list {
			if equal(actual, v) {
				found = true
				break
			}
		}
		if n.Op == OpIn {
			return found, nil
		}
		return actual != nil && !found, nil
	case OpContains, OpStartsWith:
		if actual == nil {
			return false, nil
		}
		s, _ := asString(actual)
		needle, _ := asString(n.Value)
		if n.Op == OpContains {
			return strings.Contains(s, needle), nil
		}
		return strings.HasPrefix(s, needle), nil
	case OpIsNull:
		want, _ := n.Value.(bool)
		return (actual == nil) == want, nil
	}

	return false, fmt.Errorf("unknown operator %q", n.Op)
}

// equal reports whether a and b compare equal. Two strings are compared
// exactly; numbers compare numerically.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return false
}

// compareValues orders a and b. A string is read as a number only when the
// other side is a number; two strings never compare numerically.
func compareValues(a, b any) (int, bool) {
	if ta, ok := a.(time.Time); ok {
		tb, ok := asTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}

	na, numA := asNumber(a)
	nb, numB := asNumber(b)
	switch {
	case numA && numB:
		return na.compare(nb), true
	case numA:
		s, ok := b.(string)
		if !ok {
			return 0, false
		}
		if nb, ok = parseNumber(s); !ok {
			return 0, false
		}
		return na.compare(nb), true
	case numB:
		s, ok := a.(string)
		if !ok {
			return 0, false
		}
		if na, ok = parseNumber(s); !ok {
			return 0, false
		}
		return na.compare(nb), true
	}

	sa, okA := asString(a)
	sb, okB := asString(b)
	if !okA || !okB {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

// number keeps whole values as int64 so large IDs compare exactly
type number struct {
	i     int64
	f     float64
	isInt bool
}

func intNumber(i int64) number { return number{i: i, f: float64(i), isInt: true} }

func floatNumber(f float64) (number, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return number{}, false
	}
	return number{f: f}, true
}

func (n number) compare(o number) int {
	if n.isInt && o.isInt {
		switch {
		case n.i < o.i:
			return -1
		case n.i > o.i:
			return 1
		}
		return 0
	}
	switch {
	case n.f < o.f:
		return -1
	case n.f > o.f:
		return 1
	}
	return 0
}

func (n number) String() string {
	if n.isInt {
		return strconv.FormatInt(n.i, 10)
	}
	return strconv.FormatFloat(n.f, 'f', -1, 64)
}

// asNumber accepts Go number types and json.Number, never strings
func asNumber(v any) (number, bool) {
	switch val := v.(type) {
	case int:
		return intNumber(int64(val)), true
	case int8:
		return intNumber(int64(val)), true
	case int16:
		return intNumber(int64(val)), true
	case int32:
		return intNumber(int64(val)), true
	case int64:
		return intNumber(val), true
	case uint:
		return asNumber(uint64(val))
	case uint8:
		return intNumber(int64(val)), true
	case uint16:
		return intNumber(int64(val)), true
	case uint32:
		return intNumber(int64(val)), true
	case uint64:
		if val <= math.MaxInt64 {
			return intNumber(int64(val)), true
		}
		return floatNumber(float64(val))
	case float32:
		return floatNumber(float64(val))
	case float64:
		return floatNumber(val)
	case json.Number:
		return parseNumber(val.String())
	}
	return number{}, false
}

// parseNumber reads a decimal integer exactly, then falls back to a finite float
func parseNumber(s string) (number, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return intNumber(i), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return number{}, false
	}
	return floatNumber(f)
}

func asString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	case fmt.Stringer:
		return val.String(), true
	}
	if n, ok := asNumber(v); ok {
		return n.String(), true
	}
	return "", false
}

func asTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		return t, err == nil
	}
	return time.Time{}, false
}
