package shared

import (
	"strings"
)

// Operator enumerates the supported condition operators. Each operator is a
// distinct tagged case so a type mismatch fails the condition instead of
// silently passing.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Condition compares an attribute resolved by dotted-path lookup against a
// reference value.
type Condition struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Value     any      `json:"value"`
}

// EvaluateConditions reports whether every condition passes against the
// supplied context. An empty condition list is vacuously true.
func EvaluateConditions(conds []Condition, ctx map[string]any) bool {
	for _, cond := range conds {
		if !cond.Evaluate(ctx) {
			return false
		}
	}
	return true
}

// Evaluate applies the condition to the context. Missing attributes and type
// mismatches fail closed.
func (c Condition) Evaluate(ctx map[string]any) bool {
	actual, ok := LookupPath(ctx, c.Attribute)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpEquals:
		return equalValues(actual, c.Value)
	case OpNotEquals:
		return !equalValues(actual, c.Value)
	case OpContains:
		return containsValue(actual, c.Value)
	case OpIn:
		return inList(actual, c.Value)
	case OpNotIn:
		return !inList(actual, c.Value)
	case OpGreaterThan:
		a, aok := asFloat(actual)
		b, bok := asFloat(c.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := asFloat(actual)
		b, bok := asFloat(c.Value)
		return aok && bok && a < b
	default:
		return false
	}
}

// LookupPath resolves a dotted path (e.g. "principal.department") inside
// nested string-keyed maps.
func LookupPath(ctx map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current any = ctx
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equalValues(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func containsValue(actual, expected any) bool {
	switch v := actual.(type) {
	case string:
		s, ok := expected.(string)
		return ok && strings.Contains(v, s)
	case []any:
		for _, item := range v {
			if equalValues(item, expected) {
				return true
			}
		}
		return false
	case []string:
		s, ok := expected.(string)
		if !ok {
			return false
		}
		for _, item := range v {
			if item == s {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func inList(actual, expected any) bool {
	switch list := expected.(type) {
	case []any:
		for _, item := range list {
			if equalValues(actual, item) {
				return true
			}
		}
	case []string:
		s, ok := actual.(string)
		if !ok {
			return false
		}
		for _, item := range list {
			if item == s {
				return true
			}
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
