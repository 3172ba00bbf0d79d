package services

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition is a single field/operator/value predicate. All conditions on an
// automation must hold for it to run; an empty list is vacuously true.
type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// Supported condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "notEquals"
	OpGreaterThan = "greaterThan"
	OpLessThan    = "lessThan"
	OpContains    = "contains"
)

// EvaluateConditions reports whether every condition holds against the merged
// event/entity context. It is total: malformed or unresolvable conditions
// evaluate to false, never to an error.
func EvaluateConditions(conds []Condition, attrs map[string]interface{}) bool {
	for _, cond := range conds {
		if !evaluateCondition(cond, attrs) {
			return false
		}
	}
	return true
}

func evaluateCondition(cond Condition, attrs map[string]interface{}) bool {
	val, ok := resolveField(cond.Field, attrs)
	if !ok {
		return false
	}

	switch cond.Operator {
	case OpEquals:
		return stringify(val) == stringify(cond.Value)
	case OpNotEquals:
		return stringify(val) != stringify(cond.Value)
	case OpGreaterThan:
		a, aok := toFloat(val)
		b, bok := toFloat(cond.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(val)
		b, bok := toFloat(cond.Value)
		return aok && bok && a < b
	case OpContains:
		return strings.Contains(stringify(val), stringify(cond.Value))
	default:
		return false
	}
}

// resolveField looks up a dotted path. Flat keys like "task.status" are tried
// first, then the path is walked through nested maps.
func resolveField(field string, attrs map[string]interface{}) (interface{}, bool) {
	if field == "" {
		return nil, false
	}
	if val, ok := attrs[field]; ok {
		return val, true
	}

	parts := strings.Split(field, ".")
	var current interface{} = attrs
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	// Normalize whole-number floats so JSON-decoded 3.0 compares equal to 3.
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
