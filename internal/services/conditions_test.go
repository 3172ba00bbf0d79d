package services

import "testing"

func TestEvaluateCondition(t *testing.T) {
	attrs := map[string]interface{}{
		"task.status":      "In Progress",
		"task.priority":    "high",
		"task.storyPoints": float64(8),
		"task.labels":      "backend,urgent",
		"bug.severity":     "Critical",
		"nested": map[string]interface{}{
			"field": "value",
		},
	}

	tests := []struct {
		name     string
		cond     Condition
		expected bool
	}{
		{
			name:     "equals true",
			cond:     Condition{Field: "task.status", Operator: OpEquals, Value: "In Progress"},
			expected: true,
		},
		{
			name:     "equals false",
			cond:     Condition{Field: "task.status", Operator: OpEquals, Value: "Done"},
			expected: false,
		},
		{
			name:     "notEquals true",
			cond:     Condition{Field: "task.priority", Operator: OpNotEquals, Value: "low"},
			expected: true,
		},
		{
			name:     "greaterThan true",
			cond:     Condition{Field: "task.storyPoints", Operator: OpGreaterThan, Value: 5},
			expected: true,
		},
		{
			name:     "greaterThan false on equal values",
			cond:     Condition{Field: "task.storyPoints", Operator: OpGreaterThan, Value: 8},
			expected: false,
		},
		{
			name:     "lessThan with string number",
			cond:     Condition{Field: "task.storyPoints", Operator: OpLessThan, Value: "13"},
			expected: true,
		},
		{
			name:     "greaterThan non-numeric operand",
			cond:     Condition{Field: "task.priority", Operator: OpGreaterThan, Value: 1},
			expected: false,
		},
		{
			name:     "contains true",
			cond:     Condition{Field: "task.labels", Operator: OpContains, Value: "urgent"},
			expected: true,
		},
		{
			name:     "contains false",
			cond:     Condition{Field: "task.labels", Operator: OpContains, Value: "frontend"},
			expected: false,
		},
		{
			// JSON 解码出的 8.0 与整数 8 视为相等
			name:     "equals normalizes whole floats",
			cond:     Condition{Field: "task.storyPoints", Operator: OpEquals, Value: 8},
			expected: true,
		},
		{
			name:     "nested path walk",
			cond:     Condition{Field: "nested.field", Operator: OpEquals, Value: "value"},
			expected: true,
		},
		{
			// 缺失字段永远为 false，而不是报错
			name:     "missing field",
			cond:     Condition{Field: "task.missing", Operator: OpEquals, Value: "x"},
			expected: false,
		},
		{
			name:     "empty field name",
			cond:     Condition{Operator: OpEquals, Value: "x"},
			expected: false,
		},
		{
			name:     "unknown operator",
			cond:     Condition{Field: "task.status", Operator: "matches", Value: "In Progress"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluateCondition(tt.cond, attrs); got != tt.expected {
				t.Errorf("evaluateCondition() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestEvaluateConditions(t *testing.T) {
	attrs := map[string]interface{}{
		"task.status":   "Done",
		"task.priority": "high",
	}

	// 空条件列表恒为真
	if !EvaluateConditions(nil, attrs) {
		t.Error("empty condition list should evaluate to true")
	}

	all := []Condition{
		{Field: "task.status", Operator: OpEquals, Value: "Done"},
		{Field: "task.priority", Operator: OpEquals, Value: "high"},
	}
	if !EvaluateConditions(all, attrs) {
		t.Error("all conditions hold, expected true")
	}

	// AND 语义：任意一条不满足即为假
	mixed := []Condition{
		{Field: "task.status", Operator: OpEquals, Value: "Done"},
		{Field: "task.priority", Operator: OpEquals, Value: "low"},
	}
	if EvaluateConditions(mixed, attrs) {
		t.Error("one failing condition should make the list false")
	}
}
