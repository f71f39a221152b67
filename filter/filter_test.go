package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() map[string]any {
	return map[string]any{
		"type": "c8y_TemperatureEvent",
		"source": map[string]any{
			"id": "12345",
		},
		"c8y_Temperature": map[string]any{
			"T": map[string]any{
				"value": 23.5,
				"unit":  "C",
			},
		},
		"tags":     []any{"alpha", "beta"},
		"exported": true,
	}
}

func TestResolveField(t *testing.T) {
	payload := testPayload()

	tests := []struct {
		name     string
		path     string
		expected any
		exists   bool
	}{
		{name: "top_level", path: "type", expected: "c8y_TemperatureEvent", exists: true},
		{name: "nested", path: "c8y_Temperature.T.value", expected: 23.5, exists: true},
		{name: "array_index", path: "tags.1", expected: "beta", exists: true},
		{name: "missing_leaf", path: "c8y_Temperature.T.missing", exists: false},
		{name: "missing_root", path: "nope", exists: false},
		{name: "index_out_of_range", path: "tags.7", exists: false},
		{name: "traverse_scalar", path: "type.deeper", exists: false},
		{name: "empty_path", path: "", exists: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, exists := ResolveField(payload, tt.path)
			assert.Equal(t, tt.exists, exists)
			if tt.exists {
				assert.Equal(t, tt.expected, value)
			}
		})
	}
}

func TestEvaluateComparisons(t *testing.T) {
	evaluator := NewExpressionEvaluator()
	payload := testPayload()

	tests := []struct {
		name       string
		expression string
		expected   any
	}{
		{name: "string_equal", expression: "type == 'c8y_TemperatureEvent'", expected: true},
		{name: "string_not_equal", expression: "type != 'c8y_AlarmEvent'", expected: true},
		{name: "numeric_less_than", expression: "c8y_Temperature.T.value < 30", expected: true},
		{name: "numeric_greater_equal", expression: "c8y_Temperature.T.value >= 23.5", expected: true},
		{name: "numeric_false", expression: "c8y_Temperature.T.value > 100", expected: false},
		{name: "contains", expression: "type contains 'Temperature'", expected: true},
		{name: "starts_with", expression: "type startsWith 'c8y_'", expected: true},
		{name: "ends_with", expression: "type endsWith 'Event'", expected: true},
		{name: "regex", expression: "source.id matches '^[0-9]+$'", expected: true},
		{name: "bool_equal", expression: "exported == true", expected: true},
		{name: "missing_field_is_false", expression: "missing.path == 'x'", expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(tt.expression, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluateBarePath(t *testing.T) {
	evaluator := NewExpressionEvaluator()
	payload := testPayload()

	result, err := evaluator.Evaluate("exported", payload)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = evaluator.Evaluate("source.id", payload)
	require.NoError(t, err)
	assert.Equal(t, "12345", result)

	result, err = evaluator.Evaluate("does.not.exist", payload)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestEvaluateErrors(t *testing.T) {
	evaluator := NewExpressionEvaluator()
	payload := testPayload()

	tests := []struct {
		name       string
		expression string
	}{
		{name: "empty", expression: ""},
		{name: "dangling_operator", expression: "type =="},
		{name: "unknown_operator", expression: "type ~~ 'x'"},
		{name: "bad_literal", expression: "type == unquoted"},
		{name: "numeric_op_on_string", expression: "type < 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evaluator.Evaluate(tt.expression, payload)
			require.Error(t, err)
			var evalErr *EvaluationError
			assert.ErrorAs(t, err, &evalErr)
		})
	}
}

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected bool
	}{
		{name: "bool_true", value: true, expected: true},
		{name: "bool_false", value: false, expected: false},
		{name: "string_true", value: "true", expected: true},
		{name: "string_true_mixed_case", value: "TrUe", expected: true},
		{name: "string_one", value: "1", expected: true},
		{name: "string_yes", value: "Yes", expected: true},
		{name: "string_no", value: "no", expected: false},
		{name: "string_empty", value: "", expected: false},
		{name: "number_nonzero", value: 1.0, expected: false},
		{name: "nil", value: nil, expected: false},
		{name: "object", value: map[string]any{"a": 1}, expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTruthy(tt.value))
		})
	}
}

func TestRegexComplexityGuard(t *testing.T) {
	_, err := compileRegex("((((((a))))))")
	require.Error(t, err)

	_, err = compileRegex("^device-[0-9]+$")
	require.NoError(t, err)
}
