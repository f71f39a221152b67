package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// ExpressionEvaluator is the default Evaluator. An expression is either a
// bare dotted path, which evaluates to the addressed value, or a comparison
// of the form
//
//	<path> <operator> <literal>
//
// where the literal is a quoted string, a number, true, false or null.
// Missing fields make a comparison false without raising an error; bare
// paths resolve missing fields to nil.
type ExpressionEvaluator struct {
	operators map[string]OperatorFunc
}

// NewExpressionEvaluator creates an evaluator with all supported operators
// registered.
func NewExpressionEvaluator() *ExpressionEvaluator {
	e := &ExpressionEvaluator{operators: make(map[string]OperatorFunc)}

	e.operators[OpEqual] = operatorEqual
	e.operators[OpNotEqual] = operatorNotEqual
	e.operators[OpLessThan] = operatorLessThan
	e.operators[OpLessThanEqual] = operatorLessThanEqual
	e.operators[OpGreaterThan] = operatorGreaterThan
	e.operators[OpGreaterThanEqual] = operatorGreaterThanEqual

	e.operators[OpContains] = operatorContains
	e.operators[OpStartsWith] = operatorStartsWith
	e.operators[OpEndsWith] = operatorEndsWith
	e.operators[OpRegexMatch] = operatorRegex

	return e
}

// Evaluate implements Evaluator.
func (e *ExpressionEvaluator) Evaluate(expression string, payload map[string]any) (any, error) {
	parsed, err := parseExpression(expression)
	if err != nil {
		return nil, err
	}

	fieldValue, exists := ResolveField(payload, parsed.field)
	if parsed.bare {
		if !exists {
			return nil, nil
		}
		return fieldValue, nil
	}

	if !exists {
		return false, nil
	}

	opFunc, ok := e.operators[parsed.operator]
	if !ok {
		return nil, &EvaluationError{
			Expression: expression,
			Field:      parsed.field,
			Operator:   parsed.operator,
			Message:    "unsupported operator",
		}
	}

	result, err := opFunc(fieldValue, parsed.value)
	if err != nil {
		return nil, &EvaluationError{
			Expression: expression,
			Field:      parsed.field,
			Operator:   parsed.operator,
			Message:    "operator execution failed",
			Err:        err,
		}
	}
	return result, nil
}

type parsedExpression struct {
	field    string
	operator string
	value    any
	bare     bool
}

func parseExpression(expression string) (parsedExpression, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return parsedExpression{}, &EvaluationError{
			Expression: expression,
			Message:    "empty expression",
		}
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 1 {
		return parsedExpression{field: fields[0], bare: true}, nil
	}
	if len(fields) < 3 {
		return parsedExpression{}, &EvaluationError{
			Expression: expression,
			Message:    "expected '<path> <operator> <literal>'",
		}
	}

	literal, err := parseLiteral(strings.Join(fields[2:], " "))
	if err != nil {
		return parsedExpression{}, &EvaluationError{
			Expression: expression,
			Field:      fields[0],
			Operator:   fields[1],
			Message:    "invalid literal",
			Err:        err,
		}
	}
	return parsedExpression{field: fields[0], operator: fields[1], value: literal}, nil
}

func parseLiteral(text string) (any, error) {
	if len(text) >= 2 {
		first, last := text[0], text[len(text)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return text[1 : len(text)-1], nil
		}
	}
	switch text {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	if number, err := strconv.ParseFloat(text, 64); err == nil {
		return number, nil
	}
	return nil, fmt.Errorf("unrecognized literal: %s", text)
}

// toFloat coerces JSON numeric representations to float64 for comparison.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		number, err := strconv.ParseFloat(v, 64)
		return number, err == nil
	default:
		return 0, false
	}
}

func toString(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

func operatorEqual(fieldValue, compareValue any) (bool, error) {
	if fa, ok := toFloat(fieldValue); ok {
		if ca, ok := toFloat(compareValue); ok {
			return fa == ca, nil
		}
	}
	return fmt.Sprintf("%v", fieldValue) == fmt.Sprintf("%v", compareValue), nil
}

func operatorNotEqual(fieldValue, compareValue any) (bool, error) {
	equal, err := operatorEqual(fieldValue, compareValue)
	return !equal, err
}

func numericOperator(name string, compare func(a, b float64) bool) OperatorFunc {
	return func(fieldValue, compareValue any) (bool, error) {
		fa, ok := toFloat(fieldValue)
		if !ok {
			return false, fmt.Errorf("%s requires a numeric field, got %T", name, fieldValue)
		}
		ca, ok := toFloat(compareValue)
		if !ok {
			return false, fmt.Errorf("%s requires a numeric literal, got %T", name, compareValue)
		}
		return compare(fa, ca), nil
	}
}

var (
	operatorLessThan         = numericOperator(OpLessThan, func(a, b float64) bool { return a < b })
	operatorLessThanEqual    = numericOperator(OpLessThanEqual, func(a, b float64) bool { return a <= b })
	operatorGreaterThan      = numericOperator(OpGreaterThan, func(a, b float64) bool { return a > b })
	operatorGreaterThanEqual = numericOperator(OpGreaterThanEqual, func(a, b float64) bool { return a >= b })
)

func stringOperator(name string, compare func(field, literal string) bool) OperatorFunc {
	return func(fieldValue, compareValue any) (bool, error) {
		fs, ok := toString(fieldValue)
		if !ok {
			return false, fmt.Errorf("%s requires a string field, got %T", name, fieldValue)
		}
		cs, ok := toString(compareValue)
		if !ok {
			return false, fmt.Errorf("%s requires a string literal, got %T", name, compareValue)
		}
		return compare(fs, cs), nil
	}
}

var (
	operatorContains   = stringOperator(OpContains, strings.Contains)
	operatorStartsWith = stringOperator(OpStartsWith, strings.HasPrefix)
	operatorEndsWith   = stringOperator(OpEndsWith, strings.HasSuffix)
)

func operatorRegex(fieldValue, compareValue any) (bool, error) {
	fs, ok := toString(fieldValue)
	if !ok {
		return false, fmt.Errorf("%s requires a string field, got %T", OpRegexMatch, fieldValue)
	}
	pattern, ok := toString(compareValue)
	if !ok {
		return false, fmt.Errorf("%s requires a string pattern, got %T", OpRegexMatch, compareValue)
	}
	re, err := compileRegex(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(fs), nil
}
