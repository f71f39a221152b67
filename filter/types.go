// Package filter evaluates filter expressions against message payloads.
//
// Outbound mappings carry a filter expression that selects which platform
// events the mapping applies to, and optionally an inventory expression that
// restricts the mapping to devices whose cached inventory attributes satisfy
// it. The default evaluator understands dotted field paths and a small set of
// comparison operators; richer engines can be plugged in behind the Evaluator
// interface.
package filter

import "fmt"

// Evaluator resolves an expression against a decoded JSON payload. The
// returned value is interpreted through IsTruthy by callers that only need a
// match decision.
type Evaluator interface {
	Evaluate(expression string, payload map[string]any) (any, error)
}

// OperatorFunc implements a single comparison operator.
type OperatorFunc func(fieldValue, compareValue any) (bool, error)

// Supported operators of the default evaluator.
const (
	OpEqual            = "=="
	OpNotEqual         = "!="
	OpLessThan         = "<"
	OpLessThanEqual    = "<="
	OpGreaterThan      = ">"
	OpGreaterThanEqual = ">="
	OpContains         = "contains"
	OpStartsWith       = "startsWith"
	OpEndsWith         = "endsWith"
	OpRegexMatch       = "matches"
)

// EvaluationError describes a failed expression evaluation. Resolvers treat
// these as a non-match rather than a processing failure.
type EvaluationError struct {
	Expression string
	Field      string
	Operator   string
	Message    string
	Err        error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation error for field '%s' with operator '%s': %s: %v",
			e.Field, e.Operator, e.Message, e.Err)
	}
	return fmt.Sprintf("evaluation error for field '%s' with operator '%s': %s",
		e.Field, e.Operator, e.Message)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
