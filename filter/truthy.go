package filter

import "strings"

// IsTruthy decides whether an evaluation result counts as a match. A boolean
// true matches, as do the strings "true", "1" and "yes" regardless of case.
// Everything else, including nil and non-zero numbers, does not match.
func IsTruthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}
