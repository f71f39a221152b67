package filter

import (
	"strconv"
	"strings"
)

// ResolveField walks a dotted path into a decoded JSON document. Path
// segments traverse nested objects; a numeric segment indexes into an array.
// The second return reports whether the full path exists.
func ResolveField(payload map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}
