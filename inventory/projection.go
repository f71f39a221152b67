package inventory

import (
	"strings"

	"github.com/c360/mapgate/filter"
	"github.com/c360/mapgate/platform"
)

// Envelope fragments always projected, independent of tenant configuration.
const (
	FragmentID    = "id"
	FragmentName  = "name"
	FragmentOwner = "owner"
	FragmentType  = "type"
)

// Project builds the cached view of an inventory record: the envelope
// fragments plus each configured dotted path that resolves in the record's
// attribute document. Missing paths are silently omitted. Nesting is
// preserved so filter expressions address the projection with the same paths
// used to configure it.
func Project(record platform.ManagedObject, fragments []string) map[string]any {
	projection := make(map[string]any)

	if record.ID != "" {
		projection[FragmentID] = record.ID
	}
	if record.Name != "" {
		projection[FragmentName] = record.Name
	}
	if record.Owner != "" {
		projection[FragmentOwner] = record.Owner
	}
	if record.Type != "" {
		projection[FragmentType] = record.Type
	}

	for _, path := range fragments {
		switch path {
		case FragmentID, FragmentName, FragmentOwner, FragmentType:
			continue // already projected from the envelope
		}
		value, ok := filter.ResolveField(record.Attributes, path)
		if !ok {
			continue
		}
		setNested(projection, path, value)
	}
	return projection
}

// setNested writes a value at a dotted path, creating intermediate maps.
func setNested(target map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	for _, segment := range segments[:len(segments)-1] {
		child, ok := target[segment].(map[string]any)
		if !ok {
			child = make(map[string]any)
			target[segment] = child
		}
		target = child
	}
	target[segments[len(segments)-1]] = value
}
