// Package platform defines the boundary to the device-management platform:
// collaborator interfaces for identity, inventory, notifications and
// configuration persistence, typed lookup results, and the admission gate
// that bounds concurrent downstream calls.
package platform

// DeviceIdentity is an external device identity as carried by transport
// messages, e.g. {Type: "c8y_Serial", Value: "dev-001"}.
type DeviceIdentity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// DeviceRef is the platform-global descriptor an external identity resolves
// to.
type DeviceRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// ManagedObject is a full device inventory record: the envelope attributes
// plus the free-form fragment document.
type ManagedObject struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Owner string `json:"owner,omitempty"`
	Type  string `json:"type,omitempty"`

	// Attributes holds the nested fragment document of the record.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Lookup is a typed lookup result. A miss is an expected outcome at this
// boundary, distinct from a call failure, so callers never have to inspect
// error types to tell the two apart.
type Lookup[T any] struct {
	value T
	found bool
}

// Found wraps a successful lookup.
func Found[T any](value T) Lookup[T] {
	return Lookup[T]{value: value, found: true}
}

// NotFound represents a miss.
func NotFound[T any]() Lookup[T] {
	return Lookup[T]{}
}

// Found reports whether the lookup hit.
func (l Lookup[T]) Found() bool {
	return l.found
}

// Value returns the looked-up value; meaningful only when Found reports true.
func (l Lookup[T]) Value() T {
	return l.value
}
