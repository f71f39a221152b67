package mapping

import "sync"

// UnspecifiedMappingID is the implicit status bucket for messages that
// match no mapping.
const UnspecifiedMappingID = "#"

// Status holds the per-mapping processing counters. One Status exists per
// mapping identifier plus the implicit unspecified bucket; entries are
// created lazily on first observation.
type Status struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`

	MessagesReceived int64 `json:"messagesReceived"`
	Errors           int64 `json:"errors"`

	// CurrentFailureCount is the current uninterrupted failure streak.
	// Reset to zero on reactivation.
	CurrentFailureCount int64 `json:"currentFailureCount"`
}

// StatusMap tracks mapping statuses for one tenant.
type StatusMap struct {
	mu       sync.Mutex
	statuses map[string]*Status
}

// NewStatusMap creates a status map pre-seeded with the unspecified bucket.
func NewStatusMap() *StatusMap {
	sm := &StatusMap{statuses: make(map[string]*Status)}
	sm.statuses[UnspecifiedMappingID] = &Status{ID: UnspecifiedMappingID, Name: "Unspecified Mapping"}
	return sm
}

// GetOrCreate returns the status for a mapping, creating it lazily.
func (sm *StatusMap) GetOrCreate(m *Mapping) *Status {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	status, ok := sm.statuses[m.ID]
	if !ok {
		status = &Status{ID: m.ID, Name: m.Name, Direction: m.Direction}
		sm.statuses[m.ID] = status
	}
	return status
}

// Unspecified returns the bucket for messages matching no mapping.
func (sm *StatusMap) Unspecified() *Status {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.statuses[UnspecifiedMappingID]
}

// All returns a snapshot of every tracked status.
func (sm *StatusMap) All() []*Status {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	result := make([]*Status, 0, len(sm.statuses))
	for _, status := range sm.statuses {
		copied := *status
		result = append(result, &copied)
	}
	return result
}

// Remove drops the status for a deleted mapping.
func (sm *StatusMap) Remove(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.statuses, id)
}

// RecordReceived increments the received counter for a mapping.
func (sm *StatusMap) RecordReceived(m *Mapping) {
	status := sm.GetOrCreate(m)
	sm.mu.Lock()
	status.MessagesReceived++
	sm.mu.Unlock()
}

// RecordError increments the error counter for a mapping.
func (sm *StatusMap) RecordError(m *Mapping) {
	status := sm.GetOrCreate(m)
	sm.mu.Lock()
	status.Errors++
	sm.mu.Unlock()
}

// IncrementFailure bumps the failure streak and returns the new value.
func (sm *StatusMap) IncrementFailure(m *Mapping) int64 {
	status := sm.GetOrCreate(m)
	sm.mu.Lock()
	defer sm.mu.Unlock()
	status.CurrentFailureCount++
	status.Errors++
	return status.CurrentFailureCount
}

// ResetFailure clears the failure streak, used on reactivation.
func (sm *StatusMap) ResetFailure(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if status, ok := sm.statuses[id]; ok {
		status.CurrentFailureCount = 0
	}
}
