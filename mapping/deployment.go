package mapping

import "sync"

// DeploymentMap records which connectors each mapping is deployed to for one
// tenant. The map is persisted by the external configuration store; this
// in-memory form is the working copy.
type DeploymentMap struct {
	mu      sync.RWMutex
	entries map[string][]string // mapping id -> connector identifiers
}

// NewDeploymentMap creates an empty deployment map.
func NewDeploymentMap() *DeploymentMap {
	return &DeploymentMap{entries: make(map[string][]string)}
}

// Update replaces the connector list of a mapping.
func (d *DeploymentMap) Update(mappingID string, connectors []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[mappingID] = append([]string(nil), connectors...)
}

// Get returns the connectors a mapping is deployed to.
func (d *DeploymentMap) Get(mappingID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.entries[mappingID]...)
}

// RemoveMapping drops a mapping's entry entirely, used on mapping delete.
// Returns true if an entry existed.
func (d *DeploymentMap) RemoveMapping(mappingID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, existed := d.entries[mappingID]
	delete(d.entries, mappingID)
	return existed
}

// RemoveConnector prunes a connector from every entry, used when a connector
// is removed. Returns true if any entry changed.
func (d *DeploymentMap) RemoveConnector(connectorID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := false
	for mappingID, connectors := range d.entries {
		filtered := connectors[:0]
		for _, c := range connectors {
			if c != connectorID {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) != len(connectors) {
			d.entries[mappingID] = filtered
			changed = true
		}
	}
	return changed
}

// Snapshot returns a copy of the whole map for persistence or API exposure.
func (d *DeploymentMap) Snapshot() map[string][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make(map[string][]string, len(d.entries))
	for id, connectors := range d.entries {
		result[id] = append([]string(nil), connectors...)
	}
	return result
}
