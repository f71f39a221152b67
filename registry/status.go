package registry

import (
	"context"

	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/events"
	"github.com/c360/mapgate/mapping"
)

// GetMappingStatus returns a snapshot of every status the tenant tracks,
// including the bucket for messages that matched no mapping.
func (r *Registry) GetMappingStatus(tenant string) ([]*mapping.Status, error) {
	state, err := r.state(tenant)
	if err != nil {
		return nil, err
	}
	return state.status.All(), nil
}

// RecordReceived counts a message routed to a mapping.
func (r *Registry) RecordReceived(tenant string, m *mapping.Mapping) {
	state, err := r.state(tenant)
	if err != nil {
		return
	}
	state.status.RecordReceived(m)
}

// RecordUnmatched counts a message that matched no mapping.
func (r *Registry) RecordUnmatched(tenant string) {
	state, err := r.state(tenant)
	if err != nil {
		return
	}
	status := state.status.Unspecified()
	state.status.RecordReceived(&mapping.Mapping{ID: status.ID, Name: status.Name})
}

// IncreaseAndHandleFailureCount bumps a mapping's failure streak and
// deactivates the mapping the moment the streak reaches its configured
// limit. A limit of zero never deactivates. Returns whether the mapping was
// deactivated.
func (r *Registry) IncreaseAndHandleFailureCount(ctx context.Context, tenant string, m *mapping.Mapping) (bool, error) {
	state, err := r.state(tenant)
	if err != nil {
		return false, err
	}

	streak := state.status.IncrementFailure(m)
	if r.metrics != nil {
		r.metrics.MappingFailures.WithLabelValues(tenant).Inc()
	}
	r.logger.Debug("mapping failure recorded",
		"tenant", tenant, "mapping", m.ID, "streak", streak, "limit", m.MaxFailureCount)

	if m.MaxFailureCount <= 0 || streak != int64(m.MaxFailureCount) {
		return false, nil
	}

	state.mu.Lock()
	err = r.setActiveLocked(ctx, tenant, state, m.ID, false)
	state.mu.Unlock()
	if err != nil {
		return false, errors.Wrap(err, "Registry", "IncreaseAndHandleFailureCount", "auto-deactivation")
	}

	if r.metrics != nil {
		r.metrics.MappingsDeactivated.WithLabelValues(tenant).Inc()
	}
	r.publisher.Publish(events.Event{
		Tenant:    tenant,
		Type:      events.TypeMappingDeactivated,
		MappingID: m.ID,
		Detail:    "failure limit reached",
	})
	r.logger.Warn("mapping auto-deactivated after repeated failures",
		"tenant", tenant, "mapping", m.ID, "limit", m.MaxFailureCount)
	return true, nil
}

// UpdateDeployment replaces the connector list of a mapping and persists the
// deployment map.
func (r *Registry) UpdateDeployment(ctx context.Context, tenant, mappingID string, connectors []string) error {
	state, err := r.state(tenant)
	if err != nil {
		return err
	}

	state.deployment.Update(mappingID, connectors)
	if err := r.store.SaveDeploymentMap(ctx, tenant, state.deployment.Snapshot()); err != nil {
		return errors.WrapTransient(err, "Registry", "UpdateDeployment", "failed to persist deployment map")
	}
	return nil
}

// GetDeployment returns the connectors a mapping is deployed to.
func (r *Registry) GetDeployment(tenant, mappingID string) ([]string, error) {
	state, err := r.state(tenant)
	if err != nil {
		return nil, err
	}
	return state.deployment.Get(mappingID), nil
}

// RemoveConnectorFromDeploymentMap prunes a removed connector from every
// mapping's deployment entry and persists the map when anything changed.
func (r *Registry) RemoveConnectorFromDeploymentMap(ctx context.Context, tenant, connectorID string) error {
	state, err := r.state(tenant)
	if err != nil {
		return err
	}

	if !state.deployment.RemoveConnector(connectorID) {
		return nil
	}
	if err := r.store.SaveDeploymentMap(ctx, tenant, state.deployment.Snapshot()); err != nil {
		return errors.WrapTransient(err, "Registry", "RemoveConnectorFromDeploymentMap",
			"failed to persist deployment map")
	}
	return nil
}

// MarkDirty remembers a mapping whose snooped templates changed in memory
// and still await persistence.
func (r *Registry) MarkDirty(tenant string, m *mapping.Mapping) {
	state, err := r.state(tenant)
	if err != nil {
		return
	}

	state.mu.Lock()
	state.dirty[m.ID] = m
	state.mu.Unlock()
}

// CleanDirtyMappings persists every dirty mapping and clears the set.
// Failures leave the mapping dirty for the next pass.
func (r *Registry) CleanDirtyMappings(ctx context.Context, tenant string) error {
	state, err := r.state(tenant)
	if err != nil {
		return err
	}

	state.mu.Lock()
	pending := make([]*mapping.Mapping, 0, len(state.dirty))
	for _, m := range state.dirty {
		pending = append(pending, m)
	}
	state.mu.Unlock()

	var firstErr error
	for _, m := range pending {
		if err := r.store.SaveMapping(ctx, tenant, m); err != nil {
			if firstErr == nil {
				firstErr = errors.WrapTransient(err, "Registry", "CleanDirtyMappings",
					"failed to persist dirty mapping "+m.ID)
			}
			continue
		}
		state.mu.Lock()
		delete(state.dirty, m.ID)
		state.mu.Unlock()
	}
	return firstErr
}

// AddSnoopedTemplate records a snooped payload on a snooping mapping and
// marks it dirty.
func (r *Registry) AddSnoopedTemplate(tenant, id string, payload string) error {
	state, err := r.state(tenant)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	m, ok := state.find(id)
	if !ok {
		return errors.WrapInvalid(errors.ErrMappingNotFound,
			"Registry", "AddSnoopedTemplate", "unknown mapping "+id)
	}
	if m.SnoopStatus != mapping.SnoopEnabled && m.SnoopStatus != mapping.SnoopStarted {
		return nil
	}

	updated := m.Clone()
	updated.SnoopedTemplates = append(updated.SnoopedTemplates, payload)
	updated.SnoopStatus = mapping.SnoopStarted
	state.byDirection(m.Direction)[id] = updated
	state.dirty[id] = updated
	return nil
}
