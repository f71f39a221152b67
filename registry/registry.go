// Package registry is the authoritative per-tenant mapping store. It owns
// mapping CRUD and activation, keeps the inbound and outbound resolvers in
// step with every change, and tracks processing status, deployments and
// dirty snooping state.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/events"
	"github.com/c360/mapgate/mapping"
	"github.com/c360/mapgate/metric"
	"github.com/c360/mapgate/platform"
	"github.com/c360/mapgate/resolver"
)

// tenantState bundles everything the registry tracks for one tenant. The
// by-id maps are the authoritative in-memory store; the resolvers hold
// derived indices rebuilt or patched on every mutation.
type tenantState struct {
	mu         sync.RWMutex
	inbound    map[string]*mapping.Mapping
	outbound   map[string]*mapping.Mapping
	status     *mapping.StatusMap
	deployment *mapping.DeploymentMap
	dirty      map[string]*mapping.Mapping
}

func newTenantState() *tenantState {
	return &tenantState{
		inbound:    make(map[string]*mapping.Mapping),
		outbound:   make(map[string]*mapping.Mapping),
		status:     mapping.NewStatusMap(),
		deployment: mapping.NewDeploymentMap(),
		dirty:      make(map[string]*mapping.Mapping),
	}
}

func (s *tenantState) byDirection(direction mapping.Direction) map[string]*mapping.Mapping {
	if direction == mapping.DirectionOutbound {
		return s.outbound
	}
	return s.inbound
}

func (s *tenantState) find(id string) (*mapping.Mapping, bool) {
	if m, ok := s.inbound[id]; ok {
		return m, true
	}
	m, ok := s.outbound[id]
	return m, ok
}

func (s *tenantState) all() []*mapping.Mapping {
	result := make([]*mapping.Mapping, 0, len(s.inbound)+len(s.outbound))
	for _, m := range s.inbound {
		result = append(result, m)
	}
	for _, m := range s.outbound {
		result = append(result, m)
	}
	return result
}

// Registry manages mappings for all subscribed tenants.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*tenantState

	store     platform.ConfigStore
	inbound   *resolver.Inbound
	outbound  *resolver.Outbound
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// New creates a registry wired to its resolvers and the config store.
// metrics may be nil in tests.
func New(store platform.ConfigStore, inbound *resolver.Inbound, outbound *resolver.Outbound,
	publisher events.Publisher, logger *slog.Logger, metrics *metric.Metrics) *Registry {
	return &Registry{
		tenants:   make(map[string]*tenantState),
		store:     store,
		inbound:   inbound,
		outbound:  outbound,
		publisher: publisher,
		logger:    logger.With("component", "registry"),
		metrics:   metrics,
	}
}

// InitTenant creates the tenant's registry resources and resolver indices
// and loads the persisted deployment map. Mappings themselves are loaded by
// the rebuild operations.
func (r *Registry) InitTenant(ctx context.Context, tenant string) error {
	r.mu.Lock()
	if _, ok := r.tenants[tenant]; ok {
		r.mu.Unlock()
		return nil
	}
	state := newTenantState()
	r.tenants[tenant] = state
	r.mu.Unlock()

	r.inbound.InitTenant(tenant)
	r.outbound.InitTenant(tenant)

	deployments, err := r.store.LoadDeploymentMap(ctx, tenant)
	if err != nil {
		return errors.WrapTransient(err, "Registry", "InitTenant", "failed to load deployment map")
	}
	for id, connectors := range deployments {
		state.deployment.Update(id, connectors)
	}
	return nil
}

// ReleaseTenant drops the tenant's registry resources and resolver indices.
func (r *Registry) ReleaseTenant(tenant string) {
	r.mu.Lock()
	delete(r.tenants, tenant)
	r.mu.Unlock()

	r.inbound.ReleaseTenant(tenant)
	r.outbound.ReleaseTenant(tenant)
}

func (r *Registry) state(tenant string) (*tenantState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.tenants[tenant]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrTenantNotSubscribed,
			"Registry", "state", "no registry resources for tenant "+tenant)
	}
	return state, nil
}

// validate runs schema and semantic validation against the tenant's other
// mappings. The returned error is a ValidationErrors list when violations
// were found.
func (r *Registry) validate(state *tenantState, m *mapping.Mapping) error {
	document, err := json.Marshal(m)
	if err != nil {
		return errors.WrapInvalid(err, "Registry", "validate", "failed to marshal mapping")
	}
	violations, err := config.ValidateMappingJSON(document)
	if err != nil {
		return err
	}
	violations = append(violations, mapping.Validate(state.all(), m)...)
	if len(violations) > 0 {
		return violations
	}
	return nil
}

// CreateMapping validates and persists a new mapping, assigning an id when
// absent, and indexes it when created active.
func (r *Registry) CreateMapping(ctx context.Context, tenant string, m *mapping.Mapping) (*mapping.Mapping, error) {
	state, err := r.state(tenant)
	if err != nil {
		return nil, err
	}

	m = m.Clone()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.LastUpdate = time.Now().UTC()

	state.mu.Lock()
	defer state.mu.Unlock()

	if _, exists := state.find(m.ID); exists {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Registry", "CreateMapping", "mapping id already exists: "+m.ID)
	}
	if err := r.validate(state, m); err != nil {
		return nil, err
	}
	if err := r.store.SaveMapping(ctx, tenant, m); err != nil {
		return nil, errors.WrapTransient(err, "Registry", "CreateMapping", "failed to persist mapping")
	}

	state.byDirection(m.Direction)[m.ID] = m
	if err := r.index(tenant, state, m); err != nil {
		return nil, err
	}

	r.logger.Info("mapping created", "tenant", tenant, "mapping", m.ID, "direction", m.Direction)
	return m.Clone(), nil
}

// UpdateMapping replaces an existing, inactive mapping after validation.
func (r *Registry) UpdateMapping(ctx context.Context, tenant string, m *mapping.Mapping) (*mapping.Mapping, error) {
	state, err := r.state(tenant)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	current, ok := state.find(m.ID)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrMappingNotFound,
			"Registry", "UpdateMapping", "unknown mapping "+m.ID)
	}
	if current.Active {
		return nil, errors.WrapInvalid(errors.ErrMappingActive,
			"Registry", "UpdateMapping", "deactivate mapping before updating: "+m.ID)
	}

	m = m.Clone()
	m.LastUpdate = time.Now().UTC()
	if err := r.validate(state, m); err != nil {
		return nil, err
	}
	if err := r.store.SaveMapping(ctx, tenant, m); err != nil {
		return nil, errors.WrapTransient(err, "Registry", "UpdateMapping", "failed to persist mapping")
	}

	delete(state.byDirection(current.Direction), current.ID)
	state.byDirection(m.Direction)[m.ID] = m
	if err := r.index(tenant, state, m); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// DeleteMapping removes an inactive mapping from store, indices, status and
// deployment map.
func (r *Registry) DeleteMapping(ctx context.Context, tenant, id string) error {
	state, err := r.state(tenant)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	m, ok := state.find(id)
	if !ok {
		return errors.WrapInvalid(errors.ErrMappingNotFound,
			"Registry", "DeleteMapping", "unknown mapping "+id)
	}
	if m.Active {
		return errors.WrapInvalid(errors.ErrMappingActive,
			"Registry", "DeleteMapping", "deactivate mapping before deleting: "+id)
	}

	if err := r.store.DeleteMapping(ctx, tenant, id); err != nil {
		return errors.WrapTransient(err, "Registry", "DeleteMapping", "failed to delete mapping")
	}

	delete(state.byDirection(m.Direction), id)
	state.status.Remove(id)
	delete(state.dirty, id)
	if state.deployment.RemoveMapping(id) {
		if err := r.store.SaveDeploymentMap(ctx, tenant, state.deployment.Snapshot()); err != nil {
			r.logger.Warn("failed to persist deployment map after delete",
				"tenant", tenant, "mapping", id, "error", err)
		}
	}
	if err := r.unindex(tenant, state, m); err != nil {
		return err
	}

	r.logger.Info("mapping deleted", "tenant", tenant, "mapping", id)
	return nil
}

// GetMapping returns a copy of one mapping.
func (r *Registry) GetMapping(tenant, id string) (*mapping.Mapping, error) {
	state, err := r.state(tenant)
	if err != nil {
		return nil, err
	}

	state.mu.RLock()
	defer state.mu.RUnlock()
	m, ok := state.find(id)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrMappingNotFound,
			"Registry", "GetMapping", "unknown mapping "+id)
	}
	return m.Clone(), nil
}

// GetMappings returns copies of all mappings of a direction.
func (r *Registry) GetMappings(tenant string, direction mapping.Direction) ([]*mapping.Mapping, error) {
	state, err := r.state(tenant)
	if err != nil {
		return nil, err
	}

	state.mu.RLock()
	defer state.mu.RUnlock()
	source := state.byDirection(direction)
	result := make([]*mapping.Mapping, 0, len(source))
	for _, m := range source {
		result = append(result, m.Clone())
	}
	return result, nil
}

// SetActive activates or deactivates a mapping. Activation revalidates
// against the tenant's other mappings and resets the failure streak;
// deactivation skips validation so a broken mapping can always be turned
// off.
func (r *Registry) SetActive(ctx context.Context, tenant, id string, active bool) error {
	state, err := r.state(tenant)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return r.setActiveLocked(ctx, tenant, state, id, active)
}

func (r *Registry) setActiveLocked(ctx context.Context, tenant string, state *tenantState, id string, active bool) error {
	m, ok := state.find(id)
	if !ok {
		return errors.WrapInvalid(errors.ErrMappingNotFound,
			"Registry", "SetActive", "unknown mapping "+id)
	}
	if m.Active == active {
		return nil
	}

	if active {
		if err := r.validate(state, m); err != nil {
			return err
		}
	}

	updated := m.Clone()
	updated.Active = active
	updated.LastUpdate = time.Now().UTC()
	if err := r.store.SaveMapping(ctx, tenant, updated); err != nil {
		return errors.WrapTransient(err, "Registry", "SetActive", "failed to persist mapping")
	}
	state.byDirection(m.Direction)[id] = updated

	if active {
		state.status.ResetFailure(id)
		if err := r.index(tenant, state, updated); err != nil {
			return err
		}
	} else {
		if err := r.unindex(tenant, state, updated); err != nil {
			return err
		}
	}

	r.publisher.Publish(events.Event{
		Tenant:    tenant,
		Type:      events.TypeMappingUpdated,
		MappingID: id,
		Detail:    map[bool]string{true: "activated", false: "deactivated"}[active],
	})
	return nil
}

// SetFilter updates the filter expressions of an inactive outbound mapping.
func (r *Registry) SetFilter(ctx context.Context, tenant, id, filterExpression, filterInventory string) error {
	state, err := r.state(tenant)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	m, ok := state.outbound[id]
	if !ok {
		return errors.WrapInvalid(errors.ErrMappingNotFound,
			"Registry", "SetFilter", "unknown outbound mapping "+id)
	}
	if m.Active {
		return errors.WrapInvalid(errors.ErrMappingActive,
			"Registry", "SetFilter", "deactivate mapping before changing filters: "+id)
	}
	if filterExpression == "" {
		return errors.WrapInvalid(errors.ErrMissingFilter,
			"Registry", "SetFilter", "outbound mapping needs a filter expression")
	}

	updated := m.Clone()
	updated.FilterExpression = filterExpression
	updated.FilterInventory = filterInventory
	updated.LastUpdate = time.Now().UTC()
	if err := r.store.SaveMapping(ctx, tenant, updated); err != nil {
		return errors.WrapTransient(err, "Registry", "SetFilter", "failed to persist mapping")
	}

	state.outbound[id] = updated
	return r.rebuildOutboundLocked(tenant, state)
}

// index inserts a mapping into its direction's resolver. Inbound mappings
// are patched into the topic tree; the outbound index is rebuilt from the
// tenant's full outbound set since its grouping is global.
func (r *Registry) index(tenant string, state *tenantState, m *mapping.Mapping) error {
	if m.Direction == mapping.DirectionOutbound {
		return r.rebuildOutboundLocked(tenant, state)
	}
	if !m.Active {
		return nil
	}
	return r.inbound.AddMapping(tenant, m)
}

func (r *Registry) unindex(tenant string, state *tenantState, m *mapping.Mapping) error {
	if m.Direction == mapping.DirectionOutbound {
		return r.rebuildOutboundLocked(tenant, state)
	}
	err := r.inbound.DeleteMapping(tenant, m)
	if err != nil && errors.IsInvalid(err) {
		// Never indexed (created inactive); nothing to remove.
		return nil
	}
	return err
}

func (r *Registry) rebuildOutboundLocked(tenant string, state *tenantState) error {
	mappings := make([]*mapping.Mapping, 0, len(state.outbound))
	for _, m := range state.outbound {
		mappings = append(mappings, m)
	}
	return r.outbound.Rebuild(tenant, mappings)
}

// RebuildInboundCache reloads all inbound mappings from the config store and
// atomically replaces the in-memory store and the topic tree.
func (r *Registry) RebuildInboundCache(ctx context.Context, tenant string) error {
	state, err := r.state(tenant)
	if err != nil {
		return err
	}

	loaded, err := r.store.LoadMappings(ctx, tenant, mapping.DirectionInbound)
	if err != nil {
		return errors.WrapTransient(err, "Registry", "RebuildInboundCache", "failed to load mappings")
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.inbound = make(map[string]*mapping.Mapping, len(loaded))
	for _, m := range loaded {
		state.inbound[m.ID] = m
	}
	return r.inbound.RebuildAll(tenant, loaded)
}

// RebuildOutboundCache reloads all outbound mappings from the config store
// and atomically replaces the in-memory store and the filter index.
func (r *Registry) RebuildOutboundCache(ctx context.Context, tenant string) error {
	state, err := r.state(tenant)
	if err != nil {
		return err
	}

	loaded, err := r.store.LoadMappings(ctx, tenant, mapping.DirectionOutbound)
	if err != nil {
		return errors.WrapTransient(err, "Registry", "RebuildOutboundCache", "failed to load mappings")
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.outbound = make(map[string]*mapping.Mapping, len(loaded))
	for _, m := range loaded {
		state.outbound[m.ID] = m
	}
	return r.rebuildOutboundLocked(tenant, state)
}
