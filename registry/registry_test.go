package registry

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/events"
	"github.com/c360/mapgate/filter"
	"github.com/c360/mapgate/mapping"
	"github.com/c360/mapgate/platform"
	"github.com/c360/mapgate/resolver"
)

// memoryStore is an in-memory platform.ConfigStore.
type memoryStore struct {
	mu          sync.Mutex
	mappings    map[string]map[string]*mapping.Mapping // tenant -> id -> mapping
	deployments map[string]map[string][]string
	configs     map[string]config.ServiceConfiguration
	saveErr     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		mappings:    make(map[string]map[string]*mapping.Mapping),
		deployments: make(map[string]map[string][]string),
		configs:     make(map[string]config.ServiceConfiguration),
	}
}

func (s *memoryStore) LoadMappings(_ context.Context, tenant string, direction mapping.Direction) ([]*mapping.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*mapping.Mapping
	for _, m := range s.mappings[tenant] {
		if m.Direction == direction {
			result = append(result, m.Clone())
		}
	}
	return result, nil
}

func (s *memoryStore) SaveMapping(_ context.Context, tenant string, m *mapping.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.mappings[tenant] == nil {
		s.mappings[tenant] = make(map[string]*mapping.Mapping)
	}
	s.mappings[tenant][m.ID] = m.Clone()
	return nil
}

func (s *memoryStore) DeleteMapping(_ context.Context, tenant, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings[tenant], id)
	return nil
}

func (s *memoryStore) LoadServiceConfiguration(_ context.Context, tenant string) (platform.Lookup[config.ServiceConfiguration], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[tenant]; ok {
		return platform.Found(cfg), nil
	}
	return platform.NotFound[config.ServiceConfiguration](), nil
}

func (s *memoryStore) SaveServiceConfiguration(_ context.Context, tenant string, cfg config.ServiceConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[tenant] = cfg
	return nil
}

func (s *memoryStore) DeleteServiceConfiguration(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, tenant)
	return nil
}

func (s *memoryStore) LoadDeploymentMap(_ context.Context, tenant string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deployments[tenant], nil
}

func (s *memoryStore) SaveDeploymentMap(_ context.Context, tenant string, deployments map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[tenant] = deployments
	return nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturingPublisher) byType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var result []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

type registryFixture struct {
	registry  *Registry
	store     *memoryStore
	inbound   *resolver.Inbound
	outbound  *resolver.Outbound
	publisher *capturingPublisher
}

func newFixture(t *testing.T) *registryFixture {
	t.Helper()
	logger := slog.Default()
	store := newMemoryStore()
	inbound := resolver.NewInbound(logger, nil)
	outbound := resolver.NewOutbound(filter.NewExpressionEvaluator(), nil, logger, nil)
	publisher := &capturingPublisher{}

	r := New(store, inbound, outbound, publisher, logger, nil)
	require.NoError(t, r.InitTenant(context.Background(), "t1"))
	return &registryFixture{registry: r, store: store, inbound: inbound, outbound: outbound, publisher: publisher}
}

func newInbound(name, pattern string, active bool) *mapping.Mapping {
	return &mapping.Mapping{
		Name:         name,
		Direction:    mapping.DirectionInbound,
		TopicPattern: pattern,
		TargetAPI:    mapping.APIMeasurement,
		Active:       active,
	}
}

func TestCreateAssignsIDAndIndexes(t *testing.T) {
	f := newFixture(t)

	created, err := f.registry.CreateMapping(context.Background(), "t1", newInbound("temp", "device/+/temp", true))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.LastUpdate.IsZero())

	matches, err := f.inbound.Resolve("t1", "device/d1/temp")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, created.ID, matches[0].ID)

	// Persisted to the store.
	persisted, err := f.store.LoadMappings(context.Background(), "t1", mapping.DirectionInbound)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestCreateRejectsCollision(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.CreateMapping(context.Background(), "t1", newInbound("a", "device/+/temp", true))
	require.NoError(t, err)

	_, err = f.registry.CreateMapping(context.Background(), "t1", newInbound("b", "device/+/temp", false))
	require.Error(t, err)
	violations, ok := errors.AsValidationErrors(err)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestCreateRejectsSchemaViolations(t *testing.T) {
	f := newFixture(t)

	bad := newInbound("", "device/+/temp", false)
	_, err := f.registry.CreateMapping(context.Background(), "t1", bad)
	require.Error(t, err)
	_, ok := errors.AsValidationErrors(err)
	assert.True(t, ok)
}

func TestUpdateRequiresInactive(t *testing.T) {
	f := newFixture(t)

	created, err := f.registry.CreateMapping(context.Background(), "t1", newInbound("temp", "device/+/temp", true))
	require.NoError(t, err)

	created.Name = "renamed"
	_, err = f.registry.UpdateMapping(context.Background(), "t1", created)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMappingActive)

	require.NoError(t, f.registry.SetActive(context.Background(), "t1", created.ID, false))
	updated, err := f.registry.UpdateMapping(context.Background(), "t1", created)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
}

func TestDeleteRequiresInactive(t *testing.T) {
	f := newFixture(t)

	created, err := f.registry.CreateMapping(context.Background(), "t1", newInbound("temp", "device/temp", true))
	require.NoError(t, err)

	err = f.registry.DeleteMapping(context.Background(), "t1", created.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMappingActive)

	require.NoError(t, f.registry.SetActive(context.Background(), "t1", created.ID, false))
	require.NoError(t, f.registry.DeleteMapping(context.Background(), "t1", created.ID))

	_, err = f.registry.GetMapping("t1", created.ID)
	assert.ErrorIs(t, err, errors.ErrMappingNotFound)
}

func TestSetActiveResetsFailureStreak(t *testing.T) {
	f := newFixture(t)

	created, err := f.registry.CreateMapping(context.Background(), "t1", func() *mapping.Mapping {
		m := newInbound("flaky", "device/temp", true)
		m.MaxFailureCount = 5
		return m
	}())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		deactivated, err := f.registry.IncreaseAndHandleFailureCount(context.Background(), "t1", created)
		require.NoError(t, err)
		assert.False(t, deactivated)
	}

	require.NoError(t, f.registry.SetActive(context.Background(), "t1", created.ID, false))
	require.NoError(t, f.registry.SetActive(context.Background(), "t1", created.ID, true))

	statuses, err := f.registry.GetMappingStatus("t1")
	require.NoError(t, err)
	for _, s := range statuses {
		if s.ID == created.ID {
			assert.Zero(t, s.CurrentFailureCount)
		}
	}
}

func TestFailureCountAutoDeactivatesExactlyAtLimit(t *testing.T) {
	f := newFixture(t)

	m := newInbound("flaky", "device/temp", true)
	m.MaxFailureCount = 3
	created, err := f.registry.CreateMapping(context.Background(), "t1", m)
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		deactivated, err := f.registry.IncreaseAndHandleFailureCount(context.Background(), "t1", created)
		require.NoError(t, err)
		assert.False(t, deactivated, "must not deactivate before the limit")
	}

	deactivated, err := f.registry.IncreaseAndHandleFailureCount(context.Background(), "t1", created)
	require.NoError(t, err)
	assert.True(t, deactivated, "must deactivate exactly at the limit")

	got, err := f.registry.GetMapping("t1", created.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	// Deactivation event published.
	assert.Len(t, f.publisher.byType(events.TypeMappingDeactivated), 1)

	// No longer resolvable.
	matches, err := f.inbound.Resolve("t1", "device/temp")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFailureCountZeroNeverDeactivates(t *testing.T) {
	f := newFixture(t)

	created, err := f.registry.CreateMapping(context.Background(), "t1", newInbound("sturdy", "device/temp", true))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		deactivated, err := f.registry.IncreaseAndHandleFailureCount(context.Background(), "t1", created)
		require.NoError(t, err)
		assert.False(t, deactivated)
	}

	got, err := f.registry.GetMapping("t1", created.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestOutboundLifecycleThroughRegistry(t *testing.T) {
	f := newFixture(t)

	m := &mapping.Mapping{
		Name:             "export-temp",
		Direction:        mapping.DirectionOutbound,
		PublishTopic:     "export/temperature",
		FilterExpression: "type == 'c8y_TemperatureEvent'",
		TargetAPI:        mapping.APIEvent,
		Active:           true,
	}
	created, err := f.registry.CreateMapping(context.Background(), "t1", m)
	require.NoError(t, err)

	event := &resolver.Event{
		API:     mapping.APIEvent,
		Payload: map[string]any{"type": "c8y_TemperatureEvent"},
	}
	matches, err := f.outbound.Resolve(context.Background(), "t1", event)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, created.ID, matches[0].ID)

	// Deactivate, delete, resolve empty.
	require.NoError(t, f.registry.SetActive(context.Background(), "t1", created.ID, false))
	matches, err = f.outbound.Resolve(context.Background(), "t1", event)
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, f.registry.DeleteMapping(context.Background(), "t1", created.ID))
	matches, err = f.outbound.Resolve(context.Background(), "t1", event)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSetFilterRequiresExpression(t *testing.T) {
	f := newFixture(t)

	m := &mapping.Mapping{
		Name:             "export",
		Direction:        mapping.DirectionOutbound,
		PublishTopic:     "export/x",
		FilterExpression: "type == 'a'",
		TargetAPI:        mapping.APIEvent,
	}
	created, err := f.registry.CreateMapping(context.Background(), "t1", m)
	require.NoError(t, err)

	err = f.registry.SetFilter(context.Background(), "t1", created.ID, "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingFilter)

	require.NoError(t, f.registry.SetFilter(context.Background(), "t1", created.ID, "type == 'b'", ""))
	got, err := f.registry.GetMapping("t1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "type == 'b'", got.FilterExpression)
}

func TestRebuildInboundCacheFromStore(t *testing.T) {
	f := newFixture(t)

	seeded := newInbound("seeded", "plant/+/flow", true)
	seeded.ID = "seeded-1"
	require.NoError(t, f.store.SaveMapping(context.Background(), "t1", seeded))

	require.NoError(t, f.registry.RebuildInboundCache(context.Background(), "t1"))

	matches, err := f.inbound.Resolve("t1", "plant/p1/flow")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "seeded-1", matches[0].ID)
}

func TestDeploymentMapRoundTrip(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.registry.UpdateDeployment(context.Background(), "t1", "m1", []string{"mqtt-a", "kafka-b"}))

	connectors, err := f.registry.GetDeployment("t1", "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mqtt-a", "kafka-b"}, connectors)

	require.NoError(t, f.registry.RemoveConnectorFromDeploymentMap(context.Background(), "t1", "mqtt-a"))
	connectors, err = f.registry.GetDeployment("t1", "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-b"}, connectors)

	// Persisted form matches.
	assert.Equal(t, []string{"kafka-b"}, f.store.deployments["t1"]["m1"])
}

func TestDirtyMappingsCleaned(t *testing.T) {
	f := newFixture(t)

	m := newInbound("snoopy", "device/temp", false)
	m.SnoopStatus = mapping.SnoopEnabled
	created, err := f.registry.CreateMapping(context.Background(), "t1", m)
	require.NoError(t, err)

	require.NoError(t, f.registry.AddSnoopedTemplate("t1", created.ID, `{"t": 1}`))
	require.NoError(t, f.registry.CleanDirtyMappings(context.Background(), "t1"))

	persisted := f.store.mappings["t1"][created.ID]
	require.NotNil(t, persisted)
	assert.Equal(t, []string{`{"t": 1}`}, persisted.SnoopedTemplates)
	assert.Equal(t, mapping.SnoopStarted, persisted.SnoopStatus)
}

func TestUnsubscribedTenantOperationsFail(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.CreateMapping(context.Background(), "ghost", newInbound("x", "a/b", false))
	assert.ErrorIs(t, err, errors.ErrTenantNotSubscribed)

	_, err = f.registry.GetMappingStatus("ghost")
	assert.ErrorIs(t, err, errors.ErrTenantNotSubscribed)
}
