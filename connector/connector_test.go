package connector

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/events"
	"github.com/c360/mapgate/filter"
	"github.com/c360/mapgate/mapping"
	"github.com/c360/mapgate/platform"
	"github.com/c360/mapgate/registry"
	"github.com/c360/mapgate/resolver"
)

// fakeClient implements Client with instant connect and disconnect counting.
type fakeClient struct {
	id          string
	mu          sync.Mutex
	disconnects int
	connectErr  error
}

func (f *fakeClient) ID() string   { return f.id }
func (f *fakeClient) Type() string { return TypeMQTT }

func (f *fakeClient) Connect(context.Context) <-chan error {
	done := make(chan error, 1)
	done <- f.connectErr
	close(done)
	return done
}

func (f *fakeClient) Publish(context.Context, string, []byte) error { return nil }

func (f *fakeClient) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeClient) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry(slog.Default())
	client := &fakeClient{id: "mqtt-1"}
	reg.Register("t1", client)

	got, err := reg.Get("t1", "mqtt-1")
	require.NoError(t, err)
	assert.Same(t, client, got)

	_, err = reg.Get("t1", "missing")
	assert.ErrorIs(t, err, errors.ErrNoConnection)
	_, err = reg.Get("t2", "mqtt-1")
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestRegistryUnregisterDisconnects(t *testing.T) {
	reg := NewRegistry(slog.Default())
	client := &fakeClient{id: "mqtt-1"}
	reg.Register("t1", client)

	require.NoError(t, reg.Unregister(context.Background(), "t1", "mqtt-1"))
	assert.Equal(t, 1, client.disconnectCount())

	err := reg.Unregister(context.Background(), "t1", "mqtt-1")
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestRegistryUnregisterAllForTenant(t *testing.T) {
	reg := NewRegistry(slog.Default())
	c1 := &fakeClient{id: "mqtt-1"}
	c2 := &fakeClient{id: "kafka-1"}
	reg.Register("t1", c1)
	reg.Register("t1", c2)
	other := &fakeClient{id: "mqtt-9"}
	reg.Register("t2", other)

	reg.UnregisterAllForTenant(context.Background(), "t1")

	assert.Equal(t, 1, c1.disconnectCount())
	assert.Equal(t, 1, c2.disconnectCount())
	assert.Empty(t, reg.All("t1"))
	assert.Equal(t, 0, other.disconnectCount())
	assert.Len(t, reg.All("t2"), 1)
}

// stubProcessor records processed messages and can fail on demand.
type stubProcessor struct {
	mu        sync.Mutex
	processed []Message
	failErr   error
	notify    chan struct{}
}

func newStubProcessor() *stubProcessor {
	return &stubProcessor{notify: make(chan struct{}, 64)}
}

func (p *stubProcessor) ProcessInbound(_ context.Context, _ string, _ *mapping.Mapping, msg Message) error {
	p.mu.Lock()
	p.processed = append(p.processed, msg)
	err := p.failErr
	p.mu.Unlock()
	p.notify <- struct{}{}
	return err
}

func (p *stubProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}

// memoryStore is a minimal in-memory platform.ConfigStore.
type memoryStore struct {
	mu       sync.Mutex
	mappings map[string]*mapping.Mapping
}

func newMemoryStore() *memoryStore {
	return &memoryStore{mappings: make(map[string]*mapping.Mapping)}
}

func (s *memoryStore) LoadMappings(_ context.Context, _ string, direction mapping.Direction) ([]*mapping.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*mapping.Mapping
	for _, m := range s.mappings {
		if m.Direction == direction {
			result = append(result, m.Clone())
		}
	}
	return result, nil
}

func (s *memoryStore) SaveMapping(_ context.Context, _ string, m *mapping.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[m.ID] = m.Clone()
	return nil
}

func (s *memoryStore) DeleteMapping(_ context.Context, _, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, id)
	return nil
}

func (s *memoryStore) LoadServiceConfiguration(context.Context, string) (platform.Lookup[config.ServiceConfiguration], error) {
	return platform.NotFound[config.ServiceConfiguration](), nil
}

func (s *memoryStore) SaveServiceConfiguration(context.Context, string, config.ServiceConfiguration) error {
	return nil
}

func (s *memoryStore) DeleteServiceConfiguration(context.Context, string) error { return nil }

func (s *memoryStore) LoadDeploymentMap(context.Context, string) (map[string][]string, error) {
	return nil, nil
}

func (s *memoryStore) SaveDeploymentMap(context.Context, string, map[string][]string) error {
	return nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	processor  *stubProcessor
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	logger := slog.Default()
	inbound := resolver.NewInbound(logger, nil)
	outbound := resolver.NewOutbound(filter.NewExpressionEvaluator(), nil, logger, nil)
	reg := registry.New(newMemoryStore(), inbound, outbound, events.Noop{}, logger, nil)
	require.NoError(t, reg.InitTenant(context.Background(), "t1"))

	processor := newStubProcessor()
	d := NewDispatcher(reg, inbound, processor, 2, 16, nil, logger)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop(time.Second) })

	return &dispatcherFixture{dispatcher: d, registry: reg, processor: processor}
}

func createMapping(t *testing.T, reg *registry.Registry, m *mapping.Mapping) *mapping.Mapping {
	t.Helper()
	created, err := reg.CreateMapping(context.Background(), "t1", m)
	require.NoError(t, err)
	require.NoError(t, reg.SetActive(context.Background(), "t1", created.ID, true))
	return created
}

func waitProcessed(t *testing.T, p *stubProcessor, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-p.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d processed messages, got %d", n, p.count())
		}
	}
}

func TestDispatchProcessesMatchedMessage(t *testing.T) {
	f := newDispatcherFixture(t)
	created := createMapping(t, f.registry, &mapping.Mapping{
		Name:         "temperature",
		Direction:    mapping.DirectionInbound,
		TopicPattern: "device/+/temp",
		TargetAPI:    mapping.APIMeasurement,
	})

	f.dispatcher.Dispatch(Message{Tenant: "t1", ConnectorID: "c1", Topic: "device/d7/temp", Payload: []byte(`{"v":21}`)})
	waitProcessed(t, f.processor, 1)

	statuses, err := f.registry.GetMappingStatus("t1")
	require.NoError(t, err)
	for _, st := range statuses {
		if st.ID == created.ID {
			assert.Equal(t, int64(1), st.MessagesReceived)
			return
		}
	}
	t.Fatalf("no status recorded for mapping %s", created.ID)
}

func TestDispatchUnmatchedCountsUnspecified(t *testing.T) {
	f := newDispatcherFixture(t)

	f.dispatcher.Dispatch(Message{Tenant: "t1", ConnectorID: "c1", Topic: "no/such/topic", Payload: []byte("{}")})

	assert.Eventually(t, func() bool {
		statuses, err := f.registry.GetMappingStatus("t1")
		if err != nil {
			return false
		}
		for _, st := range statuses {
			if st.ID == mapping.UnspecifiedMappingID && st.MessagesReceived == 1 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.processor.count())
}

func TestDispatchSnoopCapturesTemplate(t *testing.T) {
	f := newDispatcherFixture(t)
	created := createMapping(t, f.registry, &mapping.Mapping{
		Name:         "snooper",
		Direction:    mapping.DirectionInbound,
		TopicPattern: "device/+/event",
		TargetAPI:    mapping.APIEvent,
		SnoopStatus:  mapping.SnoopEnabled,
	})

	f.dispatcher.Dispatch(Message{Tenant: "t1", ConnectorID: "c1", Topic: "device/d1/event", Payload: []byte(`{"kind":"door"}`)})
	f.dispatcher.Dispatch(Message{Tenant: "t1", ConnectorID: "c1", Topic: "device/d1/event", Payload: []byte("not json")})

	assert.Eventually(t, func() bool {
		m, err := f.registry.GetMapping("t1", created.ID)
		return err == nil && len(m.SnoopedTemplates) == 1
	}, 2*time.Second, 10*time.Millisecond)

	m, err := f.registry.GetMapping("t1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"door"}`, m.SnoopedTemplates[0])
	assert.Equal(t, mapping.SnoopStarted, m.SnoopStatus)
	assert.Zero(t, f.processor.count(), "snooped messages must not reach the processor")
}

func TestDispatchFailureStreakDeactivates(t *testing.T) {
	f := newDispatcherFixture(t)
	created := createMapping(t, f.registry, &mapping.Mapping{
		Name:            "flaky",
		Direction:       mapping.DirectionInbound,
		TopicPattern:    "device/+/temp",
		TargetAPI:       mapping.APIMeasurement,
		MaxFailureCount: 2,
	})
	f.processor.failErr = assert.AnError

	f.dispatcher.Dispatch(Message{Tenant: "t1", ConnectorID: "c1", Topic: "device/d1/temp", Payload: []byte("{}")})
	waitProcessed(t, f.processor, 1)
	f.dispatcher.Dispatch(Message{Tenant: "t1", ConnectorID: "c1", Topic: "device/d1/temp", Payload: []byte("{}")})
	waitProcessed(t, f.processor, 1)

	assert.Eventually(t, func() bool {
		m, err := f.registry.GetMapping("t1", created.ID)
		return err == nil && !m.Active
	}, 2*time.Second, 10*time.Millisecond)

	matches, err := f.dispatcher.inbound.Resolve("t1", "device/d1/temp")
	require.NoError(t, err)
	assert.Empty(t, matches)
}
