package resolver

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/filter"
	"github.com/c360/mapgate/mapping"
)

type stubInventory struct {
	projections map[string]map[string]any
	err         error
}

func (s *stubInventory) Projection(_ context.Context, _, deviceID string) (map[string]any, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	projection, ok := s.projections[deviceID]
	return projection, ok, nil
}

func outboundMapping(id, filterExpr string, api mapping.API) *mapping.Mapping {
	return &mapping.Mapping{
		ID:               id,
		Name:             id,
		Direction:        mapping.DirectionOutbound,
		PublishTopic:     "out/" + id,
		FilterExpression: filterExpr,
		TargetAPI:        api,
		Active:           true,
	}
}

func newTestOutbound(t *testing.T, inventory InventoryProvider, mappings ...*mapping.Mapping) *Outbound {
	t.Helper()
	r := NewOutbound(filter.NewExpressionEvaluator(), inventory, slog.Default(), nil)
	r.InitTenant("t1")
	require.NoError(t, r.Rebuild("t1", mappings))
	return r
}

func temperatureEvent(sourceID string) *Event {
	return &Event{
		API: mapping.APIEvent,
		Payload: map[string]any{
			"type":   "c8y_TemperatureEvent",
			"source": map[string]any{"id": sourceID},
		},
	}
}

func TestOutboundResolveByFilter(t *testing.T) {
	r := newTestOutbound(t, nil,
		outboundMapping("temp", "type == 'c8y_TemperatureEvent'", mapping.APIEvent),
		outboundMapping("alarm", "type == 'c8y_Alarm'", mapping.APIEvent),
	)

	matches, err := r.Resolve(context.Background(), "t1", temperatureEvent("d1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"temp"}, matchIDs(matches))
}

func TestOutboundFilterKeyGrouping(t *testing.T) {
	// Two mappings sharing a filter key both match a truthy evaluation.
	r := newTestOutbound(t, nil,
		outboundMapping("a", "type == 'c8y_TemperatureEvent'", mapping.APIEvent),
		outboundMapping("b", "type == 'c8y_TemperatureEvent'", mapping.APIEvent),
	)

	matches, err := r.Resolve(context.Background(), "t1", temperatureEvent("d1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, matchIDs(matches))
}

func TestOutboundSkipsInactiveAndWrongAPI(t *testing.T) {
	inactive := outboundMapping("inactive", "type == 'c8y_TemperatureEvent'", mapping.APIEvent)
	inactive.Active = false
	r := newTestOutbound(t, nil,
		inactive,
		outboundMapping("alarm-api", "type == 'c8y_TemperatureEvent'", mapping.APIAlarm),
	)

	matches, err := r.Resolve(context.Background(), "t1", temperatureEvent("d1"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestOutboundEmptyFilterExcludedButReachableByID(t *testing.T) {
	noFilter := outboundMapping("nofilter", "", mapping.APIEvent)
	r := newTestOutbound(t, nil, noFilter)

	matches, err := r.Resolve(context.Background(), "t1", temperatureEvent("d1"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	got, ok := r.Get("t1", "nofilter")
	assert.True(t, ok)
	assert.Equal(t, "nofilter", got.ID)
}

func TestOutboundEvaluationErrorIsNoMatch(t *testing.T) {
	r := newTestOutbound(t, nil,
		outboundMapping("broken", "type ~~ 'x'", mapping.APIEvent),
	)

	matches, err := r.Resolve(context.Background(), "t1", temperatureEvent("d1"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestOutboundTruthyStrings(t *testing.T) {
	// A bare path expression matches through string truthiness.
	r := newTestOutbound(t, nil,
		outboundMapping("flag", "exportFlag", mapping.APIEvent),
	)

	event := &Event{API: mapping.APIEvent, Payload: map[string]any{"exportFlag": "Yes"}}
	matches, err := r.Resolve(context.Background(), "t1", event)
	require.NoError(t, err)
	assert.Equal(t, []string{"flag"}, matchIDs(matches))

	event.Payload["exportFlag"] = "no"
	matches, err = r.Resolve(context.Background(), "t1", event)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestOutboundInventoryFilter(t *testing.T) {
	m := outboundMapping("inv", "type == 'c8y_TemperatureEvent'", mapping.APIEvent)
	m.FilterInventory = "deviceClass == 'sensor'"

	inventory := &stubInventory{projections: map[string]map[string]any{
		"d-sensor": {"deviceClass": "sensor"},
		"d-other":  {"deviceClass": "gateway"},
	}}
	r := newTestOutbound(t, inventory, m)

	matches, err := r.Resolve(context.Background(), "t1", temperatureEvent("d-sensor"))
	require.NoError(t, err)
	assert.Equal(t, []string{"inv"}, matchIDs(matches))

	matches, err = r.Resolve(context.Background(), "t1", temperatureEvent("d-other"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	// No source id on the event: inventory predicate cannot hold.
	event := &Event{API: mapping.APIEvent, Payload: map[string]any{"type": "c8y_TemperatureEvent"}}
	matches, err = r.Resolve(context.Background(), "t1", event)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// Unknown device: no projection, no match.
	matches, err = r.Resolve(context.Background(), "t1", temperatureEvent("d-unknown"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestOutboundUnsubscribedTenant(t *testing.T) {
	r := NewOutbound(filter.NewExpressionEvaluator(), nil, slog.Default(), nil)
	_, err := r.Resolve(context.Background(), "ghost", temperatureEvent("d1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTenantNotSubscribed)
}
