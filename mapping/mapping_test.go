package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTopicPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr string
	}{
		{"literal", "device/d1/temp", ""},
		{"single wildcard", "device/+/temp", ""},
		{"multi wildcard final", "device/#", ""},
		{"bare multi wildcard", "#", ""},
		{"surrounding separators trimmed", "/device/+/", ""},
		{"empty", "", "must not be empty"},
		{"multi wildcard midway", "device/#/temp", "final position"},
		{"embedded wildcard", "device/d+1/temp", "whole topic segment"},
		{"duplicate multi wildcard", "#/#", "final position"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateTopicPattern(tt.pattern)
			if tt.wantErr == "" {
				assert.Empty(t, result)
				return
			}
			require.NotEmpty(t, result)
			assert.Contains(t, result.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollision(t *testing.T) {
	existing := []*Mapping{
		{ID: "m1", Direction: DirectionInbound, TopicPattern: "fleet/+", TargetAPI: APIMeasurement},
	}

	collides := &Mapping{
		ID: "m2", Direction: DirectionInbound, TopicPattern: "/fleet/+/", TargetAPI: APIMeasurement,
	}
	result := Validate(existing, collides)
	require.NotEmpty(t, result)
	assert.Contains(t, result.Error(), "collides with mapping m1")

	// Same pattern in the other direction never collides.
	outbound := &Mapping{
		ID: "m3", Direction: DirectionOutbound, PublishTopic: "fleet/+", TargetAPI: APIEvent,
	}
	assert.Empty(t, Validate(existing, outbound))

	// Updating a mapping never collides with itself.
	self := existing[0].Clone()
	assert.Empty(t, Validate(existing, self))
}

func TestValidateOutbound(t *testing.T) {
	m := &Mapping{ID: "m1", Direction: DirectionOutbound, TargetAPI: APIEvent}
	result := Validate(nil, m)
	require.NotEmpty(t, result)
	assert.Contains(t, result.Error(), "publish topic")

	m.PublishTopic = "events/#"
	result = Validate(nil, m)
	require.NotEmpty(t, result)
	assert.Contains(t, result.Error(), "no multi-level wildcard")
}

func TestCloneIsolatesSnoopedTemplates(t *testing.T) {
	m := &Mapping{ID: "m1", SnoopedTemplates: []string{"a"}}
	clone := m.Clone()
	clone.SnoopedTemplates = append(clone.SnoopedTemplates, "b")

	assert.Equal(t, []string{"a"}, m.SnoopedTemplates)
	assert.Equal(t, []string{"a", "b"}, clone.SnoopedTemplates)
}

func TestStatusMapFailureStreak(t *testing.T) {
	sm := NewStatusMap()
	m := &Mapping{ID: "m1", Name: "one"}

	assert.Equal(t, int64(1), sm.IncrementFailure(m))
	assert.Equal(t, int64(2), sm.IncrementFailure(m))

	sm.ResetFailure("m1")
	assert.Equal(t, int64(1), sm.IncrementFailure(m))

	// Errors accumulate across resets.
	status := sm.GetOrCreate(m)
	assert.Equal(t, int64(3), status.Errors)
}

func TestStatusMapAllSnapshots(t *testing.T) {
	sm := NewStatusMap()
	sm.RecordReceived(&Mapping{ID: "m1", Name: "one"})

	snapshot := sm.All()
	require.Len(t, snapshot, 2) // m1 plus the unspecified bucket

	for _, status := range snapshot {
		status.MessagesReceived = 99
	}
	for _, status := range sm.All() {
		assert.NotEqual(t, int64(99), status.MessagesReceived)
	}
}

func TestDeploymentMap(t *testing.T) {
	d := NewDeploymentMap()
	d.Update("m1", []string{"mqtt-1", "kafka-1"})
	d.Update("m2", []string{"mqtt-1"})

	assert.Equal(t, []string{"mqtt-1", "kafka-1"}, d.Get("m1"))
	assert.Empty(t, d.Get("unknown"))

	assert.True(t, d.RemoveConnector("mqtt-1"))
	assert.Equal(t, []string{"kafka-1"}, d.Get("m1"))
	assert.Empty(t, d.Get("m2"))
	assert.False(t, d.RemoveConnector("mqtt-1"))

	assert.True(t, d.RemoveMapping("m1"))
	assert.False(t, d.RemoveMapping("m1"))

	snapshot := d.Snapshot()
	assert.NotContains(t, snapshot, "m1")
	assert.Contains(t, snapshot, "m2")
}
