// Package mapping defines the mapping rule model shared by the resolvers,
// the registry, and the tenant lifecycle orchestration.
package mapping

import (
	"time"
)

// Direction indicates which way a mapping transforms messages.
type Direction string

const (
	// DirectionInbound maps transport messages to platform records
	DirectionInbound Direction = "INBOUND"
	// DirectionOutbound maps platform events to transport messages
	DirectionOutbound Direction = "OUTBOUND"
)

// API identifies the downstream platform API a mapping targets.
type API string

const (
	APIMeasurement API = "MEASUREMENT"
	APIEvent       API = "EVENT"
	APIAlarm       API = "ALARM"
	APIInventory   API = "INVENTORY"
	APIOperation   API = "OPERATION"
)

// SnoopStatus tracks whether a mapping is collecting sample payloads instead
// of transforming them.
type SnoopStatus string

const (
	SnoopNone    SnoopStatus = "NONE"
	SnoopEnabled SnoopStatus = "ENABLED"
	SnoopStarted SnoopStatus = "STARTED"
	SnoopStopped SnoopStatus = "STOPPED"
)

// Mapping is a declarative transformation rule. A mapping is immutable once
// active: it must be deactivated before deletion or structural update.
type Mapping struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Direction Direction `json:"direction"`

	// TopicPattern is the wildcarded transport topic an inbound mapping
	// subscribes to ("+" single level, "#" multi level, final position only).
	TopicPattern string `json:"topicPattern,omitempty"`

	// PublishTopic is the topic template an outbound mapping publishes to.
	PublishTopic string `json:"publishTopic,omitempty"`

	// FilterExpression is the expression an outbound mapping is matched
	// with against the platform event payload. It doubles as the grouping
	// key of the outbound filter index.
	FilterExpression string `json:"filterExpression,omitempty"`

	// FilterInventory optionally restricts an outbound mapping to source
	// devices whose cached inventory projection satisfies the expression.
	FilterInventory string `json:"filterInventory,omitempty"`

	TargetAPI API `json:"targetAPI"`

	Active bool `json:"active"`
	Debug  bool `json:"debug"`

	// MaxFailureCount is the failure streak after which the mapping is
	// auto-deactivated. Zero disables auto-deactivation.
	MaxFailureCount int `json:"maxFailureCount"`

	SnoopStatus      SnoopStatus `json:"snoopStatus,omitempty"`
	SnoopedTemplates []string    `json:"snoopedTemplates,omitempty"`

	LastUpdate time.Time `json:"lastUpdate"`
}

// Clone returns a deep copy of the mapping so cached instances are never
// mutated through shared slices.
func (m *Mapping) Clone() *Mapping {
	if m == nil {
		return nil
	}
	clone := *m
	if m.SnoopedTemplates != nil {
		clone.SnoopedTemplates = append([]string(nil), m.SnoopedTemplates...)
	}
	return &clone
}

// ResolvePattern returns the topic pattern used for resolver indexing.
func (m *Mapping) ResolvePattern() string {
	if m.Direction == DirectionOutbound {
		return m.PublishTopic
	}
	return m.TopicPattern
}
