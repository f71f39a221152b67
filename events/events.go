// Package events publishes operational events over NATS: mapping
// auto-deactivations, tenant lifecycle transitions, scheduled cache clears.
// Publishing is best-effort; a failed publish is logged and never fails the
// operation that produced the event.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Event types.
const (
	TypeMappingDeactivated = "mapping.deactivated"
	TypeMappingUpdated     = "mapping.updated"
	TypeMappingSuggested   = "mapping.suggested"
	TypeStatusChanged      = "tenant.status"
	TypeCacheCleared       = "cache.cleared"
	TypeConnectorStatus    = "connector.status"
)

// SubjectPrefix roots every event subject.
const SubjectPrefix = "mapgate.events"

// Event is one operational occurrence.
type Event struct {
	Tenant    string    `json:"tenant"`
	Type      string    `json:"type"`
	MappingID string    `json:"mappingId,omitempty"`
	Connector string    `json:"connector,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits operational events.
type Publisher interface {
	Publish(event Event)
}

// NATSPublisher publishes events as JSON messages on
// mapgate.events.<tenant>.<type>.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher creates a publisher on an established connection.
func NewNATSPublisher(conn *nats.Conn, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		logger: logger.With("component", "event-publisher"),
	}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	subject := Subject(event.Tenant, event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event",
			"subject", subject, "type", event.Type, "error", err)
	}
}

// Subject builds the NATS subject for a tenant event. Dots in the tenant
// identifier would split the subject, so they are replaced.
func Subject(tenant, eventType string) string {
	safe := strings.ReplaceAll(tenant, ".", "_")
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, safe, eventType)
}

// Noop discards all events; used in tests and when NATS is not configured.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(Event) {}
