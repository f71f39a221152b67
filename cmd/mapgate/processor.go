package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/mapgate/connector"
	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/mapping"
)

// forwardProcessor hands resolved inbound messages to the downstream
// transformation pipeline over NATS. The gateway resolves which mappings
// apply; the substitution engine consuming mapgate.process.* owns the
// payload transformation itself.
type forwardProcessor struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func newForwardProcessor(conn *nats.Conn, logger *slog.Logger) *forwardProcessor {
	return &forwardProcessor{
		conn:   conn,
		logger: logger.With("component", "forward-processor"),
	}
}

// processEnvelope is the wire form handed to the transformation pipeline.
type processEnvelope struct {
	Tenant    string          `json:"tenant"`
	MappingID string          `json:"mappingId"`
	TargetAPI mapping.API     `json:"targetApi"`
	Connector string          `json:"connector"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// ProcessInbound implements connector.Processor.
func (p *forwardProcessor) ProcessInbound(_ context.Context, tenant string,
	m *mapping.Mapping, msg connector.Message) error {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(msg.Payload) {
		// Non-JSON transports (raw binary, CSV) travel as a JSON string.
		quoted, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return errors.WrapInvalid(err, "ForwardProcessor", "ProcessInbound", "encode payload")
		}
		payload = quoted
	}

	envelope := processEnvelope{
		Tenant:    tenant,
		MappingID: m.ID,
		TargetAPI: m.TargetAPI,
		Connector: msg.ConnectorID,
		Topic:     msg.Topic,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return errors.WrapInvalid(err, "ForwardProcessor", "ProcessInbound", "marshal envelope")
	}

	subject := processSubject(tenant, m.TargetAPI)
	if err := p.conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "ForwardProcessor", "ProcessInbound", "publish "+subject)
	}
	return nil
}

func processSubject(tenant string, api mapping.API) string {
	safe := strings.ReplaceAll(tenant, ".", "_")
	return "mapgate.process." + safe + "." + string(api)
}
