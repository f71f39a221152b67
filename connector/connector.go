// Package connector defines the transport connector boundary: clients that
// move raw messages between external brokers and the gateway, a per-tenant
// client registry, and the dispatcher that feeds received messages into
// inbound resolution.
package connector

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/errors"
)

// Connector types.
const (
	TypeMQTT    = "mqtt"
	TypeKafka   = "kafka"
	TypeWebhook = "webhook"
)

// Message is one raw inbound transport message.
type Message struct {
	Tenant      string
	ConnectorID string
	Topic       string
	Payload     []byte
}

// Handler receives messages from a connected client.
type Handler func(msg Message)

// Client is a transport connector. Connect is asynchronous: it returns a
// future channel that delivers exactly one value, nil on an established
// session or the terminal error, then closes. Bootstrap starts all
// connectors concurrently and waits on the futures.
type Client interface {
	ID() string
	Type() string
	Connect(ctx context.Context) <-chan error
	Publish(ctx context.Context, topic string, payload []byte) error
	Disconnect(ctx context.Context) error
}

// Factory builds a client from a tenant's connector configuration. The
// concrete constructors live in the transport subpackages; wiring them
// together happens at process startup.
type Factory func(tenant string, cfg config.ConnectorConfiguration, handler Handler, logger *slog.Logger) (Client, error)

// Registry tracks the connected clients of each tenant.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]map[string]Client
	logger  *slog.Logger
}

// NewRegistry creates an empty connector registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		clients: make(map[string]map[string]Client),
		logger:  logger.With("component", "connector-registry"),
	}
}

// Register adds a client for a tenant. Registering an id twice replaces the
// previous client without disconnecting it; callers unregister first.
func (r *Registry) Register(tenant string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[tenant] == nil {
		r.clients[tenant] = make(map[string]Client)
	}
	r.clients[tenant][client.ID()] = client
}

// Get returns a tenant's client by id.
func (r *Registry) Get(tenant, id string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[tenant][id]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNoConnection,
			"ConnectorRegistry", "Get", "no connector "+id+" for tenant "+tenant)
	}
	return client, nil
}

// All returns a tenant's clients.
func (r *Registry) All(tenant string) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Client, 0, len(r.clients[tenant]))
	for _, client := range r.clients[tenant] {
		result = append(result, client)
	}
	return result
}

// Unregister disconnects and removes one client.
func (r *Registry) Unregister(ctx context.Context, tenant, id string) error {
	r.mu.Lock()
	client, ok := r.clients[tenant][id]
	if ok {
		delete(r.clients[tenant], id)
	}
	r.mu.Unlock()

	if !ok {
		return errors.WrapInvalid(errors.ErrNoConnection,
			"ConnectorRegistry", "Unregister", "no connector "+id+" for tenant "+tenant)
	}
	return client.Disconnect(ctx)
}

// UnregisterAllForTenant disconnects and removes every client of a tenant.
// Disconnect failures are logged; removal happens regardless.
func (r *Registry) UnregisterAllForTenant(ctx context.Context, tenant string) {
	r.mu.Lock()
	clients := r.clients[tenant]
	delete(r.clients, tenant)
	r.mu.Unlock()

	for id, client := range clients {
		if err := client.Disconnect(ctx); err != nil {
			r.logger.Warn("failed to disconnect connector",
				"tenant", tenant, "connector", id, "error", err)
		}
	}
}
