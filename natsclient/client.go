// Package natsclient manages the NATS connection used for operational
// events, the platform request/reply client and tenant lifecycle
// subscriptions.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/errors"
)

// Client wraps a NATS connection with lifecycle logging and reconnect
// handling configured from the process configuration.
type Client struct {
	cfg    config.NATSConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

// New creates a client; Connect establishes the connection.
func New(cfg config.NATSConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "natsclient"),
	}
}

// Connect dials the configured server. The initial dial is retried by the
// NATS client itself via RetryOnFailedConnect, so a gateway started before
// its broker still comes up.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.logger.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.logger.Info("nats connection closed")
		}),
	}
	if c.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}
	if c.cfg.Token != "" {
		opts = append(opts, nats.Token(c.cfg.Token))
	}

	conn, err := nats.Connect(c.cfg.URL, opts...)
	if err != nil {
		return errors.WrapTransient(err, "NATSClient", "Connect", "dial "+c.cfg.URL)
	}

	// Wait for the connection to actually come up so the caller fails fast
	// on a misconfigured URL instead of queueing into the void.
	deadline := time.Now().Add(10 * time.Second)
	for !conn.IsConnected() {
		select {
		case <-ctx.Done():
			conn.Close()
			return errors.WrapTransient(ctx.Err(), "NATSClient", "Connect", "wait for connection")
		case <-time.After(100 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			conn.Close()
			return errors.WrapTransient(errors.ErrConnectionTimeout,
				"NATSClient", "Connect", "server "+c.cfg.URL+" not reachable")
		}
	}

	c.conn = conn
	c.logger.Info("nats connected", "url", conn.ConnectedUrl())
	return nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() (*nats.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection,
			"NATSClient", "Conn", "not connected")
	}
	return c.conn, nil
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		conn.Close()
	}
}
