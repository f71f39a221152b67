// Package webhook implements an HTTP transport connector: an ingest
// endpoint that accepts POSTed payloads as inbound messages, and outbound
// publishing as HTTP POSTs to a configured target.
package webhook

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/connector"
	"github.com/c360/mapgate/errors"
)

const (
	ingestPrefix   = "/ingest/"
	maxPayloadSize = 1 << 20 // 1 MiB
	publishTimeout = 10 * time.Second
)

// Client is a webhook connector. The path below /ingest/ becomes the
// message topic, so POST /ingest/device/d1/temp feeds topic
// "device/d1/temp" into resolution.
type Client struct {
	id      string
	tenant  string
	addr    string
	target  string
	handler connector.Handler
	server  *http.Server
	http    *http.Client
	logger  *slog.Logger
}

// New builds a webhook client from a connector configuration. Recognized
// props: listen (required for inbound, e.g. ":8087"), target (outbound POST
// base URL, optional).
func New(tenant string, cfg config.ConnectorConfiguration, handler connector.Handler,
	logger *slog.Logger) (*Client, error) {
	addr := cfg.Props["listen"]
	target := cfg.Props["target"]
	if addr == "" && target == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"WebhookClient", "New", "connector "+cfg.ID+" needs a listen or target prop")
	}

	return &Client{
		id:      cfg.ID,
		tenant:  tenant,
		addr:    addr,
		target:  strings.TrimRight(target, "/"),
		handler: handler,
		http:    &http.Client{Timeout: publishTimeout},
		logger:  logger.With("component", "webhook-connector", "connector", cfg.ID, "tenant", tenant),
	}, nil
}

// ID implements connector.Client.
func (c *Client) ID() string { return c.id }

// Type implements connector.Client.
func (c *Client) Type() string { return connector.TypeWebhook }

// Connect implements connector.Client. With a listen address the ingest
// server is started; the future resolves immediately after.
func (c *Client) Connect(context.Context) <-chan error {
	done := make(chan error, 1)
	if c.addr == "" {
		done <- nil
		close(done)
		return done
	}

	mux := http.NewServeMux()
	mux.HandleFunc(ingestPrefix, c.handleIngest)
	c.server = &http.Server{
		Addr:         c.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		defer close(done)
		ready := make(chan error, 1)
		go func() {
			err := c.server.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				ready <- err
			}
		}()
		// ListenAndServe fails fast on a bad address; give it that window.
		select {
		case err := <-ready:
			done <- errors.WrapTransient(err, "WebhookClient", "Connect", "listen "+c.addr)
		case <-time.After(100 * time.Millisecond):
			c.logger.Info("webhook ingest listening", "addr", c.addr)
			done <- nil
		}
	}()
	return done
}

func (c *Client) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	topic := strings.Trim(strings.TrimPrefix(r.URL.Path, ingestPrefix), "/")
	if topic == "" {
		http.Error(w, "missing topic path", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize))
	if err != nil {
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}

	c.handler(connector.Message{
		Tenant:      c.tenant,
		ConnectorID: c.id,
		Topic:       topic,
		Payload:     payload,
	})
	w.WriteHeader(http.StatusAccepted)
}

// Publish implements connector.Client by POSTing the payload to
// <target>/<topic>.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.target == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"WebhookClient", "Publish", "connector "+c.id+" has no target prop")
	}

	url := c.target + "/" + strings.TrimLeft(topic, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.WrapInvalid(err, "WebhookClient", "Publish", "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "WebhookClient", "Publish", "post "+url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return errors.WrapTransient(errors.ErrConnectionLost,
			"WebhookClient", "Publish", "unexpected status "+resp.Status)
	}
	return nil
}

// Disconnect implements connector.Client.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.server.Shutdown(shutdownCtx); err != nil {
		return errors.WrapTransient(err, "WebhookClient", "Disconnect", "server shutdown")
	}
	c.logger.Info("webhook connector stopped")
	return nil
}
