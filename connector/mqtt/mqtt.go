// Package mqtt implements the MQTT transport connector on top of the
// Eclipse Paho client.
package mqtt

import (
	"context"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/connector"
	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/pkg/retry"
)

const (
	defaultQoS            = byte(1)
	defaultConnectTimeout = 10 * time.Second
)

// Client is an MQTT connector. Every subscribed message is handed to the
// dispatcher; publishing serves outbound mappings.
type Client struct {
	id     string
	tenant string
	broker string
	topics []string
	client pahomqtt.Client
	logger *slog.Logger
}

// New builds an MQTT client from a connector configuration. Recognized
// props: broker (required), clientId, username, password, topics
// (comma-separated subscription filters, default "#"), qos.
func New(tenant string, cfg config.ConnectorConfiguration, handler connector.Handler,
	logger *slog.Logger) (*Client, error) {
	broker := cfg.Props["broker"]
	if broker == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"MQTTClient", "New", "connector "+cfg.ID+" needs a broker prop")
	}

	topics := []string{"#"}
	if raw := cfg.Props["topics"]; raw != "" {
		topics = strings.Split(raw, ",")
	}

	c := &Client{
		id:     cfg.ID,
		tenant: tenant,
		broker: broker,
		topics: topics,
		logger: logger.With("component", "mqtt-connector", "connector", cfg.ID, "tenant", tenant),
	}

	clientID := cfg.Props["clientId"]
	if clientID == "" {
		clientID = "mapgate-" + tenant + "-" + cfg.ID
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetUsername(cfg.Props["username"]).
		SetPassword(cfg.Props["password"]).
		SetConnectTimeout(defaultConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		c.subscribe(client, handler)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	return c, nil
}

// ID implements connector.Client.
func (c *Client) ID() string { return c.id }

// Type implements connector.Client.
func (c *Client) Type() string { return connector.TypeMQTT }

// Connect implements connector.Client. The connection attempt is retried
// with backoff; the returned future delivers the terminal outcome.
func (c *Client) Connect(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := retry.Do(ctx, retry.Persistent(), func() error {
			token := c.client.Connect()
			if !token.WaitTimeout(defaultConnectTimeout) {
				return errors.ErrConnectionTimeout
			}
			return token.Error()
		})
		if err != nil {
			done <- errors.WrapTransient(err, "MQTTClient", "Connect", "broker "+c.broker)
			return
		}
		c.logger.Info("mqtt connector connected", "broker", c.broker)
		done <- nil
	}()
	return done
}

func (c *Client) subscribe(client pahomqtt.Client, handler connector.Handler) {
	for _, topic := range c.topics {
		topic := strings.TrimSpace(topic)
		token := client.Subscribe(topic, defaultQoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			handler(connector.Message{
				Tenant:      c.tenant,
				ConnectorID: c.id,
				Topic:       msg.Topic(),
				Payload:     msg.Payload(),
			})
		})
		if token.WaitTimeout(defaultConnectTimeout) && token.Error() != nil {
			c.logger.Error("mqtt subscription failed", "topic", topic, "error", token.Error())
		}
	}
}

// Publish implements connector.Client.
func (c *Client) Publish(_ context.Context, topic string, payload []byte) error {
	token := c.client.Publish(topic, defaultQoS, false, payload)
	if !token.WaitTimeout(defaultConnectTimeout) {
		return errors.WrapTransient(errors.ErrConnectionTimeout,
			"MQTTClient", "Publish", "topic "+topic)
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "MQTTClient", "Publish", "topic "+topic)
	}
	return nil
}

// Disconnect implements connector.Client.
func (c *Client) Disconnect(context.Context) error {
	c.client.Disconnect(250)
	c.logger.Info("mqtt connector disconnected")
	return nil
}
