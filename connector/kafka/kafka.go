// Package kafka implements the Kafka transport connector with a Sarama
// consumer group for inbound messages and an async producer for outbound
// publishing.
package kafka

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/IBM/sarama"

	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/connector"
	"github.com/c360/mapgate/errors"
)

// Client is a Kafka connector.
type Client struct {
	id      string
	tenant  string
	brokers []string
	topics  []string
	group   string
	handler connector.Handler
	logger  *slog.Logger

	consumer sarama.ConsumerGroup
	producer sarama.AsyncProducer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Kafka client from a connector configuration. Recognized
// props: brokers (comma-separated, required), topics (comma-separated,
// required), group (defaults to mapgate-<tenant>).
func New(tenant string, cfg config.ConnectorConfiguration, handler connector.Handler,
	logger *slog.Logger) (*Client, error) {
	brokers := splitProp(cfg.Props["brokers"])
	if len(brokers) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"KafkaClient", "New", "connector "+cfg.ID+" needs a brokers prop")
	}
	topics := splitProp(cfg.Props["topics"])
	if len(topics) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"KafkaClient", "New", "connector "+cfg.ID+" needs a topics prop")
	}

	group := cfg.Props["group"]
	if group == "" {
		group = "mapgate-" + tenant
	}

	return &Client{
		id:      cfg.ID,
		tenant:  tenant,
		brokers: brokers,
		topics:  topics,
		group:   group,
		handler: handler,
		logger:  logger.With("component", "kafka-connector", "connector", cfg.ID, "tenant", tenant),
	}, nil
}

func splitProp(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ID implements connector.Client.
func (c *Client) ID() string { return c.id }

// Type implements connector.Client.
func (c *Client) Type() string { return connector.TypeKafka }

// Connect implements connector.Client. The future resolves once the
// consumer group and producer are created; the consume loop then runs until
// Disconnect.
func (c *Client) Connect(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)

		saramaCfg := sarama.NewConfig()
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
		saramaCfg.Producer.Return.Errors = true

		consumer, err := sarama.NewConsumerGroup(c.brokers, c.group, saramaCfg)
		if err != nil {
			done <- errors.WrapTransient(err, "KafkaClient", "Connect", "failed to create consumer group")
			return
		}
		producer, err := sarama.NewAsyncProducer(c.brokers, saramaCfg)
		if err != nil {
			_ = consumer.Close()
			done <- errors.WrapTransient(err, "KafkaClient", "Connect", "failed to create producer")
			return
		}
		c.consumer = consumer
		c.producer = producer

		loopCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel

		c.wg.Add(2)
		go c.consumeLoop(loopCtx)
		go c.drainProducerErrors()

		c.logger.Info("kafka connector connected", "brokers", c.brokers, "topics", c.topics)
		done <- nil
	}()
	return done
}

func (c *Client) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	handler := &groupHandler{client: c}
	for {
		if err := c.consumer.Consume(ctx, c.topics, handler); err != nil {
			c.logger.Warn("kafka consume pass ended", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Client) drainProducerErrors() {
	defer c.wg.Done()
	for err := range c.producer.Errors() {
		c.logger.Warn("kafka publish failed", "topic", err.Msg.Topic, "error", err.Err)
	}
}

// Publish implements connector.Client. Delivery is asynchronous; broker
// errors surface through the producer error drain.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.producer == nil {
		return errors.WrapInvalid(errors.ErrNoConnection,
			"KafkaClient", "Publish", "connector not connected")
	}
	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(payload)}
	select {
	case c.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "KafkaClient", "Publish", "topic "+topic)
	}
}

// Disconnect implements connector.Client.
func (c *Client) Disconnect(context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	var firstErr error
	if c.consumer != nil {
		if err := c.consumer.Close(); err != nil {
			firstErr = errors.WrapTransient(err, "KafkaClient", "Disconnect", "failed to close consumer")
		}
	}
	if c.producer != nil {
		if err := c.producer.Close(); err != nil && firstErr == nil {
			firstErr = errors.WrapTransient(err, "KafkaClient", "Disconnect", "failed to close producer")
		}
	}
	c.wg.Wait()
	c.logger.Info("kafka connector disconnected")
	return firstErr
}

// groupHandler adapts the Sarama consumer group callbacks to the gateway
// message handler. Kafka topic names use dots or dashes as separators; the
// resolver splits on "/", so topic names pass through unchanged and
// mappings address them as single-segment patterns.
type groupHandler struct {
	client *Client
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		h.client.handler(connector.Message{
			Tenant:      h.client.tenant,
			ConnectorID: h.client.id,
			Topic:       message.Topic,
			Payload:     message.Value,
		})
		session.MarkMessage(message, "")
	}
	return nil
}
