package connector

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/mapgate/mapping"
	"github.com/c360/mapgate/metric"
	"github.com/c360/mapgate/pkg/worker"
	"github.com/c360/mapgate/registry"
	"github.com/c360/mapgate/resolver"
)

// Processor transforms a resolved inbound message for one mapping. The
// concrete decoders and substitution engines live outside the gateway core.
type Processor interface {
	ProcessInbound(ctx context.Context, tenant string, m *mapping.Mapping, msg Message) error
}

// Dispatcher fans inbound messages out to resolution and processing on a
// bounded worker pool, so one slow tenant cannot stall a client's receive
// loop.
type Dispatcher struct {
	pool      *worker.Pool[Message]
	registry  *registry.Registry
	inbound   *resolver.Inbound
	processor Processor
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. metricsRegistry may be nil in tests.
func NewDispatcher(reg *registry.Registry, inbound *resolver.Inbound, processor Processor,
	poolSize, queueSize int, metricsRegistry *metric.MetricsRegistry, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		registry:  reg,
		inbound:   inbound,
		processor: processor,
		logger:    logger.With("component", "dispatcher"),
	}

	var opts []worker.Option[Message]
	if metricsRegistry != nil {
		opts = append(opts, worker.WithMetricsRegistry[Message](metricsRegistry, "mapgate_dispatch"))
	}
	d.pool = worker.NewPool(poolSize, queueSize, d.process, opts...)
	return d
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	return d.pool.Start(ctx)
}

// Stop drains and stops the worker pool.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	return d.pool.Stop(timeout)
}

// Dispatch enqueues a message. A full queue drops the message with a log
// line; transport clients must never block on dispatch.
func (d *Dispatcher) Dispatch(msg Message) {
	if err := d.pool.Submit(msg); err != nil {
		d.logger.Warn("dropping inbound message",
			"tenant", msg.Tenant, "connector", msg.ConnectorID, "topic", msg.Topic, "error", err)
	}
}

// process resolves one message and runs every matched mapping through the
// processor. Snooping mappings capture the payload instead of processing it.
// A processing failure feeds the mapping's failure streak.
func (d *Dispatcher) process(ctx context.Context, msg Message) error {
	matches, err := d.inbound.Resolve(msg.Tenant, msg.Topic)
	if err != nil {
		d.logger.Warn("inbound resolution failed",
			"tenant", msg.Tenant, "topic", msg.Topic, "error", err)
		return err
	}
	if len(matches) == 0 {
		d.registry.RecordUnmatched(msg.Tenant)
		d.logger.Debug("no mapping for topic", "tenant", msg.Tenant, "topic", msg.Topic)
		return nil
	}

	var firstErr error
	for _, m := range matches {
		d.registry.RecordReceived(msg.Tenant, m)

		if m.SnoopStatus == mapping.SnoopEnabled || m.SnoopStatus == mapping.SnoopStarted {
			d.snoop(msg, m)
			continue
		}

		if err := d.processor.ProcessInbound(ctx, msg.Tenant, m, msg); err != nil {
			d.logger.Warn("inbound processing failed",
				"tenant", msg.Tenant, "mapping", m.ID, "topic", msg.Topic, "error", err)
			if _, ferr := d.registry.IncreaseAndHandleFailureCount(ctx, msg.Tenant, m); ferr != nil {
				d.logger.Error("failure accounting failed",
					"tenant", msg.Tenant, "mapping", m.ID, "error", ferr)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// snoop records the payload as a template sample when it is valid JSON.
func (d *Dispatcher) snoop(msg Message, m *mapping.Mapping) {
	if !json.Valid(msg.Payload) {
		d.logger.Debug("skipping non-JSON snoop sample",
			"tenant", msg.Tenant, "mapping", m.ID, "topic", msg.Topic)
		return
	}
	if err := d.registry.AddSnoopedTemplate(msg.Tenant, m.ID, string(msg.Payload)); err != nil {
		d.logger.Warn("failed to record snooped template",
			"tenant", msg.Tenant, "mapping", m.ID, "error", err)
	}
}
