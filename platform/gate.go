package platform

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/metric"
)

// Gate bounds concurrent downstream platform calls with a weighted
// semaphore. Every identity or inventory call goes through Do, so a slow or
// rate-limited platform backs pressure up into the callers instead of
// piling up connections.
type Gate struct {
	sem       *semaphore.Weighted
	permits   int64
	available atomic.Int64
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// NewGate creates an admission gate with the given number of permits.
func NewGate(permits int64, registry *metric.MetricsRegistry, logger *slog.Logger) (*Gate, error) {
	if permits <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Gate", "NewGate", "permits must be positive")
	}

	g := &Gate{
		sem:     semaphore.NewWeighted(permits),
		permits: permits,
		logger:  logger.With("component", "gate"),
	}
	g.available.Store(permits)

	if registry != nil {
		g.metrics = registry.CoreMetrics()
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mapgate",
			Subsystem: "downstream",
			Name:      "available_connections",
			Help:      "Admission permits currently available for downstream platform calls",
		}, func() float64 {
			return float64(g.available.Load())
		})
		if err := registry.RegisterGaugeFunc("gate", "available_connections", gauge); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Permits returns the configured permit count.
func (g *Gate) Permits() int64 {
	return g.permits
}

// Available returns the permits not currently held.
func (g *Gate) Available() int64 {
	return g.available.Load()
}

// Do runs fn while holding one permit. Waiting honors ctx: cancellation
// while queued is surfaced as a transient error and never retried here. The
// permit is released even when fn panics.
func (g *Gate) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.logger.Warn("admission wait canceled",
			"operation", operation, "error", err)
		if g.metrics != nil {
			g.metrics.DownstreamErrors.WithLabelValues(operation).Inc()
		}
		return errors.WrapTransient(errors.ErrAdmissionDenied,
			"Gate", "Do", "canceled while waiting for permit: "+operation)
	}
	g.available.Add(-1)
	defer func() {
		g.available.Add(1)
		g.sem.Release(1)
	}()

	if g.metrics != nil {
		g.metrics.DownstreamCalls.WithLabelValues(operation).Inc()
	}

	if err := fn(ctx); err != nil {
		if g.metrics != nil {
			g.metrics.DownstreamErrors.WithLabelValues(operation).Inc()
		}
		return err
	}
	return nil
}
