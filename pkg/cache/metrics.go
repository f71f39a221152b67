package cache

import (
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/mapgate/metric"
)

// cacheMetrics holds Prometheus metrics for cache operations. Tenant
// partitions created under the same prefix share one set of collectors, so
// registration is idempotent; recreating a partition (Clear with a new size)
// must not conflict with the collectors of the partition it replaces.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// newCacheMetrics creates and registers cache metrics with the provided registry.
func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mapgate",
			Subsystem:   "cache",
			Name:        "hits_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mapgate",
			Subsystem:   "cache",
			Name:        "misses_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of cache misses",
		}),
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mapgate",
			Subsystem:   "cache",
			Name:        "sets_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of cache set operations",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mapgate",
			Subsystem:   "cache",
			Name:        "deletes_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of cache delete operations",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mapgate",
			Subsystem:   "cache",
			Name:        "evictions_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of cache evictions",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mapgate",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of entries in cache",
		}),
	}

	promReg := registry.PrometheusRegistry()
	m.hits = registerOrReuseCounter(promReg, m.hits)
	m.misses = registerOrReuseCounter(promReg, m.misses)
	m.sets = registerOrReuseCounter(promReg, m.sets)
	m.deletes = registerOrReuseCounter(promReg, m.deletes)
	m.evictions = registerOrReuseCounter(promReg, m.evictions)
	m.size = registerOrReuseGauge(promReg, m.size)

	return m, nil
}

func registerOrReuseCounter(reg *prometheus.Registry, c prometheus.Counter) prometheus.Counter {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			return are.ExistingCollector.(prometheus.Counter)
		}
	}
	return c
}

func registerOrReuseGauge(reg *prometheus.Registry, g prometheus.Gauge) prometheus.Gauge {
	if err := reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			return are.ExistingCollector.(prometheus.Gauge)
		}
	}
	return g
}

func (m *cacheMetrics) recordHit()      { m.hits.Inc() }
func (m *cacheMetrics) recordMiss()     { m.misses.Inc() }
func (m *cacheMetrics) recordSet()      { m.sets.Inc() }
func (m *cacheMetrics) recordDelete()   { m.deletes.Inc() }
func (m *cacheMetrics) recordEviction() { m.evictions.Inc() }
func (m *cacheMetrics) updateSize(n int) {
	m.size.Set(float64(n))
}
