package cache

import (
	"github.com/c360/mapgate/metric"
)

// Option configures cache behavior using the functional options pattern.
type Option[K comparable, V any] func(*cacheOptions[K, V])

// cacheOptions holds internal configuration for cache instances.
// Stats are always collected; Prometheus metrics are optional.
type cacheOptions[K comparable, V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback[K, V]
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics[K comparable, V any](registry *metric.MetricsRegistry, prefix string) Option[K, V] {
	return func(opts *cacheOptions[K, V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback function that is called when items are
// evicted from the cache, either by LRU overflow or by Clear.
func WithEvictionCallback[K comparable, V any](callback EvictCallback[K, V]) Option[K, V] {
	return func(opts *cacheOptions[K, V]) {
		opts.evictCallback = callback
	}
}

// applyOptions applies functional options to create final cache configuration.
func applyOptions[K comparable, V any](options ...Option[K, V]) *cacheOptions[K, V] {
	opts := &cacheOptions[K, V]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
