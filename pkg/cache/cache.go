// Package cache provides generic, thread-safe bounded caches used to build
// the gateway's tenant-scoped caches.
//
// This package offers two layers:
//   - Bounded: a size-bounded LRU cache with an eviction callback hook
//   - Tenant: a tenant-partitioned collection of Bounded instances
//
// All cache implementations are thread-safe with built-in statistics and
// optional Prometheus metrics integration via functional options.
package cache

// Cache represents a generic bounded cache. The cache is parameterized by
// key type K and value type V for type safety.
type Cache[K comparable, V any] interface {
	// Get retrieves a value by key. Returns the value and true if found,
	// zero value and false otherwise.
	Get(key K) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry was
	// created, false if an existing entry was updated. If the insertion
	// exceeds the configured bound the least-recently-used entry is evicted
	// and the eviction callback fires before Set returns.
	Set(key K, value V) bool

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key K) bool

	// Clear removes all entries from the cache, invoking the eviction
	// callback for each entry.
	Clear()

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns a slice of all keys currently in the cache, most recently
	// used first.
	Keys() []K

	// Stats returns cache statistics.
	Stats() *Statistics
}

// EvictCallback is called when an entry is evicted from the cache.
// It receives the key and value of the evicted entry and runs synchronously
// before the eviction completes, so callers can release associated external
// resources such as change-notification subscriptions.
type EvictCallback[K comparable, V any] func(key K, value V)
