package cache

import (
	"container/list"
	"sync"
)

// lruEntry represents an entry in the bounded cache.
type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// Bounded is a thread-safe size-bounded LRU cache. It evicts the least
// recently used entry when the maximum size is exceeded.
type Bounded[K comparable, V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[K]*list.Element // key -> list element
	order   *list.List          // doubly-linked list for LRU ordering
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[K, V]
}

// NewBounded creates a new bounded LRU cache with the specified maximum size.
// A maxSize <= 0 defaults to 1.
func NewBounded[K comparable, V any](maxSize int, opts ...Option[K, V]) (*Bounded[K, V], error) {
	if maxSize <= 0 {
		maxSize = 1
	}
	options := applyOptions(opts...)

	var metrics *cacheMetrics
	if options.metricsReg != nil && options.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(options.metricsReg, options.metricsPrefix)
		if err != nil {
			return nil, err
		}
	}

	return &Bounded[K, V]{
		maxSize: maxSize,
		items:   make(map[K]*list.Element),
		order:   list.New(),
		stats:   NewStatistics(),
		metrics: metrics,
		evictFn: options.evictCallback,
	}, nil
}

// MaxSize returns the configured bound.
func (c *Bounded[K, V]) MaxSize() int {
	return c.maxSize
}

// Get retrieves a value by key and marks it as recently used.
func (c *Bounded[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		return zero, false
	}

	c.order.MoveToFront(element)

	entry := element.Value.(*lruEntry[K, V])
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return entry.value, true
}

// Set stores a value with the given key and marks it as recently used.
// If the insertion would exceed the configured bound, the least-recently-used
// entry is evicted. The eviction callback runs under the cache lock while the
// evicted entry is still linked, so concurrent lookups serialize behind the
// callback and can never refill the key before it has released the evicted
// entry's resources. Callbacks must not call back into the cache.
func (c *Bounded[K, V]) Set(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.items[key]; exists {
		entry := element.Value.(*lruEntry[K, V])
		entry.value = value
		c.order.MoveToFront(element)
		c.stats.Set()
		if c.metrics != nil {
			c.metrics.recordSet()
		}
		return false
	}

	entry := &lruEntry[K, V]{key: key, value: value}
	c.items[key] = c.order.PushFront(entry)

	if len(c.items) > c.maxSize {
		c.evictLRU()
	}

	c.stats.Set()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(len(c.items))
	}
	return true
}

// Delete removes an entry by key. The eviction callback is not invoked for
// explicit deletes; callers removing an entry deliberately are expected to
// release associated resources themselves.
func (c *Bounded[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		return false
	}

	c.removeElement(element)
	c.stats.Delete()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.recordDelete()
		c.metrics.updateSize(len(c.items))
	}
	return true
}

// Clear removes all entries, invoking the eviction callback for each entry
// from least to most recently used. Callbacks run under the lock before the
// entries are dropped, so a concurrent lookup sees either the intact cache
// or the empty one, never an entry whose resources are already released.
func (c *Bounded[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.evictFn != nil {
		for element := c.order.Back(); element != nil; element = element.Prev() {
			entry := element.Value.(*lruEntry[K, V])
			c.stats.Eviction()
			c.evictFn(entry.key, entry.value)
		}
	}

	c.items = make(map[K]*list.Element)
	c.order.Init()
	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
}

// Size returns the current number of entries.
func (c *Bounded[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns all keys, most recently used first.
func (c *Bounded[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*lruEntry[K, V]).key)
	}
	return keys
}

// Stats returns cache statistics.
func (c *Bounded[K, V]) Stats() *Statistics {
	return c.stats
}

// evictLRU removes the least recently used entry, firing the eviction
// callback while the entry is still linked. Caller must hold the lock.
func (c *Bounded[K, V]) evictLRU() {
	element := c.order.Back()
	if element == nil {
		return
	}
	entry := element.Value.(*lruEntry[K, V])
	if c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}
	c.removeElement(element)
	c.stats.Eviction()
	if c.metrics != nil {
		c.metrics.recordEviction()
	}
}

// removeElement removes an element from both structures. Caller must hold the lock.
func (c *Bounded[K, V]) removeElement(element *list.Element) {
	entry := element.Value.(*lruEntry[K, V])
	delete(c.items, entry.key)
	c.order.Remove(element)
}
