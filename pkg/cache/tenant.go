package cache

import (
	"sync"

	"github.com/c360/mapgate/errors"
)

// Tenant partitions Bounded caches by tenant identifier. Every operation
// takes a tenant key, so cross-tenant lookups are structurally impossible.
// A tenant's partition is created by Init and removed by Release; from the
// caller's perspective a tenant is either fully present or fully absent.
type Tenant[K comparable, V any] struct {
	mu         sync.RWMutex
	partitions map[string]*Bounded[K, V]
	opts       []Option[K, V]
}

// NewTenant creates a tenant-partitioned cache. The options are applied to
// every per-tenant partition created by Init.
func NewTenant[K comparable, V any](opts ...Option[K, V]) *Tenant[K, V] {
	return &Tenant[K, V]{
		partitions: make(map[string]*Bounded[K, V]),
		opts:       opts,
	}
}

// Init creates (or replaces) the partition for a tenant with the given bound.
func (t *Tenant[K, V]) Init(tenant string, maxSize int) error {
	bounded, err := NewBounded(maxSize, t.opts...)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.partitions[tenant] = bounded
	t.mu.Unlock()
	return nil
}

// Release removes a tenant's partition entirely. Returns true if the tenant
// had a partition.
func (t *Tenant[K, V]) Release(tenant string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, exists := t.partitions[tenant]
	delete(t.partitions, tenant)
	return exists
}

// partition returns the tenant's Bounded cache, or nil when the tenant has
// no partition.
func (t *Tenant[K, V]) partition(tenant string) *Bounded[K, V] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.partitions[tenant]
}

// Get retrieves a value for a tenant.
func (t *Tenant[K, V]) Get(tenant string, key K) (V, bool) {
	p := t.partition(tenant)
	if p == nil {
		var zero V
		return zero, false
	}
	return p.Get(key)
}

// Put stores a value for a tenant. Returns ErrCacheNotInitialized when the
// tenant has no partition.
func (t *Tenant[K, V]) Put(tenant string, key K, value V) error {
	p := t.partition(tenant)
	if p == nil {
		return errors.WrapInvalid(errors.ErrCacheNotInitialized, "TenantCache", "Put", "lookup partition")
	}
	p.Set(key, value)
	return nil
}

// Remove deletes a single key for a tenant.
func (t *Tenant[K, V]) Remove(tenant string, key K) bool {
	p := t.partition(tenant)
	if p == nil {
		return false
	}
	return p.Delete(key)
}

// Clear empties a tenant's partition in place. When recreateWithSize > 0 the
// backing store is replaced with a freshly sized one instead, used when the
// configured bound changes. Either way eviction callbacks fire for the
// dropped entries before any lookup can repopulate them: the old partition
// is drained under the write lock before the fresh one becomes visible.
func (t *Tenant[K, V]) Clear(tenant string, recreateWithSize int) error {
	if recreateWithSize > 0 {
		t.mu.Lock()
		defer t.mu.Unlock()

		fresh, err := NewBounded(recreateWithSize, t.opts...)
		if err != nil {
			return err
		}
		if old := t.partitions[tenant]; old != nil {
			old.Clear()
		}
		t.partitions[tenant] = fresh
		return nil
	}

	p := t.partition(tenant)
	if p == nil {
		return errors.WrapInvalid(errors.ErrCacheNotInitialized, "TenantCache", "Clear", "lookup partition")
	}
	p.Clear()
	return nil
}

// Size returns the number of entries in a tenant's partition, 0 when absent.
func (t *Tenant[K, V]) Size(tenant string) int {
	p := t.partition(tenant)
	if p == nil {
		return 0
	}
	return p.Size()
}

// MaxSize returns the configured bound of a tenant's partition, 0 when absent.
func (t *Tenant[K, V]) MaxSize(tenant string) int {
	p := t.partition(tenant)
	if p == nil {
		return 0
	}
	return p.MaxSize()
}

// Keys returns all keys in a tenant's partition, most recently used first.
func (t *Tenant[K, V]) Keys(tenant string) []K {
	p := t.partition(tenant)
	if p == nil {
		return nil
	}
	return p.Keys()
}

// Stats returns the statistics of a tenant's partition, nil when absent.
func (t *Tenant[K, V]) Stats(tenant string) *Statistics {
	p := t.partition(tenant)
	if p == nil {
		return nil
	}
	return p.Stats()
}

// Tenants returns the tenants that currently have a partition.
func (t *Tenant[K, V]) Tenants() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tenants := make([]string, 0, len(t.partitions))
	for tenant := range t.partitions {
		tenants = append(tenants, tenant)
	}
	return tenants
}
