// Package cache implements the bounded, tenant-scoped cache primitive the
// gateway's identity and inventory caches are built on.
//
// Bounded is a size-bounded LRU store: insertion beyond the configured bound
// evicts the least-recently-used entry and invokes the eviction callback
// before the operation completes, letting callers release associated
// external subscriptions. Tenant partitions Bounded instances by tenant
// identifier; operations on different tenants never block each other and a
// partition is created or removed atomically from the caller's perspective.
package cache
