// Package inventory caches flattened device inventory projections per
// tenant, keeping them current through per-device update notifications.
package inventory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/mapgate/identity"
	"github.com/c360/mapgate/pkg/cache"
	"github.com/c360/mapgate/platform"
)

// entry carries the tenant alongside the projection so the eviction
// callback can unsubscribe the right tenant's device.
type entry struct {
	tenant     string
	projection map[string]any
}

// Cache holds per-tenant projections of device inventory records. A cached
// device stays subscribed for update notifications until it leaves the
// cache, whether by LRU eviction, retention clear or explicit removal.
type Cache struct {
	store      *cache.Tenant[string, entry]
	api        platform.InventoryAPI
	identities *identity.Cache
	subscriber platform.NotificationSubscriber
	gate       *platform.Gate
	logger     *slog.Logger

	mu        sync.RWMutex
	fragments map[string][]string // tenant -> configured fragment paths
}

// New creates an inventory attribute cache.
func New(api platform.InventoryAPI, identities *identity.Cache,
	subscriber platform.NotificationSubscriber, gate *platform.Gate, logger *slog.Logger) *Cache {
	c := &Cache{
		api:        api,
		identities: identities,
		subscriber: subscriber,
		gate:       gate,
		fragments:  make(map[string][]string),
		logger:     logger.With("component", "inventory-cache"),
	}
	c.store = cache.NewTenant(
		cache.WithEvictionCallback(func(deviceID string, e entry) {
			c.unsubscribe(e.tenant, deviceID)
		}),
	)
	return c
}

// InitTenant creates the tenant's partition and records its configured
// fragment paths.
func (c *Cache) InitTenant(tenant string, size int, fragments []string) error {
	c.mu.Lock()
	c.fragments[tenant] = append([]string(nil), fragments...)
	c.mu.Unlock()
	return c.store.Init(tenant, size)
}

// ReleaseTenant drops the tenant's partition and fragment configuration.
// Notification teardown is handled tenant-wide by the caller, so no
// per-device unsubscribes fire here.
func (c *Cache) ReleaseTenant(tenant string) {
	c.store.Release(tenant)
	c.mu.Lock()
	delete(c.fragments, tenant)
	c.mu.Unlock()
}

// Clear empties the tenant's partition, unsubscribing every cached device,
// and recreates it at recreateWithSize when positive.
func (c *Cache) Clear(tenant string, recreateWithSize int) error {
	return c.store.Clear(tenant, recreateWithSize)
}

// Size returns the number of cached projections for a tenant.
func (c *Cache) Size(tenant string) int {
	return c.store.Size(tenant)
}

func (c *Cache) tenantFragments(tenant string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fragments[tenant]
}

// Projection returns the cached projection of a device, fetching, projecting
// and subscribing on a miss. A device unknown to the platform yields
// (nil, false, nil).
func (c *Cache) Projection(ctx context.Context, tenant, deviceID string) (map[string]any, bool, error) {
	if e, found := c.store.Get(tenant, deviceID); found {
		return e.projection, true, nil
	}
	return c.fill(ctx, tenant, deviceID)
}

// GetByExternalID composes identity resolution with the projection lookup.
func (c *Cache) GetByExternalID(ctx context.Context, tenant string,
	ext platform.DeviceIdentity) (map[string]any, bool, error) {
	lookup, err := c.identities.Resolve(ctx, tenant, ext, false)
	if err != nil {
		return nil, false, err
	}
	if !lookup.Found() {
		return nil, false, nil
	}
	return c.Projection(ctx, tenant, lookup.Value().ID)
}

// Update replaces a cached projection from the latest platform record. The
// stale entry is never patched in place: the record is re-fetched and
// re-projected wholesale. A device that disappeared is dropped from the
// cache and unsubscribed.
func (c *Cache) Update(ctx context.Context, tenant, deviceID string) error {
	lookup, err := c.fetch(ctx, tenant, deviceID)
	if err != nil {
		return err
	}
	if !lookup.Found() {
		if c.store.Remove(tenant, deviceID) {
			c.unsubscribe(tenant, deviceID)
		}
		return nil
	}

	projection := Project(lookup.Value(), c.tenantFragments(tenant))
	if _, cached := c.store.Get(tenant, deviceID); !cached {
		// Not cached yet: treat as a fresh fill including the subscription.
		return c.storeAndSubscribe(ctx, tenant, deviceID, projection)
	}
	return c.store.Put(tenant, deviceID, entry{tenant: tenant, projection: projection})
}

// RemoveDevice drops a device from the cache and unsubscribes it.
func (c *Cache) RemoveDevice(tenant, deviceID string) {
	if c.store.Remove(tenant, deviceID) {
		c.unsubscribe(tenant, deviceID)
	}
}

func (c *Cache) fill(ctx context.Context, tenant, deviceID string) (map[string]any, bool, error) {
	lookup, err := c.fetch(ctx, tenant, deviceID)
	if err != nil {
		return nil, false, err
	}
	if !lookup.Found() {
		return nil, false, nil
	}

	projection := Project(lookup.Value(), c.tenantFragments(tenant))
	if err := c.storeAndSubscribe(ctx, tenant, deviceID, projection); err != nil {
		return nil, false, err
	}
	return projection, true, nil
}

func (c *Cache) fetch(ctx context.Context, tenant, deviceID string) (platform.Lookup[platform.ManagedObject], error) {
	var lookup platform.Lookup[platform.ManagedObject]
	err := c.gate.Do(ctx, "inventory.get", func(ctx context.Context) error {
		var err error
		lookup, err = c.api.GetManagedObject(ctx, tenant, deviceID)
		return err
	})
	return lookup, err
}

// storeAndSubscribe subscribes before storing so a projection is never
// cached without its update feed.
func (c *Cache) storeAndSubscribe(ctx context.Context, tenant, deviceID string, projection map[string]any) error {
	if err := c.subscriber.Subscribe(ctx, tenant, deviceID); err != nil {
		return err
	}
	if err := c.store.Put(tenant, deviceID, entry{tenant: tenant, projection: projection}); err != nil {
		c.unsubscribe(tenant, deviceID)
		return err
	}
	return nil
}

func (c *Cache) unsubscribe(tenant, deviceID string) {
	if err := c.subscriber.Unsubscribe(context.Background(), tenant, deviceID); err != nil {
		c.logger.Warn("failed to unsubscribe evicted device",
			"tenant", tenant, "device", deviceID, "error", err)
	}
}
