// Package identity caches the resolution of external device identities to
// platform descriptors, one bounded partition per tenant.
package identity

import (
	"context"
	"log/slog"

	"github.com/c360/mapgate/pkg/cache"
	"github.com/c360/mapgate/platform"
)

// Cache resolves external identities through the platform identity API and
// memoizes hits. Misses are never cached: a device may be registered at any
// moment, so a stale negative entry would hide it until eviction.
type Cache struct {
	store  *cache.Tenant[platform.DeviceIdentity, platform.DeviceRef]
	api    platform.IdentityAPI
	gate   *platform.Gate
	logger *slog.Logger
}

// New creates an identity resolution cache.
func New(api platform.IdentityAPI, gate *platform.Gate, logger *slog.Logger,
	opts ...cache.Option[platform.DeviceIdentity, platform.DeviceRef]) *Cache {
	return &Cache{
		store:  cache.NewTenant(opts...),
		api:    api,
		gate:   gate,
		logger: logger.With("component", "identity-cache"),
	}
}

// InitTenant creates the tenant's partition at the configured size.
func (c *Cache) InitTenant(tenant string, size int) error {
	return c.store.Init(tenant, size)
}

// ReleaseTenant drops the tenant's partition.
func (c *Cache) ReleaseTenant(tenant string) {
	c.store.Release(tenant)
}

// Clear empties the tenant's partition, recreating it at recreateWithSize
// when positive. Used by retention housekeeping.
func (c *Cache) Clear(tenant string, recreateWithSize int) error {
	return c.store.Clear(tenant, recreateWithSize)
}

// Size returns the number of cached resolutions for a tenant.
func (c *Cache) Size(tenant string) int {
	return c.store.Size(tenant)
}

// Resolve returns the platform descriptor for an external identity. Cache
// hits return immediately; misses call the platform through the admission
// gate. A platform miss is returned as an explicit not-found result and is
// not cached. With testing set, a successful resolution is returned but not
// stored.
func (c *Cache) Resolve(ctx context.Context, tenant string, identity platform.DeviceIdentity,
	testing bool) (platform.Lookup[platform.DeviceRef], error) {
	if ref, found := c.store.Get(tenant, identity); found {
		return platform.Found(ref), nil
	}

	var lookup platform.Lookup[platform.DeviceRef]
	err := c.gate.Do(ctx, "identity.resolve", func(ctx context.Context) error {
		var err error
		lookup, err = c.api.ResolveExternalID(ctx, tenant, identity)
		return err
	})
	if err != nil {
		return platform.NotFound[platform.DeviceRef](), err
	}

	if !lookup.Found() {
		c.logger.Debug("external identity not registered",
			"tenant", tenant, "type", identity.Type, "value", identity.Value)
		return lookup, nil
	}

	if !testing {
		if err := c.store.Put(tenant, identity, lookup.Value()); err != nil {
			// Partition vanished mid-flight (tenant teardown); the
			// resolution itself is still valid.
			c.logger.Debug("skipping cache store for released tenant",
				"tenant", tenant, "error", err)
		}
	}
	return lookup, nil
}

// RemoveDevice drops a cached resolution so the next Resolve goes back to
// the platform.
func (c *Cache) RemoveDevice(tenant string, identity platform.DeviceIdentity) {
	c.store.Remove(tenant, identity)
}
