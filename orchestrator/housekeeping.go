package orchestrator

import (
	"context"
	"time"

	"github.com/c360/mapgate/events"
)

const housekeepingInterval = time.Minute

// Run executes the housekeeping loop until the context is canceled: once per
// minute every ready tenant gets its dirty mappings persisted and its caches
// cleared when their retention has elapsed.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.housekeep(ctx)
		}
	}
}

func (o *Orchestrator) housekeep(ctx context.Context) {
	for _, tenant := range o.Tenants() {
		if err := o.deps.Registry.CleanDirtyMappings(ctx, tenant); err != nil {
			o.logger.Warn("failed to persist dirty mappings", "tenant", tenant, "error", err)
		}
		o.clearExpiredCaches(tenant)
	}
}

// clearExpiredCaches checks both retention clocks. The clocks are
// independent: clearing one cache resets only its own clock, so differing
// retention periods fire on their own schedules.
func (o *Orchestrator) clearExpiredCaches(tenant string) {
	now := o.now()

	o.mu.Lock()
	entry, ok := o.tenants[tenant]
	if !ok || entry.state != StateReady {
		o.mu.Unlock()
		return
	}
	cfg := entry.config

	clearExternalID := retentionElapsed(entry.externalIDClearedAt, cfg.ExternalIDCacheRetentionDays, now)
	clearInventory := retentionElapsed(entry.inventoryClearedAt, cfg.InventoryCacheRetentionDays, now)
	if clearExternalID {
		entry.externalIDClearedAt = now
	}
	if clearInventory {
		entry.inventoryClearedAt = now
	}
	o.mu.Unlock()

	if clearExternalID {
		if err := o.deps.Identities.Clear(tenant, cfg.ExternalIDCacheSize); err != nil {
			o.logger.Warn("failed to clear identity cache", "tenant", tenant, "error", err)
		} else {
			o.recordCacheClear(tenant, "external-id", cfg.ExternalIDCacheRetentionDays)
		}
	}
	if clearInventory {
		if err := o.deps.Inventories.Clear(tenant, cfg.InventoryCacheSize); err != nil {
			o.logger.Warn("failed to clear inventory cache", "tenant", tenant, "error", err)
		} else {
			o.recordCacheClear(tenant, "inventory", cfg.InventoryCacheRetentionDays)
		}
	}
}

// retentionElapsed reports whether a cache is due for a clear. A retention
// of zero or less disables clearing.
func retentionElapsed(clearedAt time.Time, retentionDays int, now time.Time) bool {
	if retentionDays <= 0 {
		return false
	}
	return now.Sub(clearedAt) >= time.Duration(retentionDays)*24*time.Hour
}

func (o *Orchestrator) recordCacheClear(tenant, cache string, retentionDays int) {
	o.logger.Info("cleared cache after retention",
		"tenant", tenant, "cache", cache, "retention_days", retentionDays)
	if o.deps.Metrics != nil {
		o.deps.Metrics.CacheClears.WithLabelValues(tenant, cache).Inc()
	}
	o.deps.Publisher.Publish(events.Event{
		Tenant: tenant,
		Type:   events.TypeCacheCleared,
		Detail: cache,
	})
}
