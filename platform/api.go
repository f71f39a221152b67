package platform

import (
	"context"

	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/mapping"
)

// IdentityAPI resolves external device identities to platform descriptors.
type IdentityAPI interface {
	// ResolveExternalID looks up the platform descriptor for an external
	// identity. A miss returns NotFound, not an error.
	ResolveExternalID(ctx context.Context, tenant string, identity DeviceIdentity) (Lookup[DeviceRef], error)
}

// InventoryAPI reads device inventory records.
type InventoryAPI interface {
	// GetManagedObject fetches the full inventory record of a device. A
	// miss returns NotFound, not an error.
	GetManagedObject(ctx context.Context, tenant, deviceID string) (Lookup[ManagedObject], error)
}

// NotificationSubscriber manages per-device update subscriptions so cached
// inventory projections stay current.
type NotificationSubscriber interface {
	Subscribe(ctx context.Context, tenant, deviceID string) error
	Unsubscribe(ctx context.Context, tenant, deviceID string) error
	// Disconnect tears down the tenant's notification channel entirely.
	Disconnect(ctx context.Context, tenant string) error
}

// ConfigStore persists mappings, per-tenant service configuration and the
// mapping deployment map.
type ConfigStore interface {
	LoadMappings(ctx context.Context, tenant string, direction mapping.Direction) ([]*mapping.Mapping, error)
	SaveMapping(ctx context.Context, tenant string, m *mapping.Mapping) error
	DeleteMapping(ctx context.Context, tenant, id string) error

	LoadServiceConfiguration(ctx context.Context, tenant string) (Lookup[config.ServiceConfiguration], error)
	SaveServiceConfiguration(ctx context.Context, tenant string, cfg config.ServiceConfiguration) error
	DeleteServiceConfiguration(ctx context.Context, tenant string) error

	LoadDeploymentMap(ctx context.Context, tenant string) (map[string][]string, error)
	SaveDeploymentMap(ctx context.Context, tenant string, deployments map[string][]string) error
}
