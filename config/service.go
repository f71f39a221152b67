package config

// ServiceConfiguration is the per-tenant configuration persisted through the
// platform config store. Zero values mean "not set" and are normalized by
// FillDefaults on first bootstrap; the normalized form is persisted so later
// reads see explicit values.
type ServiceConfiguration struct {
	LogPayload      bool `json:"logPayload"`
	LogSubstitution bool `json:"logSubstitution"`

	// Cache sizing; zero falls back to the process defaults.
	ExternalIDCacheSize int `json:"externalIdCacheSize"`
	InventoryCacheSize  int `json:"inventoryCacheSize"`

	// Retention in days for scheduled cache clears. Zero after FillDefaults
	// disables the clear for that cache.
	ExternalIDCacheRetentionDays int `json:"externalIdCacheRetentionDays"`
	InventoryCacheRetentionDays  int `json:"inventoryCacheRetentionDays"`

	// InventoryFragmentsToCache lists the dotted fragment paths projected
	// into the inventory cache. The envelope fragments id, name, owner and
	// type are always available.
	InventoryFragmentsToCache []string `json:"inventoryFragmentsToCache"`

	// OutboundMappingEnabled gates outbound wiring during bootstrap.
	OutboundMappingEnabled bool `json:"outboundMappingEnabled"`

	// Connectors configured for this tenant.
	Connectors []ConnectorConfiguration `json:"connectors,omitempty"`

	// normalized marks a configuration that has been through FillDefaults.
	Normalized bool `json:"normalized"`
}

// ConnectorConfiguration describes one transport connector of a tenant.
type ConnectorConfiguration struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"` // mqtt, kafka, webhook
	Enabled bool              `json:"enabled"`
	Props   map[string]string `json:"props,omitempty"`
}

// NewServiceConfiguration builds the configuration used when a tenant has
// none persisted yet.
func NewServiceConfiguration(defaults CacheDefaults) ServiceConfiguration {
	return ServiceConfiguration{
		ExternalIDCacheSize:          defaults.ExternalIDSize,
		InventoryCacheSize:           defaults.InventorySize,
		ExternalIDCacheRetentionDays: defaults.ExternalIDRetentionDays,
		InventoryCacheRetentionDays:  defaults.InventoryRetentionDays,
		OutboundMappingEnabled:       true,
		Normalized:                   true,
	}
}

// FillDefaults normalizes a persisted configuration against the process
// defaults. Cache sizes must be positive; retention stays as persisted since
// zero there means "clearing disabled". Returns true when anything changed,
// signaling the caller to persist the normalized form.
func (s *ServiceConfiguration) FillDefaults(defaults CacheDefaults) bool {
	if s.Normalized {
		return false
	}

	if s.ExternalIDCacheSize <= 0 {
		s.ExternalIDCacheSize = defaults.ExternalIDSize
	}
	if s.InventoryCacheSize <= 0 {
		s.InventoryCacheSize = defaults.InventorySize
	}
	if s.ExternalIDCacheRetentionDays < 0 {
		s.ExternalIDCacheRetentionDays = defaults.ExternalIDRetentionDays
	}
	if s.InventoryCacheRetentionDays < 0 {
		s.InventoryCacheRetentionDays = defaults.InventoryRetentionDays
	}
	s.Normalized = true
	return true
}
