// Package config holds the process configuration loaded at startup and the
// per-tenant service configuration persisted through the platform config
// store.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/mapgate/errors"
)

// Defaults applied by Load and FillDefaults.
const (
	DefaultNATSURL                  = "nats://localhost:4222"
	DefaultHTTPAddr                 = ":9087"
	DefaultMaxDownstreamConnections = 25
	DefaultExternalIDCacheSize      = 10000
	DefaultInventoryCacheSize       = 10000
	DefaultCacheRetentionDays       = 1
	DefaultWorkerPoolSize           = 8
)

// ProcessConfig is the gateway process configuration. One instance serves
// all tenants; per-tenant settings live in ServiceConfiguration.
type ProcessConfig struct {
	NATS NATSConfig `yaml:"nats"`

	// HTTPAddr serves Prometheus metrics and the health endpoint.
	HTTPAddr string `yaml:"http_addr"`

	// MaxDownstreamConnections sizes the admission gate for calls to the
	// device-management platform.
	MaxDownstreamConnections int64 `yaml:"max_downstream_connections"`

	// WorkerPoolSize bounds concurrent inbound message dispatch per tenant.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	Cache CacheDefaults `yaml:"cache"`

	Log LogConfig `yaml:"log"`

	AI AIConfig `yaml:"ai"`
}

// NATSConfig defines the NATS connection for operational events and tenant
// lifecycle subscriptions.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Token         string        `yaml:"token"`
}

// CacheDefaults are the process-wide fallbacks for tenants whose service
// configuration does not override them.
type CacheDefaults struct {
	ExternalIDSize          int `yaml:"external_id_size"`
	InventorySize           int `yaml:"inventory_size"`
	ExternalIDRetentionDays int `yaml:"external_id_retention_days"`
	InventoryRetentionDays  int `yaml:"inventory_retention_days"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// AIConfig enables the optional mapping-suggestion bootstrap. Disabled when
// the API key is empty.
type AIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Load reads a YAML process configuration, applies defaults and validates.
// An empty path returns the defaults.
func Load(path string) (*ProcessConfig, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "ProcessConfig", "Load", "failed to read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "ProcessConfig", "Load", "failed to parse config file")
		}
	}

	if key := os.Getenv("MAPGATE_AI_API_KEY"); key != "" {
		cfg.AI.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *ProcessConfig {
	return &ProcessConfig{
		NATS: NATSConfig{
			URL:           DefaultNATSURL,
			Name:          "mapgate",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		HTTPAddr:                 DefaultHTTPAddr,
		MaxDownstreamConnections: DefaultMaxDownstreamConnections,
		WorkerPoolSize:           DefaultWorkerPoolSize,
		Cache: CacheDefaults{
			ExternalIDSize:          DefaultExternalIDCacheSize,
			InventorySize:           DefaultInventoryCacheSize,
			ExternalIDRetentionDays: DefaultCacheRetentionDays,
			InventoryRetentionDays:  DefaultCacheRetentionDays,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks the process configuration.
func (c *ProcessConfig) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"ProcessConfig", "Validate", "nats.url is required")
	}
	if c.MaxDownstreamConnections <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"ProcessConfig", "Validate", "max_downstream_connections must be positive")
	}
	if c.WorkerPoolSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"ProcessConfig", "Validate", "worker_pool_size must be positive")
	}
	if c.Cache.ExternalIDSize <= 0 || c.Cache.InventorySize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"ProcessConfig", "Validate", "cache sizes must be positive")
	}
	if c.Cache.ExternalIDRetentionDays < 0 || c.Cache.InventoryRetentionDays < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"ProcessConfig", "Validate", "cache retention days must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"ProcessConfig", "Validate", fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"ProcessConfig", "Validate", fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	return nil
}
