// Package orchestrator drives the tenant lifecycle: bootstrap on
// subscription, scheduled cache housekeeping while the tenant is ready, and
// ordered teardown on unsubscription.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/mapgate/ai"
	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/connector"
	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/events"
	"github.com/c360/mapgate/identity"
	"github.com/c360/mapgate/inventory"
	"github.com/c360/mapgate/mapping"
	"github.com/c360/mapgate/metric"
	"github.com/c360/mapgate/pkg/retry"
	"github.com/c360/mapgate/platform"
	"github.com/c360/mapgate/registry"
)

// State is a tenant's lifecycle state.
type State int

const (
	StateUnsubscribed State = iota
	StateBootstrapping
	StateReady
	StateUnsubscribing
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	case StateUnsubscribing:
		return "unsubscribing"
	default:
		return "unsubscribed"
	}
}

// Hooks are optional platform-specific bootstrap and teardown steps. Nil
// hooks are skipped.
type Hooks struct {
	InitExtensions      func(ctx context.Context, tenant string) error
	RemoveExtensions    func(ctx context.Context, tenant string) error
	RegisterCredentials func(ctx context.Context, tenant string) error
	RemoveCredentials   func(ctx context.Context, tenant string) error
}

// Deps are the collaborators the orchestrator wires together per tenant.
type Deps struct {
	Store       platform.ConfigStore
	Subscriber  platform.NotificationSubscriber
	Registry    *registry.Registry
	Identities  *identity.Cache
	Inventories *inventory.Cache
	Connectors  *connector.Registry
	Dispatcher  *connector.Dispatcher
	Factory     connector.Factory
	Suggester   *ai.Suggester
	Publisher   events.Publisher
	Defaults    config.CacheDefaults
	Hooks       Hooks
	Metrics     *metric.Metrics
	Logger      *slog.Logger
}

// tenantEntry is the per-tenant lifecycle record. The two retention clocks
// advance independently so a clear of one cache never delays the other.
type tenantEntry struct {
	state  State
	config config.ServiceConfiguration

	externalIDClearedAt time.Time
	inventoryClearedAt  time.Time
}

// Orchestrator owns the tenant state machine
// unsubscribed -> bootstrapping -> ready -> unsubscribing -> unsubscribed.
type Orchestrator struct {
	mu      sync.Mutex
	tenants map[string]*tenantEntry

	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		tenants: make(map[string]*tenantEntry),
		deps:    deps,
		logger:  deps.Logger.With("component", "orchestrator"),
		now:     time.Now,
	}
}

// State returns a tenant's current lifecycle state.
func (o *Orchestrator) State(tenant string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.tenants[tenant]
	if !ok {
		return StateUnsubscribed
	}
	return entry.state
}

// Tenants returns the identifiers of every tenant currently ready.
func (o *Orchestrator) Tenants() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	result := make([]string, 0, len(o.tenants))
	for tenant, entry := range o.tenants {
		if entry.state == StateReady {
			result = append(result, tenant)
		}
	}
	return result
}

// OnTenantSubscribed bootstraps a tenant end to end. On any failure the
// partially built resources are torn down again and the error returned.
func (o *Orchestrator) OnTenantSubscribed(ctx context.Context, tenant string) error {
	o.mu.Lock()
	if entry, ok := o.tenants[tenant]; ok && entry.state != StateUnsubscribed {
		o.mu.Unlock()
		return errors.WrapInvalid(errors.ErrTenantAlreadySubscribed,
			"Orchestrator", "OnTenantSubscribed", "tenant "+tenant)
	}
	entry := &tenantEntry{state: StateBootstrapping}
	o.tenants[tenant] = entry
	o.mu.Unlock()
	o.setStatusGauge(tenant, StateBootstrapping)

	o.logger.Info("bootstrapping tenant", "tenant", tenant)
	if err := o.bootstrap(ctx, tenant, entry); err != nil {
		o.logger.Error("tenant bootstrap failed", "tenant", tenant, "error", err)
		o.teardown(ctx, tenant)
		return err
	}

	now := o.now()
	o.mu.Lock()
	entry.state = StateReady
	entry.externalIDClearedAt = now
	entry.inventoryClearedAt = now
	o.mu.Unlock()
	o.setStatusGauge(tenant, StateReady)

	o.deps.Publisher.Publish(events.Event{
		Tenant: tenant,
		Type:   events.TypeStatusChanged,
		Detail: StateReady.String(),
	})
	o.logger.Info("tenant ready", "tenant", tenant)
	return nil
}

func (o *Orchestrator) bootstrap(ctx context.Context, tenant string, entry *tenantEntry) error {
	if o.deps.Hooks.InitExtensions != nil {
		if err := o.deps.Hooks.InitExtensions(ctx, tenant); err != nil {
			return errors.Wrap(err, "Orchestrator", "bootstrap", "init extensions")
		}
	}

	cfg, err := o.loadServiceConfiguration(ctx, tenant)
	if err != nil {
		return err
	}
	o.mu.Lock()
	entry.config = cfg
	o.mu.Unlock()

	if err := o.deps.Identities.InitTenant(tenant, cfg.ExternalIDCacheSize); err != nil {
		return errors.Wrap(err, "Orchestrator", "bootstrap", "init identity cache")
	}
	if err := o.deps.Inventories.InitTenant(tenant, cfg.InventoryCacheSize, cfg.InventoryFragmentsToCache); err != nil {
		return errors.Wrap(err, "Orchestrator", "bootstrap", "init inventory cache")
	}

	if o.deps.Hooks.RegisterCredentials != nil {
		if err := o.deps.Hooks.RegisterCredentials(ctx, tenant); err != nil {
			return errors.Wrap(err, "Orchestrator", "bootstrap", "register credentials")
		}
	}

	if err := o.deps.Registry.InitTenant(ctx, tenant); err != nil {
		return errors.Wrap(err, "Orchestrator", "bootstrap", "init mapping registry")
	}

	if err := o.startConnectors(ctx, tenant, cfg.Connectors); err != nil {
		return err
	}

	if err := o.deps.Registry.RebuildInboundCache(ctx, tenant); err != nil {
		return errors.Wrap(err, "Orchestrator", "bootstrap", "rebuild inbound cache")
	}
	if cfg.OutboundMappingEnabled {
		if err := o.deps.Registry.RebuildOutboundCache(ctx, tenant); err != nil {
			return errors.Wrap(err, "Orchestrator", "bootstrap", "rebuild outbound cache")
		}
	}

	// Advisory only; a failed suggestion never fails the bootstrap.
	o.bootstrapSuggestions(ctx, tenant)
	return nil
}

// loadServiceConfiguration fetches the tenant's service configuration,
// creating and persisting the default one on first subscription and
// normalizing legacy persisted forms. Subscription events can arrive before
// the platform serves a fresh tenant, so the load rides the quick retry
// schedule.
func (o *Orchestrator) loadServiceConfiguration(ctx context.Context, tenant string) (config.ServiceConfiguration, error) {
	lookup, err := retry.DoWithResult(ctx, retry.Quick(),
		func() (platform.Lookup[config.ServiceConfiguration], error) {
			return o.deps.Store.LoadServiceConfiguration(ctx, tenant)
		})
	if err != nil {
		return config.ServiceConfiguration{}, errors.Wrap(err,
			"Orchestrator", "loadServiceConfiguration", "load")
	}

	if !lookup.Found() {
		cfg := config.NewServiceConfiguration(o.deps.Defaults)
		if err := o.deps.Store.SaveServiceConfiguration(ctx, tenant, cfg); err != nil {
			return config.ServiceConfiguration{}, errors.Wrap(err,
				"Orchestrator", "loadServiceConfiguration", "persist defaults")
		}
		o.logger.Info("created default service configuration", "tenant", tenant)
		return cfg, nil
	}

	cfg := lookup.Value()
	if cfg.FillDefaults(o.deps.Defaults) {
		if err := o.deps.Store.SaveServiceConfiguration(ctx, tenant, cfg); err != nil {
			return config.ServiceConfiguration{}, errors.Wrap(err,
				"Orchestrator", "loadServiceConfiguration", "persist normalized form")
		}
		o.logger.Info("normalized service configuration", "tenant", tenant)
	}
	return cfg, nil
}

// startConnectors builds and connects every enabled connector concurrently
// and waits for all connect futures.
func (o *Orchestrator) startConnectors(ctx context.Context, tenant string,
	configs []config.ConnectorConfiguration) error {
	if o.deps.Factory == nil {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, connectorCfg := range configs {
		if !connectorCfg.Enabled {
			continue
		}

		client, err := o.deps.Factory(tenant, connectorCfg, o.deps.Dispatcher.Dispatch, o.logger)
		if err != nil {
			return errors.Wrap(err, "Orchestrator", "startConnectors",
				"build connector "+connectorCfg.ID)
		}
		o.deps.Connectors.Register(tenant, client)

		group.Go(func() error {
			if err := <-client.Connect(groupCtx); err != nil {
				return errors.Wrap(err, "Orchestrator", "startConnectors",
					"connect "+client.ID())
			}
			o.deps.Publisher.Publish(events.Event{
				Tenant:    tenant,
				Type:      events.TypeConnectorStatus,
				Connector: client.ID(),
				Detail:    "connected",
			})
			return nil
		})
	}
	return group.Wait()
}

// bootstrapSuggestions drafts mapping proposals from payload samples snooped
// in a previous session and publishes them for operator review.
func (o *Orchestrator) bootstrapSuggestions(ctx context.Context, tenant string) {
	if o.deps.Suggester == nil {
		return
	}

	mappings, err := o.deps.Registry.GetMappings(tenant, mapping.DirectionInbound)
	if err != nil {
		o.logger.Warn("skipping mapping suggestions", "tenant", tenant, "error", err)
		return
	}

	for _, m := range mappings {
		if len(m.SnoopedTemplates) == 0 {
			continue
		}
		suggestion, err := o.deps.Suggester.Suggest(ctx, tenant, m.TopicPattern, m.SnoopedTemplates)
		if err != nil {
			o.logger.Warn("mapping suggestion failed",
				"tenant", tenant, "mapping", m.ID, "error", err)
			continue
		}
		o.deps.Publisher.Publish(events.Event{
			Tenant:    tenant,
			Type:      events.TypeMappingSuggested,
			MappingID: m.ID,
			Detail:    suggestion,
		})
	}
}

// OnTenantUnsubscribed tears a tenant down. Every step is best-effort:
// failures are logged and the remaining steps still run.
func (o *Orchestrator) OnTenantUnsubscribed(ctx context.Context, tenant string) error {
	o.mu.Lock()
	entry, ok := o.tenants[tenant]
	if !ok || entry.state == StateUnsubscribed || entry.state == StateUnsubscribing {
		o.mu.Unlock()
		return errors.WrapInvalid(errors.ErrTenantNotSubscribed,
			"Orchestrator", "OnTenantUnsubscribed", "tenant "+tenant)
	}
	entry.state = StateUnsubscribing
	o.mu.Unlock()
	o.setStatusGauge(tenant, StateUnsubscribing)

	o.logger.Info("unsubscribing tenant", "tenant", tenant)
	o.teardown(ctx, tenant)

	o.deps.Publisher.Publish(events.Event{
		Tenant: tenant,
		Type:   events.TypeStatusChanged,
		Detail: StateUnsubscribed.String(),
	})
	o.logger.Info("tenant unsubscribed", "tenant", tenant)
	return nil
}

func (o *Orchestrator) teardown(ctx context.Context, tenant string) {
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			o.logger.Warn("teardown step failed", "tenant", tenant, "step", name, "error", err)
		}
	}

	step("disconnect notifications", func() error {
		return o.deps.Subscriber.Disconnect(ctx, tenant)
	})
	step("unregister connectors", func() error {
		o.deps.Connectors.UnregisterAllForTenant(ctx, tenant)
		return nil
	})
	step("delete service configuration", func() error {
		return o.deps.Store.DeleteServiceConfiguration(ctx, tenant)
	})
	if o.deps.Hooks.RemoveCredentials != nil {
		step("remove credentials", func() error {
			return o.deps.Hooks.RemoveCredentials(ctx, tenant)
		})
	}
	if o.deps.Hooks.RemoveExtensions != nil {
		step("remove extensions", func() error {
			return o.deps.Hooks.RemoveExtensions(ctx, tenant)
		})
	}
	step("release mapping registry", func() error {
		o.deps.Registry.ReleaseTenant(tenant)
		return nil
	})
	step("release identity cache", func() error {
		o.deps.Identities.ReleaseTenant(tenant)
		return nil
	})
	step("release inventory cache", func() error {
		o.deps.Inventories.ReleaseTenant(tenant)
		return nil
	})

	o.mu.Lock()
	delete(o.tenants, tenant)
	o.mu.Unlock()
	o.setStatusGauge(tenant, StateUnsubscribed)
}

func (o *Orchestrator) setStatusGauge(tenant string, state State) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.TenantStatus.WithLabelValues(tenant).Set(float64(state))
	}
}
