package resolver

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/filter"
	"github.com/c360/mapgate/mapping"
	"github.com/c360/mapgate/metric"
)

// Event is a platform event offered to the outbound resolver.
type Event struct {
	API     mapping.API
	Payload map[string]any
}

// SourceID extracts the originating device id from the event envelope.
// Empty when the event carries none.
func (e *Event) SourceID() string {
	value, ok := filter.ResolveField(e.Payload, "source.id")
	if !ok {
		return ""
	}
	id, _ := value.(string)
	return id
}

// InventoryProvider supplies cached inventory projections for the inventory
// filter predicate.
type InventoryProvider interface {
	Projection(ctx context.Context, tenant, deviceID string) (map[string]any, bool, error)
}

// outboundIndex holds the derived indices of one tenant. Both are rebuilt
// together from the authoritative mapping cache; they are never mutated in
// place.
type outboundIndex struct {
	byID        map[string]*mapping.Mapping
	byFilterKey map[string][]*mapping.Mapping
	filterKeys  []string // sorted for deterministic resolution order
}

// Outbound matches platform events to outbound mappings by filter
// expression, with an optional per-device inventory predicate.
type Outbound struct {
	mu      sync.RWMutex
	tenants map[string]*outboundIndex

	evaluator filter.Evaluator
	inventory InventoryProvider
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// NewOutbound creates an outbound resolver. inventory may be nil when no
// inventory filtering is configured; metrics may be nil in tests.
func NewOutbound(evaluator filter.Evaluator, inventory InventoryProvider,
	logger *slog.Logger, metrics *metric.Metrics) *Outbound {
	return &Outbound{
		tenants:   make(map[string]*outboundIndex),
		evaluator: evaluator,
		inventory: inventory,
		logger:    logger.With("component", "outbound-resolver"),
		metrics:   metrics,
	}
}

// InitTenant creates an empty index for a tenant. Idempotent.
func (r *Outbound) InitTenant(tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[tenant]; !ok {
		r.tenants[tenant] = &outboundIndex{
			byID:        make(map[string]*mapping.Mapping),
			byFilterKey: make(map[string][]*mapping.Mapping),
		}
	}
}

// ReleaseTenant drops a tenant's index.
func (r *Outbound) ReleaseTenant(tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tenants, tenant)
}

// Rebuild replaces a tenant's derived indices from the full outbound mapping
// set. Mappings without a filter expression stay reachable by id but are
// excluded from the resolution index.
func (r *Outbound) Rebuild(tenant string, mappings []*mapping.Mapping) error {
	index := &outboundIndex{
		byID:        make(map[string]*mapping.Mapping, len(mappings)),
		byFilterKey: make(map[string][]*mapping.Mapping),
	}
	for _, m := range mappings {
		if m.Direction != mapping.DirectionOutbound {
			continue
		}
		index.byID[m.ID] = m
		if m.FilterExpression == "" {
			r.logger.Warn("outbound mapping has no filter expression, excluded from resolution",
				"tenant", tenant, "mapping", m.ID)
			continue
		}
		index.byFilterKey[m.FilterExpression] = append(index.byFilterKey[m.FilterExpression], m)
	}
	index.filterKeys = make([]string, 0, len(index.byFilterKey))
	for key := range index.byFilterKey {
		index.filterKeys = append(index.filterKeys, key)
	}
	sort.Strings(index.filterKeys)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[tenant]; !ok {
		return errors.WrapInvalid(errors.ErrTenantNotSubscribed,
			"Outbound", "Rebuild", "no outbound index for tenant "+tenant)
	}
	r.tenants[tenant] = index
	return nil
}

// Get returns an outbound mapping by id, including ones excluded from the
// resolution index.
func (r *Outbound) Get(tenant, id string) (*mapping.Mapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	index, ok := r.tenants[tenant]
	if !ok {
		return nil, false
	}
	m, ok := index.byID[id]
	return m, ok
}

// Resolve returns all active outbound mappings matching the event: target
// API equal, filter expression truthy against the payload, and the inventory
// predicate satisfied when configured. Evaluation errors count as no-match.
func (r *Outbound) Resolve(ctx context.Context, tenant string, event *Event) ([]*mapping.Mapping, error) {
	r.mu.RLock()
	index, ok := r.tenants[tenant]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrTenantNotSubscribed,
			"Outbound", "Resolve", "no outbound index for tenant "+tenant)
	}

	var matches []*mapping.Mapping
	for _, key := range index.filterKeys {
		group := index.byFilterKey[key]
		if !r.groupApplies(group, event) {
			continue
		}
		if !r.expressionMatches(tenant, key, event.Payload) {
			continue
		}
		for _, m := range group {
			if !m.Active || m.TargetAPI != event.API {
				continue
			}
			if m.FilterInventory != "" && !r.inventoryMatches(ctx, tenant, m, event) {
				continue
			}
			matches = append(matches, m)
		}
	}

	if r.metrics != nil {
		outcome := "matched"
		if len(matches) == 0 {
			outcome = "unmatched"
		}
		r.metrics.MessagesResolvedOutbound.WithLabelValues(tenant, outcome).Inc()
	}
	return matches, nil
}

// groupApplies skips expression evaluation when no mapping in the group
// could match the event anyway.
func (r *Outbound) groupApplies(group []*mapping.Mapping, event *Event) bool {
	for _, m := range group {
		if m.Active && m.TargetAPI == event.API {
			return true
		}
	}
	return false
}

// expressionMatches evaluates one filter expression against the event
// payload. A result matches iff it is truthy; evaluation errors are logged
// at debug level and count as no-match.
func (r *Outbound) expressionMatches(tenant, expression string, payload map[string]any) bool {
	result, err := r.evaluator.Evaluate(expression, payload)
	if err != nil {
		r.logger.Debug("filter expression evaluation failed, treating as no-match",
			"tenant", tenant, "expression", expression, "error", err)
		return false
	}
	return filter.IsTruthy(result)
}

// inventoryMatches checks the per-device inventory predicate. The event must
// carry a resolvable source device whose cached projection satisfies the
// expression.
func (r *Outbound) inventoryMatches(ctx context.Context, tenant string, m *mapping.Mapping, event *Event) bool {
	sourceID := event.SourceID()
	if sourceID == "" {
		r.logger.Debug("inventory filter requires a source device id, treating as no-match",
			"tenant", tenant, "mapping", m.ID)
		return false
	}
	if r.inventory == nil {
		r.logger.Debug("no inventory provider configured, treating as no-match",
			"tenant", tenant, "mapping", m.ID)
		return false
	}

	projection, found, err := r.inventory.Projection(ctx, tenant, sourceID)
	if err != nil {
		r.logger.Warn("inventory projection lookup failed, treating as no-match",
			"tenant", tenant, "mapping", m.ID, "device", sourceID, "error", err)
		return false
	}
	if !found {
		r.logger.Debug("no inventory projection for device, treating as no-match",
			"tenant", tenant, "mapping", m.ID, "device", sourceID)
		return false
	}

	result, err := r.evaluator.Evaluate(m.FilterInventory, projection)
	if err != nil {
		r.logger.Debug("inventory filter evaluation failed, treating as no-match",
			"tenant", tenant, "mapping", m.ID, "error", err)
		return false
	}
	return filter.IsTruthy(result)
}
