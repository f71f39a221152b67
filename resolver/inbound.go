package resolver

import (
	"log/slog"
	"sync"

	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/mapping"
	"github.com/c360/mapgate/metric"
)

// Inbound resolves transport topics to the mappings subscribed to them, one
// topic tree per subscribed tenant.
type Inbound struct {
	mu      sync.RWMutex
	trees   map[string]*TopicTree
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewInbound creates an inbound resolver. metrics may be nil in tests.
func NewInbound(logger *slog.Logger, metrics *metric.Metrics) *Inbound {
	return &Inbound{
		trees:   make(map[string]*TopicTree),
		logger:  logger.With("component", "inbound-resolver"),
		metrics: metrics,
	}
}

// InitTenant creates an empty tree for a tenant. Idempotent.
func (r *Inbound) InitTenant(tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trees[tenant]; !ok {
		r.trees[tenant] = NewTopicTree()
	}
}

// ReleaseTenant drops a tenant's tree.
func (r *Inbound) ReleaseTenant(tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.trees, tenant)
}

func (r *Inbound) tree(tenant string) (*TopicTree, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tree, ok := r.trees[tenant]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrTenantNotSubscribed,
			"Inbound", "tree", "no topic tree for tenant "+tenant)
	}
	return tree, nil
}

// AddMapping indexes one inbound mapping incrementally.
func (r *Inbound) AddMapping(tenant string, m *mapping.Mapping) error {
	tree, err := r.tree(tenant)
	if err != nil {
		return err
	}
	if err := tree.Add(m); err != nil {
		return err
	}
	r.logger.Debug("mapping indexed",
		"tenant", tenant, "mapping", m.ID, "pattern", m.TopicPattern)
	return nil
}

// DeleteMapping removes one inbound mapping incrementally.
func (r *Inbound) DeleteMapping(tenant string, m *mapping.Mapping) error {
	tree, err := r.tree(tenant)
	if err != nil {
		return err
	}
	return tree.Delete(m)
}

// Resolve returns all mappings matching a concrete topic, in deterministic
// tree order. An empty result is a valid outcome, not an error.
func (r *Inbound) Resolve(tenant, topic string) ([]*mapping.Mapping, error) {
	tree, err := r.tree(tenant)
	if err != nil {
		return nil, err
	}

	matches := tree.Resolve(topic)
	if r.metrics != nil {
		outcome := "matched"
		if len(matches) == 0 {
			outcome = "unmatched"
		}
		r.metrics.MessagesResolvedInbound.WithLabelValues(tenant, outcome).Inc()
	}
	return matches, nil
}

// RebuildAll replaces a tenant's tree from the full mapping set. The new
// tree is built aside and swapped in atomically, so concurrent Resolve calls
// see either the old or the new index, never a partial one. Mappings with
// invalid patterns are skipped and logged.
func (r *Inbound) RebuildAll(tenant string, mappings []*mapping.Mapping) error {
	fresh := NewTopicTree()
	for _, m := range mappings {
		if m.Direction != mapping.DirectionInbound || !m.Active {
			continue
		}
		if err := fresh.Add(m); err != nil {
			r.logger.Warn("skipping unindexable mapping on rebuild",
				"tenant", tenant, "mapping", m.ID, "error", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trees[tenant]; !ok {
		return errors.WrapInvalid(errors.ErrTenantNotSubscribed,
			"Inbound", "RebuildAll", "no topic tree for tenant "+tenant)
	}
	r.trees[tenant] = fresh
	return nil
}
