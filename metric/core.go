package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all gateway-level metrics (not tenant business data)
type Metrics struct {
	// Tenant lifecycle
	TenantStatus *prometheus.GaugeVec

	// Mapping resolution
	MessagesResolvedInbound  *prometheus.CounterVec
	MessagesResolvedOutbound *prometheus.CounterVec

	// Mapping health
	MappingFailures     *prometheus.CounterVec
	MappingsDeactivated *prometheus.CounterVec

	// Cache housekeeping
	CacheClears *prometheus.CounterVec

	// Downstream platform calls
	DownstreamCalls  *prometheus.CounterVec
	DownstreamErrors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all gateway metrics
func NewMetrics() *Metrics {
	return &Metrics{
		TenantStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mapgate",
				Subsystem: "tenant",
				Name:      "status",
				Help:      "Tenant lifecycle status (0=unsubscribed, 1=bootstrapping, 2=ready, 3=unsubscribing)",
			},
			[]string{"tenant"},
		),

		MessagesResolvedInbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mapgate",
				Subsystem: "resolver",
				Name:      "inbound_resolutions_total",
				Help:      "Total number of inbound topic resolutions",
			},
			[]string{"tenant", "outcome"},
		),

		MessagesResolvedOutbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mapgate",
				Subsystem: "resolver",
				Name:      "outbound_resolutions_total",
				Help:      "Total number of outbound filter resolutions",
			},
			[]string{"tenant", "outcome"},
		),

		MappingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mapgate",
				Subsystem: "mapping",
				Name:      "failures_total",
				Help:      "Total number of recorded mapping processing failures",
			},
			[]string{"tenant"},
		),

		MappingsDeactivated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mapgate",
				Subsystem: "mapping",
				Name:      "auto_deactivated_total",
				Help:      "Total number of mappings auto-deactivated after repeated failures",
			},
			[]string{"tenant"},
		),

		CacheClears: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mapgate",
				Subsystem: "cache",
				Name:      "retention_clears_total",
				Help:      "Total number of scheduled cache retention clears",
			},
			[]string{"tenant", "cache"},
		),

		DownstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mapgate",
				Subsystem: "downstream",
				Name:      "calls_total",
				Help:      "Total number of calls to the device-management platform",
			},
			[]string{"operation"},
		),

		DownstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mapgate",
				Subsystem: "downstream",
				Name:      "errors_total",
				Help:      "Total number of failed calls to the device-management platform",
			},
			[]string{"operation"},
		),
	}
}
