// Package metric provides Prometheus-based metrics collection and an HTTP
// server for mapgate observability.
//
// The package offers a centralized metrics registry managing both core
// gateway metrics (tenant lifecycle, resolution counts, downstream call
// health) and component-specific metrics registered through the
// MetricsRegistrar interface. The HTTP server exposes metrics in Prometheus
// format at /metrics together with a /health endpoint.
//
// All core metrics use the namespace "mapgate":
//   - mapgate_tenant_status{tenant="..."}
//   - mapgate_resolver_inbound_resolutions_total{tenant="...",outcome="..."}
//   - mapgate_downstream_calls_total{operation="..."}
//
// All registry operations are thread-safe. Registration returns a classified
// error on duplicate registration or Prometheus conflicts.
package metric
