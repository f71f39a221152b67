// Package mapgate is the core of a multi-tenant IoT message-mapping
// gateway. It routes raw transport messages (MQTT, Kafka, webhook) to the
// mappings a tenant has configured, and routes outbound platform events back
// through filter expressions to the connectors that should carry them.
//
// # Architecture
//
// Per tenant, the gateway maintains:
//
//   - an inbound topic tree resolving wildcard topic patterns (+, #) to
//     mappings (resolver.Inbound);
//   - an outbound filter index grouping mappings by filter expression and
//     evaluating each expression once per event (resolver.Outbound);
//   - bounded LRU caches for external identity resolution (identity) and
//     projected inventory attributes (inventory), both guarded by a global
//     admission gate (platform.Gate) that bounds concurrent calls to the
//     device-management platform;
//   - a mapping registry (registry) owning CRUD, activation, per-mapping
//     status counters, the connector deployment map and failure-streak
//     auto-deactivation.
//
// The tenant lifecycle (bootstrap, connector startup, scheduled cache
// retention housekeeping, teardown) is driven by the orchestrator
// package. Operational events travel over NATS (events), metrics are served
// through Prometheus (metric).
//
// External collaborators (identity service, inventory service, notification
// subscriber, configuration store) are consumed at interface boundaries
// declared in the platform package; platform/natsapi provides the NATS
// request/reply implementation used by cmd/mapgate.
package mapgate
