// Package metrics holds the event and metrics model: per-entity and
// system-wide counters updated through a single concurrent-safe recorder,
// point-in-time snapshots for evaluators, idle eviction of stale entities,
// and Prometheus export of the subsystem's own operational counters.
package metrics
