// Package health converts raw signals into discrete component health: a
// timeout-bounded check runner, a score-to-status mapping with worst-of
// aggregation, a circuit breaker for flaky dependency checks, and probes for
// the pipeline, the pending backlog, the process runtime, and external
// Prometheus metric endpoints.
package health
