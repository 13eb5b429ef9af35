// Package monitor assembles the full pipeline and owns its lifecycle. It
// wires the event recorder, silent-failure detector, health evaluator, rule
// engine, escalation controller and notification dispatcher from one config,
// exposes the producer ingestion API, and supervises the background loops
// with panic recovery and liveness reporting.
package monitor
