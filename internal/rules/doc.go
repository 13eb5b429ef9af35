// Package rules implements the alert rule engine: a closed, typed condition
// vocabulary evaluated against metrics snapshots on a fixed interval, with
// per-rule cooldowns and trailing-hour caps damping alert storms.
package rules
