// Package notify implements the multi-channel notification dispatcher:
// per-channel severity filters and hourly rate limits, registered delivery
// handlers (log, webhook, telegram), per-channel failure isolation, and a
// bounded delivery audit log with an optional Postgres persistence sink.
package notify
