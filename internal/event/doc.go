// Package event defines the immutable lifecycle event records produced by the
// monitored notification channel, and a bounded ring buffer that retains the
// most recent events for diagnostics.
package event
