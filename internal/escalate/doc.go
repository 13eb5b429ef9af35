// Package escalate owns the alert lifecycle after a rule fires: timed
// escalation through notification tiers, acknowledgement, manual resolution,
// and automatic resolution when a rule's condition clears. All alert state
// transitions happen here; the rule engine only creates alerts.
package escalate
