// Package alert defines the Alert record and its severity, escalation tier,
// and lifecycle state vocabularies, shared by the rule engine, the escalation
// controller, and the notification dispatcher.
package alert
