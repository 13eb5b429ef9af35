package alert

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity orders alerts and gates channel delivery: info < warning < critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityWarning:  "warning",
	SeverityCritical: "critical",
}

// ParseSeverity maps a config string to a Severity. Unknown strings are a
// configuration error and are rejected.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	}
	return 0, fmt.Errorf("unknown severity %q: want info|warning|critical", s)
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

func (s Severity) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Severity) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Tier is one of the ordered responder groups an unresolved alert is routed
// to over time.
type Tier int

const (
	TierOperations Tier = iota
	TierEngineering
	TierManagement
	TierExecutive

	// MaxTier is the highest tier escalation can reach.
	MaxTier = TierExecutive
)

var tierNames = map[Tier]string{
	TierOperations:  "operations",
	TierEngineering: "engineering",
	TierManagement:  "management",
	TierExecutive:   "executive",
}

// ParseTier maps a config string to a Tier. Unknown strings are rejected.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "operations":
		return TierOperations, nil
	case "engineering":
		return TierEngineering, nil
	case "management":
		return TierManagement, nil
	case "executive":
		return TierExecutive, nil
	}
	return 0, fmt.Errorf("unknown escalation tier %q: want operations|engineering|management|executive", s)
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

func (t Tier) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

func (t *Tier) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseTier(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// State is the lifecycle state of an alert.
type State string

const (
	StateFiring       State = "firing"
	StateAcknowledged State = "acknowledged"
	StateResolved     State = "resolved"
)

// Alert is one incident produced by the rule engine. It is created by the
// engine and from then on mutated only by the escalation controller. A
// resolved alert is terminal; a recurring condition produces a new Alert with
// a new id.
type Alert struct {
	ID       string   `json:"id"`
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Tier     Tier     `json:"tier"`

	Title   string `json:"title"`
	Message string `json:"message"`

	// UserID/ThreadID identify the entity attached to an entity-scoped alert
	// (the worst offender at trigger time). Empty for system-wide alerts.
	UserID   string `json:"user_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`

	// Value is the observed metric value that satisfied the condition;
	// Threshold is the rule's configured limit.
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`

	TriggeredAt     time.Time `json:"triggered_at"`
	EscalationCount int       `json:"escalation_count"`
	LastEscalatedAt time.Time `json:"last_escalated_at,omitempty"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`

	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy    string     `json:"resolved_by,omitempty"`
	ResolveReason string     `json:"resolve_reason,omitempty"`

	State State `json:"state"`
}
