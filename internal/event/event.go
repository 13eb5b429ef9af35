package event

import "time"

// Kind identifies the lifecycle occurrence an Event records.
type Kind string

const (
	KindAttemptStarted     Kind = "attempt_started"
	KindDelivered          Kind = "delivered"
	KindFailed             Kind = "failed"
	KindSilentFailure      Kind = "silent_failure_detected"
	KindConnectionLost     Kind = "connection_lost"
	KindConnectionRestored Kind = "connection_restored"
	KindIsolationViolation Kind = "isolation_violation"
	KindBridgeInitStarted  Kind = "bridge_init_started"
	KindBridgeInitSuccess  Kind = "bridge_init_succeeded"
	KindBridgeInitFailed   Kind = "bridge_init_failed"
)

// Event is one immutable record of a notification-channel lifecycle occurrence.
// Events are created at the moment an occurrence is observed and never mutated
// afterwards; callers must not modify an Event after handing it to a recorder.
type Event struct {
	Kind Kind `json:"kind"`

	// CorrelationID links an attempt to its eventual terminal event.
	// Empty for occurrences that have no operation lifecycle (connection
	// state changes, isolation violations).
	CorrelationID string `json:"correlation_id,omitempty"`

	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id,omitempty"`
	RunID    string `json:"run_id,omitempty"`

	// Agent and Tool attribute the event to the producing agent and the tool
	// invocation behind it, when known.
	Agent string `json:"agent,omitempty"`
	Tool  string `json:"tool,omitempty"`

	// Connection names the underlying channel connection, when known.
	Connection string `json:"connection,omitempty"`

	// Duration is how long the operation took, for terminal events.
	Duration time.Duration `json:"duration,omitempty"`

	Success bool `json:"success"`

	// ErrorType is a coarse classification ("timeout", "auth", ...);
	// Error carries the free-form message. Both empty on success.
	ErrorType string `json:"error_type,omitempty"`
	Error     string `json:"error,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	At time.Time `json:"at"`
}

// Terminal reports whether the kind ends an in-flight operation.
func (k Kind) Terminal() bool {
	switch k {
	case KindDelivered, KindFailed, KindBridgeInitSuccess, KindBridgeInitFailed:
		return true
	}
	return false
}
