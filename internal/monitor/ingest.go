package monitor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/detect"
	"github.com/bridgewatch/bridgewatch/internal/event"
)

// Ingestion is the in-process producer API. Attempt calls return a
// correlation id the producer hands back on the matching terminal call. A
// terminal call for an id the sweep already expired is still accepted and
// recorded as a normal terminal event; it does not undo the silent-failure
// alert already raised.

// NotificationAttempted records the start of one notification delivery and
// begins silent-failure tracking for it. agent and tool attribute the attempt
// to the producing agent and tool invocation; either may be empty.
func (m *Monitor) NotificationAttempted(userID, threadID, runID, agent, tool, connection string) string {
	id := m.nextID("ntf")
	m.detector.Track(id, detect.Operation{
		UserID:     userID,
		ThreadID:   threadID,
		RunID:      runID,
		Agent:      agent,
		Tool:       tool,
		Connection: connection,
		Label:      "notification",
	})
	m.recorder.RecordEvent(event.Event{
		Kind:          event.KindAttemptStarted,
		CorrelationID: id,
		UserID:        userID,
		ThreadID:      threadID,
		RunID:         runID,
		Agent:         agent,
		Tool:          tool,
		Connection:    connection,
	})
	return id
}

// NotificationDelivered closes the attempt identified by id as a success.
func (m *Monitor) NotificationDelivered(id string) {
	m.terminal(id, event.KindDelivered, "", "")
}

// NotificationFailed closes the attempt identified by id with an explicit
// error.
func (m *Monitor) NotificationFailed(id, errorType, errMsg string) {
	m.terminal(id, event.KindFailed, errorType, errMsg)
}

// BridgeInitStarted records the start of a bridge initialization and begins
// silent-failure tracking for it.
func (m *Monitor) BridgeInitStarted(userID, threadID, connection string) string {
	id := m.nextID("init")
	m.detector.Track(id, detect.Operation{
		UserID:     userID,
		ThreadID:   threadID,
		Connection: connection,
		Label:      "bridge_init",
	})
	m.recorder.RecordEvent(event.Event{
		Kind:          event.KindBridgeInitStarted,
		CorrelationID: id,
		UserID:        userID,
		ThreadID:      threadID,
		Connection:    connection,
	})
	return id
}

// BridgeInitSucceeded closes the initialization identified by id and bumps
// the active connection count.
func (m *Monitor) BridgeInitSucceeded(id string) {
	if m.terminal(id, event.KindBridgeInitSuccess, "", "") {
		m.recorder.NoteConnectionOpened()
	}
}

// BridgeInitFailed closes the initialization identified by id with an error.
func (m *Monitor) BridgeInitFailed(id, errorType, errMsg string) {
	m.terminal(id, event.KindBridgeInitFailed, errorType, errMsg)
}

// ConnectionLost records a dropped bridge connection.
func (m *Monitor) ConnectionLost(userID, threadID, connection, reason string) {
	m.recorder.RecordEvent(event.Event{
		Kind:       event.KindConnectionLost,
		UserID:     userID,
		ThreadID:   threadID,
		Connection: connection,
		Error:      reason,
	})
}

// ConnectionRestored records a re-established bridge connection.
func (m *Monitor) ConnectionRestored(userID, threadID, connection string) {
	m.recorder.RecordEvent(event.Event{
		Kind:       event.KindConnectionRestored,
		UserID:     userID,
		ThreadID:   threadID,
		Connection: connection,
		Success:    true,
	})
}

// IsolationViolation records content intended for one user observed on
// another user's channel. expected is the owner, observed the recipient.
func (m *Monitor) IsolationViolation(expected, observed, threadID, detail string) {
	m.recorder.RecordEvent(event.Event{
		Kind:      event.KindIsolationViolation,
		UserID:    expected,
		ThreadID:  threadID,
		ErrorType: "isolation",
		Error:     detail,
		Metadata:  map[string]string{"observed_user": observed},
	})
	slog.Error("monitor: isolation violation",
		"expected_user", expected, "observed_user", observed, "thread", threadID)
}

// terminal resolves the pending operation and records its terminal event.
// An id the sweep already expired is looked up in the detector's retained
// expired set, so a late terminal still lands with its original attribution
// and updates metrics normally. Reports whether the id was still pending.
func (m *Monitor) terminal(id string, kind event.Kind, errorType, errMsg string) bool {
	p, pending := m.detector.Resolve(id)
	if !pending {
		var known bool
		p, known = m.detector.TakeExpired(id)
		if !known {
			// Duplicate terminal, or an id this process never issued.
			slog.Debug("monitor: terminal event for unknown operation", "id", id, "kind", kind)
			return false
		}
		slog.Info("monitor: late terminal event after silent-failure expiry",
			"id", id, "kind", kind, "user", p.UserID)
	}
	m.recorder.RecordEvent(event.Event{
		Kind:          kind,
		CorrelationID: id,
		UserID:        p.UserID,
		ThreadID:      p.ThreadID,
		RunID:         p.RunID,
		Agent:         p.Agent,
		Tool:          p.Tool,
		Connection:    p.Connection,
		Duration:      time.Since(p.StartedAt),
		Success:       errMsg == "" && errorType == "",
		ErrorType:     errorType,
		Error:         errMsg,
	})
	return pending
}

// nextID builds a process-unique correlation id.
func (m *Monitor) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), m.seq.Add(1))
}
