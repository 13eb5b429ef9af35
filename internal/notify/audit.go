package notify

import (
	"sync"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/alert"
)

// AuditRecord is one delivery attempt, kept for rate-limit accounting and
// audit regardless of outcome.
type AuditRecord struct {
	At       time.Time      `json:"at"`
	AlertID  string         `json:"alert_id"`
	Channel  string         `json:"channel"`
	Severity alert.Severity `json:"severity"`
	Kind     string         `json:"kind"`
	Outcome  string         `json:"outcome"` // "delivered" | "failed"
	Error    string         `json:"error,omitempty"`
}

// AuditSink is the seam to an external persistence collaborator. Record must
// not block the dispatch path for long; slow sinks should buffer internally.
type AuditSink interface {
	Record(rec AuditRecord)
}

// AuditLog is a bounded, insertion-ordered list of delivery attempts.
// Safe for concurrent use.
type AuditLog struct {
	mu    sync.RWMutex
	buf   []AuditRecord
	head  int
	count int
}

// NewAuditLog creates a log retaining at most capacity records.
func NewAuditLog(capacity int) *AuditLog {
	if capacity < 1 {
		capacity = 1
	}
	return &AuditLog{buf: make([]AuditRecord, capacity)}
}

// Append adds rec, evicting the oldest record if full.
func (l *AuditLog) Append(rec AuditRecord) {
	l.mu.Lock()
	l.buf[l.head] = rec
	l.head = (l.head + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
	l.mu.Unlock()
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns all retained records.
func (l *AuditLog) Recent(limit int) []AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]AuditRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		out = append(out, l.buf[(l.head-i+len(l.buf))%len(l.buf)])
	}
	return out
}

// Len returns the number of retained records.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
