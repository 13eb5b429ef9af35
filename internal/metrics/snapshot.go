package metrics

import (
	"time"

	"github.com/bridgewatch/bridgewatch/internal/event"
)

// UserSnapshot is a point-in-time copy of one (user, thread) record.
// Snapshots are values; evaluators never observe a half-updated aggregate.
type UserSnapshot struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id,omitempty"`

	Attempted           uint64 `json:"attempted"`
	Delivered           uint64 `json:"delivered"`
	Failed              uint64 `json:"failed"`
	SilentFailures      uint64 `json:"silent_failures"`
	ConnectionDrops     uint64 `json:"connection_drops"`
	Reconnections       uint64 `json:"reconnections"`
	ConsecutiveFailures uint64 `json:"consecutive_failures"`

	// SuccessRate is delivered/attempted clamped to [0,1]; 1.0 when nothing
	// has been attempted yet. ErrorRate is its complement.
	SuccessRate float64 `json:"success_rate"`
	ErrorRate   float64 `json:"error_rate"`

	LastEventAt time.Time `json:"last_event_at"`
}

// SystemSnapshot is a point-in-time copy of the global counters.
type SystemSnapshot struct {
	Attempted           uint64 `json:"attempted"`
	Delivered           uint64 `json:"delivered"`
	Failed              uint64 `json:"failed"`
	SilentFailures      uint64 `json:"silent_failures"`
	ConnectionDrops     uint64 `json:"connection_drops"`
	Reconnections       uint64 `json:"reconnections"`
	BridgeInits         uint64 `json:"bridge_inits"`
	BridgeInitFailures  uint64 `json:"bridge_init_failures"`
	IsolationViolations uint64 `json:"isolation_violations"`
	CrossUserEvents     uint64 `json:"cross_user_events"`
	MemoryGrowthEvents  uint64 `json:"memory_growth_events"`
	ActiveConnections   int64  `json:"active_connections"`

	SuccessRate float64 `json:"success_rate"`
	ErrorRate   float64 `json:"error_rate"`

	TrackedUsers int       `json:"tracked_users"`
	StartedAt    time.Time `json:"started_at"`
}

// Source is the read capability the rule engine and the health evaluator
// depend on, implemented by Recorder.
type Source interface {
	Snapshot() SystemSnapshot
	Users() map[Key]UserSnapshot
	RecentEvents(limit int, kind event.Kind) []event.Event
}

// Snapshot returns a copy of the system-wide counters with derived rates.
func (r *Recorder) Snapshot() SystemSnapshot {
	sys := &r.system
	sys.mu.Lock()
	snap := SystemSnapshot{
		Attempted:           sys.attempted,
		Delivered:           sys.delivered,
		Failed:              sys.failed,
		SilentFailures:      sys.silentFailures,
		ConnectionDrops:     sys.connectionDrops,
		Reconnections:       sys.reconnections,
		BridgeInits:         sys.bridgeInits,
		BridgeInitFailures:  sys.bridgeInitFailures,
		IsolationViolations: sys.isolationViolations,
		CrossUserEvents:     sys.crossUserEvents,
		MemoryGrowthEvents:  sys.memoryGrowthEvents,
		ActiveConnections:   sys.activeConnections,
		StartedAt:           sys.startedAt,
	}
	sys.mu.Unlock()

	snap.SuccessRate = successRate(snap.Delivered, snap.Attempted)
	snap.ErrorRate = clamp01(1 - snap.SuccessRate)
	snap.TrackedUsers = r.trackedCount()
	return snap
}

// Users returns point-in-time copies of every tracked entity record.
func (r *Recorder) Users() map[Key]UserSnapshot {
	out := make(map[Key]UserSnapshot)
	for _, s := range r.shards {
		s.mu.RLock()
		for k, u := range s.data {
			out[k] = toUserSnapshot(k, u)
		}
		s.mu.RUnlock()
	}
	return out
}

// User returns the snapshot for one entity, if tracked.
func (r *Recorder) User(k Key) (UserSnapshot, bool) {
	s := r.shardFor(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data[k]
	if !ok {
		return UserSnapshot{}, false
	}
	return toUserSnapshot(k, u), true
}

// UserEvents returns the bounded recent-event window for one entity, newest first.
func (r *Recorder) UserEvents(k Key, limit int) []event.Event {
	s := r.shardFor(k)
	s.mu.RLock()
	u, ok := s.data[k]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return u.recent.Recent(limit, "")
}

func toUserSnapshot(k Key, u *userMetrics) UserSnapshot {
	snap := UserSnapshot{
		UserID:              k.UserID,
		ThreadID:            k.ThreadID,
		Attempted:           u.attempted,
		Delivered:           u.delivered,
		Failed:              u.failed,
		SilentFailures:      u.silentFailures,
		ConnectionDrops:     u.connectionDrops,
		Reconnections:       u.reconnections,
		ConsecutiveFailures: u.consecutiveFailures,
		LastEventAt:         u.lastEventAt,
	}
	snap.SuccessRate = successRate(snap.Delivered, snap.Attempted)
	snap.ErrorRate = clamp01(1 - snap.SuccessRate)
	return snap
}

// successRate is delivered/attempted clamped to [0,1], defaulting to 1.0
// when attempted is zero.
func successRate(delivered, attempted uint64) float64 {
	if attempted == 0 {
		return 1.0
	}
	return clamp01(float64(delivered) / float64(attempted))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
