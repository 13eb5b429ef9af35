package metrics

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/event"
)

const (
	// shardCount spreads (user, thread) entries across independently locked
	// shards so unrelated users' event recording never serializes.
	shardCount = 32

	// recentWindow is the per-entity bounded recent-event history depth.
	recentWindow = 50

	// DefaultIdleTTL is how long a (user, thread) entry survives without a
	// new event before the eviction sweep removes it.
	DefaultIdleTTL = time.Hour
)

// Key identifies one per-entity metrics record.
type Key struct {
	UserID   string
	ThreadID string
}

// userMetrics holds the live counters for one (user, thread) pair. All fields
// are guarded by the owning shard's mutex.
type userMetrics struct {
	attempted           uint64
	delivered           uint64
	failed              uint64
	silentFailures      uint64
	connectionDrops     uint64
	reconnections       uint64
	consecutiveFailures uint64
	recent              *event.Ring
	lastEventAt         time.Time
}

// systemMetrics mirrors the per-entity counters globally plus cross-cutting
// counters. Guarded by its own mutex; never reset.
type systemMetrics struct {
	mu sync.Mutex

	attempted           uint64
	delivered           uint64
	failed              uint64
	silentFailures      uint64
	connectionDrops     uint64
	reconnections       uint64
	bridgeInits         uint64
	bridgeInitFailures  uint64
	isolationViolations uint64
	crossUserEvents     uint64
	memoryGrowthEvents  uint64
	activeConnections   int64
	startedAt           time.Time
}

type shard struct {
	mu   sync.RWMutex
	data map[Key]*userMetrics
}

// Recorder is the single mutation entry point for the event and metrics model.
// RecordEvent updates exactly one per-entity record and the one system record,
// then appends to the bounded event history. Safe for concurrent use by many
// producers; recording never blocks on I/O.
type Recorder struct {
	shards  [shardCount]*shard
	system  systemMetrics
	history *event.Ring
	idleTTL time.Duration
	prom    *Collectors
	now     func() time.Time // injectable for deterministic tests
}

// NewRecorder creates a Recorder retaining historySize events and evicting
// entity records idle longer than idleTTL. prom may be nil; counters are then
// kept in-memory only.
func NewRecorder(historySize int, idleTTL time.Duration, prom *Collectors) *Recorder {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	r := &Recorder{
		history: event.NewRing(historySize),
		idleTTL: idleTTL,
		prom:    prom,
		now:     time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &shard{data: make(map[Key]*userMetrics)}
	}
	r.system.startedAt = r.now()
	return r
}

func (r *Recorder) shardFor(k Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.UserID))
	h.Write([]byte{0})
	h.Write([]byte(k.ThreadID))
	return r.shards[h.Sum32()%shardCount]
}

// RecordEvent applies e to the per-entity and system counters and appends it
// to the event history. Events with an empty user id still update system
// counters and history.
func (r *Recorder) RecordEvent(e event.Event) {
	if e.At.IsZero() {
		e.At = r.now()
	}

	if e.UserID != "" {
		r.recordUser(Key{UserID: e.UserID, ThreadID: e.ThreadID}, e)
	}
	r.recordSystem(e)
	r.history.Append(e)
	r.prom.IncEvent(string(e.Kind))
}

func (r *Recorder) recordUser(k Key, e event.Event) {
	s := r.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data[k]
	if !ok {
		u = &userMetrics{recent: event.NewRing(recentWindow)}
		s.data[k] = u
	}

	switch e.Kind {
	case event.KindAttemptStarted, event.KindBridgeInitStarted:
		satAdd(&u.attempted, 1)
	case event.KindDelivered, event.KindBridgeInitSuccess:
		satAdd(&u.delivered, 1)
		u.consecutiveFailures = 0
	case event.KindFailed, event.KindBridgeInitFailed:
		satAdd(&u.failed, 1)
		satAdd(&u.consecutiveFailures, 1)
	case event.KindSilentFailure:
		satAdd(&u.silentFailures, 1)
		satAdd(&u.consecutiveFailures, 1)
	case event.KindConnectionLost:
		satAdd(&u.connectionDrops, 1)
	case event.KindConnectionRestored:
		satAdd(&u.reconnections, 1)
	}

	u.recent.Append(e)
	u.lastEventAt = e.At
}

func (r *Recorder) recordSystem(e event.Event) {
	sys := &r.system
	sys.mu.Lock()
	defer sys.mu.Unlock()

	switch e.Kind {
	case event.KindAttemptStarted:
		satAdd(&sys.attempted, 1)
	case event.KindBridgeInitStarted:
		satAdd(&sys.attempted, 1)
		satAdd(&sys.bridgeInits, 1)
	case event.KindDelivered, event.KindBridgeInitSuccess:
		satAdd(&sys.delivered, 1)
	case event.KindFailed:
		satAdd(&sys.failed, 1)
	case event.KindBridgeInitFailed:
		satAdd(&sys.failed, 1)
		satAdd(&sys.bridgeInitFailures, 1)
	case event.KindSilentFailure:
		satAdd(&sys.silentFailures, 1)
	case event.KindConnectionLost:
		satAdd(&sys.connectionDrops, 1)
		if sys.activeConnections > 0 {
			sys.activeConnections--
		}
	case event.KindConnectionRestored:
		satAdd(&sys.reconnections, 1)
		sys.activeConnections++
	case event.KindIsolationViolation:
		satAdd(&sys.isolationViolations, 1)
		satAdd(&sys.crossUserEvents, 1)
	}
	r.prom.SetActiveConnections(float64(sys.activeConnections))
}

// NoteConnectionOpened bumps the active connection count without recording a
// lifecycle event. Used when a bridge connection is established outside the
// lost/restored cycle.
func (r *Recorder) NoteConnectionOpened() {
	r.system.mu.Lock()
	r.system.activeConnections++
	n := r.system.activeConnections
	r.system.mu.Unlock()
	r.prom.SetActiveConnections(float64(n))
}

// NoteMemoryGrowth records one detected memory-growth episode.
func (r *Recorder) NoteMemoryGrowth() {
	r.system.mu.Lock()
	satAdd(&r.system.memoryGrowthEvents, 1)
	r.system.mu.Unlock()
}

// RecentEvents returns up to limit events from the global history, newest
// first, optionally filtered by kind. The result is a copy.
func (r *Recorder) RecentEvents(limit int, kind event.Kind) []event.Event {
	return r.history.Recent(limit, kind)
}

// EvictIdle removes entity records whose last event is older than now minus
// the idle TTL. Returns the number of records removed.
func (r *Recorder) EvictIdle(now time.Time) int {
	cutoff := now.Add(-r.idleTTL)
	removed := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for k, u := range s.data {
			if u.lastEventAt.Before(cutoff) {
				delete(s.data, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	r.prom.SetTrackedUsers(float64(r.trackedCount()))
	return removed
}

func (r *Recorder) trackedCount() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.data)
		s.mu.RUnlock()
	}
	return n
}

// satAdd adds delta to *v, saturating at the maximum instead of wrapping.
func satAdd(v *uint64, delta uint64) {
	if *v > math.MaxUint64-delta {
		*v = math.MaxUint64
		return
	}
	*v += delta
}
