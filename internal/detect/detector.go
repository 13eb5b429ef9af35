package detect

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/event"
	"github.com/bridgewatch/bridgewatch/internal/metrics"
)

const (
	// DefaultWindow is how long an operation may stay in flight before the
	// sweep declares it silently failed.
	DefaultWindow = 60 * time.Second

	// DefaultSweepInterval is how often the registry is scanned.
	DefaultSweepInterval = 60 * time.Second

	shardCount = 32

	// expiredCap bounds how many expired entries are retained for late
	// terminal attribution.
	expiredCap = 1024
)

// Operation describes one in-flight operation being tracked.
type Operation struct {
	UserID     string
	ThreadID   string
	RunID      string
	Agent      string
	Tool       string
	Connection string

	// Label names the operation for diagnostics ("notification", "bridge_init").
	Label string
}

// Pending is an Operation together with its observation timestamp.
type Pending struct {
	Operation
	CorrelationID string
	StartedAt     time.Time
}

type shard struct {
	mu   sync.Mutex
	data map[string]Pending
}

// Detector owns the registry of in-flight operations and the sweep that
// converts expired entries into silent-failure events. A silent failure is an
// operation that neither succeeded nor raised any error within the detection
// window, so detection relies only on elapsed time — never on an error channel.
//
// Safe for concurrent use; Track and Resolve are producer-path calls and must
// stay cheap.
type Detector struct {
	shards [shardCount]*shard
	window time.Duration
	emit   func(event.Event)
	prom   *metrics.Collectors
	now    func() time.Time // injectable for deterministic tests

	// Expired entries are kept around (bounded, oldest evicted first) so a
	// terminal event arriving after the sweep can still be attributed to its
	// original user/thread and recorded normally.
	expMu    sync.Mutex
	expired  map[string]Pending
	expOrder []string
}

// New creates a Detector with the given detection window. emit receives every
// synthesized silent-failure event; it must not block.
func New(window time.Duration, prom *metrics.Collectors, emit func(event.Event)) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	d := &Detector{
		window:  window,
		emit:    emit,
		prom:    prom,
		now:     time.Now,
		expired: make(map[string]Pending),
	}
	for i := range d.shards {
		d.shards[i] = &shard{data: make(map[string]Pending)}
	}
	return d
}

func (d *Detector) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return d.shards[h.Sum32()%shardCount]
}

// Track inserts id into the pending registry. Tracking an id that is already
// pending overwrites the previous entry; ids are produced by exactly one
// attempt event, so this only happens on producer retries.
func (d *Detector) Track(id string, op Operation) {
	// time.Now carries a monotonic reading, so the sweep's elapsed-time
	// comparison is immune to wall-clock adjustments.
	p := Pending{Operation: op, CorrelationID: id, StartedAt: d.now()}
	s := d.shardFor(id)
	s.mu.Lock()
	s.data[id] = p
	s.mu.Unlock()
	d.prom.SetPendingOperations(float64(d.PendingCount()))
}

// Resolve removes id on a terminal event and returns the pending entry it
// closed. Resolving an id that is absent (already resolved, or already
// expired by the sweep) is a no-op; a late duplicate terminal event must
// never crash or distort the registry.
func (d *Detector) Resolve(id string) (Pending, bool) {
	s := d.shardFor(id)
	s.mu.Lock()
	p, ok := s.data[id]
	if ok {
		delete(s.data, id)
	}
	s.mu.Unlock()
	if ok {
		d.prom.SetPendingOperations(float64(d.PendingCount()))
	}
	return p, ok
}

// Sweep scans the registry and, for every entry older than the detection
// window, removes it and emits exactly one silent-failure event carrying the
// original user/thread context. Removal and emission are a single step per id:
// a second sweep can never double-report. Returns the number of expirations.
func (d *Detector) Sweep(now time.Time) int {
	var expired []Pending
	for _, s := range d.shards {
		s.mu.Lock()
		// Snapshot the keys before deciding — producers mutate concurrently.
		ids := make([]string, 0, len(s.data))
		for id := range s.data {
			ids = append(ids, id)
		}
		for _, id := range ids {
			p := s.data[id]
			if now.Sub(p.StartedAt) >= d.window {
				delete(s.data, id)
				expired = append(expired, p)
			}
		}
		s.mu.Unlock()
	}

	for _, p := range expired {
		d.retainExpired(p)
		elapsed := now.Sub(p.StartedAt)
		e := event.Event{
			Kind:          event.KindSilentFailure,
			CorrelationID: p.CorrelationID,
			UserID:        p.UserID,
			ThreadID:      p.ThreadID,
			RunID:         p.RunID,
			Connection:    p.Connection,
			Duration:      elapsed,
			ErrorType:     "silent",
			Error: fmt.Sprintf("no terminal event for %s after %s (window %s)",
				p.Label, elapsed.Round(time.Second), d.window),
			At: now,
		}
		slog.Warn("detect: silent failure",
			"correlation_id", p.CorrelationID,
			"user", p.UserID,
			"thread", p.ThreadID,
			"operation", p.Label,
			"elapsed", elapsed.Round(time.Second),
		)
		d.prom.IncSilentFailure()
		if d.emit != nil {
			d.emit(e)
		}
	}

	if len(expired) > 0 {
		d.prom.SetPendingOperations(float64(d.PendingCount()))
	}
	return len(expired)
}

func (d *Detector) retainExpired(p Pending) {
	d.expMu.Lock()
	if _, ok := d.expired[p.CorrelationID]; !ok {
		for len(d.expOrder) >= expiredCap {
			delete(d.expired, d.expOrder[0])
			d.expOrder = d.expOrder[1:]
		}
		d.expOrder = append(d.expOrder, p.CorrelationID)
	}
	d.expired[p.CorrelationID] = p
	d.expMu.Unlock()
}

// TakeExpired removes and returns the retained entry for an id the sweep has
// already expired. It consumes the entry, so a second terminal event for the
// same id reports absent.
func (d *Detector) TakeExpired(id string) (Pending, bool) {
	d.expMu.Lock()
	defer d.expMu.Unlock()
	p, ok := d.expired[id]
	if !ok {
		return Pending{}, false
	}
	delete(d.expired, id)
	for i, eid := range d.expOrder {
		if eid == id {
			d.expOrder = append(d.expOrder[:i], d.expOrder[i+1:]...)
			break
		}
	}
	return p, true
}

// PendingCount returns the number of in-flight operations.
func (d *Detector) PendingCount() int {
	n := 0
	for _, s := range d.shards {
		s.mu.Lock()
		n += len(s.data)
		s.mu.Unlock()
	}
	return n
}

// PendingOps returns a copy of all in-flight operations, for diagnostics.
func (d *Detector) PendingOps() []Pending {
	var out []Pending
	for _, s := range d.shards {
		s.mu.Lock()
		for _, p := range s.data {
			out = append(out, p)
		}
		s.mu.Unlock()
	}
	return out
}
