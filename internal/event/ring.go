package event

import "sync"

// Ring is a bounded, insertion-ordered event history. When full, the oldest
// entry is evicted first. Safe for concurrent use.
type Ring struct {
	mu    sync.RWMutex
	buf   []Event
	head  int // next write position
	count int
}

// NewRing creates a Ring holding at most capacity events.
// A capacity below 1 is treated as 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]Event, capacity)}
}

// Append adds e, evicting the oldest entry if the ring is full.
func (r *Ring) Append(e Event) {
	r.mu.Lock()
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

// Recent returns up to limit events, newest first. A zero or negative limit
// returns all retained events. If kind is non-empty, only events of that kind
// are returned. The result is a copy; callers may retain it.
func (r *Ring) Recent(limit int, kind Kind) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]Event, 0, limit)
	// Walk backwards from the most recent write.
	for i := 1; i <= r.count && len(out) < limit; i++ {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		e := r.buf[idx]
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of retained events.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
