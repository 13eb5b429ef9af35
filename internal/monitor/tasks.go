package monitor

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// TaskStatus is the liveness report of one supervised background loop,
// surfaced by the comprehensive health view.
type TaskStatus struct {
	Name     string    `json:"name"`
	LastRun  time.Time `json:"last_run"`
	Runs     uint64    `json:"runs"`
	Restarts uint64    `json:"restarts"`
}

type taskState struct {
	mu       sync.Mutex
	lastRun  time.Time
	runs     uint64
	restarts uint64
}

// supervisor runs named periodic loops. A panic in one tick is recovered,
// counted as a restart, and the loop keeps its cadence; one broken subsystem
// never takes the monitor down.
type supervisor struct {
	mu    sync.Mutex
	tasks map[string]*taskState
	wg    sync.WaitGroup
}

func newSupervisor() *supervisor {
	return &supervisor{tasks: make(map[string]*taskState)}
}

// run starts a loop that calls fn every interval until ctx is cancelled.
func (s *supervisor) run(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	st := &taskState{}
	s.mu.Lock()
	s.tasks[name] = st
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()

		slog.Debug("monitor: task started", "task", name, "interval", interval)
		for {
			select {
			case <-ctx.Done():
				slog.Debug("monitor: task stopped", "task", name)
				return
			case <-t.C:
				s.tick(ctx, name, st, fn)
			}
		}
	}()
}

func (s *supervisor) tick(ctx context.Context, name string, st *taskState, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			st.mu.Lock()
			st.restarts++
			st.mu.Unlock()
			slog.Error("monitor: task panicked, continuing",
				"task", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	fn(ctx)

	st.mu.Lock()
	st.lastRun = time.Now()
	st.runs++
	st.mu.Unlock()
}

// statuses returns a liveness report for every task, sorted by name.
func (s *supervisor) statuses() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for name, st := range s.tasks {
		st.mu.Lock()
		out = append(out, TaskStatus{
			Name:     name,
			LastRun:  st.lastRun,
			Runs:     st.runs,
			Restarts: st.restarts,
		})
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// wait blocks until every loop has exited, or the timeout passes.
func (s *supervisor) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
