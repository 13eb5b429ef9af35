package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/metrics"
)

const historyPerCheck = 100

// Evaluator runs a registry of named checks and derives the system-wide
// status: the worst status among constituent checks. An empty check set is
// healthy by definition. The latest result and a bounded history are retained
// per check.
type Evaluator struct {
	timeout time.Duration
	prom    *metrics.Collectors

	mu       sync.RWMutex
	checkers map[string]Checker
	latest   map[string]Result
	history  map[string][]Result
}

// NewEvaluator creates an Evaluator whose checks are individually bounded by
// checkTimeout. prom may be nil.
func NewEvaluator(checkTimeout time.Duration, prom *metrics.Collectors) *Evaluator {
	if checkTimeout <= 0 {
		checkTimeout = DefaultCheckTimeout
	}
	return &Evaluator{
		timeout:  checkTimeout,
		prom:     prom,
		checkers: make(map[string]Checker),
		latest:   make(map[string]Result),
		history:  make(map[string][]Result),
	}
}

// Register adds c under its own name, replacing any previous checker with
// that name.
func (e *Evaluator) Register(c Checker) {
	e.mu.Lock()
	e.checkers[c.Name()] = c
	e.mu.Unlock()
}

// RunAll executes every registered check and records results. Check errors
// are converted into failed results at the check boundary, never propagated.
func (e *Evaluator) RunAll(ctx context.Context) map[string]Result {
	e.mu.RLock()
	checkers := make([]Checker, 0, len(e.checkers))
	for _, c := range e.checkers {
		checkers = append(checkers, c)
	}
	e.mu.RUnlock()

	out := make(map[string]Result, len(checkers))
	for _, c := range checkers {
		res := Run(ctx, c, e.timeout)
		out[c.Name()] = res
		if !res.Healthy {
			e.prom.IncHealthCheckFailure(c.Name())
		}
	}

	e.mu.Lock()
	for name, res := range out {
		e.latest[name] = res
		h := append(e.history[name], res)
		if len(h) > historyPerCheck {
			h = h[len(h)-historyPerCheck:]
		}
		e.history[name] = h
	}
	e.mu.Unlock()
	return out
}

// Latest returns the most recent result per check, keyed by component name.
func (e *Evaluator) Latest() map[string]Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]Result, len(e.latest))
	for k, v := range e.latest {
		out[k] = v
	}
	return out
}

// History returns the bounded result history for one check, oldest first.
func (e *Evaluator) History(component string) []Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.history[component]
	out := make([]Result, len(h))
	copy(out, h)
	return out
}

// SystemStatus returns the worst status among the latest results, plus the
// names of every component currently below healthy, sorted for stable output.
func (e *Evaluator) SystemStatus() (Status, []string) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := StatusHealthy
	var issues []string
	for name, res := range e.latest {
		status = Worst(status, res.Status)
		if res.Status != StatusHealthy {
			issues = append(issues, name)
		}
	}
	sort.Strings(issues)
	return status, issues
}
