package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultFailureThreshold is how many consecutive failures open the circuit.
	DefaultFailureThreshold = 5

	// DefaultRecoveryTimeout is how long an open circuit suppresses the
	// wrapped check before the next call probes it again.
	DefaultRecoveryTimeout = 30 * time.Second
)

// Breaker decorates a Checker with circuit-breaker state so the rest of the
// system stops invoking a known-bad dependency check. While the circuit is
// open, Check returns a synthetic unhealthy result without touching the
// wrapped checker. Once the recovery timeout elapses, the next call probes
// the wrapped check directly; there is no separate half-open state. Any
// success closes the circuit and resets the failure count.
type Breaker struct {
	inner     Checker
	threshold int
	recovery  time.Duration
	timeout   time.Duration

	mu           sync.Mutex
	failureCount int
	lastFailure  time.Time
	open         bool

	now func() time.Time // injectable for deterministic tests
}

// NewBreaker wraps inner. threshold and recovery fall back to defaults when
// non-positive. checkTimeout bounds each probe of the wrapped check.
func NewBreaker(inner Checker, threshold int, recovery, checkTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryTimeout
	}
	if checkTimeout <= 0 {
		checkTimeout = DefaultCheckTimeout
	}
	return &Breaker{
		inner:     inner,
		threshold: threshold,
		recovery:  recovery,
		timeout:   checkTimeout,
		now:       time.Now,
	}
}

func (b *Breaker) Name() string { return b.inner.Name() }

// Check runs the wrapped check unless the circuit is open and still inside
// the recovery timeout.
func (b *Breaker) Check(ctx context.Context) Result {
	b.mu.Lock()
	if b.open && b.now().Sub(b.lastFailure) < b.recovery {
		b.mu.Unlock()
		// The synthetic result reports unhealthy, not critical: the circuit
		// being open means the check is being suppressed, not that the
		// component was observed at its worst.
		res := Result{
			Component: b.inner.Name(),
			Score:     0,
			Status:    StatusUnhealthy,
			Error:     "circuit open",
			CheckedAt: b.now(),
		}
		res.StatusStr = res.Status.String()
		return res
	}
	b.mu.Unlock()

	res := Run(ctx, b.inner, b.timeout)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !res.Healthy {
		b.failureCount++
		b.lastFailure = b.now()
		if b.failureCount >= b.threshold && !b.open {
			b.open = true
			slog.Warn("health: circuit opened",
				"component", b.inner.Name(),
				"failures", b.failureCount,
				"recovery", b.recovery,
			)
		}
	} else {
		if b.open {
			slog.Info("health: circuit closed", "component", b.inner.Name())
		}
		b.failureCount = 0
		b.open = false
	}
	return res
}

// Open reports whether the circuit is currently open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
