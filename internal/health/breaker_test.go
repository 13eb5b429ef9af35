package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// countingChecker fails or succeeds on demand and counts invocations.
type countingChecker struct {
	calls atomic.Int64
	fail  atomic.Bool
}

func (c *countingChecker) Name() string { return "dep" }

func (c *countingChecker) Check(ctx context.Context) Result {
	c.calls.Add(1)
	if c.fail.Load() {
		return Result{Score: 0, Error: "connection refused"}
	}
	return Result{Score: 1}
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	base := time.Now()
	inner := &countingChecker{}
	inner.fail.Store(true)

	b := NewBreaker(inner, 3, 30*time.Second, time.Second)
	b.now = fixedClock(base)

	for i := 0; i < 3; i++ {
		b.Check(context.Background())
	}
	if !b.Open() {
		t.Fatal("breaker still closed after threshold failures")
	}
	callsAtOpen := inner.calls.Load()

	// While open and inside the recovery timeout, the wrapped check is never
	// invoked: a synthetic result is returned instead.
	res := b.Check(context.Background())
	if inner.calls.Load() != callsAtOpen {
		t.Error("wrapped check invoked while circuit open")
	}
	if res.Error != "circuit open" {
		t.Errorf("Error: got %q, want \"circuit open\"", res.Error)
	}
	if res.Status != StatusUnhealthy {
		t.Errorf("Status: got %v, want unhealthy", res.Status)
	}
	if res.StatusStr != "unhealthy" {
		t.Errorf("StatusStr: got %q, want unhealthy", res.StatusStr)
	}
}

func TestBreaker_ProbesAfterRecoveryTimeout(t *testing.T) {
	base := time.Now()
	inner := &countingChecker{}
	inner.fail.Store(true)

	b := NewBreaker(inner, 2, 30*time.Second, time.Second)
	b.now = fixedClock(base)

	b.Check(context.Background())
	b.Check(context.Background())
	if !b.Open() {
		t.Fatal("breaker should be open")
	}

	// Recovery elapses; the next call probes the wrapped check again.
	inner.fail.Store(false)
	b.now = fixedClock(base.Add(31 * time.Second))
	callsBefore := inner.calls.Load()
	res := b.Check(context.Background())
	if inner.calls.Load() != callsBefore+1 {
		t.Error("wrapped check not probed after recovery timeout")
	}
	if !res.Healthy {
		t.Errorf("probe result: got unhealthy %q", res.Error)
	}
	if b.Open() {
		t.Error("breaker still open after successful probe")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	inner := &countingChecker{}
	b := NewBreaker(inner, 3, 30*time.Second, time.Second)

	inner.fail.Store(true)
	b.Check(context.Background())
	b.Check(context.Background())

	inner.fail.Store(false)
	b.Check(context.Background())

	inner.fail.Store(true)
	b.Check(context.Background())
	b.Check(context.Background())
	if b.Open() {
		t.Error("breaker opened: failure count not reset by intervening success")
	}
}
