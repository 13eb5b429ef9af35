package health

import (
	"context"
	"fmt"
	"time"
)

// DefaultCheckTimeout bounds a single health check. A check that never
// returns is treated as a failure with a synthetic timeout error.
const DefaultCheckTimeout = 5 * time.Second

// Status is the discrete health of a checked component. Ordering matters:
// healthy < degraded < unhealthy < critical, and a composite status is the
// worst of its constituents.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
	StatusCritical
)

// Score thresholds for mapping a [0,1] health score to a Status.
const (
	healthyFloor   = 0.8
	degradedFloor  = 0.5
	unhealthyFloor = 0.2
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusCritical:
		return "critical"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// StatusFromScore maps a health score in [0,1] to a Status.
func StatusFromScore(score float64) Status {
	switch {
	case score >= healthyFloor:
		return StatusHealthy
	case score >= degradedFloor:
		return StatusDegraded
	case score >= unhealthyFloor:
		return StatusUnhealthy
	default:
		return StatusCritical
	}
}

// Worst returns the worse of two statuses.
func Worst(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// Result is the outcome of one health check invocation.
type Result struct {
	Component string             `json:"component"`
	Healthy   bool               `json:"healthy"`
	Score     float64            `json:"score"`
	Status    Status             `json:"-"`
	StatusStr string             `json:"status"`
	Elapsed   time.Duration      `json:"elapsed"`
	Error     string             `json:"error,omitempty"`
	Details   map[string]float64 `json:"details,omitempty"`
	CheckedAt time.Time          `json:"checked_at"`
}

// Checker is one health-checkable component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// Run invokes c bounded by timeout. Any panic or overrun is converted into a
// failed Result; errors never propagate past the check boundary.
func Run(ctx context.Context, c Checker, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{
					Component: c.Name(),
					Score:     0,
					Error:     fmt.Sprintf("check panicked: %v", r),
				}
			}
		}()
		done <- c.Check(ctx)
	}()

	var res Result
	select {
	case res = <-done:
		if res.Elapsed == 0 {
			res.Elapsed = time.Since(start)
		}
	case <-ctx.Done():
		res = Result{
			Component: c.Name(),
			Score:     0,
			Error:     "timeout",
			Elapsed:   timeout,
		}
	}

	res.Component = c.Name()
	res.Score = clamp01(res.Score)
	res.Status = StatusFromScore(res.Score)
	res.StatusStr = res.Status.String()
	res.Healthy = res.Error == ""
	if res.CheckedAt.IsZero() {
		res.CheckedAt = time.Now()
	}
	return res
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

// CheckFunc adapts a plain function into a Checker.
type CheckFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) Result
}

func (c CheckFunc) Name() string { return c.ComponentName }

func (c CheckFunc) Check(ctx context.Context) Result { return c.Fn(ctx) }
