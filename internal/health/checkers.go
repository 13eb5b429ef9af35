package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/bridgewatch/bridgewatch/internal/metrics"
)

// PipelineChecker scores the notification pipeline from the recorder's system
// snapshot: the success rate, penalized by the share of attempts that expired
// silently.
type PipelineChecker struct {
	Source metrics.Source
}

func (c *PipelineChecker) Name() string { return "notification_pipeline" }

func (c *PipelineChecker) Check(ctx context.Context) Result {
	snap := c.Source.Snapshot()
	score := snap.SuccessRate
	if snap.Attempted > 0 {
		score -= float64(snap.SilentFailures) / float64(snap.Attempted)
	}
	res := Result{
		Score: clamp01(score),
		Details: map[string]float64{
			"attempted":       float64(snap.Attempted),
			"delivered":       float64(snap.Delivered),
			"failed":          float64(snap.Failed),
			"silent_failures": float64(snap.SilentFailures),
			"success_rate":    snap.SuccessRate,
		},
	}
	if snap.Attempted > 0 && snap.SuccessRate < 0.5 {
		res.Error = fmt.Sprintf("success rate %.2f below 0.5", snap.SuccessRate)
	}
	return res
}

// BacklogChecker scores the in-flight operation backlog. A backlog at or past
// limit scores zero; an empty registry scores one.
type BacklogChecker struct {
	PendingCount func() int
	Limit        int
}

func (c *BacklogChecker) Name() string { return "pending_backlog" }

func (c *BacklogChecker) Check(ctx context.Context) Result {
	limit := c.Limit
	if limit <= 0 {
		limit = 1000
	}
	n := c.PendingCount()
	res := Result{
		Score: clamp01(1.0 - float64(n)/float64(limit)),
		Details: map[string]float64{
			"pending": float64(n),
			"limit":   float64(limit),
		},
	}
	if n >= limit {
		res.Error = fmt.Sprintf("pending backlog %d at limit %d", n, limit)
	}
	return res
}

// RuntimeChecker watches the process's own heap. It scores against a soft
// limit and calls OnGrowth once per detected growth episode (heap in use
// exceeding 1.5x the previous observation), feeding the system-wide
// memory-growth counter.
type RuntimeChecker struct {
	// SoftLimitBytes is the heap size treated as score zero. Defaults to 1 GiB.
	SoftLimitBytes uint64

	// OnGrowth, if set, is called when a growth episode is detected.
	OnGrowth func()

	mu       sync.Mutex
	lastHeap uint64
}

func (c *RuntimeChecker) Name() string { return "runtime" }

func (c *RuntimeChecker) Check(ctx context.Context) Result {
	limit := c.SoftLimitBytes
	if limit == 0 {
		limit = 1 << 30
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heap := ms.HeapInuse

	c.mu.Lock()
	grew := c.lastHeap > 0 && heap > c.lastHeap+(c.lastHeap/2)
	c.lastHeap = heap
	c.mu.Unlock()

	if grew && c.OnGrowth != nil {
		c.OnGrowth()
	}

	return Result{
		Score: clamp01(1.0 - float64(heap)/float64(limit)),
		Details: map[string]float64{
			"heap_inuse_bytes": float64(heap),
			"goroutines":       float64(runtime.NumGoroutine()),
		},
	}
}
