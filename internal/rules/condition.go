package rules

import (
	"fmt"

	"github.com/bridgewatch/bridgewatch/internal/metrics"
)

// Scope selects which metrics slice a condition reads.
type Scope int

const (
	// ScopeSystem evaluates against the single system-wide snapshot.
	ScopeSystem Scope = iota
	// ScopeUser evaluates against every tracked (user, thread) record.
	ScopeUser
)

// ParseScope maps a config string to a Scope.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "system", "":
		return ScopeSystem, nil
	case "user":
		return ScopeUser, nil
	}
	return 0, fmt.Errorf("unknown scope %q: want system|user", s)
}

func (s Scope) String() string {
	if s == ScopeUser {
		return "user"
	}
	return "system"
}

// Metric is the closed vocabulary of values a condition can reference.
// Keeping this a tagged enum evaluated by a switch keeps the engine auditable;
// there is no expression language.
type Metric int

const (
	MetricErrorRate Metric = iota
	MetricSuccessRate
	MetricConsecutiveFailures
	MetricSilentFailures
	MetricFailed
	MetricAttempted
	MetricConnectionDrops
	MetricIsolationViolations
	MetricActiveConnections
	MetricPendingOperations
	MetricMemoryGrowthEvents
	MetricBridgeInitFailures
)

var metricNames = map[Metric]string{
	MetricErrorRate:           "error_rate",
	MetricSuccessRate:         "success_rate",
	MetricConsecutiveFailures: "consecutive_failures",
	MetricSilentFailures:      "silent_failures",
	MetricFailed:              "failed",
	MetricAttempted:           "attempted",
	MetricConnectionDrops:     "connection_drops",
	MetricIsolationViolations: "isolation_violations",
	MetricActiveConnections:   "active_connections",
	MetricPendingOperations:   "pending_operations",
	MetricMemoryGrowthEvents:  "memory_growth_events",
	MetricBridgeInitFailures:  "bridge_init_failures",
}

// systemOnly metrics have no per-entity counterpart.
var systemOnly = map[Metric]bool{
	MetricIsolationViolations: true,
	MetricActiveConnections:   true,
	MetricPendingOperations:   true,
	MetricMemoryGrowthEvents:  true,
	MetricBridgeInitFailures:  true,
}

// ParseMetric maps a config string to a Metric.
func ParseMetric(s string) (Metric, error) {
	for m, name := range metricNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", s)
}

func (m Metric) String() string {
	if name, ok := metricNames[m]; ok {
		return name
	}
	return fmt.Sprintf("metric(%d)", int(m))
}

// Op is a comparison operator.
type Op int

const (
	OpGT Op = iota
	OpLT
	OpEQ
	OpGTE
	OpLTE
)

// ParseOp maps a config operator string to an Op. Both the word forms
// (gt, lt, eq, gte, lte) and the symbol forms (>, <, ==, >=, <=) are
// accepted.
func ParseOp(s string) (Op, error) {
	switch s {
	case "gt", ">":
		return OpGT, nil
	case "lt", "<":
		return OpLT, nil
	case "eq", "==":
		return OpEQ, nil
	case "gte", ">=":
		return OpGTE, nil
	case "lte", "<=":
		return OpLTE, nil
	}
	return 0, fmt.Errorf("unknown operator %q: want gt lt eq gte lte", s)
}

func (o Op) String() string {
	switch o {
	case OpGT:
		return ">"
	case OpLT:
		return "<"
	case OpEQ:
		return "=="
	case OpGTE:
		return ">="
	case OpLTE:
		return "<="
	}
	return "?"
}

// compare applies o to (v, threshold).
func (o Op) compare(v, threshold float64) bool {
	switch o {
	case OpGT:
		return v > threshold
	case OpLT:
		return v < threshold
	case OpEQ:
		return v == threshold
	case OpGTE:
		return v >= threshold
	case OpLTE:
		return v <= threshold
	}
	return false
}

// Condition is one declarative rule condition: a metric compared to a
// threshold literal within a scope.
type Condition struct {
	Scope     Scope
	Metric    Metric
	Op        Op
	Threshold float64
}

// NewCondition builds and validates a Condition from its parts. A user-scoped
// condition over a system-only metric is a configuration error.
func NewCondition(scope Scope, metric Metric, op Op, threshold float64) (Condition, error) {
	if scope == ScopeUser && systemOnly[metric] {
		return Condition{}, fmt.Errorf("metric %s is system-wide and cannot be user-scoped", metric)
	}
	return Condition{Scope: scope, Metric: metric, Op: op, Threshold: threshold}, nil
}

func (c Condition) String() string {
	return fmt.Sprintf("%s:%s %s %g", c.Scope, c.Metric, c.Op, c.Threshold)
}

// systemValue extracts the condition's metric from the system snapshot.
// pending is the current in-flight operation count supplied by the engine.
func (c Condition) systemValue(snap metrics.SystemSnapshot, pending int) float64 {
	switch c.Metric {
	case MetricErrorRate:
		return snap.ErrorRate
	case MetricSuccessRate:
		return snap.SuccessRate
	case MetricConsecutiveFailures:
		return 0 // meaningful per entity only
	case MetricSilentFailures:
		return float64(snap.SilentFailures)
	case MetricFailed:
		return float64(snap.Failed)
	case MetricAttempted:
		return float64(snap.Attempted)
	case MetricConnectionDrops:
		return float64(snap.ConnectionDrops)
	case MetricIsolationViolations:
		return float64(snap.IsolationViolations)
	case MetricActiveConnections:
		return float64(snap.ActiveConnections)
	case MetricPendingOperations:
		return float64(pending)
	case MetricMemoryGrowthEvents:
		return float64(snap.MemoryGrowthEvents)
	case MetricBridgeInitFailures:
		return float64(snap.BridgeInitFailures)
	}
	return 0
}

// userValue extracts the condition's metric from one entity snapshot.
func (c Condition) userValue(u metrics.UserSnapshot) float64 {
	switch c.Metric {
	case MetricErrorRate:
		return u.ErrorRate
	case MetricSuccessRate:
		return u.SuccessRate
	case MetricConsecutiveFailures:
		return float64(u.ConsecutiveFailures)
	case MetricSilentFailures:
		return float64(u.SilentFailures)
	case MetricFailed:
		return float64(u.Failed)
	case MetricAttempted:
		return float64(u.Attempted)
	case MetricConnectionDrops:
		return float64(u.ConnectionDrops)
	}
	return 0
}
