package rules

import (
	"testing"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/alert"
	"github.com/bridgewatch/bridgewatch/internal/event"
	"github.com/bridgewatch/bridgewatch/internal/metrics"
)

// fakeSource is a canned metrics.Source.
type fakeSource struct {
	system metrics.SystemSnapshot
	users  map[metrics.Key]metrics.UserSnapshot
}

func (f *fakeSource) Snapshot() metrics.SystemSnapshot { return f.system }

func (f *fakeSource) Users() map[metrics.Key]metrics.UserSnapshot { return f.users }

func (f *fakeSource) RecentEvents(int, event.Kind) []event.Event { return nil }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func mustCondition(t *testing.T, scope Scope, m Metric, op Op, threshold float64) Condition {
	t.Helper()
	c, err := NewCondition(scope, m, op, threshold)
	if err != nil {
		t.Fatalf("NewCondition: %v", err)
	}
	return c
}

func userRule(t *testing.T, id string, threshold float64, cooldown time.Duration) Rule {
	t.Helper()
	return Rule{
		ID:        id,
		Name:      id,
		Condition: mustCondition(t, ScopeUser, MetricErrorRate, OpGT, threshold),
		Severity:  alert.SeverityWarning,
		Cooldown:  cooldown,
		MaxTier:   alert.TierExecutive,
		Enabled:   true,
	}
}

func TestEvaluate_SystemRuleFires(t *testing.T) {
	src := &fakeSource{system: metrics.SystemSnapshot{SilentFailures: 7}}
	e := New(src, nil, nil, nil)
	e.now = fixedClock(time.Now())

	r := Rule{
		ID:        "silent-failures",
		Name:      "Silent failures",
		Condition: mustCondition(t, ScopeSystem, MetricSilentFailures, OpGT, 5),
		Severity:  alert.SeverityCritical,
		MaxTier:   alert.TierExecutive,
		Enabled:   true,
	}
	if err := e.SetRules([]Rule{r}); err != nil {
		t.Fatalf("SetRules: %v", err)
	}

	fired := e.Evaluate()
	if len(fired) != 1 {
		t.Fatalf("Evaluate: got %d alerts, want 1", len(fired))
	}
	a := fired[0]
	if a.RuleID != "silent-failures" || a.Value != 7 || a.Threshold != 5 {
		t.Errorf("alert: got rule=%q value=%v threshold=%v", a.RuleID, a.Value, a.Threshold)
	}
	if a.UserID != "" {
		t.Errorf("system alert carries entity %q", a.UserID)
	}
	if a.State != alert.StateFiring {
		t.Errorf("State: got %q, want firing", a.State)
	}
}

func TestEvaluate_DisabledRuleSkipped(t *testing.T) {
	src := &fakeSource{system: metrics.SystemSnapshot{SilentFailures: 7}}
	e := New(src, nil, nil, nil)

	r := Rule{
		ID:        "off",
		Name:      "off",
		Condition: mustCondition(t, ScopeSystem, MetricSilentFailures, OpGT, 5),
		MaxTier:   alert.TierExecutive,
		Enabled:   false,
	}
	if err := e.SetRules([]Rule{r}); err != nil {
		t.Fatalf("SetRules: %v", err)
	}
	if fired := e.Evaluate(); len(fired) != 0 {
		t.Errorf("Evaluate: disabled rule fired %d alerts", len(fired))
	}
}

func TestEvaluate_WorstOffenderAttached(t *testing.T) {
	src := &fakeSource{users: map[metrics.Key]metrics.UserSnapshot{
		{UserID: "mild"}:  {UserID: "mild", ErrorRate: 0.3, LastEventAt: time.Now()},
		{UserID: "worst"}: {UserID: "worst", ErrorRate: 0.9, LastEventAt: time.Now()},
		{UserID: "fine"}:  {UserID: "fine", ErrorRate: 0.0, LastEventAt: time.Now()},
	}}
	e := New(src, nil, nil, nil)
	e.now = fixedClock(time.Now())

	if err := e.SetRules([]Rule{userRule(t, "err", 0.2, time.Minute)}); err != nil {
		t.Fatalf("SetRules: %v", err)
	}

	fired := e.Evaluate()
	if len(fired) != 1 {
		t.Fatalf("Evaluate: got %d alerts, want 1", len(fired))
	}
	if fired[0].UserID != "worst" {
		t.Errorf("attached entity: got %q, want worst offender", fired[0].UserID)
	}
	if fired[0].Value != 0.9 {
		t.Errorf("Value: got %v, want 0.9", fired[0].Value)
	}
}

func TestEvaluate_WindowExcludesIdleEntities(t *testing.T) {
	base := time.Now()
	src := &fakeSource{users: map[metrics.Key]metrics.UserSnapshot{
		{UserID: "idle"}: {UserID: "idle", ErrorRate: 0.9, LastEventAt: base.Add(-30 * time.Minute)},
	}}
	e := New(src, nil, nil, nil)
	e.now = fixedClock(base)

	r := userRule(t, "err", 0.2, time.Minute)
	r.Window = 10 * time.Minute
	if err := e.SetRules([]Rule{r}); err != nil {
		t.Fatalf("SetRules: %v", err)
	}

	if fired := e.Evaluate(); len(fired) != 0 {
		t.Errorf("Evaluate: idle entity fired %d alerts", len(fired))
	}
}

// Mirrors the documented scenario: errorRate 0.3 fires, a re-evaluation two
// minutes later is inside the 5m cooldown, and an evaluation after six
// minutes fires again as a new alert occurrence under the same rule id.
func TestEvaluate_CooldownScenario(t *testing.T) {
	base := time.Now()
	src := &fakeSource{users: map[metrics.Key]metrics.UserSnapshot{
		{UserID: "u1"}: {UserID: "u1", Attempted: 10, Delivered: 7, ErrorRate: 0.3, LastEventAt: base},
	}}
	e := New(src, nil, nil, nil)
	e.now = fixedClock(base)

	if err := e.SetRules([]Rule{userRule(t, "err-rate", 0.2, 5*time.Minute)}); err != nil {
		t.Fatalf("SetRules: %v", err)
	}

	first := e.Evaluate()
	if len(first) != 1 {
		t.Fatalf("first evaluation: got %d alerts, want 1", len(first))
	}

	e.now = fixedClock(base.Add(2 * time.Minute))
	if again := e.Evaluate(); len(again) != 0 {
		t.Fatalf("evaluation inside cooldown: got %d alerts, want 0", len(again))
	}

	src.users[metrics.Key{UserID: "u1"}] = metrics.UserSnapshot{
		UserID: "u1", ErrorRate: 0.35, LastEventAt: base.Add(6 * time.Minute),
	}
	e.now = fixedClock(base.Add(6 * time.Minute))
	third := e.Evaluate()
	if len(third) != 1 {
		t.Fatalf("evaluation after cooldown: got %d alerts, want 1", len(third))
	}
	if third[0].ID == first[0].ID {
		t.Error("re-trigger reused the alert id; want a new alert instance")
	}
	if third[0].RuleID != first[0].RuleID {
		t.Error("re-trigger changed the rule id")
	}
}

func TestEvaluate_CooldownIsPerRule(t *testing.T) {
	base := time.Now()
	src := &fakeSource{users: map[metrics.Key]metrics.UserSnapshot{
		{UserID: "u1"}: {UserID: "u1", ErrorRate: 0.5, LastEventAt: base},
	}}
	e := New(src, nil, nil, nil)
	e.now = fixedClock(base)

	// Two distinct rules with the same condition.
	if err := e.SetRules([]Rule{
		userRule(t, "rule-a", 0.2, 5*time.Minute),
		userRule(t, "rule-b", 0.2, 5*time.Minute),
	}); err != nil {
		t.Fatalf("SetRules: %v", err)
	}

	if fired := e.Evaluate(); len(fired) != 2 {
		t.Fatalf("first evaluation: got %d alerts, want 2", len(fired))
	}

	// rule-a's cooldown must not suppress rule-b.
	e.now = fixedClock(base.Add(time.Minute))
	if fired := e.Evaluate(); len(fired) != 0 {
		t.Errorf("within both cooldowns: got %d alerts, want 0", len(fired))
	}
}

func TestEvaluate_HourlyCap(t *testing.T) {
	base := time.Now()
	src := &fakeSource{system: metrics.SystemSnapshot{SilentFailures: 100}}
	e := New(src, nil, nil, nil)

	r := Rule{
		ID:         "cap",
		Name:       "cap",
		Condition:  mustCondition(t, ScopeSystem, MetricSilentFailures, OpGT, 1),
		Cooldown:   time.Second,
		MaxPerHour: 3,
		MaxTier:    alert.TierExecutive,
		Enabled:    true,
	}
	if err := e.SetRules([]Rule{r}); err != nil {
		t.Fatalf("SetRules: %v", err)
	}

	fired := 0
	for i := 0; i < 10; i++ {
		e.now = fixedClock(base.Add(time.Duration(i) * time.Minute))
		fired += len(e.Evaluate())
	}
	if fired != 3 {
		t.Fatalf("within one hour: got %d alerts, want cap of 3", fired)
	}

	// Once the trailing window rolls past the early triggers, firing resumes.
	e.now = fixedClock(base.Add(time.Hour + time.Minute))
	if got := len(e.Evaluate()); got != 1 {
		t.Errorf("after window rolled: got %d alerts, want 1", got)
	}
}

func TestSetRules_RejectsInvalid(t *testing.T) {
	e := New(&fakeSource{}, nil, nil, nil)

	if err := e.SetRules([]Rule{{Name: "no id", Enabled: true}}); err == nil {
		t.Error("SetRules: accepted rule with empty id")
	}
	r := userRule(t, "dup", 0.2, time.Minute)
	if err := e.SetRules([]Rule{r, r}); err == nil {
		t.Error("SetRules: accepted duplicate rule ids")
	}
	bad := userRule(t, "tiers", 0.2, time.Minute)
	bad.EntryTier = alert.TierManagement
	bad.MaxTier = alert.TierOperations
	if err := e.SetRules([]Rule{bad}); err == nil {
		t.Error("SetRules: accepted max tier below entry tier")
	}

	// A failed update leaves the previous set active.
	good := userRule(t, "good", 0.2, time.Minute)
	if err := e.SetRules([]Rule{good}); err != nil {
		t.Fatalf("SetRules: %v", err)
	}
	_ = e.SetRules([]Rule{{Name: "broken"}})
	if _, ok := e.Rule("good"); !ok {
		t.Error("previous rule set lost after rejected update")
	}
}

func TestSatisfied_BypassesRateLimits(t *testing.T) {
	base := time.Now()
	src := &fakeSource{system: metrics.SystemSnapshot{SilentFailures: 10}}
	e := New(src, nil, nil, nil)
	e.now = fixedClock(base)

	r := Rule{
		ID:        "sf",
		Name:      "sf",
		Condition: mustCondition(t, ScopeSystem, MetricSilentFailures, OpGT, 5),
		Cooldown:  time.Hour,
		MaxTier:   alert.TierExecutive,
		Enabled:   true,
	}
	if err := e.SetRules([]Rule{r}); err != nil {
		t.Fatalf("SetRules: %v", err)
	}

	e.Evaluate() // consumes the cooldown
	if !e.Satisfied("sf") {
		t.Error("Satisfied: got false while condition holds")
	}

	src.system.SilentFailures = 0
	if e.Satisfied("sf") {
		t.Error("Satisfied: got true after condition cleared")
	}
}

func TestNewCondition_RejectsSystemOnlyMetricForUserScope(t *testing.T) {
	if _, err := NewCondition(ScopeUser, MetricIsolationViolations, OpGT, 1); err == nil {
		t.Error("NewCondition: accepted user-scoped system-only metric")
	}
}

func TestParseOpAndMetric(t *testing.T) {
	ops := map[string]Op{
		"gt": OpGT, "lt": OpLT, "eq": OpEQ, "gte": OpGTE, "lte": OpLTE,
		">": OpGT, "<": OpLT, "==": OpEQ, ">=": OpGTE, "<=": OpLTE,
	}
	for s, want := range ops {
		got, err := ParseOp(s)
		if err != nil || got != want {
			t.Errorf("ParseOp(%q): got %v, %v", s, got, err)
		}
	}
	if _, err := ParseOp("!="); err == nil {
		t.Error("ParseOp(!=): expected error")
	}
	if _, err := ParseMetric("error_rate"); err != nil {
		t.Errorf("ParseMetric(error_rate): %v", err)
	}
	if _, err := ParseMetric("cpu_usage"); err == nil {
		t.Error("ParseMetric(cpu_usage): expected error")
	}
}
