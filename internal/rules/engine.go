package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/alert"
	"github.com/bridgewatch/bridgewatch/internal/metrics"
)

const (
	// DefaultInterval is how often the engine evaluates all rules.
	DefaultInterval = 30 * time.Second

	// DefaultCooldown suppresses re-fires of the same rule.
	DefaultCooldown = 5 * time.Minute

	// DefaultMaxPerHour caps alerts per rule in a trailing hour.
	DefaultMaxPerHour = 10
)

// Rule is one declarative alert rule.
type Rule struct {
	ID          string
	Name        string
	Description string

	Condition Condition
	Severity  alert.Severity

	// Window restricts entity-scoped evaluation to entities whose last event
	// is within the window. Zero means no recency requirement. System-scoped
	// rules evaluate cumulative counters and ignore it.
	Window time.Duration

	Cooldown   time.Duration
	MaxPerHour int

	EntryTier       alert.Tier
	MaxTier         alert.Tier
	EscalationDelay time.Duration
	AutoResolve     bool

	// Channels names the notification channels this rule's alerts go to.
	Channels []string

	Enabled bool
}

// Validate rejects structurally invalid rules at registration time.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s: name must not be empty", r.ID)
	}
	if r.MaxTier < r.EntryTier {
		return fmt.Errorf("rule %s: max tier %s below entry tier %s", r.ID, r.MaxTier, r.EntryTier)
	}
	if r.Cooldown < 0 || r.MaxPerHour < 0 {
		return fmt.Errorf("rule %s: negative rate limit", r.ID)
	}
	return nil
}

// Engine evaluates the rule set against the metrics model on a fixed interval
// and emits Alerts through the configured sink. Two independent rate-limit
// layers apply per rule: a cooldown since the last trigger, and a cap on
// triggers within a trailing hour. Safe for concurrent use.
type Engine struct {
	source  metrics.Source
	pending func() int // in-flight operation count, for pending_operations
	onAlert func(alert.Alert)
	prom    *metrics.Collectors

	mu       sync.Mutex
	rules    []Rule
	byID     map[string]Rule
	lastFire map[string]time.Time
	hourly   map[string][]time.Time

	now func() time.Time // injectable for deterministic tests
}

// New creates an Engine reading from source. pending may be nil (the
// pending_operations metric then reads zero); onAlert may be nil (alerts are
// still returned from Evaluate); prom may be nil.
func New(source metrics.Source, pending func() int, onAlert func(alert.Alert), prom *metrics.Collectors) *Engine {
	return &Engine{
		source:   source,
		pending:  pending,
		onAlert:  onAlert,
		prom:     prom,
		byID:     make(map[string]Rule),
		lastFire: make(map[string]time.Time),
		hourly:   make(map[string][]time.Time),
		now:      time.Now,
	}
}

// SetRules replaces the rule set. All rules are validated first; on any
// error the previous set stays active. Duplicate ids are rejected.
func (e *Engine) SetRules(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
	}

	e.mu.Lock()
	e.rules = append([]Rule(nil), rules...)
	e.byID = make(map[string]Rule, len(rules))
	for _, r := range rules {
		e.byID[r.ID] = r
	}
	e.mu.Unlock()

	slog.Info("rules: rule set updated", "count", len(rules))
	return nil
}

// Rule returns the rule with the given id, if registered.
func (e *Engine) Rule(id string) (Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.byID[id]
	return r, ok
}

// Rules returns a copy of the current rule set.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs one evaluation pass over all enabled rules and returns the
// alerts that fired. Rate limiting is checked before any side effect; a
// trigger updates the cooldown timestamp and the hourly list atomically.
func (e *Engine) Evaluate() []alert.Alert {
	e.mu.Lock()
	ruleSet := append([]Rule(nil), e.rules...)
	e.mu.Unlock()
	if len(ruleSet) == 0 {
		return nil
	}

	snap := e.source.Snapshot()
	users := e.source.Users()
	now := e.now()

	var fired []alert.Alert
	for _, r := range ruleSet {
		if !r.Enabled {
			continue
		}

		satisfied, value, entity := e.evalRule(r, snap, users, now)
		if !satisfied {
			continue
		}
		if !e.admit(r, now) {
			continue
		}

		a := e.buildAlert(r, value, entity, now)
		fired = append(fired, a)
		e.prom.IncAlertFired(a.Severity.String())

		slog.Warn("rules: alert fired",
			"rule", r.ID,
			"severity", a.Severity.String(),
			"value", value,
			"threshold", r.Condition.Threshold,
			"user", a.UserID,
		)
		if e.onAlert != nil {
			e.onAlert(a)
		}
	}
	return fired
}

// Satisfied re-evaluates only the condition of the rule with the given id,
// bypassing rate limits. Used by auto-resolution.
func (e *Engine) Satisfied(ruleID string) bool {
	r, ok := e.Rule(ruleID)
	if !ok {
		return false
	}
	ok, _, _ = e.evalRule(r, e.source.Snapshot(), e.source.Users(), e.now())
	return ok
}

// evalRule returns whether the condition holds, the observed value, and the
// entity attached (for user-scoped rules).
func (e *Engine) evalRule(r Rule, snap metrics.SystemSnapshot, users map[metrics.Key]metrics.UserSnapshot, now time.Time) (bool, float64, *metrics.UserSnapshot) {
	if r.Condition.Scope == ScopeSystem {
		pending := 0
		if e.pending != nil {
			pending = e.pending()
		}
		v := r.Condition.systemValue(snap, pending)
		return r.Condition.Op.compare(v, r.Condition.Threshold), v, nil
	}
	return e.evalUserRule(r, users, now)
}

// evalUserRule evaluates an entity-scoped rule. When several entities satisfy
// the comparison, the worst offender is attached: the entity whose value is
// most extreme in the direction of the operator (largest for > and >=,
// smallest for < and <=). Equality conditions attach the first satisfying
// entity in key order. This policy is deterministic across evaluations.
func (e *Engine) evalUserRule(r Rule, users map[metrics.Key]metrics.UserSnapshot, now time.Time) (bool, float64, *metrics.UserSnapshot) {
	keys := make([]metrics.Key, 0, len(users))
	for k := range users {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].ThreadID < keys[j].ThreadID
	})

	var (
		found bool
		worst metrics.UserSnapshot
		value float64
	)
	for _, k := range keys {
		u := users[k]
		if r.Window > 0 && now.Sub(u.LastEventAt) > r.Window {
			continue
		}
		v := r.Condition.userValue(u)
		if !r.Condition.Op.compare(v, r.Condition.Threshold) {
			continue
		}
		if !found {
			found, worst, value = true, u, v
			if r.Condition.Op == OpEQ {
				break
			}
			continue
		}
		switch r.Condition.Op {
		case OpGT, OpGTE:
			if v > value {
				worst, value = u, v
			}
		case OpLT, OpLTE:
			if v < value {
				worst, value = u, v
			}
		}
	}
	if !found {
		return false, 0, nil
	}
	return true, value, &worst
}

// admit applies both rate-limit layers and, when the trigger is allowed,
// records it. Caller must not hold e.mu.
func (e *Engine) admit(r Rule, now time.Time) bool {
	cooldown := r.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	maxPerHour := r.MaxPerHour
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxPerHour
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastFire[r.ID]; ok && now.Sub(last) < cooldown {
		slog.Debug("rules: trigger suppressed by cooldown", "rule", r.ID)
		return false
	}

	// Prune the trailing-hour list before checking its length.
	cutoff := now.Add(-time.Hour)
	recent := e.hourly[r.ID][:0]
	for _, t := range e.hourly[r.ID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	e.hourly[r.ID] = recent

	if len(recent) >= maxPerHour {
		slog.Debug("rules: trigger suppressed by hourly cap", "rule", r.ID, "cap", maxPerHour)
		return false
	}

	e.lastFire[r.ID] = now
	e.hourly[r.ID] = append(e.hourly[r.ID], now)
	return true
}

func (e *Engine) buildAlert(r Rule, value float64, entity *metrics.UserSnapshot, now time.Time) alert.Alert {
	a := alert.Alert{
		ID:          fmt.Sprintf("%s-%d", r.ID, now.UnixNano()),
		RuleID:      r.ID,
		Severity:    r.Severity,
		Tier:        r.EntryTier,
		Title:       r.Name,
		Value:       value,
		Threshold:   r.Condition.Threshold,
		TriggeredAt: now,
		State:       alert.StateFiring,
	}
	if entity != nil {
		a.UserID = entity.UserID
		a.ThreadID = entity.ThreadID
		a.Message = fmt.Sprintf("%s: %s %s %g (observed %.2f for user %s)",
			r.Name, r.Condition.Metric, r.Condition.Op, r.Condition.Threshold, value, entity.UserID)
	} else {
		a.Message = fmt.Sprintf("%s: %s %s %g (observed %.2f system-wide)",
			r.Name, r.Condition.Metric, r.Condition.Op, r.Condition.Threshold, value)
	}
	return a
}
