package escalate

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/alert"
	"github.com/bridgewatch/bridgewatch/internal/metrics"
	"github.com/bridgewatch/bridgewatch/internal/notify"
	"github.com/bridgewatch/bridgewatch/internal/rules"
)

const (
	// DefaultInterval is how often the escalation and auto-resolve sweeps run.
	DefaultInterval = 60 * time.Second

	// DefaultEscalationDelay applies when a rule does not set its own.
	DefaultEscalationDelay = 15 * time.Minute

	maxHistory = 1000

	shardCount = 16
)

// AutoResolveReason is stamped on alerts resolved by condition re-evaluation.
const AutoResolveReason = "condition resolved automatically"

// RuleSource supplies rule parameters and condition re-evaluation for the
// controller, implemented by the rule engine.
type RuleSource interface {
	Rule(id string) (rules.Rule, bool)
	Satisfied(id string) bool
}

// Sender dispatches notifications, implemented by the notification dispatcher.
type Sender interface {
	Dispatch(ctx context.Context, n notify.Notification, channels []string)
}

type shard struct {
	mu   sync.Mutex
	data map[string]*alert.Alert
}

// Controller owns the lifecycle of every open alert: admission, timed
// escalation across tiers, acknowledgement, and resolution. Alerts are
// mutated only here. The active map is sharded so producer-facing reads stay
// independent of alert volume.
type Controller struct {
	rules  RuleSource
	sender Sender
	prom   *metrics.Collectors

	shards [shardCount]*shard

	histMu  sync.Mutex
	history []alert.Alert

	now func() time.Time // injectable for deterministic tests
}

// New creates a Controller. sender may be nil (lifecycle only, no
// notifications); prom may be nil.
func New(ruleSource RuleSource, sender Sender, prom *metrics.Collectors) *Controller {
	c := &Controller{
		rules:  ruleSource,
		sender: sender,
		prom:   prom,
		now:    time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &shard{data: make(map[string]*alert.Alert)}
	}
	return c
}

func (c *Controller) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return c.shards[h.Sum32()%shardCount]
}

// Admit takes ownership of a freshly fired alert and dispatches its trigger
// notification to the rule's channels.
func (c *Controller) Admit(ctx context.Context, a alert.Alert) {
	s := c.shardFor(a.ID)
	s.mu.Lock()
	cp := a
	s.data[a.ID] = &cp
	s.mu.Unlock()

	if c.sender != nil {
		c.sender.Dispatch(ctx, notify.NewTrigger(a), c.channelsFor(a.RuleID))
	}
}

func (c *Controller) channelsFor(ruleID string) []string {
	if r, ok := c.rules.Rule(ruleID); ok {
		return r.Channels
	}
	return nil
}

// Acknowledge freezes escalation for the alert. Acknowledged alerts stay
// active and remain eligible for auto-resolution.
func (c *Controller) Acknowledge(id, actor string) error {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data[id]
	if !ok {
		return fmt.Errorf("alert %s not found", id)
	}
	if a.State == alert.StateAcknowledged {
		return nil // already acknowledged; idempotent
	}
	now := c.now()
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = actor
	a.State = alert.StateAcknowledged

	slog.Info("escalate: alert acknowledged", "alert", id, "by", actor)
	return nil
}

// Resolve resolves the alert manually with an explicit actor and reason,
// bypassing condition re-evaluation. Resolution is terminal.
func (c *Controller) Resolve(ctx context.Context, id, actor, reason string) error {
	s := c.shardFor(id)
	s.mu.Lock()
	a, ok := s.data[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("alert %s not found", id)
	}
	resolved := c.resolveLocked(s, a, actor, reason)
	s.mu.Unlock()

	slog.Info("escalate: alert resolved", "alert", id, "by", actor, "reason", reason)
	if c.sender != nil {
		c.sender.Dispatch(ctx, notify.NewResolution(resolved), c.channelsFor(resolved.RuleID))
	}
	return nil
}

// resolveLocked finalizes a and moves it from the active map to history.
// Caller holds s.mu.
func (c *Controller) resolveLocked(s *shard, a *alert.Alert, actor, reason string) alert.Alert {
	now := c.now()
	a.ResolvedAt = &now
	a.ResolvedBy = actor
	a.ResolveReason = reason
	a.State = alert.StateResolved
	delete(s.data, a.ID)
	c.prom.IncAlertResolved()

	cp := *a
	c.histMu.Lock()
	c.history = append(c.history, cp)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
	c.histMu.Unlock()
	return cp
}

// SweepEscalations advances every active, unacknowledged alert whose
// escalation delay has elapsed by exactly one tier, up to its rule's maximum
// tier, and re-dispatches an escalation notification. Returns the number of
// tier advances.
func (c *Controller) SweepEscalations(ctx context.Context, now time.Time) int {
	advanced := 0
	for _, s := range c.shards {
		var escalated []alert.Alert

		s.mu.Lock()
		for _, a := range s.data {
			if a.State != alert.StateFiring {
				continue // acknowledged alerts never escalate
			}
			r, ok := c.rules.Rule(a.RuleID)
			if !ok {
				continue
			}
			if a.Tier >= r.MaxTier {
				continue // already at the rule's ceiling
			}
			delay := r.EscalationDelay
			if delay <= 0 {
				delay = DefaultEscalationDelay
			}
			ref := a.TriggeredAt
			if !a.LastEscalatedAt.IsZero() {
				ref = a.LastEscalatedAt
			}
			if now.Sub(ref) < delay {
				continue
			}

			a.Tier++
			a.EscalationCount++
			a.LastEscalatedAt = now
			escalated = append(escalated, *a)
		}
		s.mu.Unlock()

		for _, a := range escalated {
			advanced++
			c.prom.IncAlertEscalated()
			slog.Warn("escalate: alert escalated",
				"alert", a.ID,
				"rule", a.RuleID,
				"tier", a.Tier.String(),
				"count", a.EscalationCount,
			)
			if c.sender != nil {
				c.sender.Dispatch(ctx, notify.NewEscalation(a), c.channelsFor(a.RuleID))
			}
		}
	}
	return advanced
}

// SweepAutoResolve re-evaluates the trigger condition of every active alert
// whose rule has auto-resolve enabled and resolves those whose condition no
// longer holds. Returns the number of resolutions.
func (c *Controller) SweepAutoResolve(ctx context.Context) int {
	resolved := 0
	for _, s := range c.shards {
		var done []alert.Alert

		s.mu.Lock()
		for _, a := range s.data {
			r, ok := c.rules.Rule(a.RuleID)
			if !ok || !r.AutoResolve {
				continue
			}
			if c.rules.Satisfied(a.RuleID) {
				continue // condition still holds
			}
			done = append(done, c.resolveLocked(s, a, "system", AutoResolveReason))
		}
		s.mu.Unlock()

		for _, a := range done {
			resolved++
			slog.Info("escalate: alert auto-resolved", "alert", a.ID, "rule", a.RuleID)
			if c.sender != nil {
				c.sender.Dispatch(ctx, notify.NewResolution(a), c.channelsFor(a.RuleID))
			}
		}
	}
	return resolved
}

// Get returns a copy of one alert, active or historical.
func (c *Controller) Get(id string) (alert.Alert, bool) {
	s := c.shardFor(id)
	s.mu.Lock()
	if a, ok := s.data[id]; ok {
		cp := *a
		s.mu.Unlock()
		return cp, true
	}
	s.mu.Unlock()

	c.histMu.Lock()
	defer c.histMu.Unlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].ID == id {
			return c.history[i], true
		}
	}
	return alert.Alert{}, false
}

// Active returns copies of all currently open alerts.
func (c *Controller) Active() []alert.Alert {
	var out []alert.Alert
	for _, s := range c.shards {
		s.mu.Lock()
		for _, a := range s.data {
			out = append(out, *a)
		}
		s.mu.Unlock()
	}
	return out
}

// History returns up to limit resolved alerts, newest first. A non-positive
// limit returns all retained history.
func (c *Controller) History(limit int) []alert.Alert {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	n := len(c.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]alert.Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.history[i])
	}
	return out
}

// Stats summarizes alert lifecycle counts and mean time to resolution.
type Stats struct {
	Active       int            `json:"active"`
	Acknowledged int            `json:"acknowledged"`
	Resolved     int            `json:"resolved"`
	BySeverity   map[string]int `json:"by_severity"`
	MTTR         time.Duration  `json:"mttr"`
}

// Statistics computes Stats over the active set and retained history.
func (c *Controller) Statistics() Stats {
	st := Stats{BySeverity: make(map[string]int)}

	for _, a := range c.Active() {
		st.Active++
		if a.State == alert.StateAcknowledged {
			st.Acknowledged++
		}
		st.BySeverity[a.Severity.String()]++
	}

	c.histMu.Lock()
	var totalResolution time.Duration
	for _, a := range c.history {
		st.Resolved++
		st.BySeverity[a.Severity.String()]++
		if a.ResolvedAt != nil {
			totalResolution += a.ResolvedAt.Sub(a.TriggeredAt)
		}
	}
	c.histMu.Unlock()

	if st.Resolved > 0 {
		st.MTTR = totalResolution / time.Duration(st.Resolved)
	}
	return st
}
