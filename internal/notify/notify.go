package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/alert"
	"github.com/bridgewatch/bridgewatch/internal/metrics"
)

// DefaultDeliveryTimeout bounds one channel delivery so a stuck channel
// cannot stall escalation for all alerts.
const DefaultDeliveryTimeout = 10 * time.Second

// Kind distinguishes why a notification is being sent.
type Kind string

const (
	KindTrigger    Kind = "trigger"
	KindEscalation Kind = "escalation"
	KindResolution Kind = "resolution"
)

// Notification is one message bound for a channel.
type Notification struct {
	Alert alert.Alert
	Kind  Kind
	Title string
	Body  string
}

// NewTrigger builds the notification for a freshly fired alert.
func NewTrigger(a alert.Alert) Notification {
	return Notification{
		Alert: a,
		Kind:  KindTrigger,
		Title: fmt.Sprintf("[%s] %s", a.Severity, a.Title),
		Body:  a.Message,
	}
}

// NewEscalation builds the notification for a tier advance. The title and
// body are distinct from the trigger's, but the alert id lineage is the same.
func NewEscalation(a alert.Alert) Notification {
	return Notification{
		Alert: a,
		Kind:  KindEscalation,
		Title: fmt.Sprintf("[%s] ESCALATED to %s: %s", a.Severity, a.Tier, a.Title),
		Body: fmt.Sprintf("%s — unacknowledged for %d escalation(s), now routed to %s",
			a.Message, a.EscalationCount, a.Tier),
	}
}

// NewResolution builds the notification for a resolved alert.
func NewResolution(a alert.Alert) Notification {
	return Notification{
		Alert: a,
		Kind:  KindResolution,
		Title: fmt.Sprintf("[resolved] %s", a.Title),
		Body:  fmt.Sprintf("%s — resolved: %s", a.Message, a.ResolveReason),
	}
}

// Handler delivers notifications for one channel kind. Implementations must
// honor ctx cancellation; the dispatcher bounds every call with a timeout.
type Handler interface {
	Send(ctx context.Context, n Notification) error
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, n Notification) error

func (f HandlerFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// ChannelConfig is the runtime configuration of one notification channel.
type ChannelConfig struct {
	// Name is the identifier rules reference in their channel lists.
	Name string

	// Kind selects the registered handler ("log", "audit", "slack", "teams",
	// "http", "telegram").
	Kind string

	Enabled          bool
	MinSeverity      alert.Severity
	RateLimitPerHour int

	// URL is the resolved webhook target for webhook kinds.
	URL string

	// Token and ChatID configure the telegram kind.
	Token  string
	ChatID string
}

// Dispatcher fans alerts out to channels. For each requested channel it
// applies, in order: the enabled flag, the minimum-severity filter, and the
// per-channel trailing-hour rate limit. A delivery failure on one channel is
// logged and never prevents attempts on the remaining channels. Every
// attempted delivery is recorded in the bounded audit log regardless of
// outcome. Safe for concurrent use.
type Dispatcher struct {
	timeout time.Duration
	prom    *metrics.Collectors

	mu       sync.Mutex
	channels map[string]ChannelConfig
	handlers map[string]Handler
	hourly   map[string][]time.Time

	audit *AuditLog
	sinks []AuditSink

	now func() time.Time // injectable for deterministic tests
}

// NewDispatcher creates a Dispatcher with the log handler pre-registered.
// deliveryTimeout bounds each channel call; prom may be nil.
func NewDispatcher(deliveryTimeout time.Duration, auditSize int, prom *metrics.Collectors) *Dispatcher {
	if deliveryTimeout <= 0 {
		deliveryTimeout = DefaultDeliveryTimeout
	}
	d := &Dispatcher{
		timeout:  deliveryTimeout,
		prom:     prom,
		channels: make(map[string]ChannelConfig),
		handlers: make(map[string]Handler),
		hourly:   make(map[string][]time.Time),
		audit:    NewAuditLog(auditSize),
		now:      time.Now,
	}
	d.handlers["log"] = HandlerFunc(logHandler)
	d.handlers["audit"] = HandlerFunc(func(ctx context.Context, n Notification) error {
		// The audit kind exists so a rule can target the audit trail alone;
		// the record itself is written by Dispatch for every channel.
		return nil
	})
	return d
}

// RegisterHandler registers the delivery handler for a channel kind, or for
// one specific channel when kind is a channel name. Registering an empty
// kind or a nil handler is a configuration error.
func (d *Dispatcher) RegisterHandler(kind string, h Handler) error {
	if kind == "" {
		return fmt.Errorf("notify: handler kind must not be empty")
	}
	if h == nil {
		return fmt.Errorf("notify: nil handler for kind %q", kind)
	}
	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
	return nil
}

// AddAuditSink attaches an external persistence collaborator that receives
// every audit record.
func (d *Dispatcher) AddAuditSink(s AuditSink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// SetChannels replaces the channel set. Channels with no registered handler
// under either their name or their kind are rejected, as are duplicate
// names; on error the previous set stays active.
func (d *Dispatcher) SetChannels(channels []ChannelConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[string]ChannelConfig, len(channels))
	for _, ch := range channels {
		if ch.Name == "" {
			return fmt.Errorf("notify: channel name must not be empty")
		}
		if _, dup := next[ch.Name]; dup {
			return fmt.Errorf("notify: duplicate channel %q", ch.Name)
		}
		if _, byName := d.handlers[ch.Name]; !byName {
			if _, byKind := d.handlers[ch.Kind]; !byKind {
				return fmt.Errorf("notify: channel %q has unknown kind %q", ch.Name, ch.Kind)
			}
		}
		next[ch.Name] = ch
	}
	d.channels = next
	slog.Info("notify: channel set updated", "count", len(next))
	return nil
}

// Channels returns a copy of the current channel set.
func (d *Dispatcher) Channels() []ChannelConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ChannelConfig, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch)
	}
	return out
}

// Dispatch delivers n to the named channels. An empty channel list means
// every configured channel. Dispatch never returns an error: per-channel
// failures are isolated, logged, and audited.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification, channels []string) {
	if len(channels) == 0 {
		d.mu.Lock()
		for name := range d.channels {
			channels = append(channels, name)
		}
		d.mu.Unlock()
	}

	for _, name := range channels {
		d.deliverOne(ctx, n, name)
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, n Notification, name string) {
	d.mu.Lock()
	ch, ok := d.channels[name]
	if !ok {
		d.mu.Unlock()
		slog.Debug("notify: unknown channel — skipping", "channel", name)
		return
	}
	if !ch.Enabled {
		d.mu.Unlock()
		return
	}
	if n.Alert.Severity < ch.MinSeverity {
		d.mu.Unlock()
		return
	}
	if !d.admitLocked(name, ch.RateLimitPerHour) {
		d.mu.Unlock()
		slog.Debug("notify: channel rate limited", "channel", name)
		return
	}
	// A handler registered under the channel's own name (carrying that
	// channel's endpoint) wins over the shared per-kind handler.
	handler, ok := d.handlers[ch.Name]
	if !ok {
		handler = d.handlers[ch.Kind]
	}
	sinks := d.sinks
	d.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.send(cctx, handler, n)
	cancel()

	rec := AuditRecord{
		At:       d.now(),
		AlertID:  n.Alert.ID,
		Channel:  name,
		Severity: n.Alert.Severity,
		Kind:     string(n.Kind),
		Outcome:  "delivered",
	}
	if err != nil {
		rec.Outcome = "failed"
		rec.Error = err.Error()
		slog.Error("notify: delivery failed",
			"channel", name, "kind", ch.Kind, "alert", n.Alert.ID, "err", err)
	} else {
		slog.Debug("notify: delivered",
			"channel", name, "kind", ch.Kind, "alert", n.Alert.ID, "type", n.Kind)
	}
	d.prom.IncNotification(name, rec.Outcome)

	d.audit.Append(rec)
	for _, s := range sinks {
		s.Record(rec)
	}
}

// send invokes the handler, converting a panic into an error so one broken
// channel implementation cannot take down the dispatch path.
func (d *Dispatcher) send(ctx context.Context, h Handler, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Send(ctx, n)
}

// admitLocked applies the trailing-hour rate limit. Caller holds d.mu.
func (d *Dispatcher) admitLocked(name string, limit int) bool {
	if limit <= 0 {
		return true
	}
	now := d.now()
	cutoff := now.Add(-time.Hour)
	recent := d.hourly[name][:0]
	for _, t := range d.hourly[name] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= limit {
		d.hourly[name] = recent
		return false
	}
	d.hourly[name] = append(recent, now)
	return true
}

// Audit returns up to limit audit records, newest first.
func (d *Dispatcher) Audit(limit int) []AuditRecord {
	return d.audit.Recent(limit)
}

func logHandler(ctx context.Context, n Notification) error {
	slog.Info("notify: alert notification",
		"type", n.Kind,
		"alert", n.Alert.ID,
		"rule", n.Alert.RuleID,
		"severity", n.Alert.Severity.String(),
		"tier", n.Alert.Tier.String(),
		"title", n.Title,
	)
	return nil
}
