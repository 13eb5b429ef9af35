package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/alert"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// recordingHandler counts sends and optionally fails.
type recordingHandler struct {
	mu    sync.Mutex
	sent  []Notification
	err   error
	panic bool
}

func (h *recordingHandler) Send(ctx context.Context, n Notification) error {
	if h.panic {
		panic("handler exploded")
	}
	h.mu.Lock()
	h.sent = append(h.sent, n)
	h.mu.Unlock()
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

func testAlert(sev alert.Severity) alert.Alert {
	return alert.Alert{
		ID:       "a-1",
		RuleID:   "r-1",
		Severity: sev,
		Title:    "test",
		Message:  "test alert",
		State:    alert.StateFiring,
	}
}

func newTestDispatcher(t *testing.T, h Handler, ch ChannelConfig) *Dispatcher {
	t.Helper()
	d := NewDispatcher(time.Second, 100, nil)
	if err := d.RegisterHandler("test", h); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	if err := d.SetChannels([]ChannelConfig{ch}); err != nil {
		t.Fatalf("SetChannels: %v", err)
	}
	return d
}

func TestDispatch_DeliversAndAudits(t *testing.T) {
	h := &recordingHandler{}
	d := newTestDispatcher(t, h, ChannelConfig{Name: "ops", Kind: "test", Enabled: true})

	d.Dispatch(context.Background(), NewTrigger(testAlert(alert.SeverityWarning)), []string{"ops"})

	if h.count() != 1 {
		t.Fatalf("handler sends: got %d, want 1", h.count())
	}
	audit := d.Audit(0)
	if len(audit) != 1 {
		t.Fatalf("audit: got %d records, want 1", len(audit))
	}
	rec := audit[0]
	if rec.Outcome != "delivered" || rec.Channel != "ops" || rec.AlertID != "a-1" {
		t.Errorf("audit record: got %+v", rec)
	}
}

func TestDispatch_DisabledChannelSkipped(t *testing.T) {
	h := &recordingHandler{}
	d := newTestDispatcher(t, h, ChannelConfig{Name: "ops", Kind: "test", Enabled: false})

	d.Dispatch(context.Background(), NewTrigger(testAlert(alert.SeverityCritical)), []string{"ops"})
	if h.count() != 0 {
		t.Error("disabled channel still received a notification")
	}
}

func TestDispatch_MinSeverityFilter(t *testing.T) {
	h := &recordingHandler{}
	d := newTestDispatcher(t, h, ChannelConfig{
		Name: "pager", Kind: "test", Enabled: true, MinSeverity: alert.SeverityCritical,
	})

	d.Dispatch(context.Background(), NewTrigger(testAlert(alert.SeverityWarning)), []string{"pager"})
	if h.count() != 0 {
		t.Error("below-threshold severity was delivered")
	}

	d.Dispatch(context.Background(), NewTrigger(testAlert(alert.SeverityCritical)), []string{"pager"})
	if h.count() != 1 {
		t.Error("at-threshold severity was not delivered")
	}
}

func TestDispatch_HourlyRateLimit(t *testing.T) {
	base := time.Now()
	h := &recordingHandler{}
	d := newTestDispatcher(t, h, ChannelConfig{
		Name: "ops", Kind: "test", Enabled: true, RateLimitPerHour: 2,
	})
	d.now = fixedClock(base)

	for i := 0; i < 5; i++ {
		d.Dispatch(context.Background(), NewTrigger(testAlert(alert.SeverityWarning)), []string{"ops"})
	}
	if h.count() != 2 {
		t.Fatalf("within the hour: got %d deliveries, want 2", h.count())
	}

	// Window rolls: delivery resumes.
	d.now = fixedClock(base.Add(61 * time.Minute))
	d.Dispatch(context.Background(), NewTrigger(testAlert(alert.SeverityWarning)), []string{"ops"})
	if h.count() != 3 {
		t.Errorf("after window rolled: got %d deliveries, want 3", h.count())
	}
}

func TestDispatch_FailureIsolatedPerChannel(t *testing.T) {
	bad := &recordingHandler{err: errors.New("boom")}
	good := &recordingHandler{}

	d := NewDispatcher(time.Second, 100, nil)
	if err := d.RegisterHandler("bad", bad); err != nil {
		t.Fatal(err)
	}
	if err := d.RegisterHandler("good", good); err != nil {
		t.Fatal(err)
	}
	if err := d.SetChannels([]ChannelConfig{
		{Name: "first", Kind: "bad", Enabled: true},
		{Name: "second", Kind: "good", Enabled: true},
	}); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(context.Background(), NewTrigger(testAlert(alert.SeverityWarning)), []string{"first", "second"})

	if good.count() != 1 {
		t.Error("failure on one channel prevented delivery to the next")
	}
	// Both attempts audited, including the failure.
	var outcomes []string
	for _, rec := range d.Audit(0) {
		outcomes = append(outcomes, rec.Outcome)
	}
	if len(outcomes) != 2 {
		t.Fatalf("audit: got %d records, want 2", len(outcomes))
	}
}

func TestDispatch_PanickingHandlerIsContained(t *testing.T) {
	h := &recordingHandler{panic: true}
	d := newTestDispatcher(t, h, ChannelConfig{Name: "ops", Kind: "test", Enabled: true})

	// Must not panic the caller.
	d.Dispatch(context.Background(), NewTrigger(testAlert(alert.SeverityWarning)), []string{"ops"})

	audit := d.Audit(0)
	if len(audit) != 1 || audit[0].Outcome != "failed" {
		t.Errorf("audit after panic: got %+v", audit)
	}
}

func TestSetChannels_RejectsUnknownKind(t *testing.T) {
	d := NewDispatcher(time.Second, 10, nil)
	err := d.SetChannels([]ChannelConfig{{Name: "x", Kind: "carrier-pigeon", Enabled: true}})
	if err == nil {
		t.Error("SetChannels: accepted channel with unregistered kind")
	}
}

func TestNotificationBuilders(t *testing.T) {
	a := testAlert(alert.SeverityCritical)
	a.Tier = alert.TierManagement
	a.EscalationCount = 2
	a.ResolveReason = "condition resolved automatically"

	trig := NewTrigger(a)
	esc := NewEscalation(a)
	res := NewResolution(a)

	if trig.Kind != KindTrigger || esc.Kind != KindEscalation || res.Kind != KindResolution {
		t.Error("builder kinds wrong")
	}
	if esc.Title == trig.Title {
		t.Error("escalation title must differ from trigger title")
	}
	if esc.Alert.ID != trig.Alert.ID {
		t.Error("escalation lost alert id lineage")
	}
}

func TestAuditLog_Bounded(t *testing.T) {
	l := NewAuditLog(3)
	for i := 0; i < 5; i++ {
		l.Append(AuditRecord{AlertID: "a", Channel: "c"})
	}
	if l.Len() != 3 {
		t.Errorf("Len: got %d, want 3", l.Len())
	}
}
