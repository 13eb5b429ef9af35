package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/alert"
	"github.com/bridgewatch/bridgewatch/internal/config"
	"github.com/bridgewatch/bridgewatch/internal/detect"
	"github.com/bridgewatch/bridgewatch/internal/escalate"
	"github.com/bridgewatch/bridgewatch/internal/health"
	"github.com/bridgewatch/bridgewatch/internal/metrics"
	"github.com/bridgewatch/bridgewatch/internal/notify"
	"github.com/bridgewatch/bridgewatch/internal/rules"
)

const (
	// evictInterval is how often idle per-user entries are collected.
	evictInterval = 10 * time.Minute

	// stopTimeout bounds how long Stop waits for loops to drain.
	stopTimeout = 5 * time.Second
)

// Monitor wires the whole pipeline together: the event recorder, the
// silent-failure detector, health evaluation behind circuit breakers, rule
// evaluation, escalation and notification dispatch. Producers feed it through
// the ingestion methods in ingest.go; Start runs the background loops.
type Monitor struct {
	cfg *config.Config

	prom       *metrics.Collectors
	recorder   *metrics.Recorder
	detector   *detect.Detector
	evaluator  *health.Evaluator
	engine     *rules.Engine
	controller *escalate.Controller
	dispatcher *notify.Dispatcher
	pgSink     *notify.PostgresAuditSink

	// onAlert, when set before Start, receives every fired alert after the
	// controller has admitted it. Used for the live dashboard stream.
	onAlert atomic.Pointer[func(alert.Alert)]

	sup    *supervisor
	cancel context.CancelFunc
	seq    atomic.Uint64
}

// New builds a fully wired Monitor from cfg. It does not start any loops.
func New(cfg *config.Config) (*Monitor, error) {
	m := &Monitor{
		cfg: cfg,
		sup: newSupervisor(),
	}

	m.prom = metrics.NewCollectors()
	m.recorder = metrics.NewRecorder(cfg.Server.EventHistory, cfg.Server.IdleTTL, m.prom)
	m.detector = detect.New(cfg.Detector.Window, m.prom, m.recorder.RecordEvent)

	m.evaluator = health.NewEvaluator(cfg.Health.CheckTimeout, m.prom)
	m.registerCheckers()

	m.dispatcher = notify.NewDispatcher(0, cfg.Audit.History, m.prom)

	m.engine = rules.New(m.recorder, m.detector.PendingCount, m.admitAlert, m.prom)
	m.controller = escalate.New(m.engine, m.dispatcher, m.prom)

	engineRules, err := cfg.EngineRules()
	if err != nil {
		return nil, err
	}
	if err := m.engine.SetRules(engineRules); err != nil {
		return nil, err
	}
	if err := m.applyChannels(cfg); err != nil {
		return nil, err
	}

	if dsn := cfg.Audit.PostgresDSN(); dsn != "" {
		sink, err := notify.NewPostgresAuditSink(dsn)
		if err != nil {
			// The in-memory audit ring still works; durable audit is best
			// effort at startup.
			slog.Error("monitor: postgres audit sink unavailable", "err", err)
		} else {
			m.pgSink = sink
			m.dispatcher.AddAuditSink(sink)
		}
	}

	return m, nil
}

// registerCheckers wraps every health check in a circuit breaker sharing the
// configured thresholds.
func (m *Monitor) registerCheckers() {
	b := m.cfg.Health.Breaker
	wrap := func(c health.Checker) {
		m.evaluator.Register(health.NewBreaker(c, b.FailureThreshold, b.RecoveryTimeout, m.cfg.Health.CheckTimeout))
	}

	wrap(&health.PipelineChecker{Source: m.recorder})
	wrap(&health.BacklogChecker{PendingCount: m.detector.PendingCount})
	wrap(&health.RuntimeChecker{OnGrowth: m.recorder.NoteMemoryGrowth})
	for _, p := range m.cfg.Health.Probes {
		wrap(health.NewMetricsEndpointChecker(p.Component, p.Endpoint, p.ErrorMetric, p.TotalMetric, m.cfg.Health.CheckTimeout))
	}
}

// admitAlert is the engine's fire callback: hand the alert to the escalation
// controller, which owns it from here, then notify any live subscriber.
func (m *Monitor) admitAlert(a alert.Alert) {
	m.controller.Admit(context.Background(), a)
	if fn := m.onAlert.Load(); fn != nil {
		(*fn)(a)
	}
}

// SetAlertListener installs a callback invoked for every fired alert.
func (m *Monitor) SetAlertListener(fn func(alert.Alert)) {
	m.onAlert.Store(&fn)
}

// applyChannels registers handlers for every configured delivery channel
// under the channel's own name and installs the channel set.
func (m *Monitor) applyChannels(cfg *config.Config) error {
	channels, err := cfg.NotifyChannels()
	if err != nil {
		return err
	}
	for _, ch := range channels {
		var h notify.Handler
		switch ch.Kind {
		case "slack", "teams", "http":
			h = &notify.WebhookHandler{Format: ch.Kind, URL: ch.URL}
		case "telegram":
			h = &notify.TelegramHandler{Token: ch.Token, ChatID: ch.ChatID}
		case "log", "audit":
			// Pre-registered kinds need no per-channel handler.
			continue
		default:
			return fmt.Errorf("monitor: channel %q has unknown kind %q", ch.Name, ch.Kind)
		}
		if err := m.dispatcher.RegisterHandler(ch.Name, h); err != nil {
			return err
		}
	}
	return m.dispatcher.SetChannels(channels)
}

// ApplyConfig swaps rules and channels from a reloaded config. Structural
// settings (ports, windows, intervals) keep their boot values.
func (m *Monitor) ApplyConfig(cfg *config.Config) error {
	engineRules, err := cfg.EngineRules()
	if err != nil {
		return err
	}
	if err := m.engine.SetRules(engineRules); err != nil {
		return err
	}
	if err := m.applyChannels(cfg); err != nil {
		return err
	}
	slog.Info("monitor: configuration applied", "rules", len(engineRules), "channels", len(cfg.Channels))
	return nil
}

// Start launches the supervised background loops. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.sup.run(ctx, "detector_sweep", m.cfg.Detector.SweepInterval, func(context.Context) {
		m.detector.Sweep(time.Now())
	})
	m.sup.run(ctx, "health_checks", m.cfg.Health.Interval, func(ctx context.Context) {
		m.evaluator.RunAll(ctx)
	})
	m.sup.run(ctx, "rule_evaluation", m.cfg.Evaluation.RuleInterval, func(context.Context) {
		m.engine.Evaluate()
	})
	m.sup.run(ctx, "escalation", m.cfg.Evaluation.EscalationInterval, func(ctx context.Context) {
		m.controller.SweepEscalations(ctx, time.Now())
		m.controller.SweepAutoResolve(ctx)
	})
	m.sup.run(ctx, "metrics_eviction", evictInterval, func(context.Context) {
		if n := m.recorder.EvictIdle(time.Now()); n > 0 {
			slog.Info("monitor: evicted idle user entries", "count", n)
		}
	})

	slog.Info("monitor: started",
		"detection_window", m.cfg.Detector.Window,
		"rule_interval", m.cfg.Evaluation.RuleInterval,
		"health_interval", m.cfg.Health.Interval,
	)
}

// Stop cancels the background loops and waits briefly for them to drain.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if !m.sup.wait(stopTimeout) {
		slog.Warn("monitor: loops did not drain before timeout")
	}
	if m.pgSink != nil {
		m.pgSink.Close()
	}
	slog.Info("monitor: stopped")
}

// Tasks reports background loop liveness.
func (m *Monitor) Tasks() []TaskStatus { return m.sup.statuses() }

// Component accessors for the HTTP and WebSocket layers.

func (m *Monitor) Recorder() *metrics.Recorder      { return m.recorder }
func (m *Monitor) Detector() *detect.Detector       { return m.detector }
func (m *Monitor) Evaluator() *health.Evaluator     { return m.evaluator }
func (m *Monitor) Engine() *rules.Engine            { return m.engine }
func (m *Monitor) Controller() *escalate.Controller { return m.controller }
func (m *Monitor) Dispatcher() *notify.Dispatcher   { return m.dispatcher }
func (m *Monitor) Collectors() *metrics.Collectors  { return m.prom }
