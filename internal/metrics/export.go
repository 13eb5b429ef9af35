package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors exports the subsystem's own operational counters through a
// dedicated Prometheus registry, served on /metrics by the API layer.
// All Inc/Set helpers are nil-receiver safe so components can run without
// export wired up (tests, embedded use).
type Collectors struct {
	registry *prometheus.Registry

	eventsTotal         *prometheus.CounterVec
	silentFailures      prometheus.Counter
	alertsFired         *prometheus.CounterVec
	alertsEscalated     prometheus.Counter
	alertsResolved      prometheus.Counter
	notificationsTotal  *prometheus.CounterVec
	pendingOperations   prometheus.Gauge
	activeConnections   prometheus.Gauge
	trackedUsers        prometheus.Gauge
	healthCheckFailures *prometheus.CounterVec
}

// NewCollectors creates a registry with all bridgewatch collectors registered.
func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridgewatch",
			Name:      "events_total",
			Help:      "Lifecycle events recorded, by kind.",
		}, []string{"kind"}),
		silentFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgewatch",
			Name:      "silent_failures_total",
			Help:      "Silent failures synthesized by the detector sweep.",
		}),
		alertsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridgewatch",
			Name:      "alerts_fired_total",
			Help:      "Alerts created by the rule engine, by severity.",
		}, []string{"severity"}),
		alertsEscalated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgewatch",
			Name:      "alerts_escalated_total",
			Help:      "Tier advances performed by the escalation controller.",
		}),
		alertsResolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgewatch",
			Name:      "alerts_resolved_total",
			Help:      "Alerts resolved, manually or automatically.",
		}),
		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridgewatch",
			Name:      "notifications_total",
			Help:      "Delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		pendingOperations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridgewatch",
			Name:      "pending_operations",
			Help:      "In-flight operations awaiting a terminal event.",
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridgewatch",
			Name:      "active_connections",
			Help:      "Currently active bridge connections.",
		}),
		trackedUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridgewatch",
			Name:      "tracked_users",
			Help:      "(user, thread) records currently tracked.",
		}),
		healthCheckFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridgewatch",
			Name:      "health_check_failures_total",
			Help:      "Failed health checks, by component.",
		}, []string{"component"}),
	}
}

// Registry returns the underlying registry for promhttp exposure.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collectors) IncEvent(kind string) {
	if c == nil {
		return
	}
	c.eventsTotal.WithLabelValues(kind).Inc()
}

func (c *Collectors) IncSilentFailure() {
	if c == nil {
		return
	}
	c.silentFailures.Inc()
}

func (c *Collectors) IncAlertFired(severity string) {
	if c == nil {
		return
	}
	c.alertsFired.WithLabelValues(severity).Inc()
}

func (c *Collectors) IncAlertEscalated() {
	if c == nil {
		return
	}
	c.alertsEscalated.Inc()
}

func (c *Collectors) IncAlertResolved() {
	if c == nil {
		return
	}
	c.alertsResolved.Inc()
}

func (c *Collectors) IncNotification(channel, outcome string) {
	if c == nil {
		return
	}
	c.notificationsTotal.WithLabelValues(channel, outcome).Inc()
}

func (c *Collectors) SetPendingOperations(n float64) {
	if c == nil {
		return
	}
	c.pendingOperations.Set(n)
}

func (c *Collectors) SetActiveConnections(n float64) {
	if c == nil {
		return
	}
	c.activeConnections.Set(n)
}

func (c *Collectors) SetTrackedUsers(n float64) {
	if c == nil {
		return
	}
	c.trackedUsers.Set(n)
}

func (c *Collectors) IncHealthCheckFailure(component string) {
	if c == nil {
		return
	}
	c.healthCheckFailures.WithLabelValues(component).Inc()
}
