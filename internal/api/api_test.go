package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bridgewatch/bridgewatch/internal/api"
	"github.com/bridgewatch/bridgewatch/internal/config"
	"github.com/bridgewatch/bridgewatch/internal/monitor"
)

// --- test helpers -----------------------------------------------------------

func newMonitor(t *testing.T) *monitor.Monitor {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			HTTPPort:     8080,
			EventHistory: 100,
			IdleTTL:      time.Hour,
		},
		Detector: config.DetectorConfig{
			Window:        60 * time.Second,
			SweepInterval: 60 * time.Second,
		},
		Health: config.HealthConfig{
			Interval:     30 * time.Second,
			CheckTimeout: time.Second,
			Breaker: config.BreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  30 * time.Second,
			},
		},
		Evaluation: config.EvalConfig{
			RuleInterval:       30 * time.Second,
			EscalationInterval: 60 * time.Second,
		},
		Rules: []config.RuleConfig{{
			ID:        "silent-failures",
			Name:      "Silent failures present",
			Scope:     "system",
			Metric:    "silent_failures",
			Op:        "gte",
			Threshold: 1,
			Severity:  "critical",
			Channels:  []string{"oplog"},
		}},
		Channels: []config.ChannelConfig{{Name: "oplog", Kind: "log"}},
		Audit:    config.AuditConfig{History: 100},
	}
	m, err := monitor.New(cfg)
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	return m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// fireAlert drives one silent failure through the pipeline so an alert is
// active, and returns its id.
func fireAlert(t *testing.T, m *monitor.Monitor) string {
	t.Helper()
	m.NotificationAttempted("u1", "t1", "", "", "", "conn-a")
	if n := m.Detector().Sweep(time.Now().Add(5 * time.Minute)); n != 1 {
		t.Fatalf("sweep expired %d, want 1", n)
	}
	fired := m.Engine().Evaluate()
	if len(fired) != 1 {
		t.Fatalf("evaluate fired %d, want 1", len(fired))
	}
	return fired[0].ID
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_Basic(t *testing.T) {
	h := api.New(newMonitor(t))
	rr := get(t, h, "/api/v1/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp map[string]any
	decode(t, rr, &resp)

	if resp["status"] != "healthy" {
		t.Errorf("status: got %v, want healthy", resp["status"])
	}
	if _, ok := resp["components"]; ok {
		t.Error("components present at detail=basic")
	}
}

func TestHealth_ComprehensiveIncludesTasksAndMetrics(t *testing.T) {
	m := newMonitor(t)
	h := api.New(m)

	rr := get(t, h, "/api/v1/health?detail=comprehensive")
	var resp map[string]any
	decode(t, rr, &resp)

	if _, ok := resp["metrics"]; !ok {
		t.Error("metrics missing at detail=comprehensive")
	}
	if resp["monitoring_active"] != false {
		t.Error("monitoring_active: got true for unstarted monitor")
	}
}

func TestHealth_BadDetail(t *testing.T) {
	h := api.New(newMonitor(t))
	rr := get(t, h, "/api/v1/health?detail=verbose")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts_EmptyListsNotNull(t *testing.T) {
	h := api.New(newMonitor(t))
	rr := get(t, h, "/api/v1/alerts")

	body := rr.Body.String()
	var resp api.AlertsResponse
	decode(t, rr, &resp)
	if strings.Contains(body, "null") {
		t.Errorf("empty alert lists rendered as null: %s", body)
	}
}

func TestAlerts_ActiveAfterFire(t *testing.T) {
	m := newMonitor(t)
	id := fireAlert(t, m)
	h := api.New(m)

	rr := get(t, h, "/api/v1/alerts")
	var resp api.AlertsResponse
	decode(t, rr, &resp)

	if len(resp.Active) != 1 {
		t.Fatalf("active: got %d, want 1", len(resp.Active))
	}
	if resp.Active[0].ID != id {
		t.Errorf("alert id: got %q, want %q", resp.Active[0].ID, id)
	}
}

func TestAlertAck(t *testing.T) {
	m := newMonitor(t)
	id := fireAlert(t, m)
	h := api.New(m)

	rr := post(t, h, "/api/v1/alerts/"+id+"/ack", `{"actor":"oncall"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decode(t, rr, &resp)
	if resp["state"] != "acknowledged" {
		t.Errorf("state: got %v, want acknowledged", resp["state"])
	}
}

func TestAlertResolve(t *testing.T) {
	m := newMonitor(t)
	id := fireAlert(t, m)
	h := api.New(m)

	rr := post(t, h, "/api/v1/alerts/"+id+"/resolve", `{"actor":"oncall","reason":"restarted bridge"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	if got := len(m.Controller().Active()); got != 0 {
		t.Errorf("active after resolve: got %d, want 0", got)
	}

	// Resolved alerts show up in history.
	rr = get(t, h, "/api/v1/alerts")
	var resp api.AlertsResponse
	decode(t, rr, &resp)
	if len(resp.History) != 1 {
		t.Errorf("history: got %d, want 1", len(resp.History))
	}
}

func TestAlertAction_MissingActor(t *testing.T) {
	m := newMonitor(t)
	id := fireAlert(t, m)
	h := api.New(m)

	rr := post(t, h, "/api/v1/alerts/"+id+"/ack", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

func TestAlertAction_UnknownAlert(t *testing.T) {
	h := api.New(newMonitor(t))
	rr := post(t, h, "/api/v1/alerts/nope/ack", `{"actor":"x"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

// --- /api/v1/dashboard ------------------------------------------------------

func TestDashboard(t *testing.T) {
	m := newMonitor(t)
	fireAlert(t, m)
	h := api.New(m)

	rr := get(t, h, "/api/v1/dashboard")
	var resp api.DashboardResponse
	decode(t, rr, &resp)

	if resp.Metrics.SilentFailures != 1 {
		t.Errorf("silent failures: got %d, want 1", resp.Metrics.SilentFailures)
	}
	if resp.Alerts.Active != 1 {
		t.Errorf("active alerts: got %d, want 1", resp.Alerts.Active)
	}
	if len(resp.Audit) != 1 {
		t.Errorf("recent notifications: got %d, want 1", len(resp.Audit))
	}
}

// --- /api/v1/events ---------------------------------------------------------

func TestEvents_FilterByKind(t *testing.T) {
	m := newMonitor(t)
	id := m.NotificationAttempted("u1", "t1", "", "", "", "")
	m.NotificationDelivered(id)
	h := api.New(m)

	rr := get(t, h, "/api/v1/events?kind=delivered")
	var evs []map[string]any
	decode(t, rr, &evs)

	if len(evs) != 1 {
		t.Fatalf("events: got %d, want 1", len(evs))
	}
	if evs[0]["kind"] != "delivered" {
		t.Errorf("kind: got %v, want delivered", evs[0]["kind"])
	}
}

// --- misc -------------------------------------------------------------------

func TestRulesEndpoint(t *testing.T) {
	h := api.New(newMonitor(t))
	rr := get(t, h, "/api/v1/rules")
	var rulesList []map[string]any
	decode(t, rr, &rulesList)
	if len(rulesList) != 1 {
		t.Errorf("rules: got %d, want 1", len(rulesList))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := api.New(newMonitor(t))
	rr := post(t, h, "/api/v1/health", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}
