package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/bridgewatch/bridgewatch/internal/alert"
	"github.com/bridgewatch/bridgewatch/internal/event"
	"github.com/bridgewatch/bridgewatch/internal/monitor"
	"github.com/bridgewatch/bridgewatch/internal/notify"
)

// Handler is the HTTP handler for all /api/v1/* endpoints. It reads
// monitoring state from the wired monitor and returns JSON responses.
type Handler struct {
	mon *monitor.Monitor
	mux *http.ServeMux
}

// New creates a Handler wired to mon and registers all routes.
func New(mon *monitor.Monitor) http.Handler {
	h := &Handler{mon: mon, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/alerts/", h.alertAction) // subtree — {id}/ack, {id}/resolve
	h.mux.HandleFunc("/api/v1/dashboard", h.dashboard)
	h.mux.HandleFunc("/api/v1/events", h.events)
	h.mux.HandleFunc("/api/v1/rules", h.rules)
	h.mux.HandleFunc("/api/v1/notifications/audit", h.audit)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — worst-of component status. The detail
// query selects basic (default), standard, or comprehensive payloads.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status, issues := h.mon.Evaluator().SystemStatus()
	if issues == nil {
		issues = []string{}
	}
	resp := HealthResponse{
		Status:           status.String(),
		Issues:           issues,
		MonitoringActive: len(h.mon.Tasks()) > 0,
	}

	switch r.URL.Query().Get("detail") {
	case "", "basic":
	case "standard":
		snap := h.mon.Recorder().Snapshot()
		resp.Components = h.mon.Evaluator().Latest()
		resp.Metrics = &snap
	case "comprehensive":
		snap := h.mon.Recorder().Snapshot()
		resp.Components = h.mon.Evaluator().Latest()
		resp.Metrics = &snap
		resp.Tasks = h.mon.Tasks()
	default:
		jsonErr(w, http.StatusBadRequest, "detail must be basic, standard or comprehensive")
		return
	}

	code := http.StatusOK
	if status.String() == "critical" {
		code = http.StatusServiceUnavailable
	}
	jsonResp(w, code, resp)
}

// alerts returns GET /api/v1/alerts — active alerts plus resolved history.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctl := h.mon.Controller()
	resp := AlertsResponse{
		Active:  ctl.Active(),
		History: ctl.History(limitParam(r, 100)),
	}
	if resp.Active == nil {
		resp.Active = []alert.Alert{}
	}
	if resp.History == nil {
		resp.History = []alert.Alert{}
	}
	jsonResp(w, http.StatusOK, resp)
}

// alertAction handles POST /api/v1/alerts/{id}/ack and
// POST /api/v1/alerts/{id}/resolve.
func (h *Handler) alertAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Actor == "" {
		jsonErr(w, http.StatusBadRequest, "actor is required")
		return
	}

	ctl := h.mon.Controller()
	var err error
	switch action {
	case "ack":
		err = ctl.Acknowledge(id, req.Actor)
	case "resolve":
		reason := req.Reason
		if reason == "" {
			reason = "resolved manually"
		}
		err = ctl.Resolve(r.Context(), id, req.Actor, reason)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusNotFound, err.Error())
		return
	}

	a, _ := ctl.Get(id)
	jsonResp(w, http.StatusOK, a)
}

// dashboard returns GET /api/v1/dashboard — the aggregate view the UI and
// the WebSocket stream share.
func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildDashboard(h.mon))
}

// events returns GET /api/v1/events — recent lifecycle events, optionally
// filtered by kind.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	kind := event.Kind(r.URL.Query().Get("kind"))
	evs := h.mon.Recorder().RecentEvents(limitParam(r, 100), kind)
	if evs == nil {
		evs = []event.Event{}
	}
	jsonResp(w, http.StatusOK, evs)
}

// rules returns GET /api/v1/rules — the active rule set.
func (h *Handler) rules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.mon.Engine().Rules())
}

// audit returns GET /api/v1/notifications/audit — the delivery audit trail,
// newest first.
func (h *Handler) audit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	recs := h.mon.Dispatcher().Audit(limitParam(r, 100))
	if recs == nil {
		recs = []notify.AuditRecord{}
	}
	jsonResp(w, http.StatusOK, recs)
}

// BuildDashboard assembles the aggregate dashboard view. Shared with the
// WebSocket hub's periodic frame.
func BuildDashboard(mon *monitor.Monitor) DashboardResponse {
	status, issues := mon.Evaluator().SystemStatus()
	if issues == nil {
		issues = []string{}
	}
	return DashboardResponse{
		Status:  status.String(),
		Issues:  issues,
		Metrics: mon.Recorder().Snapshot(),
		Pending: mon.Detector().PendingCount(),
		Alerts:  mon.Controller().Statistics(),
		Audit:   mon.Dispatcher().Audit(20),
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// limitParam reads the limit query parameter, defaulting when absent or bad.
func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
