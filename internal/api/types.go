package api

import (
	"github.com/bridgewatch/bridgewatch/internal/alert"
	"github.com/bridgewatch/bridgewatch/internal/escalate"
	"github.com/bridgewatch/bridgewatch/internal/health"
	"github.com/bridgewatch/bridgewatch/internal/metrics"
	"github.com/bridgewatch/bridgewatch/internal/monitor"
	"github.com/bridgewatch/bridgewatch/internal/notify"
)

// HealthResponse is the payload of GET /api/v1/health. Components and Metrics
// appear at detail=standard and above; Tasks only at detail=comprehensive.
type HealthResponse struct {
	Status           string   `json:"status"`
	Issues           []string `json:"issues"`
	MonitoringActive bool     `json:"monitoring_active"`

	Components map[string]health.Result `json:"components,omitempty"`
	Metrics    *metrics.SystemSnapshot  `json:"metrics,omitempty"`

	Tasks []monitor.TaskStatus `json:"tasks,omitempty"`
}

// AlertsResponse is the payload of GET /api/v1/alerts.
type AlertsResponse struct {
	Active  []alert.Alert `json:"active"`
	History []alert.Alert `json:"history"`
}

// DashboardResponse is the payload of GET /api/v1/dashboard and the periodic
// WebSocket frame.
type DashboardResponse struct {
	Status  string                 `json:"status"`
	Issues  []string               `json:"issues"`
	Metrics metrics.SystemSnapshot `json:"metrics"`
	Pending int                    `json:"pending_operations"`
	Alerts  escalate.Stats         `json:"alerts"`
	Audit   []notify.AuditRecord   `json:"recent_notifications"`
}

// actionRequest is the JSON body of alert acknowledge/resolve calls.
type actionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
