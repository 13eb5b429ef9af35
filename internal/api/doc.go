// Package api exposes the REST surface: health with selectable detail,
// alerts with acknowledge/resolve actions, the dashboard aggregate, recent
// events, the active rule set and the notification audit trail.
package api
