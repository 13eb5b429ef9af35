// Package ws streams live monitoring state to dashboard clients over
// WebSocket: a periodic dashboard frame with current metrics and alert
// counts, plus immediate frames on alert lifecycle transitions.
package ws
