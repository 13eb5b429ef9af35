package notify

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
)

// PostgresAuditSink persists every delivery attempt to a Postgres table for
// long-term audit. Writes happen on a background goroutine fed by a bounded
// buffer; when the buffer is full, records are dropped with a log line rather
// than blocking the dispatch path.
type PostgresAuditSink struct {
	db  *sql.DB
	buf chan AuditRecord
}

const createAuditTable = `CREATE TABLE IF NOT EXISTS alert_audit (
	at        TIMESTAMPTZ NOT NULL,
	alert_id  TEXT        NOT NULL,
	channel   TEXT        NOT NULL,
	severity  TEXT        NOT NULL,
	kind      TEXT        NOT NULL,
	outcome   TEXT        NOT NULL,
	error     TEXT        NOT NULL DEFAULT ''
)`

// NewPostgresAuditSink opens dsn, ensures the audit table exists, and starts
// the writer goroutine. Close releases it.
func NewPostgresAuditSink(dsn string) (*PostgresAuditSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(createAuditTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	s := &PostgresAuditSink{
		db:  db,
		buf: make(chan AuditRecord, 256),
	}
	go s.writeLoop()
	return s, nil
}

// Record enqueues rec for persistence. Never blocks.
func (s *PostgresAuditSink) Record(rec AuditRecord) {
	select {
	case s.buf <- rec:
	default:
		slog.Warn("notify: audit buffer full — dropping record", "alert", rec.AlertID)
	}
}

func (s *PostgresAuditSink) writeLoop() {
	for rec := range s.buf {
		_, err := s.db.Exec(
			`INSERT INTO alert_audit (at, alert_id, channel, severity, kind, outcome, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.At, rec.AlertID, rec.Channel, rec.Severity.String(), rec.Kind, rec.Outcome, rec.Error,
		)
		if err != nil {
			slog.Error("notify: audit insert failed", "alert", rec.AlertID, "err", err)
		}
	}
}

// Close stops the writer and closes the database handle.
func (s *PostgresAuditSink) Close() error {
	close(s.buf)
	return s.db.Close()
}
