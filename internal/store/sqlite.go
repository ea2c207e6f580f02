package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/aeonsage/aeonsage/internal/gate"
)

// History schema. Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS decisions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    operation     TEXT NOT NULL,
    gate_id       TEXT NOT NULL DEFAULT '',
    allowed       BOOLEAN NOT NULL,
    requires_auth TEXT NOT NULL DEFAULT '',
    threat_level  TEXT NOT NULL DEFAULT '',
    threat_score  INTEGER NOT NULL DEFAULT 0,
    message       TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_gate_id ON decisions(gate_id);
CREATE INDEX IF NOT EXISTS idx_decisions_operation ON decisions(operation);

CREATE TABLE IF NOT EXISTS approval_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id  TEXT NOT NULL,
    gate_id     TEXT NOT NULL DEFAULT '',
    operation   TEXT NOT NULL,
    status      TEXT NOT NULL,
    actor       TEXT NOT NULL DEFAULT '',
    method      TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approval_events_request ON approval_events(request_id, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_approval_events_created_at ON approval_events(created_at DESC);
`,
	},
}

// SQLiteHistory is the SQLite-backed decision and approval timeline.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteHistory(path string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	h := &SQLiteHistory{db: db}
	if err := h.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return h, nil
}

// migrate applies any unapplied migrations in order.
func (h *SQLiteHistory) migrate() error {
	_, err := h.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := h.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := h.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := h.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (h *SQLiteHistory) Close() error { return h.db.Close() }

func (h *SQLiteHistory) Ping(ctx context.Context) error { return h.db.PingContext(ctx) }

// RecordDecision appends one authorization decision to the timeline.
func (h *SQLiteHistory) RecordDecision(ctx context.Context, rec gate.DecisionRecord) error {
	_, err := h.db.ExecContext(ctx, `
        INSERT INTO decisions(operation, gate_id, allowed, requires_auth, threat_level, threat_score, message, created_at)
        VALUES(?,?,?,?,?,?,?,?)
    `,
		rec.Operation, rec.GateID, rec.Allowed, string(rec.RequiresAuth),
		rec.ThreatLevel, rec.ThreatScore, rec.Message, rec.CreatedAt.UTC(),
	)
	return err
}

// RecordApprovalEvent appends one approval lifecycle transition.
func (h *SQLiteHistory) RecordApprovalEvent(ctx context.Context, ev gate.ApprovalEvent) error {
	_, err := h.db.ExecContext(ctx, `
        INSERT INTO approval_events(request_id, gate_id, operation, status, actor, method, created_at)
        VALUES(?,?,?,?,?,?,?)
    `,
		ev.RequestID, ev.GateID, ev.Operation, string(ev.Status),
		ev.Actor, string(ev.Method), ev.CreatedAt.UTC(),
	)
	return err
}

// RecentDecisions returns the newest decisions, newest first.
func (h *SQLiteHistory) RecentDecisions(ctx context.Context, limit int) ([]gate.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT operation,gate_id,allowed,requires_auth,threat_level,threat_score,message,created_at
         FROM decisions ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []gate.DecisionRecord
	for rows.Next() {
		var rec gate.DecisionRecord
		var auth string
		var ts string
		if err := rows.Scan(&rec.Operation, &rec.GateID, &rec.Allowed, &auth,
			&rec.ThreatLevel, &rec.ThreatScore, &rec.Message, &ts); err != nil {
			return nil, err
		}
		rec.RequiresAuth = gate.AuthMethod(auth)
		rec.CreatedAt, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ApprovalTimeline returns every recorded transition for one request, oldest
// first.
func (h *SQLiteHistory) ApprovalTimeline(ctx context.Context, requestID string) ([]gate.ApprovalEvent, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT request_id,gate_id,operation,status,actor,method,created_at
         FROM approval_events WHERE request_id=? ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []gate.ApprovalEvent
	for rows.Next() {
		var ev gate.ApprovalEvent
		var status, method, ts string
		if err := rows.Scan(&ev.RequestID, &ev.GateID, &ev.Operation, &status, &ev.Actor, &method, &ts); err != nil {
			return nil, err
		}
		ev.Status = gate.ApprovalStatus(status)
		ev.Method = gate.AuthMethod(method)
		ev.CreatedAt, _ = parseTime(ts)
		result = append(result, ev)
	}
	return result, rows.Err()
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
