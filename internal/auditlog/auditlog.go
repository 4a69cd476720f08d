// Package auditlog persists a durable record of dispatched actions and
// received echoes to SQLite (spec §9 supplemented feature: the
// original's session history is ephemeral in-memory only, so a
// Responder hooked to Record gives operators something to inspect
// after the fact). Grounded on internal/checkpoint/store.go's
// database/sql table-per-concern shape, adapted from
// github.com/mattn/go-sqlite3 to the pure-Go modernc.org/sqlite driver
// the rest of the engine's domain stack settled on.
package auditlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/melobridge/engine/internal/dispatch"
	"github.com/melobridge/engine/internal/event"
)

// Log persists action/echo records to a SQLite database.
type Log struct {
	db *sql.DB
}

// Open creates or attaches to the audit database at path and ensures
// its schema exists.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: migrate: %w", err)
	}
	return l, nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

func (l *Log) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sent_at TEXT NOT NULL,
			kind TEXT NOT NULL,
			params_json TEXT,
			resp_id TEXT,
			trigger_event_id TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_actions_sent_at ON actions(sent_at DESC);

		CREATE TABLE IF NOT EXISTS echoes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			received_at TEXT NOT NULL,
			echo_id TEXT NOT NULL,
			status INTEGER NOT NULL,
			data_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_echoes_echo_id ON echoes(echo_id);

		CREATE TABLE IF NOT EXISTS session_suspensions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			handler_name TEXT NOT NULL,
			hup_at TEXT NOT NULL
		);
	`)
	return err
}

// RecordAction writes one dispatched action. Call it from a hookbus
// ACTION_PRESEND handler.
func (l *Log) RecordAction(action *dispatch.Action) error {
	params, err := json.Marshal(action.Params)
	if err != nil {
		return fmt.Errorf("auditlog: marshal params: %w", err)
	}
	triggerID := ""
	if action.Trigger != nil {
		triggerID = action.Trigger.ID()
	}
	_, err = l.db.Exec(
		`INSERT INTO actions (sent_at, kind, params_json, resp_id, trigger_event_id) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), action.Kind, string(params), action.RespID, triggerID,
	)
	if err != nil {
		return fmt.Errorf("auditlog: insert action: %w", err)
	}
	return nil
}

// RecordEcho writes one received echo.
func (l *Log) RecordEcho(echo *event.EchoEvent) error {
	data, err := json.Marshal(echo.Data)
	if err != nil {
		return fmt.Errorf("auditlog: marshal echo data: %w", err)
	}
	_, err = l.db.Exec(
		`INSERT INTO echoes (received_at, echo_id, status, data_json) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), echo.EchoID, echo.Status, string(data),
	)
	if err != nil {
		return fmt.Errorf("auditlog: insert echo: %w", err)
	}
	return nil
}

// RecordSuspension writes one session suspend ("hup") event. The
// engine feeds it from the session_suspended telemetry events that
// session.Manager publishes on every suspension.
func (l *Log) RecordSuspension(handlerName string, at time.Time) error {
	_, err := l.db.Exec(
		`INSERT INTO session_suspensions (handler_name, hup_at) VALUES (?, ?)`,
		handlerName, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("auditlog: insert suspension: %w", err)
	}
	return nil
}

// RecentActions returns the most recent actions, newest first.
func (l *Log) RecentActions(limit int) ([]ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(
		`SELECT sent_at, kind, params_json, resp_id, trigger_event_id FROM actions ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query actions: %w", err)
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var rec ActionRecord
		var sentAt, params string
		if err := rows.Scan(&sentAt, &rec.Kind, &params, &rec.RespID, &rec.TriggerEventID); err != nil {
			return nil, fmt.Errorf("auditlog: scan action: %w", err)
		}
		rec.SentAt, _ = time.Parse(time.RFC3339Nano, sentAt)
		_ = json.Unmarshal([]byte(params), &rec.Params)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ActionRecord is one row read back from RecentActions.
type ActionRecord struct {
	SentAt         time.Time
	Kind           string
	Params         map[string]any
	RespID         string
	TriggerEventID string
}
