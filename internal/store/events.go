package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quorvex/scribe/internal/sanitize"
)

// AppendEvent sanitizes rawContent, persists the event and enqueues its
// extraction job in one transaction. Fails only on an invalid kind or a
// storage error, never on content: an empty or fully redacted text is still
// a valid event.
func (e *Engine) AppendEvent(sessionID, kind, agentName, rawContent string, metadata map[string]string) (int64, sanitize.Report, error) {
	if !ValidKind(kind) {
		return 0, sanitize.Report{}, validationErr(ErrInvalidKind, kind)
	}

	// Snapshot the gate pointer under the lock; ReloadGate may swap it
	// from another goroutine mid-append.
	e.mu.Lock()
	gate := e.gate
	e.mu.Unlock()
	clean, report := gate.Sanitize(rawContent)

	meta := "{}"
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return 0, report, fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(encoded)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return 0, report, fmt.Errorf("begin append event: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.Exec(`
		INSERT INTO events (timestamp, session_id, event_kind, agent_name, content, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ts, sessionID, kind, agentName, clean, meta)
	if err != nil {
		return 0, report, fmt.Errorf("append event: %w", err)
	}
	eventID, err := res.LastInsertId()
	if err != nil {
		return 0, report, fmt.Errorf("event id: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO scribe_queue (event_id, priority, status, created_at)
		VALUES (?, ?, ?, ?)
	`, eventID, priorityForKind(kind, e.defaultPriority), JobPending, ts); err != nil {
		return 0, report, fmt.Errorf("enqueue event %d: %w", eventID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, report, fmt.Errorf("commit append event: %w", err)
	}
	return eventID, report, nil
}

// priorityForKind nudges decision and correction traffic ahead of chatter.
// Priority is 1-10, higher served first.
func priorityForKind(kind string, def int) int {
	p := def
	switch kind {
	case KindDecisionRendered:
		p = def + 2
	case KindVoteCast:
		p = def + 1
	case KindSystemEvent:
		p = def - 2
	}
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}

// MarkConsumed flips the only mutable field on an event.
func (e *Engine) MarkConsumed(eventID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(`UPDATE events SET consumed = 1 WHERE id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("mark consumed %d: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark consumed %d: %w", eventID, ErrNotFound)
	}
	return nil
}

// UnconsumedBatch returns unprocessed events oldest-first for fairness.
func (e *Engine) UnconsumedBatch(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.db.Query(`
		SELECT id, timestamp, session_id, event_kind, agent_name, content, metadata, consumed
		FROM events
		WHERE consumed = 0
		ORDER BY timestamp ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("unconsumed batch: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventByID fetches one event.
func (e *Engine) EventByID(id int64) (*Event, error) {
	row := e.db.QueryRow(`
		SELECT id, timestamp, session_id, event_kind, agent_name, content, metadata, consumed
		FROM events
		WHERE id = ?
	`, id)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", id, err)
	}
	return ev, nil
}

// RecentEvents lists the newest events for inspection.
func (e *Engine) RecentEvents(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.db.Query(`
		SELECT id, timestamp, session_id, event_kind, agent_name, content, metadata, consumed
		FROM events
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var ev Event
	var meta string
	var consumed int
	if err := row.Scan(&ev.ID, &ev.Timestamp, &ev.SessionID, &ev.Kind, &ev.AgentName, &ev.Content, &meta, &consumed); err != nil {
		return nil, err
	}
	ev.Consumed = consumed == 1
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	result := make([]Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		result = append(result, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}
