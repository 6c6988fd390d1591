package store

import (
	"database/sql"
	"fmt"
)

// LogAccess appends one audit row. Callers deliberately ignore failures here
// in their primary path; the recall layer logs them instead of propagating.
func (e *Engine) LogAccess(entry AccessLogEntry) error {
	_, err := e.db.Exec(`
		INSERT INTO memory_access_log (access_kind, session_id, fact_count, token_cost, latency_ms, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.Kind, entry.SessionID, entry.FactCount, entry.TokenCost, entry.LatencyMS, now())
	if err != nil {
		return fmt.Errorf("log access: %w", err)
	}
	return nil
}

// AccessLog lists recent audit rows, newest first.
func (e *Engine) AccessLog(limit int) ([]AccessLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := e.db.Query(`
		SELECT id, access_kind, session_id, fact_count, token_cost, latency_ms, accessed_at
		FROM memory_access_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("access log: %w", err)
	}
	defer rows.Close()

	result := make([]AccessLogEntry, 0)
	for rows.Next() {
		var a AccessLogEntry
		if err := rows.Scan(&a.ID, &a.Kind, &a.SessionID, &a.FactCount, &a.TokenCost, &a.LatencyMS, &a.AccessedAt); err != nil {
			return nil, fmt.Errorf("scan access entry: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access log: %w", err)
	}
	return result, nil
}

func scanConflicts(rows *sql.Rows) ([]ConflictRecord, error) {
	result := make([]ConflictRecord, 0)
	for rows.Next() {
		var c ConflictRecord
		if err := rows.Scan(&c.ID, &c.OldFactID, &c.NewFactID, &c.ConflictType, &c.Resolution, &c.Reason, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}
	return result, nil
}
