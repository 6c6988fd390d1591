package store

import (
	"fmt"
	"os"
	"time"
)

// Stats is the dashboard-style snapshot: table counts, recent event
// activity, session count and database size.
func (e *Engine) Stats() (*MemoryStats, error) {
	s := &MemoryStats{}

	counts := []struct {
		dest  *int
		query string
	}{
		{&s.Events, `SELECT COUNT(*) FROM events`},
		{&s.ActiveFacts, `SELECT COUNT(*) FROM atomic_facts WHERE is_active = 1`},
		{&s.InactiveFacts, `SELECT COUNT(*) FROM atomic_facts WHERE is_active = 0`},
		{&s.Conflicts, `SELECT COUNT(*) FROM fact_conflicts`},
		{&s.Summaries, `SELECT COUNT(*) FROM category_summaries`},
		{&s.PendingJobs, `SELECT COUNT(*) FROM scribe_queue WHERE status = 'pending'`},
		{&s.FailedJobs, `SELECT COUNT(*) FROM scribe_queue WHERE status = 'failed'`},
		{&s.AccessEntries, `SELECT COUNT(*) FROM memory_access_log`},
		{&s.Sessions, `SELECT COUNT(DISTINCT session_id) FROM events WHERE session_id != ''`},
		{&s.SanitizerRules, `SELECT COUNT(*) FROM sanitization_rules WHERE active = 1`},
	}
	for _, c := range counts {
		if err := e.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("stats count: %w", err)
		}
	}

	dayAgo := time.Now().UTC().Add(-24 * time.Hour).Format(timeFormat)
	weekAgo := time.Now().UTC().Add(-7 * 24 * time.Hour).Format(timeFormat)
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM events WHERE timestamp >= ?`, dayAgo).Scan(&s.EventsLast24h); err != nil {
		return nil, fmt.Errorf("stats 24h: %w", err)
	}
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM events WHERE timestamp >= ?`, weekAgo).Scan(&s.EventsLast7d); err != nil {
		return nil, fmt.Errorf("stats 7d: %w", err)
	}

	version, err := e.SchemaVersion()
	if err != nil {
		return nil, err
	}
	s.SchemaVersion = version

	if info, err := os.Stat(e.path); err == nil {
		s.DBSizeBytes = info.Size()
	}

	return s, nil
}

// Sessions rolls events up per session, most recently active first.
func (e *Engine) Sessions(limit int) ([]SessionInfo, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := e.db.Query(`
		SELECT session_id,
		       MIN(timestamp) AS start_time,
		       MAX(timestamp) AS last_activity,
		       COUNT(*) AS event_count,
		       SUM(CASE WHEN event_kind = ? THEN 1 ELSE 0 END) AS user_inputs,
		       SUM(CASE WHEN event_kind = ? THEN 1 ELSE 0 END) AS agent_responses
		FROM events
		WHERE session_id != ''
		GROUP BY session_id
		ORDER BY last_activity DESC
		LIMIT ?
	`, KindUserInput, KindAgentResponse, limit)
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	defer rows.Close()

	result := make([]SessionInfo, 0)
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.SessionID, &info.StartTime, &info.LastActivity, &info.EventCount, &info.UserInputs, &info.AgentResponses); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return result, nil
}
