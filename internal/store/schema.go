package store

import "fmt"

// LatestSchemaVersion is recorded in the schema_version marker table and
// checked by `scribe init --check`.
const LatestSchemaVersion = 1

// migrations[i] upgrades the schema from version i to i+1. Applied in order
// at open; each step runs in its own transaction.
var migrations = [][]string{
	// v0 -> v1: full initial schema.
	{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			session_id TEXT NOT NULL,
			event_kind TEXT NOT NULL,
			agent_name TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			consumed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_unconsumed ON events(consumed, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS atomic_facts (
			fact_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0.5,
			source_events TEXT NOT NULL DEFAULT '[]',
			embedding BLOB,
			first_observed TEXT NOT NULL,
			last_confirmed TEXT NOT NULL,
			observation_count INTEGER NOT NULL DEFAULT 1,
			is_active INTEGER NOT NULL DEFAULT 1,
			superseded_by TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_category ON atomic_facts(category, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_confirmed ON atomic_facts(last_confirmed)`,
		`CREATE TABLE IF NOT EXISTS fact_conflicts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			old_fact_id TEXT NOT NULL,
			new_fact_id TEXT NOT NULL,
			conflict_type TEXT NOT NULL,
			resolution TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS category_summaries (
			category TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			fact_count INTEGER NOT NULL DEFAULT 0,
			key_facts TEXT NOT NULL DEFAULT '[]',
			synthesis_version INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scribe_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id INTEGER NOT NULL,
			priority INTEGER NOT NULL DEFAULT 5,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_attempt TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_claim ON scribe_queue(status, priority DESC, created_at)`,
		`CREATE TABLE IF NOT EXISTS sanitization_rules (
			name TEXT PRIMARY KEY,
			pattern TEXT NOT NULL,
			replacement TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'custom',
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS memory_access_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			access_kind TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			fact_count INTEGER NOT NULL DEFAULT 0,
			token_cost INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			accessed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
}

func (e *Engine) initSchema() error {
	version, err := e.SchemaVersion()
	if err != nil {
		return err
	}

	for v := version; v < len(migrations); v++ {
		tx, err := e.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d: %w", v+1, err)
			}
		}
		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear schema version: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, v+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
	}
	return nil
}

// SchemaVersion reads the marker table; 0 means an empty database.
func (e *Engine) SchemaVersion() (int, error) {
	var exists int
	err := e.db.QueryRow(`
		SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check schema version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err = e.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
