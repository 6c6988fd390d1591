package store

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/quorvex/scribe/internal/sanitize"
)

const rulesVersionKey = "rules_version"

// seedRules installs the built-in defaults without touching rules an
// operator has already changed.
func (e *Engine) seedRules() error {
	defaults := sanitize.DefaultRules()
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin seed rules: %w", err)
	}
	defer tx.Rollback()

	for _, r := range defaults.Rules {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO sanitization_rules (name, pattern, replacement, category, active)
			VALUES (?, ?, ?, ?, ?)
		`, r.Name, r.Pattern, r.Replacement, r.Category, boolToInt(r.Active)); err != nil {
			return fmt.Errorf("seed rule %q: %w", r.Name, err)
		}
	}
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO memory_meta (key, value) VALUES (?, ?)
	`, rulesVersionKey, strconv.Itoa(defaults.Version)); err != nil {
		return fmt.Errorf("seed rules version: %w", err)
	}
	return tx.Commit()
}

// LoadRules returns the stored rule set as a versioned snapshot.
func (e *Engine) LoadRules() (sanitize.RuleSet, error) {
	var rs sanitize.RuleSet

	var raw string
	err := e.db.QueryRow(`SELECT value FROM memory_meta WHERE key = ?`, rulesVersionKey).Scan(&raw)
	if err == nil {
		rs.Version, _ = strconv.Atoi(raw)
	}

	rows, err := e.db.Query(`
		SELECT name, pattern, replacement, category, active
		FROM sanitization_rules
		ORDER BY name ASC
	`)
	if err != nil {
		return rs, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r sanitize.Rule
		var active int
		if err := rows.Scan(&r.Name, &r.Pattern, &r.Replacement, &r.Category, &active); err != nil {
			return rs, fmt.Errorf("scan rule: %w", err)
		}
		r.Active = active == 1
		rs.Rules = append(rs.Rules, r)
	}
	if err := rows.Err(); err != nil {
		return rs, fmt.Errorf("iterate rules: %w", err)
	}
	return rs, nil
}

// UpsertRule is the explicit rule-management operation; it bumps the rule-set
// version so gates know a rebuild is due.
func (e *Engine) UpsertRule(r sanitize.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert rule: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO sanitization_rules (name, pattern, replacement, category, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			pattern = excluded.pattern,
			replacement = excluded.replacement,
			category = excluded.category,
			active = excluded.active
	`, r.Name, r.Pattern, r.Replacement, r.Category, boolToInt(r.Active)); err != nil {
		return fmt.Errorf("upsert rule %q: %w", r.Name, err)
	}
	if err := bumpRulesVersion(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SetRuleActive toggles one rule without editing its pattern.
func (e *Engine) SetRuleActive(name string, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin toggle rule: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE sanitization_rules SET active = ? WHERE name = ?`, boolToInt(active), name)
	if err != nil {
		return fmt.Errorf("toggle rule %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("toggle rule %q: %w", name, ErrNotFound)
	}
	if err := bumpRulesVersion(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func bumpRulesVersion(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		UPDATE memory_meta
		SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)
		WHERE key = ?
	`, rulesVersionKey); err != nil {
		return fmt.Errorf("bump rules version: %w", err)
	}
	return nil
}
