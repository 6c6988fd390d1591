package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const keyFactLimit = 8

// RefreshSummary regenerates one category's digest from its currently active
// facts. Deterministic: the same active-fact set always yields the same text
// and key-fact list (only the timestamp differs), so redundant calls are
// safe. Every regeneration increments synthesis_version.
func (e *Engine) RefreshSummary(category string) (*CategorySummary, error) {
	if !ValidCategory(category) {
		return nil, validationErr(ErrInvalidCategory, category)
	}

	lock := e.categoryLock(category)
	lock.Lock()
	defer lock.Unlock()

	facts, err := e.activeFacts(category)
	if err != nil {
		return nil, err
	}

	// Top-N by confidence, recency as tie-break.
	sort.SliceStable(facts, func(i, j int) bool {
		if facts[i].Confidence == facts[j].Confidence {
			return facts[i].LastConfirmed > facts[j].LastConfirmed
		}
		return facts[i].Confidence > facts[j].Confidence
	})

	key := facts
	if len(key) > keyFactLimit {
		key = key[:keyFactLimit]
	}

	keyIDs := make([]string, 0, len(key))
	lines := make([]string, 0, len(key))
	for _, f := range key {
		keyIDs = append(keyIDs, f.FactID)
		line := "- " + strings.TrimSpace(f.Content)
		if f.Confidence < 0.8 {
			line += fmt.Sprintf(" (confidence %.2f)", f.Confidence)
		}
		lines = append(lines, line)
	}

	text := fmt.Sprintf("%s: no active facts", categoryTitle(category))
	if len(lines) > 0 {
		text = fmt.Sprintf("%s (%d facts):\n%s", categoryTitle(category), len(facts), strings.Join(lines, "\n"))
	}

	encodedIDs, err := json.Marshal(keyIDs)
	if err != nil {
		return nil, fmt.Errorf("encode key facts: %w", err)
	}

	ts := now()
	_, err = e.db.Exec(`
		INSERT INTO category_summaries (category, summary, fact_count, key_facts, synthesis_version, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(category) DO UPDATE SET
			summary = excluded.summary,
			fact_count = excluded.fact_count,
			key_facts = excluded.key_facts,
			synthesis_version = category_summaries.synthesis_version + 1,
			updated_at = excluded.updated_at
	`, category, text, len(facts), string(encodedIDs), ts)
	if err != nil {
		return nil, fmt.Errorf("refresh summary %s: %w", category, err)
	}

	return e.GetSummary(category)
}

// GetSummary fetches one category digest.
func (e *Engine) GetSummary(category string) (*CategorySummary, error) {
	if !ValidCategory(category) {
		return nil, validationErr(ErrInvalidCategory, category)
	}

	row := e.db.QueryRow(`
		SELECT category, summary, fact_count, key_facts, synthesis_version, updated_at
		FROM category_summaries
		WHERE category = ?
	`, category)

	s, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("summary %s: %w", category, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("summary %s: %w", category, err)
	}
	return s, nil
}

// Summaries lists every category digest present.
func (e *Engine) Summaries() ([]CategorySummary, error) {
	rows, err := e.db.Query(`
		SELECT category, summary, fact_count, key_facts, synthesis_version, updated_at
		FROM category_summaries
		ORDER BY category ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("summaries: %w", err)
	}
	defer rows.Close()

	result := make([]CategorySummary, 0)
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return result, nil
}

func scanSummary(row rowScanner) (*CategorySummary, error) {
	var s CategorySummary
	var keyFacts string
	if err := row.Scan(&s.Category, &s.Summary, &s.FactCount, &keyFacts, &s.SynthesisVersion, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if keyFacts != "" && keyFacts != "[]" {
		if err := json.Unmarshal([]byte(keyFacts), &s.KeyFactIDs); err != nil {
			return nil, fmt.Errorf("decode key facts: %w", err)
		}
	}
	return &s, nil
}

func categoryTitle(category string) string {
	words := strings.Split(category, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
