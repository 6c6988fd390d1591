package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MergeCandidate folds one extracted candidate into the fact store:
// deduplication, confirmation and contradiction handling per the resolution
// policy. The read-classify-write cycle runs in a single immediate
// transaction, so two workers merging into the same category cannot both
// observe an empty category and insert duplicates, even when they live in
// separate processes. The category-scoped lock keeps in-process merges from
// queueing on the database write lock; different categories proceed in
// parallel. Facts are never hard-deleted, so a contradiction loser stays
// queryable inactive.
func (e *Engine) MergeCandidate(c CandidateFact) (MergeOutcome, error) {
	if !ValidCategory(c.Category) {
		return "", validationErr(ErrInvalidCategory, c.Category)
	}
	if c.Confidence <= 0 {
		c.Confidence = 0.5
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}

	lock := e.categoryLock(c.Category)
	lock.Lock()
	defer lock.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	existing, err := activeFactsIn(tx, c.Category)
	if err != nil {
		return "", err
	}

	var confirm, contradict *AtomicFact
	for i := range existing {
		switch e.similarity.Classify(existing[i], c) {
		case MatchConfirm:
			if confirm == nil {
				confirm = &existing[i]
			}
		case MatchContradict:
			if contradict == nil {
				contradict = &existing[i]
			}
		}
	}

	var outcome MergeOutcome
	switch {
	case confirm != nil:
		if err := e.confirmFactTx(tx, confirm, c); err != nil {
			return "", err
		}
		outcome = OutcomeConfirmed
	case contradict != nil:
		outcome, err = e.resolveContradictionTx(tx, contradict, c)
		if err != nil {
			return "", err
		}
	default:
		if _, err := e.insertFactTx(tx, c, true, ""); err != nil {
			return "", err
		}
		outcome = OutcomeCreated
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit merge: %w", err)
	}
	return outcome, nil
}

func (e *Engine) confirmFactTx(x sqlExecer, f *AtomicFact, c CandidateFact) error {
	confidence := f.Confidence + (1-f.Confidence)*e.confirmBoost
	if confidence > 1 {
		confidence = 1
	}

	sources := f.SourceEvents
	if c.EventID > 0 && !containsID(sources, c.EventID) {
		sources = append(sources, c.EventID)
	}
	encoded, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("encode source events: %w", err)
	}

	_, err = x.Exec(`
		UPDATE atomic_facts
		SET observation_count = observation_count + 1,
		    last_confirmed = ?,
		    confidence = ?,
		    source_events = ?
		WHERE fact_id = ?
	`, now(), confidence, string(encoded), f.FactID)
	if err != nil {
		return fmt.Errorf("confirm fact %s: %w", f.FactID, err)
	}
	return nil
}

// resolveContradictionTx picks the surviving side of a same-subject,
// different-value pair within the caller's merge transaction. The
// higher-confidence fact wins; on equal confidence the newer fact wins (most
// recent information), a documented policy choice. The loser is deactivated
// with superseded_by pointing at the winner, and exactly one ConflictRecord
// is written per decision.
func (e *Engine) resolveContradictionTx(tx *sql.Tx, old *AtomicFact, c CandidateFact) (MergeOutcome, error) {
	candidateWins := c.Confidence >= old.Confidence

	if candidateWins {
		newID, err := e.insertFactTx(tx, c, true, "")
		if err != nil {
			return "", err
		}
		if _, err := tx.Exec(`
			UPDATE atomic_facts SET is_active = 0, superseded_by = ? WHERE fact_id = ?
		`, newID, old.FactID); err != nil {
			return "", fmt.Errorf("supersede fact %s: %w", old.FactID, err)
		}
		reason := fmt.Sprintf("newer observation (confidence %.2f >= %.2f) replaces prior value", c.Confidence, old.Confidence)
		if err := insertConflictTx(tx, old.FactID, newID, ConflictContradiction, ResolutionNewSupersedes, reason); err != nil {
			return "", err
		}
		return OutcomeSuperseded, nil
	}

	// Old fact retained: the candidate is still persisted (audit trail) but
	// enters inactive, pointing at the retained winner.
	newID, err := e.insertFactTx(tx, c, false, old.FactID)
	if err != nil {
		return "", err
	}
	reason := fmt.Sprintf("established fact retained (confidence %.2f > %.2f)", old.Confidence, c.Confidence)
	if err := insertConflictTx(tx, old.FactID, newID, ConflictContradiction, ResolutionOldRetained, reason); err != nil {
		return "", err
	}
	return OutcomeConflictLogged, nil
}

type sqlExecer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type sqlQuerier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func (e *Engine) insertFactTx(x sqlExecer, c CandidateFact, active bool, supersededBy string) (string, error) {
	factID := uuid.NewString()
	sources := "[]"
	if c.EventID > 0 {
		encoded, err := json.Marshal([]int64{c.EventID})
		if err != nil {
			return "", fmt.Errorf("encode source events: %w", err)
		}
		sources = string(encoded)
	}

	var superseded any
	if supersededBy != "" {
		superseded = supersededBy
	}

	ts := now()
	_, err := x.Exec(`
		INSERT INTO atomic_facts
			(fact_id, content, category, confidence, source_events, first_observed, last_confirmed, observation_count, is_active, superseded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, factID, c.Content, c.Category, c.Confidence, sources, ts, ts, boolToInt(active), superseded)
	if err != nil {
		return "", fmt.Errorf("insert fact: %w", err)
	}
	return factID, nil
}

func insertConflictTx(x sqlExecer, oldID, newID, conflictType, resolution, reason string) error {
	_, err := x.Exec(`
		INSERT INTO fact_conflicts (old_fact_id, new_fact_id, conflict_type, resolution, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, oldID, newID, conflictType, resolution, reason, now())
	if err != nil {
		return fmt.Errorf("insert conflict record: %w", err)
	}
	return nil
}

func (e *Engine) activeFacts(category string) ([]AtomicFact, error) {
	return activeFactsIn(e.db, category)
}

func activeFactsIn(q sqlQuerier, category string) ([]AtomicFact, error) {
	rows, err := q.Query(`
		SELECT fact_id, content, category, confidence, source_events, embedding,
		       first_observed, last_confirmed, observation_count, is_active, superseded_by
		FROM atomic_facts
		WHERE category = ? AND is_active = 1
		ORDER BY last_confirmed DESC, fact_id ASC
	`, category)
	if err != nil {
		return nil, fmt.Errorf("active facts %s: %w", category, err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// QueryFacts lists facts, optionally filtered by category and activity.
func (e *Engine) QueryFacts(category string, activeOnly bool, limit int) ([]AtomicFact, error) {
	if category != "" && !ValidCategory(category) {
		return nil, validationErr(ErrInvalidCategory, category)
	}
	if limit <= 0 {
		limit = 100
	}

	q := `
		SELECT fact_id, content, category, confidence, source_events, embedding,
		       first_observed, last_confirmed, observation_count, is_active, superseded_by
		FROM atomic_facts
		WHERE 1 = 1
	`
	args := []any{}
	if category != "" {
		q += ` AND category = ?`
		args = append(args, category)
	}
	if activeOnly {
		q += ` AND is_active = 1`
	}
	q += ` ORDER BY last_confirmed DESC, fact_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := e.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// ShadowFacts are active facts whose confidence has sunk below the shadow
// threshold; recall only surfaces them as emergency fallback.
func (e *Engine) ShadowFacts(limit int) ([]AtomicFact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := e.db.Query(`
		SELECT fact_id, content, category, confidence, source_events, embedding,
		       first_observed, last_confirmed, observation_count, is_active, superseded_by
		FROM atomic_facts
		WHERE is_active = 1 AND confidence < ?
		ORDER BY last_confirmed DESC, fact_id ASC
		LIMIT ?
	`, e.shadowThreshold, limit)
	if err != nil {
		return nil, fmt.Errorf("shadow facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// ShadowThreshold exposes the configured confidence floor for normal recall.
func (e *Engine) ShadowThreshold() float64 { return e.shadowThreshold }

// FactByID fetches one fact, active or not.
func (e *Engine) FactByID(factID string) (*AtomicFact, error) {
	row := e.db.QueryRow(`
		SELECT fact_id, content, category, confidence, source_events, embedding,
		       first_observed, last_confirmed, observation_count, is_active, superseded_by
		FROM atomic_facts
		WHERE fact_id = ?
	`, factID)

	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fact %s: %w", factID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fact %s: %w", factID, err)
	}
	return f, nil
}

// SetEmbedding attaches an opaque embedding blob to a fact. Core logic never
// reads it; it exists for external similarity tooling.
func (e *Engine) SetEmbedding(factID string, embedding []byte) error {
	res, err := e.db.Exec(`UPDATE atomic_facts SET embedding = ? WHERE fact_id = ?`, embedding, factID)
	if err != nil {
		return fmt.Errorf("set embedding %s: %w", factID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set embedding %s: %w", factID, ErrNotFound)
	}
	return nil
}

// DecayConfidence multiplies down the confidence of active facts not
// confirmed within the half-life window. It never deactivates a fact; decay
// only pushes facts toward shadow status.
func (e *Engine) DecayConfidence(halfLife time.Duration, factor float64) (int64, error) {
	if factor <= 0 || factor >= 1 {
		factor = 0.9
	}
	cutoff := time.Now().UTC().Add(-halfLife).Format(timeFormat)

	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(`
		UPDATE atomic_facts
		SET confidence = MAX(0.05, confidence * ?)
		WHERE is_active = 1 AND last_confirmed < ?
	`, factor, cutoff)
	if err != nil {
		return 0, fmt.Errorf("decay confidence: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Conflicts lists resolution records, newest first.
func (e *Engine) Conflicts(limit int) ([]ConflictRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := e.db.Query(`
		SELECT id, old_fact_id, new_fact_id, conflict_type, resolution, reason, created_at
		FROM fact_conflicts
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("conflicts: %w", err)
	}
	defer rows.Close()
	return scanConflicts(rows)
}

// ConflictsFor lists records referencing a fact on either side.
func (e *Engine) ConflictsFor(factID string) ([]ConflictRecord, error) {
	rows, err := e.db.Query(`
		SELECT id, old_fact_id, new_fact_id, conflict_type, resolution, reason, created_at
		FROM fact_conflicts
		WHERE old_fact_id = ? OR new_fact_id = ?
		ORDER BY id ASC
	`, factID, factID)
	if err != nil {
		return nil, fmt.Errorf("conflicts for %s: %w", factID, err)
	}
	defer rows.Close()
	return scanConflicts(rows)
}

func scanFact(row rowScanner) (*AtomicFact, error) {
	var f AtomicFact
	var sources string
	var embedding []byte
	var active int
	var superseded sql.NullString
	if err := row.Scan(&f.FactID, &f.Content, &f.Category, &f.Confidence, &sources, &embedding,
		&f.FirstObserved, &f.LastConfirmed, &f.ObservationCount, &active, &superseded); err != nil {
		return nil, err
	}
	f.Active = active == 1
	f.Embedding = embedding
	if superseded.Valid {
		f.SupersededBy = superseded.String
	}
	if sources != "" && sources != "[]" {
		if err := json.Unmarshal([]byte(sources), &f.SourceEvents); err != nil {
			return nil, fmt.Errorf("decode source events: %w", err)
		}
	}
	return &f, nil
}

func scanFacts(rows *sql.Rows) ([]AtomicFact, error) {
	result := make([]AtomicFact, 0)
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		result = append(result, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return result, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
