package store

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestMergeCreatesFact(t *testing.T) {
	e := newTestEngine(t)

	outcome, err := e.MergeCandidate(CandidateFact{
		Content:    "user prefers dark mode",
		Category:   CategoryUserPreference,
		Confidence: 0.7,
		EventID:    1,
	})
	if err != nil {
		t.Fatalf("MergeCandidate error: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("outcome = %q, want created", outcome)
	}

	facts, err := e.QueryFacts(CategoryUserPreference, true, 10)
	if err != nil {
		t.Fatalf("QueryFacts error: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("facts = %d, want 1", len(facts))
	}
	f := facts[0]
	if f.ObservationCount != 1 || !f.Active || f.SupersededBy != "" {
		t.Errorf("new fact = %+v", f)
	}
	if len(f.SourceEvents) != 1 || f.SourceEvents[0] != 1 {
		t.Errorf("source events = %v, want [1]", f.SourceEvents)
	}
}

func TestMergeInvalidCategory(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.MergeCandidate(CandidateFact{Content: "x", Category: "mood", Confidence: 0.5})
	if !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("err = %v, want ErrInvalidCategory", err)
	}
}

func TestMergeConfirmsDuplicate(t *testing.T) {
	e := newTestEngine(t)

	variants := []string{
		"user prefers dark mode",
		"User prefers dark mode.",
		"user  prefers   dark mode",
	}
	for i, content := range variants {
		outcome, err := e.MergeCandidate(CandidateFact{
			Content:    content,
			Category:   CategoryUserPreference,
			Confidence: 0.6,
			EventID:    int64(i + 1),
		})
		if err != nil {
			t.Fatalf("merge %d error: %v", i, err)
		}
		want := OutcomeConfirmed
		if i == 0 {
			want = OutcomeCreated
		}
		if outcome != want {
			t.Errorf("merge %d outcome = %q, want %q", i, outcome, want)
		}
	}

	facts, err := e.QueryFacts(CategoryUserPreference, false, 10)
	if err != nil {
		t.Fatalf("QueryFacts error: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("facts = %d, want exactly 1 after duplicates", len(facts))
	}
	f := facts[0]
	if f.ObservationCount != 3 {
		t.Errorf("observation count = %d, want 3", f.ObservationCount)
	}
	if f.Confidence <= 0.6 {
		t.Errorf("confidence = %.3f, want boosted above 0.6", f.Confidence)
	}
	if f.Confidence > 1 {
		t.Errorf("confidence = %.3f, exceeds 1", f.Confidence)
	}
	if len(f.SourceEvents) != 3 {
		t.Errorf("source events = %v, want 3 entries", f.SourceEvents)
	}
}

func TestMergeContradictionNewWins(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.MergeCandidate(CandidateFact{
		Content: "project uses PostgreSQL", Category: CategoryProjectContext, Confidence: 0.6,
	}); err != nil {
		t.Fatalf("first merge error: %v", err)
	}
	outcome, err := e.MergeCandidate(CandidateFact{
		Content: "project uses MongoDB", Category: CategoryProjectContext, Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("second merge error: %v", err)
	}
	if outcome != OutcomeSuperseded {
		t.Errorf("outcome = %q, want superseded", outcome)
	}

	all, err := e.QueryFacts(CategoryProjectContext, false, 10)
	if err != nil {
		t.Fatalf("QueryFacts error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("facts = %d, want 2 (loser never deleted)", len(all))
	}

	var winner, loser *AtomicFact
	for i := range all {
		if all[i].Active {
			winner = &all[i]
		} else {
			loser = &all[i]
		}
	}
	if winner == nil || loser == nil {
		t.Fatalf("expected one active and one inactive fact, got %+v", all)
	}
	if winner.Content != "project uses MongoDB" {
		t.Errorf("winner = %q, want MongoDB", winner.Content)
	}
	if loser.SupersededBy != winner.FactID {
		t.Errorf("loser superseded_by = %q, want %q", loser.SupersededBy, winner.FactID)
	}

	conflicts, err := e.Conflicts(10)
	if err != nil {
		t.Fatalf("Conflicts error: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want exactly 1", len(conflicts))
	}
	c := conflicts[0]
	if c.Resolution != ResolutionNewSupersedes || c.ConflictType != ConflictContradiction {
		t.Errorf("record = %+v", c)
	}
	if c.OldFactID != loser.FactID || c.NewFactID != winner.FactID {
		t.Errorf("record ids = %q/%q, want %q/%q", c.OldFactID, c.NewFactID, loser.FactID, winner.FactID)
	}
}

func TestMergeContradictionOldRetained(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.MergeCandidate(CandidateFact{
		Content: "team uses Go", Category: CategoryTechnicalConstraint, Confidence: 0.9,
	}); err != nil {
		t.Fatalf("first merge error: %v", err)
	}
	outcome, err := e.MergeCandidate(CandidateFact{
		Content: "team uses Rust", Category: CategoryTechnicalConstraint, Confidence: 0.4,
	})
	if err != nil {
		t.Fatalf("second merge error: %v", err)
	}
	if outcome != OutcomeConflictLogged {
		t.Errorf("outcome = %q, want conflict_logged", outcome)
	}

	active, err := e.QueryFacts(CategoryTechnicalConstraint, true, 10)
	if err != nil {
		t.Fatalf("QueryFacts error: %v", err)
	}
	if len(active) != 1 || active[0].Content != "team uses Go" {
		t.Errorf("active facts = %+v, want only the established fact", active)
	}

	conflicts, err := e.ConflictsFor(active[0].FactID)
	if err != nil {
		t.Fatalf("ConflictsFor error: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Resolution != ResolutionOldRetained {
		t.Errorf("conflicts = %+v", conflicts)
	}

	// The losing candidate still round-trips from the record.
	loser, err := e.FactByID(conflicts[0].NewFactID)
	if err != nil {
		t.Fatalf("FactByID error: %v", err)
	}
	if loser.Active || loser.SupersededBy != active[0].FactID {
		t.Errorf("losing candidate = %+v", loser)
	}
}

func TestMergeEqualConfidenceNewerWins(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.MergeCandidate(CandidateFact{
		Content: "deploy runs nightly", Category: CategoryDecisionMade, Confidence: 0.7,
	}); err != nil {
		t.Fatalf("first merge error: %v", err)
	}
	outcome, err := e.MergeCandidate(CandidateFact{
		Content: "deploy runs weekly", Category: CategoryDecisionMade, Confidence: 0.7,
	})
	if err != nil {
		t.Fatalf("second merge error: %v", err)
	}
	if outcome != OutcomeSuperseded {
		t.Errorf("outcome = %q, want superseded on equal confidence", outcome)
	}

	active, err := e.QueryFacts(CategoryDecisionMade, true, 10)
	if err != nil {
		t.Fatalf("QueryFacts error: %v", err)
	}
	if len(active) != 1 || active[0].Content != "deploy runs weekly" {
		t.Errorf("active = %+v, want the newer fact", active)
	}
}

func TestDecayConfidence(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.MergeCandidate(CandidateFact{
		Content: "user likes terse answers", Category: CategoryUserPreference, Confidence: 0.8,
	}); err != nil {
		t.Fatalf("MergeCandidate error: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	n, err := e.DecayConfidence(time.Millisecond, 0.5)
	if err != nil {
		t.Fatalf("DecayConfidence error: %v", err)
	}
	if n != 1 {
		t.Fatalf("decayed = %d, want 1", n)
	}

	facts, err := e.QueryFacts(CategoryUserPreference, true, 10)
	if err != nil {
		t.Fatalf("QueryFacts error: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("facts = %d, want 1 (decay never deactivates)", len(facts))
	}
	if facts[0].Confidence > 0.41 || facts[0].Confidence < 0.39 {
		t.Errorf("confidence = %.3f, want 0.4", facts[0].Confidence)
	}

	// Decay repeated far enough hits the floor, never zero.
	for i := 0; i < 20; i++ {
		if _, err := e.DecayConfidence(time.Nanosecond, 0.5); err != nil {
			t.Fatalf("DecayConfidence error: %v", err)
		}
	}
	facts, _ = e.QueryFacts(CategoryUserPreference, true, 10)
	if facts[0].Confidence < 0.05 {
		t.Errorf("confidence = %.4f below floor", facts[0].Confidence)
	}
}

func TestShadowFacts(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.MergeCandidate(CandidateFact{
		Content: "user wants emoji", Category: CategoryUserPreference, Confidence: 0.1,
	}); err != nil {
		t.Fatalf("MergeCandidate error: %v", err)
	}
	if _, err := e.MergeCandidate(CandidateFact{
		Content: "user prefers markdown", Category: CategoryUserPreference, Confidence: 0.9,
	}); err != nil {
		t.Fatalf("MergeCandidate error: %v", err)
	}

	shadow, err := e.ShadowFacts(10)
	if err != nil {
		t.Fatalf("ShadowFacts error: %v", err)
	}
	if len(shadow) != 1 || shadow[0].Content != "user wants emoji" {
		t.Errorf("shadow = %+v, want only the low-confidence fact", shadow)
	}
}

func TestSetEmbedding(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.MergeCandidate(CandidateFact{
		Content: "user runs linux", Category: CategoryUserPreference, Confidence: 0.7,
	}); err != nil {
		t.Fatalf("MergeCandidate error: %v", err)
	}
	facts, _ := e.QueryFacts(CategoryUserPreference, true, 1)

	blob := []byte{0x01, 0x02, 0x03}
	if err := e.SetEmbedding(facts[0].FactID, blob); err != nil {
		t.Fatalf("SetEmbedding error: %v", err)
	}
	got, err := e.FactByID(facts[0].FactID)
	if err != nil {
		t.Fatalf("FactByID error: %v", err)
	}
	if len(got.Embedding) != 3 {
		t.Errorf("embedding = %v", got.Embedding)
	}

	if err := e.SetEmbedding("no-such-fact", blob); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing fact err = %v, want ErrNotFound", err)
	}
}

func TestMergeAcrossEngines(t *testing.T) {
	// Two engines on one database file stand in for two worker processes:
	// each has its own connection pool and its own in-process locks, so
	// only the merge transaction itself can keep them consistent.
	dbPath := filepath.Join(t.TempDir(), "scribe.db")
	a, err := NewEngine(dbPath, Options{})
	if err != nil {
		t.Fatalf("NewEngine a error: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	b, err := NewEngine(dbPath, Options{})
	if err != nil {
		t.Fatalf("NewEngine b error: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	const perEngine = 5
	candidate := CandidateFact{
		Content:    "user prefers dark mode",
		Category:   CategoryUserPreference,
		Confidence: 0.7,
	}

	errs := make(chan error, 2*perEngine)
	var wg sync.WaitGroup
	for _, e := range []*Engine{a, b} {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			for i := 0; i < perEngine; i++ {
				if _, err := e.MergeCandidate(candidate); err != nil {
					errs <- err
					return
				}
			}
		}(e)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("MergeCandidate error: %v", err)
	}

	facts, err := a.QueryFacts(CategoryUserPreference, true, 10)
	if err != nil {
		t.Fatalf("QueryFacts error: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("active facts = %d, want 1 (duplicate insert across engines)", len(facts))
	}
	if facts[0].ObservationCount != 2*perEngine {
		t.Errorf("observation count = %d, want %d", facts[0].ObservationCount, 2*perEngine)
	}
}
