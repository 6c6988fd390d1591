package store

import (
	"errors"
	"strings"
	"testing"
)

func TestRefreshSummary(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.MergeCandidate(CandidateFact{
		Content: "user prefers dark mode", Category: CategoryUserPreference, Confidence: 0.9,
	}); err != nil {
		t.Fatalf("MergeCandidate error: %v", err)
	}
	if _, err := e.MergeCandidate(CandidateFact{
		Content: "user wants short answers", Category: CategoryUserPreference, Confidence: 0.5,
	}); err != nil {
		t.Fatalf("MergeCandidate error: %v", err)
	}

	s, err := e.RefreshSummary(CategoryUserPreference)
	if err != nil {
		t.Fatalf("RefreshSummary error: %v", err)
	}
	if s.FactCount != 2 {
		t.Errorf("fact count = %d, want 2", s.FactCount)
	}
	if s.SynthesisVersion != 1 {
		t.Errorf("version = %d, want 1", s.SynthesisVersion)
	}
	if !strings.Contains(s.Summary, "dark mode") || !strings.Contains(s.Summary, "short answers") {
		t.Errorf("summary missing facts: %q", s.Summary)
	}
	// Low-confidence facts carry their score; high-confidence ones do not.
	if !strings.Contains(s.Summary, "(confidence 0.50)") {
		t.Errorf("summary missing confidence annotation: %q", s.Summary)
	}
	if strings.Contains(s.Summary, "0.90") {
		t.Errorf("high-confidence fact annotated: %q", s.Summary)
	}
	if len(s.KeyFactIDs) != 2 {
		t.Errorf("key facts = %d, want 2", len(s.KeyFactIDs))
	}
}

func TestRefreshSummaryVersionIncrements(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.MergeCandidate(CandidateFact{
		Content: "goal is shipping v2", Category: CategoryGoal, Confidence: 0.8,
	}); err != nil {
		t.Fatalf("MergeCandidate error: %v", err)
	}

	first, err := e.RefreshSummary(CategoryGoal)
	if err != nil {
		t.Fatalf("RefreshSummary error: %v", err)
	}
	second, err := e.RefreshSummary(CategoryGoal)
	if err != nil {
		t.Fatalf("RefreshSummary error: %v", err)
	}
	if second.SynthesisVersion != first.SynthesisVersion+1 {
		t.Errorf("versions = %d then %d", first.SynthesisVersion, second.SynthesisVersion)
	}
	// Same fact set, same text: refresh is idempotent modulo the version.
	if second.Summary != first.Summary {
		t.Errorf("summary changed without facts changing:\n%q\n%q", first.Summary, second.Summary)
	}
}

func TestRefreshSummaryEmptyCategory(t *testing.T) {
	e := newTestEngine(t)

	s, err := e.RefreshSummary(CategoryRelationship)
	if err != nil {
		t.Fatalf("RefreshSummary error: %v", err)
	}
	if s.FactCount != 0 {
		t.Errorf("fact count = %d, want 0", s.FactCount)
	}
	if !strings.Contains(s.Summary, "no active facts") {
		t.Errorf("summary = %q", s.Summary)
	}
	if len(s.KeyFactIDs) != 0 {
		t.Errorf("key facts = %v, want none", s.KeyFactIDs)
	}
}

func TestGetSummaryMissing(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.GetSummary(CategoryCorrection); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := e.GetSummary("weather"); !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("err = %v, want ErrInvalidCategory", err)
	}
}

func TestSummaryExcludesSuperseded(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.MergeCandidate(CandidateFact{
		Content: "project uses PostgreSQL", Category: CategoryProjectContext, Confidence: 0.6,
	}); err != nil {
		t.Fatalf("MergeCandidate error: %v", err)
	}
	if _, err := e.MergeCandidate(CandidateFact{
		Content: "project uses MongoDB", Category: CategoryProjectContext, Confidence: 0.8,
	}); err != nil {
		t.Fatalf("MergeCandidate error: %v", err)
	}

	s, err := e.RefreshSummary(CategoryProjectContext)
	if err != nil {
		t.Fatalf("RefreshSummary error: %v", err)
	}
	if s.FactCount != 1 {
		t.Errorf("fact count = %d, want 1", s.FactCount)
	}
	if strings.Contains(s.Summary, "PostgreSQL") {
		t.Errorf("superseded fact leaked into summary: %q", s.Summary)
	}
}
