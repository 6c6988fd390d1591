package store

import "testing"

func TestSubjectValuePolicy(t *testing.T) {
	policy := SubjectValuePolicy{}

	tests := []struct {
		name      string
		existing  string
		candidate string
		want      MatchKind
	}{
		{"identical", "user prefers tabs", "user prefers tabs", MatchConfirm},
		{"case and punctuation", "User prefers tabs.", "user prefers tabs", MatchConfirm},
		{"whitespace", "user  prefers  tabs", "user prefers tabs", MatchConfirm},
		{"same subject different value", "project uses PostgreSQL", "project uses MongoDB", MatchContradict},
		{"prefers flip", "user prefers tabs", "user prefers spaces", MatchContradict},
		{"different subject", "user prefers tabs", "team prefers spaces", MatchNone},
		{"no marker", "the sky is very pretty today indeed really", "completely unrelated claim here", MatchNone},
		{"unrelated", "user prefers tabs", "project uses MongoDB", MatchNone},
		{"longer marker wins", "team decided on kafka", "team decided on rabbitmq", MatchContradict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Classify(
				AtomicFact{Content: tt.existing},
				CandidateFact{Content: tt.candidate},
			)
			if got != tt.want {
				t.Errorf("Classify(%q, %q) = %d, want %d", tt.existing, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestNormalizeContent(t *testing.T) {
	if got := normalizeContent("  User PREFERS   tabs!  "); got != "user prefers tabs" {
		t.Errorf("normalizeContent = %q", got)
	}
	if got := normalizeContent(""); got != "" {
		t.Errorf("normalizeContent empty = %q", got)
	}
}
