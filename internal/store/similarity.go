package store

import "strings"

// MatchKind classifies a candidate against one existing fact.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchConfirm
	MatchContradict
)

// SimilarityPolicy decides whether a candidate confirms, contradicts or is
// unrelated to an existing fact. Implementations must be deterministic and
// total: every (existing, candidate) pair gets exactly one answer.
type SimilarityPolicy interface {
	Classify(existing AtomicFact, candidate CandidateFact) MatchKind
}

// SubjectValuePolicy is the default policy. Identical normalized content is
// a confirmation; facts sharing a subject key ("…prefers", "…uses", …) with
// different values are a contradiction; everything else is unrelated.
type SubjectValuePolicy struct{}

func (SubjectValuePolicy) Classify(existing AtomicFact, candidate CandidateFact) MatchKind {
	a := normalizeContent(existing.Content)
	b := normalizeContent(candidate.Content)
	if a == "" || b == "" {
		return MatchNone
	}
	if a == b {
		return MatchConfirm
	}

	subjA, valA, okA := subjectValue(a)
	subjB, valB, okB := subjectValue(b)
	if okA && okB && subjA == subjB && valA != valB {
		return MatchContradict
	}
	return MatchNone
}

// subjectMarkers split a subject/value-shaped claim. Longer markers first so
// "decided on" wins over "on".
var subjectMarkers = []string{
	"decided on",
	"works on",
	"prefers",
	"uses",
	"requires",
	"needs",
	"wants",
	"likes",
	"dislikes",
	"runs",
	"chose",
	"is",
}

func normalizeContent(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!?")
	return strings.Join(strings.Fields(s), " ")
}

// subjectValue splits "user prefers tabs" into ("user prefers", "tabs").
// A marker at the start of the claim ("uses PostgreSQL") keeps an empty
// subject prefix; the marker itself still keys the comparison.
func subjectValue(norm string) (subject, value string, ok bool) {
	padded := " " + norm + " "
	for _, m := range subjectMarkers {
		idx := strings.Index(padded, " "+m+" ")
		if idx < 0 {
			continue
		}
		prefix := strings.TrimSpace(padded[:idx+1])
		rest := strings.TrimSpace(padded[idx+1+len(m):])
		if rest == "" {
			continue
		}
		if prefix == "" {
			return m, rest, true
		}
		return prefix + " " + m, rest, true
	}
	return "", "", false
}
