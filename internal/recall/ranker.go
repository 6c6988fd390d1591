package recall

import (
	"strings"

	"github.com/quorvex/scribe/internal/store"
)

// Ranker scores a fact's relevance to a query. Higher is more relevant.
type Ranker interface {
	Score(query string, f store.AtomicFact) float64
}

// KeywordRanker is the default: term overlap between the query and the fact
// content, weighted by the fact's confidence. Crude, deterministic, and
// cheap enough to run on every recall.
type KeywordRanker struct{}

func (KeywordRanker) Score(query string, f store.AtomicFact) float64 {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return f.Confidence
	}
	content := strings.ToLower(f.Content)
	hits := 0
	for term := range terms {
		if strings.Contains(content, term) {
			hits++
		}
	}
	overlap := float64(hits) / float64(len(terms))
	return overlap*0.7 + f.Confidence*0.3
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"is": true, "are": true, "was": true, "to": true, "of": true,
	"in": true, "on": true, "for": true, "with": true, "what": true,
	"how": true, "do": true, "does": true, "my": true, "i": true,
}

func queryTerms(query string) map[string]bool {
	terms := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?;:\"'")
		if len(w) < 3 || stopwords[w] {
			continue
		}
		terms[w] = true
	}
	return terms
}
