// Package scribe turns raw events into atomic facts: the extractor distills
// candidates out of event text and the worker drains the processing queue,
// merging what it finds into the fact store.
package scribe

import (
	"strings"

	"github.com/quorvex/scribe/internal/store"
)

// Extractor distills candidate facts from one event. Implementations must be
// safe for concurrent use; the worker may run several claims in flight.
type Extractor interface {
	Extract(ev *store.Event) ([]store.CandidateFact, error)
}

// HeuristicExtractor is the built-in, deterministic extractor. It looks for
// durable-sounding statements by keyword and assigns the category whose cue
// appears first. No network, no model: the fallback when no provider is
// configured, and the workhorse for tests.
type HeuristicExtractor struct{}

type cue struct {
	markers  []string
	category string
}

// Cue order matters: corrections outrank decisions outrank preferences, so a
// sentence hitting several lists lands in the most specific category.
var cues = []cue{
	{[]string{"actually,", "correction:", "that's wrong", "i meant", "not anymore"}, store.CategoryCorrection},
	{[]string{"must ", "must not", "cannot ", "can't use", "requires ", "only supports", "constraint"}, store.CategoryTechnicalConstraint},
	{[]string{"decided", "decision", "we chose", "agreed to", "went with", "settled on"}, store.CategoryDecisionMade},
	{[]string{"goal is", "aiming to", "plan to", "planning to", "milestone", "by end of"}, store.CategoryGoal},
	{[]string{"always ", "never ", "every time", "tends to", "pattern:"}, store.CategoryLearnedPattern},
	{[]string{"colleague", "teammate", "manager", "reports to", "works with"}, store.CategoryRelationship},
	{[]string{"prefer", "prefers", "likes ", "dislikes", "hates ", "wants ", "favorite"}, store.CategoryUserPreference},
	{[]string{"working on", "the project", "our repo", "codebase", "the service", "deploy"}, store.CategoryProjectContext},
}

// kindConfidence reflects how deliberate each event kind is: a rendered
// decision is near-certain, passing chatter is not.
var kindConfidence = map[string]float64{
	store.KindDecisionRendered: 0.9,
	store.KindVoteCast:         0.7,
	store.KindUserInput:        0.7,
	store.KindDebateTurn:       0.5,
	store.KindAgentResponse:    0.5,
	store.KindSystemEvent:      0.4,
}

func (HeuristicExtractor) Extract(ev *store.Event) ([]store.CandidateFact, error) {
	base, ok := kindConfidence[ev.Kind]
	if !ok {
		base = 0.5
	}

	var out []store.CandidateFact
	for _, sentence := range splitSentences(ev.Content) {
		category := classify(sentence)
		if category == "" {
			continue
		}
		confidence := base
		if category == store.CategoryCorrection {
			// Corrections are explicit by nature.
			confidence = clampConfidence(base + 0.2)
		}
		out = append(out, store.CandidateFact{
			Content:    sentence,
			Category:   category,
			Confidence: confidence,
			EventID:    ev.ID,
		})
	}
	return out, nil
}

func classify(sentence string) string {
	lower := strings.ToLower(sentence)
	for _, c := range cues {
		for _, m := range c.markers {
			if strings.Contains(lower, m) {
				return c.category
			}
		}
	}
	return ""
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		b.Reset()
		// Fragments too short to be a standalone claim are dropped.
		if len(s) >= 12 {
			out = append(out, s)
		}
	}
	for _, r := range text {
		switch r {
		case '.', '!', '?', '\n', ';':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}

func clampConfidence(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
