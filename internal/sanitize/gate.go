// Package sanitize implements the redaction gate applied to every text field
// before it is persisted. Regex rules catch PII, credentials and paths;
// a literal-phrase automaton neutralizes prompt-injection payloads.
package sanitize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// Redaction describes one replaced span of the original input.
type Redaction struct {
	Rule     string `json:"rule"`
	Matched  string `json:"matched"`
	Position int    `json:"position"`
}

// Report is the outcome of one Sanitize call.
type Report struct {
	Redactions []Redaction `json:"redactions"`
	Warnings   []string    `json:"warnings,omitempty"`
}

func (r Report) Redacted() bool { return len(r.Redactions) > 0 }

type compiledRule struct {
	name        string
	replacement string
	re          *regexp.Regexp
}

// Gate applies a fixed RuleSet. Build a new Gate to pick up rule changes.
type Gate struct {
	version  int
	rules    []compiledRule
	blocked  ahocorasick.AhoCorasick
	warnings []string
}

// NewGate compiles the rule set. A malformed pattern never aborts
// construction: the bad rule is skipped and recorded as a warning that is
// echoed into every subsequent Report.
func NewGate(rs RuleSet) *Gate {
	g := &Gate{version: rs.Version}

	for _, r := range rs.Rules {
		if !r.Active {
			continue
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			g.warnings = append(g.warnings, fmt.Sprintf("rule %q skipped: %v", r.Name, err))
			continue
		}
		g.rules = append(g.rules, compiledRule{name: r.Name, replacement: r.Replacement, re: re})
	}

	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  false,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
	})
	g.blocked = builder.Build(blockedPhrases)

	return g
}

// Version reports the rule-set version the gate was built from.
func (g *Gate) Version() int { return g.version }

type span struct {
	start, end  int
	rule        string
	replacement string
}

// Sanitize redacts text and reports every replaced span. Match detection runs
// every rule against the original string, then replacements are applied
// cumulatively over the collected spans, so rule ordering cannot starve a
// later rule of matches it would have found in the pristine text.
func (g *Gate) Sanitize(text string) (string, Report) {
	report := Report{Warnings: g.warnings}
	if text == "" {
		return "", report
	}

	spans := make([]span, 0)

	for _, rule := range g.rules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			spans = append(spans, span{start: loc[0], end: loc[1], rule: rule.name, replacement: rule.replacement})
		}
	}

	for _, m := range g.blocked.FindAll(text) {
		spans = append(spans, span{start: m.Start(), end: m.End(), rule: "blocked_phrase", replacement: BlockedMarker})
	}

	if len(spans) == 0 {
		return text, report
	}

	// Earlier start wins on overlap; longer span wins on equal start.
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start == spans[j].start {
			return spans[i].end > spans[j].end
		}
		return spans[i].start < spans[j].start
	})

	var sb strings.Builder
	sb.Grow(len(text))
	cursor := 0
	for _, s := range spans {
		if s.start < cursor {
			continue // swallowed by an earlier overlapping span
		}
		sb.WriteString(text[cursor:s.start])
		sb.WriteString(s.replacement)
		report.Redactions = append(report.Redactions, Redaction{
			Rule:     s.rule,
			Matched:  text[s.start:s.end],
			Position: s.start,
		})
		cursor = s.end
	}
	sb.WriteString(text[cursor:])

	return sb.String(), report
}
