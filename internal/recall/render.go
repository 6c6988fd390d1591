package recall

import (
	"fmt"
	"strings"

	"github.com/quorvex/scribe/internal/store"
)

// renderMarkdown lays the selected facts out as a category-grouped document
// ready for prompt injection. Categories keep the store's stable order so
// the same selection always renders the same text.
func renderMarkdown(facts []store.AtomicFact, summaries map[string]string, shadowFallback bool) string {
	if len(facts) == 0 {
		return ""
	}

	byCategory := make(map[string][]store.AtomicFact)
	for _, f := range facts {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}

	var b strings.Builder
	b.WriteString("# Memory Context\n")
	if shadowFallback {
		b.WriteString("\n_Low-confidence shadow facts included: little established memory matched._\n")
	}
	for _, category := range store.Categories() {
		group, ok := byCategory[category]
		if !ok {
			continue
		}
		b.WriteString("\n## " + categoryHeading(category) + "\n")
		if s, ok := summaries[category]; ok {
			b.WriteString("\n> " + strings.ReplaceAll(s, "\n", "\n> ") + "\n\n")
		}
		for _, f := range group {
			b.WriteString("- " + strings.TrimSpace(f.Content))
			if f.Confidence < 0.5 {
				b.WriteString(fmt.Sprintf(" _(low confidence: %.2f)_", f.Confidence))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func categoryHeading(category string) string {
	words := strings.Split(category, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
