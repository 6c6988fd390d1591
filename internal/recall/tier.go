// Package recall is the read side: tier-gated context selection under a
// token budget, with every read audited.
package recall

import (
	"github.com/quorvex/scribe/internal/store"
)

// Tier names the access levels.
type Tier string

const (
	TierCritical Tier = "critical"
	TierSafe     Tier = "safe"
	TierFull     Tier = "full"
)

// TierPolicy maps tiers to the categories they may read. Versioned so a
// policy change is visible in audit trails and tests; handed to the
// controller at construction, never global.
type TierPolicy struct {
	Version    int
	Categories map[Tier][]string
}

// DefaultTierPolicy: CRITICAL carries only what must never be violated,
// SAFE is everything except corrections (those are operator-facing), FULL
// is unrestricted but gated behind the escalation flag.
func DefaultTierPolicy() TierPolicy {
	safe := make([]string, 0, len(store.Categories())-1)
	for _, c := range store.Categories() {
		if c == store.CategoryCorrection {
			continue
		}
		safe = append(safe, c)
	}
	return TierPolicy{
		Version: 1,
		Categories: map[Tier][]string{
			TierCritical: {store.CategoryTechnicalConstraint, store.CategoryCorrection},
			TierSafe:     safe,
			TierFull:     store.Categories(),
		},
	}
}

// CategoriesFor returns the readable categories for a tier, nil when the
// tier is unknown.
func (p TierPolicy) CategoriesFor(tier Tier) []string {
	return p.Categories[tier]
}
