package recall

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/quorvex/scribe/internal/store"
)

// Selection modes for SelectContext.
const (
	ModeRecent    = "recent"
	ModeRelevance = "relevance"
)

// Options configure a Controller. Zero values fall back to defaults.
type Options struct {
	Policy       TierPolicy
	TokenBudget  int
	SafetyMargin int
	MaxItems     int
	Ranker       Ranker

	// AllowFull is consulted at call time for every FULL-tier request.
	// Nil means FULL is never allowed.
	AllowFull func() bool
}

// Controller is the single read path over the fact store. Every read lands
// an audit row; an audit write failure is logged, never surfaced, so the
// audit trail can degrade without taking recall down with it.
type Controller struct {
	engine    *store.Engine
	policy    TierPolicy
	budget    int
	margin    int
	maxItems  int
	ranker    Ranker
	allowFull func() bool
}

func NewController(engine *store.Engine, opts Options) *Controller {
	c := &Controller{
		engine:    engine,
		policy:    opts.Policy,
		budget:    opts.TokenBudget,
		margin:    opts.SafetyMargin,
		maxItems:  opts.MaxItems,
		ranker:    opts.Ranker,
		allowFull: opts.AllowFull,
	}
	if c.policy.Categories == nil {
		c.policy = DefaultTierPolicy()
	}
	if c.budget <= 0 {
		c.budget = 8000
	}
	if c.margin < 0 || c.margin >= c.budget {
		c.margin = 500
	}
	if c.maxItems <= 0 {
		c.maxItems = 20
	}
	if c.ranker == nil {
		c.ranker = KeywordRanker{}
	}
	return c
}

// Request describes one context selection.
type Request struct {
	SessionID string
	Tier      Tier
	Mode      string // recent | relevance
	Query     string // used by relevance mode
	MaxItems  int    // 0 means the controller default
}

// Context is the assembled recall payload.
type Context struct {
	Markdown       string
	Facts          []store.AtomicFact
	Summaries      map[string]string
	TokenEstimate  int
	ShadowFallback bool
	PolicyVersion  int
}

// SelectContext assembles the memory context for injection. FULL tier is
// re-checked against the escalation flag on every call; a denied request
// returns ErrPermissionDenied and zero facts, never a silent downgrade.
func (c *Controller) SelectContext(req Request) (*Context, error) {
	start := time.Now()
	tier := req.Tier
	if tier == "" {
		tier = TierSafe
	}

	if tier == TierFull && (c.allowFull == nil || !c.allowFull()) {
		// Denials are audited too: a zero-fact entry makes repeated
		// escalation attempts visible in the access log.
		c.audit(store.AccessLogEntry{
			Kind:      store.AccessFullRecall,
			SessionID: req.SessionID,
			LatencyMS: time.Since(start).Milliseconds(),
		})
		return nil, store.ErrPermissionDenied
	}
	categories := c.policy.CategoriesFor(tier)
	if categories == nil {
		return nil, fmt.Errorf("unknown recall tier %q", tier)
	}

	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = c.maxItems
	}

	var pool []store.AtomicFact
	for _, category := range categories {
		facts, err := c.engine.QueryFacts(category, true, maxItems*2)
		if err != nil {
			return nil, err
		}
		pool = append(pool, facts...)
	}
	// Shadow facts never enter the normal pool.
	threshold := c.engine.ShadowThreshold()
	filtered := pool[:0]
	for _, f := range pool {
		if f.Confidence >= threshold {
			filtered = append(filtered, f)
		}
	}
	pool = filtered

	switch req.Mode {
	case ModeRelevance:
		sort.SliceStable(pool, func(i, j int) bool {
			return c.ranker.Score(req.Query, pool[i]) > c.ranker.Score(req.Query, pool[j])
		})
	default: // recent
		sort.SliceStable(pool, func(i, j int) bool {
			return pool[i].LastConfirmed > pool[j].LastConfirmed
		})
	}

	usable := c.budget - c.margin
	factBudget := int(float64(usable) * 0.7)

	selected, used := fillBudget(pool, maxItems, factBudget, nil)

	ctx := &Context{
		Summaries:     make(map[string]string),
		PolicyVersion: c.policy.Version,
	}

	// Summaries ride along when the category has one and budget remains.
	summaryBudget := usable - factBudget
	for _, category := range categoriesOf(selected) {
		s, err := c.engine.GetSummary(category)
		if err != nil {
			continue
		}
		cost := estimateTokens(s.Summary)
		if cost > summaryBudget {
			continue
		}
		summaryBudget -= cost
		used += cost
		ctx.Summaries[category] = s.Summary
	}

	// Near-empty recall falls back to shadow facts so the agent is not
	// flying blind; the payload is flagged so consumers can tell.
	if usable > 0 && float64(used)/float64(usable) < 0.1 {
		shadows, err := c.engine.ShadowFacts(maxItems)
		if err == nil && len(shadows) > 0 {
			shadows = filterCategories(shadows, categories)
			var shadowUsed int
			selected, shadowUsed = fillBudget(shadows, maxItems, usable-used, selected)
			if shadowUsed > 0 {
				used += shadowUsed
				ctx.ShadowFallback = true
			}
		}
	}

	ctx.Facts = selected
	ctx.Markdown = renderMarkdown(selected, ctx.Summaries, ctx.ShadowFallback)
	ctx.TokenEstimate = estimateTokens(ctx.Markdown)

	kind := store.AccessContextInjection
	if tier == TierFull {
		kind = store.AccessFullRecall
	}
	c.audit(store.AccessLogEntry{
		Kind:      kind,
		SessionID: req.SessionID,
		FactCount: len(ctx.Facts),
		TokenCost: ctx.TokenEstimate,
		LatencyMS: time.Since(start).Milliseconds(),
	})
	return ctx, nil
}

// fillBudget appends facts from pool onto acc until the item cap or token
// budget runs out, collapsing duplicate content by hash.
func fillBudget(pool []store.AtomicFact, maxItems, budget int, acc []store.AtomicFact) ([]store.AtomicFact, int) {
	seen := make(map[string]bool, len(acc))
	for _, f := range acc {
		seen[contentHash(f.Content)] = true
	}
	used := 0
	for _, f := range pool {
		if len(acc) >= maxItems {
			break
		}
		h := contentHash(f.Content)
		if seen[h] {
			continue
		}
		cost := estimateTokens(f.Content)
		if used+cost > budget {
			continue
		}
		seen[h] = true
		used += cost
		acc = append(acc, f)
	}
	return acc, used
}

// Facts is the audited fact query.
func (c *Controller) Facts(sessionID, category string, activeOnly bool, limit int) ([]store.AtomicFact, error) {
	start := time.Now()
	facts, err := c.engine.QueryFacts(category, activeOnly, limit)
	if err != nil {
		return nil, err
	}
	tokens := 0
	for _, f := range facts {
		tokens += estimateTokens(f.Content)
	}
	c.audit(store.AccessLogEntry{
		Kind:      store.AccessFactQuery,
		SessionID: sessionID,
		FactCount: len(facts),
		TokenCost: tokens,
		LatencyMS: time.Since(start).Milliseconds(),
	})
	return facts, nil
}

// Summary is the audited summary read.
func (c *Controller) Summary(sessionID, category string) (*store.CategorySummary, error) {
	start := time.Now()
	s, err := c.engine.GetSummary(category)
	if err != nil {
		return nil, err
	}
	c.audit(store.AccessLogEntry{
		Kind:      store.AccessSummaryRead,
		SessionID: sessionID,
		FactCount: s.FactCount,
		TokenCost: estimateTokens(s.Summary),
		LatencyMS: time.Since(start).Milliseconds(),
	})
	return s, nil
}

// Stats passes through; aggregate counts carry no fact content, so they
// are not audited.
func (c *Controller) Stats() (*store.MemoryStats, error) {
	return c.engine.Stats()
}

// Sessions passes through for the dashboard-style consumer.
func (c *Controller) Sessions(limit int) ([]store.SessionInfo, error) {
	return c.engine.Sessions(limit)
}

func (c *Controller) audit(entry store.AccessLogEntry) {
	if err := c.engine.LogAccess(entry); err != nil {
		log.Printf("[recall] audit write failed: %v", err)
	}
}

func categoriesOf(facts []store.AtomicFact) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range facts {
		if !seen[f.Category] {
			seen[f.Category] = true
			out = append(out, f.Category)
		}
	}
	return out
}

func filterCategories(facts []store.AtomicFact, allowed []string) []store.AtomicFact {
	ok := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		ok[c] = true
	}
	out := facts[:0]
	for _, f := range facts {
		if ok[f.Category] {
			out = append(out, f)
		}
	}
	return out
}

func contentHash(content string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:8])
}

// estimateTokens is the chars-over-four heuristic; good enough for budget
// arithmetic, not billing.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
