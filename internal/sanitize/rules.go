package sanitize

// Rule is one redaction rule. Pattern is a case-insensitive regular
// expression; matches are replaced with Replacement.
type Rule struct {
	Name        string `json:"name"`
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Category    string `json:"category"` // pii, credential, path, internal, custom
	Active      bool   `json:"active"`
}

// RuleSet is an explicitly loaded, versioned rule collection. A Gate is built
// from one RuleSet; rule changes require loading a new set and rebuilding,
// never mutation in place.
type RuleSet struct {
	Version int
	Rules   []Rule
}

const (
	CategoryPII        = "pii"
	CategoryCredential = "credential"
	CategoryPath       = "path"
	CategoryInternal   = "internal"
	CategoryCustom     = "custom"
)

// BlockedMarker replaces prompt-injection phrases.
const BlockedMarker = "[BLOCKED-COMMAND]"

// blockedPhrases are matched literally and case-insensitively in one
// automaton pass. Kept short on purpose: these are tripwires, not a WAF.
var blockedPhrases = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard prior instructions",
	"system:",
	"<jailbreak>",
	"you are now dan",
	"developer mode enabled",
}

// DefaultRules seed the sanitization_rules table on first init and serve as
// the fallback when no stored rules exist.
func DefaultRules() RuleSet {
	return RuleSet{
		Version: 1,
		Rules: []Rule{
			{Name: "email", Pattern: `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`, Replacement: "[EMAIL]", Category: CategoryPII, Active: true},
			{Name: "phone_us", Pattern: `\+?1?[\s.\-]?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`, Replacement: "[PHONE]", Category: CategoryPII, Active: true},
			{Name: "ssn", Pattern: `\b\d{3}-\d{2}-\d{4}\b`, Replacement: "[SSN]", Category: CategoryPII, Active: true},
			{Name: "credit_card", Pattern: `\b(?:\d[ \-]?){13,16}\b`, Replacement: "[CARD]", Category: CategoryPII, Active: true},
			{Name: "api_key", Pattern: `\b(?:sk|pk|rk)-[a-zA-Z0-9\-_]{16,}\b`, Replacement: "[API-KEY]", Category: CategoryCredential, Active: true},
			{Name: "aws_key", Pattern: `\bAKIA[0-9A-Z]{16}\b`, Replacement: "[AWS-KEY]", Category: CategoryCredential, Active: true},
			{Name: "bearer_token", Pattern: `\b[Bb]earer\s+[a-zA-Z0-9\-._~+/]{20,}=*`, Replacement: "[TOKEN]", Category: CategoryCredential, Active: true},
			{Name: "password_kv", Pattern: `(?:password|passwd|pwd)\s*[:=]\s*\S+`, Replacement: "[PASSWORD]", Category: CategoryCredential, Active: true},
			{Name: "home_path", Pattern: `/(?:home|Users)/[a-zA-Z0-9._\-]+`, Replacement: "[HOME]", Category: CategoryPath, Active: true},
			{Name: "ipv4", Pattern: `\b(?:\d{1,3}\.){3}\d{1,3}\b`, Replacement: "[IP]", Category: CategoryInternal, Active: true},
		},
	}
}
