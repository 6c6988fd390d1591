package store

// EventKind values accepted by AppendEvent.
const (
	KindUserInput        = "user_input"
	KindAgentResponse    = "agent_response"
	KindDebateTurn       = "debate_turn"
	KindVoteCast         = "vote_cast"
	KindDecisionRendered = "decision_rendered"
	KindSystemEvent      = "system_event"
)

// Fact categories.
const (
	CategoryUserPreference      = "user_preference"
	CategoryProjectContext      = "project_context"
	CategoryDecisionMade        = "decision_made"
	CategoryTechnicalConstraint = "technical_constraint"
	CategoryRelationship        = "relationship"
	CategoryGoal                = "goal"
	CategoryLearnedPattern      = "learned_pattern"
	CategoryCorrection          = "correction"
)

var validKinds = map[string]bool{
	KindUserInput:        true,
	KindAgentResponse:    true,
	KindDebateTurn:       true,
	KindVoteCast:         true,
	KindDecisionRendered: true,
	KindSystemEvent:      true,
}

var validCategories = map[string]bool{
	CategoryUserPreference:      true,
	CategoryProjectContext:      true,
	CategoryDecisionMade:        true,
	CategoryTechnicalConstraint: true,
	CategoryRelationship:        true,
	CategoryGoal:                true,
	CategoryLearnedPattern:      true,
	CategoryCorrection:          true,
}

// Categories lists every fact category in a stable order.
func Categories() []string {
	return []string{
		CategoryUserPreference,
		CategoryProjectContext,
		CategoryDecisionMade,
		CategoryTechnicalConstraint,
		CategoryRelationship,
		CategoryGoal,
		CategoryLearnedPattern,
		CategoryCorrection,
	}
}

// ValidKind reports whether kind is an accepted event kind.
func ValidKind(kind string) bool { return validKinds[kind] }

// ValidCategory reports whether category is an accepted fact category.
func ValidCategory(category string) bool { return validCategories[category] }

// Event is one immutable interaction record. Content is always sanitized
// before it reaches the events table; the consumed flag is the only field
// that ever mutates.
type Event struct {
	ID        int64
	Timestamp string
	SessionID string
	Kind      string
	AgentName string
	Content   string
	Metadata  map[string]string
	Consumed  bool
}

// AtomicFact is a single distilled claim. Never hard-deleted: forgetting is
// is_active=false plus supersession.
type AtomicFact struct {
	FactID           string
	Content          string
	Category         string
	Confidence       float64
	SourceEvents     []int64
	Embedding        []byte
	FirstObserved    string
	LastConfirmed    string
	ObservationCount int
	Active           bool
	SupersededBy     string // fact_id of the replacing fact, empty when active
}

// CandidateFact is the extraction output fed into MergeCandidate.
type CandidateFact struct {
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	EventID    int64   `json:"-"`
}

// Conflict types.
const (
	ConflictContradiction = "contradiction"
	ConflictUpdate        = "update"
	ConflictRefinement    = "refinement"
	ConflictCorrection    = "correction"
)

// Conflict resolutions.
const (
	ResolutionNewSupersedes = "new_supersedes"
	ResolutionOldRetained   = "old_retained"
	ResolutionMerged        = "merged"
	ResolutionBothValid     = "both_valid"
)

// ConflictRecord is one immutable resolution log entry.
type ConflictRecord struct {
	ID           int64
	OldFactID    string
	NewFactID    string
	ConflictType string
	Resolution   string
	Reason       string
	CreatedAt    string
}

// CategorySummary is the versioned digest of one category's active facts.
type CategorySummary struct {
	Category         string
	Summary          string
	FactCount        int
	KeyFactIDs       []string
	SynthesisVersion int
	UpdatedAt        string
}

// Queue job statuses. Every job is in exactly one of these at all times.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobSkipped    = "skipped"
)

// QueueJob references one event awaiting (or past) extraction. Priority runs
// 1-10 with HIGHER values served first; ties break on oldest creation time.
type QueueJob struct {
	ID          int64
	EventID     int64
	Priority    int
	Status      string
	Attempts    int
	LastAttempt string
	Error       string
	CreatedAt   string
}

// Access kinds recorded in the audit log.
const (
	AccessContextInjection = "context_injection"
	AccessFactQuery        = "fact_query"
	AccessSummaryRead      = "summary_read"
	AccessFullRecall       = "full_recall"
)

// AccessLogEntry is one immutable read-audit row.
type AccessLogEntry struct {
	ID         int64
	Kind       string
	SessionID  string
	FactCount  int
	TokenCost  int
	LatencyMS  int64
	AccessedAt string
}

// MergeOutcome reports what MergeCandidate did.
type MergeOutcome string

const (
	OutcomeCreated        MergeOutcome = "created"
	OutcomeConfirmed      MergeOutcome = "confirmed"
	OutcomeSuperseded     MergeOutcome = "superseded"
	OutcomeConflictLogged MergeOutcome = "conflict_logged"
)

// MemoryStats is the snapshot served to the dashboard-style consumer.
type MemoryStats struct {
	Events         int
	ActiveFacts    int
	InactiveFacts  int
	Conflicts      int
	Summaries      int
	PendingJobs    int
	FailedJobs     int
	AccessEntries  int
	EventsLast24h  int
	EventsLast7d   int
	Sessions       int
	DBSizeBytes    int64
	SchemaVersion  int
	SanitizerRules int
}

// SessionInfo is a per-session event rollup.
type SessionInfo struct {
	SessionID      string
	StartTime      string
	LastActivity   string
	EventCount     int
	UserInputs     int
	AgentResponses int
}
