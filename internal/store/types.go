// Package store provides the durable sqlite state of the evidence graph
// (which has no in-memory copy), tasks, searches, domain policy and
// calibration, plus an embeddings table for vector search. In-memory state
// elsewhere (the task registry, the scheduler queue) is not rebuilt from it
// on startup.
package store

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskExploring TaskStatus = "exploring"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Budget bounds a task's resource consumption.
type Budget struct {
	MaxPages       int     `json:"max_pages"`
	MaxSeconds     int     `json:"max_seconds"`
	MaxLLMFraction float64 `json:"max_llm_fraction,omitempty"`
}

// Task is the outermost research unit.
type Task struct {
	ID          string
	Hypothesis  string
	Status      TaskStatus
	Budget      Budget
	CreatedAt   time.Time
	PagesUsed   int
	SecondsUsed int
	LLMSeconds  float64
	TotalClaims int
}

// SearchStatus is the lifecycle state of a Search.
type SearchStatus string

const (
	SearchQueued    SearchStatus = "queued"
	SearchRunning   SearchStatus = "running"
	SearchSatisfied SearchStatus = "satisfied"
	SearchPartial   SearchStatus = "partial"
	SearchExhausted SearchStatus = "exhausted"
	SearchFailed    SearchStatus = "failed"
)

// SearchMetrics tracks per-search progress used for stopping-condition checks.
type SearchMetrics struct {
	PagesFetched      int     `json:"pages_fetched"`
	UsefulFragments   int     `json:"useful_fragments"`
	HarvestRate       float64 `json:"harvest_rate"`
	SatisfactionScore float64 `json:"satisfaction_score"`
	NoveltyScore      float64 `json:"novelty_score"`
	HasPrimarySource  bool    `json:"has_primary_source"`
	StaleWindows      int     `json:"stale_windows"`
}

// Search is one unit of strategist-supplied exploration within a task.
type Search struct {
	ID        string
	TaskID    string
	QueryText string
	Status    SearchStatus
	Metrics   SearchMetrics
	CreatedAt time.Time
}

// TrustLevel classifies a page's source reliability.
type TrustLevel string

const (
	TrustPrimary    TrustLevel = "PRIMARY"
	TrustGovernment TrustLevel = "GOVERNMENT"
	TrustAcademic   TrustLevel = "ACADEMIC"
	TrustTrusted    TrustLevel = "TRUSTED"
	TrustLow        TrustLevel = "LOW"
	TrustUnverified TrustLevel = "UNVERIFIED"
	TrustBlocked    TrustLevel = "BLOCKED"
)

// Page is one fetched document with a stable canonical URL.
type Page struct {
	ID          string
	URL         string
	Domain      string
	ContentType string
	FetchedAt   time.Time
	Trust       TrustLevel
	CanonicalID string // owning Work.CanonicalID, if DOI-known
	DOI         string
}

// FragmentType classifies an extracted text segment.
type FragmentType string

const (
	FragmentParagraph FragmentType = "paragraph"
	FragmentHeading   FragmentType = "heading"
	FragmentList      FragmentType = "list"
	FragmentTable     FragmentType = "table"
	FragmentQuote     FragmentType = "quote"
	FragmentFigure    FragmentType = "figure"
	FragmentCode      FragmentType = "code"
)

// HeadingCrumb is one level of a fragment's heading hierarchy.
type HeadingCrumb struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Fragment is a bounded text segment extracted from a page.
type Fragment struct {
	ID                string
	PageID            string
	TextContent       string
	HeadingContext    string
	HeadingHierarchy  []HeadingCrumb
	ElementIndex      int
	FragmentType      FragmentType
}

// ClaimAdoptionStatus tracks whether a claim is part of the active evidence set.
type ClaimAdoptionStatus string

const (
	ClaimAdopted  ClaimAdoptionStatus = "adopted"
	ClaimRejected ClaimAdoptionStatus = "rejected"
	ClaimRestored ClaimAdoptionStatus = "restored"
)

// ClaimConfidenceSource records how a claim's confidence was derived.
type ClaimConfidenceSource string

const (
	ConfidenceBayesian   ClaimConfidenceSource = "bayesian"
	ConfidenceLLMFallback ClaimConfidenceSource = "llm_fallback"
)

// Claim is an assertion extracted by the LLM from one or more fragments.
type Claim struct {
	ID                    string
	TaskID                string
	ClaimText             string
	LLMConfidenceRaw       float64
	BayesConfidence        float64
	AdoptionStatus         ClaimAdoptionStatus
	ConfidenceSource       ClaimConfidenceSource
	SimhashValue           uint64
	CreatedAt              time.Time
}

// NLILabel is the relation an NLI call assigns a fragment->claim edge.
type NLILabel string

const (
	NLISupports NLILabel = "supports"
	NLIRefutes  NLILabel = "refutes"
	NLINeutral  NLILabel = "neutral"
)

// NodeType identifies which table an edge endpoint lives in.
type NodeType string

const (
	NodeFragment NodeType = "fragment"
	NodeClaim    NodeType = "claim"
	NodePage     NodeType = "page"
)

// EdgeRelation names the kind of relation an edge expresses.
type EdgeRelation string

const (
	RelationFragmentClaim EdgeRelation = "fragment_claim"
	RelationCites         EdgeRelation = "cites"
)

// Edge is a typed relation between two graph nodes.
type Edge struct {
	ID                  string
	SourceID            string
	SourceType           NodeType
	TargetID             string
	TargetType           NodeType
	Relation             EdgeRelation
	NLILabel             NLILabel
	NLIConfidenceRaw     float64
	CitationContext      string
	CreatedAt            time.Time
}

// Work is academic metadata keyed by canonical identifier (DOI preferred).
type Work struct {
	CanonicalID string
	DOI         string
	Year        int
	Venue       string
}

// WorkAuthor is one author position on a Work.
type WorkAuthor struct {
	CanonicalID string
	Position    int
	Name        string
}

// AuthType classifies the kind of human intervention a blocked fetch needs.
type AuthType string

const (
	AuthCloudflare AuthType = "cloudflare"
	AuthCaptcha    AuthType = "captcha"
	AuthLogin      AuthType = "login"
	AuthTurnstile  AuthType = "turnstile"
	AuthOther      AuthType = "other"
)

// AuthQueueItemStatus is the lifecycle state of an intervention queue item.
type AuthQueueItemStatus string

const (
	AuthItemPending  AuthQueueItemStatus = "pending"
	AuthItemResolved AuthQueueItemStatus = "resolved"
	AuthItemSkipped  AuthQueueItemStatus = "skipped"
	AuthItemFailed   AuthQueueItemStatus = "failed"
)

// AuthQueueItem is a blocked fetch awaiting human action.
type AuthQueueItem struct {
	ID          string
	TaskID      string
	URL         string
	Domain      string
	AuthType    AuthType
	Priority    int
	QueuedAt    time.Time
	SearchIDs   []string
	Status      AuthQueueItemStatus
	SessionJSON string // captured cookies/session artifacts, opaque JSON
}

// BreakerState is the per-domain circuit breaker FSM state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// DomainPolicy is EMA-smoothed per-host state governing politeness and escalation.
type DomainPolicy struct {
	Domain             string
	QPSMax             float64
	CooldownUntil      time.Time
	HeadfulRatio       float64
	TorSuccessRate     float64
	CaptchaRate        float64
	BlockScore         float64
	BreakerState       BreakerState
	ConsecutiveFailures int
	LastSuccessesEMA   float64
	LastFailuresEMA    float64
	UpdatedAt          time.Time
}

// EngineHealth tracks per-provider EMA success/latency for inference providers.
type EngineHealth struct {
	Provider      string
	State         string
	LastOKAt      time.Time
	EMASuccess    float64
	EMALatencyMS  float64
}

// JobState mirrors the scheduler's observation states.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is a persisted record of scheduled work, for audit and resume.
type Job struct {
	ID         string
	Kind       string
	Slot       string
	Priority   int
	State      JobState
	CauseID    string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// CalibrationSample is one (predicted, observed) pair used to fit a calibrator.
type CalibrationSample struct {
	ID        int64
	Source    string
	Predicted float64
	Actual    float64
	Context   string
	CreatedAt time.Time
}

// CalibrationParams is a versioned, scalar Platt-scaling calibrator.
type CalibrationParams struct {
	Source  string
	Version int
	A       float64 // slope
	B       float64 // intercept
	Active  bool
}

// EmbeddingTargetType identifies what an embedding row vectorizes.
type EmbeddingTargetType string

const (
	TargetFragment EmbeddingTargetType = "fragment"
	TargetClaim    EmbeddingTargetType = "claim"
)

// EmbeddingRow is a stored vector for a fragment or claim.
type EmbeddingRow struct {
	TargetID   string
	TargetType EmbeddingTargetType
	Vector     []float32
}
