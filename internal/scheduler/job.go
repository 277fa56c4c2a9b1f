// Package scheduler implements the slot-based concurrency scheduler: typed
// job admission, per-slot concurrency caps, priority ordering, mutual
// exclusion between exclusive-resource slots, and budget guards, per spec
// §4.1. Grounded on the teacher's internal/session/task_executor.go async
// task-handle shape (queued/running/completed/failed plus GetResult/
// WaitForResult) and other_examples/dag_engine.go's worker-pool + retry
// policy shape, rebuilt on golang.org/x/sync/semaphore for slot admission
// instead of hand-rolled channel counting.
package scheduler

import (
	"context"
	"time"
)

// Slot names one exclusive or shared resource class a job consumes.
type Slot string

const (
	SlotGPU            Slot = "gpu"
	SlotBrowserHeadful Slot = "browser_headful"
	SlotNetworkClient  Slot = "network_client"
	SlotCPUNLP         Slot = "cpu_nlp"
)

// Kind names a job's nature, which determines its default priority and
// whether it counts against the page or LLM-time budget.
type Kind string

const (
	KindSERP         Kind = "serp"
	KindPrefetch     Kind = "prefetch"
	KindExtract      Kind = "extract"
	KindEmbed        Kind = "embed"
	KindRerank       Kind = "rerank"
	KindLLMFast      Kind = "llm_fast"
	KindLLMSlow      Kind = "llm_slow"
	KindVerifyNLI    Kind = "verify_nli"
	KindCitationGraph Kind = "citation_graph"
	KindFetch        Kind = "fetch"
)

// priorityOf maps a Kind to its scheduling priority, higher runs first, per
// spec §4.1: "serp=100 > prefetch=90 > extract=80 > embed=70 > rerank=60 >
// llm_fast=50 > llm_slow=40". Chain jobs (verify_nli, citation_graph) run in
// the background at a low, non-blocking priority.
func priorityOf(k Kind) int {
	switch k {
	case KindSERP:
		return 100
	case KindPrefetch, KindFetch:
		return 90
	case KindExtract:
		return 80
	case KindEmbed:
		return 70
	case KindRerank:
		return 60
	case KindLLMFast:
		return 50
	case KindLLMSlow:
		return 40
	case KindVerifyNLI, KindCitationGraph:
		return 10
	default:
		return 0
	}
}

// isLLM reports whether a Kind counts against the task's LLM-time budget
// fraction rather than the page budget.
func isLLM(k Kind) bool {
	switch k {
	case KindEmbed, KindRerank, KindLLMFast, KindLLMSlow, KindVerifyNLI:
		return true
	default:
		return false
	}
}

// Phase buckets a job Kind into one of spec §4.9's get_status phases
// (exploration/verification/citation), so a task's in-flight job mix can
// be reported without exposing scheduler-internal Kind values.
type Phase string

const (
	PhaseExploration  Phase = "exploration"
	PhaseVerification Phase = "verification"
	PhaseCitation     Phase = "citation"
)

// phaseOf maps a Kind to its reporting phase. plan/fetch/extract/rank/
// classify all belong to exploration; verify_nli is the dedicated
// cross-source verification pass; citation_graph is the deferred citation
// expansion chain job, per spec §4.7.
func phaseOf(k Kind) Phase {
	switch k {
	case KindVerifyNLI:
		return PhaseVerification
	case KindCitationGraph:
		return PhaseCitation
	default:
		return PhaseExploration
	}
}

// Status is a job handle's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// RunFunc is the work a job performs once admitted. It must honor ctx
// cancellation at safe points to support cooperative Cancel.
type RunFunc func(ctx context.Context) (interface{}, error)

// Job is one unit of schedulable work.
type Job struct {
	ID       string
	TaskID   string
	Kind     Kind
	Slot     Slot
	Domain   string // required for SlotNetworkClient jobs
	Run      RunFunc
	submittedAt time.Time
	seq         uint64
}

// Result is the outcome a Handle's Wait returns.
type Result struct {
	Value interface{}
	Err   error
}
