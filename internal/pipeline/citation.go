package pipeline

import (
	"context"
	"sync"

	"codenerd/internal/errs"
)

// ReferenceResolver looks up the outbound references of a DOI-identified
// work, used by the deferred citation-expansion step (spec §4.7: "chain
// job, runs in the background, never blocks the owning search").
type ReferenceResolver interface {
	ResolveReferences(ctx context.Context, doi string) ([]Candidate, error)
}

// CitationExpander drives citation expansion for a task, capping the total
// number of expansion calls per task so a densely cross-cited corpus can't
// turn into an unbounded crawl.
type CitationExpander struct {
	resolver     ReferenceResolver
	iterationCap int

	mu   sync.Mutex
	used map[string]int // taskID -> iterations consumed
}

// NewCitationExpander builds an expander bounded to iterationCap calls per
// task_id over the task's lifetime.
func NewCitationExpander(resolver ReferenceResolver, iterationCap int) *CitationExpander {
	return &CitationExpander{
		resolver:     resolver,
		iterationCap: iterationCap,
		used:         make(map[string]int),
	}
}

func (c *CitationExpander) tryConsume(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.used[taskID] >= c.iterationCap {
		return false
	}
	c.used[taskID]++
	return true
}

// Expand resolves one work's outbound references, consuming one unit of the
// task's citation-iteration budget. It returns KindBudgetExhausted once the
// cap is reached, rather than an internal error, so the caller can treat it
// as a normal stop signal.
func (c *CitationExpander) Expand(ctx context.Context, taskID, doi string) ([]Candidate, error) {
	if !c.tryConsume(taskID) {
		return nil, errs.New(errs.KindBudgetExhausted, "citation iteration cap reached for task "+taskID, nil)
	}
	refs, err := c.resolver.ResolveReferences(ctx, doi)
	if err != nil {
		return nil, errs.Wrap(errs.KindPipelineError, err)
	}
	return refs, nil
}
