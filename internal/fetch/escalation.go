package fetch

import (
	"context"
	"fmt"

	"codenerd/internal/logging"
)

// Escalator drives a Request up the ladder, stopping at the first rung
// that returns OutcomeOK, OutcomeAuthRequired, or OutcomeNotFound, and
// advancing past any rung whose failure is diagnosably escalation-worthy.
// Retrying the same rung without progress is never allowed; each attempt
// consumes exactly one rung.
type Escalator struct {
	rungs []Fetcher
}

// NewEscalator builds the ladder from already-constructed rung fetchers, in
// ascending escalation order.
func NewEscalator(rungs ...Fetcher) *Escalator {
	return &Escalator{rungs: rungs}
}

// StepResult records the outcome of one rung attempt, used by callers that
// want to log or persist the full escalation trace, not just the final
// result.
type StepResult struct {
	Rung    Rung
	Outcome Outcome
}

// Run executes the ladder for a single request. It returns the terminal
// outcome plus the full per-rung trace. A TransientError from a rung is not
// diagnosable and does not advance the ladder; the caller is expected to
// retry the whole Run after a backoff, not resume mid-ladder.
func (e *Escalator) Run(ctx context.Context, req Request) (Outcome, []StepResult, error) {
	var trace []StepResult

	for _, fetcher := range e.rungs {
		select {
		case <-ctx.Done():
			return Outcome{Kind: OutcomeTransientError, Cause: ctx.Err()}, trace, ctx.Err()
		default:
		}

		outcome, err := fetcher.Fetch(ctx, req)
		if err != nil {
			return Outcome{}, trace, fmt.Errorf("rung %s: %w", fetcher.Rung(), err)
		}
		trace = append(trace, StepResult{Rung: fetcher.Rung(), Outcome: outcome})

		switch outcome.Kind {
		case OutcomeOK, OutcomeAuthRequired, OutcomeNotFound:
			return outcome, trace, nil
		case OutcomeTransientError:
			logging.FetchDebug("rung %s: transient error for %s: %v", fetcher.Rung(), req.URL, outcome.Cause)
			return outcome, trace, nil
		case OutcomeBlocked:
			if !outcome.AuthDiagnosable() {
				logging.FetchDebug("rung %s: non-diagnosable block for %s, terminating ladder", fetcher.Rung(), req.URL)
				return outcome, trace, nil
			}
			logging.FetchDebug("rung %s: diagnosable block (%s) for %s, escalating", fetcher.Rung(), outcome.BlockKind, req.URL)
			continue
		}
	}

	if len(trace) == 0 {
		return Outcome{Kind: OutcomeTransientError, Cause: fmt.Errorf("no rungs configured")}, trace, nil
	}
	last := trace[len(trace)-1]
	return last.Outcome, trace, nil
}

// Close releases any stateful rung resources (currently the browser rungs).
func (e *Escalator) Close() error {
	var firstErr error
	for _, fetcher := range e.rungs {
		if closer, ok := fetcher.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
