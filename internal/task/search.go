package task

import "codenerd/internal/store"

// staleWindowsToExhaust is how many consecutive below-novelty-min windows
// mark a search exhausted, per spec §4.7 ("novelty < novelty_min for 2
// consecutive windows").
const staleWindowsToExhaust = 2

// EvaluateStoppingCondition applies spec §4.7's per-search stopping rules
// given the latest metrics snapshot, the independent-source count the
// evidence graph has computed for the search's claims so far, and the
// task's page budget. It does not mutate metrics; callers persist the
// returned status via Manager.FinishSearch once the pipeline decides to
// stop driving this search forward.
//
//   - satisfied: independentSources >= 3, or a primary source plus at
//     least one other independent source.
//   - exhausted: the page budget is consumed, or novelty has stayed below
//     novelty_min for staleWindowsToExhaust consecutive windows.
//   - running: neither condition holds yet.
func EvaluateStoppingCondition(metrics store.SearchMetrics, independentSources int, maxPages int) store.SearchStatus {
	if independentSources >= 3 {
		return store.SearchSatisfied
	}
	if metrics.HasPrimarySource && independentSources >= 2 {
		return store.SearchSatisfied
	}

	if maxPages > 0 && metrics.PagesFetched >= maxPages {
		return store.SearchExhausted
	}
	if metrics.StaleWindows >= staleWindowsToExhaust {
		return store.SearchExhausted
	}

	return store.SearchRunning
}

// AdvanceNoveltyWindow updates StaleWindows given the latest novelty score
// for a completed novelty-measurement window (default size 10 fragments per
// spec §4.7), resetting the counter the moment novelty recovers above the
// floor.
func AdvanceNoveltyWindow(metrics store.SearchMetrics, noveltyScore, noveltyMin float64) store.SearchMetrics {
	metrics.NoveltyScore = noveltyScore
	if noveltyScore < noveltyMin {
		metrics.StaleWindows++
	} else {
		metrics.StaleWindows = 0
	}
	return metrics
}

// FinalizeAsPartial maps a search that stopped without reaching satisfied or
// exhausted to partial, and leaves those two statuses as they are.
// Executor.FinalizePartial applies it when RunSearch ends in an error.
func FinalizeAsPartial(status store.SearchStatus) store.SearchStatus {
	if status == store.SearchSatisfied || status == store.SearchExhausted {
		return status
	}
	return store.SearchPartial
}
