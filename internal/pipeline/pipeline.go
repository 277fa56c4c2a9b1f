package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"codenerd/internal/authqueue"
	"codenerd/internal/config"
	"codenerd/internal/errs"
	"codenerd/internal/evidence"
	"codenerd/internal/extract"
	"codenerd/internal/fetch"
	"codenerd/internal/inference"
	"codenerd/internal/logging"
	"codenerd/internal/policy"
	"codenerd/internal/scheduler"
	"codenerd/internal/store"
	"codenerd/internal/task"

	"github.com/google/uuid"
)

// Executor drives one search through spec §4.7's seven steps: plan, fetch,
// extract, rank, classify+ingest, citation expansion (deferred), finalize.
// It owns none of the scarce resources itself; every resource-consuming
// step is submitted to the scheduler as a Job and the Executor only
// sequences the results through the store, evidence graph, and task
// packages. Grounded on the teacher's internal/shards/researcher orchestrator,
// which drove a similar plan->fetch->synthesize loop one resource call at a
// time rather than owning a worker pool itself.
type Executor struct {
	sched     *scheduler.Scheduler
	st        *store.Store
	pol       *policy.Store
	fetcher   *fetch.Escalator
	gw        *inference.Gateway
	evg       *evidence.Graph
	tasks     *task.Manager
	authq     *authqueue.Queue
	citations *CitationExpander
	providers []SearchProvider
	cfg       config.PipelineConfig
}

// NewExecutor wires an Executor from its collaborators.
func NewExecutor(
	sched *scheduler.Scheduler,
	st *store.Store,
	pol *policy.Store,
	fetcher *fetch.Escalator,
	gw *inference.Gateway,
	evg *evidence.Graph,
	tasks *task.Manager,
	authq *authqueue.Queue,
	citations *CitationExpander,
	providers []SearchProvider,
	cfg config.PipelineConfig,
) *Executor {
	return &Executor{
		sched:     sched,
		st:        st,
		pol:       pol,
		fetcher:   fetcher,
		gw:        gw,
		evg:       evg,
		tasks:     tasks,
		authq:     authq,
		citations: citations,
		providers: providers,
		cfg:       cfg,
	}
}

// RunSearch drives one search to a terminal status. It is safe to call
// again for the same search after stop_task/queue_targets resumes it; each
// call only advances the search by the candidates it is handed this round.
func (e *Executor) RunSearch(ctx context.Context, taskID string, search store.Search, target Target, maxPages int) (store.SearchStatus, error) {
	if err := target.Validate(); err != nil {
		return store.SearchFailed, err
	}

	candidates, err := e.plan(ctx, taskID, target)
	if err != nil {
		return store.SearchFailed, errs.Wrap(errs.KindPipelineError, err)
	}

	metrics := search.Metrics
	independentSources := 0

	for _, cand := range candidates {
		page, body, fetched, ferr := e.fetchCandidate(ctx, taskID, search.ID, cand)
		if ferr != nil {
			logging.PipelineWarn("task %s search %s: fetch failed for %+v: %v", taskID, search.ID, cand, ferr)
			e.recordIfFatal(taskID, "fetch", ferr)
			continue
		}
		if !fetched {
			// Deferred (auth-wait) or terminally skipped (not_found); the
			// search keeps driving its remaining candidates.
			continue
		}

		metrics.PagesFetched++

		fragments, rerr := e.extractPage(ctx, taskID, page, body)
		if rerr != nil {
			logging.PipelineWarn("task %s search %s: extract failed for page %s: %v", taskID, search.ID, page.ID, rerr)
			e.recordIfFatal(taskID, "extract", rerr)
			continue
		}
		if len(fragments) == 0 {
			continue
		}

		ranked, rankErr := e.rankFragments(ctx, taskID, queryTextOf(target), fragments)
		if rankErr != nil {
			logging.PipelineWarn("task %s search %s: rank failed for page %s: %v", taskID, search.ID, page.ID, rankErr)
			ranked = fragmentsToRanked(fragments)
		}

		newIndependent, claimCount, cerr := e.classifyAndIngest(ctx, taskID, fragments, ranked)
		if cerr != nil {
			logging.PipelineWarn("task %s search %s: classify failed for page %s: %v", taskID, search.ID, page.ID, cerr)
			continue
		}
		metrics.UsefulFragments += claimCount
		if newIndependent > independentSources {
			independentSources = newIndependent
		}
		if e.pol.IsPrimarySource(page.Domain) {
			metrics.HasPrimarySource = true
		}

		if page.DOI != "" && e.citations != nil {
			e.expandCitations(ctx, taskID, page.DOI)
		}
	}

	status := task.EvaluateStoppingCondition(metrics, independentSources, maxPages)
	if finErr := e.tasks.FinishSearch(taskID, search.ID, status, metrics); finErr != nil {
		return status, errs.Wrap(errs.KindInternal, finErr)
	}
	return status, nil
}

// recordIfFatal records a step's error as a warning on the task's
// exploration state when it is (or wraps) a scheduler.FatalError — disk
// full, OOM, the unrecoverable class spec §7 says terminates the owning
// search and must be surfaced under get_status.warnings. Transient/rate-limit
// errors are retried by the scheduler and aren't warning-worthy on their own.
func (e *Executor) recordIfFatal(taskID, step string, err error) {
	var fatal *scheduler.FatalError
	if !errors.As(err, &fatal) {
		return
	}
	e.tasks.Registry().GetOrCreate(taskID).AddWarning(fmt.Sprintf("%s: %v", step, fatal.Err))
}

func queryTextOf(target Target) string {
	switch target.Kind {
	case TargetQuery:
		return target.Text
	case TargetURL:
		return target.URL
	default:
		return target.DOI
	}
}

// plan gathers candidates for a target. A URL or DOI target is its own
// single candidate; a query target fans out to every configured
// SearchProvider in parallel, bounded by the pipeline step timeout, per
// spec §4.7's gather(serp_task, academic_task).
func (e *Executor) plan(ctx context.Context, taskID string, target Target) ([]Candidate, error) {
	switch target.Kind {
	case TargetURL:
		return []Candidate{{URL: target.URL, Reason: target.Reason}}, nil
	case TargetDOI:
		return []Candidate{{DOI: target.DOI, Reason: target.Reason}}, nil
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout())
	defer cancel()

	results := make(chan []Candidate, len(e.providers))
	for _, p := range e.providers {
		p := p
		go func() {
			found, err := p.Search(stepCtx, target.Text)
			if err != nil {
				logging.PipelineWarn("task %s: search provider failed: %v", taskID, err)
				results <- nil
				return
			}
			results <- found
		}()
	}

	var all []Candidate
	for range e.providers {
		select {
		case found := <-results:
			all = append(all, found...)
		case <-stepCtx.Done():
			return all, nil
		}
	}
	return all, nil
}

func (e *Executor) stepTimeout() time.Duration {
	if e.cfg.StepTimeout > 0 {
		return e.cfg.StepTimeout
	}
	return 300 * time.Second
}

// fetchCandidate resolves one candidate to a stored page. The boolean
// return is false (with a nil error) when the fetch was deferred to the
// auth-wait queue or the target genuinely does not exist, both of which
// are normal outcomes that simply contribute nothing to this round.
func (e *Executor) fetchCandidate(ctx context.Context, taskID, searchID string, cand Candidate) (store.Page, []byte, bool, error) {
	if cand.DOI != "" && cand.URL == "" {
		return e.fetchAcademicAbstract(taskID, cand)
	}

	canonicalURL, err := fetch.Canonicalize(cand.URL)
	if err != nil {
		return store.Page{}, nil, false, fmt.Errorf("canonicalize %s: %w", cand.URL, err)
	}
	domain, err := hostOf(canonicalURL)
	if err != nil {
		return store.Page{}, nil, false, err
	}

	req := fetch.Request{URL: canonicalURL}
	if session, ok := e.authq.SessionFor(domain); ok {
		req.Cookies = session
	}

	job := scheduler.Job{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Kind:   scheduler.KindFetch,
		Slot:   scheduler.SlotNetworkClient,
		Domain: domain,
		Run: func(jctx context.Context) (interface{}, error) {
			outcome, _, runErr := e.fetcher.Run(jctx, req)
			if runErr != nil {
				return nil, &scheduler.FatalError{Err: runErr}
			}
			if outcome.Kind == fetch.OutcomeTransientError {
				return nil, &scheduler.TransientError{Err: outcome.Cause}
			}
			if outcome.Kind == fetch.OutcomeBlocked && outcome.BlockKind == fetch.BlockRateLimited {
				return nil, &scheduler.RateLimitError{Provider: domain, Err: fmt.Errorf("rate limited")}
			}
			return outcome, nil
		},
	}

	handle, err := e.sched.Submit(job)
	if err != nil {
		return store.Page{}, nil, false, err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return store.Page{}, nil, false, err
	}
	if result.Err != nil {
		_ = e.pol.RecordFailure(domain, policy.FailureOther)
		return store.Page{}, nil, false, result.Err
	}

	outcome, ok := result.Value.(fetch.Outcome)
	if !ok {
		return store.Page{}, nil, false, fmt.Errorf("fetch job returned unexpected value type")
	}

	return e.handleFetchOutcome(taskID, searchID, domain, canonicalURL, outcome)
}

func (e *Executor) fetchAcademicAbstract(taskID string, cand Candidate) (store.Page, []byte, bool, error) {
	if _, err := e.st.GetPageByDOI(cand.DOI); err == nil {
		// Already ingested in a prior round; nothing new to extract.
		return store.Page{}, nil, false, nil
	}

	page := store.Page{
		ID:          uuid.NewString(),
		URL:         cand.URL,
		Domain:      "doi.org",
		ContentType: "text/plain; charset=abstract-only",
		FetchedAt:   time.Now().UTC(),
		Trust:       store.TrustAcademic,
		CanonicalID: cand.DOI,
		DOI:         cand.DOI,
	}
	if err := e.st.UpsertPage(page); err != nil {
		return store.Page{}, nil, false, err
	}
	if err := e.st.UpsertWork(store.Work{CanonicalID: cand.DOI, DOI: cand.DOI}); err != nil {
		return store.Page{}, nil, false, err
	}
	abstract := cand.Reason
	if abstract == "" {
		abstract = cand.DOI
	}
	return page, []byte(abstract), true, nil
}

func (e *Executor) handleFetchOutcome(taskID, searchID, domain, canonicalURL string, outcome fetch.Outcome) (store.Page, []byte, bool, error) {
	switch outcome.Kind {
	case fetch.OutcomeOK:
		if err := e.pol.RecordSuccess(domain); err != nil {
			logging.PolicyWarn("record success failed for %s: %v", domain, err)
		}
		page := store.Page{
			ID:          uuid.NewString(),
			URL:         canonicalURL,
			Domain:      domain,
			ContentType: outcome.ContentType,
			FetchedAt:   time.Now().UTC(),
			Trust:       e.pol.TrustLevel(domain),
		}
		if doi, isDOI := extractDOI(canonicalURL); isDOI {
			page.DOI = doi
			page.CanonicalID = doi
		}
		if err := e.st.UpsertPage(page); err != nil {
			return store.Page{}, nil, false, err
		}
		if err := e.st.IncrementTaskUsage(taskID, 1, int(outcome.Timings.Total.Seconds()), 0); err != nil {
			logging.PipelineWarn("task %s: failed to record page usage: %v", taskID, err)
		}
		return page, outcome.Bytes, true, nil

	case fetch.OutcomeAuthRequired:
		if _, err := e.authq.Enqueue(taskID, searchID, domain, canonicalURL, store.AuthType(outcome.AuthType)); err != nil {
			return store.Page{}, nil, false, err
		}
		return store.Page{}, nil, false, nil

	case fetch.OutcomeNotFound:
		return store.Page{}, nil, false, nil

	case fetch.OutcomeBlocked:
		kind := policy.FailureOther
		switch outcome.BlockKind {
		case fetch.BlockRateLimited:
			kind = policy.Failure429
		case fetch.BlockForbidden:
			kind = policy.Failure403
		case fetch.BlockChallenge:
			kind = policy.FailureCloudflareChallenge
		}
		if err := e.pol.RecordFailure(domain, kind); err != nil {
			logging.PolicyWarn("record failure failed for %s: %v", domain, err)
		}
		return store.Page{}, nil, false, nil

	default:
		return store.Page{}, nil, false, nil
	}
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Hostname()), nil
}

// extractDOI recovers a DOI from a canonicalized URL path, when present
// (e.g. doi.org/10.xxxx or a publisher page carrying a DOI-shaped segment).
func extractDOI(canonicalURL string) (string, bool) {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return "", false
	}
	if !strings.Contains(u.Host, "doi.org") {
		return "", false
	}
	doi := strings.TrimPrefix(u.Path, "/")
	if doi == "" {
		return "", false
	}
	return doi, true
}

// extractPage submits a CPU-bound extract job and persists the resulting
// fragments.
func (e *Executor) extractPage(ctx context.Context, taskID string, page store.Page, body []byte) ([]store.Fragment, error) {
	job := scheduler.Job{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Kind:   scheduler.KindExtract,
		Slot:   scheduler.SlotCPUNLP,
		Run: func(jctx context.Context) (interface{}, error) {
			result, err := extract.Extract(body, page.ContentType)
			if err != nil {
				return nil, &scheduler.FatalError{Err: err}
			}
			return result, nil
		},
	}
	handle, err := e.sched.Submit(job)
	if err != nil {
		return nil, err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}
	extracted, ok := result.Value.(extract.Result)
	if !ok {
		return nil, fmt.Errorf("extract job returned unexpected value type")
	}

	fragments := make([]store.Fragment, 0, len(extracted.Fragments))
	for _, f := range extracted.Fragments {
		f.PageID = page.ID
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if err := e.st.CreateFragment(f); err != nil {
			logging.PipelineWarn("task %s: failed to persist fragment for page %s: %v", taskID, page.ID, err)
			continue
		}
		fragments = append(fragments, f)
	}
	return fragments, nil
}

// rankFragments embeds the query and every fragment, blends BM25 with
// cosine similarity, and returns the top-k fragments to feed the reranker.
// The embed and rerank calls are submitted through the scheduler's gpu
// slot (not called on the gateway directly) so the GPU admission semaphore
// and LLM-time budget guard apply to them the same way they apply to
// extract_claims and NLI, per spec §4.1/§5.
func (e *Executor) rankFragments(ctx context.Context, taskID, queryText string, fragments []store.Fragment) ([]RankedFragment, error) {
	docs := make(map[string]string, len(fragments))
	for _, f := range fragments {
		docs[f.ID] = f.TextContent
	}
	bm25 := BM25Scores(queryText, docs)

	queryVec, err := e.embed(ctx, taskID, queryText, true)
	if err != nil {
		return nil, err
	}

	cosine := make(map[string]float64, len(fragments))
	for _, f := range fragments {
		vec, embErr := e.embed(ctx, taskID, f.TextContent, false)
		if embErr != nil {
			continue
		}
		cosine[f.ID] = cosineSimilarity32(queryVec, vec)
		if storeErr := e.st.StoreEmbedding(store.EmbeddingRow{TargetID: f.ID, TargetType: store.TargetFragment, Vector: vec}); storeErr != nil {
			logging.PipelineWarn("failed to store fragment embedding %s: %v", f.ID, storeErr)
		}
	}

	topK := e.cfg.RankTopK
	if topK <= 0 {
		topK = 10
	}
	combined := CombineAndTopK(bm25, cosine, topK)

	rerankDocs := make(map[string]string, len(combined))
	for _, rf := range combined {
		rerankDocs[rf.FragmentID] = docs[rf.FragmentID]
	}
	reranked, err := e.rerank(ctx, taskID, queryText, rerankDocs)
	if err != nil {
		return combined, nil
	}
	out := make([]RankedFragment, 0, len(reranked))
	for _, r := range reranked {
		out = append(out, RankedFragment{FragmentID: r.DocID, Score: r.Score})
	}
	return out, nil
}

// embed submits an embed job to the scheduler's gpu slot and waits for its
// result, rather than calling the gateway directly, so embedding calls are
// subject to the same GPU admission and budget guard as every other
// gpu-slot job (spec §4.1 rules 1 and 4, §8's gpu/browser_headful mutual
// exclusion property).
func (e *Executor) embed(ctx context.Context, taskID, text string, isQuery bool) ([]float32, error) {
	job := scheduler.Job{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Kind:   scheduler.KindEmbed,
		Slot:   scheduler.SlotGPU,
		Run: func(jctx context.Context) (interface{}, error) {
			vec, err := e.gw.Embed(jctx, text, isQuery)
			if err != nil {
				return nil, &scheduler.TransientError{Err: err}
			}
			return vec, nil
		},
	}
	handle, err := e.sched.Submit(job)
	if err != nil {
		return nil, err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}
	vec, ok := result.Value.([]float32)
	if !ok {
		return nil, fmt.Errorf("embed job returned unexpected value type")
	}
	return vec, nil
}

// rerank submits a rerank job to the scheduler's gpu slot, for the same
// reason embed does.
func (e *Executor) rerank(ctx context.Context, taskID, query string, docs map[string]string) ([]inference.RerankResult, error) {
	job := scheduler.Job{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Kind:   scheduler.KindRerank,
		Slot:   scheduler.SlotGPU,
		Run: func(jctx context.Context) (interface{}, error) {
			reranked, err := e.gw.Rerank(jctx, query, docs)
			if err != nil {
				return nil, &scheduler.TransientError{Err: err}
			}
			return reranked, nil
		},
	}
	handle, err := e.sched.Submit(job)
	if err != nil {
		return nil, err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}
	reranked, ok := result.Value.([]inference.RerankResult)
	if !ok {
		return nil, fmt.Errorf("rerank job returned unexpected value type")
	}
	return reranked, nil
}

func fragmentsToRanked(fragments []store.Fragment) []RankedFragment {
	out := make([]RankedFragment, 0, len(fragments))
	for _, f := range fragments {
		out = append(out, RankedFragment{FragmentID: f.ID, Score: 0})
	}
	return out
}

// classifyAndIngest submits an llm_fast job to extract claims from the
// top-ranked fragments, then a verify_nli job per claim against its source
// fragment, and folds each into the evidence graph. It returns the current
// independent-source count and how many claims it ingested.
func (e *Executor) classifyAndIngest(ctx context.Context, taskID string, fragments []store.Fragment, ranked []RankedFragment) (int, int, error) {
	fragmentByID := make(map[string]store.Fragment, len(fragments))
	for _, f := range fragments {
		fragmentByID[f.ID] = f
	}

	topM := e.cfg.ClassifyTopM
	if topM <= 0 {
		topM = 5
	}
	if len(ranked) > topM {
		ranked = ranked[:topM]
	}

	claimCount := 0
	maxIndependent := 0
	for _, rf := range ranked {
		frag, ok := fragmentByID[rf.FragmentID]
		if !ok {
			continue
		}

		claims, err := e.extractClaims(ctx, taskID, frag)
		if err != nil {
			logging.PipelineWarn("task %s: claim extraction failed for fragment %s: %v", taskID, frag.ID, err)
			continue
		}

		for _, claim := range claims {
			nliResult, nerr := e.verifyClaim(ctx, taskID, frag, claim.ClaimText)
			if nerr != nil {
				logging.PipelineWarn("task %s: nli verification failed for fragment %s: %v", taskID, frag.ID, nerr)
				continue
			}
			claimID, _, aerr := e.evg.AddClaimEvidence(taskID, frag.ID, claim.ClaimText, nliResult.Label, nliResult.ConfidenceRaw)
			if aerr != nil {
				logging.PipelineWarn("task %s: failed to add claim evidence: %v", taskID, aerr)
				continue
			}
			claimCount++
			conf, cerr := e.evg.CalculateClaimConfidence(claimID)
			if cerr == nil && conf.IndependentSources > maxIndependent {
				maxIndependent = conf.IndependentSources
			}
		}
	}
	return maxIndependent, claimCount, nil
}

func (e *Executor) extractClaims(ctx context.Context, taskID string, frag store.Fragment) ([]inference.ExtractedClaim, error) {
	job := scheduler.Job{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Kind:   scheduler.KindLLMFast,
		Slot:   scheduler.SlotGPU,
		Run: func(jctx context.Context) (interface{}, error) {
			claims, err := e.gw.ExtractClaims(jctx, frag.TextContent, frag.HeadingContext)
			if err != nil {
				return nil, &scheduler.TransientError{Err: err}
			}
			return claims, nil
		},
	}
	handle, err := e.sched.Submit(job)
	if err != nil {
		return nil, err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}
	claims, ok := result.Value.([]inference.ExtractedClaim)
	if !ok {
		return nil, fmt.Errorf("extract_claims job returned unexpected value type")
	}
	return claims, nil
}

func (e *Executor) verifyClaim(ctx context.Context, taskID string, frag store.Fragment, claimText string) (inference.NLIResult, error) {
	job := scheduler.Job{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Kind:   scheduler.KindVerifyNLI,
		Slot:   scheduler.SlotGPU,
		Run: func(jctx context.Context) (interface{}, error) {
			res, err := e.gw.NLI(jctx, frag.TextContent, claimText)
			if err != nil {
				return nil, &scheduler.TransientError{Err: err}
			}
			return res, nil
		},
	}
	handle, err := e.sched.Submit(job)
	if err != nil {
		return inference.NLIResult{}, err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return inference.NLIResult{}, err
	}
	if result.Err != nil {
		return inference.NLIResult{}, result.Err
	}
	res, ok := result.Value.(inference.NLIResult)
	if !ok {
		return inference.NLIResult{}, fmt.Errorf("nli job returned unexpected value type")
	}
	return res, nil
}

// expandCitations submits a background citation_graph job. It never blocks
// the owning search: failures (including hitting the per-task iteration
// cap) are logged, not propagated.
func (e *Executor) expandCitations(ctx context.Context, taskID, doi string) {
	job := scheduler.Job{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Kind:   scheduler.KindCitationGraph,
		Slot:   scheduler.SlotNetworkClient,
		Domain: "doi.org",
		Run: func(jctx context.Context) (interface{}, error) {
			refs, err := e.citations.Expand(jctx, taskID, doi)
			if err != nil {
				return nil, err
			}
			return refs, nil
		},
	}
	handle, err := e.sched.Submit(job)
	if err != nil {
		logging.PipelineWarn("task %s: failed to submit citation expansion for %s: %v", taskID, doi, err)
		return
	}
	go func() {
		// Detached from the caller's ctx: citation expansion outlives the
		// RunSearch call that triggered it, per spec §4.7's "runs in the
		// background, never blocks the owning search".
		result, waitErr := handle.Wait(context.Background())
		if waitErr != nil {
			logging.PipelineDebug("task %s: citation expansion for %s stopped: %v", taskID, doi, waitErr)
			return
		}
		if result.Err != nil {
			logging.PipelineDebug("task %s: citation expansion for %s failed: %v", taskID, doi, result.Err)
			return
		}
		refs, _ := result.Value.([]Candidate)
		fromPage, err := e.st.GetPageByDOI(doi)
		if err != nil {
			return
		}
		for _, ref := range refs {
			if ref.DOI == "" {
				continue
			}
			toPage, perr := e.st.GetPageByDOI(ref.DOI)
			if perr != nil {
				continue
			}
			if _, err := e.evg.AddCitation(fromPage.ID, toPage.ID, ref.Reason); err != nil {
				logging.PipelineWarn("task %s: failed to record citation %s -> %s: %v", taskID, fromPage.ID, toPage.ID, err)
			}
		}
	}()
}

// FinalizePartial records the final status of a search whose RunSearch
// ended in an error (the control surface's queue_targets goroutine is its
// only caller): a search not already satisfied or exhausted becomes partial.
func (e *Executor) FinalizePartial(taskID string, search store.Search) error {
	status := task.FinalizeAsPartial(search.Status)
	return e.tasks.FinishSearch(taskID, search.ID, status, search.Metrics)
}
