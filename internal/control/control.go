// Package control implements the engine's control surface (spec §4.9): the
// single typed request/response boundary a strategist drives the research
// engine through. Every operation returns a Response shaped like the
// teacher's own MCP JSON-RPC envelope (internal/mcp/transport_http.go's
// mcpResponse/mcpError), generalized from a wire transport into an in-process
// call surface and closed over the engine's errs.Kind set instead of raw
// JSON-RPC codes.
package control

import (
	"context"
	"fmt"
	"time"

	"codenerd/internal/authqueue"
	"codenerd/internal/config"
	"codenerd/internal/errs"
	"codenerd/internal/evidence"
	"codenerd/internal/inference"
	"codenerd/internal/logging"
	"codenerd/internal/pipeline"
	"codenerd/internal/policy"
	"codenerd/internal/scheduler"
	"codenerd/internal/store"
	"codenerd/internal/task"
)

// Response is the envelope every control-surface operation returns. OK,
// Code and ErrorID are safe to hand back to a remote caller; Data carries
// the operation's result on success.
type Response struct {
	OK      bool        `json:"ok"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	ErrorID string      `json:"error_id,omitempty"`
}

func ok(data interface{}) Response {
	return Response{OK: true, Data: data}
}

func fail(err error) Response {
	e, matched := errs.As(err)
	if !matched {
		e = errs.Wrap(errs.KindInternal, err)
	}
	logging.ControlError("operation failed: %s", e.Error())
	return Response{OK: false, Code: string(e.Kind), ErrorID: e.ErrorID}
}

// Surface wires every engine component the control operations dispatch
// into. It holds no state of its own beyond these references.
type Surface struct {
	tasks     *task.Manager
	executor  *pipeline.Executor
	evg       *evidence.Graph
	st        *store.Store
	authq     *authqueue.Queue
	pol       *policy.Store
	sched     *scheduler.Scheduler
	gw        *inference.Gateway
	cfg       *config.Config
}

// NewSurface builds the control surface over the engine's already-running
// components.
func NewSurface(tasks *task.Manager, executor *pipeline.Executor, evg *evidence.Graph, st *store.Store,
	authq *authqueue.Queue, pol *policy.Store, sched *scheduler.Scheduler, gw *inference.Gateway, cfg *config.Config) *Surface {
	return &Surface{tasks: tasks, executor: executor, evg: evg, st: st, authq: authq, pol: pol, sched: sched, gw: gw, cfg: cfg}
}

// CreateTask starts a new research task under the given hypothesis and
// budget. The budget is stored as given, with no defaults filled in; the
// scheduler's budget guard treats a zero MaxPages or MaxLLMFraction as no
// limit.
func (s *Surface) CreateTask(hypothesis string, budget store.Budget) Response {
	if hypothesis == "" {
		return fail(errs.New(errs.KindInvalidParams, "hypothesis is required", nil))
	}
	tk, err := s.tasks.CreateTask(hypothesis, budget)
	if err != nil {
		return fail(err)
	}
	return ok(tk)
}

// TargetInput is the wire shape of one queue_targets entry, decoded into a
// pipeline.Target before validation.
type TargetInput struct {
	Kind   string `json:"kind"`
	Text   string `json:"text,omitempty"`
	URL    string `json:"url,omitempty"`
	DOI    string `json:"doi,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (t TargetInput) toTarget() pipeline.Target {
	return pipeline.Target{
		Kind:   pipeline.TargetKind(t.Kind),
		Text:   t.Text,
		URL:    t.URL,
		DOI:    t.DOI,
		Reason: t.Reason,
	}
}

// QueueTargets validates and enqueues one or more strategist-supplied
// targets for a task, starting a search per target and driving it through
// the pipeline executor in the background so the call returns immediately.
// Per spec §4.9, a malformed target fails the whole batch before any search
// is created — partial enqueuing would leave the task in an ambiguous state.
func (s *Surface) QueueTargets(taskID string, inputs []TargetInput) Response {
	if taskID == "" {
		return fail(errs.New(errs.KindInvalidParams, "task_id is required", nil))
	}
	if len(inputs) == 0 {
		return fail(errs.New(errs.KindInvalidParams, "targets must be non-empty", nil))
	}
	tk, err := s.tasks.GetTask(taskID)
	if err != nil {
		return fail(err)
	}

	targets := make([]pipeline.Target, 0, len(inputs))
	for _, in := range inputs {
		t := in.toTarget()
		if verr := t.Validate(); verr != nil {
			return fail(verr)
		}
		targets = append(targets, t)
	}

	if err := s.tasks.StartExploring(taskID); err != nil {
		return fail(err)
	}

	searchIDs := make([]string, 0, len(targets))
	for _, t := range targets {
		search, err := s.tasks.CreateSearch(taskID, queryTextOf(t))
		if err != nil {
			return fail(err)
		}
		searchIDs = append(searchIDs, search.ID)

		go func(search store.Search, target pipeline.Target) {
			// Detached from the request's context: a queued search outlives the
			// QueueTargets call, per spec §4.9's "queue_targets returns once
			// accepted, not once satisfied."
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Scheduler.PipelineStepTimeout*8)
			defer cancel()
			status, err := s.executor.RunSearch(ctx, taskID, search, target, tk.Budget.MaxPages)
			if err != nil {
				logging.ControlError("search %s for task %s ended in error: %v", search.ID, taskID, err)
				_ = s.executor.FinalizePartial(taskID, search)
				return
			}
			logging.Control("search %s for task %s finished with status %s", search.ID, taskID, status)
		}(search, t)
	}

	return ok(map[string]interface{}{"search_ids": searchIDs})
}

func queryTextOf(t pipeline.Target) string {
	switch t.Kind {
	case pipeline.TargetURL:
		return t.URL
	case pipeline.TargetDOI:
		return t.DOI
	default:
		return t.Text
	}
}

// QueueReferenceCandidates whitelists or blacklists rows from the citation
// candidate view a prior search's citation expansion produced, per spec
// §4.9. There is no standing "reference candidate view" table in this
// engine (see DESIGN.md open-question decisions): include_ids/exclude_ids
// are DOI strings, and an included DOI is routed straight through the
// pipeline's DOI fast path as a new target, the same entry point queue_targets
// uses for a TargetDOI. dry_run only reports what would be queued.
func (s *Surface) QueueReferenceCandidates(taskID string, includeIDs, excludeIDs []string, dryRun bool) Response {
	if taskID == "" {
		return fail(errs.New(errs.KindInvalidParams, "task_id is required", nil))
	}
	if _, err := s.tasks.GetTask(taskID); err != nil {
		return fail(err)
	}

	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	accepted := make([]string, 0, len(includeIDs))
	for _, doi := range includeIDs {
		if doi == "" || excluded[doi] {
			continue
		}
		accepted = append(accepted, doi)
	}

	if dryRun {
		return ok(map[string]interface{}{"would_queue": accepted})
	}

	inputs := make([]TargetInput, 0, len(accepted))
	for _, doi := range accepted {
		inputs = append(inputs, TargetInput{Kind: string(pipeline.TargetDOI), DOI: doi, Reason: "citation candidate"})
	}
	if len(inputs) == 0 {
		return ok(map[string]interface{}{"search_ids": []string{}})
	}
	return s.QueueTargets(taskID, inputs)
}

// StatusDetail selects how much of get_status's payload is populated, per
// spec §4.9's detail ∈ {summary, full}.
type StatusDetail string

const (
	StatusSummary StatusDetail = "summary"
	StatusFull    StatusDetail = "full"
)

// GetStatus reports a task's budget usage, its searches, and what it is
// currently waiting on. detail=summary (the default, used when detail is
// empty) returns milestones and counts only; detail=full additionally
// includes the task's searches and outstanding warnings.
func (s *Surface) GetStatus(taskID string, detail StatusDetail) Response {
	if taskID == "" {
		return fail(errs.New(errs.KindInvalidParams, "task_id is required", nil))
	}
	if detail == "" {
		detail = StatusSummary
	}
	if detail != StatusSummary && detail != StatusFull {
		return fail(errs.New(errs.KindInvalidParams, fmt.Sprintf("unknown detail %q", detail), nil))
	}

	tk, err := s.tasks.GetTask(taskID)
	if err != nil {
		return fail(err)
	}
	searches, err := s.st.ListSearches(taskID)
	if err != nil {
		return fail(errs.Wrap(errs.KindInternal, err))
	}
	waiting, err := s.authq.WaitingFor(taskID)
	if err != nil {
		return fail(errs.Wrap(errs.KindInternal, err))
	}
	pendingTotal, err := s.authq.Summary()
	if err != nil {
		return fail(errs.Wrap(errs.KindInternal, err))
	}

	searchesDone := 0
	for _, srch := range searches {
		if srch.Status != store.SearchQueued && srch.Status != store.SearchRunning {
			searchesDone++
		}
	}
	targetQueueDrained := searchesDone == len(searches)

	phaseCounts := s.sched.PhaseCounts(taskID)
	jobCounts := map[string]int{
		"exploration":  phaseCounts[scheduler.PhaseExploration],
		"verification": phaseCounts[scheduler.PhaseVerification],
		"citation":     phaseCounts[scheduler.PhaseCitation],
	}

	// nli_verification_done: every search this task has queued has reached a
	// terminal status and no verify_nli job for it is still in flight, so no
	// further claim/NLI pairs are forthcoming this round.
	nliVerificationDone := targetQueueDrained && jobCounts["verification"] == 0
	// citation_chase_ready: the primary exploration/verification passes have
	// settled and every citation_graph expansion job this task fired has
	// either completed or failed, so query_view("open_domains"/reference
	// candidates) reflects the task's full citation frontier for this round.
	citationChaseReady := nliVerificationDone && jobCounts["citation"] == 0

	data := map[string]interface{}{
		"task":                     tk,
		"target_queue_drained":     targetQueueDrained,
		"nli_verification_done":    nliVerificationDone,
		"citation_chase_ready":     citationChaseReady,
		"job_counts":               jobCounts,
		"waiting_for_auth":         waiting,
		"auth_queue_pending_total": pendingTotal,
	}

	if detail == StatusFull {
		data["searches"] = searches
		if es, found := s.tasks.Registry().Get(taskID); found {
			data["warnings"] = es.Warnings()
		} else {
			data["warnings"] = []string{}
		}
	}

	return ok(data)
}

// StopTask pauses or fails a task and, best-effort, drains the scheduler's
// queued work for it within the requested scope.
func (s *Surface) StopTask(taskID string, graceful bool, scope task.StopScope) Response {
	if taskID == "" {
		return fail(errs.New(errs.KindInvalidParams, "task_id is required", nil))
	}
	if err := s.tasks.StopTask(taskID, graceful, scope); err != nil {
		return fail(err)
	}

	drainScope := scheduler.DrainSearchQueueOnly
	if scope == task.StopScopeAllJobs {
		drainScope = scheduler.DrainAllJobs
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.sched.Drain(ctx, taskID, drainScope); err != nil {
		// Draining is best-effort cleanup; the task's status is already
		// recorded, so a drain timeout doesn't fail the call.
		logging.ControlError("drain after stop_task(%s) returned: %v", taskID, err)
	}
	return ok(map[string]interface{}{"task_id": taskID, "status": "stopped"})
}

// VectorSearch embeds a free-text query and returns its nearest stored
// fragments or claims.
func (s *Surface) VectorSearch(ctx context.Context, queryText string, topK int, targetType store.EmbeddingTargetType) Response {
	if queryText == "" {
		return fail(errs.New(errs.KindInvalidParams, "query text is required", nil))
	}
	if topK <= 0 {
		topK = 10
	}
	vec, err := s.gw.Embed(ctx, queryText, true)
	if err != nil {
		return fail(errs.Wrap(errs.KindPipelineError, err))
	}
	results, err := s.st.VectorSearch(vec, targetType, topK)
	if err != nil {
		return fail(errs.Wrap(errs.KindInternal, err))
	}
	return ok(results)
}

// viewFunc renders one named, read-only view over the store for a task.
type viewFunc func(s *Surface, taskID string, limit int) (interface{}, error)

// views is the engine's closed set of named_view templates for query_view,
// per spec §4.9. There is no generic ad-hoc query path: every view is a
// fixed, auditable projection over existing store/policy/authqueue reads.
var views = map[string]viewFunc{
	"claims_by_confidence": func(s *Surface, taskID string, limit int) (interface{}, error) {
		claims, err := s.st.ListClaimsByTask(taskID)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(claims) > limit {
			claims = claims[:limit]
		}
		return claims, nil
	},
	"contradictions": func(s *Surface, taskID string, limit int) (interface{}, error) {
		confs, err := s.evg.FindContradictions(taskID)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(confs) > limit {
			confs = confs[:limit]
		}
		return confs, nil
	},
	"open_domains": func(s *Surface, taskID string, limit int) (interface{}, error) {
		domains, err := s.pol.ListOpenDomains()
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(domains) > limit {
			domains = domains[:limit]
		}
		return domains, nil
	},
	"auth_queue_pending": func(s *Surface, taskID string, limit int) (interface{}, error) {
		items, err := s.st.ListAuthQueueByTask(taskID)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}
		return items, nil
	},
}

// QueryView renders one of the engine's named read-only views.
func (s *Surface) QueryView(viewName, taskID string, limit int) Response {
	fn, known := views[viewName]
	if !known {
		return fail(errs.New(errs.KindInvalidParams, fmt.Sprintf("unknown view %q", viewName), nil))
	}
	data, err := fn(s, taskID, limit)
	if err != nil {
		return fail(errs.Wrap(errs.KindInternal, err))
	}
	return ok(data)
}

// ResolveAuth resolves, skips, or fails a pending auth-wait item or an
// entire domain's worth of them.
func (s *Surface) ResolveAuth(scope authqueue.Scope, key string, action authqueue.Action, sessionJSON string) Response {
	if key == "" {
		return fail(errs.New(errs.KindInvalidParams, "key is required", nil))
	}
	if err := s.authq.ResolveAuth(scope, key, action, sessionJSON); err != nil {
		return fail(err)
	}
	return ok(map[string]interface{}{"resolved": key})
}

// GetAuthQueue reports pending auth-wait items, scoped to a task if given
// or the whole engine otherwise.
func (s *Surface) GetAuthQueue(taskID string) Response {
	if taskID != "" {
		items, err := s.st.ListAuthQueueByTask(taskID)
		if err != nil {
			return fail(errs.Wrap(errs.KindInternal, err))
		}
		return ok(items)
	}
	items, err := s.st.ListAllPendingAuthQueue()
	if err != nil {
		return fail(errs.Wrap(errs.KindInternal, err))
	}
	return ok(items)
}

// Feedback records ground-truth correctness for one adopted claim, feeding
// the calibrator's sample set and letting a strategist reverse an adoption
// decision the new evidence contradicts.
func (s *Surface) Feedback(claimID string, actualCorrect bool, note string) Response {
	if claimID == "" {
		return fail(errs.New(errs.KindInvalidParams, "claim_id is required", nil))
	}
	claim, err := s.st.GetClaim(claimID)
	if err != nil {
		return fail(errs.Wrap(errs.KindTaskNotFound, err))
	}

	actual := 0.0
	if actualCorrect {
		actual = 1.0
	}
	sample := store.CalibrationSample{
		Source:    "nli",
		Predicted: claim.BayesConfidence,
		Actual:    actual,
		Context:   note,
	}
	if err := s.st.AddCalibrationSample(sample); err != nil {
		return fail(errs.Wrap(errs.KindInternal, err))
	}

	if !actualCorrect && claim.AdoptionStatus == store.ClaimAdopted {
		if err := s.st.SetClaimAdoptionStatus(claimID, store.ClaimRejected); err != nil {
			return fail(errs.Wrap(errs.KindInternal, err))
		}
	} else if actualCorrect && claim.AdoptionStatus == store.ClaimRejected {
		if err := s.st.SetClaimAdoptionStatus(claimID, store.ClaimRestored); err != nil {
			return fail(errs.Wrap(errs.KindInternal, err))
		}
	}
	return ok(map[string]interface{}{"claim_id": claimID, "recorded": true})
}

// CalibrationMetrics reports a calibration source's version history and
// sample count.
func (s *Surface) CalibrationMetrics(source string) Response {
	if source == "" {
		return fail(errs.New(errs.KindInvalidParams, "source is required", nil))
	}
	versions, err := s.st.ListCalibrationVersions(source)
	if err != nil {
		return fail(errs.Wrap(errs.KindCalibrationError, err))
	}
	count, err := s.st.CountCalibrationSamples(source)
	if err != nil {
		return fail(errs.Wrap(errs.KindCalibrationError, err))
	}
	return ok(map[string]interface{}{"versions": versions, "sample_count": count})
}

// CalibrationRollback reactivates a previously fit calibrator version for a
// source, undoing a bad refit.
func (s *Surface) CalibrationRollback(source string, version int) Response {
	if source == "" {
		return fail(errs.New(errs.KindInvalidParams, "source is required", nil))
	}
	if err := inference.RollbackCalibrator(s.st, source, version); err != nil {
		return fail(errs.Wrap(errs.KindCalibrationError, err))
	}
	return ok(map[string]interface{}{"source": source, "active_version": version})
}
