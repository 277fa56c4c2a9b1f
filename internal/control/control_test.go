package control

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codenerd/internal/authqueue"
	"codenerd/internal/config"
	"codenerd/internal/evidence"
	"codenerd/internal/fetch"
	"codenerd/internal/inference"
	"codenerd/internal/pipeline"
	"codenerd/internal/policy"
	"codenerd/internal/scheduler"
	"codenerd/internal/store"
	"codenerd/internal/task"

	"github.com/stretchr/testify/require"
)

type fakeEmbeddingEngine struct{}

func (e *fakeEmbeddingEngine) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r % 7)
	}
	return v, nil
}

func (e *fakeEmbeddingEngine) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t, isQuery)
	}
	return out, nil
}

func (e *fakeEmbeddingEngine) Dimensions() int { return 4 }
func (e *fakeEmbeddingEngine) Name() string    { return "fake-embed" }

type fakeChatEngine struct{}

func (c *fakeChatEngine) Complete(ctx context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "natural language inference"):
		return `{"label":"supports","confidence":0.9}`, nil
	case strings.Contains(prompt, "Extract the atomic"):
		return `[{"claim_text":"the sample article states a fact","confidence":0.8,"claim_type":"other"}]`, nil
	default:
		return `[]`, nil
	}
}

func (c *fakeChatEngine) Name() string { return "fake-chat" }

type fakeFetcher struct{ outcome fetch.Outcome }

func (f *fakeFetcher) Rung() fetch.Rung { return fetch.RungDirectHTTP }

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Outcome, error) {
	o := f.outcome
	o.FinalURL = req.URL
	return o, nil
}

type fakeResolver struct{}

func (r *fakeResolver) ResolveReferences(ctx context.Context, doi string) ([]pipeline.Candidate, error) {
	return nil, nil
}

var _ inference.EmbeddingEngine = (*fakeEmbeddingEngine)(nil)
var _ inference.ChatEngine = (*fakeChatEngine)(nil)
var _ fetch.Fetcher = (*fakeFetcher)(nil)
var _ pipeline.ReferenceResolver = (*fakeResolver)(nil)

const sampleArticleHTML = `<html><body>
<h1>Sample Article Heading</h1>
<p>This is a long enough paragraph of sample article text meant to clear the minimum fragment length threshold so extraction keeps it as a usable fragment for ranking and classification.</p>
<p>A second paragraph repeats similar filler content to make sure more than one fragment survives extraction and reaches the ranking step for this sample article about a research topic.</p>
</body></html>`

type harness struct {
	st      *store.Store
	sched   *scheduler.Scheduler
	tasks   *task.Manager
	authq   *authqueue.Queue
	evg     *evidence.Graph
	surface *Surface
	cfg     *config.Config
}

func newHarness(t *testing.T, outcome fetch.Outcome) *harness {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "control-test.db")
	st, err := store.Open(dbPath, 4)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	pol := policy.New(st, cfg.Policy)
	sched := scheduler.New(cfg.Scheduler, st, pol)
	t.Cleanup(sched.Close)

	tasks := task.NewManager(st)
	authq := authqueue.New(st, tasks.Registry(), cfg.AuthQueue.StaleAfter)
	evg := evidence.New(st)
	gw := inference.NewGateway(&fakeEmbeddingEngine{}, &fakeChatEngine{}, st, inference.SessionTag("test-session-tag"))
	escalator := fetch.NewEscalator(&fakeFetcher{outcome: outcome})
	citations := pipeline.NewCitationExpander(&fakeResolver{}, cfg.Pipeline.CitationIterationCap)

	executor := pipeline.NewExecutor(sched, st, pol, escalator, gw, evg, tasks, authq, citations, nil, cfg.Pipeline)
	surface := NewSurface(tasks, executor, evg, st, authq, pol, sched, gw, cfg)

	return &harness{st: st, sched: sched, tasks: tasks, authq: authq, evg: evg, surface: surface, cfg: cfg}
}

func TestCreateTask_RejectsEmptyHypothesis(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	resp := h.surface.CreateTask("", store.Budget{MaxPages: 10})
	require.False(t, resp.OK)
	require.Equal(t, "INVALID_PARAMS", resp.Code)
	require.NotEmpty(t, resp.ErrorID)
}

func TestCreateTask_Succeeds(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	resp := h.surface.CreateTask("does X cause Y", store.Budget{MaxPages: 10})
	require.True(t, resp.OK)
	tk, ok := resp.Data.(store.Task)
	require.True(t, ok)
	require.Equal(t, "does X cause Y", tk.Hypothesis)
}

func TestQueueTargets_RejectsUnknownTask(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	resp := h.surface.QueueTargets("no-such-task", []TargetInput{{Kind: "query", Text: "x"}})
	require.False(t, resp.OK)
	require.Equal(t, "TASK_NOT_FOUND", resp.Code)
}

func TestQueueTargets_RejectsInvalidTargetBeforeCreatingAnySearch(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	created := h.surface.CreateTask("bad target batch", store.Budget{MaxPages: 10})
	require.True(t, created.OK)
	tk := created.Data.(store.Task)

	resp := h.surface.QueueTargets(tk.ID, []TargetInput{
		{Kind: "url", URL: "https://example.com/ok"},
		{Kind: "query"}, // missing Text, invalid
	})
	require.False(t, resp.OK)
	require.Equal(t, "INVALID_PARAMS", resp.Code)

	searches, err := h.st.ListSearches(tk.ID)
	require.NoError(t, err)
	require.Empty(t, searches)
}

func TestQueueTargets_RunsSearchInBackgroundAndUpdatesUsage(t *testing.T) {
	okOutcome := fetch.Outcome{
		Kind:        fetch.OutcomeOK,
		Bytes:       []byte(sampleArticleHTML),
		ContentType: "text/html",
		Timings:     fetch.Timings{Total: 50 * time.Millisecond},
	}
	h := newHarness(t, okOutcome)
	created := h.surface.CreateTask("url target task", store.Budget{MaxPages: 10})
	require.True(t, created.OK)
	tk := created.Data.(store.Task)

	resp := h.surface.QueueTargets(tk.ID, []TargetInput{{Kind: "url", URL: "https://example.com/direct"}})
	require.True(t, resp.OK)

	require.Eventually(t, func() bool {
		updated, err := h.tasks.GetTask(tk.ID)
		require.NoError(t, err)
		return updated.PagesUsed >= 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestGetStatus_ReportsAuthQueuePendingCount(t *testing.T) {
	authOutcome := fetch.Outcome{
		Kind:     fetch.OutcomeAuthRequired,
		AuthType: string(store.AuthCloudflare),
		Domain:   "example.com",
	}
	h := newHarness(t, authOutcome)
	created := h.surface.CreateTask("blocked task", store.Budget{MaxPages: 10})
	require.True(t, created.OK)
	tk := created.Data.(store.Task)

	queued := h.surface.QueueTargets(tk.ID, []TargetInput{{Kind: "url", URL: "https://example.com/blocked"}})
	require.True(t, queued.OK)

	require.Eventually(t, func() bool {
		items, err := h.st.ListAuthQueueByTask(tk.ID)
		require.NoError(t, err)
		return len(items) == 1
	}, 5*time.Second, 20*time.Millisecond)

	resp := h.surface.GetStatus(tk.ID, StatusSummary)
	require.True(t, resp.OK)
	data := resp.Data.(map[string]interface{})
	require.Contains(t, data, "nli_verification_done")
	require.Contains(t, data, "citation_chase_ready")
	require.Contains(t, data, "job_counts")
	require.Equal(t, 1, data["auth_queue_pending_total"])
	require.NotContains(t, data, "searches")

	full := h.surface.GetStatus(tk.ID, StatusFull)
	require.True(t, full.OK)
	fullData := full.Data.(map[string]interface{})
	require.Contains(t, fullData, "searches")
	require.Contains(t, fullData, "warnings")
}

func TestGetStatus_RejectsUnknownDetail(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	created := h.surface.CreateTask("detail task", store.Budget{MaxPages: 10})
	require.True(t, created.OK)
	tk := created.Data.(store.Task)

	resp := h.surface.GetStatus(tk.ID, StatusDetail("bogus"))
	require.False(t, resp.OK)
	require.Equal(t, "INVALID_PARAMS", resp.Code)
}

func TestQueryView_RejectsUnknownView(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	resp := h.surface.QueryView("nonexistent_view", "task-1", 10)
	require.False(t, resp.OK)
	require.Equal(t, "INVALID_PARAMS", resp.Code)
}

func TestQueryView_OpenDomains(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	resp := h.surface.QueryView("open_domains", "", 10)
	require.True(t, resp.OK)
}

func TestFeedback_RejectsUnknownClaim(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	resp := h.surface.Feedback("no-such-claim", true, "")
	require.False(t, resp.OK)
	require.Equal(t, "TASK_NOT_FOUND", resp.Code)
}

func TestCalibrationMetrics_EmptySourceReportsZeroSamples(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	resp := h.surface.CalibrationMetrics("nli")
	require.True(t, resp.OK)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, 0, data["sample_count"])
}

func TestCalibrationRollback_RejectsMissingSource(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	resp := h.surface.CalibrationRollback("", 1)
	require.False(t, resp.OK)
	require.Equal(t, "INVALID_PARAMS", resp.Code)
}

func TestGetAuthQueue_EmptyTaskIDReturnsEngineWide(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	resp := h.surface.GetAuthQueue("")
	require.True(t, resp.OK)
}

func TestQueueReferenceCandidates_DryRunReportsWithoutQueuing(t *testing.T) {
	h := newHarness(t, fetch.Outcome{})
	created := h.surface.CreateTask("citation task", store.Budget{MaxPages: 10})
	require.True(t, created.OK)
	tk := created.Data.(store.Task)

	resp := h.surface.QueueReferenceCandidates(tk.ID, []string{"10.1/a", "10.1/b"}, []string{"10.1/b"}, true)
	require.True(t, resp.OK)
	data := resp.Data.(map[string]interface{})
	would := data["would_queue"].([]string)
	require.Equal(t, []string{"10.1/a"}, would)

	searches, err := h.st.ListSearches(tk.ID)
	require.NoError(t, err)
	require.Empty(t, searches)
}
