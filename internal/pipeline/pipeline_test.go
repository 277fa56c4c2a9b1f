package pipeline

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
	"codenerd/internal/policy"
	"codenerd/internal/scheduler"
	"codenerd/internal/store"
	"codenerd/internal/task"

	"github.com/stretchr/testify/require"
)

// fakeSearchProvider returns a fixed candidate set for every query, so plan
// tests don't depend on network access.
type fakeSearchProvider struct {
	candidates []Candidate
}

func (p *fakeSearchProvider) Search(ctx context.Context, query string) ([]Candidate, error) {
	return p.candidates, nil
}

// fakeFetcher implements fetch.Fetcher with a single canned outcome so the
// escalation ladder never touches the network.
type fakeFetcher struct {
	outcome fetch.Outcome
}

func (f *fakeFetcher) Rung() fetch.Rung { return fetch.RungDirectHTTP }

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Outcome, error) {
	o := f.outcome
	o.FinalURL = req.URL
	return o, nil
}

// fakeEmbeddingEngine returns a short deterministic vector so rank can run
// without a model backend.
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

// fakeChatEngine replies to the gateway's two prompt shapes (NLI,
// extract_claims) by sniffing fixed marker text the real prompts contain.
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

// fakeResolver never finds further references, so citation expansion tests
// stay deterministic without a real DOI registry.
type fakeResolver struct{}

func (r *fakeResolver) ResolveReferences(ctx context.Context, doi string) ([]Candidate, error) {
	return nil, nil
}

var _ inference.EmbeddingEngine = (*fakeEmbeddingEngine)(nil)
var _ inference.ChatEngine = (*fakeChatEngine)(nil)
var _ fetch.Fetcher = (*fakeFetcher)(nil)
var _ ReferenceResolver = (*fakeResolver)(nil)

const sampleArticleHTML = `<html><body>
<h1>Sample Article Heading</h1>
<p>This is a long enough paragraph of sample article text meant to clear the minimum fragment length threshold so extraction keeps it as a usable fragment for ranking and classification.</p>
<p>A second paragraph repeats similar filler content to make sure more than one fragment survives extraction and reaches the ranking step for this sample article about a research topic.</p>
</body></html>`

type harness struct {
	st       *store.Store
	sched    *scheduler.Scheduler
	tasks    *task.Manager
	authq    *authqueue.Queue
	evg      *evidence.Graph
	executor *Executor
	cfg      *config.Config
}

func newHarness(t *testing.T, outcome fetch.Outcome, providers []SearchProvider) *harness {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "pipeline-test.db")
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
	citations := NewCitationExpander(&fakeResolver{}, cfg.Pipeline.CitationIterationCap)

	executor := NewExecutor(sched, st, pol, escalator, gw, evg, tasks, authq, citations, providers, cfg.Pipeline)

	return &harness{st: st, sched: sched, tasks: tasks, authq: authq, evg: evg, executor: executor, cfg: cfg}
}

func (h *harness) newTask(t *testing.T) store.Task {
	t.Helper()
	tk, err := h.tasks.CreateTask("test hypothesis", store.Budget{MaxPages: 50})
	require.NoError(t, err)
	require.NoError(t, h.tasks.StartExploring(tk.ID))
	return tk
}

func TestRunSearch_QueryTargetFetchesExtractsAndIngestsClaim(t *testing.T) {
	okOutcome := fetch.Outcome{
		Kind:        fetch.OutcomeOK,
		Bytes:       []byte(sampleArticleHTML),
		ContentType: "text/html",
		Timings:     fetch.Timings{Total: 100 * time.Millisecond},
	}
	provider := &fakeSearchProvider{candidates: []Candidate{{URL: "https://example.com/article", Reason: "serp"}}}
	h := newHarness(t, okOutcome, []SearchProvider{provider})
	tk := h.newTask(t)

	search, err := h.tasks.CreateSearch(tk.ID, "sample research topic")
	require.NoError(t, err)

	target := Target{Kind: TargetQuery, Text: "sample research topic"}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := h.executor.RunSearch(ctx, tk.ID, search, target, 50)
	require.NoError(t, err)
	require.NotEmpty(t, status)

	updatedTask, err := h.tasks.GetTask(tk.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, updatedTask.PagesUsed, 1)

	claims, err := h.st.ListClaimsByTask(tk.ID)
	require.NoError(t, err)
	require.NotEmpty(t, claims)
}

func TestRunSearch_URLTargetSkipsPlanFanOut(t *testing.T) {
	okOutcome := fetch.Outcome{
		Kind:        fetch.OutcomeOK,
		Bytes:       []byte(sampleArticleHTML),
		ContentType: "text/html",
		Timings:     fetch.Timings{Total: 50 * time.Millisecond},
	}
	h := newHarness(t, okOutcome, nil)
	tk := h.newTask(t)

	search, err := h.tasks.CreateSearch(tk.ID, "https://example.com/direct")
	require.NoError(t, err)

	target := Target{Kind: TargetURL, URL: "https://example.com/direct"}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = h.executor.RunSearch(ctx, tk.ID, search, target, 50)
	require.NoError(t, err)

	updatedTask, err := h.tasks.GetTask(tk.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updatedTask.PagesUsed)
}

func TestRunSearch_AuthRequiredDefersWithoutFailingSearch(t *testing.T) {
	authOutcome := fetch.Outcome{
		Kind:     fetch.OutcomeAuthRequired,
		AuthType: string(store.AuthCloudflare),
		Domain:   "example.com",
	}
	h := newHarness(t, authOutcome, nil)
	tk := h.newTask(t)

	search, err := h.tasks.CreateSearch(tk.ID, "https://example.com/blocked")
	require.NoError(t, err)

	target := Target{Kind: TargetURL, URL: "https://example.com/blocked"}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := h.executor.RunSearch(ctx, tk.ID, search, target, 50)
	require.NoError(t, err)
	require.NotEqual(t, store.SearchFailed, status)

	waiting, err := h.authq.WaitingFor(tk.ID)
	require.NoError(t, err)
	// Not yet stale (staleAfter defaults to 15m), but the item must exist.
	pending, err := h.st.ListAuthQueueByTask(tk.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, store.AuthItemPending, pending[0].Status)
	_ = waiting
}

func TestRunSearch_DOITargetCreatesAbstractOnlyPage(t *testing.T) {
	h := newHarness(t, fetch.Outcome{}, nil)
	tk := h.newTask(t)

	search, err := h.tasks.CreateSearch(tk.ID, "10.1234/example")
	require.NoError(t, err)

	target := Target{Kind: TargetDOI, DOI: "10.1234/example", Reason: "an abstract about a sample finding"}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = h.executor.RunSearch(ctx, tk.ID, search, target, 50)
	require.NoError(t, err)

	page, err := h.st.GetPageByDOI("10.1234/example")
	require.NoError(t, err)
	require.Equal(t, store.TrustAcademic, page.Trust)

	work, err := h.st.GetWorkByDOI("10.1234/example")
	require.NoError(t, err)
	require.Equal(t, "10.1234/example", work.DOI)
}

func TestBM25Scores_RanksExactTermMatchHigher(t *testing.T) {
	docs := map[string]string{
		"a": "quantum computing relies on superposition and entanglement",
		"b": "the recipe calls for flour sugar and butter",
	}
	scores := BM25Scores("quantum entanglement", docs)
	require.Greater(t, scores["a"], scores["b"])
}

func TestCombineAndTopK_RespectsLimit(t *testing.T) {
	bm25 := map[string]float64{"a": 1, "b": 2, "c": 0.5}
	cosine := map[string]float64{"a": 0.9, "b": 0.1, "c": 0.2}
	ranked := CombineAndTopK(bm25, cosine, 2)
	require.Len(t, ranked, 2)
}

func TestCitationExpander_StopsAtIterationCap(t *testing.T) {
	exp := NewCitationExpander(&fakeResolver{}, 1)
	_, err := exp.Expand(context.Background(), "task-1", "10.1/one")
	require.NoError(t, err)
	_, err = exp.Expand(context.Background(), "task-1", "10.1/two")
	require.Error(t, err)
}

func TestTargetValidate_RejectsEmptyFields(t *testing.T) {
	require.Error(t, Target{Kind: TargetQuery}.Validate())
	require.Error(t, Target{Kind: TargetURL}.Validate())
	require.Error(t, Target{Kind: TargetDOI}.Validate())
	require.Error(t, Target{Kind: "bogus"}.Validate())
	require.NoError(t, Target{Kind: TargetQuery, Text: "x"}.Validate())
}
