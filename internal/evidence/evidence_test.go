package evidence

import (
	"path/filepath"
	"testing"
	"time"

	"codenerd/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestEvidence(t *testing.T) (*Graph, *store.Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "evidence-test.db")
	st, err := store.Open(dbPath, 8)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	taskID := uuid.NewString()
	require.NoError(t, st.CreateTask(store.Task{
		ID:        taskID,
		Hypothesis: "test hypothesis",
		Status:    store.TaskExploring,
		CreatedAt: time.Now().UTC(),
	}))

	return New(st), st, taskID
}

func makeFragment(t *testing.T, st *store.Store, domain string) string {
	t.Helper()
	pageID := uuid.NewString()
	require.NoError(t, st.UpsertPage(store.Page{
		ID:          pageID,
		URL:         "https://" + domain + "/" + uuid.NewString(),
		Domain:      domain,
		ContentType: "text/html",
		FetchedAt:   time.Now().UTC(),
		Trust:       store.TrustUnverified,
	}))

	fragID := uuid.NewString()
	require.NoError(t, st.CreateFragment(store.Fragment{
		ID:           fragID,
		PageID:       pageID,
		TextContent:  "some fragment text",
		FragmentType: store.FragmentParagraph,
	}))
	return fragID
}

func TestAddClaimEvidence_CreatesClaimOnFirstCall(t *testing.T) {
	g, st, taskID := newTestEvidence(t)
	frag := makeFragment(t, st, "a.example")

	claimID, edgeID, err := g.AddClaimEvidence(taskID, frag, "water boils at 100 celsius at sea level", store.NLISupports, 0.9)
	require.NoError(t, err)
	require.NotEmpty(t, claimID)
	require.NotEmpty(t, edgeID)

	claim, err := st.GetClaim(claimID)
	require.NoError(t, err)
	require.Equal(t, taskID, claim.TaskID)
}

func TestAddClaimEvidence_NearDuplicateReusesClaim(t *testing.T) {
	g, st, taskID := newTestEvidence(t)
	frag1 := makeFragment(t, st, "a.example")
	frag2 := makeFragment(t, st, "b.example")

	claimID1, _, err := g.AddClaimEvidence(taskID, frag1, "the eiffel tower is in paris france", store.NLISupports, 0.9)
	require.NoError(t, err)

	claimID2, _, err := g.AddClaimEvidence(taskID, frag2, "The Eiffel Tower is in Paris, France today.", store.NLISupports, 0.8)
	require.NoError(t, err)

	require.Equal(t, claimID1, claimID2)

	claims, err := st.ListClaimsByTask(taskID)
	require.NoError(t, err)
	require.Len(t, claims, 1)
}

func TestAddClaimEvidence_IsIdempotent(t *testing.T) {
	g, st, taskID := newTestEvidence(t)
	frag := makeFragment(t, st, "a.example")

	claimID1, edgeID1, err := g.AddClaimEvidence(taskID, frag, "the sky appears blue due to rayleigh scattering", store.NLISupports, 0.9)
	require.NoError(t, err)

	claimID2, edgeID2, err := g.AddClaimEvidence(taskID, frag, "the sky appears blue due to rayleigh scattering", store.NLISupports, 0.9)
	require.NoError(t, err)

	require.Equal(t, claimID1, claimID2)
	require.Equal(t, edgeID1, edgeID2)

	edges, err := st.ListEdgesToClaim(claimID1)
	require.NoError(t, err)
	require.Len(t, edges, 1)
}

func TestCalculateClaimConfidence_BayesianAggregationWithNeutrals(t *testing.T) {
	g, st, taskID := newTestEvidence(t)

	// Two fragments on the same page (same canonical source) collapse to
	// one independent source; two more on distinct domains plus one
	// refuting source.
	pageID := uuid.NewString()
	require.NoError(t, st.UpsertPage(store.Page{
		ID: pageID, URL: "https://dup.example/a", Domain: "dup.example",
		ContentType: "text/html", FetchedAt: time.Now().UTC(), Trust: store.TrustUnverified,
	}))
	fragDup1 := uuid.NewString()
	require.NoError(t, st.CreateFragment(store.Fragment{ID: fragDup1, PageID: pageID, TextContent: "x", FragmentType: store.FragmentParagraph}))
	fragDup2 := uuid.NewString()
	require.NoError(t, st.CreateFragment(store.Fragment{ID: fragDup2, PageID: pageID, TextContent: "y", FragmentType: store.FragmentParagraph}))

	fragB := makeFragment(t, st, "b.example")
	fragC := makeFragment(t, st, "c.example")

	claimText := "vaccines reduce transmission of the targeted virus"
	claimID, _, err := g.AddClaimEvidence(taskID, fragDup1, claimText, store.NLISupports, 0.9)
	require.NoError(t, err)
	_, _, err = g.AddClaimEvidence(taskID, fragDup2, claimText, store.NLISupports, 0.8)
	require.NoError(t, err)
	_, _, err = g.AddClaimEvidence(taskID, fragB, claimText, store.NLISupports, 0.7)
	require.NoError(t, err)
	_, _, err = g.AddClaimEvidence(taskID, fragC, claimText, store.NLIRefutes, 0.85)
	require.NoError(t, err)

	conf, err := g.CalculateClaimConfidence(claimID)
	require.NoError(t, err)

	require.Equal(t, 3, conf.IndependentSources) // pageID, b.example, c.example
	require.Equal(t, store.ConfidenceBayesian, conf.ConfidenceSource)
	require.Greater(t, conf.BayesConfidence, 0.5)

	contradictions, err := g.FindContradictions(taskID)
	require.NoError(t, err)
	require.Len(t, contradictions, 1)
	require.Equal(t, claimID, contradictions[0].ClaimID)
}

func TestCalculateClaimConfidence_FallsBackToLLMConfidenceWhenOnlyNeutralEdges(t *testing.T) {
	g, st, taskID := newTestEvidence(t)
	frag := makeFragment(t, st, "a.example")

	claimID, edgeID, err := g.AddClaimEvidence(taskID, frag, "an unverified neutral claim about nothing in particular", store.NLINeutral, 0.4)
	require.NoError(t, err)
	require.NotEmpty(t, edgeID)

	conf, err := g.CalculateClaimConfidence(claimID)
	require.NoError(t, err)
	require.Equal(t, store.ConfidenceLLMFallback, conf.ConfidenceSource)
	require.Equal(t, 0.5, conf.BayesConfidence)
	require.Equal(t, 0, conf.IndependentSources)
}

func TestAddCitation_RequiresBothPagesToExist(t *testing.T) {
	g, st, _ := newTestEvidence(t)
	_ = st

	pageA := uuid.NewString()
	require.NoError(t, st.UpsertPage(store.Page{
		ID: pageA, URL: "https://a.example/1", Domain: "a.example",
		ContentType: "text/html", FetchedAt: time.Now().UTC(), Trust: store.TrustUnverified,
	}))

	_, err := g.AddCitation(pageA, "does-not-exist", "see section 2")
	require.Error(t, err)

	pageB := uuid.NewString()
	require.NoError(t, st.UpsertPage(store.Page{
		ID: pageB, URL: "https://b.example/1", Domain: "b.example",
		ContentType: "text/html", FetchedAt: time.Now().UTC(), Trust: store.TrustUnverified,
	}))

	edgeID, err := g.AddCitation(pageA, pageB, "see section 2")
	require.NoError(t, err)
	require.NotEmpty(t, edgeID)
}
