package evidence

import (
	"fmt"
	"time"

	"codenerd/internal/errs"
	"codenerd/internal/logging"
	"codenerd/internal/store"

	"github.com/google/uuid"
)

// independentSourceConfidenceMin is the per-source NLI confidence floor
// required for an edge to count toward independent_sources, per spec §4.6
// ("prevents low-confidence neutrals from inflating").
const independentSourceConfidenceMin = 0.6

// Graph is the evidence-graph façade: claim creation/dedup, citation edges,
// Bayesian confidence aggregation, and contradiction discovery, all mirrored
// through the durable store per spec §4.6.
type Graph struct {
	st *store.Store
}

// New builds an evidence Graph over the durable store.
func New(st *store.Store) *Graph {
	return &Graph{st: st}
}

// Confidence is the computed view returned by CalculateClaimConfidence.
type Confidence struct {
	ClaimID                string
	BayesConfidence        float64
	LLMConfidenceRaw       float64
	ConfidenceSource       store.ClaimConfidenceSource
	IndependentSources     int
	SupportsCount          int
	RefutesCount           int
	NeutralCount           int
	Alpha                  float64
	Beta                   float64
	Evidence               []store.Edge
}

// AddClaimEvidence creates the claim if no near-duplicate already exists
// within the task (simhash over normalized text, threshold ~=0.85), else
// attaches a new fragment->claim edge to the existing claim. It is
// idempotent: calling it twice with the same fragment/claim pairing adds no
// second edge.
func (g *Graph) AddClaimEvidence(taskID, fragmentID, claimText string, nliLabel store.NLILabel, nliConfidenceRaw float64) (claimID, edgeID string, err error) {
	if taskID == "" || fragmentID == "" || claimText == "" {
		return "", "", errs.New(errs.KindInvalidParams, "task_id, fragment_id, and claim_text are required", nil)
	}
	ok, err := g.st.FragmentExists(fragmentID)
	if err != nil {
		return "", "", errs.Wrap(errs.KindInternal, err)
	}
	if !ok {
		return "", "", errs.New(errs.KindInvalidParams, fmt.Sprintf("fragment %s does not exist", fragmentID), nil)
	}

	fp := Simhash(claimText)

	existing, err := g.findNearDuplicateClaim(taskID, fp)
	if err != nil {
		return "", "", err
	}

	now := time.Now().UTC()
	if existing == nil {
		c := store.Claim{
			ID:               uuid.NewString(),
			TaskID:           taskID,
			ClaimText:        claimText,
			LLMConfidenceRaw: nliConfidenceRaw,
			BayesConfidence:  0.5,
			AdoptionStatus:   store.ClaimAdopted,
			ConfidenceSource: store.ConfidenceLLMFallback,
			SimhashValue:     fp,
			CreatedAt:        now,
		}
		if err := g.st.CreateClaim(c); err != nil {
			return "", "", errs.Wrap(errs.KindInternal, err)
		}
		existing = &c
	}

	if dup, err := g.edgeAlreadyExists(existing.ID, fragmentID); err != nil {
		return "", "", err
	} else if dup != "" {
		logging.Evidence("add_claim_evidence: edge already exists for fragment %s -> claim %s, skipping", fragmentID, existing.ID)
		if _, err := g.CalculateClaimConfidence(existing.ID); err != nil {
			return existing.ID, dup, err
		}
		return existing.ID, dup, nil
	}

	e := store.Edge{
		ID:               uuid.NewString(),
		SourceID:         fragmentID,
		SourceType:       store.NodeFragment,
		TargetID:         existing.ID,
		TargetType:       store.NodeClaim,
		Relation:         store.RelationFragmentClaim,
		NLILabel:         nliLabel,
		NLIConfidenceRaw: nliConfidenceRaw,
		CreatedAt:        now,
	}
	if err := g.st.CreateEdge(e); err != nil {
		return "", "", errs.Wrap(errs.KindInternal, err)
	}
	logging.Evidence("add_claim_evidence: task=%s claim=%s edge=%s label=%s", taskID, existing.ID, e.ID, nliLabel)

	if _, err := g.CalculateClaimConfidence(existing.ID); err != nil {
		return existing.ID, e.ID, err
	}
	return existing.ID, e.ID, nil
}

// AddCitation adds a cites edge between two pages if both exist.
func (g *Graph) AddCitation(fromPage, toPage, context string) (string, error) {
	if fromPage == "" || toPage == "" {
		return "", errs.New(errs.KindInvalidParams, "from_page and to_page are required", nil)
	}
	for _, id := range []string{fromPage, toPage} {
		ok, err := g.st.PageExists(id)
		if err != nil {
			return "", errs.Wrap(errs.KindInternal, err)
		}
		if !ok {
			return "", errs.New(errs.KindInvalidParams, fmt.Sprintf("page %s does not exist", id), nil)
		}
	}

	e := store.Edge{
		ID:              uuid.NewString(),
		SourceID:        fromPage,
		SourceType:      store.NodePage,
		TargetID:        toPage,
		TargetType:      store.NodePage,
		Relation:        store.RelationCites,
		CitationContext: context,
		CreatedAt:       time.Now().UTC(),
	}
	if err := g.st.CreateEdge(e); err != nil {
		return "", errs.Wrap(errs.KindInternal, err)
	}
	logging.Evidence("add_citation: %s -> %s", fromPage, toPage)
	return e.ID, nil
}

// CalculateClaimConfidence recomputes and persists a claim's Bayesian
// posterior over its incoming edges, per spec §4.6's aggregation rules.
func (g *Graph) CalculateClaimConfidence(claimID string) (Confidence, error) {
	claim, err := g.st.GetClaim(claimID)
	if err != nil {
		return Confidence{}, errs.Wrap(errs.KindInternal, err)
	}

	edges, err := g.st.ListEdgesToClaim(claimID)
	if err != nil {
		return Confidence{}, errs.Wrap(errs.KindInternal, err)
	}

	// Collapse duplicate edges from the same canonical source, keeping the
	// max confidence per (source, label) pair — spec: "duplicate edges
	// from the same canonical source collapse (keep max confidence)".
	type sourceLabel struct {
		source string
		label  store.NLILabel
	}
	best := make(map[sourceLabel]store.Edge)
	for _, e := range edges {
		src, err := g.canonicalSourceForFragment(e.SourceID)
		if err != nil {
			return Confidence{}, err
		}
		key := sourceLabel{source: src, label: e.NLILabel}
		if cur, ok := best[key]; !ok || e.NLIConfidenceRaw > cur.NLIConfidenceRaw {
			best[key] = e
		}
	}

	independentSources := make(map[string]bool)
	var supports, refutes, neutral int
	var alpha, beta float64 = 1, 1
	collapsed := make([]store.Edge, 0, len(best))
	for key, e := range best {
		collapsed = append(collapsed, e)
		switch e.NLILabel {
		case store.NLISupports:
			supports++
			alpha += e.NLIConfidenceRaw
			if e.NLIConfidenceRaw >= independentSourceConfidenceMin {
				independentSources[key.source] = true
			}
		case store.NLIRefutes:
			refutes++
			beta += e.NLIConfidenceRaw
			if e.NLIConfidenceRaw >= independentSourceConfidenceMin {
				independentSources[key.source] = true
			}
		default:
			neutral++
		}
	}

	conf := Confidence{
		ClaimID:            claimID,
		LLMConfidenceRaw:   claim.LLMConfidenceRaw,
		IndependentSources: len(independentSources),
		SupportsCount:      supports,
		RefutesCount:       refutes,
		NeutralCount:       neutral,
		Alpha:              alpha,
		Beta:               beta,
		Evidence:           collapsed,
	}

	if supports == 0 && refutes == 0 {
		conf.BayesConfidence = 0.5
		conf.ConfidenceSource = store.ConfidenceLLMFallback
	} else {
		conf.BayesConfidence = alpha / (alpha + beta)
		conf.ConfidenceSource = store.ConfidenceBayesian
	}

	if err := g.st.UpdateClaimConfidence(claimID, conf.BayesConfidence, conf.ConfidenceSource); err != nil {
		return Confidence{}, errs.Wrap(errs.KindInternal, err)
	}
	return conf, nil
}

// FindContradictions returns every claim in a task with at least one
// supporting and one refuting edge.
func (g *Graph) FindContradictions(taskID string) ([]Confidence, error) {
	ids, err := g.st.ListClaimsWithContradictions(taskID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err)
	}
	out := make([]Confidence, 0, len(ids))
	for _, id := range ids {
		c, err := g.CalculateClaimConfidence(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// findNearDuplicateClaim scans every existing claim of the task for a
// simhash near-duplicate of fp with the exact Hamming-distance check. A
// numeric range pre-filter would miss fingerprints that differ in high bits.
func (g *Graph) findNearDuplicateClaim(taskID string, fp uint64) (*store.Claim, error) {
	candidates, err := g.st.ListClaimsByTask(taskID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err)
	}
	for _, c := range candidates {
		if IsNearDuplicate(c.SimhashValue, fp) {
			cc := c
			return &cc, nil
		}
	}
	return nil, nil
}

// edgeAlreadyExists reports the edge id (if any) already connecting
// fragmentID to claimID, enforcing add_claim_evidence's idempotence.
func (g *Graph) edgeAlreadyExists(claimID, fragmentID string) (string, error) {
	edges, err := g.st.ListEdgesToClaim(claimID)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err)
	}
	for _, e := range edges {
		if e.SourceID == fragmentID {
			return e.ID, nil
		}
	}
	return "", nil
}

// canonicalSourceForFragment resolves a fragment to its owning canonical
// source: a work's canonical_id when its page has one (DOI-identified
// academic source), else the page id itself.
func (g *Graph) canonicalSourceForFragment(fragmentID string) (string, error) {
	frag, err := g.st.GetFragment(fragmentID)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err)
	}
	page, err := g.st.GetPage(frag.PageID)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err)
	}
	if page.CanonicalID != "" {
		return page.CanonicalID, nil
	}
	return page.ID, nil
}
