// Package pipeline implements the per-search state machine of spec §4.7:
// plan, fetch, extract, rank, classify+ingest, citation expansion (deferred),
// finalize. Each step that touches a scarce resource is submitted as a
// scheduler.Job so the slot-based scheduler — not the pipeline — decides
// when it actually runs; the pipeline only drives the sequence and persists
// results through the store, evidence graph, and task packages.
package pipeline

import (
	"context"

	"codenerd/internal/errs"
)

// TargetKind discriminates a queue_targets entry, per spec §4.9: raw strings
// are never accepted, only one of these typed shapes.
type TargetKind string

const (
	TargetQuery TargetKind = "query"
	TargetURL   TargetKind = "url"
	TargetDOI   TargetKind = "doi"
)

// Target is one strategist-supplied unit of work for a search.
type Target struct {
	Kind   TargetKind
	Text   string // TargetQuery
	URL    string // TargetURL
	DOI    string // TargetDOI
	Reason string
}

// Validate rejects a target that doesn't carry the field its Kind requires.
func (t Target) Validate() error {
	switch t.Kind {
	case TargetQuery:
		if t.Text == "" {
			return errs.New(errs.KindInvalidParams, "query target requires text", nil)
		}
	case TargetURL:
		if t.URL == "" {
			return errs.New(errs.KindInvalidParams, "url target requires url", nil)
		}
	case TargetDOI:
		if t.DOI == "" {
			return errs.New(errs.KindInvalidParams, "doi target requires doi", nil)
		}
	default:
		return errs.New(errs.KindInvalidParams, "target kind must be query, url, or doi", nil)
	}
	return nil
}

// Candidate is one URL (or DOI-identified work) a plan step surfaces for the
// fetch step to pursue.
type Candidate struct {
	URL    string
	DOI    string
	Reason string
}

// SearchProvider is a pluggable source of candidates for a query target.
// Two concrete providers exist (browser-based SERP, academic API); both are
// black-box data sources per spec §1's "out of scope" list, wired here only
// through this narrow interface.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}
