// Package fetch abstracts document retrieval behind a single Fetcher trait
// with a graduated escalation ladder: direct HTTP, Tor-proxied HTTP, a
// headless browser, a headful browser, and finally an archived snapshot.
// Every rung returns the same FetchOutcome shape so the caller (the
// pipeline executor) never branches on which rung actually served a page.
package fetch

import (
	"context"
	"time"
)

// Rung names one step of the escalation ladder.
type Rung string

const (
	RungDirectHTTP Rung = "direct_http"
	RungTorHTTP    Rung = "tor_http"
	RungHeadless   Rung = "browser_headless"
	RungHeadful    Rung = "browser_headful"
	RungArchive    Rung = "archived_snapshot"
)

// Ladder is the fixed escalation order; index i only runs after index i-1
// has failed with a class that diagnosably warrants escalation.
var Ladder = []Rung{RungDirectHTTP, RungTorHTTP, RungHeadless, RungHeadful, RungArchive}

// BlockKind classifies why a rung refused to serve a page.
type BlockKind string

const (
	BlockRateLimited BlockKind = "rate_limited"
	BlockForbidden   BlockKind = "forbidden"
	BlockChallenge   BlockKind = "challenge"
)

// OutcomeKind discriminates the FetchOutcome variant in play.
type OutcomeKind string

const (
	OutcomeOK              OutcomeKind = "ok"
	OutcomeAuthRequired    OutcomeKind = "auth_required"
	OutcomeBlocked         OutcomeKind = "blocked"
	OutcomeNotFound        OutcomeKind = "not_found"
	OutcomeTransientError  OutcomeKind = "transient_error"
)

// Request is the input contract for Fetcher.Fetch.
type Request struct {
	URL            string
	Referrer       string
	Cookies        string
	AcceptLanguage string
}

// Timings records the wall-clock cost of serving a fetch, used to feed
// the domain policy's EMA latency tracking.
type Timings struct {
	DNS       time.Duration
	Connect   time.Duration
	TLS       time.Duration
	FirstByte time.Duration
	Total     time.Duration
}

// Outcome is the tagged union a Fetcher returns. Exactly one of the
// per-variant fields is meaningful, selected by Kind.
type Outcome struct {
	Kind OutcomeKind

	// OutcomeOK
	Bytes       []byte
	FinalURL    string
	ContentType string
	Headers     map[string]string
	Timings     Timings
	UsedRung    Rung

	// OutcomeAuthRequired
	AuthType string
	Domain   string

	// OutcomeBlocked
	BlockKind BlockKind

	// OutcomeTransientError
	Cause error
}

// AuthDiagnosable reports whether a blocked outcome warrants escalating to
// the next rung, versus terminating the ladder. DNS errors and plain
// connection refusals are not diagnosable escalation triggers; rate
// limiting, forbidden responses, and interactive challenges are.
func (o Outcome) AuthDiagnosable() bool {
	if o.Kind != OutcomeBlocked {
		return false
	}
	switch o.BlockKind {
	case BlockRateLimited, BlockForbidden, BlockChallenge:
		return true
	default:
		return false
	}
}

// Fetcher is implemented by each rung of the escalation ladder.
type Fetcher interface {
	Rung() Rung
	Fetch(ctx context.Context, req Request) (Outcome, error)
}
