package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codenerd/internal/logging"
)

// httpFetcher serves OutcomeOK/Blocked/NotFound/TransientError by issuing a
// plain (or proxied) HTTP GET. Both the direct_http and tor_http rungs are
// this same implementation over a differently configured *http.Client.
type httpFetcher struct {
	rung         Rung
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewDirectHTTPFetcher builds the first rung of the escalation ladder: a
// plain HTTP client with no proxy.
func NewDirectHTTPFetcher(userAgent string, timeout time.Duration, maxBodyBytes int64) Fetcher {
	return &httpFetcher{
		rung:         RungDirectHTTP,
		client:       &http.Client{Timeout: timeout},
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
	}
}

// NewTorHTTPFetcher builds the second rung: the same HTTP client routed
// through a local Tor SOCKS/HTTP proxy, used once direct access is blocked.
func NewTorHTTPFetcher(proxyAddr, userAgent string, timeout time.Duration, maxBodyBytes int64) (Fetcher, error) {
	proxyURL, err := url.Parse(proxyAddr)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	return &httpFetcher{
		rung:         RungTorHTTP,
		client:       &http.Client{Timeout: timeout, Transport: transport},
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
	}, nil
}

func (f *httpFetcher) Rung() Rung { return f.rung }

func (f *httpFetcher) Fetch(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Outcome{Kind: OutcomeTransientError, Cause: err}, nil
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if req.Referrer != "" {
		httpReq.Header.Set("Referer", req.Referrer)
	}
	if req.AcceptLanguage != "" {
		httpReq.Header.Set("Accept-Language", req.AcceptLanguage)
	}
	if req.Cookies != "" {
		httpReq.Header.Set("Cookie", req.Cookies)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		logging.FetchDebug("%s: transient error fetching %s: %v", f.rung, req.URL, err)
		return Outcome{Kind: OutcomeTransientError, Cause: err}, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Outcome{Kind: OutcomeNotFound}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return Outcome{Kind: OutcomeBlocked, BlockKind: BlockRateLimited}, nil
	case resp.StatusCode == http.StatusForbidden:
		return Outcome{Kind: OutcomeBlocked, BlockKind: BlockForbidden}, nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// http.Client already follows redirects; a residual 3xx here means
		// the chain terminated without a final representation.
		return Outcome{Kind: OutcomeTransientError, Cause: errors.New("unresolved redirect")}, nil
	case resp.StatusCode >= 500:
		return Outcome{Kind: OutcomeTransientError, Cause: errHTTPStatus(resp.StatusCode)}, nil
	case resp.StatusCode != http.StatusOK:
		return Outcome{Kind: OutcomeBlocked, BlockKind: BlockForbidden}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return Outcome{Kind: OutcomeTransientError, Cause: err}, nil
	}

	if looksLikeChallenge(resp.Header.Get("Server"), body) {
		return Outcome{Kind: OutcomeBlocked, BlockKind: BlockChallenge}, nil
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return Outcome{
		Kind:        OutcomeOK,
		Bytes:       body,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     headers,
		Timings:     Timings{Total: time.Since(start)},
		UsedRung:    f.rung,
	}, nil
}

// looksLikeChallenge does a cheap body/header sniff for interactive
// anti-bot challenges (Cloudflare, Turnstile) that a 200-status response
// can still carry, so those don't get misread as successfully fetched
// content.
func looksLikeChallenge(server string, body []byte) bool {
	if len(body) > 4096 {
		body = body[:4096]
	}
	sample := strings.ToLower(string(body))
	for _, marker := range []string{"cf-browser-verification", "checking your browser", "cf_chl_opt", "challenge-platform"} {
		if strings.Contains(sample, marker) {
			return true
		}
	}
	return false
}

type errHTTPStatus int

func (e errHTTPStatus) Error() string {
	return "unexpected http status"
}
