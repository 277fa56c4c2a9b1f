package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"codenerd/internal/policy"
)

// serpProviderName/academicProviderName key the per-provider rate limiters
// in policy.Store.Limiter, per spec §4.2's token-bucket politeness
// mechanism for search/academic APIs.
const (
	serpProviderName     = "serp"
	academicProviderName = "academic_api"
)

// BrowserSERPProvider resolves a query to candidate URLs by fetching a
// search-results page with a plain HTTP GET on its own http.Client (not
// through the fetch escalation ladder, and with no browser rendering), then
// scraping result links with golang.org/x/net/html — the same parser
// internal/extract uses for document HTML.
type BrowserSERPProvider struct {
	urlTemplate string
	httpClient  *http.Client
	userAgent   string
	pol         *policy.Store
	limits      policy.ProviderLimits
}

// NewBrowserSERPProvider builds a SERP provider against urlTemplate, which
// must contain exactly one %s for the URL-escaped query. Every Search call
// acquires pol's per-provider rate limiter before issuing its request.
func NewBrowserSERPProvider(urlTemplate, userAgent string, timeout time.Duration, pol *policy.Store, limits policy.ProviderLimits) *BrowserSERPProvider {
	return &BrowserSERPProvider{
		urlTemplate: urlTemplate,
		httpClient:  &http.Client{Timeout: timeout},
		userAgent:   userAgent,
		pol:         pol,
		limits:      limits,
	}
}

func (p *BrowserSERPProvider) Search(ctx context.Context, query string) ([]Candidate, error) {
	release, err := p.pol.Limiter(serpProviderName, p.limits).Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("serp rate limit: %w", err)
	}
	defer release()

	target := fmt.Sprintf(p.urlTemplate, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("serp request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serp fetch: %w", err)
	}
	defer resp.Body.Close()

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("serp parse: %w", err)
	}
	return extractResultLinks(doc), nil
}

func extractResultLinks(n *html.Node) []Candidate {
	var out []Candidate
	seen := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				href := resolveResultHref(a.Val)
				if href != "" && !seen[href] {
					seen[href] = true
					out = append(out, Candidate{URL: href, Reason: "serp"})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// resolveResultHref extracts the real destination from a search engine's
// redirect link (e.g. DuckDuckGo's /l/?uddg=<escaped-url>), falling back to
// the href itself when it is already a plain http(s) URL.
func resolveResultHref(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if u, err := url.Parse(href); err == nil {
		if dest := u.Query().Get("uddg"); dest != "" {
			if decoded, err := url.QueryUnescape(dest); err == nil {
				return decoded
			}
		}
	}
	return ""
}

// AcademicAPIProvider resolves a query against a Crossref-style works search
// endpoint, returning DOI-identified candidates for the academic fast path.
type AcademicAPIProvider struct {
	urlTemplate string
	httpClient  *http.Client
	pol         *policy.Store
	limits      policy.ProviderLimits
}

// NewAcademicAPIProvider builds an academic-API provider against urlTemplate,
// which must contain exactly one %s for the URL-escaped query. Every Search
// call acquires pol's per-provider rate limiter before issuing its request.
func NewAcademicAPIProvider(urlTemplate string, timeout time.Duration, pol *policy.Store, limits policy.ProviderLimits) *AcademicAPIProvider {
	return &AcademicAPIProvider{
		urlTemplate: urlTemplate,
		httpClient:  &http.Client{Timeout: timeout},
		pol:         pol,
		limits:      limits,
	}
}

type crossrefResponse struct {
	Message struct {
		Items []struct {
			DOI string   `json:"DOI"`
			URL string   `json:"URL"`
			Title []string `json:"title"`
		} `json:"items"`
	} `json:"message"`
}

func (p *AcademicAPIProvider) Search(ctx context.Context, query string) ([]Candidate, error) {
	release, err := p.pol.Limiter(academicProviderName, p.limits).Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("academic api rate limit: %w", err)
	}
	defer release()

	target := fmt.Sprintf(p.urlTemplate, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("academic api request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("academic api fetch: %w", err)
	}
	defer resp.Body.Close()

	var parsed crossrefResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("academic api decode: %w", err)
	}

	out := make([]Candidate, 0, len(parsed.Message.Items))
	for _, item := range parsed.Message.Items {
		if item.DOI == "" {
			continue
		}
		reason := "academic"
		if len(item.Title) > 0 {
			reason = item.Title[0]
		}
		out = append(out, Candidate{URL: item.URL, DOI: item.DOI, Reason: reason})
	}
	return out, nil
}
