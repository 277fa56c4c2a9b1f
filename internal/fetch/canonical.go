package fetch

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams lists query parameters stripped during canonicalization.
// These never affect document identity and would otherwise defeat
// deduplication by canonical URL.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "gclid": true, "fbclid": true,
	"mc_cid": true, "mc_eid": true, "ref": true, "ref_src": true,
	"igshid": true, "_hsenc": true, "_hsmi": true,
}

// Canonicalize normalizes a final URL into the form used as the
// deduplication key: lower-cased host, stripped tracking parameters,
// normalized trailing slash, and DOI alias expansion.
func Canonicalize(rawURL string) (string, error) {
	if doi, ok := extractDOIAlias(rawURL); ok {
		return "https://doi.org/" + doi, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if trackingParams[strings.ToLower(key)] {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}

	if u.Path == "" {
		u.Path = "/"
	} else if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}

	return u.String(), nil
}

// doiHosts are hosts known to front DOI-resolvable content; a path of the
// form /10.xxxx/yyyy on any of these is rewritten to the canonical
// doi.org form so the same work is recognized regardless of publisher
// mirror.
var doiHosts = []string{"doi.org", "dx.doi.org", "arxiv.org"}

func extractDOIAlias(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Host, "www."))
	isDOIHost := false
	for _, h := range doiHosts {
		if host == h {
			isDOIHost = true
			break
		}
	}
	if !isDOIHost {
		return "", false
	}
	path := strings.TrimPrefix(u.Path, "/")
	if strings.HasPrefix(path, "10.") {
		return path, true
	}
	return "", false
}

// SortHeaders returns a stable, lower-cased copy of a header map's keys,
// used when canonical ordering matters for logging/debugging.
func SortHeaders(headers map[string]string) []string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)
	return keys
}
