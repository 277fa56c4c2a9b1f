package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// archiveFetcher is the terminal rung: it asks the Wayback Machine's
// availability API for the most recent snapshot of a URL and, if one
// exists, fetches that snapshot directly. A miss here is the ladder's
// genuine dead end.
type archiveFetcher struct {
	client  *http.Client
	baseURL string
}

// NewArchiveFetcher builds the fifth and final escalation rung.
func NewArchiveFetcher(baseURL string, timeout time.Duration) Fetcher {
	if baseURL == "" {
		baseURL = "https://archive.org/wayback/available"
	}
	return &archiveFetcher{client: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

func (f *archiveFetcher) Rung() Rung { return RungArchive }

func (f *archiveFetcher) Fetch(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()

	snapshotURL, err := f.lookupSnapshot(ctx, req.URL)
	if err != nil {
		return Outcome{Kind: OutcomeTransientError, Cause: err}, nil
	}
	if snapshotURL == "" {
		return Outcome{Kind: OutcomeNotFound}, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, snapshotURL, nil)
	if err != nil {
		return Outcome{Kind: OutcomeTransientError, Cause: err}, nil
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return Outcome{Kind: OutcomeTransientError, Cause: err}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Outcome{Kind: OutcomeNotFound}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Outcome{Kind: OutcomeTransientError, Cause: err}, nil
	}

	return Outcome{
		Kind:        OutcomeOK,
		Bytes:       body,
		FinalURL:    snapshotURL,
		ContentType: resp.Header.Get("Content-Type"),
		Timings:     Timings{Total: time.Since(start)},
		UsedRung:    RungArchive,
	}, nil
}

func (f *archiveFetcher) lookupSnapshot(ctx context.Context, targetURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s?url=%s", f.baseURL, targetURL), nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	var payload struct {
		ArchivedSnapshots struct {
			Closest struct {
				Available bool   `json:"available"`
				URL       string `json:"url"`
				Status    string `json:"status"`
			} `json:"closest"`
		} `json:"archived_snapshots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if !payload.ArchivedSnapshots.Closest.Available {
		return "", nil
	}
	return payload.ArchivedSnapshots.Closest.URL, nil
}
