package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"codenerd/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserConfig configures a rod-driven browser rung.
type BrowserConfig struct {
	DebuggerURL         string
	Headless            bool
	ViewportWidth       int
	ViewportHeight      int
	NavigationTimeout   time.Duration
}

func (c BrowserConfig) viewport() (int, int) {
	w, h := c.ViewportWidth, c.ViewportHeight
	if w == 0 {
		w = 1920
	}
	if h == 0 {
		h = 1080
	}
	return w, h
}

func (c BrowserConfig) navTimeout() time.Duration {
	if c.NavigationTimeout == 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

// browserFetcher drives a Chrome instance through go-rod to render
// JavaScript-gated pages. The headless and headful rungs are two separate
// instances of this type that differ only in their launch flags; each keeps
// its own browser connection.
type browserFetcher struct {
	rung Rung
	cfg  BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
}

// NewHeadlessBrowserFetcher builds the third escalation rung.
func NewHeadlessBrowserFetcher(cfg BrowserConfig) Fetcher {
	cfg.Headless = true
	return &browserFetcher{rung: RungHeadless, cfg: cfg}
}

// NewHeadfulBrowserFetcher builds the fourth escalation rung, used only
// once headless rendering itself triggers a visible challenge (the gpu and
// browser_headful scheduler slots are mutually exclusive precisely so this
// rung never contends with headless GPU-backed rendering work).
func NewHeadfulBrowserFetcher(cfg BrowserConfig) Fetcher {
	cfg.Headless = false
	return &browserFetcher{rung: RungHeadful, cfg: cfg}
}

func (f *browserFetcher) Rung() Rung { return f.rung }

func (f *browserFetcher) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		if _, err := f.browser.Version(); err == nil {
			return f.browser, nil
		}
		_ = f.browser.Close()
		f.browser = nil
	}

	controlURL := f.cfg.DebuggerURL
	if controlURL == "" {
		url, err := launcher.New().Headless(f.cfg.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	f.browser = browser
	return browser, nil
}

func (f *browserFetcher) Fetch(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()

	browser, err := f.ensureBrowser(ctx)
	if err != nil {
		return Outcome{Kind: OutcomeTransientError, Cause: err}, nil
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return Outcome{Kind: OutcomeTransientError, Cause: fmt.Errorf("incognito context: %w", err)}, nil
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return Outcome{Kind: OutcomeTransientError, Cause: fmt.Errorf("create page: %w", err)}, nil
	}
	defer page.Close()

	width, height := f.cfg.viewport()
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width: width, Height: height, DeviceScaleFactor: 1.0, Mobile: false,
	}).Call(page); err != nil {
		logging.FetchDebug("%s: viewport override failed: %v", f.rung, err)
	}

	if req.Cookies != "" {
		logging.FetchDebug("%s: caller-supplied cookies ignored; browser rung uses a fresh incognito context", f.rung)
	}

	navCtx, cancel := context.WithTimeout(ctx, f.cfg.navTimeout())
	defer cancel()

	if err := page.Context(navCtx).Navigate(req.URL); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return Outcome{Kind: OutcomeTransientError, Cause: fmt.Errorf("navigation timeout: %w", err)}, nil
		}
		return Outcome{Kind: OutcomeTransientError, Cause: fmt.Errorf("navigate: %w", err)}, nil
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		logging.FetchDebug("%s: wait load error (continuing): %v", f.rung, err)
	}

	if authType, ok := detectAuthChallengeDOM(page); ok {
		domain, _ := hostOf(req.URL)
		return Outcome{Kind: OutcomeAuthRequired, AuthType: authType, Domain: domain}, nil
	}
	if detected, kind := detectChallengeDOM(page); detected {
		return Outcome{Kind: OutcomeBlocked, BlockKind: kind}, nil
	}

	html, err := page.HTML()
	if err != nil {
		return Outcome{Kind: OutcomeTransientError, Cause: fmt.Errorf("read rendered html: %w", err)}, nil
	}

	info, err := page.Info()
	finalURL := req.URL
	if err == nil && info != nil && info.URL != "" {
		finalURL = info.URL
	}

	return Outcome{
		Kind:        OutcomeOK,
		Bytes:       []byte(html),
		FinalURL:    finalURL,
		ContentType: "text/html",
		Timings:     Timings{Total: time.Since(start)},
		UsedRung:    f.rung,
	}, nil
}

// Close releases the underlying browser connection.
func (f *browserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}

// detectChallengeDOM probes the rendered page for interactive anti-bot
// markup (Cloudflare challenge/Turnstile, hCaptcha) that only appears once
// client-side JavaScript has executed, so it cannot be caught at the HTTP
// rungs. Login walls are detected separately, by detectAuthChallengeDOM.
func detectChallengeDOM(page *rod.Page) (bool, BlockKind) {
	for _, selector := range []string{
		"iframe[src*='challenges.cloudflare.com']",
		"#cf-challenge-running",
		"div.cf-turnstile",
		"iframe[src*='hcaptcha.com']",
	} {
		has, _, err := page.Has(selector)
		if err == nil && has {
			return true, BlockChallenge
		}
	}
	return false, ""
}

// detectAuthChallengeDOM recognizes markup that gates content behind a
// human login rather than an automated challenge, which must route to the
// auth-wait queue instead of the escalation ladder's terminal block.
func detectAuthChallengeDOM(page *rod.Page) (authType string, ok bool) {
	if has, _, err := page.Has("form[action*='login'], input[type='password']"); err == nil && has {
		return "login", true
	}
	return "", false
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Host), nil
}
