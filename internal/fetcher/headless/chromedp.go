// Package headless renders listing pages in headless Chrome, for search and
// detail pages that only carry their data island once client scripts have run.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultIslandSelector    = `script#__NEXT_DATA__`
	defaultIslandWait        = 3 * time.Second
	defaultWindowWidth       = 1366
	defaultWindowHeight      = 900
	islandPollInterval       = 100 * time.Millisecond
)

// Config tunes the browser fetcher.
type Config struct {
	// MaxParallel bounds open tabs. Zero leaves tabs unbounded.
	MaxParallel       int
	NavigationTimeout time.Duration
	// IslandSelector is awaited once the body is ready. Block pages never
	// carry it, so the wait gives up after IslandWait without failing.
	IslandSelector string
	IslandWait     time.Duration
	// ExecPath points at a Chrome binary; empty means the usual lookup.
	ExecPath     string
	WindowWidth  int
	WindowHeight int
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.IslandSelector == "" {
		c.IslandSelector = defaultIslandSelector
	}
	if c.IslandWait <= 0 {
		c.IslandWait = defaultIslandWait
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = defaultWindowWidth, defaultWindowHeight
	}
	return c
}

// HeaderSource supplies the identity headers for one navigation.
type HeaderSource interface {
	Headers(overrides http.Header) http.Header
}

// Fetcher is a crawler.Fetcher that loads pages in a shared headless browser,
// one tab per request.
type Fetcher struct {
	cfg         Config
	identities  HeaderSource
	slots       chan struct{}
	browser     context.Context
	stopBrowser context.CancelFunc
}

// NewChromedp prepares the browser allocator. Chrome itself starts lazily on
// the first Fetch. Every tab presents the identity drawn from identities.
func NewChromedp(cfg Config, identities HeaderSource) (*Fetcher, error) {
	if identities == nil {
		return nil, errors.New("identity source is required")
	}
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0, got %d", cfg.MaxParallel)
	}
	cfg = cfg.withDefaults()

	f := &Fetcher{cfg: cfg, identities: identities}
	if cfg.MaxParallel > 0 {
		f.slots = make(chan struct{}, cfg.MaxParallel)
	}
	f.browser, f.stopBrowser = chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return f, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.stopBrowser()
}

// Fetch renders request.URL and returns the serialized DOM. The status and
// headers are those of the top-level document. Only GET is supported, and
// every failure is a *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if request.Method != "" && request.Method != http.MethodGet {
		return crawler.FetchResponse{}, &crawler.FetchError{
			URL:   request.URL,
			Cause: fmt.Errorf("method %s not supported by headless fetcher", request.Method),
		}
	}
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Cause: err}
	}
	defer f.release()

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	stopOnCaller := context.AfterFunc(ctx, cancel)
	defer stopOnCaller()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	html, landed, err := f.render(tab, request.URL, f.identities.Headers(request.Headers))
	if err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Cause: err}
	}
	status, headers, finalURL := doc.result(request.URL, landed)

	return crawler.FetchResponse{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) render(ctx context.Context, target string, headers http.Header) (string, string, error) {
	var html, landed string
	err := chromedp.Run(ctx,
		identityAction(headers),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		f.awaitIsland(),
		chromedp.Location(&landed),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", target, err)
	}
	return html, landed, nil
}

// awaitIsland polls for the data island until it appears or IslandWait runs out.
func (f *Fetcher) awaitIsland() chromedp.Action {
	probe := fmt.Sprintf("document.querySelector(%q) !== null", f.cfg.IslandSelector)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.Now().Add(f.cfg.IslandWait)
		for {
			var present bool
			if err := chromedp.Evaluate(probe, &present).Do(ctx); err != nil {
				return fmt.Errorf("probe data island: %w", err)
			}
			if present || !time.Now().Before(deadline) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(islandPollInterval):
			}
		}
	})
}

// identityAction applies one identity profile to the tab. The user agent and
// language go through the emulation override; the rest become extra headers.
func identityAction(headers http.Header) chromedp.Action {
	userAgent, language, extra := identityParts(headers)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			override := emulation.SetUserAgentOverride(userAgent)
			if language != "" {
				override = override.WithAcceptLanguage(language)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user agent: %w", err)
			}
		}
		if len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(networkHeaders(extra)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// browserOwned headers are set by Chrome itself and must not be overridden.
var browserOwned = []string{"Accept-Encoding", "Connection", "Host", "Content-Length"}

func identityParts(headers http.Header) (userAgent, language string, extra http.Header) {
	if len(headers) == 0 {
		return "", "", nil
	}
	extra = headers.Clone()
	userAgent = extra.Get("User-Agent")
	extra.Del("User-Agent")
	if userAgent != "" {
		language = extra.Get("Accept-Language")
		extra.Del("Accept-Language")
	}
	for _, key := range browserOwned {
		extra.Del(key)
	}
	return userAgent, language, extra
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}

func headersFromNetwork(h network.Headers) http.Header {
	out := http.Header{}
	for key, value := range h {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []string:
			for _, entry := range v {
				out.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				out.Add(key, fmt.Sprint(entry))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return ctx.Err()
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for browser tab: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots != nil {
		<-f.slots
	}
}

// documentResponse records the first top-level document response of a tab.
// Frames load later documents, which are ignored.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(resp.Response.Status)
	d.headers = headersFromNetwork(resp.Response.Headers)
	d.url = resp.Response.URL
}

// result falls back to the landed location, then the requested URL, and
// assumes 200 when no document response was observed.
func (d *documentResponse) result(requested, landed string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if url == "" {
		url = landed
	}
	if url == "" {
		url = requested
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
