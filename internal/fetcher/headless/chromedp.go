// Package headless renders pages in headless Chrome for sites that build
// their listing markup client side.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/game-reviews-crawler/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready before
	// snapshotting the DOM.
	SettleDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	return c
}

// Fetcher implements crawler.Fetcher with one browser tab per page.
type Fetcher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp starts a chromedp allocator. Chrome itself is launched on the
// first Fetch.
func NewChromedp(cfg Config) *Fetcher {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Fetcher{
		cfg:         cfg.withDefaults(),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close shuts down the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders request.URL and returns the DOM after the settle delay.
// A document status of 400 or above is reported as *crawler.HTTPStatusError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}
	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentWatcher{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tabCtx,
		f.identify(),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, ctx.Err())
		}
		return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, headers, url := doc.result(request.URL, location)
	return buildResponse(status, headers, url, html, time.Since(start), time.Now())
}

func (f *Fetcher) identify() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func buildResponse(status int, headers http.Header, url, html string, elapsed time.Duration, now time.Time) (crawler.FetchResponse, error) {
	if headers == nil {
		headers = http.Header{}
	}
	if status >= http.StatusBadRequest {
		return crawler.FetchResponse{}, &crawler.HTTPStatusError{
			URL:        url,
			StatusCode: status,
			RetryAfter: crawler.ParseRetryAfter(headers.Get("Retry-After"), now),
		}
	}
	return crawler.FetchResponse{
		URL:          url,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     elapsed,
		UsedHeadless: true,
	}, nil
}

// documentWatcher records the status line of the last top-level document
// response seen by a tab. Redirects overwrite earlier hops.
type documentWatcher struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (w *documentWatcher) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := headersFromNetwork(resp.Response.Headers)
	w.mu.Lock()
	w.status = int(resp.Response.Status)
	w.headers = headers
	w.url = resp.Response.URL
	w.mu.Unlock()
}

// result falls back to the browser location, then the requested URL, and
// treats an unobserved document as 200.
func (w *documentWatcher) result(requested, location string) (int, http.Header, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	url := w.url
	if url == "" {
		url = location
	}
	if url == "" {
		url = requested
	}
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	return status, w.headers, url
}

func headersFromNetwork(src network.Headers) http.Header {
	headers := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}
