// Package headless renders the profile page in headless Chrome for runs that
// set fetcher.mode=headless.
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

	"github.com/JakeFAU/scholar-badge/internal/scholar"
)

const defaultNavTimeout = 45 * time.Second

// Config tunes the browser fetch.
type Config struct {
	// UserAgent overrides the User-Agent from the request headers.
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher is a scholar.Fetcher that loads the profile in Chrome.
type Fetcher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp prepares the Chrome allocator. The browser process starts on
// the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Fetcher{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}, nil
}

// Close stops Chrome.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch loads request.URL once and returns the rendered HTML. The status of
// the profile document decides success; anything outside 2xx is an error.
func (f *Fetcher) Fetch(ctx context.Context, request scholar.FetchRequest) (scholar.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return scholar.FetchResponse{}, fmt.Errorf("headless fetch canceled: %w", err)
	}

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &profileDocument{}
	chromedp.ListenTarget(tabCtx, doc.listen)

	var html, location string
	start := time.Now()
	if err := chromedp.Run(tabCtx, f.loadProfile(request, &html, &location)...); err != nil {
		return scholar.FetchResponse{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers, url := doc.result(request.URL, location)
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return scholar.FetchResponse{}, fmt.Errorf("headless fetch %s: status %d", url, status)
	}
	return scholar.FetchResponse{
		URL:          url,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) loadProfile(request scholar.FetchRequest, html, location *string) []chromedp.Action {
	return []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return f.prepareTab(ctx, request.Headers)
		}),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(location),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	}
}

// prepareTab turns on network events and applies the browser headers.
func (f *Fetcher) prepareTab(ctx context.Context, headers http.Header) error {
	if err := network.Enable().Do(ctx); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	if ua := f.userAgent(headers); ua != "" {
		if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
	}
	if extra := toNetworkHeaders(headers); len(extra) > 0 {
		if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}
	return nil
}

func (f *Fetcher) userAgent(headers http.Header) string {
	if f.cfg.UserAgent != "" {
		return f.cfg.UserAgent
	}
	return headers.Get("User-Agent")
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// profileDocument records the first document response of the tab. Later
// document responses belong to iframes.
type profileDocument struct {
	mu      sync.Mutex
	status  int
	url     string
	headers http.Header
}

func (d *profileDocument) listen(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != 0 {
		return
	}
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.headers = http.Header{}
	for key, value := range resp.Response.Headers {
		for _, v := range headerValues(value) {
			d.headers.Add(key, v)
		}
	}
}

// result reports the captured document. A load that emitted no document
// event still rendered, so it counts as 200.
func (d *profileDocument) result(requestURL, location string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	status, url := d.status, d.url
	if status == 0 {
		status = http.StatusOK
	}
	if url == "" {
		url = location
	}
	if url == "" {
		url = requestURL
	}
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func headerValues(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			out = append(out, fmt.Sprint(entry))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// Chrome sets these itself and rejects them as extra headers.
var skippedHeaders = map[string]bool{
	"User-Agent":      true,
	"Connection":      true,
	"Accept-Encoding": true,
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 || skippedHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
