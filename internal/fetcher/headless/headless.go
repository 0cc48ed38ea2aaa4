// Package headless renders pages in a real browser for the rendering
// fallback. Two engines are available, chromedp and go-rod. Both bound
// concurrent renders with the same slot limit, wait for the network to go
// quiet before reading the DOM, and report the main document's response.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettle            = 500 * time.Millisecond
	// maxQuietWait caps the settle phase. Pages that long-poll never go quiet.
	maxQuietWait = 5 * time.Second
)

// Config controls the behavior of the renderers.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long the network must stay quiet after load before the
	// DOM is read.
	Settle time.Duration
}

func (c Config) withDefaults() (Config, error) {
	if c.MaxParallel < 0 {
		return c, fmt.Errorf("max parallel must be >= 0")
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.Settle <= 0 {
		c.Settle = defaultSettle
	}
	return c, nil
}

// slots bounds concurrent renders. A nil slots never blocks.
type slots chan struct{}

func newSlots(n int) slots {
	if n <= 0 {
		return nil
	}
	return make(slots, n)
}

func (s slots) acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: render slot wait canceled: %w", crawler.ErrRender, ctx.Err())
	}
}

func (s slots) release() {
	if s == nil {
		return
	}
	select {
	case <-s:
	default:
	}
}

// document keeps the first top-level document response seen in a tab.
// Later document responses belong to iframes (booking widgets, maps).
type document struct {
	mu      sync.Mutex
	seen    bool
	status  int
	url     string
	headers http.Header
}

func (d *document) observe(status int, url string, headers http.Header) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = status
	d.url = url
	d.headers = headers
}

// response assembles the rendered result. When no document response was
// captured (served from cache, or replaced by a client-side navigation) the
// status is taken as 200 and the URL falls back to the browser location,
// then to the requested URL.
func (d *document) response(requestURL, location, html string, elapsed time.Duration) crawler.FetchResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := d.status
	if !d.seen || status == 0 {
		status = http.StatusOK
	}
	url := d.url
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
	return crawler.FetchResponse{
		URL:         url,
		StatusCode:  status,
		Headers:     headers,
		Body:        []byte(html),
		Duration:    elapsed,
		Rendered:    true,
		ContentType: headers.Get("Content-Type"),
	}
}
