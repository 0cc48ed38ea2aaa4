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

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// Chromedp implements crawler.Renderer with headless Chrome over the
// DevTools protocol. Every render gets its own tab in one shared browser.
type Chromedp struct {
	cfg         Config
	slots       slots
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp prepares the browser allocator. Chrome itself starts with the
// first render.
func NewChromedp(cfg Config) (*Chromedp, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Chromedp{
		cfg:         cfg,
		slots:       newSlots(cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (c *Chromedp) Close() {
	c.allocCancel()
}

// Fetch loads request.URL in a fresh tab, waits for the network to settle and
// returns the rendered DOM.
func (c *Chromedp) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := c.slots.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer c.slots.release()

	tab, closeTab := chromedp.NewContext(c.allocator)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, c.cfg.NavigationTimeout)
	defer cancel()
	// Tabs hang off the allocator, so the caller's cancellation is forwarded.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &document{}
	traffic := newQuietNetwork()
	chromedp.ListenTarget(tab, func(ev any) {
		traffic.observe(ev)
		if resp, ok := ev.(*network.EventResponseReceived); ok && resp.Type == network.ResourceTypeDocument && resp.Response != nil {
			doc.observe(int(resp.Response.Status), resp.Response.URL, headersFromCDP(resp.Response.Headers))
		}
	})

	var html, location string
	start := time.Now()
	err := chromedp.Run(tab,
		c.prepareTab(),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return traffic.wait(ctx, c.cfg.Settle, maxQuietWait)
		}),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("%w: chromedp: %w", crawler.ErrRender, err)
	}
	return doc.response(request.URL, location, html, time.Since(start)), nil
}

func (c *Chromedp) prepareTab() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// quietNetwork counts the open requests of one tab.
type quietNetwork struct {
	mu      sync.Mutex
	open    map[network.RequestID]struct{}
	changed time.Time
}

func newQuietNetwork() *quietNetwork {
	return &quietNetwork{open: make(map[network.RequestID]struct{}), changed: time.Now()}
}

func (q *quietNetwork) observe(ev any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if longLived(e.Type) {
			return
		}
		q.open[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(q.open, e.RequestID)
	case *network.EventLoadingFailed:
		delete(q.open, e.RequestID)
	default:
		return
	}
	q.changed = time.Now()
}

// quietFor is how long no request has been open as of now.
func (q *quietNetwork) quietFor(now time.Time) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.open) > 0 {
		return 0
	}
	return now.Sub(q.changed)
}

// wait returns once the network has been quiet for window, or after limit.
func (q *quietNetwork) wait(ctx context.Context, window, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		now := time.Now()
		if q.quietFor(now) >= window || !now.Before(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("settle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// longLived resources stay open for the life of the page.
func longLived(t network.ResourceType) bool {
	switch t {
	case network.ResourceTypeWebSocket, network.ResourceTypeEventSource, network.ResourceTypePing:
		return true
	default:
		return false
	}
}

func headersFromCDP(src network.Headers) http.Header {
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
