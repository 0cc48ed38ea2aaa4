package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// Rod implements crawler.Renderer using go-rod. The browser is launched on
// the first render, so a run that never escalates never starts Chrome.
type Rod struct {
	cfg   Config
	slots slots

	once      sync.Once
	launchErr error
	launcher  *launcher.Launcher
	browser   *rod.Browser
}

// NewRod creates a renderer backed by go-rod.
func NewRod(cfg Config) (*Rod, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Rod{cfg: cfg, slots: newSlots(cfg.MaxParallel)}, nil
}

// Fetch navigates with a rod-controlled browser and returns the rendered DOM.
func (r *Rod) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := r.slots.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer r.slots.release()

	browser, err := r.connect()
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("%w: %w", crawler.ErrRender, err)
	}

	taskCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	defer cancel()

	start := time.Now()
	html, location, doc, err := r.render(taskCtx, browser, request.URL)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("%w: rod: %w", crawler.ErrRender, err)
	}
	return doc.response(request.URL, location, html, time.Since(start)), nil
}

func (r *Rod) render(ctx context.Context, browser *rod.Browser, target string) (string, string, *document, error) {
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", "", nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()
	page = page.Context(ctx)

	if r.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.cfg.UserAgent}); err != nil {
			return "", "", nil, fmt.Errorf("set user-agent: %w", err)
		}
	}

	doc := &document{}
	go page.EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Type == proto.NetworkResourceTypeDocument && e.Response != nil {
			doc.observe(e.Response.Status, e.Response.URL, headersFromRod(e.Response.Headers))
		}
	})()

	if err := page.Navigate(target); err != nil {
		return "", "", nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", "", nil, fmt.Errorf("wait load: %w", err)
	}
	quiet := page.Timeout(maxQuietWait)
	quiet.WaitRequestIdle(r.cfg.Settle, nil, nil, rodLongLived)()
	quiet.CancelTimeout()
	if err := ctx.Err(); err != nil {
		return "", "", nil, fmt.Errorf("settle: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", "", nil, fmt.Errorf("read html: %w", err)
	}
	location := ""
	if info, err := page.Info(); err == nil && info != nil {
		location = info.URL
	}
	return html, location, doc, nil
}

// rodLongLived mirrors longLived for the rod protocol types.
var rodLongLived = []proto.NetworkResourceType{
	proto.NetworkResourceTypeWebSocket,
	proto.NetworkResourceTypeEventSource,
	proto.NetworkResourceTypePing,
}

func (r *Rod) connect() (*rod.Browser, error) {
	r.once.Do(func() {
		l := launcher.New().
			Set("no-sandbox").
			Set("disable-dev-shm-usage").
			Set("disable-gpu").
			Headless(true)
		controlURL, err := l.Launch()
		if err != nil {
			r.launchErr = fmt.Errorf("launch browser: %w", err)
			return
		}
		browser := rod.New().ControlURL(controlURL)
		if err := browser.Connect(); err != nil {
			l.Kill()
			r.launchErr = fmt.Errorf("connect browser: %w", err)
			return
		}
		r.launcher = l
		r.browser = browser
	})
	return r.browser, r.launchErr
}

// Close shuts the browser down if it was started.
func (r *Rod) Close() {
	if r.browser != nil {
		_ = r.browser.Close()
	}
	if r.launcher != nil {
		r.launcher.Kill()
	}
}

func headersFromRod(src proto.NetworkHeaders) http.Header {
	headers := http.Header{}
	for key, value := range src {
		headers.Add(key, value.String())
	}
	return headers
}
