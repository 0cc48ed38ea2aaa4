package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
	"github.com/JakeFAU/practice-vendor-crawler/internal/metrics"
)

// RenderBudget throttles rendering per host.
type RenderBudget interface {
	Wait(ctx context.Context, rawURL string) error
}

// Options configure escalation.
type Options struct {
	RenderEnabled bool
	Engine        string
}

// PageFetcher implements crawler.PageFetcher.
type PageFetcher struct {
	plain    crawler.Fetcher
	renderer crawler.Renderer
	detector crawler.RenderDetector
	budget   RenderBudget
	opts     Options
	logger   *zap.Logger
}

// New wires a PageFetcher. renderer, detector and budget may be nil when
// rendering is disabled.
func New(
	plain crawler.Fetcher,
	renderer crawler.Renderer,
	detector crawler.RenderDetector,
	budget RenderBudget,
	opts Options,
	logger *zap.Logger,
) *PageFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Engine == "" {
		opts.Engine = "chromedp"
	}
	return &PageFetcher{
		plain:    plain,
		renderer: renderer,
		detector: detector,
		budget:   budget,
		opts:     opts,
		logger:   logger,
	}
}

// Fetch performs the plain fetch and, if allowed and warranted, one render.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string, allowRender bool) crawler.FetchedPage {
	resp, err := f.plain.Fetch(ctx, crawler.FetchRequest{URL: rawURL})
	page := toPage(rawURL, resp, err)
	if !f.shouldEscalate(allowRender, resp, err) {
		return page
	}

	rendered, rerr := f.render(ctx, rawURL)
	if rerr != nil {
		page.RenderErr = rerr
		f.logger.Warn("render fallback failed; keeping plain result",
			zap.String("url", rawURL),
			zap.Error(rerr),
		)
		return page
	}
	return rendered
}

func (f *PageFetcher) shouldEscalate(allowRender bool, resp crawler.FetchResponse, err error) bool {
	if !allowRender || !f.opts.RenderEnabled || f.renderer == nil {
		return false
	}
	if err != nil {
		return errors.Is(err, crawler.ErrTransport)
	}
	if f.detector == nil {
		return false
	}
	return f.detector.ShouldRender(resp)
}

func (f *PageFetcher) render(ctx context.Context, rawURL string) (crawler.FetchedPage, error) {
	if f.budget != nil {
		if err := f.budget.Wait(ctx, rawURL); err != nil {
			metrics.ObserveRender(f.opts.Engine, "throttled", 0)
			return crawler.FetchedPage{}, fmt.Errorf("%w: %w", crawler.ErrRender, err)
		}
	}
	start := time.Now()
	resp, err := f.renderer.Fetch(ctx, crawler.FetchRequest{URL: rawURL})
	if err != nil {
		metrics.ObserveRender(f.opts.Engine, "error", time.Since(start))
		if !errors.Is(err, crawler.ErrRender) && !errors.Is(err, crawler.ErrRendererDisabled) {
			err = fmt.Errorf("%w: %w", crawler.ErrRender, err)
		}
		return crawler.FetchedPage{}, err
	}
	page := toPage(rawURL, resp, nil)
	if !page.OK() {
		metrics.ObserveRender(f.opts.Engine, "bad_status", time.Since(start))
		return crawler.FetchedPage{}, fmt.Errorf("%w: rendered status %d", crawler.ErrRender, resp.StatusCode)
	}
	metrics.ObserveRender(f.opts.Engine, "ok", time.Since(start))
	page.Rendered = true
	return page, nil
}

func toPage(rawURL string, resp crawler.FetchResponse, err error) crawler.FetchedPage {
	page := crawler.FetchedPage{
		SourceURL:   rawURL,
		FinalURL:    resp.URL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Content:     string(resp.Body),
		Rendered:    resp.Rendered,
		Duration:    resp.Duration,
		Err:         err,
	}
	if err != nil {
		page.StatusCode = 0
		page.Content = ""
	}
	return page
}
