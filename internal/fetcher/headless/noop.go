package headless

import (
	"context"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// Noop implements crawler.Renderer when rendering is disabled.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with crawler.ErrRendererDisabled.
func (Noop) Fetch(_ context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, crawler.ErrRendererDisabled
}

// Close is a no-op.
func (Noop) Close() {}
