package crawler

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Fetcher performs one plain or rendered HTTP fetch.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Renderer loads a page in a headless browser and returns the rendered DOM.
type Renderer interface {
	Fetcher
	Close()
}

// PageFetcher is the escalating fetcher used by the Site Visitor.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, allowRender bool) FetchedPage
}

// RenderDetector decides whether plain content is too thin to be useful.
type RenderDetector interface {
	ShouldRender(resp FetchResponse) bool
}

// RobotsPolicy answers whether a URL may be fetched.
type RobotsPolicy interface {
	IsAllowed(ctx context.Context, target *url.URL) bool
	CrawlDelay(host string) time.Duration
}

// PolitenessGate serializes fetches to one host with a floor delay.
type PolitenessGate interface {
	AwaitTurn(ctx context.Context, host string) error
	SetFloor(host string, floor time.Duration)
	Penalize(host string) time.Duration
	Reset(host string)
}

// HostGuard decides whether a host may still be crawled.
type HostGuard interface {
	Skip(host string) bool
	Blocked(host string) bool
	Observe(host string, statusCode int, err error) bool
}

// Sink durably records one detection record per site.
type Sink interface {
	Write(ctx context.Context, record DetectionRecord) error
	Close() error
}

// RecordMirror receives a copy of every record after it was written durably.
type RecordMirror interface {
	MirrorRecord(ctx context.Context, record DetectionRecord) error
}

// Publisher pushes payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes run artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Queue provides enqueue/dequeue semantics for roster sites.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Close()
}

// QueueItem wraps a roster site waiting for a visitor.
type QueueItem struct {
	Site     InputSite
	Position int
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time and sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run ids.
type IDGenerator interface {
	NewRunID(now time.Time) (string, error)
}
