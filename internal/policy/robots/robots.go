// Package robots caches robots.txt rules per host for the lifetime of a run.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
	"github.com/JakeFAU/practice-vendor-crawler/internal/metrics"
)

const (
	defaultTimeout = 10 * time.Second
	maxRobotsBytes = 1 << 20
)

// Config controls robots.txt handling.
type Config struct {
	Respect   bool
	UserAgent string
	Timeout   time.Duration
}

// Cache fetches each host's robots.txt at most once and answers permission
// queries from the cached rules.
type Cache struct {
	client    *http.Client
	entries   *gocache.Cache
	group     singleflight.Group
	userAgent string
	logger    *zap.Logger
}

// rules is the cached outcome for one host. A nil group allows everything.
type rules struct {
	group *robotstxt.Group
	delay time.Duration
}

// New builds a RobotsPolicy respecting the config toggle. A nil client gets a
// default one bounded by cfg.Timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) crawler.RobotsPolicy {
	if !cfg.Respect {
		return allowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Cache{
		client:    client,
		entries:   gocache.New(gocache.NoExpiration, 0),
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// IsAllowed implements crawler.RobotsPolicy.
func (c *Cache) IsAllowed(ctx context.Context, target *url.URL) bool {
	if target == nil {
		return false
	}
	r := c.load(ctx, target)
	if r.group == nil {
		return true
	}
	p := target.EscapedPath()
	if p == "" {
		p = "/"
	}
	if target.RawQuery != "" {
		p += "?" + target.RawQuery
	}
	return r.group.Test(p)
}

// CrawlDelay returns the Crawl-delay declared for host, or zero when the host
// has not been consulted or declares none.
func (c *Cache) CrawlDelay(host string) time.Duration {
	if v, ok := c.entries.Get(host); ok {
		if r, ok := v.(rules); ok {
			return r.delay
		}
	}
	return 0
}

func (c *Cache) load(ctx context.Context, target *url.URL) rules {
	host := crawler.HostKey(target)
	if v, ok := c.entries.Get(host); ok {
		if r, ok := v.(rules); ok {
			return r
		}
	}
	v, _, _ := c.group.Do(host, func() (any, error) {
		if v, ok := c.entries.Get(host); ok {
			return v, nil
		}
		r := c.fetch(ctx, target)
		c.entries.Set(host, r, gocache.NoExpiration)
		return r, nil
	})
	r, _ := v.(rules)
	return r
}

// fetch never fails: anything short of a parseable answer allows all paths.
func (c *Cache) fetch(ctx context.Context, target *url.URL) rules {
	robotsURL := url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}
	// A stop signal must not poison the cache with an allow-all entry.
	ctx = context.WithoutCancel(ctx)
	data, err := c.get(ctx, robotsURL.String())
	if err != nil {
		metrics.ObserveRobotsFetch("error")
		c.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", target.Host),
			zap.Error(err),
		)
		return rules{}
	}
	metrics.ObserveRobotsFetch("ok")
	group := data.FindGroup(c.userAgent)
	if group == nil {
		return rules{}
	}
	return rules{group: group, delay: group.CrawlDelay}
}

func (c *Cache) get(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("robots status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

type allowAll struct{}

func (allowAll) IsAllowed(context.Context, *url.URL) bool { return true }

func (allowAll) CrawlDelay(string) time.Duration { return 0 }
