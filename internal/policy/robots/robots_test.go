package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestAllowAllWhenNotRespecting(t *testing.T) {
	t.Parallel()

	policy := New(Config{Respect: false}, nil, zap.NewNop())
	assert.True(t, policy.IsAllowed(context.Background(), mustParse(t, "https://example.com/private")))
	assert.Zero(t, policy.CrawlDelay("example.com"))
}

func TestRulesAndCrawlDelay(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			fmt.Fprintln(w, "User-agent: *\nDisallow: /blocked\nCrawl-delay: 3")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	policy := New(Config{Respect: true, UserAgent: "vendorcrawl-test"}, srv.Client(), zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, policy.IsAllowed(ctx, mustParse(t, srv.URL+"/allowed")))
		}()
	}
	wg.Wait()

	assert.False(t, policy.IsAllowed(ctx, mustParse(t, srv.URL+"/blocked/page")))
	assert.Equal(t, int32(1), hits.Load(), "robots.txt fetched once per host")

	host := mustParse(t, srv.URL).Host
	assert.Equal(t, 3*time.Second, policy.CrawlDelay(host))
}

func TestMissingOrBrokenRobotsAllowsAll(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "not found", handler: func(w http.ResponseWriter, _ *http.Request) { http.NotFound(w, nil) }},
		{name: "server error", handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }},
		{name: "garbage", handler: func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "\x00\x01 not robots {{{") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			policy := New(Config{Respect: true, UserAgent: "vendorcrawl-test"}, srv.Client(), zap.NewNop())
			assert.True(t, policy.IsAllowed(context.Background(), mustParse(t, srv.URL+"/anything")))
		})
	}
}

func TestUnreachableHostAllowsAll(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := mustParse(t, srv.URL+"/page")
	srv.Close()

	policy := New(Config{Respect: true, Timeout: time.Second}, nil, zap.NewNop())
	assert.True(t, policy.IsAllowed(context.Background(), target))
}

func TestCancelledContextStillConsultsRobots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "User-agent: *\nDisallow: /")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := New(Config{Respect: true}, srv.Client(), zap.NewNop())
	assert.False(t, policy.IsAllowed(ctx, mustParse(t, srv.URL+"/x")))
}
