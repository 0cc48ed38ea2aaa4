// Package politeness spaces consecutive fetches to the same host.
package politeness

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
	"github.com/JakeFAU/practice-vendor-crawler/internal/metrics"
)

const (
	defaultDelay       = time.Second
	defaultBackoffBase = 2 * time.Second
	defaultBackoffMax  = 60 * time.Second
)

// Config controls per-host spacing.
type Config struct {
	Delay       time.Duration
	Jitter      time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Gate maps each host to the earliest time its next fetch may begin.
type Gate struct {
	mu     sync.Mutex
	cfg    Config
	clock  crawler.Clock
	hosts  map[string]*hostState
	jitter func(limit time.Duration) time.Duration
}

type hostState struct {
	next      time.Time
	floor     time.Duration
	backoff   time.Duration
	penalties int
	maxBack   time.Duration
}

// HostState is a read-only view of one host's spacing.
type HostState struct {
	Floor      time.Duration
	Backoff    time.Duration
	MaxBackoff time.Duration
	Penalties  int
}

// New builds a Gate. Zero durations fall back to the defaults; a negative
// Delay disables the configured spacing.
func New(cfg Config, clock crawler.Clock) *Gate {
	if cfg.Delay == 0 {
		cfg.Delay = defaultDelay
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = defaultBackoffMax
	}
	return &Gate{
		cfg:    cfg,
		clock:  clock,
		hosts:  make(map[string]*hostState),
		jitter: randomJitter,
	}
}

// AwaitTurn reserves the host's next slot and sleeps until it opens. Callers
// for the same host are served in reservation order; other hosts are never
// held up.
func (g *Gate) AwaitTurn(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	st := g.state(host)
	now := g.clock.Now()
	start := now
	if st.next.After(now) {
		start = st.next
	}
	st.next = start.Add(g.interval(st))
	g.mu.Unlock()

	wait := start.Sub(now)
	metrics.ObservePolitenessWait(wait)
	if wait <= 0 {
		return nil
	}
	return g.clock.Sleep(ctx, wait)
}

// SetFloor raises the minimum spacing for host, typically from a robots
// Crawl-delay.
func (g *Gate) SetFloor(host string, floor time.Duration) {
	if floor <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(host)
	if floor > st.floor {
		st.floor = floor
	}
}

// Penalize doubles the host's backoff after a 429 or 503 and pushes its next
// slot out accordingly. It returns the new backoff.
func (g *Gate) Penalize(host string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(host)
	switch {
	case st.backoff == 0:
		st.backoff = g.cfg.BackoffBase
	case st.backoff*2 > g.cfg.BackoffMax:
		st.backoff = g.cfg.BackoffMax
	default:
		st.backoff *= 2
	}
	st.penalties++
	if st.backoff > st.maxBack {
		st.maxBack = st.backoff
	}
	if earliest := g.clock.Now().Add(st.backoff); earliest.After(st.next) {
		st.next = earliest
	}
	metrics.ObserveHostBackoff()
	return st.backoff
}

// Reset clears the host's backoff after a successful answer.
func (g *Gate) Reset(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.hosts[host]; ok {
		st.backoff = 0
	}
}

// State reports the host's current spacing.
func (g *Gate) State(host string) HostState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.hosts[host]
	if !ok {
		return HostState{}
	}
	return HostState{Floor: st.floor, Backoff: st.backoff, MaxBackoff: st.maxBack, Penalties: st.penalties}
}

func (g *Gate) state(host string) *hostState {
	st, ok := g.hosts[host]
	if !ok {
		st = &hostState{}
		g.hosts[host] = st
	}
	return st
}

func (g *Gate) interval(st *hostState) time.Duration {
	d := g.cfg.Delay
	if g.cfg.Jitter > 0 {
		d += g.jitter(g.cfg.Jitter)
	}
	if st.floor > d {
		d = st.floor
	}
	if st.backoff > d {
		d = st.backoff
	}
	return d
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}
