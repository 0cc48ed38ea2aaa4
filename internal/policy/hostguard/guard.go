// Package hostguard decides which hosts a run should stop contacting.
//
// Two sources feed it: configured skip patterns (social and profile hosts
// that never carry a practice's own tooling) and observed behavior (a 403,
// or too many consecutive failures).
package hostguard

import (
	"net/http"
	"strings"
	"sync"
)

const defaultMaxConsecutiveErrors = 3

// Guard implements crawler.HostGuard.
type Guard struct {
	skip *patternList

	mu        sync.Mutex
	threshold int
	failures  map[string]int
	blocked   map[string]struct{}
}

// New builds a Guard from skip patterns ("example.com", "*.example.com" or
// ".example.com") and a consecutive-failure threshold.
func New(skipPatterns []string, maxConsecutiveErrors int) *Guard {
	if maxConsecutiveErrors <= 0 {
		maxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	return &Guard{
		skip:      newPatternList(skipPatterns),
		threshold: maxConsecutiveErrors,
		failures:  make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

// Skip reports whether host matches a configured skip pattern.
func (g *Guard) Skip(host string) bool {
	return g.skip.matches(stripPort(host))
}

// Blocked reports whether host was blocked earlier in the run.
func (g *Guard) Blocked(host string) bool {
	key := normalize(host)
	if key == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.blocked[key]
	return ok
}

// Observe feeds one fetch result for host and returns true once the host is
// blocked. A 403 blocks immediately; transport errors and 5xx answers count
// toward the threshold; anything else resets the streak.
func (g *Guard) Observe(host string, statusCode int, err error) bool {
	key := normalize(host)
	if key == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.blocked[key]; ok {
		return true
	}
	switch {
	case statusCode == http.StatusForbidden:
		g.blocked[key] = struct{}{}
		return true
	case err != nil || statusCode >= http.StatusInternalServerError:
		g.failures[key]++
		if g.failures[key] >= g.threshold {
			g.blocked[key] = struct{}{}
			return true
		}
	default:
		delete(g.failures, key)
	}
	return false
}

// BlockedHosts lists every blocked host.
func (g *Guard) BlockedHosts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.blocked))
	for h := range g.blocked {
		out = append(out, h)
	}
	return out
}

func normalize(host string) string {
	return strings.TrimSpace(strings.ToLower(host))
}

func stripPort(host string) string {
	host = normalize(host)
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i:], "]") {
		return host[:i]
	}
	return host
}

// patternList stores exact hosts and suffix wildcards.
type patternList struct {
	exact    map[string]struct{}
	suffixes []string
}

func newPatternList(patterns []string) *patternList {
	list := &patternList{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := normalize(raw)
		switch {
		case value == "":
			continue
		case strings.HasPrefix(value, "*."):
			list.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			list.addSuffix(strings.TrimPrefix(value, "."))
		default:
			list.exact[value] = struct{}{}
		}
	}
	if len(list.exact) == 0 && len(list.suffixes) == 0 {
		return nil
	}
	return list
}

func (l *patternList) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range l.suffixes {
		if existing == suffix {
			return
		}
	}
	l.suffixes = append(l.suffixes, suffix)
}

func (l *patternList) matches(host string) bool {
	if l == nil || host == "" {
		return false
	}
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
