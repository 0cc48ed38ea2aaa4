package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultSubpaths are the candidate pages fetched after the homepage.
var DefaultSubpaths = []string{
	"/appointment",
	"/appointments",
	"/book",
	"/schedule",
	"/forms",
	"/new-patient-forms",
	"/pay",
	"/payment",
	"/patient-portal",
	"/portal",
	"/contact",
}

var errEmptyWebsite = errors.New("website is empty")

// NormalizeWebsite turns a declared roster website into an absolute base URL.
// A missing scheme becomes http, fragments and queries are dropped and the
// trailing slash is removed.
func NormalizeWebsite(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errEmptyWebsite
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if strings.Contains(raw, "://") {
			return nil, fmt.Errorf("unsupported scheme in %q", raw)
		}
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse website: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Hostname() == "" || strings.ContainsAny(u.Hostname(), " \t") {
		return nil, fmt.Errorf("website %q has no host", raw)
	}
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u, nil
}

// CandidateTargets returns the homepage followed by each subpath joined onto
// the base URL. Duplicates are dropped, order is preserved.
func CandidateTargets(base *url.URL, subpaths []string) []string {
	if base == nil {
		return nil
	}
	home := *base
	if home.Path == "" {
		home.Path = "/"
	}
	targets := []string{home.String()}
	seen := map[string]struct{}{targets[0]: {}}
	for _, sub := range subpaths {
		sub = strings.TrimSpace(sub)
		if sub == "" || sub == "/" {
			continue
		}
		next := *base
		next.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(sub, "/")
		s := next.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		targets = append(targets, s)
	}
	return targets
}

// HostKey is the lowercased host, including any explicit port, used for
// per-host state such as robots rules and politeness slots.
func HostKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// SameHost reports whether both URLs point at the same host.
func SameHost(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Hostname(), b.Hostname())
}
