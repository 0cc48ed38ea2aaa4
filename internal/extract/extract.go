// Package extract scans one fetched page for vendor signature matches.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
	"github.com/JakeFAU/practice-vendor-crawler/internal/signatures"
)

const excerptRadius = 60

// DefaultServiceURLLimit caps the external service URLs kept per category.
const DefaultServiceURLLimit = 5

var whitespace = regexp.MustCompile(`\s+`)

// Findings is everything a page yielded.
type Findings struct {
	Evidence  []crawler.Evidence
	Links     []string
	Challenge bool
}

// Extractor matches pages against a signature store.
type Extractor struct {
	store *signatures.Store
}

// New builds an Extractor.
func New(store *signatures.Store) *Extractor {
	return &Extractor{store: store}
}

// Extract returns the deduplicated evidence found on page.
func (e *Extractor) Extract(page crawler.FetchedPage) []crawler.Evidence {
	return e.Analyze(page).Evidence
}

// Analyze returns evidence and outbound links for a usable page. Failed
// fetches and challenge pages yield no evidence.
func (e *Extractor) Analyze(page crawler.FetchedPage) Findings {
	if !page.OK() || page.Content == "" {
		return Findings{}
	}
	if IsChallenge(page.Content) {
		return Findings{Challenge: true}
	}

	pageURL := page.URL()
	links, text := parse(page.Content, pageURL)

	seen := make(map[string]struct{})
	var evidence []crawler.Evidence
	add := func(ev crawler.Evidence) {
		if _, dup := seen[ev.Key()]; dup {
			return
		}
		seen[ev.Key()] = struct{}{}
		evidence = append(evidence, ev)
	}

	for _, category := range crawler.Categories {
		set := e.store.Set(category)
		if set == nil {
			continue
		}
		for _, rule := range set.Rules {
			if set.ScanLinks {
				if link, ok := firstMatchingLink(rule.Pattern, links); ok {
					add(crawler.Evidence{
						Category: category,
						Vendor:   rule.Vendor,
						Tier:     rule.Tier,
						PageURL:  pageURL,
						Excerpt:  link,
						Source:   crawler.SourceLink,
					})
					continue
				}
			}
			if excerpt, ok := matchText(rule.Pattern, text, page.Content); ok {
				add(crawler.Evidence{
					Category: category,
					Vendor:   rule.Vendor,
					Tier:     rule.Tier,
					PageURL:  pageURL,
					Excerpt:  excerpt,
					Source:   crawler.SourceText,
				})
			}
		}
		for _, phrase := range set.Presence {
			if excerpt, ok := matchText(phrase, text, page.Content); ok {
				add(crawler.Evidence{
					Category: category,
					Vendor:   crawler.VendorOther,
					PageURL:  pageURL,
					Excerpt:  excerpt,
					Source:   crawler.SourceText,
					Unranked: true,
				})
				break
			}
		}
	}
	return Findings{Evidence: evidence, Links: links}
}

// ServiceURLs returns outbound links that look like a category's hosted
// service and live on a different registrable domain than the practice.
func (e *Extractor) ServiceURLs(category crawler.Category, links []string, practiceHost string, limit int) []string {
	set := e.store.Set(category)
	if set == nil || len(set.ServiceURLs) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = DefaultServiceURLLimit
	}
	practice := registrableDomain(practiceHost)
	seen := make(map[string]struct{})
	var out []string
	for _, link := range links {
		if len(out) >= limit {
			break
		}
		if _, dup := seen[link]; dup {
			continue
		}
		u, err := url.Parse(link)
		if err != nil || u.Hostname() == "" {
			continue
		}
		if practice != "" && registrableDomain(u.Hostname()) == practice {
			continue
		}
		for _, re := range set.ServiceURLs {
			if re.MatchString(link) {
				seen[link] = struct{}{}
				out = append(out, link)
				break
			}
		}
	}
	return out
}

// parse returns resolved outbound links and the visible text of content.
func parse(content, pageURL string) ([]string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, ""
	}
	base, _ := url.Parse(pageURL)

	seen := make(map[string]struct{})
	var links []string
	collect := func(raw string) {
		resolved, ok := resolve(base, raw)
		if !ok {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	}
	for _, sel := range []struct{ query, attr string }{
		{"a[href]", "href"},
		{"script[src]", "src"},
		{"iframe[src]", "src"},
		{"form[action]", "action"},
	} {
		doc.Find(sel.query).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(sel.attr); ok {
				collect(v)
			}
		})
	}

	doc.Find("script, style, noscript, template").Remove()
	text := strings.TrimSpace(whitespace.ReplaceAllString(doc.Text(), " "))
	return links, text
}

func resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	ref.Fragment = ""
	return ref.String(), true
}

func firstMatchingLink(re *regexp.Regexp, links []string) (string, bool) {
	for _, link := range links {
		if re.MatchString(link) {
			return link, true
		}
	}
	return "", false
}

// matchText tries visible text first so excerpts read naturally, then the
// raw markup for matches hidden in attributes or inline script.
func matchText(re *regexp.Regexp, haystacks ...string) (string, bool) {
	for _, h := range haystacks {
		if h == "" {
			continue
		}
		if loc := re.FindStringIndex(h); loc != nil {
			return excerpt(h, loc[0], loc[1]), true
		}
	}
	return "", false
}

func excerpt(s string, start, end int) string {
	from := max(start-excerptRadius, 0)
	to := min(end+excerptRadius, len(s))
	for from > 0 && !utf8Start(s[from]) {
		from--
	}
	for to < len(s) && !utf8Start(s[to]) {
		to++
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(s[from:to], " "))
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

func registrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
