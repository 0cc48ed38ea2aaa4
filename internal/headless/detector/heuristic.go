// Package detector decides when a plain fetch should be re-done with a renderer.
package detector

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// DefaultMinContentLength is the visible-text length, in bytes, below which a
// page is assumed to be filled in by client-side script.
const DefaultMinContentLength = 512

// mountPoints are the containers single-page frameworks render into. An
// empty one means the server sent a shell.
var mountPoints = []string{
	"#__next",
	"#__nuxt",
	"#root",
	"#app",
	"[data-reactroot]",
	"[ng-version]",
	"app-root",
}

// Heuristic implements crawler.RenderDetector.
type Heuristic struct {
	MinContentLength int
}

// NewHeuristic creates a new detector.
func NewHeuristic(minContentLength int) *Heuristic {
	if minContentLength <= 0 {
		minContentLength = DefaultMinContentLength
	}
	return &Heuristic{MinContentLength: minContentLength}
}

// ShouldRender reports whether a 2xx plain fetch looks like a script shell.
// Error statuses are never rendered.
func (h *Heuristic) ShouldRender(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return len(resp.Body) < h.MinContentLength
	}
	if asksForScript(doc) || emptyMount(doc) {
		return true
	}
	return visibleTextLen(doc) < h.MinContentLength
}

func asksForScript(doc *goquery.Document) bool {
	found := false
	doc.Find("noscript").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(s.Text())
		found = strings.Contains(text, "enable javascript") || strings.Contains(text, "requires javascript")
		return !found
	})
	return found
}

func emptyMount(doc *goquery.Document) bool {
	for _, sel := range mountPoints {
		mount := doc.Find(sel).First()
		if mount.Length() == 0 {
			continue
		}
		if strings.TrimSpace(mount.Text()) == "" {
			return true
		}
	}
	return false
}

// visibleTextLen counts body text outside script-like elements, with
// whitespace runs collapsed.
func visibleTextLen(doc *goquery.Document) int {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template, svg").Remove()
	n := 0
	gap := false
	for _, r := range body.Text() {
		if unicode.IsSpace(r) {
			gap = true
			continue
		}
		if gap && n > 0 {
			n++
		}
		gap = false
		n += utf8.RuneLen(r)
	}
	return n
}
