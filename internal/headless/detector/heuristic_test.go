package detector

import (
	"bytes"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

func page(body string) crawler.FetchResponse {
	return crawler.FetchResponse{StatusCode: 200, Body: []byte("<html><head><title>Smile Dental</title></head><body>" + body + "</body></html>")}
}

func paragraphs(n int) string {
	return strings.Repeat("<p>We welcome new patients. Call us to schedule a cleaning or exam.</p>\n", n)
}

func mustDoc(t *testing.T, resp crawler.FetchResponse) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	require.NoError(t, err)
	return doc
}

func TestShouldRender(t *testing.T) {
	t.Parallel()
	h := NewHeuristic(200)

	cases := []struct {
		name string
		resp crawler.FetchResponse
		want bool
	}{
		{"empty body", crawler.FetchResponse{StatusCode: 200}, true},
		{"whitespace body", crawler.FetchResponse{StatusCode: 200, Body: []byte(" \n ")}, true},
		{"rich server page", page(paragraphs(10)), false},
		{"thin page", page("<p>Welcome</p>"), true},
		{"empty next mount", page(`<div id="__next"></div>` + paragraphs(10)), true},
		{"rendered next mount", page(`<div id="__next">` + paragraphs(10) + `</div>`), false},
		{"angular shell", page(`<app-root ng-version="17.0.0"></app-root>`), true},
		{"noscript prompt", page(`<noscript>Please ENABLE JavaScript to book.</noscript>` + paragraphs(10)), true},
		{"noscript tracking pixel", page(`<noscript><img src="/px.gif"></noscript>` + paragraphs(10)), false},
		{"script heavy shell", page(`<script>` + strings.Repeat("var a=1;", 500) + `</script><p>Loading</p>`), true},
		{"not found", crawler.FetchResponse{StatusCode: 404, Body: []byte("not found")}, false},
		{"server error", crawler.FetchResponse{StatusCode: 503}, false},
		{"redirect", crawler.FetchResponse{StatusCode: 301}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, h.ShouldRender(tc.resp))
		})
	}
}

func TestNewHeuristicDefault(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultMinContentLength, NewHeuristic(0).MinContentLength)
	assert.Equal(t, DefaultMinContentLength, NewHeuristic(-5).MinContentLength)
	assert.Equal(t, 64, NewHeuristic(64).MinContentLength)
}

func TestVisibleTextIgnoresScriptsAndCollapsesSpace(t *testing.T) {
	t.Parallel()
	resp := page("<style>p{color:red}</style><p>Open   Dental</p>\n\n<script>track()</script><template>x</template>")
	doc := mustDoc(t, resp)
	// "Smile Dental" sits in <head> and does not count.
	assert.Equal(t, len("Open Dental"), visibleTextLen(doc))
}
