package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                           { return c.now }
func (fixedClock) Sleep(context.Context, time.Duration) error { return nil }

var crawlTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func site() crawler.InputSite {
	return crawler.InputSite{ID: "42", Name: "Smile Dental", Website: "smile.com"}
}

func TestAssembleProfiledSite(t *testing.T) {
	t.Parallel()

	booking := crawler.CategoryResult{
		Category:   crawler.CategoryBooking,
		Vendor:     "Weave",
		Confidence: crawler.ConfidenceHigh,
		Evidence: []crawler.Evidence{
			{Category: crawler.CategoryBooking, Vendor: "Weave", Tier: crawler.TierWeak, PageURL: "http://smile.com/contact"},
			{Category: crawler.CategoryBooking, Vendor: "Weave", Tier: crawler.TierStrong, PageURL: "http://smile.com/book"},
		},
		Vendors: []crawler.VendorScore{{Vendor: "Weave", Score: 4, BestTier: crawler.TierStrong, Pages: 2}},
	}
	forms := crawler.CategoryResult{
		Category:   crawler.CategoryForms,
		Vendor:     crawler.VendorUnknown,
		Confidence: crawler.ConfidenceNone,
		Evidence: []crawler.Evidence{
			{Category: crawler.CategoryForms, Vendor: crawler.VendorOther, Unranked: true, PageURL: "http://smile.com/forms"},
		},
	}

	a := NewAssembler("run-1", fixedClock{now: crawlTime}, 0)
	rec := a.Assemble(Visit{
		Site:    site(),
		Website: "http://smile.com",
		Pages: []crawler.PageOutcome{
			{URL: "http://smile.com/", FinalURL: "https://www.smile.com/", StatusCode: 200, Outcome: crawler.OutcomeOK},
			{URL: "http://smile.com/book", StatusCode: 200, Outcome: crawler.OutcomeOK},
		},
		Results: map[crawler.Category]crawler.CategoryResult{
			crawler.CategoryBooking: booking,
			crawler.CategoryForms:   forms,
		},
		ServiceURLs: map[crawler.Category][]string{crawler.CategoryBooking: {"https://book.getweave.com/smile"}},
	})

	assert.Equal(t, crawler.StatusProfiled, rec.Status)
	assert.Equal(t, "https://www.smile.com/", rec.FinalURL)
	assert.Equal(t, 200, rec.HTTPStatus)
	assert.Equal(t, "http://smile.com", rec.Website)
	assert.True(t, rec.HasOnlineBooking)
	assert.True(t, rec.HasOnlineForms, "presence evidence alone sets the flag")
	assert.False(t, rec.HasOnlinePayments)
	assert.Len(t, rec.Results, len(crawler.Categories))
	assert.Equal(t, crawler.VendorUnknown, rec.Results[crawler.CategoryPMS].Vendor)
	assert.Equal(t, []string{"http://smile.com/book", "http://smile.com/contact", "http://smile.com/forms"}, rec.EvidenceURLs)
	assert.Equal(t, []string{"https://book.getweave.com/smile"}, rec.BookingURLs)
	assert.NotNil(t, rec.PaymentURLs)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, crawlTime, rec.CrawledAt)
}

func TestAssembleFallsBackToFirstReadablePage(t *testing.T) {
	t.Parallel()

	rec := NewAssembler("r", nil, 0).Assemble(Visit{
		Site: site(),
		Pages: []crawler.PageOutcome{
			{URL: "http://smile.com/", StatusCode: 500, Outcome: crawler.OutcomeHTTPError},
			{URL: "http://smile.com/book", StatusCode: 200, Outcome: crawler.OutcomeOK},
		},
	})
	assert.Equal(t, crawler.StatusProfiled, rec.Status)
	assert.Equal(t, "http://smile.com/book", rec.FinalURL)
	assert.Equal(t, 200, rec.HTTPStatus)
	assert.Equal(t, "smile.com", rec.Website)
}

func TestAssembleUnreachable(t *testing.T) {
	t.Parallel()

	rec := NewAssembler("r", nil, 0).Assemble(Visit{
		Site: site(),
		Pages: []crawler.PageOutcome{
			{URL: "http://smile.com/", StatusCode: 503, FinalURL: "http://smile.com/", Outcome: crawler.OutcomeHTTPError},
			{URL: "http://smile.com/book", Outcome: crawler.OutcomeSkipped},
		},
		Partial: true,
	})
	assert.Equal(t, crawler.StatusUnreachable, rec.Status)
	assert.Equal(t, 503, rec.HTTPStatus)
	assert.True(t, rec.Partial)
	assert.False(t, rec.HasOnlineBooking)
	assert.Empty(t, rec.EvidenceURLs)
	for _, c := range crawler.Categories {
		assert.Equal(t, crawler.ConfidenceNone, rec.Results[c].Confidence)
	}
}

func TestEvidenceURLsAreCapped(t *testing.T) {
	t.Parallel()

	var evidence []crawler.Evidence
	for _, p := range []string{"a", "b", "c", "d"} {
		evidence = append(evidence, crawler.Evidence{Category: crawler.CategoryPMS, Vendor: "Dentrix", Tier: crawler.TierWeak, PageURL: "http://x.com/" + p})
	}
	rec := NewAssembler("r", nil, 2).Assemble(Visit{
		Site:    site(),
		Results: map[crawler.Category]crawler.CategoryResult{crawler.CategoryPMS: {Category: crawler.CategoryPMS, Evidence: evidence}},
	})
	require.Len(t, rec.EvidenceURLs, 2)
	assert.Equal(t, "http://x.com/a", rec.EvidenceURLs[0])
}
