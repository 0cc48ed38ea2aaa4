package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

func column(t *testing.T, name string) int {
	t.Helper()
	for i, c := range Columns() {
		if c == name {
			return i
		}
	}
	t.Fatalf("no column %q", name)
	return -1
}

func TestColumnsCoverEveryCategory(t *testing.T) {
	t.Parallel()

	cols := Columns()
	assert.Equal(t, "id", cols[0])
	for _, c := range crawler.Categories {
		for _, suffix := range []string{"_vendor", "_confidence", "_evidence", "_vendors"} {
			assert.Contains(t, cols, string(c)+suffix)
		}
	}
	assert.Contains(t, cols, "third_party_vendors")
	assert.Contains(t, cols, "partial")
}

func TestRowProjection(t *testing.T) {
	t.Parallel()

	rec := crawler.DetectionRecord{
		ID:               "7",
		Name:             "Bright Smiles",
		Website:          "http://bright.com",
		FinalURL:         "https://bright.com/",
		HTTPStatus:       200,
		Status:           crawler.StatusProfiled,
		HasOnlineBooking: true,
		Results: map[crawler.Category]crawler.CategoryResult{
			crawler.CategoryBooking: {
				Vendor:     "NexHealth",
				Confidence: crawler.ConfidenceHigh,
				Evidence: []crawler.Evidence{
					{Vendor: "NexHealth", Tier: crawler.TierStrong, Excerpt: "book; now\nonline"},
					{Vendor: crawler.VendorOther, Unranked: true, Excerpt: "schedule"},
				},
				Vendors: []crawler.VendorScore{{Vendor: "NexHealth", Score: 3}, {Vendor: "Zocdoc", Score: 1}},
			},
			crawler.CategoryPhone: {
				Vendor:  "Weave",
				Vendors: []crawler.VendorScore{{Vendor: "Weave", Score: 2}, {Vendor: "Zocdoc", Score: 1}},
			},
		},
		EvidenceURLs: []string{"https://bright.com/", "https://bright.com/book"},
		BookingURLs:  []string{"https://app.nexhealth.com/b"},
		RunID:        "run-9",
		CrawledAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	row := Row(rec)
	require.Len(t, row, len(Columns()))
	assert.Equal(t, "200", row[column(t, "http_status")])
	assert.Equal(t, "true", row[column(t, "has_online_booking")])
	assert.Equal(t, "NexHealth", row[column(t, "booking_vendor")])
	assert.Equal(t, "high", row[column(t, "booking_confidence")])
	assert.Equal(t, "NexHealth:strong:book, now online;other:presence:schedule", row[column(t, "booking_evidence")])
	assert.Equal(t, "NexHealth(3);Zocdoc(1)", row[column(t, "booking_vendors")])
	assert.Equal(t, "unknown", row[column(t, "pms_vendor")])
	assert.Equal(t, "none", row[column(t, "pms_confidence")])
	assert.Equal(t, "NexHealth;Weave;Zocdoc", row[column(t, "third_party_vendors")])
	assert.Equal(t, "https://bright.com/;https://bright.com/book", row[column(t, "evidence_urls")])
	assert.Equal(t, "false", row[column(t, "partial")])
	assert.Equal(t, "2026-01-02T03:04:05Z", row[column(t, "crawled_at")])
}

func TestRowUnreachableHasEmptyStatus(t *testing.T) {
	t.Parallel()

	row := Row(crawler.DetectionRecord{ID: "1", Status: crawler.StatusUnreachable})
	assert.Empty(t, row[column(t, "http_status")])
	assert.Empty(t, row[column(t, "crawled_at")])
	assert.Equal(t, "unreachable", row[column(t, "status")])
}
