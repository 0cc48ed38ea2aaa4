package record

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

const listSep = ";"

var excerptCleaner = strings.NewReplacer(";", ",", "\n", " ", "\r", " ", "\t", " ")

// thirdPartyCategories feed the third_party_vendors column.
var thirdPartyCategories = []crawler.Category{
	crawler.CategoryBooking,
	crawler.CategoryPayment,
	crawler.CategoryForms,
	crawler.CategoryPhone,
}

// Columns is the header of the tabular output.
func Columns() []string {
	cols := []string{
		"id", "name", "website", "final_url", "http_status", "status",
		"has_online_booking", "has_online_payments", "has_online_forms",
	}
	for _, c := range crawler.Categories {
		p := string(c)
		cols = append(cols, p+"_vendor", p+"_confidence", p+"_evidence", p+"_vendors")
	}
	return append(cols,
		"third_party_vendors", "evidence_urls",
		"booking_urls", "payment_urls", "forms_urls",
		"partial", "run_id", "crawled_at",
	)
}

// Row projects rec onto Columns.
func Row(rec crawler.DetectionRecord) []string {
	status := ""
	if rec.HTTPStatus > 0 {
		status = strconv.Itoa(rec.HTTPStatus)
	}
	row := []string{
		rec.ID, rec.Name, rec.Website, rec.FinalURL, status, string(rec.Status),
		strconv.FormatBool(rec.HasOnlineBooking),
		strconv.FormatBool(rec.HasOnlinePayments),
		strconv.FormatBool(rec.HasOnlineForms),
	}
	for _, c := range crawler.Categories {
		res := rec.Result(c)
		row = append(row, res.Vendor, string(res.Confidence), evidenceCell(res.Evidence), vendorsCell(res.Vendors))
	}
	crawledAt := ""
	if !rec.CrawledAt.IsZero() {
		crawledAt = rec.CrawledAt.UTC().Format(time.RFC3339)
	}
	return append(row,
		strings.Join(ThirdPartyVendors(rec), listSep),
		strings.Join(rec.EvidenceURLs, listSep),
		strings.Join(rec.BookingURLs, listSep),
		strings.Join(rec.PaymentURLs, listSep),
		strings.Join(rec.FormsURLs, listSep),
		strconv.FormatBool(rec.Partial),
		rec.RunID,
		crawledAt,
	)
}

// ThirdPartyVendors lists every vendor seen in the booking, payment, forms
// and phone categories, whether or not it won its category.
func ThirdPartyVendors(rec crawler.DetectionRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range thirdPartyCategories {
		for _, v := range rec.Result(c).Vendors {
			if _, dup := seen[v.Vendor]; dup {
				continue
			}
			seen[v.Vendor] = struct{}{}
			out = append(out, v.Vendor)
		}
	}
	sort.Strings(out)
	return out
}

func evidenceCell(evidence []crawler.Evidence) string {
	parts := make([]string, 0, len(evidence))
	for _, ev := range evidence {
		tier := string(ev.Tier)
		if ev.Unranked {
			tier = "presence"
		}
		parts = append(parts, ev.Vendor+":"+tier+":"+excerptCleaner.Replace(ev.Excerpt))
	}
	return strings.Join(parts, listSep)
}

func vendorsCell(vendors []crawler.VendorScore) string {
	parts := make([]string, 0, len(vendors))
	for _, v := range vendors {
		parts = append(parts, v.Vendor+"("+strconv.Itoa(v.Score)+")")
	}
	return strings.Join(parts, listSep)
}
