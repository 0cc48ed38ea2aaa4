// Package record merges a visit's category results into one DetectionRecord
// and projects records onto the flat tabular output.
package record

import (
	"sort"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// DefaultMaxEvidenceURLs caps the evidence page URLs kept on a record.
const DefaultMaxEvidenceURLs = 5

// Visit is everything a site visit produced.
type Visit struct {
	Site        crawler.InputSite
	Website     string
	Pages       []crawler.PageOutcome
	Results     map[crawler.Category]crawler.CategoryResult
	ServiceURLs map[crawler.Category][]string
	Partial     bool
}

// Assembler builds DetectionRecords for one run.
type Assembler struct {
	runID           string
	clock           crawler.Clock
	maxEvidenceURLs int
}

// NewAssembler builds an Assembler stamping records with runID.
func NewAssembler(runID string, clock crawler.Clock, maxEvidenceURLs int) *Assembler {
	if maxEvidenceURLs <= 0 {
		maxEvidenceURLs = DefaultMaxEvidenceURLs
	}
	return &Assembler{runID: runID, clock: clock, maxEvidenceURLs: maxEvidenceURLs}
}

// Assemble merges v into a record. Presence flags follow evidence, not the
// vendor guess: any booking evidence at all sets HasOnlineBooking.
func (a *Assembler) Assemble(v Visit) crawler.DetectionRecord {
	website := v.Website
	if website == "" {
		website = v.Site.Website
	}
	rec := crawler.DetectionRecord{
		ID:          v.Site.ID,
		Name:        v.Site.Name,
		Website:     website,
		Status:      crawler.StatusUnreachable,
		Results:     make(map[crawler.Category]crawler.CategoryResult, len(crawler.Categories)),
		Pages:       append([]crawler.PageOutcome{}, v.Pages...),
		BookingURLs: nonNil(v.ServiceURLs[crawler.CategoryBooking]),
		PaymentURLs: nonNil(v.ServiceURLs[crawler.CategoryPayment]),
		FormsURLs:   nonNil(v.ServiceURLs[crawler.CategoryForms]),
		Partial:     v.Partial,
		RunID:       a.runID,
	}
	if a.clock != nil {
		rec.CrawledAt = a.clock.Now()
	}

	for _, c := range crawler.Categories {
		res, ok := v.Results[c]
		if !ok {
			res = crawler.UnknownResult(c)
		}
		rec.Results[c] = res
	}
	rec.HasOnlineBooking = len(rec.Results[crawler.CategoryBooking].Evidence) > 0
	rec.HasOnlinePayments = len(rec.Results[crawler.CategoryPayment].Evidence) > 0
	rec.HasOnlineForms = len(rec.Results[crawler.CategoryForms].Evidence) > 0

	if landing, ok := landingPage(v.Pages); ok {
		rec.Status = crawler.StatusProfiled
		rec.FinalURL = landing.FinalURL
		if rec.FinalURL == "" {
			rec.FinalURL = landing.URL
		}
		rec.HTTPStatus = landing.StatusCode
	} else if len(v.Pages) > 0 {
		rec.FinalURL = v.Pages[0].FinalURL
		rec.HTTPStatus = v.Pages[0].StatusCode
	}

	rec.EvidenceURLs = a.evidenceURLs(rec.Results)
	return rec
}

// landingPage is the homepage when it was read, otherwise the first page
// that was.
func landingPage(pages []crawler.PageOutcome) (crawler.PageOutcome, bool) {
	for _, p := range pages {
		if p.Outcome == crawler.OutcomeOK {
			return p, true
		}
	}
	return crawler.PageOutcome{}, false
}

// evidenceURLs lists the pages carrying evidence, strongest evidence first.
func (a *Assembler) evidenceURLs(results map[crawler.Category]crawler.CategoryResult) []string {
	var all []crawler.Evidence
	for _, c := range crawler.Categories {
		all = append(all, results[c].Evidence...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Tier.Weight() > all[j].Tier.Weight()
	})
	seen := make(map[string]struct{})
	out := []string{}
	for _, ev := range all {
		if len(out) >= a.maxEvidenceURLs {
			break
		}
		if ev.PageURL == "" {
			continue
		}
		if _, dup := seen[ev.PageURL]; dup {
			continue
		}
		seen[ev.PageURL] = struct{}{}
		out = append(out, ev.PageURL)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
