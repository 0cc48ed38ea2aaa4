// Package aggregate reduces per-page evidence into one vendor guess per
// category.
//
// Each distinct (tier, page) entry for a vendor adds its tier weight
// (strong 3, medium 2, weak 1). The highest score wins; ties go to the
// vendor with a strong hit, then to the vendor seen on more pages, then to
// lexical order. Unranked presence evidence is kept on the result but never
// scored.
package aggregate

import (
	"sort"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// MinScore is the lowest score that names a vendor: one weak hit.
const MinScore = 1

type tally struct {
	vendor    string
	score     int
	bestTier  crawler.Tier
	pages     map[string]struct{}
	weakPages map[string]struct{}
}

// Aggregate builds the CategoryResult for category from evidence gathered
// across all of a site's pages. Evidence of other categories is ignored.
func Aggregate(category crawler.Category, evidence []crawler.Evidence) crawler.CategoryResult {
	result := crawler.UnknownResult(category)

	kept := dedupe(category, evidence)
	if len(kept) == 0 {
		return result
	}
	result.Evidence = kept

	tallies := make(map[string]*tally)
	for _, ev := range kept {
		if ev.Unranked || ev.Tier.Weight() == 0 {
			continue
		}
		t, ok := tallies[ev.Vendor]
		if !ok {
			t = &tally{vendor: ev.Vendor, pages: map[string]struct{}{}, weakPages: map[string]struct{}{}}
			tallies[ev.Vendor] = t
		}
		t.score += ev.Tier.Weight()
		t.pages[ev.PageURL] = struct{}{}
		if ev.Tier.Weight() > t.bestTier.Weight() {
			t.bestTier = ev.Tier
		}
		if ev.Tier == crawler.TierWeak {
			t.weakPages[ev.PageURL] = struct{}{}
		}
	}
	if len(tallies) == 0 {
		return result
	}

	ranked := make([]*tally, 0, len(tallies))
	for _, t := range tallies {
		ranked = append(ranked, t)
	}
	sort.Slice(ranked, func(i, j int) bool { return less(ranked[i], ranked[j]) })

	result.Vendors = make([]crawler.VendorScore, 0, len(ranked))
	for _, t := range ranked {
		result.Vendors = append(result.Vendors, crawler.VendorScore{
			Vendor:   t.vendor,
			Score:    t.score,
			BestTier: t.bestTier,
			Pages:    len(t.pages),
		})
	}

	winner := ranked[0]
	if winner.score < MinScore {
		return result
	}
	result.Vendor = winner.vendor
	result.Confidence = confidence(winner)
	return result
}

// Upgrade folds extra evidence into an existing result. The guess and
// confidence may rise but never fall.
func Upgrade(current crawler.CategoryResult, extra []crawler.Evidence) crawler.CategoryResult {
	category := current.Category
	merged := make([]crawler.Evidence, 0, len(current.Evidence)+len(extra))
	merged = append(merged, current.Evidence...)
	merged = append(merged, extra...)

	combined := Aggregate(category, merged)
	if combined.Confidence.Rank() >= current.Confidence.Rank() {
		return combined
	}
	current.Evidence = combined.Evidence
	current.Vendors = combined.Vendors
	return current
}

// less orders tallies best first.
func less(a, b *tally) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	aStrong, bStrong := a.bestTier == crawler.TierStrong, b.bestTier == crawler.TierStrong
	if aStrong != bStrong {
		return aStrong
	}
	if len(a.pages) != len(b.pages) {
		return len(a.pages) > len(b.pages)
	}
	return a.vendor < b.vendor
}

func confidence(t *tally) crawler.Confidence {
	switch {
	case t.bestTier == crawler.TierStrong:
		return crawler.ConfidenceHigh
	case t.bestTier == crawler.TierMedium, len(t.weakPages) >= 2:
		return crawler.ConfidenceMedium
	default:
		return crawler.ConfidenceLow
	}
}

// dedupe keeps one entry per (vendor, tier, page) for category and orders
// them strongest tier first, keeping discovery order within a tier.
func dedupe(category crawler.Category, evidence []crawler.Evidence) []crawler.Evidence {
	seen := make(map[string]struct{}, len(evidence))
	out := make([]crawler.Evidence, 0, len(evidence))
	for _, ev := range evidence {
		if ev.Category != category {
			continue
		}
		if _, dup := seen[ev.Key()]; dup {
			continue
		}
		seen[ev.Key()] = struct{}{}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Tier.Weight() > out[j].Tier.Weight()
	})
	return out
}
