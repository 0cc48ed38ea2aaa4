package crawler

import (
	"net/http"
	"time"
)

// Category is one of the detection domains a signature belongs to.
type Category string

// Supported categories.
const (
	CategoryPMS     Category = "pms"
	CategoryBooking Category = "booking"
	CategoryPayment Category = "payment"
	CategoryForms   Category = "forms"
	CategoryPhone   Category = "phone"
)

// Categories lists every category in output order.
var Categories = []Category{
	CategoryPMS,
	CategoryBooking,
	CategoryPayment,
	CategoryForms,
	CategoryPhone,
}

// ParseCategory validates a category name.
func ParseCategory(raw string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == raw {
			return c, true
		}
	}
	return "", false
}

// Tier classifies how uniquely a pattern identifies a vendor.
type Tier string

// Supported tiers.
const (
	TierStrong Tier = "strong"
	TierMedium Tier = "medium"
	TierWeak   Tier = "weak"
)

// Tiers lists tiers from strongest to weakest.
var Tiers = []Tier{TierStrong, TierMedium, TierWeak}

// ParseTier validates a tier name.
func ParseTier(raw string) (Tier, bool) {
	for _, t := range Tiers {
		if string(t) == raw {
			return t, true
		}
	}
	return "", false
}

// Weight is the score contribution of one evidence entry of this tier.
func (t Tier) Weight() int {
	switch t {
	case TierStrong:
		return 3
	case TierMedium:
		return 2
	case TierWeak:
		return 1
	default:
		return 0
	}
}

// Confidence is the label attached to a category's best guess.
type Confidence string

// Confidence labels. ConfidenceNone accompanies an unknown guess.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Rank orders confidence labels; higher is stronger.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

const (
	// VendorUnknown is the guess when no vendor has enough evidence.
	VendorUnknown = "unknown"
	// VendorOther names unranked presence evidence.
	VendorOther = "other"
)

// InputSite is one roster row.
type InputSite struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Website string `json:"website"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// FetchedPage is the outcome of one fetch attempt. It lives only for the
// duration of a visit.
type FetchedPage struct {
	SourceURL   string
	FinalURL    string
	StatusCode  int
	ContentType string
	Content     string
	Rendered    bool
	Duration    time.Duration
	Err         error
	// RenderErr is set when a rendering fallback was attempted and failed;
	// the rest of the page is then the plain fetch result.
	RenderErr error
}

// OK reports whether the fetch produced a usable 2xx/3xx response.
func (p FetchedPage) OK() bool {
	return p.Err == nil && p.StatusCode >= http.StatusOK && p.StatusCode < http.StatusBadRequest
}

// URL returns the address evidence on this page is attributed to.
func (p FetchedPage) URL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.SourceURL
}

// FetchRequest is the input to a plain or rendered fetch.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the transport-level result of a plain or rendered fetch.
type FetchResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	Rendered    bool
	ContentType string
}

// EvidenceSource says where a match was found on the page.
type EvidenceSource string

// Evidence sources.
const (
	SourceText EvidenceSource = "text"
	SourceLink EvidenceSource = "link"
)

// Evidence links one page to one vendor signature match.
type Evidence struct {
	Category Category       `json:"category"`
	Vendor   string         `json:"vendor"`
	Tier     Tier           `json:"tier,omitempty"`
	PageURL  string         `json:"page_url"`
	Excerpt  string         `json:"excerpt"`
	Source   EvidenceSource `json:"source"`
	Unranked bool           `json:"unranked,omitempty"`
}

// Key identifies an evidence entry for deduplication within one page.
func (e Evidence) Key() string {
	return string(e.Category) + "\x00" + e.Vendor + "\x00" + string(e.Tier) + "\x00" + e.PageURL
}

// VendorScore is one row of a category's ranked vendor list.
type VendorScore struct {
	Vendor   string `json:"vendor"`
	Score    int    `json:"score"`
	BestTier Tier   `json:"best_tier"`
	Pages    int    `json:"pages"`
}

// CategoryResult is the aggregated outcome for one category.
type CategoryResult struct {
	Category   Category      `json:"category"`
	Vendor     string        `json:"vendor"`
	Confidence Confidence    `json:"confidence"`
	Evidence   []Evidence    `json:"evidence"`
	Vendors    []VendorScore `json:"vendors"`
}

// SiteStatus summarizes whether any page of the site could be read.
type SiteStatus string

// Site statuses.
const (
	StatusProfiled    SiteStatus = "profiled"
	StatusUnreachable SiteStatus = "unreachable"
)

// Outcome is the terminal state of one candidate target.
type Outcome string

// Per-target outcomes.
const (
	OutcomeOK               Outcome = "ok"
	OutcomeHTTPError        Outcome = "http_error"
	OutcomeTransportFailure Outcome = "transport_failure"
	OutcomePolicyBlocked    Outcome = "policy_blocked"
	OutcomeHostBlocked      Outcome = "host_blocked"
	OutcomeChallenge        Outcome = "challenge"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeSkipped          Outcome = "skipped"
)

// PageOutcome is the per-target diagnostic kept on the record.
type PageOutcome struct {
	URL         string  `json:"url"`
	FinalURL    string  `json:"final_url,omitempty"`
	StatusCode  int     `json:"status_code,omitempty"`
	Outcome     Outcome `json:"outcome"`
	Rendered    bool    `json:"rendered,omitempty"`
	RenderError string  `json:"render_error,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// DetectionRecord is the single output row for one roster site.
type DetectionRecord struct {
	ID                string                      `json:"id"`
	Name              string                      `json:"name"`
	Website           string                      `json:"website"`
	FinalURL          string                      `json:"final_url"`
	HTTPStatus        int                         `json:"http_status"`
	Status            SiteStatus                  `json:"status"`
	HasOnlineBooking  bool                        `json:"has_online_booking"`
	HasOnlinePayments bool                        `json:"has_online_payments"`
	HasOnlineForms    bool                        `json:"has_online_forms"`
	Results           map[Category]CategoryResult `json:"results"`
	EvidenceURLs      []string                    `json:"evidence_urls"`
	BookingURLs       []string                    `json:"booking_urls"`
	PaymentURLs       []string                    `json:"payment_urls"`
	FormsURLs         []string                    `json:"forms_urls"`
	Pages             []PageOutcome               `json:"pages"`
	Partial           bool                        `json:"partial,omitempty"`
	RunID             string                      `json:"run_id"`
	CrawledAt         time.Time                   `json:"crawled_at"`
}

// Result returns the category result, or an unknown result when absent.
func (r DetectionRecord) Result(c Category) CategoryResult {
	if res, ok := r.Results[c]; ok {
		return res
	}
	return UnknownResult(c)
}

// UnknownResult is the result for a category with no evidence.
func UnknownResult(c Category) CategoryResult {
	return CategoryResult{
		Category:   c,
		Vendor:     VendorUnknown,
		Confidence: ConfidenceNone,
		Evidence:   []Evidence{},
		Vendors:    []VendorScore{},
	}
}
