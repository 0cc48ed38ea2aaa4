package progress

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// HostStats summarizes everything that happened to one host during a run.
type HostStats struct {
	Host           string        `json:"host"`
	PagesAttempted int           `json:"pages_attempted"`
	PagesFetched   int           `json:"pages_fetched"`
	Status2xx      int           `json:"status_2xx"`
	Status403      int           `json:"status_403"`
	Status429      int           `json:"status_429"`
	Status5xx      int           `json:"status_5xx"`
	StatusOther4xx int           `json:"status_other_4xx"`
	Challenges     int           `json:"challenges"`
	Disallowed     int           `json:"disallowed"`
	Backoffs       int           `json:"backoffs"`
	MaxBackoff     time.Duration `json:"max_backoff_ns"`
	CrawlDelay     time.Duration `json:"crawl_delay_ns"`
	Blocked        bool          `json:"blocked"`
}

// HostReport collects per-host diagnostics. The zero value is not usable;
// call NewHostReport.
type HostReport struct {
	mu    sync.Mutex
	hosts map[string]*HostStats
}

// NewHostReport builds an empty report.
func NewHostReport() *HostReport {
	return &HostReport{hosts: make(map[string]*HostStats)}
}

func (r *HostReport) host(name string) *HostStats {
	st, ok := r.hosts[name]
	if !ok {
		st = &HostStats{Host: name}
		r.hosts[name] = st
	}
	return st
}

// RecordPage counts one candidate target outcome.
func (r *HostReport) RecordPage(host string, page crawler.PageOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.host(host)
	switch page.Outcome {
	case crawler.OutcomePolicyBlocked:
		st.Disallowed++
		return
	case crawler.OutcomeHostBlocked, crawler.OutcomeSkipped:
		return
	case crawler.OutcomeChallenge:
		st.Challenges++
	}
	st.PagesAttempted++
	if page.Outcome == crawler.OutcomeOK || page.Outcome == crawler.OutcomeDuplicate {
		st.PagesFetched++
	}
	code := page.StatusCode
	switch {
	case code >= 200 && code < 300:
		st.Status2xx++
	case code == 403:
		st.Status403++
	case code == 429:
		st.Status429++
	case code >= 500 && code < 600:
		st.Status5xx++
	case code >= 400 && code < 500:
		st.StatusOther4xx++
	}
}

// RecordBackoff counts a backoff penalty.
func (r *HostReport) RecordBackoff(host string, backoff time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.host(host)
	st.Backoffs++
	if backoff > st.MaxBackoff {
		st.MaxBackoff = backoff
	}
}

// RecordCrawlDelay notes the robots crawl-delay honored for host.
func (r *HostReport) RecordCrawlDelay(host string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host(host).CrawlDelay = d
}

// RecordBlocked flags a host cut off for the rest of the run.
func (r *HostReport) RecordBlocked(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host(host).Blocked = true
}

// Hosts returns a copy of every host's stats sorted by host.
func (r *HostReport) Hosts() []HostStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HostStats, 0, len(r.hosts))
	for _, st := range r.hosts {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

var hostColumns = []string{
	"host", "pages_attempted", "pages_fetched",
	"status_2xx", "status_403", "status_429", "status_5xx", "status_other_4xx",
	"challenges", "disallowed", "backoffs", "max_backoff_seconds", "crawl_delay_seconds", "blocked",
}

// WriteCSV writes the report to path.
func (r *HostReport) WriteCSV(path string) error {
	f, err := os.Create(path) //nolint:gosec // operator-supplied report path
	if err != nil {
		return fmt.Errorf("create host report %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	_ = w.Write(hostColumns)
	for _, st := range r.Hosts() {
		_ = w.Write([]string{
			st.Host,
			strconv.Itoa(st.PagesAttempted),
			strconv.Itoa(st.PagesFetched),
			strconv.Itoa(st.Status2xx),
			strconv.Itoa(st.Status403),
			strconv.Itoa(st.Status429),
			strconv.Itoa(st.Status5xx),
			strconv.Itoa(st.StatusOther4xx),
			strconv.Itoa(st.Challenges),
			strconv.Itoa(st.Disallowed),
			strconv.Itoa(st.Backoffs),
			strconv.FormatFloat(st.MaxBackoff.Seconds(), 'f', 1, 64),
			strconv.FormatFloat(st.CrawlDelay.Seconds(), 'f', 1, 64),
			strconv.FormatBool(st.Blocked),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write host report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close host report: %w", err)
	}
	return nil
}
