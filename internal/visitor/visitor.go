// Package visitor runs one roster site through the crawl-and-detect pipeline.
//
// A visit walks QUEUED → FETCHING_HOME → FETCHING_SUBPAGES → EXTRACTING →
// AGGREGATING → WRITTEN. A site whose homepage and every subpath fail ends
// in FAILED, which still writes an unreachable record.
package visitor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/aggregate"
	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
	"github.com/JakeFAU/practice-vendor-crawler/internal/extract"
	"github.com/JakeFAU/practice-vendor-crawler/internal/metrics"
	"github.com/JakeFAU/practice-vendor-crawler/internal/record"
)

// State names a step of a visit.
type State string

// Visit states.
const (
	StateQueued           State = "QUEUED"
	StateFetchingHome     State = "FETCHING_HOME"
	StateFetchingSubpages State = "FETCHING_SUBPAGES"
	StateExtracting       State = "EXTRACTING"
	StateAggregating      State = "AGGREGATING"
	StateWritten          State = "WRITTEN"
	StateFailed           State = "FAILED"
)

// serviceCategories have external service URLs collected on the record.
var serviceCategories = []crawler.Category{
	crawler.CategoryBooking,
	crawler.CategoryPayment,
	crawler.CategoryForms,
}

// HostRecorder receives per-host diagnostics.
type HostRecorder interface {
	RecordPage(host string, page crawler.PageOutcome)
	RecordBackoff(host string, backoff time.Duration)
	RecordCrawlDelay(host string, d time.Duration)
	RecordBlocked(host string)
}

// Config controls a visit.
type Config struct {
	Subpaths        []string
	AllowRender     bool
	ServiceURLLimit int
}

// Deps are the collaborators shared by every visit of a run.
type Deps struct {
	Fetcher   crawler.PageFetcher
	Robots    crawler.RobotsPolicy
	Gate      crawler.PolitenessGate
	Guard     crawler.HostGuard
	Extractor *extract.Extractor
	Assembler *record.Assembler
	Sink      crawler.Sink
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	Hosts     HostRecorder
}

// Visitor visits sites. One Visitor serves all workers.
type Visitor struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New builds a Visitor.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Visitor, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("visitor requires a page fetcher")
	case deps.Robots == nil, deps.Gate == nil, deps.Guard == nil:
		return nil, errors.New("visitor requires robots, politeness and host guard policies")
	case deps.Extractor == nil, deps.Assembler == nil:
		return nil, errors.New("visitor requires an extractor and an assembler")
	case deps.Sink == nil:
		return nil, errors.New("visitor requires a sink")
	case deps.Hasher == nil, deps.Clock == nil:
		return nil, errors.New("visitor requires a hasher and a clock")
	}
	if cfg.Subpaths == nil {
		cfg.Subpaths = crawler.DefaultSubpaths
	}
	if cfg.ServiceURLLimit <= 0 {
		cfg.ServiceURLLimit = extract.DefaultServiceURLLimit
	}
	if deps.Hosts == nil {
		deps.Hosts = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Visitor{cfg: cfg, deps: deps, logger: logger}, nil
}

// visit is the state of one site while it is being crawled.
type visit struct {
	site    crawler.InputSite
	base    *url.URL
	host    string
	state   State
	pages   []crawler.PageOutcome
	fetched []fetchedPage
	partial bool
	logger  *zap.Logger
}

type fetchedPage struct {
	index int
	page  crawler.FetchedPage
}

// Visit crawls site and writes its record. Cancelling ctx is the stop
// signal: the fetch in flight completes, remaining targets are skipped and
// a partial record is still written. The returned error is non-nil only when
// the sink failed.
func (v *Visitor) Visit(ctx context.Context, site crawler.InputSite) (crawler.DetectionRecord, error) {
	metrics.IncVisitorsInFlight()
	defer metrics.DecVisitorsInFlight()

	vs := &visit{site: site, state: StateQueued, logger: v.logger.With(zap.String("site_id", site.ID))}

	base, err := crawler.NormalizeWebsite(site.Website)
	if err != nil {
		vs.logger.Debug("unusable website; skipping fetch", zap.String("website", site.Website), zap.Error(err))
		return v.finish(ctx, vs, record.Visit{Site: site})
	}
	vs.base = base
	vs.host = crawler.HostKey(base)

	if v.deps.Guard.Skip(vs.host) {
		home := crawler.CandidateTargets(base, nil)[0]
		vs.pages = append(vs.pages, crawler.PageOutcome{
			URL:     home,
			Outcome: crawler.OutcomeHostBlocked,
			Error:   crawler.ErrHostBlocked.Error(),
		})
		return v.finish(ctx, vs, record.Visit{Site: site, Website: base.String(), Pages: vs.pages})
	}

	v.fetchAll(ctx, vs)

	vs.transition(StateExtracting)
	evidence, links := v.extractAll(vs)

	vs.transition(StateAggregating)
	results := make(map[crawler.Category]crawler.CategoryResult, len(crawler.Categories))
	for _, c := range crawler.Categories {
		results[c] = aggregate.Aggregate(c, evidence)
	}
	services := make(map[crawler.Category][]string, len(serviceCategories))
	for _, c := range serviceCategories {
		services[c] = v.deps.Extractor.ServiceURLs(c, links, base.Hostname(), v.cfg.ServiceURLLimit)
	}

	return v.finish(ctx, vs, record.Visit{
		Site:        site,
		Website:     base.String(),
		Pages:       vs.pages,
		Results:     results,
		ServiceURLs: services,
		Partial:     vs.partial,
	})
}

func (v *Visitor) fetchAll(ctx context.Context, vs *visit) {
	targets := crawler.CandidateTargets(vs.base, v.cfg.Subpaths)
	delaySet := false
	for i, target := range targets {
		if i == 0 {
			vs.transition(StateFetchingHome)
		} else if i == 1 {
			vs.transition(StateFetchingSubpages)
		}

		if ctx.Err() != nil {
			v.skipRemaining(vs, targets[i:])
			return
		}
		if v.deps.Guard.Blocked(vs.host) {
			v.record(vs, crawler.PageOutcome{URL: target, Outcome: crawler.OutcomeHostBlocked, Error: crawler.ErrHostBlocked.Error()})
			continue
		}

		u, err := url.Parse(target)
		if err != nil {
			v.record(vs, crawler.PageOutcome{URL: target, Outcome: crawler.OutcomeTransportFailure, Error: err.Error()})
			continue
		}
		if !v.deps.Robots.IsAllowed(ctx, u) {
			v.record(vs, crawler.PageOutcome{URL: target, Outcome: crawler.OutcomePolicyBlocked, Error: crawler.ErrPolicyBlocked.Error()})
			continue
		}
		if !delaySet {
			delaySet = true
			if d := v.deps.Robots.CrawlDelay(vs.host); d > 0 {
				v.deps.Gate.SetFloor(vs.host, d)
				v.deps.Hosts.RecordCrawlDelay(vs.host, d)
			}
		}

		if err := v.deps.Gate.AwaitTurn(ctx, vs.host); err != nil {
			v.skipRemaining(vs, targets[i:])
			return
		}

		// The stop signal lets the fetch in flight finish.
		page := v.deps.Fetcher.Fetch(context.WithoutCancel(ctx), target, v.cfg.AllowRender)
		page = v.checkLanding(ctx, target, page)
		if !errors.Is(page.Err, crawler.ErrPolicyBlocked) {
			v.afterFetch(vs, page)
		}

		outcome := pageOutcome(target, page)
		idx := v.record(vs, outcome)
		if outcome.Outcome == crawler.OutcomeOK {
			vs.fetched = append(vs.fetched, fetchedPage{index: idx, page: page})
		}
	}
}

// checkLanding blocks a page whose redirect chain ended on a path robots
// disallows. The plain fetcher refuses such hops itself; this also covers
// rendered fetches.
func (v *Visitor) checkLanding(ctx context.Context, target string, page crawler.FetchedPage) crawler.FetchedPage {
	if page.Err != nil || page.FinalURL == "" || page.FinalURL == target {
		return page
	}
	u, err := url.Parse(page.FinalURL)
	if err != nil || v.deps.Robots.IsAllowed(ctx, u) {
		return page
	}
	return crawler.FetchedPage{
		SourceURL:  page.SourceURL,
		FinalURL:   page.FinalURL,
		StatusCode: page.StatusCode,
		Rendered:   page.Rendered,
		Duration:   page.Duration,
		Err:        fmt.Errorf("%w: redirect to %s", crawler.ErrPolicyBlocked, u.Redacted()),
	}
}

// afterFetch feeds the fetch result to the host policies.
func (v *Visitor) afterFetch(vs *visit, page crawler.FetchedPage) {
	switch {
	case page.StatusCode == 429 || page.StatusCode == 503:
		backoff := v.deps.Gate.Penalize(vs.host)
		v.deps.Hosts.RecordBackoff(vs.host, backoff)
		vs.logger.Debug("host asked to slow down",
			zap.String("host", vs.host),
			zap.Int("status", page.StatusCode),
			zap.Duration("backoff", backoff),
		)
	case page.Err == nil && page.StatusCode >= 200 && page.StatusCode < 300:
		v.deps.Gate.Reset(vs.host)
	}
	wasBlocked := v.deps.Guard.Blocked(vs.host)
	if v.deps.Guard.Observe(vs.host, page.StatusCode, page.Err) && !wasBlocked {
		v.deps.Hosts.RecordBlocked(vs.host)
		vs.logger.Info("host blocked for the rest of the run",
			zap.String("host", vs.host),
			zap.Int("status", page.StatusCode),
			zap.Error(page.Err),
		)
	}
}

func pageOutcome(target string, page crawler.FetchedPage) crawler.PageOutcome {
	out := crawler.PageOutcome{
		URL:        target,
		FinalURL:   page.FinalURL,
		StatusCode: page.StatusCode,
		Rendered:   page.Rendered,
	}
	if page.RenderErr != nil {
		out.RenderError = page.RenderErr.Error()
	}
	switch {
	case errors.Is(page.Err, crawler.ErrPolicyBlocked):
		out.Outcome = crawler.OutcomePolicyBlocked
		out.Error = page.Err.Error()
	case page.Err != nil:
		out.Outcome = crawler.OutcomeTransportFailure
		out.Error = page.Err.Error()
	case !page.OK():
		out.Outcome = crawler.OutcomeHTTPError
		out.Error = fmt.Sprintf("http status %d", page.StatusCode)
	default:
		out.Outcome = crawler.OutcomeOK
	}
	return out
}

// extractAll runs the extractor over every readable page, dropping pages
// whose content repeats an earlier one.
func (v *Visitor) extractAll(vs *visit) ([]crawler.Evidence, []string) {
	var evidence []crawler.Evidence
	var links []string
	// Only a redirect collapse onto a page already read is a duplicate. The
	// same body served at two addresses is evidence from both.
	seen := make(map[string]struct{})
	for _, fp := range vs.fetched {
		key := fp.page.URL()
		if digest, err := v.deps.Hasher.Hash([]byte(fp.page.Content)); err == nil {
			key += " " + digest
		}
		if _, dup := seen[key]; dup {
			vs.pages[fp.index].Outcome = crawler.OutcomeDuplicate
			continue
		}
		seen[key] = struct{}{}
		findings := v.deps.Extractor.Analyze(fp.page)
		if findings.Challenge {
			vs.pages[fp.index].Outcome = crawler.OutcomeChallenge
			vs.pages[fp.index].Error = crawler.ErrChallenge.Error()
			continue
		}
		evidence = append(evidence, findings.Evidence...)
		links = append(links, findings.Links...)
	}
	size := make(map[int]int, len(vs.fetched))
	for _, fp := range vs.fetched {
		size[fp.index] = len(fp.page.Content)
	}
	for i, p := range vs.pages {
		metrics.ObservePage(string(p.Outcome), p.Rendered, size[i])
		v.deps.Hosts.RecordPage(vs.host, p)
	}
	vs.fetched = nil
	return evidence, links
}

func (v *Visitor) skipRemaining(vs *visit, targets []string) {
	vs.partial = true
	for _, t := range targets {
		vs.pages = append(vs.pages, crawler.PageOutcome{URL: t, Outcome: crawler.OutcomeSkipped})
	}
	vs.logger.Info("stop requested; skipping remaining targets", zap.Int("skipped", len(targets)))
}

func (v *Visitor) record(vs *visit, out crawler.PageOutcome) int {
	vs.pages = append(vs.pages, out)
	return len(vs.pages) - 1
}

func (v *Visitor) finish(ctx context.Context, vs *visit, in record.Visit) (crawler.DetectionRecord, error) {
	rec := v.deps.Assembler.Assemble(in)
	if rec.Status == crawler.StatusUnreachable {
		vs.transition(StateFailed)
	}
	if err := v.deps.Sink.Write(context.WithoutCancel(ctx), rec); err != nil {
		vs.logger.Error("sink write failed", zap.Error(err))
		return rec, fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	vs.transition(StateWritten)
	return rec, nil
}

func (vs *visit) transition(next State) {
	vs.logger.Debug("visit state",
		zap.String("from", string(vs.state)),
		zap.String("to", string(next)),
	)
	vs.state = next
}

type nopRecorder struct{}

func (nopRecorder) RecordPage(string, crawler.PageOutcome) {}
func (nopRecorder) RecordBackoff(string, time.Duration)    {}
func (nopRecorder) RecordCrawlDelay(string, time.Duration) {}
func (nopRecorder) RecordBlocked(string)                   {}
