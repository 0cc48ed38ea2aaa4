// Package metrics exposes Prometheus collectors for the crawl-and-detect engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal                 *prometheus.CounterVec
	pageBytesTotal             prometheus.Counter
	recordsTotal               *prometheus.CounterVec
	politenessWaitSeconds      prometheus.Histogram
	hostBackoffsTotal          prometheus.Counter
	renderTotal                *prometheus.CounterVec
	renderDurationSeconds      prometheus.Histogram
	robotsFetchTotal           *prometheus.CounterVec
	sinkWritesTotal            *prometheus.CounterVec
	sinkWriteSeconds           prometheus.Histogram
	mirrorFailuresTotal        *prometheus.CounterVec
	visitorsInFlight           prometheus.Gauge
	rosterSize                 prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once; every
// Observe helper calls it too.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendorcrawl_pages_total",
				Help: "Candidate pages by terminal outcome and whether rendering was used.",
			},
			[]string{"outcome", "rendered"},
		)
		pageBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "vendorcrawl_page_bytes_total",
			Help: "Bytes of page content fetched.",
		})
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendorcrawl_records_total",
				Help: "Detection records written, by site status.",
			},
			[]string{"status"},
		)
		politenessWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vendorcrawl_politeness_wait_seconds",
			Help:    "Time spent waiting for a host's politeness slot.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		})
		hostBackoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "vendorcrawl_host_backoffs_total",
			Help: "Backoff penalties applied after 429/503 answers.",
		})
		renderTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendorcrawl_render_total",
				Help: "Rendering fallbacks by engine and result.",
			},
			[]string{"engine", "result"},
		)
		renderDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vendorcrawl_render_duration_seconds",
			Help:    "Duration of rendering fallbacks.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
		})
		robotsFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendorcrawl_robots_fetch_total",
				Help: "robots.txt fetches by result.",
			},
			[]string{"result"},
		)
		sinkWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendorcrawl_sink_writes_total",
				Help: "Durable record writes by result.",
			},
			[]string{"result"},
		)
		sinkWriteSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vendorcrawl_sink_write_seconds",
			Help:    "Latency of a durable record write including fsync.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		})
		mirrorFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendorcrawl_mirror_failures_total",
				Help: "Record mirror failures by mirror name.",
			},
			[]string{"mirror"},
		)
		visitorsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vendorcrawl_visitors_in_flight",
			Help: "Site visitors currently running.",
		})
		rosterSize = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vendorcrawl_roster_sites",
			Help: "Sites admitted to the current run.",
		})
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status-server HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status-server request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL or bare host.
// It returns "unknown" if nothing usable is found.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts one candidate page outcome.
func ObservePage(outcome string, rendered bool, bytesFetched int) {
	Init()
	pagesTotal.WithLabelValues(outcome, strconv.FormatBool(rendered)).Inc()
	if bytesFetched > 0 {
		pageBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveRecord counts one written detection record.
func ObserveRecord(status string) {
	Init()
	recordsTotal.WithLabelValues(status).Inc()
}

// ObservePolitenessWait records how long a visitor waited for a host slot.
func ObservePolitenessWait(d time.Duration) {
	Init()
	politenessWaitSeconds.Observe(d.Seconds())
}

// ObserveHostBackoff counts a backoff penalty.
func ObserveHostBackoff() {
	Init()
	hostBackoffsTotal.Inc()
}

// ObserveRender records one rendering fallback.
func ObserveRender(engine, result string, d time.Duration) {
	Init()
	renderTotal.WithLabelValues(engine, result).Inc()
	renderDurationSeconds.Observe(d.Seconds())
}

// ObserveRobotsFetch counts a robots.txt fetch.
func ObserveRobotsFetch(result string) {
	Init()
	robotsFetchTotal.WithLabelValues(result).Inc()
}

// ObserveSinkWrite records one durable write.
func ObserveSinkWrite(err error, d time.Duration) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	sinkWritesTotal.WithLabelValues(result).Inc()
	sinkWriteSeconds.Observe(d.Seconds())
}

// ObserveMirrorFailure counts a failed mirror delivery.
func ObserveMirrorFailure(mirror string) {
	Init()
	mirrorFailuresTotal.WithLabelValues(mirror).Inc()
}

// IncVisitorsInFlight increments the in-flight visitor gauge.
func IncVisitorsInFlight() {
	Init()
	visitorsInFlight.Inc()
}

// DecVisitorsInFlight decrements the in-flight visitor gauge.
func DecVisitorsInFlight() {
	Init()
	visitorsInFlight.Dec()
}

// SetRosterSize records how many sites the run will visit.
func SetRosterSize(n int) {
	Init()
	rosterSize.Set(float64(n))
}

// ObserveHTTPRequest increments the status-server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
