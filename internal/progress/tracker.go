package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

const (
	defaultEvery    = 50
	defaultInterval = 30 * time.Second
)

// Options controls how often progress is logged.
type Options struct {
	// Every logs after this many processed sites.
	Every int
	// Interval logs on a timer while the run is active.
	Interval time.Duration
}

// Snapshot is a point-in-time copy of the run counters.
type Snapshot struct {
	RunID          string    `json:"run_id"`
	Total          int       `json:"total"`
	Processed      int       `json:"processed"`
	Profiled       int       `json:"profiled"`
	Unreachable    int       `json:"unreachable"`
	Partial        int       `json:"partial"`
	FailureRate    float64   `json:"failure_rate_pct"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Done           bool      `json:"done"`
}

// Tracker counts written records for one run.
type Tracker struct {
	mu          sync.Mutex
	runID       string
	total       int
	processed   int
	profiled    int
	unreachable int
	partial     int
	done        bool
	startedAt   time.Time

	opts   Options
	clock  crawler.Clock
	logger *zap.Logger
}

// NewTracker builds a Tracker for a roster of total sites.
func NewTracker(runID string, total int, opts Options, clock crawler.Clock, logger *zap.Logger) *Tracker {
	if opts.Every <= 0 {
		opts.Every = defaultEvery
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		runID:     runID,
		total:     total,
		opts:      opts,
		clock:     clock,
		logger:    logger,
		startedAt: clock.Now(),
	}
}

// Record counts one written record.
func (t *Tracker) Record(rec crawler.DetectionRecord) {
	t.mu.Lock()
	t.processed++
	switch rec.Status {
	case crawler.StatusProfiled:
		t.profiled++
	default:
		t.unreachable++
	}
	if rec.Partial {
		t.partial++
	}
	due := t.processed%t.opts.Every == 0
	t.mu.Unlock()

	if due {
		t.log()
	}
}

// Run logs progress every interval until ctx ends.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.log()
		}
	}
}

// Finish marks the run complete and logs the end-of-run counts.
func (t *Tracker) Finish() Snapshot {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()

	snap := t.Snapshot()
	t.logger.Info("run finished",
		zap.String("run_id", snap.RunID),
		zap.Int("processed", snap.Processed),
		zap.Int("total", snap.Total),
		zap.Int("profiled", snap.Profiled),
		zap.Int("unreachable", snap.Unreachable),
		zap.Int("partial", snap.Partial),
		zap.Float64("failure_rate_pct", snap.FailureRate),
		zap.Duration("elapsed", time.Duration(snap.ElapsedSeconds*float64(time.Second))),
	)
	return snap
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		RunID:          t.runID,
		Total:          t.total,
		Processed:      t.processed,
		Profiled:       t.profiled,
		Unreachable:    t.unreachable,
		Partial:        t.partial,
		StartedAt:      t.startedAt,
		ElapsedSeconds: t.clock.Now().Sub(t.startedAt).Seconds(),
		Done:           t.done,
	}
	if t.processed > 0 {
		snap.FailureRate = float64(t.unreachable) * 100 / float64(t.processed)
	}
	return snap
}

func (t *Tracker) log() {
	snap := t.Snapshot()
	t.logger.Info("progress",
		zap.Int("processed", snap.Processed),
		zap.Int("total", snap.Total),
		zap.Int("profiled", snap.Profiled),
		zap.Int("unreachable", snap.Unreachable),
	)
}
