// Package dispatcher bounds how many site visits run at once.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
	"github.com/JakeFAU/practice-vendor-crawler/internal/metrics"
	"github.com/JakeFAU/practice-vendor-crawler/internal/queue/memory"
)

// DefaultConcurrency is the default number of simultaneous visits.
const DefaultConcurrency = 20

// SiteVisitor visits one site and writes its record.
type SiteVisitor interface {
	Visit(ctx context.Context, site crawler.InputSite) (crawler.DetectionRecord, error)
}

// Recorder observes every written record.
type Recorder interface {
	Record(rec crawler.DetectionRecord)
}

// Config controls the worker pool.
type Config struct {
	Concurrency int
}

// Dispatcher fans roster sites out to a fixed pool of workers.
type Dispatcher struct {
	queue    crawler.Queue
	visitor  SiteVisitor
	recorder Recorder
	cfg      Config
	logger   *zap.Logger
}

// New creates a Dispatcher. recorder may be nil.
func New(queue crawler.Queue, visitor SiteVisitor, recorder Recorder, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		visitor:  visitor,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run visits every site and blocks until all records are written, ctx is
// cancelled, or a visit fails fatally. Cancelling ctx stops feeding new
// sites; visits already running finish with a partial record. The first
// fatal error is returned and stops the other workers.
func (d *Dispatcher) Run(ctx context.Context, sites []crawler.InputSite) error {
	metrics.SetRosterSize(len(sites))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer d.queue.Close()
		for i, site := range sites {
			if err := d.queue.Enqueue(gctx, crawler.QueueItem{Site: site, Position: i}); err != nil {
				if gctx.Err() != nil {
					d.logger.Info("stopped feeding roster", zap.Int("fed", i), zap.Int("total", len(sites)))
					return nil
				}
				return fmt.Errorf("enqueue site %s: %w", site.ID, err)
			}
		}
		return nil
	})

	workers := min(d.cfg.Concurrency, max(len(sites), 1))
	for w := range workers {
		g.Go(func() error {
			return d.work(gctx, w)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) work(ctx context.Context, id int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d dequeue: %w", id, err)
		}
		rec, err := d.visitor.Visit(ctx, item.Site)
		if err != nil {
			d.logger.Error("visit failed fatally",
				zap.Int("worker", id),
				zap.String("site_id", item.Site.ID),
				zap.Error(err),
			)
			return err
		}
		if d.recorder != nil {
			d.recorder.Record(rec)
		}
	}
}
