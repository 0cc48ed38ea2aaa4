// Package app builds the long-lived services of a crawl from configuration
// and runs one roster through them.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/api"
	"github.com/JakeFAU/practice-vendor-crawler/internal/clock/system"
	"github.com/JakeFAU/practice-vendor-crawler/internal/config"
	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
	"github.com/JakeFAU/practice-vendor-crawler/internal/dispatcher"
	"github.com/JakeFAU/practice-vendor-crawler/internal/extract"
	"github.com/JakeFAU/practice-vendor-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/practice-vendor-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/practice-vendor-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/practice-vendor-crawler/internal/hash/sha256"
	"github.com/JakeFAU/practice-vendor-crawler/internal/headless/detector"
	"github.com/JakeFAU/practice-vendor-crawler/internal/id/uuid"
	"github.com/JakeFAU/practice-vendor-crawler/internal/policy/hostguard"
	"github.com/JakeFAU/practice-vendor-crawler/internal/policy/politeness"
	"github.com/JakeFAU/practice-vendor-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/practice-vendor-crawler/internal/policy/robots"
	"github.com/JakeFAU/practice-vendor-crawler/internal/progress"
	"github.com/JakeFAU/practice-vendor-crawler/internal/publisher"
	gcppublisher "github.com/JakeFAU/practice-vendor-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/practice-vendor-crawler/internal/queue/memory"
	"github.com/JakeFAU/practice-vendor-crawler/internal/record"
	"github.com/JakeFAU/practice-vendor-crawler/internal/roster"
	"github.com/JakeFAU/practice-vendor-crawler/internal/signatures"
	"github.com/JakeFAU/practice-vendor-crawler/internal/sink"
	"github.com/JakeFAU/practice-vendor-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/practice-vendor-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/practice-vendor-crawler/internal/storage/local"
	mysqlstore "github.com/JakeFAU/practice-vendor-crawler/internal/storage/mysql"
	pgstore "github.com/JakeFAU/practice-vendor-crawler/internal/storage/postgres"
	"github.com/JakeFAU/practice-vendor-crawler/internal/visitor"
)

// appOwned hides a mirror's Close from the run sink; App.Close owns it.
type appOwned struct {
	crawler.RecordMirror
}

type closer struct {
	name string
	fn   func() error
}

// App holds the services shared by every visit of a run.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock
	ids    crawler.IDGenerator

	signatures *signatures.Store
	fetcher    crawler.PageFetcher
	robots     crawler.RobotsPolicy
	mirrors    []sink.NamedMirror
	archiver   *storage.Archiver

	closers []closer
}

// Summary describes a finished or interrupted run.
type Summary struct {
	RunID       string
	Snapshot    progress.Snapshot
	Skipped     int
	JSONLPath   string
	CSVPath     string
	ReportPath  string
	AlertPath   string
	Archived    []string
	Interrupted bool
}

// Build creates every long-lived dependency. A configured mirror or archive
// that cannot connect fails the build.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}

	store, err := signatures.Load(cfg.Signatures.Dir, cfg.Signatures.Files, logger.Named("signatures"))
	if err != nil {
		return nil, fmt.Errorf("load signatures: %w", err)
	}
	a.signatures = store

	a.buildFetcher()

	if err := a.buildMirrors(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildFetcher() {
	cfg := a.cfg
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.HTTP.Timeout,
		MaxRedirects: cfg.HTTP.MaxRedirects,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})
	a.robots = robots.New(robots.Config{
		Respect:   cfg.Crawler.RespectRobots,
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.HTTP.RobotsTimeout,
	}, plain.HTTPClient(cfg.HTTP.RobotsTimeout), a.logger.Named("robots"))
	plain.SetRobots(a.robots)

	var renderer crawler.Renderer = headless.NewNoop()
	if cfg.Render.Enabled {
		hcfg := headless.Config{
			MaxParallel:       cfg.Render.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Render.Timeout,
			Settle:            cfg.Render.Settle,
		}
		switch cfg.Render.Engine {
		case config.EngineRod:
			r, err := headless.NewRod(hcfg)
			if err == nil {
				renderer = r
				a.addCloser("rod", func() error { r.Close(); return nil })
			} else {
				a.logger.Warn("rod renderer unavailable, rendering disabled", zap.Error(err))
			}
		default:
			f, err := headless.NewChromedp(hcfg)
			if err == nil {
				renderer = f
				a.addCloser("chromedp", func() error { f.Close(); return nil })
			} else {
				a.logger.Warn("chromedp renderer unavailable, rendering disabled", zap.Error(err))
			}
		}
	}

	a.fetcher = fetcher.New(
		plain,
		renderer,
		detector.NewHeuristic(cfg.Render.MinContentLength),
		ratelimit.New(ratelimit.Config{RPS: cfg.Render.HostQPS, Burst: cfg.Render.HostBurst}),
		fetcher.Options{RenderEnabled: cfg.Render.Enabled, Engine: cfg.Render.Engine},
		a.logger.Named("fetcher"),
	)
	a.logger.Info("fetcher ready",
		zap.String("user_agent", cfg.Crawler.UserAgent),
		zap.Bool("render", cfg.Render.Enabled),
		zap.String("engine", cfg.Render.Engine),
	)
}

func (a *App) buildMirrors(ctx context.Context) error {
	cfg := a.cfg
	if cfg.DB.PostgresDSN != "" {
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:      cfg.DB.PostgresDSN,
			MaxConns: int32(max(cfg.DB.MaxOpenConns, 0)), //nolint:gosec // bounded by config
		})
		if err != nil {
			return fmt.Errorf("postgres mirror: %w", err)
		}
		a.addCloser("postgres", pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres mirror: %w", err)
		}
		a.mirrors = append(a.mirrors, sink.NamedMirror{Name: "postgres", Mirror: pg})
		a.logger.Info("postgres mirror enabled")
	}
	if cfg.DB.MySQLDSN != "" {
		my, err := mysqlstore.New(mysqlstore.Config{
			DSN:          cfg.DB.MySQLDSN,
			MaxOpenConns: cfg.DB.MaxOpenConns,
			MaxIdleConns: cfg.DB.MaxIdleConns,
		})
		if err != nil {
			return fmt.Errorf("mysql mirror: %w", err)
		}
		a.addCloser("mysql", my.Close)
		a.mirrors = append(a.mirrors, sink.NamedMirror{Name: "mysql", Mirror: my})
		a.logger.Info("mysql mirror enabled")
	}
	if cfg.PubSub.TopicName != "" {
		pub, err := gcppublisher.Dial(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub mirror: %w", err)
		}
		mirror, err := publisher.NewRecordMirror(pub, cfg.PubSub.TopicName)
		if err != nil {
			_ = pub.Close()
			return fmt.Errorf("pubsub mirror: %w", err)
		}
		a.addCloser("pubsub", mirror.Close)
		a.mirrors = append(a.mirrors, sink.NamedMirror{Name: "pubsub", Mirror: mirror})
		a.logger.Info("pubsub mirror enabled",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	}
	return nil
}

func (a *App) buildArchive(ctx context.Context) error {
	cfg := a.cfg.Archive
	var blobs crawler.BlobStore
	switch cfg.Provider {
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Dir})
		if err != nil {
			return fmt.Errorf("local archive: %w", err)
		}
		blobs = store
	case config.ArchiveGCS:
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: cfg.Bucket, Endpoint: cfg.Endpoint})
		if err != nil {
			return fmt.Errorf("gcs archive: %w", err)
		}
		a.addCloser("gcs", store.Close)
		blobs = store
	default:
		return nil
	}
	a.archiver = storage.NewArchiver(blobs, cfg.Prefix, a.logger.Named("archive"))
	a.logger.Info("run archive enabled", zap.String("provider", cfg.Provider))
	return nil
}

// AddMirror registers an extra record mirror for the next run.
func (a *App) AddMirror(name string, mirror crawler.RecordMirror) {
	a.mirrors = append(a.mirrors, sink.NamedMirror{Name: name, Mirror: mirror})
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run crawls the configured roster until it is exhausted or a SIGINT or
// SIGTERM arrives. A stop signal is not an error: visits in flight finish
// with partial records and the outputs are still finalized.
func (a *App) Run(ctx context.Context) (Summary, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	runID, err := a.ids.NewRunID(a.clock.Now())
	if err != nil {
		return Summary{}, fmt.Errorf("run id: %w", err)
	}
	logger := a.logger.With(zap.String("run_id", runID))
	summary := Summary{
		RunID:     runID,
		JSONLPath: cfg.OutputPath(cfg.Output.JSONL),
		CSVPath:   cfg.OutputPath(cfg.Output.CSV),
	}

	sites, err := roster.ReadFile(cfg.Input.Roster, logger.Named("roster"))
	if err != nil {
		return summary, fmt.Errorf("read roster: %w", err)
	}
	if cfg.Output.Resume {
		recovered, err := sink.Recover(sink.Options{
			JSONLPath: summary.JSONLPath,
			CSVPath:   summary.CSVPath,
		}, logger.Named("sink"))
		if err != nil {
			return summary, fmt.Errorf("resume: %w", err)
		}
		before := len(sites)
		sites = roster.Exclude(sites, recovered.Written)
		summary.Skipped = before - len(sites)
		logger.Info("resuming run",
			zap.Int("already_written", len(recovered.Written)),
			zap.Int("revisit_partial", recovered.Partial),
			zap.Int("skipped", summary.Skipped),
			zap.Int("remaining", len(sites)),
		)
	}

	fileSink, err := sink.NewFileSink(sink.Options{
		JSONLPath: summary.JSONLPath,
		CSVPath:   summary.CSVPath,
		Append:    cfg.Output.Resume,
	}, logger.Named("sink"))
	if err != nil {
		return summary, err
	}
	mirrors := make([]sink.NamedMirror, 0, len(a.mirrors))
	for _, m := range a.mirrors {
		mirrors = append(mirrors, sink.NamedMirror{Name: m.Name, Mirror: appOwned{m.Mirror}})
	}
	recordSink := sink.NewMirrored(fileSink, mirrors, logger.Named("sink"))

	hosts := progress.NewHostReport()
	tracker := progress.NewTracker(runID, len(sites), progress.Options{
		Every:    cfg.Crawler.ProgressEvery,
		Interval: cfg.Crawler.ProgressInterval,
	}, a.clock, logger.Named("progress"))

	delay := cfg.Crawler.PolitenessDelay
	if delay == 0 {
		// Zero in config turns spacing off; the gate reads zero as "default".
		delay = -1
	}
	v, err := visitor.New(visitor.Config{
		Subpaths:        cfg.Crawler.Subpaths,
		AllowRender:     cfg.Render.Enabled,
		ServiceURLLimit: cfg.Crawler.ServiceURLLimit,
	}, visitor.Deps{
		Fetcher: a.fetcher,
		Robots:  a.robots,
		Gate: politeness.New(politeness.Config{
			Delay:       delay,
			Jitter:      cfg.Crawler.PolitenessJitter,
			BackoffBase: cfg.Crawler.BackoffBase,
			BackoffMax:  cfg.Crawler.BackoffMax,
		}, a.clock),
		Guard:     hostguard.New(cfg.Crawler.SkipDomains, cfg.Crawler.MaxConsecutiveErrors),
		Extractor: extract.New(a.signatures),
		Assembler: record.NewAssembler(runID, a.clock, cfg.Crawler.MaxEvidenceURLs),
		Sink:      recordSink,
		Hasher:    sha256.New(),
		Clock:     a.clock,
		Hosts:     hosts,
	}, logger.Named("visitor"))
	if err != nil {
		_ = recordSink.Close()
		return summary, fmt.Errorf("build visitor: %w", err)
	}

	// Side services outlive a stop signal so the final snapshot stays visible
	// until outputs are finalized.
	sideCtx, stopSide := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSide()
	go tracker.Run(sideCtx)
	serverDone := make(chan struct{})
	if cfg.Server.Enabled {
		srv := api.NewServer(tracker, hosts, logger.Named("api"))
		go func() {
			defer close(serverDone)
			if err := srv.Serve(sideCtx, ":"+strconv.Itoa(cfg.Server.Port)); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	} else {
		close(serverDone)
	}

	logger.Info("run started",
		zap.Int("sites", len(sites)),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.String("jsonl", summary.JSONLPath),
		zap.String("csv", summary.CSVPath),
	)
	queue := queuememory.NewQueue(cfg.Crawler.Concurrency * 2)
	runErr := dispatcher.New(queue, v, tracker, dispatcher.Config{
		Concurrency: cfg.Crawler.Concurrency,
	}, logger.Named("dispatcher")).Run(ctx, sites)
	summary.Interrupted = ctx.Err() != nil && runErr == nil
	if summary.Interrupted {
		logger.Warn("stop signal received, outputs finalized with partial records")
	}

	summary.Snapshot = tracker.Finish()
	if err := recordSink.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close sink: %w", err))
	}
	a.finalize(sideCtx, &summary, hosts, logger)

	stopSide()
	<-serverDone
	return summary, runErr
}

// finalize writes the alert and host report, then archives the outputs.
// None of these fail the run.
func (a *App) finalize(ctx context.Context, summary *Summary, hosts *progress.HostReport, logger *zap.Logger) {
	cfg := a.cfg
	alert, err := progress.WriteAlert(cfg.Output.Dir, summary.Snapshot, cfg.Crawler.FailAlertPct, logger)
	if err != nil {
		logger.Error("write alert failed", zap.Error(err))
	}
	summary.AlertPath = alert

	if cfg.Output.DomainReport != "" {
		path := cfg.OutputPath(cfg.Output.DomainReport)
		if err := hosts.WriteCSV(path); err != nil {
			logger.Error("write host report failed", zap.Error(err))
		} else {
			summary.ReportPath = path
		}
	}

	if a.archiver == nil {
		return
	}
	uris, err := a.archiver.ArchiveRun(ctx, summary.RunID, []string{
		summary.JSONLPath, summary.CSVPath, summary.ReportPath, summary.AlertPath,
	})
	if err != nil {
		logger.Error("archive failed", zap.Error(err))
	}
	summary.Archived = uris
}

// Close releases every service in reverse build order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
