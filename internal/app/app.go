// Package app assembles the harvesting pipeline from configuration and owns
// the lifecycle of its long-lived services.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gps "cloud.google.com/go/pubsub/v2"
	gstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/archive"
	"github.com/socialtoolkit/lawharvest/internal/archive/wayback"
	gcsblob "github.com/socialtoolkit/lawharvest/internal/blob/gcs"
	localblob "github.com/socialtoolkit/lawharvest/internal/blob/local"
	memblob "github.com/socialtoolkit/lawharvest/internal/blob/memory"
	"github.com/socialtoolkit/lawharvest/internal/clock/system"
	"github.com/socialtoolkit/lawharvest/internal/config"
	"github.com/socialtoolkit/lawharvest/internal/detector"
	"github.com/socialtoolkit/lawharvest/internal/dispatcher"
	"github.com/socialtoolkit/lawharvest/internal/extract"
	collyfetch "github.com/socialtoolkit/lawharvest/internal/fetch/colly"
	"github.com/socialtoolkit/lawharvest/internal/hashkey"
	"github.com/socialtoolkit/lawharvest/internal/metrics"
	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/publisher"
	memorypub "github.com/socialtoolkit/lawharvest/internal/publisher/memory"
	pubsubpub "github.com/socialtoolkit/lawharvest/internal/publisher/pubsub"
	"github.com/socialtoolkit/lawharvest/internal/querygen"
	memqueue "github.com/socialtoolkit/lawharvest/internal/queue/memory"
	"github.com/socialtoolkit/lawharvest/internal/ratelimit"
	"github.com/socialtoolkit/lawharvest/internal/retrieve"
	"github.com/socialtoolkit/lawharvest/internal/scheduler"
	headless "github.com/socialtoolkit/lawharvest/internal/search/chromedp"
	"github.com/socialtoolkit/lawharvest/internal/store/postgres"
	"github.com/socialtoolkit/lawharvest/internal/telemetry"
	"github.com/socialtoolkit/lawharvest/internal/worker"
)

// App wires the full acquisition pipeline and holds every service whose
// lifetime spans a run.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store      *postgres.Store
	searcher   *headless.Searcher
	queue      *memqueue.Queue
	dispatcher *dispatcher.Dispatcher
	tracer     *sdktrace.TracerProvider
	metricsSrv *http.Server

	// closers run in reverse order on Close.
	closers []func(context.Context) error
}

// New builds the pipeline from configuration. It fails fast: any service
// that cannot be initialized aborts startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger}

	tp, err := telemetry.InitTracerProvider(ctx, "lawharvest")
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracer = tp

	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
		Migrate:  cfg.DB.Migrate,
	}, logger)
	if err != nil {
		a.shutdown(ctx)
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.store = store

	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		a.shutdown(ctx)
		return nil, err
	}

	pub, err := a.buildPublisher(ctx)
	if err != nil {
		a.shutdown(ctx)
		return nil, err
	}

	searcher, err := headless.New(headless.Config{
		BaseURL:           cfg.Search.BaseURL,
		UserAgent:         cfg.Search.UserAgent,
		NavigationTimeout: cfg.SearchNavTimeout(),
		MaxResults:        cfg.Search.MaxResults,
	})
	if err != nil {
		a.shutdown(ctx)
		return nil, fmt.Errorf("start headless browser: %w", err)
	}
	a.searcher = searcher

	archiver := wayback.New(wayback.Config{
		SaveURL:      cfg.Archive.SaveURL,
		WebURL:       cfg.Archive.WebURL,
		AvailableURL: cfg.Archive.AvailableURL,
		UserAgent:    cfg.Archive.UserAgent,
		Timeout:      cfg.ArchiveTimeout(),
		ReuseWithin:  time.Duration(cfg.Archive.ReuseWithinHours) * time.Hour,
	}, nil)

	fetcher := collyfetch.New(collyfetch.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})

	bucketer, err := pipeline.NewBucketer(pipeline.BucketMode(cfg.Harvest.BucketMode), cfg.Harvest.BucketDays)
	if err != nil {
		a.shutdown(ctx)
		return nil, fmt.Errorf("configure time bucket: %w", err)
	}

	hasher := hashkey.New()
	clock := system.New()

	retry := pipeline.DefaultRetryPolicy()
	if cfg.Harvest.MaxRetries > 0 {
		retry.MaxAttempts = cfg.Harvest.MaxRetries
	}

	// One limiter per remote service, shared by all workers. The limits
	// belong to the services, not to any single worker.
	searchLim := ratelimit.New("search", cfg.Search.RatePerSecond)
	archiveLim := ratelimit.New("archive_submit", cfg.Archive.RatePerSecond)
	fetchLim := ratelimit.New("fetch", cfg.Fetch.RatePerSecond)

	queries := querygen.New(hasher, bucketer, cfg.Harvest.Synonyms)
	sched := scheduler.New(store, searcher, hasher, clock, searchLim, scheduler.Config{
		ZeroResultForceRefresh: cfg.Harvest.ZeroResultRefresh,
		Retry:                  retry,
	}, logger)
	coord := archive.New(store, archiver, archiveLim, clock, archive.Config{Retry: retry}, logger)
	retriever := retrieve.New(archiver, fetcher, blobs, fetchLim, clock, retrieve.Config{
		InlineThreshold: cfg.Fetch.InlineThreshold,
		BlobPrefix:      cfg.Storage.Prefix,
	}, logger)
	engine := extract.New(hasher, nil, blobs, logger)
	det := detector.New(store, clock, logger)

	a.queue = memqueue.NewQueue(cfg.Harvest.QueueDepth)
	workers := make([]*worker.Worker, cfg.Harvest.Concurrency)
	for i := range workers {
		workers[i] = worker.New(
			a.queue, queries, sched, coord, retriever, engine, det, pub,
			bucketer, clock,
			worker.Config{Topic: cfg.PubSub.TopicName, LocationBudget: cfg.LocationBudget()},
			logger.With(zap.Int("worker", i)),
		)
	}
	a.dispatcher = dispatcher.New(a.queue, workers)

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		a.metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// Store exposes the relational store for commands that operate on it
// directly, such as roster loading.
func (a *App) Store() *postgres.Store {
	return a.store
}

// Run enqueues every known location for the configured datapoint and drives
// the worker pool until the queue drains or the context ends.
func (a *App) Run(ctx context.Context) (pipeline.RunCounters, error) {
	if a.metricsSrv != nil {
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	locations, err := a.store.Locations(ctx, a.cfg.Harvest.Datapoint)
	if err != nil {
		return pipeline.RunCounters{}, fmt.Errorf("load locations: %w", err)
	}
	if len(locations) == 0 {
		a.logger.Warn("no locations registered; load a roster first")
		return pipeline.RunCounters{}, nil
	}

	runID := uuid.NewString()
	a.logger.Info("starting harvest run",
		zap.String("run_id", runID),
		zap.String("datapoint", a.cfg.Harvest.Datapoint),
		zap.Int("locations", len(locations)),
		zap.Int("workers", a.cfg.Harvest.Concurrency),
	)

	go func() {
		defer a.queue.Close()
		for _, loc := range locations {
			item := pipeline.WorkItem{
				RunID:     runID,
				Location:  loc,
				Datapoint: a.cfg.Harvest.Datapoint,
			}
			if err := a.queue.Enqueue(ctx, item); err != nil {
				a.logger.Warn("stopped enqueueing locations", zap.Error(err))
				return
			}
		}
	}()

	totals := a.dispatcher.Run(ctx)
	a.logger.Info("harvest run finished",
		zap.String("run_id", runID),
		zap.Int("succeeded", totals.Succeeded),
		zap.Int("skipped_current", totals.SkippedAsCurrent),
		zap.Int("failed_retryable", totals.FailedRetryable),
		zap.Int("flagged", totals.Flagged),
	)
	return totals, nil
}

// Close releases every held resource. Safe to call after a failed New.
func (a *App) Close(ctx context.Context) {
	a.shutdown(ctx)
}

func (a *App) shutdown(ctx context.Context) {
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics shutdown", zap.Error(err))
		}
		cancel()
		a.metricsSrv = nil
	}
	if a.searcher != nil {
		a.searcher.Close()
		a.searcher = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close service", zap.Error(err))
		}
	}
	a.closers = nil
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tracer shutdown", zap.Error(err))
		}
		cancel()
		a.tracer = nil
	}
}

func (a *App) buildBlobStore(ctx context.Context) (pipeline.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return gcsblob.New(client, gcsblob.Config{Bucket: a.cfg.Storage.GCSBucket})
	case "local":
		return localblob.New(localblob.Config{BaseDir: a.cfg.Storage.LocalDir})
	case "memory":
		return memblob.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context) (pipeline.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		// Events still flow, they just stay in process. Useful for local
		// runs and for environments without a broker.
		return memorypub.New(), nil
	}
	client, err := gps.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	topic := a.cfg.PubSub.TopicName
	if topic == "" {
		topic = publisher.TopicDocumentChanged
	}
	return pubsubpub.New(client.Publisher(topic)), nil
}
