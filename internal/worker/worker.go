// Package worker executes the acquisition pipeline for one location at a
// time: generate queries, ensure search results, archive each URL, retrieve
// and extract its content, and run update detection on the outcome.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/archive"
	"github.com/socialtoolkit/lawharvest/internal/detector"
	"github.com/socialtoolkit/lawharvest/internal/extract"
	"github.com/socialtoolkit/lawharvest/internal/metrics"
	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/publisher"
	"github.com/socialtoolkit/lawharvest/internal/queue"
	"github.com/socialtoolkit/lawharvest/internal/querygen"
	"github.com/socialtoolkit/lawharvest/internal/retrieve"
	"github.com/socialtoolkit/lawharvest/internal/scheduler"
)

// Config controls Worker behavior.
type Config struct {
	// Topic receives one event per NEW or CHANGED document.
	Topic string
	// LocationBudget caps wall-clock time per location. Zero disables the
	// cap. A location that exceeds the budget is recorded as abandoned and
	// the worker moves on; a later run resumes from the stored state.
	LocationBudget time.Duration
}

// Worker consumes locations from the queue and runs them through the full
// pipeline sequentially. Parallelism lives across workers, not inside one.
type Worker struct {
	queue     queue.Queue
	queries   *querygen.Generator
	scheduler *scheduler.Scheduler
	coord     *archive.Coordinator
	retriever *retrieve.Retriever
	extractor *extract.Engine
	detector  *detector.Detector
	publisher pipeline.Publisher
	bucketer  pipeline.Bucketer
	clock     pipeline.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	q queue.Queue,
	queries *querygen.Generator,
	sched *scheduler.Scheduler,
	coord *archive.Coordinator,
	retriever *retrieve.Retriever,
	extractor *extract.Engine,
	det *detector.Detector,
	pub pipeline.Publisher,
	bucketer pipeline.Bucketer,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = publisher.TopicDocumentChanged
	}
	return &Worker{
		queue:     q,
		queries:   queries,
		scheduler: sched,
		coord:     coord,
		retriever: retriever,
		extractor: extractor,
		detector:  det,
		publisher: pub,
		bucketer:  bucketer,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run consumes work items until the queue closes or the context ends, and
// returns the counters accumulated across the locations it processed.
func (w *Worker) Run(ctx context.Context) pipeline.RunCounters {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	var totals pipeline.RunCounters
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, queue.ErrClosed) {
				w.logger.Error("dequeue failed", zap.Error(err))
			}
			return totals
		}
		totals.Add(w.processLocation(ctx, item))
	}
}

func (w *Worker) processLocation(ctx context.Context, item pipeline.WorkItem) pipeline.RunCounters {
	start := w.clock.Now()
	logger := w.logger.With(
		zap.String("run_id", item.RunID),
		zap.Int64("gnis", item.Location.GeoID),
		zap.String("place", item.Location.PlaceName),
		zap.String("datapoint", item.Datapoint),
	)

	if w.cfg.LocationBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.LocationBudget)
		defer cancel()
	}

	tracer := otel.Tracer("lawharvest/worker")
	ctx, span := tracer.Start(ctx, "process_location")
	span.SetAttributes(
		attribute.Int64("gnis", item.Location.GeoID),
		attribute.String("datapoint", item.Datapoint),
	)
	defer span.End()

	var counters pipeline.RunCounters
	bucket := w.bucketer.Bucket(w.clock.Now())
	seen := make(map[string]struct{})

	for _, q := range w.queries.Queries(item.Location, item.Datapoint, bucket) {
		urls, outcome, err := w.scheduler.EnsureResults(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				w.finishLocation(logger, start, counters, true)
				return counters
			}
			logger.Warn("search scheduling failed",
				zap.String("query_hash", q.QueryHash), zap.Error(err))
			counters.FailedRetryable++
			continue
		}
		if outcome == scheduler.OutcomeFailed {
			counters.FailedRetryable++
			continue
		}

		for _, u := range urls {
			if _, dup := seen[u.URLHash]; dup {
				continue
			}
			seen[u.URLHash] = struct{}{}

			if ctx.Err() != nil {
				w.finishLocation(logger, start, counters, true)
				return counters
			}
			w.processURL(ctx, item, u, bucket, &counters, logger)
		}
	}

	w.finishLocation(logger, start, counters, false)
	return counters
}

func (w *Worker) processURL(
	ctx context.Context,
	item pipeline.WorkItem,
	u pipeline.ResultURL,
	bucket string,
	counters *pipeline.RunCounters,
	logger *zap.Logger,
) {
	urlLogger := logger.With(zap.String("url_hash", u.URLHash))

	snap, hasSnapshot, err := w.coord.EnsureSnapshot(ctx, u, bucket)
	if err != nil {
		urlLogger.Warn("archival failed", zap.Error(err))
		counters.FailedRetryable++
		return
	}

	payload, err := w.retriever.Retrieve(ctx, u, snap, hasSnapshot)
	if err != nil {
		urlLogger.Warn("retrieval failed", zap.Error(err))
		counters.FailedRetryable++
		return
	}

	doc := w.extractor.Extract(ctx, payload)

	state, prevDigest, err := w.detector.Apply(ctx, doc)
	if err != nil {
		urlLogger.Warn("update detection failed", zap.Error(err))
		counters.FailedRetryable++
		return
	}

	switch state {
	case pipeline.DocStateUnchanged:
		counters.SkippedAsCurrent++
	default:
		counters.Succeeded++
		w.publishChange(ctx, item, u, doc, state, prevDigest, urlLogger)
	}
	if !doc.Cleaned {
		counters.Flagged++
		urlLogger.Info("document flagged for manual review",
			zap.String("reason", doc.CleaningError))
	}
}

func (w *Worker) publishChange(
	ctx context.Context,
	item pipeline.WorkItem,
	u pipeline.ResultURL,
	doc pipeline.Document,
	state pipeline.DocState,
	prevDigest string,
	logger *zap.Logger,
) {
	if w.publisher == nil {
		return
	}
	event := publisher.NewChangeEvent(item.Location.GeoID, u.RawURL, doc, state, prevDigest, w.clock.Now().UTC())
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		// Downstream notification is best effort; the store already has
		// the document.
		logger.Warn("change event publish failed", zap.Error(err))
	}
}

func (w *Worker) finishLocation(logger *zap.Logger, start time.Time, counters pipeline.RunCounters, abandoned bool) {
	elapsed := w.clock.Now().Sub(start)
	metrics.ObserveStageDuration("location", elapsed)
	outcome := "succeeded"
	if abandoned {
		outcome = "abandoned"
	}
	metrics.CountLocation(outcome)
	logger.Info("location processed",
		zap.String("outcome", outcome),
		zap.Duration("elapsed", elapsed),
		zap.Int("succeeded", counters.Succeeded),
		zap.Int("skipped_as_current", counters.SkippedAsCurrent),
		zap.Int("failed_retryable", counters.FailedRetryable),
		zap.Int("flagged", counters.Flagged),
	)
}
