// Package archive guarantees every result URL has a current-bucket archive
// snapshot before content retrieval proceeds, pacing submissions through the
// shared global limiter.
package archive

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/metrics"
	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/ratelimit"
)

// Config controls Coordinator behavior.
type Config struct {
	Retry pipeline.RetryPolicy
}

// Coordinator ensures at-most-once archival submission per (urlHash, bucket).
type Coordinator struct {
	store   pipeline.SnapshotStore
	archive pipeline.Archiver
	submit  *ratelimit.Limiter
	clock   pipeline.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Coordinator. The submit limiter must be the single
// process-wide instance; the rate limit belongs to the archival service.
func New(
	store pipeline.SnapshotStore,
	archiver pipeline.Archiver,
	submit *ratelimit.Limiter,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:   store,
		archive: archiver,
		submit:  submit,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// EnsureSnapshot returns the current-bucket snapshot for the URL, submitting
// it to the archival service when none exists yet. A false return with a nil
// error means no snapshot is available and the caller should fall back to a
// direct fetch of the original URL.
func (c *Coordinator) EnsureSnapshot(ctx context.Context, u pipeline.ResultURL, bucket string) (pipeline.ArchiveSnapshot, bool, error) {
	if u.ArchiveFatal {
		// The archive permanently rejected this URL in an earlier run.
		// Flagged URLs are never submitted again, in any bucket.
		metrics.CountArchiveSubmit("skipped_fatal")
		return pipeline.ArchiveSnapshot{}, false, nil
	}

	snap, exists, err := c.store.CurrentSnapshot(ctx, u.URLHash, bucket)
	if err != nil {
		return pipeline.ArchiveSnapshot{}, false, fmt.Errorf("look up snapshot %s: %w", u.URLHash, err)
	}
	if exists {
		metrics.CountArchiveSubmit("cached")
		return snap, true, nil
	}

	claimed, err := c.store.ClaimArchival(ctx, u.URLHash, bucket)
	if err != nil {
		return pipeline.ArchiveSnapshot{}, false, fmt.Errorf("claim archival %s: %w", u.URLHash, err)
	}
	if !claimed {
		// Another worker holds the claim. Its write is either already
		// visible or still in flight; in both cases this worker no-ops.
		snap, exists, err = c.store.CurrentSnapshot(ctx, u.URLHash, bucket)
		if err != nil {
			return pipeline.ArchiveSnapshot{}, false, fmt.Errorf("re-read snapshot %s: %w", u.URLHash, err)
		}
		if exists {
			metrics.CountArchiveSubmit("cached")
		}
		return snap, exists, nil
	}

	snap, err = pipeline.Retry(ctx, c.cfg.Retry, func(ctx context.Context) (pipeline.ArchiveSnapshot, pipeline.Outcome) {
		return c.attempt(ctx, u.RawURL)
	})
	if err != nil {
		return pipeline.ArchiveSnapshot{}, false, c.handleSubmitFailure(ctx, u, bucket, err)
	}

	snap.URLHash = u.URLHash
	snap.RawURL = u.RawURL
	if snap.Timestamp.IsZero() {
		snap.Timestamp = c.clock.Now()
	}
	if err := c.store.SaveSnapshot(ctx, snap, bucket); err != nil {
		return pipeline.ArchiveSnapshot{}, false, fmt.Errorf("save snapshot %s: %w", u.URLHash, err)
	}

	c.logger.Info("url archived",
		zap.String("url_hash", u.URLHash),
		zap.String("snapshot_id", snap.SnapshotID),
		zap.String("bucket", bucket),
	)
	metrics.CountArchiveSubmit("submitted")
	return snap, true, nil
}

func (c *Coordinator) attempt(ctx context.Context, rawURL string) (pipeline.ArchiveSnapshot, pipeline.Outcome) {
	if err := c.submit.Acquire(ctx); err != nil {
		return pipeline.ArchiveSnapshot{}, pipeline.Fatal(err)
	}
	snap, err := c.archive.Submit(ctx, rawURL)
	if err == nil {
		return snap, pipeline.Ok()
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return pipeline.ArchiveSnapshot{}, pipeline.Fatal(err)
	case errors.Is(err, pipeline.ErrArchiveRejected):
		return pipeline.ArchiveSnapshot{}, pipeline.Fatal(err)
	default:
		// Rate-limit pushback and service errors are transient.
		return pipeline.ArchiveSnapshot{}, pipeline.Retryable(err)
	}
}

// handleSubmitFailure records the failure and decides whether it is fatal
// for this URL. The pipeline continues either way: "no archive available"
// means "fetch the original URL directly", not "abort".
func (c *Coordinator) handleSubmitFailure(ctx context.Context, u pipeline.ResultURL, bucket string, submitErr error) error {
	if errors.Is(submitErr, pipeline.ErrArchiveRejected) {
		c.logger.Warn("archival rejected url",
			zap.String("url_hash", u.URLHash),
			zap.String("url", u.RawURL),
			zap.Error(submitErr),
		)
		if err := c.store.MarkArchiveFatal(ctx, u.URLHash, submitErr.Error()); err != nil {
			return fmt.Errorf("mark archive fatal %s: %w", u.URLHash, err)
		}
		metrics.CountArchiveSubmit("fatal")
		return nil
	}

	// Transient exhaustion: release the claim so the next run retries the
	// submission instead of treating the URL as permanently unarchivable.
	if err := c.store.ReleaseArchivalClaim(ctx, u.URLHash, bucket); err != nil {
		c.logger.Error("release archival claim",
			zap.String("url_hash", u.URLHash),
			zap.Error(err),
		)
	}
	c.logger.Warn("archival submission failed, falling back to live fetch",
		zap.String("url_hash", u.URLHash),
		zap.Error(submitErr),
	)
	metrics.CountArchiveSubmit("failed")
	return nil
}
