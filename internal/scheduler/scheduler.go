// Package scheduler decides whether a query needs re-execution and runs it
// against the search capability, recording results for later runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/metrics"
	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/ratelimit"
)

// Outcome classifies what the scheduler did with a query.
type Outcome string

const (
	// OutcomeExecuted means the external search ran and results were stored.
	OutcomeExecuted Outcome = "executed"
	// OutcomeCached means a run inside the current bucket already has results.
	OutcomeCached Outcome = "cached"
	// OutcomeSkippedZero means a prior zero-result run inside the bucket was
	// honored because force refresh is off.
	OutcomeSkippedZero Outcome = "zero_results"
	// OutcomeFailed means retries were exhausted; the query is marked
	// failed-not-stale so the next scheduled run picks it up again.
	OutcomeFailed Outcome = "failed"
)

// Config controls scheduler behavior.
type Config struct {
	// ZeroResultForceRefresh re-runs queries whose prior run inside the
	// bucket returned nothing. Off by default to avoid runaway re-querying
	// of genuinely empty topics.
	ZeroResultForceRefresh bool
	Retry                  pipeline.RetryPolicy
}

// Scheduler coordinates staleness checks and search execution.
type Scheduler struct {
	store    pipeline.QueryStore
	searcher pipeline.Searcher
	hasher   pipeline.Hasher
	clock    pipeline.Clock
	limiter  *ratelimit.Limiter
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Scheduler.
func New(
	store pipeline.QueryStore,
	searcher pipeline.Searcher,
	hasher pipeline.Hasher,
	clock pipeline.Clock,
	limiter *ratelimit.Limiter,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    store,
		searcher: searcher,
		hasher:   hasher,
		clock:    clock,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// EnsureResults returns the result URLs for the query, executing the
// external search only when the current time bucket has no usable run.
// The query hash already folds in the bucket, so a prior run under the same
// hash is by construction a run inside the current bucket.
func (s *Scheduler) EnsureResults(ctx context.Context, q pipeline.Query) ([]pipeline.ResultURL, Outcome, error) {
	prior, exists, err := s.store.LatestQueryRun(ctx, q.QueryHash)
	if err != nil {
		return nil, OutcomeFailed, fmt.Errorf("look up query run %s: %w", q.QueryHash, err)
	}

	if exists && !prior.Failed {
		if prior.ResultCount > 0 {
			urls, err := s.store.ResultURLs(ctx, q.QueryHash)
			if err != nil {
				return nil, OutcomeFailed, fmt.Errorf("load cached results %s: %w", q.QueryHash, err)
			}
			metrics.CountSearch(string(OutcomeCached))
			return urls, OutcomeCached, nil
		}
		if !s.cfg.ZeroResultForceRefresh {
			s.logger.Debug("honoring prior zero-result run",
				zap.String("query_hash", q.QueryHash),
				zap.String("query", q.QueryText),
			)
			metrics.CountSearch(string(OutcomeSkippedZero))
			return nil, OutcomeSkippedZero, nil
		}
	}

	result, err := pipeline.Retry(ctx, s.cfg.Retry, func(ctx context.Context) (pipeline.SearchResult, pipeline.Outcome) {
		return s.attempt(ctx, q)
	})
	if err != nil {
		// A blocked or timed-out query must never be recorded as
		// legitimately empty. Failed-not-stale keeps it eligible for the
		// next scheduled run.
		q.Failed = true
		q.ResultCount = 0
		q.SearchedAt = s.clock.Now()
		if recErr := s.store.RecordQueryRun(ctx, q, nil); recErr != nil {
			s.logger.Error("record failed query run",
				zap.String("query_hash", q.QueryHash),
				zap.Error(recErr),
			)
		}
		metrics.CountSearch(string(OutcomeFailed))
		return nil, OutcomeFailed, fmt.Errorf("search %s: %w", q.QueryHash, err)
	}

	urls := s.dedupeResults(q, result)
	q.Failed = false
	q.ResultCount = result.Count
	q.SearchedAt = s.clock.Now()
	if err := s.store.RecordQueryRun(ctx, q, urls); err != nil {
		return nil, OutcomeFailed, fmt.Errorf("record query run %s: %w", q.QueryHash, err)
	}

	s.logger.Info("search executed",
		zap.String("query_hash", q.QueryHash),
		zap.String("source_site", q.SourceSite),
		zap.Int("results", result.Count),
	)
	metrics.CountSearch(string(OutcomeExecuted))
	return urls, OutcomeExecuted, nil
}

func (s *Scheduler) attempt(ctx context.Context, q pipeline.Query) (pipeline.SearchResult, pipeline.Outcome) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return pipeline.SearchResult{}, pipeline.Fatal(err)
	}
	result, err := s.searcher.Search(ctx, q.QueryText)
	if err == nil {
		return result, pipeline.Ok()
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return pipeline.SearchResult{}, pipeline.Fatal(err)
	case errors.Is(err, pipeline.ErrSearchBlocked), errors.Is(err, pipeline.ErrSearchQuota):
		return pipeline.SearchResult{}, pipeline.Retryable(err)
	default:
		return pipeline.SearchResult{}, pipeline.Retryable(err)
	}
}

// dedupeResults builds ResultURL rows, collapsing duplicate URLs within the
// batch by their (location, url) hash.
func (s *Scheduler) dedupeResults(q pipeline.Query, result pipeline.SearchResult) []pipeline.ResultURL {
	seen := make(map[string]struct{}, len(result.URLs))
	urls := make([]pipeline.ResultURL, 0, len(result.URLs))
	now := s.clock.Now()
	for _, raw := range result.URLs {
		urlHash := s.hasher.Key(fmt.Sprintf("%d", q.GeoID), raw)
		if _, dup := seen[urlHash]; dup {
			continue
		}
		seen[urlHash] = struct{}{}
		urls = append(urls, pipeline.ResultURL{
			URLHash:      urlHash,
			QueryHash:    q.QueryHash,
			GeoID:        q.GeoID,
			RawURL:       raw,
			DiscoveredAt: now,
		})
	}
	return urls
}
