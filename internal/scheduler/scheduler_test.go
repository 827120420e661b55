package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/hashkey"
	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/ratelimit"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeQueryStore struct {
	mu      sync.Mutex
	runs    map[string]pipeline.Query
	results map[string][]pipeline.ResultURL
}

func newFakeQueryStore() *fakeQueryStore {
	return &fakeQueryStore{
		runs:    make(map[string]pipeline.Query),
		results: make(map[string][]pipeline.ResultURL),
	}
}

func (s *fakeQueryStore) LatestQueryRun(_ context.Context, queryHash string) (pipeline.Query, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.runs[queryHash]
	return q, ok, nil
}

func (s *fakeQueryStore) RecordQueryRun(_ context.Context, q pipeline.Query, urls []pipeline.ResultURL) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[q.QueryHash] = q
	s.results[q.QueryHash] = append(s.results[q.QueryHash], urls...)
	return nil
}

func (s *fakeQueryStore) ResultURLs(_ context.Context, queryHash string) ([]pipeline.ResultURL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[queryHash], nil
}

type fakeSearcher struct {
	mu     sync.Mutex
	calls  int
	result pipeline.SearchResult
	errs   []error
}

func (f *fakeSearcher) Search(context.Context, string) (pipeline.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return pipeline.SearchResult{}, err
		}
	}
	return f.result, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testQuery() pipeline.Query {
	return pipeline.Query{
		QueryHash:  "qh-1",
		GeoID:      12345,
		Datapoint:  "sales tax",
		SourceSite: "place_domain",
		QueryText:  `site:cityofexample.gov "sales tax"`,
		TimeBucket: "2026",
	}
}

func newScheduler(store pipeline.QueryStore, searcher pipeline.Searcher, cfg Config) *Scheduler {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = pipeline.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	}
	return New(
		store,
		searcher,
		hashkey.New(),
		&fakeClock{now: time.Unix(1_770_000_000, 0)},
		ratelimit.New("search", 0),
		cfg,
		zap.NewNop(),
	)
}

func TestEnsureResults_ExecutesAndRecords(t *testing.T) {
	t.Parallel()

	store := newFakeQueryStore()
	searcher := &fakeSearcher{result: pipeline.SearchResult{
		URLs:  []string{"https://cityofexample.gov/code/tax", "https://cityofexample.gov/code/tax"},
		Count: 2,
	}}
	s := newScheduler(store, searcher, Config{})

	urls, outcome, err := s.EnsureResults(context.Background(), testQuery())
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, outcome)
	// Batch dedupe: the same URL twice collapses to one row.
	require.Len(t, urls, 1)
	require.Equal(t, 1, searcher.callCount())

	run, ok, _ := store.LatestQueryRun(context.Background(), "qh-1")
	require.True(t, ok)
	require.Equal(t, 2, run.ResultCount)
	require.False(t, run.Failed)
}

func TestEnsureResults_SecondRunIsCacheHit(t *testing.T) {
	t.Parallel()

	store := newFakeQueryStore()
	searcher := &fakeSearcher{result: pipeline.SearchResult{
		URLs:  []string{"https://cityofexample.gov/code/tax"},
		Count: 1,
	}}
	s := newScheduler(store, searcher, Config{})

	_, outcome, err := s.EnsureResults(context.Background(), testQuery())
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, outcome)

	urls, outcome, err := s.EnsureResults(context.Background(), testQuery())
	require.NoError(t, err)
	require.Equal(t, OutcomeCached, outcome)
	require.Len(t, urls, 1)
	require.Equal(t, 1, searcher.callCount(), "external search must run at most once per bucket")
}

func TestEnsureResults_ZeroResultRunSkippedWithoutForceRefresh(t *testing.T) {
	t.Parallel()

	store := newFakeQueryStore()
	searcher := &fakeSearcher{result: pipeline.SearchResult{}}
	s := newScheduler(store, searcher, Config{})

	urls, outcome, err := s.EnsureResults(context.Background(), testQuery())
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, outcome)
	require.Empty(t, urls)

	run, ok, _ := store.LatestQueryRun(context.Background(), "qh-1")
	require.True(t, ok)
	require.Zero(t, run.ResultCount)

	_, outcome, err = s.EnsureResults(context.Background(), testQuery())
	require.NoError(t, err)
	require.Equal(t, OutcomeSkippedZero, outcome)
	require.Equal(t, 1, searcher.callCount())
}

func TestEnsureResults_ZeroResultForceRefreshReruns(t *testing.T) {
	t.Parallel()

	store := newFakeQueryStore()
	searcher := &fakeSearcher{result: pipeline.SearchResult{}}
	s := newScheduler(store, searcher, Config{ZeroResultForceRefresh: true})

	_, _, err := s.EnsureResults(context.Background(), testQuery())
	require.NoError(t, err)
	_, outcome, err := s.EnsureResults(context.Background(), testQuery())
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, outcome)
	require.Equal(t, 2, searcher.callCount())
}

func TestEnsureResults_BlockedMarksFailedNotStale(t *testing.T) {
	t.Parallel()

	store := newFakeQueryStore()
	searcher := &fakeSearcher{errs: []error{pipeline.ErrSearchBlocked, pipeline.ErrSearchBlocked}}
	s := newScheduler(store, searcher, Config{})

	_, outcome, err := s.EnsureResults(context.Background(), testQuery())
	require.Error(t, err)
	require.ErrorIs(t, err, pipeline.ErrRetriesExhausted)
	require.Equal(t, OutcomeFailed, outcome)

	run, ok, _ := store.LatestQueryRun(context.Background(), "qh-1")
	require.True(t, ok)
	require.True(t, run.Failed, "a blocked query must never look legitimately empty")

	// The failed marker makes the query eligible again on the next run.
	searcher.errs = nil
	searcher.result = pipeline.SearchResult{URLs: []string{"https://cityofexample.gov/a"}, Count: 1}
	_, outcome, err = s.EnsureResults(context.Background(), testQuery())
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, outcome)
}

func TestEnsureResults_TransientErrorRetriedThenSucceeds(t *testing.T) {
	t.Parallel()

	store := newFakeQueryStore()
	searcher := &fakeSearcher{
		errs:   []error{pipeline.ErrSearchQuota},
		result: pipeline.SearchResult{URLs: []string{"https://cityofexample.gov/a"}, Count: 1},
	}
	s := newScheduler(store, searcher, Config{})

	urls, outcome, err := s.EnsureResults(context.Background(), testQuery())
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, outcome)
	require.Len(t, urls, 1)
	require.Equal(t, 2, searcher.callCount())
}
