package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/ratelimit"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]pipeline.ArchiveSnapshot // urlHash|bucket
	claims    map[string]struct{}
	fatals    map[string]string
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{
		snapshots: make(map[string]pipeline.ArchiveSnapshot),
		claims:    make(map[string]struct{}),
		fatals:    make(map[string]string),
	}
}

func key(urlHash, bucket string) string { return urlHash + "|" + bucket }

func (s *fakeSnapshotStore) CurrentSnapshot(_ context.Context, urlHash, bucket string) (pipeline.ArchiveSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[key(urlHash, bucket)]
	return snap, ok, nil
}

func (s *fakeSnapshotStore) ClaimArchival(_ context.Context, urlHash, bucket string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(urlHash, bucket)
	if _, taken := s.claims[k]; taken {
		return false, nil
	}
	s.claims[k] = struct{}{}
	return true, nil
}

func (s *fakeSnapshotStore) ReleaseArchivalClaim(_ context.Context, urlHash, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key(urlHash, bucket))
	return nil
}

func (s *fakeSnapshotStore) SaveSnapshot(_ context.Context, snap pipeline.ArchiveSnapshot, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key(snap.URLHash, bucket)] = snap
	return nil
}

func (s *fakeSnapshotStore) MarkArchiveFatal(_ context.Context, urlHash, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatals[urlHash] = reason
	return nil
}

type fakeArchiver struct {
	mu      sync.Mutex
	submits int
	errs    []error
	snap    pipeline.ArchiveSnapshot
}

func (f *fakeArchiver) Submit(context.Context, string) (pipeline.ArchiveSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return pipeline.ArchiveSnapshot{}, err
		}
	}
	return f.snap, nil
}

func (f *fakeArchiver) Fetch(context.Context, pipeline.ArchiveSnapshot) ([]byte, string, error) {
	return nil, "", pipeline.ErrSnapshotNotFound
}

func (f *fakeArchiver) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func testURL() pipeline.ResultURL {
	return pipeline.ResultURL{
		URLHash: "uh-1",
		GeoID:   12345,
		RawURL:  "https://cityofexample.gov/code/tax",
	}
}

func newCoordinator(store pipeline.SnapshotStore, archiver pipeline.Archiver) *Coordinator {
	return New(
		store,
		archiver,
		ratelimit.New("archive_submit", 0),
		&fakeClock{now: time.Unix(1_770_000_000, 0)},
		Config{Retry: pipeline.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}},
		zap.NewNop(),
	)
}

func TestEnsureSnapshot_SubmitsOnceThenCaches(t *testing.T) {
	t.Parallel()

	store := newFakeSnapshotStore()
	archiver := &fakeArchiver{snap: pipeline.ArchiveSnapshot{SnapshotID: "snap-1", HTTPStatus: 200}}
	c := newCoordinator(store, archiver)

	snap, ok, err := c.EnsureSnapshot(context.Background(), testURL(), "2026")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "snap-1", snap.SnapshotID)
	require.Equal(t, "uh-1", snap.URLHash)

	_, ok, err = c.EnsureSnapshot(context.Background(), testURL(), "2026")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, archiver.submitCount(), "resubmission within the same bucket is forbidden")
}

func TestEnsureSnapshot_NewBucketResubmits(t *testing.T) {
	t.Parallel()

	store := newFakeSnapshotStore()
	archiver := &fakeArchiver{snap: pipeline.ArchiveSnapshot{SnapshotID: "snap-1"}}
	c := newCoordinator(store, archiver)

	_, _, err := c.EnsureSnapshot(context.Background(), testURL(), "2026")
	require.NoError(t, err)
	_, _, err = c.EnsureSnapshot(context.Background(), testURL(), "2027")
	require.NoError(t, err)
	require.Equal(t, 2, archiver.submitCount())
}

func TestEnsureSnapshot_RaceYieldsSingleSubmission(t *testing.T) {
	t.Parallel()

	store := newFakeSnapshotStore()
	archiver := &fakeArchiver{snap: pipeline.ArchiveSnapshot{SnapshotID: "snap-race"}}
	c := newCoordinator(store, archiver)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.EnsureSnapshot(context.Background(), testURL(), "2026")
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, archiver.submitCount(), "exactly one submission under concurrency")
}

func TestEnsureSnapshot_RejectedMarksFatalAndContinues(t *testing.T) {
	t.Parallel()

	store := newFakeSnapshotStore()
	archiver := &fakeArchiver{errs: []error{pipeline.ErrArchiveRejected}}
	c := newCoordinator(store, archiver)

	_, ok, err := c.EnsureSnapshot(context.Background(), testURL(), "2026")
	require.NoError(t, err, "fatal-for-URL is not fatal for the pipeline")
	require.False(t, ok)
	require.Contains(t, store.fatals, "uh-1")
	require.Equal(t, 1, archiver.submitCount(), "rejection is not retried")
}

func TestEnsureSnapshot_FatalURLNeverResubmitted(t *testing.T) {
	t.Parallel()

	store := newFakeSnapshotStore()
	archiver := &fakeArchiver{snap: pipeline.ArchiveSnapshot{SnapshotID: "snap-1"}}
	c := newCoordinator(store, archiver)

	u := testURL()
	u.ArchiveFatal = true

	for _, bucket := range []string{"2026", "2027"} {
		_, ok, err := c.EnsureSnapshot(context.Background(), u, bucket)
		require.NoError(t, err)
		require.False(t, ok, "flagged URLs fall back to a direct fetch")
	}
	require.Zero(t, archiver.submitCount(), "flagged URLs are never submitted again")
	require.Empty(t, store.claims, "no claim is taken for a flagged URL")
}

func TestEnsureSnapshot_ServiceErrorReleasesClaim(t *testing.T) {
	t.Parallel()

	store := newFakeSnapshotStore()
	serviceErr := errors.New("archive 503")
	archiver := &fakeArchiver{errs: []error{serviceErr, serviceErr}}
	c := newCoordinator(store, archiver)

	_, ok, err := c.EnsureSnapshot(context.Background(), testURL(), "2026")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, archiver.submitCount(), "service errors are retried up to the bound")
	require.NotContains(t, store.fatals, "uh-1")

	// Claim released: the next run may submit again.
	archiver.errs = nil
	archiver.snap = pipeline.ArchiveSnapshot{SnapshotID: "snap-2"}
	snap, ok, err := c.EnsureSnapshot(context.Background(), testURL(), "2026")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "snap-2", snap.SnapshotID)
}

func TestEnsureSnapshot_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	store := newFakeSnapshotStore()
	archiver := &fakeArchiver{
		errs: []error{pipeline.ErrArchiveRateLimited},
		snap: pipeline.ArchiveSnapshot{SnapshotID: "snap-3"},
	}
	c := newCoordinator(store, archiver)

	snap, ok, err := c.EnsureSnapshot(context.Background(), testURL(), "2026")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "snap-3", snap.SnapshotID)
	require.Equal(t, 2, archiver.submitCount())
}
