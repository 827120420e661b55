package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
)

type fakeDocStore struct {
	docs     map[string]pipeline.Document
	versions map[string]int
	log      []pipeline.ChangeLog
	saves    int
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{
		docs:     map[string]pipeline.Document{},
		versions: map[string]int{},
	}
}

func (s *fakeDocStore) CurrentDocument(_ context.Context, urlHash string) (pipeline.Document, bool, error) {
	doc, ok := s.docs[urlHash]
	return doc, ok, nil
}

func (s *fakeDocStore) SaveDocument(_ context.Context, doc pipeline.Document) error {
	s.saves++
	s.docs[doc.URLHash] = doc
	return nil
}

func (s *fakeDocStore) ArchiveDocumentVersion(_ context.Context, urlHash string) error {
	s.versions[urlHash]++
	return nil
}

func (s *fakeDocStore) AppendChangeLog(_ context.Context, entry pipeline.ChangeLog) error {
	s.log = append(s.log, entry)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newDetector(store *fakeDocStore) *Detector {
	return New(store, fixedClock{t: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}, zap.NewNop())
}

func doc(digest string, pages ...string) pipeline.Document {
	return pipeline.Document{
		URLHash: "u1",
		Pages:   pages,
		Digest:  digest,
		Cleaned: true,
	}
}

func TestApplyNewDocument(t *testing.T) {
	t.Parallel()

	store := newFakeDocStore()
	state, prevDigest, err := newDetector(store).Apply(context.Background(), doc("d1", "Sec 1. A tax is levied."))
	require.NoError(t, err)
	require.Equal(t, pipeline.DocStateNew, state)
	require.Empty(t, prevDigest)
	require.Equal(t, 1, store.saves)
	require.Empty(t, store.log)
	require.Zero(t, store.versions["u1"])
}

func TestApplyUnchangedWritesNothing(t *testing.T) {
	t.Parallel()

	store := newFakeDocStore()
	d := newDetector(store)

	_, _, err := d.Apply(context.Background(), doc("d1", "Sec 1."))
	require.NoError(t, err)

	state, prevDigest, err := d.Apply(context.Background(), doc("d1", "Sec 1."))
	require.NoError(t, err)
	require.Equal(t, pipeline.DocStateUnchanged, state)
	require.Equal(t, "d1", prevDigest)
	require.Equal(t, 1, store.saves, "identical content must not be rewritten")
	require.Empty(t, store.log)
	require.Zero(t, store.versions["u1"])
}

func TestApplyChangedArchivesAndLogsOnce(t *testing.T) {
	t.Parallel()

	store := newFakeDocStore()
	d := newDetector(store)

	_, _, err := d.Apply(context.Background(), doc("d1", "Sec 1. The rate is 1%.\nSec 2. Exemptions."))
	require.NoError(t, err)

	state, prevDigest, err := d.Apply(context.Background(), doc("d2", "Sec 1. The rate is 2%.\nSec 2. Exemptions."))
	require.NoError(t, err)
	require.Equal(t, pipeline.DocStateChanged, state)
	require.Equal(t, "d1", prevDigest)

	require.Equal(t, 1, store.versions["u1"], "previous version archived before overwrite")
	require.Equal(t, "d2", store.docs["u1"].Digest)

	require.Len(t, store.log, 1, "exactly one change-log entry per detected change")
	entry := store.log[0]
	require.Equal(t, "d1", entry.PreviousDigest)
	require.Equal(t, "d2", entry.NewDigest)
	require.Contains(t, entry.DiffSummary, "+1 -1 lines")
	require.Contains(t, entry.DiffSummary, "-Sec 1. The rate is 1%.")
	require.Contains(t, entry.DiffSummary, "+Sec 1. The rate is 2%.")
	require.Equal(t, time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC), entry.DetectedAt)
}

func TestApplyChangeAfterChange(t *testing.T) {
	t.Parallel()

	store := newFakeDocStore()
	d := newDetector(store)

	for _, digest := range []string{"d1", "d2", "d3"} {
		_, _, err := d.Apply(context.Background(), doc(digest, "content "+digest))
		require.NoError(t, err)
	}

	require.Equal(t, 2, store.versions["u1"])
	require.Len(t, store.log, 2)
	require.Equal(t, "d3", store.docs["u1"].Digest)
}
