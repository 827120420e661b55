package retrieve

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/ratelimit"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeArchiver struct {
	body []byte
	mime string
	err  error
}

func (f *fakeArchiver) Submit(context.Context, string) (pipeline.ArchiveSnapshot, error) {
	return pipeline.ArchiveSnapshot{}, errors.New("not used")
}

func (f *fakeArchiver) Fetch(context.Context, pipeline.ArchiveSnapshot) ([]byte, string, error) {
	return f.body, f.mime, f.err
}

type fakeFetcher struct {
	body   []byte
	mime   string
	status int
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, string, int, error) {
	f.calls++
	return f.body, f.mime, f.status, f.err
}

type fakeBlobStore struct {
	puts     int
	lastPath string
	lastData []byte
}

func (f *fakeBlobStore) Put(_ context.Context, path, _ string, data []byte) (string, error) {
	f.puts++
	f.lastPath = path
	f.lastData = data
	return "mem://" + path, nil
}

func (f *fakeBlobStore) Get(context.Context, string) ([]byte, error) {
	return f.lastData, nil
}

func newRetriever(archiver pipeline.Archiver, live pipeline.Fetcher, blobs pipeline.BlobStore, threshold int) *Retriever {
	return New(
		archiver,
		live,
		blobs,
		ratelimit.New("retrieval", 0),
		&fakeClock{now: time.Unix(1_770_000_000, 0)},
		Config{InlineThreshold: threshold},
		zap.NewNop(),
	)
}

func testURL() pipeline.ResultURL {
	return pipeline.ResultURL{URLHash: "uh-1", RawURL: "https://cityofexample.gov/code"}
}

func TestRetrieve_PrefersSnapshot(t *testing.T) {
	t.Parallel()

	archiver := &fakeArchiver{body: []byte("<html><body>tax</body></html>"), mime: "text/html"}
	live := &fakeFetcher{}
	r := newRetriever(archiver, live, &fakeBlobStore{}, 0)

	p, err := r.Retrieve(context.Background(), testURL(), pipeline.ArchiveSnapshot{SnapshotID: "202608"}, true)
	require.NoError(t, err)
	require.Equal(t, pipeline.RetrievedFromSnapshot, p.Source)
	require.Equal(t, "202608", p.SnapshotID)
	require.Equal(t, pipeline.FormatHTML, p.Format)
	require.Zero(t, live.calls)
}

func TestRetrieve_SnapshotFailureFallsBackToLive(t *testing.T) {
	t.Parallel()

	archiver := &fakeArchiver{err: pipeline.ErrSnapshotNotFound}
	live := &fakeFetcher{body: []byte("%PDF-1.7 stuff"), mime: "application/pdf", status: 200}
	r := newRetriever(archiver, live, &fakeBlobStore{}, 0)

	p, err := r.Retrieve(context.Background(), testURL(), pipeline.ArchiveSnapshot{SnapshotID: "x"}, true)
	require.NoError(t, err)
	require.Equal(t, pipeline.RetrievedFromLive, p.Source)
	require.Empty(t, p.SnapshotID, "live-fetched documents carry no snapshot reference")
	require.Equal(t, pipeline.FormatPDF, p.Format)
	require.Equal(t, 1, live.calls)
}

func TestRetrieve_NoSnapshotGoesStraightToLive(t *testing.T) {
	t.Parallel()

	live := &fakeFetcher{body: []byte("<!DOCTYPE html><p>hi</p>"), mime: "", status: 200}
	r := newRetriever(&fakeArchiver{}, live, &fakeBlobStore{}, 0)

	p, err := r.Retrieve(context.Background(), testURL(), pipeline.ArchiveSnapshot{}, false)
	require.NoError(t, err)
	require.Equal(t, pipeline.RetrievedFromLive, p.Source)
	require.Equal(t, pipeline.FormatHTML, p.Format)
}

func TestRetrieve_LargePayloadSpillsToBlobStore(t *testing.T) {
	t.Parallel()

	big := append([]byte("%PDF-1.7"), bytes.Repeat([]byte("x"), 4096)...)
	archiver := &fakeArchiver{body: big, mime: "application/pdf"}
	blobs := &fakeBlobStore{}
	r := newRetriever(archiver, &fakeFetcher{}, blobs, 1024)

	p, err := r.Retrieve(context.Background(), testURL(), pipeline.ArchiveSnapshot{SnapshotID: "s"}, true)
	require.NoError(t, err)
	require.Equal(t, 1, blobs.puts)
	require.Contains(t, p.BlobPath, "uh-1")
	require.Contains(t, p.BlobPath, ".pdf")
	require.Equal(t, big, blobs.lastData)
	require.Equal(t, big, p.Body, "extraction still needs the bytes in memory")
}

func TestRetrieve_SmallPayloadStaysInline(t *testing.T) {
	t.Parallel()

	archiver := &fakeArchiver{body: []byte("<html>small</html>"), mime: "text/html"}
	blobs := &fakeBlobStore{}
	r := newRetriever(archiver, &fakeFetcher{}, blobs, 1024)

	p, err := r.Retrieve(context.Background(), testURL(), pipeline.ArchiveSnapshot{SnapshotID: "s"}, true)
	require.NoError(t, err)
	require.Zero(t, blobs.puts)
	require.Empty(t, p.BlobPath)
}

func TestRetrieve_LiveErrorSurfaced(t *testing.T) {
	t.Parallel()

	live := &fakeFetcher{status: 503}
	r := newRetriever(&fakeArchiver{}, live, &fakeBlobStore{}, 0)

	_, err := r.Retrieve(context.Background(), testURL(), pipeline.ArchiveSnapshot{}, false)
	require.Error(t, err)
}

func zipWith(t *testing.T, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create(name)
	require.NoError(t, err)
	_, err = f.Write([]byte("<x/>"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mime string
		body []byte
		want pipeline.Format
	}{
		{"pdf signature beats mime", "text/html", []byte("%PDF-1.4 ..."), pipeline.FormatPDF},
		{"html by mime", "text/html; charset=utf-8", []byte("plain words"), pipeline.FormatHTML},
		{"html by sniff", "", []byte("<!doctype HTML><html></html>"), pipeline.FormatHTML},
		{"docx zip member", "application/octet-stream", zipWith(t, "word/document.xml"), pipeline.FormatDocx},
		{"odt zip member", "", zipWith(t, "content.xml"), pipeline.FormatODT},
		{"plain text", "text/plain", []byte("just text"), pipeline.FormatText},
		{"utf8 fallback", "", []byte("bare words"), pipeline.FormatText},
		{"binary junk flagged", "application/octet-stream", []byte{0x00, 0xff, 0xfe, 0x01}, pipeline.FormatUnsupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, DetectFormat(tc.mime, tc.body))
		})
	}
}

func TestDetectFormat_Deterministic(t *testing.T) {
	t.Parallel()

	body := []byte("%PDF-1.7 content")
	require.Equal(t, DetectFormat("", body), DetectFormat("", body))
}
