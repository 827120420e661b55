package wayback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{
		SaveURL:      srv.URL + "/save/",
		WebURL:       srv.URL + "/web/",
		AvailableURL: srv.URL + "/wayback/available",
	}, srv.Client())
	return c, srv
}

func TestSubmit_ParsesSnapshotFromContentLocation(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Location", "/web/20260831120000/https://cityofexample.gov/code")
		w.WriteHeader(http.StatusOK)
	}))

	snap, err := c.Submit(context.Background(), "https://cityofexample.gov/code")
	require.NoError(t, err)
	require.Equal(t, "20260831120000", snap.SnapshotID)
	require.Equal(t, time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC), snap.Timestamp)
	require.Equal(t, "https://cityofexample.gov/code", snap.RawURL)
}

func TestSubmit_RateLimited(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.Submit(context.Background(), "https://cityofexample.gov/code")
	require.ErrorIs(t, err, pipeline.ErrArchiveRateLimited)
}

func TestSubmit_RobotsDisallowedIsRejected(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.Submit(context.Background(), "https://blocked.example.gov/")
	require.ErrorIs(t, err, pipeline.ErrArchiveRejected)
}

func TestSubmit_ServiceErrorIsNotRejection(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.Submit(context.Background(), "https://cityofexample.gov/code")
	require.Error(t, err)
	require.NotErrorIs(t, err, pipeline.ErrArchiveRejected)
	require.NotErrorIs(t, err, pipeline.ErrArchiveRateLimited)
}

func TestSubmit_ReusesRecentCapture(t *testing.T) {
	t.Parallel()

	recent := time.Now().UTC().Add(-time.Hour).Format("20060102150405")
	saves := 0
	srvMux := http.NewServeMux()
	srvMux.HandleFunc("/wayback/available", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"archived_snapshots":{"closest":{"available":true,"url":"u","timestamp":"` + recent + `","status":"200"}}}`))
	})
	srvMux.HandleFunc("/save/", func(w http.ResponseWriter, r *http.Request) {
		saves++
		w.Header().Set("Content-Location", "/web/20260831120000/x")
	})
	srv := httptest.NewServer(srvMux)
	t.Cleanup(srv.Close)

	c := New(Config{
		SaveURL:      srv.URL + "/save/",
		WebURL:       srv.URL + "/web/",
		AvailableURL: srv.URL + "/wayback/available",
		ReuseWithin:  24 * time.Hour,
	}, srv.Client())

	snap, err := c.Submit(context.Background(), "https://cityofexample.gov/code")
	require.NoError(t, err)
	require.Equal(t, recent, snap.SnapshotID)
	require.Zero(t, saves, "a recent public capture should be reused, not re-saved")
}

func TestSubmit_AvailabilityProbeEscapesRawURL(t *testing.T) {
	t.Parallel()

	rawURL := "https://cityofexample.gov/code?chapter=3&section=2"
	recent := time.Now().UTC().Add(-time.Hour).Format("20060102150405")
	srvMux := http.NewServeMux()
	srvMux.HandleFunc("/wayback/available", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, rawURL, r.URL.Query().Get("url"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"archived_snapshots":{"closest":{"available":true,"url":"u","timestamp":"` + recent + `","status":"200"}}}`))
	})
	srv := httptest.NewServer(srvMux)
	t.Cleanup(srv.Close)

	c := New(Config{
		SaveURL:      srv.URL + "/save/",
		WebURL:       srv.URL + "/web/",
		AvailableURL: srv.URL + "/wayback/available",
		ReuseWithin:  24 * time.Hour,
	}, srv.Client())

	snap, err := c.Submit(context.Background(), rawURL)
	require.NoError(t, err)
	require.Equal(t, recent, snap.SnapshotID)
}

func TestFetch_ReturnsBodyAndMime(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "20260831120000id_")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>tax code</html>"))
	}))

	body, mime, err := c.Fetch(context.Background(), pipeline.ArchiveSnapshot{
		SnapshotID: "20260831120000",
		RawURL:     "https://cityofexample.gov/code",
	})
	require.NoError(t, err)
	require.Equal(t, "text/html; charset=utf-8", mime)
	require.Equal(t, []byte("<html>tax code</html>"), body)
}

func TestFetch_NotFound(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, _, err := c.Fetch(context.Background(), pipeline.ArchiveSnapshot{SnapshotID: "20200101000000", RawURL: "https://gone.example/"})
	require.ErrorIs(t, err, pipeline.ErrSnapshotNotFound)
}
