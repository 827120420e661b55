package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInit_Idempotent(t *testing.T) {
	Init()
	require.NotPanics(t, Init)
}

func TestCountersAndHandler(t *testing.T) {
	CountSearch("executed")
	CountSearch("cached")
	CountArchiveSubmit("submitted")
	CountRetrieval("snapshot", "pdf")
	CountDocument("changed")
	CountLocation("succeeded")
	ObserveRateLimitDelay("archive_submit", 120*time.Millisecond)
	ObserveStageDuration("extract", 40*time.Millisecond)
	WorkerStarted()
	WorkerStopped()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "lawharvest_searches_total")
	require.Contains(t, rec.Body.String(), "lawharvest_documents_total")
}
