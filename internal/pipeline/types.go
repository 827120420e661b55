// Package pipeline defines core types shared across subsystems.
package pipeline

import "time"

// Location is an immutable reference record for one municipality or county.
// It is owned by the location directory; the pipeline reads it, never writes it.
type Location struct {
	GeoID      int64  `json:"gnis"`
	FipsID     string `json:"fips_id"`
	PlaceName  string `json:"place_name"`
	StateCode  string `json:"state_code"`
	ClassCode  string `json:"class_code"`
	DomainName string `json:"domain_name"`
}

// IsCounty reports whether the location is a county. Census class codes
// starting with "H" denote county-level governments.
func (l Location) IsCounty() bool {
	return len(l.ClassCode) > 0 && l.ClassCode[0] == 'H'
}

// Query is one fully formatted search-engine query for one location.
// QueryHash folds in the time bucket, so the same query text re-hashed in a
// later bucket yields a distinct key.
type Query struct {
	QueryHash   string    `json:"query_hash"`
	GeoID       int64     `json:"gnis"`
	Datapoint   string    `json:"datapoint"`
	SourceSite  string    `json:"source_site"`
	QueryText   string    `json:"query_text"`
	TimeBucket  string    `json:"time_bucket"`
	ResultCount int       `json:"num_results"`
	Failed      bool      `json:"failed"`
	SearchedAt  time.Time `json:"searched_at"`
}

// ResultURL is one URL returned by a search run, keyed by hash(geoID, rawURL).
type ResultURL struct {
	URLHash      string    `json:"url_hash"`
	QueryHash    string    `json:"query_hash"`
	GeoID        int64     `json:"gnis"`
	RawURL       string    `json:"url"`
	ArchiveURL   string    `json:"ia_url,omitempty"`
	ArchiveFatal bool      `json:"archive_fatal"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// ArchiveSnapshot records one archived copy of a URL held by the archival
// service. One logical current snapshot exists per (urlHash, bucket); older
// snapshots are history and are never overwritten.
type ArchiveSnapshot struct {
	SnapshotID    string    `json:"snapshot_id"`
	URLHash       string    `json:"url_hash"`
	RawURL        string    `json:"url"`
	Timestamp     time.Time `json:"timestamp"`
	ContentDigest string    `json:"digest"`
	MimeType      string    `json:"mimetype"`
	HTTPStatus    int       `json:"http_status"`
}

// Format identifies a retrieved payload's document type.
type Format string

// Recognized payload formats. Anything else is flagged, not extracted.
const (
	FormatHTML        Format = "html"
	FormatPDF         Format = "pdf"
	FormatDocx        Format = "docx"
	FormatODT         Format = "odt"
	FormatText        Format = "txt"
	FormatUnsupported Format = "unsupported"
)

// RetrievalSource says where ContentRetriever got the bytes from.
type RetrievalSource string

const (
	RetrievedFromSnapshot RetrievalSource = "snapshot"
	RetrievedFromLive     RetrievalSource = "live"
)

// Payload is the raw retrieval result handed to the extraction engine.
type Payload struct {
	URLHash     string
	RawURL      string
	Body        []byte
	Format      Format
	MimeType    string
	Source      RetrievalSource
	SnapshotID  string
	BlobPath    string // set when the body was spilled to blob storage
	RetrievedAt time.Time
}

// Document is the extracted, normalized content for one urlHash. The store
// persists one doc_content row per page plus a metadata row carrying the
// digest used for update detection.
type Document struct {
	URLHash       string
	Title         string
	Pages         []string
	Digest        string
	SourceFormat  Format
	Cleaned       bool
	CleaningError string
	SnapshotID    string
	Source        RetrievalSource
	LocalPath     string
	UpdatedAt     time.Time
}

// ChangeLog is one append-only record of a detected content change.
type ChangeLog struct {
	URLHash        string
	PreviousDigest string
	NewDigest      string
	DiffSummary    string
	DetectedAt     time.Time
}

// DocState classifies the update-detection outcome for one document.
type DocState string

const (
	DocStateNew       DocState = "new"
	DocStateUnchanged DocState = "unchanged"
	DocStateChanged   DocState = "changed"
)

// RunCounters accumulates per-outcome totals for a run summary.
type RunCounters struct {
	Succeeded        int `json:"succeeded"`
	SkippedAsCurrent int `json:"skipped_as_current"`
	FailedRetryable  int `json:"failed_retryable"`
	Flagged          int `json:"flagged_for_manual_review"`
}

// Add merges another set of counters into this one.
func (c *RunCounters) Add(other RunCounters) {
	c.Succeeded += other.Succeeded
	c.SkippedAsCurrent += other.SkippedAsCurrent
	c.FailedRetryable += other.FailedRetryable
	c.Flagged += other.Flagged
}

// WorkItem is one unit of pipeline work: a single location processed for a
// single datapoint.
type WorkItem struct {
	RunID     string
	Location  Location
	Datapoint string
	Attempt   int
}
