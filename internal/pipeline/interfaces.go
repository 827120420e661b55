package pipeline

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors distinguishing external-capability failure modes. Callers
// classify these with errors.Is; the retry driver decides which are worth
// another attempt.
var (
	// ErrSearchBlocked means the search engine served a CAPTCHA or block
	// page. Must never be conflated with a legitimate zero-result outcome.
	ErrSearchBlocked = errors.New("search blocked")
	// ErrSearchQuota means the search capability exhausted its quota.
	ErrSearchQuota = errors.New("search quota exhausted")
	// ErrArchiveRejected means the archival service refused the URL
	// (robots-disallowed, malformed, or policy-excluded).
	ErrArchiveRejected = errors.New("archive submission rejected")
	// ErrArchiveRateLimited means the archival service pushed back.
	ErrArchiveRateLimited = errors.New("archive rate limited")
	// ErrSnapshotNotFound means the requested snapshot does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// SearchResult is the outcome of one executed search query.
type SearchResult struct {
	URLs  []string
	Count int
}

// Searcher executes a search-engine query and captures result URLs.
// A query that legitimately matches nothing returns an empty result and a
// nil error; blocks, timeouts, and quota exhaustion are errors.
type Searcher interface {
	Search(ctx context.Context, queryText string) (SearchResult, error)
}

// Archiver submits URLs to the third-party archival service and fetches
// snapshot content back.
type Archiver interface {
	Submit(ctx context.Context, rawURL string) (ArchiveSnapshot, error)
	Fetch(ctx context.Context, snap ArchiveSnapshot) (body []byte, mimeType string, err error)
}

// Fetcher fetches a live URL directly, bypassing the archive. Used as the
// documented fallback when no snapshot is available.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (body []byte, mimeType string, statusCode int, err error)
}

// LocationDirectory supplies municipality metadata. The pipeline never
// mutates location records.
type LocationDirectory interface {
	Locations(ctx context.Context, datapoint string) ([]Location, error)
}

// QueryStore persists query runs and their result URLs.
type QueryStore interface {
	// LatestQueryRun returns the most recent run for the hash, if any.
	LatestQueryRun(ctx context.Context, queryHash string) (Query, bool, error)
	// RecordQueryRun upserts the run record and inserts its result URLs,
	// deduplicated by url_hash.
	RecordQueryRun(ctx context.Context, q Query, urls []ResultURL) error
	// ResultURLs returns the URLs recorded for a query hash.
	ResultURLs(ctx context.Context, queryHash string) ([]ResultURL, error)
}

// SnapshotStore persists archive snapshots keyed by (urlHash, bucket).
type SnapshotStore interface {
	// CurrentSnapshot returns the snapshot for the bucket, if one exists.
	CurrentSnapshot(ctx context.Context, urlHash, bucket string) (ArchiveSnapshot, bool, error)
	// ClaimArchival atomically claims the right to submit urlHash for
	// archiving within the bucket. Exactly one caller wins per key.
	ClaimArchival(ctx context.Context, urlHash, bucket string) (bool, error)
	// ReleaseArchivalClaim drops a claim after a failed submission so the
	// next run can retry.
	ReleaseArchivalClaim(ctx context.Context, urlHash, bucket string) error
	// SaveSnapshot persists a submission result.
	SaveSnapshot(ctx context.Context, snap ArchiveSnapshot, bucket string) error
	// MarkArchiveFatal flags a URL whose submission failed permanently.
	MarkArchiveFatal(ctx context.Context, urlHash, reason string) error
}

// DocumentStore persists extracted documents and the change log.
type DocumentStore interface {
	// CurrentDocument returns the stored document for urlHash, if any.
	CurrentDocument(ctx context.Context, urlHash string) (Document, bool, error)
	// SaveDocument overwrites the current document rows for doc.URLHash.
	SaveDocument(ctx context.Context, doc Document) error
	// ArchiveDocumentVersion copies the current rows into version history
	// before they are replaced.
	ArchiveDocumentVersion(ctx context.Context, urlHash string) error
	// AppendChangeLog appends one change record. Append-only.
	AppendChangeLog(ctx context.Context, entry ChangeLog) error
}

// Store is the relational source of truth for all idempotency decisions.
type Store interface {
	LocationDirectory
	QueryStore
	SnapshotStore
	DocumentStore
	Close()
}

// BlobStore holds payloads too large for inline relational storage.
type BlobStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes change-detected events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes hex digests for deduplication keys and content checksums.
type Hasher interface {
	Key(parts ...string) string
	Sum(data []byte) string
}

// OCR converts a scanned (image-only) PDF into page plaintext. The default
// build ships no OCR engine; the extraction engine flags scanned documents
// for manual review when none is wired in.
type OCR interface {
	Recognize(ctx context.Context, pdf []byte) ([]string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}
