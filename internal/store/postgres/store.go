// Package postgres is the relational source of truth for every idempotency
// decision the pipeline makes: which queries ran, which URLs are archived,
// and what content is currently stored.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Migrate         bool
}

// dbPool is the pool subset the store uses, satisfied by both *pgxpool.Pool
// and pgxmock.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements pipeline.Store on Postgres.
type Store struct {
	pool   dbPool
	logger *zap.Logger
}

// New connects a pool and optionally applies the schema.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewWithPool(pool, logger)
	if cfg.Migrate {
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Locations returns every location in the directory. Locations with no
// successful search yet for the datapoint sort first, so interrupted runs
// resume with uncovered ground.
func (s *Store) Locations(ctx context.Context, datapoint string) ([]pipeline.Location, error) {
	rows, err := s.pool.Query(ctx, `
SELECT l.gnis, l.fips_id, l.place_name, l.state_code, l.class_code, l.domain_name
FROM locations l
LEFT JOIN (
	SELECT DISTINCT gnis FROM searches WHERE datapoint = $1 AND NOT failed
) s ON s.gnis = l.gnis
ORDER BY (s.gnis IS NOT NULL), l.gnis`, datapoint)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Location
	for rows.Next() {
		var l pipeline.Location
		if err := rows.Scan(&l.GeoID, &l.FipsID, &l.PlaceName, &l.StateCode, &l.ClassCode, &l.DomainName); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}
	return out, nil
}

// LatestQueryRun returns the run recorded for the hash, if any. Hashes fold
// in the time bucket, so one row per hash is the complete history for it.
func (s *Store) LatestQueryRun(ctx context.Context, queryHash string) (pipeline.Query, bool, error) {
	var q pipeline.Query
	err := s.pool.QueryRow(ctx, `
SELECT query_hash, gnis, datapoint, source_site, query_text, time_bucket, num_results, failed, searched_at
FROM searches
WHERE query_hash = $1`, queryHash).
		Scan(&q.QueryHash, &q.GeoID, &q.Datapoint, &q.SourceSite, &q.QueryText, &q.TimeBucket, &q.ResultCount, &q.Failed, &q.SearchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Query{}, false, nil
	}
	if err != nil {
		return pipeline.Query{}, false, fmt.Errorf("query search run: %w", err)
	}
	return q, true, nil
}

// RecordQueryRun upserts the run row and inserts its result URLs. URL rows
// conflict on url_hash across queries; first writer wins.
func (s *Store) RecordQueryRun(ctx context.Context, q pipeline.Query, urls []pipeline.ResultURL) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO searches (query_hash, gnis, datapoint, source_site, query_text, time_bucket, num_results, failed, searched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (query_hash) DO UPDATE SET
	num_results = EXCLUDED.num_results,
	failed = EXCLUDED.failed,
	searched_at = EXCLUDED.searched_at`,
		q.QueryHash, q.GeoID, q.Datapoint, q.SourceSite, q.QueryText, q.TimeBucket, q.ResultCount, q.Failed, q.SearchedAt)
	if err != nil {
		return fmt.Errorf("upsert search run: %w", err)
	}

	for _, u := range urls {
		_, err := s.pool.Exec(ctx, `
INSERT INTO urls (url_hash, query_hash, gnis, url, discovered_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (url_hash) DO NOTHING`,
			u.URLHash, u.QueryHash, u.GeoID, u.RawURL, u.DiscoveredAt)
		if err != nil {
			return fmt.Errorf("insert result url %s: %w", u.URLHash, err)
		}
	}
	return nil
}

// ResultURLs returns the URLs recorded for a query hash.
func (s *Store) ResultURLs(ctx context.Context, queryHash string) ([]pipeline.ResultURL, error) {
	rows, err := s.pool.Query(ctx, `
SELECT url_hash, query_hash, gnis, url, ia_url, archive_fatal, discovered_at
FROM urls
WHERE query_hash = $1
ORDER BY url_hash`, queryHash)
	if err != nil {
		return nil, fmt.Errorf("query result urls: %w", err)
	}
	defer rows.Close()

	var out []pipeline.ResultURL
	for rows.Next() {
		var u pipeline.ResultURL
		if err := rows.Scan(&u.URLHash, &u.QueryHash, &u.GeoID, &u.RawURL, &u.ArchiveURL, &u.ArchiveFatal, &u.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan result url: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result urls: %w", err)
	}
	return out, nil
}

// CurrentSnapshot returns the snapshot stored for (urlHash, bucket), if any.
func (s *Store) CurrentSnapshot(ctx context.Context, urlHash, bucket string) (pipeline.ArchiveSnapshot, bool, error) {
	var snap pipeline.ArchiveSnapshot
	err := s.pool.QueryRow(ctx, `
SELECT snapshot_id, url_hash, url, snapshot_ts, digest, mimetype, http_status
FROM ia_snapshots
WHERE url_hash = $1 AND time_bucket = $2`, urlHash, bucket).
		Scan(&snap.SnapshotID, &snap.URLHash, &snap.RawURL, &snap.Timestamp, &snap.ContentDigest, &snap.MimeType, &snap.HTTPStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.ArchiveSnapshot{}, false, nil
	}
	if err != nil {
		return pipeline.ArchiveSnapshot{}, false, fmt.Errorf("query snapshot: %w", err)
	}
	return snap, true, nil
}

// ClaimArchival takes the submission claim for (urlHash, bucket). The insert
// conflicts for every caller after the first, which makes the claim a lease
// decided by the database, not by process-local state.
func (s *Store) ClaimArchival(ctx context.Context, urlHash, bucket string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO archive_claims (url_hash, time_bucket)
VALUES ($1, $2)
ON CONFLICT (url_hash, time_bucket) DO NOTHING`, urlHash, bucket)
	if err != nil {
		return false, fmt.Errorf("claim archival: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseArchivalClaim drops the claim so a later run may retry submission.
func (s *Store) ReleaseArchivalClaim(ctx context.Context, urlHash, bucket string) error {
	if _, err := s.pool.Exec(ctx, `
DELETE FROM archive_claims
WHERE url_hash = $1 AND time_bucket = $2`, urlHash, bucket); err != nil {
		return fmt.Errorf("release archival claim: %w", err)
	}
	return nil
}

// SaveSnapshot persists a submission result and reflects the archive URL
// onto the urls row.
func (s *Store) SaveSnapshot(ctx context.Context, snap pipeline.ArchiveSnapshot, bucket string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ia_snapshots (url_hash, time_bucket, snapshot_id, url, snapshot_ts, digest, mimetype, http_status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (url_hash, time_bucket) DO UPDATE SET
	snapshot_id = EXCLUDED.snapshot_id,
	snapshot_ts = EXCLUDED.snapshot_ts,
	digest = EXCLUDED.digest,
	mimetype = EXCLUDED.mimetype,
	http_status = EXCLUDED.http_status`,
		snap.URLHash, bucket, snap.SnapshotID, snap.RawURL, snap.Timestamp, snap.ContentDigest, snap.MimeType, snap.HTTPStatus)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
UPDATE urls SET ia_url = $2 WHERE url_hash = $1`, snap.URLHash, snap.SnapshotID); err != nil {
		return fmt.Errorf("update url archive link: %w", err)
	}
	return nil
}

// MarkArchiveFatal flags a URL whose submission the archive permanently
// refused. Flagged URLs are never submitted again.
func (s *Store) MarkArchiveFatal(ctx context.Context, urlHash, reason string) error {
	if _, err := s.pool.Exec(ctx, `
UPDATE urls SET archive_fatal = TRUE, archive_fatal_reason = $2
WHERE url_hash = $1`, urlHash, reason); err != nil {
		return fmt.Errorf("mark archive fatal: %w", err)
	}
	return nil
}

// CurrentDocument loads the stored document and its pages, if any.
func (s *Store) CurrentDocument(ctx context.Context, urlHash string) (pipeline.Document, bool, error) {
	var doc pipeline.Document
	err := s.pool.QueryRow(ctx, `
SELECT url_hash, title, digest, source_format, cleaned, cleaning_error, snapshot_id, source, local_file_path, updated_at
FROM doc_metadata
WHERE url_hash = $1`, urlHash).
		Scan(&doc.URLHash, &doc.Title, &doc.Digest, &doc.SourceFormat, &doc.Cleaned,
			&doc.CleaningError, &doc.SnapshotID, &doc.Source, &doc.LocalPath, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Document{}, false, nil
	}
	if err != nil {
		return pipeline.Document{}, false, fmt.Errorf("query document metadata: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT pg_content
FROM doc_content
WHERE url_hash = $1
ORDER BY page_num`, urlHash)
	if err != nil {
		return pipeline.Document{}, false, fmt.Errorf("query document pages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var page string
		if err := rows.Scan(&page); err != nil {
			return pipeline.Document{}, false, fmt.Errorf("scan document page: %w", err)
		}
		doc.Pages = append(doc.Pages, page)
	}
	if err := rows.Err(); err != nil {
		return pipeline.Document{}, false, fmt.Errorf("iterate document pages: %w", err)
	}
	return doc, true, nil
}

// SaveDocument replaces the current rows for doc.URLHash. Callers archive the
// previous version first when the content changed.
func (s *Store) SaveDocument(ctx context.Context, doc pipeline.Document) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO doc_metadata (url_hash, title, digest, source_format, cleaned, cleaning_error, snapshot_id, source, local_file_path, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (url_hash) DO UPDATE SET
	title = EXCLUDED.title,
	digest = EXCLUDED.digest,
	source_format = EXCLUDED.source_format,
	cleaned = EXCLUDED.cleaned,
	cleaning_error = EXCLUDED.cleaning_error,
	snapshot_id = EXCLUDED.snapshot_id,
	source = EXCLUDED.source,
	local_file_path = EXCLUDED.local_file_path,
	updated_at = EXCLUDED.updated_at`,
		doc.URLHash, doc.Title, doc.Digest, string(doc.SourceFormat), doc.Cleaned,
		doc.CleaningError, doc.SnapshotID, string(doc.Source), doc.LocalPath, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert document metadata: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `
DELETE FROM doc_content WHERE url_hash = $1`, doc.URLHash); err != nil {
		return fmt.Errorf("clear document pages: %w", err)
	}
	for i, page := range doc.Pages {
		if _, err := s.pool.Exec(ctx, `
INSERT INTO doc_content (url_hash, title, page_num, pg_content, data_was_cleaned, source_format, local_file_path)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			doc.URLHash, doc.Title, i+1, page, doc.Cleaned,
			string(doc.SourceFormat), doc.LocalPath); err != nil {
			return fmt.Errorf("insert document page %d: %w", i+1, err)
		}
	}
	return nil
}

// ArchiveDocumentVersion copies the current pages into doc_versions under the
// next version number, then bumps the metadata version counter.
func (s *Store) ArchiveDocumentVersion(ctx context.Context, urlHash string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO doc_versions (url_hash, version, page_num, pg_content, title, digest, archived_at)
SELECT c.url_hash, m.version + 1, c.page_num, c.pg_content, m.title, m.digest, NOW()
FROM doc_content c
JOIN doc_metadata m ON m.url_hash = c.url_hash
WHERE c.url_hash = $1`, urlHash)
	if err != nil {
		return fmt.Errorf("archive document version: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
UPDATE doc_metadata SET version = version + 1 WHERE url_hash = $1`, urlHash); err != nil {
		return fmt.Errorf("bump document version: %w", err)
	}
	return nil
}

// AppendChangeLog appends one change record. The table has no update path.
func (s *Store) AppendChangeLog(ctx context.Context, entry pipeline.ChangeLog) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO change_log (url_hash, previous_digest, new_digest, diff_summary, detected_at)
VALUES ($1,$2,$3,$4,$5)`,
		entry.URLHash, entry.PreviousDigest, entry.NewDigest, entry.DiffSummary, entry.DetectedAt); err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}

// UpsertLocations loads or refreshes the location directory from an external
// roster file.
func (s *Store) UpsertLocations(ctx context.Context, locs []pipeline.Location) error {
	for _, l := range locs {
		if _, err := s.pool.Exec(ctx, `
INSERT INTO locations (gnis, fips_id, place_name, state_code, class_code, domain_name)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (gnis) DO UPDATE SET
	fips_id = EXCLUDED.fips_id,
	place_name = EXCLUDED.place_name,
	state_code = EXCLUDED.state_code,
	class_code = EXCLUDED.class_code,
	domain_name = EXCLUDED.domain_name`,
			l.GeoID, l.FipsID, l.PlaceName, l.StateCode, l.ClassCode, l.DomainName); err != nil {
			return fmt.Errorf("upsert location %d: %w", l.GeoID, err)
		}
	}
	return nil
}
