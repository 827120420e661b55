package postgres

import (
	"context"
	"fmt"
)

// Schema holds the DDL for every table the pipeline owns. Idempotent; applied
// at startup when migrations are enabled in config.
const Schema = `
CREATE TABLE IF NOT EXISTS locations (
	gnis         BIGINT PRIMARY KEY,
	fips_id      TEXT NOT NULL DEFAULT '',
	place_name   TEXT NOT NULL,
	state_code   TEXT NOT NULL,
	class_code   TEXT NOT NULL DEFAULT '',
	domain_name  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS searches (
	query_hash   TEXT PRIMARY KEY,
	gnis         BIGINT NOT NULL REFERENCES locations (gnis),
	datapoint    TEXT NOT NULL,
	source_site  TEXT NOT NULL,
	query_text   TEXT NOT NULL,
	time_bucket  TEXT NOT NULL,
	num_results  INTEGER NOT NULL DEFAULT 0,
	failed       BOOLEAN NOT NULL DEFAULT FALSE,
	searched_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS urls (
	url_hash             TEXT PRIMARY KEY,
	query_hash           TEXT NOT NULL REFERENCES searches (query_hash),
	gnis                 BIGINT NOT NULL,
	url                  TEXT NOT NULL,
	ia_url               TEXT NOT NULL DEFAULT '',
	archive_fatal        BOOLEAN NOT NULL DEFAULT FALSE,
	archive_fatal_reason TEXT NOT NULL DEFAULT '',
	discovered_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ia_snapshots (
	url_hash     TEXT NOT NULL,
	time_bucket  TEXT NOT NULL,
	snapshot_id  TEXT NOT NULL,
	url          TEXT NOT NULL,
	snapshot_ts  TIMESTAMPTZ NOT NULL,
	digest       TEXT NOT NULL DEFAULT '',
	mimetype     TEXT NOT NULL DEFAULT '',
	http_status  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (url_hash, time_bucket)
);

CREATE TABLE IF NOT EXISTS archive_claims (
	url_hash     TEXT NOT NULL,
	time_bucket  TEXT NOT NULL,
	claimed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (url_hash, time_bucket)
);

CREATE TABLE IF NOT EXISTS doc_metadata (
	url_hash        TEXT PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	digest          TEXT NOT NULL,
	source_format   TEXT NOT NULL,
	cleaned         BOOLEAN NOT NULL DEFAULT FALSE,
	cleaning_error  TEXT NOT NULL DEFAULT '',
	snapshot_id     TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL DEFAULT '',
	local_file_path TEXT NOT NULL DEFAULT '',
	version         INTEGER NOT NULL DEFAULT 0,
	updated_at      TIMESTAMPTZ NOT NULL
);

-- doc_content is read directly by downstream tools; its column set is a
-- contract. title, source_format, and local_file_path repeat per page on
-- purpose so a page row is self-describing.
CREATE TABLE IF NOT EXISTS doc_content (
	url_hash         TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	page_num         INTEGER NOT NULL,
	pg_content       TEXT NOT NULL,
	data_was_cleaned BOOLEAN NOT NULL DEFAULT FALSE,
	source_format    TEXT NOT NULL DEFAULT '',
	local_file_path  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (url_hash, page_num)
);

CREATE TABLE IF NOT EXISTS doc_versions (
	url_hash    TEXT NOT NULL,
	version     INTEGER NOT NULL,
	page_num    INTEGER NOT NULL,
	pg_content  TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	digest      TEXT NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (url_hash, version, page_num)
);

CREATE TABLE IF NOT EXISTS change_log (
	id              BIGSERIAL PRIMARY KEY,
	url_hash        TEXT NOT NULL,
	previous_digest TEXT NOT NULL,
	new_digest      TEXT NOT NULL,
	diff_summary    TEXT NOT NULL,
	detected_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_searches_gnis ON searches (gnis);
CREATE INDEX IF NOT EXISTS idx_urls_query_hash ON urls (query_hash);
CREATE INDEX IF NOT EXISTS idx_change_log_url_hash ON change_log (url_hash);
`

// EnsureSchema applies the DDL. Every statement is IF NOT EXISTS, so the call
// is safe on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
