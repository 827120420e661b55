// Package retrieve obtains raw bytes for a result URL, preferring the
// archived snapshot and falling back to a direct fetch of the original URL.
package retrieve

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/metrics"
	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/ratelimit"
)

// Config controls retrieval behavior.
type Config struct {
	// InlineThreshold is the payload size in bytes above which the raw
	// body is spilled to blob storage instead of living inline in the
	// relational row. Multi-megabyte PDFs would degrade the store.
	InlineThreshold int
	BlobPrefix      string
}

// Retriever fetches payload bytes, detects their format, and spills large
// bodies to blob storage.
type Retriever struct {
	archiver pipeline.Archiver
	live     pipeline.Fetcher
	blobs    pipeline.BlobStore
	fetchLim *ratelimit.Limiter
	clock    pipeline.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Retriever. The fetch limiter is shared process-wide and
// independent from the submission limiter; the two remote endpoints have
// separate limits.
func New(
	archiver pipeline.Archiver,
	live pipeline.Fetcher,
	blobs pipeline.BlobStore,
	fetchLim *ratelimit.Limiter,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "payloads"
	}
	return &Retriever{
		archiver: archiver,
		live:     live,
		blobs:    blobs,
		fetchLim: fetchLim,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve returns the payload for the URL. hasSnapshot=false (or a failed
// snapshot fetch) routes to the live fallback; the resulting payload then
// carries no snapshot reference.
func (r *Retriever) Retrieve(ctx context.Context, u pipeline.ResultURL, snap pipeline.ArchiveSnapshot, hasSnapshot bool) (pipeline.Payload, error) {
	body, mimeType, source, snapshotID, err := r.fetchBytes(ctx, u, snap, hasSnapshot)
	if err != nil {
		return pipeline.Payload{}, err
	}

	format := DetectFormat(mimeType, body)
	payload := pipeline.Payload{
		URLHash:     u.URLHash,
		RawURL:      u.RawURL,
		Body:        body,
		Format:      format,
		MimeType:    mimeType,
		Source:      source,
		SnapshotID:  snapshotID,
		RetrievedAt: r.clock.Now(),
	}

	if r.cfg.InlineThreshold > 0 && len(body) > r.cfg.InlineThreshold {
		path := fmt.Sprintf("%s/%s/%s%s", r.cfg.BlobPrefix, u.URLHash, payload.RetrievedAt.UTC().Format("20060102150405"), extensionFor(format))
		uri, err := r.blobs.Put(ctx, path, mimeType, body)
		if err != nil {
			return pipeline.Payload{}, fmt.Errorf("spill payload %s to blob store: %w", u.URLHash, err)
		}
		payload.BlobPath = uri
		r.logger.Debug("payload spilled to blob storage",
			zap.String("url_hash", u.URLHash),
			zap.Int("bytes", len(body)),
			zap.String("blob", uri),
		)
	}

	metrics.CountRetrieval(string(source), string(format))
	return payload, nil
}

func (r *Retriever) fetchBytes(ctx context.Context, u pipeline.ResultURL, snap pipeline.ArchiveSnapshot, hasSnapshot bool) ([]byte, string, pipeline.RetrievalSource, string, error) {
	if hasSnapshot {
		if err := r.fetchLim.Acquire(ctx); err != nil {
			return nil, "", "", "", err
		}
		body, mimeType, err := r.archiver.Fetch(ctx, snap)
		if err == nil {
			return body, mimeType, pipeline.RetrievedFromSnapshot, snap.SnapshotID, nil
		}
		r.logger.Warn("snapshot fetch failed, falling back to live fetch",
			zap.String("url_hash", u.URLHash),
			zap.String("snapshot_id", snap.SnapshotID),
			zap.Error(err),
		)
	}

	if err := r.fetchLim.Acquire(ctx); err != nil {
		return nil, "", "", "", err
	}
	body, mimeType, status, err := r.live.Fetch(ctx, u.RawURL)
	if err != nil {
		return nil, "", "", "", fmt.Errorf("live fetch %s: %w", u.URLHash, err)
	}
	if status >= 400 {
		return nil, "", "", "", fmt.Errorf("live fetch %s: status %d", u.URLHash, status)
	}
	return body, mimeType, pipeline.RetrievedFromLive, "", nil
}

func extensionFor(f pipeline.Format) string {
	switch f {
	case pipeline.FormatHTML:
		return ".html"
	case pipeline.FormatPDF:
		return ".pdf"
	case pipeline.FormatDocx:
		return ".docx"
	case pipeline.FormatODT:
		return ".odt"
	case pipeline.FormatText:
		return ".txt"
	default:
		return ".bin"
	}
}
