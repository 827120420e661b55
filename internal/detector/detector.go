// Package detector decides whether a freshly extracted document is new,
// unchanged, or changed relative to the stored copy, and maintains version
// history and the change log around that decision.
package detector

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/metrics"
	"github.com/socialtoolkit/lawharvest/internal/pipeline"
)

// maxDiffLines caps how much of the unified diff is kept in a change-log
// entry. Full page text lives in version history, not the log.
const maxDiffLines = 120

// Detector applies digest-based update detection.
type Detector struct {
	store  pipeline.DocumentStore
	clock  pipeline.Clock
	logger *zap.Logger
}

func New(store pipeline.DocumentStore, clock pipeline.Clock, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: store, clock: clock, logger: logger}
}

// Apply persists doc according to its state against the stored copy.
//
// New documents are inserted. An identical digest writes nothing and logs
// nothing. A changed digest archives the previous version first, then
// overwrites, then appends exactly one change-log entry with a line-level
// diff summary. The second return is the previous digest, empty for new
// documents, so callers can report what the content changed from.
func (d *Detector) Apply(ctx context.Context, doc pipeline.Document) (pipeline.DocState, string, error) {
	prev, found, err := d.store.CurrentDocument(ctx, doc.URLHash)
	if err != nil {
		return "", "", fmt.Errorf("load current document: %w", err)
	}

	if !found {
		if err := d.store.SaveDocument(ctx, doc); err != nil {
			return "", "", fmt.Errorf("save new document: %w", err)
		}
		metrics.CountDocument(string(pipeline.DocStateNew))
		d.logger.Info("document stored",
			zap.String("url_hash", doc.URLHash),
			zap.String("state", string(pipeline.DocStateNew)))
		return pipeline.DocStateNew, "", nil
	}

	if prev.Digest == doc.Digest {
		metrics.CountDocument(string(pipeline.DocStateUnchanged))
		return pipeline.DocStateUnchanged, prev.Digest, nil
	}

	if err := d.store.ArchiveDocumentVersion(ctx, doc.URLHash); err != nil {
		return "", "", fmt.Errorf("archive previous version: %w", err)
	}
	if err := d.store.SaveDocument(ctx, doc); err != nil {
		return "", "", fmt.Errorf("save changed document: %w", err)
	}
	entry := pipeline.ChangeLog{
		URLHash:        doc.URLHash,
		PreviousDigest: prev.Digest,
		NewDigest:      doc.Digest,
		DiffSummary:    summarize(prev, doc),
		DetectedAt:     d.clock.Now().UTC(),
	}
	if err := d.store.AppendChangeLog(ctx, entry); err != nil {
		return "", "", fmt.Errorf("append change log: %w", err)
	}
	metrics.CountDocument(string(pipeline.DocStateChanged))
	d.logger.Info("document changed",
		zap.String("url_hash", doc.URLHash),
		zap.String("previous_digest", prev.Digest),
		zap.String("new_digest", doc.Digest))
	return pipeline.DocStateChanged, prev.Digest, nil
}

// summarize builds a compact line-level diff between the two documents'
// page text, prefixed with added/removed line counts.
func summarize(prev, next pipeline.Document) string {
	a := difflib.SplitLines(strings.Join(prev.Pages, "\n"))
	b := difflib.SplitLines(strings.Join(next.Pages, "\n"))

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "previous",
		ToFile:   "current",
		Context:  1,
	})
	if err != nil {
		return fmt.Sprintf("diff unavailable: %v", err)
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	added, removed := 0, 0
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			added++
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			removed++
		}
	}
	if len(lines) > maxDiffLines {
		lines = append(lines[:maxDiffLines], "... (truncated)")
	}
	return fmt.Sprintf("+%d -%d lines\n%s", added, removed, strings.Join(lines, "\n"))
}
