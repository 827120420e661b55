// Package publisher defines the events pushed to downstream consumers when
// the pipeline detects document changes.
package publisher

import (
	"time"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
)

// TopicDocumentChanged carries one event per NEW or CHANGED document.
const TopicDocumentChanged = "lawharvest.document.changed"

// ChangeEvent is the payload published on TopicDocumentChanged.
type ChangeEvent struct {
	GeoID          int64             `json:"gnis"`
	URLHash        string            `json:"url_hash"`
	RawURL         string            `json:"url"`
	State          pipeline.DocState `json:"state"`
	PreviousDigest string            `json:"previous_digest,omitempty"`
	NewDigest      string            `json:"new_digest"`
	SourceFormat   pipeline.Format   `json:"source_format"`
	DetectedAt     time.Time         `json:"detected_at"`
}

// NewChangeEvent builds the event for a stored document.
func NewChangeEvent(geoID int64, rawURL string, doc pipeline.Document, state pipeline.DocState, prevDigest string, at time.Time) ChangeEvent {
	return ChangeEvent{
		GeoID:          geoID,
		URLHash:        doc.URLHash,
		RawURL:         rawURL,
		State:          state,
		PreviousDigest: prevDigest,
		NewDigest:      doc.Digest,
		SourceFormat:   doc.SourceFormat,
		DetectedAt:     at,
	}
}
