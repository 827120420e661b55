package pipeline

import (
	"fmt"
	"time"
)

// BucketMode selects how staleness time buckets are computed.
type BucketMode string

const (
	// BucketCalendar labels buckets by UTC calendar year: "2026".
	BucketCalendar BucketMode = "calendar"
	// BucketRolling labels buckets by epoch-day windows of BucketDays
	// length: "w19734". Window 0 starts at the Unix epoch.
	BucketRolling BucketMode = "rolling"
)

// Bucketer computes the staleness time bucket for a given instant. The
// bucket label participates in query hashes, so it must be a stable pure
// function of the timestamp and configuration.
type Bucketer struct {
	Mode       BucketMode
	BucketDays int
}

// NewBucketer validates and builds a Bucketer.
func NewBucketer(mode BucketMode, bucketDays int) (Bucketer, error) {
	switch mode {
	case BucketCalendar:
		return Bucketer{Mode: mode}, nil
	case BucketRolling:
		if bucketDays <= 0 {
			return Bucketer{}, fmt.Errorf("rolling bucket requires bucket_days > 0, got %d", bucketDays)
		}
		return Bucketer{Mode: mode, BucketDays: bucketDays}, nil
	default:
		return Bucketer{}, fmt.Errorf("unknown bucket mode %q", mode)
	}
}

// Bucket returns the bucket label containing t.
func (b Bucketer) Bucket(t time.Time) string {
	switch b.Mode {
	case BucketRolling:
		days := t.UTC().Unix() / (24 * 60 * 60)
		return fmt.Sprintf("w%d", days/int64(b.BucketDays))
	default:
		return fmt.Sprintf("%d", t.UTC().Year())
	}
}
