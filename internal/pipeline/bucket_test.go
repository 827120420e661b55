package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBucketer_Calendar(t *testing.T) {
	t.Parallel()

	b, err := NewBucketer(BucketCalendar, 0)
	require.NoError(t, err)

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dec := time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)
	next := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	require.Equal(t, "2026", b.Bucket(jan))
	require.Equal(t, b.Bucket(jan), b.Bucket(dec))
	require.NotEqual(t, b.Bucket(dec), b.Bucket(next))
}

func TestBucketer_Rolling(t *testing.T) {
	t.Parallel()

	b, err := NewBucketer(BucketRolling, 365)
	require.NoError(t, err)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	require.Equal(t, b.Bucket(now), b.Bucket(now.Add(24*time.Hour)))
	require.NotEqual(t, b.Bucket(now), b.Bucket(now.AddDate(1, 0, 1)))
}

func TestBucketer_RollingRequiresDays(t *testing.T) {
	t.Parallel()

	_, err := NewBucketer(BucketRolling, 0)
	require.Error(t, err)
}

func TestBucketer_UnknownMode(t *testing.T) {
	t.Parallel()

	_, err := NewBucketer("monthly", 30)
	require.Error(t, err)
}
