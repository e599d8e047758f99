package metrics

import (
	"time"

	"training-backend/internal/core/types"
)

const labelLayout = "2006-01-02"

// bucketStart returns the first day of the granule containing t, using t's own
// location for the calendar date. Weeks are ISO weeks anchored on Monday.
func bucketStart(g types.Granularity, t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case types.Weekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case types.Monthly:
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

func nextBucket(g types.Granularity, b time.Time) time.Time {
	switch g {
	case types.Weekly:
		return b.AddDate(0, 0, 7)
	case types.Monthly:
		return b.AddDate(0, 1, 0)
	default:
		return b.AddDate(0, 0, 1)
	}
}

// BucketLabel is the series key of the granule containing t.
func BucketLabel(g types.Granularity, t time.Time) string {
	return bucketStart(g, t).Format(labelLayout)
}

// BucketLabels lists every granule between start and end inclusive, in order.
func BucketLabels(g types.Granularity, start, end time.Time) []string {
	var labels []string
	last := bucketStart(g, end)
	for b := bucketStart(g, start); !b.After(last); b = nextBucket(g, b) {
		labels = append(labels, b.Format(labelLayout))
	}
	return labels
}

// CalendarDay is t's local date at midnight UTC.
func CalendarDay(t time.Time) time.Time {
	return bucketStart(types.Daily, t)
}

// InRange reports whether t falls on a calendar day between the days of start
// and end, each read in its own location.
func InRange(start, end, t time.Time) bool {
	d := CalendarDay(t)
	return !d.Before(CalendarDay(start)) && !d.After(CalendarDay(end))
}

// AlignRange widens [start, end] to whole granules, in the location of each
// bound.
func AlignRange(g types.Granularity, start, end time.Time) (time.Time, time.Time) {
	s := bucketStart(g, start)
	e := nextBucket(g, bucketStart(g, end))
	return time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, start.Location()),
		time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, end.Location()).Add(-time.Nanosecond)
}
