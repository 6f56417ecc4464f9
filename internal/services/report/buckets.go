package report

import (
	"sort"
	"time"

	"github.com/marketlens/trend_reports/internal/models"
	"github.com/marketlens/trend_reports/internal/timeutil"
)

// BucketSet is the ordered set of calendar buckets a report is pivoted on.
// Keys are stable sort keys (YYYY-MM-DD for daily and weekly, YYYY-MM for
// monthly); Labels are the matching human-readable column headers. The two
// slices are always the same length and index-aligned.
type BucketSet struct {
	Keys   []string `json:"keys"`
	Labels []string `json:"labels"`
}

// BuildBuckets produces the bucket keys and labels for a granularity over a
// date range. For daily with an explicit range every day in the inclusive
// range gets a bucket whether or not data exists, so gaps render as zeros.
// When the range ends on today's local date the final bucket is dropped:
// a partial day would otherwise chart as a misleading dip. Today is the
// caller's current local date; pass the zero value to disable the exclusion.
// Weekly and monthly keys, and daily keys without an explicit range, come
// from the dates actually present in rows.
func BuildBuckets(rows []models.RawRow, gran models.Granularity, rng models.DateRange, order models.SortOrder, today time.Time, loc *time.Location) BucketSet {
	loc = timeutil.EnsureLocation(loc)

	var keys []string
	if gran == models.GranularityDaily && !rng.IsZero() {
		keys = dailyRangeKeys(rng, today, loc)
	} else {
		keys = keysFromRows(rows, gran, loc)
	}

	sort.Strings(keys)
	if order == models.SortDesc {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}

	labels := make([]string, len(keys))
	for i, key := range keys {
		labels[i] = BucketLabel(key, gran, loc)
	}
	return BucketSet{Keys: keys, Labels: labels}
}

func dailyRangeKeys(rng models.DateRange, today time.Time, loc *time.Location) []string {
	start := timeutil.TruncateToDay(rng.Start, loc)
	end := timeutil.TruncateToDay(rng.End, loc)
	if !today.IsZero() && end.Equal(timeutil.TruncateToDay(today, loc)) {
		end = end.AddDate(0, 0, -1)
	}
	if end.Before(start) {
		return nil
	}
	keys := make([]string, 0, timeutil.DaysBetween(start, end, loc))
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		keys = append(keys, timeutil.DayKey(day, loc))
	}
	return keys
}

func keysFromRows(rows []models.RawRow, gran models.Granularity, loc *time.Location) []string {
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		key, ok := bucketKeyFor(row.Date, gran, loc)
		if !ok {
			continue
		}
		seen[key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	return keys
}

// bucketKeyFor maps a row's YYYY-MM-DD date string to its bucket key for the
// granularity. Unparseable dates report ok=false and the row is excluded
// from bucketing entirely.
func bucketKeyFor(dateStr string, gran models.Granularity, loc *time.Location) (string, bool) {
	day, err := timeutil.ParseDay(dateStr, loc)
	if err != nil {
		return "", false
	}
	switch gran {
	case models.GranularityWeekly:
		return timeutil.WeekKey(day, loc), true
	case models.GranularityMonthly:
		return timeutil.MonthKey(day, loc), true
	default:
		return timeutil.DayKey(day, loc), true
	}
}

// BucketLabel renders the display label for a bucket key: "Jan 2" for daily
// and weekly keys, "Jan 2006" for monthly keys. Unparseable keys fall back
// to the key itself so the pairing stays stable.
func BucketLabel(key string, gran models.Granularity, loc *time.Location) string {
	loc = timeutil.EnsureLocation(loc)
	if gran == models.GranularityMonthly {
		t, err := time.ParseInLocation(timeutil.MonthLayout, key, loc)
		if err != nil {
			return key
		}
		return t.Format("Jan 2006")
	}
	t, err := timeutil.ParseDay(key, loc)
	if err != nil {
		return key
	}
	return t.Format("Jan 2")
}
