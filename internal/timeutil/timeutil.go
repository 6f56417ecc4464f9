package timeutil

import (
	"errors"
	"time"
)

var ErrInvalidDay = errors.New("invalid day string")

// DayLayout is the canonical key format for daily buckets.
const DayLayout = "2006-01-02"

// MonthLayout is the canonical key format for monthly buckets.
const MonthLayout = "2006-01"

// EnsureLocation returns UTC when loc is nil.
func EnsureLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// TruncateToDay normalizes the timestamp to midnight in the provided zone.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayKey formats the timestamp as a YYYY-MM-DD bucket key in the given zone.
func DayKey(t time.Time, loc *time.Location) string {
	return TruncateToDay(t, loc).Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD key into a midnight timestamp in the given zone.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	loc = EnsureLocation(loc)
	t, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return time.Time{}, ErrInvalidDay
	}
	return t, nil
}

// WeekStart returns the Monday beginning the week that contains t.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	day := TruncateToDay(t, loc)
	delta := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -delta)
}

// WeekKey formats the Monday-start week key for t.
func WeekKey(t time.Time, loc *time.Location) string {
	return WeekStart(t, loc).Format(DayLayout)
}

// MonthKey formats the YYYY-MM bucket key for t.
func MonthKey(t time.Time, loc *time.Location) string {
	return TruncateToDay(t, loc).Format(MonthLayout)
}

// NextNoon returns the first local noon strictly after now.
func NextNoon(now time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	now = now.In(loc)
	noon := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, loc)
	if !now.Before(noon) {
		noon = noon.AddDate(0, 0, 1)
	}
	return noon
}

// LastNoon returns the most recent local noon at or before now.
func LastNoon(now time.Time, loc *time.Location) time.Time {
	return NextNoon(now, loc).AddDate(0, 0, -1)
}

// DaysBetween counts whole calendar days from start to end inclusive.
// Returns 0 when end precedes start.
func DaysBetween(start, end time.Time, loc *time.Location) int {
	s := TruncateToDay(start, loc)
	e := TruncateToDay(end, loc)
	if e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24+0.5) + 1
}
