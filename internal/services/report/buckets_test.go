package report

import (
	"reflect"
	"testing"
	"time"

	"github.com/marketlens/trend_reports/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBuildBucketsDailyRangeComplete(t *testing.T) {
	rng := models.DateRange{Start: day(2024, 1, 1), End: day(2024, 1, 5)}
	got := BuildBuckets(nil, models.GranularityDaily, rng, models.SortAsc, time.Time{}, time.UTC)

	want := []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"}
	if !reflect.DeepEqual(got.Keys, want) {
		t.Fatalf("keys = %v, want %v", got.Keys, want)
	}
	if len(got.Labels) != len(got.Keys) {
		t.Fatalf("labels length %d != keys length %d", len(got.Labels), len(got.Keys))
	}
	if got.Labels[0] != "Jan 1" {
		t.Fatalf("label = %q, want Jan 1", got.Labels[0])
	}
}

func TestBuildBucketsDescReverses(t *testing.T) {
	rng := models.DateRange{Start: day(2024, 1, 1), End: day(2024, 1, 3)}
	got := BuildBuckets(nil, models.GranularityDaily, rng, models.SortDesc, time.Time{}, time.UTC)

	want := []string{"2024-01-03", "2024-01-02", "2024-01-01"}
	if !reflect.DeepEqual(got.Keys, want) {
		t.Fatalf("keys = %v, want %v", got.Keys, want)
	}
}

func TestBuildBucketsExcludesPartialToday(t *testing.T) {
	today := day(2024, 1, 5)
	rng := models.DateRange{Start: day(2024, 1, 3), End: day(2024, 1, 5)}
	got := BuildBuckets(nil, models.GranularityDaily, rng, models.SortAsc, today, time.UTC)

	want := []string{"2024-01-03", "2024-01-04"}
	if !reflect.DeepEqual(got.Keys, want) {
		t.Fatalf("keys = %v, want %v (today excluded)", got.Keys, want)
	}

	// A range ending before today is untouched.
	rng.End = day(2024, 1, 4)
	got = BuildBuckets(nil, models.GranularityDaily, rng, models.SortAsc, today, time.UTC)
	if len(got.Keys) != 2 || got.Keys[1] != "2024-01-04" {
		t.Fatalf("keys = %v, want range kept intact", got.Keys)
	}
}

func TestBuildBucketsDailyFromRows(t *testing.T) {
	rows := []models.RawRow{
		{Date: "2024-01-03"},
		{Date: "2024-01-01"},
		{Date: "2024-01-03"},
		{Date: "not-a-date"},
	}
	got := BuildBuckets(rows, models.GranularityDaily, models.DateRange{}, models.SortAsc, time.Time{}, time.UTC)

	want := []string{"2024-01-01", "2024-01-03"}
	if !reflect.DeepEqual(got.Keys, want) {
		t.Fatalf("keys = %v, want %v", got.Keys, want)
	}
}

func TestBuildBucketsWeeklyMondayKeys(t *testing.T) {
	// 2024-01-01 is a Monday; 2024-01-07 is the Sunday of the same week.
	rows := []models.RawRow{
		{Date: "2024-01-01"},
		{Date: "2024-01-07"},
		{Date: "2024-01-08"},
	}
	got := BuildBuckets(rows, models.GranularityWeekly, models.DateRange{}, models.SortAsc, time.Time{}, time.UTC)

	want := []string{"2024-01-01", "2024-01-08"}
	if !reflect.DeepEqual(got.Keys, want) {
		t.Fatalf("keys = %v, want %v", got.Keys, want)
	}
}

func TestBuildBucketsMonthly(t *testing.T) {
	rows := []models.RawRow{
		{Date: "2024-02-15"},
		{Date: "2024-01-31"},
		{Date: "2024-02-01"},
	}
	got := BuildBuckets(rows, models.GranularityMonthly, models.DateRange{}, models.SortAsc, time.Time{}, time.UTC)

	want := []string{"2024-01", "2024-02"}
	if !reflect.DeepEqual(got.Keys, want) {
		t.Fatalf("keys = %v, want %v", got.Keys, want)
	}
	if got.Labels[0] != "Jan 2024" || got.Labels[1] != "Feb 2024" {
		t.Fatalf("labels = %v, want monthly labels", got.Labels)
	}
}

func TestBuildBucketsEmptyInput(t *testing.T) {
	got := BuildBuckets(nil, models.GranularityDaily, models.DateRange{}, models.SortAsc, time.Time{}, time.UTC)
	if len(got.Keys) != 0 || len(got.Labels) != 0 {
		t.Fatalf("expected empty bucket set, got %+v", got)
	}
}
