package report

import (
	"math"
	"testing"
	"time"

	"github.com/marketlens/trend_reports/internal/models"
)

func selectionFixtureRows() []models.RawRow {
	return []models.RawRow{
		{Date: "2024-01-01", EntityName: "A", Spend: 10, Sales: 100, Clicks: 5},
		{Date: "2024-01-02", EntityName: "A", Spend: 20, Sales: 50, Clicks: 8},
		{Date: "2024-01-01", EntityName: "B", Spend: 6, Sales: 30, Clicks: 2},
		{Date: "2024-01-02", EntityName: "B", Spend: 4, Sales: 10, Clicks: 1},
		// Pre-aggregated totals supplied by the data source.
		{Date: "2024-01-01", EntityName: TotalEntityName, Spend: 16, Sales: 130, Clicks: 7},
		{Date: "2024-01-02", EntityName: TotalEntityName, Spend: 24, Sales: 60, Clicks: 9},
	}
}

func TestRecomputeTotalsEmptySelectionKeepsSuppliedTotals(t *testing.T) {
	agg := Aggregate(selectionFixtureRows(), models.CategoryCampaigns, models.GranularityDaily, time.UTC)
	RecomputeTotals(agg, Selection{})

	total := agg.Entities[TotalEntityName]
	if total == nil {
		t.Fatal("supplied total row missing")
	}
	if got := total.Buckets["2024-01-01"].Spend; got != 16 {
		t.Fatalf("total spend day 1 = %v, want supplied 16", got)
	}
}

func TestRecomputeTotalsStripsPriorTotals(t *testing.T) {
	agg := Aggregate(selectionFixtureRows(), models.CategoryCampaigns, models.GranularityDaily, time.UTC)
	RecomputeTotals(agg, NewSelection([]string{"A"}, nil))

	total := agg.Entities[TotalEntityName]
	if got := total.Buckets["2024-01-01"].Spend; got != 10 {
		t.Fatalf("total spend day 1 = %v, want 10 (A only, prior total excluded)", got)
	}
	if got := total.Buckets["2024-01-02"].Spend; got != 20 {
		t.Fatalf("total spend day 2 = %v, want 20", got)
	}
	// Ratios rederived from the fresh sums, not inherited.
	if got := total.Buckets["2024-01-01"].ACOS; math.Abs(got-10) > 1e-9 {
		t.Fatalf("total acos day 1 = %v, want 10", got)
	}
}

func TestRecomputeTotalsSelectAllMatchesSuppliedTotals(t *testing.T) {
	rows := selectionFixtureRows()

	base := Aggregate(rows, models.CategoryCampaigns, models.GranularityDaily, time.UTC)
	RecomputeTotals(base, Selection{})
	supplied := base.Entities[TotalEntityName]

	all := Aggregate(rows, models.CategoryCampaigns, models.GranularityDaily, time.UTC)
	RecomputeTotals(all, NewSelection([]string{"A", "B"}, nil))
	recomputed := all.Entities[TotalEntityName]

	for _, key := range []string{"2024-01-01", "2024-01-02"} {
		if math.Abs(supplied.Buckets[key].Spend-recomputed.Buckets[key].Spend) > 1e-9 {
			t.Fatalf("spend mismatch at %s: supplied %v, recomputed %v",
				key, supplied.Buckets[key].Spend, recomputed.Buckets[key].Spend)
		}
		if math.Abs(supplied.Buckets[key].Sales-recomputed.Buckets[key].Sales) > 1e-9 {
			t.Fatalf("sales mismatch at %s: supplied %v, recomputed %v",
				key, supplied.Buckets[key].Sales, recomputed.Buckets[key].Sales)
		}
	}
}

func TestRecomputeTotalsSumInvariant(t *testing.T) {
	agg := Aggregate(selectionFixtureRows(), models.CategoryCampaigns, models.GranularityDaily, time.UTC)
	sel := NewSelection([]string{"A", "B"}, nil)
	RecomputeTotals(agg, sel)

	total := agg.Entities[TotalEntityName]
	for key, cell := range total.Buckets {
		var sum float64
		for _, entity := range agg.Entities {
			if entity.IsTotal() {
				continue
			}
			if c := entity.Buckets[key]; c != nil {
				sum += c.Spend
			}
		}
		if math.Abs(sum-cell.Spend) > 1e-9 {
			t.Fatalf("bucket %s: entity sum %v != total %v", key, sum, cell.Spend)
		}
	}
}

func TestSelectionCampaignFilter(t *testing.T) {
	rows := []models.RawRow{
		{Date: "2024-01-01", EntityName: "term-1", CampaignName: "brand", Spend: 10},
		{Date: "2024-01-01", EntityName: "term-2", CampaignName: "generic", Spend: 6},
	}
	agg := Aggregate(rows, models.CategorySearchTerms, models.GranularityDaily, time.UTC)
	RecomputeTotals(agg, NewSelection(nil, []string{"brand"}))

	if got := agg.Entities[TotalEntityName].Buckets["2024-01-01"].Spend; got != 10 {
		t.Fatalf("total spend = %v, want 10 (brand campaign only)", got)
	}
}

func TestEnsureGrandTotalSynthesizesMissingRow(t *testing.T) {
	rows := []models.RawRow{
		{Date: "2024-01-01", EntityName: "A", Spend: 10, Sales: 100},
		{Date: "2024-01-01", EntityName: "B", Spend: 6, Sales: 30},
		{Date: "2024-01-02", EntityName: "A", Spend: 20, Sales: 50},
	}
	agg := Aggregate(rows, models.CategoryCampaigns, models.GranularityDaily, time.UTC)
	EnsureGrandTotal(agg)

	total := agg.Entities[TotalEntityName]
	if total == nil {
		t.Fatal("grand total must be synthesized when the source supplies none")
	}
	if got := total.Buckets["2024-01-01"].Spend; got != 16 {
		t.Fatalf("total spend day 1 = %v, want 16", got)
	}
	if got := total.Buckets["2024-01-02"].Spend; got != 20 {
		t.Fatalf("total spend day 2 = %v, want 20", got)
	}
	if got := total.Totals.Spend; got != 36 {
		t.Fatalf("whole-range total spend = %v, want 36", got)
	}
	// Ratios come from the folded sums.
	if got := total.Buckets["2024-01-01"].ACOS; math.Abs(got-16.0/130.0*100) > 1e-9 {
		t.Fatalf("total acos day 1 = %v, want %v", got, 16.0/130.0*100)
	}
}

func TestEnsureGrandTotalCompletesPartialRow(t *testing.T) {
	// Day 1 has detail rows only; day 2 is covered only by a supplied
	// total stand-in, as the products backfill produces.
	rows := []models.RawRow{
		{Date: "2024-01-01", EntityName: "sku-1", Spend: 10, Sales: 40},
		{Date: "2024-01-02", EntityName: TotalEntityName, Sessions: 30, TotalSales: 100},
	}
	agg := Aggregate(rows, models.CategoryProducts, models.GranularityDaily, time.UTC)
	EnsureGrandTotal(agg)

	total := agg.Entities[TotalEntityName]
	if got := total.Buckets["2024-01-01"].Spend; got != 10 {
		t.Fatalf("total spend day 1 = %v, want 10 (folded from detail)", got)
	}
	if got := total.Buckets["2024-01-02"].Sessions; got != 30 {
		t.Fatalf("total sessions day 2 = %v, want supplied 30 kept as-is", got)
	}
	if got := total.Totals.Spend; got != 10 {
		t.Fatalf("whole-range total spend = %v, want 10", got)
	}

	// Sum-of-parts holds on every detail-covered bucket.
	for key, cell := range total.Buckets {
		var sum float64
		covered := false
		for _, entity := range agg.Entities {
			if entity.IsTotal() {
				continue
			}
			if c := entity.Buckets[key]; c != nil {
				sum += c.Spend
				covered = true
			}
		}
		if covered && math.Abs(sum-cell.Spend) > 1e-9 {
			t.Fatalf("bucket %s: entity sum %v != total %v", key, sum, cell.Spend)
		}
	}
}

func TestEnsureGrandTotalKeepsFullySuppliedRow(t *testing.T) {
	agg := Aggregate(selectionFixtureRows(), models.CategoryCampaigns, models.GranularityDaily, time.UTC)
	EnsureGrandTotal(agg)

	// The supplied totals cover both data buckets, so they stay untouched.
	total := agg.Entities[TotalEntityName]
	if got := total.Buckets["2024-01-01"].Spend; got != 16 {
		t.Fatalf("total spend day 1 = %v, want supplied 16", got)
	}
	if got := total.Buckets["2024-01-02"].Spend; got != 24 {
		t.Fatalf("total spend day 2 = %v, want supplied 24", got)
	}
}

func TestApplySelectionFilter(t *testing.T) {
	agg := Aggregate(selectionFixtureRows(), models.CategoryCampaigns, models.GranularityDaily, time.UTC)
	sel := NewSelection([]string{"A"}, nil)
	RecomputeTotals(agg, sel)
	ApplySelectionFilter(agg, sel)

	if agg.Entities["B"] != nil {
		t.Fatal("unselected entity must be dropped from the listing")
	}
	if agg.Entities["A"] == nil || agg.Entities[TotalEntityName] == nil {
		t.Fatal("selected entity and total must survive")
	}
}

func TestZeroAccountLevelMetrics(t *testing.T) {
	rows := []models.RawRow{
		{Date: "2024-01-01", EntityName: "camp-1", Spend: 10, TotalSales: 500, Sessions: 200, PageViews: 300},
		{Date: "2024-01-01", EntityName: TotalEntityName, Spend: 10, TotalSales: 500, Sessions: 200, PageViews: 300},
	}
	agg := Aggregate(rows, models.CategoryCampaigns, models.GranularityDaily, time.UTC)
	ZeroAccountLevelMetrics(agg)

	cell := agg.Entities["camp-1"].Buckets["2024-01-01"]
	if cell.TotalSales != 0 || cell.Sessions != 0 || cell.PageViews != 0 {
		t.Fatalf("account-level metrics must be zeroed on entity rows, got %+v", cell)
	}
	if cell.TCOS != 0 || cell.ConversionRate != 0 {
		t.Fatalf("ratios over zeroed denominators must be 0, got tcos=%v conv=%v", cell.TCOS, cell.ConversionRate)
	}

	total := agg.Entities[TotalEntityName].Buckets["2024-01-01"]
	if total.TotalSales != 500 || total.Sessions != 200 {
		t.Fatalf("total row must keep account-level metrics, got %+v", total)
	}
}

func TestZeroAccountLevelMetricsSkipsProducts(t *testing.T) {
	rows := []models.RawRow{
		{Date: "2024-01-01", EntityName: "sku-1", Sessions: 40, PageViews: 80},
	}
	agg := Aggregate(rows, models.CategoryProducts, models.GranularityDaily, time.UTC)
	ZeroAccountLevelMetrics(agg)

	cell := agg.Entities["sku-1"].Buckets["2024-01-01"]
	if cell.Sessions != 40 || cell.PageViews != 80 {
		t.Fatalf("product traffic is entity-level and must be kept, got %+v", cell)
	}
}

func TestSelectionStatePerCategory(t *testing.T) {
	state := NewSelectionState(models.CategoryProducts)
	state.Set(models.CategoryProducts, NewSelection([]string{"sku-1"}, nil))
	state.Set(models.CategoryCampaigns, NewSelection([]string{"camp-1"}, nil))

	state.SetActive(models.CategoryCampaigns)
	if cat, sel := state.Active(); cat != models.CategoryCampaigns || len(sel.Entities) != 1 {
		t.Fatalf("active = %v %v, want campaigns selection", cat, sel)
	}

	// Switching back must restore the products selection untouched.
	state.SetActive(models.CategoryProducts)
	_, sel := state.Active()
	if _, ok := sel.Entities["sku-1"]; !ok {
		t.Fatal("products selection must survive a category switch")
	}
}
