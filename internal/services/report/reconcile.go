package report

import (
	"math"
	"sort"

	"github.com/marketlens/trend_reports/internal/models"
)

// ChartSeries is the chart payload: index-aligned bucket labels and one
// value slice per metric key.
type ChartSeries struct {
	Labels []string             `json:"labels"`
	Series map[string][]float64 `json:"series"`
}

// ReconcileAction names what the reconciler did to one metric's series.
type ReconcileAction string

const (
	ReconcileNone        ReconcileAction = "none"
	ReconcileScaled      ReconcileAction = "scaled"
	ReconcileZeroed      ReconcileAction = "zeroed"
	ReconcileDistributed ReconcileAction = "distributed"
	ReconcileUnresolved  ReconcileAction = "unresolved"
)

// ReconcileReport records the before/after state of one metric's pass, so
// the adjustment is observable rather than a silent patch.
type ReconcileReport struct {
	Metric string          `json:"metric"`
	Before float64         `json:"before"`
	After  float64         `json:"after"`
	Target float64         `json:"target"`
	Action ReconcileAction `json:"action"`
}

// Resolved reports whether the series total now matches the target.
func (r ReconcileReport) Resolved() bool {
	return math.Abs(r.After-r.Target) < 1
}

// ReconcileChartSeries forces each metric's series to sum to the
// authoritative KPI total for that metric. The chart and the KPI cards are
// built from the same rows, but independent rounding or window clamping can
// make their sums drift; rather than re-derive one from the other the pass
// repairs the series in place:
//   - both totals positive: scale every value by target/current, which
//     preserves the time distribution's shape;
//   - current positive, target zero: zero the series;
//   - current zero, target positive: spread the target evenly, there being
//     no shape to preserve.
//
// Differences under 1 are left alone. The pass always runs and returns one
// report per reconciled metric, sorted by metric name; a residual mismatch
// is flagged as unresolved, never raised as an error.
func ReconcileChartSeries(chart *ChartSeries, authoritative map[string]float64) []ReconcileReport {
	if chart == nil || len(authoritative) == 0 {
		return nil
	}

	metrics := make([]string, 0, len(authoritative))
	for metric := range authoritative {
		if _, ok := chart.Series[metric]; ok {
			metrics = append(metrics, metric)
		}
	}
	sort.Strings(metrics)

	reports := make([]ReconcileReport, 0, len(metrics))
	for _, metric := range metrics {
		values := chart.Series[metric]
		target := authoritative[metric]
		current := sumValues(values)

		rep := ReconcileReport{Metric: metric, Before: current, After: current, Target: target, Action: ReconcileNone}
		if math.Abs(current-target) >= 1 {
			switch {
			case current > 0 && target > 0:
				factor := target / current
				for i := range values {
					values[i] *= factor
				}
				rep.Action = ReconcileScaled
			case current > 0 && target == 0:
				for i := range values {
					values[i] = 0
				}
				rep.Action = ReconcileZeroed
			case current == 0 && target > 0 && len(values) > 0:
				share := target / float64(len(values))
				for i := range values {
					values[i] = share
				}
				rep.Action = ReconcileDistributed
			default:
				rep.Action = ReconcileUnresolved
			}
			rep.After = sumValues(values)
			if rep.Action != ReconcileUnresolved && !rep.Resolved() {
				rep.Action = ReconcileUnresolved
			}
		}
		reports = append(reports, rep)
	}
	return reports
}

// TrimTrailingZeros drops the newest consecutive buckets whose additive
// series are all zero. Recent days often have no imported data yet; charting
// them as zeros reads as a crash in sales rather than missing data. Labels
// and every series are cut to the same length.
func TrimTrailingZeros(chart *ChartSeries) {
	if chart == nil || len(chart.Labels) == 0 {
		return
	}
	last := -1
	for i := range chart.Labels {
		for _, metric := range models.AdditiveMetrics {
			values := chart.Series[metric]
			if i < len(values) && values[i] != 0 {
				if i > last {
					last = i
				}
				break
			}
		}
	}
	keep := last + 1
	if keep >= len(chart.Labels) {
		return
	}
	chart.Labels = chart.Labels[:keep]
	for metric, values := range chart.Series {
		if keep < len(values) {
			chart.Series[metric] = values[:keep]
		}
	}
}

// KpiTotals is the headline card payload: whole-range additive sums, ratios
// rederived from those sums, and the per-day average figures.
type KpiTotals struct {
	MetricSet

	DayCount          int     `json:"dayCount"`
	AvgSessionsPerDay float64 `json:"avgSessionsPerDay"`
	AvgSalesPerDay    float64 `json:"avgSalesPerDay"`
}

// ComputeKpis derives the authoritative whole-range totals from the same
// detailed rows the chart is built from, so the two views share one source
// of truth. Synthetic grand-total rows are only counted on dates that have
// no detailed rows (those are backfill stand-ins, counting them elsewhere
// would double every figure). The per-day divisor is 1 when the requested
// range is a single date, regardless of how many distinct dates the data
// spans; otherwise it is the count of unique dates seen.
func ComputeKpis(rows []models.RawRow, category models.Category, startStr, endStr string) KpiTotals {
	datesWithDetail := make(map[string]struct{})
	for _, row := range rows {
		if row.EntityName != TotalEntityName {
			datesWithDetail[row.Date] = struct{}{}
		}
	}

	var k KpiTotals
	uniqueDates := make(map[string]struct{})
	for _, row := range rows {
		if row.EntityName == TotalEntityName {
			if _, detailed := datesWithDetail[row.Date]; detailed {
				continue
			}
		}
		k.MetricSet.add(row)
		uniqueDates[row.Date] = struct{}{}
	}
	k.MetricSet.derive(category)

	if startStr != "" && startStr == endStr {
		k.DayCount = 1
	} else {
		k.DayCount = len(uniqueDates)
	}
	if k.DayCount > 0 {
		k.AvgSessionsPerDay = k.Sessions / float64(k.DayCount)
		k.AvgSalesPerDay = k.Sales / float64(k.DayCount)
	}
	return k
}

// AuthoritativeTotals exposes the additive KPI sums keyed by metric name,
// the shape the reconciler consumes. Ratio metrics are excluded: scaling a
// ratio series to sum to anything is meaningless.
func (k KpiTotals) AuthoritativeTotals() map[string]float64 {
	return map[string]float64{
		models.MetricSpend:       k.Spend,
		models.MetricSales:       k.Sales,
		models.MetricTotalSales:  k.TotalSales,
		models.MetricClicks:      k.Clicks,
		models.MetricImpressions: k.Impressions,
		models.MetricSessions:    k.Sessions,
		models.MetricPageViews:   k.PageViews,
		models.MetricOrders:      k.Orders,
	}
}

func sumValues(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
