package report

import (
	"math"
	"sort"
	"time"

	"github.com/marketlens/trend_reports/internal/models"
	"github.com/marketlens/trend_reports/internal/timeutil"
)

// TotalEntityName is the sentinel name of the synthetic grand-total row.
// Rows carrying this name in raw input are pre-aggregated account-level
// totals supplied by the data source.
const TotalEntityName = "DAILY TOTAL"

// MetricSet holds the additive sums for one (entity, bucket) cell plus the
// ratio metrics derived from those sums. Ratios are only ever computed from
// the cell's own aggregated numerator and denominator; averaging per-row
// ratios across rows with different denominators produces wrong numbers.
type MetricSet struct {
	Spend       float64 `json:"spend"`
	Sales       float64 `json:"sales"`
	TotalSales  float64 `json:"totalSales"`
	Clicks      float64 `json:"clicks"`
	Impressions float64 `json:"impressions"`
	Sessions    float64 `json:"sessions"`
	PageViews   float64 `json:"pageViews"`
	Orders      float64 `json:"orders"`

	CPC            float64 `json:"cpc"`
	CTR            float64 `json:"ctr"`
	ACOS           float64 `json:"acos"`
	TCOS           float64 `json:"tcos"`
	ROAS           float64 `json:"roas"`
	ConversionRate float64 `json:"conversionRate"`
}

func (m *MetricSet) add(row models.RawRow) {
	m.Spend += sanitize(row.Spend)
	m.Sales += sanitize(row.Sales)
	m.TotalSales += sanitize(row.TotalSales)
	m.Clicks += sanitize(row.Clicks)
	m.Impressions += sanitize(row.Impressions)
	m.Sessions += sanitize(row.Sessions)
	m.PageViews += sanitize(row.PageViews)
	m.Orders += sanitize(row.Orders)
}

func (m *MetricSet) addSet(other *MetricSet) {
	m.Spend += other.Spend
	m.Sales += other.Sales
	m.TotalSales += other.TotalSales
	m.Clicks += other.Clicks
	m.Impressions += other.Impressions
	m.Sessions += other.Sessions
	m.PageViews += other.PageViews
	m.Orders += other.Orders
}

// derive recomputes every ratio metric from the current sums. Products use
// sessions as the click-through denominator because their traffic comes from
// business reports; ad-side categories use impressions.
func (m *MetricSet) derive(category models.Category) {
	m.CPC = safeDiv(m.Spend, m.Clicks)
	if category == models.CategoryProducts {
		m.CTR = safeDiv(m.Clicks, m.Sessions) * 100
	} else {
		m.CTR = safeDiv(m.Clicks, m.Impressions) * 100
	}
	m.ACOS = safeDiv(m.Spend, m.Sales) * 100
	m.TCOS = safeDiv(m.Spend, m.TotalSales) * 100
	m.ROAS = safeDiv(m.Sales, m.Spend)
	m.ConversionRate = safeDiv(m.Orders, m.Sessions) * 100
}

// Value returns the named metric, or 0 for unknown keys.
func (m *MetricSet) Value(metric string) float64 {
	switch metric {
	case models.MetricSpend:
		return m.Spend
	case models.MetricSales:
		return m.Sales
	case models.MetricTotalSales:
		return m.TotalSales
	case models.MetricClicks:
		return m.Clicks
	case models.MetricImpressions:
		return m.Impressions
	case models.MetricSessions:
		return m.Sessions
	case models.MetricPageViews:
		return m.PageViews
	case models.MetricOrders:
		return m.Orders
	case models.MetricCPC:
		return m.CPC
	case models.MetricCTR:
		return m.CTR
	case models.MetricACOS:
		return m.ACOS
	case models.MetricTCOS:
		return m.TCOS
	case models.MetricROAS:
		return m.ROAS
	case models.MetricConversionRate:
		return m.ConversionRate
	}
	return 0
}

// EntityAggregate is one entity's folded metrics across every bucket it has
// data in, plus a whole-range total.
type EntityAggregate struct {
	Name         string
	DisplayName  string
	CampaignName string
	Buckets      map[string]*MetricSet
	Totals       MetricSet

	labelSales float64
}

// IsTotal reports whether this is the synthetic grand-total entity.
func (e *EntityAggregate) IsTotal() bool {
	return e.Name == TotalEntityName
}

// HasData reports whether any additive total is non-zero. Zero entities are
// kept through aggregation and selection recompute; callers filter them only
// when building the final listing.
func (e *EntityAggregate) HasData() bool {
	t := e.Totals
	return t.Spend != 0 || t.Sales != 0 || t.TotalSales != 0 || t.Clicks != 0 ||
		t.Impressions != 0 || t.Sessions != 0 || t.PageViews != 0 || t.Orders != 0
}

// Aggregation is the per-entity, per-bucket fold of one fetch's raw rows.
type Aggregation struct {
	Category    models.Category
	Granularity models.Granularity
	Entities    map[string]*EntityAggregate
}

// Aggregate folds raw rows into per-entity, per-bucket metric sets. Rows
// sharing an (entity, bucket) pair are summed. Rows with unparseable dates
// are skipped. Derived ratios are computed once per cell after the fold,
// from that cell's sums. When duplicate rows disagree on the display label
// the one attached to the highest sales wins, first seen on ties.
func Aggregate(rows []models.RawRow, category models.Category, gran models.Granularity, loc *time.Location) *Aggregation {
	loc = timeutil.EnsureLocation(loc)
	agg := &Aggregation{
		Category:    category,
		Granularity: gran,
		Entities:    make(map[string]*EntityAggregate),
	}

	for _, row := range rows {
		key, ok := bucketKeyFor(row.Date, gran, loc)
		if !ok {
			continue
		}
		entity := agg.Entities[row.EntityName]
		if entity == nil {
			entity = &EntityAggregate{
				Name:         row.EntityName,
				DisplayName:  row.Label(),
				CampaignName: row.CampaignName,
				Buckets:      make(map[string]*MetricSet),
				labelSales:   sanitize(row.Sales),
			}
			agg.Entities[row.EntityName] = entity
		} else if s := sanitize(row.Sales); s > entity.labelSales {
			entity.DisplayName = row.Label()
			if row.CampaignName != "" {
				entity.CampaignName = row.CampaignName
			}
			entity.labelSales = s
		}

		cell := entity.Buckets[key]
		if cell == nil {
			cell = &MetricSet{}
			entity.Buckets[key] = cell
		}
		cell.add(row)
		entity.Totals.add(row)
	}

	for _, entity := range agg.Entities {
		for _, cell := range entity.Buckets {
			cell.derive(category)
		}
		entity.Totals.derive(category)
	}
	return agg
}

// SortedNames returns entity names ordered by whole-range sales descending,
// with the grand-total row first. Ties break alphabetically so the listing
// is reproducible.
func (a *Aggregation) SortedNames() []string {
	names := make([]string, 0, len(a.Entities))
	for name := range a.Entities {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ei, ej := a.Entities[names[i]], a.Entities[names[j]]
		if ei.IsTotal() != ej.IsTotal() {
			return ei.IsTotal()
		}
		if ei.Totals.Sales != ej.Totals.Sales {
			return ei.Totals.Sales > ej.Totals.Sales
		}
		return names[i] < names[j]
	})
	return names
}

// sanitize coerces NaN, infinities, and negative values to 0. Additive
// metrics are non-negative by contract; anything else is malformed input.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
