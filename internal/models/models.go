package models

import "time"

// Category identifies which report tab a row belongs to.
type Category string

const (
	CategoryProducts    Category = "products"
	CategoryCampaigns   Category = "campaigns"
	CategorySearchTerms Category = "search-terms"
)

// Valid reports whether the category is one of the known report tabs.
func (c Category) Valid() bool {
	switch c {
	case CategoryProducts, CategoryCampaigns, CategorySearchTerms:
		return true
	}
	return false
}

// Granularity selects the calendar bucketing for a report.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// Valid reports whether the granularity is a known bucketing mode.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityDaily, GranularityWeekly, GranularityMonthly:
		return true
	}
	return false
}

// SortOrder controls the direction of bucket keys in the pivot output.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// RawRow is one observation for one entity on one calendar day, as returned
// by the store. Multiple rows may share the same (entity, date) pair and are
// summed during aggregation, never overwritten.
type RawRow struct {
	Date         string   `json:"date"` // YYYY-MM-DD
	EntityName   string   `json:"name"`
	DisplayName  string   `json:"displayName,omitempty"`
	Category     Category `json:"category"`
	CampaignName string   `json:"campaignName,omitempty"` // search-terms only

	Spend       float64 `json:"spend"`
	Sales       float64 `json:"sales"`
	TotalSales  float64 `json:"totalSales"`
	Clicks      float64 `json:"clicks"`
	Impressions float64 `json:"impressions"`
	Sessions    float64 `json:"sessions"`
	PageViews   float64 `json:"pageViews"`
	Orders      float64 `json:"orders"`
}

// Label returns the preferred display label for the row.
func (r RawRow) Label() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.EntityName
}

// Metric keys shared between the pivot table, the chart payload, and the KPI
// cards. Additive metrics are summed across rows; derived metrics are always
// recomputed from aggregated sums.
const (
	MetricSpend          = "spend"
	MetricSales          = "sales"
	MetricTotalSales     = "totalSales"
	MetricClicks         = "clicks"
	MetricImpressions    = "impressions"
	MetricSessions       = "sessions"
	MetricPageViews      = "pageViews"
	MetricOrders         = "orders"
	MetricCPC            = "cpc"
	MetricCTR            = "ctr"
	MetricACOS           = "acos"
	MetricTCOS           = "tcos"
	MetricROAS           = "roas"
	MetricConversionRate = "conversionRate"
)

// AdditiveMetrics lists the metrics that are correct to sum across rows.
var AdditiveMetrics = []string{
	MetricSpend, MetricSales, MetricTotalSales, MetricClicks,
	MetricImpressions, MetricSessions, MetricPageViews, MetricOrders,
}

// DerivedMetrics lists the ratio metrics computed from aggregated sums.
var DerivedMetrics = []string{
	MetricCPC, MetricCTR, MetricACOS, MetricTCOS, MetricROAS, MetricConversionRate,
}

// DateRange is an inclusive calendar-day range.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether no explicit range was supplied.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}
