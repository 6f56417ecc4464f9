package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketlens/trend_reports/internal/models"
	"github.com/marketlens/trend_reports/internal/store"
	"github.com/marketlens/trend_reports/internal/timeutil"
)

var (
	ErrInvalidCategory    = errors.New("invalid category")
	ErrInvalidGranularity = errors.New("invalid granularity")
	ErrInvalidRange       = errors.New("invalid date range")
	ErrUnknownPreset      = errors.New("unknown date preset")
	ErrSuperseded         = errors.New("request superseded by a newer fetch")
)

// RowSource supplies the raw rows the engine aggregates. The engine does not
// know how they were fetched.
type RowSource interface {
	FetchRows(ctx context.Context, category models.Category, start, end time.Time) ([]models.RawRow, error)
	FetchBusinessRows(ctx context.Context, start, end time.Time) ([]store.BusinessRow, error)
	GlobalDateRange(ctx context.Context) (time.Time, time.Time, error)
}

// RowCache fronts the row fetch with a best-effort, time-bounded cache.
type RowCache interface {
	Key(category models.Category, startKey, endKey string) string
	Get(ctx context.Context, key string) ([]models.RawRow, bool)
	Set(ctx context.Context, key string, rows []models.RawRow)
}

// BuildObserver receives report build timings.
type BuildObserver interface {
	ObserveReportBuild(category string, d time.Duration)
}

// CacheObserver receives row-cache lookup outcomes ("hit" or "miss").
// A BuildObserver that also implements it gets cache metrics for free.
type CacheObserver interface {
	RecordCacheLookup(outcome string)
}

// Options configures a report Service.
type Options struct {
	Source RowSource
	Cache  RowCache // optional
	Logger *slog.Logger

	Location         *time.Location
	ExcludePartial   bool
	LifetimeStart    string // YYYY-MM-DD fallback for the lifetime preset
	DefaultRangeDays int
	Metrics          BuildObserver // optional
}

// Service builds pivoted report views, chart payloads, and KPI totals from
// raw per-day rows.
type Service struct {
	source       RowSource
	cache        RowCache
	logger       *slog.Logger
	metrics      BuildObserver
	cacheMetrics CacheObserver

	loc              *time.Location
	excludePartial   bool
	lifetimeStart    string
	defaultRangeDays int

	now   func() time.Time
	guard fetchGuard
}

func NewService(opts Options) (*Service, error) {
	if opts.Source == nil {
		return nil, errors.New("report: row source is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	days := opts.DefaultRangeDays
	if days <= 0 {
		days = 30
	}
	cacheMetrics, _ := opts.Metrics.(CacheObserver)
	return &Service{
		source:           opts.Source,
		cache:            opts.Cache,
		logger:           logger,
		metrics:          opts.Metrics,
		cacheMetrics:     cacheMetrics,
		loc:              timeutil.EnsureLocation(opts.Location),
		excludePartial:   opts.ExcludePartial,
		lifetimeStart:    opts.LifetimeStart,
		defaultRangeDays: days,
		now:              time.Now,
	}, nil
}

// ReportRequest describes one report build. StartStr/EndStr take precedence
// over Preset; with neither, the default trailing range applies.
type ReportRequest struct {
	Category    models.Category
	Granularity models.Granularity
	Order       models.SortOrder
	StartStr    string
	EndStr      string
	Preset      string

	SelectedEntities  []string
	SelectedCampaigns []string
}

// PivotEntity is one row of the pivot table: per-metric, per-bucket values
// plus whole-range totals.
type PivotEntity struct {
	Name        string                        `json:"name"`
	DisplayName string                        `json:"displayName"`
	Metrics     map[string]map[string]float64 `json:"metrics"`
	Totals      map[string]float64            `json:"totals"`
}

// ReportResult is the full payload for one category tab.
type ReportResult struct {
	Category    models.Category    `json:"category"`
	Granularity models.Granularity `json:"granularity"`
	StartStr    string             `json:"start"`
	EndStr      string             `json:"end"`

	Buckets        BucketSet         `json:"buckets"`
	Pivot          []PivotEntity     `json:"pivot"`
	Chart          ChartSeries       `json:"chart"`
	Kpis           KpiTotals         `json:"kpis"`
	Reconciliation []ReconcileReport `json:"reconciliation"`

	RowCount int  `json:"rowCount"`
	CacheHit bool `json:"cacheHit"`
}

// BuildReport runs the full pipeline for one request: resolve the range,
// fetch rows (cache-fronted), bucket, aggregate, apply the selection,
// build the pivot and chart views, and reconcile the chart against the KPI
// totals. A build whose fetch was superseded by a newer request for the
// same category returns ErrSuperseded and must be discarded by the caller.
func (s *Service) BuildReport(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	started := s.now()
	buildID := uuid.NewString()

	if !req.Category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, req.Category)
	}
	if req.Granularity == "" {
		req.Granularity = models.GranularityDaily
	}
	if !req.Granularity.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGranularity, req.Granularity)
	}
	if req.Order == "" {
		req.Order = models.SortAsc
	}

	rng, err := s.resolveRange(ctx, req)
	if err != nil {
		return nil, err
	}
	startKey := timeutil.DayKey(rng.Start, s.loc)
	endKey := timeutil.DayKey(rng.End, s.loc)

	fetchID := s.guard.begin(req.Category)
	rows, cacheHit, err := s.fetchRows(ctx, req.Category, rng)
	if err != nil {
		return nil, err
	}
	if !s.guard.current(req.Category, fetchID) {
		s.logger.Debug("report build discarded, fetch superseded",
			"build_id", buildID, "category", req.Category, "fetch_id", fetchID)
		return nil, ErrSuperseded
	}

	today := time.Time{}
	if s.excludePartial {
		today = s.now().In(s.loc)
	}
	buckets := BuildBuckets(rows, req.Granularity, rng, req.Order, today, s.loc)

	sel := NewSelection(req.SelectedEntities, req.SelectedCampaigns)
	agg := Aggregate(rows, req.Category, req.Granularity, s.loc)
	if sel.IsEmpty() {
		EnsureGrandTotal(agg)
	} else {
		RecomputeTotals(agg, sel)
	}
	ZeroAccountLevelMetrics(agg)
	ApplySelectionFilter(agg, sel)

	chart := buildChart(agg, buckets)
	TrimTrailingZeros(&chart)
	kpis := ComputeKpis(filterRowsForKpis(rows, sel), req.Category, startKey, endKey)
	recon := ReconcileChartSeries(&chart, kpis.AuthoritativeTotals())
	for _, rep := range recon {
		if rep.Action == ReconcileUnresolved {
			s.logger.Warn("chart reconciliation left a residual mismatch",
				"build_id", buildID, "metric", rep.Metric,
				"series_total", rep.After, "kpi_total", rep.Target)
		}
	}

	result := &ReportResult{
		Category:       req.Category,
		Granularity:    req.Granularity,
		StartStr:       startKey,
		EndStr:         endKey,
		Buckets:        buckets,
		Pivot:          buildPivot(agg, buckets),
		Chart:          chart,
		Kpis:           kpis,
		Reconciliation: recon,
		RowCount:       len(rows),
		CacheHit:       cacheHit,
	}

	elapsed := s.now().Sub(started)
	if s.metrics != nil {
		s.metrics.ObserveReportBuild(string(req.Category), elapsed)
	}
	s.logger.Info("report built",
		"build_id", buildID, "category", req.Category, "granularity", req.Granularity,
		"start", startKey, "end", endKey, "rows", len(rows),
		"cache_hit", cacheHit, "duration_ms", elapsed.Milliseconds())
	return result, nil
}

func (s *Service) resolveRange(ctx context.Context, req ReportRequest) (models.DateRange, error) {
	if req.StartStr != "" || req.EndStr != "" {
		start, err := timeutil.ParseDay(req.StartStr, s.loc)
		if err != nil {
			return models.DateRange{}, fmt.Errorf("%w: start %q", ErrInvalidRange, req.StartStr)
		}
		end, err := timeutil.ParseDay(req.EndStr, s.loc)
		if err != nil {
			return models.DateRange{}, fmt.Errorf("%w: end %q", ErrInvalidRange, req.EndStr)
		}
		if end.Before(start) {
			return models.DateRange{}, fmt.Errorf("%w: end precedes start", ErrInvalidRange)
		}
		return models.DateRange{Start: start, End: end}, nil
	}
	if req.Preset != "" {
		return s.ResolvePreset(ctx, req.Preset)
	}
	end := timeutil.TruncateToDay(s.now().In(s.loc), s.loc).AddDate(0, 0, -1)
	return models.DateRange{Start: end.AddDate(0, 0, -(s.defaultRangeDays - 1)), End: end}, nil
}

// ResolvePreset translates a named date preset into a concrete inclusive
// range. Ranges that run "to date" end on today; the partial-day rule in the
// bucketer keeps today out of the columns.
func (s *Service) ResolvePreset(ctx context.Context, preset string) (models.DateRange, error) {
	today := timeutil.TruncateToDay(s.now().In(s.loc), s.loc)
	yesterday := today.AddDate(0, 0, -1)

	switch preset {
	case "yesterday":
		return models.DateRange{Start: yesterday, End: yesterday}, nil
	case "last7":
		return models.DateRange{Start: yesterday.AddDate(0, 0, -6), End: yesterday}, nil
	case "last30":
		return models.DateRange{Start: yesterday.AddDate(0, 0, -29), End: yesterday}, nil
	case "thisWeek":
		return models.DateRange{Start: timeutil.WeekStart(today, s.loc), End: today}, nil
	case "lastWeek":
		start := timeutil.WeekStart(today, s.loc).AddDate(0, 0, -7)
		return models.DateRange{Start: start, End: start.AddDate(0, 0, 6)}, nil
	case "thisMonth":
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, s.loc)
		return models.DateRange{Start: start, End: today}, nil
	case "lastMonth":
		firstOfThis := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, s.loc)
		start := firstOfThis.AddDate(0, -1, 0)
		return models.DateRange{Start: start, End: firstOfThis.AddDate(0, 0, -1)}, nil
	case "ytd":
		start := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, s.loc)
		return models.DateRange{Start: start, End: today}, nil
	case "lifetime":
		minDay, maxDay, err := s.source.GlobalDateRange(ctx)
		if err != nil {
			return models.DateRange{}, fmt.Errorf("resolve lifetime range: %w", err)
		}
		if minDay.IsZero() {
			start, perr := timeutil.ParseDay(s.lifetimeStart, s.loc)
			if perr != nil {
				start = today.AddDate(-1, 0, 0)
			}
			return models.DateRange{Start: start, End: today}, nil
		}
		return models.DateRange{Start: minDay, End: maxDay}, nil
	}
	return models.DateRange{}, fmt.Errorf("%w: %q", ErrUnknownPreset, preset)
}

// fetchRows returns the raw rows for the window, consulting the cache first.
// Product fetches are merged with account-level business rows: dates that
// have business data but no per-product rows get a synthetic grand-total
// stand-in so the range does not chart as empty.
func (s *Service) fetchRows(ctx context.Context, category models.Category, rng models.DateRange) ([]models.RawRow, bool, error) {
	startKey := timeutil.DayKey(rng.Start, s.loc)
	endKey := timeutil.DayKey(rng.End, s.loc)

	var key string
	if s.cache != nil {
		key = s.cache.Key(category, startKey, endKey)
		if rows, ok := s.cache.Get(ctx, key); ok {
			s.observeCacheLookup("hit")
			return rows, true, nil
		}
		s.observeCacheLookup("miss")
	}

	rows, err := s.source.FetchRows(ctx, category, rng.Start, rng.End)
	if err != nil {
		return nil, false, fmt.Errorf("fetch %s rows: %w", category, err)
	}
	if category == models.CategoryProducts {
		rows, err = s.backfillBusinessTotals(ctx, rows, rng)
		if err != nil {
			return nil, false, err
		}
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, rows)
	}
	return rows, false, nil
}

func (s *Service) observeCacheLookup(outcome string) {
	if s.cacheMetrics != nil {
		s.cacheMetrics.RecordCacheLookup(outcome)
	}
}

// backfillBusinessTotals appends a synthetic grand-total row for every date
// in the window that has account-level business data but no product rows.
func (s *Service) backfillBusinessTotals(ctx context.Context, rows []models.RawRow, rng models.DateRange) ([]models.RawRow, error) {
	biz, err := s.source.FetchBusinessRows(ctx, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("fetch business rows: %w", err)
	}
	if len(biz) == 0 {
		return rows, nil
	}

	covered := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		covered[row.Date] = struct{}{}
	}

	byDate := make(map[string]models.RawRow)
	for _, b := range biz {
		if _, ok := covered[b.Date]; ok {
			continue
		}
		fill := byDate[b.Date]
		fill.Date = b.Date
		fill.EntityName = TotalEntityName
		fill.DisplayName = TotalEntityName
		fill.Category = models.CategoryProducts
		fill.Sessions += b.Sessions
		fill.PageViews += b.PageViews
		fill.Orders += b.Units
		fill.TotalSales += b.Sales
		byDate[b.Date] = fill
	}
	for _, fill := range byDate {
		rows = append(rows, fill)
	}
	return rows, nil
}

// filterRowsForKpis narrows the KPI source rows to the active selection so
// the cards and the chart describe the same slice of data. With a narrowing
// active, supplied grand-total rows are excluded outright: they aggregate
// entities outside the selection.
func filterRowsForKpis(rows []models.RawRow, sel Selection) []models.RawRow {
	if sel.IsEmpty() {
		return rows
	}
	out := make([]models.RawRow, 0, len(rows))
	for _, row := range rows {
		if row.EntityName == TotalEntityName {
			continue
		}
		if len(sel.Entities) > 0 {
			if _, ok := sel.Entities[row.EntityName]; !ok {
				continue
			}
		}
		if len(sel.Campaigns) > 0 {
			if _, ok := sel.Campaigns[row.CampaignName]; !ok {
				continue
			}
		}
		out = append(out, row)
	}
	return out
}

// buildPivot flattens the aggregation into the nested view-model shape
// {name, metric -> {bucketKey -> value}}. Entities with no data anywhere in
// the range are dropped from the listing; the grand-total row leads.
func buildPivot(agg *Aggregation, buckets BucketSet) []PivotEntity {
	metrics := append(append([]string{}, models.AdditiveMetrics...), models.DerivedMetrics...)

	out := make([]PivotEntity, 0, len(agg.Entities))
	for _, name := range agg.SortedNames() {
		entity := agg.Entities[name]
		if !entity.IsTotal() && !entity.HasData() {
			continue
		}
		pe := PivotEntity{
			Name:        entity.Name,
			DisplayName: entity.DisplayName,
			Metrics:     make(map[string]map[string]float64, len(metrics)),
			Totals:      make(map[string]float64, len(metrics)),
		}
		for _, metric := range metrics {
			cells := make(map[string]float64, len(buckets.Keys))
			for _, key := range buckets.Keys {
				if cell := entity.Buckets[key]; cell != nil {
					cells[key] = cell.Value(metric)
				} else {
					cells[key] = 0
				}
			}
			pe.Metrics[metric] = cells
			pe.Totals[metric] = entity.Totals.Value(metric)
		}
		out = append(out, pe)
	}
	return out
}

// buildChart produces the chronological chart payload from the grand-total
// entity, falling back to summing the individual entities per bucket when no
// total row exists. Derived metrics are computed per bucket from the total's
// sums, never reconciled afterwards.
func buildChart(agg *Aggregation, buckets BucketSet) ChartSeries {
	keys := append([]string{}, buckets.Keys...)
	labels := append([]string{}, buckets.Labels...)
	if len(keys) > 1 && keys[0] > keys[len(keys)-1] {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
			labels[i], labels[j] = labels[j], labels[i]
		}
	}

	cells := make([]*MetricSet, len(keys))
	if total := agg.Entities[TotalEntityName]; total != nil {
		for i, key := range keys {
			cells[i] = total.Buckets[key]
		}
	} else {
		for i, key := range keys {
			sum := &MetricSet{}
			for _, entity := range agg.Entities {
				if cell := entity.Buckets[key]; cell != nil {
					sum.addSet(cell)
				}
			}
			sum.derive(agg.Category)
			cells[i] = sum
		}
	}

	metrics := append(append([]string{}, models.AdditiveMetrics...), models.DerivedMetrics...)
	series := make(map[string][]float64, len(metrics))
	for _, metric := range metrics {
		values := make([]float64, len(keys))
		for i, cell := range cells {
			if cell != nil {
				values[i] = cell.Value(metric)
			}
		}
		series[metric] = values
	}
	return ChartSeries{Labels: labels, Series: series}
}

// SelfTestResult reports whether repeated aggregation over one window is
// deterministic. Totals are normalized to 3 decimal places before comparing.
type SelfTestResult struct {
	Category models.Category `json:"category"`
	StartStr string          `json:"start"`
	EndStr   string          `json:"end"`
	Runs     int             `json:"runs"`
	Spend    []float64       `json:"spend"`
	Sales    []float64       `json:"sales"`
	Drift    bool            `json:"drift"`
}

// SelfTest fetches one window of rows and aggregates it three times,
// comparing the normalized totals across runs. Any drift means the fold is
// order-dependent or otherwise non-deterministic.
func (s *Service) SelfTest(ctx context.Context, category models.Category, rng models.DateRange) (*SelfTestResult, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	rows, _, err := s.fetchRows(ctx, category, rng)
	if err != nil {
		return nil, err
	}

	const runs = 3
	result := &SelfTestResult{
		Category: category,
		StartStr: timeutil.DayKey(rng.Start, s.loc),
		EndStr:   timeutil.DayKey(rng.End, s.loc),
		Runs:     runs,
	}
	for i := 0; i < runs; i++ {
		agg := Aggregate(rows, category, models.GranularityDaily, s.loc)
		var spend, sales float64
		for _, entity := range agg.Entities {
			if entity.IsTotal() {
				continue
			}
			spend += entity.Totals.Spend
			sales += entity.Totals.Sales
		}
		result.Spend = append(result.Spend, round3(spend))
		result.Sales = append(result.Sales, round3(sales))
	}
	for i := 1; i < runs; i++ {
		if result.Spend[i] != result.Spend[0] || result.Sales[i] != result.Sales[0] {
			result.Drift = true
		}
	}
	if result.Drift {
		s.logger.Error("aggregation self-test detected drift",
			"category", category, "spend", result.Spend, "sales", result.Sales)
	}
	return result, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// fetchGuard tags each fetch with a monotonically increasing id per category
// so out-of-order completions can be discarded (last write wins).
type fetchGuard struct {
	mu     sync.Mutex
	seq    uint64
	latest map[models.Category]uint64
}

func (g *fetchGuard) begin(category models.Category) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.latest == nil {
		g.latest = make(map[models.Category]uint64)
	}
	g.seq++
	g.latest[category] = g.seq
	return g.seq
}

func (g *fetchGuard) current(category models.Category, id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latest[category] == id
}
