package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/marketlens/trend_reports/internal/models"
	"github.com/marketlens/trend_reports/internal/timeutil"
)

var ErrInvalidCategory = errors.New("invalid category")

// Store reads flattened report rows for the aggregation engine. It is the
// only component that knows how rows are persisted; everything downstream
// consumes []models.RawRow.
type Store struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

func New(pool *pgxpool.Pool, loc *time.Location) *Store {
	return &Store{pool: pool, loc: timeutil.EnsureLocation(loc)}
}

// FetchRows returns per-day, per-entity rows for the category between start
// and end inclusive. Money columns are scanned as exact numerics and only
// converted to float64 at the boundary.
func (s *Store) FetchRows(ctx context.Context, category models.Category, start, end time.Time) ([]models.RawRow, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("store not initialized")
	}
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}

	const q = `
		SELECT report_date,
		       entity_name,
		       COALESCE(display_name, ''),
		       COALESCE(campaign_name, ''),
		       spend::text,
		       sales::text,
		       total_sales::text,
		       clicks,
		       impressions,
		       sessions,
		       page_views,
		       units_ordered
		FROM ad_performance_rows
		WHERE category = $1
		  AND report_date >= $2
		  AND report_date <= $3
		ORDER BY report_date, entity_name`

	rows, err := s.pool.Query(ctx, q,
		string(category),
		timeutil.TruncateToDay(start, s.loc),
		timeutil.TruncateToDay(end, s.loc),
	)
	if err != nil {
		return nil, fmt.Errorf("query ad performance rows: %w", err)
	}
	defer rows.Close()

	out := make([]models.RawRow, 0, 256)
	for rows.Next() {
		var (
			day                    time.Time
			entity                 string
			display                string
			campaign               string
			spendRaw               string
			salesRaw               string
			totalSalesRaw          string
			clicks, imprs          int64
			sessions, views, units int64
		)
		if err := rows.Scan(&day, &entity, &display, &campaign, &spendRaw, &salesRaw, &totalSalesRaw, &clicks, &imprs, &sessions, &views, &units); err != nil {
			return nil, fmt.Errorf("scan ad performance row: %w", err)
		}
		out = append(out, models.RawRow{
			Date:         timeutil.DayKey(day, s.loc),
			EntityName:   entity,
			DisplayName:  display,
			Category:     category,
			CampaignName: campaign,
			Spend:        numericToFloat(spendRaw),
			Sales:        numericToFloat(salesRaw),
			TotalSales:   numericToFloat(totalSalesRaw),
			Clicks:       float64(clicks),
			Impressions:  float64(imprs),
			Sessions:     float64(sessions),
			PageViews:    float64(views),
			Orders:       float64(units),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ad performance rows: %w", err)
	}
	return out, nil
}

// BusinessRow is one account-level business report observation for a day.
type BusinessRow struct {
	Date       string  `json:"date"`
	ParentASIN string  `json:"parent_asin"`
	SKU        string  `json:"sku,omitempty"`
	Sessions   float64 `json:"sessions"`
	PageViews  float64 `json:"page_views"`
	Units      float64 `json:"units_ordered"`
	Sales      float64 `json:"ordered_product_sales"`
}

// FetchBusinessRows returns the account-level rows used for KPI totals and
// for backfilling product dates that have no per-entity data.
func (s *Store) FetchBusinessRows(ctx context.Context, start, end time.Time) ([]BusinessRow, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("store not initialized")
	}

	const q = `
		SELECT report_date,
		       parent_asin,
		       COALESCE(sku, ''),
		       sessions,
		       page_views,
		       units_ordered,
		       ordered_product_sales::text
		FROM business_report_rows
		WHERE report_date >= $1
		  AND report_date <= $2
		ORDER BY report_date, parent_asin`

	rows, err := s.pool.Query(ctx, q,
		timeutil.TruncateToDay(start, s.loc),
		timeutil.TruncateToDay(end, s.loc),
	)
	if err != nil {
		return nil, fmt.Errorf("query business rows: %w", err)
	}
	defer rows.Close()

	out := make([]BusinessRow, 0, 64)
	for rows.Next() {
		var (
			day                     time.Time
			asin, sku               string
			sessions, views, units  int64
			salesRaw                string
		)
		if err := rows.Scan(&day, &asin, &sku, &sessions, &views, &units, &salesRaw); err != nil {
			return nil, fmt.Errorf("scan business row: %w", err)
		}
		out = append(out, BusinessRow{
			Date:       timeutil.DayKey(day, s.loc),
			ParentASIN: asin,
			SKU:        sku,
			Sessions:   float64(sessions),
			PageViews:  float64(views),
			Units:      float64(units),
			Sales:      numericToFloat(salesRaw),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate business rows: %w", err)
	}
	return out, nil
}

// GlobalDateRange reports the min/max report dates present across both row
// tables. Used to resolve the "lifetime" preset without scanning row data.
func (s *Store) GlobalDateRange(ctx context.Context) (time.Time, time.Time, error) {
	if s == nil || s.pool == nil {
		return time.Time{}, time.Time{}, errors.New("store not initialized")
	}

	const q = `
		SELECT MIN(d), MAX(d) FROM (
			SELECT report_date AS d FROM ad_performance_rows
			UNION ALL
			SELECT report_date AS d FROM business_report_rows
		) all_dates`

	var minDay, maxDay *time.Time
	if err := s.pool.QueryRow(ctx, q).Scan(&minDay, &maxDay); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, time.Time{}, nil
		}
		return time.Time{}, time.Time{}, fmt.Errorf("query global date range: %w", err)
	}
	if minDay == nil || maxDay == nil {
		return time.Time{}, time.Time{}, nil
	}
	return timeutil.TruncateToDay(*minDay, s.loc), timeutil.TruncateToDay(*maxDay, s.loc), nil
}

// numericToFloat parses a Postgres numeric rendered as text. Malformed values
// coerce to 0 rather than erroring, matching the engine's degraded-but-
// displayable policy for numeric fields.
func numericToFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
