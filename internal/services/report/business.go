package report

import (
	"context"
	"fmt"

	"github.com/marketlens/trend_reports/internal/models"
	"github.com/marketlens/trend_reports/internal/store"
	"github.com/marketlens/trend_reports/internal/timeutil"
)

// BusinessDataResult carries the account-level business report rows for a
// window together with KPI totals computed from those same rows, so the
// cards can never disagree with the detail they summarize.
type BusinessDataResult struct {
	StartStr string              `json:"start"`
	EndStr   string              `json:"end"`
	Rows     []store.BusinessRow `json:"rows"`
	Kpis     KpiTotals           `json:"kpis"`
}

// BusinessData fetches the account-level rows for the range and derives the
// headline KPIs from them.
func (s *Service) BusinessData(ctx context.Context, rng models.DateRange) (*BusinessDataResult, error) {
	if rng.End.Before(rng.Start) {
		return nil, fmt.Errorf("%w: end precedes start", ErrInvalidRange)
	}
	biz, err := s.source.FetchBusinessRows(ctx, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("fetch business rows: %w", err)
	}

	startKey := timeutil.DayKey(rng.Start, s.loc)
	endKey := timeutil.DayKey(rng.End, s.loc)

	rows := make([]models.RawRow, 0, len(biz))
	for _, b := range biz {
		rows = append(rows, models.RawRow{
			Date:       b.Date,
			EntityName: b.ParentASIN,
			Category:   models.CategoryProducts,
			TotalSales: b.Sales,
			Sessions:   b.Sessions,
			PageViews:  b.PageViews,
			Orders:     b.Units,
		})
	}
	kpis := ComputeKpis(rows, models.CategoryProducts, startKey, endKey)

	return &BusinessDataResult{
		StartStr: startKey,
		EndStr:   endKey,
		Rows:     biz,
		Kpis:     kpis,
	}, nil
}
