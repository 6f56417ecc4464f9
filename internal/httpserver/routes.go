package httpserver

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/marketlens/trend_reports/internal/app"
	"github.com/marketlens/trend_reports/internal/httpserver/httputil"
	"github.com/marketlens/trend_reports/internal/models"
	reportsvc "github.com/marketlens/trend_reports/internal/services/report"
	"github.com/marketlens/trend_reports/internal/timeutil"
)

func registerAPIRoutes(fiberApp *fiber.App, container *app.Container) {
	h := &apiHandlers{container: container}

	api := fiberApp.Group("/api")
	api.Get("/trend-reports", h.trendReports)
	api.Get("/business-data", h.businessData)
	api.Get("/self-test", h.selfTest)
}

type apiHandlers struct {
	container *app.Container
}

func (h *apiHandlers) trendReports(c *fiber.Ctx) error {
	req := reportsvc.ReportRequest{
		Category:          models.Category(c.Query("category", string(models.CategoryProducts))),
		Granularity:       models.Granularity(c.Query("granularity")),
		Order:             models.SortOrder(c.Query("order")),
		StartStr:          c.Query("start"),
		EndStr:            c.Query("end"),
		Preset:            c.Query("preset"),
		SelectedEntities:  splitList(c.Query("entities")),
		SelectedCampaigns: splitList(c.Query("campaigns")),
	}

	result, err := h.container.Reports.BuildReport(c.Context(), req)
	if err != nil {
		return writeReportError(c, err)
	}
	return c.JSON(result)
}

func (h *apiHandlers) businessData(c *fiber.Ctx) error {
	rng, err := h.resolveRange(c)
	if err != nil {
		return writeReportError(c, err)
	}
	result, err := h.container.Reports.BusinessData(c.Context(), rng)
	if err != nil {
		return writeReportError(c, err)
	}
	return c.JSON(result)
}

func (h *apiHandlers) selfTest(c *fiber.Ctx) error {
	category := models.Category(c.Query("category", string(models.CategoryProducts)))
	rng, err := h.resolveRange(c)
	if err != nil {
		return writeReportError(c, err)
	}
	result, err := h.container.Reports.SelfTest(c.Context(), category, rng)
	if err != nil {
		return writeReportError(c, err)
	}
	return c.JSON(result)
}

func (h *apiHandlers) resolveRange(c *fiber.Ctx) (models.DateRange, error) {
	if preset := c.Query("preset"); preset != "" {
		return h.container.Reports.ResolvePreset(c.Context(), preset)
	}

	loc := h.container.ReportingLocation
	start, err := timeutil.ParseDay(c.Query("start"), loc)
	if err != nil {
		return models.DateRange{}, reportsvc.ErrInvalidRange
	}
	end, err := timeutil.ParseDay(c.Query("end"), loc)
	if err != nil {
		return models.DateRange{}, reportsvc.ErrInvalidRange
	}
	return models.DateRange{Start: start, End: end}, nil
}

func writeReportError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, reportsvc.ErrInvalidCategory),
		errors.Is(err, reportsvc.ErrInvalidGranularity),
		errors.Is(err, reportsvc.ErrInvalidRange),
		errors.Is(err, reportsvc.ErrUnknownPreset):
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, reportsvc.ErrSuperseded):
		return httputil.WriteError(c, fiber.StatusConflict, err.Error())
	}
	return httputil.WriteError(c, fiber.StatusInternalServerError, "internal server error")
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
