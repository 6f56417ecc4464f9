package observability

import (
	"net/http"
	"strconv"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marketlens/trend_reports/internal/config"
)

// Provider owns the prometheus registry and the metrics the service records.
type Provider struct {
	promHandler http.Handler

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec
	reportBuildHist    *promreg.HistogramVec
	cacheCounter       *promreg.CounterVec
}

func Setup(cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableMetrics {
		return nil, nil
	}

	registry := promreg.NewRegistry()
	provider := &Provider{
		promHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}),
	}

	latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
	httpRequests := promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: "trend_reports",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpLatency := promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: "trend_reports",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   latencyBuckets,
		},
		[]string{"method", "route", "status"},
	)
	reportBuild := promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: "trend_reports",
			Name:      "report_build_duration_seconds",
			Help:      "Duration of full report pipeline builds.",
			Buckets:   latencyBuckets,
		},
		[]string{"category"},
	)
	cacheOps := promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: "trend_reports",
			Name:      "row_cache_requests_total",
			Help:      "Row cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	for _, c := range []promreg.Collector{httpRequests, httpLatency, reportBuild, cacheOps} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	provider.httpRequestCounter = httpRequests
	provider.httpRequestLatency = httpLatency
	provider.reportBuildHist = reportBuild
	provider.cacheCounter = cacheOps

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}
	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

// ObserveReportBuild satisfies the report service's BuildObserver.
func (p *Provider) ObserveReportBuild(category string, d time.Duration) {
	if p == nil || p.reportBuildHist == nil {
		return
	}
	p.reportBuildHist.WithLabelValues(category).Observe(d.Seconds())
}

// RecordCacheLookup counts a row-cache lookup outcome ("hit" or "miss").
func (p *Provider) RecordCacheLookup(outcome string) {
	if p == nil || p.cacheCounter == nil {
		return
	}
	p.cacheCounter.WithLabelValues(outcome).Inc()
}
