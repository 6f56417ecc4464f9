package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/marketlens/trend_reports/internal/cache"
	"github.com/marketlens/trend_reports/internal/config"
	"github.com/marketlens/trend_reports/internal/observability"
	reportsvc "github.com/marketlens/trend_reports/internal/services/report"
	"github.com/marketlens/trend_reports/internal/store"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config            *config.Config
	DBPool            *pgxpool.Pool
	Redis             *redis.Client
	Store             *store.Store
	RowCache          *cache.RowCache
	Reports           *reportsvc.Service
	Observability     *observability.Provider
	ReportingLocation *time.Location
}

// NewContainer builds a dependency container from the provided primitives.
func NewContainer(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	loc := cfg.Location()

	obs, err := observability.Setup(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	rowStore := store.New(pool, loc)
	rowCache := cache.New(redisClient, cfg.Cache.KeyPrefix, cfg.Cache.TTL,
		cfg.Cache.MaxEntries, cfg.Cache.EvictionBatch, loc)

	var metrics reportsvc.BuildObserver
	if obs != nil {
		metrics = obs
	}
	reports, err := reportsvc.NewService(reportsvc.Options{
		Source:           rowStore,
		Cache:            rowCache,
		Logger:           slog.Default(),
		Location:         loc,
		ExcludePartial:   cfg.Reporting.ExcludePartial,
		LifetimeStart:    cfg.Reporting.LifetimeStart,
		DefaultRangeDays: cfg.Reporting.DefaultRangeDays,
		Metrics:          metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("init report service: %w", err)
	}

	return &Container{
		Config:            cfg,
		DBPool:            pool,
		Redis:             redisClient,
		Store:             rowStore,
		RowCache:          rowCache,
		Reports:           reports,
		Observability:     obs,
		ReportingLocation: loc,
	}, nil
}
