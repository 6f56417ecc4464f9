package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marketlens/trend_reports/internal/app"
	"github.com/marketlens/trend_reports/internal/config"
	"github.com/marketlens/trend_reports/internal/database"
	"github.com/marketlens/trend_reports/internal/health"
	"github.com/marketlens/trend_reports/internal/httpserver"
	"github.com/marketlens/trend_reports/internal/redisclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := database.RunMigrations(ctx, cfg.Database); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	dbPool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer dbPool.Close()

	redisClient := redisclient.New(cfg.Redis)
	defer redisClient.Close()

	prober := health.NewProber(dbPool, redisClient, cfg.Health, slog.Default())
	if err := prober.Wait(ctx); err != nil {
		log.Fatalf("dependency probe: %v", err)
	}

	container, err := app.NewContainer(cfg, dbPool, redisClient)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}

	if removed := container.RowCache.EvictExpired(ctx); removed > 0 {
		slog.Info("evicted expired row cache entries", "count", removed)
	}

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	if err := server.Listen(ctx); err != nil && err != context.Canceled {
		log.Fatalf("server stopped: %v", err)
	}
}
