package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/marketlens/trend_reports/internal/config"
)

// Prober verifies the backing stores are reachable before the service starts
// taking traffic. Each dependency gets a bounded number of attempts with a
// fixed delay between them.
type Prober struct {
	pool   *pgxpool.Pool
	client *redis.Client
	logger *slog.Logger

	attempts int
	delay    time.Duration
	timeout  time.Duration
}

func NewProber(pool *pgxpool.Pool, client *redis.Client, cfg config.HealthConfig, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.ProbeAttempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := cfg.ProbeDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{
		pool:     pool,
		client:   client,
		logger:   logger,
		attempts: attempts,
		delay:    delay,
		timeout:  timeout,
	}
}

// Wait blocks until both stores answer a ping or the attempt budget runs out.
func (p *Prober) Wait(ctx context.Context) error {
	if p.pool != nil {
		if err := p.probe(ctx, "postgres", func(ctx context.Context) error {
			return p.pool.Ping(ctx)
		}); err != nil {
			return err
		}
	}
	if p.client != nil {
		if err := p.probe(ctx, "redis", func(ctx context.Context) error {
			return p.client.Ping(ctx).Err()
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Prober) probe(ctx context.Context, name string, ping func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		lastErr = ping(probeCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		p.logger.Warn("dependency probe failed",
			"dependency", name, "attempt", attempt, "max_attempts", p.attempts, "error", lastErr)
		if attempt == p.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay):
		}
	}
	return fmt.Errorf("%s unreachable after %d attempts: %w", name, p.attempts, lastErr)
}
