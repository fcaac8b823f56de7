package pg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"delayd/pkg/retry"
)

// WaitOptions controls how long Open waits for the database to come up.
type WaitOptions struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Pool            PoolOptions
	Logger          *slog.Logger
}

// DefaultWaitOptions retries for roughly a minute.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		MaxAttempts:     8,
		InitialInterval: time.Second,
		MaxInterval:     15 * time.Second,
		Pool:            DefaultPoolOptions(),
	}
}

// Open creates a pool, retrying with exponential backoff while the server is
// unreachable. Used at startup, when the database container may still be
// booting.
func Open(ctx context.Context, dsn string, opts WaitOptions) (*pgxpool.Pool, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := retry.Config{
		MaxAttempts:    opts.MaxAttempts,
		InitialDelay:   opts.InitialInterval,
		MaxDelay:       opts.MaxInterval,
		Multiplier:     2,
		JitterStrategy: retry.JitterEqual,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.Warn("postgres not ready", "attempt", attempt, "retry_in", delay, "error", err)
		},
	}

	var pool *pgxpool.Pool
	err := retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		p, err := NewPoolWithOptions(ctx, dsn, opts.Pool)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}, retry.AnyError)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// HealthCheck pings pool and runs a trivial query.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health query: %w", err)
	}
	return nil
}
