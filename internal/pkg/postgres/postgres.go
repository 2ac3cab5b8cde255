// Package postgres opens the PostgreSQL pool shared by the incident and audit
// stores and applies the embedded schema migrations.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultApplicationName is reported to the server in pg_stat_activity.
const DefaultApplicationName = "orchestrator"

const maxBackoff = 16 * time.Second

// Config contains PostgreSQL connection configuration.
type Config struct {
	URL             string
	ApplicationName string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectAttempts is how many times the pool is opened and pinged before
	// giving up. The database usually starts alongside the service.
	ConnectAttempts int
}

// Connect opens a pool and waits until the server answers a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	attempts := max(cfg.ConnectAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err := open(ctx, poolConfig)
		if err == nil {
			slog.Info("connected to database",
				"host", poolConfig.ConnConfig.Host,
				"database", poolConfig.ConnConfig.Database,
				"attempts", attempt,
			)
			return pool, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		backoff := calcBackoff(attempt)
		slog.Warn("database not ready, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff,
			"error", err,
		)
		if !sleep(ctx, backoff) {
			return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("connect to database after %d attempts: %w", attempts, lastErr)
}

func poolConfig(cfg Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pc.MinConns = int32(min(cfg.MaxIdleConns, int(pc.MaxConns)))
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	name := cfg.ApplicationName
	if name == "" {
		name = DefaultApplicationName
	}
	if _, set := pc.ConnConfig.RuntimeParams["application_name"]; !set {
		pc.ConnConfig.RuntimeParams["application_name"] = name
	}

	return pc, nil
}

func open(ctx context.Context, pc *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// calcBackoff doubles from one second up to maxBackoff.
func calcBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	return min(time.Duration(1<<(attempt-1))*time.Second, maxBackoff)
}

// sleep waits for d unless ctx ends first, in which case it returns false.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
