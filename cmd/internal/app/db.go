package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// newDBPool returns a pool constructor for audit.Open bound to the configured pool bounds.
func newDBPool(cfg Config) func(context.Context, string) (*pgxpool.Pool, error) {
	return func(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
		return NewDBPool(ctx, dsn, cfg.DBMaxConns, cfg.DBMinConns)
	}
}

// NewDBPool builds a pgxpool and validates connectivity.
// The audit store creates its own table; there is no separate migration step.
func NewDBPool(ctx context.Context, dsn string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		pcfg.MaxConns = maxConns
	}
	if minConns >= 0 {
		pcfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
