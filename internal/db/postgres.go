package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolOptions sizes the connection pool. Zero values fall back to the
// defaults below.
type PoolOptions struct {
	URL      string
	MaxConns int32
	MinConns int32
}

const (
	defaultMaxConns = 25
	defaultMinConns = 5

	healthTimeout = 2 * time.Second
)

// DB owns the pgx pool shared by the conversation, user and group stores.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New opens the pool and verifies it with a ping. Appends hold a
// connection only for one short transaction and group fanout reads
// membership per event, so a small warm pool covers both paths.
func New(ctx context.Context, opts PoolOptions, logger *zap.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = defaultMaxConns
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MinConns = defaultMinConns
	if opts.MinConns > 0 {
		cfg.MinConns = min(opts.MinConns, cfg.MaxConns)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 20 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", cfg.ConnConfig.Host, err)
	}

	logger.Info("postgres pool ready",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
	)
	return &DB{pool: pool, logger: logger}, nil
}

func (db *DB) Close() {
	stat := db.pool.Stat()
	db.logger.Info("closing postgres pool",
		zap.Int32("acquired", stat.AcquiredConns()),
		zap.Int64("acquire_count", stat.AcquireCount()),
	)
	db.pool.Close()
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Health pings with a short deadline so a hung database fails the
// readiness check instead of blocking it.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	return nil
}
