package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// historyMaxConns bounds the pool. The only writer is the call-history
// recorder, one short insert or update per lifecycle notification, so a
// handful of connections covers it.
const historyMaxConns = 4

// NewPostgresPool creates the pgx connection pool backing the call-history
// recorder.
func NewPostgresPool(ctx context.Context, dsn string, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	config.MaxConns = historyMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("call-history database connected", zap.Int32("max_conns", config.MaxConns))
	return pool, nil
}
