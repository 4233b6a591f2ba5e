package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	applicationName        = "escrow"
	minPoolConns           = 16
	defaultMaxConnIdleTime = 5 * time.Minute
	postgresPingTimeout    = 5 * time.Second
)

// NewPostgresPool opens the ledger database pool.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(url)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := verify(ctx, "postgres", postgresPingTimeout, pool.Ping, pool.Close); err != nil {
		return nil, err
	}
	return pool, nil
}

func poolConfig(url string) (*pgxpool.Config, error) {
	if url == "" {
		return nil, errors.New("database url is required")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.ConnConfig.RuntimeParams["application_name"] == "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	// Each money movement holds a connection for its whole transaction.
	if cfg.MaxConns < minPoolConns {
		cfg.MaxConns = minPoolConns
	}
	cfg.MaxConnIdleTime = defaultMaxConnIdleTime
	return cfg, nil
}
