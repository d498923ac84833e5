// Package repository provides database access layer.
package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema.sql
var schemaSQL string

// PoolConfig configures the PostgreSQL connection pool.
type PoolConfig struct {
	DatabaseURL string
	// User and Password override the credentials in DatabaseURL when set.
	User     string
	Password string
	MinConns int32
	MaxConns int32
}

// Pool owns the process-wide connection pool.
// It is constructed once at startup and handed to repositories explicitly.
type Pool struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// New creates a connection pool and verifies connectivity.
func New(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.User != "" {
		config.ConnConfig.User = cfg.User
	}
	if cfg.Password != "" {
		config.ConnConfig.Password = cfg.Password
	}

	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{
		pool: pool,
		db:   stdlib.OpenDBFromPool(pool),
	}, nil
}

// EnsureSchema creates the users table if it does not exist yet.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// DB returns a database/sql view backed by the pool.
// Connections taken from it are returned to the same pool.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Pgx returns the underlying pgx pool.
func (p *Pool) Pgx() *pgxpool.Pool {
	return p.pool
}

// Close releases every pooled connection.
func (p *Pool) Close() {
	_ = p.db.Close()
	p.pool.Close()
}
