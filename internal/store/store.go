// Package store is the pipeline's sole storage layer: a thin wrapper
// around a pgx connection pool, plus one file per owned aggregate
// (infrastructures, points, jobs, the durable job queue, deformations).
// Every other component receives a *Store (or a narrower interface
// carved from it) at construction time instead of reaching for a global
// connection.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool. All per-aggregate files in this
// package are methods on Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool against dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse storage dsn: %w", err)
	}
	poolCfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create storage pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping storage: %w", err)
	}
	return &Store{pool: pool}, nil
}

// FromPool wraps an already-constructed pool, used by tests that set up
// their own pgxpool against a test database.
func FromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for components that need raw
// transaction control beyond what Store's per-aggregate methods offer
// (the orchestrator's advisory-lock poll step, in particular).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping verifies the storage pool is still reachable, for the worker's
// readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
