// Package persistence selects the queue and token stores for the configured driver.
package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/kinexsync/internal/config"
	"example.com/kinexsync/internal/domain"
	"example.com/kinexsync/internal/persistence/memory"
	"example.com/kinexsync/internal/persistence/postgres"
	"example.com/kinexsync/internal/persistence/sqlite"
)

// Stores bundles the queue and credential stores backed by one database.
type Stores struct {
	Queue  domain.QueueStore
	Tokens domain.TokenStore
	close  func() error
}

// Close releases the underlying database handle.
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open builds the stores for cfg.QueueDriver.
func Open(ctx context.Context, cfg config.Config) (*Stores, error) {
	switch cfg.QueueDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Stores{Queue: store, Tokens: store.Tokens(), close: store.Close}, nil
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &Stores{
			Queue:  postgres.NewRepository(pool),
			Tokens: postgres.NewTokenStore(pool),
			close:  func() error { pool.Close(); return nil },
		}, nil
	case config.DriverMemory:
		return &Stores{Queue: memory.NewStore(), Tokens: memory.NewTokenStore(domain.Tokens{})}, nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
	}
}

// SeedTokens stores tokens when the store holds none, so a fresh device can start syncing.
func SeedTokens(ctx context.Context, store domain.TokenStore, tokens domain.Tokens) error {
	if tokens.Empty() {
		return nil
	}
	current, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if !current.Empty() {
		return nil
	}
	return store.Save(ctx, tokens)
}
