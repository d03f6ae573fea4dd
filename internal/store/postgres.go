// Package store persists market tier state in Postgres so the tiered
// collection optimizer keeps its classifications across runs.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3-frozen/pendle-monitor/internal/strategy"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// LoadTiers returns the tier records for every market on a chain, keyed by
// market address.
func (s *Store) LoadTiers(ctx context.Context, chainID int) (map[string]strategy.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, address, tier, consecutive_successes, consecutive_failures, updated_at
		FROM market_tiers
		WHERE chain_id = $1`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tiers := make(map[string]strategy.Record)
	for rows.Next() {
		var r strategy.Record
		var tier string
		if err := rows.Scan(&r.ChainID, &r.Address, &tier, &r.ConsecutiveSuccesses, &r.ConsecutiveFailures, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Tier = strategy.Tier(tier)
		tiers[r.Address] = r
	}
	return tiers, rows.Err()
}

// SaveTier upserts one market's tier record.
func (s *Store) SaveTier(ctx context.Context, rec strategy.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO market_tiers (chain_id, address, tier, consecutive_successes, consecutive_failures, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chain_id, address) DO UPDATE
			SET tier = $3, consecutive_successes = $4, consecutive_failures = $5, updated_at = $6`,
		rec.ChainID, rec.Address, string(rec.Tier), rec.ConsecutiveSuccesses, rec.ConsecutiveFailures, rec.UpdatedAt)
	return err
}

// CountTiers returns how many markets on a chain hold each tier.
func (s *Store) CountTiers(ctx context.Context, chainID int) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tier, COUNT(*) FROM market_tiers WHERE chain_id = $1 GROUP BY tier`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		counts[tier] = n
	}
	return counts, rows.Err()
}
