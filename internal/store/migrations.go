package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS market_tiers (
    chain_id INT NOT NULL,
    address TEXT NOT NULL,
    tier TEXT NOT NULL DEFAULT 'medium_volume',
    consecutive_successes INT NOT NULL DEFAULT 0,
    consecutive_failures INT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (chain_id, address)
);

CREATE INDEX IF NOT EXISTS idx_market_tiers_updated ON market_tiers (updated_at);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
