// Package strategy classifies markets into liquidity tiers and picks
// collection parameters economically per tier, with ranked fallbacks for
// sparse data.
package strategy

import (
	"context"
	"time"
)

// Tier is a coarse liquidity classification for a market.
type Tier string

const (
	TierHigh    Tier = "high_volume"
	TierMedium  Tier = "medium_volume"
	TierLow     Tier = "low_volume"
	TierUnknown Tier = "unknown"
)

const (
	promoteAfter = 5 // consecutive successes
	demoteAfter  = 3 // consecutive failures
)

// Record is the persisted tier state for one market.
type Record struct {
	ChainID              int       `json:"chain_id"`
	Address              string    `json:"address"`
	Tier                 Tier      `json:"tier"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TierStore persists tier records across runs. Implementations may fail;
// callers degrade to in-memory-only state.
type TierStore interface {
	LoadTiers(ctx context.Context, chainID int) (map[string]Record, error)
	SaveTier(ctx context.Context, rec Record) error
}

// promote moves one step up the liquidity ladder.
func promote(t Tier) Tier {
	switch t {
	case TierLow:
		return TierMedium
	case TierMedium, TierUnknown:
		return TierHigh
	default:
		return t
	}
}

// demote moves one step down.
func demote(t Tier) Tier {
	switch t {
	case TierHigh:
		return TierMedium
	case TierMedium, TierUnknown:
		return TierLow
	default:
		return t
	}
}

// recordSuccess applies one successful collection to the counters, promoting
// after promoteAfter consecutive successes.
func (r *Record) recordSuccess(now time.Time) {
	r.ConsecutiveSuccesses++
	r.ConsecutiveFailures = 0
	r.UpdatedAt = now
	if r.ConsecutiveSuccesses >= promoteAfter {
		r.Tier = promote(r.Tier)
		r.ConsecutiveSuccesses = 0
	}
}

// recordFailure applies one failed collection, demoting after demoteAfter
// consecutive failures.
func (r *Record) recordFailure(now time.Time) {
	r.ConsecutiveFailures++
	r.ConsecutiveSuccesses = 0
	r.UpdatedAt = now
	if r.ConsecutiveFailures >= demoteAfter {
		r.Tier = demote(r.Tier)
		r.ConsecutiveFailures = 0
	}
}
