package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/web3-frozen/pendle-monitor/internal/collector"
	"github.com/web3-frozen/pendle-monitor/internal/pendle"
)

// lowVolumeThreshold is the row count below which a collection is considered
// insufficient and fallbacks are tried.
const lowVolumeThreshold = 10

// OptimizationStrategy is the per-tier collection parameter set.
type OptimizationStrategy struct {
	Name       string
	MaxRows    int
	DaysBack   int
	SampleRate float64
	Retries    int
}

// strategyFor returns the collection parameters for a tier. High-volume
// markets get a small lookback and heavy sampling to bound cost; low-volume
// markets get full collection.
func strategyFor(tier Tier) OptimizationStrategy {
	switch tier {
	case TierHigh:
		return OptimizationStrategy{Name: "high_volume_optimized", MaxRows: 500, DaysBack: 30, SampleRate: 0.25, Retries: 3}
	case TierLow:
		return OptimizationStrategy{Name: "low_volume_complete", MaxRows: 2000, DaysBack: 120, SampleRate: 1.0, Retries: 6}
	default: // medium and unknown
		return OptimizationStrategy{Name: "medium_volume_balanced", MaxRows: 800, DaysBack: 60, SampleRate: 0.5, Retries: 4}
	}
}

// fallbackSource names an alternate collection approach tried when the
// primary yields too few rows.
type fallbackSource string

const (
	sourceRecentOnly   fallbackSource = "recent_only"
	sourceSampled      fallbackSource = "sampled"
	sourcePriceDerived fallbackSource = "price_derived"
)

func fallbacksFor(tier Tier) []fallbackSource {
	switch tier {
	case TierHigh:
		return []fallbackSource{sourceRecentOnly, sourceSampled, sourcePriceDerived}
	case TierLow:
		return []fallbackSource{sourceRecentOnly}
	default:
		return []fallbackSource{sourceRecentOnly, sourceSampled}
	}
}

// adaptForSource tweaks a strategy for a fallback source.
func adaptForSource(s OptimizationStrategy, src fallbackSource) OptimizationStrategy {
	switch src {
	case sourceRecentOnly:
		if s.DaysBack > 7 {
			s.DaysBack = 7
		}
		s.MaxRows = s.MaxRows * 3 / 2
	case sourceSampled:
		s.SampleRate = s.SampleRate * 0.5
		if s.SampleRate < 0.1 {
			s.SampleRate = 0.1
		}
	}
	s.Name = s.Name + "_" + string(src)
	return s
}

// TxCollector is the slice of the collector the selector needs.
type TxCollector interface {
	Collect(ctx context.Context, marketAddr string, p collector.Params) ([]pendle.Transaction, error)
}

// Selector wraps a collector with tier classification, retries, and ranked
// fallbacks. CollectOptimized never fails: it always returns best-effort
// data, possibly empty. Safe for concurrent use by the engine's workers.
type Selector struct {
	chainID int
	col     TxCollector
	store   TierStore // nil disables persistence
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	tiers map[string]*Record
}

// NewSelector creates a Selector, loading persisted tier state when a store
// is available. Store failures degrade to in-memory-only state.
func NewSelector(ctx context.Context, chainID int, col TxCollector, store TierStore, logger *slog.Logger) *Selector {
	s := &Selector{
		chainID: chainID,
		col:     col,
		store:   store,
		logger:  logger,
		now:     time.Now,
		tiers:   make(map[string]*Record),
	}
	if store != nil {
		loaded, err := store.LoadTiers(ctx, chainID)
		if err != nil {
			logger.Warn("tier state unavailable, starting fresh", "chain_id", chainID, "error", err)
		} else {
			for addr, rec := range loaded {
				r := rec
				s.tiers[addr] = &r
			}
			logger.Info("tier state loaded", "chain_id", chainID, "markets", len(loaded))
		}
	}
	return s
}

// WithClock overrides the selector's clock (used in tests).
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// TierOf returns the current tier classification for a market address.
func (s *Selector) TierOf(addr string) Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.tiers[addr]; ok && rec.Tier != "" {
		return rec.Tier
	}
	return TierUnknown
}

// CollectOptimized gathers transactions for a market using its tier's
// strategy, falling through the tier's ranked alternate sources when the
// primary yields fewer than the low-volume threshold.
func (s *Selector) CollectOptimized(ctx context.Context, market pendle.Market) []pendle.Transaction {
	tier := s.TierOf(market.Address)
	strat := strategyFor(tier)
	s.logger.Debug("collection strategy selected", "market", market.Name, "tier", tier, "strategy", strat.Name)

	txs := s.tryCollect(ctx, market.Address, strat)
	if len(txs) >= lowVolumeThreshold {
		s.record(ctx, market.Address, tier, true)
		return txs
	}

	for _, src := range fallbacksFor(tier) {
		if ctx.Err() != nil {
			break
		}
		if src == sourcePriceDerived {
			// Synthetic price-derived points are a documented stub: the
			// price endpoints carry no per-trade APY, so fabricating rows
			// would poison the decline estimate. Returns nothing.
			s.logger.Debug("price-derived fallback is a stub", "market", market.Name)
			continue
		}

		adapted := adaptForSource(strat, src)
		s.logger.Debug("trying fallback source", "market", market.Name, "source", src)
		got := s.tryCollect(ctx, market.Address, adapted)
		if len(got) > len(txs) {
			txs = got
		}
		if len(txs) >= lowVolumeThreshold {
			s.record(ctx, market.Address, tier, true)
			return txs
		}
	}

	s.record(ctx, market.Address, tier, false)
	return txs
}

// tryCollect runs the collector with a strategy's parameters, retrying up to
// the strategy's cap. Failures return whatever was collected (possibly nil).
func (s *Selector) tryCollect(ctx context.Context, addr string, strat OptimizationStrategy) []pendle.Transaction {
	params := collector.Params{
		MaxRows:    strat.MaxRows,
		DaysBack:   strat.DaysBack,
		SampleRate: strat.SampleRate,
	}

	var txs []pendle.Transaction
	var err error
	for attempt := 0; attempt < strat.Retries; attempt++ {
		if ctx.Err() != nil {
			return txs
		}
		txs, err = s.col.Collect(ctx, addr, params)
		if err == nil {
			return txs
		}
		s.logger.Warn("collection attempt failed", "market", addr, "strategy", strat.Name, "attempt", attempt+1, "error", err)
	}
	return txs
}

// record updates the success/failure counters for a market and persists the
// mutation when a store is configured. The counter update happens under the
// selector's lock; the store write uses a snapshot taken inside it.
func (s *Selector) record(ctx context.Context, addr string, tier Tier, success bool) {
	s.mu.Lock()
	rec, ok := s.tiers[addr]
	if !ok {
		rec = &Record{ChainID: s.chainID, Address: addr, Tier: tier}
		s.tiers[addr] = rec
	}
	if rec.Tier == "" || rec.Tier == TierUnknown {
		// Unknown markets start on the medium (default) rung.
		rec.Tier = TierMedium
	}

	if success {
		rec.recordSuccess(s.now())
	} else {
		rec.recordFailure(s.now())
	}
	snapshot := *rec
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveTier(ctx, snapshot); err != nil {
			s.logger.Warn("tier persist failed", "market", addr, "error", err)
		}
	}
}
