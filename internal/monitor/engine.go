// Package monitor orchestrates the per-chain analysis cycle: fetch active
// markets, collect and analyze each one with bounded concurrency, then
// deliver deduplicated alerts for anomalous yield declines.
package monitor

import (
	"context"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/web3-frozen/pendle-monitor/internal/analyzer"
	"github.com/web3-frozen/pendle-monitor/internal/collector"
	"github.com/web3-frozen/pendle-monitor/internal/metrics"
	"github.com/web3-frozen/pendle-monitor/internal/pendle"
	"github.com/web3-frozen/pendle-monitor/internal/strategy"
)

const (
	// marketConcurrency bounds simultaneous market analyses per chain to
	// stay under the upstream rate limit.
	marketConcurrency = 2

	batchSize       = 10
	batchDelay      = 5 * time.Second
	batchDelayJit   = 2 * time.Second
	chainDelayMin   = 10 * time.Second
	chainDelayRange = 5 * time.Second
)

// ChainGateway is the per-chain slice of the Pendle API the engine needs.
type ChainGateway interface {
	ActiveMarkets(ctx context.Context) ([]pendle.Market, error)
	TransactionsPage(ctx context.Context, req pendle.PageRequest) (*pendle.TransactionsPage, error)
	Stats() pendle.Stats
}

// GatewayFactory builds a gateway for one chain.
type GatewayFactory func(chainID int) ChainGateway

// Alerter delivers a batch of anomalous analyses.
type Alerter interface {
	Enabled() bool
	SendAlerts(ctx context.Context, chainID int, alerts []analyzer.Analysis) error
}

// DedupCache suppresses repeat notifications within a time window.
// Implementations fail open.
type DedupCache interface {
	ShouldNotify(ctx context.Context, chainID int, marketAddr string) bool
	RecordNotified(ctx context.Context, chainID int, marketAddr, marketName string)
}

// ChainSummary is the outcome of one chain's analysis cycle.
type ChainSummary struct {
	ChainID      int                 `json:"chain_id"`
	ChainName    string              `json:"chain_name"`
	Markets      int                 `json:"markets"`
	Analyzed     int                 `json:"analyzed"`
	Anomalous    int                 `json:"anomalous"`
	Alerted      int                 `json:"alerted"`
	Deduplicated int                 `json:"deduplicated"`
	StartedAt    time.Time           `json:"started_at"`
	Duration     time.Duration       `json:"duration"`
	Gateway      pendle.Stats        `json:"gateway"`
	Top          []analyzer.Analysis `json:"top,omitempty"`
	// Results holds every market's analysis, zero-valued entries included,
	// so unanalyzable markets are visible in the report.
	Results []analyzer.Analysis `json:"results,omitempty"`
}

// Engine runs the analysis cycle over one or more chains.
type Engine struct {
	gateways GatewayFactory
	tiers    strategy.TierStore // nil disables tier persistence
	dedup    DedupCache         // nil disables dedup
	alerter  Alerter
	an       *analyzer.Analyzer
	logger   *slog.Logger
	now      func() time.Time
	rng      *rand.Rand
	sleep    func(ctx context.Context, d time.Duration)

	mu      sync.RWMutex
	lastRun map[int]*ChainSummary
}

func NewEngine(gateways GatewayFactory, an *analyzer.Analyzer, alerter Alerter, dedup DedupCache, tiers strategy.TierStore, logger *slog.Logger) *Engine {
	return &Engine{
		gateways: gateways,
		tiers:    tiers,
		dedup:    dedup,
		alerter:  alerter,
		an:       an,
		logger:   logger,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    sleepCtx,
		lastRun:  make(map[int]*ChainSummary),
	}
}

// WithClock overrides the engine's clock and disables inter-batch pauses
// (used in tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.sleep = func(context.Context, time.Duration) {}
	return e
}

// LastRuns returns the most recent summary per chain, sorted by chain id.
func (e *Engine) LastRuns() []ChainSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ChainSummary, 0, len(e.lastRun))
	for _, s := range e.lastRun {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// RunChain executes one full analysis cycle for a chain. A market-list
// failure aborts the chain; individual market failures degrade to
// zero-valued analyses.
func (e *Engine) RunChain(ctx context.Context, chainID int) (*ChainSummary, error) {
	start := e.now()
	chain := strconv.Itoa(chainID)
	log := e.logger.With("chain_id", chainID, "chain", pendle.ChainName(chainID))

	gw := e.gateways(chainID)
	markets, err := gw.ActiveMarkets(ctx)
	if err != nil {
		log.Error("fetch active markets failed", "error", err)
		return nil, err
	}
	log.Info("analysis cycle started", "markets", len(markets))

	col := collector.New(gw, log)
	sel := strategy.NewSelector(ctx, chainID, col, e.tiers, log)

	analyses := e.analyzeMarkets(ctx, chain, log, sel, markets)

	anomalous := make([]analyzer.Analysis, 0)
	for _, a := range analyses {
		if a.DeclineExceedsAverage {
			anomalous = append(anomalous, a)
		}
	}
	sort.Slice(anomalous, func(i, j int) bool {
		return anomalous[i].LatestDailyDeclineRate < anomalous[j].LatestDailyDeclineRate
	})

	alerted, deduped := e.notify(ctx, chainID, chain, log, anomalous)

	summary := &ChainSummary{
		ChainID:      chainID,
		ChainName:    pendle.ChainName(chainID),
		Markets:      len(markets),
		Analyzed:     len(analyses),
		Anomalous:    len(anomalous),
		Alerted:      alerted,
		Deduplicated: deduped,
		StartedAt:    start,
		Duration:     e.now().Sub(start),
		Gateway:      gw.Stats(),
		Top:          topDecliners(analyses, 5),
		Results:      sortedResults(analyses),
	}
	e.mu.Lock()
	e.lastRun[chainID] = summary
	e.mu.Unlock()

	metrics.AnalysisDuration.WithLabelValues(chain).Observe(summary.Duration.Seconds())
	log.Info("analysis cycle finished",
		"analyzed", summary.Analyzed,
		"anomalous", summary.Anomalous,
		"alerted", summary.Alerted,
		"deduplicated", summary.Deduplicated,
		"duration", summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// analyzeMarkets fans markets out to a bounded worker pool, pausing between
// batches to spread upstream load.
func (e *Engine) analyzeMarkets(ctx context.Context, chain string, log *slog.Logger, sel *strategy.Selector, markets []pendle.Market) []analyzer.Analysis {
	analyses := make([]analyzer.Analysis, len(markets))

	for base := 0; base < len(markets); base += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := base + batchSize
		if end > len(markets) {
			end = len(markets)
		}

		sem := make(chan struct{}, marketConcurrency)
		var wg sync.WaitGroup
		for i := base; i < end; i++ {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				analyses[i] = e.analyzeOne(ctx, chain, log, sel, markets[i])
			}(i)
		}
		wg.Wait()

		if end < len(markets) {
			e.sleep(ctx, batchDelay+time.Duration(e.rng.Int63n(int64(batchDelayJit))))
		}
	}
	return analyses
}

func (e *Engine) analyzeOne(ctx context.Context, chain string, log *slog.Logger, sel *strategy.Selector, market pendle.Market) (a analyzer.Analysis) {
	// A panic in collection or analysis takes down only this market, not
	// the process.
	defer func() {
		if r := recover(); r != nil {
			log.Error("market analysis panicked",
				"market", market.Name, "panic", r, "stack", string(debug.Stack()))
			metrics.MarketsAnalyzedTotal.WithLabelValues(chain, "panic").Inc()
			a = analyzer.Zero(market)
		}
	}()

	txs := sel.CollectOptimized(ctx, market)
	metrics.CollectedTransactions.WithLabelValues(chain).Observe(float64(len(txs)))

	a = e.an.Analyze(market, txs)
	status := "ok"
	switch {
	case a.TransactionCount == 0:
		status = "empty"
	case a.DeclineExceedsAverage:
		status = "anomalous"
	}
	metrics.MarketsAnalyzedTotal.WithLabelValues(chain, status).Inc()

	log.Debug("market analyzed",
		"market", market.Name,
		"txs", a.TransactionCount,
		"avg_decline", a.AverageDeclineRate,
		"latest_decline", a.LatestDailyDeclineRate,
		"anomalous", a.DeclineExceedsAverage)
	return a
}

// notify filters the anomalous set through the dedup cache and delivers the
// survivors in one batch. Markets are recorded as notified only after the
// send succeeds.
func (e *Engine) notify(ctx context.Context, chainID int, chain string, log *slog.Logger, anomalous []analyzer.Analysis) (alerted, deduped int) {
	if len(anomalous) == 0 {
		return 0, 0
	}

	fresh := make([]analyzer.Analysis, 0, len(anomalous))
	for _, a := range anomalous {
		if e.dedup != nil && !e.dedup.ShouldNotify(ctx, chainID, a.Market.Address) {
			deduped++
			metrics.AlertsDeduplicatedTotal.WithLabelValues(chain).Inc()
			continue
		}
		fresh = append(fresh, a)
	}
	if len(fresh) == 0 {
		log.Info("all anomalies suppressed by dedup window", "suppressed", deduped)
		return 0, deduped
	}

	if e.alerter == nil || !e.alerter.Enabled() {
		log.Warn("alerting disabled, anomalies not delivered", "count", len(fresh))
		return 0, deduped
	}

	if err := e.alerter.SendAlerts(ctx, chainID, fresh); err != nil {
		log.Error("alert delivery failed", "count", len(fresh), "error", err)
		metrics.AlertsFailedTotal.WithLabelValues(chain).Inc()
		return 0, deduped
	}

	for _, a := range fresh {
		if e.dedup != nil {
			e.dedup.RecordNotified(ctx, chainID, a.Market.Address, a.Market.Name)
		}
		metrics.AlertsSentTotal.WithLabelValues(chain).Inc()
	}
	return len(fresh), deduped
}

// RunAll analyzes every known chain sequentially in ascending id order,
// pausing between chains. A failed chain does not abort the rest.
func (e *Engine) RunAll(ctx context.Context) []ChainSummary {
	ids := make([]int, 0, len(pendle.ChainNames))
	for id := range pendle.ChainNames {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	summaries := make([]ChainSummary, 0, len(ids))
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		s, err := e.RunChain(ctx, id)
		if err == nil {
			summaries = append(summaries, *s)
		}
		if i < len(ids)-1 {
			e.sleep(ctx, chainDelayMin+time.Duration(e.rng.Int63n(int64(chainDelayRange))))
		}
	}
	return summaries
}

// Run executes cycles periodically until the context is cancelled. chainID 0
// means all chains.
func (e *Engine) Run(ctx context.Context, chainID int, interval time.Duration) {
	e.runOnce(ctx, chainID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runOnce(ctx, chainID)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context, chainID int) {
	if chainID == 0 {
		e.RunAll(ctx)
		return
	}
	_, _ = e.RunChain(ctx, chainID)
}

// sortedResults orders a full analysis set for reporting: markets with data
// by steepest average decline first, then markets that could not be analyzed.
func sortedResults(analyses []analyzer.Analysis) []analyzer.Analysis {
	out := make([]analyzer.Analysis, len(analyses))
	copy(out, analyses)
	sort.SliceStable(out, func(i, j int) bool {
		if (out[i].TransactionCount == 0) != (out[j].TransactionCount == 0) {
			return out[j].TransactionCount == 0
		}
		return out[i].AverageDeclineRate < out[j].AverageDeclineRate
	})
	return out
}

func topDecliners(analyses []analyzer.Analysis, n int) []analyzer.Analysis {
	withData := make([]analyzer.Analysis, 0, len(analyses))
	for _, a := range analyses {
		if a.TransactionCount > 0 {
			withData = append(withData, a)
		}
	}
	sort.Slice(withData, func(i, j int) bool {
		return withData[i].AverageDeclineRate < withData[j].AverageDeclineRate
	})
	if len(withData) > n {
		withData = withData[:n]
	}
	return withData
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
