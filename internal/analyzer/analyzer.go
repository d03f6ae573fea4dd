// Package analyzer computes per-market yield-decline metrics from a set of
// collected transactions. All functions are pure over their inputs.
package analyzer

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/web3-frozen/pendle-monitor/internal/pendle"
)

// Policy holds the analysis thresholds. A single policy replaces the
// fast/general analyzer split of earlier revisions of this tool.
type Policy struct {
	// MinTransactions below which the result is zero-valued.
	MinTransactions int
	// AccelMultiplier is the relative-acceleration condition: the recent
	// daily rate must exceed the historical average by this factor.
	AccelMultiplier float64
	// AccelFloor is the absolute magnitude (percent/day) the recent rate
	// must also exceed, suppressing noise from near-zero averages.
	AccelFloor float64
}

// DefaultPolicy matches the operator's production thresholds.
var DefaultPolicy = Policy{
	MinTransactions: 5,
	AccelMultiplier: 1.5,
	AccelFloor:      5.0,
}

// Analysis is the per-market result of one analysis pass.
type Analysis struct {
	Market                 pendle.Market `json:"market"`
	CurrentYTPrice         float64       `json:"current_yt_price"`
	AverageDeclineRate     float64       `json:"average_decline_rate"`
	LatestDailyDeclineRate float64       `json:"latest_daily_decline_rate"`
	DeclineExceedsAverage  bool          `json:"decline_exceeds_average"`
	VolumeUSD              float64       `json:"volume_usd"`
	ImpliedAPY             float64       `json:"implied_apy"`
	TransactionCount       int           `json:"transaction_count"`
	DataFreshnessHours     float64       `json:"data_freshness_hours"`
}

// Analyzer applies a Policy to transaction sets.
type Analyzer struct {
	policy Policy
	now    func() time.Time
}

// New creates an Analyzer. A zero MinTransactions falls back to the default
// policy value.
func New(policy Policy) *Analyzer {
	if policy.MinTransactions <= 0 {
		policy.MinTransactions = DefaultPolicy.MinTransactions
	}
	if policy.AccelMultiplier <= 0 {
		policy.AccelMultiplier = DefaultPolicy.AccelMultiplier
	}
	if policy.AccelFloor <= 0 {
		policy.AccelFloor = DefaultPolicy.AccelFloor
	}
	return &Analyzer{policy: policy, now: time.Now}
}

// WithClock overrides the analyzer's clock (used in tests).
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// Zero returns the zero-valued analysis for a market, used both for the
// insufficient-data guard and for isolated per-market failures upstream.
func Zero(market pendle.Market) Analysis {
	return Analysis{Market: market}
}

// Analyze computes all decline metrics for one market. It never fails for
// well-formed input; below the minimum transaction count it returns a
// zero-valued result with no alert.
func (a *Analyzer) Analyze(market pendle.Market, txs []pendle.Transaction) Analysis {
	if len(txs) < a.policy.MinTransactions {
		result := Zero(market)
		result.TransactionCount = len(txs)
		return result
	}

	sorted := make([]pendle.Transaction, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	now := a.now()
	avgRate := averageDeclineRate(sorted)
	latestRate := latestDailyDeclineRate(sorted, now)

	exceeds := math.Abs(latestRate) > math.Abs(avgRate)*a.policy.AccelMultiplier &&
		math.Abs(latestRate) > a.policy.AccelFloor

	return Analysis{
		Market:                 market,
		CurrentYTPrice:         currentYTPrice(sorted, market, now),
		AverageDeclineRate:     avgRate,
		LatestDailyDeclineRate: latestRate,
		DeclineExceedsAverage:  exceeds,
		VolumeUSD:              volumeUSD(sorted),
		ImpliedAPY:             averageImpliedAPY(sorted),
		TransactionCount:       len(txs),
		DataFreshnessHours:     freshnessHours(sorted, now),
	}
}

// currentYTPrice derives a yield-proxy price. The upstream data has no
// labelled price field, so three fallbacks apply in order: the latest
// positive raw value on a YT/PY swap, the latest raw value in a reasonable
// range, and finally a synthetic price backed out of the latest implied APY.
func currentYTPrice(sorted []pendle.Transaction, market pendle.Market, now time.Time) float64 {
	for i := len(sorted) - 1; i >= 0; i-- {
		tx := sorted[i]
		if !isYieldSwap(tx.Action) {
			continue
		}
		if tx.Value != nil && *tx.Value > 0 {
			return *tx.Value
		}
	}

	for i := len(sorted) - 1; i >= 0; i-- {
		tx := sorted[i]
		if tx.Value != nil && *tx.Value > 0.001 && *tx.Value < 5 {
			return *tx.Value
		}
	}

	for i := len(sorted) - 1; i >= 0; i-- {
		tx := sorted[i]
		if tx.ImpliedAPY != nil && *tx.ImpliedAPY > 0 {
			years := math.Max(0.1, market.Expiry.Sub(now).Hours()/24/365)
			return 1 / math.Pow(1+*tx.ImpliedAPY, years)
		}
	}
	return 0
}

func isYieldSwap(action string) bool {
	return strings.Contains(action, "SWAP_YT") || strings.Contains(action, "SWAP_PY")
}

func volumeUSD(txs []pendle.Transaction) float64 {
	var total float64
	for _, tx := range txs {
		if tx.ValuationUSD != nil {
			total += *tx.ValuationUSD
		}
	}
	return total
}

func averageImpliedAPY(txs []pendle.Transaction) float64 {
	var sum float64
	var n int
	for _, tx := range txs {
		if tx.ImpliedAPY != nil {
			sum += *tx.ImpliedAPY
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// averageDeclineRate is the APY change per day between the earliest and
// latest valid-APY transactions. With under 2 valid points or a same-day
// span it falls back to the simple percentage difference across the final 5
// transactions.
func averageDeclineRate(sorted []pendle.Transaction) float64 {
	var first, last *pendle.Transaction
	for i := range sorted {
		if sorted[i].ImpliedAPY == nil {
			continue
		}
		if first == nil {
			first = &sorted[i]
		}
		last = &sorted[i]
	}

	if first != nil && last != nil && first != last {
		daySpan := int(last.Timestamp.Sub(first.Timestamp).Hours() / 24)
		if daySpan > 0 {
			return (*last.ImpliedAPY - *first.ImpliedAPY) / float64(daySpan) * 100
		}
	}

	// Sparse fallback: simple difference over the last 5 transactions.
	tail := sorted
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	var apys []float64
	for _, tx := range tail {
		if tx.ImpliedAPY != nil {
			apys = append(apys, *tx.ImpliedAPY)
		}
	}
	if len(apys) < 2 {
		return 0
	}
	return (apys[len(apys)-1] - apys[0]) * 100
}

// latestDailyDeclineRate extrapolates the APY change within the last 24
// hours to a daily rate. Fewer than 2 qualifying points yields 0.
func latestDailyDeclineRate(sorted []pendle.Transaction, now time.Time) float64 {
	windowStart := now.Add(-24 * time.Hour)

	var recent []pendle.Transaction
	for _, tx := range sorted {
		if tx.ImpliedAPY != nil && !tx.Timestamp.Before(windowStart) {
			recent = append(recent, tx)
		}
	}
	if len(recent) < 2 {
		return 0
	}

	earliest, latest := recent[0], recent[len(recent)-1]
	hours := latest.Timestamp.Sub(earliest.Timestamp).Hours()
	if hours <= 0 {
		return 0
	}
	return (*latest.ImpliedAPY - *earliest.ImpliedAPY) / hours * 24
}

func freshnessHours(sorted []pendle.Transaction, now time.Time) float64 {
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].ImpliedAPY != nil {
			return now.Sub(sorted[i].Timestamp).Hours()
		}
	}
	return 0
}
