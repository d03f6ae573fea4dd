// Package collector drives paginated, deduplicated transaction collection
// against the Pendle transactions endpoint.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/web3-frozen/pendle-monitor/internal/pendle"
)

const (
	// DefaultActions restricts collection to the swap kinds that carry an
	// implied APY.
	DefaultActions = "SWAP_PT,SWAP_PY,SWAP_YT"
	// DefaultOrigins matches the market and YT trade origins.
	DefaultOrigins = "PENDLE_MARKET,YT"

	defaultPageSize    = 500
	defaultMaxPages    = 4
	defaultExemptPages = 1
)

// Gateway is the slice of the API client the collector needs.
type Gateway interface {
	TransactionsPage(ctx context.Context, req pendle.PageRequest) (*pendle.TransactionsPage, error)
}

// Params controls one collection call.
type Params struct {
	MaxRows  int
	DaysBack int
	Actions  string
	Origins  string
	PageSize int
	// MaxPages bounds the page loop so collection terminates even when the
	// upstream returns a cyclic resume sequence. Callers use 4-8.
	MaxPages int
	// ExemptPages is the number of leading pages exempt from the recency
	// cutoff. The default of 1 keeps the freshest rows for current holders
	// from being cut by pagination order.
	ExemptPages int
	// SampleRate below 1.0 keeps a uniform random subset of each page,
	// purely to bound request volume for high-traffic markets.
	SampleRate float64
}

func (p Params) withDefaults() Params {
	if p.PageSize <= 0 {
		p.PageSize = defaultPageSize
	}
	if p.MaxPages <= 0 {
		p.MaxPages = defaultMaxPages
	}
	if p.ExemptPages <= 0 {
		p.ExemptPages = defaultExemptPages
	}
	if p.Actions == "" {
		p.Actions = DefaultActions
	}
	if p.Origins == "" {
		p.Origins = DefaultOrigins
	}
	if p.SampleRate <= 0 || p.SampleRate > 1 {
		p.SampleRate = 1.0
	}
	return p
}

// Collector fetches a market's transaction history page by page, dropping
// duplicates, stale rows, and rows without an implied APY. Safe for
// concurrent use; the sampling source is guarded since *rand.Rand is not.
type Collector struct {
	gw     Gateway
	logger *slog.Logger
	now    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Collector over the given gateway.
func New(gw Gateway, logger *slog.Logger) *Collector {
	return &Collector{
		gw:     gw,
		logger: logger,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithClock overrides the collector's clock (used in tests).
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// WithRand overrides the sampling source (used in tests).
func (c *Collector) WithRand(rng *rand.Rand) *Collector {
	c.rng = rng
	return c
}

// Collect gathers up to p.MaxRows deduplicated transactions for a market.
// Pagination prefers the upstream resume token and falls back to offset
// stepping; an empty page ends the walk. A page failure after the first page
// returns what was collected so far.
func (c *Collector) Collect(ctx context.Context, marketAddr string, p Params) ([]pendle.Transaction, error) {
	p = p.withDefaults()
	cutoff := time.Time{}
	if p.DaysBack > 0 {
		cutoff = c.now().AddDate(0, 0, -p.DaysBack)
	}

	var (
		results     []pendle.Transaction
		seen        = make(map[string]struct{})
		resumeToken string
		skip        int
	)

	for page := 0; page < p.MaxPages; page++ {
		req := pendle.PageRequest{
			Market:  marketAddr,
			Actions: p.Actions,
			Origins: p.Origins,
			Limit:   p.PageSize,
		}
		if resumeToken != "" {
			req.ResumeToken = resumeToken
		} else {
			req.Skip = skip
		}

		resp, err := c.gw.TransactionsPage(ctx, req)
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("collect %s: %w", marketAddr, err)
			}
			c.logger.Warn("page fetch failed, keeping partial results",
				"market", marketAddr, "page", page+1, "rows", len(results), "error", err)
			break
		}
		if len(resp.Results) == 0 {
			break
		}

		rows := resp.Results
		if p.SampleRate < 1.0 {
			rows = c.sample(rows, p.SampleRate)
		}

		kept := 0
		for _, tx := range rows {
			if _, dup := seen[tx.ID]; dup {
				continue
			}
			seen[tx.ID] = struct{}{}

			if !cutoff.IsZero() && page >= p.ExemptPages && tx.Timestamp.Before(cutoff) {
				continue
			}
			if tx.ImpliedAPY == nil {
				continue
			}
			results = append(results, tx)
			kept++
		}
		c.logger.Debug("collected page", "market", marketAddr, "page", page+1, "kept", kept)

		if p.MaxRows > 0 && len(results) >= p.MaxRows {
			c.logger.Debug("row cap reached", "market", marketAddr, "rows", len(results))
			results = results[:p.MaxRows]
			break
		}

		resumeToken = resp.ResumeToken
		if resumeToken == "" {
			skip += p.PageSize
		}
	}

	return Dedup(results), nil
}

// Dedup returns the transactions with exactly one record per distinct ID,
// keeping first occurrences in order. Idempotent: Dedup(Dedup(s)) == Dedup(s).
func Dedup(txs []pendle.Transaction) []pendle.Transaction {
	seen := make(map[string]struct{}, len(txs))
	out := txs[:0:0]
	for _, tx := range txs {
		if _, dup := seen[tx.ID]; dup {
			continue
		}
		seen[tx.ID] = struct{}{}
		out = append(out, tx)
	}
	return out
}

// sample keeps a uniform random subset of rows without replacement. It must
// not bias by time, so it shuffles rather than truncating.
func (c *Collector) sample(rows []pendle.Transaction, rate float64) []pendle.Transaction {
	n := int(float64(len(rows)) * rate)
	if n < 1 {
		n = 1
	}
	if n >= len(rows) {
		return rows
	}
	picked := make([]pendle.Transaction, len(rows))
	copy(picked, rows)
	c.rngMu.Lock()
	c.rng.Shuffle(len(picked), func(i, j int) {
		picked[i], picked[j] = picked[j], picked[i]
	})
	c.rngMu.Unlock()
	return picked[:n]
}
