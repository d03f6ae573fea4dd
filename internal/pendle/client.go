package pendle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/web3-frozen/pendle-monitor/internal/metrics"
)

const (
	defaultBaseURL = "https://api-v2.pendle.finance/core"

	maxRetries      = 5
	baseRetryDelay  = 1 * time.Second
	maxJitter       = 500 * time.Millisecond
	requestsPerSec  = 8 // self-throttle ceiling within any 1s window
	requestTimeout  = 30 * time.Second
	responseBodyCap = 4096
)

// defaultBudgets is the per-category daily request allowance.
var defaultBudgets = map[Category]int{
	CategoryMarkets:      500,
	CategoryTransactions: 5000,
	CategoryPrices:       2000,
	CategoryAssets:       500,
}

// Client is a rate-limited gateway to the Pendle REST API. It tracks a daily
// request budget per endpoint category, self-throttles on a sliding 1-second
// window, backs off on 429s, and caches GET responses in memory and on disk.
//
// Safe for concurrent use.
type Client struct {
	chainID int
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	cache   *responseCache
	now     func() time.Time

	mu         sync.Mutex
	budgetUsed map[Category]int
	budgetDay  time.Time
	recent     []time.Time // request timestamps within the last second

	stats Stats
}

// Stats are the gateway's running counters, for operator-facing reporting.
type Stats struct {
	TotalRequests  int64         `json:"total_requests"`
	RateLimited    int64         `json:"rate_limited"`
	CacheHits      int64         `json:"cache_hits"`
	CacheMisses    int64         `json:"cache_misses"`
	AverageLatency time.Duration `json:"average_latency"`

	totalLatency time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the upstream base URL (used in tests).
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithNow overrides the clock (used in tests).
func WithNow(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient creates a gateway for one chain. cacheDir may be empty to disable
// the disk cache tier.
func NewClient(chainID int, cacheDir string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		chainID:    chainID,
		baseURL:    defaultBaseURL,
		http:       &http.Client{Timeout: requestTimeout},
		logger:     logger,
		now:        time.Now,
		budgetUsed: make(map[Category]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cache = newResponseCache(cacheDir, logger)
	c.budgetDay = c.now().UTC().Truncate(24 * time.Hour)
	return c
}

// ChainID returns the chain this client is bound to.
func (c *Client) ChainID() int { return c.chainID }

// ChainName returns the display name of this client's chain.
func (c *Client) ChainName() string { return ChainName(c.chainID) }

// Stats returns a snapshot of the gateway counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	if s.TotalRequests > 0 {
		s.AverageLatency = s.totalLatency / time.Duration(s.TotalRequests)
	}
	return s
}

// ActiveMarkets fetches the chain's active markets.
func (c *Client) ActiveMarkets(ctx context.Context) ([]Market, error) {
	path := fmt.Sprintf("/v1/%d/markets/active", c.chainID)
	raw, err := c.Request(ctx, path, nil, CategoryMarkets)
	if err != nil {
		return nil, fmt.Errorf("active markets: %w", err)
	}

	var body struct {
		Markets []Market `json:"markets"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &APIError{Endpoint: path, Body: trim(string(raw)), Code: "decode", Status: http.StatusOK}
	}
	return body.Markets, nil
}

// PageRequest describes one page of the transactions endpoint. Exactly one of
// ResumeToken or Skip is sent; ResumeToken wins when set.
type PageRequest struct {
	Market      string
	Actions     string // comma-separated action filter, e.g. "SWAP_PT,SWAP_PY,SWAP_YT"
	Origins     string
	Limit       int
	MinValue    float64
	ResumeToken string
	Skip        int
}

// TransactionsPage fetches one page of a market's transaction history.
func (c *Client) TransactionsPage(ctx context.Context, req PageRequest) (*TransactionsPage, error) {
	params := url.Values{}
	params.Set("market", req.Market)
	if req.Actions != "" {
		params.Set("action", req.Actions)
	}
	if req.Origins != "" {
		params.Set("origin", req.Origins)
	}
	params.Set("limit", strconv.Itoa(req.Limit))
	params.Set("minValue", strconv.FormatFloat(req.MinValue, 'f', -1, 64))
	if req.ResumeToken != "" {
		params.Set("resumeToken", req.ResumeToken)
	} else {
		params.Set("skip", strconv.Itoa(req.Skip))
	}

	path := fmt.Sprintf("/v4/%d/transactions", c.chainID)
	raw, err := c.Request(ctx, path, params, CategoryTransactions)
	if err != nil {
		return nil, err
	}

	var page TransactionsPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, &APIError{Endpoint: path, Body: trim(string(raw)), Code: "decode", Status: http.StatusOK}
	}
	return &page, nil
}

// Request issues a cached, budgeted, retried GET against path. Query values
// are percent-encoded by url.Values (resume tokens carry unsafe characters).
func (c *Client) Request(ctx context.Context, path string, params url.Values, category Category) (json.RawMessage, error) {
	key := cacheKey(path, params)
	if data, ok := c.cache.get(key, c.now()); ok {
		c.recordCache(true)
		metrics.UpstreamCacheTotal.WithLabelValues(string(category), "hit").Inc()
		return data, nil
	}
	c.recordCache(false)
	metrics.UpstreamCacheTotal.WithLabelValues(string(category), "miss").Inc()

	if err := c.consumeBudget(category); err != nil {
		return nil, err
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var lastErr error
	for retry := 0; retry <= maxRetries; retry++ {
		if err := c.throttle(ctx); err != nil {
			return nil, err
		}

		data, retryAfter, err := c.do(ctx, fullURL, path, category)
		if err == nil {
			c.cache.put(key, data, category.TTL(), c.now())
			return data, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch {
		case isRateLimit(err):
			c.recordRateLimited()
			metrics.UpstreamRateLimitedTotal.WithLabelValues(string(category)).Inc()
			delay := retryAfter
			if delay <= 0 {
				delay = time.Duration(float64(baseRetryDelay)*math.Pow(2, float64(retry))) + jitter()
			}
			c.logger.Warn("rate limited, backing off", "endpoint", path, "retry", retry, "delay", delay.Round(time.Millisecond))
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		case isAPIError(err):
			// Non-2xx other than 429 is not retryable.
			return nil, err
		default:
			// Transport-level failure: linear backoff.
			delay := baseRetryDelay * time.Duration(retry+1)
			c.logger.Warn("transport error, retrying", "endpoint", path, "retry", retry, "delay", delay, "error", err)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	if isRateLimit(lastErr) {
		return nil, &RateLimitError{Endpoint: path, Retries: maxRetries}
	}
	if isAPIError(lastErr) {
		return nil, lastErr
	}
	return nil, &APIError{Endpoint: path, Code: "transport", Body: lastErr.Error()}
}

// do performs a single HTTP GET. A 429 is returned as a sentinel error with
// any Retry-After hint.
func (c *Client) do(ctx context.Context, fullURL, endpoint string, category Category) (json.RawMessage, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.http.Do(req)
	c.recordRequest(c.now().Sub(start))
	metrics.UpstreamRequestsTotal.WithLabelValues(string(category)).Inc()
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), errRateLimited
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, &APIError{
			Status:   resp.StatusCode,
			Endpoint: endpoint,
			Body:     trim(string(body)),
		}
	}
	return json.RawMessage(body), 0, nil
}

// consumeBudget decrements the daily request allowance for a category,
// resetting on calendar-day rollover.
func (c *Client) consumeBudget(category Category) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	day := c.now().UTC().Truncate(24 * time.Hour)
	if day.After(c.budgetDay) {
		c.budgetUsed = make(map[Category]int)
		c.budgetDay = day
	}

	limit, ok := defaultBudgets[category]
	if !ok {
		limit = 1000
	}
	if c.budgetUsed[category] >= limit {
		c.stats.RateLimited++
		return &RateLimitError{Endpoint: string(category), Retries: 0}
	}
	c.budgetUsed[category]++
	return nil
}

// throttle blocks until sending now would stay under requestsPerSec within
// the trailing 1-second window.
func (c *Client) throttle(ctx context.Context) error {
	for {
		c.mu.Lock()
		now := c.now()
		cutoff := now.Add(-1 * time.Second)
		kept := c.recent[:0]
		for _, t := range c.recent {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		c.recent = kept

		if len(c.recent) < requestsPerSec {
			c.recent = append(c.recent, now)
			c.mu.Unlock()
			return nil
		}
		wait := c.recent[0].Add(1 * time.Second).Sub(now)
		c.mu.Unlock()

		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Client) recordRequest(latency time.Duration) {
	c.mu.Lock()
	c.stats.TotalRequests++
	c.stats.totalLatency += latency
	c.mu.Unlock()
}

func (c *Client) recordRateLimited() {
	c.mu.Lock()
	c.stats.RateLimited++
	c.mu.Unlock()
}

func (c *Client) recordCache(hit bool) {
	c.mu.Lock()
	if hit {
		c.stats.CacheHits++
	} else {
		c.stats.CacheMisses++
	}
	c.mu.Unlock()
}

// errRateLimited is the internal 429 sentinel; exported callers only ever see
// RateLimitError.
var errRateLimited = errors.New("rate limited")

func isRateLimit(err error) bool {
	if errors.Is(err, errRateLimited) {
		return true
	}
	var rl *RateLimitError
	return errors.As(err, &rl)
}

func isAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(maxJitter)))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func trim(s string) string {
	if len(s) > responseBodyCap {
		return s[:responseBodyCap]
	}
	return s
}
