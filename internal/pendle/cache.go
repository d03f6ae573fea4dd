package pendle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Category groups endpoints for budgeting and cache TTL purposes.
type Category string

const (
	CategoryMarkets      Category = "markets"
	CategoryTransactions Category = "transactions"
	CategoryPrices       Category = "prices"
	CategoryAssets       Category = "assets"
)

// TTL returns how long a cached response for this category stays fresh.
func (c Category) TTL() time.Duration {
	switch c {
	case CategoryMarkets:
		return 30 * time.Minute
	case CategoryTransactions:
		return 5 * time.Minute
	case CategoryPrices:
		return 1 * time.Minute
	case CategoryAssets:
		return 1 * time.Hour
	default:
		return 5 * time.Minute
	}
}

type cacheEntry struct {
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

func (e *cacheEntry) fresh(now time.Time) bool {
	return now.Before(e.Timestamp.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// responseCache is a two-tier (memory, then disk) cache for GET responses.
// Disk failures of any kind degrade to a cache miss; they never surface to
// the caller.
type responseCache struct {
	dir    string // empty disables the disk tier
	logger *slog.Logger

	mu  sync.Mutex
	mem map[string]cacheEntry
}

func newResponseCache(dir string, logger *slog.Logger) *responseCache {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("cache dir unavailable, disk tier disabled", "dir", dir, "error", err)
			dir = ""
		}
	}
	return &responseCache{
		dir:    dir,
		logger: logger,
		mem:    make(map[string]cacheEntry),
	}
}

// cacheKey hashes the endpoint plus sorted query params so equivalent
// requests share an entry regardless of param order.
func cacheKey(endpoint string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(endpoint)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(params[k], ","))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (c *responseCache) get(key string, now time.Time) (json.RawMessage, bool) {
	c.mu.Lock()
	entry, ok := c.mem[key]
	c.mu.Unlock()
	if ok && entry.fresh(now) {
		return entry.Data, true
	}

	if c.dir == "" {
		return nil, false
	}

	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var disk cacheEntry
	if err := json.Unmarshal(raw, &disk); err != nil {
		// Corrupt blob: drop it and treat as a miss.
		_ = os.Remove(c.path(key))
		return nil, false
	}
	if !disk.fresh(now) {
		_ = os.Remove(c.path(key))
		return nil, false
	}

	c.mu.Lock()
	c.mem[key] = disk
	c.mu.Unlock()
	return disk.Data, true
}

func (c *responseCache) put(key string, data json.RawMessage, ttl time.Duration, now time.Time) {
	entry := cacheEntry{Data: data, Timestamp: now, TTLSeconds: int64(ttl.Seconds())}

	c.mu.Lock()
	c.mem[key] = entry
	c.mu.Unlock()

	if c.dir == "" {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := os.WriteFile(c.path(key), raw, 0o644); err != nil {
		c.logger.Debug("disk cache write failed", "key", key, "error", err)
	}
}

func (c *responseCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
