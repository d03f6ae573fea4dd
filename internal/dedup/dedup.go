package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a sent notification suppresses repeats for the
// same market.
const DefaultTTL = 24 * time.Hour

// Cache checks and records whether an alert for a market has been sent
// within the suppression window. All Redis failures degrade to an empty
// cache: a broken cache must never block alerts.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a Cache backed by Redis. ttl <= 0 selects DefaultTTL.
func New(redisURL, password string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// Close shuts down the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func key(chainID int, marketAddr string) string {
	return fmt.Sprintf("notify:%d:%s", chainID, marketAddr)
}

// ShouldNotify returns false only when a notification for the market was
// recorded within the TTL window. Redis errors read as "not sent".
func (c *Cache) ShouldNotify(ctx context.Context, chainID int, marketAddr string) bool {
	exists, err := c.rdb.Exists(ctx, key(chainID, marketAddr)).Result()
	if err != nil {
		return true
	}
	return exists == 0
}

// RecordNotified marks a market as notified, keeping the market name as the
// entry value for diagnostics. The entry expires after the cache's TTL so a
// persistent condition re-alerts daily.
func (c *Cache) RecordNotified(ctx context.Context, chainID int, marketAddr, marketName string) {
	if marketName == "" {
		marketName = marketAddr
	}
	c.rdb.Set(ctx, key(chainID, marketAddr), marketName, c.ttl) //nolint:errcheck
}

// Clear removes a market's suppression entry so the next anomaly alerts
// immediately.
func (c *Cache) Clear(ctx context.Context, chainID int, marketAddr string) {
	c.rdb.Del(ctx, key(chainID, marketAddr)) //nolint:errcheck
}
