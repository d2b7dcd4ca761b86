// Package cache is the read-through/write-through layer over Redis.
// Every operation is best-effort: a backend outage degrades to
// always-miss and is never surfaced as an error to callers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTLs are independently configurable per key class.
type TTLs struct {
	Price  time.Duration
	Meta   time.Duration
	Domain time.Duration
}

// PriceSnapshot is the cached current-price view of a product.
type PriceSnapshot struct {
	Price     *float64  `json:"price"`
	Currency  string    `json:"currency"`
	CheckedAt time.Time `json:"checkedAt"`
}

// MetaSnapshot is the cached metadata view of a product.
type MetaSnapshot struct {
	Title    *string `json:"title"`
	ImageURL *string `json:"imageUrl"`
	URL      string  `json:"url"`
}

type Cache struct {
	rdb    *redis.Client
	ttls   TTLs
	logger *slog.Logger
}

// NewClient parses redisURL and verifies connectivity.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

func New(rdb *redis.Client, ttls TTLs, logger *slog.Logger) *Cache {
	return &Cache{
		rdb:    rdb,
		ttls:   ttls,
		logger: logger.With("component", "cache"),
	}
}

func priceKey(productID int64) string { return fmt.Sprintf("price:%d", productID) }
func metaKey(productID int64) string  { return fmt.Sprintf("meta:%d", productID) }
func domainKey(host string) string    { return fmt.Sprintf("domain:last_scraped:%s", host) }

func (c *Cache) SetPrice(ctx context.Context, productID int64, snap PriceSnapshot) {
	c.set(ctx, priceKey(productID), snap, c.ttls.Price)
}

func (c *Cache) GetPrice(ctx context.Context, productID int64) (PriceSnapshot, bool) {
	var snap PriceSnapshot
	ok := c.get(ctx, priceKey(productID), &snap)
	return snap, ok
}

func (c *Cache) SetMeta(ctx context.Context, productID int64, snap MetaSnapshot) {
	c.set(ctx, metaKey(productID), snap, c.ttls.Meta)
}

func (c *Cache) GetMeta(ctx context.Context, productID int64) (MetaSnapshot, bool) {
	var snap MetaSnapshot
	ok := c.get(ctx, metaKey(productID), &snap)
	return snap, ok
}

// LastScraped reports when host was last fetched; a miss means "never"
// and the caller skips pacing.
func (c *Cache) LastScraped(ctx context.Context, host string) (time.Time, bool) {
	val, err := c.rdb.Get(ctx, domainKey(host)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("cache get failed, treating as miss", "key", domainKey(host), "error", err)
		}
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (c *Cache) TouchDomain(ctx context.Context, host string, at time.Time) {
	if err := c.rdb.Set(ctx, domainKey(host), at.Format(time.RFC3339Nano), c.ttls.Domain).Err(); err != nil {
		c.logger.Debug("cache set failed", "key", domainKey(host), "error", err)
	}
}

func (c *Cache) set(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Debug("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Debug("cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) get(ctx context.Context, key string, v any) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("cache get failed, treating as miss", "key", key, "error", err)
		}
		return false
	}
	return json.Unmarshal(data, v) == nil
}
