package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache wraps a ProductLookup with a Redis read-through cache.
// Redis failures are logged and the wrapped lookup is used directly.
type Cache struct {
	next   ProductLookup
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewCache creates a cache in front of next
func NewCache(next ProductLookup, client *goredis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cache{
		next:   next,
		client: client,
		prefix: "product:",
		ttl:    ttl,
	}
}

// NewRedisClient creates a Redis client and verifies connectivity
func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Lookup returns a cached product or asks the wrapped lookup and caches the result
func (c *Cache) Lookup(ctx context.Context, code string) (*Product, error) {
	if err := ValidateCode(code); err != nil {
		return nil, err
	}

	if product, ok := c.get(ctx, code); ok {
		return product, nil
	}

	product, err := c.next.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	c.set(ctx, product)
	return product, nil
}

func (c *Cache) get(ctx context.Context, code string) (*Product, bool) {
	val, err := c.client.Get(ctx, c.prefix+code).Bytes()
	if err != nil {
		if err != goredis.Nil {
			slog.Warn("Product cache read failed", "code", code, "error", err)
		}
		return nil, false
	}

	var product Product
	if err := json.Unmarshal(val, &product); err != nil {
		slog.Warn("Discarding corrupt product cache entry", "code", code, "error", err)
		return nil, false
	}
	return &product, true
}

func (c *Cache) set(ctx context.Context, product *Product) {
	data, err := json.Marshal(product)
	if err != nil {
		slog.Warn("Failed to encode product for cache", "code", product.Code, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.prefix+product.Code, data, c.ttl).Err(); err != nil {
		slog.Warn("Product cache write failed", "code", product.Code, "error", err)
	}
}
