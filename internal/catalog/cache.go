package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const cachePrefix = "catalog:"

// CachedSource memoises lookups in Redis. Cache failures degrade to the
// underlying source.
type CachedSource struct {
	inner  Source
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedSource wraps inner with a Redis cache.
func NewCachedSource(inner Source, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{inner: inner, client: client, ttl: ttl, logger: logger}
}

// Lookup returns the cached product or resolves and caches it.
func (c *CachedSource) Lookup(ctx context.Context, ref Ref) (Product, error) {
	key := cachePrefix + "product:" + ref.Key()
	var cached Product
	if c.get(ctx, key, &cached) {
		return cached, nil
	}
	product, err := c.inner.Lookup(ctx, ref)
	if err != nil {
		return Product{}, err
	}
	c.set(ctx, key, product)
	return product, nil
}

// Markup returns the cached markup or resolves and caches it.
func (c *CachedSource) Markup(ctx context.Context, category string, source SourceType) (decimal.Decimal, error) {
	key := cachePrefix + "markup:" + string(source) + ":" + category
	var cached decimal.Decimal
	if c.get(ctx, key, &cached) {
		return cached, nil
	}
	pct, err := c.inner.Markup(ctx, category, source)
	if err != nil {
		return decimal.Zero, err
	}
	c.set(ctx, key, pct)
	return pct, nil
}

// Invalidate drops a cached product, e.g. after a stock movement.
func (c *CachedSource) Invalidate(ctx context.Context, ref Ref) error {
	return c.client.Del(ctx, cachePrefix+"product:"+ref.Key()).Err()
}

func (c *CachedSource) get(ctx context.Context, key string, target any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("catalog cache read", slog.String("key", key), slog.Any("error", err))
		}
		return false
	}
	if err := json.Unmarshal(raw, target); err != nil {
		c.logger.Warn("catalog cache decode", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

func (c *CachedSource) set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache write", slog.String("key", key), slog.Any("error", err))
	}
}
