// Package cache provides a namespaced byte cache backed by Redis with
// SETEX-style expiry. Keys are shaped as ns + ":" + md5hex(key); MD5
// keeps keys short and uniform, it carries no security meaning. When
// Redis is unreachable the cache degrades to a bounded in-process
// store so callers keep their cache-aside behavior during an outage.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/logging"
)

const purgeScanBatch = 256

// Cache is a namespaced byte store. Safe for concurrent use.
type Cache struct {
	cfg      config.CacheConfig
	rdb      *redis.Client
	fallback *memoryStore
	log      *logging.Logger
	metrics  *Metrics
}

// New builds a cache from config. An empty Addr skips Redis entirely
// and runs on the in-process store alone.
func New(cfg config.CacheConfig, log *logging.Logger, metrics *Metrics) *Cache {
	c := &Cache{
		cfg:      cfg,
		fallback: newMemoryStore(cfg.FallbackMaxEntries),
		log:      log.Named("cache"),
		metrics:  metrics,
	}
	if cfg.Addr != "" {
		c.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		})
	}
	return c
}

// Get returns the cached value for (ns, key). The second return is
// false on a miss.
func (c *Cache) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	k := shapeKey(ns, key)

	if c.rdb != nil {
		val, err := c.rdb.Get(ctx, k).Bytes()
		switch {
		case err == nil:
			c.metrics.Hit(ns)
			return val, true, nil
		case errors.Is(err, redis.Nil):
			c.metrics.Miss(ns)
			return nil, false, nil
		case ctx.Err() != nil:
			return nil, false, ctx.Err()
		default:
			c.degradedOp(ctx, "get", err)
		}
	}

	val, ok := c.fallback.get(k)
	if ok {
		c.metrics.Hit(ns)
	} else {
		c.metrics.Miss(ns)
	}
	return val, ok, nil
}

// Set stores a value with the given TTL. A zero TTL uses the
// configured default.
func (c *Cache) Set(ctx context.Context, ns, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL.Duration()
	}
	if ttl <= 0 {
		return fmt.Errorf("cache: no ttl for %s", ns)
	}
	k := shapeKey(ns, key)

	if c.rdb != nil {
		err := c.rdb.SetEx(ctx, k, val, ttl).Err()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.degradedOp(ctx, "set", err)
	}

	c.fallback.set(k, val, ttl)
	return nil
}

// Purge removes every key in a namespace from both stores.
func (c *Cache) Purge(ctx context.Context, ns string) error {
	c.fallback.purgePrefix(ns + ":")

	if c.rdb == nil {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, ns+":*", purgeScanBatch).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.degradedOp(ctx, "purge", err)
			return nil
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				c.degradedOp(ctx, "purge", err)
				return nil
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Healthy reports whether the Redis backend answers a ping. A cache
// without a Redis backend is healthy by construction.
func (c *Cache) Healthy(ctx context.Context) bool {
	if c.rdb == nil {
		return true
	}
	return c.rdb.Ping(ctx).Err() == nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Cache) degradedOp(ctx context.Context, op string, err error) {
	c.metrics.Degraded(op)
	c.log.Warn(ctx, "redis unavailable, using in-process fallback",
		zap.String("op", op), zap.Error(err))
}

func shapeKey(ns, key string) string {
	sum := md5.Sum([]byte(key))
	return ns + ":" + hex.EncodeToString(sum[:])
}
