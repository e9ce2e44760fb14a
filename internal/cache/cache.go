// Package cache provides the redis-backed answer cache and the distributed
// lock used by the indexer scheduler. Cache failures never fail a query;
// they degrade to uncached operation and get logged.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

// Cache wraps a redis client with JSON values.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// Conn connects to redis and verifies the connection with a ping.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s:%d): %w", cfg.Host, cfg.Port, err)
	}
	return rdb, nil
}

// New builds a Cache over an established client.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		rdb:    rdb,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[CACHE] ", log.LstdFlags),
	}
}

// AskKey derives the cache key for a question. The key covers everything
// that changes the answer: the effective query, the metadata filter, the
// retrieval depth and the generation model.
func AskKey(query, filter string, topK int, model string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", query, filter, topK, model)))
	return "ask:" + hex.EncodeToString(sum[:])
}

// GetAsk returns a cached result, or found=false on miss or error.
func (c *Cache) GetAsk(ctx context.Context, key string) (core.AskResult, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Printf("get %s: %v", key, err)
		}
		return core.AskResult{}, false
	}
	var res core.AskResult
	if err := json.Unmarshal(raw, &res); err != nil {
		c.logger.Printf("corrupt cache entry %s: %v", key, err)
		return core.AskResult{}, false
	}
	return res, true
}

// PutAsk stores a result under key with the configured TTL. Errors are
// logged, not returned.
func (c *Cache) PutAsk(ctx context.Context, key string, res core.AskResult) {
	raw, err := json.Marshal(res)
	if err != nil {
		c.logger.Printf("marshal %s: %v", key, err)
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Printf("set %s: %v", key, err)
	}
}

// Lock acquires a named distributed lock for ttl. Returns false when
// another holder has it.
func (c *Cache) Lock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lock:"+name, "1", ttl).Result()
}

// Unlock releases a named lock.
func (c *Cache) Unlock(ctx context.Context, name string) {
	if err := c.rdb.Del(ctx, "lock:"+name).Err(); err != nil {
		c.logger.Printf("unlock %s: %v", name, err)
	}
}
