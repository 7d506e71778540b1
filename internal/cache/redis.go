package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/condor/internal/domain"
)

// RedisCache is the Pro tier cache and the shared phase of the
// two-phase cache. Keys are namespaced condor:<tenant>:<key>, so one
// Redis serves every tenant and every instance.
type RedisCache struct {
	client *redis.Client
}

// incrScript bumps a counter and starts its expiry window on the first
// increment, atomically. Compiled once; EVALSHA after the first run.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// NewRedisCache connects to Redis and verifies the connection before
// returning.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get returns the cached value, or nil on a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	val, err := c.client.Get(ctx, c.nsKey(tenantID, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value under the tenant's key with the given TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Set(ctx, c.nsKey(tenantID, key), value, ttl).Err()
}

// Delete removes a single key.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Del(ctx, c.nsKey(tenantID, key)).Err()
}

// DeleteByPrefix removes every tenant key under the prefix. SCAN keeps
// the walk incremental; deletes go out in batches to bound round trips.
func (c *RedisCache) DeleteByPrefix(ctx context.Context, tenantID string, prefix string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	const batchSize = 128
	batch := make([]string, 0, batchSize)

	iter := c.client.Scan(ctx, 0, c.nsKey(tenantID, prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == batchSize {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}

// GetThresholdMap retrieves the cached resolved threshold map of a fiscal year.
func (c *RedisCache) GetThresholdMap(ctx context.Context, tenantID string, fyID string) (map[string]decimal.Decimal, error) {
	return getThresholdMap(ctx, c, tenantID, fyID)
}

// SetThresholdMap caches the resolved threshold map of a fiscal year.
func (c *RedisCache) SetThresholdMap(ctx context.Context, tenantID string, fyID string, m map[string]decimal.Decimal, ttl time.Duration) error {
	return setThresholdMap(ctx, c, tenantID, fyID, m, ttl)
}

// IncrementCounter bumps the tenant's counter within its fixed window
// and returns the new count.
func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	full := c.nsKey(tenantID, "counter:"+key)
	return incrScript.Run(ctx, c.client, []string{full}, window.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) nsKey(tenantID, key string) string {
	return "condor:" + tenantID + ":" + key
}
