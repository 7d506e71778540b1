package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/condor/internal/domain"
)

// New builds the cache the configuration asks for: the in-process LRU
// for the Community tier, Redis for Pro, or the two-phase combination
// of both when EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache layers the in-process LRU in front of Redis. Reads try
// the local phase first and refill it from Redis on a miss; writes land
// in both. The local TTL is kept short so instances that miss an
// invalidation event converge on Redis within localTTL.
type TwoPhaseCache struct {
	local    *LRUCache
	remote   *RedisCache
	localTTL time.Duration
}

// NewTwoPhaseCache creates the layered cache.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	localTTL := cfg.LocalTTL
	if localTTL == 0 {
		localTTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:    NewLRUCache(cfg.LocalMaxSize),
		remote:   remote,
		localTTL: localTTL,
	}, nil
}

// Get reads through both phases, refilling the local one on a Redis hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, tenantID, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return nil, err
	}

	_ = c.local.Set(ctx, tenantID, key, val, c.localTTL)
	return val, nil
}

// Set writes to both phases. The local copy never outlives localTTL, so
// the requested TTL only applies in full to Redis.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	localTTL := c.localTTL
	if ttl < localTTL {
		localTTL = ttl
	}
	if err := c.local.Set(ctx, tenantID, key, value, localTTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes the key from both phases.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// DeleteByPrefix removes the prefix from both phases.
func (c *TwoPhaseCache) DeleteByPrefix(ctx context.Context, tenantID string, prefix string) error {
	if err := c.local.DeleteByPrefix(ctx, tenantID, prefix); err != nil {
		return err
	}
	return c.remote.DeleteByPrefix(ctx, tenantID, prefix)
}

// GetThresholdMap retrieves the cached resolved threshold map of a
// fiscal year, reading through both phases.
func (c *TwoPhaseCache) GetThresholdMap(ctx context.Context, tenantID string, fyID string) (map[string]decimal.Decimal, error) {
	return getThresholdMap(ctx, c, tenantID, fyID)
}

// SetThresholdMap caches the resolved threshold map of a fiscal year in
// both phases.
func (c *TwoPhaseCache) SetThresholdMap(ctx context.Context, tenantID string, fyID string, m map[string]decimal.Decimal, ttl time.Duration) error {
	return setThresholdMap(ctx, c, tenantID, fyID, m, ttl)
}

// IncrementCounter counts on Redis only. Rate-limit windows must agree
// across instances, and a local counter would let each node spend the
// budget separately.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping checks both phases.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("local cache ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes both phases.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the local phase's entry count and capacity.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
