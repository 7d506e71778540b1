package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// DeleteByPrefix removes every key under the tenant-scoped prefix.
	// Used when a rule set or threshold changes and derived entries go stale.
	DeleteByPrefix(ctx context.Context, tenantID string, prefix string) error

	// GetThresholdMap retrieves a cached resolved threshold map for a
	// fiscal year. Returns nil, nil if not cached.
	GetThresholdMap(ctx context.Context, tenantID string, fyID string) (map[string]decimal.Decimal, error)

	// SetThresholdMap caches the resolved threshold map for a fiscal year.
	SetThresholdMap(ctx context.Context, tenantID string, fyID string, m map[string]decimal.Decimal, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for rate limiting (e.g., evaluation count in time window).
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Cache key builders. Keys are tenant-scoped by the implementations; these
// produce the tenant-relative part so that call sites stay consistent.

// ThresholdMapKey keys the resolved threshold map of a fiscal year.
func ThresholdMapKey(fyID string) string {
	return fmt.Sprintf("fy:%s:thresholds", fyID)
}

// ActiveRuleSetKey keys the active rule set of a fiscal year.
func ActiveRuleSetKey(fyID string) string {
	return fmt.Sprintf("fy:%s:ruleset", fyID)
}

// ObligationCatalogKey keys the active obligation catalog.
const ObligationCatalogKey = "obligations:active"

// FiscalYearPrefix is the shared prefix of all per-fiscal-year derived
// entries, used for invalidation on publish and threshold updates.
func FiscalYearPrefix(fyID string) string {
	return fmt.Sprintf("fy:%s:", fyID)
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
