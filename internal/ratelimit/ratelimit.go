// Package ratelimit provides fixed-window request limiting over the cache.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/condor/internal/domain"
)

// Limiter counts requests per caller in fixed one-minute windows. Counters
// live in the cache, so limits hold across nodes when Redis backs it.
type Limiter struct {
	cache domain.Cache
	cfg   domain.RateLimitConfig
}

// NewLimiter creates a limiter backed by the given cache.
func NewLimiter(cache domain.Cache, cfg domain.RateLimitConfig) *Limiter {
	return &Limiter{cache: cache, cfg: cfg}
}

// Allow reports whether the caller identified by key may make another
// request under the general per-minute limit.
func (l *Limiter) Allow(ctx context.Context, tenantID string, key string) (bool, error) {
	if !l.cfg.Enabled {
		return true, nil
	}
	return l.allow(ctx, tenantID, "rl:req:"+key, l.cfg.RequestsPerMinute)
}

// AllowEvaluation applies the stricter evaluation limit. Evaluations hit the
// repository and the engine, so they get their own budget.
func (l *Limiter) AllowEvaluation(ctx context.Context, tenantID string, userID string) (bool, error) {
	if !l.cfg.Enabled {
		return true, nil
	}
	return l.allow(ctx, tenantID, "rl:eval:"+userID, l.cfg.EvaluationsPerMinute)
}

func (l *Limiter) allow(ctx context.Context, tenantID, key string, limit int) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenantID is required")
	}
	if limit <= 0 {
		return true, nil
	}

	count, err := l.cache.IncrementCounter(ctx, tenantID, key, time.Minute)
	if err != nil {
		// Fail open when the counter backend is unavailable.
		return true, err
	}
	return count <= int64(limit), nil
}
