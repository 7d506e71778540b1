package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/condor/internal/domain"
	"github.com/opensource-finance/condor/internal/engine"
	"github.com/opensource-finance/condor/internal/ratelimit"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	tokens  *TokenIssuer
	limiter *ratelimit.Limiter
	config  *domain.Config
	version string

	startedAt       time.Time
	requestsServed  atomic.Int64
	evaluationsRun  atomic.Int64
	tokensIssued    atomic.Int64
	cacheMissesSeen atomic.Int64
}

// NewHandler creates a new API handler.
func NewHandler(cfg *domain.Config, repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, limiter *ratelimit.Limiter, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    eng,
		tokens:    NewTokenIssuer(cfg.Auth),
		limiter:   limiter,
		config:    cfg,
		version:   version,
		startedAt: time.Now().UTC(),
	}
}

// Tokens exposes the token issuer so the server can build auth middleware.
func (h *Handler) Tokens() *TokenIssuer {
	return h.tokens
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// MetricsLite returns coarse runtime counters. This is not a metrics system;
// it exists so smoke checks and load scripts can read throughput without one.
func (h *Handler) MetricsLite(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":   int64(time.Since(h.startedAt).Seconds()),
		"goroutines":       runtime.NumGoroutine(),
		"heap_alloc_bytes": m.HeapAlloc,
		"requests_served":  h.requestsServed.Load(),
		"evaluations_run":  h.evaluationsRun.Load(),
		"tokens_issued":    h.tokensIssued.Load(),
		"cache_misses":     h.cacheMissesSeen.Load(),
		"version":          h.version,
	})
}

// countRequests feeds the requests_served counter.
func (h *Handler) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.requestsServed.Add(1)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
