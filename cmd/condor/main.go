// Condor - Tax obligation decisions for Colombian small businesses.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/condor/internal/api"
	"github.com/opensource-finance/condor/internal/bus"
	"github.com/opensource-finance/condor/internal/cache"
	"github.com/opensource-finance/condor/internal/domain"
	"github.com/opensource-finance/condor/internal/engine"
	"github.com/opensource-finance/condor/internal/ratelimit"
	"github.com/opensource-finance/condor/internal/repository"
	"github.com/opensource-finance/condor/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// defaultTenantID scopes startup checks when no tenant list is configured.
const defaultTenantID = "default"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Pull in a local .env before anything reads the environment.
	_ = godotenv.Load()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("CONDOR_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting condor",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("CONDOR_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if *configPath == "" {
		*configPath = os.Getenv("CONDOR_CONFIG")
	}
	if *configPath != "" {
		loaded, err := domain.LoadConfigFile(*configPath, cfg)
		if err != nil {
			slog.Error("failed to load config file", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
		slog.Info("config file loaded", "path", *configPath)
	}

	applyEnvOverrides(cfg)

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = randomSecret()
		slog.Warn("CONDOR_JWT_SECRET not set, using an ephemeral secret; tokens will not survive restarts")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize the decision engine. Rule sets are loaded per evaluation
	// from the repository, so there is nothing to preload here.
	eng := engine.NewEngine()
	slog.Info("decision engine initialized")

	// Initialize rate limiter (counters live in the cache)
	limiter := ratelimit.NewLimiter(cacheImpl, cfg.RateLimit)
	if cfg.RateLimit.Enabled {
		slog.Info("rate limiting enabled",
			"requests_per_minute", cfg.RateLimit.RequestsPerMinute,
			"evaluations_per_minute", cfg.RateLimit.EvaluationsPerMinute,
		)
	}

	logCorpusStatus(ctx, repo)

	// Start the async worker: calendar materialization and cache
	// invalidation ride the event bus on every tier.
	tenants := tenantList()
	asyncWorker := worker.NewWorker(busImpl, repo, cacheImpl)
	if err := asyncWorker.Start(worker.Config{TenantIDs: tenants}); err != nil {
		slog.Error("failed to start async worker", "error", err)
	}

	// Initialize Server
	srv := api.NewServer(cfg, repo, cacheImpl, busImpl, eng, limiter, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("condor is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("condor shutdown complete")
}

// applyEnvOverrides layers CONDOR_* environment variables over the config.
// Only settings that differ between deployments are exposed this way; the
// rest comes from the YAML file.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("CONDOR_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("CONDOR_DB_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("CONDOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			slog.Warn("ignoring invalid CONDOR_PORT", "value", v)
		}
	}
}

// randomSecret returns a hex-encoded 256-bit secret for development runs.
func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		slog.Error("failed to generate random secret", "error", err)
		os.Exit(1)
	}
	return hex.EncodeToString(buf)
}

// tenantList parses CONDOR_TENANTS as a comma-separated list. Empty means
// the worker falls back to the default tenant.
func tenantList() []string {
	raw := os.Getenv("CONDOR_TENANTS")
	if raw == "" {
		return nil
	}
	var tenants []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

// logCorpusStatus reports which fiscal years are loaded and whether each has
// an active rule set. The server starts either way; an empty database just
// means every evaluation returns 409 until the corpus is seeded.
func logCorpusStatus(ctx context.Context, repo domain.Repository) {
	years, err := repo.ListFiscalYears(ctx, defaultTenantID)
	if err != nil {
		slog.Warn("failed to list fiscal years", "error", err)
		return
	}
	if len(years) == 0 {
		slog.Info("no fiscal years in database - load the corpus via cmd/seed or the admin API")
		return
	}

	for _, fy := range years {
		hasRules := false
		if _, err := repo.GetActiveRuleSet(ctx, defaultTenantID, fy.ID); err == nil {
			hasRules = true
		}
		slog.Info("fiscal year loaded",
			"year", fy.Year,
			"status", fy.Status,
			"uvt_value", fy.UVTValue.String(),
			"active_rule_set", hasRules,
		)
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 CONDOR                   ║")
	fmt.Println("  ║      Tax Obligation Decision Engine       ║")
	fmt.Println("  ║      Know what you owe. Informative.      ║")
	fmt.Println("  ╚══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/auth/register        - Create an account")
	fmt.Println("    POST /api/v1/auth/login           - Obtain a token pair")
	fmt.Println("    GET  /api/v1/fiscal-years         - Active fiscal years (public)")
	fmt.Println("    POST /api/v1/profiles             - Declare a tax profile")
	fmt.Println("    POST /api/v1/evaluations          - Evaluate obligations")
	fmt.Println("    GET  /api/v1/evaluations/{id}     - Get an evaluation")
	fmt.Println("    GET  /api/v1/obligations          - Obligation catalog")
	fmt.Println("    GET  /api/v1/calendar             - Compliance calendar")
	fmt.Println("    GET  /api/v1/disclaimers/current  - Current disclaimer")
	fmt.Println("    POST /api/v1/admin/rule-sets      - Author rule sets (admin)")
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println()
}
