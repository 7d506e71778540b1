// Seeds the fiscal-year-2025 corpus into a Condor database and optionally
// bootstraps an admin account.
//
// Usage:
//
//	go run ./cmd/seed [-config condor.yaml] [-db ./condor.db] [-tenant default]
//	go run ./cmd/seed -admin-email admin@example.com -admin-password secret
//
// The loader is idempotent; rerunning it against a seeded database is a no-op.

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/opensource-finance/condor/internal/api"
	"github.com/opensource-finance/condor/internal/domain"
	"github.com/opensource-finance/condor/internal/repository"
	"github.com/opensource-finance/condor/internal/seed"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	tenantID := flag.String("tenant", "default", "tenant to seed")
	adminEmail := flag.String("admin-email", os.Getenv("CONDOR_ADMIN_EMAIL"), "admin account email (optional)")
	adminPassword := flag.String("admin-password", os.Getenv("CONDOR_ADMIN_PASSWORD"), "admin account password (optional)")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := domain.DefaultConfig()
	if os.Getenv("CONDOR_TIER") == "pro" {
		cfg = domain.ProConfig()
	}
	if *configPath != "" {
		loaded, err := domain.LoadConfigFile(*configPath, cfg)
		if err != nil {
			slog.Error("failed to load config file", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if v := os.Getenv("CONDOR_DB_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if *dbPath != "" {
		cfg.Repository.Driver = "sqlite"
		cfg.Repository.SQLitePath = *dbPath
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()

	slog.Info("seeding corpus",
		"driver", cfg.Repository.Driver,
		"tenant_id", *tenantID,
	)
	if err := seed.New(repo).Run(ctx, *tenantID); err != nil {
		slog.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	if *adminEmail != "" {
		if err := bootstrapAdmin(ctx, repo, cfg, *tenantID, *adminEmail, *adminPassword); err != nil {
			slog.Error("admin bootstrap failed", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("seeding complete")
}

// bootstrapAdmin creates an admin account unless the email is already taken.
func bootstrapAdmin(ctx context.Context, repo domain.Repository, cfg *domain.Config, tenantID, email, password string) error {
	if password == "" {
		return errors.New("admin password is required when admin email is set")
	}
	if len(password) < 8 {
		return errors.New("admin password must be at least 8 characters")
	}

	email = domain.NormalizeEmail(email)
	if _, err := repo.GetUserByEmail(ctx, tenantID, email); err == nil {
		slog.Info("admin account already exists", "email", email)
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	hash, err := api.HashPassword(password, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	admin := &domain.User{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: hash,
		FullName:     "Administrator",
		Role:         domain.RoleAdmin,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.SaveUser(ctx, tenantID, admin); err != nil {
		return err
	}

	slog.Info("admin account created", "email", email, "tenant_id", tenantID)
	return nil
}
