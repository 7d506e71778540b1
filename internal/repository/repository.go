// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/condor/internal/domain"
)

// Sentinel errors are shared with the domain package so errors.Is works the
// same on either side of the interface.
var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
	ErrConflict     = domain.ErrConflict
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveUser stores or updates a user account with tenant isolation.
func (r *SQLRepository) SaveUser(ctx context.Context, tenantID string, user *domain.User) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (
			id, tenant_id, email, password_hash, full_name, role, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			password_hash = excluded.password_hash,
			full_name = excluded.full_name,
			role = excluded.role,
			is_active = excluded.is_active
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		user.ID, tenantID, domain.NormalizeEmail(user.Email), user.PasswordHash,
		user.FullName, user.Role, boolToInt(user.IsActive), user.CreatedAt,
	)
	return err
}

// GetUser retrieves a user by ID with tenant isolation.
func (r *SQLRepository) GetUser(ctx context.Context, tenantID string, userID string) (*domain.User, error) {
	return r.getUserWhere(ctx, tenantID, "id = ?", userID)
}

// GetUserByEmail retrieves a user by normalized email with tenant isolation.
func (r *SQLRepository) GetUserByEmail(ctx context.Context, tenantID string, email string) (*domain.User, error) {
	return r.getUserWhere(ctx, tenantID, "email = ?", domain.NormalizeEmail(email))
}

func (r *SQLRepository) getUserWhere(ctx context.Context, tenantID, where string, arg any) (*domain.User, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, email, password_hash, full_name, role, is_active, created_at
		FROM users
		WHERE tenant_id = ? AND ` + where

	var u domain.User
	var isActive int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, arg).Scan(
		&u.ID, &u.TenantID, &u.Email, &u.PasswordHash,
		&u.FullName, &u.Role, &isActive, &u.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	u.IsActive = isActive == 1
	return &u, nil
}

// AppendAudit stores an append-only audit record.
func (r *SQLRepository) AppendAudit(ctx context.Context, tenantID string, entry *domain.AuditEntry) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	detail := "{}"
	if len(entry.Detail) > 0 {
		detail = string(entry.Detail)
	}

	query := `
		INSERT INTO audit_log (
			id, tenant_id, actor_id, action, entity_type, entity_id, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, tenantID, entry.ActorID, entry.Action,
		entry.EntityType, entry.EntityID, detail, entry.CreatedAt,
	)
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// forUpdate appends a row lock clause on engines that support it. SQLite
// serializes writers on its own.
func (r *SQLRepository) forUpdate(query string) string {
	if r.driver == "postgres" {
		return query + " FOR UPDATE"
	}
	return query
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalJSON(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}
