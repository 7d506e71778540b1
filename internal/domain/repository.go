// Package domain defines the core interfaces and types for Condor.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// User operations
	SaveUser(ctx context.Context, tenantID string, user *User) error
	GetUser(ctx context.Context, tenantID string, userID string) (*User, error)
	GetUserByEmail(ctx context.Context, tenantID string, email string) (*User, error)

	// Fiscal year operations
	SaveFiscalYear(ctx context.Context, tenantID string, fy *FiscalYear) error
	GetFiscalYear(ctx context.Context, tenantID string, fyID string) (*FiscalYear, error)
	GetFiscalYearByYear(ctx context.Context, tenantID string, year int) (*FiscalYear, error)
	ListFiscalYears(ctx context.Context, tenantID string) ([]*FiscalYear, error)

	// Threshold operations
	SaveThreshold(ctx context.Context, tenantID string, th *Threshold) error
	GetThreshold(ctx context.Context, tenantID string, fyID string, code string) (*Threshold, error)
	ListThresholds(ctx context.Context, tenantID string, fyID string) ([]*Threshold, error)

	// Obligation catalog operations
	SaveObligationType(ctx context.Context, tenantID string, ot *ObligationType) error
	GetObligationType(ctx context.Context, tenantID string, otID string) (*ObligationType, error)
	GetObligationTypeByCode(ctx context.Context, tenantID string, code string) (*ObligationType, error)
	ListObligationTypes(ctx context.Context, tenantID string, activeOnly bool) ([]*ObligationType, error)
	SavePeriodicity(ctx context.Context, tenantID string, p *ObligationPeriodicity) error
	ListPeriodicities(ctx context.Context, tenantID string, fyID string) ([]*ObligationPeriodicity, error)

	// Rule set operations
	SaveRuleSet(ctx context.Context, tenantID string, rs *RuleSet) error
	GetRuleSet(ctx context.Context, tenantID string, rsID string) (*RuleSet, error)
	GetActiveRuleSet(ctx context.Context, tenantID string, fyID string) (*RuleSet, error)
	ListRuleSets(ctx context.Context, tenantID string, fyID string) ([]*RuleSet, error)
	PublishRuleSet(ctx context.Context, tenantID string, rsID string) (*RuleSet, error)
	SaveRule(ctx context.Context, tenantID string, rule *Rule) error
	DeleteRule(ctx context.Context, tenantID string, rsID string, ruleID string) error

	// Tax profile operations
	SaveTaxProfile(ctx context.Context, tenantID string, profile *TaxProfile) error
	GetTaxProfile(ctx context.Context, tenantID string, profileID string) (*TaxProfile, error)
	GetTaxProfileByUserYear(ctx context.Context, tenantID string, userID string, fyID string) (*TaxProfile, error)
	ListTaxProfiles(ctx context.Context, tenantID string, userID string) ([]*TaxProfile, error)
	DeleteTaxProfile(ctx context.Context, tenantID string, profileID string) error

	// Evaluation results
	SaveEvaluation(ctx context.Context, tenantID string, eval *Evaluation) error
	GetEvaluation(ctx context.Context, tenantID string, evalID string) (*Evaluation, error)
	ListEvaluations(ctx context.Context, tenantID string, userID string, limit int) ([]*Evaluation, error)

	// Calendar operations
	ReplaceCalendarEntries(ctx context.Context, tenantID string, userID string, fiscalYearID string, entries []*CalendarEntry) error
	ListCalendarEntries(ctx context.Context, tenantID string, userID string, fiscalYearID string) ([]*CalendarEntry, error)
	UpdateCalendarEntryStatus(ctx context.Context, tenantID string, userID string, entryID string, status string) error

	// Disclaimer operations
	GetCurrentDisclaimer(ctx context.Context) (*DisclaimerVersion, error)
	SaveDisclaimer(ctx context.Context, d *DisclaimerVersion) error
	SaveDisclaimerAcceptance(ctx context.Context, tenantID string, a *DisclaimerAcceptance) error
	GetDisclaimerAcceptance(ctx context.Context, tenantID string, userID string, version int) (*DisclaimerAcceptance, error)

	// Audit log
	AppendAudit(ctx context.Context, tenantID string, entry *AuditEntry) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
