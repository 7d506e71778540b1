// Package seed embeds the fiscal-year-2025 decision corpus and loads it into
// a repository. Loading is idempotent: records already present are left
// untouched, so the loader can run on every startup or be invoked repeatedly
// from cmd/seed.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/condor/internal/domain"
)

// disclaimerTextV1 is the full informational notice shipped with the 2025
// corpus. The shorter domain.DisclaimerText constant is the fallback used
// when no disclaimer row exists.
const disclaimerTextV1 = "Esta información es de carácter orientativo y educativo. " +
	"No constituye asesoría tributaria, contable ni legal. No reemplaza la consulta " +
	"con un contador público certificado. Los resultados se basan en las reglas " +
	"vigentes y la información suministrada por el usuario. La plataforma no " +
	"presenta declaraciones oficiales ni interactúa con entidades gubernamentales. " +
	"Use esta información bajo su propia responsabilidad."

// Loader writes the embedded corpus through a repository.
type Loader struct {
	repo domain.Repository
}

// New creates a corpus loader over the given repository.
func New(repo domain.Repository) *Loader {
	return &Loader{repo: repo}
}

// Run loads the complete 2025 corpus for one tenant: obligation catalog,
// fiscal year, thresholds, periodicities, rule set v1 (published) and the
// current disclaimer.
func (l *Loader) Run(ctx context.Context, tenantID string) error {
	obligations, err := l.loadObligations(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("seed obligations: %w", err)
	}

	fy, err := l.loadFiscalYear(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("seed fiscal year: %w", err)
	}

	if err := l.loadThresholds(ctx, tenantID, fy); err != nil {
		return fmt.Errorf("seed thresholds: %w", err)
	}
	if err := l.loadPeriodicities(ctx, tenantID, fy.ID, obligations); err != nil {
		return fmt.Errorf("seed periodicities: %w", err)
	}
	if err := l.loadRules(ctx, tenantID, fy.ID, obligations); err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}
	if err := l.loadDisclaimer(ctx); err != nil {
		return fmt.Errorf("seed disclaimer: %w", err)
	}

	slog.Info("seed corpus loaded",
		"tenant_id", tenantID,
		"fiscal_year", fy.Year,
	)
	return nil
}

// loadObligations inserts missing catalog entries and returns the full
// code -> id mapping, including pre-existing rows.
func (l *Loader) loadObligations(ctx context.Context, tenantID string) (map[string]string, error) {
	mapping := make(map[string]string)
	created := 0

	for _, data := range obligationTypes() {
		existing, err := l.repo.GetObligationTypeByCode(ctx, tenantID, data.Code)
		if err == nil {
			mapping[data.Code] = existing.ID
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		ot := &domain.ObligationType{
			ID:                uuid.New().String(),
			TenantID:          tenantID,
			Code:              data.Code,
			Name:              data.Name,
			Category:          data.Category,
			Description:       data.Description,
			ResponsibleEntity: data.ResponsibleEntity,
			LegalBase:         data.LegalBase,
			IsActive:          true,
			DisplayOrder:      data.DisplayOrder,
			CreatedAt:         time.Now().UTC(),
		}
		if err := l.repo.SaveObligationType(ctx, tenantID, ot); err != nil {
			return nil, err
		}
		mapping[data.Code] = ot.ID
		created++
	}

	slog.Info("seeded obligation types", "created", created, "total", len(mapping))
	return mapping, nil
}

func (l *Loader) loadFiscalYear(ctx context.Context, tenantID string) (*domain.FiscalYear, error) {
	data := fiscalYear2025()

	existing, err := l.repo.GetFiscalYearByYear(ctx, tenantID, data.Year)
	if err == nil {
		slog.Info("fiscal year already seeded", "year", data.Year)
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	fy := &domain.FiscalYear{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Year:      data.Year,
		Status:    data.Status,
		UVTValue:  data.UVTValue,
		Notes:     data.Notes,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.SaveFiscalYear(ctx, tenantID, fy); err != nil {
		return nil, err
	}

	slog.Info("seeded fiscal year", "year", fy.Year, "uvt_value", fy.UVTValue.String())
	return fy, nil
}

// loadThresholds stores each threshold with both its UVT amount and the COP
// amount materialized through the year's UVT value, as published corpora do.
func (l *Loader) loadThresholds(ctx context.Context, tenantID string, fy *domain.FiscalYear) error {
	created := 0

	for _, data := range thresholds2025() {
		_, err := l.repo.GetThreshold(ctx, tenantID, fy.ID, data.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		uvt := data.ValueUVT
		cop := fy.COPFromUVT(data.ValueUVT)
		th := &domain.Threshold{
			ID:             uuid.New().String(),
			TenantID:       tenantID,
			FiscalYearID:   fy.ID,
			Code:           data.Code,
			Label:          data.Label,
			ValueUVT:       &uvt,
			ValueCOP:       &cop,
			Description:    data.Description,
			LegalReference: data.LegalReference,
			CreatedAt:      time.Now().UTC(),
		}
		if err := l.repo.SaveThreshold(ctx, tenantID, th); err != nil {
			return err
		}
		created++
	}

	slog.Info("seeded thresholds", "created", created)
	return nil
}

func (l *Loader) loadPeriodicities(ctx context.Context, tenantID string, fyID string, obligations map[string]string) error {
	existing, err := l.repo.ListPeriodicities(ctx, tenantID, fyID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.ObligationTypeID] = true
	}

	created := 0
	for _, data := range periodicities2025() {
		obligationID, ok := obligations[data.ObligationCode]
		if !ok || seen[obligationID] {
			continue
		}

		p := &domain.ObligationPeriodicity{
			ID:               uuid.New().String(),
			ObligationTypeID: obligationID,
			FiscalYearID:     fyID,
			Frequency:        data.Frequency,
			Description:      data.Description,
		}
		if err := l.repo.SavePeriodicity(ctx, tenantID, p); err != nil {
			return err
		}
		created++
	}

	slog.Info("seeded periodicities", "created", created)
	return nil
}

// loadRules creates rule set v1 as a draft, attaches the corpus rules and
// publishes it. An existing v1 for the year means the corpus is already in
// place and the step is skipped entirely.
func (l *Loader) loadRules(ctx context.Context, tenantID string, fyID string, obligations map[string]string) error {
	sets, err := l.repo.ListRuleSets(ctx, tenantID, fyID)
	if err != nil {
		return err
	}
	for _, rs := range sets {
		if rs.Version == 1 {
			slog.Info("rule set v1 already seeded", "rule_set_id", rs.ID, "status", rs.Status)
			return nil
		}
	}

	rs := &domain.RuleSet{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		FiscalYearID: fyID,
		Changelog:    "Corpus inicial año gravable 2025",
	}
	if err := l.repo.SaveRuleSet(ctx, tenantID, rs); err != nil {
		return err
	}

	count := 0
	for _, data := range rules2025() {
		obligationID, ok := obligations[data.ObligationCode]
		if !ok {
			continue
		}

		rule := &domain.Rule{
			ID:               uuid.New().String(),
			RuleSetID:        rs.ID,
			ObligationTypeID: obligationID,
			Code:             data.Code,
			Name:             data.Name,
			Description:      data.Description,
			LogicOperator:    data.LogicOperator,
			Priority:         data.Priority,
			ResultIfTrue:     data.ResultIfTrue,
			IsActive:         true,
			Conditions:       data.Conditions,
		}
		if err := l.repo.SaveRule(ctx, tenantID, rule); err != nil {
			return fmt.Errorf("rule %s: %w", data.Code, err)
		}
		count++
	}

	published, err := l.repo.PublishRuleSet(ctx, tenantID, rs.ID)
	if err != nil {
		return fmt.Errorf("publish rule set: %w", err)
	}

	slog.Info("seeded rule set",
		"rule_set_id", published.ID,
		"version", published.Version,
		"rules", count,
	)
	return nil
}

func (l *Loader) loadDisclaimer(ctx context.Context) error {
	if _, err := l.repo.GetCurrentDisclaimer(ctx); err == nil {
		slog.Info("disclaimer already seeded")
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	d := &domain.DisclaimerVersion{
		ID:        uuid.New().String(),
		Version:   1,
		Text:      disclaimerTextV1,
		IsCurrent: true,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.SaveDisclaimer(ctx, d); err != nil {
		return err
	}

	slog.Info("seeded disclaimer", "version", d.Version)
	return nil
}
