package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/condor/internal/domain"
)

// SaveObligationType stores or updates a catalog entry with tenant isolation.
func (r *SQLRepository) SaveObligationType(ctx context.Context, tenantID string, ot *domain.ObligationType) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if ot.Code == "" || ot.Name == "" {
		return fmt.Errorf("%w: code and name are required", ErrInvalidInput)
	}

	if ot.CreatedAt.IsZero() {
		ot.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO obligation_types (
			id, tenant_id, code, name, category, description,
			responsible_entity, legal_base, is_active, display_order, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, code) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			description = excluded.description,
			responsible_entity = excluded.responsible_entity,
			legal_base = excluded.legal_base,
			is_active = excluded.is_active,
			display_order = excluded.display_order
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ot.ID, tenantID, ot.Code, ot.Name, ot.Category, ot.Description,
		ot.ResponsibleEntity, ot.LegalBase, boolToInt(ot.IsActive), ot.DisplayOrder, ot.CreatedAt,
	)
	return err
}

// GetObligationType retrieves a catalog entry by ID.
func (r *SQLRepository) GetObligationType(ctx context.Context, tenantID string, otID string) (*domain.ObligationType, error) {
	return r.getObligationWhere(ctx, tenantID, "id = ?", otID)
}

// GetObligationTypeByCode retrieves a catalog entry by its stable code.
func (r *SQLRepository) GetObligationTypeByCode(ctx context.Context, tenantID string, code string) (*domain.ObligationType, error) {
	return r.getObligationWhere(ctx, tenantID, "code = ?", code)
}

func (r *SQLRepository) getObligationWhere(ctx context.Context, tenantID, where string, arg any) (*domain.ObligationType, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, code, name, category, description,
		       responsible_entity, legal_base, is_active, display_order, created_at
		FROM obligation_types
		WHERE tenant_id = ? AND ` + where

	var ot domain.ObligationType
	var isActive int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, arg).Scan(
		&ot.ID, &ot.TenantID, &ot.Code, &ot.Name, &ot.Category, &ot.Description,
		&ot.ResponsibleEntity, &ot.LegalBase, &isActive, &ot.DisplayOrder, &ot.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	ot.IsActive = isActive == 1
	return &ot, nil
}

// ListObligationTypes returns the catalog in display order. The evaluation
// loop walks exactly this ordering.
func (r *SQLRepository) ListObligationTypes(ctx context.Context, tenantID string, activeOnly bool) ([]*domain.ObligationType, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, code, name, category, description,
		       responsible_entity, legal_base, is_active, display_order, created_at
		FROM obligation_types
		WHERE tenant_id = ?
	`
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY display_order, code"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var catalog []*domain.ObligationType
	for rows.Next() {
		var ot domain.ObligationType
		var isActive int

		if err := rows.Scan(
			&ot.ID, &ot.TenantID, &ot.Code, &ot.Name, &ot.Category, &ot.Description,
			&ot.ResponsibleEntity, &ot.LegalBase, &isActive, &ot.DisplayOrder, &ot.CreatedAt,
		); err != nil {
			return nil, err
		}

		ot.IsActive = isActive == 1
		catalog = append(catalog, &ot)
	}

	return catalog, rows.Err()
}

// SavePeriodicity stores or updates the filing frequency of an obligation
// for one fiscal year.
func (r *SQLRepository) SavePeriodicity(ctx context.Context, tenantID string, p *domain.ObligationPeriodicity) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if p.ObligationTypeID == "" || p.FiscalYearID == "" || p.Frequency == "" {
		return fmt.Errorf("%w: obligation, fiscal year and frequency are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO obligation_periodicities (
			id, tenant_id, obligation_type_id, fiscal_year_id, frequency, description, nit_schedule
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, obligation_type_id, fiscal_year_id) DO UPDATE SET
			frequency = excluded.frequency,
			description = excluded.description,
			nit_schedule = excluded.nit_schedule
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.ObligationTypeID, p.FiscalYearID,
		p.Frequency, p.Description, marshalJSON(p.NITSchedule),
	)
	return err
}

// ListPeriodicities returns the filing frequencies of one fiscal year.
func (r *SQLRepository) ListPeriodicities(ctx context.Context, tenantID string, fyID string) ([]*domain.ObligationPeriodicity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, obligation_type_id, fiscal_year_id, frequency, description, nit_schedule
		FROM obligation_periodicities
		WHERE tenant_id = ? AND fiscal_year_id = ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, fyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periodicities []*domain.ObligationPeriodicity
	for rows.Next() {
		var p domain.ObligationPeriodicity
		var tenant, schedule string

		if err := rows.Scan(&p.ID, &tenant, &p.ObligationTypeID, &p.FiscalYearID,
			&p.Frequency, &p.Description, &schedule); err != nil {
			return nil, err
		}
		if schedule != "" && schedule != "null" {
			json.Unmarshal([]byte(schedule), &p.NITSchedule)
		}
		periodicities = append(periodicities, &p)
	}

	return periodicities, rows.Err()
}
