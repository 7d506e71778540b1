package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/condor/internal/domain"
)

// SaveFiscalYear stores or updates a fiscal year with tenant isolation.
func (r *SQLRepository) SaveFiscalYear(ctx context.Context, tenantID string, fy *domain.FiscalYear) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if fy.Year < 2000 || fy.UVTValue.IsZero() || fy.UVTValue.IsNegative() {
		return fmt.Errorf("%w: year and a positive uvt_value are required", ErrInvalidInput)
	}

	if fy.CreatedAt.IsZero() {
		fy.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO fiscal_years (
			id, tenant_id, year, status, uvt_value, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			uvt_value = excluded.uvt_value,
			notes = excluded.notes
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		fy.ID, tenantID, fy.Year, fy.Status, fy.UVTValue.String(), fy.Notes, fy.CreatedAt,
	)
	return err
}

// GetFiscalYear retrieves a fiscal year by ID with tenant isolation.
func (r *SQLRepository) GetFiscalYear(ctx context.Context, tenantID string, fyID string) (*domain.FiscalYear, error) {
	return r.getFiscalYearWhere(ctx, tenantID, "id = ?", fyID)
}

// GetFiscalYearByYear retrieves a fiscal year by calendar year.
func (r *SQLRepository) GetFiscalYearByYear(ctx context.Context, tenantID string, year int) (*domain.FiscalYear, error) {
	return r.getFiscalYearWhere(ctx, tenantID, "year = ?", year)
}

func (r *SQLRepository) getFiscalYearWhere(ctx context.Context, tenantID, where string, arg any) (*domain.FiscalYear, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, year, status, uvt_value, notes, created_at
		FROM fiscal_years
		WHERE tenant_id = ? AND ` + where

	var fy domain.FiscalYear
	var uvt string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, arg).Scan(
		&fy.ID, &fy.TenantID, &fy.Year, &fy.Status, &uvt, &fy.Notes, &fy.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	fy.UVTValue, err = decimal.NewFromString(uvt)
	if err != nil {
		return nil, fmt.Errorf("corrupt uvt_value for fiscal year %s: %w", fy.ID, err)
	}
	return &fy, nil
}

// ListFiscalYears returns the tenant's fiscal years, newest first.
func (r *SQLRepository) ListFiscalYears(ctx context.Context, tenantID string) ([]*domain.FiscalYear, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, year, status, uvt_value, notes, created_at
		FROM fiscal_years
		WHERE tenant_id = ?
		ORDER BY year DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var years []*domain.FiscalYear
	for rows.Next() {
		var fy domain.FiscalYear
		var uvt string

		if err := rows.Scan(&fy.ID, &fy.TenantID, &fy.Year, &fy.Status, &uvt, &fy.Notes, &fy.CreatedAt); err != nil {
			return nil, err
		}
		if fy.UVTValue, err = decimal.NewFromString(uvt); err != nil {
			return nil, fmt.Errorf("corrupt uvt_value for fiscal year %s: %w", fy.ID, err)
		}
		years = append(years, &fy)
	}

	return years, rows.Err()
}

// SaveThreshold stores or updates a named threshold with tenant isolation.
// The (fiscal year, code) pair is the natural key admins address.
func (r *SQLRepository) SaveThreshold(ctx context.Context, tenantID string, th *domain.Threshold) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if err := th.Validate(); err != nil {
		return err
	}

	if th.CreatedAt.IsZero() {
		th.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO thresholds (
			id, tenant_id, fiscal_year_id, code, label,
			value_uvt, value_cop, description, legal_reference, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, fiscal_year_id, code) DO UPDATE SET
			label = excluded.label,
			value_uvt = excluded.value_uvt,
			value_cop = excluded.value_cop,
			description = excluded.description,
			legal_reference = excluded.legal_reference
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		th.ID, tenantID, th.FiscalYearID, th.Code, th.Label,
		decimalString(th.ValueUVT), decimalString(th.ValueCOP),
		th.Description, th.LegalReference, th.CreatedAt,
	)
	return err
}

// GetThreshold retrieves a threshold by fiscal year and code.
func (r *SQLRepository) GetThreshold(ctx context.Context, tenantID string, fyID string, code string) (*domain.Threshold, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, fiscal_year_id, code, label,
		       value_uvt, value_cop, description, legal_reference, created_at
		FROM thresholds
		WHERE tenant_id = ? AND fiscal_year_id = ? AND code = ?
	`

	th, err := scanThreshold(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, fyID, code))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return th, nil
}

// ListThresholds returns every threshold of a fiscal year, ordered by code.
func (r *SQLRepository) ListThresholds(ctx context.Context, tenantID string, fyID string) ([]*domain.Threshold, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, fiscal_year_id, code, label,
		       value_uvt, value_cop, description, legal_reference, created_at
		FROM thresholds
		WHERE tenant_id = ? AND fiscal_year_id = ?
		ORDER BY code
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, fyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var thresholds []*domain.Threshold
	for rows.Next() {
		th, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		thresholds = append(thresholds, th)
	}

	return thresholds, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThreshold(row rowScanner) (*domain.Threshold, error) {
	var th domain.Threshold
	var uvt, cop *string

	err := row.Scan(
		&th.ID, &th.TenantID, &th.FiscalYearID, &th.Code, &th.Label,
		&uvt, &cop, &th.Description, &th.LegalReference, &th.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if th.ValueUVT, err = parseDecimal(uvt); err != nil {
		return nil, fmt.Errorf("corrupt value_uvt for threshold %s: %w", th.Code, err)
	}
	if th.ValueCOP, err = parseDecimal(cop); err != nil {
		return nil, fmt.Errorf("corrupt value_cop for threshold %s: %w", th.Code, err)
	}
	return &th, nil
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
