package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/condor/internal/domain"
)

const taxProfileColumns = `
	id, tenant_id, user_id, fiscal_year_id, persona_type, regime,
	is_iva_responsable, ingresos_brutos_cop, patrimonio_bruto_cop,
	consignaciones_cop, compras_consumos_cop, has_employees, employee_count,
	economic_activity_ciiu, economic_activities, city, department, has_rut,
	has_comercio_registration, nit_last_digit, additional_data,
	created_at, updated_at`

// SaveTaxProfile creates or updates the single profile a user has per
// fiscal year. The (user, fiscal year) pair is the natural key; saving again
// overwrites the declared data in place.
func (r *SQLRepository) SaveTaxProfile(ctx context.Context, tenantID string, profile *domain.TaxProfile) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if err := profile.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	query := `
		INSERT INTO tax_profiles (` + taxProfileColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, user_id, fiscal_year_id) DO UPDATE SET
			persona_type = excluded.persona_type,
			regime = excluded.regime,
			is_iva_responsable = excluded.is_iva_responsable,
			ingresos_brutos_cop = excluded.ingresos_brutos_cop,
			patrimonio_bruto_cop = excluded.patrimonio_bruto_cop,
			consignaciones_cop = excluded.consignaciones_cop,
			compras_consumos_cop = excluded.compras_consumos_cop,
			has_employees = excluded.has_employees,
			employee_count = excluded.employee_count,
			economic_activity_ciiu = excluded.economic_activity_ciiu,
			economic_activities = excluded.economic_activities,
			city = excluded.city,
			department = excluded.department,
			has_rut = excluded.has_rut,
			has_comercio_registration = excluded.has_comercio_registration,
			nit_last_digit = excluded.nit_last_digit,
			additional_data = excluded.additional_data,
			updated_at = excluded.updated_at
	`

	var nitDigit any
	if profile.NITLastDigit != nil {
		nitDigit = *profile.NITLastDigit
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		profile.ID, tenantID, profile.UserID, profile.FiscalYearID,
		profile.PersonaType, profile.Regime, boolToInt(profile.IsIVAResponsable),
		profile.IngresosBrutosCOP.String(),
		decimalString(profile.PatrimonioBrutoCOP),
		decimalString(profile.ConsignacionesCOP),
		decimalString(profile.ComprasConsumosCOP),
		boolToInt(profile.HasEmployees), profile.EmployeeCount,
		profile.EconomicActivityCIIU, marshalJSON(profile.EconomicActivities),
		profile.City, profile.Department, boolToInt(profile.HasRUT),
		boolToInt(profile.HasComercioRegistration), nitDigit,
		marshalJSON(profile.AdditionalData),
		profile.CreatedAt, profile.UpdatedAt,
	)
	return err
}

// GetTaxProfile retrieves a profile by ID with tenant isolation.
func (r *SQLRepository) GetTaxProfile(ctx context.Context, tenantID string, profileID string) (*domain.TaxProfile, error) {
	return r.getTaxProfileWhere(ctx, tenantID, "id = ?", profileID)
}

// GetTaxProfileByUserYear retrieves the user's profile for a fiscal year.
func (r *SQLRepository) GetTaxProfileByUserYear(ctx context.Context, tenantID string, userID string, fyID string) (*domain.TaxProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + taxProfileColumns + `
		FROM tax_profiles
		WHERE tenant_id = ? AND user_id = ? AND fiscal_year_id = ?`

	p, err := scanTaxProfile(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, userID, fyID))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return p, nil
}

func (r *SQLRepository) getTaxProfileWhere(ctx context.Context, tenantID, where string, arg any) (*domain.TaxProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + taxProfileColumns + `
		FROM tax_profiles
		WHERE tenant_id = ? AND ` + where

	p, err := scanTaxProfile(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, arg))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return p, nil
}

// DeleteTaxProfile removes a profile. Past evaluations keep their frozen
// snapshots; only the mutable declared data goes away.
func (r *SQLRepository) DeleteTaxProfile(ctx context.Context, tenantID string, profileID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	res, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM tax_profiles WHERE tenant_id = ? AND id = ?`),
		tenantID, profileID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTaxProfiles returns a user's profiles across fiscal years.
func (r *SQLRepository) ListTaxProfiles(ctx context.Context, tenantID string, userID string) ([]*domain.TaxProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + taxProfileColumns + `
		FROM tax_profiles
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*domain.TaxProfile
	for rows.Next() {
		p, err := scanTaxProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	return profiles, rows.Err()
}

func scanTaxProfile(row rowScanner) (*domain.TaxProfile, error) {
	var p domain.TaxProfile
	var isIVA, hasEmployees, hasRUT, hasComercio int
	var ingresos string
	var patrimonio, consignaciones, compras *string
	var activities, additional string
	var nitDigit sql.NullInt64

	err := row.Scan(
		&p.ID, &p.TenantID, &p.UserID, &p.FiscalYearID, &p.PersonaType, &p.Regime,
		&isIVA, &ingresos, &patrimonio, &consignaciones, &compras,
		&hasEmployees, &p.EmployeeCount, &p.EconomicActivityCIIU, &activities,
		&p.City, &p.Department, &hasRUT, &hasComercio, &nitDigit, &additional,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.IsIVAResponsable = isIVA == 1
	p.HasEmployees = hasEmployees == 1
	p.HasRUT = hasRUT == 1
	p.HasComercioRegistration = hasComercio == 1

	if p.IngresosBrutosCOP, err = decimal.NewFromString(ingresos); err != nil {
		return nil, fmt.Errorf("corrupt ingresos_brutos_cop for profile %s: %w", p.ID, err)
	}
	if p.PatrimonioBrutoCOP, err = parseDecimal(patrimonio); err != nil {
		return nil, fmt.Errorf("corrupt patrimonio_bruto_cop for profile %s: %w", p.ID, err)
	}
	if p.ConsignacionesCOP, err = parseDecimal(consignaciones); err != nil {
		return nil, fmt.Errorf("corrupt consignaciones_cop for profile %s: %w", p.ID, err)
	}
	if p.ComprasConsumosCOP, err = parseDecimal(compras); err != nil {
		return nil, fmt.Errorf("corrupt compras_consumos_cop for profile %s: %w", p.ID, err)
	}

	if nitDigit.Valid {
		d := int(nitDigit.Int64)
		p.NITLastDigit = &d
	}
	if activities != "" && activities != "null" {
		json.Unmarshal([]byte(activities), &p.EconomicActivities)
	}
	if additional != "" && additional != "null" {
		json.Unmarshal([]byte(additional), &p.AdditionalData)
	}

	return &p, nil
}
