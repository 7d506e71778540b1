package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Persona types.
const (
	PersonaNatural  = "natural"
	PersonaJuridica = "juridica"
)

// TaxProfile is the declared financial and legal snapshot of a taxpayer for
// one fiscal year. Exactly one profile exists per (user, fiscal year).
type TaxProfile struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	TenantID     string `json:"tenant_id"`
	FiscalYearID string `json:"fiscal_year_id"`

	PersonaType             string           `json:"persona_type"`
	Regime                  string           `json:"regime"`
	IsIVAResponsable        bool             `json:"is_iva_responsable"`
	IngresosBrutosCOP       decimal.Decimal  `json:"ingresos_brutos_cop"`
	PatrimonioBrutoCOP      *decimal.Decimal `json:"patrimonio_bruto_cop,omitempty"`
	ConsignacionesCOP       *decimal.Decimal `json:"consignaciones_cop,omitempty"`
	ComprasConsumosCOP      *decimal.Decimal `json:"compras_consumos_cop,omitempty"`
	HasEmployees            bool             `json:"has_employees"`
	EmployeeCount           int              `json:"employee_count"`
	EconomicActivityCIIU    string           `json:"economic_activity_ciiu,omitempty"`
	EconomicActivities      []string         `json:"economic_activities,omitempty"`
	City                    string           `json:"city,omitempty"`
	Department              string           `json:"department,omitempty"`
	HasRUT                  bool             `json:"has_rut"`
	HasComercioRegistration bool             `json:"has_comercio_registration"`
	NITLastDigit            *int             `json:"nit_last_digit,omitempty"`

	// AdditionalData carries declared fields not yet promoted to first-class.
	// Rule conditions may reference them by name.
	AdditionalData map[string]any `json:"additional_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldValue resolves a condition's field name against the profile. First-class
// fields are matched by their wire name through a static switch; anything else
// falls back to AdditionalData. A missing field yields nil, which every
// operator treats as a failed predicate.
func (p *TaxProfile) FieldValue(name string) any {
	switch name {
	case "persona_type":
		return p.PersonaType
	case "regime":
		return p.Regime
	case "is_iva_responsable":
		return p.IsIVAResponsable
	case "ingresos_brutos_cop":
		return p.IngresosBrutosCOP
	case "patrimonio_bruto_cop":
		if p.PatrimonioBrutoCOP == nil {
			return nil
		}
		return *p.PatrimonioBrutoCOP
	case "consignaciones_cop":
		if p.ConsignacionesCOP == nil {
			return nil
		}
		return *p.ConsignacionesCOP
	case "compras_consumos_cop":
		if p.ComprasConsumosCOP == nil {
			return nil
		}
		return *p.ComprasConsumosCOP
	case "has_employees":
		return p.HasEmployees
	case "employee_count":
		return p.EmployeeCount
	case "economic_activity_ciiu":
		return p.EconomicActivityCIIU
	case "economic_activities":
		return p.EconomicActivities
	case "city":
		return p.City
	case "department":
		return p.Department
	case "has_rut":
		return p.HasRUT
	case "has_comercio_registration":
		return p.HasComercioRegistration
	case "nit_last_digit":
		if p.NITLastDigit == nil {
			return nil
		}
		return *p.NITLastDigit
	}
	if p.AdditionalData != nil {
		if v, ok := p.AdditionalData[name]; ok {
			return v
		}
	}
	return nil
}

// Snapshot returns the profile frozen as JSON. Evaluations store the snapshot
// instead of re-reading the profile; later profile edits never touch it.
func (p *TaxProfile) Snapshot() (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Validate checks required fields and ranges.
func (p *TaxProfile) Validate() error {
	if p.UserID == "" || p.TenantID == "" || p.FiscalYearID == "" {
		return ErrInvalidInput
	}
	if p.IngresosBrutosCOP.IsNegative() {
		return ErrInvalidInput
	}
	if p.NITLastDigit != nil && (*p.NITLastDigit < 0 || *p.NITLastDigit > 9) {
		return ErrInvalidInput
	}
	if p.EmployeeCount < 0 {
		return ErrInvalidInput
	}
	return nil
}
