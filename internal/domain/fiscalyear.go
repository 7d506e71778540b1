package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fiscal year lifecycle states.
const (
	FiscalYearDraft    = "draft"
	FiscalYearActive   = "active"
	FiscalYearArchived = "archived"
)

// FiscalYear holds the tax parameters for one calendar year.
// The UVT value is the monetary multiplier published by DIAN for the year;
// every UVT-denominated threshold materializes to COP through it.
type FiscalYear struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Year      int             `json:"year"`
	Status    string          `json:"status"`
	UVTValue  decimal.Decimal `json:"uvt_value"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// COPFromUVT materializes an amount of UVT units into COP for this year.
func (f *FiscalYear) COPFromUVT(uvt decimal.Decimal) decimal.Decimal {
	return uvt.Mul(f.UVTValue)
}

// UVTValueKey is the reserved threshold-map key carrying the fiscal year's
// UVT value. Conditions with value_type uvt_expr resolve against it.
const UVTValueKey = "uvt_value"

// Threshold is a named scalar for one fiscal year, referenced by rule
// conditions through its code. An explicit ValueCOP wins; otherwise ValueUVT
// materializes to COP through the year's UVT value at resolution time. At
// least one of the two must be set.
type Threshold struct {
	ID             string           `json:"id"`
	TenantID       string           `json:"tenant_id"`
	FiscalYearID   string           `json:"fiscal_year_id"`
	Code           string           `json:"code"`
	Label          string           `json:"label"`
	ValueUVT       *decimal.Decimal `json:"value_uvt,omitempty"`
	ValueCOP       *decimal.Decimal `json:"value_cop,omitempty"`
	Description    string           `json:"description,omitempty"`
	LegalReference string           `json:"legal_reference,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Validate checks the at-least-one-value invariant.
func (t *Threshold) Validate() error {
	if t.Code == "" {
		return ErrInvalidInput
	}
	if t.ValueUVT == nil && t.ValueCOP == nil {
		return ErrInvalidInput
	}
	return nil
}
