package domain

import "time"

// Obligation categories.
const (
	CategoryNacional    = "nacional"
	CategoryTerritorial = "territorial"
	CategoryLaboral     = "laboral"
)

// ObligationType is one entry of the global obligation catalog. The catalog
// is shared by all tenants; rules bind to it by ID.
type ObligationType struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	Category          string    `json:"category"`
	Description       string    `json:"description"`
	ResponsibleEntity string    `json:"responsible_entity"`
	LegalBase         string    `json:"legal_base,omitempty"`
	IsActive          bool      `json:"is_active"`
	DisplayOrder      int       `json:"display_order"`
	CreatedAt         time.Time `json:"created_at"`
}

// Filing frequencies.
const (
	FrequencyAnual         = "anual"
	FrequencyBimestral     = "bimestral"
	FrequencyCuatrimestral = "cuatrimestral"
	FrequencyMensual       = "mensual"
)

// ObligationPeriodicity binds a filing frequency to an obligation for one
// fiscal year. NITSchedule maps the NIT last digit ("0".."9") to the due
// date for that digit, when DIAN publishes a per-digit calendar.
type ObligationPeriodicity struct {
	ID               string            `json:"id"`
	ObligationTypeID string            `json:"obligation_type_id"`
	FiscalYearID     string            `json:"fiscal_year_id"`
	Frequency        string            `json:"frequency"`
	Description      string            `json:"description,omitempty"`
	NITSchedule      map[string]string `json:"nit_schedule,omitempty"`
}

// DueDateFor returns the scheduled due date for a NIT last digit, or ""
// when no per-digit schedule exists.
func (p *ObligationPeriodicity) DueDateFor(nitLastDigit *int) string {
	if p.NITSchedule == nil || nitLastDigit == nil {
		return ""
	}
	digits := "0123456789"
	d := *nitLastDigit
	if d < 0 || d > 9 {
		return ""
	}
	return p.NITSchedule[string(digits[d])]
}
