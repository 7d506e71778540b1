package domain

import "time"

// Calendar entry statuses.
const (
	CalendarPending   = "pending"
	CalendarCompleted = "completed"
	CalendarDismissed = "dismissed"
)

// CalendarEntry is a materialized deadline for one obligation that an
// evaluation concluded applies to the user. Entries are derived data: the
// worker rebuilds them from the latest evaluation, so they carry the
// evaluation they came from.
type CalendarEntry struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	TenantID         string    `json:"tenant_id"`
	EvaluationID     string    `json:"evaluation_id"`
	ObligationTypeID string    `json:"obligation_type_id"`
	ObligationCode   string    `json:"obligation_code"`
	ObligationName   string    `json:"obligation_name"`
	FiscalYearID     string    `json:"fiscal_year_id"`
	Periodicity      string    `json:"periodicity,omitempty"`
	DueDate          string    `json:"due_date,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// ValidCalendarStatus reports whether s is an accepted entry status.
func ValidCalendarStatus(s string) bool {
	switch s {
	case CalendarPending, CalendarCompleted, CalendarDismissed:
		return true
	}
	return false
}
