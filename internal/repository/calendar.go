package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/condor/internal/domain"
)

// ReplaceCalendarEntries swaps a user's calendar for one fiscal year with the
// entries derived from their latest evaluation. Delete and insert run in one
// transaction so readers never observe a half-built calendar.
func (r *SQLRepository) ReplaceCalendarEntries(ctx context.Context, tenantID string, userID string, fyID string, entries []*domain.CalendarEntry) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if userID == "" || fyID == "" {
		return fmt.Errorf("%w: userID and fiscalYearID are required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := `DELETE FROM calendar_entries WHERE tenant_id = ? AND user_id = ? AND fiscal_year_id = ?`
	if _, err := tx.ExecContext(ctx, r.rebind(del), tenantID, userID, fyID); err != nil {
		return err
	}

	ins := `
		INSERT INTO calendar_entries (
			id, tenant_id, user_id, evaluation_id, obligation_type_id,
			obligation_code, obligation_name, fiscal_year_id, periodicity,
			due_date, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		if e.Status == "" {
			e.Status = domain.CalendarPending
		}
		_, err := tx.ExecContext(ctx, r.rebind(ins),
			e.ID, tenantID, userID, e.EvaluationID, e.ObligationTypeID,
			e.ObligationCode, e.ObligationName, fyID, e.Periodicity,
			e.DueDate, e.Status, e.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListCalendarEntries returns a user's calendar, ordered by due date with
// undated entries last. An empty fyID lists entries across fiscal years.
func (r *SQLRepository) ListCalendarEntries(ctx context.Context, tenantID string, userID string, fyID string) ([]*domain.CalendarEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, evaluation_id, obligation_type_id,
		       obligation_code, obligation_name, fiscal_year_id, periodicity,
		       due_date, status, created_at
		FROM calendar_entries
		WHERE tenant_id = ? AND user_id = ?`
	args := []any{tenantID, userID}
	if fyID != "" {
		query += ` AND fiscal_year_id = ?`
		args = append(args, fyID)
	}
	query += `
		ORDER BY CASE WHEN due_date IS NULL OR due_date = '' THEN 1 ELSE 0 END, due_date, obligation_code
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.CalendarEntry
	for rows.Next() {
		var e domain.CalendarEntry
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.UserID, &e.EvaluationID, &e.ObligationTypeID,
			&e.ObligationCode, &e.ObligationName, &e.FiscalYearID, &e.Periodicity,
			&e.DueDate, &e.Status, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// UpdateCalendarEntryStatus marks an entry completed or dismissed. The entry
// must belong to the user; anything else reads as not found.
func (r *SQLRepository) UpdateCalendarEntryStatus(ctx context.Context, tenantID string, userID string, entryID string, status string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if !domain.ValidCalendarStatus(status) {
		return fmt.Errorf("%w: invalid calendar status %q", ErrInvalidInput, status)
	}

	query := `UPDATE calendar_entries SET status = ? WHERE tenant_id = ? AND user_id = ? AND id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), status, tenantID, userID, entryID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCurrentDisclaimer returns the disclaimer version currently in force.
// Disclaimer versions are global, not tenant scoped.
func (r *SQLRepository) GetCurrentDisclaimer(ctx context.Context) (*domain.DisclaimerVersion, error) {
	query := `
		SELECT id, version, text, is_current, created_at
		FROM disclaimer_versions
		WHERE is_current = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var d domain.DisclaimerVersion
	var isCurrent int
	err := r.db.QueryRowContext(ctx, query).Scan(&d.ID, &d.Version, &d.Text, &isCurrent, &d.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	d.IsCurrent = isCurrent == 1
	return &d, nil
}

// SaveDisclaimer stores a disclaimer version. Marking one current unsets the
// previous current version in the same transaction.
func (r *SQLRepository) SaveDisclaimer(ctx context.Context, d *domain.DisclaimerVersion) error {
	if d.ID == "" || d.Version <= 0 || d.Text == "" {
		return fmt.Errorf("%w: id, version and text are required", ErrInvalidInput)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if d.IsCurrent {
		if _, err := tx.ExecContext(ctx, `UPDATE disclaimer_versions SET is_current = 0 WHERE is_current = 1`); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO disclaimer_versions (id, version, text, is_current, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			is_current = excluded.is_current
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query), d.ID, d.Version, d.Text, boolToInt(d.IsCurrent), d.CreatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveDisclaimerAcceptance records that a user accepted a disclaimer version.
// Accepting the same version twice is a no-op.
func (r *SQLRepository) SaveDisclaimerAcceptance(ctx context.Context, tenantID string, a *domain.DisclaimerAcceptance) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if a.ID == "" || a.UserID == "" || a.Version <= 0 {
		return fmt.Errorf("%w: id, userID and version are required", ErrInvalidInput)
	}
	if a.AcceptedAt.IsZero() {
		a.AcceptedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO disclaimer_acceptances (id, tenant_id, user_id, version, accepted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, user_id, version) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), a.ID, tenantID, a.UserID, a.Version, a.AcceptedAt)
	return err
}

// GetDisclaimerAcceptance returns the user's acceptance of a version, or
// ErrNotFound if they never accepted it.
func (r *SQLRepository) GetDisclaimerAcceptance(ctx context.Context, tenantID string, userID string, version int) (*domain.DisclaimerAcceptance, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, version, accepted_at
		FROM disclaimer_acceptances
		WHERE tenant_id = ? AND user_id = ? AND version = ?
	`

	var a domain.DisclaimerAcceptance
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, userID, version).Scan(
		&a.ID, &a.TenantID, &a.UserID, &a.Version, &a.AcceptedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &a, nil
}
