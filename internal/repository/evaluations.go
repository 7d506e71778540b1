package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/condor/internal/domain"
)

// SaveEvaluation persists a completed evaluation. Evaluations are
// insert-only: the stored snapshot and results never change after this call.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, ev *domain.Evaluation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if ev.ID == "" || ev.UserID == "" || ev.TaxProfileID == "" || ev.RuleSetID == "" {
		return fmt.Errorf("%w: evaluation is missing identifiers", ErrInvalidInput)
	}

	if ev.EvaluatedAt.IsZero() {
		ev.EvaluatedAt = time.Now().UTC()
	}

	results, err := json.Marshal(ev.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	snapshot := ev.ProfileSnapshot
	if len(snapshot) == 0 {
		snapshot = json.RawMessage("{}")
	}

	query := `
		INSERT INTO evaluations (
			id, tenant_id, user_id, tax_profile_id, rule_set_id, fiscal_year_id,
			status, evaluated_at, profile_snapshot, results
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, tenantID, ev.UserID, ev.TaxProfileID, ev.RuleSetID, ev.FiscalYearID,
		ev.Status, ev.EvaluatedAt, string(snapshot), string(results),
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evaluationID string) (*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, tax_profile_id, rule_set_id, fiscal_year_id,
		       status, evaluated_at, profile_snapshot, results
		FROM evaluations
		WHERE tenant_id = ? AND id = ?
	`

	ev, err := scanEvaluation(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evaluationID))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return ev, nil
}

// ListEvaluations returns a user's evaluations, newest first. A limit of zero
// or less falls back to 20.
func (r *SQLRepository) ListEvaluations(ctx context.Context, tenantID string, userID string, limit int) ([]*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, tenant_id, user_id, tax_profile_id, rule_set_id, fiscal_year_id,
		       status, evaluated_at, profile_snapshot, results
		FROM evaluations
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY evaluated_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evaluations []*domain.Evaluation
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evaluations = append(evaluations, ev)
	}

	return evaluations, rows.Err()
}

func scanEvaluation(row rowScanner) (*domain.Evaluation, error) {
	var ev domain.Evaluation
	var snapshot, results string

	err := row.Scan(
		&ev.ID, &ev.TenantID, &ev.UserID, &ev.TaxProfileID, &ev.RuleSetID,
		&ev.FiscalYearID, &ev.Status, &ev.EvaluatedAt, &snapshot, &results,
	)
	if err != nil {
		return nil, err
	}

	ev.ProfileSnapshot = json.RawMessage(snapshot)
	if err := json.Unmarshal([]byte(results), &ev.Results); err != nil {
		return nil, fmt.Errorf("corrupt results for evaluation %s: %w", ev.ID, err)
	}
	return &ev, nil
}
