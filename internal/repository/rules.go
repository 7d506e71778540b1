package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/condor/internal/domain"
)

// SaveRuleSet creates a draft rule set, or updates the changelog of an
// existing draft. Published sets are immutable; touching one is a conflict.
func (r *SQLRepository) SaveRuleSet(ctx context.Context, tenantID string, rs *domain.RuleSet) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rs.FiscalYearID == "" {
		return fmt.Errorf("%w: fiscal year is required", ErrInvalidInput)
	}

	existing, err := r.GetRuleSet(ctx, tenantID, rs.ID)
	switch {
	case err == nil:
		if existing.Status != domain.RuleSetDraft {
			return fmt.Errorf("%w: a %s rule set is immutable", ErrConflict, existing.Status)
		}
		_, err = r.db.ExecContext(ctx,
			r.rebind(`UPDATE rule_sets SET changelog = ? WHERE tenant_id = ? AND id = ?`),
			rs.Changelog, tenantID, rs.ID)
		return err
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now().UTC()
	}
	rs.Status = domain.RuleSetDraft

	// Version numbers are per fiscal year and never reused.
	if rs.Version == 0 {
		err := r.db.QueryRowContext(ctx,
			r.rebind(`SELECT COALESCE(MAX(version), 0) + 1 FROM rule_sets WHERE tenant_id = ? AND fiscal_year_id = ?`),
			tenantID, rs.FiscalYearID).Scan(&rs.Version)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO rule_sets (
			id, tenant_id, fiscal_year_id, version, status, changelog, published_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rs.ID, tenantID, rs.FiscalYearID, rs.Version, rs.Status,
		rs.Changelog, nil, rs.CreatedAt,
	)
	return err
}

// GetRuleSet retrieves a rule set with its rules attached.
func (r *SQLRepository) GetRuleSet(ctx context.Context, tenantID string, rsID string) (*domain.RuleSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, fiscal_year_id, version, status, changelog, published_at, created_at
		FROM rule_sets
		WHERE tenant_id = ? AND id = ?
	`

	rs, err := scanRuleSet(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, rsID))
	if err != nil {
		return nil, mapNoRows(err)
	}
	if err := r.attachRules(ctx, tenantID, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// GetActiveRuleSet retrieves the single active rule set of a fiscal year,
// rules attached. Having none is a distinct condition from not-found:
// evaluation cannot proceed at all.
func (r *SQLRepository) GetActiveRuleSet(ctx context.Context, tenantID string, fyID string) (*domain.RuleSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, fiscal_year_id, version, status, changelog, published_at, created_at
		FROM rule_sets
		WHERE tenant_id = ? AND fiscal_year_id = ? AND status = ?
	`

	rs, err := scanRuleSet(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, fyID, domain.RuleSetActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoActiveRuleSet
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachRules(ctx, tenantID, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// ListRuleSets returns the rule sets of a fiscal year, newest version first,
// without rules attached.
func (r *SQLRepository) ListRuleSets(ctx context.Context, tenantID string, fyID string) ([]*domain.RuleSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, fiscal_year_id, version, status, changelog, published_at, created_at
		FROM rule_sets
		WHERE tenant_id = ? AND fiscal_year_id = ?
		ORDER BY version DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, fyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*domain.RuleSet
	for rows.Next() {
		rs, err := scanRuleSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}

	return sets, rows.Err()
}

// PublishRuleSet promotes a draft to active and deprecates the previously
// active set of the same fiscal year, atomically. Readers either see the old
// set or the new one, never both and never neither.
func (r *SQLRepository) PublishRuleSet(ctx context.Context, tenantID string, rsID string) (*domain.RuleSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sel := `
		SELECT id, tenant_id, fiscal_year_id, version, status, changelog, published_at, created_at
		FROM rule_sets
		WHERE tenant_id = ? AND id = ?
	`
	rs, err := scanRuleSet(tx.QueryRowContext(ctx, r.rebind(r.forUpdate(sel)), tenantID, rsID))
	if err != nil {
		return nil, mapNoRows(err)
	}

	if rs.Status != domain.RuleSetDraft {
		return nil, fmt.Errorf("%w: only draft rule sets can be published", ErrConflict)
	}

	var ruleCount int
	err = tx.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(*) FROM rules WHERE tenant_id = ? AND rule_set_id = ?`),
		tenantID, rsID).Scan(&ruleCount)
	if err != nil {
		return nil, err
	}
	if ruleCount == 0 {
		return nil, fmt.Errorf("%w: rule set has no rules", ErrInvalidInput)
	}

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		r.rebind(`UPDATE rule_sets SET status = ? WHERE tenant_id = ? AND fiscal_year_id = ? AND status = ?`),
		domain.RuleSetDeprecated, tenantID, rs.FiscalYearID, domain.RuleSetActive)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		r.rebind(`UPDATE rule_sets SET status = ?, published_at = ? WHERE tenant_id = ? AND id = ?`),
		domain.RuleSetActive, now, tenantID, rsID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	rs.Status = domain.RuleSetActive
	rs.PublishedAt = &now
	if err := r.attachRules(ctx, tenantID, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// SaveRule inserts or updates a rule inside a draft rule set. Rules of
// published sets are immutable.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.Rule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	status, err := r.ruleSetStatus(ctx, tenantID, rule.RuleSetID)
	if err != nil {
		return err
	}
	if status != domain.RuleSetDraft {
		return fmt.Errorf("%w: rules of a %s rule set are immutable", ErrConflict, status)
	}

	query := `
		INSERT INTO rules (
			id, tenant_id, rule_set_id, obligation_type_id, code, name,
			description, logic_operator, priority, result_if_true, is_active, conditions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			obligation_type_id = excluded.obligation_type_id,
			code = excluded.code,
			name = excluded.name,
			description = excluded.description,
			logic_operator = excluded.logic_operator,
			priority = excluded.priority,
			result_if_true = excluded.result_if_true,
			is_active = excluded.is_active,
			conditions = excluded.conditions
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.RuleSetID, rule.ObligationTypeID, rule.Code, rule.Name,
		rule.Description, rule.LogicOperator, rule.Priority, rule.ResultIfTrue,
		boolToInt(rule.IsActive), marshalJSON(rule.Conditions),
	)
	return err
}

// DeleteRule removes a rule from a draft rule set.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, rsID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	status, err := r.ruleSetStatus(ctx, tenantID, rsID)
	if err != nil {
		return err
	}
	if status != domain.RuleSetDraft {
		return fmt.Errorf("%w: rules of a %s rule set are immutable", ErrConflict, status)
	}

	result, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM rules WHERE tenant_id = ? AND rule_set_id = ? AND id = ?`),
		tenantID, rsID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) ruleSetStatus(ctx context.Context, tenantID, rsID string) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT status FROM rule_sets WHERE tenant_id = ? AND id = ?`),
		tenantID, rsID).Scan(&status)
	if err != nil {
		return "", mapNoRows(err)
	}
	return status, nil
}

// attachRules loads the set's rules ordered by obligation and priority.
func (r *SQLRepository) attachRules(ctx context.Context, tenantID string, rs *domain.RuleSet) error {
	query := `
		SELECT id, rule_set_id, obligation_type_id, code, name, description,
		       logic_operator, priority, result_if_true, is_active, conditions
		FROM rules
		WHERE tenant_id = ? AND rule_set_id = ?
		ORDER BY obligation_type_id, priority
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, rs.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	rs.Rules = nil
	for rows.Next() {
		var rule domain.Rule
		var isActive int
		var conditions string

		if err := rows.Scan(
			&rule.ID, &rule.RuleSetID, &rule.ObligationTypeID, &rule.Code, &rule.Name,
			&rule.Description, &rule.LogicOperator, &rule.Priority, &rule.ResultIfTrue,
			&isActive, &conditions,
		); err != nil {
			return err
		}

		rule.IsActive = isActive == 1
		if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
			return fmt.Errorf("failed to parse conditions for rule %s: %w", rule.ID, err)
		}
		rs.Rules = append(rs.Rules, rule)
	}

	return rows.Err()
}

func scanRuleSet(row rowScanner) (*domain.RuleSet, error) {
	var rs domain.RuleSet
	var publishedAt sql.NullTime

	err := row.Scan(
		&rs.ID, &rs.TenantID, &rs.FiscalYearID, &rs.Version, &rs.Status,
		&rs.Changelog, &publishedAt, &rs.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if publishedAt.Valid {
		t := publishedAt.Time
		rs.PublishedAt = &t
	}
	return &rs, nil
}
