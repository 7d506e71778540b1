package domain

import (
	"sort"
	"time"
)

// Rule set lifecycle states. At most one rule set per fiscal year is active
// at any instant; publishing a draft deprecates the previous active set.
const (
	RuleSetDraft      = "draft"
	RuleSetActive     = "active"
	RuleSetDeprecated = "deprecated"
)

// Logic operators combining a rule's conditions.
const (
	LogicAND = "AND"
	LogicOR  = "OR"
)

// Condition operators. Unknown operators are programmer errors and panic at
// evaluation time; they never appear in a published corpus.
const (
	OpGT      = "gt"
	OpGTE     = "gte"
	OpLT      = "lt"
	OpLTE     = "lte"
	OpEQ      = "eq"
	OpNEQ     = "neq"
	OpIn      = "in"
	OpNotIn   = "not_in"
	OpBetween = "between"
	OpIsTrue  = "is_true"
	OpIsFalse = "is_false"
)

// Condition value types, controlling how the raw value string resolves to a
// comparand.
const (
	ValueLiteral      = "literal"
	ValueThresholdRef = "threshold_ref"
	ValueUVTExpr      = "uvt_expr"
)

// Obligation result kinds.
const (
	ResultApplies       = "applies"
	ResultDoesNotApply  = "does_not_apply"
	ResultConditional   = "conditional"
	ResultNeedsMoreInfo = "needs_more_info"
)

// RuleSet is a versioned rule collection bound to one fiscal year.
type RuleSet struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	FiscalYearID string     `json:"fiscal_year_id"`
	Version      int        `json:"version"`
	Status       string     `json:"status"`
	Changelog    string     `json:"changelog,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`

	// Rules are eagerly attached when the set is loaded for evaluation.
	Rules []Rule `json:"rules,omitempty"`
}

// RulesForObligation returns the set's active rules for one obligation,
// ordered by ascending priority. Equal priorities keep their stored order,
// so evaluation is deterministic for any given set.
func (rs *RuleSet) RulesForObligation(obligationTypeID string) []Rule {
	var out []Rule
	for _, r := range rs.Rules {
		if r.ObligationTypeID == obligationTypeID && r.IsActive {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Rule assigns an obligation a result when its conditions hold. Priority
// orders rules within an obligation, smaller first; the first passing rule
// wins.
type Rule struct {
	ID               string          `json:"id"`
	RuleSetID        string          `json:"rule_set_id"`
	ObligationTypeID string          `json:"obligation_type_id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	LogicOperator    string          `json:"logic_operator"`
	Priority         int             `json:"priority"`
	ResultIfTrue     string          `json:"result_if_true"`
	IsActive         bool            `json:"is_active"`
	Conditions       []RuleCondition `json:"conditions"`
}

// RuleCondition is one predicate over a profile field. Value holds a literal,
// a threshold code, or a UVT multiplier depending on ValueType.
// ValueSecondary carries the upper bound for the between operator.
type RuleCondition struct {
	Field          string `json:"field"`
	Operator       string `json:"operator"`
	ValueType      string `json:"value_type"`
	Value          string `json:"value"`
	ValueSecondary string `json:"value_secondary,omitempty"`
	Description    string `json:"description,omitempty"`
}

// Validate checks a rule definition for structural problems before it enters
// the corpus. Evaluation assumes validated rules.
func (r *Rule) Validate() error {
	if r.Code == "" || r.Name == "" || r.ObligationTypeID == "" {
		return ErrInvalidInput
	}
	if r.LogicOperator != LogicAND && r.LogicOperator != LogicOR {
		return ErrInvalidInput
	}
	switch r.ResultIfTrue {
	case ResultApplies, ResultDoesNotApply, ResultConditional, ResultNeedsMoreInfo:
	default:
		return ErrInvalidInput
	}
	if len(r.Conditions) == 0 {
		return ErrInvalidInput
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks one condition definition.
func (c *RuleCondition) Validate() error {
	if c.Field == "" {
		return ErrInvalidInput
	}
	switch c.Operator {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNEQ, OpIn, OpNotIn, OpIsTrue, OpIsFalse:
	case OpBetween:
		if c.ValueSecondary == "" {
			return ErrInvalidInput
		}
	default:
		return ErrInvalidInput
	}
	switch c.ValueType {
	case ValueLiteral, ValueThresholdRef, ValueUVTExpr:
	default:
		return ErrInvalidInput
	}
	return nil
}
