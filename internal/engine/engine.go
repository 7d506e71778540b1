// Package engine provides the deterministic tax obligation decision engine.
package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/condor/internal/domain"
)

// Engine decides, for every obligation in the catalog, whether it applies to
// a taxpayer profile under the active rule set of a fiscal year.
type Engine struct {
	explainer *Explainer
}

// NewEngine creates a new decision engine.
func NewEngine() *Engine {
	return &Engine{explainer: NewExplainer()}
}

// Input holds everything one evaluation needs. The engine touches no
// storage: callers load the profile, rule set, catalog and resolved
// thresholds up front, which keeps results reproducible from the inputs.
type Input struct {
	Profile     *domain.TaxProfile
	FiscalYear  *domain.FiscalYear
	RuleSet     *domain.RuleSet
	Obligations []*domain.ObligationType

	// Thresholds maps threshold code to resolved COP amount and carries
	// the fiscal year's UVT under the reserved uvt_value key.
	Thresholds map[string]decimal.Decimal

	// Periodicities maps obligation type ID to filing frequency.
	Periodicities map[string]string
}

// Evaluate runs the decision loop over the obligation catalog and returns
// one result per obligation, in display order. The same input always yields
// the same results.
func (e *Engine) Evaluate(ctx context.Context, input *Input) ([]domain.EvaluationResult, error) {
	if input == nil || input.Profile == nil || input.FiscalYear == nil {
		return nil, domain.ErrInvalidInput
	}
	if input.RuleSet == nil {
		return nil, domain.ErrNoActiveRuleSet
	}

	obligations := make([]*domain.ObligationType, len(input.Obligations))
	copy(obligations, input.Obligations)
	sort.SliceStable(obligations, func(i, j int) bool {
		if obligations[i].DisplayOrder != obligations[j].DisplayOrder {
			return obligations[i].DisplayOrder < obligations[j].DisplayOrder
		}
		return obligations[i].Code < obligations[j].Code
	})

	results := make([]domain.EvaluationResult, 0, len(obligations))
	for _, ob := range obligations {
		r := e.evaluateObligation(input, ob)
		if freq, ok := input.Periodicities[ob.ID]; ok {
			r.Periodicity = freq
		}
		results = append(results, r)
	}
	return results, nil
}

// evaluateObligation runs the obligation's rules in priority order. The
// first matching rule decides the result; no rule matching means the
// obligation does not apply. A missing threshold or UVT turns the result
// into needs_more_info and stops further rules for this obligation only.
func (e *Engine) evaluateObligation(input *Input, ob *domain.ObligationType) domain.EvaluationResult {
	result := domain.EvaluationResult{
		ObligationTypeID:    ob.ID,
		ObligationCode:      ob.Code,
		ObligationName:      ob.Name,
		Category:            ob.Category,
		ResponsibleEntity:   ob.ResponsibleEntity,
		Result:              domain.ResultDoesNotApply,
		ConditionsEvaluated: []domain.ConditionResult{},
	}

	var (
		matchedRule  *domain.Rule
		matchedTrace []domain.ConditionResult
	)

	for _, rule := range input.RuleSet.RulesForObligation(ob.ID) {
		matched, trace, missing := e.evaluateRule(&rule, input)
		result.ConditionsEvaluated = append(result.ConditionsEvaluated, trace...)

		if missing != missingNone {
			result.Result = domain.ResultNeedsMoreInfo
			matchedRule = nil
			matchedTrace = nil
			break
		}
		if matched {
			result.Result = rule.ResultIfTrue
			result.TriggeredRuleID = rule.ID
			matchedRule = &rule
			matchedTrace = trace
			break
		}
	}

	result.Explanation, result.LegalReferences = e.explainer.Explain(
		ob, input.FiscalYear, result.Result, matchedRule, matchedTrace)
	return result
}

// evaluateRule evaluates every condition of the rule, accumulating the full
// trace. Conditions are never short-circuited: the trace shows each one even
// when the logical outcome is already settled.
func (e *Engine) evaluateRule(rule *domain.Rule, input *Input) (bool, []domain.ConditionResult, missingKind) {
	trace := make([]domain.ConditionResult, 0, len(rule.Conditions))

	matched := rule.LogicOperator != domain.LogicOR
	for _, cond := range rule.Conditions {
		profileValue := input.Profile.FieldValue(cond.Field)

		primary := resolveValue(cond.ValueType, cond.Value, input.Thresholds)
		if primary.missing != missingNone {
			trace = append(trace, domain.ConditionResult{
				Field:         cond.Field,
				Operator:      cond.Operator,
				ProfileValue:  traceValue(profileValue),
				ThresholdCode: primary.code,
				Passes:        false,
				Description:   cond.Description,
			})
			return false, trace, primary.missing
		}

		var secondary any
		if cond.Operator == domain.OpBetween {
			sec := resolveValue(cond.ValueType, cond.ValueSecondary, input.Thresholds)
			if sec.missing != missingNone {
				trace = append(trace, domain.ConditionResult{
					Field:         cond.Field,
					Operator:      cond.Operator,
					ProfileValue:  traceValue(profileValue),
					ThresholdCode: sec.code,
					Passes:        false,
					Description:   cond.Description,
				})
				return false, trace, sec.missing
			}
			secondary = sec.value
		}

		passes := applyOperator(cond.Operator, profileValue, primary.value, secondary)

		trace = append(trace, domain.ConditionResult{
			Field:          cond.Field,
			Operator:       cond.Operator,
			ProfileValue:   traceValue(profileValue),
			ThresholdCode:  primary.code,
			ThresholdValue: traceValue(primary.value),
			Passes:         passes,
			Description:    cond.Description,
		})

		if rule.LogicOperator == domain.LogicOR {
			matched = matched || passes
		} else {
			matched = matched && passes
		}
	}

	return matched, trace, missingNone
}

// traceValue converts a value to its wire form for the condition trace.
// Decisions are made in decimal; only the recorded trace degrades to float.
func traceValue(v any) any {
	switch t := v.(type) {
	case decimal.Decimal:
		f, _ := t.Float64()
		return f
	case *decimal.Decimal:
		if t == nil {
			return nil
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
