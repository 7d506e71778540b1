package domain

import (
	"encoding/json"
	"time"
)

// Evaluation statuses.
const (
	EvaluationCompleted = "completed"
)

// Evaluation is the immutable audit artifact produced by running the engine
// against a profile. Re-evaluating the profile produces a new record; an
// existing evaluation never changes, including its frozen snapshot.
type Evaluation struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	TenantID     string `json:"tenant_id"`
	TaxProfileID string `json:"tax_profile_id"`
	RuleSetID    string `json:"rule_set_id"`
	FiscalYearID string `json:"fiscal_year_id"`
	Status       string `json:"status"`

	EvaluatedAt     time.Time       `json:"evaluated_at"`
	ProfileSnapshot json.RawMessage `json:"profile_snapshot"`

	// Results hold one entry per obligation, in catalog display order.
	Results []EvaluationResult `json:"results"`
}

// EvaluationResult is the decision for one obligation: the result kind, the
// rule that fired (if any), and the trace of every condition tried across
// all rules, in evaluation order.
type EvaluationResult struct {
	ObligationTypeID  string `json:"obligation_type_id"`
	ObligationCode    string `json:"obligation_code"`
	ObligationName    string `json:"obligation_name"`
	Category          string `json:"category"`
	ResponsibleEntity string `json:"responsible_entity"`

	Result          string `json:"result"`
	Periodicity     string `json:"periodicity,omitempty"`
	TriggeredRuleID string `json:"triggered_rule_id,omitempty"`

	ConditionsEvaluated []ConditionResult `json:"conditions_evaluated"`
	Explanation         string            `json:"explanation"`
	LegalReferences     []string          `json:"legal_references"`
}

// ConditionResult records one condition trial. Numeric values are carried in
// wire form (float); the decision itself was made in decimal before the
// trace was written.
type ConditionResult struct {
	Field          string `json:"field"`
	Operator       string `json:"operator"`
	ProfileValue   any    `json:"profile_value"`
	ThresholdCode  string `json:"threshold_code,omitempty"`
	ThresholdValue any    `json:"threshold_value"`
	Passes         bool   `json:"passes"`
	Description    string `json:"description,omitempty"`
}

// EvaluationSummary counts results by kind.
type EvaluationSummary struct {
	TotalObligationsEvaluated int `json:"total_obligations_evaluated"`
	Applies                   int `json:"applies"`
	DoesNotApply              int `json:"does_not_apply"`
	Conditional               int `json:"conditional"`
	NeedsMoreInfo             int `json:"needs_more_info"`
}

// Summarize tallies the evaluation's results.
func (e *Evaluation) Summarize() EvaluationSummary {
	s := EvaluationSummary{TotalObligationsEvaluated: len(e.Results)}
	for _, r := range e.Results {
		switch r.Result {
		case ResultApplies:
			s.Applies++
		case ResultDoesNotApply:
			s.DoesNotApply++
		case ResultConditional:
			s.Conditional++
		case ResultNeedsMoreInfo:
			s.NeedsMoreInfo++
		}
	}
	return s
}

// DisclaimerText is the informational notice attached to every evaluation
// projection. Version 1; superseded versions live in the disclaimers table.
const DisclaimerText = "Esta información es de carácter orientativo y educativo. " +
	"No constituye asesoría tributaria, contable ni legal. No reemplaza la " +
	"consulta con un contador público certificado. Los resultados se basan en " +
	"las reglas vigentes y la información suministrada por el usuario."

// DefaultDisclaimerVersion is used when no disclaimer row has been seeded.
const DefaultDisclaimerVersion = 1

// EvaluationResponse is the wire projection of an evaluation.
type EvaluationResponse struct {
	ID             string             `json:"id"`
	EvaluatedAt    string             `json:"evaluated_at"`
	FiscalYear     int                `json:"fiscal_year,omitempty"`
	ProfileSummary json.RawMessage    `json:"profile_summary"`
	Results        []ObligationResult `json:"results"`
	Summary        EvaluationSummary  `json:"summary"`
	Disclaimer     Disclaimer         `json:"disclaimer"`
}

// ObligationResult is the wire form of one obligation's decision.
type ObligationResult struct {
	Obligation          ObligationInfo    `json:"obligation"`
	Result              string            `json:"result"`
	Periodicity         string            `json:"periodicity,omitempty"`
	Explanation         string            `json:"explanation"`
	LegalReferences     []string          `json:"legal_references"`
	ConditionsEvaluated []ConditionResult `json:"conditions_evaluated"`
}

// ObligationInfo identifies the obligation on the wire.
type ObligationInfo struct {
	Code              string `json:"code"`
	Name              string `json:"name"`
	Category          string `json:"category"`
	ResponsibleEntity string `json:"responsible_entity"`
}

// Disclaimer is the informational notice block on the wire.
type Disclaimer struct {
	Version             int    `json:"version"`
	Text                string `json:"text"`
	IsInformationalOnly bool   `json:"is_informational_only"`
}

// ToResponse projects the evaluation onto its wire form. Pass the current
// disclaimer version and text; zero values fall back to the built-ins.
func (e *Evaluation) ToResponse(fiscalYear int, disclaimerVersion int, disclaimerText string) *EvaluationResponse {
	if disclaimerVersion == 0 {
		disclaimerVersion = DefaultDisclaimerVersion
	}
	if disclaimerText == "" {
		disclaimerText = DisclaimerText
	}

	results := make([]ObligationResult, 0, len(e.Results))
	for _, r := range e.Results {
		legalRefs := r.LegalReferences
		if legalRefs == nil {
			legalRefs = []string{}
		}
		conditions := r.ConditionsEvaluated
		if conditions == nil {
			conditions = []ConditionResult{}
		}
		results = append(results, ObligationResult{
			Obligation: ObligationInfo{
				Code:              r.ObligationCode,
				Name:              r.ObligationName,
				Category:          r.Category,
				ResponsibleEntity: r.ResponsibleEntity,
			},
			Result:              r.Result,
			Periodicity:         r.Periodicity,
			Explanation:         r.Explanation,
			LegalReferences:     legalRefs,
			ConditionsEvaluated: conditions,
		})
	}

	return &EvaluationResponse{
		ID:             e.ID,
		EvaluatedAt:    e.EvaluatedAt.UTC().Format(time.RFC3339),
		FiscalYear:     fiscalYear,
		ProfileSummary: e.ProfileSnapshot,
		Results:        results,
		Summary:        e.Summarize(),
		Disclaimer: Disclaimer{
			Version:             disclaimerVersion,
			Text:                disclaimerText,
			IsInformationalOnly: true,
		},
	}
}
