package engine

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/condor/internal/domain"
)

// Explainer renders the Spanish explanation attached to each obligation
// result. Known obligation codes get tailored wording; everything else uses
// the generic templates keyed by result kind.
type Explainer struct {
	labels map[string]string
}

// NewExplainer creates an explainer with the built-in field labels.
func NewExplainer() *Explainer {
	return &Explainer{labels: map[string]string{
		"ingresos_brutos_cop":       "ingresos brutos",
		"patrimonio_bruto_cop":      "patrimonio bruto",
		"consignaciones_cop":        "consignaciones bancarias",
		"compras_consumos_cop":      "compras y consumos",
		"regime":                    "régimen",
		"persona_type":              "tipo de persona",
		"is_iva_responsable":        "la responsabilidad de IVA registrada",
		"has_employees":             "la condición de tener empleados",
		"employee_count":            "número de empleados",
		"has_comercio_registration": "el registro mercantil",
		"has_rut":                   "la inscripción en el RUT",
		"city":                      "municipio",
		"department":                "departamento",
		"economic_activity_ciiu":    "actividad económica CIIU",
		"nit_last_digit":            "último dígito del NIT",
	}}
}

// Explain builds the explanation text and legal references for one decided
// obligation. The triggered rule and its trace are nil unless a rule matched.
func (x *Explainer) Explain(ob *domain.ObligationType, fy *domain.FiscalYear, result string, rule *domain.Rule, trace []domain.ConditionResult) (string, []string) {
	reason := x.buildReason(rule, trace)

	var msg string
	switch ob.Code + "_" + result {
	case "renta_" + domain.ResultApplies:
		msg = fmt.Sprintf("Usted estaría obligado a presentar declaración de Renta para el año gravable %d porque %s.", fy.Year, reason)
		if ob.LegalBase != "" {
			msg += fmt.Sprintf(" Base legal: %s.", ob.LegalBase)
		}
	case "renta_" + domain.ResultDoesNotApply:
		msg = fmt.Sprintf("Con base en la información suministrada, usted NO estaría obligado a presentar declaración de Renta para %d, ya que no supera ninguno de los topes establecidos (ingresos, patrimonio, consignaciones, compras).", fy.Year)
	case "iva_" + domain.ResultApplies:
		msg = fmt.Sprintf("Usted estaría en la condición de responsable de IVA porque %s.", reason)
		if ob.LegalBase != "" {
			msg += fmt.Sprintf(" Base legal: %s.", ob.LegalBase)
		}
	default:
		msg = x.generic(ob, fy, result, reason)
	}

	return strings.TrimSpace(msg), x.legalReferences(ob, result)
}

func (x *Explainer) generic(ob *domain.ObligationType, fy *domain.FiscalYear, result, reason string) string {
	switch result {
	case domain.ResultApplies:
		return strings.TrimSpace(fmt.Sprintf("Usted estaría obligado a cumplir con %s porque %s. %s", ob.Name, reason, legalNote(ob)))
	case domain.ResultConditional:
		return strings.TrimSpace(fmt.Sprintf("La obligación de %s podría aplicarle bajo ciertas condiciones adicionales. Consulte con su contador para confirmar. %s", ob.Name, legalNote(ob)))
	case domain.ResultNeedsMoreInfo:
		return fmt.Sprintf("Se requiere información adicional para determinar si la obligación de %s le aplica. Por favor complete los datos faltantes en su perfil.", ob.Name)
	default:
		return fmt.Sprintf("Con base en la información suministrada, la obligación de %s no le aplicaría para %d.", ob.Name, fy.Year)
	}
}

// buildReason joins the descriptions of the passing conditions of the
// triggered rule. Only passing conditions contribute: the reason tells the
// user what tripped the rule, not what was checked.
func (x *Explainer) buildReason(rule *domain.Rule, trace []domain.ConditionResult) string {
	if rule == nil {
		return ""
	}
	parts := make([]string, 0, len(trace))
	for _, c := range trace {
		if !c.Passes {
			continue
		}
		parts = append(parts, x.describeCondition(c))
	}
	if len(parts) == 0 {
		return "se cumplen las condiciones establecidas"
	}
	return strings.Join(parts, "; ")
}

func (x *Explainer) describeCondition(c domain.ConditionResult) string {
	label := x.label(c.Field)
	switch c.Operator {
	case domain.OpGT, domain.OpGTE:
		return fmt.Sprintf("su %s (%s) supera el tope de %s", label, formatCOP(c.ProfileValue), formatCOP(c.ThresholdValue))
	case domain.OpEQ:
		return fmt.Sprintf("su %s es %s", label, stringify(c.ProfileValue))
	case domain.OpIsTrue:
		return fmt.Sprintf("cumple con %s", label)
	case domain.OpIsFalse:
		return fmt.Sprintf("no cumple con %s", label)
	default:
		if c.Description != "" {
			return c.Description
		}
		return fmt.Sprintf("cumple la condición sobre %s", label)
	}
}

func (x *Explainer) label(field string) string {
	if l, ok := x.labels[field]; ok {
		return l
	}
	return strings.ReplaceAll(field, "_", " ")
}

// legalReferences splits the obligation's legal base on semicolons. They are
// attached when the obligation applies or is conditional; a negative result
// cites nothing.
func (x *Explainer) legalReferences(ob *domain.ObligationType, result string) []string {
	if result != domain.ResultApplies && result != domain.ResultConditional {
		return nil
	}
	if ob.LegalBase == "" {
		return nil
	}
	parts := strings.Split(ob.LegalBase, ";")
	refs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			refs = append(refs, p)
		}
	}
	return refs
}

func legalNote(ob *domain.ObligationType) string {
	if ob.LegalBase == "" {
		return ""
	}
	return fmt.Sprintf("Base legal: %s.", ob.LegalBase)
}

// formatCOP renders a monetary amount as Colombian pesos, like
// "$69,497,400 COP". Values that do not coerce to a number render as N/A.
func formatCOP(v any) string {
	d, ok := toDecimal(v)
	if !ok {
		return "N/A"
	}
	s := d.RoundBank(0).String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteByte(s[i])
	}
	if neg {
		return "-$" + b.String() + " COP"
	}
	return "$" + b.String() + " COP"
}
