package seed

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/condor/internal/domain"
)

// uvt2025 is the UVT value for fiscal year 2025 as fixed by DIAN resolution.
var uvt2025 = decimal.NewFromInt(49641)

type fiscalYearSeed struct {
	Year     int
	Status   string
	UVTValue decimal.Decimal
	Notes    string
}

type obligationSeed struct {
	Code              string
	Name              string
	Category          string
	Description       string
	ResponsibleEntity string
	LegalBase         string
	DisplayOrder      int
}

type thresholdSeed struct {
	Code           string
	Label          string
	ValueUVT       decimal.Decimal
	Description    string
	LegalReference string
}

type periodicitySeed struct {
	ObligationCode string
	Frequency      string
	Description    string
}

type ruleSeed struct {
	ObligationCode string
	Code           string
	Name           string
	Description    string
	LogicOperator  string
	Priority       int
	ResultIfTrue   string
	Conditions     []domain.RuleCondition
}

func fiscalYear2025() fiscalYearSeed {
	return fiscalYearSeed{
		Year:     2025,
		Status:   domain.FiscalYearActive,
		UVTValue: uvt2025,
		Notes:    "Año gravable 2025. UVT fijado por Resolución DIAN.",
	}
}

func obligationTypes() []obligationSeed {
	return []obligationSeed{
		{
			Code:     "renta",
			Name:     "Impuesto sobre la Renta y Complementarios",
			Category: domain.CategoryNacional,
			Description: "Impuesto anual sobre los ingresos de personas naturales y jurídicas. " +
				"Las personas naturales deben declarar si superan ciertos topes de ingresos, " +
				"patrimonio, consignaciones bancarias o compras con tarjeta.",
			ResponsibleEntity: "DIAN",
			LegalBase:         "Art. 592 del Estatuto Tributario; Art. 593 del Estatuto Tributario",
			DisplayOrder:      1,
		},
		{
			Code:     "iva",
			Name:     "Impuesto sobre las Ventas (IVA)",
			Category: domain.CategoryNacional,
			Description: "Impuesto al consumo que grava la venta de bienes y servicios. " +
				"Los responsables de IVA deben presentar declaración bimestral o cuatrimestral " +
				"según el nivel de ingresos.",
			ResponsibleEntity: "DIAN",
			LegalBase:         "Art. 437 del Estatuto Tributario; Art. 600 del Estatuto Tributario",
			DisplayOrder:      2,
		},
		{
			Code:     "ica",
			Name:     "Industria y Comercio (ICA)",
			Category: domain.CategoryTerritorial,
			Description: "Impuesto municipal que grava las actividades industriales, comerciales y " +
				"de servicios realizadas en un municipio. La periodicidad y tarifas varían " +
				"según el municipio.",
			ResponsibleEntity: "Secretaría de Hacienda Municipal",
			LegalBase:         "Acuerdo 65 de 2002 - Bogotá; Decreto 352 de 2002",
			DisplayOrder:      3,
		},
		{
			Code:     "retefuente",
			Name:     "Retención en la Fuente",
			Category: domain.CategoryNacional,
			Description: "Mecanismo de recaudo anticipado del impuesto de renta. Los agentes de " +
				"retención deben practicar, declarar y pagar las retenciones mensualmente.",
			ResponsibleEntity: "DIAN",
			LegalBase:         "Art. 368 del Estatuto Tributario",
			DisplayOrder:      4,
		},
		{
			Code:     "nomina_seguridad_social",
			Name:     "Nómina y Seguridad Social",
			Category: domain.CategoryLaboral,
			Description: "Obligación de realizar el pago mensual de aportes a seguridad social " +
				"(salud, pensión, ARL) y parafiscales a través de la planilla PILA " +
				"cuando se tienen empleados.",
			ResponsibleEntity: "Operadores PILA",
			LegalBase:         "Ley 100 de 1993; Ley 1607 de 2012",
			DisplayOrder:      5,
		},
		{
			Code:     "exogena",
			Name:     "Información Exógena",
			Category: domain.CategoryNacional,
			Description: "Obligación de reportar información a la DIAN sobre operaciones con " +
				"terceros cuando se superan los topes establecidos por resolución.",
			ResponsibleEntity: "DIAN",
			LegalBase:         "Resolución DIAN vigente para información exógena",
			DisplayOrder:      6,
		},
	}
}

func thresholds2025() []thresholdSeed {
	return []thresholdSeed{
		{
			Code:           "renta_pn_ingresos_tope",
			Label:          "Tope ingresos brutos para declarar Renta (PN)",
			ValueUVT:       decimal.NewFromInt(1400),
			Description:    "1.400 UVT — Tope de ingresos brutos para obligación de declarar renta persona natural",
			LegalReference: "Art. 592 y 593 del Estatuto Tributario",
		},
		{
			Code:           "renta_pn_patrimonio_tope",
			Label:          "Tope patrimonio bruto para declarar Renta (PN)",
			ValueUVT:       decimal.NewFromInt(4500),
			Description:    "4.500 UVT — Tope de patrimonio bruto para obligación de declarar renta persona natural",
			LegalReference: "Art. 592 y 593 del Estatuto Tributario",
		},
		{
			Code:           "renta_pn_consignaciones_tope",
			Label:          "Tope consignaciones bancarias para declarar Renta (PN)",
			ValueUVT:       decimal.NewFromInt(1400),
			Description:    "1.400 UVT — Tope de consignaciones bancarias acumuladas",
			LegalReference: "Art. 592 y 593 del Estatuto Tributario",
		},
		{
			Code:           "renta_pn_compras_tope",
			Label:          "Tope compras y consumos tarjeta para declarar Renta (PN)",
			ValueUVT:       decimal.NewFromInt(1400),
			Description:    "1.400 UVT — Tope de compras y consumos con tarjeta",
			LegalReference: "Art. 592 y 593 del Estatuto Tributario",
		},
		{
			Code:           "iva_responsable_tope",
			Label:          "Tope ingresos para ser responsable de IVA",
			ValueUVT:       decimal.NewFromInt(3500),
			Description:    "3.500 UVT — Tope de ingresos brutos para ser responsable de IVA",
			LegalReference: "Art. 437 del Estatuto Tributario",
		},
		{
			Code:           "retefuente_agente_tope",
			Label:          "Tope ingresos para ser agente de retención",
			ValueUVT:       decimal.NewFromInt(30000),
			Description:    "30.000 UVT — Tope de ingresos brutos o patrimonio para ser agente de retención",
			LegalReference: "Art. 368 del Estatuto Tributario",
		},
		{
			Code:           "exogena_tope",
			Label:          "Tope ingresos para reportar información exógena",
			ValueUVT:       decimal.NewFromInt(2016),
			Description:    "2.016 UVT — Tope de ingresos brutos para obligación de reportar exógena (aprox.)",
			LegalReference: "Resolución DIAN vigente para exógena",
		},
	}
}

func periodicities2025() []periodicitySeed {
	return []periodicitySeed{
		{ObligationCode: "renta", Frequency: domain.FrequencyAnual, Description: "Declaración anual de renta"},
		{ObligationCode: "iva", Frequency: domain.FrequencyBimestral, Description: "Declaración bimestral de IVA"},
		{ObligationCode: "ica", Frequency: domain.FrequencyBimestral, Description: "Declaración bimestral de ICA (Bogotá)"},
		{ObligationCode: "retefuente", Frequency: domain.FrequencyMensual, Description: "Declaración mensual de retención en la fuente"},
		{ObligationCode: "nomina_seguridad_social", Frequency: domain.FrequencyMensual, Description: "Pago mensual PILA"},
		{ObligationCode: "exogena", Frequency: domain.FrequencyAnual, Description: "Reporte anual de información exógena"},
	}
}

func rules2025() []ruleSeed {
	return []ruleSeed{
		{
			ObligationCode: "renta",
			Code:           "renta_pn_ingresos_brutos",
			Name:           "Renta por ingresos brutos, patrimonio, consignaciones o compras superiores al tope",
			Description:    "Evalúa si la persona natural supera alguno de los topes para declarar renta",
			LogicOperator:  domain.LogicOR,
			Priority:       1,
			ResultIfTrue:   domain.ResultApplies,
			Conditions: []domain.RuleCondition{
				{
					Field:       "ingresos_brutos_cop",
					Operator:    domain.OpGTE,
					ValueType:   domain.ValueThresholdRef,
					Value:       "renta_pn_ingresos_tope",
					Description: "Ingresos brutos >= 1.400 UVT",
				},
				{
					Field:       "patrimonio_bruto_cop",
					Operator:    domain.OpGTE,
					ValueType:   domain.ValueThresholdRef,
					Value:       "renta_pn_patrimonio_tope",
					Description: "Patrimonio bruto >= 4.500 UVT",
				},
				{
					Field:       "consignaciones_cop",
					Operator:    domain.OpGTE,
					ValueType:   domain.ValueThresholdRef,
					Value:       "renta_pn_consignaciones_tope",
					Description: "Consignaciones bancarias >= 1.400 UVT",
				},
				{
					Field:       "compras_consumos_cop",
					Operator:    domain.OpGTE,
					ValueType:   domain.ValueThresholdRef,
					Value:       "renta_pn_compras_tope",
					Description: "Compras y consumos tarjeta >= 1.400 UVT",
				},
			},
		},
		{
			ObligationCode: "iva",
			Code:           "iva_responsable_ingresos",
			Name:           "Responsable de IVA por ingresos y actividad gravada",
			Description:    "Evalúa si es responsable de IVA por régimen ordinario e ingresos superiores al tope",
			LogicOperator:  domain.LogicAND,
			Priority:       1,
			ResultIfTrue:   domain.ResultApplies,
			Conditions: []domain.RuleCondition{
				{
					Field:       "regime",
					Operator:    domain.OpEQ,
					ValueType:   domain.ValueLiteral,
					Value:       "ordinario",
					Description: "Régimen ordinario",
				},
				{
					Field:       "ingresos_brutos_cop",
					Operator:    domain.OpGTE,
					ValueType:   domain.ValueThresholdRef,
					Value:       "iva_responsable_tope",
					Description: "Ingresos brutos >= 3.500 UVT",
				},
			},
		},
		{
			ObligationCode: "iva",
			Code:           "iva_responsable_declarado",
			Name:           "Responsable de IVA declarado explícitamente",
			Description:    "Si el usuario indica que ya es responsable de IVA",
			LogicOperator:  domain.LogicAND,
			Priority:       2,
			ResultIfTrue:   domain.ResultApplies,
			Conditions: []domain.RuleCondition{
				{
					Field:       "is_iva_responsable",
					Operator:    domain.OpIsTrue,
					ValueType:   domain.ValueLiteral,
					Value:       "true",
					Description: "Es responsable de IVA",
				},
			},
		},
		{
			ObligationCode: "ica",
			Code:           "ica_actividad_comercial",
			Name:           "ICA por actividad comercial en municipio",
			Description:    "Evalúa si tiene actividad comercial registrada en un municipio",
			LogicOperator:  domain.LogicAND,
			Priority:       1,
			ResultIfTrue:   domain.ResultApplies,
			Conditions: []domain.RuleCondition{
				{
					Field:       "has_comercio_registration",
					Operator:    domain.OpIsTrue,
					ValueType:   domain.ValueLiteral,
					Value:       "true",
					Description: "Tiene registro de comercio",
				},
				{
					Field:       "city",
					Operator:    domain.OpNEQ,
					ValueType:   domain.ValueLiteral,
					Value:       "",
					Description: "Tiene ciudad de operación definida",
				},
			},
		},
		{
			ObligationCode: "retefuente",
			Code:           "retefuente_agente_ingresos",
			Name:           "Agente de retención por ingresos o patrimonio",
			Description:    "Evalúa si cumple topes para ser agente de retención",
			LogicOperator:  domain.LogicAND,
			Priority:       1,
			ResultIfTrue:   domain.ResultConditional,
			Conditions: []domain.RuleCondition{
				{
					Field:       "regime",
					Operator:    domain.OpEQ,
					ValueType:   domain.ValueLiteral,
					Value:       "ordinario",
					Description: "Régimen ordinario",
				},
				{
					Field:       "ingresos_brutos_cop",
					Operator:    domain.OpGTE,
					ValueType:   domain.ValueThresholdRef,
					Value:       "retefuente_agente_tope",
					Description: "Ingresos brutos >= 30.000 UVT",
				},
			},
		},
		{
			ObligationCode: "nomina_seguridad_social",
			Code:           "nomina_empleados",
			Name:           "Nómina y seguridad social por tener empleados",
			Description:    "Si tiene empleados, debe cumplir con PILA",
			LogicOperator:  domain.LogicAND,
			Priority:       1,
			ResultIfTrue:   domain.ResultApplies,
			Conditions: []domain.RuleCondition{
				{
					Field:       "has_employees",
					Operator:    domain.OpIsTrue,
					ValueType:   domain.ValueLiteral,
					Value:       "true",
					Description: "Tiene empleados",
				},
				{
					Field:       "employee_count",
					Operator:    domain.OpGT,
					ValueType:   domain.ValueLiteral,
					Value:       "0",
					Description: "Número de empleados > 0",
				},
			},
		},
		{
			ObligationCode: "exogena",
			Code:           "exogena_ingresos_tope",
			Name:           "Información exógena por ingresos superiores al tope",
			Description:    "Evalúa si debe reportar información exógena por nivel de ingresos",
			LogicOperator:  domain.LogicOR,
			Priority:       1,
			ResultIfTrue:   domain.ResultApplies,
			Conditions: []domain.RuleCondition{
				{
					Field:       "ingresos_brutos_cop",
					Operator:    domain.OpGTE,
					ValueType:   domain.ValueThresholdRef,
					Value:       "exogena_tope",
					Description: "Ingresos brutos >= tope exógena",
				},
			},
		},
	}
}
