package engine

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/condor/internal/domain"
)

// missingKind tags a resolution that could not produce a comparison value.
// Any non-zero kind turns the obligation's result into needs_more_info.
type missingKind int

const (
	missingNone missingKind = iota
	missingThreshold
	missingUVT
	invalidUVTExpr
)

// resolved is the outcome of resolving one condition value. For threshold
// references and UVT expressions the value is a decimal; literals stay raw
// strings and coerce at comparison time.
type resolved struct {
	value   any
	code    string
	missing missingKind
}

// resolveValue turns a condition's symbolic value into a concrete one using
// the fiscal year's threshold map. The map carries resolved COP amounts by
// threshold code plus the reserved uvt_value entry.
func resolveValue(valueType, raw string, thresholds map[string]decimal.Decimal) resolved {
	switch valueType {
	case domain.ValueThresholdRef:
		code := strings.TrimSpace(raw)
		v, ok := thresholds[code]
		if !ok {
			return resolved{code: code, missing: missingThreshold}
		}
		return resolved{value: v, code: code}

	case domain.ValueUVTExpr:
		k, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return resolved{missing: invalidUVTExpr}
		}
		uvt, ok := thresholds[domain.UVTValueKey]
		if !ok {
			return resolved{missing: missingUVT}
		}
		return resolved{value: k.Mul(uvt)}

	default:
		return resolved{value: raw}
	}
}

// BuildThresholdMap resolves every threshold of a fiscal year to a COP
// amount. An explicit COP value wins; otherwise the UVT value is multiplied
// by the year's UVT. The year's own UVT is exposed under the reserved
// uvt_value key so rules can express amounts as UVT multiples.
func BuildThresholdMap(fy *domain.FiscalYear, thresholds []*domain.Threshold) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(thresholds)+1)
	m[domain.UVTValueKey] = fy.UVTValue
	for _, th := range thresholds {
		switch {
		case th.ValueCOP != nil:
			m[th.Code] = *th.ValueCOP
		case th.ValueUVT != nil:
			m[th.Code] = fy.COPFromUVT(*th.ValueUVT)
		}
	}
	return m
}
