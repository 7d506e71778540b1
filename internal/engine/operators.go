package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/condor/internal/domain"
)

// applyOperator evaluates one comparison between a profile value and the
// resolved condition value(s). A profile value that is missing or cannot be
// coerced makes the condition false; it never raises. Unknown operators are
// rejected at rule-save time, so hitting one here is a programming error.
func applyOperator(op string, profileValue any, value any, secondary any) bool {
	if profileValue == nil {
		return false
	}

	switch op {
	case domain.OpGT:
		return compareDecimal(profileValue, value, func(c int) bool { return c > 0 })
	case domain.OpGTE:
		return compareDecimal(profileValue, value, func(c int) bool { return c >= 0 })
	case domain.OpLT:
		return compareDecimal(profileValue, value, func(c int) bool { return c < 0 })
	case domain.OpLTE:
		return compareDecimal(profileValue, value, func(c int) bool { return c <= 0 })
	case domain.OpBetween:
		p, ok := toDecimal(profileValue)
		if !ok {
			return false
		}
		lo, okLo := toDecimal(value)
		hi, okHi := toDecimal(secondary)
		if !okLo || !okHi {
			return false
		}
		return p.GreaterThanOrEqual(lo) && p.LessThanOrEqual(hi)
	case domain.OpEQ:
		return looseEqual(profileValue, value)
	case domain.OpNEQ:
		return !looseEqual(profileValue, value)
	case domain.OpIn:
		return containsValue(parseMembers(value), profileValue)
	case domain.OpNotIn:
		return !containsValue(parseMembers(value), profileValue)
	case domain.OpIsTrue:
		return isTruthy(profileValue)
	case domain.OpIsFalse:
		return isFalsy(profileValue)
	default:
		panic(fmt.Sprintf("engine: unknown operator %q", op))
	}
}

// compareDecimal coerces both sides to decimal and applies cmp to the
// comparison result. Coercion failure on either side yields false.
func compareDecimal(a, b any, cmp func(int) bool) bool {
	da, ok := toDecimal(a)
	if !ok {
		return false
	}
	db, ok := toDecimal(b)
	if !ok {
		return false
	}
	return cmp(da.Cmp(db))
}

// toDecimal coerces a value to decimal. Strings are trimmed before parsing.
// Booleans and nil do not coerce.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case *decimal.Decimal:
		if t == nil {
			return decimal.Zero, false
		}
		return *t, true
	case float64:
		return decimal.NewFromFloat(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case int32:
		return decimal.NewFromInt32(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// looseEqual compares numerically when both sides coerce to decimal, so
// "3500000" equals 3500000.00. Otherwise it compares trimmed,
// case-insensitive string forms.
func looseEqual(a, b any) bool {
	if da, ok := toDecimal(a); ok {
		if db, ok := toDecimal(b); ok {
			return da.Equal(db)
		}
	}
	return strings.EqualFold(strings.TrimSpace(stringify(a)), strings.TrimSpace(stringify(b)))
}

// parseMembers interprets a list-valued condition. JSON arrays are
// preferred; anything else falls back to a comma-separated split.
func parseMembers(v any) []any {
	s := stringify(v)
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err == nil {
		return arr
	}
	parts := strings.Split(s, ",")
	members := make([]any, 0, len(parts))
	for _, p := range parts {
		members = append(members, strings.TrimSpace(p))
	}
	return members
}

func containsValue(members []any, v any) bool {
	for _, m := range members {
		if looseEqual(v, m) {
			return true
		}
	}
	return false
}

// isTruthy accepts bool true and the string/number forms true, 1 and yes.
func isTruthy(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	switch strings.ToLower(strings.TrimSpace(stringify(v))) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// isFalsy accepts bool false and the string/number forms false, 0 and no.
// It is not the negation of isTruthy: an unrecognized value is neither.
func isFalsy(v any) bool {
	if b, ok := v.(bool); ok {
		return !b
	}
	switch strings.ToLower(strings.TrimSpace(stringify(v))) {
	case "false", "0", "no":
		return true
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case decimal.Decimal:
		return t.String()
	case *decimal.Decimal:
		if t == nil {
			return ""
		}
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
