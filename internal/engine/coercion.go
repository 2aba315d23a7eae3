package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

// toFloat64 coerces numbers, numeric strings and json.Number to float64.
// nil and unparseable strings are rejected rather than read as zero.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, !math.IsNaN(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// isNumber reports whether v is a Go numeric type (strings excluded).
func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	}
	return false
}

// stringify renders any operand for string operators.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

// toTime coerces time.Time, unix seconds and ISO-8601 strings.
// Strings without a zone are interpreted in loc.
func toTime(v any, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return unixTime(f), true
		}
		parsed, err := cast.ToTimeInDefaultLocationE(s, loc)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	if isNumber(v) {
		f, ok := toFloat64(v)
		if !ok {
			return time.Time{}, false
		}
		return unixTime(f), true
	}
	return time.Time{}, false
}

func unixTime(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

// valuesEqual is direct value equality with numeric tolerance across Go number types.
// Numbers never equal strings; lists and maps compare element-wise.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) && isNumber(b) {
		fa, oka := toFloat64(a)
		fb, okb := toFloat64(b)
		return oka && okb && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	if al, ok := rules.AsList(a); ok {
		bl, ok := rules.AsList(b)
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !valuesEqual(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	if am, ok := rules.AsMap(a); ok {
		bm, ok := rules.AsMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !valuesEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// lengthOf returns the length of a list, map or string (runes).
func lengthOf(v any) (int, bool) {
	switch val := v.(type) {
	case nil:
		return 0, false
	case string:
		return len([]rune(val)), true
	}
	if list, ok := rules.AsList(v); ok {
		return len(list), true
	}
	if m, ok := rules.AsMap(v); ok {
		return len(m), true
	}
	return 0, false
}

// compareMode applies a named comparison (eq, gt, gte, lt, lte) to a three-way result.
func compareMode(mode string, cmp int) (bool, error) {
	switch mode {
	case "", "eq", "==":
		return cmp == 0, nil
	case "gt", ">":
		return cmp > 0, nil
	case "gte", ">=":
		return cmp >= 0, nil
	case "lt", "<":
		return cmp < 0, nil
	case "lte", "<=":
		return cmp <= 0, nil
	default:
		return false, fmt.Errorf("%w: %q", errUnknownComparison, mode)
	}
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// modeOf reads an optional comparison selector.
func modeOf(v any) string {
	if v == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(stringify(v)))
}
