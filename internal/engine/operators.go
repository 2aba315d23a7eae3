package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

// OperatorHandler evaluates one condition operator.
// A non-nil error means the operands were malformed; the engine reports it and
// treats the condition as not matching.
type OperatorHandler interface {
	Check(actual, expected, additional any) (bool, error)
}

// missingValueHandler is implemented by operators that have a defined result
// when the context attribute is absent.
type missingValueHandler interface {
	CheckMissing(expected, additional any) (bool, error)
}

var (
	errNotList           = errors.New("expected value must be a list")
	errNotNumber         = errors.New("operand is not numeric")
	errNotTime           = errors.New("operand is not a date or time")
	errBadPattern        = errors.New("invalid regular expression")
	errUnknownComparison = errors.New("unknown comparison mode")
	errMissingOperand    = errors.New("missing additional value")
	errNegative          = errors.New("negative operand")
	errOutOfRange        = errors.New("operand out of range")
)

var (
	operatorHandlers = map[rules.Operator]OperatorHandler{
		rules.OpEquals:             equalsHandler{},
		rules.OpNotEquals:          notEqualsHandler{},
		rules.OpIn:                 inHandler{},
		rules.OpNotIn:              notInHandler{},
		rules.OpContains:           stringHandler{fn: strings.Contains},
		rules.OpNotContains:        stringHandler{fn: func(s, sub string) bool { return !strings.Contains(s, sub) }},
		rules.OpStartsWith:         stringHandler{fn: strings.HasPrefix},
		rules.OpEndsWith:           stringHandler{fn: strings.HasSuffix},
		rules.OpMatchRegex:         regexHandler{},
		rules.OpGreaterThan:        numericCompareHandler{cmp: func(a, b float64) bool { return a > b }},
		rules.OpGreaterThanOrEqual: numericCompareHandler{cmp: func(a, b float64) bool { return a >= b }},
		rules.OpLessThan:           numericCompareHandler{cmp: func(a, b float64) bool { return a < b }},
		rules.OpLessThanOrEqual:    numericCompareHandler{cmp: func(a, b float64) bool { return a <= b }},
		rules.OpBefore:             temporalCompareHandler{before: true},
		rules.OpAfter:              temporalCompareHandler{},
		rules.OpBetween:            betweenHandler{},
		rules.OpContainsAll:        containsSetHandler{all: true},
		rules.OpContainsAny:        containsSetHandler{},
		rules.OpSemanticVersion:    semverHandler{},
		rules.OpGeoDistance:        geoDistanceHandler{},
		rules.OpTimeWindow:         timeWindowHandler{},
		rules.OpPercentageBucket:   percentageBucketHandler{},
		rules.OpJSONPath:           jsonPathHandler{},
		rules.OpArrayLength:        arrayLengthHandler{},
	}
	// regexCache keeps compiled regex by pattern for the hot evaluation path.
	// Expected value type is *regexp.Regexp.
	regexCache sync.Map
)

func getOperatorHandler(op rules.Operator) (OperatorHandler, bool) {
	h, ok := operatorHandlers[rules.NormalizeOperator(string(op))]
	return h, ok
}

type equalsHandler struct{}

func (equalsHandler) Check(actual, expected, _ any) (bool, error) {
	return valuesEqual(actual, expected), nil
}

func (equalsHandler) CheckMissing(expected, _ any) (bool, error) {
	return expected == nil, nil
}

type notEqualsHandler struct{}

func (notEqualsHandler) Check(actual, expected, _ any) (bool, error) {
	return !valuesEqual(actual, expected), nil
}

func (notEqualsHandler) CheckMissing(expected, _ any) (bool, error) {
	return expected != nil, nil
}

type inHandler struct{}

func (inHandler) Check(actual, expected, _ any) (bool, error) {
	list, ok := rules.AsList(expected)
	if !ok {
		return false, fmt.Errorf("%w: got %T", errNotList, expected)
	}
	return listContains(list, actual), nil
}

type notInHandler struct{}

func (notInHandler) Check(actual, expected, _ any) (bool, error) {
	list, ok := rules.AsList(expected)
	if !ok {
		return false, fmt.Errorf("%w: got %T", errNotList, expected)
	}
	return !listContains(list, actual), nil
}

func (h notInHandler) CheckMissing(expected, additional any) (bool, error) {
	return h.Check(nil, expected, additional)
}

func listContains(list []any, v any) bool {
	for _, item := range list {
		if valuesEqual(v, item) {
			return true
		}
	}
	return false
}

// stringHandler covers the substring family; operands are stringified first.
type stringHandler struct {
	fn func(s, operand string) bool
}

func (h stringHandler) Check(actual, expected, _ any) (bool, error) {
	if expected == nil {
		return false, fmt.Errorf("%w: expected value is null", errMissingOperand)
	}
	return h.fn(stringify(actual), stringify(expected)), nil
}

type regexHandler struct{}

func (regexHandler) Check(actual, expected, _ any) (bool, error) {
	pattern, ok := expected.(string)
	if !ok {
		pattern = stringify(expected)
	}
	rx, err := getCompiledRegex(pattern)
	if err != nil {
		return false, err
	}
	return rx.MatchString(stringify(actual)), nil
}

type numericCompareHandler struct {
	cmp func(a, b float64) bool
}

func (h numericCompareHandler) Check(actual, expected, _ any) (bool, error) {
	a, ok := toFloat64(actual)
	if !ok {
		return false, fmt.Errorf("%w: actual %v", errNotNumber, actual)
	}
	b, ok := toFloat64(expected)
	if !ok {
		return false, fmt.Errorf("%w: expected %v", errNotNumber, expected)
	}
	return h.cmp(a, b), nil
}

// containsSetHandler checks expected items against a list (membership), a map
// (keys) or a string (substrings).
type containsSetHandler struct {
	all bool
}

func (h containsSetHandler) Check(actual, expected, _ any) (bool, error) {
	items, ok := rules.AsList(expected)
	if !ok {
		return false, fmt.Errorf("%w: got %T", errNotList, expected)
	}

	var has func(item any) bool
	switch {
	case rules.IsList(actual):
		list, _ := rules.AsList(actual)
		has = func(item any) bool { return listContains(list, item) }
	case rules.IsMap(actual):
		m, _ := rules.AsMap(actual)
		has = func(item any) bool {
			_, found := m[stringify(item)]
			return found
		}
	case rules.IsString(actual):
		s := actual.(string)
		has = func(item any) bool { return strings.Contains(s, stringify(item)) }
	default:
		return false, fmt.Errorf("actual value of type %T is not a collection or string", actual)
	}

	if h.all {
		for _, item := range items {
			if !has(item) {
				return false, nil
			}
		}
		return true, nil
	}
	for _, item := range items {
		if has(item) {
			return true, nil
		}
	}
	return false, nil
}

func getCompiledRegex(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		if rx, ok := cached.(*regexp.Regexp); ok {
			return rx, nil
		}
	}

	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadPattern, err)
	}
	regexCache.Store(pattern, rx)
	return rx, nil
}

// ValidPattern reports whether pattern compiles with the regex dialect used by MATCH_REGEX.
func ValidPattern(pattern string) bool {
	_, err := getCompiledRegex(pattern)
	return err == nil
}
