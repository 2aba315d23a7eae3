package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/TimurManjosov/goflagship-rules/internal/rollout"
	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

var errPathNotFound = errors.New("path not found")

// ParseVersion parses a SemVer 2.0 string, tolerating a leading "v".
func ParseVersion(v any) (*semver.Version, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("version must be a string, got %T", v)
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")
	return semver.StrictNewVersion(s)
}

type semverHandler struct{}

func (semverHandler) Check(actual, expected, additional any) (bool, error) {
	a, err := ParseVersion(actual)
	if err != nil {
		return false, fmt.Errorf("actual version %v: %w", actual, err)
	}
	e, err := ParseVersion(expected)
	if err != nil {
		return false, fmt.Errorf("expected version %v: %w", expected, err)
	}
	// Compare ignores build metadata and orders prereleases before releases.
	return compareMode(modeOf(additional), a.Compare(e))
}

// percentageBucketHandler hashes the actual identifier (optionally salted by a
// string additional value) into one of 100 buckets.
type percentageBucketHandler struct{}

func (percentageBucketHandler) Check(actual, expected, additional any) (bool, error) {
	pct, ok := toFloat64(expected)
	if !ok {
		return false, fmt.Errorf("%w: percentage %v", errNotNumber, expected)
	}
	if pct < 0 || pct > 100 {
		return false, fmt.Errorf("%w: percentage %v", errOutOfRange, pct)
	}
	seed := stringify(actual)
	if salt, ok := additional.(string); ok && salt != "" {
		seed += ":" + salt
	}
	return float64(rollout.Bucket(seed)) < pct, nil
}

// jsonPathHandler resolves a restricted JSONPath ($.a.b, [n], .n) and compares
// the result against an expected value, or checks presence when none is given.
type jsonPathHandler struct{}

func (jsonPathHandler) Check(actual, expected, additional any) (bool, error) {
	path, want, hasWant := "", additional, additional != nil
	switch e := expected.(type) {
	case string:
		path = e
	default:
		m, ok := rules.AsMap(expected)
		if !ok {
			return false, fmt.Errorf("json path must be a string or {path, value} map, got %T", expected)
		}
		p, ok := m["path"].(string)
		if !ok {
			return false, fmt.Errorf("%w: path", errMissingOperand)
		}
		path = p
		if v, ok := m["value"]; ok {
			want, hasWant = v, true
		}
	}

	doc := actual
	if s, ok := actual.(string); ok {
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return false, fmt.Errorf("actual value is not JSON: %w", err)
		}
	}

	got, err := ResolveJSONPath(doc, path)
	if errors.Is(err, errPathNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !hasWant {
		return true, nil
	}
	return valuesEqual(got, want), nil
}

// ResolveJSONPath walks doc along path. Supported syntax: optional "$" root,
// ".key" members, "[n]" or ".n" list indices and ['key'] quoted members.
func ResolveJSONPath(doc any, path string) (any, error) {
	segments, err := splitJSONPath(path)
	if err != nil {
		return nil, err
	}
	current := doc
	for _, seg := range segments {
		if m, ok := rules.AsMap(current); ok {
			next, ok := m[seg]
			if !ok {
				return nil, fmt.Errorf("%w: %s", errPathNotFound, seg)
			}
			current = next
			continue
		}
		if list, ok := rules.AsList(current); ok {
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(list) {
				return nil, fmt.Errorf("%w: index %s", errPathNotFound, seg)
			}
			current = list[idx]
			continue
		}
		return nil, fmt.Errorf("%w: %s", errPathNotFound, seg)
	}
	return current, nil
}

func splitJSONPath(path string) ([]string, error) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	var out []string
	for len(p) > 0 {
		switch p[0] {
		case '.':
			p = p[1:]
			end := strings.IndexAny(p, ".[")
			if end < 0 {
				end = len(p)
			}
			if end == 0 {
				return nil, fmt.Errorf("invalid json path %q", path)
			}
			out = append(out, p[:end])
			p = p[end:]
		case '[':
			end := strings.IndexByte(p, ']')
			if end < 0 {
				return nil, fmt.Errorf("invalid json path %q: unclosed bracket", path)
			}
			seg := strings.Trim(p[1:end], `'"`)
			if seg == "" {
				return nil, fmt.Errorf("invalid json path %q", path)
			}
			out = append(out, seg)
			p = p[end+1:]
		default:
			// Bare leading member, e.g. "a.b" without "$.".
			end := strings.IndexAny(p, ".[")
			if end < 0 {
				end = len(p)
			}
			out = append(out, p[:end])
			p = p[end:]
		}
	}
	return out, nil
}

type arrayLengthHandler struct{}

func (arrayLengthHandler) Check(actual, expected, additional any) (bool, error) {
	n, ok := lengthOf(actual)
	if !ok {
		return false, fmt.Errorf("value of type %T has no length", actual)
	}
	length := float64(n)

	mode := modeOf(additional)
	if mode == "between" {
		lo, hi, err := lengthBounds(expected)
		if err != nil {
			return false, err
		}
		return lo <= length && length <= hi, nil
	}

	want, ok := toFloat64(expected)
	if !ok {
		return false, fmt.Errorf("%w: length %v", errNotNumber, expected)
	}
	if want < 0 {
		return false, fmt.Errorf("%w: length %v", errNegative, want)
	}
	return compareMode(mode, compareFloats(length, want))
}

func lengthBounds(expected any) (float64, float64, error) {
	var minRaw, maxRaw any
	if m, ok := rules.AsMap(expected); ok {
		minRaw, maxRaw = m["min"], m["max"]
	} else if list, ok := rules.AsList(expected); ok && len(list) == 2 {
		minRaw, maxRaw = list[0], list[1]
	} else {
		return 0, 0, fmt.Errorf("between needs {min, max}, got %T", expected)
	}
	lo, ok := toFloat64(minRaw)
	if !ok {
		return 0, 0, fmt.Errorf("%w: min %v", errNotNumber, minRaw)
	}
	hi, ok := toFloat64(maxRaw)
	if !ok {
		return 0, 0, fmt.Errorf("%w: max %v", errNotNumber, maxRaw)
	}
	if lo < 0 || hi < 0 {
		return 0, 0, fmt.Errorf("%w: bounds [%v, %v]", errNegative, lo, hi)
	}
	return lo, hi, nil
}
