package rules

import (
	"strconv"
	"strings"
)

// Lookup resolves a dotted attribute path against a context.
// An exact top-level key wins over path traversal, so attributes that
// literally contain dots keep working. Integer segments index into lists.
func Lookup(ctx map[string]any, attribute string) (any, bool) {
	if ctx == nil || attribute == "" {
		return nil, false
	}
	if v, ok := ctx[attribute]; ok {
		return v, true
	}
	if !strings.Contains(attribute, ".") {
		return nil, false
	}

	var current any = ctx
	for _, segment := range strings.Split(attribute, ".") {
		next, ok := step(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func step(current any, segment string) (any, bool) {
	if m, ok := AsMap(current); ok {
		v, ok := m[segment]
		return v, ok
	}
	if list, ok := AsList(current); ok {
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(list) {
			return nil, false
		}
		return list[idx], true
	}
	return nil, false
}
