package rules

import (
	"encoding/json"
	"reflect"
)

// AsList returns v as a []any when it is any slice or array type.
// Strings and byte slices are not lists.
func AsList(v any) ([]any, bool) {
	switch values := v.(type) {
	case nil:
		return nil, false
	case []any:
		return values, true
	case []string:
		out := make([]any, len(values))
		for i, s := range values {
			out[i] = s
		}
		return out, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// IsList reports whether v is a slice or array value.
func IsList(v any) bool {
	_, ok := AsList(v)
	return ok
}

// AsMap returns v as a map[string]any when it is a string-keyed map.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// IsMap reports whether v is a string-keyed map.
func IsMap(v any) bool {
	_, ok := AsMap(v)
	return ok
}

// IsString reports whether v is a string.
func IsString(v any) bool {
	_, ok := v.(string)
	return ok
}

// CanonicalJSON serializes v with map keys sorted, so logically equal values
// produce identical bytes regardless of map insertion order.
func CanonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
