package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseJSON decodes a serialized rule set.
func ParseJSON(data []byte) (*TargetingRules, error) {
	var rs TargetingRules
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRuleSet, err)
	}
	return &rs, nil
}

// ParseYAML decodes a YAML rule set. The document is normalized to JSON-shaped
// values first so both encodings produce identical rules.
func ParseYAML(data []byte) (*TargetingRules, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRuleSet, err)
	}
	blob, err := json.Marshal(normalizeYAML(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRuleSet, err)
	}
	return ParseJSON(blob)
}

// LoadFile reads a rule set from disk, choosing the decoder by extension.
// Files without a .yaml/.yml extension are treated as JSON.
func LoadFile(path string) (*TargetingRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseContext decodes a JSON object into an evaluation context.
func ParseContext(data []byte) (map[string]any, error) {
	var ctx map[string]any
	if err := json.Unmarshal(data, &ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContext, err)
	}
	if ctx == nil {
		ctx = map[string]any{}
	}
	return ctx, nil
}

// normalizeYAML converts map[any]any (non-string YAML keys) into map[string]any.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			val[k] = normalizeYAML(child)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[fmt.Sprint(k)] = normalizeYAML(child)
		}
		return out
	case []any:
		for i, child := range val {
			val[i] = normalizeYAML(child)
		}
		return val
	default:
		return val
	}
}
