package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

const sampleRuleSet = `{
  "version": "1.0",
  "rules": [
    {
      "id": "premium_us",
      "name": "Premium US",
      "rule": {
        "operator": "AND",
        "conditions": [
          {"attribute": "country", "operator": "==", "value": "US"},
          {"attribute": "subscription_tier", "operator": "equals", "value": "premium"}
        ],
        "groups": [
          {"conditions": [{"attribute": "age", "operator": "gte", "value": 18}]}
        ]
      },
      "priority": 1
    }
  ],
  "default_rule": {"id": "fallback", "rule": {"operator": "and"}, "rollout_percentage": 0}
}`

func TestParseJSON(t *testing.T) {
	rs, err := ParseJSON([]byte(sampleRuleSet))
	if err != nil {
		t.Fatalf("ParseJSON() error = %v", err)
	}
	if rs.Version != "1.0" {
		t.Errorf("Version = %q, want 1.0", rs.Version)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("len(Rules) = %d, want 1", len(rs.Rules))
	}
	r := rs.Rules[0]
	if r.RolloutPercentage != 100 {
		t.Errorf("RolloutPercentage = %v, want default 100", r.RolloutPercentage)
	}
	if r.Rule.Operator != LogicalAnd {
		t.Errorf("Rule.Operator = %q, want and", r.Rule.Operator)
	}
	if got := r.Rule.Conditions[0].Operator; got != OpEquals {
		t.Errorf("alias operator normalized to %q, want %q", got, OpEquals)
	}
	if got := r.Rule.Groups[0].Conditions[0].Operator; got != OpGreaterThanOrEqual {
		t.Errorf("gte normalized to %q, want %q", got, OpGreaterThanOrEqual)
	}
	if rs.DefaultRule == nil || rs.DefaultRule.ID != "fallback" {
		t.Fatalf("DefaultRule = %+v, want fallback", rs.DefaultRule)
	}
	if rs.DefaultRule.RolloutPercentage != 0 {
		t.Errorf("explicit zero rollout lost: %v", rs.DefaultRule.RolloutPercentage)
	}
}

func TestParseJSON_Malformed(t *testing.T) {
	_, err := ParseJSON([]byte(`{"rules": [`))
	if !errors.Is(err, ErrMalformedRuleSet) {
		t.Fatalf("error = %v, want ErrMalformedRuleSet", err)
	}
}

func TestParseYAML_MatchesJSON(t *testing.T) {
	doc := `
version: "1.0"
rules:
  - id: premium_us
    priority: 1
    rule:
      operator: and
      conditions:
        - attribute: country
          operator: in
          value: [US, CA]
        - attribute: age
          operator: gt
          value: 21
`
	rs, err := ParseYAML([]byte(doc))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	c := rs.Rules[0].Rule.Conditions[0]
	if c.Operator != OpIn {
		t.Errorf("Operator = %q, want in", c.Operator)
	}
	list, ok := AsList(c.Value)
	if !ok || len(list) != 2 || list[0] != "US" {
		t.Errorf("Value = %#v, want [US CA]", c.Value)
	}
	if v, ok := rs.Rules[0].Rule.Conditions[1].Value.(float64); !ok || v != 21 {
		t.Errorf("numeric value = %#v, want float64 21", rs.Rules[0].Rule.Conditions[1].Value)
	}
}

func TestLoadFile_ByExtension(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "rules.json")
	yamlPath := filepath.Join(dir, "rules.yml")
	if err := os.WriteFile(jsonPath, []byte(sampleRuleSet), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(yamlPath, []byte("rules:\n  - id: a\n    rule: {operator: or}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	rs, err := LoadFile(jsonPath)
	if err != nil || len(rs.Rules) != 1 {
		t.Fatalf("LoadFile(json) = %v, %v", rs, err)
	}
	rs, err = LoadFile(yamlPath)
	if err != nil || rs.Rules[0].Rule.Operator != LogicalOr {
		t.Fatalf("LoadFile(yaml) = %+v, %v", rs, err)
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("LoadFile(missing) should fail")
	}
}

// ---------------------------------------------------------------------------
// Attribute lookup
// ---------------------------------------------------------------------------

func TestLookup(t *testing.T) {
	ctx := map[string]any{
		"country":   "US",
		"a.b":       "literal",
		"device":    map[string]any{"os": map[string]any{"version": "17.1"}},
		"purchases": []any{map[string]any{"sku": "x1"}, map[string]any{"sku": "x2"}},
	}

	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{path: "country", want: "US", wantOK: true},
		{path: "a.b", want: "literal", wantOK: true},
		{path: "device.os.version", want: "17.1", wantOK: true},
		{path: "purchases.1.sku", want: "x2", wantOK: true},
		{path: "purchases.5.sku", wantOK: false},
		{path: "device.missing", wantOK: false},
		{path: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := Lookup(ctx, tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("Lookup(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Content hash
// ---------------------------------------------------------------------------

func TestContentHash(t *testing.T) {
	base := TargetingRule{
		ID:   "r1",
		Name: "first",
		Rule: RuleGroup{Operator: LogicalAnd, Conditions: []Condition{
			{Attribute: "plan", Operator: OpEquals, Value: "pro"},
		}},
		RolloutPercentage: 50,
		Priority:          3,
	}

	renamed := base
	renamed.Name = "renamed"
	renamed.Description = "cosmetic"
	if ContentHash(base) != ContentHash(renamed) {
		t.Error("presentation fields must not change the content hash")
	}

	changed := base
	changed.RolloutPercentage = 60
	if ContentHash(base) == ContentHash(changed) {
		t.Error("rollout change must change the content hash")
	}

	if got := len(ContentHash(base)); got != 32 {
		t.Errorf("hash length = %d, want 32 hex chars", got)
	}
}

// ---------------------------------------------------------------------------
// Construction-time checks
// ---------------------------------------------------------------------------

func TestNewCondition(t *testing.T) {
	tests := []struct {
		name         string
		attribute    string
		op           Operator
		value        any
		additional   any
		wantSentinel error
	}{
		{name: "equals ok", attribute: "plan", op: OpEquals, value: "pro"},
		{name: "alias normalized", attribute: "age", op: ">", value: 3},
		{name: "in with list", attribute: "country", op: OpIn, value: []string{"US"}},
		{name: "empty attribute", attribute: "", op: OpEquals, value: "x", wantSentinel: ErrInvalidCondition},
		{name: "unknown operator", attribute: "x", op: "nope", value: "x", wantSentinel: ErrInvalidOperator},
		{name: "in without list", attribute: "x", op: OpIn, value: "US", wantSentinel: ErrInvalidValueType},
		{name: "contains_any without list", attribute: "x", op: OpContainsAny, value: 3, wantSentinel: ErrInvalidValueType},
		{name: "between without bound", attribute: "x", op: OpBetween, value: 1, wantSentinel: ErrMissingOperand},
		{name: "time_window without map", attribute: "x", op: OpTimeWindow, value: "22:00", wantSentinel: ErrInvalidValueType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCondition(tt.attribute, tt.op, tt.value, tt.additional)
			if tt.wantSentinel == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantSentinel) {
				t.Fatalf("error = %v; want sentinel %v", err, tt.wantSentinel)
			}
		})
	}
}

func TestTargetingRulesCheck(t *testing.T) {
	rs := &TargetingRules{Rules: []TargetingRule{
		{ID: "ok", Rule: RuleGroup{Operator: LogicalAnd}, RolloutPercentage: 100},
	}}
	if err := rs.Check(); err != nil {
		t.Fatalf("Check() = %v, want nil", err)
	}

	rs.DefaultRule = &TargetingRule{ID: "d", RolloutPercentage: 140}
	if err := rs.Check(); !errors.Is(err, ErrInvalidRollout) {
		t.Fatalf("Check() = %v, want ErrInvalidRollout", err)
	}

	rs.DefaultRule = nil
	rs.Rules[0].Rule.Groups = []RuleGroup{{Operator: "xor"}}
	if err := rs.Check(); !errors.Is(err, ErrInvalidLogicalOp) {
		t.Fatalf("Check() = %v, want ErrInvalidLogicalOp", err)
	}
}
