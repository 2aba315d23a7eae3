package rules

import (
	"encoding/json"
	"strings"
)

// Operator represents a comparison operator used in targeting conditions.
type Operator string

// Supported targeting operators (string values for clean JSON serialization).
const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
	OpMatchRegex         Operator = "match_regex"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpBefore             Operator = "before"
	OpAfter              Operator = "after"
	OpBetween            Operator = "between"
	OpContainsAll        Operator = "contains_all"
	OpContainsAny        Operator = "contains_any"
	OpSemanticVersion    Operator = "semantic_version"
	OpGeoDistance        Operator = "geo_distance"
	OpTimeWindow         Operator = "time_window"
	OpPercentageBucket   Operator = "percentage_bucket"
	OpJSONPath           Operator = "json_path"
	OpArrayLength        Operator = "array_length"
)

// AllOperators lists every operator the engine understands, in declaration order.
var AllOperators = []Operator{
	OpEquals, OpNotEquals, OpIn, OpNotIn, OpContains, OpNotContains,
	OpStartsWith, OpEndsWith, OpMatchRegex, OpGreaterThan, OpGreaterThanOrEqual,
	OpLessThan, OpLessThanOrEqual, OpBefore, OpAfter, OpBetween,
	OpContainsAll, OpContainsAny, OpSemanticVersion, OpGeoDistance,
	OpTimeWindow, OpPercentageBucket, OpJSONPath, OpArrayLength,
}

var knownOperators = func() map[Operator]struct{} {
	m := make(map[Operator]struct{}, len(AllOperators))
	for _, op := range AllOperators {
		m[op] = struct{}{}
	}
	return m
}()

// NormalizeOperator maps aliases and casing variants onto the canonical operator.
// Unknown operators are returned lowercased so diagnostics can name them.
func NormalizeOperator(op string) Operator {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "==", "eq", "equals":
		return OpEquals
	case "!=", "neq", "not_equals":
		return OpNotEquals
	case "in", "in_list":
		return OpIn
	case "not_in", "not_in_list", "nin":
		return OpNotIn
	case "startswith", "starts_with":
		return OpStartsWith
	case "endswith", "ends_with":
		return OpEndsWith
	case "regex", "matches", "match_regex":
		return OpMatchRegex
	case ">", "gt", "greater_than":
		return OpGreaterThan
	case ">=", "gte", "greater_than_or_equal":
		return OpGreaterThanOrEqual
	case "<", "lt", "less_than":
		return OpLessThan
	case "<=", "lte", "less_than_or_equal":
		return OpLessThanOrEqual
	case "semver", "semantic_version":
		return OpSemanticVersion
	default:
		return Operator(strings.ToLower(strings.TrimSpace(op)))
	}
}

// Known reports whether op is one of the supported operators.
func (op Operator) Known() bool {
	_, ok := knownOperators[op]
	return ok
}

// UnmarshalJSON normalizes operator aliases while decoding.
func (op *Operator) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*op = NormalizeOperator(s)
	return nil
}

// LogicalOperator combines the children of a RuleGroup.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and"
	LogicalOr  LogicalOperator = "or"
	LogicalNot LogicalOperator = "not"
)

// Known reports whether op is and, or, or not.
func (op LogicalOperator) Known() bool {
	return op == LogicalAnd || op == LogicalOr || op == LogicalNot
}

// UnmarshalJSON lowercases the operator and defaults an empty one to "and".
func (op *LogicalOperator) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		s = string(LogicalAnd)
	}
	*op = LogicalOperator(s)
	return nil
}

// Condition represents a single targeting predicate.
// Value is polymorphic: a scalar, a list ([]any) or a map (map[string]any),
// depending on the operator. AdditionalValue is the operator-specific second
// operand (BETWEEN upper bound, GEO_DISTANCE radius, comparison mode, ...).
type Condition struct {
	Attribute       string   `json:"attribute"`
	Operator        Operator `json:"operator"`
	Value           any      `json:"value"`
	AdditionalValue any      `json:"additional_value,omitempty"`
	AttributeType   string   `json:"attribute_type,omitempty"`
}

// RuleGroup is a boolean combinator over conditions and nested groups.
type RuleGroup struct {
	Operator   LogicalOperator `json:"operator"`
	Conditions []Condition     `json:"conditions"`
	Groups     []RuleGroup     `json:"groups"`
}

// IsEmpty reports whether the group has neither conditions nor subgroups.
func (g RuleGroup) IsEmpty() bool {
	return len(g.Conditions) == 0 && len(g.Groups) == 0
}

// ChildCount returns the number of direct children (conditions plus subgroups).
func (g RuleGroup) ChildCount() int {
	return len(g.Conditions) + len(g.Groups)
}

// TargetingRule is a named, prioritized predicate plus a rollout percentage.
// Lower Priority values are evaluated first.
type TargetingRule struct {
	ID                string    `json:"id"`
	Name              string    `json:"name,omitempty"`
	Description       string    `json:"description,omitempty"`
	Rule              RuleGroup `json:"rule"`
	RolloutPercentage float64   `json:"rollout_percentage"`
	Priority          int       `json:"priority"`
}

// UnmarshalJSON defaults rollout_percentage to 100 and the root group operator to "and".
func (r *TargetingRule) UnmarshalJSON(data []byte) error {
	type alias TargetingRule
	aux := struct {
		*alias
		RolloutPercentage *float64 `json:"rollout_percentage"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.RolloutPercentage = 100
	if aux.RolloutPercentage != nil {
		r.RolloutPercentage = *aux.RolloutPercentage
	}
	if r.Rule.Operator == "" {
		r.Rule.Operator = LogicalAnd
	}
	return nil
}

// TargetingRules is an ordered rule set with an optional fallback rule.
// Rule IDs are expected to be unique; the validator enforces that, decoding does not.
type TargetingRules struct {
	Version     string          `json:"version,omitempty"`
	Rules       []TargetingRule `json:"rules"`
	DefaultRule *TargetingRule  `json:"default_rule,omitempty"`
}
