package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/TimurManjosov/goflagship-rules/internal/engine"
	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

const (
	// MaxRuleIDLength is the maximum length for rule ids
	MaxRuleIDLength = 64
	// MaxGroupDepth is the deepest group nesting accepted without an error
	MaxGroupDepth = 10
	// MaxGroupConditions is the per-group condition count above which a warning is raised
	MaxGroupConditions = 20
	// MaxListSize is the IN/NOT_IN list length above which a warning is raised
	MaxListSize = 100
	// MinRollout is the minimum rollout percentage
	MinRollout = 0
	// MaxRollout is the maximum rollout percentage
	MaxRollout = 100
)

var (
	versionPattern   = regexp.MustCompile(`^\d+\.\d+`)
	attributePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.]*$`)
)

// shadowAttributes are conditions so broad that a full-rollout rule using only
// one of them effectively replaces the default rule.
var shadowAttributes = map[string]struct{}{
	"registered_user": {},
	"active_user":     {},
}

// ValidateRuleSet runs every check against rs.
func ValidateRuleSet(rs *rules.TargetingRules) *ValidationResult {
	result := NewValidationResult()
	if rs == nil || (len(rs.Rules) == 0 && rs.DefaultRule == nil) {
		result.AddWarning("", "", "rule set contains no rules", "add at least one rule or a default_rule")
		return result
	}

	result.Merge(ValidateVersion(rs.Version))
	result.Merge(validateUniqueIDs(rs))
	result.Merge(validatePriorities(rs.Rules))

	for _, r := range rs.Rules {
		result.Merge(ValidateRule(r))
		if rs.DefaultRule != nil {
			result.Merge(validateShadowing(r))
		}
	}
	if rs.DefaultRule != nil {
		result.Merge(ValidateRule(*rs.DefaultRule))
	}
	return result
}

// ValidateVersion checks the rule set version string.
func ValidateVersion(version string) *ValidationResult {
	result := NewValidationResult()
	if version == "" {
		result.AddInfo("", "version", "rule set has no version")
		return result
	}
	if !versionPattern.MatchString(version) {
		result.AddWarning("", "version", fmt.Sprintf("version %q does not look like MAJOR.MINOR", version), `use a version such as "1.0"`)
	}
	return result
}

func validateUniqueIDs(rs *rules.TargetingRules) *ValidationResult {
	result := NewValidationResult()
	seen := make(map[string]int)
	ids := make([]string, 0, len(rs.Rules)+1)
	for _, r := range rs.Rules {
		ids = append(ids, r.ID)
	}
	if rs.DefaultRule != nil {
		ids = append(ids, rs.DefaultRule.ID)
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		seen[id]++
		if seen[id] == 2 {
			result.AddError(id, "", fmt.Sprintf("duplicate rule id %q", id))
		}
	}
	return result
}

func validatePriorities(rs []rules.TargetingRule) *ValidationResult {
	result := NewValidationResult()
	byPriority := make(map[int][]string)
	for _, r := range rs {
		byPriority[r.Priority] = append(byPriority[r.Priority], r.ID)
	}
	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)
	for _, p := range priorities {
		if ids := byPriority[p]; len(ids) > 1 {
			result.AddWarning("", "", fmt.Sprintf("rules %s share priority %d", strings.Join(ids, ", "), p),
				"equal priorities resolve by list order; assign distinct priorities")
		}
	}
	return result
}

func validateShadowing(r rules.TargetingRule) *ValidationResult {
	result := NewValidationResult()
	if r.RolloutPercentage < MaxRollout {
		return result
	}
	g := r.Rule
	trivial := g.IsEmpty()
	if !trivial && len(g.Groups) == 0 && len(g.Conditions) == 1 {
		c := g.Conditions[0]
		_, broad := shadowAttributes[c.Attribute]
		trivial = broad && c.Operator == rules.OpEquals && c.Value == true
	}
	if trivial {
		result.AddWarning(r.ID, "", "rule with 100% rollout and trivial conditions may shadow the default rule",
			"narrow the conditions or lower the rollout")
	}
	return result
}

// ValidateRule checks one rule's id, rollout, priority and condition tree.
func ValidateRule(r rules.TargetingRule) *ValidationResult {
	result := NewValidationResult()
	id := strings.TrimSpace(r.ID)
	switch {
	case id == "":
		result.AddError("", "id", "rule id is required")
	case utf8.RuneCountInString(id) > MaxRuleIDLength:
		result.AddError(r.ID, "id", fmt.Sprintf("rule id must not exceed %d characters", MaxRuleIDLength))
	}
	if r.RolloutPercentage < MinRollout || r.RolloutPercentage > MaxRollout {
		result.AddError(r.ID, "rollout_percentage", fmt.Sprintf("rollout percentage %v must be between 0 and 100", r.RolloutPercentage))
	}
	if r.Priority < 0 {
		result.AddWarning(r.ID, "priority", fmt.Sprintf("negative priority %d", r.Priority), "use priorities starting at 0")
	}

	result.Merge(validateGroup(r.ID, r.Rule, "rule", 1))
	return result
}

func validateGroup(ruleID string, g rules.RuleGroup, path string, depth int) *ValidationResult {
	result := NewValidationResult()
	result.ComplexityScore++

	if depth > MaxGroupDepth {
		result.AddError(ruleID, path, fmt.Sprintf("group depth %d exceeds maximum %d", depth, MaxGroupDepth))
	}
	if g.Operator != "" && !g.Operator.Known() {
		result.AddError(ruleID, path, fmt.Sprintf("unknown group operator %q", g.Operator))
	}
	if len(g.Conditions) > MaxGroupConditions {
		result.AddWarning(ruleID, path, fmt.Sprintf("group has %d conditions (max %d)", len(g.Conditions), MaxGroupConditions),
			"split the group into nested groups")
	}
	if g.IsEmpty() {
		result.AddWarning(ruleID, path, "empty group always matches", "")
	}
	if g.Operator == rules.LogicalNot && g.ChildCount() > 1 {
		result.AddWarning(ruleID, path, "NOT group with several children negates their conjunction",
			"wrap the children in an AND group or apply De Morgan's laws")
	}

	for i, c := range g.Conditions {
		result.Merge(ValidateCondition(ruleID, c, fmt.Sprintf("%s.conditions[%d]", path, i)))
	}
	for i, sub := range g.Groups {
		result.Merge(validateGroup(ruleID, sub, fmt.Sprintf("%s.groups[%d]", path, i), depth+1))
	}
	return result
}

// ValidateCondition checks attribute naming, operator/value compatibility and
// performance characteristics of one condition.
func ValidateCondition(ruleID string, c rules.Condition, path string) *ValidationResult {
	result := NewValidationResult()
	result.ComplexityScore++

	if c.Attribute == "" {
		result.AddError(ruleID, path, "attribute is required")
	} else if !attributePattern.MatchString(c.Attribute) {
		result.AddWarning(ruleID, path, fmt.Sprintf("attribute %q has an unusual name", c.Attribute),
			"use letters, digits, underscores and dots, starting with a letter")
	}
	if !c.Operator.Known() {
		result.AddError(ruleID, path, fmt.Sprintf("unknown operator %q", c.Operator))
		return result
	}

	switch c.Operator {
	case rules.OpIn, rules.OpNotIn:
		list, ok := rules.AsList(c.Value)
		if !ok {
			result.AddError(ruleID, path, fmt.Sprintf("%s requires an array value", c.Operator))
			break
		}
		if len(list) > MaxListSize {
			msg := fmt.Sprintf("%s list with %d elements at %s", c.Operator, len(list), path)
			result.AddWarning(ruleID, path, msg, "consider a segment attribute instead of a long list")
			result.PerformanceWarnings = append(result.PerformanceWarnings, msg)
		}
	case rules.OpContainsAll, rules.OpContainsAny:
		if !rules.IsList(c.Value) {
			result.AddError(ruleID, path, fmt.Sprintf("%s requires an array value", c.Operator))
		}
	case rules.OpBetween:
		if c.AdditionalValue == nil {
			result.AddError(ruleID, path, "between requires additional_value as the upper bound")
		}
	case rules.OpGeoDistance:
		validateGeo(result, ruleID, c, path)
	case rules.OpMatchRegex:
		pattern, ok := c.Value.(string)
		if !ok || !engine.ValidPattern(pattern) {
			result.AddError(ruleID, path, fmt.Sprintf("invalid regular expression %v", c.Value))
		}
		msg := fmt.Sprintf("regex match at %s", path)
		result.AddInfo(ruleID, path, msg+" is comparatively expensive")
		result.PerformanceWarnings = append(result.PerformanceWarnings, msg)
	case rules.OpJSONPath:
		msg := fmt.Sprintf("json path lookup at %s", path)
		result.AddInfo(ruleID, path, msg+" is comparatively expensive")
		result.PerformanceWarnings = append(result.PerformanceWarnings, msg)
	case rules.OpSemanticVersion:
		if _, err := engine.ParseVersion(c.Value); err != nil {
			result.AddError(ruleID, path, fmt.Sprintf("invalid semantic version %v: %v", c.Value, err))
		}
	case rules.OpTimeWindow:
		if !rules.IsMap(c.Value) {
			result.AddError(ruleID, path, "time_window requires a map value")
		}
	}
	return result
}

func validateGeo(result *ValidationResult, ruleID string, c rules.Condition, path string) {
	if _, err := engine.ParseGeoPoint(c.Value); err != nil {
		result.AddError(ruleID, path, fmt.Sprintf("invalid coordinates: %v", err))
	}
	if c.AdditionalValue != nil {
		return
	}
	if m, ok := rules.AsMap(c.Value); ok && m["radius"] != nil {
		return
	}
	result.AddError(ruleID, path, "geo_distance requires additional_value with a radius")
}
