package compiler

import (
	"fmt"
	"sort"
	"time"

	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

type analysis struct {
	maxAllowed    int
	depthFlagged  bool
	errors        []string
	conditions    int
	maxDepth      int
	attributes    map[string]struct{}
	operators     map[string]struct{}
	redundancy    bool
	contradiction bool
}

func (c *Compiler) analyze(r rules.TargetingRule, hash string) *CompiledRule {
	a := &analysis{
		maxAllowed: c.maxDepth,
		attributes: make(map[string]struct{}),
		operators:  make(map[string]struct{}),
	}
	a.walk(r.Rule, 1)
	a.checkContradictions(r.Rule)

	return &CompiledRule{
		RuleID:             r.ID,
		ContentHash:        hash,
		IsValid:            len(a.errors) == 0,
		ValidationErrors:   a.errors,
		ConditionCount:     a.conditions,
		MaxDepth:           a.maxDepth,
		RequiredAttributes: sortedKeys(a.attributes),
		OperatorTypes:      sortedKeys(a.operators),
		HasRedundancy:      a.redundancy,
		HasContradiction:   a.contradiction,
		CanEverMatch:       !a.contradiction,
		CompiledAt:         time.Now(),
	}
}

// walk accumulates metadata for the whole tree; exceeding the depth limit
// marks the rule invalid but does not stop the walk.
func (a *analysis) walk(g rules.RuleGroup, depth int) {
	if depth > a.maxDepth {
		a.maxDepth = depth
	}
	if depth > a.maxAllowed && !a.depthFlagged {
		a.depthFlagged = true
		a.errors = append(a.errors, fmt.Sprintf("rule depth %d exceeds maximum %d", depth, a.maxAllowed))
	}
	if g.Operator != "" && !g.Operator.Known() {
		a.errors = append(a.errors, fmt.Sprintf("unknown group operator %q", g.Operator))
	}

	for _, cond := range g.Conditions {
		a.conditions++
		a.attributes[cond.Attribute] = struct{}{}
		a.operators[string(cond.Operator)] = struct{}{}
		if msg := compatibilityError(cond); msg != "" {
			a.errors = append(a.errors, msg)
		}
	}
	for _, sub := range g.Groups {
		a.walk(sub, depth+1)
	}
}

// compatibilityError returns "" when the condition's value shape suits its operator.
func compatibilityError(c rules.Condition) string {
	if !c.Operator.Known() {
		return fmt.Sprintf("unknown operator %q on attribute %q", c.Operator, c.Attribute)
	}
	switch c.Operator {
	case rules.OpIn, rules.OpNotIn:
		if !rules.IsList(c.Value) {
			return fmt.Sprintf("operator %s on %q requires a list value", c.Operator, c.Attribute)
		}
	case rules.OpBetween:
		if c.AdditionalValue == nil {
			return fmt.Sprintf("operator %s on %q requires additional_value", c.Operator, c.Attribute)
		}
	case rules.OpGeoDistance:
		if c.AdditionalValue == nil && !hasRadius(c.Value) {
			return fmt.Sprintf("operator %s on %q requires additional_value", c.Operator, c.Attribute)
		}
	case rules.OpTimeWindow:
		if !rules.IsMap(c.Value) {
			return fmt.Sprintf("operator %s on %q requires a map value", c.Operator, c.Attribute)
		}
	case rules.OpSemanticVersion:
		if !rules.IsString(c.Value) {
			return fmt.Sprintf("operator %s on %q requires a string value", c.Operator, c.Attribute)
		}
	}
	return ""
}

func hasRadius(v any) bool {
	m, ok := rules.AsMap(v)
	if !ok {
		return false
	}
	r, ok := m["radius"]
	return ok && r != nil
}

// checkContradictions flags duplicate conditions within a group, and AND groups
// requiring one attribute to EQUAL two different values.
func (a *analysis) checkContradictions(g rules.RuleGroup) {
	seen := make(map[string]struct{}, len(g.Conditions))
	equals := make(map[string]string)
	conjunctive := g.Operator == rules.LogicalAnd || g.Operator == ""

	for _, c := range g.Conditions {
		value := valueSignature(c.Value)
		sig := c.Attribute + "|" + string(c.Operator) + "|" + value
		if _, dup := seen[sig]; dup {
			a.redundancy = true
		}
		seen[sig] = struct{}{}

		if conjunctive && c.Operator == rules.OpEquals {
			if prev, ok := equals[c.Attribute]; ok && prev != value {
				a.contradiction = true
			}
			equals[c.Attribute] = value
		}
	}
	for _, sub := range g.Groups {
		a.checkContradictions(sub)
	}
}

func valueSignature(v any) string {
	if b, err := rules.CanonicalJSON(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
