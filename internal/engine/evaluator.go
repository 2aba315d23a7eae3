package engine

import (
	"fmt"
	"sort"

	"github.com/TimurManjosov/goflagship-rules/internal/rollout"
	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

// Apply evaluates one operator. It never panics: unknown operators, malformed
// operands and absent actual values all yield false and are logged.
func (e *Engine) Apply(op rules.Operator, actual, expected, additional any) (matched bool) {
	op = rules.NormalizeOperator(string(op))
	h, ok := getOperatorHandler(op)
	if !ok {
		e.logger.Warn().Str("operator", string(op)).Msg("unknown operator")
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("operator", string(op)).
				Str("panic", fmt.Sprint(r)).
				Msg("operator panicked")
			matched = false
		}
	}()

	var err error
	switch {
	case actual != nil:
		matched, err = h.Check(actual, expected, additional)
	case op == rules.OpTimeWindow:
		matched, err = h.Check(e.now(), expected, additional)
	default:
		mh, ok := h.(missingValueHandler)
		if !ok {
			e.logger.Debug().Str("operator", string(op)).Msg("attribute absent")
			return false
		}
		matched, err = mh.CheckMissing(expected, additional)
	}
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("operator", string(op)).
			Interface("expected", expected).
			Msg("operator input malformed")
		return false
	}
	return matched
}

// EvaluateCondition resolves the condition attribute in ctx and applies its operator.
func (e *Engine) EvaluateCondition(c rules.Condition, ctx map[string]any) bool {
	actual, _ := rules.Lookup(ctx, c.Attribute)
	matched := e.Apply(c.Operator, actual, c.Value, c.AdditionalValue)
	e.logger.Trace().
		Str("attribute", c.Attribute).
		Str("operator", string(c.Operator)).
		Bool("matched", matched).
		Msg("condition evaluated")
	return matched
}

// EvaluateGroup combines every condition and nested group. An empty group is
// true. NOT negates a single child, or the conjunction of several children.
func (e *Engine) EvaluateGroup(g rules.RuleGroup, ctx map[string]any) bool {
	if g.IsEmpty() {
		return true
	}

	results := make([]bool, 0, g.ChildCount())
	for _, c := range g.Conditions {
		results = append(results, e.EvaluateCondition(c, ctx))
	}
	for _, sub := range g.Groups {
		results = append(results, e.EvaluateGroup(sub, ctx))
	}

	switch g.Operator {
	case rules.LogicalAnd, "":
		return all(results)
	case rules.LogicalOr:
		return anyTrue(results)
	case rules.LogicalNot:
		if len(results) == 1 {
			return !results[0]
		}
		return !all(results)
	default:
		e.logger.Warn().Str("group_operator", string(g.Operator)).Msg("unknown group operator")
		return false
	}
}

func all(results []bool) bool {
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

func anyTrue(results []bool) bool {
	for _, r := range results {
		if r {
			return true
		}
	}
	return false
}

// MatchesRule reports whether ctx satisfies the rule's conditions and falls
// inside its rollout.
func (e *Engine) MatchesRule(r rules.TargetingRule, ctx map[string]any) bool {
	return e.EvaluateGroup(r.Rule, ctx) && rollout.ShouldInclude(r, ctx)
}

// SortByPriority returns a copy of rs ordered by ascending priority.
// Equal priorities keep their original order.
func SortByPriority(rs []rules.TargetingRule) []rules.TargetingRule {
	sorted := append([]rules.TargetingRule(nil), rs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}

// Decide returns the first matching rule in priority order, falling back to the
// default rule when no rule matches.
func (e *Engine) Decide(rs *rules.TargetingRules, ctx map[string]any) Decision {
	if rs == nil {
		return Decision{Reason: ReasonNoMatch}
	}
	for _, r := range SortByPriority(rs.Rules) {
		if e.MatchesRule(r, ctx) {
			matched := r
			return Decision{Rule: &matched, Reason: ReasonTargetingMatch}
		}
	}
	if rs.DefaultRule != nil {
		d := *rs.DefaultRule
		return Decision{Rule: &d, Reason: ReasonDefaultRule}
	}
	return Decision{Reason: ReasonNoMatch}
}

// EvaluateTargetingRules returns the selected rule, or nil.
func (e *Engine) EvaluateTargetingRules(rs *rules.TargetingRules, ctx map[string]any) *rules.TargetingRule {
	return e.Decide(rs, ctx).Rule
}
