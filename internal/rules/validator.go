package rules

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by construction-time checks.
var (
	ErrInvalidOperator  = errors.New("invalid operator")
	ErrInvalidCondition = errors.New("invalid condition")
	ErrInvalidValueType = errors.New("invalid value type")
	ErrMissingOperand   = errors.New("missing additional value")
	ErrMalformedRuleSet = errors.New("malformed rule set")
	ErrMalformedContext = errors.New("malformed context")
	ErrInvalidRollout   = errors.New("rollout percentage must be between 0 and 100")
	ErrInvalidLogicalOp = errors.New("invalid group operator")
)

// NewCondition builds a condition and rejects operator/value shapes that can never
// evaluate meaningfully.
func NewCondition(attribute string, op Operator, value, additional any) (Condition, error) {
	c := Condition{
		Attribute:       attribute,
		Operator:        NormalizeOperator(string(op)),
		Value:           value,
		AdditionalValue: additional,
	}
	if err := CheckCondition(c); err != nil {
		return Condition{}, err
	}
	return c, nil
}

// CheckCondition validates a single condition's attribute, operator and value shape.
// It is a pure function: it never mutates c and has no side effects.
func CheckCondition(c Condition) error {
	if c.Attribute == "" {
		return fmt.Errorf("%w: attribute must not be empty", ErrInvalidCondition)
	}
	if !c.Operator.Known() {
		return fmt.Errorf("%w: operator %q is not supported", ErrInvalidOperator, c.Operator)
	}
	return checkValueShape(c)
}

// checkValueShape checks that the condition value has a type compatible with the operator.
func checkValueShape(c Condition) error {
	switch c.Operator {
	case OpIn, OpNotIn, OpContainsAll, OpContainsAny:
		if !IsList(c.Value) {
			return fmt.Errorf("%w: operator %q on %q requires a list value", ErrInvalidValueType, c.Operator, c.Attribute)
		}
	case OpBetween:
		if c.AdditionalValue == nil {
			return fmt.Errorf("%w: operator %q on %q requires an upper bound", ErrMissingOperand, c.Operator, c.Attribute)
		}
	case OpTimeWindow:
		if !IsMap(c.Value) {
			return fmt.Errorf("%w: operator %q on %q requires a map value", ErrInvalidValueType, c.Operator, c.Attribute)
		}
	}
	return nil
}

// Check validates every rule in the set: IDs present, rollout in range, group
// operators known and every condition well shaped. The first failure is returned.
func (rs *TargetingRules) Check() error {
	all := rs.Rules
	if rs.DefaultRule != nil {
		all = append(append([]TargetingRule(nil), rs.Rules...), *rs.DefaultRule)
	}
	for _, r := range all {
		if err := CheckRule(r); err != nil {
			return err
		}
	}
	return nil
}

// CheckRule validates one targeting rule.
func CheckRule(r TargetingRule) error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule id must not be empty", ErrInvalidCondition)
	}
	if r.RolloutPercentage < 0 || r.RolloutPercentage > 100 {
		return fmt.Errorf("%w: rule %s has %v", ErrInvalidRollout, r.ID, r.RolloutPercentage)
	}
	if err := checkGroup(r.Rule); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}

func checkGroup(g RuleGroup) error {
	if g.Operator != "" && !g.Operator.Known() {
		return fmt.Errorf("%w: %q", ErrInvalidLogicalOp, g.Operator)
	}
	for _, c := range g.Conditions {
		if err := CheckCondition(c); err != nil {
			return err
		}
	}
	for _, sub := range g.Groups {
		if err := checkGroup(sub); err != nil {
			return err
		}
	}
	return nil
}
