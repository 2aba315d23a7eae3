// Package testutil holds fixtures and assertions shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

// PremiumUSRuleSetJSON is a serialized rule set with one premium rule and a default.
const PremiumUSRuleSetJSON = `{
  "version": "1.0",
  "rules": [
    {
      "id": "premium_us",
      "name": "Premium US users",
      "rule": {
        "operator": "and",
        "conditions": [
          {"attribute": "country", "operator": "equals", "value": "US"},
          {"attribute": "subscription_tier", "operator": "equals", "value": "premium"}
        ]
      },
      "rollout_percentage": 100,
      "priority": 1
    },
    {
      "id": "beta_testers",
      "rule": {
        "operator": "or",
        "conditions": [
          {"attribute": "tags", "operator": "contains_any", "value": ["beta", "internal"]}
        ]
      },
      "rollout_percentage": 100,
      "priority": 5
    }
  ],
  "default_rule": {"id": "everyone_else", "rule": {"operator": "and"}, "rollout_percentage": 100}
}`

// PremiumUSRule returns the rule premium US subscribers match.
func PremiumUSRule() rules.TargetingRule {
	return rules.TargetingRule{
		ID: "premium_us",
		Rule: rules.RuleGroup{
			Operator: rules.LogicalAnd,
			Conditions: []rules.Condition{
				{Attribute: "country", Operator: rules.OpEquals, Value: "US"},
				{Attribute: "subscription_tier", Operator: rules.OpEquals, Value: "premium"},
			},
		},
		RolloutPercentage: 100,
		Priority:          1,
	}
}

// RuleSet wraps rules into a set without a default rule.
func RuleSet(rs ...rules.TargetingRule) *rules.TargetingRules {
	return &rules.TargetingRules{Version: "1.0", Rules: rs}
}

// Context builds an evaluation context from alternating key/value pairs.
func Context(kv ...any) map[string]any {
	ctx := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic("testutil.Context: keys must be strings")
		}
		ctx[key] = kv[i+1]
	}
	return ctx
}

// WriteFile writes content under dir and returns the path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// MetricValue returns the value of a counter or gauge, or the sample count of
// a histogram, from g. Missing metrics read as zero.
func MetricValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()

	mfs, err := g.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	idx := sort.Search(len(mfs), func(i int) bool { return mfs[i].GetName() >= name })
	if idx >= len(mfs) || mfs[idx].GetName() != name {
		return 0
	}
	for _, m := range mfs[idx].GetMetric() {
		if !matchesLabels(m, labels) {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

func matchesLabels(m *dto.Metric, filter map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, pair := range m.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for k, v := range filter {
		if got[k] != v {
			return false
		}
	}
	return true
}
