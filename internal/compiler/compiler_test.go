package compiler_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/goflagship-rules/internal/compiler"
	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

func eq(attr string, v any) rules.Condition {
	return rules.Condition{Attribute: attr, Operator: rules.OpEquals, Value: v}
}

func rule(id string, g rules.RuleGroup) rules.TargetingRule {
	return rules.TargetingRule{ID: id, Rule: g, RolloutPercentage: 100}
}

func nested(depth int) rules.RuleGroup {
	g := rules.RuleGroup{Operator: rules.LogicalAnd, Conditions: []rules.Condition{eq("leaf", true)}}
	for i := 1; i < depth; i++ {
		g = rules.RuleGroup{Operator: rules.LogicalAnd, Groups: []rules.RuleGroup{g}}
	}
	return g
}

func TestCompile_Metadata(t *testing.T) {
	c := compiler.New()
	r := rule("meta", rules.RuleGroup{
		Operator:   rules.LogicalAnd,
		Conditions: []rules.Condition{eq("country", "US"), {Attribute: "age", Operator: rules.OpGreaterThan, Value: 18}},
		Groups: []rules.RuleGroup{{
			Operator:   rules.LogicalOr,
			Conditions: []rules.Condition{eq("plan", "pro"), {Attribute: "country", Operator: rules.OpIn, Value: []any{"CA"}}},
		}},
	})

	cr := c.Compile(r, false)
	assert.True(t, cr.IsValid)
	assert.Empty(t, cr.ValidationErrors)
	assert.Equal(t, 4, cr.ConditionCount)
	assert.Equal(t, 2, cr.MaxDepth)
	assert.Equal(t, []string{"age", "country", "plan"}, cr.RequiredAttributes)
	assert.Equal(t, []string{"equals", "greater_than", "in"}, cr.OperatorTypes)
	assert.False(t, cr.HasRedundancy)
	assert.False(t, cr.HasContradiction)
	assert.True(t, cr.CanEverMatch)
	assert.Equal(t, rules.ContentHash(r), cr.ContentHash)
}

func TestCompile_Redundancy(t *testing.T) {
	cr := compiler.New().Compile(rule("dup", rules.RuleGroup{
		Operator:   rules.LogicalOr,
		Conditions: []rules.Condition{eq("country", "US"), eq("country", "US")},
	}), false)

	assert.True(t, cr.HasRedundancy)
	assert.False(t, cr.HasContradiction)
	assert.True(t, cr.CanEverMatch)
}

func TestCompile_Contradiction(t *testing.T) {
	cr := compiler.New().Compile(rule("contra", rules.RuleGroup{
		Operator:   rules.LogicalAnd,
		Conditions: []rules.Condition{eq("country", "US"), eq("country", "CA")},
	}), false)

	assert.True(t, cr.HasContradiction)
	assert.False(t, cr.CanEverMatch)
	assert.True(t, cr.IsValid, "contradictions do not invalidate a rule")
}

func TestCompile_OrGroupIsNotContradictory(t *testing.T) {
	cr := compiler.New().Compile(rule("or", rules.RuleGroup{
		Operator:   rules.LogicalOr,
		Conditions: []rules.Condition{eq("country", "US"), eq("country", "CA")},
	}), false)
	assert.False(t, cr.HasContradiction)
}

func TestCompile_DepthLimit(t *testing.T) {
	c := compiler.New(compiler.WithMaxDepth(3))

	ok := c.Compile(rule("shallow", nested(3)), false)
	assert.True(t, ok.IsValid)

	deep := c.Compile(rule("deep", nested(5)), false)
	assert.False(t, deep.IsValid)
	require.Len(t, deep.ValidationErrors, 1)
	assert.Contains(t, deep.ValidationErrors[0], "exceeds maximum 3")
	assert.Equal(t, 5, deep.MaxDepth, "metadata keeps accumulating past the limit")
	assert.Equal(t, 1, deep.ConditionCount)
}

func TestCompile_CompatibilityErrorsAccumulate(t *testing.T) {
	cr := compiler.New().Compile(rule("bad", rules.RuleGroup{Conditions: []rules.Condition{
		{Attribute: "country", Operator: rules.OpIn, Value: "US"},
		{Attribute: "age", Operator: rules.OpBetween, Value: 1},
		{Attribute: "loc", Operator: rules.OpGeoDistance, Value: []any{1.0, 2.0}},
		{Attribute: "now", Operator: rules.OpTimeWindow, Value: "always"},
		{Attribute: "app", Operator: rules.OpSemanticVersion, Value: 1},
		{Attribute: "x", Operator: "mystery", Value: 1},
	}}), false)

	assert.False(t, cr.IsValid)
	assert.Len(t, cr.ValidationErrors, 6)
}

func TestCompile_GeoRadiusInValueMap(t *testing.T) {
	cr := compiler.New().Compile(rule("geo", rules.RuleGroup{Conditions: []rules.Condition{
		{Attribute: "loc", Operator: rules.OpGeoDistance, Value: map[string]any{"lat": 1.0, "lon": 2.0, "radius": 5}},
	}}), false)
	assert.True(t, cr.IsValid, cr.ValidationErrors)
}

func TestCompile_CachesByContentHash(t *testing.T) {
	c := compiler.New()
	r := rule("cached", rules.RuleGroup{Conditions: []rules.Condition{eq("a", 1)}})

	first := c.Compile(r, false)
	second := c.Compile(r, false)
	assert.Same(t, first, second)

	renamed := r
	renamed.Name = "cosmetic only"
	assert.Same(t, first, c.Compile(renamed, false))

	changed := r
	changed.RolloutPercentage = 50
	assert.NotSame(t, first, c.Compile(changed, false))

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, 2, stats.Size)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestCompile_ForceRecompile(t *testing.T) {
	c := compiler.New()
	r := rule("force", rules.RuleGroup{})
	first := c.Compile(r, false)
	forced := c.Compile(r, true)
	assert.NotSame(t, first, forced)
	assert.Same(t, forced, c.Compile(r, false), "forced result replaces the cached one")
}

func TestCompiler_LRUEviction(t *testing.T) {
	c := compiler.New(compiler.WithCacheSize(2))
	a := c.Compile(rule("a", rules.RuleGroup{}), false)
	c.Compile(rule("b", rules.RuleGroup{}), false)
	c.Compile(rule("a", rules.RuleGroup{}), false) // touch a
	c.Compile(rule("c", rules.RuleGroup{}), false) // evicts b

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Size)
	assert.Same(t, a, c.Compile(rule("a", rules.RuleGroup{}), false))
}

func TestCompiler_InvalidateAndClear(t *testing.T) {
	c := compiler.New()
	r := rule("inv", rules.RuleGroup{})
	c.Compile(r, false)
	v2 := r
	v2.Priority = 9
	c.Compile(v2, false)
	c.Compile(rule("other", rules.RuleGroup{}), false)

	assert.Equal(t, 2, c.Invalidate("inv"))
	assert.Equal(t, 1, c.Stats().Size)

	c.Clear()
	assert.Equal(t, compiler.Stats{MaxSize: compiler.DefaultCacheSize}, c.Stats())
}

func TestCompileAll(t *testing.T) {
	rs := &rules.TargetingRules{
		Rules:       []rules.TargetingRule{rule("one", rules.RuleGroup{}), rule("two", rules.RuleGroup{})},
		DefaultRule: &rules.TargetingRule{ID: "default"},
	}
	out := compiler.New().CompileAll(rs)
	require.Len(t, out, 3)
	assert.Equal(t, "default", out[2].RuleID)
	assert.Nil(t, compiler.New().CompileAll(nil))
}

func TestCompiler_ConcurrentUse(t *testing.T) {
	c := compiler.New(compiler.WithCacheSize(8))
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := rule(string(rune('a'+i%10)), rules.RuleGroup{Conditions: []rules.Condition{eq("k", i%3)}})
			for range 50 {
				c.Compile(r, false)
			}
		}(i)
	}
	wg.Wait()
	stats := c.Stats()
	assert.Equal(t, uint64(16*50), stats.Hits+stats.Misses)
	assert.LessOrEqual(t, stats.Size, 8)
}
