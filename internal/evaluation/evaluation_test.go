package evaluation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/TimurManjosov/goflagship-rules/internal/cache"
	"github.com/TimurManjosov/goflagship-rules/internal/engine"
	"github.com/TimurManjosov/goflagship-rules/internal/rules"
	"github.com/TimurManjosov/goflagship-rules/internal/telemetry"
	"github.com/TimurManjosov/goflagship-rules/internal/testutil"
)

func premiumSet(t *testing.T) *rules.TargetingRules {
	t.Helper()
	rs, err := rules.ParseJSON([]byte(testutil.PremiumUSRuleSetJSON))
	require.NoError(t, err)
	return rs
}

func TestEvaluationMetrics_Percentiles(t *testing.T) {
	m := NewEvaluationMetrics(100)
	for i := 1; i <= 100; i++ {
		m.Record(time.Duration(i)*time.Millisecond, i%4 == 0, i == 100)
	}

	snap := m.Snapshot()
	assert.Equal(t, uint64(100), snap.TotalEvaluations)
	assert.Equal(t, uint64(1), snap.Errors)
	assert.Equal(t, uint64(24), snap.CacheHits)
	assert.Equal(t, uint64(75), snap.CacheMisses)
	assert.InDelta(t, 50.5, snap.AverageMs, 1e-9)
	assert.InDelta(t, 96.0, snap.P95Ms, 1e-9)
	assert.InDelta(t, 100.0, snap.P99Ms, 1e-9)
	assert.Equal(t, 100, snap.Samples)
}

func TestEvaluationMetrics_WindowAndReset(t *testing.T) {
	m := NewEvaluationMetrics(3)
	for _, ms := range []int{100, 1, 2, 3} {
		m.Record(time.Duration(ms)*time.Millisecond, false, false)
	}
	snap := m.Snapshot()
	assert.Equal(t, 3, snap.Samples)
	assert.InDelta(t, 2.0, snap.AverageMs, 1e-9, "oldest sample should be dropped")
	assert.Equal(t, uint64(4), snap.TotalEvaluations)

	m.Reset()
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())
}

func TestService_Evaluate(t *testing.T) {
	svc := NewService()
	rs := premiumSet(t)

	tests := []struct {
		name   string
		ctx    map[string]any
		ruleID string
		reason engine.Reason
	}{
		{"premium us", testutil.Context("user_id", "u1", "country", "US", "subscription_tier", "premium"), "premium_us", engine.ReasonTargetingMatch},
		{"beta tag", testutil.Context("user_id", "u2", "tags", []any{"beta"}), "beta_testers", engine.ReasonTargetingMatch},
		{"falls through to default", testutil.Context("user_id", "u3", "country", "DE"), "everyone_else", engine.ReasonDefaultRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.Evaluate(rs, tt.ctx, false)
			assert.True(t, res.Matched)
			assert.Equal(t, tt.ruleID, res.MatchedRuleID)
			assert.Equal(t, tt.reason, res.Reason)
			assert.False(t, res.Cached)
			assert.Empty(t, res.Error)
		})
	}
}

func TestService_Evaluate_NoMatch(t *testing.T) {
	svc := NewService()
	res := svc.Evaluate(testutil.RuleSet(testutil.PremiumUSRule()), testutil.Context("country", "FR"), false)
	assert.False(t, res.Matched)
	assert.Empty(t, res.MatchedRuleID)
	assert.Equal(t, engine.ReasonNoMatch, res.Reason)

	res = svc.Evaluate(nil, testutil.Context("country", "FR"), false)
	assert.False(t, res.Matched)
	assert.Empty(t, res.Error)
}

func TestService_Evaluate_CachedHit(t *testing.T) {
	svc := NewService()
	rs := premiumSet(t)
	ctx := testutil.Context("user_id", "u1", "country", "US", "subscription_tier", "premium")

	first := svc.Evaluate(rs, ctx, false)
	second := svc.Evaluate(rs, ctx, false)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.MatchedRuleID, second.MatchedRuleID)

	snap := svc.Metrics()
	assert.Equal(t, uint64(2), snap.TotalEvaluations)
	assert.Equal(t, uint64(1), snap.CacheHits)
}

func TestService_Evaluate_DefaultNeverCached(t *testing.T) {
	svc := NewService()
	rs := premiumSet(t)
	ctx := testutil.Context("user_id", "u3")

	svc.Evaluate(rs, ctx, false)
	res := svc.Evaluate(rs, ctx, false)
	assert.Equal(t, "everyone_else", res.MatchedRuleID)
	assert.False(t, res.Cached)
}

func TestService_Evaluate_SkipCache(t *testing.T) {
	ec := cache.New()
	svc := NewService(WithCache(ec))
	rs := premiumSet(t)
	ctx := testutil.Context("user_id", "u1", "country", "US", "subscription_tier", "premium")

	svc.Evaluate(rs, ctx, true)
	assert.Equal(t, 0, ec.Len(), "skip cache must not write")

	svc.Evaluate(rs, ctx, false)
	res := svc.Evaluate(rs, ctx, true)
	assert.False(t, res.Cached, "skip cache must not read")
}

func TestService_Evaluate_RuleChangeInvalidates(t *testing.T) {
	svc := NewService()
	rule := testutil.PremiumUSRule()
	ctx := testutil.Context("user_id", "u1", "country", "US", "subscription_tier", "premium")

	svc.Evaluate(testutil.RuleSet(rule), ctx, false)
	require.True(t, svc.Evaluate(testutil.RuleSet(rule), ctx, false).Cached)

	rule.Rule.Conditions[0].Value = "CA"
	res := svc.Evaluate(testutil.RuleSet(rule), ctx, false)
	assert.False(t, res.Matched, "stale cached match must not survive an edit")
	assert.False(t, res.Cached)
}

func countryRule(country string) rules.TargetingRule {
	return rules.TargetingRule{
		ID:                "x",
		RolloutPercentage: 100,
		Rule: rules.RuleGroup{
			Operator:   rules.LogicalAnd,
			Conditions: []rules.Condition{{Attribute: "country", Operator: rules.OpEquals, Value: country}},
		},
	}
}

func TestService_Evaluate_InterleavedVersionsNeverServeStale(t *testing.T) {
	svc := NewService()
	v1 := testutil.RuleSet(countryRule("US"))
	v2 := testutil.RuleSet(countryRule("CA"))
	ctx := testutil.Context("user_id", "u1", "country", "US")

	// An older caller finishes after a newer one has already prepared.
	plan1 := svc.prepare(v1)
	svc.prepare(v2)
	require.True(t, svc.evaluate(v1, plan1, ctx, false).Matched)

	res := svc.Evaluate(v2, ctx, false)
	assert.False(t, res.Matched, "outcome cached for the old rule content must not be reused")
	assert.False(t, res.Cached)
	assert.Equal(t, engine.ReasonNoMatch, res.Reason)

	require.True(t, svc.Evaluate(v1, ctx, false).Matched)
	assert.True(t, svc.Evaluate(v1, ctx, false).Cached)
}

func TestService_Evaluate_ConcurrentVersions(t *testing.T) {
	svc := NewService()
	v1 := testutil.RuleSet(countryRule("US"))
	v2 := testutil.RuleSet(countryRule("CA"))
	ctx := testutil.Context("user_id", "u1", "country", "US")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				svc.Evaluate(v1, ctx, false)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if res := svc.Evaluate(v2, ctx, false); res.Matched {
					t.Errorf("CA rule matched a US context: %+v", res)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestService_Evaluate_DuplicateIDsKeepOwnOutcomes(t *testing.T) {
	svc := NewService()
	us, ca := countryRule("US"), countryRule("CA")
	ca.Priority = 1
	rs := testutil.RuleSet(us, ca)

	for i, country := range []string{"US", "CA", "US", "CA"} {
		res := svc.Evaluate(rs, testutil.Context("user_id", "u1", "country", country), false)
		assert.True(t, res.Matched, country)
		assert.Equal(t, "x", res.MatchedRuleID)
		assert.Equal(t, i >= 2, res.Cached, "call %d", i)
	}
	assert.Equal(t, 2, svc.PerformanceStats().Cache.Size)
}

type explosive struct{}

func (explosive) MarshalJSON() ([]byte, error) { panic("boom") }

func TestService_Evaluate_PanicBecomesError(t *testing.T) {
	svc := NewService()
	res := svc.Evaluate(premiumSet(t), map[string]any{"user_id": "u1", "bad": explosive{}}, false)

	assert.False(t, res.Matched)
	assert.Contains(t, res.Error, "boom")
	assert.Equal(t, uint64(1), svc.Metrics().Errors)
}

func TestService_BatchEvaluate_PreservesOrder(t *testing.T) {
	for _, parallelism := range []int{1, 8} {
		t.Run(fmt.Sprintf("parallelism=%d", parallelism), func(t *testing.T) {
			svc := NewService(WithParallelism(parallelism))
			rs := premiumSet(t)

			var contexts []map[string]any
			var want []string
			for i := 0; i < 50; i++ {
				switch i % 3 {
				case 0:
					contexts = append(contexts, testutil.Context("user_id", fmt.Sprintf("u%d", i), "country", "US", "subscription_tier", "premium"))
					want = append(want, "premium_us")
				case 1:
					contexts = append(contexts, testutil.Context("user_id", fmt.Sprintf("u%d", i), "tags", []any{"internal"}))
					want = append(want, "beta_testers")
				default:
					contexts = append(contexts, testutil.Context("user_id", fmt.Sprintf("u%d", i)))
					want = append(want, "everyone_else")
				}
			}

			results := svc.BatchEvaluate(rs, contexts)
			require.Len(t, results, len(contexts))
			for i, res := range results {
				assert.Equal(t, want[i], res.MatchedRuleID, "context %d", i)
			}
		})
	}
}

func TestService_BatchEvaluate_Empty(t *testing.T) {
	svc := NewService()
	assert.Empty(t, svc.BatchEvaluate(premiumSet(t), nil))
}

func TestService_Telemetry(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := NewService(WithTelemetry(telemetry.NewMetrics(reg)))
	rs := premiumSet(t)
	ctx := testutil.Context("user_id", "u1", "country", "US", "subscription_tier", "premium")

	svc.Evaluate(rs, ctx, false)
	svc.Evaluate(rs, ctx, false)
	svc.Evaluate(rs, testutil.Context("user_id", "u9"), false)
	svc.BatchEvaluate(rs, []map[string]any{ctx})

	outcome := func(o string) float64 {
		return testutil.MetricValue(t, reg, "flagship_rules_evaluations_total", map[string]string{"outcome": o})
	}
	assert.Equal(t, 1.0, outcome(telemetry.OutcomeMatched))
	assert.Equal(t, 2.0, outcome(telemetry.OutcomeCached))
	assert.Equal(t, 1.0, outcome(telemetry.OutcomeDefault))
	assert.Equal(t, 1.0, testutil.MetricValue(t, reg, "flagship_rules_batches_total", nil))
}

func TestService_InvalidateAndClear(t *testing.T) {
	svc := NewService()
	rs := premiumSet(t)
	ctx := testutil.Context("user_id", "u1", "country", "US", "subscription_tier", "premium")

	svc.Evaluate(rs, ctx, false)
	assert.Equal(t, 1, svc.InvalidateUserCache("u1"))
	assert.Equal(t, 0, svc.InvalidateUserCache(""))

	svc.Evaluate(rs, ctx, false)
	assert.Equal(t, 1, svc.InvalidateRuleCache("premium_us"))

	svc.Evaluate(rs, ctx, false)
	stats := svc.PerformanceStats()
	assert.Equal(t, 1, stats.Cache.Size)
	assert.Positive(t, stats.Compiler.Size)
	assert.Equal(t, uint64(3), stats.Evaluation.TotalEvaluations)

	svc.ClearCaches()
	stats = svc.PerformanceStats()
	assert.Zero(t, stats.Cache.Size)
	assert.Zero(t, stats.Compiler.Size)
	assert.Zero(t, stats.Evaluation.TotalEvaluations)
}

func TestService_CompileAndValidate(t *testing.T) {
	svc := NewService()
	compiled := svc.Compile(testutil.PremiumUSRule(), false)
	assert.True(t, compiled.IsValid)
	assert.Equal(t, 2, compiled.ConditionCount)

	result := svc.Validate(premiumSet(t))
	assert.True(t, result.IsValid)
}

func TestService_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	svc := NewService(WithTracerProvider(tp))
	rs := premiumSet(t)

	svc.Evaluate(rs, testutil.Context("user_id", "u1", "country", "US", "subscription_tier", "premium"), false)
	svc.BatchEvaluate(rs, []map[string]any{testutil.Context("user_id", "u2"), testutil.Context("user_id", "u3")})

	spans := recorder.Ended()
	require.Len(t, spans, 4)

	attrs := func(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
		m := make(map[attribute.Key]attribute.Value)
		for _, kv := range s.Attributes() {
			m[kv.Key] = kv.Value
		}
		return m
	}

	first := attrs(spans[0])
	assert.Equal(t, "evaluation.Evaluate", spans[0].Name())
	assert.Equal(t, "premium_us", first["result.rule_id"].AsString())
	assert.True(t, first["result.matched"].AsBool())

	batch := spans[3]
	assert.Equal(t, "evaluation.BatchEvaluate", batch.Name())
	assert.Equal(t, int64(2), attrs(batch)["batch.size"].AsInt64())
	for _, child := range spans[1:3] {
		assert.Equal(t, batch.SpanContext().SpanID(), child.Parent().SpanID())
		assert.Equal(t, "everyone_else", attrs(child)["result.rule_id"].AsString())
	}
}
