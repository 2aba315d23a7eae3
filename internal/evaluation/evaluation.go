// Package evaluation composes the compiler, evaluation cache, engine and metrics
// into a single entry point for deciding which targeting rule a context matches.
//
// Testing Guide:
//
// Service has no I/O. Build one with NewService and inject collaborators to
// observe them:
//
//	svc := NewService(WithCache(cache.New(cache.WithMaxSize(10))))
//	res := svc.Evaluate(ruleSet, map[string]any{"user_id": "u1"}, false)
//	// res.Matched, res.MatchedRuleID, res.Cached
//
// Edge Cases to Test:
//
//   - nil rule set: no match, no error
//   - repeated identical context: second call reports Cached=true
//   - rule edited between calls: outcomes cached for the old content are never served
//   - default rule: Matched=true with the default rule id, never cached
//   - operator panics: surfaced in Result.Error, never propagated
//   - batch: output order equals input order at any parallelism
package evaluation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel/trace"

	"github.com/TimurManjosov/goflagship-rules/internal/cache"
	"github.com/TimurManjosov/goflagship-rules/internal/compiler"
	"github.com/TimurManjosov/goflagship-rules/internal/engine"
	"github.com/TimurManjosov/goflagship-rules/internal/rules"
	"github.com/TimurManjosov/goflagship-rules/internal/telemetry"
	"github.com/TimurManjosov/goflagship-rules/internal/validation"
)

// Result is the outcome of evaluating a rule set for one context.
type Result struct {
	Matched          bool          `json:"matched"`
	MatchedRuleID    string        `json:"matched_rule_id,omitempty"`
	Reason           engine.Reason `json:"reason,omitempty"`
	Cached           bool          `json:"cached"`
	EvaluationTimeMs float64       `json:"evaluation_time_ms"`
	Error            string        `json:"error,omitempty"`
}

// PerformanceStats aggregates service, evaluation cache and compiler statistics.
type PerformanceStats struct {
	Evaluation MetricsSnapshot `json:"evaluation"`
	Cache      cache.Stats     `json:"cache"`
	Compiler   compiler.Stats  `json:"compiler"`
}

// Service evaluates rule sets with compilation, caching and metrics.
// It is safe for concurrent use.
type Service struct {
	engine      *engine.Engine
	compiler    *compiler.Compiler
	cache       *cache.EvaluationCache
	metrics     *EvaluationMetrics
	telemetry   *telemetry.Metrics
	tracer      trace.Tracer
	logger      zerolog.Logger
	parallelism int
}

// Option configures a Service.
type Option func(*Service)

// WithEngine sets the rule engine.
func WithEngine(e *engine.Engine) Option { return func(s *Service) { s.engine = e } }

// WithCompiler sets the rule compiler.
func WithCompiler(c *compiler.Compiler) Option { return func(s *Service) { s.compiler = c } }

// WithCache sets the evaluation cache.
func WithCache(c *cache.EvaluationCache) Option { return func(s *Service) { s.cache = c } }

// WithTelemetry sets the Prometheus collectors to update.
func WithTelemetry(m *telemetry.Metrics) Option { return func(s *Service) { s.telemetry = m } }

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetricsWindow sets how many latency samples percentiles use.
func WithMetricsWindow(n int) Option {
	return func(s *Service) { s.metrics = NewEvaluationMetrics(n) }
}

// WithParallelism bounds concurrent contexts in BatchEvaluate; 1 is sequential.
func WithParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// NewService creates a Service. Collaborators not supplied get defaults.
func NewService(opts ...Option) *Service {
	s := &Service{
		logger:      zerolog.Nop(),
		parallelism: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = engine.New(engine.WithLogger(s.logger))
	}
	if s.compiler == nil {
		s.compiler = compiler.New(compiler.WithLogger(s.logger))
	}
	if s.cache == nil {
		s.cache = cache.New(cache.WithLogger(s.logger))
	}
	if s.metrics == nil {
		s.metrics = NewEvaluationMetrics(DefaultMetricsWindow)
	}
	if s.tracer == nil {
		s.tracer = defaultTracer()
	}
	return s
}

// Compile analyzes one rule through the shared compiler cache.
func (s *Service) Compile(r rules.TargetingRule, force bool) *compiler.CompiledRule {
	return s.compiler.Compile(r, force)
}

// Validate runs the full rule set validator.
func (s *Service) Validate(rs *rules.TargetingRules) *validation.ValidationResult {
	return validation.ValidateRuleSet(rs)
}

// Evaluate decides which rule ctx matches. It never panics; failures are
// reported in Result.Error with Matched=false.
func (s *Service) Evaluate(rs *rules.TargetingRules, ctx map[string]any, skipCache bool) Result {
	return s.EvaluateContext(context.Background(), rs, ctx, skipCache)
}

// EvaluateContext is Evaluate with a parent context for tracing.
func (s *Service) EvaluateContext(ctx context.Context, rs *rules.TargetingRules, evalCtx map[string]any, skipCache bool) Result {
	_, span := s.startEvaluateSpan(ctx, ruleCount(rs), skipCache)
	defer span.End()

	plan := s.prepare(rs)
	res := s.evaluate(rs, plan, evalCtx, skipCache)
	setResultAttributes(span, res)
	return res
}

// BatchEvaluate compiles rs once and evaluates every context. Results are in
// the same order as contexts.
func (s *Service) BatchEvaluate(rs *rules.TargetingRules, contexts []map[string]any) []Result {
	return s.BatchEvaluateContext(context.Background(), rs, contexts)
}

// BatchEvaluateContext is BatchEvaluate with a parent context for tracing.
// Each context gets a child span of the batch span.
func (s *Service) BatchEvaluateContext(ctx context.Context, rs *rules.TargetingRules, contexts []map[string]any) []Result {
	batchID := uuid.NewString()
	start := time.Now()
	ctx, span := s.startBatchSpan(ctx, batchID, len(contexts))
	defer span.End()

	s.telemetry.ObserveBatch(len(contexts))
	plan := s.prepare(rs)

	mapper := iter.Mapper[map[string]any, Result]{MaxGoroutines: s.parallelism}
	results := mapper.Map(contexts, func(evalCtx *map[string]any) Result {
		_, child := s.startEvaluateSpan(ctx, ruleCount(rs), false)
		defer child.End()
		res := s.evaluate(rs, plan, *evalCtx, false)
		setResultAttributes(child, res)
		return res
	})

	s.logger.Debug().
		Str("batch_id", batchID).
		Int("contexts", len(contexts)).
		Int("parallelism", s.parallelism).
		Dur("elapsed", time.Since(start)).
		Msg("batch evaluated")
	return results
}

func ruleCount(rs *rules.TargetingRules) int {
	if rs == nil {
		return 0
	}
	return len(rs.Rules)
}

// versionedRule pairs a rule with the content hash its cached outcomes are
// recorded under. An edited rule gets a new version, so outcomes cached for
// the old content are never served for it.
type versionedRule struct {
	rule    rules.TargetingRule
	version string
}

// prepare compiles every rule (best effort) and returns the rules in priority
// order with their versions. Ties keep input order, as in engine.SortByPriority.
func (s *Service) prepare(rs *rules.TargetingRules) []versionedRule {
	if rs == nil {
		return nil
	}

	var compiled []*compiler.CompiledRule
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Str("panic", fmt.Sprint(r)).Msg("rule compilation failed")
			}
		}()
		compiled = s.compiler.CompileAll(rs)
	}()

	plan := make([]versionedRule, len(rs.Rules))
	for i, r := range rs.Rules {
		plan[i] = versionedRule{rule: r}
		if i < len(compiled) && compiled[i] != nil {
			plan[i].version = compiled[i].ContentHash
		} else {
			plan[i].version = rules.ContentHash(r)
		}
	}
	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].rule.Priority < plan[j].rule.Priority
	})
	return plan
}

func (s *Service) evaluate(rs *rules.TargetingRules, plan []versionedRule, ctx map[string]any, skipCache bool) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("panic", fmt.Sprint(r)).Msg("evaluation failed")
			res = Result{Error: fmt.Sprintf("evaluation failed: %v", r)}
		}
		elapsed := time.Since(start)
		res.EvaluationTimeMs = float64(elapsed) / float64(time.Millisecond)
		s.record(res, elapsed)
	}()

	if rs == nil {
		return Result{Reason: engine.ReasonNoMatch}
	}

	for _, vr := range plan {
		r := vr.rule
		if !skipCache {
			if matched, ok := s.cache.GetVersion(r.ID, vr.version, ctx); ok && matched {
				return Result{Matched: true, MatchedRuleID: r.ID, Reason: engine.ReasonTargetingMatch, Cached: true}
			}
		}
		if s.engine.MatchesRule(r, ctx) {
			if !skipCache {
				s.cache.SetVersion(r.ID, vr.version, ctx, true, 0)
			}
			return Result{Matched: true, MatchedRuleID: r.ID, Reason: engine.ReasonTargetingMatch}
		}
	}

	if rs.DefaultRule != nil {
		return Result{Matched: true, MatchedRuleID: rs.DefaultRule.ID, Reason: engine.ReasonDefaultRule}
	}
	return Result{Reason: engine.ReasonNoMatch}
}

func (s *Service) record(res Result, elapsed time.Duration) {
	failed := res.Error != ""
	s.metrics.Record(elapsed, res.Cached, failed)

	outcome := telemetry.OutcomeNoMatch
	switch {
	case failed:
		outcome = telemetry.OutcomeError
	case res.Cached:
		outcome = telemetry.OutcomeCached
	case res.Reason == engine.ReasonDefaultRule:
		outcome = telemetry.OutcomeDefault
	case res.Matched:
		outcome = telemetry.OutcomeMatched
	}
	s.telemetry.ObserveEvaluation(outcome, elapsed)
}

// InvalidateRuleCache drops cached outcomes and compilations for ruleID.
func (s *Service) InvalidateRuleCache(ruleID string) int {
	s.compiler.Invalidate(ruleID)
	return s.cache.InvalidateRule(ruleID)
}

// InvalidateUserCache drops cached outcomes recorded for userID.
func (s *Service) InvalidateUserCache(userID string) int {
	return s.cache.InvalidateUser(userID)
}

// Metrics returns evaluation counters and latency percentiles.
func (s *Service) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// PerformanceStats returns metrics together with both cache statistics.
func (s *Service) PerformanceStats() PerformanceStats {
	return PerformanceStats{
		Evaluation: s.metrics.Snapshot(),
		Cache:      s.cache.Stats(),
		Compiler:   s.compiler.Stats(),
	}
}

// ClearCaches empties the evaluation and compiler caches and resets metrics.
func (s *Service) ClearCaches() {
	s.cache.Clear()
	s.compiler.Clear()
	s.metrics.Reset()
}
