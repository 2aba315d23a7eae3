package evaluation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/TimurManjosov/goflagship-rules/internal/evaluation"

// WithTracerProvider sets where evaluation spans go. The global provider is
// used otherwise, which is a no-op until one is installed.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func (s *Service) startEvaluateSpan(ctx context.Context, ruleCount int, skipCache bool) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "evaluation.Evaluate",
		trace.WithAttributes(
			attribute.Int("rules.count", ruleCount),
			attribute.Bool("cache.skip", skipCache),
		),
	)
}

func (s *Service) startBatchSpan(ctx context.Context, batchID string, size int) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "evaluation.BatchEvaluate",
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.Int("batch.size", size),
			attribute.Int("batch.parallelism", s.parallelism),
		),
	)
}

func setResultAttributes(span trace.Span, res Result) {
	span.SetAttributes(
		attribute.Bool("result.matched", res.Matched),
		attribute.String("result.rule_id", res.MatchedRuleID),
		attribute.String("result.reason", string(res.Reason)),
		attribute.Bool("result.cached", res.Cached),
	)
	if res.Error != "" {
		span.SetStatus(codes.Error, res.Error)
	}
}
