package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

// Reason represents why a decision was reached.
type Reason string

const (
	ReasonTargetingMatch Reason = "TARGETING_MATCH"
	ReasonDefaultRule    Reason = "DEFAULT_RULE"
	ReasonNoMatch        Reason = "NO_MATCH"
)

// Decision is the outcome of evaluating a rule set against one context.
type Decision struct {
	Rule   *rules.TargetingRule `json:"rule,omitempty"`
	Reason Reason               `json:"reason"`
}

// MatchedRuleID returns the id of the selected rule, or "" when nothing matched.
func (d Decision) MatchedRuleID() string {
	if d.Rule == nil {
		return ""
	}
	return d.Rule.ID
}

// Engine evaluates conditions, groups and rule sets. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the diagnostic sink for malformed operator input.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used when TIME_WINDOW has no actual value.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine. Without WithLogger diagnostics are discarded.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
