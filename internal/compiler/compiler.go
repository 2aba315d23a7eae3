// Package compiler statically analyzes targeting rules and caches the results
// by rule id and content hash.
package compiler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/TimurManjosov/goflagship-rules/internal/lru"
	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

const (
	DefaultCacheSize = 1000
	DefaultMaxDepth  = 50
)

// CompiledRule is the analysis result for one rule. Values returned by the
// Compiler are shared with its cache and must be treated as read-only.
type CompiledRule struct {
	RuleID             string    `json:"rule_id"`
	ContentHash        string    `json:"content_hash"`
	IsValid            bool      `json:"is_valid"`
	ValidationErrors   []string  `json:"validation_errors,omitempty"`
	ConditionCount     int       `json:"condition_count"`
	MaxDepth           int       `json:"max_depth"`
	RequiredAttributes []string  `json:"required_attributes"`
	OperatorTypes      []string  `json:"operator_types"`
	HasRedundancy      bool      `json:"has_redundancy"`
	HasContradiction   bool      `json:"has_contradiction"`
	CanEverMatch       bool      `json:"can_ever_match"`
	CompiledAt         time.Time `json:"compiled_at"`
}

// Stats reports compilation cache activity.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	HitRate   float64 `json:"hit_rate"`
}

// Compiler analyzes rules and memoizes the results in an LRU cache.
// It is safe for concurrent use.
type Compiler struct {
	maxDepth int
	logger   zerolog.Logger
	flight   singleflight.Group // dedupes concurrent analyses of one key

	mu        sync.Mutex
	cache     *lru.Cache[string, *CompiledRule]
	hits      uint64
	misses    uint64
	evictions uint64
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithMaxDepth sets the deepest group nesting a valid rule may have.
func WithMaxDepth(depth int) Option {
	return func(c *Compiler) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithCacheSize bounds the number of memoized rules.
func WithCacheSize(size int) Option {
	return func(c *Compiler) {
		if size > 0 {
			c.cache = lru.New[string, *CompiledRule](size)
		}
	}
}

// WithLogger sets the logger for compilation diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		maxDepth: DefaultMaxDepth,
		logger:   zerolog.Nop(),
		cache:    lru.New[string, *CompiledRule](DefaultCacheSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(ruleID, hash string) string {
	return ruleID + ":" + hash
}

// Compile returns the analysis for r, reusing a cached result for the same id
// and content unless force is set. Compilation never fails; problems are
// reported through IsValid and ValidationErrors.
func (c *Compiler) Compile(r rules.TargetingRule, force bool) *CompiledRule {
	hash := rules.ContentHash(r)
	key := cacheKey(r.ID, hash)

	if force {
		return c.store(key, r, hash)
	}

	c.mu.Lock()
	cached, ok := c.cache.Get(key)
	if ok {
		c.hits++
		c.mu.Unlock()
		return cached
	}
	c.misses++
	c.mu.Unlock()

	v, _, _ := c.flight.Do(key, func() (any, error) {
		return c.store(key, r, hash), nil
	})
	return v.(*CompiledRule)
}

// store analyzes r, caches the result under key and logs the outcome.
func (c *Compiler) store(key string, r rules.TargetingRule, hash string) *CompiledRule {
	compiled := c.analyze(r, hash)

	c.mu.Lock()
	c.evictions += uint64(c.cache.Set(key, compiled))
	c.mu.Unlock()

	ev := c.logger.Debug()
	if !compiled.IsValid {
		ev = c.logger.Warn().Strs("errors", compiled.ValidationErrors)
	}
	ev.Str("rule_id", r.ID).
		Int("conditions", compiled.ConditionCount).
		Int("depth", compiled.MaxDepth).
		Bool("valid", compiled.IsValid).
		Msg("rule compiled")
	return compiled
}

// CompileAll compiles every rule of the set, default rule last.
func (c *Compiler) CompileAll(rs *rules.TargetingRules) []*CompiledRule {
	if rs == nil {
		return nil
	}
	out := make([]*CompiledRule, 0, len(rs.Rules)+1)
	for _, r := range rs.Rules {
		out = append(out, c.Compile(r, false))
	}
	if rs.DefaultRule != nil {
		out = append(out, c.Compile(*rs.DefaultRule, false))
	}
	return out
}

// Invalidate drops every cached compilation of ruleID and returns how many were removed.
func (c *Compiler) Invalidate(ruleID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.DeleteFunc(func(_ string, cr *CompiledRule) bool {
		return cr.RuleID == ruleID
	})
}

// Clear empties the cache and resets counters.
func (c *Compiler) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Stats returns a snapshot of cache counters.
func (c *Compiler) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.cache.Len(),
		MaxSize:   c.cache.Cap(),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
