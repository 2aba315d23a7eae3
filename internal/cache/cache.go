// Package cache memoizes per-rule evaluation outcomes with LRU eviction and TTL expiry.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagship-rules/internal/lru"
	"github.com/TimurManjosov/goflagship-rules/internal/rollout"
	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

const (
	DefaultMaxSize = 10000
	DefaultTTL     = 5 * time.Minute
)

// Entry is one cached outcome.
type Entry struct {
	Result    bool
	RuleID    string
	Version   string // content hash of the rule that produced Result
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Stats reports cache activity.
type Stats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	HitRate     float64 `json:"hit_rate"`
}

// EvaluationCache maps (rule id, context) to a boolean outcome.
// A single mutex guards entries and counters; it is safe for concurrent use.
type EvaluationCache struct {
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu          sync.Mutex
	entries     *lru.Cache[string, *Entry]
	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// Option configures an EvaluationCache.
type Option func(*EvaluationCache)

// WithMaxSize bounds the number of entries.
func WithMaxSize(n int) Option {
	return func(c *EvaluationCache) {
		if n > 0 {
			c.entries = lru.New[string, *Entry](n)
		}
	}
}

// WithTTL sets the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *EvaluationCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *EvaluationCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger for key generation failures.
func WithLogger(l zerolog.Logger) Option {
	return func(c *EvaluationCache) { c.logger = l }
}

// New creates an EvaluationCache.
func New(opts ...Option) *EvaluationCache {
	c := &EvaluationCache{
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  zerolog.Nop(),
		entries: lru.New[string, *Entry](DefaultMaxSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateKey hashes the rule id with the canonical JSON of ctx, so map key
// order never changes the key.
func GenerateKey(ruleID string, ctx map[string]any) (string, error) {
	blob, err := rules.CanonicalJSON(ctx)
	if err != nil {
		return "", fmt.Errorf("context is not serializable: %w", err)
	}
	sum := md5.Sum(append([]byte(ruleID+":"), blob...))
	return hex.EncodeToString(sum[:]), nil
}

func versionKey(ruleID, version string, ctx map[string]any) (string, error) {
	if version == "" {
		return GenerateKey(ruleID, ctx)
	}
	return GenerateKey(ruleID+"@"+version, ctx)
}

// Get returns the cached outcome. ok is false on a miss, which is distinct
// from a cached false result. Expired entries are removed on access.
func (c *EvaluationCache) Get(ruleID string, ctx map[string]any) (result bool, ok bool) {
	return c.GetVersion(ruleID, "", ctx)
}

// GetVersion is Get for a specific content version of ruleID. Each version
// has its own keys, so outcomes of other versions are never returned.
func (c *EvaluationCache) GetVersion(ruleID, version string, ctx map[string]any) (result bool, ok bool) {
	key, err := versionKey(ruleID, version, ctx)
	if err != nil {
		c.logger.Debug().Err(err).Str("rule_id", ruleID).Msg("cache key unavailable")
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return false, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries.Get(key)
	if !found {
		c.misses++
		return false, false
	}
	if !c.now().Before(entry.ExpiresAt) {
		c.entries.Delete(key)
		c.expirations++
		c.misses++
		return false, false
	}
	c.hits++
	return entry.Result, true
}

// Set stores result for (ruleID, ctx). A non-positive ttl uses the cache default.
func (c *EvaluationCache) Set(ruleID string, ctx map[string]any, result bool, ttl time.Duration) {
	c.SetVersion(ruleID, "", ctx, result, ttl)
}

// SetVersion is Set for a specific content version of ruleID.
func (c *EvaluationCache) SetVersion(ruleID, version string, ctx map[string]any, result bool, ttl time.Duration) {
	key, err := versionKey(ruleID, version, ctx)
	if err != nil {
		c.logger.Debug().Err(err).Str("rule_id", ruleID).Msg("cache key unavailable")
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	userID, _ := rollout.UserIDFromContext(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.evictions += uint64(c.entries.Set(key, &Entry{
		Result:    result,
		RuleID:    ruleID,
		Version:   version,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}))
}

// InvalidateRule removes every entry for ruleID and returns the count.
func (c *EvaluationCache) InvalidateRule(ruleID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.DeleteFunc(func(_ string, e *Entry) bool { return e.RuleID == ruleID })
}

// InvalidateUser removes every entry recorded for userID and returns the count.
func (c *EvaluationCache) InvalidateUser(userID string) int {
	if userID == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.DeleteFunc(func(_ string, e *Entry) bool { return e.UserID == userID })
}

// SetMaxSize changes the capacity, evicting least recently used entries as needed.
func (c *EvaluationCache) SetMaxSize(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := c.entries.Resize(n)
	c.evictions += uint64(evicted)
	return evicted
}

// Len returns the number of entries, including expired ones not yet removed.
func (c *EvaluationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Clear removes all entries and resets counters.
func (c *EvaluationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.hits, c.misses, c.evictions, c.expirations = 0, 0, 0, 0
}

// Stats returns a snapshot of counters.
func (c *EvaluationCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        c.entries.Len(),
		MaxSize:     c.entries.Cap(),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
