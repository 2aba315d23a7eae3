package rollout

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

// IdentityFields are the context keys consulted, in order, for a stable user identifier.
var IdentityFields = []string{"user_id", "id", "email", "username", "device_id", "client_id", "session_id"}

// UserIDFromContext returns the first non-empty identity field of ctx.
func UserIDFromContext(ctx map[string]any) (string, bool) {
	for _, field := range IdentityFields {
		v, ok := ctx[field]
		if !ok || v == nil {
			continue
		}
		s := IdentityString(v)
		if s == "" {
			continue
		}
		return s, true
	}
	return "", false
}

// IdentityString renders an identity value the way it is spelled in JSON, so
// the rollout seed matches other implementations fed the same document:
// strings verbatim, booleans as "true"/"false", numbers in plain decimal
// without exponent or trailing zeros (1e6 is "1000000", 2.50 is "2.5").
// Other values fall back to their fmt form.
func IdentityString(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

// StableUserID derives the identifier used to seed rollout hashing.
//
// When no identity field is present, the sorted context items are hashed as a
// last resort. That fallback changes whenever any context attribute changes, so
// anonymous users only get sticky bucketing while their context stays the same.
func StableUserID(ctx map[string]any) string {
	if id, ok := UserIDFromContext(ctx); ok {
		return id
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, ctx[k])
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ShouldInclude determines whether a user falls inside a rule's rollout.
//
// Special cases:
//   - rollout<=0: always false, no hashing
//   - rollout>=100: always true, no hashing (safe with any context)
//
// Otherwise bucket(md5("{user}:{rule}")) < rollout. Raising the percentage only
// adds users, never removes existing ones.
func ShouldInclude(rule rules.TargetingRule, ctx map[string]any) bool {
	if rule.RolloutPercentage <= 0 {
		return false
	}
	if rule.RolloutPercentage >= 100 {
		return true
	}
	bucket := BucketUser(StableUserID(ctx), rule.ID)
	return float64(bucket) < rule.RolloutPercentage
}
