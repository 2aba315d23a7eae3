package rules

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// contentView is the logical content of a rule that participates in its hash.
// Name and description are presentation only.
type contentView struct {
	Rule              RuleGroup `json:"rule"`
	RolloutPercentage float64   `json:"rollout_percentage"`
	Priority          int       `json:"priority"`
}

// ContentHash returns the MD5 hex digest of the rule's canonical logical content:
// group structure, rollout percentage and priority. Identity fields are excluded.
func ContentHash(r TargetingRule) string {
	blob, err := CanonicalJSON(contentView{
		Rule:              r.Rule,
		RolloutPercentage: r.RolloutPercentage,
		Priority:          r.Priority,
	})
	if err != nil {
		// Values that JSON cannot express still need a stable digest.
		blob = []byte(fmt.Sprintf("%#v|%v|%d", r.Rule, r.RolloutPercentage, r.Priority))
	}
	sum := md5.Sum(blob)
	return hex.EncodeToString(sum[:])
}
