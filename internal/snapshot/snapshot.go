// Package snapshot holds the active rule set behind an atomic pointer so
// readers never take a lock, and tells subscribers which rules changed.
package snapshot

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/TimurManjosov/goflagship-rules/internal/rules"
	"github.com/TimurManjosov/goflagship-rules/internal/telemetry"
)

// Snapshot is an immutable, versioned view of a rule set.
type Snapshot struct {
	ETag      string                `json:"etag"`
	Rules     *rules.TargetingRules `json:"rules"`
	Hashes    map[string]string     `json:"hashes"` // rule id -> content hash, default rule included
	UpdatedAt time.Time             `json:"updatedAt"`
}

var (
	current atomic.Pointer[Snapshot]
	metrics atomic.Pointer[telemetry.Metrics]
)

// Instrument makes Update report the active rule count to m.
func Instrument(m *telemetry.Metrics) { metrics.Store(m) }

// Load returns the active snapshot, or an empty one when none was stored.
func Load() *Snapshot {
	if s := current.Load(); s != nil {
		return s
	}
	return Build(nil)
}

func store(s *Snapshot) { current.Store(s) }

// Build computes the per-rule content hashes and an ETag over the canonical
// JSON of rs. A nil rs yields an empty snapshot.
func Build(rs *rules.TargetingRules) *Snapshot {
	if rs == nil {
		rs = &rules.TargetingRules{}
	}
	hashes := make(map[string]string, len(rs.Rules)+1)
	for _, r := range rs.Rules {
		hashes[r.ID] = rules.ContentHash(r)
	}
	if rs.DefaultRule != nil {
		hashes[rs.DefaultRule.ID] = rules.ContentHash(*rs.DefaultRule)
	}

	blob, err := rules.CanonicalJSON(rs)
	if err != nil {
		// Fall back to the hashes, which always exist.
		blob, _ = json.Marshal(hashes)
	}
	etag := `W/"` + strconv.FormatUint(xxhash.Sum64(blob), 16) + `"`
	return &Snapshot{ETag: etag, Rules: rs, Hashes: hashes, UpdatedAt: time.Now().UTC()}
}

// Update activates s and notifies subscribers with the rules that differ
// from the previous snapshot. An unchanged ETag is not published.
func Update(s *Snapshot) {
	prev := current.Swap(s)
	metrics.Load().ObserveSnapshot(len(s.Rules.Rules))
	if prev != nil && prev.ETag == s.ETag {
		return
	}
	publishUpdate(Change{ETag: s.ETag, Changed: Diff(prev, s)})
}

// Diff lists, sorted, the rule IDs present in old whose content hash differs
// in next or that next no longer contains. New IDs are not listed; nothing
// can be cached for them yet.
func Diff(old, next *Snapshot) []string {
	if old == nil {
		return nil
	}
	var changed []string
	for id, hash := range old.Hashes {
		if next == nil || next.Hashes[id] != hash {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}
