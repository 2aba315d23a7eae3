// Package rollout provides deterministic user bucketing for targeting rule rollouts.
package rollout

import (
	"crypto/md5"
)

// Buckets is the number of rollout buckets; a bucket is in [0, Buckets).
const Buckets = 100

// Bucket returns a deterministic bucket (0-99) for the given seed.
// The MD5 digest is read as one big-endian integer and reduced mod 100, so
// results are bit-identical to any other implementation of the same scheme.
func Bucket(seed string) int {
	sum := md5.Sum([]byte(seed))
	rem := 0
	for _, b := range sum {
		rem = (rem*256 + int(b)) % Buckets
	}
	return rem
}

// BucketUser returns the rollout bucket of a user for a rule.
// The seed format is "{userID}:{ruleID}".
func BucketUser(userID, ruleID string) int {
	return Bucket(userID + ":" + ruleID)
}
