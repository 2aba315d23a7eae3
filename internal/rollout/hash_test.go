package rollout

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBucket_KnownVectors(t *testing.T) {
	// Values cross-checked against int(md5(seed).hexdigest(), 16) % 100.
	tests := []struct {
		seed string
		want int
	}{
		{seed: "u1:premium_us", want: 65},
		{seed: "user-123:feature_x", want: 47},
		{seed: "alice:beta", want: 23},
		{seed: "", want: 66},
	}
	for _, tt := range tests {
		if got := Bucket(tt.seed); got != tt.want {
			t.Errorf("Bucket(%q) = %d, want %d", tt.seed, got, tt.want)
		}
	}
}

func TestBucketUser_SeedFormat(t *testing.T) {
	if got, want := BucketUser("u1", "premium_us"), Bucket("u1:premium_us"); got != want {
		t.Fatalf("BucketUser = %d, want %d", got, want)
	}
}

func TestBucketUser_DifferentUsersDistribution(t *testing.T) {
	bucketCounts := make([]int, Buckets)
	for i := 0; i < 10000; i++ {
		bucketCounts[BucketUser("user-"+strconv.Itoa(i), "feature_x")]++
	}

	// Each bucket should hold ~100 users; allow 50% variance.
	for i, count := range bucketCounts {
		if count < 50 || count > 150 {
			t.Errorf("Bucket %d has %d users, expected ~100", i, count)
		}
	}
}

func TestBucket_PropertyDeterministicAndInRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("bucket is stable and within [0,100)", prop.ForAll(
		func(userID, ruleID string) bool {
			first := BucketUser(userID, ruleID)
			second := BucketUser(userID, ruleID)
			return first == second && first >= 0 && first < Buckets
		},
		gen.AnyString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
