package dedupe

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestCheckAPRS_IdempotentWithinRetention checks spec.md §8's dedup
// idempotence property: submitting the same (addresses, payload) pair
// any number of times within the retention window yields exactly one
// underlying record, with SeenDirect counting every resubmission.
func TestCheckAPRS_IdempotentWithinRetention(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		addresses := []byte(rapid.StringMatching(`[A-Z0-9>,*-]{5,40}`).Draw(t, "addresses"))
		payload := []byte(rapid.StringMatching(`[ -~]{0,60}`).Draw(t, "payload"))
		n := rapid.IntRange(1, 20).Draw(t, "n")

		c := New()
		var first *Record
		for i := 0; i < n; i++ {
			r := c.CheckAPRS(addresses, payload)
			if first == nil {
				first = r
			} else {
				require.Same(t, first, r)
			}
		}
		require.Equal(t, n, first.SeenDirect)
	})
}

// TestCheckAPRS_DistinctPayloadsDontCollide ensures two different payload
// byte strings under the same addresses never share a record (the
// fingerprint must actually incorporate the payload).
func TestCheckAPRS_DistinctPayloadsDontCollide(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		addresses := []byte(rapid.StringMatching(`[A-Z0-9>,*-]{5,40}`).Draw(t, "addresses"))
		p1 := []byte(rapid.StringMatching(`[ -~]{1,30}`).Draw(t, "p1"))
		p2 := []byte(rapid.StringMatching(`[ -~]{1,30}`).Draw(t, "p2"))
		if string(p1) == string(p2) {
			return
		}

		c := New()
		r1 := c.CheckAPRS(addresses, p1)
		r2 := c.CheckAPRS(addresses, p2)
		require.NotSame(t, r1, r2)
	})
}
