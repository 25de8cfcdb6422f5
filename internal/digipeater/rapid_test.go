package digipeater

import (
	"testing"
	"time"

	"github.com/aprx-project/aprxd/internal/ax25"
	"github.com/aprx-project/aprxd/internal/dedupe"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestAnalyze_HopsDoneMonotonicInRemainingCount checks spec.md §8's hop-budget
// monotonicity property: for a single WIDEn-N via, increasing M (the
// count of hops remaining) never increases HopsDone, and HopsReq
// stays fixed at N regardless of M.
func TestAnalyze_HopsDoneMonotonicInRemainingCount(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 7).Draw(rt, "n")
		cfg := baseConfig()

		prevDone := -1
		for m := 0; m <= n; m++ {
			vias := []ax25.ViaField{{Call: "WIDE" + string(rune('0'+n)), SSID: m}}
			budget, _, _ := analyze(vias, cfg)
			require.Equal(rt, n, budget.HopsReq)
			require.Equal(rt, n-m, budget.HopsDone)
			if prevDone >= 0 {
				require.LessOrEqual(rt, budget.HopsDone, prevDone)
			}
			prevDone = budget.HopsDone
		}
	})
}

// TestProcess_ViscousCopyRejectedAfterDirect checks the direct-first order
// of spec.md §8's viscous property: once a direct (non-delayed) copy of a packet has
// gone out, a viscous-delayed copy of the identical content is rejected
// as a duplicate rather than queued, regardless of which N/M hop count or
// info text is used, as long as the two copies are byte-identical.
func TestProcess_ViscousCopyRejectedAfterDirect(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 7).Draw(rt, "n")
		m := rapid.IntRange(0, n).Draw(rt, "m")
		info := ":" + rapid.StringMatching(`[ -~]{1,20}`).Draw(rt, "info")

		vias := []ax25.ViaField{{Call: "WIDE" + string(rune('0'+n)), SSID: m}}
		cache := dedupe.New()
		cfg := baseConfig()

		direct := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, info)
		directOut := Process(direct, cfg, cache, 0)
		require.True(t, directOut.Accept)

		delayed := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, info)
		delayedOut := Process(delayed, cfg, cache, 5*time.Minute)
		require.False(t, delayedOut.Accept)
	})
}
