package history

import (
	"testing"
	"time"

	"github.com/aprx-project/aprxd/internal/pbuf"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeBuf builds a minimal filled PBuf for a message from srcCall, the
// one packet type that both qualifies for Insert and never carries a
// position (avoiding this test having to fabricate lat/lon facets).
func fakeBuf(srcCall string) *pbuf.Buf {
	tnc2 := srcCall + ">APRS::N0CALL   :hello"
	b, err := pbuf.New(true, true, len(tnc2), 0)
	if err != nil {
		panic(err)
	}
	if err := b.Fill([]byte(tnc2), nil, 0); err != nil {
		panic(err)
	}
	b.Aprs = pbuf.Facets{Type: pbuf.TypeMessage}
	return b
}

// TestLookup_RetentionProperty checks spec.md §8's history retention
// property: a cell remains Lookup-able up until Retention-LookupMargin
// has elapsed since its last update, and is gone (or at least no longer
// returned) once Retention has fully elapsed and Cleanup has run.
func TestLookup_RetentionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		key := rapid.StringMatching(`[A-Z0-9]{3,9}`).Draw(rt, "key")
		elapsed := time.Duration(rapid.Int64Range(0, int64(2*Retention)).Draw(rt, "elapsed")) * time.Nanosecond

		base := time.Unix(1_700_000_000, 0)
		clock := base
		db := &DB{index: make(map[string]*Cell), now: func() time.Time { return clock }}

		pb := fakeBuf(key)
		db.Insert(pb, 0)

		clock = base.Add(elapsed)
		c, ok := db.Lookup(key)
		if elapsed < Retention-LookupMargin {
			require.True(rt, ok)
			require.Equal(rt, key, c.Key)
		} else {
			require.False(rt, ok)
		}

		db.Cleanup()
		if elapsed > Retention {
			_, stillThere := db.index[key]
			require.False(rt, stillThere)
		}
	})
}
