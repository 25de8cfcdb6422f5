package digipeater

import (
	"testing"
	"time"

	"github.com/aprx-project/aprxd/internal/ax25"
	"github.com/aprx-project/aprxd/internal/dedupe"
	"github.com/aprx-project/aprxd/internal/pbuf"
	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
)

func mustBuf(t *testing.T, dstCall string, dstSSID int, srcCall string, srcSSID int, vias []ax25.ViaField, info string) *pbuf.Buf {
	t.Helper()
	addr, err := ax25.EncodeAddrField(dstCall, dstSSID, srcCall, srcSSID, vias)
	require.NoError(t, err)
	b, err := pbuf.New(true, true, len(addr)+len(info), 0)
	require.NoError(t, err)
	b.AX25 = append(addr, []byte(info)...)
	b.AX25AddrLen = len(addr)
	tnc2 := srcCall + ">" + dstCall + ":" + info
	require.NoError(t, b.Fill([]byte(tnc2), b.AX25, len(addr)))
	return b
}

func baseConfig() *Config {
	return &Config{
		TransmitterCall: "OH2MQK",
		TransmitterSSID: 15,
		SourceWideKeys:  []string{"WIDE"},
		DigiWideKeys:    []string{"WIDE"},
		SourceTraceKeys: []string{"TRACE"},
		DigiTraceKeys:   []string{"TRACE"},
		Caps:            DefaultCaps,
	}
}

func TestProcess_WideInsertsTransmitterCallAndDecrements(t *testing.T) {
	vias := []ax25.ViaField{{Call: "WIDE2", SSID: 1}}
	b := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, ":test message")
	out := Process(b, baseConfig(), dedupe.New(), 0)
	require.True(t, out.Accept)
	require.Equal(t, "OH2MQK-15*,WIDE2*", out.RewrittenTNC2)
}

func TestProcess_WideDecrementToZeroSetsHBit(t *testing.T) {
	vias := []ax25.ViaField{{Call: "WIDE1", SSID: 1}}
	b := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, ":test message")
	out := Process(b, baseConfig(), dedupe.New(), 0)
	require.True(t, out.Accept)
	require.Equal(t, "OH2MQK-15*,WIDE1*", out.RewrittenTNC2)
}

func TestProcess_TraceInsertsTransmitterCall(t *testing.T) {
	vias := []ax25.ViaField{{Call: "TRACE2", SSID: 1}}
	b := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, ":test message")
	out := Process(b, baseConfig(), dedupe.New(), 0)
	require.True(t, out.Accept)
	require.Equal(t, "OH2MQK-15*,TRACE2*", out.RewrittenTNC2)
}

func TestProcess_DirectAliasSubstitution(t *testing.T) {
	vias := []ax25.ViaField{{Call: "OH2MQK", SSID: 15}}
	b := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, ":test message")
	out := Process(b, baseConfig(), dedupe.New(), 0)
	require.True(t, out.Accept)
	require.Equal(t, "OH2MQK-15*", out.RewrittenTNC2)
}

func TestProcess_BareAliasSubstitutionDistinctFromTransmitterCall(t *testing.T) {
	// "RELAY" is a configured alias but not itself a WIDE/TRACE key, so
	// it contributes nothing to the hop budget -- regression test for a
	// zero-budget "exceeded" false positive that forced the fixAll path
	// (marking RELAY used in place) instead of substituting it.
	cfg := baseConfig()
	cfg.Aliases = []string{"RELAY"}
	vias := []ax25.ViaField{{Call: "RELAY"}}
	b := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, ":test message")
	out := Process(b, cfg, dedupe.New(), 0)
	require.True(t, out.Accept)
	require.Equal(t, "OH2MQK-15*", out.RewrittenTNC2)
}

func TestProcess_DuplicateRejected(t *testing.T) {
	cache := dedupe.New()
	vias := []ax25.ViaField{{Call: "WIDE2", SSID: 2}}
	b1 := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, ":dup test")
	first := Process(b1, baseConfig(), cache, 0)
	require.True(t, first.Accept)

	b2 := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, ":dup test")
	second := Process(b2, baseConfig(), cache, 0)
	require.False(t, second.Accept)
}

func TestProcess_HopBudgetExhausted(t *testing.T) {
	vias := []ax25.ViaField{{Call: "WIDE1", SSID: 0, Used: true}}
	b := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, ":test message")
	out := Process(b, baseConfig(), dedupe.New(), 0)
	require.False(t, out.Accept)
}

func TestProcess_Regen(t *testing.T) {
	vias := []ax25.ViaField{{Call: "WIDE2", SSID: 1}}
	b := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, ":test message")
	cfg := baseConfig()
	cfg.Regen = true
	out := Process(b, cfg, dedupe.New(), 0)
	require.True(t, out.Accept)
	require.Equal(t, "WIDE2-1*", out.RewrittenTNC2)
}

func TestAnalyze_InvalidHopCountForcesFixAll(t *testing.T) {
	// WIDE3-7: M (7) exceeds N (3), an invalid combination per spec.md §4.7.
	vias := []ax25.ViaField{{Call: "WIDE3", SSID: 7}}
	_, fixAll, _ := analyze(vias, baseConfig())
	require.True(t, fixAll)
}

var _ = time.Second

func TestProcess_AssignsDistinctTraceIDs(t *testing.T) {
	vias := []ax25.ViaField{{Call: "WIDE2", SSID: 1}}
	cache := dedupe.New()
	b1 := mustBuf(t, "APRS", 0, "N0CALL", 0, vias, ":one")
	out1 := Process(b1, baseConfig(), cache, 0)
	require.NotEqual(t, (xid.ID{}), out1.TraceID)

	b2 := mustBuf(t, "APRS", 0, "N0CALL", 1, vias, ":two")
	out2 := Process(b2, baseConfig(), cache, 0)
	require.NotEqual(t, out1.TraceID, out2.TraceID)
}
