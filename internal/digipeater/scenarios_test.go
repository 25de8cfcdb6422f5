package digipeater

import (
	"strings"
	"testing"

	"github.com/aprx-project/aprxd/internal/ax25"
	"github.com/aprx-project/aprxd/internal/dedupe"
	"github.com/aprx-project/aprxd/internal/pbuf"
	"github.com/stretchr/testify/require"
)

// fromTNC2 parses a full "SRC>DST,VIA...:info" line into a filled PBuf,
// mirroring internal/app/subsystems.go's handleFrame construction.
func fromTNC2(t *testing.T, line string) *pbuf.Buf {
	t.Helper()
	colon := strings.IndexByte(line, ':')
	require.GreaterOrEqual(t, colon, 0)
	addr, err := ax25.TNC2ToAddrField(line[:colon])
	require.NoError(t, err)
	b, err := pbuf.New(true, true, len(addr), len(line))
	require.NoError(t, err)
	require.NoError(t, b.Fill([]byte(line), addr, len(addr)))
	return b
}

// emittedTNC2 renders an accepted Outcome's full emitted TNC2 line the
// way a transmitting interface would reconstruct it: original src/dst,
// the digipeater's rewritten via path.
func emittedTNC2(b *pbuf.Buf, out Outcome) string {
	return b.SrcCall() + ">" + b.DstCall() + "," + out.RewrittenTNC2 + ":" + string(b.Info())
}

// TestScenarios_EndToEnd covers spec.md §8's literal S1-S4 end-to-end
// examples against one transmitter config (OH2XYZ-1, alias RELAY).
func TestScenarios_EndToEnd(t *testing.T) {
	cfg := &Config{
		TransmitterCall: "OH2XYZ",
		TransmitterSSID: 1,
		Aliases:         []string{"RELAY"},
		SourceWideKeys:  []string{"WIDE"},
		DigiWideKeys:    []string{"WIDE"},
		SourceTraceKeys: []string{"TRACE"},
		DigiTraceKeys:   []string{"TRACE"},
		Caps:            DefaultCaps,
	}

	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "S1_ClassicWide22Digipeat",
			input:    "N0CALL-5>APRS,WIDE2-2:=6004.00N/02504.00E-test",
			expected: "N0CALL-5>APRS,OH2XYZ-1*,WIDE2-1:=6004.00N/02504.00E-test",
		},
		{
			name:     "S2_TraceInsertion",
			input:    "N0CALL>APRS,TRACE3-3:>status",
			expected: "N0CALL>APRS,OH2XYZ-1*,TRACE3-2:>status",
		},
		{
			name:     "S3_TransmitterAliasSubstitution",
			input:    "N0CALL>APRS,RELAY:msg",
			expected: "N0CALL>APRS,OH2XYZ-1*:msg",
		},
		{
			name:     "S4_MalformedHopRequestFixed",
			input:    "N0CALL>APRS,WIDE3-7:garbage",
			expected: "N0CALL>APRS,WIDE3-7*:garbage",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := fromTNC2(t, tc.input)
			out := Process(b, cfg, dedupe.New(), 0)
			require.True(t, out.Accept)
			require.Equal(t, tc.expected, emittedTNC2(b, out))
		})
	}
}

// TestScenario_S5_DedupSuppression feeds S1's input twice, 100ms apart,
// through the same dedup cache and expects exactly one accepted emission.
func TestScenario_S5_DedupSuppression(t *testing.T) {
	cfg := &Config{
		TransmitterCall: "OH2XYZ",
		TransmitterSSID: 1,
		SourceWideKeys:  []string{"WIDE"},
		DigiWideKeys:    []string{"WIDE"},
		Caps:            DefaultCaps,
	}
	cache := dedupe.New()
	input := "N0CALL-5>APRS,WIDE2-2:=6004.00N/02504.00E-test"

	first := Process(fromTNC2(t, input), cfg, cache, 0)
	require.True(t, first.Accept)

	second := Process(fromTNC2(t, input), cfg, cache, 0)
	require.False(t, second.Accept)
}
