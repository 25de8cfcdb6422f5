package symbols

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
tocalls:
  - tocall: APY350
    vendor: Yaesu
    model: FTM-350
  - tocall: APY
    vendor: Yaesu
    model: generic
mice:
  - prefix: ">"
    suffix: "><"
    vendor: Kenwood
    model: TH-D74
micelegacy:
  - suffix: "]"
    vendor: Kenwood
    model: TM-D700
`

func TestResolveDest_PrefersLongestMatch(t *testing.T) {
	tbl, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "Yaesu FTM-350", tbl.ResolveDest("APY350"))
	require.Equal(t, "Yaesu generic", tbl.ResolveDest("APY123"))
}

func TestResolveDest_Unknown(t *testing.T) {
	tbl, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, unknown, tbl.ResolveDest("APZZZZ"))
}

func TestResolveMicE_TrimsLegacySuffix(t *testing.T) {
	tbl, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	trimmed, device := tbl.ResolveMicE("hello]")
	require.Equal(t, "hello", trimmed)
	require.Equal(t, "Kenwood TM-D700", device)
}

func TestLoad_NoFileReturnsEmptyTable(t *testing.T) {
	old := SearchLocations
	SearchLocations = []string{"/nonexistent/path/tocalls.yaml"}
	defer func() { SearchLocations = old }()

	tbl, err := Load()
	require.NoError(t, err)
	require.Equal(t, unknown, tbl.ResolveDest("APRS"))
}
