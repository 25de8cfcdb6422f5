package aprsis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoginLine(t *testing.T) {
	c := New(Config{
		Login:           "OH2MQK-10",
		Passcode:        Passcode("OH2MQK"),
		SoftwareName:    "aprxd",
		SoftwareVersion: "1.0",
		Filter:          "r/60.0/25.0/50",
	})
	require.Equal(t, "user OH2MQK-10 pass 24492 vers aprxd 1.0 filter r/60.0/25.0/50\r\n", c.LoginLine())
}

func TestLoginLine_NoFilter(t *testing.T) {
	c := New(Config{Login: "N0CALL", Passcode: 13023, SoftwareName: "aprxd", SoftwareVersion: "1.0"})
	require.Equal(t, "user N0CALL pass 13023 vers aprxd 1.0\r\n", c.LoginLine())
}

func TestTagLine(t *testing.T) {
	out, err := TagLine("N0CALL>APRS,WIDE2-1*:!6000.00N/02500.00E>test", "OH2MQK-10")
	require.NoError(t, err)
	require.Equal(t, "N0CALL>APRS,WIDE2-1*,qAR,OH2MQK-10:!6000.00N/02500.00E>test", out)
}

func TestTagLine_Malformed(t *testing.T) {
	_, err := TagLine("no colon here", "OH2MQK-10")
	require.Error(t, err)
}

func TestRingQueue_CompactsOnOverflow(t *testing.T) {
	q := newRingQueue(10)
	require.False(t, q.push("1234"))
	require.False(t, q.push("5678"))
	dropped := q.push("999999999999999")
	_ = dropped // too large even after compaction
	line, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, "5678", line)
}
