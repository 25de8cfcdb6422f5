package iface

import (
	"bytes"
	"testing"
	"time"

	"github.com/aprx-project/aprxd/internal/kiss"
	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	bytes.Buffer
	closed bool
}

func (f *fakeTransport) Close() error { f.closed = true; return nil }

func TestMatchesCallsign_DirectAndAlias(t *testing.T) {
	i := New(0, KindSerialKISS, "OH2XYZ", 1, nil)
	i.Aliases = []string{"RELAY"}
	require.True(t, i.MatchesCallsign("OH2XYZ-1"))
	require.True(t, i.MatchesCallsign("relay"))
	require.False(t, i.MatchesCallsign("N0CALL"))
}

func TestReceiveAX25_DecodesDataFrames(t *testing.T) {
	i := New(0, KindSerialKISS, "OH2XYZ", 1, nil)
	wire := kiss.EncodeData(0, []byte("ax25 bytes here"), false)
	payloads, err := i.ReceiveAX25(wire)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	require.Equal(t, []byte("ax25 bytes here"), payloads[0])
}

func TestTransmitAX25_WritesFramedBytesToTransport(t *testing.T) {
	tr := &fakeTransport{}
	i := New(0, KindSerialKISS, "OH2XYZ", 1, tr)
	err := i.TransmitAX25(0, []byte("payload"))
	require.NoError(t, err)
	require.Contains(t, tr.String(), "payload")
}

func TestTransmitAX25_NoTransportIsTxCapacityExhausted(t *testing.T) {
	i := New(0, KindNull, "NULL", 0, nil)
	err := i.TransmitAX25(0, []byte("x"))
	require.Error(t, err)
}

func TestIdleCheck_ClosesAfterTimeoutThenCooldown(t *testing.T) {
	tr := &fakeTransport{}
	i := New(0, KindSerialKISS, "OH2XYZ", 1, tr)
	i.Timeout = 10 * time.Second
	i.stats.LastActivity = time.Unix(1000, 0)

	timedOut, cooldown := i.IdleCheck(time.Unix(1020, 0))
	require.True(t, timedOut)
	require.True(t, cooldown)
	require.True(t, tr.closed)

	_, stillCooldown := i.IdleCheck(time.Unix(1025, 0))
	require.True(t, stillCooldown)

	_, pastCooldown := i.IdleCheck(time.Unix(1060, 0))
	require.False(t, pastCooldown)
}

func TestPollIfDue_RespectsInterval(t *testing.T) {
	i := New(0, KindSerialKISS, "OH2XYZ", 1, nil)
	i.SetPollInterval(5 * time.Second)
	now := time.Unix(1000, 0)
	require.True(t, i.PollIfDue(now))
	require.False(t, i.PollIfDue(now.Add(2*time.Second)))
	require.True(t, i.PollIfDue(now.Add(6*time.Second)))
}

func TestReceiveThirdParty_UnwrapsEnvelope(t *testing.T) {
	inner, err := ReceiveThirdParty([]byte("}N0CALL>APRS:msg"))
	require.NoError(t, err)
	require.Equal(t, "N0CALL>APRS:msg", string(inner))
}

func TestReceiveThirdParty_MissingPayloadErrors(t *testing.T) {
	_, err := ReceiveThirdParty([]byte("}"))
	require.Error(t, err)
}

func TestRegistry_FindByCallsignAndIndex(t *testing.T) {
	r := NewRegistry()
	a := New(0, KindSerialKISS, "OH2XYZ", 1, nil)
	b := New(0, KindTCPKISS, "OH2ABC", 2, nil)
	r.Add(a)
	r.Add(b)

	found, ok := r.FindByCallsign("OH2ABC-2")
	require.True(t, ok)
	require.Same(t, b, found)

	byIdx, ok := r.FindByIndex(1)
	require.True(t, ok)
	require.Same(t, b, byIdx)

	require.Len(t, r.All(), 2)
}

func TestStartReader_DeliversBytesWrittenToPTYMaster(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	i := New(0, KindSerialKISS, "OH2XYZ", 1, slave)
	i.StartReader()

	wire := kiss.EncodeData(0, []byte("hello from the tnc"), false)
	_, err = master.Write(wire)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		raw, ok := i.DrainInbound()
		if !ok {
			return false
		}
		payloads, err := i.ReceiveAX25(raw)
		return err == nil && len(payloads) == 1 && string(payloads[0]) == "hello from the tnc"
	}, time.Second, 5*time.Millisecond)
}
