package kiss

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode_EscapesFendAndFesc(t *testing.T) {
	out := Encode([]byte{0x00, 0xC0, 0xDB, 0x01})
	require.Equal(t, []byte{FEND, 0x00, FESC, TFEND, FESC, TFESC, 0x01, FEND}, out)
}

func TestBuildCommandByte_PlainDataFrame(t *testing.T) {
	b := BuildCommandByte(2, CmdDataFrame, false)
	require.Equal(t, byte(0x20), b)
}

func TestBuildCommandByte_SmackSetsHighBit(t *testing.T) {
	b := BuildCommandByte(2, CmdDataFrame, true)
	require.Equal(t, byte(0xA0), b)
	require.NotZero(t, b&smackBit)
}

func TestDecoder_RoundTripsPlainFrame(t *testing.T) {
	payload := []byte("hello ax25 payload")
	wire := EncodeData(0, payload, false)

	d := NewDecoder()
	frames, err := d.Feed(wire)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, 0, frames[0].Port)
	require.False(t, frames[0].SMACK)
	require.Equal(t, payload, frames[0].Payload)
}

func TestDecoder_RoundTripsSmackFrameWithValidCRC(t *testing.T) {
	payload := []byte{0x01, 0xC0, 0x02, 0xDB, 0x03}
	wire := EncodeData(3, payload, true)

	d := NewDecoder()
	frames, err := d.Feed(wire)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, 3, frames[0].Port)
	require.True(t, frames[0].SMACK)
	require.Equal(t, payload, frames[0].Payload)
}

func TestDecoder_DropsFrameWithBadCRC(t *testing.T) {
	wire := EncodeData(0, []byte("abc"), true)
	wire[len(wire)-2] ^= 0xFF // corrupt the CRC trailer byte

	d := NewDecoder()
	frames, err := d.Feed(wire)
	require.NoError(t, err)
	require.Empty(t, frames)
}

func TestDecoder_HandlesSplitAcrossMultipleFeeds(t *testing.T) {
	wire := EncodeData(1, []byte("split me"), false)
	d := NewDecoder()
	mid := len(wire) / 2
	frames1, err := d.Feed(wire[:mid])
	require.NoError(t, err)
	require.Empty(t, frames1)
	frames2, err := d.Feed(wire[mid:])
	require.NoError(t, err)
	require.Len(t, frames2, 1)
	require.Equal(t, []byte("split me"), frames2[0].Payload)
}

func TestDecoder_HandlesConsecutiveFrames(t *testing.T) {
	wire := append(EncodeData(0, []byte("one"), false), EncodeData(0, []byte("two"), false)...)
	d := NewDecoder()
	frames, err := d.Feed(wire)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Equal(t, []byte("one"), frames[0].Payload)
	require.Equal(t, []byte("two"), frames[1].Payload)
}
