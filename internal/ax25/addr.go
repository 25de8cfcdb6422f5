// Package ax25 implements the AX.25 address field encoding described in
// spec.md §6 and the TNC2 <-> AX.25 conversions used throughout the
// digipeater. It is grounded on doismellburning-samoyed/src/ax25_pad.go
// (ax25_get_ssid/ax25_set_ssid/ax25_get_h/ax25_set_h and the address byte
// layout) and original_source/ax25.c, reimplemented without cgo:
// doismellburning-samoyed's C struct pointer + in-place bit twiddling on
// a shared frame_data buffer becomes a plain []byte the caller owns, with the
// standard AX.25 control-byte masks as named constants instead of
// #define'd C.SSID_* symbols.
package ax25

import (
	"strconv"
	"strings"

	"github.com/aprx-project/aprxd/internal/xerr"
)

// Address field byte layout (byte index 6 of each 7-byte address):
//
//	bit 7       H-bit, "has been repeated"
//	bits 6-5    reserved / command bits (passed through unchanged)
//	bits 4-1    SSID (0..15)
//	bit 0       address-extension ("last address") bit
const (
	HMask       = 0x80
	RRMask      = 0x60
	SSIDMask    = 0x1e
	SSIDShift   = 1
	LastMask    = 0x01
	AddrLen     = 7
	MaxAddrText = 10 // "ABCDEF-15*" worst case
	MaxAddrs    = 10 // destination + source + up to 8 vias
	MaxAddrBytes = AddrLen * MaxAddrs
)

// EncodeCall writes one 7-byte AX.25 address field for callsign/ssid into
// dst, setting the H-bit and last-address bit as requested. callsign may
// be 1-6 characters [A-Z0-9]; it is space-padded and shifted left one bit
// per the AX.25 spec.
func EncodeCall(dst []byte, callsign string, ssid int, hBit, lastAddr bool) error {
	if len(dst) < AddrLen {
		return xerr.New(xerr.InputMalformed, "address buffer too short")
	}
	if len(callsign) == 0 || len(callsign) > 6 {
		return xerr.New(xerr.InputMalformed, "callsign length out of range: "+callsign)
	}
	if ssid < 0 || ssid > 15 {
		return xerr.New(xerr.InputMalformed, "ssid out of range")
	}
	up := strings.ToUpper(callsign)
	for i := 0; i < 6; i++ {
		c := byte(' ')
		if i < len(up) {
			c = up[i]
			if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == ' ') {
				return xerr.New(xerr.InputMalformed, "invalid callsign character")
			}
		}
		dst[i] = c << 1
	}
	ctrl := byte(SSIDMask & (ssid << SSIDShift)) // also clears reserved bits
	ctrl |= RRMask
	if hBit {
		ctrl |= HMask
	}
	if lastAddr {
		ctrl |= LastMask
	}
	dst[6] = ctrl
	return nil
}

// DecodeCall reads one 7-byte AX.25 address field, returning the plain
// callsign (no SSID suffix), the SSID, and the H/last-address bits.
func DecodeCall(addr []byte) (callsign string, ssid int, hBit, lastAddr bool, err error) {
	if len(addr) < AddrLen {
		return "", 0, false, false, xerr.New(xerr.InputMalformed, "address field too short")
	}
	var b strings.Builder
	for i := 0; i < 6; i++ {
		c := addr[i] >> 1
		if c == ' ' {
			continue
		}
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == ' ') {
			return "", 0, false, false, xerr.New(xerr.InputMalformed, "non-ASCII callsign byte")
		}
		b.WriteByte(c)
	}
	ctrl := addr[6]
	ssid = int(ctrl&SSIDMask) >> SSIDShift
	hBit = ctrl&HMask != 0
	lastAddr = ctrl&LastMask != 0
	return b.String(), ssid, hBit, lastAddr, nil
}

// CallWithSSID renders "CALL" or "CALL-N" the way the original's
// ax25_get_addr_with_ssid/ax25_to_tnc2_fmtaddress does, appending '*' when
// the H-bit is set (TNC2 via-path convention, spec.md §6).
func CallWithSSID(addr []byte) (string, error) {
	call, ssid, hBit, _, err := DecodeCall(addr)
	if err != nil {
		return "", err
	}
	s := call
	if ssid != 0 {
		s += "-" + strconv.Itoa(ssid)
	}
	if hBit {
		s += "*"
	}
	return s, nil
}

// SetH sets the H-bit ("has been repeated") on the address field at byte
// offset 6.
func SetH(addr []byte) {
	addr[6] |= HMask
}

// GetH reports the H-bit.
func GetH(addr []byte) bool { return addr[6]&HMask != 0 }

// GetSSID extracts the SSID 0..15 from an address control byte.
func GetSSID(addr []byte) int { return int(addr[6]&SSIDMask) >> SSIDShift }

// SetSSID rewrites the SSID bits in place, leaving H/RR/last bits intact.
func SetSSID(addr []byte, ssid int) {
	addr[6] = (addr[6] &^ SSIDMask) | byte(SSIDMask&(ssid<<SSIDShift))
}

// DecrementSSID decrements the SSID by one (never below 0) and returns the
// new value, matching original_source/digipeater.c's decrement_ssid().
func DecrementSSID(addr []byte) int {
	s := GetSSID(addr)
	if s > 0 {
		s--
		SetSSID(addr, s)
	}
	return s
}
