package ax25

import (
	"strconv"
	"strings"

	"github.com/aprx-project/aprxd/internal/xerr"
)

// ViaField is one parsed TNC2 via-path entry: callsign, SSID, and whether
// the trailing '*' (H-bit) marker was present.
type ViaField struct {
	Call string
	SSID int
	Used bool // '*' marker / H-bit
}

func (v ViaField) String() string {
	s := v.Call
	if v.SSID != 0 {
		s += "-" + strconv.Itoa(v.SSID)
	}
	if v.Used {
		s += "*"
	}
	return s
}

// ViasString renders a via-field slice as a comma-joined TNC2 path.
func ViasString(vias []ViaField) string {
	parts := make([]string, len(vias))
	for i, v := range vias {
		parts[i] = v.String()
	}
	return strings.Join(parts, ",")
}

// ParseCallSSID splits "CALL-SSID" (with optional trailing '*', which it
// strips) into callsign and numeric SSID.
func ParseCallSSID(s string) (call string, ssid int, err error) {
	s = strings.TrimSuffix(s, "*")
	if i := strings.IndexByte(s, '-'); i >= 0 {
		call = s[:i]
		n, convErr := strconv.Atoi(s[i+1:])
		if convErr != nil || n < 0 || n > 15 {
			return "", 0, xerr.New(xerr.InputMalformed, "bad ssid in "+s)
		}
		return call, n, nil
	}
	return s, 0, nil
}

// EncodeAddrField builds the AX.25 DST+SRC+VIA... address block (spec.md
// §6), up to 70 bytes (10 addresses). The last address gets the
// address-extension bit; it is always the final via field, or SRC if
// there are no vias.
func EncodeAddrField(dstCall string, dstSSID int, srcCall string, srcSSID int, vias []ViaField) ([]byte, error) {
	n := 2 + len(vias)
	if n > MaxAddrs {
		return nil, xerr.New(xerr.InputMalformed, "too many via fields")
	}
	buf := make([]byte, n*AddrLen)
	if err := EncodeCall(buf[0:7], dstCall, dstSSID, false, false); err != nil {
		return nil, err
	}
	lastIsSrc := len(vias) == 0
	if err := EncodeCall(buf[7:14], srcCall, srcSSID, false, lastIsSrc); err != nil {
		return nil, err
	}
	for i, v := range vias {
		isLast := i == len(vias)-1
		off := 14 + i*7
		if err := EncodeCall(buf[off:off+7], v.Call, v.SSID, v.Used, isLast); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeAddrField parses an AX.25 DST+SRC+VIA... address block back into
// its fields. addrLen must be a multiple of 7 and at least 14 (dst+src).
func DecodeAddrField(addr []byte) (dstCall string, dstSSID int, srcCall string, srcSSID int, vias []ViaField, err error) {
	if len(addr) < 14 || len(addr)%AddrLen != 0 {
		return "", 0, "", 0, nil, xerr.New(xerr.InputMalformed, "address field length not a multiple of 7, or too short")
	}
	dstCall, dstSSID, _, _, err = DecodeCall(addr[0:7])
	if err != nil {
		return
	}
	srcCall, srcSSID, _, srcLast, err := DecodeCall(addr[7:14])
	if err != nil {
		return
	}
	if srcLast {
		return dstCall, dstSSID, srcCall, srcSSID, nil, nil
	}
	for off := 14; off < len(addr); off += 7 {
		call, ssid, h, last, derr := DecodeCall(addr[off : off+7])
		if derr != nil {
			return "", 0, "", 0, nil, derr
		}
		vias = append(vias, ViaField{Call: call, SSID: ssid, Used: h})
		if last {
			break
		}
	}
	return dstCall, dstSSID, srcCall, srcSSID, vias, nil
}

// AddrFieldToTNC2 renders an AX.25 address block as the TNC2
// "SRC>DST[,VIA...]" prefix (without the trailing ':' or info part).
func AddrFieldToTNC2(addr []byte) (string, error) {
	dstCall, dstSSID, srcCall, srcSSID, vias, err := DecodeAddrField(addr)
	if err != nil {
		return "", err
	}
	src := srcCall
	if srcSSID != 0 {
		src += "-" + strconv.Itoa(srcSSID)
	}
	dst := dstCall
	if dstSSID != 0 {
		dst += "-" + strconv.Itoa(dstSSID)
	}
	var b strings.Builder
	b.WriteString(src)
	b.WriteByte('>')
	b.WriteString(dst)
	for _, v := range vias {
		b.WriteByte(',')
		b.WriteString(v.String())
	}
	return b.String(), nil
}

// TNC2ToAddrField parses a TNC2 "SRC>DST[,VIA...]" prefix (no trailing
// ':'/info) back into an AX.25 address block.
func TNC2ToAddrField(prefix string) ([]byte, error) {
	gt := strings.IndexByte(prefix, '>')
	if gt < 0 {
		return nil, xerr.New(xerr.InputMalformed, "missing '>' in tnc2 prefix")
	}
	srcCall, srcSSID, err := ParseCallSSID(prefix[:gt])
	if err != nil {
		return nil, err
	}
	rest := prefix[gt+1:]
	parts := strings.Split(rest, ",")
	dstCall, dstSSID, err := ParseCallSSID(parts[0])
	if err != nil {
		return nil, err
	}
	var vias []ViaField
	for _, p := range parts[1:] {
		used := strings.HasSuffix(p, "*")
		call, ssid, verr := ParseCallSSID(p)
		if verr != nil {
			return nil, verr
		}
		vias = append(vias, ViaField{Call: call, SSID: ssid, Used: used})
	}
	return EncodeAddrField(dstCall, dstSSID, srcCall, srcSSID, vias)
}
