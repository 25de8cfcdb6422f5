// Package aprs decodes TNC2 information-field text into the typed
// facets spec.md §4.3 requires (position, message, object, item, status,
// telemetry, wx, query, thirdparty, nws). This is the "external
// collaborator" contract of spec.md §4.3, implemented here as a concrete
// subset parser since the repository otherwise has nothing to drive the
// digipeater/history/filter tests against.
//
// Grounded on doismellburning-samoyed/src/decode_aprs.go (data type
// indicator dispatch table) and original_source (aprx's own use of a
// position/object/item/message/status/telemetry/wx/query/thirdparty
// bitmask, mirrored here as pbuf.PacketType) -- reimplemented without
// doismellburning-samoyed's cgo decode_aprs_t output struct.
package aprs

import (
	"math"
	"strconv"
	"strings"

	"github.com/aprx-project/aprxd/internal/pbuf"
)

// Parse decodes the TNC2 info field (as seen by a PBuf, spec.md §4.3) into
// Facets. dstCall is the slot for MIC-E destination-encoded data, which
// this subset does not decode; the parameter is accepted and unused.
func Parse(info []byte, dstCall string) pbuf.Facets {
	var f pbuf.Facets
	if len(info) == 0 {
		return f
	}

	body := info
	dti := body[0]

	// Third-party: parse down to the outer envelope and flag it; the
	// inner packet is not recursively decoded (spec.md §4.3).
	if dti == '}' {
		f.Type |= pbuf.TypeThirdParty
		return f
	}

	switch dti {
	case '!', '=':
		f.Type |= pbuf.TypePosition
		parsePosition(body[1:], &f)
	case '/', '@':
		// Position with a leading 7-char timestamp.
		f.Type |= pbuf.TypePosition
		if len(body) > 8 {
			parsePosition(body[8:], &f)
		}
	case ';':
		f.Type |= pbuf.TypeObject
		parseObjectOrItem(body[1:], 9, &f)
	case ')':
		f.Type |= pbuf.TypeItem
		parseObjectOrItem(body[1:], 0, &f)
	case ':':
		f.Type |= pbuf.TypeMessage
		parseMessage(body[1:], &f)
	case '>':
		f.Type |= pbuf.TypeStatus
	case 'T':
		if strings.HasPrefix(string(body), "T#") {
			f.Type |= pbuf.TypeTelemetry
		}
	case '_':
		f.Type |= pbuf.TypeWX
	case '?':
		f.Type |= pbuf.TypeQuery
	case '`', '\'':
		f.Type |= pbuf.TypePosition
		// Mic-E: position is destination-SSID/callsign encoded, which
		// this subset parser does not decode; flagged as positionless
		// here rather than guessing.
	default:
		f.Type |= pbuf.TypeUserdef
	}

	if strings.Contains(strings.ToUpper(string(info)), "NWS") {
		f.Type |= pbuf.TypeNWS
	}
	return f
}

// parsePosition handles both compressed and uncompressed position
// formats that may follow a '!'/'='/timestamped position DTI.
func parsePosition(rest []byte, f *pbuf.Facets) {
	if len(rest) == 0 {
		return
	}
	if isCompressedLead(rest[0]) && len(rest) >= 13 {
		parseCompressed(rest, f)
		return
	}
	parseUncompressed(rest, f)
}

func isCompressedLead(c byte) bool { return c == '/' || c == '\\' }

// parseUncompressed decodes "DDMM.hhN/DDDMM.hhWsc..." (APRS101 §8).
func parseUncompressed(rest []byte, f *pbuf.Facets) {
	if len(rest) < 19 {
		return
	}
	lat, ok := decodeDM(string(rest[0:8]), rest[7])
	if !ok {
		return
	}
	symTable := rest[8]
	lon, ok := decodeDM(string(rest[9:18]), rest[17])
	if !ok {
		return
	}
	symCode := rest[18]

	f.HasPos = true
	f.Lat = lat * math.Pi / 180
	f.Lon = lon * math.Pi / 180
	f.CosLat = math.Cos(f.Lat)
	f.SymTable = symTable
	f.SymCode = symCode
}

// decodeDM decodes "DDMM.mmH" (lat, 8 bytes) or "DDDMM.mmH" (lon, 9 bytes),
// the trailing byte being the hemisphere letter already split out by the
// caller as hemi, into signed degrees.
func decodeDM(s string, hemi byte) (float64, bool) {
	s = strings.TrimRight(strings.TrimSpace(s), "NSEWnsew")
	dot := strings.IndexByte(s, '.')
	if dot < 2 {
		return 0, false
	}
	minStart := dot - 2
	degStr := s[:minStart]
	minStr := s[minStart:]
	deg, err := strconv.ParseFloat(degStr, 64)
	if err != nil {
		return 0, false
	}
	min, err := strconv.ParseFloat(minStr, 64)
	if err != nil {
		return 0, false
	}
	val := deg + min/60.0
	switch hemi {
	case 'S', 'W':
		val = -val
	}
	return val, true
}

// parseCompressed decodes the 13-byte APRS compressed position format:
// symbol-table-id, 4 base91 lat chars, 4 base91 lon chars, symbol code,
// then 3 more bytes of compressed course/speed or range (ignored here).
func parseCompressed(rest []byte, f *pbuf.Facets) {
	symTable := rest[0]
	latVal, ok := base91Decode4(rest[1:5])
	if !ok {
		return
	}
	lonVal, ok := base91Decode4(rest[5:9])
	if !ok {
		return
	}
	symCode := rest[9]

	lat := 90.0 - latVal/380926.0
	lon := -180.0 + lonVal/190463.0

	f.HasPos = true
	f.Lat = lat * math.Pi / 180
	f.Lon = lon * math.Pi / 180
	f.CosLat = math.Cos(f.Lat)
	f.SymTable = symTable
	f.SymCode = symCode
}

func base91Decode4(b []byte) (float64, bool) {
	if len(b) < 4 {
		return 0, false
	}
	var v float64
	for _, c := range b[:4] {
		if c < '!' || c > '{' {
			return 0, false
		}
		v = v*91 + float64(c-'!')
	}
	return v, true
}

// parseObjectOrItem extracts the 9-char object name (left-padded/space
// trimmed) or variable-length item name terminated by '!' or '_', per
// spec.md §3 ("kill" detection on object '_'/item missing '*').
func parseObjectOrItem(rest []byte, objNameLen int, f *pbuf.Facets) {
	if objNameLen > 0 {
		if len(rest) < objNameLen+1 {
			return
		}
		name := strings.TrimRight(string(rest[:objNameLen]), " ")
		status := rest[objNameLen]
		f.HasSrcName = true
		f.SrcName = name
		f.Kill = status == '_'
		if len(rest) > objNameLen+1 {
			parsePosition(rest[objNameLen+1:], f)
		}
		return
	}
	// Item: name runs up to '!' (live) or '_' (kill).
	end := -1
	for i, c := range rest {
		if c == '!' || c == '_' {
			end = i
			break
		}
	}
	if end < 0 {
		return
	}
	f.HasSrcName = true
	f.SrcName = string(rest[:end])
	f.Kill = rest[end] == '_'
	if end+1 < len(rest) {
		parsePosition(rest[end+1:], f)
	}
}

// parseMessage extracts the ":RECIPIENT :text" fields (spec.md §4.3).
func parseMessage(rest []byte, f *pbuf.Facets) {
	if len(rest) < 10 {
		return
	}
	recipient := strings.TrimSpace(string(rest[:9]))
	f.HasRecipient = true
	f.Recipient = recipient
}
