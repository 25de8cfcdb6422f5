// Package filter implements the APRS-IS-compatible filter DSL of spec.md
// §4.6 (a/b/d/e/f/o/p/q/r/s/t/u). Grounded on original_source/filter.c
// (filter_parse/filter_process_one_* per kind letter) and the SUPPLEMENTED
// FEATURES section of SPEC_FULL.md, which restores the `d`/`e`/`q` kinds
// the distilled spec.md table names but does not define.
package filter

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aprx-project/aprxd/internal/history"
	"github.com/aprx-project/aprxd/internal/latlong"
	"github.com/aprx-project/aprxd/internal/pbuf"
	"github.com/aprx-project/aprxd/internal/xerr"
)

// Result is the chain-level verdict (spec.md §4.6).
type Result int

const (
	NoMatch Result = iota
	Accept
	Reject
)

// HistAge is how long an `f`/`t`-with-radius center lookup is cached
// before a fresh history lookup is performed (spec.md §4.6: "≈ 20 s").
const HistAge = 20 * time.Second

// CallPattern is one budlist/prefix/wildcard entry. '*' anywhere acts as
// a suffix wildcard over the remaining text, matching the original's
// wildcard budlist semantics.
type CallPattern string

func (p CallPattern) Match(call string) bool {
	s := string(p)
	if i := strings.IndexByte(s, '*'); i >= 0 {
		return strings.HasPrefix(call, s[:i])
	}
	return s == call
}

func matchAny(patterns []CallPattern, call string) bool {
	for _, p := range patterns {
		if p.Match(call) {
			return true
		}
	}
	return false
}

// QConstruct is the APRS-IS q-construct bitmask used by the `q` kind
// (SUPPLEMENTED FEATURES; original_source/filter.c case 'q').
type QConstruct uint32

const (
	QC QConstruct = 1 << iota
	QAX
	QAU
	QAo
	QAO
	QAS
	QAr
	QAR
	QAZ
	QAI
)

// Node is one parsed filter entry (spec.md §3 "Filter").
type Node struct {
	Kind    byte
	Negated bool

	// a: bounding box
	Box Box

	// b/d/e/o/p/u: callsign-ish pattern sets
	Calls []CallPattern

	// f/t-with-radius: named station center, cached
	Station        string
	centerValid    bool
	centerLat      float64
	centerLon      float64
	centerCosLat   float64
	centerDeadline time.Time

	// r: explicit center + range
	CenterLat, CenterLon float64
	RangeKm              float64 // negative inverts sense (spec.md §4.6)

	// s: symbol filter
	SymPrimary, SymAlt, SymOverlay byte

	// t: type bitmask, optional radius-gated variant
	TypeMask    pbuf.PacketType
	TypeRadiusT bool

	// q: q-construct bitmask
	QMask QConstruct
}

// Box wraps latlong.Box so filter.go need not import s2 directly.
type Box struct{ B latlong.Box }

func (b Box) Contains(lat, lon float64) bool { return b.B.Contains(lat, lon) }

// Chain is an ordered list of nodes, as attached to one DigipeaterSource.
type Chain []*Node

// HistoryLookup is the minimal history-DB contract the `f`/`t`-radius
// kinds need: find a station's last known position.
type HistoryLookup interface {
	Lookup(key string) (*history.Cell, bool)
}

// Evaluate runs the full chain against pb per spec.md §4.6: any
// negated-node match rejects immediately (short-circuiting later
// accepts, Testable Property 6); any positive match, absent a later
// reject, accepts; otherwise NoMatch.
func Evaluate(chain Chain, pb *pbuf.Buf, hist HistoryLookup, now time.Time) Result {
	accepted := false
	for _, n := range chain {
		if matchOne(n, pb, hist, now) {
			if n.Negated {
				return Reject
			}
			accepted = true
		}
	}
	if accepted {
		return Accept
	}
	return NoMatch
}

func matchOne(n *Node, pb *pbuf.Buf, hist HistoryLookup, now time.Time) bool {
	switch n.Kind {
	case 'a', 'A':
		return matchA(n, pb)
	case 'b':
		return matchAny(n.Calls, pb.SrcCall())
	case 'd':
		return matchD(n, pb)
	case 'e':
		return matchE(n, pb)
	case 'f':
		return matchF(n, pb, hist, now)
	case 'o':
		return matchO(n, pb)
	case 'p':
		return matchP(n, pb)
	case 'q':
		return matchQ(n, pb)
	case 'r':
		return matchR(n, pb)
	case 's':
		return matchS(n, pb)
	case 't':
		return matchT(n, pb, hist, now)
	case 'u':
		return matchAny(n.Calls, destCallOf(pb))
	default:
		return false
	}
}

func destCallOf(pb *pbuf.Buf) string { return pb.DstCall() }

func matchA(n *Node, pb *pbuf.Buf) bool {
	if !pb.Aprs.HasPos {
		return false
	}
	inside := n.Box.Contains(pb.Aprs.Lat, pb.Aprs.Lon)
	if n.Kind == 'a' { // lowercase 'a': inside the box
		return inside
	}
	return !inside // uppercase 'A': outside the box
}

func matchD(n *Node, pb *pbuf.Buf) bool {
	for _, v := range pb.Vias() {
		call, _, _ := splitViaStar(v)
		if matchAny(n.Calls, call) {
			return true
		}
	}
	return false
}

func matchE(n *Node, pb *pbuf.Buf) bool {
	vias := pb.Vias()
	for _, v := range vias {
		call, _, used := splitViaStar(v)
		if used && matchAny(n.Calls, call) {
			return true
		}
	}
	return false
}

func splitViaStar(v string) (call string, ssid int, used bool) {
	used = strings.HasSuffix(v, "*")
	v = strings.TrimSuffix(v, "*")
	if i := strings.IndexByte(v, '-'); i >= 0 {
		n, err := strconv.Atoi(v[i+1:])
		if err == nil {
			ssid = n
		}
		v = v[:i]
	}
	return v, ssid, used
}

func matchF(n *Node, pb *pbuf.Buf, hist HistoryLookup, now time.Time) bool {
	if !pb.Aprs.HasPos {
		return false
	}
	lat, lon, cosLat, ok := resolveCenter(n, hist, now)
	if !ok {
		return false
	}
	d := latlong.HaversineKm(lat, lon, cosLat, pb.Aprs.Lat, pb.Aprs.Lon, pb.Aprs.CosLat)
	if n.RangeKm < 0 {
		return d >= -n.RangeKm
	}
	return d <= n.RangeKm
}

func resolveCenter(n *Node, hist HistoryLookup, now time.Time) (lat, lon, cosLat float64, ok bool) {
	if n.centerValid && now.Before(n.centerDeadline) {
		return n.centerLat, n.centerLon, n.centerCosLat, true
	}
	if hist == nil {
		return 0, 0, 0, false
	}
	cell, found := hist.Lookup(n.Station)
	if !found || !cell.HasPos {
		return 0, 0, 0, false
	}
	n.centerLat, n.centerLon, n.centerCosLat = cell.Lat, cell.Lon, cell.CosLat
	n.centerValid = true
	n.centerDeadline = now.Add(HistAge)
	return n.centerLat, n.centerLon, n.centerCosLat, true
}

func matchO(n *Node, pb *pbuf.Buf) bool {
	if pb.Aprs.Type&(pbuf.TypeObject|pbuf.TypeItem) == 0 || !pb.Aprs.HasSrcName {
		return false
	}
	return matchAny(n.Calls, pb.Aprs.SrcName)
}

func matchP(n *Node, pb *pbuf.Buf) bool {
	src := pb.SrcCall()
	for _, p := range n.Calls {
		if strings.HasPrefix(src, string(p)) {
			return true
		}
	}
	return false
}

func matchQ(n *Node, pb *pbuf.Buf) bool {
	for _, v := range pb.Vias() {
		call, _, _ := splitViaStar(v)
		if !strings.HasPrefix(call, "q") {
			continue
		}
		bit, ok := qConstructBit(call)
		if ok && n.QMask&bit != 0 {
			return true
		}
	}
	return false
}

// qConstructBit maps a q-construct's exact spelling to its bit. Case
// matters here: qAr and qAR (likewise qAo/QAO) are distinct constructs
// (non-verified vs. verified gate), so this is deliberately not a
// case-folded comparison.
func qConstructBit(qc string) (QConstruct, bool) {
	switch qc {
	case "qAC":
		return QC, true
	case "qAX":
		return QAX, true
	case "qAU":
		return QAU, true
	case "qAo":
		return QAo, true
	case "qAO":
		return QAO, true
	case "qAS":
		return QAS, true
	case "qAr":
		return QAr, true
	case "qAR":
		return QAR, true
	case "qAZ":
		return QAZ, true
	case "qAI":
		return QAI, true
	default:
		return 0, false
	}
}

func matchR(n *Node, pb *pbuf.Buf) bool {
	if !pb.Aprs.HasPos {
		return false
	}
	cosCenter := math.Cos(n.CenterLat)
	d := latlong.HaversineKm(n.CenterLat, n.CenterLon, cosCenter, pb.Aprs.Lat, pb.Aprs.Lon, pb.Aprs.CosLat)
	if n.RangeKm < 0 {
		return d >= -n.RangeKm
	}
	return d <= n.RangeKm
}

func matchS(n *Node, pb *pbuf.Buf) bool {
	if !pb.Aprs.HasPos && pb.Aprs.SymTable == 0 {
		return false
	}
	if n.SymPrimary != 0 && pb.Aprs.SymTable == '/' && pb.Aprs.SymCode == n.SymPrimary {
		return true
	}
	if n.SymAlt != 0 && pb.Aprs.SymTable != '/' && pb.Aprs.SymCode == n.SymAlt {
		return true
	}
	if n.SymOverlay != 0 && pb.Aprs.SymTable == n.SymOverlay {
		return true
	}
	return false
}

func matchT(n *Node, pb *pbuf.Buf, hist HistoryLookup, now time.Time) bool {
	if n.TypeMask&pb.Aprs.Type == 0 {
		return false
	}
	if !n.TypeRadiusT {
		return true
	}
	return matchF(n, pb, hist, now)
}

// NewReject builds a small error for callers that need to surface parse
// failures without importing xerr directly at every call site.
func NewReject(msg string) error { return xerr.New(xerr.FilterReject, msg) }

// ParseChain turns the whitespace-separated filter spec text of a
// <source>'s "filter" line (or an <aprsis> block's, per spec.md §6) into
// a Chain, one Node per token. Grounded on original_source/filter.c's
// filter_parse: a leading '-' negates a term, the kind letter is
// case-insensitive, and remaining fields are '/'-separated.
func ParseChain(spec string) (Chain, error) {
	var chain Chain
	for _, tok := range strings.Fields(spec) {
		n, err := parseNode(tok)
		if err != nil {
			return nil, err
		}
		chain = append(chain, n)
	}
	return chain, nil
}

func parseNode(tok string) (*Node, error) {
	negated := false
	if strings.HasPrefix(tok, "-") {
		negated = true
		tok = tok[1:]
	}
	if tok == "" {
		return nil, xerr.New(xerr.FilterReject, "empty filter term")
	}
	fields := strings.Split(tok, "/")
	kindByte := fields[0][0]
	var kind byte
	if kindByte == 'A' {
		// Unlike every other kind letter, 'A' (vs. lowercase 'a') is
		// itself meaningful: "outside the box" rather than "inside"
		// (original_source/filter.c's f0.h.type = 'A' branch), distinct
		// from the leading '-' negation prefix already stripped above.
		kind = 'A'
	} else {
		kind = strings.ToLower(fields[0][:1])[0]
	}
	args := fields[1:]
	if len(fields[0]) > 1 {
		// A kind letter may be followed directly by its first argument
		// with no slash, as in original_source/filter.c's "p<N>" form.
		args = append([]string{fields[0][1:]}, args...)
	}

	n := &Node{Kind: kind, Negated: negated}
	var err error
	switch kind {
	case 'a', 'A':
		err = parseAreaArgs(n, args)
	case 'b', 'd', 'e', 'o', 'p', 'u':
		n.Calls = toCallPatterns(args)
	case 'f':
		err = parseStationRangeArgs(n, args)
	case 'q':
		n.QMask = parseQMask(args)
	case 'r':
		err = parseCenterRangeArgs(n, args)
	case 's':
		parseSymbolArgs(n, args)
	case 't':
		err = parseTypeArgs(n, args)
	default:
		err = xerr.New(xerr.FilterReject, "unrecognized filter kind "+string(kind))
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func toCallPatterns(args []string) []CallPattern {
	var out []CallPattern
	for _, a := range args {
		for _, c := range strings.Split(a, ",") {
			if c != "" {
				out = append(out, CallPattern(c))
			}
		}
	}
	return out
}

func parseAreaArgs(n *Node, args []string) error {
	if len(args) < 4 {
		return xerr.New(xerr.FilterReject, "a/ filter requires latN/lonW/latS/lonE")
	}
	latN, err1 := strconv.ParseFloat(args[0], 64)
	lonW, err2 := strconv.ParseFloat(args[1], 64)
	latS, err3 := strconv.ParseFloat(args[2], 64)
	lonE, err4 := strconv.ParseFloat(args[3], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return xerr.New(xerr.FilterReject, "a/ filter has non-numeric bound")
	}
	n.Box = Box{B: latlong.NewBox(latN, lonW, latS, lonE)}
	return nil
}

func parseStationRangeArgs(n *Node, args []string) error {
	if len(args) < 2 {
		return xerr.New(xerr.FilterReject, "f/ filter requires CALL/dist")
	}
	dist, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return xerr.New(xerr.FilterReject, "f/ filter has non-numeric distance")
	}
	n.Station = args[0]
	n.RangeKm = dist
	return nil
}

func parseCenterRangeArgs(n *Node, args []string) error {
	if len(args) < 3 {
		return xerr.New(xerr.FilterReject, "r/ filter requires lat/lon/dist")
	}
	lat, err1 := strconv.ParseFloat(args[0], 64)
	lon, err2 := strconv.ParseFloat(args[1], 64)
	dist, err3 := strconv.ParseFloat(args[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return xerr.New(xerr.FilterReject, "r/ filter has non-numeric field")
	}
	n.CenterLat, n.CenterLon = latlong.Radians(lat), latlong.Radians(lon)
	n.RangeKm = dist
	return nil
}

func parseSymbolArgs(n *Node, args []string) {
	if len(args) > 0 && len(args[0]) > 0 {
		n.SymPrimary = args[0][0]
	}
	if len(args) > 1 && len(args[1]) > 0 {
		n.SymAlt = args[1][0]
	}
	if len(args) > 2 && len(args[2]) > 0 {
		n.SymOverlay = args[2][0]
	}
}

// qLetterBit maps the single-letter shorthand original_source/filter.c's
// docs use for q/ arguments (e.g. "q/C" for qAC, "q/rR" for qAr or qAR)
// to its bit. Case matters: 'r' and 'R' are distinct constructs.
var qLetterBit = map[byte]QConstruct{
	'C': QC,
	'X': QAX,
	'U': QAU,
	'o': QAo,
	'O': QAO,
	'S': QAS,
	'r': QAr,
	'R': QAR,
	'Z': QAZ,
	'I': QAI,
}

func parseQMask(args []string) QConstruct {
	var mask QConstruct
	for _, a := range args {
		for i := 0; i < len(a); i++ {
			if bit, ok := qLetterBit[a[i]]; ok {
				mask |= bit
			}
		}
	}
	return mask
}

// typeLetters maps spec.md §4.6's t/ type-bitmap letters to PacketType
// bits: position, message, object, item, wx, status, telemetry, query,
// userdef, nws, cwop.
var typeLetters = map[byte]pbuf.PacketType{
	'p': pbuf.TypePosition,
	'm': pbuf.TypeMessage,
	'o': pbuf.TypeObject,
	'i': pbuf.TypeItem,
	'w': pbuf.TypeWX,
	's': pbuf.TypeStatus,
	't': pbuf.TypeTelemetry,
	'q': pbuf.TypeQuery,
	'u': pbuf.TypeUserdef,
	'n': pbuf.TypeNWS,
	'c': pbuf.TypeCWOP,
}

func parseTypeArgs(n *Node, args []string) error {
	if len(args) < 1 {
		return xerr.New(xerr.FilterReject, "t/ filter requires a type letter set")
	}
	for _, c := range args[0] {
		bit, ok := typeLetters[byte(c)]
		if !ok {
			return xerr.New(xerr.FilterReject, "t/ filter has unknown type letter "+string(c))
		}
		n.TypeMask |= bit
	}
	if len(args) >= 3 {
		n.TypeRadiusT = true
		n.Station = args[1]
		dist, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return xerr.New(xerr.FilterReject, "t/ filter has non-numeric distance")
		}
		n.RangeKm = dist
	}
	return nil
}
