// Package pbuf implements the parsed-packet buffer described in spec.md
// §3 ("PBuf") and §4.1. It is grounded on original_source/pbuf.c (the
// aprx pbuf_t constructor/offset scanning) and on doismellburning-samoyed's notion of
// a shared, (historically) refcounted packet object
// (doismellburning-samoyed/src/ax25_pad.go's packet_t).
//
// The original's manual reference counting is replaced by normal Go
// garbage collection (REDESIGN FLAGS in spec.md §9): a Buf, once filled,
// is never mutated in place. Components that need the "shared
// ownership with a hold" semantics of spec.md §9 (the dup-check cache's held_pbuf, the
// viscous-delay queue) call Hold/Release on an atomic counter purely for
// diagnostics; no test reads the counter -- the backing storage
// itself is freed by the collector, not by the counter reaching zero.
package pbuf

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/aprx-project/aprxd/internal/xerr"
)

// MaxLen is the combined AX.25 + TNC2 byte budget a single PBuf may hold
// (spec.md §4.1: "Fails if axlen + tnc2len > 2100").
const MaxLen = 2100

// PacketType is the APRS packet-type bitmask carried on Facets.
type PacketType uint32

const (
	TypePosition PacketType = 1 << iota
	TypeMessage
	TypeObject
	TypeItem
	TypeStatus
	TypeTelemetry
	TypeWX
	TypeQuery
	TypeNWS
	TypeUserdef
	TypeCWOP
	TypeThirdParty
)

// Facets holds the APRS-specific fields parsed out of an is_aprs PBuf
// (spec.md §3, §4.3).
type Facets struct {
	Type        PacketType
	HasPos      bool
	Lat, Lon    float64 // radians
	CosLat      float64
	SymTable    byte
	SymCode     byte
	HasSrcName  bool
	SrcName     string
	HasRecipient bool
	Recipient   string
	// Kill marks an object/item "kill" report (trailing '_' status
	// character) or a message with no position content of its own: the
	// history DB updates last-heard but must not clobber a prior
	// position (spec.md §3 HistoryCell "On key kill").
	Kill bool
}

// Buf is the immutable-after-fill parsed packet. Exported fields are safe
// to read concurrently once Fill has returned; nothing after that point
// mutates them except the digipeater's local-copy rewrite, which never
// touches a Buf's own storage (see internal/digipeater).
type Buf struct {
	IsAPRS       bool
	DigiLikeAPRS bool
	Arrival      time.Time
	SrcIfGroup   int

	AX25        []byte // full AX.25 header+info byte sequence
	AX25AddrLen int    // length of the address block within AX25

	TNC2 []byte // full "SRC>DST[,VIA...]:info" text form

	SrcCallStart, SrcCallEnd int
	DstCallStart, DstCallEnd int
	InfoStart                int

	Aprs Facets

	holds int32
}

// New allocates a Buf sized for ax25Len+tnc2Len bytes, refusing to exceed
// MaxLen (spec.md §4.1, §7 "Runtime resource exhaustion").
func New(isAPRS, digiLikeAPRS bool, ax25Len, tnc2Len int) (*Buf, error) {
	if ax25Len+tnc2Len > MaxLen {
		return nil, xerr.New(xerr.ResourceExhausted, "pbuf exceeds 2100 byte budget")
	}
	return &Buf{
		IsAPRS:       isAPRS,
		DigiLikeAPRS: digiLikeAPRS,
		Arrival:      time.Now(),
	}, nil
}

// Fill populates the twin representations and scans the TNC2 prefix to
// locate the source/destination call boundaries and the info separator,
// per spec.md §4.1.
func (b *Buf) Fill(tnc2 []byte, ax25 []byte, ax25AddrLen int) error {
	b.TNC2 = append([]byte(nil), tnc2...)
	b.AX25 = append([]byte(nil), ax25...)
	b.AX25AddrLen = ax25AddrLen

	gt := bytes.IndexByte(b.TNC2, '>')
	if gt < 0 {
		return xerr.New(xerr.InputMalformed, "tnc2 text has no '>' separator")
	}
	b.SrcCallStart = 0
	b.SrcCallEnd = gt

	rest := b.TNC2[gt+1:]
	comma := bytes.IndexByte(rest, ',')
	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return xerr.New(xerr.InputMalformed, "tnc2 text has no ':' info separator")
	}
	dstEnd := colon
	if comma >= 0 && comma < colon {
		dstEnd = comma
	}
	b.DstCallStart = gt + 1
	b.DstCallEnd = gt + 1 + dstEnd
	b.InfoStart = gt + 1 + colon + 1

	if !(b.SrcCallEnd > 0 && b.DstCallEnd >= b.SrcCallEnd) {
		return xerr.New(xerr.InputMalformed, "malformed source/destination call bounds")
	}
	return nil
}

// Info returns the TNC2 information field (after the ':').
func (b *Buf) Info() []byte {
	if b.InfoStart < 0 || b.InfoStart > len(b.TNC2) {
		return nil
	}
	return b.TNC2[b.InfoStart:]
}

// SrcCall returns the source callsign text.
func (b *Buf) SrcCall() string { return string(b.TNC2[b.SrcCallStart:b.SrcCallEnd]) }

// DstCall returns the destination callsign text.
func (b *Buf) DstCall() string { return string(b.TNC2[b.DstCallStart:b.DstCallEnd]) }

// Vias returns the via-path fields (between destination and the info
// separator), preserving any trailing '*' H-bit marker.
func (b *Buf) Vias() []string {
	if b.DstCallEnd >= b.InfoStart {
		return nil
	}
	mid := b.TNC2[b.DstCallEnd:b.InfoStart-1] // drop trailing ':'
	mid = bytes.TrimPrefix(mid, []byte{','})
	if len(mid) == 0 {
		return nil
	}
	parts := bytes.Split(mid, []byte{','})
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}

// Hold increments the informational reference count, mirroring the
// original's shared-ownership PBuf (spec.md §3) so that the dup-check
// cache's held_pbuf concept is observable through Holds.
func (b *Buf) Hold() int32 { return atomic.AddInt32(&b.holds, 1) }

// Release decrements the informational reference count and reports
// whether this was the final hold.
func (b *Buf) Release() (last bool) {
	return atomic.AddInt32(&b.holds, -1) == 0
}

// Holds reports the current informational hold count.
func (b *Buf) Holds() int32 { return atomic.LoadInt32(&b.holds) }
