// Package iface implements the interface registry and transmit dispatch
// of spec.md §6: a Kind-tagged Interface abstraction (serial-KISS,
// TCP-KISS, kernel AX.25, AGWPE, APRS-IS, null), lookup by callsign or
// index, and the receive/transmit entry points (receive_ax25,
// receive_3rdparty, transmit_ax25, transmit_beacon) that connect a
// physical/logical transport to the digipeater and beacon layers.
//
// Grounded on doismellburning-samoyed's kissserial.go/kissnet.go device pairing
// (one Go file per transport, a shared KISS/SMACK framing layer) and
// originally on original_source/ttyreader.c's interface-callsign/index
// lookup tables; reworked to the "runtime context, not global registries"
// design note in spec.md §9 -- the Registry struct below is exactly that
// passed-explicitly context, rather than package-level state.
package iface

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aprx-project/aprxd/internal/kiss"
	"github.com/aprx-project/aprxd/internal/ptt"
	"github.com/aprx-project/aprxd/internal/xerr"
)

// Kind identifies the transport an Interface speaks, per spec.md §6's
// <interface> block grammar.
type Kind int

const (
	KindSerialKISS Kind = iota
	KindTCPKISS
	KindKernelAX25
	KindAGWPE
	KindAPRSIS
	KindNull
)

// Framing selects the on-wire framing variant for KISS-family interfaces.
type Framing int

const (
	FramingKISS Framing = iota
	FramingSMACK
	FramingBPQCRC
	FramingFlexnet
)

// SubIf is one KISS port multiplexed over a shared TNC link
// (<kiss-subif N> in spec.md §6).
type SubIf struct {
	Index    int
	Callsign string
	SSID     int
	TxOK     bool
	Aliases  []string
	Timeout  time.Duration
	IfGroup  int
}

// Stats tracks the idle-timeout bookkeeping spec.md §5 calls for:
// "Serial/TCP interface idle timeout ... on timeout the FD is closed and
// re-opened after a 30-second cooldown."
type Stats struct {
	LastActivity time.Time
	closedAt     time.Time
	cooldown     bool
}

// IdleCooldown is the fixed re-open cooldown after an idle-timeout close.
const IdleCooldown = 30 * time.Second

// Transport is the minimal read/write/close surface an Interface drives;
// satisfied by *os.File (serial), net.Conn (TCP-KISS/AGWPE), or a test
// double.
type Transport interface {
	io.ReadWriteCloser
}

// Interface is one configured physical or logical transport.
type Interface struct {
	Index    int
	Kind     Kind
	Callsign string
	SSID     int
	TxOK     bool
	Aliases  []string
	Framing  Framing
	Timeout  time.Duration
	IfGroup  int
	SubIfs   []SubIf

	transport Transport
	decoder   *kiss.Decoder
	stats     Stats
	poll      poll
	mu        sync.Mutex
	inbound   chan []byte
	pttCtl    *ptt.Control
}

// SetPTT attaches external push-to-talk control (spec.md §6's
// "ptt-line" key); c may be nil to leave the interface keyed off
// KISS framing alone.
func (i *Interface) SetPTT(c *ptt.Control) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pttCtl = c
}

// SetPollInterval configures the cadence at which PollIfDue will return
// true (0 disables polling). Only active-mode serial KISS TNCs use this;
// TCP-KISS and the other transports leave it at its zero value.
func (i *Interface) SetPollInterval(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.poll.interval = d
}

// PollIfDue reports whether a KISS poll frame should be issued now, and
// if so marks the interval as consumed. Per spec.md §9 open question (a),
// this is issued strictly on the configured interval, independent of any
// pending outbound write traffic.
func (i *Interface) PollIfDue(now time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.poll.due(now) {
		return false
	}
	i.poll.last = now
	return true
}

// New builds an Interface bound to a Transport; t may be nil for
// KindNull or KindAPRSIS (those don't move KISS frames over this
// abstraction).
func New(index int, kind Kind, callsign string, ssid int, t Transport) *Interface {
	return &Interface{
		Index:     index,
		Kind:      kind,
		Callsign:  callsign,
		SSID:      ssid,
		transport: t,
		decoder:   kiss.NewDecoder(),
		stats:     Stats{LastActivity: time.Now()},
	}
}

// MatchesCallsign reports whether call (with or without -SSID) names this
// interface or one of its subinterfaces or aliases.
func (i *Interface) MatchesCallsign(call string) bool {
	bare := bareCall(call)
	if strings.EqualFold(bare, i.Callsign) {
		return true
	}
	for _, a := range i.Aliases {
		if strings.EqualFold(bare, a) {
			return true
		}
	}
	for _, s := range i.SubIfs {
		if strings.EqualFold(bare, s.Callsign) {
			return true
		}
		for _, a := range s.Aliases {
			if strings.EqualFold(bare, a) {
				return true
			}
		}
	}
	return false
}

func bareCall(call string) string {
	if idx := strings.IndexByte(call, '-'); idx >= 0 {
		return call[:idx]
	}
	return call
}

// poll issues a KISS poll frame only when the configured interval has
// lapsed, matching spec.md §9 open question (a)'s preserved-observable-
// behavior directive: "poll issued only when a configured interval
// lapses", rather than on every loop tick.
type poll struct {
	interval time.Duration
	last     time.Time
}

func (p *poll) due(now time.Time) bool {
	if p.interval <= 0 {
		return false
	}
	return now.Sub(p.last) >= p.interval
}

// StartReader launches the one goroutine this package uses per physical
// interface: a blocking Read loop pushing raw bytes into an inbound
// channel the engine loop drains cooperatively via DrainInbound. This is
// the serial/TCP analog of the APRS-IS client's helper task (spec.md §5)
// -- blocking I/O confined to its own goroutine, with only a channel
// crossing into the single-threaded loop, mirroring the datagram-
// socketpair boundary spec.md §5 describes for the APRS-IS case.
func (i *Interface) StartReader() {
	if i.transport == nil {
		return
	}
	i.mu.Lock()
	if i.inbound == nil {
		i.inbound = make(chan []byte, 64)
	}
	i.mu.Unlock()
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := i.transport.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case i.inbound <- cp:
			default:
			}
		}
	}()
}

// DrainInbound non-blockingly returns the next chunk of raw bytes read by
// StartReader's goroutine, if any.
func (i *Interface) DrainInbound() ([]byte, bool) {
	i.mu.Lock()
	ch := i.inbound
	i.mu.Unlock()
	if ch == nil {
		return nil, false
	}
	select {
	case b := <-ch:
		return b, true
	default:
		return nil, false
	}
}

// ReceiveAX25 decodes newly-arrived raw bytes from the transport into
// zero or more KISS data-frame payloads (AX.25 frames), recording
// activity for the idle timeout. Malformed KISS/SMACK frames are dropped
// silently by the decoder per spec.md §7 InputMalformed.
func (i *Interface) ReceiveAX25(raw []byte) ([][]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stats.LastActivity = time.Now()
	frames, err := i.decoder.Feed(raw)
	if err != nil {
		return nil, err
	}
	var payloads [][]byte
	for _, f := range frames {
		if f.Cmd != kiss.CmdDataFrame {
			continue
		}
		payloads = append(payloads, f.Payload)
	}
	return payloads, nil
}

// ReceiveThirdParty unwraps a third-party envelope (spec.md §4.3's `}`
// packet type): the inner TNC2 text after the `}` marker, stripped of the
// outer envelope.
func ReceiveThirdParty(info []byte) ([]byte, error) {
	idx := indexByte(info, '}')
	if idx < 0 || idx == len(info)-1 {
		return nil, xerr.New(xerr.InputMalformed, "third-party packet missing inner payload")
	}
	return info[idx+1:], nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// TransmitAX25 writes one already-KISS-framed-ready AX.25 frame (address
// bytes, control and PID bytes, then info) to the transport,
// applying this interface's SMACK framing choice. Returns
// TxCapacityExhausted-flavored errors without blocking (spec.md §7).
func (i *Interface) TransmitAX25(port int, addrAndInfo []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.transport == nil {
		return xerr.New(xerr.TxCapacityExhausted, "interface has no transport")
	}
	smack := i.Framing == FramingSMACK
	wire := kiss.EncodeData(port, addrAndInfo, smack)
	if i.pttCtl != nil {
		i.pttCtl.Set(true)
		defer i.pttCtl.Set(false)
	}
	if _, err := i.transport.Write(wire); err != nil {
		return xerr.New(xerr.TxCapacityExhausted, "write: "+err.Error())
	}
	i.stats.LastActivity = time.Now()
	return nil
}

// TransmitBeacon is the RF-side beacon transmit path: same KISS encoding
// as TransmitAX25, kept as a distinct name to match spec.md §4.9's
// "RF via transmit_beacon" wording and to give beacon-specific metrics a
// distinct call site.
func (i *Interface) TransmitBeacon(port int, addrAndInfo []byte) error {
	return i.TransmitAX25(port, addrAndInfo)
}

// IdleCheck closes the transport if it has been silent past Timeout, per
// spec.md §5's idle-timeout/cooldown rule, and reports whether the
// interface is presently in its cooldown window (and thus should not be
// reopened yet).
func (i *Interface) IdleCheck(now time.Time) (timedOut bool, inCooldown bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stats.cooldown {
		if now.Sub(i.stats.closedAt) < IdleCooldown {
			return false, true
		}
		i.stats.cooldown = false
		return false, false
	}
	if i.Timeout <= 0 {
		return false, false
	}
	if now.Sub(i.stats.LastActivity) < i.Timeout {
		return false, false
	}
	if i.transport != nil {
		i.transport.Close()
		i.transport = nil
	}
	i.stats.cooldown = true
	i.stats.closedAt = now
	return true, true
}

// Registry owns every configured Interface, replacing doismellburning-samoyed's
// package-level all_interfaces array (spec.md §9: "consolidate under a
// runtime context passed explicitly to each subsystem").
type Registry struct {
	mu    sync.RWMutex
	byIdx []*Interface
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// Add appends an Interface, assigning it the next index.
func (r *Registry) Add(i *Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i.Index = len(r.byIdx)
	r.byIdx = append(r.byIdx, i)
}

// FindByIndex looks up an Interface by its registry index.
func (r *Registry) FindByIndex(idx int) (*Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx < 0 || idx >= len(r.byIdx) {
		return nil, false
	}
	return r.byIdx[idx], true
}

// FindByCallsign looks up the first Interface (or subinterface) whose
// callsign or alias matches call.
func (r *Registry) FindByCallsign(call string) (*Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, i := range r.byIdx {
		if i.MatchesCallsign(call) {
			return i, true
		}
	}
	return nil, false
}

// All returns every registered Interface in registration order.
func (r *Registry) All() []*Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Interface, len(r.byIdx))
	copy(out, r.byIdx)
	return out
}
