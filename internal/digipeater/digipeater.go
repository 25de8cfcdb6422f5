// Package digipeater implements the per-packet digipeating pipeline of
// spec.md §4.7: source-level dedup, hop-count analysis over the via list,
// the probably-heard-directly heuristic, hop-budget enforcement, and the
// AX.25 address rewrite, followed by emission.
//
// Grounded on original_source/digipeater.c (the count_single_tnc2_tracewide
// / digipeater_receive_backend state machine, lines ~1-520 and ~907-1150)
// and doismellburning-samoyed/src/digipeater.go's cgo transliteration of
// it, for the overall shape of "analyze via list, then rewrite one
// address in place" -- re-expressed without the latter's C.struct_pbuf_t
// pointers: the rewrite works on a local []byte copy of the address
// block (spec.md §9 Design Notes).
package digipeater

import (
	"strings"
	"time"

	"github.com/aprx-project/aprxd/internal/ax25"
	"github.com/aprx-project/aprxd/internal/dedupe"
	"github.com/aprx-project/aprxd/internal/pbuf"
	"github.com/aprx-project/aprxd/internal/xerr"
	"github.com/rs/xid"
)

// Caps bounds the per-type hop budgets a digipeater enforces (spec.md
// §4.7 step 4: "per-type caps").
type Caps struct {
	MaxHopsReq   int
	MaxTraceReq  int
	MaxHopsDone  int
	MaxTraceDone int
}

// DefaultCaps mirrors aprx's stock aprx.conf hop limits.
var DefaultCaps = Caps{MaxHopsReq: 7, MaxTraceReq: 7, MaxHopsDone: 7, MaxTraceDone: 7}

// Config is one digipeater's routing configuration: its transmitter
// identity, the WIDE/TRACE key sets it and its source recognize, and the
// optional unconditional regen path.
type Config struct {
	TransmitterCall string
	TransmitterSSID int
	Aliases         []string // additional callsigns this digipeater answers to, e.g. "RELAY"

	SourceTraceKeys []string
	DigiTraceKeys   []string
	SourceWideKeys  []string
	DigiWideKeys    []string

	Caps Caps

	// Regen, when true, makes Process take the regen path (regenRewrite):
	// every accepted, non-duplicate packet is retransmitted unconditionally,
	// with every via H-bit set, bypassing hop-count analysis entirely
	// (SUPPLEMENTED FEATURES: original_source/digipeater.c's digi_regen
	// cross-band-repeater path).
	Regen bool
}

// HopBudget accumulates the counters spec.md §4.7 step 2 describes.
type HopBudget struct {
	HopsReq, HopsDone   int
	TraceReq, TraceDone int
	DigiReq, DigiDone   int
}

// Outcome is the per-packet verdict returned by Process.
type Outcome struct {
	Accept        bool
	FixAll        bool
	Reason        string
	Budget        HopBudget
	RewrittenTNC2 string // human-readable rewritten via path, for logs/tests
	NewAddr       []byte // rewritten AX.25 address block (local copy)
	TraceID       xid.ID // correlates this packet's accept/reject log lines across subsystems

	// ViscousQueued is set instead of a normal reject when this packet
	// was merely parked in the viscous-delay queue (spec.md §4.7 step 1)
	// rather than dropped as a duplicate -- callers that meter rejects by
	// reason should not count this the same as a dupe reject.
	ViscousQueued bool
}

func reject(reason string) Outcome { return Outcome{Accept: false, Reason: reason, TraceID: xid.New()} }

// hopField is one parsed via entry plus its WIDEn-N/TRACEn-N decomposition.
type hopField struct {
	via       ax25.ViaField
	key       string // "WIDE"/"TRACE"/etc; empty if not a hop-count field
	n, m      int
	isHop     bool // callsign ends in a 1-7 digit, so n/m/key are meaningful
	malformed bool
}

// parseHopField splits a via callsign like "WIDE2-1" into key="WIDE",
// n=2, m=1 (the SSID carries the "M" remaining-hop count; the trailing
// digit of the callsign itself carries "N"). AX.25's SSID field always
// carries a value 0..15, so "WIDE1" and "WIDE1-0" are indistinguishable
// once decoded off the wire -- both mean N=1, M=0.
func parseHopField(v ax25.ViaField) hopField {
	hf := hopField{via: v}
	call := v.Call
	if len(call) < 2 {
		return hf
	}
	last := call[len(call)-1]
	if last < '1' || last > '7' {
		return hf
	}
	hf.key = call[:len(call)-1]
	hf.n = int(last - '0')
	hf.m = v.SSID
	hf.isHop = true
	if hf.m < 0 || hf.m > 7 || hf.m > hf.n {
		hf.malformed = true
	}
	return hf
}

func keyIn(key string, set []string) bool {
	for _, s := range set {
		if strings.EqualFold(s, key) {
			return true
		}
	}
	return false
}

// analyze walks the via list computing the HopBudget, whether any via was
// malformed (forcing fixall), and the probably-heard-directly heuristic
// (spec.md §4.7 steps 2-3).
func analyze(vias []ax25.ViaField, cfg *Config) (budget HopBudget, fixAll bool, probablyDirect bool) {
	if len(vias) == 0 {
		return budget, false, true
	}
	first := parseHopField(vias[0])
	probablyDirect = !vias[0].Used || strings.EqualFold(first.key, "TRACE") || (first.isHop && first.m == first.n)

	for _, v := range vias {
		hf := parseHopField(v)
		if !hf.isHop {
			if v.Used {
				budget.DigiReq++
				budget.DigiDone++
			}
			continue
		}
		isTrace := keyIn(hf.key, cfg.SourceTraceKeys) || keyIn(hf.key, cfg.DigiTraceKeys)
		isWide := keyIn(hf.key, cfg.SourceWideKeys) || keyIn(hf.key, cfg.DigiWideKeys)
		switch {
		case isTrace:
			if hf.malformed {
				fixAll = true
				continue
			}
			budget.TraceReq += hf.n
			budget.TraceDone += hf.n - hf.m
			budget.HopsReq += hf.n
			budget.HopsDone += hf.n - hf.m
		case isWide:
			if hf.malformed {
				fixAll = true
				continue
			}
			budget.HopsReq += hf.n
			budget.HopsDone += hf.n - hf.m
		default:
			if v.Used {
				budget.DigiReq++
				budget.DigiDone++
			}
		}
	}
	return budget, fixAll, probablyDirect
}

// Process runs the full spec.md §4.7 pipeline for one received, already
// filter-approved packet. dedup is the digipeater's dedup cache;
// viscousDelay is the source's configured viscous delay. Every Outcome
// carries a fresh TraceID identifying that accept/reject decision; the
// callers in internal/app do not log it.
func Process(pb *pbuf.Buf, cfg *Config, dedup *dedupe.Cache, viscousDelay time.Duration) Outcome {
	out := process(pb, cfg, dedup, viscousDelay)
	if out.TraceID == (xid.ID{}) {
		out.TraceID = xid.New()
	}
	return out
}

func process(pb *pbuf.Buf, cfg *Config, dedup *dedupe.Cache, viscousDelay time.Duration) Outcome {
	dstCall, dstSSID, srcCall, srcSSID, vias, err := ax25.DecodeAddrField(pb.AX25[:pb.AX25AddrLen])
	if err != nil {
		return reject("malformed address field: " + err.Error())
	}

	rec := dedup.CheckPBuf(pb, pb.AX25[:pb.AX25AddrLen], viscousDelay)
	if viscousDelay > 0 {
		if rec.SeenDirect > 0 {
			// A direct copy already went out; the delayed arrival is
			// redundant (spec.md §4.7 step 1).
			return reject("duplicate (already sent directly)")
		}
		if rec.SeenDelayed > 1 {
			return reject("duplicate (already queued via viscous delay)")
		}
		return Outcome{Accept: false, Reason: "queued pending viscous delay", ViscousQueued: true}
	}
	if rec.Held != nil {
		// A same-content delayed copy is now superseded by this direct
		// arrival; cancel its pending transmission.
		rec.ReleaseHeld()
	}
	if rec.SeenDirect > 1 {
		return reject("duplicate (seen directly before)")
	}

	if cfg.Regen {
		return regenRewrite(pb, cfg, dstCall, dstSSID, srcCall, srcSSID, vias)
	}

	budget, fixAll, probablyDirect := analyze(vias, cfg)

	// A bare transmitter/alias match on the first unconsumed via (spec.md
	// §4.7 step 5's direct-alias substitution, scenario S3) carries no
	// WIDE/TRACE key of its own, so it contributes nothing to budget --
	// the exceeded gate below would otherwise read "0 <= 0" as an
	// exhausted hop budget and force fixAll before rewrite's
	// matchesTransmitter branch ever runs. Substitution isn't hop-budget
	// accounted, so it bypasses the gate entirely.
	aliasMatch := false
	if v, ok := firstUnconsumed(vias); ok && matchesTransmitter(cfg, v.Call) {
		aliasMatch = true
	}

	exceeded := budget.HopsReq <= budget.HopsDone ||
		budget.HopsReq > cfg.Caps.MaxHopsReq || budget.TraceReq > cfg.Caps.MaxTraceReq ||
		budget.HopsDone > cfg.Caps.MaxHopsDone || budget.TraceDone > cfg.Caps.MaxTraceDone

	if exceeded && !aliasMatch {
		if probablyDirect {
			fixAll = true
		} else {
			return Outcome{Accept: false, Reason: "hop budget exhausted", Budget: budget}
		}
	}

	newVias, rewriteErr := rewrite(cfg, vias, fixAll)
	if rewriteErr != nil {
		return Outcome{Accept: false, Reason: rewriteErr.Error(), Budget: budget, FixAll: fixAll}
	}

	newAddr, err := ax25.EncodeAddrField(dstCall, dstSSID, srcCall, srcSSID, newVias)
	if err != nil {
		return Outcome{Accept: false, Reason: err.Error(), Budget: budget, FixAll: fixAll}
	}

	return Outcome{
		Accept:        true,
		FixAll:        fixAll,
		Budget:        budget,
		NewAddr:       newAddr,
		RewrittenTNC2: ax25.ViasString(newVias),
	}
}

// regenRewrite implements the supplemented digi_regen path: unconditional
// retransmission with every via H-bit set, no hop-count analysis.
func regenRewrite(pb *pbuf.Buf, cfg *Config, dstCall string, dstSSID int, srcCall string, srcSSID int, vias []ax25.ViaField) Outcome {
	out := make([]ax25.ViaField, len(vias))
	for i, v := range vias {
		v.Used = true
		out[i] = v
	}
	newAddr, err := ax25.EncodeAddrField(dstCall, dstSSID, srcCall, srcSSID, out)
	if err != nil {
		return Outcome{Accept: false, Reason: err.Error()}
	}
	return Outcome{Accept: true, NewAddr: newAddr, RewrittenTNC2: ax25.ViasString(out)}
}

// rewrite implements spec.md §4.7 step 5. On fixAll, every remaining
// (non-H-bit) via is marked used and no further substitution happens --
// "terminally digipeated" per spec. Otherwise it finds the first
// non-H-bit via and applies exactly one of the three substitution rules.
func rewrite(cfg *Config, vias []ax25.ViaField, fixAll bool) ([]ax25.ViaField, error) {
	out := make([]ax25.ViaField, len(vias))
	copy(out, vias)

	if fixAll {
		for i := range out {
			out[i].Used = true
		}
		return out, nil
	}

	idx := -1
	for i, v := range out {
		if !v.Used {
			idx = i
			break
		}
	}
	if idx < 0 {
		return out, xerr.New(xerr.InputMalformed, "no unconsumed via field to digipeat")
	}

	hf := parseHopField(out[idx])
	isTrace := keyIn(hf.key, cfg.SourceTraceKeys) || keyIn(hf.key, cfg.DigiTraceKeys)
	isWide := keyIn(hf.key, cfg.SourceWideKeys) || keyIn(hf.key, cfg.DigiWideKeys)

	switch {
	case matchesTransmitter(cfg, out[idx].Call):
		out[idx].Call = cfg.TransmitterCall
		out[idx].SSID = cfg.TransmitterSSID
		out[idx].Used = true
		return out, nil

	case isTrace, isWide:
		// New-N-paradigm digipeating (spec.md §8 scenario S1/S2): the
		// transmitter's own callsign is inserted ahead of the
		// decremented WIDEn-N/TRACEn-N field, H-bit set, so every
		// digipeat hop along the path is individually traceable.
		if len(out)+1 > ax25.MaxAddrs-2 {
			return nil, xerr.New(xerr.ResourceExhausted, "address field would exceed 70 bytes")
		}
		inserted := ax25.ViaField{Call: cfg.TransmitterCall, SSID: cfg.TransmitterSSID, Used: true}
		rest := out[idx]
		rest.SSID--
		if rest.SSID <= 0 {
			rest.SSID = 0
			rest.Used = true
		}
		next := make([]ax25.ViaField, 0, len(out)+1)
		next = append(next, out[:idx]...)
		next = append(next, inserted, rest)
		next = append(next, out[idx+1:]...)
		return next, nil

	default:
		// Explicit-callsign via with no WIDE/TRACE match: digipeat as a
		// plain alias hit if it names this transmitter or an alias
		// (already handled above); otherwise leave untouched and accept
		// without modifying this field, matching "non-matching via
		// fields contribute digi_req/digi_done only".
		return out, nil
	}
}

// firstUnconsumed returns the first via field whose H-bit is clear, and
// whether one exists.
func firstUnconsumed(vias []ax25.ViaField) (ax25.ViaField, bool) {
	for _, v := range vias {
		if !v.Used {
			return v, true
		}
	}
	return ax25.ViaField{}, false
}

func matchesTransmitter(cfg *Config, call string) bool {
	if strings.EqualFold(call, cfg.TransmitterCall) {
		return true
	}
	for _, a := range cfg.Aliases {
		if strings.EqualFold(call, a) {
			return true
		}
	}
	return false
}
