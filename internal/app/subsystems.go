package app

import (
	"context"
	"strings"
	"time"

	"github.com/aprx-project/aprxd/internal/aprs"
	"github.com/aprx-project/aprxd/internal/aprsis"
	"github.com/aprx-project/aprxd/internal/ax25"
	"github.com/aprx-project/aprxd/internal/beacon"
	"github.com/aprx-project/aprxd/internal/digipeater"
	"github.com/aprx-project/aprxd/internal/filter"
	"github.com/aprx-project/aprxd/internal/history"
	"github.com/aprx-project/aprxd/internal/iface"
	"github.com/aprx-project/aprxd/internal/metrics"
	"github.com/aprx-project/aprxd/internal/pbuf"
	"github.com/aprx-project/aprxd/internal/xerr"
)

// registerSubsystems wires every built component into the engine loop as
// an engine.Subsystem, so a single Loop.Run drives ingest, digipeating,
// beaconing, and the APRS-IS cooperative Step form uniformly (spec.md
// §5's single-threaded event loop).
func (rt *Runtime) registerSubsystems() {
	for _, c := range rt.AprsIS {
		rt.Loop.Register(&aprsISSubsystem{client: c, rt: rt})
	}
	rt.Loop.Register(&ingestSubsystem{rt: rt})
	for _, b := range rt.Beacons {
		rt.Loop.Register(&beaconSubsystem{sched: b, rt: rt})
	}
}

// aprsISSubsystem adapts *aprsis.Client's cooperative Step form to
// engine.Subsystem: always due, since the client itself rate-limits its
// own reconnect/heartbeat/read/write work internally.
type aprsISSubsystem struct {
	client *aprsis.Client
	rt     *Runtime
}

func (s *aprsISSubsystem) Name() string { return "aprsis:" + s.client.LoginLine() }
func (s *aprsISSubsystem) NextDeadline(now time.Time) time.Time { return now }
func (s *aprsISSubsystem) Step(ctx context.Context, now time.Time) error {
	if err := s.client.Step(ctx); err != nil {
		return err
	}
	select {
	case line := <-s.client.Inbound:
		return s.rt.ingestTNC2([]byte(line), 0)
	default:
		return nil
	}
}

// ingestSubsystem decodes freshly-arrived KISS frames off every radio
// interface and runs each one through every configured digipeater,
// transmitting accepted/rewritten frames back out to every interface of
// the same ifgroup (spec.md §4.7, §6). A regen unit (regen-from) skips the
// interface the frame arrived on.
type ingestSubsystem struct {
	rt *Runtime
}

func (s *ingestSubsystem) Name() string { return "ingest" }
func (s *ingestSubsystem) NextDeadline(now time.Time) time.Time { return now }

func (s *ingestSubsystem) Step(ctx context.Context, now time.Time) error {
	for _, i := range s.rt.Interfaces.All() {
		if i.Kind == iface.KindAPRSIS || i.Kind == iface.KindNull {
			continue
		}
		raw, ok := i.DrainInbound()
		if !ok {
			continue
		}
		payloads, err := i.ReceiveAX25(raw)
		if err != nil {
			s.rt.Metrics.RxDrops.WithLabelValues(i.Callsign, metrics.ReasonInputMalformed).Inc()
			continue
		}
		for _, p := range payloads {
			s.rt.Metrics.RxPackets.WithLabelValues(i.Callsign).Inc()
			s.handleFrame(i, p, now)
		}
	}
	return nil
}

func (s *ingestSubsystem) handleFrame(from *iface.Interface, frame []byte, now time.Time) {
	if len(frame) < 2 {
		return
	}
	addr, info := splitAX25Frame(frame)
	tnc2, err := ax25.AddrFieldToTNC2(addr)
	if err != nil {
		s.rt.Metrics.RxDrops.WithLabelValues(from.Callsign, metrics.ReasonInputMalformed).Inc()
		return
	}
	line := tnc2 + ":" + string(info)

	for _, d := range s.rt.Digis {
		if d.regenFrom != "" && !strings.EqualFold(d.regenFrom, from.Callsign) {
			continue
		}
		b, err := pbuf.New(true, true, len(addr), len(line))
		if err != nil {
			continue
		}
		if err := b.Fill([]byte(line), addr, len(addr)); err != nil {
			continue
		}
		b.Aprs = aprs.Parse(b.Info(), b.DstCall())

		rule := d.ruleFor(b.SrcCall())
		if rule.relayType == "directonly" && len(b.Vias()) > 0 {
			s.rt.Metrics.RxDrops.WithLabelValues(from.Callsign, metrics.ReasonFilterReject).Inc()
			continue
		}
		if rule.filter != nil && filter.Evaluate(rule.filter, b, d.hist, now) != filter.Accept {
			s.rt.Metrics.RxDrops.WithLabelValues(from.Callsign, metrics.ReasonFilterReject).Inc()
			continue
		}

		d.hist.Insert(b, from.IfGroup)

		outcome := digipeater.Process(b, d.cfg, d.dedup, rule.viscousDelay)
		if !outcome.Accept {
			switch {
			case outcome.ViscousQueued:
				s.rt.Metrics.RxDrops.WithLabelValues(from.Callsign, metrics.ReasonViscousQueued).Inc()
			case outcome.Budget != (digipeater.HopBudget{}):
				s.rt.Metrics.RxDrops.WithLabelValues(from.Callsign, metrics.ReasonHopBudgetExceeded).Inc()
			default:
				s.rt.Metrics.RxDrops.WithLabelValues(from.Callsign, metrics.ReasonDupeReject).Inc()
			}
			continue
		}
		s.transmit(from, d, outcome, info)
	}
}

func (s *ingestSubsystem) transmit(from *iface.Interface, d *digipeaterUnit, outcome digipeater.Outcome, info []byte) {
	out := append(append(append([]byte{}, outcome.NewAddr...), 0x03, 0xF0), info...)
	for _, i := range s.rt.Interfaces.All() {
		if (d.regenFrom != "" && i == from) || i.Kind == iface.KindAPRSIS || i.Kind == iface.KindNull {
			continue
		}
		if i.IfGroup != from.IfGroup {
			continue
		}
		if err := i.TransmitAX25(0, out); err != nil {
			s.rt.Metrics.TxDrops.WithLabelValues(i.Callsign, metrics.ReasonTxCapacityExhausted).Inc()
			continue
		}
		s.rt.Metrics.TxPackets.WithLabelValues(i.Callsign).Inc()
		s.rt.Metrics.Digipeated.WithLabelValues(d.name).Inc()
	}
}

// splitAX25Frame separates the KISS-decoded AX.25 address field (up to 70
// bytes: 2 base addresses plus up to 8 vias, 7 bytes each) from the
// control/PID/info remainder.
func splitAX25Frame(frame []byte) (addr, rest []byte) {
	n := 14 // dst+src minimum
	for n < len(frame) && n < 70 {
		if frame[n-1]&0x01 != 0 { // address-extension bit set: this was the last address byte
			break
		}
		n += 7
	}
	if n+2 > len(frame) {
		return frame, nil
	}
	return frame[:n], frame[n+2:] // skip control + PID bytes
}

// ingestTNC2 implements the Tx-iGate direction (APRS-IS to RF): it parses
// the address prefix, applies spec.md §4.8's "strict receiver-
// reachability rules" for addressed messages (only relayed if the
// addressee has actually been heard on this ifgroup), then transmits the
// frame out every RF interface sharing ifgroup. The frame is not recorded
// in any history DB.
func (rt *Runtime) ingestTNC2(tnc2Line []byte, ifgroup int) error {
	prefixEnd := indexByte(tnc2Line, ':')
	if prefixEnd <= 0 {
		return xerr.New(xerr.InputMalformed, "tnc2 line has no info separator")
	}
	info := tnc2Line[prefixEnd+1:]
	if addressee, ok := messageAddressee(info); ok && !rt.heardOnIfgroup(addressee, ifgroup) {
		rt.Metrics.RxDrops.WithLabelValues("aprsis", metrics.ReasonFilterReject).Inc()
		return nil
	}

	addr, err := ax25.TNC2ToAddrField(string(tnc2Line[:prefixEnd]))
	if err != nil {
		return err
	}
	out := append(append(append([]byte{}, addr...), 0x03, 0xF0), info...)
	for _, i := range rt.Interfaces.All() {
		if i.Kind == iface.KindAPRSIS || i.Kind == iface.KindNull || i.IfGroup != ifgroup {
			continue
		}
		if err := i.TransmitAX25(0, out); err != nil {
			rt.Metrics.TxDrops.WithLabelValues(i.Callsign, metrics.ReasonTxCapacityExhausted).Inc()
			continue
		}
		rt.Metrics.TxPackets.WithLabelValues(i.Callsign).Inc()
	}
	return nil
}

// messageAddressee extracts the ":ADDRESSEE:" field of an APRS message
// packet's info text, if present.
func messageAddressee(info []byte) (string, bool) {
	if len(info) < 11 || info[0] != ':' {
		return "", false
	}
	end := indexByte(info[1:], ':')
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(string(info[1 : 1+end])), true
}

// heardOnIfgroup reports whether any configured digipeater's history DB
// has recorded the given station as heard on ifgroup.
func (rt *Runtime) heardOnIfgroup(call string, ifgroup int) bool {
	idx := ifgroup
	if idx < 0 || idx >= history.MaxIfGroups {
		idx = history.MaxIfGroups - 1
	}
	for _, d := range rt.Digis {
		if c, ok := d.hist.Lookup(call); ok && !c.LastHeardAt[idx].IsZero() {
			return true
		}
	}
	return false
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// beaconSubsystem fires due beacon messages on each tick, transmitting RF
// via the first interface whose callsign matches the beacon's source
// callsign and NET via every configured APRS-IS client (spec.md §4.9).
type beaconSubsystem struct {
	sched *beacon.Scheduler
	rt    *Runtime
}

func (s *beaconSubsystem) Name() string { return "beacon:" + s.sched.Src }
func (s *beaconSubsystem) NextDeadline(now time.Time) time.Time { return now.Add(1 * time.Second) }

func (s *beaconSubsystem) Step(ctx context.Context, now time.Time) error {
	due := s.sched.Due(now)
	for _, m := range due {
		frame := beacon.Frame(m, now)
		if m.Mode == beacon.RFOnly || m.Mode == beacon.Both {
			if i, ok := s.rt.Interfaces.FindByCallsign(s.sched.Src); ok {
				prefix := s.sched.Src + ">" + s.sched.Dst
				if s.sched.Via != "" {
					prefix += "," + s.sched.Via
				}
				if addr, err := ax25.TNC2ToAddrField(prefix); err == nil {
					i.TransmitBeacon(0, append(addr, frame...))
				}
			}
		}
		if m.Mode == beacon.NetOnly || m.Mode == beacon.Both {
			tnc2 := buildBeaconTNC2(s.sched, m)
			for _, c := range s.rt.AprsIS {
				c.Enqueue(tnc2)
			}
		}
		s.rt.Metrics.TxPackets.WithLabelValues(s.sched.Src).Inc()
	}
	return nil
}

func buildBeaconTNC2(s *beacon.Scheduler, m *beacon.Message) string {
	via := s.Via
	if via == "" {
		via = "TCPIP*"
	}
	return s.Src + ">" + s.Dst + "," + via + ":" + string(m.Payload)
}
