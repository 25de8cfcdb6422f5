// Package beacon implements the periodic beacon scheduler of spec.md
// §4.9: per-message pseudo-random phase within cycle_size, time-field
// patching for positional payloads, and RF/NET/BOTH transmit modes.
//
// Grounded on doismellburning-samoyed's overall "per-message next_fire tick" shape
// (doismellburning-samoyed/src/config.go's beacon_options, which builds
// one `*C.struct_beacon_s` per configured line) and on
// github.com/lestrrat-go/strftime -- a doismellburning-samoyed dependency
// otherwise only exercised by its own strftime-format config options -- for rendering
// the `HHMMSSh` timestamp APRS positional beacons carry.
package beacon

import (
	"math/rand"
	"regexp"
	"time"

	"github.com/lestrrat-go/strftime"
)

// Mode selects where a beacon is transmitted (spec.md §4.9).
type Mode int

const (
	RFOnly Mode = iota
	NetOnly
	Both
)

// DefaultCycle is cycle_size absent a configured value.
const DefaultCycle = 1200 * time.Second

// timeFieldPattern matches the 7-char HHMMSSh timestamp prefix of an
// uncompressed/compressed position payload ('/' or '@' DTI), h ∈ {z,/,h}.
var timeFieldPattern = regexp.MustCompile(`^[0-9]{6}[zh/]`)

// Message is one beacon line within a <beacon> block.
type Message struct {
	Payload  []byte // raw info field, e.g. "!6000.00N/02500.00E>comment"
	Mode     Mode
	nextFire time.Time
	phased   bool
}

// Scheduler drives N messages sharing one cycle_size.
type Scheduler struct {
	Src, Dst string
	Via      string
	Cycle    time.Duration
	Messages []*Message
	rng      *rand.Rand
}

// New builds a Scheduler; rngSeed lets tests get deterministic phases.
func New(src, dst, via string, cycle time.Duration, rngSeed int64) *Scheduler {
	if cycle <= 0 {
		cycle = DefaultCycle
	}
	return &Scheduler{Src: src, Dst: dst, Via: via, Cycle: cycle, rng: rand.New(rand.NewSource(rngSeed))}
}

// Add registers one message.
func (s *Scheduler) Add(payload []byte, mode Mode) *Message {
	m := &Message{Payload: payload, Mode: mode}
	s.Messages = append(s.Messages, m)
	return m
}

// phase picks a uniform-random offset within [0.8*cycle, cycle], per
// spec.md §4.9's "avoid synchronization with other beaconers".
func (s *Scheduler) phase() time.Duration {
	lo := float64(s.Cycle) * 0.8
	hi := float64(s.Cycle)
	return time.Duration(lo + s.rng.Float64()*(hi-lo))
}

// Due returns the messages whose next_fire has arrived as of now,
// advancing each one's schedule by one full cycle. Call once per engine
// tick (spec.md §5).
func (s *Scheduler) Due(now time.Time) []*Message {
	var fire []*Message
	for _, m := range s.Messages {
		if !m.phased {
			m.nextFire = now.Add(s.phase())
			m.phased = true
			continue
		}
		if !now.Before(m.nextFire) {
			fire = append(fire, m)
			m.nextFire = m.nextFire.Add(s.Cycle)
		}
	}
	return fire
}

// Frame composes the AX.25 UI-frame control+PID+payload bytes (spec.md
// §4.9: "{0x03, 0xF0, payload}"), patching a leading time field to the
// current UTC HHMMSSh if present.
func Frame(m *Message, now time.Time) []byte {
	payload := patchTimeField(m.Payload, now)
	out := make([]byte, 0, len(payload)+2)
	out = append(out, 0x03, 0xF0)
	out = append(out, payload...)
	return out
}

// patchTimeField rewrites the 6-digit-plus-indicator timestamp prefix
// following a timestamped position DTI ('/' or '@'), if one is present, to the
// current UTC time in the same format.
func patchTimeField(payload []byte, now time.Time) []byte {
	if len(payload) < 8 {
		return payload
	}
	dti := payload[0]
	if dti != '/' && dti != '@' {
		return payload
	}
	rest := payload[1:]
	if !timeFieldPattern.Match(rest) {
		return payload
	}
	indicator := rest[6]
	stamped, err := renderTimeField(indicator, now)
	if err != nil {
		return payload
	}
	out := make([]byte, 0, len(payload))
	out = append(out, dti)
	out = append(out, stamped...)
	out = append(out, rest[7:]...)
	return out
}

// renderTimeField renders HHMMSS followed by the original indicator
// character (z=zulu/UTC, h=hours, /=local -- this implementation only
// ever emits UTC data, so only 'z' and 'h' round-trip meaningfully).
func renderTimeField(indicator byte, now time.Time) ([]byte, error) {
	f, err := strftime.New("%H%M%S")
	if err != nil {
		return nil, err
	}
	var buf []byte
	w := &byteWriter{buf: &buf}
	if err := f.Format(w, now.UTC()); err != nil {
		return nil, err
	}
	return append(buf, indicator), nil
}

type byteWriter struct{ buf *[]byte }

func (w *byteWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
