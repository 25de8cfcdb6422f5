// Package config implements the line-oriented "<block>...</block>"
// configuration grammar of spec.md §6. It is a from-scratch
// recursive-descent reader in the idiom of
// doismellburning-samoyed/src/config.go's split()/config_init() token
// scanner (keep the quoted-string-aware whitespace tokenizer, replace the
// cgo C.struct_* output targets with plain Go structs for the APRX block
// set: <aprsis>, <interface>, <digipeater>, <beacon>, <logging>).
//
// This package is the one piece of the ambient stack built on the
// standard library only: the grammar is novel to this spec (line-oriented
// nested blocks with per-block key sets), no example repo or its
// dependencies parses anything resembling it, and a general-purpose
// config/INI/YAML library would not express the nested <source>/<trace>/
// <wide>/<kiss-subif> block structure without inventing an equivalent
// ad-hoc schema on top -- so that layer may as well be this reader.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aprx-project/aprxd/internal/xerr"
)

// AprsIS is one <aprsis> block.
type AprsIS struct {
	Login             string
	Servers           []ServerAddr
	Filter            string
	HeartbeatTimeout  int // seconds, default 120
}

type ServerAddr struct {
	Host string
	Port int
}

// KissSubIf is a nested <kiss-subif N> block, sharing the parent
// interface's key set.
type KissSubIf struct {
	Index    int
	Callsign string
	TxOK     bool
	Aliases  []string
	Timeout  int
	IfGroup  int
}

// Interface is one <interface> block.
type Interface struct {
	Kind       string // serial-device / tcp-device / ax25-device / null-device
	Device     string
	Baud       int
	Params     []string // "8n1", "kiss"/"smack"/"bpqcrc"/"flexnet", host/port tail, etc.
	Callsign   string
	TxOK       bool
	Aliases    []string
	Timeout    int
	InitString string
	IfGroup    int
	PTTLine    string // "rts" / "dtr", empty for none
	SubIfs     []KissSubIf
}

// TraceWide is a <trace> or <wide> nested digipeater block.
type TraceWide struct {
	MaxReq  int
	MaxDone int
	Keys    []string
}

// Source is one <source> block nested in <digipeater>.
type Source struct {
	Callsign      string
	RelayType     string // digipeated / directonly / third-party
	ViscousDelay  int
	ViaPath       string
	RegexFilters  []RegexFilter
	Filter        string
}

type RegexFilter struct {
	Field   string // source/destination/via/data
	Pattern string
}

// Digipeater is one <digipeater> block.
type Digipeater struct {
	Transmitter string
	RateLimit   int
	Trace       TraceWide
	Wide        TraceWide
	Sources     []Source
	RegenFrom   string // optional regen-from source interface name (digi_regen)
}

// Beacon is one <beacon> block. Only the fields every beacon shares are
// modeled at this layer; free-form "key value" pairs a beacon also
// carries (symbol, comment, altitude, etc.) are kept verbatim in Extra
// for internal/beacon to interpret.
type Beacon struct {
	Source  string
	Dest    string
	Via     string
	Cycle   int // seconds
	Extra   map[string]string
}

// Logging is one <logging> block.
type Logging struct {
	Facility string
	Level    int
}

// Config is the full parsed tree.
type Config struct {
	AprsIS      []AprsIS
	Interfaces  []Interface
	Digipeaters []Digipeater
	Beacons     []Beacon
	Logging     Logging
}

// Parse reads a full config file per spec.md §6.
func Parse(r io.Reader) (*Config, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}
	p := &parser{lines: lines}
	cfg := &Config{}
	for !p.done() {
		line, lineNo := p.next()
		tok := firstToken(line)
		if tok == "" {
			continue
		}
		switch strings.ToLower(tok) {
		case "<aprsis>":
			block, err := p.block("</aprsis>")
			if err != nil {
				return nil, err
			}
			a, err := parseAprsIS(block)
			if err != nil {
				return nil, xerr.New(xerr.ConfigError, fmt.Sprintf("line %d: %v", lineNo, err))
			}
			cfg.AprsIS = append(cfg.AprsIS, a)
		case "<interface>":
			block, err := p.block("</interface>")
			if err != nil {
				return nil, err
			}
			iface, err := parseInterface(block)
			if err != nil {
				return nil, xerr.New(xerr.ConfigError, fmt.Sprintf("line %d: %v", lineNo, err))
			}
			cfg.Interfaces = append(cfg.Interfaces, iface)
		case "<digipeater>":
			block, err := p.block("</digipeater>")
			if err != nil {
				return nil, err
			}
			d, err := parseDigipeater(block)
			if err != nil {
				return nil, xerr.New(xerr.ConfigError, fmt.Sprintf("line %d: %v", lineNo, err))
			}
			cfg.Digipeaters = append(cfg.Digipeaters, d)
		case "<beacon>":
			block, err := p.block("</beacon>")
			if err != nil {
				return nil, err
			}
			cfg.Beacons = append(cfg.Beacons, parseBeacon(block))
		case "<logging>":
			block, err := p.block("</logging>")
			if err != nil {
				return nil, err
			}
			cfg.Logging = parseLogging(block)
		default:
			return nil, xerr.New(xerr.ConfigError, fmt.Sprintf("line %d: unrecognized top-level directive %q", lineNo, tok))
		}
	}
	return cfg, nil
}

// --- low-level line scanning, grounded on config.go's split() tokenizer ---

type rawLine struct {
	text string
	no   int
}

func readLines(r io.Reader) ([]rawLine, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	var out []rawLine
	n := 0
	for scanner.Scan() {
		n++
		line := strings.ReplaceAll(scanner.Text(), "\t", " ")
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			line = ""
		}
		out = append(out, rawLine{text: line, no: n})
	}
	if err := scanner.Err(); err != nil {
		return nil, xerr.New(xerr.ConfigError, "reading config: "+err.Error())
	}
	return out, nil
}

type parser struct {
	lines []rawLine
	pos   int
}

func (p *parser) done() bool { return p.pos >= len(p.lines) }

func (p *parser) next() (string, int) {
	l := p.lines[p.pos]
	p.pos++
	return l.text, l.no
}

// block consumes lines up to and including the closing tag, returning the
// body lines (not including open/close tags).
func (p *parser) block(closeTag string) ([]rawLine, error) {
	var body []rawLine
	for !p.done() {
		l := p.lines[p.pos]
		if strings.EqualFold(strings.TrimSpace(l.text), closeTag) {
			p.pos++
			return body, nil
		}
		body = append(body, l)
		p.pos++
	}
	return nil, xerr.New(xerr.ConfigError, "unterminated block, expected "+closeTag)
}

// tokenize splits one line into whitespace-separated fields, honoring
// double-quoted segments, per doismellburning-samoyed's split() semantics.
func tokenize(line string) []string {
	var toks []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return toks
}

func firstToken(line string) string {
	toks := tokenize(line)
	if len(toks) == 0 {
		return ""
	}
	return toks[0]
}

func restOfLine(line string) string {
	toks := tokenize(line)
	if len(toks) < 2 {
		return ""
	}
	return strings.Join(toks[1:], " ")
}

// --- block-specific parsers ---

func parseAprsIS(lines []rawLine) (AprsIS, error) {
	a := AprsIS{HeartbeatTimeout: 120}
	for _, l := range lines {
		toks := tokenize(l.text)
		if len(toks) == 0 {
			continue
		}
		switch strings.ToLower(toks[0]) {
		case "login":
			if len(toks) < 2 {
				return a, fmt.Errorf("line %d: login requires a callsign", l.no)
			}
			a.Login = toks[1]
		case "server":
			if len(toks) < 3 {
				return a, fmt.Errorf("line %d: server requires host and port", l.no)
			}
			port, err := strconv.Atoi(toks[2])
			if err != nil {
				return a, fmt.Errorf("line %d: bad port %q", l.no, toks[2])
			}
			a.Servers = append(a.Servers, ServerAddr{Host: toks[1], Port: port})
		case "filter":
			a.Filter = restOfLine(l.text)
		case "heartbeat-timeout":
			if len(toks) < 2 {
				return a, fmt.Errorf("line %d: heartbeat-timeout requires seconds", l.no)
			}
			n, err := strconv.Atoi(toks[1])
			if err != nil {
				return a, fmt.Errorf("line %d: bad heartbeat-timeout %q", l.no, toks[1])
			}
			a.HeartbeatTimeout = n
		}
	}
	return a, nil
}

func parseInterface(lines []rawLine) (Interface, error) {
	var iface Interface
	i := 0
	for i < len(lines) {
		l := lines[i]
		toks := tokenize(l.text)
		if len(toks) == 0 {
			i++
			continue
		}
		kw := strings.ToLower(toks[0])
		switch kw {
		case "serial-device", "tcp-device", "ax25-device", "null-device":
			iface.Kind = kw
			if len(toks) > 1 {
				iface.Device = toks[1]
			}
			if kw == "serial-device" && len(toks) >= 3 {
				baud, err := strconv.Atoi(toks[2])
				if err == nil {
					iface.Baud = baud
				}
			}
			if len(toks) > 3 {
				iface.Params = append([]string(nil), toks[3:]...)
			}
		case "callsign":
			if len(toks) > 1 {
				iface.Callsign = toks[1]
			}
		case "tx-ok":
			iface.TxOK = len(toks) > 1 && strings.EqualFold(toks[1], "true")
		case "alias":
			if len(toks) > 1 {
				iface.Aliases = strings.Split(toks[1], ",")
			}
		case "timeout":
			if len(toks) > 1 {
				n, err := strconv.Atoi(toks[1])
				if err == nil {
					iface.Timeout = n
				}
			}
		case "initstring":
			iface.InitString = restOfLine(l.text)
		case "ptt-line":
			if len(toks) > 1 {
				iface.PTTLine = strings.ToLower(toks[1])
			}
		case "igate-group":
			if len(toks) > 1 {
				n, err := strconv.Atoi(toks[1])
				if err == nil {
					iface.IfGroup = n
				}
			}
		case "<kiss-subif":
			idx := 0
			if len(toks) > 1 {
				n, err := strconv.Atoi(strings.TrimSuffix(toks[1], ">"))
				if err == nil {
					idx = n
				}
			}
			sub, consumed, err := parseKissSubIf(lines[i:], idx)
			if err != nil {
				return iface, err
			}
			iface.SubIfs = append(iface.SubIfs, sub)
			i += consumed
			continue
		}
		i++
	}
	return iface, nil
}

func parseKissSubIf(lines []rawLine, idx int) (KissSubIf, int, error) {
	sub := KissSubIf{Index: idx}
	for i, l := range lines {
		if i == 0 {
			continue // opening tag itself
		}
		toks := tokenize(l.text)
		if len(toks) == 0 {
			continue
		}
		if strings.EqualFold(toks[0], "</kiss-subif>") {
			return sub, i + 1, nil
		}
		switch strings.ToLower(toks[0]) {
		case "callsign":
			if len(toks) > 1 {
				sub.Callsign = toks[1]
			}
		case "tx-ok":
			sub.TxOK = len(toks) > 1 && strings.EqualFold(toks[1], "true")
		case "alias":
			if len(toks) > 1 {
				sub.Aliases = strings.Split(toks[1], ",")
			}
		case "timeout":
			if len(toks) > 1 {
				n, err := strconv.Atoi(toks[1])
				if err == nil {
					sub.Timeout = n
				}
			}
		case "igate-group":
			if len(toks) > 1 {
				n, err := strconv.Atoi(toks[1])
				if err == nil {
					sub.IfGroup = n
				}
			}
		}
	}
	return sub, len(lines), xerr.New(xerr.ConfigError, "unterminated <kiss-subif>")
}

func parseDigipeater(lines []rawLine) (Digipeater, error) {
	var d Digipeater
	i := 0
	for i < len(lines) {
		l := lines[i]
		toks := tokenize(l.text)
		if len(toks) == 0 {
			i++
			continue
		}
		switch strings.ToLower(toks[0]) {
		case "transmitter":
			if len(toks) > 1 {
				d.Transmitter = toks[1]
			}
		case "ratelimit":
			if len(toks) > 1 {
				n, err := strconv.Atoi(toks[1])
				if err == nil {
					d.RateLimit = n
				}
			}
		case "regen-from":
			if len(toks) > 1 {
				d.RegenFrom = toks[1]
			}
		case "<trace>":
			tw, consumed, err := parseTraceWide(lines[i:], "</trace>")
			if err != nil {
				return d, err
			}
			d.Trace = tw
			i += consumed
			continue
		case "<wide>":
			tw, consumed, err := parseTraceWide(lines[i:], "</wide>")
			if err != nil {
				return d, err
			}
			d.Wide = tw
			i += consumed
			continue
		case "<source>":
			src, consumed, err := parseSource(lines[i:])
			if err != nil {
				return d, err
			}
			d.Sources = append(d.Sources, src)
			i += consumed
			continue
		}
		i++
	}
	return d, nil
}

func parseTraceWide(lines []rawLine, closeTag string) (TraceWide, int, error) {
	var tw TraceWide
	for i, l := range lines {
		if i == 0 {
			continue
		}
		toks := tokenize(l.text)
		if len(toks) == 0 {
			continue
		}
		if strings.EqualFold(toks[0], closeTag) {
			return tw, i + 1, nil
		}
		switch strings.ToLower(toks[0]) {
		case "maxreq":
			if len(toks) > 1 {
				n, err := strconv.Atoi(toks[1])
				if err == nil {
					tw.MaxReq = n
				}
			}
		case "maxdone":
			if len(toks) > 1 {
				n, err := strconv.Atoi(toks[1])
				if err == nil {
					tw.MaxDone = n
				}
			}
		case "keys":
			if len(toks) > 1 {
				tw.Keys = strings.Split(toks[1], ",")
			}
		}
	}
	return tw, len(lines), xerr.New(xerr.ConfigError, "unterminated "+closeTag)
}

func parseSource(lines []rawLine) (Source, int, error) {
	var s Source
	for i, l := range lines {
		if i == 0 {
			continue
		}
		toks := tokenize(l.text)
		if len(toks) == 0 {
			continue
		}
		if strings.EqualFold(toks[0], "</source>") {
			return s, i + 1, nil
		}
		switch strings.ToLower(toks[0]) {
		case "source":
			if len(toks) > 1 {
				s.Callsign = toks[1]
			}
		case "relay-type":
			if len(toks) > 1 {
				s.RelayType = toks[1]
			}
		case "viscous-delay":
			if len(toks) > 1 {
				n, err := strconv.Atoi(toks[1])
				if err == nil {
					s.ViscousDelay = n
				}
			}
		case "via-path":
			s.ViaPath = restOfLine(l.text)
		case "regex-filter":
			if len(toks) >= 3 {
				s.RegexFilters = append(s.RegexFilters, RegexFilter{Field: toks[1], Pattern: strings.Join(toks[2:], " ")})
			}
		case "filter":
			s.Filter = restOfLine(l.text)
		}
	}
	return s, len(lines), xerr.New(xerr.ConfigError, "unterminated <source>")
}

func parseBeacon(lines []rawLine) Beacon {
	b := Beacon{Extra: map[string]string{}}
	for _, l := range lines {
		toks := tokenize(l.text)
		if len(toks) == 0 {
			continue
		}
		switch strings.ToLower(toks[0]) {
		case "source":
			if len(toks) > 1 {
				b.Source = toks[1]
			}
		case "dest":
			if len(toks) > 1 {
				b.Dest = toks[1]
			}
		case "via":
			b.Via = restOfLine(l.text)
		case "cycle":
			if len(toks) > 1 {
				n, err := strconv.Atoi(toks[1])
				if err == nil {
					b.Cycle = n
				}
			}
		default:
			if len(toks) > 1 {
				b.Extra[strings.ToLower(toks[0])] = strings.Join(toks[1:], " ")
			}
		}
	}
	return b
}

func parseLogging(lines []rawLine) Logging {
	var lg Logging
	for _, l := range lines {
		toks := tokenize(l.text)
		if len(toks) == 0 {
			continue
		}
		switch strings.ToLower(toks[0]) {
		case "facility":
			if len(toks) > 1 {
				lg.Facility = toks[1]
			}
		case "level":
			if len(toks) > 1 {
				n, err := strconv.Atoi(toks[1])
				if err == nil {
					lg.Level = n
				}
			}
		}
	}
	return lg
}
