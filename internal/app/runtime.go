// Package app wires the independently-testable internal packages into a
// running daemon: it is the "runtime context" spec.md §9 calls for in
// place of doismellburning-samoyed's global registries (all_interfaces, digipeaters),
// built once at startup and passed explicitly to the engine loop.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aprx-project/aprxd/internal/applog"
	"github.com/aprx-project/aprxd/internal/aprsis"
	"github.com/aprx-project/aprxd/internal/beacon"
	"github.com/aprx-project/aprxd/internal/config"
	"github.com/aprx-project/aprxd/internal/dedupe"
	"github.com/aprx-project/aprxd/internal/digipeater"
	"github.com/aprx-project/aprxd/internal/engine"
	"github.com/aprx-project/aprxd/internal/filter"
	"github.com/aprx-project/aprxd/internal/history"
	"github.com/aprx-project/aprxd/internal/iface"
	"github.com/aprx-project/aprxd/internal/metrics"
	"github.com/aprx-project/aprxd/internal/ptt"
	"github.com/aprx-project/aprxd/internal/symbols"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SoftwareName/SoftwareVersion identify this daemon in APRS-IS login
// lines and beacon/version output.
const (
	SoftwareName    = "aprxd"
	SoftwareVersion = "1.0.0"
)

// Runtime holds every subsystem built from one parsed Config.
type Runtime struct {
	Cfg        *config.Config
	Metrics    *metrics.Registry
	Symbols    *symbols.Table
	Interfaces *iface.Registry
	AprsIS     []*aprsis.Client
	Digis      []*digipeaterUnit
	Beacons    []*beacon.Scheduler
	Loop       *engine.Loop

	log applogger
}

type applogger = interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// digipeaterUnit bundles one <digipeater> block's config with its owned
// dedup cache and history DB (spec.md §5: "owned by their digipeater").
type digipeaterUnit struct {
	name      string
	cfg       *digipeater.Config
	dedup     *dedupe.Cache
	hist      *history.DB
	sources   []sourceRule
	regenFrom string // non-empty: this unit only regenerates frames heard on this interface callsign
}

// sourceRule is one <source> block's relay policy: the callsign it
// applies to (empty matches any source), its viscous-delay queueing
// setting, and its parsed content filter chain (spec.md §4.6/§6).
type sourceRule struct {
	callsign     string
	relayType    string
	viscousDelay time.Duration
	filter       filter.Chain
}

func (u *digipeaterUnit) ruleFor(srcCall string) sourceRule {
	for _, r := range u.sources {
		if r.callsign == "" || strings.EqualFold(r.callsign, srcCall) {
			return r
		}
	}
	return sourceRule{}
}

// Build parses cfg and constructs every subsystem, but does not start the
// engine loop -- call Run for that. Returns an error only for conditions
// spec.md §7 classifies as "Fatal config error".
func Build(cfg *config.Config) (*Runtime, error) {
	applog.SetLevel(cfg.Logging.Level)
	log := applog.For("app")

	symTable, err := symbols.Load()
	if err != nil {
		return nil, fmt.Errorf("loading symbol table: %w", err)
	}

	rt := &Runtime{
		Cfg:        cfg,
		Metrics:    metrics.New(),
		Symbols:    symTable,
		Interfaces: iface.NewRegistry(),
		Loop:       engine.New(),
		log:        log,
	}

	for _, icfg := range cfg.Interfaces {
		built, err := buildInterface(icfg)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", icfg.Callsign, err)
		}
		built.StartReader()
		rt.Interfaces.Add(built)
	}

	for _, acfg := range cfg.AprsIS {
		rt.AprsIS = append(rt.AprsIS, buildAprsIS(acfg))
	}

	for _, dcfg := range cfg.Digipeaters {
		rt.Digis = append(rt.Digis, buildDigipeater(dcfg))
	}

	for _, bcfg := range cfg.Beacons {
		rt.Beacons = append(rt.Beacons, buildBeacon(bcfg))
	}

	rt.registerSubsystems()
	return rt, nil
}

func buildInterface(icfg config.Interface) (*iface.Interface, error) {
	kind, err := parseKind(icfg.Kind)
	if err != nil {
		return nil, err
	}

	var transport iface.Transport
	var serialFile *os.File
	switch kind {
	case iface.KindSerialKISS:
		f, err := os.OpenFile(icfg.Device, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		transport = f
		serialFile = f
	case iface.KindTCPKISS, iface.KindAGWPE:
		host, port := splitHostPort(icfg.Params)
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 10*time.Second)
		if err != nil {
			return nil, err
		}
		transport = conn
	case iface.KindKernelAX25, iface.KindNull, iface.KindAPRSIS:
		transport = nil
	}

	i := iface.New(0, kind, icfg.Callsign, 0, transport)
	if serialFile != nil && icfg.PTTLine != "" {
		line := ptt.ParseLine(icfg.PTTLine)
		if line != ptt.LineNone {
			i.SetPTT(ptt.New(int(serialFile.Fd()), line))
		}
	}
	i.TxOK = icfg.TxOK
	i.Aliases = icfg.Aliases
	i.Timeout = time.Duration(icfg.Timeout) * time.Second
	i.IfGroup = icfg.IfGroup
	i.Framing = parseFraming(icfg.Params)
	for _, s := range icfg.SubIfs {
		i.SubIfs = append(i.SubIfs, iface.SubIf{
			Index: s.Index, Callsign: s.Callsign, TxOK: s.TxOK,
			Aliases: s.Aliases, Timeout: time.Duration(s.Timeout) * time.Second, IfGroup: s.IfGroup,
		})
	}
	return i, nil
}

func parseKind(k string) (iface.Kind, error) {
	switch strings.ToLower(k) {
	case "serial-device":
		return iface.KindSerialKISS, nil
	case "tcp-device":
		return iface.KindTCPKISS, nil
	case "ax25-device":
		return iface.KindKernelAX25, nil
	case "null-device":
		return iface.KindNull, nil
	case "agwpe-device":
		return iface.KindAGWPE, nil
	default:
		return 0, fmt.Errorf("unrecognized interface kind %q", k)
	}
}

func parseFraming(params []string) iface.Framing {
	for _, p := range params {
		switch strings.ToLower(p) {
		case "smack":
			return iface.FramingSMACK
		case "bpqcrc":
			return iface.FramingBPQCRC
		case "flexnet":
			return iface.FramingFlexnet
		}
	}
	return iface.FramingKISS
}

func splitHostPort(params []string) (string, int) {
	if len(params) < 2 {
		return "localhost", 8001
	}
	port := 0
	fmt.Sscanf(params[1], "%d", &port)
	return params[0], port
}

func buildAprsIS(acfg config.AprsIS) *aprsis.Client {
	var servers []string
	for _, s := range acfg.Servers {
		servers = append(servers, fmt.Sprintf("%s:%d", s.Host, s.Port))
	}
	login := strings.SplitN(acfg.Login, "-", 2)[0]
	heartbeat := aprsis.DefaultHeartbeatTimeout
	if acfg.HeartbeatTimeout > 0 {
		heartbeat = time.Duration(acfg.HeartbeatTimeout) * time.Second
	}
	return aprsis.New(aprsis.Config{
		Login:            acfg.Login,
		Passcode:         aprsis.Passcode(login),
		SoftwareName:     SoftwareName,
		SoftwareVersion:  SoftwareVersion,
		Filter:           acfg.Filter,
		Servers:          servers,
		HeartbeatTimeout: heartbeat,
		GatewayTag:       acfg.Login,
	})
}

func buildDigipeater(dcfg config.Digipeater) *digipeaterUnit {
	cfg := &digipeater.Config{
		TransmitterCall: baseCall(dcfg.Transmitter),
		TransmitterSSID: sSSID(dcfg.Transmitter),
		DigiTraceKeys:   dcfg.Trace.Keys,
		DigiWideKeys:    dcfg.Wide.Keys,
		Regen:           dcfg.RegenFrom != "",
		Caps: digipeater.Caps{
			MaxTraceReq:  orDefault(dcfg.Trace.MaxReq, digipeater.DefaultCaps.MaxTraceReq),
			MaxTraceDone: orDefault(dcfg.Trace.MaxDone, digipeater.DefaultCaps.MaxTraceDone),
			MaxHopsReq:   orDefault(dcfg.Wide.MaxReq, digipeater.DefaultCaps.MaxHopsReq),
			MaxHopsDone:  orDefault(dcfg.Wide.MaxDone, digipeater.DefaultCaps.MaxHopsDone),
		},
	}
	u := &digipeaterUnit{
		name:      dcfg.Transmitter,
		cfg:       cfg,
		dedup:     dedupe.New(),
		hist:      history.New(),
		regenFrom: dcfg.RegenFrom,
	}
	for _, scfg := range dcfg.Sources {
		r := sourceRule{
			callsign:     scfg.Callsign,
			relayType:    scfg.RelayType,
			viscousDelay: time.Duration(scfg.ViscousDelay) * time.Second,
		}
		if scfg.Filter != "" {
			chain, err := filter.ParseChain(scfg.Filter)
			if err == nil {
				r.filter = chain
			}
		}
		u.sources = append(u.sources, r)
	}
	return u
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func baseCall(callWithSSID string) string {
	return strings.SplitN(callWithSSID, "-", 2)[0]
}

func sSSID(callWithSSID string) int {
	parts := strings.SplitN(callWithSSID, "-", 2)
	if len(parts) != 2 {
		return 0
	}
	n := 0
	fmt.Sscanf(parts[1], "%d", &n)
	return n
}

func buildBeacon(bcfg config.Beacon) *beacon.Scheduler {
	s := beacon.New(bcfg.Source, bcfg.Dest, bcfg.Via, time.Duration(bcfg.Cycle)*time.Second, int64(len(bcfg.Source)+bcfg.Cycle))
	if payload, ok := bcfg.Extra["payload"]; ok {
		s.Add([]byte(payload), beacon.Both)
	}
	return s
}

// ServeMetrics starts the Prometheus /metrics HTTP endpoint in the
// background; it is the one deliberate exception to the single-threaded
// model (spec.md §5 only constrains the APRS-IS helper and the main
// loop's shared state, not a read-only diagnostics endpoint).
func (rt *Runtime) ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.Metrics.Gatherer(), promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			rt.log.Errorf("metrics server: %v", err)
		}
	}()
}

// Run starts every APRS-IS helper (as Run goroutines, per spec.md §5's
// "at most one optional helper task" per client) and drives the engine
// loop until ctx is canceled.
func (rt *Runtime) Run(ctx context.Context) {
	for _, c := range rt.AprsIS {
		go c.Run(ctx)
	}
	rt.Loop.Run(ctx)
}
