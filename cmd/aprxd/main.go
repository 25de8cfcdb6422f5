// Command aprxd is the AX.25/APRS packet digipeater and APRS-IS gateway
// daemon. Flags follow spec.md §6's external CLI contract.
//
// Grounded on doismellburning-samoyed's cmd/direwolf/main.go: pflag-driven option
// parsing in main, with all real behavior delegated to the package the
// binary wraps (here, internal/app) rather than implemented inline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aprx-project/aprxd/internal/app"
	"github.com/aprx-project/aprxd/internal/config"
	"github.com/spf13/pflag"
)

const version = app.SoftwareVersion

func main() {
	os.Exit(run())
}

// run implements spec.md §6's exit-code contract: 0 normal, 1
// configuration error or lock-held, 64 bad invocation.
func run() int {
	var (
		debug        = pflag.CountP("debug", "d", "Increase debug verbosity (repeatable).")
		verbose      = pflag.BoolP("verbose", "v", false, "Verbose output.")
		erlangOutput = pflag.Bool("erlang-output", false, "Enable Erlang-style live traffic counters on /metrics.")
		logFacility  = pflag.String("log-facility", "", "Syslog-style log facility name.")
		configFile   = pflag.StringP("config-file", "f", "/etc/aprxd/aprxd.conf", "Path to the configuration file.")
		metricsAddr  = pflag.String("metrics-listen", ":9091", "Address to serve Prometheus /metrics on.")
		showVersion  = pflag.Bool("version", false, "Print version and exit.")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: aprxd [flags]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *showVersion {
		fmt.Println(app.SoftwareName, version)
		return 0
	}
	if pflag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "aprxd: unexpected positional arguments: %v\n", pflag.Args())
		pflag.Usage()
		return 64
	}

	f, err := os.Open(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aprxd: opening config file: %v\n", err)
		return 1
	}
	defer f.Close()

	cfg, err := config.Parse(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aprxd: parsing config file: %v\n", err)
		return 1
	}

	cfg.Logging.Level = debugLevel(*debug, *verbose)
	if *logFacility != "" {
		cfg.Logging.Facility = *logFacility
	}

	rt, err := app.Build(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aprxd: %v\n", err)
		return 1
	}

	if *erlangOutput {
		rt.ServeMetrics(*metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.Run(ctx)
	return 0
}

func debugLevel(count int, verbose bool) int {
	if verbose && count == 0 {
		return 1
	}
	return count
}
