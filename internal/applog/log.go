// Package applog centralizes structured logging. It replaces doismellburning-samoyed's
// ANSI text_color_set/dw_printf pair (see doismellburning-samoyed/src/log.go,
// textcolor.go) with github.com/charmbracelet/log, keeping the same
// debug/info/error severity vocabulary the DW_COLOR_* constants expressed.
package applog

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu      sync.Mutex
	base    = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	subLogs = map[string]*log.Logger{}
)

// SetLevel adjusts global verbosity. debugLevel follows the CLI's
// repeatable -d flag: 0 disables debug output, higher values enable more.
func SetLevel(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	switch {
	case debugLevel <= 0:
		base.SetLevel(log.InfoLevel)
	default:
		base.SetLevel(log.DebugLevel)
	}
}

// For returns a logger scoped to one subsystem name (digipeater, aprsis,
// iface, ...), attached as a structured field rather than encoded into the
// message text.
func For(component string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := subLogs[component]; ok {
		return l
	}
	l := base.With("component", component)
	subLogs[component] = l
	return l
}
