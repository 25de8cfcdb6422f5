// Package ptt drives a serial port's RTS/DTR lines for external
// push-to-talk control (spec.md §6's <interface> "ptt-line" key).
//
// Grounded on doismellburning-samoyed's ptt.go (_TIOCM/RTS_ON/RTS_OFF/DTR_ON/DTR_OFF),
// reworked from its cgo ioctl() call into golang.org/x/sys/unix's
// IoctlGetInt/IoctlSetInt.
package ptt

import (
	"golang.org/x/sys/unix"
)

// Line selects which serial control line keys a Control.
type Line int

const (
	LineNone Line = iota
	LineRTS
	LineDTR
)

// ParseLine maps a config "ptt-line" value to a Line.
func ParseLine(s string) Line {
	switch s {
	case "rts":
		return LineRTS
	case "dtr":
		return LineDTR
	default:
		return LineNone
	}
}

func (l Line) bit() int {
	switch l {
	case LineRTS:
		return unix.TIOCM_RTS
	case LineDTR:
		return unix.TIOCM_DTR
	default:
		return 0
	}
}

// Control toggles one serial control line on an open file descriptor.
type Control struct {
	fd   int
	line Line
}

// New builds a Control for fd. A LineNone Control's Set calls are no-ops,
// so interfaces without PTT hardware can hold one unconditionally.
func New(fd int, line Line) *Control {
	return &Control{fd: fd, line: line}
}

// Set asserts or clears the configured control line.
func (c *Control) Set(on bool) error {
	bit := c.line.bit()
	if bit == 0 {
		return nil
	}
	stuff, err := unix.IoctlGetInt(c.fd, unix.TIOCMGET)
	if err != nil {
		return err
	}
	if on {
		stuff |= bit
	} else {
		stuff &^= bit
	}
	return unix.IoctlSetInt(c.fd, unix.TIOCMSET, stuff)
}
