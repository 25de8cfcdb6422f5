// Package xerr names the error taxonomy shared by every subsystem so that
// counters and log lines can be driven off one switch instead of each
// package inventing its own vocabulary.
package xerr

// Kind is one of the drop/retry reasons enumerated in the error handling
// design. It is not a Go error type by itself -- wrap it with New to get
// one that satisfies the error interface and still compares with errors.Is.
type Kind int

const (
	// InputMalformed: bad AX.25 address byte, non-terminated TNC2 frame,
	// invalid callsign character. The frame is dropped.
	InputMalformed Kind = iota
	// FilterReject: explicit negative filter match or failed Tx-iGate
	// precondition. Dropped silently.
	FilterReject
	// DupeReject: recognized duplicate within the retention window.
	DupeReject
	// HopBudgetExceeded: hop count/cap check failed and the packet was
	// not probably heard directly.
	HopBudgetExceeded
	// TxCapacityExhausted: outbound write buffer full; frame dropped,
	// accounted, no blocking.
	TxCapacityExhausted
	// TransientIO: EAGAIN/EINPROGRESS-class condition, or a socket reset
	// that triggers a scheduled reconnect.
	TransientIO
	// ConfigError: malformed configuration; fatal before the main loop
	// starts.
	ConfigError
	// ResourceExhausted: e.g. a PBuf that would exceed the 2100-byte cap.
	ResourceExhausted
	// NotImplemented: the original's DPRS / AGWPE raw-AX.25 stub paths
	// (documented out of scope in spec.md Design Notes (b)).
	NotImplemented
)

func (k Kind) String() string {
	switch k {
	case InputMalformed:
		return "input-malformed"
	case FilterReject:
		return "filter-reject"
	case DupeReject:
		return "dupe-reject"
	case HopBudgetExceeded:
		return "hop-budget-exceeded"
	case TxCapacityExhausted:
		return "tx-capacity-exhausted"
	case TransientIO:
		return "transient-io"
	case ConfigError:
		return "config-error"
	case ResourceExhausted:
		return "resource-exhausted"
	case NotImplemented:
		return "not-implemented"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a component-local message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// New builds an *Error for the given kind.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

// Is lets errors.Is(err, xerr.Sentinel(xerr.InputMalformed)) work by
// comparing Kind via a sentinel wrapper, since Kind itself is not an error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel returns a zero-message *Error for use with errors.Is.
func Sentinel(k Kind) *Error {
	return &Error{Kind: k}
}
