// Package engine implements the single-threaded cooperative event loop of
// spec.md §5: subsystems are polled for readiness/deadlines, the loop
// blocks on the soonest one (lower-bounded at 10ms), then calls each
// subsystem's post-poll Step. History/dup-check state is only ever
// touched from this loop, so no subsystem needs its own lock.
//
// Grounded on the Step()/Run() duality already established in
// internal/aprsis (itself grounded on original_source/aprsis.c's
// reconnect/read/write state machine): every Subsystem here is the same
// "cooperative tick" shape, generalized to an arbitrary subsystem count.
// The polling cadence follows original_source/multicast.c and
// original_source/kiss.c's relationship between a configured interval and
// poll issuance (spec.md §9 open question (a)): a subsystem's NextDeadline
// return value is exactly that "don't poll until" instant, so work is only
// ever invoked when the interval has actually lapsed.
package engine

import (
	"context"
	"time"

	"github.com/aprx-project/aprxd/internal/applog"
)

// MinPollInterval is the lower bound on the loop's block duration
// (spec.md §5: "lower-bounded at 10 ms").
const MinPollInterval = 10 * time.Millisecond

// Subsystem is one component driven by the engine loop: an interface, a
// digipeater, a beacon scheduler, or the APRS-IS client's cooperative Step
// form. NextDeadline reports when this subsystem next wants to run (the
// zero Time means "no pending deadline"); Step performs its unit of work.
type Subsystem interface {
	Name() string
	NextDeadline(now time.Time) time.Time
	Step(ctx context.Context, now time.Time) error
}

// Loop owns the registered subsystems and drives them cooperatively.
type Loop struct {
	subsystems []Subsystem
	log        applogLogger
}

type applogLogger = interface {
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// New builds an empty Loop.
func New() *Loop {
	return &Loop{log: applog.For("engine")}
}

// Register adds a subsystem. Order of registration is the tie-break order
// when multiple subsystems share the same deadline, matching spec.md §5's
// "within one digipeater, packets are processed in arrival order" --
// registration order is the closest analog the engine can enforce across
// distinct subsystems.
func (l *Loop) Register(s Subsystem) {
	l.subsystems = append(l.subsystems, s)
}

// nextWake returns the soonest subsystem deadline, lower-bounded by
// MinPollInterval and never later than the ceiling passed in.
func (l *Loop) nextWake(now, ceiling time.Time) time.Time {
	wake := ceiling
	for _, s := range l.subsystems {
		d := s.NextDeadline(now)
		if d.IsZero() {
			continue
		}
		if d.Before(wake) {
			wake = d
		}
	}
	if floor := now.Add(MinPollInterval); wake.Before(floor) {
		wake = floor
	}
	return wake
}

// Tick runs exactly one poll-then-step cycle: it sleeps (or returns
// immediately past MinPollInterval) until the soonest subsystem deadline,
// then steps every subsystem whose deadline has arrived, in registration
// order. Returns the subsystem errors encountered, keyed by name.
func (l *Loop) Tick(ctx context.Context, now time.Time) map[string]error {
	wake := l.nextWake(now, now.Add(time.Hour))
	if d := wake.Sub(now); d > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
	}

	stepNow := wake
	due := make([]Subsystem, 0, len(l.subsystems))
	for _, s := range l.subsystems {
		d := s.NextDeadline(stepNow)
		if d.IsZero() || !d.After(stepNow) {
			due = append(due, s)
		}
	}
	errs := make(map[string]error)
	for _, s := range due {
		if err := s.Step(ctx, stepNow); err != nil {
			errs[s.Name()] = err
			l.log.Errorf("%s step: %v", s.Name(), err)
		}
	}
	return errs
}

// Run drives Tick in a loop until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.Tick(ctx, time.Now())
	}
}
