package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSubsystem struct {
	name     string
	deadline time.Time
	steps    []time.Time
}

func (f *fakeSubsystem) Name() string { return f.name }
func (f *fakeSubsystem) NextDeadline(now time.Time) time.Time { return f.deadline }
func (f *fakeSubsystem) Step(ctx context.Context, now time.Time) error {
	f.steps = append(f.steps, now)
	return nil
}

func TestTick_StepsSubsystemAtItsDeadline(t *testing.T) {
	l := New()
	now := time.Unix(1000, 0)
	a := &fakeSubsystem{name: "a", deadline: now.Add(5 * time.Millisecond)}
	l.Register(a)

	errs := l.Tick(context.Background(), now)
	require.Empty(t, errs)
	require.Len(t, a.steps, 1)
}

func TestTick_SkipsSubsystemNotYetDue(t *testing.T) {
	l := New()
	now := time.Unix(1000, 0)
	soon := &fakeSubsystem{name: "soon", deadline: now.Add(10 * time.Millisecond)}
	later := &fakeSubsystem{name: "later", deadline: now.Add(time.Hour)}
	l.Register(soon)
	l.Register(later)

	l.Tick(context.Background(), now)
	require.Len(t, soon.steps, 1)
	require.Empty(t, later.steps)
}

func TestNextWake_RespectsMinPollInterval(t *testing.T) {
	l := New()
	now := time.Unix(1000, 0)
	a := &fakeSubsystem{name: "a", deadline: now.Add(time.Microsecond)}
	l.Register(a)
	wake := l.nextWake(now, now.Add(time.Hour))
	require.GreaterOrEqual(t, wake.Sub(now), MinPollInterval)
}

func TestNextWake_IgnoresZeroDeadline(t *testing.T) {
	l := New()
	now := time.Unix(1000, 0)
	ceiling := now.Add(time.Hour)
	idle := &fakeSubsystem{name: "idle"}
	l.Register(idle)
	require.Equal(t, ceiling, l.nextWake(now, ceiling))
}
