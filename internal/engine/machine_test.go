package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingObserver captures every committed change.
type recordingObserver struct {
	changes []change
}

type change struct {
	old, next Handle
	spec      TransitionSpec
	micSwap   bool
}

func (o *recordingObserver) StateChanged(old, next Handle, spec TransitionSpec, micSwap bool) {
	o.changes = append(o.changes, change{old, next, spec, micSwap})
}

func newTestMachine(t *testing.T) (*Machine, *Registry, *recordingObserver) {
	t.Helper()
	reg := NewRegistry()
	m := NewMachine(reg, TransitionSpec{Kind: TransitionCut, DurationMS: 80}, zerolog.Nop())
	obs := &recordingObserver{}
	m.SetObserver(obs)
	return m, reg, obs
}

func TestResolveEventMapping(t *testing.T) {
	m, reg, _ := newTestMachine(t)
	idle := reg.Add(State{Name: "idle", Speed: 1})
	talk := reg.Add(State{Name: "talk", Speed: 1})
	shout := reg.Add(State{Name: "shout", Speed: 1})
	sleep := reg.Add(State{Name: "sleep", Speed: 1})
	m.SetMicMapping(idle, talk, shout)

	assert.Equal(t, idle, m.Resolve(StateEvent{Kind: EventMicIdle}))
	assert.Equal(t, talk, m.Resolve(StateEvent{Kind: EventMicActive}))
	assert.Equal(t, shout, m.Resolve(StateEvent{Kind: EventMicIntense}))
	assert.Equal(t, talk, m.Resolve(StateEvent{Kind: EventSetState, Target: "talk"}))
	assert.Equal(t, talk, m.Resolve(StateEvent{Kind: EventMIDITrigger, Target: "talk"}))
	assert.Equal(t, talk, m.Resolve(StateEvent{Kind: EventHotkeyTrigger, Target: "talk"}))
	assert.Equal(t, sleep, m.Resolve(StateEvent{Kind: EventIdleTimeout, Target: "sleep"}))
	assert.Equal(t, idle, m.Resolve(StateEvent{Kind: EventIdleCancel}))

	assert.Equal(t, NoHandle, m.Resolve(StateEvent{Kind: EventSetState, Target: "missing"}))
	assert.Equal(t, NoHandle, m.Resolve(StateEvent{Kind: EventSetState}))
	assert.Equal(t, NoHandle, m.Resolve(StateEvent{Kind: EventToggleMic}))
}

func TestIntenseFallsBackToActive(t *testing.T) {
	m, reg, _ := newTestMachine(t)
	idle := reg.Add(State{Name: "idle", Speed: 1})
	talk := reg.Add(State{Name: "talk", Speed: 1})
	m.SetMicMapping(idle, talk, NoHandle)

	assert.Equal(t, talk, m.Resolve(StateEvent{Kind: EventMicIntense}))
}

func TestIdleTimeoutFallsBackToDefault(t *testing.T) {
	m, reg, _ := newTestMachine(t)
	first := reg.Add(State{Name: "idle", Speed: 1})

	assert.Equal(t, first, m.Resolve(StateEvent{Kind: EventIdleTimeout, Target: "unknown"}))
	assert.Equal(t, first, m.Resolve(StateEvent{Kind: EventIdleCancel}))
}

func TestUpdateAppliesPendingInOrder(t *testing.T) {
	m, reg, obs := newTestMachine(t)
	reg.Add(State{Name: "a", Speed: 1})
	b := reg.Add(State{Name: "b", Speed: 1})
	m.SetInitial(reg.Lookup("a"))

	m.Push(StateEvent{Kind: EventSetState, Target: "b"})
	m.Push(StateEvent{Kind: EventSetState, Target: "a"})
	assert.True(t, m.Update())

	require.Len(t, obs.changes, 2)
	assert.Equal(t, b, obs.changes[0].next)
	assert.Equal(t, reg.Lookup("a"), m.Current())
	assert.Equal(t, b, m.Previous())

	// Queue is drained.
	assert.False(t, m.Update())
}

func TestSameStateIsNoOp(t *testing.T) {
	m, reg, obs := newTestMachine(t)
	a := reg.Add(State{Name: "a", Speed: 1})
	m.SetInitial(a)

	m.Push(StateEvent{Kind: EventSetState, Target: "a"})
	assert.False(t, m.Update())
	assert.Empty(t, obs.changes)
}

func TestUnknownTargetIsNoOp(t *testing.T) {
	m, reg, obs := newTestMachine(t)
	a := reg.Add(State{Name: "a", Speed: 1})
	m.SetInitial(a)

	m.Push(StateEvent{Kind: EventSetState, Target: "ghost"})
	assert.False(t, m.Update())
	assert.Empty(t, obs.changes)
	assert.Equal(t, a, m.Current())
}

func TestApplyMicSetsFlag(t *testing.T) {
	m, reg, obs := newTestMachine(t)
	idle := reg.Add(State{Name: "idle", Speed: 1})
	talk := reg.Add(State{Name: "talk", Speed: 1})
	m.SetMicMapping(idle, talk, NoHandle)
	m.SetInitial(idle)

	assert.True(t, m.ApplyMic(StateEvent{Kind: EventMicActive}))
	require.Len(t, obs.changes, 1)
	assert.True(t, obs.changes[0].micSwap)

	// The flag does not leak into regular applies.
	m.Push(StateEvent{Kind: EventSetState, Target: "idle"})
	m.Update()
	require.Len(t, obs.changes, 2)
	assert.False(t, obs.changes[1].micSwap)
}

func TestTransitionOverridePrecedence(t *testing.T) {
	m, reg, obs := newTestMachine(t)
	out := TransitionSpec{Kind: TransitionCrossfade, DurationMS: 200}
	in := TransitionSpec{Kind: TransitionCrossfade, DurationMS: 120}

	a := reg.Add(State{Name: "a", Speed: 1, TransitionOut: out})
	reg.Add(State{Name: "b", Speed: 1, TransitionIn: in})
	reg.Add(State{Name: "c", Speed: 1})
	m.SetInitial(a)

	// Outgoing override wins.
	m.Push(StateEvent{Kind: EventSetState, Target: "b"})
	m.Update()
	require.Len(t, obs.changes, 1)
	assert.Equal(t, out, obs.changes[0].spec)

	// No outgoing override: incoming override of the target applies.
	m.Push(StateEvent{Kind: EventSetState, Target: "c"})
	m.Update()
	m.Push(StateEvent{Kind: EventSetState, Target: "b"})
	m.Update()
	require.Len(t, obs.changes, 3)
	assert.Equal(t, in, obs.changes[2].spec)

	// Neither side overrides: the default applies.
	assert.Equal(t, TransitionSpec{Kind: TransitionCut, DurationMS: 80}, obs.changes[1].spec)
}
