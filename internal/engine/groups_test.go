package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type groupFixture struct {
	groups  *Groups
	machine *Machine
	reg     *Registry
	clock   *testClock

	idle, talk, shout    Handle
	gIdle, gTalk, gShout Handle
}

func newGroupFixture(t *testing.T) *groupFixture {
	t.Helper()
	f := &groupFixture{clock: newTestClock()}
	f.reg = NewRegistry()
	f.machine = NewMachine(f.reg, TransitionSpec{Kind: TransitionCut, DurationMS: 80}, zerolog.Nop())
	f.groups = NewGroups(f.reg, f.machine, zerolog.Nop(), f.clock.Now)

	f.idle = f.reg.Add(State{Name: "idle", Speed: 1})
	f.talk = f.reg.Add(State{Name: "talk", Speed: 1})
	f.shout = f.reg.Add(State{Name: "shout", Speed: 1})
	f.gIdle = f.reg.Add(State{Name: "cat_idle", Speed: 1})
	f.gTalk = f.reg.Add(State{Name: "cat_talk", Speed: 1})
	f.gShout = f.reg.Add(State{Name: "cat_shout", Speed: 1})

	f.groups.SetDefaults(GroupMapping{Idle: f.idle, Active: f.talk, Intense: f.shout})
	f.groups.Register("cat", GroupMapping{Idle: f.gIdle, Active: f.gTalk, Intense: f.gShout})
	f.machine.SetInitial(f.idle)
	return f
}

func TestActivateRetargetsMicMapping(t *testing.T) {
	f := newGroupFixture(t)

	assert.True(t, f.groups.HandleChange("cat"))
	assert.Equal(t, "cat", f.groups.Active())

	gotIdle, gotTalk, gotShout := f.machine.MicMapping()
	assert.Equal(t, f.gIdle, gotIdle)
	assert.Equal(t, f.gTalk, gotTalk)
	assert.Equal(t, f.gShout, gotShout)

	// The swap jumps to the group's idle state.
	f.machine.Update()
	assert.Equal(t, f.gIdle, f.machine.Current())
}

func TestActivatePreservesSpeakingRole(t *testing.T) {
	f := newGroupFixture(t)
	f.machine.SetInitial(f.talk) // currently speaking under the defaults

	f.groups.HandleChange("cat")
	f.machine.Update()
	assert.Equal(t, f.gTalk, f.machine.Current())
}

func TestUnknownGroupIsRejected(t *testing.T) {
	f := newGroupFixture(t)

	assert.False(t, f.groups.HandleChange("dog"))
	assert.Empty(t, f.groups.Active())
	gotIdle, _, _ := f.machine.MicMapping()
	assert.Equal(t, f.idle, gotIdle)
}

func TestQuickTapHoldsMinimumDuration(t *testing.T) {
	f := newGroupFixture(t)

	f.groups.HandleChange("cat")
	f.machine.Update()

	// Released 40ms after activation: revert must wait out the hold.
	f.clock.Advance(40 * time.Millisecond)
	assert.False(t, f.groups.HandleChange(""))
	assert.Equal(t, "cat", f.groups.Active())

	// 200ms later the hold is still running.
	f.groups.Tick(0.200)
	assert.Equal(t, "cat", f.groups.Active())

	f.groups.Tick(0.100)
	assert.Empty(t, f.groups.Active())
	assert.Equal(t, f.idle, f.machine.Current())
}

func TestLongHoldRevertsAfterFloor(t *testing.T) {
	f := newGroupFixture(t)

	f.groups.HandleChange("cat")
	f.machine.Update()

	// Held well past the minimum: only the floor delay remains.
	f.clock.Advance(1 * time.Second)
	f.groups.HandleChange("")

	f.groups.Tick(0.030)
	assert.Equal(t, "cat", f.groups.Active())
	f.groups.Tick(0.030)
	assert.Empty(t, f.groups.Active())
}

func TestReactivationCancelsPendingRevert(t *testing.T) {
	f := newGroupFixture(t)

	f.groups.HandleChange("cat")
	f.clock.Advance(1 * time.Second)
	f.groups.HandleChange("")
	assert.True(t, f.groups.HandleChange("cat"))

	// The revert must not fire later.
	f.groups.Tick(10)
	assert.Equal(t, "cat", f.groups.Active())
}

func TestMicLockWindows(t *testing.T) {
	f := newGroupFixture(t)

	f.groups.HandleChange("cat")
	assert.True(t, f.groups.MicLocked())

	f.clock.Advance(GroupMicLock + time.Millisecond)
	assert.False(t, f.groups.MicLocked())

	// The debounced revert opens a fresh lock window.
	f.clock.Advance(time.Second)
	f.groups.HandleChange("")
	f.groups.Tick(GroupRevertFloor.Seconds() + 0.01)
	require.Empty(t, f.groups.Active())
	assert.True(t, f.groups.MicLocked())
}

func TestRevertToDefaultAlias(t *testing.T) {
	f := newGroupFixture(t)
	f.groups.HandleChange("cat")
	f.clock.Advance(1 * time.Second)

	assert.False(t, f.groups.HandleChange("default"))
	f.groups.Tick(GroupRevertFloor.Seconds() + 0.01)
	assert.Empty(t, f.groups.Active())
}
