package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixchirp/nixchirp/internal/assets"
	"github.com/nixchirp/nixchirp/internal/cache"
)

// pathLoader serves synthetic clips keyed by file base name, so engine
// tests never touch a real decoder.
type pathLoader struct {
	clips map[string]*assets.LoadedAnimation
	fail  map[string]error
	loads int
}

func (l *pathLoader) Load(path string) (*assets.LoadedAnimation, error) {
	base := filepath.Base(path)
	if err, ok := l.fail[base]; ok {
		return nil, err
	}
	if c, ok := l.clips[base]; ok {
		l.loads++
		return c, nil
	}
	return nil, assets.ErrNotFound
}

type notification struct {
	old, next string
	kind      TransitionKind
}

type engineFixture struct {
	eng    *Engine
	clock  *testClock
	loader *pathLoader
	notes  []notification
}

// newEngineFixture builds an engine over a profile directory of empty
// placeholder files (path resolution stats them) and a fake loader.
func newEngineFixture(t *testing.T, spec TransitionSpec) *engineFixture {
	t.Helper()
	dir := t.TempDir()
	f := &engineFixture{
		clock: newTestClock(),
		loader: &pathLoader{
			clips: map[string]*assets.LoadedAnimation{
				"idle.gif":     clip(10),
				"talk.gif":     clip(4),
				"shout.gif":    clip(6),
				"sleep.gif":    clip(2),
				"cat_idle.gif": clip(3),
				"cat_talk.gif": clip(3),
				"broken.gif":   nil,
			},
			fail: map[string]error{"broken.gif": errors.New("corrupt data")},
		},
	}
	for name := range f.loader.clips {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	c := cache.New(cache.DefaultMaxMB, f.loader, zerolog.Nop())
	f.eng = New(Config{DefaultTransition: spec, ProfileDir: dir}, c, zerolog.Nop())
	f.eng.SetClock(f.clock.Now)
	f.eng.SetNotifier(func(old, next string, kind TransitionKind) {
		f.notes = append(f.notes, notification{old, next, kind})
	})

	for _, s := range []struct {
		name string
		loop bool
	}{
		{"idle", true}, {"talk", true}, {"shout", true},
		{"sleep", true}, {"cat_idle", true}, {"cat_talk", true},
		{"broken", true},
	} {
		f.eng.AddState(State{Name: s.name, AssetPath: s.name + ".gif", Loop: s.loop, Speed: 1.0})
	}
	f.eng.SetMicMapping("idle", "talk", "shout")
	f.eng.RegisterGroup("cat", "cat_idle", "cat_talk", "")
	f.eng.Start()
	return f
}

func cut() TransitionSpec {
	return TransitionSpec{Kind: TransitionCut, DurationMS: 80}
}

func TestStartEntersFirstState(t *testing.T) {
	f := newEngineFixture(t, cut())
	assert.Equal(t, "idle", f.eng.CurrentStateName())
	assert.NotNil(t, f.eng.Playback().CurrentFrame())
}

func TestMicEventsCoalesceToLatest(t *testing.T) {
	f := newEngineFixture(t, cut())
	f.eng.Queue().Push(StateEvent{Kind: EventMicActive})
	f.eng.Queue().Push(StateEvent{Kind: EventMicIdle})
	f.eng.Queue().Push(StateEvent{Kind: EventMicIntense})

	f.eng.Tick(0.016)

	assert.Equal(t, "shout", f.eng.CurrentStateName())
	// Intermediate mic states never became visible.
	require.Len(t, f.notes, 1)
	assert.Equal(t, "shout", f.notes[0].next)
}

func TestMicSwapModuloClampsMismatchedClips(t *testing.T) {
	f := newEngineFixture(t, cut())
	f.eng.Tick(0.75) // 750ms into a 10-frame clip at 100ms/frame
	require.Equal(t, 7, f.eng.Playback().FrameIndex())

	f.eng.Queue().Push(StateEvent{Kind: EventMicActive})
	f.eng.Tick(0)

	assert.Equal(t, "talk", f.eng.CurrentStateName())
	assert.Equal(t, 3, f.eng.Playback().FrameIndex()) // 7 mod 4
	assert.False(t, f.eng.TransitionActive())
}

func TestMicSwapBypassesCrossfade(t *testing.T) {
	f := newEngineFixture(t, TransitionSpec{Kind: TransitionCrossfade, DurationMS: 100})
	f.eng.Queue().Push(StateEvent{Kind: EventMicActive})
	f.eng.Tick(0.016)

	assert.Equal(t, "talk", f.eng.CurrentStateName())
	assert.False(t, f.eng.TransitionActive())
	require.Len(t, f.notes, 1)
	assert.Equal(t, TransitionCut, f.notes[0].kind)
}

func TestGroupActivationSuppressesMicSameTick(t *testing.T) {
	f := newEngineFixture(t, cut())
	f.eng.Queue().Push(StateEvent{Kind: EventGroupChange, Target: "cat"})
	f.eng.Queue().Push(StateEvent{Kind: EventMicActive})

	f.eng.Tick(0.016)

	assert.Equal(t, "cat_idle", f.eng.CurrentStateName())
}

func TestMicLockExpiresAfterWindow(t *testing.T) {
	f := newEngineFixture(t, cut())
	f.eng.Queue().Push(StateEvent{Kind: EventGroupChange, Target: "cat"})
	f.eng.Tick(0.016)
	require.Equal(t, "cat_idle", f.eng.CurrentStateName())

	// Within the lock window the mic cannot move the state.
	f.clock.Advance(50 * time.Millisecond)
	f.eng.Queue().Push(StateEvent{Kind: EventMicActive})
	f.eng.Tick(0.016)
	assert.Equal(t, "cat_idle", f.eng.CurrentStateName())

	// After it expires the mic drives the group's speaking state.
	f.clock.Advance(150 * time.Millisecond)
	f.eng.Queue().Push(StateEvent{Kind: EventMicActive})
	f.eng.Tick(0.016)
	assert.Equal(t, "cat_talk", f.eng.CurrentStateName())
}

type fakeMic struct{ toggles int }

func (m *fakeMic) Toggle() { m.toggles++ }

func TestToggleMicIsInterceptedNotRouted(t *testing.T) {
	f := newEngineFixture(t, cut())
	mic := &fakeMic{}
	f.eng.SetMicControl(mic)

	f.eng.Queue().Push(StateEvent{Kind: EventToggleMic})
	f.eng.Tick(0.016)

	assert.Equal(t, 1, mic.toggles)
	assert.Equal(t, "idle", f.eng.CurrentStateName())
	assert.Empty(t, f.notes)
}

func TestCrossfadeSelectionBlendsThenReleases(t *testing.T) {
	f := newEngineFixture(t, TransitionSpec{Kind: TransitionCrossfade, DurationMS: 100})
	f.eng.Queue().Push(StateEvent{Kind: EventSetState, Target: "shout"})
	f.eng.Tick(0.016)
	require.True(t, f.eng.TransitionActive())

	f.clock.Advance(50 * time.Millisecond)
	sel := f.eng.Selection()
	require.NotNil(t, sel.Previous)
	assert.Greater(t, sel.Blend, 0.0)
	assert.Less(t, sel.Blend, 1.0)

	f.clock.Advance(60 * time.Millisecond)
	f.eng.Tick(0.016)
	sel = f.eng.Selection()
	assert.Nil(t, sel.Previous)
	assert.Equal(t, 1.0, sel.Blend)
	assert.False(t, f.eng.Playback().HasPrevious())
}

func TestDecodeFailureKeepsShowingCurrentClip(t *testing.T) {
	f := newEngineFixture(t, cut())
	before := f.eng.Playback().Current()

	f.eng.Queue().Push(StateEvent{Kind: EventSetState, Target: "broken"})
	f.eng.Tick(0.016)

	// The machine committed the name but the screen never changed.
	assert.Equal(t, "broken", f.eng.CurrentStateName())
	assert.Same(t, before, f.eng.Playback().Current())
	assert.False(t, f.eng.TransitionActive())
	assert.Empty(t, f.notes)
}

func TestLoopingStateResumesWhereItLeftOff(t *testing.T) {
	f := newEngineFixture(t, cut())
	f.eng.Tick(0.45)
	require.Equal(t, 4, f.eng.Playback().FrameIndex())

	f.eng.Queue().Push(StateEvent{Kind: EventSetState, Target: "shout"})
	f.eng.Tick(0)
	f.eng.Queue().Push(StateEvent{Kind: EventSetState, Target: "idle"})
	f.eng.Tick(0)

	assert.Equal(t, 4, f.eng.Playback().FrameIndex())
}

func TestSleepTimeoutAndWake(t *testing.T) {
	f := newEngineFixture(t, cut())
	f.eng.SetSleep(1.0, "sleep")

	f.eng.Tick(1.1)
	assert.Equal(t, "sleep", f.eng.CurrentStateName())

	// Non-mic activity that changes nothing still wakes through idle.
	f.eng.Queue().Push(StateEvent{Kind: EventSetState, Target: "ghost"})
	f.eng.Tick(0.016)
	assert.Equal(t, "idle", f.eng.CurrentStateName())
}

func TestWakeSkipsBounceWhenMicAlreadyMoved(t *testing.T) {
	f := newEngineFixture(t, cut())
	f.eng.SetSleep(1.0, "sleep")
	f.eng.Tick(1.1)
	require.Equal(t, "sleep", f.eng.CurrentStateName())

	f.eng.Queue().Push(StateEvent{Kind: EventMicActive})
	f.eng.Tick(0.016)
	assert.Equal(t, "talk", f.eng.CurrentStateName())
}

func TestMicIdleDoesNotResetSleepTimer(t *testing.T) {
	f := newEngineFixture(t, cut())
	f.eng.SetSleep(1.0, "sleep")

	f.eng.Tick(0.6)
	f.eng.Queue().Push(StateEvent{Kind: EventMicIdle})
	f.eng.Tick(0.6)

	assert.Equal(t, "sleep", f.eng.CurrentStateName())
}

func TestPreloadLoadsEveryState(t *testing.T) {
	f := newEngineFixture(t, cut())
	loadsBefore := f.loader.loads
	f.eng.PreloadAll()

	// Everything except the broken clip decoded; idle was already cached.
	assert.Equal(t, loadsBefore+5, f.loader.loads)
}

func TestRemoveStateDropsCursor(t *testing.T) {
	f := newEngineFixture(t, cut())
	h := f.eng.Registry().Lookup("talk")
	f.eng.Queue().Push(StateEvent{Kind: EventSetState, Target: "talk"})
	f.eng.Tick(0.25)
	f.eng.Queue().Push(StateEvent{Kind: EventSetState, Target: "idle"})
	f.eng.Tick(0)

	_, ok := f.eng.Playback().CursorFor(h)
	require.True(t, ok)
	f.eng.RemoveState(h)
	_, ok = f.eng.Playback().CursorFor(h)
	assert.False(t, ok)
	assert.Equal(t, NoHandle, f.eng.Registry().Lookup("talk"))
}
