package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/nixchirp/nixchirp/internal/assets"
	"github.com/nixchirp/nixchirp/internal/cache"
)

// FrameSelection is what the renderer collaborator needs each tick: the
// current frame, the outgoing frame while a crossfade is running, and the
// blend factor (previous·(1−blend) + current·blend).
type FrameSelection struct {
	Current  *assets.Frame
	Previous *assets.Frame
	Blend    float64
}

// MicControl is the narrow surface the toggle-mic action needs from the
// capture device.
type MicControl interface {
	Toggle()
}

// Notifier receives committed state changes for display or broadcast.
type Notifier func(oldName, newName string, kind TransitionKind)

// Config carries the engine-level settings from the profile.
type Config struct {
	DefaultTransition TransitionSpec
	SleepTimeoutSec   float64
	SleepState        string
	ProfileDir        string
}

// Engine owns the state machine, playback controller, group coordinator,
// sleep timer, and frame cache, and drives them once per tick. All of it
// runs on the consumer thread; producers only touch Queue.
type Engine struct {
	log zerolog.Logger
	now func() time.Time

	queue    *Queue
	reg      *Registry
	machine  *Machine
	playback *Playback
	groups   *Groups
	sleep    *Sleep
	cache    *cache.Cache

	transition *Transition

	profileDir  string
	sleepState  string
	defaultSpec TransitionSpec

	mic        MicControl
	levelProbe func() float64
	notify     Notifier

	volumeLogTimer float64
}

// New creates an engine around a frame cache.
func New(cfg Config, c *cache.Cache, log zerolog.Logger) *Engine {
	e := &Engine{
		log:         log,
		now:         time.Now,
		queue:       NewQueue(),
		reg:         NewRegistry(),
		playback:    NewPlayback(),
		sleep:       NewSleep(cfg.SleepTimeoutSec),
		cache:       c,
		profileDir:  cfg.ProfileDir,
		sleepState:  cfg.SleepState,
		defaultSpec: cfg.DefaultTransition,
	}
	if e.defaultSpec.DurationMS <= 0 {
		e.defaultSpec.DurationMS = DefaultTransitionDurationMS
	}
	if e.defaultSpec.Kind == "" {
		e.defaultSpec.Kind = TransitionCut
	}
	e.machine = NewMachine(e.reg, e.defaultSpec, log)
	e.machine.SetObserver(e)
	e.groups = NewGroups(e.reg, e.machine, log, func() time.Time { return e.now() })
	return e
}

// SetClock overrides the wall clock, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Queue returns the shared event queue producers push into.
func (e *Engine) Queue() *Queue { return e.queue }

// Registry exposes the state table for configuration edits on the consumer
// thread.
func (e *Engine) Registry() *Registry { return e.reg }

// Machine exposes the state machine for read-only status.
func (e *Engine) Machine() *Machine { return e.machine }

// Groups exposes the group coordinator for read-only status.
func (e *Engine) Groups() *Groups { return e.groups }

// Playback exposes the playback controller for read-only status.
func (e *Engine) Playback() *Playback { return e.playback }

// SetMicControl wires the toggle-mic action to the capture device.
func (e *Engine) SetMicControl(mc MicControl) { e.mic = mc }

// SetLevelProbe wires the periodic volume debug log to the detector.
func (e *Engine) SetLevelProbe(fn func() float64) { e.levelProbe = fn }

// SetNotifier registers the state-change fan-out (remote broadcast, GUI).
func (e *Engine) SetNotifier(fn Notifier) { e.notify = fn }

// AddState registers a state from the profile.
func (e *Engine) AddState(s State) Handle {
	return e.reg.Add(s)
}

// RemoveState drops a state and its saved cursor.
func (e *Engine) RemoveState(h Handle) {
	e.playback.DropCursor(h)
	e.reg.Remove(h)
}

// SetMicMapping points the default mic triple at states by name. Unknown
// names resolve to no-ops.
func (e *Engine) SetMicMapping(idle, active, intense string) {
	e.groups.SetDefaults(GroupMapping{
		Idle:    e.reg.Lookup(idle),
		Active:  e.reg.Lookup(active),
		Intense: e.reg.Lookup(intense),
	})
}

// RegisterGroup adds a named group mapping by state names.
func (e *Engine) RegisterGroup(name, idle, active, intense string) {
	e.groups.Register(name, GroupMapping{
		Idle:    e.reg.Lookup(idle),
		Active:  e.reg.Lookup(active),
		Intense: e.reg.Lookup(intense),
	})
}

// SetSleep reconfigures the inactivity timer.
func (e *Engine) SetSleep(timeoutSec float64, sleepState string) {
	e.sleep.SetTimeout(timeoutSec)
	e.sleepState = sleepState
}

// Start jumps to the initial state (first registered) and loads its clip.
func (e *Engine) Start() {
	initial := e.reg.Default()
	if initial == NoHandle {
		e.log.Warn().Msg("no states configured")
		return
	}
	e.machine.SetInitial(initial)
	st := e.reg.Get(initial)
	anim, err := e.loadClip(st)
	if err != nil {
		e.log.Warn().Err(err).Str("state", st.Name).Msg("initial clip unavailable")
		return
	}
	e.playback.Enter(initial, anim, st.Loop, st.Speed)
}

// PreloadAll force-loads every configured clip inside a widened cache
// window so the first run never hitches on a decode.
func (e *Engine) PreloadAll() {
	handles := e.reg.Handles()
	if len(handles) == 0 {
		return
	}
	e.cache.BeginPreload()
	defer e.cache.EndPreload()

	n := 0
	for _, h := range handles {
		st := e.reg.Get(h)
		if _, err := e.loadClip(st); err != nil {
			e.log.Warn().Err(err).Str("state", st.Name).Str("asset", st.AssetPath).
				Msg("preload skipped")
			continue
		}
		n++
	}
	e.log.Info().Int("states", n).Msg("preloaded clips")
}

// CurrentStateName returns the active state's name, empty when none.
func (e *Engine) CurrentStateName() string {
	if st := e.reg.Get(e.machine.Current()); st != nil {
		return st.Name
	}
	return ""
}

// Tick runs one frame of the engine: drain and dispatch events, service
// the group revert and sleep timers, then advance playback and the blend.
func (e *Engine) Tick(dt float64) {
	e.processEvents()
	e.groups.Tick(dt)
	e.tickSleep(dt)

	active := e.transition != nil && e.transition.Active()
	e.playback.Advance(dt, active)
	if active {
		e.transition.Update()
	}
	e.logVolume(dt)
}

// Selection returns the frames and blend for this render pass. The
// previous-clip reference is released on the first pass after the
// transition goes inactive.
func (e *Engine) Selection() FrameSelection {
	sel := FrameSelection{Current: e.playback.CurrentFrame(), Blend: 1.0}
	if e.transition != nil && e.transition.Active() {
		if prev := e.playback.PreviousFrame(); prev != nil {
			sel.Previous = prev
			sel.Blend = e.transition.Blend()
		}
	} else if e.transition != nil {
		e.playback.ReleasePrevious()
		e.transition = nil
	}
	return sel
}

// TransitionActive reports whether a blend is in progress.
func (e *Engine) TransitionActive() bool {
	return e.transition != nil && e.transition.Active()
}

// processEvents drains the shared queue once, coalesces mic events down to
// the most recent one, intercepts toggle-mic and group changes, forwards
// the rest, then applies the coalesced mic event separately on the
// instant-swap path.
func (e *Engine) processEvents() {
	events := e.queue.Drain()
	if len(events) == 0 {
		return
	}

	var latestMic *StateEvent
	others := make([]StateEvent, 0, len(events))
	for _, ev := range events {
		if isMicKind(ev.Kind) {
			mic := ev
			latestMic = &mic
		} else {
			others = append(others, ev)
		}
	}

	groupActivated := false
	for _, ev := range others {
		switch ev.Kind {
		case EventToggleMic:
			if e.mic != nil {
				e.mic.Toggle()
				e.log.Info().Msg("mic toggled")
			}
		case EventGroupChange:
			if e.groups.HandleChange(ev.Target) {
				groupActivated = true
			}
		default:
			e.machine.Push(ev)
		}
	}

	e.machine.Update()

	if latestMic != nil && !groupActivated && !e.groups.MicLocked() {
		e.machine.ApplyMic(*latestMic)
	}

	// Any active/intense mic signal or any non-mic event counts as
	// activity for the sleep timer.
	hasActivity := len(others) > 0
	if latestMic != nil && (latestMic.Kind == EventMicActive || latestMic.Kind == EventMicIntense) {
		hasActivity = true
	}
	if hasActivity {
		e.sleep.Activity()
	}
}

func (e *Engine) tickSleep(dt float64) {
	switch e.sleep.Update(dt) {
	case SleepFellAsleep:
		if e.sleepState == "" {
			return
		}
		e.machine.Push(StateEvent{Kind: EventIdleTimeout, Target: e.sleepState})
		e.machine.Update()
		e.log.Info().Str("state", e.sleepState).Msg("fell asleep")
	case SleepWokeUp:
		// Only bounce through idle if still in the sleep state; a mic
		// event this tick may already have moved us somewhere useful.
		if e.CurrentStateName() != e.sleepState {
			e.log.Debug().Msg("woke up, state already changed")
			return
		}
		e.machine.Push(StateEvent{Kind: EventIdleCancel})
		e.machine.Update()
		e.log.Info().Msg("woke up")
	}
}

// StateChanged applies the playback side effects of a committed state
// change. It is the machine's single observer.
func (e *Engine) StateChanged(old, next Handle, spec TransitionSpec, micSwap bool) {
	nextState := e.reg.Get(next)
	oldName := ""
	if st := e.reg.Get(old); st != nil {
		oldName = st.Name
	}

	if micSwap {
		// Instant swap keeping the frame index: idle/speaking variants
		// share the body animation, so the mouth changes and nothing else.
		anim, err := e.loadClip(nextState)
		if err != nil {
			e.log.Warn().Err(err).Str("state", nextState.Name).Msg("clip unavailable")
		} else {
			e.playback.SwapKeepingFrame(anim, nextState.Loop, nextState.Speed)
		}
		if e.transition != nil {
			e.transition.Cancel()
			e.transition = nil
		}
		e.playback.ReleasePrevious()
		e.fanOut(oldName, nextState.Name, TransitionCut)
		return
	}

	if oldState := e.reg.Get(old); oldState != nil && e.playback.Current() != nil {
		if oldState.Loop {
			e.playback.SaveCursor(old)
		}
		e.playback.SnapshotPrevious()
	}

	anim, err := e.loadClip(nextState)
	if err != nil {
		// Keep showing whatever was already current.
		e.log.Warn().Err(err).Str("state", nextState.Name).Msg("clip unavailable")
		e.playback.ReleasePrevious()
		return
	}
	e.playback.Enter(next, anim, nextState.Loop, nextState.Speed)

	e.transition = NewTransition(spec, func() time.Time { return e.now() })
	e.transition.Start()
	e.fanOut(oldName, nextState.Name, spec.Kind)
}

func (e *Engine) fanOut(oldName, newName string, kind TransitionKind) {
	if e.notify != nil {
		e.notify(oldName, newName, kind)
	}
}

func (e *Engine) loadClip(st *State) (*assets.LoadedAnimation, error) {
	path, err := assets.ResolvePath(e.profileDir, st.AssetPath)
	if err != nil {
		return nil, err
	}
	return e.cache.GetOrLoad(path)
}

func (e *Engine) logVolume(dt float64) {
	if e.levelProbe == nil {
		return
	}
	e.volumeLogTimer += dt
	if e.volumeLogTimer < 0.5 {
		return
	}
	e.volumeLogTimer = 0
	e.log.Debug().Float64("rms", e.levelProbe()).
		Str("state", e.CurrentStateName()).
		Msg("mic level")
}
