package engine

import "github.com/rs/zerolog"

// StateObserver receives committed state changes. micSwap marks changes
// applied on the coalesced-mic path, which bypass transitions and keep the
// current frame index.
type StateObserver interface {
	StateChanged(old, next Handle, spec TransitionSpec, micSwap bool)
}

// Machine resolves events to target states and is the only writer of the
// current state. Every registered state is directly reachable from every
// other; there is no topology beyond the name-indexed jump table.
type Machine struct {
	reg *Registry
	log zerolog.Logger

	current  Handle
	previous Handle

	micIdle    Handle
	micActive  Handle
	micIntense Handle

	defaultSpec TransitionSpec

	pending  []StateEvent
	observer StateObserver
	micSwap  bool
}

// NewMachine creates a state machine over a registry.
func NewMachine(reg *Registry, defaultSpec TransitionSpec, log zerolog.Logger) *Machine {
	return &Machine{
		reg:         reg,
		log:         log,
		current:     NoHandle,
		previous:    NoHandle,
		micIdle:     NoHandle,
		micActive:   NoHandle,
		micIntense:  NoHandle,
		defaultSpec: defaultSpec,
	}
}

// SetObserver registers the single state-change observer.
func (m *Machine) SetObserver(o StateObserver) { m.observer = o }

// SetMicMapping points the mic event slots at states. NoHandle disables a
// slot.
func (m *Machine) SetMicMapping(idle, active, intense Handle) {
	m.micIdle, m.micActive, m.micIntense = idle, active, intense
}

// MicMapping returns the current mic slot handles.
func (m *Machine) MicMapping() (idle, active, intense Handle) {
	return m.micIdle, m.micActive, m.micIntense
}

// Current returns the current state handle.
func (m *Machine) Current() Handle { return m.current }

// Previous returns the state before the last change.
func (m *Machine) Previous() Handle { return m.previous }

// SetInitial jumps straight to a state without firing the observer. Used
// once at startup for the first registered state.
func (m *Machine) SetInitial(h Handle) {
	if m.reg.Get(h) != nil {
		m.current = h
	}
}

// Push queues an event for the next Update. Consumer thread only; the
// cross-thread queue lives in the Engine.
func (m *Machine) Push(ev StateEvent) {
	m.pending = append(m.pending, ev)
}

// Update applies all pending events in order. Returns true if any of them
// changed the state.
func (m *Machine) Update() bool {
	changed := false
	for _, ev := range m.pending {
		if m.apply(ev) {
			changed = true
		}
	}
	m.pending = m.pending[:0]
	return changed
}

// ApplyMic applies one coalesced mic event with the mic-swap flag set.
func (m *Machine) ApplyMic(ev StateEvent) bool {
	m.micSwap = true
	changed := m.apply(ev)
	m.micSwap = false
	return changed
}

func (m *Machine) apply(ev StateEvent) bool {
	target := m.Resolve(ev)
	if target == NoHandle || target == m.current {
		return false
	}
	next := m.reg.Get(target)
	if next == nil {
		return false
	}
	old := m.current
	m.previous = old
	m.current = target

	// Per-state overrides win over the default: the outgoing state's exit
	// transition first, then the incoming state's entry transition. An
	// empty kind means the profile set no override.
	spec := m.defaultSpec
	if oldState := m.reg.Get(old); oldState != nil && oldState.TransitionOut.Kind != "" {
		spec = oldState.TransitionOut
	} else if next.TransitionIn.Kind != "" {
		spec = next.TransitionIn
	}

	oldName := "none"
	if s := m.reg.Get(old); s != nil {
		oldName = s.Name
	}
	m.log.Debug().Str("from", oldName).Str("to", next.Name).
		Str("kind", string(spec.Kind)).Bool("mic_swap", m.micSwap).
		Msg("state change")

	if m.observer != nil {
		m.observer.StateChanged(old, target, spec, m.micSwap)
	}
	return true
}

// Resolve maps an event to its target state handle. Empty or unknown
// targets resolve to NoHandle and the event becomes a no-op.
func (m *Machine) Resolve(ev StateEvent) Handle {
	switch ev.Kind {
	case EventSetState, EventMIDITrigger, EventHotkeyTrigger:
		return m.reg.Lookup(ev.Target)
	case EventMicActive:
		return m.micActive
	case EventMicIdle:
		return m.micIdle
	case EventMicIntense:
		if m.micIntense != NoHandle {
			return m.micIntense
		}
		return m.micActive
	case EventIdleTimeout:
		if h := m.reg.Lookup(ev.Target); h != NoHandle {
			return h
		}
		return m.reg.Default()
	case EventIdleCancel:
		if m.micIdle != NoHandle {
			return m.micIdle
		}
		return m.reg.Default()
	}
	return NoHandle
}
