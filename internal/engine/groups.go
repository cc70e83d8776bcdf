package engine

import (
	"time"

	"github.com/rs/zerolog"
)

// Group debounce timing. A group stays visibly active for at least the
// minimum hold even on a quick tap; reverts are floored so rapid off/on
// bounce from a controller is absorbed; mic events are locked out briefly
// after any mapping swap so they cannot race it.
const (
	GroupMinHold     = 300 * time.Millisecond
	GroupRevertFloor = 50 * time.Millisecond
	GroupMicLock     = 150 * time.Millisecond
)

// GroupMapping is a named {idle, active, intense} state triple that mic
// activity cycles through while the group is active.
type GroupMapping struct {
	Idle    Handle
	Active  Handle
	Intense Handle
}

// Groups retargets the machine's mic mapping between the default triple and
// named groups, debouncing rapid activation/revert so the avatar never
// flickers.
type Groups struct {
	reg     *Registry
	machine *Machine
	log     zerolog.Logger
	now     func() time.Time

	mappings map[string]GroupMapping
	defaults GroupMapping
	active   string

	revertPending bool
	revertTimer   float64 // seconds until the pending revert fires
	activatedAt   time.Time
	micLockUntil  time.Time
}

// NewGroups creates the coordinator. now may be nil to use time.Now.
func NewGroups(reg *Registry, machine *Machine, log zerolog.Logger, now func() time.Time) *Groups {
	if now == nil {
		now = time.Now
	}
	return &Groups{
		reg:      reg,
		machine:  machine,
		log:      log,
		now:      now,
		mappings: make(map[string]GroupMapping),
		defaults: GroupMapping{Idle: NoHandle, Active: NoHandle, Intense: NoHandle},
	}
}

// Register adds a named group mapping.
func (g *Groups) Register(name string, m GroupMapping) {
	if name == "" {
		return
	}
	g.mappings[name] = m
}

// SetDefaults records the triple sourced from the mic configuration and
// points the machine at it.
func (g *Groups) SetDefaults(m GroupMapping) {
	g.defaults = m
	if g.active == "" {
		g.machine.SetMicMapping(m.Idle, m.Active, m.Intense)
	}
}

// Active returns the active group name, empty meaning the default triple.
func (g *Groups) Active() string { return g.active }

// MicLocked reports whether mic-driven transitions are currently
// suppressed by a recent mapping swap.
func (g *Groups) MicLocked() bool {
	return g.now().Before(g.micLockUntil)
}

// HandleChange processes a group-change event. A non-empty target activates
// that group immediately; an empty or "default" target schedules a
// debounced revert. Returns true when a group was activated this call.
func (g *Groups) HandleChange(target string) bool {
	if target == "" || target == "default" {
		held := g.now().Sub(g.activatedAt)
		remaining := GroupMinHold - held
		if remaining < GroupRevertFloor {
			remaining = GroupRevertFloor
		}
		g.revertPending = true
		g.revertTimer = remaining.Seconds()
		return false
	}
	if _, ok := g.mappings[target]; !ok {
		g.log.Warn().Str("group", target).Msg("unknown state group")
		return false
	}
	g.revertPending = false
	g.apply(target)
	g.activatedAt = g.now()
	g.micLockUntil = g.now().Add(GroupMicLock)
	return true
}

// Tick decrements the pending revert timer. When it expires the default
// mapping is restored, a fresh mic-lock window opens, and the resulting
// set-state is applied immediately.
func (g *Groups) Tick(dt float64) {
	if !g.revertPending {
		return
	}
	g.revertTimer -= dt
	if g.revertTimer > 0 {
		return
	}
	g.revertPending = false
	g.apply("")
	g.micLockUntil = g.now().Add(GroupMicLock)
	g.machine.Update()
}

// apply swaps the machine's mic mapping and re-targets the current state to
// the same semantic role under the new mapping, so a group switch while
// speaking lands on the new group's speaking state rather than idle.
func (g *Groups) apply(name string) {
	if name == g.active {
		return
	}

	// Infer the current role under the mapping being replaced.
	_, curActive, curIntense := g.machine.MicMapping()
	role := "idle"
	if cur := g.machine.Current(); cur != NoHandle {
		if cur == curActive {
			role = "active"
		} else if cur == curIntense {
			role = "intense"
		}
	}

	var m GroupMapping
	if name == "" {
		m = g.defaults
		g.active = ""
		g.log.Info().Msg("state group reverted to default")
	} else {
		m = g.mappings[name]
		g.active = name
		g.log.Info().Str("group", name).Msg("state group activated")
	}
	g.machine.SetMicMapping(m.Idle, m.Active, m.Intense)

	target := m.Idle
	if role == "intense" && m.Intense != NoHandle {
		target = m.Intense
	} else if role == "active" && m.Active != NoHandle {
		target = m.Active
	}
	if st := g.reg.Get(target); st != nil {
		g.machine.Push(StateEvent{Kind: EventSetState, Target: st.Name})
	}
}
