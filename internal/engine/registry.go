package engine

import "fmt"

// Handle is a stable identifier for a registered state. Handles survive
// renames, so cursors, group mappings, and the current/previous references
// never dangle when the user edits a name.
type Handle int

// NoHandle marks an absent or unresolved state reference.
const NoHandle Handle = -1

// State is a named avatar pose bound to one animation asset.
type State struct {
	Name          string
	AssetPath     string
	Loop          bool
	Speed         float64
	Group         string
	TransitionIn  TransitionSpec
	TransitionOut TransitionSpec
}

// Registry is the state table: an arena addressed by Handle plus a
// name index rebuilt on rename. The first state added becomes the default.
type Registry struct {
	arena      []*State
	byName     map[string]Handle
	defaultTgt Handle
}

// NewRegistry creates an empty state table.
func NewRegistry() *Registry {
	return &Registry{
		byName:     make(map[string]Handle),
		defaultTgt: NoHandle,
	}
}

// Add registers a state and returns its handle. Speed is clamped to the
// valid range; a duplicate name replaces the index entry but keeps both
// arena slots alive (last add wins lookups).
func (r *Registry) Add(s State) Handle {
	if s.Speed < MinSpeedMultiplier {
		s.Speed = MinSpeedMultiplier
	} else if s.Speed > MaxSpeedMultiplier {
		s.Speed = MaxSpeedMultiplier
	}
	h := Handle(len(r.arena))
	st := s
	r.arena = append(r.arena, &st)
	r.byName[s.Name] = h
	if r.defaultTgt == NoHandle {
		r.defaultTgt = h
	}
	return h
}

// Get returns the state for a handle, or nil for NoHandle/removed entries.
func (r *Registry) Get(h Handle) *State {
	if h < 0 || int(h) >= len(r.arena) {
		return nil
	}
	return r.arena[h]
}

// Lookup resolves a name to a handle.
func (r *Registry) Lookup(name string) Handle {
	if name == "" {
		return NoHandle
	}
	if h, ok := r.byName[name]; ok {
		return h
	}
	return NoHandle
}

// Rename changes a state's name, keeping its handle. In-flight references
// held by handle are unaffected.
func (r *Registry) Rename(h Handle, newName string) error {
	st := r.Get(h)
	if st == nil {
		return fmt.Errorf("rename: unknown state handle %d", h)
	}
	if newName == "" {
		return fmt.Errorf("rename: empty name")
	}
	if existing, ok := r.byName[newName]; ok && existing != h {
		return fmt.Errorf("rename: name %q already in use", newName)
	}
	delete(r.byName, st.Name)
	st.Name = newName
	r.byName[newName] = h
	return nil
}

// Remove deletes a state. Its handle goes dead and resolves to nil.
func (r *Registry) Remove(h Handle) {
	st := r.Get(h)
	if st == nil {
		return
	}
	delete(r.byName, st.Name)
	r.arena[h] = nil
	if r.defaultTgt == h {
		r.defaultTgt = NoHandle
		for i, s := range r.arena {
			if s != nil {
				r.defaultTgt = Handle(i)
				break
			}
		}
	}
}

// Default returns the fallback state (first registered unless overridden).
func (r *Registry) Default() Handle { return r.defaultTgt }

// SetDefault overrides the fallback state. Unknown handles are ignored.
func (r *Registry) SetDefault(h Handle) {
	if r.Get(h) != nil {
		r.defaultTgt = h
	}
}

// Handles returns live handles in registration order.
func (r *Registry) Handles() []Handle {
	out := make([]Handle, 0, len(r.arena))
	for i, s := range r.arena {
		if s != nil {
			out = append(out, Handle(i))
		}
	}
	return out
}

// Len returns the number of live states.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.arena {
		if s != nil {
			n++
		}
	}
	return n
}

// Speed multiplier bounds applied at registration.
const (
	MinSpeedMultiplier = 0.1
	MaxSpeedMultiplier = 5.0
)
