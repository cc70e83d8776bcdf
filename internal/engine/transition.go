package engine

import (
	"strings"
	"time"
)

// TransitionKind selects how two clips are blended on a state change.
type TransitionKind string

const (
	TransitionCut       TransitionKind = "cut"
	TransitionCrossfade TransitionKind = "crossfade"
)

// DefaultTransitionDurationMS is used when a profile omits a duration.
const DefaultTransitionDurationMS = 80

// ParseTransitionKind maps a profile string to a kind; anything
// unrecognized is a cut.
func ParseTransitionKind(s string) TransitionKind {
	if strings.ToLower(strings.TrimSpace(s)) == string(TransitionCrossfade) {
		return TransitionCrossfade
	}
	return TransitionCut
}

// TransitionSpec is a transition kind plus its duration.
type TransitionSpec struct {
	Kind       TransitionKind
	DurationMS int
}

// Transition tracks one in-progress blend between the previous and current
// clip. Blend progress is wall-clock based so it is immune to frame-rate
// variance.
type Transition struct {
	spec   TransitionSpec
	start  time.Time
	active bool
	now    func() time.Time
}

// NewTransition creates a transition; now may be nil to use time.Now.
func NewTransition(spec TransitionSpec, now func() time.Time) *Transition {
	if spec.DurationMS < 1 {
		spec.DurationMS = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Transition{spec: spec, now: now}
}

// Start begins the blend. Cuts complete immediately.
func (t *Transition) Start() {
	if t.spec.Kind == TransitionCut {
		t.active = false
		return
	}
	t.start = t.now()
	t.active = true
}

// Active reports whether the blend is still in progress.
func (t *Transition) Active() bool { return t.active }

// Kind returns the transition kind.
func (t *Transition) Kind() TransitionKind { return t.spec.Kind }

// Blend returns the current blend factor: 0 = fully previous clip,
// 1 = fully current clip. Cuts and finished transitions report 1.
func (t *Transition) Blend() float64 {
	if !t.active || t.spec.Kind == TransitionCut {
		return 1.0
	}
	elapsed := float64(t.now().Sub(t.start)) / float64(time.Millisecond)
	x := elapsed / float64(t.spec.DurationMS)
	if x >= 1.0 {
		return 1.0
	}
	// Cubic smoothstep for a softer visual ease.
	return x * x * (3.0 - 2.0*x)
}

// Update marks the transition inactive once its duration has elapsed.
// Returns true while still in progress.
func (t *Transition) Update() bool {
	if !t.active {
		return false
	}
	elapsed := float64(t.now().Sub(t.start)) / float64(time.Millisecond)
	if elapsed >= float64(t.spec.DurationMS) {
		t.active = false
		return false
	}
	return true
}

// Cancel stops the transition immediately.
func (t *Transition) Cancel() { t.active = false }
