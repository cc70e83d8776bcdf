// Package engine implements the real-time avatar state and playback engine:
// the event multiplexer, the state machine, group retargeting with debounce,
// and the playback/transition controller. Everything in this package is
// owned by the consumer (tick) thread; the only cross-thread structure is
// the event Queue.
package engine

import "sync"

// EventKind identifies what produced a StateEvent.
type EventKind string

const (
	EventMicActive     EventKind = "mic.active"
	EventMicIdle       EventKind = "mic.idle"
	EventMicIntense    EventKind = "mic.intense"
	EventMIDITrigger   EventKind = "midi.trigger"
	EventHotkeyTrigger EventKind = "hotkey.trigger"
	EventGroupChange   EventKind = "group.change"
	EventIdleTimeout   EventKind = "idle.timeout"
	EventIdleCancel    EventKind = "idle.cancel"
	EventSetState      EventKind = "state.set"
	EventToggleMic     EventKind = "mic.toggle"
)

// StateEvent is a request to change the avatar's state. Target carries a
// state or group name for kinds that address one directly; Value carries an
// optional magnitude (RMS, MIDI velocity) for observability.
type StateEvent struct {
	Kind   EventKind
	Target string
	Value  float64
}

func isMicKind(k EventKind) bool {
	return k == EventMicActive || k == EventMicIdle || k == EventMicIntense
}

// Queue is the multi-producer single-consumer event queue shared between
// the input producers and the tick loop. Push never blocks; Drain hands the
// whole batch to the consumer in FIFO order.
type Queue struct {
	mu     sync.Mutex
	events []StateEvent
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push enqueues an event. Safe from any goroutine.
func (q *Queue) Push(ev StateEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Drain removes and returns every queued event in arrival order. Called
// once per tick by the consumer.
func (q *Queue) Drain() []StateEvent {
	q.mu.Lock()
	evs := q.events
	q.events = nil
	q.mu.Unlock()
	return evs
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
