// Package midi routes MIDI controller input to state events: pads and keys
// can jump to states, switch state groups (momentary or latching), or
// toggle the mic.
package midi

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters the driver

	"github.com/nixchirp/nixchirp/internal/config"
	"github.com/nixchirp/nixchirp/internal/engine"
)

// Mapping binds one MIDI event pattern to an action.
type Mapping struct {
	Device    string // port name filter, empty matches any
	EventType string // note_on or cc
	Channel   uint8
	Note      uint8 // note or controller number
	Action    string // set_state, set_group, toggle_mic
	Target    string
	Mode      string // momentary (revert on release) or toggle

	latched bool // toggle-mode bookkeeping, listener goroutine only
}

// MappingsFromConfig converts profile entries.
func MappingsFromConfig(cfgs []config.MidiMappingConfig) []Mapping {
	out := make([]Mapping, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Mapping{
			Device:    c.Device,
			EventType: c.EventType,
			Channel:   uint8(c.Channel),
			Note:      uint8(c.Note),
			Action:    c.Action,
			Target:    c.Target,
			Mode:      c.Mode,
		})
	}
	return out
}

// Router listens on every available MIDI input port and pushes matching
// events onto the shared queue. Message callbacks run on the driver's
// goroutine; the queue is the only thing they touch.
type Router struct {
	queue    *engine.Queue
	log      zerolog.Logger
	mappings []Mapping
	stops    []func()
}

// NewRouter creates a router over the shared event queue.
func NewRouter(queue *engine.Queue, mappings []Mapping, log zerolog.Logger) *Router {
	return &Router{queue: queue, mappings: mappings, log: log}
}

// Start connects to all input ports. Missing devices are not an error; the
// router simply routes nothing.
func (r *Router) Start() error {
	ins := midi.GetInPorts()
	if len(ins) == 0 {
		r.log.Info().Msg("no MIDI input ports found")
		return nil
	}
	for _, in := range ins {
		port := in
		portName := port.String()
		stop, err := midi.ListenTo(port, func(msg midi.Message, timestampms int32) {
			r.route(portName, msg)
		})
		if err != nil {
			r.log.Warn().Err(err).Str("port", portName).Msg("MIDI port unavailable")
			continue
		}
		r.stops = append(r.stops, stop)
		r.log.Info().Str("port", portName).Msg("listening on MIDI port")
	}
	if len(r.stops) == 0 {
		return fmt.Errorf("no MIDI port could be opened")
	}
	return nil
}

// Stop disconnects from all ports.
func (r *Router) Stop() {
	for _, stop := range r.stops {
		stop()
	}
	r.stops = nil
	midi.CloseDriver()
}

func (r *Router) route(port string, msg midi.Message) {
	var ch, key, vel uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		r.press(port, "note_on", ch, key, float64(vel))
	case msg.GetNoteEnd(&ch, &key):
		r.release(port, ch, key)
	case msg.GetControlChange(&ch, &key, &vel):
		r.press(port, "cc", ch, key, float64(vel))
	}
}

func (r *Router) press(port, eventType string, ch, key uint8, value float64) {
	for i := range r.mappings {
		m := &r.mappings[i]
		if !m.matches(port, eventType, ch, key) {
			continue
		}
		switch m.Action {
		case "toggle_mic":
			r.queue.Push(engine.StateEvent{Kind: engine.EventToggleMic, Value: value})
		case "set_group":
			if m.Mode == "toggle" {
				if m.latched {
					m.latched = false
					r.queue.Push(engine.StateEvent{Kind: engine.EventGroupChange, Value: value})
				} else {
					m.latched = true
					r.queue.Push(engine.StateEvent{Kind: engine.EventGroupChange, Target: m.Target, Value: value})
				}
			} else {
				r.queue.Push(engine.StateEvent{Kind: engine.EventGroupChange, Target: m.Target, Value: value})
			}
		default: // set_state
			r.queue.Push(engine.StateEvent{Kind: engine.EventMIDITrigger, Target: m.Target, Value: value})
		}
		r.log.Debug().Str("port", port).Str("type", eventType).
			Uint8("channel", ch).Uint8("note", key).
			Str("action", m.Action).Str("target", m.Target).
			Msg("MIDI mapping fired")
	}
}

// release handles note-off for momentary group mappings: the group reverts
// (debounced by the engine) when the pad is let go.
func (r *Router) release(port string, ch, key uint8) {
	for i := range r.mappings {
		m := &r.mappings[i]
		if m.Action != "set_group" || m.Mode == "toggle" {
			continue
		}
		if !m.matches(port, "note_on", ch, key) {
			continue
		}
		r.queue.Push(engine.StateEvent{Kind: engine.EventGroupChange})
	}
}

func (m *Mapping) matches(port, eventType string, ch, key uint8) bool {
	if m.Device != "" && !strings.Contains(port, m.Device) {
		return false
	}
	if m.EventType != eventType {
		return false
	}
	return m.Channel == ch && m.Note == key
}
