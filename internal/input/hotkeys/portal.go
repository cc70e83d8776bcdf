// Package hotkeys captures global shortcuts through the XDG Desktop Portal
// GlobalShortcuts interface, so they work under Wayland and inside
// sandboxes without extra permissions.
package hotkeys

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nixchirp/nixchirp/internal/config"
	"github.com/nixchirp/nixchirp/internal/engine"
)

const (
	portalBus      = "org.freedesktop.portal.Desktop"
	portalPath     = dbus.ObjectPath("/org/freedesktop/portal/desktop")
	shortcutsIface = "org.freedesktop.portal.GlobalShortcuts"
	requestIface   = "org.freedesktop.portal.Request"
)

// Mapping binds one portal shortcut to an action.
type Mapping struct {
	ID     string // portal shortcut id, assigned at bind time
	Keys   string // preferred trigger, e.g. "ctrl+shift+1"
	Action string // set_state or set_group
	Target string
}

// MappingsFromConfig converts profile entries.
func MappingsFromConfig(cfgs []config.HotkeyConfig) []Mapping {
	out := make([]Mapping, 0, len(cfgs))
	for i, c := range cfgs {
		out = append(out, Mapping{
			ID:     fmt.Sprintf("nixchirp_%d", i),
			Keys:   c.Keys,
			Action: c.Action,
			Target: c.Target,
		})
	}
	return out
}

type shortcut struct {
	ID    string
	Props map[string]dbus.Variant
}

// Portal is a worker that owns the D-Bus session and forwards Activated
// signals as events on the shared queue. It is shut down by closing done.
type Portal struct {
	queue    *engine.Queue
	log      zerolog.Logger
	mappings []Mapping

	conn    *dbus.Conn
	session dbus.ObjectPath
	signals chan *dbus.Signal
	done    chan struct{}
}

// New creates an idle portal worker.
func New(queue *engine.Queue, mappings []Mapping, log zerolog.Logger) *Portal {
	return &Portal{
		queue:    queue,
		mappings: mappings,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start connects to the session bus, creates a portal session, binds the
// shortcuts, and begins forwarding activations. Portal absence is reported
// as an error the caller may treat as non-fatal.
func (p *Portal) Start() error {
	if len(p.mappings) == 0 {
		return nil
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("session bus: %w", err)
	}
	p.conn = conn

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return fmt.Errorf("match request signals: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(shortcutsIface),
	); err != nil {
		return fmt.Errorf("match shortcut signals: %w", err)
	}

	p.signals = make(chan *dbus.Signal, 16)
	conn.Signal(p.signals)

	go p.run()
	return nil
}

// Stop shuts the worker down and closes the portal session.
func (p *Portal) Stop() {
	close(p.done)
}

func (p *Portal) run() {
	sessionToken := requestToken()
	createPath, err := p.callWithRequest("CreateSession", map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(sessionToken),
	})
	if err != nil {
		p.log.Info().Err(err).Msg("GlobalShortcuts portal unavailable")
		return
	}

	bindRequested := false
	for {
		select {
		case <-p.done:
			p.closeSession()
			return
		case sig, ok := <-p.signals:
			if !ok {
				return
			}
			switch sig.Name {
			case requestIface + ".Response":
				code, results := parseResponse(sig)
				if sig.Path == createPath {
					if code != 0 {
						p.log.Warn().Uint32("code", code).Msg("portal session denied")
						return
					}
					if v, ok := results["session_handle"]; ok {
						if s, ok := v.Value().(string); ok {
							p.session = dbus.ObjectPath(s)
						}
					}
					if p.session == "" {
						p.log.Warn().Msg("portal session handle missing")
						return
					}
					p.log.Info().Str("session", string(p.session)).Msg("portal session created")
					if !bindRequested {
						bindRequested = true
						if err := p.bindShortcuts(); err != nil {
							p.log.Warn().Err(err).Msg("shortcut bind failed")
						}
					}
				} else if code != 0 {
					p.log.Warn().Uint32("code", code).Msg("shortcut bind denied")
				}
			case shortcutsIface + ".Activated":
				p.dispatch(sig, true)
			case shortcutsIface + ".Deactivated":
				p.dispatch(sig, false)
			}
		}
	}
}

// dispatch routes an Activated/Deactivated signal to its mapping.
// Signal body: session handle, shortcut id, timestamp, options.
func (p *Portal) dispatch(sig *dbus.Signal, pressed bool) {
	if len(sig.Body) < 2 {
		return
	}
	id, ok := sig.Body[1].(string)
	if !ok {
		return
	}
	for _, m := range p.mappings {
		if m.ID != id {
			continue
		}
		switch m.Action {
		case "set_group":
			if pressed {
				p.queue.Push(engine.StateEvent{Kind: engine.EventGroupChange, Target: m.Target})
			} else {
				p.queue.Push(engine.StateEvent{Kind: engine.EventGroupChange})
			}
		default: // set_state, press only
			if pressed {
				p.queue.Push(engine.StateEvent{Kind: engine.EventHotkeyTrigger, Target: m.Target})
			}
		}
		p.log.Debug().Str("shortcut", id).Bool("pressed", pressed).
			Str("action", m.Action).Str("target", m.Target).
			Msg("hotkey fired")
		return
	}
}

func (p *Portal) bindShortcuts() error {
	shortcuts := make([]shortcut, 0, len(p.mappings))
	for _, m := range p.mappings {
		props := map[string]dbus.Variant{
			"description": dbus.MakeVariant(fmt.Sprintf("%s: %s", m.Action, m.Target)),
		}
		if m.Keys != "" {
			props["preferred_trigger"] = dbus.MakeVariant(m.Keys)
		}
		shortcuts = append(shortcuts, shortcut{ID: m.ID, Props: props})
	}
	_, err := p.callWithRequest("BindShortcuts", p.session, shortcuts, "")
	return err
}

// callWithRequest invokes a portal method that answers via a Response
// signal on a request object, and returns the request path to match the
// signal against. The options argument must be last per portal convention;
// a handle token is injected so the request path is predictable.
func (p *Portal) callWithRequest(method string, args ...interface{}) (dbus.ObjectPath, error) {
	token := requestToken()
	sender := strings.ReplaceAll(strings.TrimPrefix(p.conn.Names()[0], ":"), ".", "_")
	requestPath := dbus.ObjectPath("/org/freedesktop/portal/desktop/request/" + sender + "/" + token)

	var options map[string]dbus.Variant
	if n := len(args); n > 0 {
		if existing, ok := args[n-1].(map[string]dbus.Variant); ok {
			options = existing
			args = args[:n-1]
		}
	}
	if options == nil {
		options = map[string]dbus.Variant{}
	}
	options["handle_token"] = dbus.MakeVariant(token)
	args = append(args, options)

	obj := p.conn.Object(portalBus, portalPath)
	var returned dbus.ObjectPath
	if err := obj.Call(shortcutsIface+"."+method, 0, args...).Store(&returned); err != nil {
		return "", err
	}
	// Older portal versions may return a different path than the token
	// predicts; trust the returned one.
	if returned != "" {
		return returned, nil
	}
	return requestPath, nil
}

func (p *Portal) closeSession() {
	if p.conn == nil {
		return
	}
	if p.session != "" {
		p.conn.Object(portalBus, p.session).Call("org.freedesktop.portal.Session.Close", 0)
	}
	p.conn.RemoveSignal(p.signals)
}

func requestToken() string {
	return "nixchirp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func parseResponse(sig *dbus.Signal) (uint32, map[string]dbus.Variant) {
	var code uint32
	results := map[string]dbus.Variant{}
	if len(sig.Body) > 0 {
		if c, ok := sig.Body[0].(uint32); ok {
			code = c
		}
	}
	if len(sig.Body) > 1 {
		if r, ok := sig.Body[1].(map[string]dbus.Variant); ok {
			results = r
		}
	}
	return code, results
}
