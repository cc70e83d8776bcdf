// Package remote exposes a small websocket control surface: external tools
// (stream decks, chat bots) push state or group changes and receive a
// broadcast whenever the avatar's state commits.
package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nixchirp/nixchirp/internal/engine"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Command is an inbound control message.
type Command struct {
	Action string `json:"action"` // set-state or set-group
	Target string `json:"target"`
}

// StateChange is broadcast to every client when the avatar changes state.
type StateChange struct {
	Event      string `json:"event"`
	From       string `json:"from"`
	To         string `json:"to"`
	Transition string `json:"transition"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server owns the HTTP listener and the client set. Broadcast is called
// from the consumer thread; client registration happens on handler
// goroutines, so the set sits behind a mutex.
type Server struct {
	addr     string
	queue    *engine.Queue
	log      zerolog.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a server that will listen on addr.
func New(addr string, queue *engine.Queue, log zerolog.Logger) *Server {
	return &Server{
		addr:  addr,
		queue: queue,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local control surface; same-origin rules don't apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Start begins serving /ws. Errors after startup are logged, not returned.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.server = &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("remote control listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn().Err(err).Msg("remote control server stopped")
		}
	}()
}

// Stop shuts the listener down and disconnects every client.
func (s *Server) Stop(ctx context.Context) {
	if s.server != nil {
		_ = s.server.Shutdown(ctx)
	}
	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.mu.Unlock()
}

// Broadcast fans a committed state change out to every connected client.
func (s *Server) Broadcast(oldName, newName string, kind engine.TransitionKind) {
	msg, err := json.Marshal(StateChange{
		Event:      "state_changed",
		From:       oldName,
		To:         newName,
		Transition: string(kind),
	})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			// Slow client; drop it rather than block the tick thread.
			close(c.send)
			delete(s.clients, c)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.log.Info().Str("remote", r.RemoteAddr).Msg("remote client connected")

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[c]; ok {
			close(c.send)
			delete(s.clients, c)
		}
		s.mu.Unlock()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("remote client read error")
			}
			return
		}
		switch cmd.Action {
		case "set-state":
			s.queue.Push(engine.StateEvent{Kind: engine.EventSetState, Target: cmd.Target})
		case "set-group":
			s.queue.Push(engine.StateEvent{Kind: engine.EventGroupChange, Target: cmd.Target})
		default:
			s.log.Debug().Str("action", cmd.Action).Msg("unknown remote action")
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
