// Package hub is the dashboard transport: a websocket fan-out for session
// state deltas and the inbound command channel (start, stop, send-message,
// manual state overrides). The dashboard itself is a thin consumer; all
// decisions live in the session package.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatdock/internal/config"
	"chatdock/internal/session"
)

// envelope frames every message in both directions.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// stateUpdate is the payload of outbound (and inbound) state:update events.
type stateUpdate struct {
	ID    string          `json:"id"`
	State json.RawMessage `json:"state"`
}

// sessionOverrides is the per-session config carried by start-browser.
type sessionOverrides struct {
	AutoReply      *bool    `json:"autoReply,omitempty"`
	Proxy          []string `json:"proxy,omitempty"`
	WelcomeTexts   []string `json:"welcomeTexts,omitempty"`
	ReplyTemplates []string `json:"replyTemplates,omitempty"`
}

type startEntry struct {
	ID     string           `json:"id"`
	Config sessionOverrides `json:"config"`
}

type sendMessageCmd struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	MessageID string `json:"messageId,omitempty"`
}

type saveConfigCmd struct {
	WelcomeTexts   *string `json:"welcomeTexts,omitempty"`
	ReplyTemplates *string `json:"replyTemplates,omitempty"`
	Proxies        *string `json:"proxies,omitempty"`
}

// Hub owns the connected dashboard clients and routes their commands.
type Hub struct {
	reg      *session.Registry
	store    *config.Store
	log      *zap.Logger
	shutdown func()

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]bool
}

// New creates a hub. shutdown is invoked on the stop-program command.
// reg may be nil at construction (the registry's factory needs the hub as its
// publisher); wire it with SetRegistry before serving.
func New(reg *session.Registry, store *config.Store, log *zap.Logger, shutdown func()) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		reg:      reg,
		store:    store,
		log:      log,
		shutdown: shutdown,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Dashboard is served from the same host; accept it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
	}
}

// SetRegistry completes wiring. Must happen before ServeWS is reachable.
func (h *Hub) SetRegistry(reg *session.Registry) {
	h.reg = reg
}

// PublishState implements session.Publisher: every delta reaches every
// connected dashboard.
func (h *Hub) PublishState(id string, patch session.Patch) {
	raw, err := json.Marshal(patch)
	if err != nil {
		h.log.Warn("marshal state patch", zap.Error(err))
		return
	}
	h.broadcast("state:update", stateUpdate{ID: id, State: raw})
}

func (h *Hub) broadcast(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Warn("marshal broadcast payload", zap.Error(err))
		return
	}
	msg, err := json.Marshal(envelope{Event: event, Payload: raw})
	if err != nil {
		return
	}
	h.mu.Lock()
	for c := range h.clients {
		c.enqueue(msg)
	}
	h.mu.Unlock()
}

// ServeWS upgrades the connection and runs the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := newClient(conn)

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	go c.writePump()

	// Fresh dashboards need the current picture, not just future deltas.
	h.replayStates(c)

	h.readLoop(c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// replayStates sends every live session's full state to one client.
func (h *Hub) replayStates(c *client) {
	h.reg.ForEach(func(s *session.ChatSession) {
		raw, err := json.Marshal(s.Snapshot())
		if err != nil {
			return
		}
		payload, err := json.Marshal(stateUpdate{ID: s.ID(), State: raw})
		if err != nil {
			return
		}
		msg, err := json.Marshal(envelope{Event: "state:update", Payload: payload})
		if err != nil {
			return
		}
		c.enqueue(msg)
	})
}

func (h *Hub) readLoop(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.log.Debug("bad command frame", zap.Error(err))
			continue
		}
		h.handleCommand(env)
	}
}

func (h *Hub) handleCommand(env envelope) {
	switch env.Event {
	case "start-browser":
		var entries []startEntry
		if err := json.Unmarshal(env.Payload, &entries); err != nil {
			h.log.Debug("bad start-browser payload", zap.Error(err))
			return
		}
		for _, e := range entries {
			if e.ID == "" {
				continue
			}
			cfg := h.sessionConfig(e.Config)
			if err := cfg.Validate(); err != nil {
				h.log.Warn("rejecting start-browser", zap.String("id", e.ID), zap.Error(err))
				continue
			}
			if s := h.reg.Create(e.ID, cfg); s != nil {
				s.Start()
			}
		}

	case "stop-browser":
		var cmd struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return
		}
		if s, ok := h.reg.Get(cmd.ID); ok {
			go s.Stop(true)
		}

	case "stop-program":
		h.log.Info("stop-program received")
		if h.shutdown != nil {
			h.shutdown()
		}

	case "send-message":
		var cmd sendMessageCmd
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return
		}
		s, ok := h.reg.Get(cmd.ID)
		if !ok {
			return
		}
		if cmd.MessageID != "" {
			s.SubmitSecureField(cmd.MessageID, cmd.Message)
			return
		}
		s.SendManual([]string{cmd.Message})

	case "state:update":
		var cmd stateUpdate
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return
		}
		var patch session.Patch
		if err := json.Unmarshal(cmd.State, &patch); err != nil {
			return
		}
		if s, ok := h.reg.Get(cmd.ID); ok {
			s.ApplyPatch(patch)
		}

	case "save-config":
		var cmd saveConfigCmd
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return
		}
		if err := h.store.Update(func(f *config.File) {
			if cmd.WelcomeTexts != nil {
				f.WelcomeTexts = *cmd.WelcomeTexts
			}
			if cmd.ReplyTemplates != nil {
				f.ReplyTemplates = *cmd.ReplyTemplates
			}
			if cmd.Proxies != nil {
				f.Proxies = *cmd.Proxies
			}
		}); err != nil {
			h.log.Warn("save config failed", zap.Error(err))
		}

	default:
		h.log.Debug("unknown command", zap.String("event", env.Event))
	}
}

// sessionConfig overlays start-browser overrides on the stored defaults.
func (h *Hub) sessionConfig(o sessionOverrides) config.Session {
	cfg := h.store.Current().Session()
	if o.AutoReply != nil {
		cfg.AutoReply = *o.AutoReply
	}
	if len(o.Proxy) > 0 {
		cfg.ProxyPool = o.Proxy
	}
	if len(o.WelcomeTexts) > 0 {
		cfg.WelcomeTexts = o.WelcomeTexts
	}
	if len(o.ReplyTemplates) > 0 {
		cfg.ReplyTemplates = o.ReplyTemplates
	}
	return cfg
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]bool)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// client wraps one websocket connection with a buffered writer goroutine so a
// slow dashboard cannot block broadcasts.
type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, 256)}
}

// enqueue drops the frame when the client's buffer is full; the replay on
// reconnect restores a consistent picture.
func (c *client) enqueue(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}
