package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/logging"
)

// Client message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
)

// Server message types.
const (
	MsgEvent = "event"
	MsgAck   = "ack"
	MsgPong  = "pong"
	MsgError = "error"
)

// Event channels a client can subscribe to.
const (
	EventGrammarUpdated    = "grammar.updated"
	EventMappingChanged    = "mapping.changed"
	EventDispatchCompleted = "dispatch.completed"
)

var eventChannels = []string{EventGrammarUpdated, EventMappingChanged, EventDispatchCompleted}

// clientQueueSize is the number of outbound messages buffered per client.
// Events beyond it are dropped for that client.
const clientQueueSize = 256

// Subscription selects event channels, optionally narrowed to backends.
// No backends means every backend.
type Subscription struct {
	Channels []string `json:"channels"`
	Backends []string `json:"backends,omitempty"`
}

// ClientMessage is a message received from a WebSocket client.
type ClientMessage struct {
	Type         string        `json:"type"`
	ID           string        `json:"id,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// ServerMessage is a message sent to a WebSocket client. Events carry the
// backend they concern; acks carry the client's full subscription set.
type ServerMessage struct {
	Type          string          `json:"type"`
	ID            string          `json:"id,omitempty"`
	Event         string          `json:"event,omitempty"`
	Backend       string          `json:"backend,omitempty"`
	Time          time.Time       `json:"time"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Subscriptions []Subscription  `json:"subscriptions,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Hub tracks connected clients and fans events out to their subscriptions.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	backends map[string]bool

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	dropped atomic.Uint64
}

// wsClient is one connection. done is closed exactly once when the client
// leaves the hub; send is never closed.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.RWMutex
	subs map[string]map[string]bool // channel -> backends, nil = all
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub accepting subscriptions for the given backends.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, backends []string) *Hub {
	known := make(map[string]bool, len(backends))
	for _, id := range backends {
		known[id] = true
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		backends: known,
		clients:  make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	clear(h.clients)
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of events discarded because a client queue
// was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Broadcast delivers an event about backend to every client subscribed to
// the channel for that backend.
func (h *Hub) Broadcast(channel, backend string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encoding websocket event failed", "event", channel, "error", err)
		return
	}
	data, err := json.Marshal(ServerMessage{
		Type:    MsgEvent,
		Event:   channel,
		Backend: backend,
		Time:    time.Now().UTC(),
		Payload: body,
	})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "event", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(channel, backend) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			h.dropped.Add(1)
		}
	}
	if len(targets) > 0 {
		h.logger.Debug("websocket event sent", "event", channel, "backend", backend, "recipients", len(targets))
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.stop()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// handleWebSocket upgrades an authenticated request to the event stream.
// Authentication is a single-use ticket from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	if !s.tickets.consume(ticket) {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, clientQueueSize),
		done: make(chan struct{}),
		subs: make(map[string]map[string]bool),
	}
	s.hub.add(c)
	go c.writeLoop()
	go c.readLoop()
}

func (c *wsClient) stop() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue queues data without blocking. It reports false when the client
// is gone or its queue is full.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) readLoop() {
	defer c.hub.remove(c)

	cfg := c.hub.cfg
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any message counts.
		extend() //nolint:errcheck // a failed deadline surfaces as a read error
		c.handle(data)
	}
}

func (c *wsClient) writeLoop() {
	cfg := c.hub.cfg
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ping.Stop()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case <-c.done:
			return
		case data := <-c.send:
			err = write(websocket.TextMessage, data)
		case <-ping.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			c.stop()
			return
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(ServerMessage{Type: MsgError, Error: "invalid JSON message"})
		return
	}

	switch msg.Type {
	case MsgPing:
		c.reply(ServerMessage{Type: MsgPong, ID: msg.ID})
	case MsgSubscribe, MsgUnsubscribe:
		if err := c.hub.checkSubscription(msg.Subscription); err != nil {
			c.reply(ServerMessage{Type: MsgError, ID: msg.ID, Error: err.Error()})
			return
		}
		if msg.Type == MsgSubscribe {
			c.subscribe(*msg.Subscription)
		} else {
			c.unsubscribe(*msg.Subscription)
		}
		c.hub.logger.Debug("websocket subscription changed",
			"op", msg.Type,
			"channels", msg.Subscription.Channels,
			"backends", msg.Subscription.Backends,
		)
		c.reply(ServerMessage{Type: MsgAck, ID: msg.ID, Subscriptions: c.subscriptions()})
	default:
		c.reply(ServerMessage{Type: MsgError, ID: msg.ID, Error: "unknown message type: " + msg.Type})
	}
}

func (c *wsClient) reply(msg ServerMessage) {
	msg.Time = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (h *Hub) checkSubscription(sub *Subscription) error {
	if sub == nil || len(sub.Channels) == 0 {
		return fmt.Errorf("subscription requires at least one channel")
	}
	for _, ch := range sub.Channels {
		if !slices.Contains(eventChannels, ch) {
			return fmt.Errorf("unknown channel %q", ch)
		}
	}
	for _, b := range sub.Backends {
		if !h.backends[b] {
			return fmt.Errorf("unknown backend %q", b)
		}
	}
	return nil
}

func (c *wsClient) subscribe(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range sub.Channels {
		cur, ok := c.subs[ch]
		switch {
		case len(sub.Backends) == 0:
			c.subs[ch] = nil
		case ok && cur == nil:
			// Already subscribed to every backend.
		default:
			if cur == nil {
				cur = make(map[string]bool, len(sub.Backends))
				c.subs[ch] = cur
			}
			for _, b := range sub.Backends {
				cur[b] = true
			}
		}
	}
}

// unsubscribe drops channels, or only the named backends of them. Narrowing
// a channel held for every backend is not supported and drops it entirely.
func (c *wsClient) unsubscribe(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range sub.Channels {
		cur := c.subs[ch]
		if len(sub.Backends) == 0 || cur == nil {
			delete(c.subs, ch)
			continue
		}
		for _, b := range sub.Backends {
			delete(cur, b)
		}
		if len(cur) == 0 {
			delete(c.subs, ch)
		}
	}
}

func (c *wsClient) wants(channel, backend string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	backends, ok := c.subs[channel]
	return ok && (backends == nil || backends[backend])
}

// subscriptions returns the current set, one entry per channel in channel
// order.
func (c *wsClient) subscriptions() []Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Subscription, 0, len(c.subs))
	for _, ch := range eventChannels {
		backends, ok := c.subs[ch]
		if !ok {
			continue
		}
		sub := Subscription{Channels: []string{ch}}
		for b := range backends {
			sub.Backends = append(sub.Backends, b)
		}
		slices.Sort(sub.Backends)
		out = append(out, sub)
	}
	return out
}
