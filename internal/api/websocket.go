package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

const (
	// WSTypeSubscribe is the only message clients send.
	WSTypeSubscribe = "subscribe"
	// WSTypeEvent wraps every broadcast.
	WSTypeEvent = "event"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 32
)

// WSMessage is the envelope of both directions: subscribe requests from
// the dashboard and events to it.
type WSMessage struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsSubscribe is an inbound subscribe request.
type wsSubscribe struct {
	Type    string `json:"type"`
	Payload struct {
		Channels []string `json:"channels"`
	} `json:"payload"`
}

// Hub fans broadcast events out to subscribed dashboard clients. It
// satisfies the telemetry publisher's Broadcaster.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
}

// The dashboard is served from the node itself on the local network.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "websocket"),
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// unregister removes c. Only the caller that removes it from the map
// closes its send channel.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	recipients := h.subscribers(channel)
	if len(recipients) == 0 {
		return
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	for _, c := range recipients {
		c.trySend(data)
	}
}

// subscribers snapshots the clients subscribed to channel. The hub lock
// is released before any client lock is taken.
func (h *Hub) subscribers(channel string) []*wsClient {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	out := clients[:0]
	for _, c := range clients {
		if c.subscribed(channel) {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// handleWebSocket upgrades the connection for live dashboard events.
// Clients receive nothing until they subscribe to a channel ("reading",
// "alarm").
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
	}
	s.hub.register(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

func (c *wsClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))

		var msg wsSubscribe
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != WSTypeSubscribe {
			c.hub.logger.Debug("ignoring websocket message", "bytes", len(data))
			continue
		}
		c.mu.Lock()
		for _, ch := range msg.Payload.Channels {
			c.channels[ch] = struct{}{}
		}
		c.mu.Unlock()
		c.hub.logger.Debug("websocket client subscribed", "channels", msg.Payload.Channels)
	}
}

func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues data, dropping it for a slow client and absorbing the
// send on a channel closed by a concurrent disconnect.
func (c *wsClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}
