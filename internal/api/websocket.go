package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/combat"
	"github.com/aionmeter/aionmeter/internal/events"
	"github.com/aionmeter/aionmeter/internal/util"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsPingInterval   = 25 * time.Second
	wsSendBuffer     = 16
	wsDefaultPushGap = time.Second
)

// Websocket message types.
const (
	MessageSnapshot    = "snapshot"
	MessageCombatReset = "combat_reset"
)

// Message is the JSON document pushed to websocket clients.
type Message struct {
	Type      string                     `json:"type"`
	Timestamp time.Time                  `json:"timestamp"`
	Summary   *combat.Summary            `json:"summary,omitempty"`
	Players   []combat.PlayerStats       `json:"players,omitempty"`
	Reset     *events.CombatResetPayload `json:"reset,omitempty"`
}

// Hub fans combat snapshots and reset notifications out to websocket clients.
type Hub struct {
	manager  *combat.Manager
	eventBus *events.EventBus
	interval time.Duration
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewHub creates a hub pushing a snapshot every interval. Reset events are
// forwarded as soon as the bus delivers them.
func NewHub(manager *combat.Manager, eventBus *events.EventBus, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = wsDefaultPushGap
	}

	h := &Hub{
		manager:  manager,
		eventBus: eventBus,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  util.ComponentLogger("websocket"),
		clients: make(map[*wsClient]struct{}),
	}

	if eventBus != nil {
		eventBus.Subscribe(events.EventCombatReset, "websocket_hub", h.onCombatReset)
	}
	return h
}

// Run pushes periodic snapshots until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.CloseAll()
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			h.broadcast(h.snapshot())
		}
	}
}

// ServeWS upgrades the request and streams messages until the client leaves.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug().Err(err).Str("client_ip", c.ClientIP()).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
	if data := h.snapshot(); data != nil {
		client.send <- data
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Str("client_ip", c.ClientIP()).Int("clients", n).Msg("websocket client connected")

	go h.writeLoop(client)
	h.readLoop(client)

	h.remove(client)
	h.logger.Debug().Str("client_ip", c.ClientIP()).Msg("websocket client disconnected")
}

// readLoop discards client frames. It only exists to service control
// frames and notice disconnects.
func (h *Hub) readLoop(c *wsClient) {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// broadcast queues data on every client. Clients whose buffer is full are
// disconnected.
func (h *Hub) broadcast(data []byte) {
	if data == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Msg("websocket client too slow, disconnecting")
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *Hub) snapshot() []byte {
	summary := h.manager.Summary()
	return h.encode(Message{
		Type:      MessageSnapshot,
		Timestamp: time.Now(),
		Summary:   &summary,
		Players:   h.manager.PlayerStats(),
	})
}

func (h *Hub) onCombatReset(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CombatResetPayload)
	if !ok {
		return nil
	}
	h.broadcast(h.encode(Message{
		Type:      MessageCombatReset,
		Timestamp: time.Now(),
		Reset:     &payload,
	}))
	return nil
}

func (h *Hub) encode(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("failed to encode websocket message")
		return nil
	}
	return data
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client and detaches from the event bus.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()

	if h.eventBus != nil {
		h.eventBus.Unsubscribe(events.EventCombatReset, "websocket_hub")
	}
}
