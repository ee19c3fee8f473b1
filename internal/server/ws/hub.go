// Package ws streams committed listing events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// sendBufferSize is the outgoing queue per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS and auth middleware.
		return true
	},
}

// filterMsg is what a client sends to narrow the events it receives.
// Empty lists match everything.
//
//	{"action":"subscribe","collections":["nft.example"],"listers":["alice"]}
type filterMsg struct {
	Action      string   `json:"action"` // "subscribe" or "reset"
	Collections []string `json:"collections"`
	Listers     []string `json:"listers"`
}

// eventMsg is one listing event plus the routing fields pulled out of it.
type eventMsg struct {
	collection string
	lister     string
	data       []byte
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu          sync.RWMutex
	collections map[string]bool
	listers     map[string]bool
}

// Hub fans listing events from the signal bus out to connected clients.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// NewHub creates a Hub reading domain.ListingChannel from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		startedAt:  time.Now().UTC(),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	msgCh, err := h.bus.Subscribe(ctx, domain.ListingChannel)
	if err != nil {
		return err
	}
	h.logger.Info("ws: subscribed", slog.String("channel", domain.ListingChannel))

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", total))

		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: listing subscription closed")
				msgCh = nil
				continue
			}
			h.fanOut(decodeEvent(data))
		}
	}
}

func (h *Hub) fanOut(msg eventMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(msg) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

func decodeEvent(data []byte) eventMsg {
	msg := eventMsg{data: data}
	var ev domain.ListingEvent
	if err := json.Unmarshal(data, &ev); err == nil {
		msg.collection = ev.Listing.SourceCollectionID
		msg.lister = ev.Listing.ListerID
	}
	return msg
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		collections: map[string]bool{},
		listers:     map[string]bool{},
	}
	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var f filterMsg
		if json.Unmarshal(message, &f) == nil {
			c.applyFilter(f)
		}
	}
}

func (c *client) applyFilter(f filterMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Action {
	case "subscribe":
		for _, id := range f.Collections {
			c.collections[id] = true
		}
		for _, id := range f.Listers {
			c.listers[id] = true
		}
	case "reset":
		c.collections = map[string]bool{}
		c.listers = map[string]bool{}
	}
}

// wants reports whether msg passes the client's filters.
func (c *client) wants(msg eventMsg) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.collections) > 0 && !c.collections[msg.collection] {
		return false
	}
	if len(c.listers) > 0 && !c.listers[msg.lister] {
		return false
	}
	return true
}

func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type":           "hello",
		"channel":        domain.ListingChannel,
		"uptime_seconds": max(0, int64(time.Since(c.hub.startedAt).Seconds())),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
