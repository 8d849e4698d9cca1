package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one message pushed to an observer connection.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// RoutedEvent scopes an Event to a blast or a session. An empty scope means
// the event is session-category and also reaches unbound dashboard clients.
type RoutedEvent struct {
	Event     Event
	BlastID   string
	SessionID string
}

// Client is one observer connection with its binding. A blast-scoped client
// went through ticket redemption before it got here.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Write pump reads from here; the hub never writes to the conn directly.
	send chan Event

	BlastID   string
	SessionID string
}

// Hub tracks live observer connections and fans events out to the subset
// bound to the matching blast or session.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan RoutedEvent

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan RoutedEvent, 256),
	}
}

// Run must be started in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case routed := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(routed) {
					continue
				}
				select {
				case client.send <- routed.Event:
				default:
					// client not draining its buffer, drop it; delivery
					// is best-effort and must never block the publish path
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// wants applies the routing rules: blast events only to the matching blast
// binding, session events to the matching session binding plus any client
// bound to neither (dashboard fallback).
func (c *Client) wants(routed RoutedEvent) bool {
	if routed.BlastID != "" {
		return c.BlastID == routed.BlastID
	}
	if routed.SessionID != "" {
		if c.SessionID == routed.SessionID {
			return true
		}
		return c.BlastID == "" && c.SessionID == ""
	}
	return false
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Publish hands an event to the routing loop.
func (h *Hub) Publish(routed RoutedEvent) {
	if routed.Event.Timestamp.IsZero() {
		routed.Event.Timestamp = time.Now().UTC()
	}
	h.broadcast <- routed
}

// ClientCount is used by tests and the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func NewClient(hub *Hub, conn *websocket.Conn, blastID, sessionID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan Event, 256),
		BlastID:   blastID,
		SessionID: sessionID,
	}
}

// WritePump drains the send channel into the connection.
func (c *Client) WritePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for event := range c.send {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("ws: failed to marshal event: %v", err)
			continue
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// ReadPump consumes (and discards) client frames so pings and closes are
// processed.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(15 * time.Minute))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(15 * time.Minute))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
