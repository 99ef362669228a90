package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// Hub fans session events out to the websocket connections of the caller they
// belong to. Events are targeted, never broadcast: a caller only ever sees
// their own conversation.
type Hub struct {
	// Registered clients, indexed by caller so Push can target them.
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	mu  sync.RWMutex
	log *zap.Logger
}

type Client struct {
	hub *Hub
	// The websocket connection.
	conn *websocket.Conn
	// Buffered channel of outbound messages.
	send chan []byte
	// Caller this connection belongs to.
	callerID string
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]map[*Client]bool),
		log:        log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.callerID] == nil {
				h.clients[client.callerID] = make(map[*Client]bool)
			}
			h.clients[client.callerID][client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.clients[client.callerID]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.send)
					if len(conns) == 0 {
						delete(h.clients, client.callerID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Push implements the event sink the dialogue service publishes into. Events
// for callers with no open connection are dropped; the session snapshot is
// the durable record, not the socket.
func (h *Hub) Push(callerID string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("Failed to marshal session event", zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*Client
	for client := range h.clients[callerID] {
		select {
		case client.send <- data:
		default:
			// Slow consumer, drop the connection rather than block the turn.
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}

	// Eviction mutates the registry and closes channels, so it needs the
	// write lock. Re-check membership: a concurrent Push or unregister may
	// have evicted the client already, and send must be closed exactly once.
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range slow {
		if conns, ok := h.clients[callerID]; ok {
			if _, ok := conns[client]; ok {
				delete(conns, client)
				close(client.send)
				if len(conns) == 0 {
					delete(h.clients, callerID)
				}
			}
		}
	}
}

func (h *Hub) AddClient(conn *websocket.Conn, callerID string) {
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), callerID: callerID}
	client.hub.register <- client

	go client.writePump()
	client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		// Keep the connection alive for control frames; inbound user input
		// arrives over the dispatch endpoint or the chat stream, not here.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		}
	}
}
