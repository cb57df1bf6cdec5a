package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// sendBufferSize is the per-client outbound queue depth. When a client's
// queue is full the frame is dropped for that client; the client
// resynchronizes by refetching on its next interaction.
const sendBufferSize = 64

// Client represents a connected WebSocket subscriber.
type Client struct {
	ID     string
	UserID string
	Name   string
	Conn   *websocket.Conn

	send chan []byte
	once sync.Once
}

// Send queues a frame for the client without blocking. Returns false if
// the frame was dropped because the client's queue is full.
func (c *Client) Send(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close shuts the send queue, stopping the writer goroutine. Safe to
// call more than once.
func (c *Client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// writePump drains the client's send queue onto the socket. It exits
// when the queue is closed or a write fails; the connection close is the
// read loop's job.
func (c *Client) writePump() {
	for data := range c.send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[hub] Failed to send to client %s: %v", c.ID, err)
			return
		}
	}
}

// Hub manages WebSocket connections and fan-out of task frames. Every
// committed mutation goes to every connected client; the hub never
// filters by visibility, clients filter locally.
type Hub struct {
	clients    map[string]*Client // clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Frame
	done       chan struct{}
	mu         sync.RWMutex
}

// Frame is one fan-out unit: an event type plus its payload.
type Frame struct {
	Type    string
	Payload any
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Frame, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It accepts a context for graceful shutdown.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("[hub] Shutting down...")
			h.closeAllClients()
			close(h.done)
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		case frame := <-h.broadcast:
			h.handleBroadcast(frame)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.close()
		_ = client.Conn.Close()
	}
	h.clients = make(map[string]*Client)
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.send = make(chan []byte, sendBufferSize)
	h.clients[client.ID] = client
	go client.writePump()
	log.Printf("[hub] Client %s (%s) registered", client.ID, client.Name)
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		client.close()
		log.Printf("[hub] Client %s (%s) unregistered", client.ID, client.Name)
	}
}

// handleBroadcast marshals once and queues the frame for every client.
// A full queue drops the frame for that client only; fan-out never
// blocks on a slow socket.
func (h *Hub) handleBroadcast(frame *Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(frame.Payload)
	if err != nil {
		log.Printf("[hub] Failed to marshal broadcast frame: %v", err)
		return
	}

	for _, client := range h.clients {
		if !client.Send(data) {
			log.Printf("[hub] Dropped %s frame for slow client %s", frame.Type, client.ID)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast queues a frame for every connected client.
func (h *Hub) Broadcast(frameType string, payload any) {
	h.broadcast <- &Frame{
		Type:    frameType,
		Payload: payload,
	}
}

// GetClient returns a client by ID.
func (h *Hub) GetClient(clientID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[clientID]
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
