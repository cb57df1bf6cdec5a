package api

import (
	"log"
	"strings"

	"github.com/example/taskflow/domain/user"
	"github.com/example/taskflow/modules/broadcast"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// wsUpgradeGate authenticates the connection before the upgrade. The
// token usually rides in the query string because browsers cannot set
// headers on WebSocket handshakes; non-browser clients may send a
// Bearer header instead.
func (m *APIModule) wsUpgradeGate(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token := c.Query("token")
	if token == "" {
		if header := c.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "access token is required")
	}

	claims, err := m.authAdapter.ValidateToken(c.UserContext(), token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
	}

	c.Locals(ActorContextKey, claims.Actor())
	return c.Next()
}

// handleWebSocket registers the connection with the hub and blocks on
// the read loop until the client goes away. The hub owns all writes;
// reads only detect disconnects and discard client frames.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	actor, ok := c.Locals(ActorContextKey).(*user.Actor)
	if !ok {
		c.Close()
		return
	}

	client := &broadcast.Client{
		ID:     uuid.New().String(),
		UserID: actor.ID,
		Name:   actor.Name,
		Conn:   c,
	}

	m.hub.Register(client)
	defer func() {
		m.hub.Unregister(client)
		c.Close()
	}()

	log.Printf("[api] WebSocket connected: %s (%s)", client.ID, actor.Email)

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[api] WebSocket error for %s: %v", client.ID, err)
			}
			break
		}
		// Inbound frames are ignored. Mutations go through the REST API.
	}

	log.Printf("[api] WebSocket disconnected: %s", client.ID)
}
