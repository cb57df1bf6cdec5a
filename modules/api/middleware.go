package api

import (
	"strings"

	"github.com/example/taskflow/domain/user"
	"github.com/example/taskflow/modules/auth"
	"github.com/gofiber/fiber/v2"
)

const (
	// ActorContextKey is the key used to store the authenticated actor in
	// the Fiber context.
	ActorContextKey = "actor"
)

// AuthMiddleware creates a middleware that validates JWT tokens and
// attaches the authenticated actor to the request context. Validation
// goes through the auth module on every request, so role changes and
// deactivation take effect immediately.
func AuthMiddleware(authAdapter auth.AuthPort) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Authorization header is required",
			})
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid authorization header format. Use: Bearer <token>",
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Token is required",
			})
		}

		claims, err := authAdapter.ValidateToken(c.UserContext(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid or expired token",
			})
		}

		c.Locals(ActorContextKey, claims.Actor())

		return c.Next()
	}
}

// RequireRoles creates a middleware that rejects actors outside the
// given roles. It must run after AuthMiddleware.
func RequireRoles(roles ...user.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := ActorFromContext(c)
		if actor == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "User not authenticated",
			})
		}

		for _, role := range roles {
			if actor.Role == role {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
			Error:   "forbidden",
			Message: "Insufficient role for this operation",
		})
	}
}

// ActorFromContext returns the authenticated actor, nil if absent.
func ActorFromContext(c *fiber.Ctx) *user.Actor {
	actor, ok := c.Locals(ActorContextKey).(*user.Actor)
	if !ok {
		return nil
	}
	return actor
}
