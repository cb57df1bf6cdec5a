package api

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/example/taskflow/domain/user"
	"github.com/example/taskflow/modules/auth"
	"github.com/example/taskflow/modules/task"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes() {
	// Health check
	m.app.Get("/health", m.healthHandler)

	// WebSocket endpoint, token-gated before the upgrade
	m.app.Use("/ws", m.wsUpgradeGate)
	m.app.Get("/ws", websocket.New(m.handleWebSocket))

	// REST API v1
	v1 := m.app.Group("/api/v1")

	// Public auth routes
	authRoutes := v1.Group("/auth")
	authRoutes.Post("/register", m.register)
	authRoutes.Post("/login", m.login)
	authRoutes.Post("/refresh", m.refresh)

	// Protected routes
	protected := v1.Group("")
	protected.Use(AuthMiddleware(m.authAdapter))

	protected.Get("/auth/me", m.profile)

	// User directory, elevated roles only
	protected.Get("/users", RequireRoles(user.RoleManager, user.RoleAdmin), m.listUsers)
	protected.Patch("/users/:id/role", RequireRoles(user.RoleManager, user.RoleAdmin), m.updateUserRole)

	// Task routes. The stats route must precede the :id route.
	protected.Get("/tasks/stats", m.taskStats)
	protected.Get("/tasks", m.listTasks)
	protected.Post("/tasks", m.createTask)
	protected.Get("/tasks/:id", m.getTask)
	protected.Patch("/tasks/:id", m.updateTask)
	protected.Delete("/tasks/:id", m.deleteTask)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":            "api",
			"connected_clients": m.hub.ClientCount(),
		},
	})
}

// register handles POST /api/v1/auth/register.
func (m *APIModule) register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if req.Email == "" || req.Password == "" {
		return badRequest(c, "Email and password are required")
	}

	authReq := auth.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}
	var resp auth.RegisterResponse

	if err := helper.CallRequestReplyService(
		c.UserContext(),
		m.authContainer,
		"register",
		json.Marshal,
		json.Unmarshal,
		&authReq,
		&resp,
	); err != nil {
		return m.handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(UserResponse{
		ID:        resp.ID,
		Name:      resp.Name,
		Email:     resp.Email,
		Role:      resp.Role,
		CreatedAt: resp.CreatedAt,
	})
}

// login handles POST /api/v1/auth/login.
func (m *APIModule) login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if req.Email == "" || req.Password == "" {
		return badRequest(c, "Email and password are required")
	}

	authReq := auth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	}
	var resp auth.LoginResponse

	if err := helper.CallRequestReplyService(
		c.UserContext(),
		m.authContainer,
		"login",
		json.Marshal,
		json.Unmarshal,
		&authReq,
		&resp,
	); err != nil {
		return m.handleServiceError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(TokenResponse{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		TokenType:    resp.TokenType,
	})
}

// refresh handles POST /api/v1/auth/refresh.
func (m *APIModule) refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if req.RefreshToken == "" {
		return badRequest(c, "Refresh token is required")
	}

	authReq := auth.RefreshRequest{
		RefreshToken: req.RefreshToken,
	}
	var resp auth.RefreshResponse

	if err := helper.CallRequestReplyService(
		c.UserContext(),
		m.authContainer,
		"refresh-token",
		json.Marshal,
		json.Unmarshal,
		&authReq,
		&resp,
	); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "Invalid or expired refresh token",
		})
	}

	return c.Status(fiber.StatusOK).JSON(TokenResponse{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		TokenType:    resp.TokenType,
	})
}

// profile handles GET /api/v1/auth/me.
func (m *APIModule) profile(c *fiber.Ctx) error {
	actor := ActorFromContext(c)
	if actor == nil {
		return unauthorized(c)
	}

	info, err := m.authAdapter.GetUser(c.UserContext(), actor.ID)
	if err != nil {
		return m.handleServiceError(c, err)
	}

	return c.JSON(UserResponse{
		ID:        info.ID,
		Name:      info.Name,
		Email:     info.Email,
		Role:      info.Role,
		CreatedAt: info.CreatedAt,
	})
}

// listUsers handles GET /api/v1/users.
func (m *APIModule) listUsers(c *fiber.Ctx) error {
	req := auth.ListUsersRequest{}
	var resp auth.ListUsersResponse

	if err := helper.CallRequestReplyService(
		c.UserContext(),
		m.authContainer,
		"list-users",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return m.handleServiceError(c, err)
	}

	out := UserListResponse{Users: make([]UserResponse, 0, len(resp.Users))}
	for _, u := range resp.Users {
		out.Users = append(out.Users, UserResponse{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Role:      u.Role,
			CreatedAt: u.CreatedAt,
		})
	}
	out.Total = len(out.Users)

	return c.JSON(out)
}

// updateUserRole handles PATCH /api/v1/users/:id/role.
func (m *APIModule) updateUserRole(c *fiber.Ctx) error {
	actor := ActorFromContext(c)
	if actor == nil {
		return unauthorized(c)
	}

	var req UpdateRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	role, err := user.ParseRole(req.Role)
	if err != nil {
		return badRequest(c, "Invalid role")
	}

	authReq := auth.UpdateRoleRequest{
		Caller: actor,
		UserID: c.Params("id"),
		Role:   role,
	}
	var resp auth.UpdateRoleResponse

	if err := helper.CallRequestReplyService(
		c.UserContext(),
		m.authContainer,
		"update-role",
		json.Marshal,
		json.Unmarshal,
		&authReq,
		&resp,
	); err != nil {
		return m.handleServiceError(c, err)
	}

	return c.JSON(UserResponse{
		ID:        resp.User.ID,
		Name:      resp.User.Name,
		Email:     resp.User.Email,
		Role:      resp.User.Role,
		CreatedAt: resp.User.CreatedAt,
	})
}

// createTask handles POST /api/v1/tasks.
func (m *APIModule) createTask(c *fiber.Ctx) error {
	actor := ActorFromContext(c)
	if actor == nil {
		return unauthorized(c)
	}

	var req CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := m.taskAdapter.Create(c.UserContext(), task.CreateTaskRequest{
		Actor:       actor,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		AssignedTo:  req.AssignedTo,
		DueDate:     req.DueDate,
	})
	if err != nil {
		return m.handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TaskResponse{Task: resp.Task})
}

// listTasks handles GET /api/v1/tasks.
func (m *APIModule) listTasks(c *fiber.Ctx) error {
	actor := ActorFromContext(c)
	if actor == nil {
		return unauthorized(c)
	}

	resp, err := m.taskAdapter.List(c.UserContext(), task.ListTasksRequest{
		Actor:    actor,
		Status:   c.Query("status"),
		Priority: c.Query("priority"),
		Search:   c.Query("search"),
		Page:     c.QueryInt("page", 0),
		Limit:    c.QueryInt("limit", 0),
		Sort:     c.Query("sort"),
	})
	if err != nil {
		return m.handleServiceError(c, err)
	}

	pages := resp.Total / int64(resp.Limit)
	if resp.Total%int64(resp.Limit) != 0 {
		pages++
	}

	return c.JSON(TaskListResponse{
		Items: resp.Tasks,
		Pagination: Pagination{
			Total: resp.Total,
			Page:  resp.Page,
			Limit: resp.Limit,
			Pages: pages,
		},
	})
}

// getTask handles GET /api/v1/tasks/:id.
func (m *APIModule) getTask(c *fiber.Ctx) error {
	actor := ActorFromContext(c)
	if actor == nil {
		return unauthorized(c)
	}

	resp, err := m.taskAdapter.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return m.handleServiceError(c, err)
	}

	return c.JSON(TaskResponse{Task: resp.Task})
}

// updateTask handles PATCH /api/v1/tasks/:id.
func (m *APIModule) updateTask(c *fiber.Ctx) error {
	actor := ActorFromContext(c)
	if actor == nil {
		return unauthorized(c)
	}

	var req UpdateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := m.taskAdapter.Update(c.UserContext(), task.UpdateTaskRequest{
		Actor:  actor,
		TaskID: c.Params("id"),
		Changes: task.UpdateFields{
			Title:       req.Title,
			Description: req.Description,
			Status:      req.Status,
			Priority:    req.Priority,
			AssignedTo:  req.AssignedTo,
			DueDate:     req.DueDate,
		},
	})
	if err != nil {
		return m.handleServiceError(c, err)
	}

	return c.JSON(TaskResponse{Task: resp.Task})
}

// deleteTask handles DELETE /api/v1/tasks/:id.
func (m *APIModule) deleteTask(c *fiber.Ctx) error {
	actor := ActorFromContext(c)
	if actor == nil {
		return unauthorized(c)
	}

	resp, err := m.taskAdapter.Delete(c.UserContext(), task.DeleteTaskRequest{
		Actor:  actor,
		TaskID: c.Params("id"),
	})
	if err != nil {
		return m.handleServiceError(c, err)
	}

	return c.JSON(DeleteResponse{Deleted: resp.Deleted, ID: resp.TaskID})
}

// taskStats handles GET /api/v1/tasks/stats.
func (m *APIModule) taskStats(c *fiber.Ctx) error {
	actor := ActorFromContext(c)
	if actor == nil {
		return unauthorized(c)
	}

	resp, err := m.taskAdapter.Stats(c.UserContext(), actor)
	if err != nil {
		return m.handleServiceError(c, err)
	}

	// The counts serialize at the top level: {"todo":n,"in-progress":n,"done":n}.
	return c.JSON(resp.Counts)
}

// handleServiceError maps service errors onto HTTP statuses. Errors
// cross the service container as text, so mapping matches known
// messages instead of error values.
func (m *APIModule) handleServiceError(c *fiber.Ctx, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "validation:"):
		return badRequest(c, trimServicePrefix(errStr))
	case strings.Contains(errStr, "task not found"):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "Task not found",
		})
	case strings.Contains(errStr, "user not found"):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "User not found",
		})
	case strings.Contains(errStr, "forbidden"):
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
			Error:   "forbidden",
			Message: trimServicePrefix(errStr),
		})
	case strings.Contains(errStr, "invalid email or password"):
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "Invalid email or password",
		})
	case strings.Contains(errStr, "account is disabled"):
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "Account is disabled",
		})
	case strings.Contains(errStr, "user with this email already exists"):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error:   "conflict",
			Message: "User with this email already exists",
		})
	case strings.Contains(errStr, "invalid email format"):
		return badRequest(c, "Invalid email format")
	case strings.Contains(errStr, "name is required"):
		return badRequest(c, "Name is required")
	case strings.Contains(errStr, "password must be at least"):
		return badRequest(c, "Password must be at least 8 characters")
	case strings.Contains(errStr, "password must be at most"):
		return badRequest(c, "Password must be at most 72 characters")
	default:
		// Log the actual error but don't expose it to the client
		log.Printf("[api] Internal error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
	}
}

// trimServicePrefix strips the transport's error wrapping, leaving the
// service's own message.
func trimServicePrefix(errStr string) string {
	for _, marker := range []string{"validation: ", "forbidden: "} {
		if idx := strings.Index(errStr, marker); idx >= 0 {
			if marker == "validation: " {
				return errStr[idx+len(marker):]
			}
			return errStr[idx:]
		}
	}
	return errStr
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "bad_request",
		Message: message,
	})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
		Error:   "unauthorized",
		Message: "User not authenticated",
	})
}
