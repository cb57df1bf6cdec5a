package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/example/taskflow/modules/api"
	"github.com/example/taskflow/modules/auth"
	"github.com/example/taskflow/modules/broadcast"
	"github.com/example/taskflow/modules/cache"
	"github.com/example/taskflow/modules/task"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== TaskFlow - Authorized Task Synchronization Engine ===")

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	authModule := auth.NewModule()
	cacheModule := cache.NewModule()
	taskModule := task.NewModule()
	broadcastModule := broadcast.NewModule()
	apiModule := api.NewModule()

	// Manual injections: the hub and the stats cache are in-process
	// resources, not ServiceContainer services.
	taskModule.SetStatsCache(cacheModule)
	apiModule.SetHub(broadcastModule.GetHub())

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - auth: identity services (ServiceProviderModule)
	// - cache: Redis cache + event-driven invalidation (EventConsumerModule)
	// - task: task engine (ServiceProviderModule + EventEmitterModule, depends on auth)
	// - broadcast: WebSocket fan-out (EventConsumerModule)
	// - api: Fiber HTTP/WebSocket edge (depends on auth and task)
	app.Register(authModule)
	app.Register(cacheModule)
	app.Register(taskModule)
	app.Register(broadcastModule)
	app.Register(apiModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo()

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Println("  - Event Bus: NATS JetStream (internal pubsub)")
	log.Printf("  - NATS URL: %s", natsURL)
	log.Println("")
	log.Println("Event-Driven Sync:")
	log.Println("  - TaskCreated/TaskUpdated/TaskDeleted events -> broadcast module -> WebSocket clients")
	log.Println("  - Task events -> cache module -> stats invalidation")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                   - Health check")
	log.Println("  POST   /api/v1/auth/register     - Register account")
	log.Println("  POST   /api/v1/auth/login        - Log in")
	log.Println("  POST   /api/v1/auth/refresh      - Refresh tokens")
	log.Println("  GET    /api/v1/auth/me           - Current user profile")
	log.Println("  GET    /api/v1/users             - List users (manager/admin)")
	log.Println("  PATCH  /api/v1/users/:id/role    - Change a user's role (manager/admin)")
	log.Println("  GET    /api/v1/tasks             - List visible tasks")
	log.Println("  POST   /api/v1/tasks             - Create task")
	log.Println("  GET    /api/v1/tasks/stats       - Per-status counts")
	log.Println("  GET    /api/v1/tasks/:id         - Get task")
	log.Println("  PATCH  /api/v1/tasks/:id         - Update task")
	log.Println("  DELETE /api/v1/tasks/:id         - Delete task")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws?token=<access_token>):", port)
	log.Println("  Frames: task:created, task:updated (full task), task:deleted ({id})")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
