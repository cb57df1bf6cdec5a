package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/example/taskflow/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/redis/go-redis/v9"
)

// statsPattern matches every cached stats scope.
const statsPattern = "stats:*"

// CacheModule owns the Redis connection, serves reads through the cache,
// and invalidates the stats keys whenever a task mutation commits. Redis
// being down degrades to uncached reads, never to failures.
type CacheModule struct {
	cache     *Cache
	client    *redis.Client
	redisAddr string
	prefix    string
	ttl       time.Duration
	degraded  bool
}

// Compile-time interface checks.
var _ mono.Module = (*CacheModule)(nil)
var _ mono.EventConsumerModule = (*CacheModule)(nil)
var _ mono.HealthCheckableModule = (*CacheModule)(nil)

// NewModule creates a new CacheModule configured from the environment.
func NewModule() *CacheModule {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	return &CacheModule{
		redisAddr: redisAddr,
		prefix:    "taskflow:",
		ttl:       5 * time.Minute,
	}
}

// Name returns the module name.
func (m *CacheModule) Name() string {
	return "cache"
}

// Start connects to Redis. If the connection fails the module starts in
// degraded mode: every Get is a miss and invalidations are no-ops.
func (m *CacheModule) Start(ctx context.Context) error {
	m.client = redis.NewClient(&redis.Options{
		Addr:         m.redisAddr,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := m.client.Ping(ctx).Err(); err != nil {
		log.Printf("[cache] Redis unavailable at %s, running degraded: %v", m.redisAddr, err)
		m.client.Close()
		m.client = nil
		m.degraded = true
		return nil
	}

	m.cache = New(m.client, m.prefix, m.ttl)
	log.Printf("[cache] Connected to Redis at %s (prefix: %s, TTL: %s)", m.redisAddr, m.prefix, m.ttl)
	return nil
}

// Stop stops the module and closes the Redis connection.
func (m *CacheModule) Stop(_ context.Context) error {
	if m.client != nil {
		if err := m.client.Close(); err != nil {
			log.Printf("[cache] Error closing Redis connection: %v", err)
			return fmt.Errorf("failed to close Redis connection: %w", err)
		}
	}
	log.Println("[cache] Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *CacheModule) Health(ctx context.Context) mono.HealthStatus {
	if m.degraded || m.cache == nil {
		return mono.HealthStatus{
			Healthy: true,
			Message: "degraded (no Redis)",
		}
	}

	if err := m.cache.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("redis ping failed: %v", err),
		}
	}

	stats := m.cache.GetStats()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"redis":    m.redisAddr,
			"hits":     stats.Hits,
			"misses":   stats.Misses,
			"hit_rate": stats.HitRate,
		},
	}
}

// RegisterEventConsumers subscribes to the task events so every
// committed mutation invalidates the cached stats scopes.
func (m *CacheModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.TaskCreatedV1, m.handleTaskCreated, m,
	); err != nil {
		return fmt.Errorf("failed to register TaskCreated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.TaskUpdatedV1, m.handleTaskUpdated, m,
	); err != nil {
		return fmt.Errorf("failed to register TaskUpdated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.TaskDeletedV1, m.handleTaskDeleted, m,
	); err != nil {
		return fmt.Errorf("failed to register TaskDeleted consumer: %w", err)
	}

	log.Println("[cache] Registered event consumers: TaskCreated, TaskUpdated, TaskDeleted")
	return nil
}

func (m *CacheModule) handleTaskCreated(ctx context.Context, _ events.TaskCreatedEvent, _ *mono.Msg) error {
	m.invalidateStats(ctx)
	return nil
}

func (m *CacheModule) handleTaskUpdated(ctx context.Context, _ events.TaskUpdatedEvent, _ *mono.Msg) error {
	m.invalidateStats(ctx)
	return nil
}

func (m *CacheModule) handleTaskDeleted(ctx context.Context, _ events.TaskDeletedEvent, _ *mono.Msg) error {
	m.invalidateStats(ctx)
	return nil
}

func (m *CacheModule) invalidateStats(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.DeletePattern(ctx, statsPattern); err != nil {
		log.Printf("[cache] Failed to invalidate stats keys: %v", err)
	}
}

// Get retrieves a value, reporting a miss when the module is degraded.
func (m *CacheModule) Get(ctx context.Context, key string, dest any) (bool, error) {
	if m.cache == nil {
		return false, nil
	}
	return m.cache.Get(ctx, key, dest)
}

// Set stores a value; a no-op when the module is degraded.
func (m *CacheModule) Set(ctx context.Context, key string, value any) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.Set(ctx, key, value)
}

// GetCache returns the underlying cache, nil when degraded.
func (m *CacheModule) GetCache() *Cache {
	return m.cache
}
