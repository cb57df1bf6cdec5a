package broadcast

import (
	"context"
	"fmt"
	"log"
	"time"

	domain "github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// Frame types on the wire. Clients treat these frames as authoritative
// state and reconcile local speculation against them.
const (
	FrameTaskCreated = "task:created"
	FrameTaskUpdated = "task:updated"
	FrameTaskDeleted = "task:deleted"
)

// BroadcastModule consumes task events and fans them out to WebSocket
// clients. Fan-out is unfiltered: every authenticated client receives
// every frame.
type BroadcastModule struct {
	hub       *Hub
	cancelHub context.CancelFunc
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.EventConsumerModule = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule.
func NewModule() *BroadcastModule {
	return &BroadcastModule{
		hub: NewHub(),
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start initializes the module and starts the hub.
func (m *BroadcastModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	log.Println("[broadcast] Module started - WebSocket hub running")
	return nil
}

// Stop shuts down the module.
func (m *BroadcastModule) Stop(_ context.Context) error {
	clientCount := m.hub.ClientCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait()
	}
	log.Printf("[broadcast] Module stopped - %d clients were connected", clientCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_clients": m.hub.ClientCount(),
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
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

	log.Println("[broadcast] Registered event consumers: TaskCreated, TaskUpdated, TaskDeleted")
	return nil
}

func (m *BroadcastModule) handleTaskCreated(_ context.Context, event events.TaskCreatedEvent, _ *mono.Msg) error {
	m.hub.Broadcast(FrameTaskCreated, WSFrame{
		Type:      FrameTaskCreated,
		Task:      &event.Task,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleTaskUpdated(_ context.Context, event events.TaskUpdatedEvent, _ *mono.Msg) error {
	m.hub.Broadcast(FrameTaskUpdated, WSFrame{
		Type:      FrameTaskUpdated,
		Task:      &event.Task,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleTaskDeleted(_ context.Context, event events.TaskDeletedEvent, _ *mono.Msg) error {
	m.hub.Broadcast(FrameTaskDeleted, WSFrame{
		Type:      FrameTaskDeleted,
		TaskID:    event.TaskID,
		Timestamp: event.Timestamp,
	})
	return nil
}

// GetHub returns the WebSocket hub for the API module to use.
func (m *BroadcastModule) GetHub() *Hub {
	return m.hub
}

// WSFrame is the structure sent to WebSocket clients. Created and
// updated frames carry the full post-commit snapshot; deleted frames
// carry only the id.
type WSFrame struct {
	Type      string           `json:"type"`
	Task      *domain.Snapshot `json:"task,omitempty"`
	TaskID    string           `json:"id,omitempty"`
	Timestamp time.Time        `json:"timestamp,omitempty"`
}
