package task

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/domain/user"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// TaskPort defines the interface for task operations. This is the port
// the API module uses to reach the task engine.
type TaskPort interface {
	Create(ctx context.Context, req CreateTaskRequest) (*CreateTaskResponse, error)
	Update(ctx context.Context, req UpdateTaskRequest) (*UpdateTaskResponse, error)
	Delete(ctx context.Context, req DeleteTaskRequest) (*DeleteTaskResponse, error)
	List(ctx context.Context, req ListTasksRequest) (*ListTasksResponse, error)
	Get(ctx context.Context, actor *user.Actor, taskID string) (*GetTaskResponse, error)
	Stats(ctx context.Context, actor *user.Actor) (*TaskStatsResponse, error)
}

// TaskAdapter implements TaskPort using the service container.
type TaskAdapter struct {
	container mono.ServiceContainer
}

// Compile-time interface check.
var _ TaskPort = (*TaskAdapter)(nil)

// NewTaskAdapter creates a new TaskAdapter.
func NewTaskAdapter(container mono.ServiceContainer) *TaskAdapter {
	return &TaskAdapter{
		container: container,
	}
}

// Create creates a new task.
func (a *TaskAdapter) Create(ctx context.Context, req CreateTaskRequest) (*CreateTaskResponse, error) {
	var resp CreateTaskResponse
	if err := call(a, ctx, "create-task", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Update applies a partial update to a task.
func (a *TaskAdapter) Update(ctx context.Context, req UpdateTaskRequest) (*UpdateTaskResponse, error) {
	var resp UpdateTaskResponse
	if err := call(a, ctx, "update-task", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete soft-deletes a task.
func (a *TaskAdapter) Delete(ctx context.Context, req DeleteTaskRequest) (*DeleteTaskResponse, error) {
	var resp DeleteTaskResponse
	if err := call(a, ctx, "delete-task", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns one page of the actor's visible tasks.
func (a *TaskAdapter) List(ctx context.Context, req ListTasksRequest) (*ListTasksResponse, error) {
	var resp ListTasksResponse
	if err := call(a, ctx, "list-tasks", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Get fetches a single task.
func (a *TaskAdapter) Get(ctx context.Context, actor *user.Actor, taskID string) (*GetTaskResponse, error) {
	req := GetTaskRequest{Actor: actor, TaskID: taskID}
	var resp GetTaskResponse
	if err := call(a, ctx, "get-task", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats returns per-status counts for the actor's visible set.
func (a *TaskAdapter) Stats(ctx context.Context, actor *user.Actor) (*TaskStatsResponse, error) {
	req := TaskStatsRequest{Actor: actor}
	var resp TaskStatsResponse
	if err := call(a, ctx, "task-stats", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func call[Req any, Resp any](a *TaskAdapter, ctx context.Context, service string, req *Req, resp *Resp) error {
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	); err != nil {
		return fmt.Errorf("%s request failed: %w", service, err)
	}
	return nil
}

// directoryClient resolves user references through the auth module's
// service container. Wire types mirror the auth module's get-users-by-ids
// contract without importing it.
type directoryClient struct {
	container mono.ServiceContainer
}

var _ UserDirectory = (*directoryClient)(nil)

func newDirectoryClient(container mono.ServiceContainer) *directoryClient {
	return &directoryClient{container: container}
}

type userRefsRequest struct {
	IDs []string `json:"ids"`
}

type userRefsResponse struct {
	Users []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"users"`
}

// UserRefs resolves a batch of user IDs to display references. Unknown
// IDs are absent from the result.
func (c *directoryClient) UserRefs(ctx context.Context, ids []string) (map[string]domain.UserRef, error) {
	if len(ids) == 0 {
		return map[string]domain.UserRef{}, nil
	}

	req := userRefsRequest{IDs: ids}
	var resp userRefsResponse

	if err := helper.CallRequestReplyService(
		ctx,
		c.container,
		"get-users-by-ids",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("get-users-by-ids request failed: %w", err)
	}

	refs := make(map[string]domain.UserRef, len(resp.Users))
	for _, u := range resp.Users {
		refs[u.ID] = domain.UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
	}
	return refs, nil
}
