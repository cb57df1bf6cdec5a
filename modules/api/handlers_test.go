package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/domain/user"
	"github.com/example/taskflow/modules/broadcast"
	"github.com/example/taskflow/modules/task"
	"github.com/gofiber/fiber/v2"
)

// mockTaskPort implements task.TaskPort for testing.
type mockTaskPort struct {
	listFunc  func(ctx context.Context, req task.ListTasksRequest) (*task.ListTasksResponse, error)
	statsFunc func(ctx context.Context, actor *user.Actor) (*task.TaskStatsResponse, error)
}

func (m *mockTaskPort) Create(context.Context, task.CreateTaskRequest) (*task.CreateTaskResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *mockTaskPort) Update(context.Context, task.UpdateTaskRequest) (*task.UpdateTaskResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *mockTaskPort) Delete(context.Context, task.DeleteTaskRequest) (*task.DeleteTaskResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *mockTaskPort) List(ctx context.Context, req task.ListTasksRequest) (*task.ListTasksResponse, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockTaskPort) Get(context.Context, *user.Actor, string) (*task.GetTaskResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *mockTaskPort) Stats(ctx context.Context, actor *user.Actor) (*task.TaskStatsResponse, error) {
	if m.statsFunc != nil {
		return m.statsFunc(ctx, actor)
	}
	return nil, errors.New("not implemented")
}

// newTestModule wires an APIModule with mocked ports and full routing.
func newTestModule(taskPort task.TaskPort) *APIModule {
	m := &APIModule{
		authAdapter: &mockAuthPort{
			validateTokenFunc: func(ctx context.Context, token string) (*user.Claims, error) {
				return &user.Claims{
					UserID: "u1",
					Name:   "Test User",
					Email:  "test@example.com",
					Role:   user.RoleUser,
				}, nil
			},
		},
		taskAdapter: taskPort,
		hub:         broadcast.NewHub(),
		app:         fiber.New(),
	}
	m.setupRoutes()
	return m
}

func authedGet(t *testing.T, app *fiber.App, path string) []byte {
	t.Helper()

	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("Authorization", "Bearer token")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %v, want %v", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	return body
}

func TestListTasks_ResponseShape(t *testing.T) {
	taskPort := &mockTaskPort{
		listFunc: func(_ context.Context, req task.ListTasksRequest) (*task.ListTasksResponse, error) {
			return &task.ListTasksResponse{
				Tasks: []domain.Snapshot{
					{ID: "t1", Title: "first", Status: domain.StatusTodo},
					{ID: "t2", Title: "second", Status: domain.StatusDone},
				},
				Total: 2,
				Page:  1,
				Limit: 20,
			}, nil
		},
	}
	m := newTestModule(taskPort)

	body := authedGet(t, m.app, "/api/v1/tasks")

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	// The list rides under "items" with a sibling "pagination" block.
	if _, ok := payload["items"]; !ok {
		t.Errorf("body = %s, want an %q key", body, "items")
	}
	if _, ok := payload["tasks"]; ok {
		t.Errorf("body = %s, must not carry a %q key", body, "tasks")
	}

	var pagination Pagination
	if err := json.Unmarshal(payload["pagination"], &pagination); err != nil {
		t.Fatalf("pagination decode error = %v", err)
	}
	want := Pagination{Total: 2, Page: 1, Limit: 20, Pages: 1}
	if pagination != want {
		t.Errorf("pagination = %+v, want %+v", pagination, want)
	}
}

func TestTaskStats_ResponseShape(t *testing.T) {
	taskPort := &mockTaskPort{
		statsFunc: func(_ context.Context, _ *user.Actor) (*task.TaskStatsResponse, error) {
			counts := domain.StatusCounts{Todo: 2, InProgress: 1, Done: 3}
			return &task.TaskStatsResponse{Counts: counts, Total: counts.Total()}, nil
		},
	}
	m := newTestModule(taskPort)

	body := authedGet(t, m.app, "/api/v1/tasks/stats")

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	// The per-status counts sit at the top level, not inside an envelope.
	if _, ok := payload["counts"]; ok {
		t.Errorf("body = %s, must not nest counts inside an envelope", body)
	}
	wantKeys := map[string]float64{"todo": 2, "in-progress": 1, "done": 3}
	for key, want := range wantKeys {
		got, ok := payload[key]
		if !ok {
			t.Errorf("body = %s, want a top-level %q key", body, key)
			continue
		}
		if got != want {
			t.Errorf("%s = %v, want %v", key, got, want)
		}
	}
}
