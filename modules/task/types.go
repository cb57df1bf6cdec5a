package task

import (
	"time"

	domain "github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/domain/user"
)

// CreateTaskRequest creates a task on behalf of the actor.
type CreateTaskRequest struct {
	Actor       *user.Actor `json:"actor"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      string      `json:"status,omitempty"`
	Priority    string      `json:"priority,omitempty"`
	AssignedTo  *string     `json:"assignedTo,omitempty"`
	DueDate     *time.Time  `json:"dueDate,omitempty"`
}

// CreateTaskResponse carries the committed task.
type CreateTaskResponse struct {
	Task domain.Snapshot `json:"task"`
}

// UpdateTaskRequest applies a partial update. Absent fields stay as they
// are; AssignedTo set to "" clears the assignee.
type UpdateTaskRequest struct {
	Actor   *user.Actor  `json:"actor"`
	TaskID  string       `json:"task_id"`
	Changes UpdateFields `json:"changes"`
}

// UpdateTaskResponse carries the post-merge task.
type UpdateTaskResponse struct {
	Task domain.Snapshot `json:"task"`
}

// DeleteTaskRequest soft-deletes a task.
type DeleteTaskRequest struct {
	Actor  *user.Actor `json:"actor"`
	TaskID string      `json:"task_id"`
}

// DeleteTaskResponse acknowledges a delete.
type DeleteTaskResponse struct {
	Deleted bool   `json:"deleted"`
	TaskID  string `json:"task_id"`
}

// ListTasksRequest lists one page of the actor's visible tasks.
type ListTasksRequest struct {
	Actor    *user.Actor `json:"actor"`
	Status   string      `json:"status,omitempty"`
	Priority string      `json:"priority,omitempty"`
	Search   string      `json:"search,omitempty"`
	Page     int         `json:"page,omitempty"`
	Limit    int         `json:"limit,omitempty"`
	Sort     string      `json:"sort,omitempty"`
}

// ListTasksResponse carries one page plus the pre-pagination total.
type ListTasksResponse struct {
	Tasks []domain.Snapshot `json:"tasks"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

// GetTaskRequest fetches a single task.
type GetTaskRequest struct {
	Actor  *user.Actor `json:"actor"`
	TaskID string      `json:"task_id"`
}

// GetTaskResponse carries the task.
type GetTaskResponse struct {
	Task domain.Snapshot `json:"task"`
}

// TaskStatsRequest asks for per-status counts over the actor's visible set.
type TaskStatsRequest struct {
	Actor *user.Actor `json:"actor"`
}

// TaskStatsResponse carries the counts.
type TaskStatsResponse struct {
	Counts domain.StatusCounts `json:"counts"`
	Total  int64               `json:"total"`
}
