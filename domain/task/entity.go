package task

import (
	"fmt"
	"time"
)

// Status is the workflow state of a task. It is a closed enum: any value
// outside the three constants is rejected at the validation boundary.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Statuses lists every valid status in board order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// ParseStatus validates a raw status value.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusTodo, StatusInProgress, StatusDone:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid status: %q", s)
}

// Priority is the urgency of a task. Closed enum like Status.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority validates a raw priority value.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), nil
	}
	return "", fmt.Errorf("invalid priority: %q", s)
}

// Task is the central entity. Soft-deleted rows stay in the table forever;
// every read path filters on is_deleted.
type Task struct {
	ID           string     `gorm:"primaryKey;type:text"`
	Title        string     `gorm:"not null;type:text"`
	Description  string     `gorm:"type:text"`
	Status       Status     `gorm:"not null;index;type:text"`
	Priority     Priority   `gorm:"not null;type:text"`
	CreatedByID  string     `gorm:"not null;index;type:text"`
	AssignedToID *string    `gorm:"index;type:text"`
	DueDate      *time.Time
	CreatedAt    time.Time  `gorm:"index"`
	UpdatedAt    time.Time
	IsDeleted    bool       `gorm:"not null;default:false;index"`
	DeletedAt    *time.Time
}

// TableName returns the table name for the Task entity.
func (Task) TableName() string {
	return "tasks"
}

// UserRef is the expanded creator/assignee reference carried by task
// snapshots, mirroring what a directory lookup returns.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Snapshot is the fully-resolved view of a task: references expanded to
// display fields. Responses and mutation events both carry snapshots.
type Snapshot struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	CreatedBy   UserRef    `json:"createdBy"`
	AssignedTo  *UserRef   `json:"assignedTo,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// StatusCounts is the per-status tally for a visibility scope. Statuses
// with no matching tasks report zero rather than being omitted.
type StatusCounts struct {
	Todo       int64 `json:"todo"`
	InProgress int64 `json:"in-progress"`
	Done       int64 `json:"done"`
}

// Total returns the sum across all statuses.
func (c StatusCounts) Total() int64 {
	return c.Todo + c.InProgress + c.Done
}
