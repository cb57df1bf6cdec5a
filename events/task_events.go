package events

import (
	"time"

	domain "github.com/example/taskflow/domain/task"
	"github.com/go-monolith/mono/pkg/helper"
)

// TaskCreatedEvent is emitted after a task create commits.
type TaskCreatedEvent struct {
	Task      domain.Snapshot `json:"task"`
	Timestamp time.Time       `json:"timestamp"`
}

// TaskUpdatedEvent is emitted after a task update commits. It carries the
// full post-merge snapshot, never a delta.
type TaskUpdatedEvent struct {
	Task      domain.Snapshot `json:"task"`
	Timestamp time.Time       `json:"timestamp"`
}

// TaskDeletedEvent is emitted after a soft delete commits. Only the id is
// carried; the record itself is gone from every read path.
type TaskDeletedEvent struct {
	TaskID    string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the task domain.
var (
	TaskCreatedV1 = helper.EventDefinition[TaskCreatedEvent](
		"task",
		"TaskCreated",
		"v1",
	)

	TaskUpdatedV1 = helper.EventDefinition[TaskUpdatedEvent](
		"task",
		"TaskUpdated",
		"v1",
	)

	TaskDeletedV1 = helper.EventDefinition[TaskDeletedEvent](
		"task",
		"TaskDeleted",
		"v1",
	)
)
