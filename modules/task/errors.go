package task

import "errors"

// Error messages are stable: they cross the service-container boundary as
// text, and the API layer maps them back to HTTP statuses.
var (
	// ErrNotFound is returned when a task is absent or soft-deleted.
	// Deliberately the same answer for both: a caller without access must
	// not learn whether the task ever existed.
	ErrNotFound = errors.New("task not found")

	// ErrForbidden is returned when the policy denies the operation on an
	// existing, visible task.
	ErrForbidden = errors.New("forbidden: not authorized for this task")

	// ErrAssignSelfOnly is returned when a user-role actor tries to point
	// the assignee field at anyone but themselves.
	ErrAssignSelfOnly = errors.New("forbidden: users can only assign tasks to themselves")

	// ErrTitleRequired is returned when a create carries no title.
	ErrTitleRequired = errors.New("validation: title is required")
)
