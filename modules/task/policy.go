package task

import (
	domain "github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/domain/user"
)

// ProposedChanges is the policy-relevant slice of an update request: only
// the assignee field needs inspection before the write is allowed.
type ProposedChanges struct {
	// AssigneeSet is true when the request carries an assignedTo value,
	// including an empty one meaning "clear".
	AssigneeSet bool
	// AssigneeID is the requested assignee, "" to clear.
	AssigneeID string
}

// Every check below fails closed: a nil actor, a nil task, or a role
// outside the enum denies the operation. The checks are pure and are
// re-evaluated on every request. Never cache a decision, ownership and
// roles change underneath running sessions.

// CanRead reports whether the actor may see the task. Managers and admins
// see everything; users see tasks they created or are assigned to.
func CanRead(actor *user.Actor, t *domain.Task) bool {
	if actor == nil || t == nil {
		return false
	}
	switch actor.Role {
	case user.RoleManager, user.RoleAdmin:
		return true
	case user.RoleUser:
		return isOwnerOrAssignee(actor, t)
	}
	return false
}

// CanCreate reports whether the actor may create a task with the given
// assignee. Users may only assign to themselves or leave it unset.
func CanCreate(actor *user.Actor, assignedTo *string) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case user.RoleManager, user.RoleAdmin:
		return true
	case user.RoleUser:
		return assignedTo == nil || *assignedTo == actor.ID
	}
	return false
}

// CanWrite reports whether the actor may apply the proposed changes to
// the task. Users must be creator or assignee of the current task, and
// may only ever point the assignee field at themselves.
func CanWrite(actor *user.Actor, t *domain.Task, changes ProposedChanges) bool {
	if actor == nil || t == nil {
		return false
	}
	switch actor.Role {
	case user.RoleManager, user.RoleAdmin:
		return true
	case user.RoleUser:
		if !isOwnerOrAssignee(actor, t) {
			return false
		}
		if changes.AssigneeSet && changes.AssigneeID != actor.ID {
			return false
		}
		return true
	}
	return false
}

// CanDelete reports whether the actor may soft-delete the task. Users
// must be the creator; assignee status is not enough.
func CanDelete(actor *user.Actor, t *domain.Task) bool {
	if actor == nil || t == nil {
		return false
	}
	switch actor.Role {
	case user.RoleManager, user.RoleAdmin:
		return true
	case user.RoleUser:
		return t.CreatedByID == actor.ID
	}
	return false
}

func isOwnerOrAssignee(actor *user.Actor, t *domain.Task) bool {
	if t.CreatedByID == actor.ID {
		return true
	}
	return t.AssignedToID != nil && *t.AssignedToID == actor.ID
}
