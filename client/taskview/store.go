// Package taskview keeps a client-side view of tasks consistent with the
// server. Local edits apply immediately as speculation; the server's
// answer, whether a response or a broadcast event, always wins.
package taskview

import (
	"context"
	"errors"
	"sync"

	domain "github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/modules/task"
)

var (
	// ErrUnknownTask is returned when an operation references a task the
	// store has never seen.
	ErrUnknownTask = errors.New("task not in store")

	// ErrUpdateInFlight is returned when a task already has a speculative
	// update awaiting the server. One speculation per task at a time; the
	// caller retries after the in-flight request resolves.
	ErrUpdateInFlight = errors.New("update already in flight for this task")
)

// Updater issues the mutation behind a speculative edit. A timeout from
// the underlying transport surfaces as an error, which counts as failure
// and triggers rollback.
type Updater interface {
	Update(ctx context.Context, taskID string, changes task.UpdateFields) (*domain.Snapshot, error)
}

// Predict maps the current task state to the locally-predicted result of
// an edit, applied before the server answers.
type Predict func(current domain.Snapshot) domain.Snapshot

// entry is the per-task state machine. A nil rollback means Confirmed;
// a non-nil rollback means Speculative with that state to snap back to.
type entry struct {
	state    domain.Snapshot
	rollback *domain.Snapshot
	// overridden is set when an authoritative event lands while a
	// speculation is in flight. The eventual response is then ignored.
	overridden bool
}

func (e *entry) speculative() bool {
	return e.rollback != nil
}

// Store holds the client's view of every observed task.
type Store struct {
	mu      sync.Mutex
	tasks   map[string]*entry
	updater Updater
}

// NewStore creates a store that issues mutations through the updater.
func NewStore(updater Updater) *Store {
	return &Store{
		tasks:   make(map[string]*entry),
		updater: updater,
	}
}

// Put seeds or refreshes a task from an authoritative read (list or get).
// A task in speculative state is left alone; its resolution is pending.
func (s *Store) Put(snapshot domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.tasks[snapshot.ID]; ok && e.speculative() {
		return
	}
	s.tasks[snapshot.ID] = &entry{state: snapshot}
}

// Get returns the current visible state of a task, speculative or
// confirmed, and whether the task is known.
func (s *Store) Get(taskID string) (domain.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[taskID]
	if !ok {
		return domain.Snapshot{}, false
	}
	return e.state, true
}

// Speculative reports whether the task has an unresolved local edit.
func (s *Store) Speculative(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[taskID]
	return ok && e.speculative()
}

// Len returns the number of observed tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// BeginUpdate applies the predicted state locally, issues the mutation,
// and resolves the speculation from the server's answer. On success the
// server result becomes the confirmed state; on failure the task snaps
// back to its pre-edit state and the error is returned. If an
// authoritative event for the task arrives first, the event's state
// stands and the response is discarded.
func (s *Store) BeginUpdate(ctx context.Context, taskID string, predict Predict, changes task.UpdateFields) error {
	s.mu.Lock()
	e, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTask
	}
	if e.speculative() {
		s.mu.Unlock()
		return ErrUpdateInFlight
	}

	rollback := e.state
	e.rollback = &rollback
	e.overridden = false
	e.state = predict(rollback)
	s.mu.Unlock()

	result, err := s.updater.Update(ctx, taskID, changes)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The task may have been evicted by a delete event mid-flight.
	if current, ok := s.tasks[taskID]; !ok || current != e {
		return err
	}

	if e.overridden {
		// An event resolved this task already; it is newer than the
		// response. Just clear the speculation marker.
		e.rollback = nil
		e.overridden = false
		return err
	}

	if err != nil {
		e.state = *e.rollback
		e.rollback = nil
		return err
	}

	e.state = *result
	e.rollback = nil
	return nil
}

// ApplyCreated records a task announced by a created event.
func (s *Store) ApplyCreated(snapshot domain.Snapshot) {
	s.applyAuthoritative(snapshot)
}

// ApplyUpdated records a task announced by an updated event. Events are
// authoritative: an in-flight speculation on the same task loses.
func (s *Store) ApplyUpdated(snapshot domain.Snapshot) {
	s.applyAuthoritative(snapshot)
}

// ApplyDeleted evicts a task announced by a deleted event.
func (s *Store) ApplyDeleted(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}

func (s *Store) applyAuthoritative(snapshot domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[snapshot.ID]
	if !ok {
		s.tasks[snapshot.ID] = &entry{state: snapshot}
		return
	}

	e.state = snapshot
	if e.speculative() {
		e.overridden = true
	}
}
