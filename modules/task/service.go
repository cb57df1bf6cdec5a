package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	domain "github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/domain/user"
	"github.com/example/taskflow/events"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// UserDirectory resolves user IDs to display references for snapshot
// expansion. The auth adapter satisfies this.
type UserDirectory interface {
	UserRefs(ctx context.Context, ids []string) (map[string]domain.UserRef, error)
}

// Publisher is the fan-out seam. The module wires it to the event bus;
// a publish failure degrades real-time freshness, never correctness, so
// the service only ever logs it.
type Publisher interface {
	PublishCreated(ctx context.Context, ev events.TaskCreatedEvent) error
	PublishUpdated(ctx context.Context, ev events.TaskUpdatedEvent) error
	PublishDeleted(ctx context.Context, ev events.TaskDeletedEvent) error
}

// StatsCache is the cache-aside seam for status counts. Nil disables
// caching; any cache error is treated as a miss.
type StatsCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Service applies the task engine's semantics: policy gate, atomic
// commit, then event emission. Mutations commit before they publish.
type Service struct {
	repo      *Repository
	directory UserDirectory
	publisher Publisher
	cache     StatsCache
	sfGroup   singleflight.Group
}

// NewService creates a new task service.
func NewService(repo *Repository, directory UserDirectory, publisher Publisher, cache StatsCache) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		publisher: publisher,
		cache:     cache,
	}
}

// CreateFields carries the caller-supplied fields for a create.
type CreateFields struct {
	Title       string
	Description string
	Status      string
	Priority    string
	AssignedTo  *string
	DueDate     *time.Time
}

// UpdateFields carries a partial update. Nil pointers leave the field
// untouched; a pointer to the empty string on AssignedTo clears the
// assignee.
type UpdateFields struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	AssignedTo  *string    `json:"assignedTo,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// Create validates, gates, commits, and announces a new task.
func (s *Service) Create(ctx context.Context, actor *user.Actor, fields CreateFields) (*domain.Snapshot, error) {
	if actor == nil {
		return nil, ErrForbidden
	}
	if fields.Title == "" {
		return nil, ErrTitleRequired
	}

	status := domain.StatusTodo
	if fields.Status != "" {
		parsed, err := domain.ParseStatus(fields.Status)
		if err != nil {
			return nil, fmt.Errorf("validation: %w", err)
		}
		status = parsed
	}

	priority := domain.PriorityMedium
	if fields.Priority != "" {
		parsed, err := domain.ParsePriority(fields.Priority)
		if err != nil {
			return nil, fmt.Errorf("validation: %w", err)
		}
		priority = parsed
	}

	if !CanCreate(actor, fields.AssignedTo) {
		return nil, ErrAssignSelfOnly
	}

	now := time.Now()
	t := &domain.Task{
		ID:          uuid.New().String(),
		Title:       fields.Title,
		Description: fields.Description,
		Status:      status,
		Priority:    priority,
		CreatedByID: actor.ID,
		DueDate:     fields.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if fields.AssignedTo != nil && *fields.AssignedTo != "" {
		t.AssignedToID = fields.AssignedTo
	}

	if err := s.repo.Insert(t); err != nil {
		return nil, err
	}

	snapshot := s.snapshot(ctx, t)
	if err := s.publisher.PublishCreated(ctx, events.TaskCreatedEvent{
		Task:      *snapshot,
		Timestamp: now,
	}); err != nil {
		log.Printf("[task] Failed to publish TaskCreated for %s: %v", t.ID, err)
	}

	return snapshot, nil
}

// Update loads the current task, gates the proposed changes against it,
// commits the field merge, and announces the post-merge state. Fields
// absent from the request are untouched; concurrent updates race under
// last-write-wins in commit order.
func (s *Service) Update(ctx context.Context, actor *user.Actor, taskID string, changes UpdateFields) (*domain.Snapshot, error) {
	current, err := s.repo.FindByID(taskID)
	if err != nil {
		return nil, err
	}

	proposed := ProposedChanges{}
	if changes.AssignedTo != nil {
		proposed.AssigneeSet = true
		proposed.AssigneeID = *changes.AssignedTo
	}

	if !CanWrite(actor, current, proposed) {
		if proposed.AssigneeSet && actor != nil && actor.Role == user.RoleUser &&
			isOwnerOrAssignee(actor, current) {
			return nil, ErrAssignSelfOnly
		}
		return nil, ErrForbidden
	}

	fields, err := mergeFields(changes)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		// No-op update: nothing to commit, return current state. Repeating
		// an identical update yields the same task either way.
		return s.snapshot(ctx, current), nil
	}
	fields["updated_at"] = time.Now()

	if err := s.repo.UpdateFields(taskID, fields); err != nil {
		return nil, err
	}

	updated, err := s.repo.FindByID(taskID)
	if err != nil {
		return nil, err
	}

	snapshot := s.snapshot(ctx, updated)
	if err := s.publisher.PublishUpdated(ctx, events.TaskUpdatedEvent{
		Task:      *snapshot,
		Timestamp: updated.UpdatedAt,
	}); err != nil {
		log.Printf("[task] Failed to publish TaskUpdated for %s: %v", taskID, err)
	}

	return snapshot, nil
}

// Delete soft-deletes a task. The row stays in the store for audit;
// every read path stops seeing it. Deleting an already-deleted task is
// not found, not success.
func (s *Service) Delete(ctx context.Context, actor *user.Actor, taskID string) error {
	current, err := s.repo.FindByID(taskID)
	if err != nil {
		return err
	}

	if !CanDelete(actor, current) {
		return ErrForbidden
	}

	now := time.Now()
	if err := s.repo.SoftDelete(taskID, now); err != nil {
		return err
	}

	if err := s.publisher.PublishDeleted(ctx, events.TaskDeletedEvent{
		TaskID:    taskID,
		Timestamp: now,
	}); err != nil {
		log.Printf("[task] Failed to publish TaskDeleted for %s: %v", taskID, err)
	}

	return nil
}

// List returns one page of the actor's visible tasks with expanded
// references, plus the pre-pagination total.
func (s *Service) List(ctx context.Context, actor *user.Actor, filter ListFilter) ([]domain.Snapshot, int64, error) {
	if actor == nil {
		return nil, 0, ErrForbidden
	}
	if filter.Status != "" {
		if _, err := domain.ParseStatus(filter.Status); err != nil {
			return nil, 0, fmt.Errorf("validation: %w", err)
		}
	}
	if filter.Priority != "" {
		if _, err := domain.ParsePriority(filter.Priority); err != nil {
			return nil, 0, fmt.Errorf("validation: %w", err)
		}
	}

	tasks, total, err := s.repo.List(actor, filter)
	if err != nil {
		return nil, 0, err
	}

	return s.snapshots(ctx, tasks), total, nil
}

// Get returns one task. Missing and soft-deleted are both not found;
// an existing task the actor may not see is forbidden. The distinction
// is deliberate and callers preserve it.
func (s *Service) Get(ctx context.Context, actor *user.Actor, taskID string) (*domain.Snapshot, error) {
	t, err := s.repo.FindByID(taskID)
	if err != nil {
		return nil, err
	}

	if !CanRead(actor, t) {
		return nil, ErrForbidden
	}

	return s.snapshot(ctx, t), nil
}

// Stats returns per-status counts over the actor's visible set, through
// the cache when one is wired. Concurrent misses for the same scope
// collapse into one query via singleflight.
func (s *Service) Stats(ctx context.Context, actor *user.Actor) (domain.StatusCounts, error) {
	if actor == nil {
		return domain.StatusCounts{}, ErrForbidden
	}

	key := statsCacheKey(actor)

	if s.cache != nil {
		var cached domain.StatusCounts
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			log.Printf("[task] Stats cache error for %s: %v", key, err)
		}
		if found {
			return cached, nil
		}
	}

	val, err, _ := s.sfGroup.Do(key, func() (any, error) {
		return s.repo.CountByStatus(actor)
	})
	if err != nil {
		return domain.StatusCounts{}, err
	}
	counts := val.(domain.StatusCounts)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, counts); err != nil {
			log.Printf("[task] Failed to cache stats for %s: %v", key, err)
		}
	}

	return counts, nil
}

// statsCacheKey returns the cache key for an actor's stats scope.
// Elevated roles share one key: they all see the same set.
func statsCacheKey(actor *user.Actor) string {
	if actor.Role.Elevated() {
		return "stats:all"
	}
	return "stats:user:" + actor.ID
}

// mergeFields converts a partial update into column assignments,
// validating enum fields on the way.
func mergeFields(changes UpdateFields) (map[string]any, error) {
	fields := make(map[string]any)

	if changes.Title != nil {
		if *changes.Title == "" {
			return nil, ErrTitleRequired
		}
		fields["title"] = *changes.Title
	}
	if changes.Description != nil {
		fields["description"] = *changes.Description
	}
	if changes.Status != nil {
		status, err := domain.ParseStatus(*changes.Status)
		if err != nil {
			return nil, fmt.Errorf("validation: %w", err)
		}
		fields["status"] = status
	}
	if changes.Priority != nil {
		priority, err := domain.ParsePriority(*changes.Priority)
		if err != nil {
			return nil, fmt.Errorf("validation: %w", err)
		}
		fields["priority"] = priority
	}
	if changes.AssignedTo != nil {
		if *changes.AssignedTo == "" {
			fields["assigned_to_id"] = nil
		} else {
			fields["assigned_to_id"] = *changes.AssignedTo
		}
	}
	if changes.DueDate != nil {
		fields["due_date"] = *changes.DueDate
	}

	return fields, nil
}

// snapshot expands a single task's references.
func (s *Service) snapshot(ctx context.Context, t *domain.Task) *domain.Snapshot {
	snapshots := s.snapshots(ctx, []*domain.Task{t})
	return &snapshots[0]
}

// snapshots expands creator/assignee references for a batch of tasks in
// one directory call. If the directory is unreachable the snapshots fall
// back to bare IDs rather than failing the read.
func (s *Service) snapshots(ctx context.Context, tasks []*domain.Task) []domain.Snapshot {
	idSet := make(map[string]struct{})
	for _, t := range tasks {
		idSet[t.CreatedByID] = struct{}{}
		if t.AssignedToID != nil {
			idSet[*t.AssignedToID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	refs, err := s.directory.UserRefs(ctx, ids)
	if err != nil {
		log.Printf("[task] Failed to resolve user references: %v", err)
		refs = map[string]domain.UserRef{}
	}

	resolve := func(id string) domain.UserRef {
		if ref, ok := refs[id]; ok {
			return ref
		}
		return domain.UserRef{ID: id}
	}

	result := make([]domain.Snapshot, 0, len(tasks))
	for _, t := range tasks {
		snap := domain.Snapshot{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			Status:      t.Status,
			Priority:    t.Priority,
			CreatedBy:   resolve(t.CreatedByID),
			DueDate:     t.DueDate,
			CreatedAt:   t.CreatedAt,
			UpdatedAt:   t.UpdatedAt,
		}
		if t.AssignedToID != nil {
			ref := resolve(*t.AssignedToID)
			snap.AssignedTo = &ref
		}
		result = append(result, snap)
	}
	return result
}

// IsNotFound reports whether the error is the not-found outcome.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsForbidden reports whether the error is a policy denial.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrAssignSelfOnly)
}
