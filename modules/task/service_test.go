package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	domain "github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/domain/user"
	"github.com/example/taskflow/events"
)

type fakeDirectory struct {
	refs map[string]domain.UserRef
	err  error
}

func (d *fakeDirectory) UserRefs(_ context.Context, ids []string) (map[string]domain.UserRef, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[string]domain.UserRef)
	for _, id := range ids {
		if ref, ok := d.refs[id]; ok {
			out[id] = ref
		}
	}
	return out, nil
}

type fakePublisher struct {
	created []events.TaskCreatedEvent
	updated []events.TaskUpdatedEvent
	deleted []events.TaskDeletedEvent
	fail    bool
}

func (p *fakePublisher) PublishCreated(_ context.Context, ev events.TaskCreatedEvent) error {
	if p.fail {
		return errors.New("bus unavailable")
	}
	p.created = append(p.created, ev)
	return nil
}

func (p *fakePublisher) PublishUpdated(_ context.Context, ev events.TaskUpdatedEvent) error {
	if p.fail {
		return errors.New("bus unavailable")
	}
	p.updated = append(p.updated, ev)
	return nil
}

func (p *fakePublisher) PublishDeleted(_ context.Context, ev events.TaskDeletedEvent) error {
	if p.fail {
		return errors.New("bus unavailable")
	}
	p.deleted = append(p.deleted, ev)
	return nil
}

type fakeCache struct {
	data map[string][]byte
	sets int
	hits int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string, dest any) (bool, error) {
	data, ok := c.data[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(data, dest)
}

func (c *fakeCache) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = data
	c.sets++
	return nil
}

func setupService(t *testing.T) (*Service, *fakePublisher, *fakeCache) {
	t.Helper()

	repo := NewRepository(setupTestDB(t))
	directory := &fakeDirectory{refs: map[string]domain.UserRef{
		"u1": {ID: "u1", Name: "User One", Email: "u1@example.com"},
		"u2": {ID: "u2", Name: "User Two", Email: "u2@example.com"},
	}}
	publisher := &fakePublisher{}
	cache := newFakeCache()
	return NewService(repo, directory, publisher, cache), publisher, cache
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc, publisher, _ := setupService(t)

	snap, err := svc.Create(ctx, actor("u1", user.RoleUser), CreateFields{Title: "First task"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if snap.Status != domain.StatusTodo {
		t.Errorf("status = %q, want default %q", snap.Status, domain.StatusTodo)
	}
	if snap.Priority != domain.PriorityMedium {
		t.Errorf("priority = %q, want default %q", snap.Priority, domain.PriorityMedium)
	}
	if snap.CreatedBy.Name != "User One" {
		t.Errorf("creator not expanded: %+v", snap.CreatedBy)
	}
	if len(publisher.created) != 1 {
		t.Fatalf("created events = %d, want 1", len(publisher.created))
	}
	if publisher.created[0].Task.ID != snap.ID {
		t.Error("event carries wrong task")
	}

	// Round-trip: get by the returned id yields the same fields.
	got, err := svc.Get(ctx, actor("u1", user.RoleUser), snap.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != snap.Title || got.Status != snap.Status || got.Priority != snap.Priority {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, snap)
	}
}

func TestService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	svc, publisher, _ := setupService(t)

	if _, err := svc.Create(ctx, actor("u1", user.RoleUser), CreateFields{}); !errors.Is(err, ErrTitleRequired) {
		t.Errorf("Create() without title error = %v, want ErrTitleRequired", err)
	}

	if _, err := svc.Create(ctx, actor("u1", user.RoleUser), CreateFields{Title: "x", Status: "archived"}); err == nil {
		t.Error("Create() with unknown status should fail")
	}

	other := "u2"
	_, err := svc.Create(ctx, actor("u1", user.RoleUser), CreateFields{Title: "x", AssignedTo: &other})
	if !errors.Is(err, ErrAssignSelfOnly) {
		t.Errorf("Create() assigning other error = %v, want ErrAssignSelfOnly", err)
	}

	// Manager may assign to anyone.
	snap, err := svc.Create(ctx, actor("m1", user.RoleManager), CreateFields{Title: "assigned out", AssignedTo: &other})
	if err != nil {
		t.Fatalf("manager Create() error = %v", err)
	}
	if snap.AssignedTo == nil || snap.AssignedTo.ID != "u2" {
		t.Errorf("assignee = %+v, want u2", snap.AssignedTo)
	}

	// No event for rejected creates.
	if len(publisher.created) != 1 {
		t.Errorf("created events = %d, want 1 (only the committed create)", len(publisher.created))
	}
}

func TestService_CreatePublishFailure(t *testing.T) {
	ctx := context.Background()
	svc, publisher, _ := setupService(t)
	publisher.fail = true

	// A committed mutation must not fail because broadcast failed.
	snap, err := svc.Create(ctx, actor("u1", user.RoleUser), CreateFields{Title: "still committed"})
	if err != nil {
		t.Fatalf("Create() error = %v, want success despite publish failure", err)
	}

	if _, err := svc.Get(ctx, actor("u1", user.RoleUser), snap.ID); err != nil {
		t.Errorf("task not committed: %v", err)
	}
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc, publisher, _ := setupService(t)
	u1 := actor("u1", user.RoleUser)

	snap, err := svc.Create(ctx, u1, CreateFields{Title: "original", Description: "desc"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	status := "in-progress"
	updated, err := svc.Update(ctx, u1, snap.ID, UpdateFields{Status: &status})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if updated.Status != domain.StatusInProgress {
		t.Errorf("status = %q, want in-progress", updated.Status)
	}
	// Fields absent from the request are untouched.
	if updated.Title != "original" || updated.Description != "desc" {
		t.Errorf("untouched fields changed: %+v", updated)
	}

	if len(publisher.updated) != 1 {
		t.Fatalf("updated events = %d, want 1", len(publisher.updated))
	}
	if publisher.updated[0].Task.Status != domain.StatusInProgress {
		t.Error("event must carry the post-merge snapshot")
	}

	// Idempotence: repeating the identical update yields the same task.
	again, err := svc.Update(ctx, u1, snap.ID, UpdateFields{Status: &status})
	if err != nil {
		t.Fatalf("repeated Update() error = %v", err)
	}
	if again.Status != updated.Status || again.Title != updated.Title {
		t.Errorf("repeated update diverged: %+v vs %+v", again, updated)
	}
}

func TestService_UpdateAuthorization(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	snap, err := svc.Create(ctx, actor("u1", user.RoleUser), CreateFields{Title: "guarded"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	title := "hijacked"
	if _, err := svc.Update(ctx, actor("u3", user.RoleUser), snap.ID, UpdateFields{Title: &title}); !errors.Is(err, ErrForbidden) {
		t.Errorf("unrelated user Update() error = %v, want ErrForbidden", err)
	}

	// Owner may not hand the task to someone else.
	other := "u2"
	if _, err := svc.Update(ctx, actor("u1", user.RoleUser), snap.ID, UpdateFields{AssignedTo: &other}); !errors.Is(err, ErrAssignSelfOnly) {
		t.Errorf("owner reassign-to-other error = %v, want ErrAssignSelfOnly", err)
	}

	// Admin may.
	updated, err := svc.Update(ctx, actor("a1", user.RoleAdmin), snap.ID, UpdateFields{AssignedTo: &other})
	if err != nil {
		t.Fatalf("admin Update() error = %v", err)
	}
	if updated.AssignedTo == nil || updated.AssignedTo.ID != "u2" {
		t.Errorf("assignee = %+v, want u2", updated.AssignedTo)
	}

	// Admin clears the assignee with an explicit empty value.
	unassigned := ""
	updated, err = svc.Update(ctx, actor("a1", user.RoleAdmin), snap.ID, UpdateFields{AssignedTo: &unassigned})
	if err != nil {
		t.Fatalf("admin clear Update() error = %v", err)
	}
	if updated.AssignedTo != nil {
		t.Errorf("assignee = %+v, want cleared", updated.AssignedTo)
	}
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	svc, publisher, _ := setupService(t)
	u1 := actor("u1", user.RoleUser)

	self := "u2"
	snap, err := svc.Create(ctx, u1, CreateFields{Title: "to delete"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	assigned, err := svc.Create(ctx, actor("m1", user.RoleManager), CreateFields{Title: "assigned", AssignedTo: &self})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Assignee status is not enough to delete.
	if err := svc.Delete(ctx, actor("u2", user.RoleUser), assigned.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("assignee Delete() error = %v, want ErrForbidden", err)
	}

	if err := svc.Delete(ctx, u1, snap.ID); err != nil {
		t.Fatalf("creator Delete() error = %v", err)
	}
	if len(publisher.deleted) != 1 || publisher.deleted[0].TaskID != snap.ID {
		t.Errorf("deleted events = %+v, want one for %s", publisher.deleted, snap.ID)
	}

	// Deleted tasks are indistinguishable from never-existed.
	if _, err := svc.Get(ctx, u1, snap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, u1, snap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestService_GetDistinguishesNotFoundFromForbidden(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	snap, err := svc.Create(ctx, actor("u1", user.RoleUser), CreateFields{Title: "private"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Existing but invisible task is forbidden, not hidden.
	if _, err := svc.Get(ctx, actor("u3", user.RoleUser), snap.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Get() by outsider error = %v, want ErrForbidden", err)
	}

	if _, err := svc.Get(ctx, actor("u3", user.RoleUser), "never-existed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() of missing task error = %v, want ErrNotFound", err)
	}
}

func TestService_Stats(t *testing.T) {
	ctx := context.Background()
	svc, _, cache := setupService(t)
	u1 := actor("u1", user.RoleUser)

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, u1, CreateFields{Title: "mine"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	done := "done"
	snap, _ := svc.Create(ctx, u1, CreateFields{Title: "finished"})
	if _, err := svc.Update(ctx, u1, snap.ID, UpdateFields{Status: &done}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	// A task u1 cannot see must not count.
	if _, err := svc.Create(ctx, actor("u2", user.RoleUser), CreateFields{Title: "theirs"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	counts, err := svc.Stats(ctx, u1)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if counts.Todo != 3 || counts.Done != 1 || counts.InProgress != 0 {
		t.Errorf("counts = %+v, want {3 0 1}", counts)
	}

	// Stats invariant: sum of counts equals the unfiltered list total.
	_, total, err := svc.List(ctx, u1, ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if counts.Total() != total {
		t.Errorf("stats total = %d, list total = %d, want equal", counts.Total(), total)
	}

	// Second call is served from the cache.
	if cache.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", cache.sets)
	}
	if _, err := svc.Stats(ctx, u1); err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", cache.hits)
	}

	// Elevated roles see the whole set under a shared scope.
	adminCounts, err := svc.Stats(ctx, actor("a1", user.RoleAdmin))
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if adminCounts.Total() != 5 {
		t.Errorf("admin stats total = %d, want 5", adminCounts.Total())
	}
}

func TestService_SnapshotFallbackOnDirectoryError(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t))
	directory := &fakeDirectory{err: errors.New("directory down")}
	svc := NewService(repo, directory, &fakePublisher{}, nil)

	snap, err := svc.Create(ctx, actor("u1", user.RoleUser), CreateFields{Title: "degraded"})
	if err != nil {
		t.Fatalf("Create() error = %v, reads must not fail on directory errors", err)
	}

	// Bare ID instead of expanded reference.
	if snap.CreatedBy.ID != "u1" || snap.CreatedBy.Name != "" {
		t.Errorf("creator = %+v, want bare id fallback", snap.CreatedBy)
	}
}

func TestService_ListValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	if _, _, err := svc.List(ctx, actor("u1", user.RoleUser), ListFilter{Status: "archived"}); err == nil {
		t.Error("List() with unknown status filter should fail")
	}
	if _, _, err := svc.List(ctx, nil, ListFilter{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("List() with nil actor error = %v, want ErrForbidden", err)
	}
}

func TestService_UpdateTimestampAdvances(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)
	u1 := actor("u1", user.RoleUser)

	snap, err := svc.Create(ctx, u1, CreateFields{Title: "timestamped"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	title := "renamed"
	updated, err := svc.Update(ctx, u1, snap.ID, UpdateFields{Title: &title})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if !updated.UpdatedAt.After(snap.UpdatedAt) {
		t.Errorf("UpdatedAt did not advance: %v -> %v", snap.UpdatedAt, updated.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(snap.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v -> %v", snap.CreatedAt, updated.CreatedAt)
	}
}
