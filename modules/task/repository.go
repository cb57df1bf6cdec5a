package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/domain/user"
	"gorm.io/gorm"
)

const (
	// DefaultPage is the 1-indexed default page number.
	DefaultPage = 1
	// DefaultLimit is the default page size.
	DefaultLimit = 20
	// MaxLimit caps the page size a caller can request.
	MaxLimit = 100
)

// sortColumns is the whitelist of sortable fields, keyed by the wire name.
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"dueDate":   "due_date",
	"priority":  "priority",
	"status":    "status",
	"title":     "title",
}

// ListFilter narrows and pages a scoped list query.
type ListFilter struct {
	Status   string
	Priority string
	Search   string
	Page     int
	Limit    int
	// Sort is a wire field name, "-" prefixed for descending.
	// Defaults to "-createdAt".
	Sort string
}

// Repository handles task persistence using GORM. Soft-deleted rows are
// invisible to every method here; nothing ever removes a row physically.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new task repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// scoped returns the base query: non-deleted tasks the actor may see.
func (r *Repository) scoped(actor *user.Actor) *gorm.DB {
	q := r.db.Model(&domain.Task{}).Where("is_deleted = ?", false)
	if actor.Role == user.RoleUser {
		q = q.Where("created_by_id = ? OR assigned_to_id = ?", actor.ID, actor.ID)
	}
	return q
}

// List returns one page of the actor's visible tasks plus the total count
// of matches before pagination.
func (r *Repository) List(actor *user.Actor, filter ListFilter) ([]*domain.Task, int64, error) {
	q := r.scoped(actor)

	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		q = q.Where("priority = ?", filter.Priority)
	}
	if filter.Search != "" {
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	order, err := parseSort(filter.Sort)
	if err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = DefaultPage
	}
	limit := filter.Limit
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var tasks []*domain.Task
	if err := q.Order(order).Limit(limit).Offset((page - 1) * limit).Find(&tasks).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}

	return tasks, total, nil
}

// FindByID retrieves a task by ID. Soft-deleted tasks are reported as not
// found, indistinguishable from tasks that never existed.
func (r *Repository) FindByID(id string) (*domain.Task, error) {
	var t domain.Task
	err := r.db.First(&t, "id = ? AND is_deleted = ?", id, false).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return &t, nil
}

// Insert saves a new task.
func (r *Repository) Insert(t *domain.Task) error {
	if err := r.db.Create(t).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// UpdateFields applies a partial field merge in a single UPDATE. Fields
// absent from the map are untouched; a concurrent reader sees either the
// old row or the fully merged row, never a mix.
func (r *Repository) UpdateFields(id string, fields map[string]any) error {
	result := r.db.Model(&domain.Task{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete flips the deletion flag. Deleting an already-deleted task
// reports not found, same as the read paths.
func (r *Repository) SoftDelete(id string, at time.Time) error {
	result := r.db.Model(&domain.Task{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"is_deleted": true, "deleted_at": at})
	if result.Error != nil {
		return fmt.Errorf("failed to delete task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByStatus returns per-status counts over the actor's visible set.
// Statuses with no rows are reported as zero.
func (r *Repository) CountByStatus(actor *user.Actor) (domain.StatusCounts, error) {
	var rows []struct {
		Status domain.Status
		Count  int64
	}
	err := r.scoped(actor).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return domain.StatusCounts{}, fmt.Errorf("failed to count by status: %w", err)
	}

	var counts domain.StatusCounts
	for _, row := range rows {
		switch row.Status {
		case domain.StatusTodo:
			counts.Todo = row.Count
		case domain.StatusInProgress:
			counts.InProgress = row.Count
		case domain.StatusDone:
			counts.Done = row.Count
		}
	}
	return counts, nil
}

// parseSort turns a wire sort key ("-createdAt") into an ORDER BY clause,
// rejecting anything outside the whitelist.
func parseSort(sort string) (string, error) {
	if sort == "" {
		sort = "-createdAt"
	}

	dir := "ASC"
	field := sort
	if strings.HasPrefix(sort, "-") {
		dir = "DESC"
		field = sort[1:]
	}

	column, ok := sortColumns[field]
	if !ok {
		return "", fmt.Errorf("validation: unsupported sort field: %q", field)
	}
	return column + " " + dir, nil
}
