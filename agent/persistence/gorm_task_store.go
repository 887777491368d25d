package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// finalizeColumns are written together when a task reaches a terminal status.
var finalizeColumns = []string{
	"status", "output", "error_kind", "error_message", "tokens_used",
	"cost", "latency_ms", "confidence", "completed_at", "metadata",
}

// GormTaskStore stores tasks in a relational database (postgres, mysql, sqlite).
// The schema is owned by internal/migration.
type GormTaskStore struct {
	db *gorm.DB
}

// NewGormTaskStore creates a task store on an open gorm connection
func NewGormTaskStore(db *gorm.DB) *GormTaskStore {
	return &GormTaskStore{db: db}
}

// Close is a no-op; the connection pool is owned by the caller
func (s *GormTaskStore) Close() error {
	return nil
}

// Ping checks if the store is healthy
func (s *GormTaskStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateTask inserts a new task row
func (s *GormTaskStore) CreateTask(ctx context.Context, task *Task) error {
	if err := validateNewTask(task); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(task.Clone())
	if res.Error != nil {
		return fmt.Errorf("failed to insert task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetTask retrieves a task by ID
func (s *GormTaskStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	err := s.db.WithContext(ctx).Where("id = ?", taskID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return &task, nil
}

// ListTasks retrieves tasks matching the filter criteria, most recent first
func (s *GormTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	q := s.db.WithContext(ctx).Model(&Task{})
	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Owner != "" {
		q = q.Where("owner = ?", filter.Owner)
	}
	if len(filter.Status) > 0 {
		q = q.Where("status IN ?", filter.Status)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at < ?", *filter.CreatedBefore)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var tasks []*Task
	if err := q.Order("created_at DESC").Order("id DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// FinalizeTask applies a terminal outcome with a conditional update: the row
// only changes if its status is still the one read, so concurrent finalizers
// cannot both win.
func (s *GormTaskStore) FinalizeTask(ctx context.Context, taskID string, outcome *Outcome) (*Task, error) {
	if err := outcome.Validate(); err != nil {
		return nil, err
	}

	current, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	oldStatus := current.Status
	next := current.Clone()
	if err := outcome.applyTo(next); err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).
		Model(next).
		Where("status = ?", oldStatus).
		Select(finalizeColumns).
		Updates(next)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to finalize task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: task %s changed concurrently", ErrInvalidTransition, taskID)
	}

	return next, nil
}

// Ensure GormTaskStore implements TaskStore
var _ TaskStore = (*GormTaskStore)(nil)
