package persistence

import (
	"context"
	"sort"
	"sync"
)

// MemoryTaskStore is an in-memory implementation of TaskStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryTaskStore struct {
	tasks  map[string]*Task
	mu     sync.RWMutex
	closed bool
}

// NewMemoryTaskStore creates a new in-memory task store
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]*Task),
	}
}

// Close closes the store
func (s *MemoryTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryTaskStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// CreateTask inserts a new task
func (s *MemoryTaskStore) CreateTask(ctx context.Context, task *Task) error {
	if err := validateNewTask(task); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.tasks[task.ID]; exists {
		return ErrAlreadyExists
	}

	s.tasks[task.ID] = task.Clone()
	return nil
}

// GetTask retrieves a task by ID
func (s *MemoryTaskStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}

	return task.Clone(), nil
}

// ListTasks retrieves tasks matching the filter criteria
func (s *MemoryTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*Task, 0)
	for _, task := range s.tasks {
		if filter.matches(task) {
			result = append(result, task.Clone())
		}
	}

	sortNewestFirst(result)

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// FinalizeTask applies a terminal outcome under the store lock
func (s *MemoryTaskStore) FinalizeTask(ctx context.Context, taskID string, outcome *Outcome) (*Task, error) {
	if err := outcome.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	current, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}

	next := current.Clone()
	if err := outcome.applyTo(next); err != nil {
		return nil, err
	}
	s.tasks[taskID] = next

	return next.Clone(), nil
}

// sortNewestFirst orders tasks by creation time descending, ID breaking ties.
func sortNewestFirst(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID > tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

// Ensure MemoryTaskStore implements TaskStore
var _ TaskStore = (*MemoryTaskStore)(nil)
