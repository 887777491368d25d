package persistence

import (
	"context"
	"fmt"
	"time"
)

// TaskStore defines the interface for task lifecycle persistence.
// Implementations guarantee atomic single-record writes; callers never rely on
// cross-record transactions.
type TaskStore interface {
	Store

	// CreateTask inserts a new task. Returns ErrAlreadyExists on duplicate ID.
	CreateTask(ctx context.Context, task *Task) error

	// GetTask retrieves a task by ID
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// ListTasks retrieves tasks matching the filter, most recent first
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)

	// FinalizeTask moves a non-terminal task into the outcome's terminal status,
	// writing every terminal field in one operation. Returns ErrInvalidTransition
	// if the task is already terminal.
	FinalizeTask(ctx context.Context, taskID string, outcome *Outcome) (*Task, error)
}

// TaskStatus represents the status of a task
type TaskStatus string

const (
	// TaskStatusPending indicates the task has been accepted but not started
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunning indicates the task is currently executing
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusCompleted indicates the task completed successfully
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates the task failed
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusBlocked indicates the governance gate denied the task
	TaskStatusBlocked TaskStatus = "blocked"

	// TaskStatusCancelled indicates the caller cancelled the task
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true if the status is a terminal state
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// rank orders statuses so transitions can only move forward.
func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusPending:
		return 0
	case TaskStatusRunning:
		return 1
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked, TaskStatusCancelled:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// Task is the durable lifecycle record of one agent execution.
type Task struct {
	ID        string         `json:"id" gorm:"primaryKey;size:64"`
	AgentID   string         `json:"agent_id" gorm:"size:128;not null;index:idx_tasks_agent_created,priority:1"`
	TaskType  string         `json:"task_type" gorm:"size:128;not null"`
	UserID    string         `json:"user_id,omitempty" gorm:"size:128"`
	Owner     string         `json:"owner,omitempty" gorm:"size:128"`
	Input     map[string]any `json:"input,omitempty" gorm:"serializer:json"`
	Output    string         `json:"output,omitempty" gorm:"type:text"`
	Status    TaskStatus     `json:"status" gorm:"size:32;not null;index"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;index:idx_tasks_agent_created,priority:2"`

	// StartedAt is set when the task enters running
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is set when the task reaches a terminal status
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorKind    string         `json:"error_kind,omitempty" gorm:"size:64"`
	ErrorMessage string         `json:"error_message,omitempty" gorm:"type:text"`
	TokensUsed   int            `json:"tokens_used"`
	Cost         float64        `json:"cost"`
	LatencyMs    int64          `json:"latency_ms"`
	Confidence   float64        `json:"confidence"`
	Metadata     map[string]any `json:"metadata,omitempty" gorm:"serializer:json"`
}

// TableName 指定任务表名
func (Task) TableName() string {
	return "tasks"
}

// IsTerminal returns true if the task is in a terminal state
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Duration returns the task duration (or time since start if still running)
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	if t.CompletedAt != nil {
		return t.CompletedAt.Sub(*t.StartedAt)
	}
	return time.Since(*t.StartedAt)
}

// Clone returns a copy that shares no maps with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Input = cloneMap(t.Input)
	c.Metadata = cloneMap(t.Metadata)
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		e := *t.CompletedAt
		c.CompletedAt = &e
	}
	return &c
}

// Outcome carries every terminal field of a task so stores can apply it in one write.
type Outcome struct {
	Status       TaskStatus
	Output       string
	ErrorKind    string
	ErrorMessage string
	TokensUsed   int
	Cost         float64
	LatencyMs    int64
	Confidence   float64
	Metadata     map[string]any
	CompletedAt  time.Time
}

// Validate checks the outcome is terminal and keeps output and error apart.
func (o *Outcome) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil outcome", ErrInvalidInput)
	}
	if !o.Status.IsTerminal() {
		return fmt.Errorf("%w: outcome status %q is not terminal", ErrInvalidInput, o.Status)
	}
	if o.Output != "" && (o.ErrorKind != "" || o.ErrorMessage != "") {
		return fmt.Errorf("%w: output and error are mutually exclusive", ErrInvalidInput)
	}
	if o.Status != TaskStatusCompleted && o.Output != "" {
		return fmt.Errorf("%w: only completed tasks carry output", ErrInvalidInput)
	}
	if o.CompletedAt.IsZero() {
		return fmt.Errorf("%w: completed_at is required", ErrInvalidInput)
	}
	return nil
}

// applyTo writes the outcome into task. Callers hold whatever lock makes this atomic.
func (o *Outcome) applyTo(task *Task) error {
	if !task.Status.CanTransitionTo(o.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, o.Status)
	}
	completedAt := o.CompletedAt
	if task.StartedAt != nil && completedAt.Before(*task.StartedAt) {
		completedAt = *task.StartedAt
	}
	task.Status = o.Status
	task.Output = o.Output
	task.ErrorKind = o.ErrorKind
	task.ErrorMessage = o.ErrorMessage
	task.TokensUsed = o.TokensUsed
	task.Cost = o.Cost
	task.LatencyMs = o.LatencyMs
	task.Confidence = o.Confidence
	task.CompletedAt = &completedAt
	if len(o.Metadata) > 0 {
		if task.Metadata == nil {
			task.Metadata = make(map[string]any, len(o.Metadata))
		}
		for k, v := range o.Metadata {
			task.Metadata[k] = v
		}
	}
	return nil
}

// TaskFilter defines criteria for filtering tasks
type TaskFilter struct {
	// AgentID filters by agent
	AgentID string `json:"agent_id,omitempty"`

	// UserID filters by requesting user
	UserID string `json:"user_id,omitempty"`

	// Owner filters by the instance that ran the task
	Owner string `json:"owner,omitempty"`

	// Status filters by status (can be multiple)
	Status []TaskStatus `json:"status,omitempty"`

	// CreatedBefore filters tasks created before this time
	CreatedBefore *time.Time `json:"created_before,omitempty"`

	// Limit is the maximum number of tasks to return
	Limit int `json:"limit,omitempty"`
}

// matches checks if a task matches the filter criteria
func (f TaskFilter) matches(task *Task) bool {
	if f.AgentID != "" && task.AgentID != f.AgentID {
		return false
	}
	if f.UserID != "" && task.UserID != f.UserID {
		return false
	}
	if f.Owner != "" && task.Owner != f.Owner {
		return false
	}
	if len(f.Status) > 0 {
		found := false
		for _, status := range f.Status {
			if task.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedBefore != nil && !task.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

func validateNewTask(task *Task) error {
	if task == nil || task.ID == "" || task.AgentID == "" {
		return ErrInvalidInput
	}
	if task.Status.IsTerminal() || task.Status.rank() < 0 {
		return fmt.Errorf("%w: new task status %q", ErrInvalidInput, task.Status)
	}
	if task.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidInput)
	}
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
