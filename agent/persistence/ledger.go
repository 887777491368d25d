package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/campusflow/types"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// Completion is the success payload written by Ledger.Complete.
type Completion struct {
	Output     string
	TokensUsed int
	Cost       float64
	LatencyMs  int64
	Confidence float64
	Metadata   map[string]any
}

// Ledger is the audit trail of task lifecycles. It owns timestamps and status
// transitions; every terminal write goes through one TaskStore.FinalizeTask call.
type Ledger struct {
	store  TaskStore
	logger *zap.Logger
	now    func() time.Time

	// owner 标识本实例，写入每个新任务
	owner string
	// staleAfter 之后其他实例遗留的任务也视为中断，0 表示只回收本实例的任务
	staleAfter time.Duration
}

// NewLedger creates a ledger over store
func NewLedger(store TaskStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:  store,
		logger: logger.With(zap.String("component", "task_ledger")),
		now:    time.Now,
	}
}

// WithClock overrides the time source; used by tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// WithOwner stamps tasks created by this ledger with the instance ID owner.
func (l *Ledger) WithOwner(owner string) *Ledger {
	l.owner = owner
	return l
}

// WithStaleAfter lets RecoverInterrupted also fail other instances' tasks
// created more than d ago.
func (l *Ledger) WithStaleAfter(d time.Duration) *Ledger {
	l.staleAfter = d
	return l
}

// Owner returns the instance ID stamped on new tasks.
func (l *Ledger) Owner() string {
	return l.owner
}

// Store exposes the underlying task store for health checks.
func (l *Ledger) Store() TaskStore {
	return l.store
}

// CreateRunning records a task that is starting now.
func (l *Ledger) CreateRunning(ctx context.Context, task *Task) error {
	now := l.now()
	if task.CreatedAt.IsZero() || task.CreatedAt.After(now) {
		task.CreatedAt = now
	}
	task.StartedAt = &now
	task.Status = TaskStatusRunning
	task.Owner = l.owner
	task.Output = ""
	task.ErrorKind = ""
	task.ErrorMessage = ""
	task.CompletedAt = nil

	if err := l.store.CreateTask(ctx, task); err != nil {
		return types.NewPersistenceError("create task", err)
	}
	return nil
}

// Complete records a successful outcome.
func (l *Ledger) Complete(ctx context.Context, taskID string, c Completion) (*Task, error) {
	return l.finalize(ctx, taskID, &Outcome{
		Status:     TaskStatusCompleted,
		Output:     c.Output,
		TokensUsed: c.TokensUsed,
		Cost:       c.Cost,
		LatencyMs:  c.LatencyMs,
		Confidence: c.Confidence,
		Metadata:   c.Metadata,
	})
}

// Fail records a failure with its error kind and a caller-safe message.
func (l *Ledger) Fail(ctx context.Context, taskID string, kind types.ErrorCode, message string, metadata map[string]any) (*Task, error) {
	return l.finalize(ctx, taskID, &Outcome{
		Status:       TaskStatusFailed,
		ErrorKind:    string(kind),
		ErrorMessage: message,
		Metadata:     metadata,
	})
}

// Block records a governance denial.
func (l *Ledger) Block(ctx context.Context, taskID string, message string, metadata map[string]any) (*Task, error) {
	return l.finalize(ctx, taskID, &Outcome{
		Status:       TaskStatusBlocked,
		ErrorKind:    string(types.ErrGovernanceBlocked),
		ErrorMessage: message,
		Metadata:     metadata,
	})
}

// Cancel records a caller cancellation. No output is ever kept.
func (l *Ledger) Cancel(ctx context.Context, taskID string, metadata map[string]any) (*Task, error) {
	return l.finalize(ctx, taskID, &Outcome{
		Status:       TaskStatusCancelled,
		ErrorKind:    string(types.ErrTaskCancelled),
		ErrorMessage: "task cancelled by caller",
		Metadata:     metadata,
	})
}

func (l *Ledger) finalize(ctx context.Context, taskID string, outcome *Outcome) (*Task, error) {
	outcome.CompletedAt = l.now()

	task, err := l.store.FinalizeTask(ctx, taskID, outcome)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, types.NewTaskNotFoundError(taskID)
		}
		return nil, types.NewPersistenceError("finalize task as "+string(outcome.Status), err)
	}
	return task, nil
}

// Get returns a task by ID.
func (l *Ledger) Get(ctx context.Context, taskID string) (*Task, error) {
	task, err := l.store.GetTask(ctx, taskID)
	if errors.Is(err, ErrNotFound) {
		return nil, types.NewTaskNotFoundError(taskID)
	}
	if err != nil {
		return nil, types.NewPersistenceError("get task", err)
	}
	return task, nil
}

// ListByAgent returns the agent's most recent tasks first.
func (l *Ledger) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	tasks, err := l.store.ListTasks(ctx, TaskFilter{AgentID: agentID, Limit: limit})
	if err != nil {
		return nil, types.NewPersistenceError("list tasks", err)
	}
	return tasks, nil
}

// RecoverInterrupted fails tasks this instance left pending or running before
// a restart. Tasks owned by other instances are only touched once they are
// older than the stale threshold, so peers sharing the store keep their live
// work. Call it once at startup before accepting traffic.
func (l *Ledger) RecoverInterrupted(ctx context.Context) (int, error) {
	cutoff := l.now()
	tasks, err := l.store.ListTasks(ctx, TaskFilter{
		Status:        []TaskStatus{TaskStatusPending, TaskStatusRunning},
		CreatedBefore: &cutoff,
	})
	if err != nil {
		return 0, types.NewPersistenceError("list interrupted tasks", err)
	}

	recovered := 0
	for _, task := range tasks {
		if !l.interrupted(task, cutoff) {
			continue
		}
		_, err := l.Fail(ctx, task.ID, types.ErrInterrupted, "task interrupted by service restart", nil)
		if err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return recovered, err
		}
		recovered++
		l.logger.Warn("recovered interrupted task",
			zap.String("task_id", task.ID),
			zap.String("agent_id", task.AgentID),
			zap.String("owner", task.Owner),
		)
	}
	return recovered, nil
}

func (l *Ledger) interrupted(task *Task, now time.Time) bool {
	if task.Owner == l.owner {
		return true
	}
	return l.staleAfter > 0 && task.CreatedAt.Before(now.Add(-l.staleAfter))
}
