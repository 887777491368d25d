package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/campusflow/types"
)

type steppingClock struct {
	t    time.Time
	step time.Duration
}

func (c *steppingClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func TestLedger_Lifecycle(t *testing.T) {
	clock := &steppingClock{t: baseTime, step: 10 * time.Millisecond}
	ledger := NewLedger(NewMemoryTaskStore(), zap.NewNop()).WithClock(clock.now)
	ctx := context.Background()

	task := &Task{ID: "t-1", AgentID: "risk-scorer", TaskType: "score", CreatedAt: baseTime}
	require.NoError(t, ledger.CreateRunning(ctx, task))
	assert.Equal(t, TaskStatusRunning, task.Status)
	require.NotNil(t, task.StartedAt)

	done, err := ledger.Complete(ctx, "t-1", Completion{Output: "low risk", TokensUsed: 50, LatencyMs: 120})
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, done.Status)

	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.StartedAt.Before(done.CreatedAt))
	assert.False(t, done.CompletedAt.Before(*done.StartedAt))

	_, err = ledger.Fail(ctx, "t-1", types.ErrModelInvocation, "late failure", nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrPersistence))
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestLedger_TerminalKinds(t *testing.T) {
	ledger := NewLedger(NewMemoryTaskStore(), nil)
	ctx := context.Background()

	for _, id := range []string{"blocked", "failed", "cancelled"} {
		require.NoError(t, ledger.CreateRunning(ctx, &Task{ID: id, AgentID: "a", TaskType: "score"}))
	}

	blocked, err := ledger.Block(ctx, "blocked", "blocked by policy: rate_limited", map[string]any{"violated_rules": []string{"rate_limited"}})
	require.NoError(t, err)
	assert.Equal(t, TaskStatusBlocked, blocked.Status)
	assert.Equal(t, string(types.ErrGovernanceBlocked), blocked.ErrorKind)

	failed, err := ledger.Fail(ctx, "failed", types.ErrModelInvocation, "model invocation failed", nil)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, failed.Status)
	assert.Empty(t, failed.Output)

	cancelled, err := ledger.Cancel(ctx, "cancelled", nil)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCancelled, cancelled.Status)
	assert.Empty(t, cancelled.Output)

	_, err = ledger.Get(ctx, "missing")
	assert.True(t, types.IsErrorCode(err, types.ErrTaskNotFound))

	_, err = ledger.Complete(ctx, "missing", Completion{Output: "x"})
	assert.True(t, types.IsErrorCode(err, types.ErrTaskNotFound))
}

func TestLedger_ListByAgentClampsLimit(t *testing.T) {
	clock := &steppingClock{t: baseTime, step: time.Second}
	ledger := NewLedger(NewMemoryTaskStore(), nil).WithClock(clock.now)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, ledger.CreateRunning(ctx, &Task{ID: id, AgentID: "risk-scorer", TaskType: "score"}))
	}

	tasks, err := ledger.ListByAgent(ctx, "risk-scorer", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "c", tasks[0].ID)

	tasks, err = ledger.ListByAgent(ctx, "risk-scorer", 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestLedger_RecoverInterrupted(t *testing.T) {
	store := NewMemoryTaskStore()
	ctx := context.Background()

	require.NoError(t, store.CreateTask(ctx, newRunningTask("stale", "risk-scorer", 0)))
	require.NoError(t, store.CreateTask(ctx, newRunningTask("done", "risk-scorer", time.Second)))
	_, err := store.FinalizeTask(ctx, "done", &Outcome{Status: TaskStatusCompleted, Output: "ok", CompletedAt: baseTime.Add(time.Minute)})
	require.NoError(t, err)

	ledger := NewLedger(store, nil).WithClock(func() time.Time { return baseTime.Add(time.Hour) })
	n, err := ledger.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := ledger.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, stale.Status)
	assert.Equal(t, string(types.ErrInterrupted), stale.ErrorKind)
}

func TestLedger_RecoverInterruptedSharedStore(t *testing.T) {
	for name, newStore := range taskStores(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			// replica-b 上一次运行遗留的任务
			leftover := newRunningTask("leftover-b", "risk-scorer", 0)
			leftover.Owner = "replica-b"
			require.NoError(t, store.CreateTask(ctx, leftover))

			// 早已下线的实例遗留的任务
			abandoned := newRunningTask("abandoned", "risk-scorer", -3*time.Hour)
			abandoned.Owner = "replica-gone"
			require.NoError(t, store.CreateTask(ctx, abandoned))

			clockA := &steppingClock{t: baseTime, step: time.Millisecond}
			replicaA := NewLedger(store, nil).WithOwner("replica-a").WithClock(clockA.now)
			require.NoError(t, replicaA.CreateRunning(ctx, &Task{ID: "live", AgentID: "risk-scorer", TaskType: "score"}))

			replicaB := NewLedger(store, nil).
				WithOwner("replica-b").
				WithStaleAfter(time.Hour).
				WithClock(func() time.Time { return baseTime.Add(time.Minute) })
			n, err := replicaB.RecoverInterrupted(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			done, err := replicaA.Complete(ctx, "live", Completion{Output: "low risk", LatencyMs: 90})
			require.NoError(t, err)
			assert.Equal(t, TaskStatusCompleted, done.Status)
			assert.Equal(t, "replica-a", done.Owner)

			for _, id := range []string{"leftover-b", "abandoned"} {
				task, err := replicaB.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, TaskStatusFailed, task.Status, id)
				assert.Equal(t, string(types.ErrInterrupted), task.ErrorKind, id)
			}
		})
	}
}

func TestLedger_RecoverInterruptedOwnTasksOnly(t *testing.T) {
	store := NewMemoryTaskStore()
	ctx := context.Background()

	peer := newRunningTask("peer-old", "risk-scorer", 0)
	peer.Owner = "replica-a"
	require.NoError(t, store.CreateTask(ctx, peer))

	ledger := NewLedger(store, nil).
		WithOwner("replica-b").
		WithClock(func() time.Time { return baseTime.Add(24 * time.Hour) })
	n, err := ledger.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	task, err := ledger.Get(ctx, "peer-old")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusRunning, task.Status)
}

func TestLedger_DatabaseFailureIsPersistenceError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO "tasks"`).WillReturnError(errors.New("connection refused"))

	ledger := NewLedger(NewGormTaskStore(db), nil)
	err = ledger.CreateRunning(context.Background(), &Task{ID: "t-1", AgentID: "a", TaskType: "score"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrPersistence))

	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "failed to record task outcome", e.Message)
}
