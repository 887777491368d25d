package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/campusflow/agent"
	"github.com/BaSui01/campusflow/agent/guardrails"
	"github.com/BaSui01/campusflow/agent/performance"
	"github.com/BaSui01/campusflow/agent/persistence"
	"github.com/BaSui01/campusflow/agent/prompt"
	"github.com/BaSui01/campusflow/llm"
	"github.com/BaSui01/campusflow/testutil"
	"github.com/BaSui01/campusflow/testutil/fixtures"
	"github.com/BaSui01/campusflow/testutil/mocks"
	"github.com/BaSui01/campusflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试装置
// =============================================================================

type harness struct {
	orch     *Orchestrator
	registry *agent.Registry
	store    persistence.TaskStore
	ledger   *persistence.Ledger
	agg      *performance.Aggregator
	invoker  *mocks.MockInvoker
	gov      *mocks.MockGovernanceGate
	align    *mocks.MockAlignmentGate
	ctxp     *mocks.MockContextProvider
	rec      *recordingRecorder
}

type harnessOption func(cfg *Config, deps *Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		registry: agent.NewRegistry(nil, zap.NewNop()),
		store:    persistence.NewMemoryTaskStore(),
		agg:      performance.NewAggregator(),
		invoker:  mocks.NewMockInvoker().WithResponse("ok"),
		gov:      mocks.NewMockGovernanceGate(),
		align:    mocks.NewMockAlignmentGate(),
		ctxp:     mocks.NewMockContextProvider(),
		rec:      &recordingRecorder{},
	}

	cfg := DefaultConfig()
	deps := Deps{
		Registry:   h.registry,
		Aggregator: h.agg,
		Invoker:    h.invoker,
		Context:    h.ctxp,
		Governance: h.gov,
		Alignment:  h.align,
		Metrics:    h.rec,
		Logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	if deps.Ledger == nil {
		deps.Ledger = persistence.NewLedger(h.store, zap.NewNop())
	}
	h.ledger = deps.Ledger
	h.store = deps.Ledger.Store()

	ctx := context.Background()
	for _, def := range append(fixtures.AllAgents(), fixtures.DisabledAgent()) {
		_, err := h.registry.Register(ctx, def)
		require.NoError(t, err)
	}

	orch, err := New(cfg, deps)
	require.NoError(t, err)
	h.orch = orch
	t.Cleanup(func() {
		_ = orch.Close(context.Background())
	})
	return h
}

func withConfig(fn func(cfg *Config)) harnessOption {
	return func(cfg *Config, _ *Deps) { fn(cfg) }
}

func withLedger(l *persistence.Ledger) harnessOption {
	return func(_ *Config, deps *Deps) { deps.Ledger = l }
}

func riskRequest() Request {
	return Request{
		AgentID:  "risk-scorer",
		TaskType: "risk_scoring",
		Input:    fixtures.RiskScoringInput(),
		UserID:   "staff-7",
	}
}

func (h *harness) task(t *testing.T, taskID string) *persistence.Task {
	t.Helper()
	task, err := h.ledger.Get(context.Background(), taskID)
	require.NoError(t, err)
	return task
}

// recordingRecorder 记录终态计数
type recordingRecorder struct {
	mu       sync.Mutex
	statuses map[string]int
	gates    map[string]int
	inFlight atomic.Int64
}

func (r *recordingRecorder) RecordTaskExecution(_, _, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = make(map[string]int)
	}
	r.statuses[status]++
}

func (r *recordingRecorder) RecordLLMRequest(string, string, string, time.Duration, int, int, float64) {
}

func (r *recordingRecorder) RecordGateDecision(gate, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gates == nil {
		r.gates = make(map[string]int)
	}
	r.gates[gate+"/"+outcome]++
}

func (r *recordingRecorder) RecordContextOperation(string, string) {}
func (r *recordingRecorder) TaskStarted()                          { r.inFlight.Add(1) }
func (r *recordingRecorder) TaskFinished()                         { r.inFlight.Add(-1) }

func (r *recordingRecorder) status(s persistence.TaskStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[string(s)]
}

func (r *recordingRecorder) gate(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gates[key]
}

// =============================================================================
// 🎯 场景
// =============================================================================

func TestExecute_RiskScorerScenario(t *testing.T) {
	h := newHarness(t)
	h.invoker.WithResponse("low risk").WithTokens(20, 30).WithDelay(120 * time.Millisecond).WithConfidence(0.92)

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Success)
	assert.Equal(t, persistence.TaskStatusCompleted, res.Status)
	assert.Equal(t, "low risk", res.Output)
	assert.Equal(t, 50, res.TokensUsed)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(120))
	assert.Less(t, res.LatencyMs, int64(2000))
	require.NotNil(t, res.Confidence)
	assert.InDelta(t, 0.92, *res.Confidence, 1e-9)
	assert.Empty(t, res.Error)

	task := h.task(t, res.TaskID)
	assert.Equal(t, persistence.TaskStatusCompleted, task.Status)
	assert.Equal(t, "low risk", task.Output)
	assert.Equal(t, 50, task.TokensUsed)
	assert.Empty(t, task.ErrorKind)
	assert.Equal(t, AlignmentPassed, task.Metadata[MetadataAlignmentStatus])

	snap := h.agg.Snapshot("risk-scorer")
	assert.Equal(t, int64(1), snap.TotalExecutions)
	assert.Equal(t, 1.0, snap.SuccessRate)

	call := h.invoker.LastCall()
	assert.Equal(t, "mock", call.Provider)
	assert.Equal(t, "mock-model", call.Model)
	assert.Equal(t, res.TaskID, call.TraceID)
	assert.Equal(t, "staff-7", call.UserID)
	assert.Equal(t, 0.2, call.Params["temperature"])
	assert.Contains(t, call.Prompt, "risk_scoring")

	testutil.AssertEventuallyTrue(t, func() bool { return len(h.ctxp.Logged()) == 1 }, time.Second)
	logged := h.ctxp.Logged()[0]
	assert.Equal(t, "staff-7", logged.UserID)
	assert.Equal(t, res.TaskID, logged.Interaction.TaskID)
	assert.Equal(t, "low risk", logged.Interaction.Output)
}

func TestExecute_GovernanceDenyBlocksWithoutModelCall(t *testing.T) {
	h := newHarness(t)
	h.gov.WithDeny("rate_limited", "actor exceeded 10 tasks per minute")

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Success)
	assert.Equal(t, persistence.TaskStatusBlocked, res.Status)
	assert.Contains(t, res.Error, "blocked")
	assert.Contains(t, res.Error, "rate_limited")
	assert.Equal(t, types.ErrGovernanceBlocked, res.ErrorKind)
	assert.Equal(t, "rate_limited", res.PolicyMetadata["rule"])
	assert.Equal(t, false, res.PolicyMetadata["allowed"])
	assert.Empty(t, res.Output)
	assert.Equal(t, 0, h.invoker.CallCount())
	assert.Equal(t, 0, h.align.CallCount())

	task := h.task(t, res.TaskID)
	assert.Equal(t, persistence.TaskStatusBlocked, task.Status)
	assert.Equal(t, string(types.ErrGovernanceBlocked), task.ErrorKind)
	assert.Contains(t, task.Metadata, MetadataPolicyDecision)
	assert.Empty(t, task.Output)

	snap := h.agg.Snapshot("risk-scorer")
	assert.Equal(t, int64(1), snap.TotalExecutions)
	assert.Equal(t, 0.0, snap.SuccessRate)

	calls := h.gov.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "agent", calls[0].EntityType)
	assert.Equal(t, "risk-scorer", calls[0].EntityID)
	assert.Equal(t, "risk_scoring", calls[0].Action)
	assert.Equal(t, "staff-7", calls[0].ActorID)
	assert.Equal(t, res.TaskID, calls[0].Context["task_id"])
	assert.Equal(t, 1, h.rec.gate("governance/denied"))
}

func TestExecute_ModelHangFailsWithinBound(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *Config) { cfg.ModelTimeout = 100 * time.Millisecond }))
	h.invoker.WithHang()

	start := time.Now()
	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Less(t, elapsed, 2*time.Second)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.False(t, res.Success)
	assert.Equal(t, persistence.TaskStatusFailed, res.Status)
	assert.Equal(t, types.ErrModelInvocation, res.ErrorKind)
	assert.Equal(t, "model invocation failed", res.Error)

	task := h.task(t, res.TaskID)
	assert.Equal(t, persistence.TaskStatusFailed, task.Status)
	assert.Equal(t, string(types.ErrModelInvocation), task.ErrorKind)
	assert.Empty(t, task.Output)
	assert.Equal(t, 0.0, h.agg.Snapshot("risk-scorer").SuccessRate)
}

func TestExecute_ModelErrorKeepsMessageGeneric(t *testing.T) {
	h := newHarness(t)
	h.invoker.WithError(&llm.Error{Code: llm.ErrUpstreamError, Message: "upstream said: secret internal detail"})

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)

	assert.Equal(t, persistence.TaskStatusFailed, res.Status)
	assert.NotContains(t, res.Error, "secret")
	task := h.task(t, res.TaskID)
	assert.Equal(t, string(llm.ErrUpstreamError), task.Metadata["model_error_code"])
}

func TestExecute_AlignmentUnavailableCompletesUnchecked(t *testing.T) {
	h := newHarness(t)
	h.align.WithUnavailable()

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, persistence.TaskStatusCompleted, res.Status)
	assert.Contains(t, res.Warnings, WarningAlignmentUnchecked)

	task := h.task(t, res.TaskID)
	assert.Equal(t, AlignmentUnchecked, task.Metadata[MetadataAlignmentStatus])
	assert.Contains(t, task.Metadata[MetadataWarnings], WarningAlignmentUnchecked)
	assert.Equal(t, 1.0, h.agg.Snapshot("risk-scorer").SuccessRate)
}

func TestExecute_AlignmentFlaggedAnnotatesOnly(t *testing.T) {
	h := newHarness(t)
	h.align.WithFlagged("review wording for bias")

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Output)
	assert.Contains(t, res.Warnings, WarningAlignmentFlagged)

	task := h.task(t, res.TaskID)
	assert.Equal(t, AlignmentFlagged, task.Metadata[MetadataAlignmentStatus])
	alignment, ok := task.Metadata[MetadataAlignment].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, alignment["flagged"])
	assert.Equal(t, []string{"ok"}, h.align.Contents())
}

func TestExecute_GovernanceUnavailableFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.gov.WithUnavailable()

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, persistence.TaskStatusBlocked, res.Status)
	assert.Contains(t, res.Error, "blocked")
	assert.Equal(t, "governance_unavailable", res.PolicyMetadata["rule"])
	assert.NotContains(t, res.Error, "connection refused")
	assert.Equal(t, 0, h.invoker.CallCount())
	assert.Equal(t, 1, h.rec.gate("governance/unavailable"))
}

func TestExecute_GovernanceUnavailableFailOpen(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *Config) { cfg.GovernanceFailOpen = true }))
	h.gov.WithUnavailable()

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Contains(t, res.Warnings, WarningGovernanceUnchecked)
	assert.Equal(t, 1, h.invoker.CallCount())
}

func TestExecute_CallerCancellationDuringModelCall(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.invoker.WithGenerateFunc(func(ctx context.Context, _ llm.GenerateRequest) (*llm.Generation, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	res, err := h.orch.Execute(ctx, riskRequest())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Success)
	assert.Equal(t, persistence.TaskStatusCancelled, res.Status)
	assert.Equal(t, types.ErrTaskCancelled, res.ErrorKind)
	assert.Empty(t, res.Output)

	task := h.task(t, res.TaskID)
	assert.Equal(t, persistence.TaskStatusCancelled, task.Status)
	assert.Empty(t, task.Output)
	assert.Equal(t, int64(0), h.agg.Snapshot("risk-scorer").TotalExecutions)
	assert.Equal(t, 0, h.align.CallCount())
	assert.Empty(t, h.ctxp.Logged())
}

func TestExecute_CallerCancellationDuringGovernance(t *testing.T) {
	h := newHarness(t)
	h.gov.WithHang()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	res, err := h.orch.Execute(ctx, riskRequest())
	require.NoError(t, err)

	assert.Equal(t, persistence.TaskStatusCancelled, res.Status)
	assert.Equal(t, 0, h.invoker.CallCount())
	assert.Equal(t, persistence.TaskStatusCancelled, h.task(t, res.TaskID).Status)
}

func TestExecute_PanicFailsTask(t *testing.T) {
	h := newHarness(t)
	h.invoker.WithPanic("boom")

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, types.ErrInternalError, types.GetErrorCode(err))

	tasks, lerr := h.ledger.ListByAgent(context.Background(), "risk-scorer", 10)
	require.NoError(t, lerr)
	require.Len(t, tasks, 1)
	assert.Equal(t, persistence.TaskStatusFailed, tasks[0].Status)
	assert.Equal(t, string(types.ErrInternalError), tasks[0].ErrorKind)
	assert.Contains(t, tasks[0].ErrorMessage, "boom")

	snap := h.agg.Snapshot("risk-scorer")
	assert.Equal(t, int64(1), snap.TotalExecutions)
	assert.Equal(t, 0.0, snap.SuccessRate)
	assert.Equal(t, int64(0), h.rec.inFlight.Load())
}

// failingStore 让指定的写操作失败
type failingStore struct {
	*persistence.MemoryTaskStore
	failCreate   bool
	failFinalize bool
}

func (s *failingStore) CreateTask(ctx context.Context, task *persistence.Task) error {
	if s.failCreate {
		return errors.New("disk full")
	}
	return s.MemoryTaskStore.CreateTask(ctx, task)
}

func (s *failingStore) FinalizeTask(ctx context.Context, taskID string, outcome *persistence.Outcome) (*persistence.Task, error) {
	if s.failFinalize {
		return nil, errors.New("connection reset")
	}
	return s.MemoryTaskStore.FinalizeTask(ctx, taskID, outcome)
}

func TestExecute_LedgerCreateFailureIsHardError(t *testing.T) {
	store := &failingStore{MemoryTaskStore: persistence.NewMemoryTaskStore(), failCreate: true}
	h := newHarness(t, withLedger(persistence.NewLedger(store, zap.NewNop())))

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Equal(t, types.ErrPersistence, types.GetErrorCode(err))
	typed, ok := types.AsError(err)
	require.True(t, ok)
	assert.NotContains(t, typed.Message, "disk full")
	assert.Equal(t, 0, h.invoker.CallCount())
	assert.Equal(t, 0, h.gov.CallCount())
}

func TestExecute_LedgerFinalizeFailureIsHardError(t *testing.T) {
	store := &failingStore{MemoryTaskStore: persistence.NewMemoryTaskStore(), failFinalize: true}
	h := newHarness(t, withLedger(persistence.NewLedger(store, zap.NewNop())))

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Equal(t, types.ErrPersistence, types.GetErrorCode(err))
	assert.Equal(t, int64(0), h.agg.Snapshot("risk-scorer").TotalExecutions)
}

func TestExecute_ConcurrentSameAgentCountsExactly(t *testing.T) {
	h := newHarness(t)
	h.invoker.WithDelay(2 * time.Millisecond)

	const n = 128
	var wg sync.WaitGroup
	var failures atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.Execute(context.Background(), riskRequest())
			if err != nil || !res.Success {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), failures.Load())
	snap := h.agg.Snapshot("risk-scorer")
	assert.Equal(t, int64(n), snap.TotalExecutions)
	assert.Equal(t, 1.0, snap.SuccessRate)

	tasks, err := h.ledger.ListByAgent(context.Background(), "risk-scorer", 1000)
	require.NoError(t, err)
	assert.Len(t, tasks, n)
	assert.Equal(t, n, h.rec.status(persistence.TaskStatusCompleted))
	assert.Equal(t, int64(0), h.rec.inFlight.Load())
}

func TestExecute_TimestampOrdering(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		want  persistence.TaskStatus
	}{
		{name: "completed", setup: func(*harness) {}, want: persistence.TaskStatusCompleted},
		{name: "blocked", setup: func(h *harness) { h.gov.WithDeny("denied_action", "not allowed") }, want: persistence.TaskStatusBlocked},
		{name: "failed", setup: func(h *harness) { h.invoker.WithError(errors.New("boom")) }, want: persistence.TaskStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.NewStepClock(time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC), time.Millisecond)
			ledger := persistence.NewLedger(persistence.NewMemoryTaskStore(), zap.NewNop()).WithClock(clock.Now)
			h := newHarness(t, withLedger(ledger))
			h.orch.WithClock(clock.Now)
			tt.setup(h)

			res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)

			task := h.task(t, res.TaskID)
			require.NotNil(t, task.StartedAt)
			require.NotNil(t, task.CompletedAt)
			assert.False(t, task.StartedAt.Before(task.CreatedAt))
			assert.False(t, task.CompletedAt.Before(*task.StartedAt))
		})
	}
}

func TestExecute_ContextUnavailableWarning(t *testing.T) {
	h := newHarness(t)
	h.ctxp.WithFetchError(errors.New("redis: connection refused"))

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, []string{WarningContextUnavailable}, res.Warnings)
	task := h.task(t, res.TaskID)
	assert.Contains(t, task.Metadata[MetadataWarnings], WarningContextUnavailable)
}

func TestExecute_ContextFlowsIntoPromptAndGates(t *testing.T) {
	h := newHarness(t)
	h.ctxp.WithProfile("staff-7", map[string]any{"homeroom": "5B"})

	_, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)

	assert.Contains(t, h.invoker.LastCall().Prompt, "5B")
	calls := h.gov.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"homeroom": "5B"}, calls[0].Context["profile"])
}

func TestExecute_OptionsDisableCollaborators(t *testing.T) {
	h := newHarness(t)
	req := riskRequest()
	req.Options = &Options{}

	res, err := h.orch.Execute(testutil.TestContext(t), req)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 0, h.gov.CallCount())
	assert.Equal(t, 0, h.align.CallCount())
	assert.Equal(t, 0, h.ctxp.FetchCount())
	assert.Empty(t, h.ctxp.Logged())
}

func TestExecute_UsageEstimatedWarning(t *testing.T) {
	h := newHarness(t)
	h.invoker.WithEstimatedUsage()

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, WarningUsageEstimated)
}

func TestExecute_CostFromPriceTable(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *Config) {
		cfg.Prices = llm.PriceTable{"mock-model": {PromptPer1K: 1, CompletionPer1K: 2}}
	}))
	h.invoker.WithTokens(1000, 500)

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Cost, 1e-9)
	assert.InDelta(t, 2.0, h.task(t, res.TaskID).Cost, 1e-9)
}

// =============================================================================
// ❌ 请求错误
// =============================================================================

func TestExecute_RequestErrorsCreateNoTask(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Request)
		schemas prompt.SchemaSet
		code    types.ErrorCode
	}{
		{name: "unknown agent", mutate: func(r *Request) { r.AgentID = "ghost" }, code: types.ErrAgentNotFound},
		{name: "disabled agent", mutate: func(r *Request) { r.AgentID = "retired-agent" }, code: types.ErrAgentNotFound},
		{name: "empty task type", mutate: func(r *Request) { r.TaskType = "  " }, code: types.ErrInvalidInput},
		{
			name:    "schema violation",
			mutate:  func(r *Request) { r.Input = map[string]any{"attendance_rate": 0.9} },
			schemas: prompt.SchemaSet{"risk_scoring": {Required: []string{"student_id"}}},
			code:    types.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(_ *Config, deps *Deps) { deps.Schemas = tt.schemas })
			req := riskRequest()
			tt.mutate(&req)

			res, err := h.orch.Execute(testutil.TestContext(t), req)
			assert.Nil(t, res)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))

			tasks, lerr := h.store.ListTasks(context.Background(), persistence.TaskFilter{})
			require.NoError(t, lerr)
			assert.Empty(t, tasks)
			assert.Equal(t, 0, h.invoker.CallCount())
		})
	}
}

func TestNew_RequiresCoreDeps(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

// =============================================================================
// 🔚 关闭
// =============================================================================

func TestClose_DrainsMemoryLogging(t *testing.T) {
	h := newHarness(t)
	var logged atomic.Bool
	h.ctxp.WithLogHook(func(mocks.LoggedInteraction) {
		time.Sleep(50 * time.Millisecond)
		logged.Store(true)
	})

	res, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)
	require.True(t, res.Success)

	require.NoError(t, h.orch.Close(testutil.TestContext(t)))
	assert.True(t, logged.Load())

	_, err = h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.Error(t, err)
	assert.Equal(t, types.ErrServiceUnavailable, types.GetErrorCode(err))
}

func TestClose_RespectsDeadline(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.ctxp.WithLogHook(func(mocks.LoggedInteraction) { <-release })
	defer close(release)

	_, err := h.orch.Execute(testutil.TestContext(t), riskRequest())
	require.NoError(t, err)
	testutil.AssertEventuallyTrue(t, func() bool { return len(h.ctxp.Logged()) == 1 }, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.orch.Close(ctx), context.DeadlineExceeded)
}

// =============================================================================
// 📋 查询
// =============================================================================

func TestQueries(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	_, err := h.orch.GetAgentStats("ghost")
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
	_, err = h.orch.ListTasksByAgent(ctx, "ghost", 10)
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
	_, err = h.orch.GetTask(ctx, "missing")
	assert.Equal(t, types.ErrTaskNotFound, types.GetErrorCode(err))

	stats, err := h.orch.GetAgentStats("seating-planner")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalExecutions)

	res, err := h.orch.Execute(ctx, riskRequest())
	require.NoError(t, err)

	task, err := h.orch.GetTask(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, res.TaskID, task.ID)

	tasks, err := h.orch.ListTasksByAgent(ctx, "risk-scorer", 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	agents := h.orch.ListAgents()
	require.Len(t, agents, 4)
	assert.Equal(t, "risk-scorer", agents[0].ID)
}

func TestRegisterAgent_ReRegistrationKeepsStats(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	_, err := h.orch.Execute(ctx, riskRequest())
	require.NoError(t, err)

	def := fixtures.RiskScorerAgent()
	def.Name = "Risk Scorer v2"
	updated, err := h.orch.RegisterAgent(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, "Risk Scorer v2", updated.Name)

	stats, err := h.orch.GetAgentStats("risk-scorer")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalExecutions)

	_, err = h.orch.RegisterAgent(ctx, agent.Definition{ID: "no-caps"})
	assert.Equal(t, types.ErrInvalidDefinition, types.GetErrorCode(err))
}

func TestSetAgentEnabled_DisabledAgentRefused(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	_, err := h.orch.SetAgentEnabled(ctx, "risk-scorer", false)
	require.NoError(t, err)

	_, err = h.orch.Execute(ctx, riskRequest())
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))

	_, err = h.orch.SetAgentEnabled(ctx, "risk-scorer", true)
	require.NoError(t, err)
	res, err := h.orch.Execute(ctx, riskRequest())
	require.NoError(t, err)
	assert.True(t, res.Success)
}

var _ guardrails.GovernanceGate = (*mocks.MockGovernanceGate)(nil)
