package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/campusflow/agent"
	"github.com/BaSui01/campusflow/agent/guardrails"
	"github.com/BaSui01/campusflow/agent/memory"
	"github.com/BaSui01/campusflow/agent/performance"
	"github.com/BaSui01/campusflow/agent/persistence"
	"github.com/BaSui01/campusflow/agent/prompt"
	"github.com/BaSui01/campusflow/internal/telemetry"
	"github.com/BaSui01/campusflow/llm"
	"github.com/BaSui01/campusflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Deps are the orchestrator's collaborators. Registry, Ledger, Aggregator and
// Invoker are required; a nil Context, Governance or Alignment skips that step.
type Deps struct {
	Registry   *agent.Registry
	Ledger     *persistence.Ledger
	Aggregator *performance.Aggregator
	Invoker    llm.ModelInvoker

	Context    memory.ContextProvider
	Governance guardrails.GovernanceGate
	Alignment  guardrails.AlignmentGate
	Schemas    prompt.SchemaSet

	Metrics Recorder
	Tracer  trace.Tracer
	Logger  *zap.Logger
}

// Orchestrator runs agent tasks through the gated pipeline and owns each
// task record for the duration of its execution.
type Orchestrator struct {
	config Config

	registry        *agent.Registry
	ledger          *persistence.Ledger
	aggregator      *performance.Aggregator
	invoker         llm.ModelInvoker
	contextProvider memory.ContextProvider
	governance      guardrails.GovernanceGate
	alignment       guardrails.AlignmentGate
	schemas         prompt.SchemaSet

	metrics Recorder
	tracer  trace.Tracer
	logger  *zap.Logger

	sem   *semaphore.Weighted
	now   func() time.Time
	newID func() string

	bgMu   sync.Mutex
	bg     sync.WaitGroup
	closed bool
}

// New creates an Orchestrator.
func New(config Config, deps Deps) (*Orchestrator, error) {
	if deps.Registry == nil || deps.Ledger == nil || deps.Aggregator == nil || deps.Invoker == nil {
		return nil, errors.New("orchestrator: registry, ledger, aggregator and invoker are required")
	}
	config = config.withDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}

	o := &Orchestrator{
		config:          config,
		registry:        deps.Registry,
		ledger:          deps.Ledger,
		aggregator:      deps.Aggregator,
		invoker:         deps.Invoker,
		contextProvider: deps.Context,
		governance:      deps.Governance,
		alignment:       deps.Alignment,
		schemas:         deps.Schemas,
		metrics:         metrics,
		tracer:          tracer,
		logger:          logger.With(zap.String("component", "orchestrator")),
		now:             time.Now,
		newID:           uuid.NewString,
	}
	if config.MaxConcurrent > 0 {
		o.sem = semaphore.NewWeighted(int64(config.MaxConcurrent))
	}
	return o, nil
}

// WithClock overrides the time source used for latency; used by tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// execution carries per-task state through the pipeline.
type execution struct {
	req      Request
	def      *agent.Definition
	opts     Options
	taskID   string
	start    time.Time
	bundle   *memory.Bundle
	cost     float64
	warnings []string
	metadata map[string]any
}

func (e *execution) warn(w string) {
	e.warnings = append(e.warnings, w)
}

func (e *execution) warningsCopy() []string {
	if len(e.warnings) == 0 {
		return nil
	}
	return append([]string(nil), e.warnings...)
}

// taskMetadata returns a fresh map for one ledger write.
func (e *execution) taskMetadata() map[string]any {
	m := make(map[string]any, len(e.metadata)+1)
	for k, v := range e.metadata {
		m[k] = v
	}
	if w := e.warningsCopy(); w != nil {
		m[MetadataWarnings] = w
	}
	return m
}

// gateContext is the attribute map handed to both policy gates.
func (e *execution) gateContext() map[string]any {
	attrs := map[string]any{
		"task_id":      e.taskID,
		"task_type":    e.req.TaskType,
		"user_id":      e.req.UserID,
		"agent_type":   e.def.Type,
		"capabilities": append([]string(nil), e.def.Capabilities...),
	}
	if len(e.req.Input) > 0 {
		attrs["input"] = e.req.Input
	}
	if !e.bundle.IsEmpty() {
		if len(e.bundle.Profile) > 0 {
			attrs["profile"] = e.bundle.Profile
		}
		attrs["recent_interactions"] = len(e.bundle.Interactions)
	}
	return attrs
}

// Execute runs one task. Expected outcomes (blocked, model failure,
// cancellation) return a Result with Success=false and a nil error. Missing
// agents, invalid input and ledger failures return a *types.Error.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute", trace.WithAttributes(
		attribute.String("agent.id", req.AgentID),
		attribute.String("task.type", req.TaskType),
	))
	defer span.End()

	res, err := o.execute(ctx, req)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
	case !res.Success:
		span.SetStatus(codes.Error, string(res.Status))
	}
	if res != nil {
		span.SetAttributes(
			attribute.String("task.id", res.TaskID),
			attribute.String("task.status", string(res.Status)),
		)
	}
	return res, err
}

func (o *Orchestrator) execute(ctx context.Context, req Request) (*Result, error) {
	if o.isClosed() {
		return nil, types.NewError(types.ErrServiceUnavailable, "orchestrator is shutting down").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true)
	}

	taskID := o.newID()
	def, err := o.registry.Lookup(req.AgentID)
	if err != nil {
		return nil, err
	}
	if !def.Enabled {
		return nil, types.NewAgentNotFoundError(req.AgentID)
	}
	if strings.TrimSpace(req.TaskType) == "" {
		return nil, types.NewInvalidInputError("task_type is required")
	}
	if err := o.schemas.Validate(req.TaskType, req.Input); err != nil {
		return nil, err
	}

	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return nil, types.NewError(types.ErrServiceUnavailable, "no execution slot available").
				WithHTTPStatus(http.StatusServiceUnavailable).
				WithRetryable(true).
				WithCause(err)
		}
		defer o.sem.Release(1)
	}
	o.metrics.TaskStarted()
	defer o.metrics.TaskFinished()

	opts := o.config.DefaultOptions
	if req.Options != nil {
		opts = *req.Options
	}

	exec := &execution{
		req:      req,
		def:      def,
		opts:     opts,
		taskID:   taskID,
		start:    o.now(),
		metadata: make(map[string]any),
	}
	exec.bundle = o.fetchContext(ctx, exec)

	task := &persistence.Task{
		ID:        taskID,
		AgentID:   def.ID,
		TaskType:  req.TaskType,
		UserID:    req.UserID,
		Input:     req.Input,
		CreatedAt: exec.start,
		Metadata:  exec.taskMetadata(),
	}
	wctx, cancel := o.writeContext(ctx)
	err = o.ledger.CreateRunning(wctx, task)
	cancel()
	if err != nil {
		o.logPersistenceError("create task", exec, err)
		return nil, err
	}

	o.logger.Debug("task started",
		zap.String("task_id", taskID),
		zap.String("agent_id", def.ID),
		zap.String("task_type", req.TaskType),
		zap.String("user_id", req.UserID),
	)
	return o.run(ctx, exec)
}

// run executes the steps after the task record exists. A panic from any
// collaborator fails the task instead of leaving it running.
func (o *Orchestrator) run(ctx context.Context, exec *execution) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = o.recoverPanic(ctx, exec, r)
		}
	}()

	if exec.opts.EnableGovernance && o.governance != nil {
		decision, cancelled := o.checkGovernance(ctx, exec)
		if cancelled {
			return o.cancel(ctx, exec)
		}
		if decision != nil && !decision.Allowed {
			return o.block(ctx, exec, decision)
		}
	}

	rendered := prompt.Render(exec.def, exec.req.TaskType, exec.req.Input, exec.bundle)

	gen, err := o.invoke(ctx, exec, rendered)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancel(ctx, exec)
		}
		return o.failModel(ctx, exec, err)
	}

	if exec.opts.EnableAlignment && o.alignment != nil {
		o.checkAlignment(ctx, exec, gen.Text)
	}
	if exec.opts.EnableMemory && o.contextProvider != nil {
		o.logInteraction(ctx, exec, gen.Text)
	}
	return o.complete(ctx, exec, gen)
}

// writeContext detaches ledger writes from caller cancellation so every
// task still reaches a terminal state.
func (o *Orchestrator) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.config.LedgerTimeout)
}

func (o *Orchestrator) logPersistenceError(op string, exec *execution, err error) {
	o.logger.Error("task ledger write failed",
		zap.String("op", op),
		zap.String("task_id", exec.taskID),
		zap.String("agent_id", exec.def.ID),
		zap.Error(err),
		zap.Stack("stack"),
	)
}

func (o *Orchestrator) isClosed() bool {
	o.bgMu.Lock()
	defer o.bgMu.Unlock()
	return o.closed
}

// track registers a background goroutine unless the orchestrator is closing.
func (o *Orchestrator) track() bool {
	o.bgMu.Lock()
	defer o.bgMu.Unlock()
	if o.closed {
		return false
	}
	o.bg.Add(1)
	return true
}

// Close stops accepting executions and waits for detached memory logging.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.bgMu.Lock()
	o.closed = true
	o.bgMu.Unlock()

	done := make(chan struct{})
	go func() {
		o.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for background memory logging: %w", ctx.Err())
	}

	if err := o.aggregator.Flush(ctx); err != nil {
		return err
	}
	o.logger.Info("orchestrator closed")
	return nil
}
