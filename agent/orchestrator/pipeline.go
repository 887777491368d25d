package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/BaSui01/campusflow/agent/guardrails"
	"github.com/BaSui01/campusflow/agent/memory"
	"github.com/BaSui01/campusflow/agent/persistence"
	"github.com/BaSui01/campusflow/llm"
	"github.com/BaSui01/campusflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// 网关名与结论，用于指标标签
const (
	gateGovernance = "governance"
	gateAlignment  = "alignment"
)

// =============================================================================
// 🧠 用户上下文
// =============================================================================

// fetchContext returns nil on any failure; the task proceeds without context.
func (o *Orchestrator) fetchContext(ctx context.Context, exec *execution) *memory.Bundle {
	if !exec.opts.EnableMemory || o.contextProvider == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.ContextTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "orchestrator.context.fetch")
	defer span.End()

	bundle, err := o.contextProvider.Fetch(ctx, exec.req.UserID)
	if err != nil {
		span.RecordError(err)
		o.metrics.RecordContextOperation("fetch", "error")
		o.logger.Warn("user context unavailable, continuing without it",
			zap.String("task_id", exec.taskID),
			zap.String("user_id", exec.req.UserID),
			zap.Error(err),
		)
		exec.warn(WarningContextUnavailable)
		return nil
	}
	o.metrics.RecordContextOperation("fetch", "ok")
	return bundle
}

// logInteraction writes the interaction back in the background. The request
// never waits for it; Close drains it.
func (o *Orchestrator) logInteraction(ctx context.Context, exec *execution, output string) {
	if !o.track() {
		return
	}

	userID := exec.req.UserID
	interaction := memory.Interaction{
		TaskID:   exec.taskID,
		AgentID:  exec.def.ID,
		TaskType: exec.req.TaskType,
		Input:    exec.req.Input,
		Output:   output,
		At:       o.now(),
	}
	logCtx := context.WithoutCancel(ctx)

	go func() {
		defer o.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("memory logging panicked", zap.String("task_id", interaction.TaskID), zap.Any("recover", r))
			}
		}()

		ctx, cancel := context.WithTimeout(logCtx, o.config.MemoryLogTimeout)
		defer cancel()
		ctx, span := o.tracer.Start(ctx, "orchestrator.context.log")
		defer span.End()

		if err := o.contextProvider.Log(ctx, userID, interaction); err != nil {
			span.RecordError(err)
			o.metrics.RecordContextOperation("log", "error")
			o.logger.Warn("failed to log interaction",
				zap.String("task_id", interaction.TaskID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			return
		}
		o.metrics.RecordContextOperation("log", "ok")
	}()
}

// =============================================================================
// 🛡️ 策略网关
// =============================================================================

// checkGovernance returns the decision to apply, or cancelled=true when the
// caller went away during the check. An unavailable gate yields a denial
// unless GovernanceFailOpen is set, in which case it yields nil.
func (o *Orchestrator) checkGovernance(ctx context.Context, exec *execution) (decision *guardrails.PolicyDecision, cancelled bool) {
	gctx, cancel := context.WithTimeout(ctx, o.config.GateTimeout)
	defer cancel()
	gctx, span := o.tracer.Start(gctx, "orchestrator.governance")
	defer span.End()

	decision, err := o.governance.Check(gctx, "agent", exec.def.ID, exec.req.TaskType, exec.req.UserID, exec.gateContext())
	if err == nil && decision == nil {
		err = fmt.Errorf("%w: empty decision", guardrails.ErrGateUnavailable)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, true
		}
		span.RecordError(err)
		o.metrics.RecordGateDecision(gateGovernance, "unavailable")
		if o.config.GovernanceFailOpen {
			o.logger.Warn("governance gate unavailable, proceeding (fail-open)",
				zap.String("task_id", exec.taskID),
				zap.Error(err),
			)
			exec.warn(WarningGovernanceUnchecked)
			return nil, false
		}
		o.logger.Warn("governance gate unavailable, blocking task",
			zap.String("task_id", exec.taskID),
			zap.Error(err),
		)
		return guardrails.UnavailableDecision(o.now()), false
	}

	outcome := "allowed"
	if !decision.Allowed {
		outcome = "denied"
	}
	o.metrics.RecordGateDecision(gateGovernance, outcome)
	span.SetAttributes(
		attribute.Bool("policy.allowed", decision.Allowed),
		attribute.String("policy.rule", decision.Rule),
	)
	return decision, false
}

// checkAlignment annotates the task; it never blocks completion.
func (o *Orchestrator) checkAlignment(ctx context.Context, exec *execution, output string) {
	actx, cancel := context.WithTimeout(ctx, o.config.GateTimeout)
	defer cancel()
	actx, span := o.tracer.Start(actx, "orchestrator.alignment")
	defer span.End()

	result, err := o.alignment.Check(actx, output, exec.gateContext())
	if err == nil && result == nil {
		err = fmt.Errorf("%w: empty result", guardrails.ErrGateUnavailable)
	}
	if err != nil {
		span.RecordError(err)
		o.metrics.RecordGateDecision(gateAlignment, "unavailable")
		o.logger.Warn("alignment gate unavailable, output left unchecked",
			zap.String("task_id", exec.taskID),
			zap.Error(err),
		)
		exec.warn(WarningAlignmentUnchecked)
		exec.metadata[MetadataAlignmentStatus] = AlignmentUnchecked
		exec.metadata[MetadataAlignment] = guardrails.UncheckedAlignment().ToMetadata()
		return
	}

	exec.metadata[MetadataAlignment] = result.ToMetadata()
	if result.Flagged {
		o.metrics.RecordGateDecision(gateAlignment, "flagged")
		o.logger.Info("output flagged by alignment gate",
			zap.String("task_id", exec.taskID),
			zap.String("agent_id", exec.def.ID),
			zap.Int("issues", len(result.Issues)),
		)
		exec.warn(WarningAlignmentFlagged)
		exec.metadata[MetadataAlignmentStatus] = AlignmentFlagged
		return
	}
	o.metrics.RecordGateDecision(gateAlignment, "passed")
	exec.metadata[MetadataAlignmentStatus] = AlignmentPassed
}

// =============================================================================
// 🤖 模型调用
// =============================================================================

func (o *Orchestrator) invoke(ctx context.Context, exec *execution, rendered string) (*llm.Generation, error) {
	provider, model := exec.def.ModelProvider, exec.def.ModelName

	ctx, cancel := context.WithTimeout(ctx, o.config.ModelTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "orchestrator.model", trace.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	))
	defer span.End()

	start := o.now()
	gen, err := o.invoker.Generate(ctx, llm.GenerateRequest{
		Prompt:   rendered,
		Provider: provider,
		Model:    model,
		Params:   modelParams(exec.def.Configuration),
		Timeout:  o.config.ModelTimeout,
		UserID:   exec.req.UserID,
		TraceID:  exec.taskID,
	})
	elapsed := o.now().Sub(start)
	if err == nil && gen == nil {
		err = errors.New("model invoker returned no generation")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model invocation failed")
		o.metrics.RecordLLMRequest(provider, model, "error", elapsed, 0, 0, 0)
		return nil, err
	}

	if gen.Provider != "" {
		provider = gen.Provider
	}
	if gen.Model != "" {
		model = gen.Model
	}
	exec.cost = o.config.Prices.Cost(model, gen.Usage)
	o.metrics.RecordLLMRequest(provider, model, "success", elapsed, gen.Usage.PromptTokens, gen.Usage.CompletionTokens, exec.cost)
	span.SetAttributes(attribute.Int("llm.tokens", gen.Usage.TotalTokens))
	return gen, nil
}

// modelParams reads generation parameters from the agent configuration.
func modelParams(cfg map[string]any) map[string]any {
	params, _ := cfg["model_params"].(map[string]any)
	return params
}

// =============================================================================
// 📋 终态
// =============================================================================

type failure struct {
	status  persistence.TaskStatus
	kind    types.ErrorCode
	message string
	policy  map[string]any
	// countsAgainstAgent records the outcome in the performance aggregator.
	countsAgainstAgent bool
}

func (o *Orchestrator) complete(ctx context.Context, exec *execution, gen *llm.Generation) (*Result, error) {
	latency := o.now().Sub(exec.start)
	if gen.UsageEstimated {
		exec.warn(WarningUsageEstimated)
	}

	metadata := exec.taskMetadata()
	metadata[MetadataModel] = map[string]any{
		"provider":      gen.Provider,
		"model":         gen.Model,
		"finish_reason": gen.FinishReason,
		"latency_ms":    gen.Latency.Milliseconds(),
	}
	confidence := 0.0
	if gen.Confidence != nil {
		confidence = *gen.Confidence
	}

	wctx, cancel := o.writeContext(ctx)
	defer cancel()
	if _, err := o.ledger.Complete(wctx, exec.taskID, persistence.Completion{
		Output:     gen.Text,
		TokensUsed: gen.Usage.TotalTokens,
		Cost:       exec.cost,
		LatencyMs:  latency.Milliseconds(),
		Confidence: confidence,
		Metadata:   metadata,
	}); err != nil {
		o.logPersistenceError("complete task", exec, err)
		return nil, err
	}

	o.aggregator.RecordExecution(ctx, exec.def.ID, latency.Milliseconds(), true)
	o.metrics.RecordTaskExecution(exec.def.ID, exec.req.TaskType, string(persistence.TaskStatusCompleted), latency)

	o.logger.Info("task completed",
		zap.String("task_id", exec.taskID),
		zap.String("agent_id", exec.def.ID),
		zap.Int64("latency_ms", latency.Milliseconds()),
		zap.Int("tokens", gen.Usage.TotalTokens),
	)

	return &Result{
		Success:    true,
		TaskID:     exec.taskID,
		Status:     persistence.TaskStatusCompleted,
		Output:     gen.Text,
		Confidence: gen.Confidence,
		LatencyMs:  latency.Milliseconds(),
		TokensUsed: gen.Usage.TotalTokens,
		Cost:       exec.cost,
		Warnings:   exec.warningsCopy(),
	}, nil
}

func (o *Orchestrator) block(ctx context.Context, exec *execution, decision *guardrails.PolicyDecision) (*Result, error) {
	o.logger.Info("task blocked by governance",
		zap.String("task_id", exec.taskID),
		zap.String("agent_id", exec.def.ID),
		zap.String("user_id", exec.req.UserID),
		zap.String("rule", decision.Rule),
	)
	return o.finishUnsuccessful(ctx, exec, failure{
		status:             persistence.TaskStatusBlocked,
		kind:               types.ErrGovernanceBlocked,
		message:            fmt.Sprintf("task blocked by governance policy %s: %s", decision.Rule, decision.Reason),
		policy:             decision.ToMetadata(),
		countsAgainstAgent: true,
	})
}

func (o *Orchestrator) failModel(ctx context.Context, exec *execution, cause error) (*Result, error) {
	o.logger.Warn("model invocation failed",
		zap.String("task_id", exec.taskID),
		zap.String("agent_id", exec.def.ID),
		zap.Error(cause),
	)
	var llmErr *llm.Error
	if errors.As(cause, &llmErr) {
		exec.metadata["model_error_code"] = string(llmErr.Code)
	}
	return o.finishUnsuccessful(ctx, exec, failure{
		status:             persistence.TaskStatusFailed,
		kind:               types.ErrModelInvocation,
		message:            "model invocation failed",
		countsAgainstAgent: true,
	})
}

// cancel records a caller cancellation. It is not held against the agent.
func (o *Orchestrator) cancel(ctx context.Context, exec *execution) (*Result, error) {
	o.logger.Info("task cancelled by caller",
		zap.String("task_id", exec.taskID),
		zap.String("agent_id", exec.def.ID),
		zap.Error(context.Cause(ctx)),
	)
	return o.finishUnsuccessful(ctx, exec, failure{
		status:  persistence.TaskStatusCancelled,
		kind:    types.ErrTaskCancelled,
		message: "task cancelled by caller",
	})
}

func (o *Orchestrator) recoverPanic(ctx context.Context, exec *execution, r any) (*Result, error) {
	o.logger.Error("panic during task execution",
		zap.String("task_id", exec.taskID),
		zap.String("agent_id", exec.def.ID),
		zap.Any("panic", r),
		zap.Stack("stack"),
	)
	if _, err := o.finishUnsuccessful(ctx, exec, failure{
		status:             persistence.TaskStatusFailed,
		kind:               types.ErrInternalError,
		message:            fmt.Sprintf("internal error: %v", r),
		countsAgainstAgent: true,
	}); err != nil {
		return nil, err
	}
	return nil, types.NewError(types.ErrInternalError, "internal error while executing task").
		WithHTTPStatus(http.StatusInternalServerError).
		WithCause(fmt.Errorf("task %s panicked: %v", exec.taskID, r))
}

func (o *Orchestrator) finishUnsuccessful(ctx context.Context, exec *execution, f failure) (*Result, error) {
	metadata := exec.taskMetadata()
	if f.policy != nil {
		metadata[MetadataPolicyDecision] = f.policy
	}

	wctx, cancel := o.writeContext(ctx)
	defer cancel()

	var err error
	switch f.status {
	case persistence.TaskStatusBlocked:
		_, err = o.ledger.Block(wctx, exec.taskID, f.message, metadata)
	case persistence.TaskStatusCancelled:
		_, err = o.ledger.Cancel(wctx, exec.taskID, metadata)
	default:
		_, err = o.ledger.Fail(wctx, exec.taskID, f.kind, f.message, metadata)
	}
	latency := o.now().Sub(exec.start)
	if err != nil {
		o.logPersistenceError("finalize task as "+string(f.status), exec, err)
		return nil, err
	}

	if f.countsAgainstAgent {
		o.aggregator.RecordExecution(ctx, exec.def.ID, latency.Milliseconds(), false)
	}
	o.metrics.RecordTaskExecution(exec.def.ID, exec.req.TaskType, string(f.status), latency)

	return &Result{
		Success:        false,
		TaskID:         exec.taskID,
		Status:         f.status,
		LatencyMs:      latency.Milliseconds(),
		Error:          f.message,
		ErrorKind:      f.kind,
		PolicyMetadata: f.policy,
		Warnings:       exec.warningsCopy(),
	}, nil
}
