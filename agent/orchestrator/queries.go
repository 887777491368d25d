package orchestrator

import (
	"context"

	"github.com/BaSui01/campusflow/agent"
	"github.com/BaSui01/campusflow/agent/performance"
	"github.com/BaSui01/campusflow/agent/persistence"
	"go.uber.org/zap"
)

// =============================================================================
// 📋 Agent 管理
// =============================================================================

// RegisterAgent creates or replaces an agent definition. Statistics survive
// re-registration.
func (o *Orchestrator) RegisterAgent(ctx context.Context, def agent.Definition) (*agent.Definition, error) {
	registered, err := o.registry.Register(ctx, def)
	if err != nil {
		return nil, err
	}
	o.logger.Info("agent registered",
		zap.String("agent_id", registered.ID),
		zap.String("type", registered.Type),
		zap.Bool("enabled", registered.Enabled),
	)
	return registered, nil
}

// SetAgentEnabled soft-disables or re-enables an agent.
func (o *Orchestrator) SetAgentEnabled(ctx context.Context, agentID string, enabled bool) (*agent.Definition, error) {
	return o.registry.SetEnabled(ctx, agentID, enabled)
}

// GetAgent returns a copy of the agent definition.
func (o *Orchestrator) GetAgent(agentID string) (*agent.Definition, error) {
	return o.registry.Lookup(agentID)
}

// ListAgents returns all agents in registration order, disabled ones included.
func (o *Orchestrator) ListAgents() []*agent.Definition {
	return o.registry.List()
}

// GetAgentStats returns the agent's performance snapshot. An agent that has
// never run reports zero values.
func (o *Orchestrator) GetAgentStats(agentID string) (*performance.Snapshot, error) {
	if _, err := o.registry.Lookup(agentID); err != nil {
		return nil, err
	}
	return o.aggregator.Snapshot(agentID), nil
}

// =============================================================================
// 📋 任务查询
// =============================================================================

// GetTask returns a task record by ID.
func (o *Orchestrator) GetTask(ctx context.Context, taskID string) (*persistence.Task, error) {
	return o.ledger.Get(ctx, taskID)
}

// ListTasksByAgent returns the agent's most recent tasks first.
func (o *Orchestrator) ListTasksByAgent(ctx context.Context, agentID string, limit int) ([]*persistence.Task, error) {
	if _, err := o.registry.Lookup(agentID); err != nil {
		return nil, err
	}
	return o.ledger.ListByAgent(ctx, agentID, limit)
}
