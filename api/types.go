package api

import (
	"strings"
	"time"

	"github.com/BaSui01/campusflow/agent"
	"github.com/BaSui01/campusflow/agent/performance"
	"github.com/BaSui01/campusflow/agent/persistence"
)

// =============================================================================
// Agent 类型
// =============================================================================

// RegisterAgentRequest 注册或替换 Agent 定义
// @Description Agent 注册请求
type RegisterAgentRequest struct {
	// Agent ID，注册后不可变
	ID string `json:"id" example:"risk-scorer"`
	// 显示名称
	Name string `json:"name" example:"Risk Scorer"`
	// 类别
	Type string `json:"type" example:"risk_assessment"`
	// 能力列表（有序）
	Capabilities []string `json:"capabilities,omitempty"`
	// 模型 Provider
	ModelProvider string `json:"model_provider" example:"openai"`
	// 模型名称
	ModelName string `json:"model_name" example:"gpt-4o-mini"`
	// 自由配置；model_params 透传给模型
	Configuration map[string]any `json:"configuration,omitempty"`
	// 省略时为 true
	Enabled *bool `json:"enabled,omitempty"`
}

// Definition 转换为 Agent 定义
func (r RegisterAgentRequest) Definition() agent.Definition {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return agent.Definition{
		ID:            strings.TrimSpace(r.ID),
		Name:          r.Name,
		Type:          r.Type,
		Capabilities:  r.Capabilities,
		ModelProvider: r.ModelProvider,
		ModelName:     r.ModelName,
		Configuration: r.Configuration,
		Enabled:       enabled,
	}
}

// SetEnabledRequest 启用或软禁用 Agent
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// AgentInfo API 返回的 Agent 信息
// @Description Agent 定义
type AgentInfo struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Capabilities  []string       `json:"capabilities"`
	ModelProvider string         `json:"model_provider"`
	ModelName     string         `json:"model_name"`
	Configuration map[string]any `json:"configuration,omitempty"`
	Enabled       bool           `json:"enabled"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewAgentInfo 从定义构造 API 视图
func NewAgentInfo(def *agent.Definition) AgentInfo {
	caps := def.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return AgentInfo{
		ID:            def.ID,
		Name:          def.Name,
		Type:          def.Type,
		Capabilities:  caps,
		ModelProvider: def.ModelProvider,
		ModelName:     def.ModelName,
		Configuration: def.Configuration,
		Enabled:       def.Enabled,
		CreatedAt:     def.CreatedAt,
		UpdatedAt:     def.UpdatedAt,
	}
}

// AgentStats Agent 性能统计
// @Description 滚动性能快照
type AgentStats struct {
	AgentID         string     `json:"agent_id"`
	TotalExecutions int64      `json:"total_executions"`
	AvgLatencyMs    float64    `json:"avg_latency_ms"`
	LatencyStdDevMs float64    `json:"latency_stddev_ms"`
	SuccessRate     float64    `json:"success_rate"`
	LastUpdated     *time.Time `json:"last_updated,omitempty"`
}

// NewAgentStats 从快照构造 API 视图；nil 表示尚无执行记录
func NewAgentStats(agentID string, snap *performance.Snapshot) AgentStats {
	if snap == nil {
		return AgentStats{AgentID: agentID}
	}
	stats := AgentStats{
		AgentID:         agentID,
		TotalExecutions: snap.TotalExecutions,
		AvgLatencyMs:    snap.AvgLatencyMs,
		LatencyStdDevMs: snap.LatencyStdDevMs,
		SuccessRate:     snap.SuccessRate,
	}
	if !snap.LastUpdated.IsZero() {
		t := snap.LastUpdated
		stats.LastUpdated = &t
	}
	return stats
}

// =============================================================================
// 任务类型
// =============================================================================

// ExecuteRequest 执行任务请求
// @Description 任务执行请求
type ExecuteRequest struct {
	// 任务类型，例如 risk_scoring
	TaskType string `json:"task_type" example:"risk_scoring"`
	// 任务输入（JSON 对象）
	Input map[string]any `json:"input,omitempty"`
	// 用户 ID；已认证时以令牌中的调用者为准
	UserID string `json:"user_id,omitempty"`
	// 管道开关；省略时使用服务默认
	Options *ExecuteOptions `json:"options,omitempty"`
}

// ExecuteOptions 管道开关
type ExecuteOptions struct {
	EnableMemory     *bool `json:"enable_memory,omitempty"`
	EnableGovernance *bool `json:"enable_governance,omitempty"`
	EnableAlignment  *bool `json:"enable_alignment,omitempty"`
}

// TaskInfo API 返回的任务记录
// @Description 任务账本记录
type TaskInfo struct {
	ID           string                 `json:"id"`
	AgentID      string                 `json:"agent_id"`
	TaskType     string                 `json:"task_type"`
	UserID       string                 `json:"user_id,omitempty"`
	Input        map[string]any         `json:"input,omitempty"`
	Output       string                 `json:"output,omitempty"`
	Status       persistence.TaskStatus `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	ErrorKind    string                 `json:"error_kind,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	TokensUsed   int                    `json:"tokens_used"`
	Cost         float64                `json:"cost"`
	LatencyMs    int64                  `json:"latency_ms"`
	Confidence   float64                `json:"confidence"`
	Metadata     map[string]any         `json:"metadata,omitempty"`
}

// NewTaskInfo 从账本记录构造 API 视图
func NewTaskInfo(t *persistence.Task) TaskInfo {
	return TaskInfo{
		ID:           t.ID,
		AgentID:      t.AgentID,
		TaskType:     t.TaskType,
		UserID:       t.UserID,
		Input:        t.Input,
		Output:       t.Output,
		Status:       t.Status,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		ErrorKind:    t.ErrorKind,
		ErrorMessage: t.ErrorMessage,
		TokensUsed:   t.TokensUsed,
		Cost:         t.Cost,
		LatencyMs:    t.LatencyMs,
		Confidence:   t.Confidence,
		Metadata:     t.Metadata,
	}
}

// TaskList 分页外的任务列表
type TaskList struct {
	AgentID string     `json:"agent_id"`
	Tasks   []TaskInfo `json:"tasks"`
	Count   int        `json:"count"`
}
