package orchestrator

import (
	"github.com/BaSui01/campusflow/agent/persistence"
	"github.com/BaSui01/campusflow/types"
)

// Request is one logical "run agent X with input Y for user Z".
type Request struct {
	AgentID  string         `json:"agent_id"`
	TaskType string         `json:"task_type"`
	Input    map[string]any `json:"input,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	// Options overrides Config.DefaultOptions when set.
	Options *Options `json:"options,omitempty"`
}

// Result is the envelope returned for every execution that created a task.
type Result struct {
	Success        bool                   `json:"success"`
	TaskID         string                 `json:"task_id"`
	Status         persistence.TaskStatus `json:"status"`
	Output         string                 `json:"output,omitempty"`
	Confidence     *float64               `json:"confidence,omitempty"`
	LatencyMs      int64                  `json:"latency_ms"`
	TokensUsed     int                    `json:"tokens_used"`
	Cost           float64                `json:"cost"`
	Error          string                 `json:"error,omitempty"`
	ErrorKind      types.ErrorCode        `json:"error_kind,omitempty"`
	PolicyMetadata map[string]any         `json:"policy_metadata,omitempty"`
	Warnings       []string               `json:"warnings,omitempty"`
}

// 任务元数据中的告警
const (
	WarningContextUnavailable  = "context_unavailable"
	WarningGovernanceUnchecked = "governance_unchecked"
	WarningAlignmentUnchecked  = "alignment_unchecked"
	WarningAlignmentFlagged    = "alignment_flagged"
	WarningUsageEstimated      = "usage_estimated"
)

// 任务元数据键
const (
	MetadataWarnings        = "warnings"
	MetadataPolicyDecision  = "policy_decision"
	MetadataAlignment       = "alignment"
	MetadataAlignmentStatus = "alignment_status"
	MetadataModel           = "model"
)

// alignment_status 取值
const (
	AlignmentUnchecked = "unchecked"
	AlignmentFlagged   = "flagged"
	AlignmentPassed    = "passed"
)
