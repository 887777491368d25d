// =============================================================================
// 📦 测试数据工厂 - Agent 定义
// =============================================================================
// 提供预定义的 Agent 定义，覆盖风险评分、座位编排与行为模式三类 Agent
// =============================================================================
package fixtures

import (
	"github.com/BaSui01/campusflow/agent"
)

// =============================================================================
// 🤖 Agent 定义工厂
// =============================================================================

// RiskScorerAgent 返回风险评分 Agent 定义
func RiskScorerAgent() agent.Definition {
	return agent.Definition{
		ID:            "risk-scorer",
		Name:          "Student Risk Scorer",
		Type:          "risk_assessment",
		Capabilities:  []string{"risk_scoring", "attendance_analysis"},
		ModelProvider: "mock",
		ModelName:     "mock-model",
		Configuration: map[string]any{
			"threshold": 0.7,
			"model_params": map[string]any{
				"temperature": 0.2,
				"max_tokens":  256,
			},
		},
		Enabled: true,
	}
}

// SeatingPlannerAgent 返回座位编排 Agent 定义
func SeatingPlannerAgent() agent.Definition {
	return agent.Definition{
		ID:            "seating-planner",
		Name:          "Seating Chart Planner",
		Type:          "seating",
		Capabilities:  []string{"seating_chart"},
		ModelProvider: "mock",
		ModelName:     "mock-model",
		Configuration: map[string]any{"rows": 6, "columns": 8},
		Enabled:       true,
	}
}

// BehaviorAnalystAgent 返回行为模式检测 Agent 定义
func BehaviorAnalystAgent() agent.Definition {
	return agent.Definition{
		ID:            "behavior-analyst",
		Name:          "Behaviour Pattern Analyst",
		Type:          "behavior",
		Capabilities:  []string{"pattern_detection", "incident_summary"},
		ModelProvider: "mock",
		ModelName:     "mock-model",
		Enabled:       true,
	}
}

// DisabledAgent 返回已停用的 Agent 定义
func DisabledAgent() agent.Definition {
	def := BehaviorAnalystAgent()
	def.ID = "retired-agent"
	def.Name = "Retired Agent"
	def.Enabled = false
	return def
}

// AllAgents 返回全部启用的 Agent 定义
func AllAgents() []agent.Definition {
	return []agent.Definition{
		RiskScorerAgent(),
		SeatingPlannerAgent(),
		BehaviorAnalystAgent(),
	}
}

// =============================================================================
// 📋 任务输入
// =============================================================================

// RiskScoringInput 返回风险评分任务输入
func RiskScoringInput() map[string]any {
	return map[string]any{
		"student_id":      "S-1024",
		"attendance_rate": 0.96,
		"grades":          []any{88, 92, 79},
	}
}
