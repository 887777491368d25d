// =============================================================================
// 📦 测试数据工厂 - 模型响应
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/campusflow/llm"
)

// SimpleChatResponse 返回单条文本的 ChatResponse
func SimpleChatResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "resp-001",
		Provider: "mock",
		Model:    "mock-model",
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     20,
			CompletionTokens: 30,
			TotalTokens:      50,
		},
		CreatedAt: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC),
	}
}

// LowRiskGeneration 返回风险评分场景的模型结果
func LowRiskGeneration() *llm.Generation {
	confidence := 0.92
	return &llm.Generation{
		Text:         "low risk",
		Usage:        llm.ChatUsage{PromptTokens: 20, CompletionTokens: 30, TotalTokens: 50},
		Provider:     "mock",
		Model:        "mock-model",
		FinishReason: "stop",
		Confidence:   &confidence,
		Latency:      120 * time.Millisecond,
	}
}
