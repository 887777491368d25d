// =============================================================================
// 🤖 MockInvoker - 模型调用模拟实现
// =============================================================================
// 用于编排器测试的 ModelInvoker 模拟，支持固定响应、延迟、挂起与错误注入
//
// 使用方法:
//
//	invoker := mocks.NewMockInvoker().WithResponse("low risk").WithTokens(20, 30)
//	gen, err := invoker.Generate(ctx, llm.GenerateRequest{Prompt: "..."})
//
// =============================================================================
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/campusflow/llm"
)

// MockInvoker 是 llm.ModelInvoker 的模拟实现
type MockInvoker struct {
	mu sync.RWMutex

	// 响应配置
	response         string
	promptTokens     int
	completionTokens int
	confidence       *float64
	usageEstimated   bool
	err              error

	// 行为控制
	delay        time.Duration
	hang         bool
	panicValue   any
	generateFunc func(ctx context.Context, req llm.GenerateRequest) (*llm.Generation, error)

	// 调用记录
	calls []llm.GenerateRequest
}

// =============================================================================
// 🔧 构造函数和 Builder 方法
// =============================================================================

// NewMockInvoker 创建新的 MockInvoker
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithResponse 设置固定响应文本
func (m *MockInvoker) WithResponse(text string) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = text
	return m
}

// WithTokens 设置 Token 用量
func (m *MockInvoker) WithTokens(prompt, completion int) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithConfidence 设置置信度
func (m *MockInvoker) WithConfidence(c float64) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confidence = &c
	return m
}

// WithEstimatedUsage 标记用量为本地估算
func (m *MockInvoker) WithEstimatedUsage() *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usageEstimated = true
	return m
}

// WithError 设置返回错误
func (m *MockInvoker) WithError(err error) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置响应延迟，延迟期间尊重 ctx 取消
func (m *MockInvoker) WithDelay(d time.Duration) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithHang 让调用一直阻塞直到 ctx 结束
func (m *MockInvoker) WithHang() *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hang = true
	return m
}

// WithPanic 让调用 panic
func (m *MockInvoker) WithPanic(v any) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicValue = v
	return m
}

// WithGenerateFunc 设置自定义 Generate 函数
func (m *MockInvoker) WithGenerateFunc(fn func(ctx context.Context, req llm.GenerateRequest) (*llm.Generation, error)) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateFunc = fn
	return m
}

// =============================================================================
// 🎯 ModelInvoker 接口实现
// =============================================================================

// Generate 记录调用并按配置返回
func (m *MockInvoker) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.Generation, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn := m.generateFunc
	delay, hang, panicValue := m.delay, m.hang, m.panicValue
	m.mu.Unlock()

	if panicValue != nil {
		panic(panicValue)
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Generation{
		Text: m.response,
		Usage: llm.ChatUsage{
			PromptTokens:     m.promptTokens,
			CompletionTokens: m.completionTokens,
			TotalTokens:      m.promptTokens + m.completionTokens,
		},
		Provider:       req.Provider,
		Model:          req.Model,
		FinishReason:   "stop",
		Confidence:     m.confidence,
		Latency:        delay,
		UsageEstimated: m.usageEstimated,
	}, nil
}

// =============================================================================
// 🔍 调用记录
// =============================================================================

// CallCount 返回调用次数
func (m *MockInvoker) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Calls 返回所有调用请求
func (m *MockInvoker) Calls() []llm.GenerateRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]llm.GenerateRequest(nil), m.calls...)
}

// LastCall 返回最后一次调用；无调用时返回零值
func (m *MockInvoker) LastCall() llm.GenerateRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return llm.GenerateRequest{}
	}
	return m.calls[len(m.calls)-1]
}

// Reset 清空调用记录
func (m *MockInvoker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
