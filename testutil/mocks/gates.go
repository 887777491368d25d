// =============================================================================
// 🛡️ MockGovernanceGate / MockAlignmentGate - 策略网关模拟实现
// =============================================================================
// 支持放行、拒绝、不可用与自定义判定
//
// 使用方法:
//
//	gov := mocks.NewMockGovernanceGate().WithDeny("rate_limited", "too many requests")
//	align := mocks.NewMockAlignmentGate().WithUnavailable()
//
// =============================================================================
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/campusflow/agent/guardrails"
)

// GovernanceCall 记录单次治理检查
type GovernanceCall struct {
	EntityType string
	EntityID   string
	Action     string
	ActorID    string
	Context    map[string]any
}

// MockGovernanceGate 是 guardrails.GovernanceGate 的模拟实现
type MockGovernanceGate struct {
	mu sync.RWMutex

	decision *guardrails.PolicyDecision
	err      error
	hang     bool
	checkFn  func(ctx context.Context, call GovernanceCall) (*guardrails.PolicyDecision, error)

	calls []GovernanceCall
}

// NewMockGovernanceGate 创建默认放行的 MockGovernanceGate
func NewMockGovernanceGate() *MockGovernanceGate {
	return &MockGovernanceGate{
		decision: &guardrails.PolicyDecision{Allowed: true, RiskLevel: guardrails.RiskLow},
	}
}

// WithDeny 设置拒绝判定
func (m *MockGovernanceGate) WithDeny(rule, reason string) *MockGovernanceGate {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &guardrails.PolicyDecision{}
	d.Deny(rule, reason, guardrails.RiskMedium)
	m.decision = d
	return m
}

// WithDecision 设置固定判定
func (m *MockGovernanceGate) WithDecision(d *guardrails.PolicyDecision) *MockGovernanceGate {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decision = d
	return m
}

// WithUnavailable 模拟网关不可用
func (m *MockGovernanceGate) WithUnavailable() *MockGovernanceGate {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = fmt.Errorf("%w: connection refused", guardrails.ErrGateUnavailable)
	return m
}

// WithHang 让检查阻塞直到 ctx 结束
func (m *MockGovernanceGate) WithHang() *MockGovernanceGate {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hang = true
	return m
}

// WithCheckFunc 设置自定义检查函数
func (m *MockGovernanceGate) WithCheckFunc(fn func(ctx context.Context, call GovernanceCall) (*guardrails.PolicyDecision, error)) *MockGovernanceGate {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkFn = fn
	return m
}

// Check 实现 guardrails.GovernanceGate
func (m *MockGovernanceGate) Check(ctx context.Context, entityType, entityID, action, actorID string, attrs map[string]any) (*guardrails.PolicyDecision, error) {
	call := GovernanceCall{EntityType: entityType, EntityID: entityID, Action: action, ActorID: actorID, Context: attrs}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	fn, hang := m.checkFn, m.hang
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, call)
	}
	if hang {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", guardrails.ErrGateUnavailable, ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	d := *m.decision
	d.DecidedAt = time.Now()
	return &d, nil
}

// CallCount 返回调用次数
func (m *MockGovernanceGate) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Calls 返回所有调用
func (m *MockGovernanceGate) Calls() []GovernanceCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]GovernanceCall(nil), m.calls...)
}

// =============================================================================
// 🎯 MockAlignmentGate
// =============================================================================

// MockAlignmentGate 是 guardrails.AlignmentGate 的模拟实现
type MockAlignmentGate struct {
	mu sync.RWMutex

	result *guardrails.AlignmentResult
	err    error

	contents []string
}

// NewMockAlignmentGate 创建默认通过的 MockAlignmentGate
func NewMockAlignmentGate() *MockAlignmentGate {
	return &MockAlignmentGate{
		result: &guardrails.AlignmentResult{
			Checked: true,
			Aligned: true,
			Scores:  map[guardrails.Dimension]float64{"safety": 1, "bias": 1, "appropriateness": 1},
		},
	}
}

// WithFlagged 设置标记结果
func (m *MockAlignmentGate) WithFlagged(recommendations ...string) *MockAlignmentGate {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = &guardrails.AlignmentResult{
		Checked:         true,
		Aligned:         false,
		Flagged:         true,
		Scores:          map[guardrails.Dimension]float64{"safety": 0.2, "bias": 1, "appropriateness": 0.5},
		Recommendations: recommendations,
	}
	return m
}

// WithUnavailable 模拟网关不可用
func (m *MockAlignmentGate) WithUnavailable() *MockAlignmentGate {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = fmt.Errorf("%w: timeout", guardrails.ErrGateUnavailable)
	return m
}

// Check 实现 guardrails.AlignmentGate
func (m *MockAlignmentGate) Check(_ context.Context, content string, _ map[string]any) (*guardrails.AlignmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contents = append(m.contents, content)
	if m.err != nil {
		return nil, m.err
	}
	r := *m.result
	return &r, nil
}

// CallCount 返回调用次数
func (m *MockAlignmentGate) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contents)
}

// Contents 返回被检查的内容
func (m *MockAlignmentGate) Contents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.contents...)
}
