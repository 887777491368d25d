// =============================================================================
// 🧠 MockContextProvider - 用户上下文模拟实现
// =============================================================================
// 用于测试的上下文提供者模拟，支持预置上下文、错误注入与写回记录
//
// 使用方法:
//
//	provider := mocks.NewMockContextProvider().WithProfile("u1", map[string]any{"grade": 3})
//	bundle, _ := provider.Fetch(ctx, "u1")
//
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/campusflow/agent/memory"
)

// LoggedInteraction 记录一次写回
type LoggedInteraction struct {
	UserID      string
	Interaction memory.Interaction
}

// MockContextProvider 是 memory.ContextProvider 的模拟实现
type MockContextProvider struct {
	mu sync.RWMutex

	bundles  map[string]*memory.Bundle
	fetchErr error
	logErr   error

	fetchCalls int
	logged     []LoggedInteraction
	// logHook 在写回时调用，用于同步测试
	logHook func(LoggedInteraction)
}

// NewMockContextProvider 创建新的 MockContextProvider
func NewMockContextProvider() *MockContextProvider {
	return &MockContextProvider{bundles: make(map[string]*memory.Bundle)}
}

// WithProfile 为用户预置画像
func (m *MockContextProvider) WithProfile(userID string, profile map[string]any) *MockContextProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bundleLocked(userID)
	b.Profile = profile
	return m
}

// WithInteractions 为用户预置历史交互
func (m *MockContextProvider) WithInteractions(userID string, interactions ...memory.Interaction) *MockContextProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bundleLocked(userID)
	b.Interactions = append(b.Interactions, interactions...)
	return m
}

// WithFetchError 设置 Fetch 错误
func (m *MockContextProvider) WithFetchError(err error) *MockContextProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
	return m
}

// WithLogError 设置 Log 错误
func (m *MockContextProvider) WithLogError(err error) *MockContextProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logErr = err
	return m
}

// WithLogHook 设置写回回调
func (m *MockContextProvider) WithLogHook(fn func(LoggedInteraction)) *MockContextProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logHook = fn
	return m
}

func (m *MockContextProvider) bundleLocked(userID string) *memory.Bundle {
	b, ok := m.bundles[userID]
	if !ok {
		b = &memory.Bundle{UserID: userID}
		m.bundles[userID] = b
	}
	return b
}

// Fetch 实现 memory.ContextProvider
func (m *MockContextProvider) Fetch(_ context.Context, userID string) (*memory.Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if b, ok := m.bundles[userID]; ok {
		return b.Clone(), nil
	}
	return &memory.Bundle{UserID: userID}, nil
}

// Log 实现 memory.ContextProvider
func (m *MockContextProvider) Log(_ context.Context, userID string, interaction memory.Interaction) error {
	m.mu.Lock()
	entry := LoggedInteraction{UserID: userID, Interaction: interaction}
	m.logged = append(m.logged, entry)
	hook, err := m.logHook, m.logErr
	m.mu.Unlock()

	if hook != nil {
		hook(entry)
	}
	return err
}

// FetchCount 返回 Fetch 调用次数
func (m *MockContextProvider) FetchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetchCalls
}

// Logged 返回所有写回记录
func (m *MockContextProvider) Logged() []LoggedInteraction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]LoggedInteraction(nil), m.logged...)
}
