package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值（触发熔断）
	Threshold int `yaml:"threshold" json:"threshold"`

	// ResetTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`

	// HalfOpenMaxCalls 半开状态下允许的最大请求数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls"`

	// IsFailure 判断错误是否计入失败；为空时所有错误都计入
	IsFailure func(err error) bool `yaml:"-" json:"-"`

	// OnStateChange 状态变更回调，在锁外同步调用
	OnStateChange func(name string, from State, to State) `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// 错误定义
var (
	ErrCircuitOpen            = errors.New("circuit breaker is open")
	ErrTooManyCallsInHalfOpen = errors.New("too many calls in half-open state")
)

// Breaker 熔断器
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu                sync.Mutex
	state             State
	failureCount      int       // 连续失败次数
	openedAt          time.Time // 最近一次打开时间
	halfOpenCallCount int       // 半开状态下的调用次数
}

// New 创建熔断器
func New(name string, config Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = def.ResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Breaker{
		name:   name,
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("name", name)),
		now:    time.Now,
		state:  StateClosed,
	}
}

// WithClock 替换时钟，供测试使用
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Call 执行调用。fn 在独立 goroutine 中运行，ctx 结束时立即返回，
// 即使 fn 没有响应取消。超时计为失败，调用方取消不计入。
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := b.beforeCall(); err != nil {
		return zero, fmt.Errorf("%s: %w", b.name, err)
	}

	type callResult struct {
		value T
		err   error
	}
	resultCh := make(chan callResult, 1)
	go func() {
		v, err := fn(ctx)
		resultCh <- callResult{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		b.record(ctx.Err())
		return zero, ctx.Err()

	case res := <-resultCh:
		b.record(res.err)
		return res.value, res.err
	}
}

// record 按错误类型记账：调用方取消只归还半开名额，不影响计数
func (b *Breaker) record(err error) {
	switch {
	case err == nil:
		b.afterCall(true)
	case errors.Is(err, context.Canceled):
		b.release()
	case errors.Is(err, context.DeadlineExceeded):
		b.afterCall(false)
	case b.config.IsFailure != nil && !b.config.IsFailure(err):
		b.afterCall(true)
	default:
		b.afterCall(false)
	}
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.halfOpenCallCount > 0 {
		b.halfOpenCallCount--
	}
}

// beforeCall 调用前检查
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	var from State
	changed := false
	defer func() {
		b.mu.Unlock()
		if changed {
			b.notify(from, StateHalfOpen)
		}
	}()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.ResetTimeout {
			return ErrCircuitOpen
		}
		from, changed = b.state, true
		b.state = StateHalfOpen
		b.halfOpenCallCount = 1
		b.logger.Info("熔断器进入半开状态")
		return nil

	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil
	}
	return nil
}

// afterCall 调用后处理
func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	from := b.state

	if success {
		b.failureCount = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.halfOpenCallCount = 0
			b.logger.Info("熔断器恢复正常")
		}
	} else {
		b.failureCount++
		switch b.state {
		case StateClosed:
			if b.failureCount >= b.config.Threshold {
				b.state = StateOpen
				b.openedAt = b.now()
				b.logger.Warn("熔断器打开",
					zap.Int("failure_count", b.failureCount),
					zap.Int("threshold", b.config.Threshold),
				)
			}
		case StateHalfOpen:
			b.state = StateOpen
			b.openedAt = b.now()
			b.halfOpenCallCount = 0
			b.logger.Warn("熔断器半开状态失败，重新打开")
		}
	}

	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// State 获取当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name 返回熔断器名称
func (b *Breaker) Name() string {
	return b.name
}

// Reset 重置熔断器（手动恢复）
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCallCount = 0
	b.mu.Unlock()

	b.logger.Info("熔断器已重置", zap.String("from_state", from.String()))
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}
