package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/campusflow/llm/circuitbreaker"
	"github.com/BaSui01/campusflow/llm/retry"
	"github.com/BaSui01/campusflow/llm/tokenizer"
	"go.uber.org/zap"
)

// GenerateRequest 一次模型调用
type GenerateRequest struct {
	Prompt   string         `json:"prompt"`
	Provider string         `json:"provider,omitempty"`
	Model    string         `json:"model,omitempty"`
	Params   map[string]any `json:"params,omitempty"` // temperature / max_tokens / top_p / stop
	Timeout  time.Duration  `json:"timeout,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	TraceID  string         `json:"trace_id,omitempty"`
}

// Generation 模型调用结果
type Generation struct {
	Text         string        `json:"text"`
	Usage        ChatUsage     `json:"usage"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Confidence   *float64      `json:"confidence,omitempty"`
	Latency      time.Duration `json:"latency"`
	// UsageEstimated 为 true 表示 Provider 未返回用量，Token 数为本地估算
	UsageEstimated bool `json:"usage_estimated,omitempty"`
}

// ModelInvoker 把组装好的提示词发送给模型
type ModelInvoker interface {
	Generate(ctx context.Context, req GenerateRequest) (*Generation, error)
}

// InvokerConfig Invoker 配置
type InvokerConfig struct {
	DefaultProvider string                `yaml:"default_provider" json:"default_provider"`
	DefaultTimeout  time.Duration         `yaml:"default_timeout" json:"default_timeout"`
	Retry           retry.RetryPolicy     `yaml:"retry" json:"retry"`
	Breaker         circuitbreaker.Config `yaml:"breaker" json:"breaker"`
}

// Invoker 在 Provider 之上提供路由、超时、重试、熔断与用量估算
type Invoker struct {
	config    InvokerConfig
	providers map[string]Provider
	breakers  map[string]*circuitbreaker.Breaker
	retryer   *retry.Retryer
	logger    *zap.Logger

	mu           sync.RWMutex
	tokenizerFor func(model string) tokenizer.Tokenizer
}

// NewInvoker 创建 Invoker；第一个 Provider 在未配置默认值时成为默认 Provider
func NewInvoker(config InvokerConfig, logger *zap.Logger, providers ...Provider) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 5 * time.Second
	}

	policy := config.Retry
	policy.ShouldRetry = IsRetryable

	breakerCfg := config.Breaker
	breakerCfg.IsFailure = func(err error) bool { return !IsClientError(err) }

	inv := &Invoker{
		config:       config,
		providers:    make(map[string]Provider, len(providers)),
		breakers:     make(map[string]*circuitbreaker.Breaker, len(providers)),
		retryer:      retry.NewRetryer(&policy, logger),
		logger:       logger.With(zap.String("component", "model_invoker")),
		tokenizerFor: tokenizer.GetTokenizerOrEstimator,
	}
	for _, p := range providers {
		inv.providers[p.Name()] = p
		inv.breakers[p.Name()] = circuitbreaker.New(p.Name(), breakerCfg, logger)
		if inv.config.DefaultProvider == "" {
			inv.config.DefaultProvider = p.Name()
		}
	}
	return inv
}

// WithTokenizer 替换用量估算使用的分词器选择函数
func (inv *Invoker) WithTokenizer(fn func(model string) tokenizer.Tokenizer) *Invoker {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.tokenizerFor = fn
	return inv
}

// Providers 返回已注册的 Provider 名称
func (inv *Invoker) Providers() []string {
	names := make([]string, 0, len(inv.providers))
	for name := range inv.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BreakerState 返回 Provider 的熔断状态
func (inv *Invoker) BreakerState(provider string) (circuitbreaker.State, bool) {
	b, ok := inv.breakers[provider]
	if !ok {
		return circuitbreaker.StateClosed, false
	}
	return b.State(), true
}

// Generate 在 timeout 内完成调用（含重试）。超时返回 LLM_UPSTREAM_TIMEOUT，
// 调用方取消时返回 context.Canceled。
func (inv *Invoker) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	name := req.Provider
	if name == "" {
		name = inv.config.DefaultProvider
	}
	p, ok := inv.providers[name]
	if !ok {
		return nil, &Error{
			Code:       ErrRoutingUnavailable,
			Message:    fmt.Sprintf("provider %q is not configured", name),
			HTTPStatus: http.StatusServiceUnavailable,
			Provider:   name,
		}
	}
	breaker := inv.breakers[name]

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = inv.config.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chatReq := buildChatRequest(req)
	start := time.Now()

	resp, err := retry.Do(callCtx, inv.retryer, func(ctx context.Context) (*ChatResponse, error) {
		return circuitbreaker.Call(ctx, breaker, func(ctx context.Context) (*ChatResponse, error) {
			return p.Completion(ctx, chatReq)
		})
	})
	latency := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			inv.logger.Warn("model call timed out",
				zap.String("provider", name),
				zap.String("model", req.Model),
				zap.Duration("timeout", timeout),
			)
			return nil, &Error{
				Code:       ErrUpstreamTimeout,
				Message:    fmt.Sprintf("model call exceeded %s", timeout),
				HTTPStatus: http.StatusGatewayTimeout,
				Provider:   name,
			}
		}
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
			return nil, &Error{
				Code:       ErrModelOverloaded,
				Message:    err.Error(),
				HTTPStatus: http.StatusServiceUnavailable,
				Provider:   name,
			}
		}
		inv.logger.Warn("model call failed", zap.String("provider", name), zap.Error(err))
		return nil, err
	}

	gen := &Generation{
		Text:     resp.FirstContent(),
		Usage:    resp.Usage,
		Provider: name,
		Model:    resp.Model,
		Latency:  latency,
	}
	if gen.Model == "" {
		gen.Model = req.Model
	}
	if len(resp.Choices) > 0 {
		gen.FinishReason = resp.Choices[0].FinishReason
	}
	if gen.Usage.TotalTokens == 0 {
		inv.estimateUsage(gen, req.Prompt)
	}

	return gen, nil
}

func (inv *Invoker) estimateUsage(gen *Generation, prompt string) {
	inv.mu.RLock()
	tk := inv.tokenizerFor(gen.Model)
	inv.mu.RUnlock()

	if gen.Usage.PromptTokens == 0 {
		gen.Usage.PromptTokens = tokenizer.Count(tk, prompt)
	}
	if gen.Usage.CompletionTokens == 0 {
		gen.Usage.CompletionTokens = tokenizer.Count(tk, gen.Text)
	}
	gen.Usage.TotalTokens = gen.Usage.PromptTokens + gen.Usage.CompletionTokens
	gen.UsageEstimated = true
}

func buildChatRequest(req GenerateRequest) *ChatRequest {
	chat := &ChatRequest{
		TraceID:  req.TraceID,
		UserID:   req.UserID,
		Model:    req.Model,
		Messages: []Message{{Role: RoleUser, Content: req.Prompt}},
	}
	if v, ok := paramFloat(req.Params, "temperature"); ok {
		chat.Temperature = float32(v)
	}
	if v, ok := paramFloat(req.Params, "top_p"); ok {
		chat.TopP = float32(v)
	}
	if v, ok := paramFloat(req.Params, "max_tokens"); ok {
		chat.MaxTokens = int(v)
	}
	if stops, ok := req.Params["stop"].([]any); ok {
		for _, s := range stops {
			if str, ok := s.(string); ok {
				chat.Stop = append(chat.Stop, str)
			}
		}
	}
	return chat
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

var _ ModelInvoker = (*Invoker)(nil)
