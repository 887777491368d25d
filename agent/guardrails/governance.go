package guardrails

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// GovernanceRules 本地治理规则
type GovernanceRules struct {
	// DeniedActions 禁止的任务类型
	DeniedActions []string `yaml:"denied_actions" json:"denied_actions"`
	// DeniedActors 禁止的调用者
	DeniedActors []string `yaml:"denied_actors" json:"denied_actors"`
	// RatePerMinute 每个调用者每分钟允许的任务数，0 表示不限
	RatePerMinute float64 `yaml:"rate_per_minute" json:"rate_per_minute"`
	// Burst 令牌桶容量
	Burst int `yaml:"burst" json:"burst"`
}

// LoadGovernanceRules 从 YAML 文件加载规则
func LoadGovernanceRules(path string) (GovernanceRules, error) {
	var rules GovernanceRules
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read governance rules: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("parse governance rules: %w", err)
	}
	return rules, nil
}

// DefaultMaxTrackedActors 默认最多保留的调用者限流器数量
const DefaultMaxTrackedActors = 10000

// RuleGovernanceGate 按本地规则裁决：禁止的动作、禁止的调用者、按调用者限流
type RuleGovernanceGate struct {
	mu      sync.RWMutex
	rules   GovernanceRules
	actions map[string]struct{}
	actors  map[string]struct{}

	// limiters 按调用者缓存令牌桶，空闲到桶满后过期
	limMu     sync.Mutex
	limiters  *expirable.LRU[string, *rate.Limiter]
	limTTL    time.Duration
	maxActors int

	logger *zap.Logger
	now    func() time.Time
}

// NewRuleGovernanceGate 创建规则网关
func NewRuleGovernanceGate(rules GovernanceRules, logger *zap.Logger) *RuleGovernanceGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &RuleGovernanceGate{
		logger:    logger.With(zap.String("component", "governance_gate")),
		now:       time.Now,
		maxActors: DefaultMaxTrackedActors,
	}
	g.SetRules(rules)
	return g
}

// WithClock 替换时钟，供测试控制令牌补充
func (g *RuleGovernanceGate) WithClock(now func() time.Time) *RuleGovernanceGate {
	g.now = now
	return g
}

// WithMaxTrackedActors 限制同时保留的限流器数量，超出时淘汰最久未用的调用者
func (g *RuleGovernanceGate) WithMaxTrackedActors(n int) *RuleGovernanceGate {
	if n > 0 {
		g.mu.Lock()
		g.maxActors = n
		g.limiters.Resize(n)
		g.mu.Unlock()
	}
	return g
}

// TrackedActors 返回当前保留限流器的调用者数量
func (g *RuleGovernanceGate) TrackedActors() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limiters.Len()
}

// limiterTTL 是令牌桶从空到满的时间，之后丢弃限流器与新建等价
func limiterTTL(rules GovernanceRules) time.Duration {
	ttl := time.Minute
	if rules.RatePerMinute > 0 {
		refill := time.Duration(float64(rules.Burst) / rules.RatePerMinute * float64(time.Minute))
		if refill > ttl {
			ttl = refill
		}
	}
	return ttl
}

// SetRules 原子替换规则，限流状态随之重置
func (g *RuleGovernanceGate) SetRules(rules GovernanceRules) {
	actions := make(map[string]struct{}, len(rules.DeniedActions))
	for _, a := range rules.DeniedActions {
		actions[strings.TrimSpace(a)] = struct{}{}
	}
	actors := make(map[string]struct{}, len(rules.DeniedActors))
	for _, a := range rules.DeniedActors {
		actors[strings.TrimSpace(a)] = struct{}{}
	}
	if rules.RatePerMinute > 0 && rules.Burst <= 0 {
		rules.Burst = 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = rules
	g.actions = actions
	g.actors = actors
	// 每个 LRU 自带清理协程，TTL 足够时复用并清空
	if ttl := limiterTTL(rules); g.limiters == nil || ttl > g.limTTL {
		g.limiters = expirable.NewLRU[string, *rate.Limiter](g.maxActors, nil, ttl)
		g.limTTL = ttl
	} else {
		g.limiters.Purge()
	}

	g.logger.Info("governance rules applied",
		zap.Int("denied_actions", len(actions)),
		zap.Int("denied_actors", len(actors)),
		zap.Float64("rate_per_minute", rules.RatePerMinute),
	)
}

// Rules 返回当前规则
func (g *RuleGovernanceGate) Rules() GovernanceRules {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rules
}

// Check 依次检查禁止动作、禁止调用者、限流
func (g *RuleGovernanceGate) Check(ctx context.Context, entityType, entityID, action, actorID string, _ map[string]any) (*PolicyDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateUnavailable, err)
	}

	now := g.now()
	decision := &PolicyDecision{
		Allowed:   true,
		DecidedAt: now,
		Metadata: map[string]any{
			"entity_type": entityType,
			"entity_id":   entityID,
			"action":      action,
		},
	}

	g.mu.RLock()
	_, deniedAction := g.actions[action]
	_, deniedActor := g.actors[actorID]
	g.mu.RUnlock()

	switch {
	case deniedAction:
		decision.Deny(RuleDeniedAction, fmt.Sprintf("action %q is not permitted", action), RiskHigh)
	case deniedActor:
		decision.Deny(RuleDeniedActor, fmt.Sprintf("actor %q is not permitted", actorID), RiskHigh)
	case !g.allow(actorID, now):
		decision.Deny(RuleRateLimited, fmt.Sprintf("actor %q exceeded the task rate limit", actorID), RiskMedium)
	default:
		decision.RiskLevel = RiskLow
	}

	if !decision.Allowed {
		g.logger.Info("governance denied task",
			zap.String("entity_id", entityID),
			zap.String("action", action),
			zap.String("actor_id", actorID),
			zap.String("rule", decision.Rule),
		)
	}
	return decision, nil
}

func (g *RuleGovernanceGate) allow(actorID string, now time.Time) bool {
	g.mu.RLock()
	rules := g.rules
	limiters := g.limiters
	g.mu.RUnlock()

	if rules.RatePerMinute <= 0 {
		return true
	}

	g.limMu.Lock()
	l, ok := limiters.Get(actorID)
	if !ok {
		l = rate.NewLimiter(rate.Limit(rules.RatePerMinute/60), rules.Burst)
		limiters.Add(actorID, l)
	}
	g.limMu.Unlock()

	return l.AllowN(now, 1)
}

var _ GovernanceGate = (*RuleGovernanceGate)(nil)
