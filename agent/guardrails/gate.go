package guardrails

import (
	"context"
	"errors"
	"time"
)

// ErrGateUnavailable 表示策略网关因网络、超时或内部故障无法给出结论
var ErrGateUnavailable = errors.New("policy gate unavailable")

// 治理规则名
const (
	RuleDeniedAction          = "denied_action"
	RuleDeniedActor           = "denied_actor"
	RuleRateLimited           = "rate_limited"
	RuleGovernanceUnavailable = "governance_unavailable"
)

// 风险等级
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// PolicyDecision 治理网关的裁决
type PolicyDecision struct {
	Allowed       bool           `json:"allowed"`
	Rule          string         `json:"rule,omitempty"` // 首个命中的规则
	ViolatedRules []string       `json:"violated_rules,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	RiskLevel     string         `json:"risk_level,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	DecidedAt     time.Time      `json:"decided_at"`
}

// Deny 将裁决置为拒绝
func (d *PolicyDecision) Deny(rule, reason, risk string) {
	d.Allowed = false
	if d.Rule == "" {
		d.Rule = rule
	}
	d.ViolatedRules = append(d.ViolatedRules, rule)
	d.Reason = reason
	d.RiskLevel = risk
}

// UnavailableDecision 治理网关不可用时的失败关闭裁决。原因只写日志，不进入裁决。
func UnavailableDecision(now time.Time) *PolicyDecision {
	d := &PolicyDecision{DecidedAt: now}
	d.Deny(RuleGovernanceUnavailable, "governance gate unavailable", RiskHigh)
	return d
}

// ToMetadata 转为可写入任务元数据的 map
func (d *PolicyDecision) ToMetadata() map[string]any {
	if d == nil {
		return nil
	}
	m := map[string]any{
		"allowed":    d.Allowed,
		"rule":       d.Rule,
		"reason":     d.Reason,
		"risk_level": d.RiskLevel,
	}
	if len(d.ViolatedRules) > 0 {
		m["violated_rules"] = append([]string(nil), d.ViolatedRules...)
	}
	if len(d.Metadata) > 0 {
		m["metadata"] = d.Metadata
	}
	return m
}

// AlignmentResult 对齐网关对模型输出的评估。
// Checked 为 false 表示网关不可用，输出未经检查。
type AlignmentResult struct {
	Checked         bool                  `json:"checked"`
	Aligned         bool                  `json:"aligned"`
	Flagged         bool                  `json:"flagged"`
	Scores          map[Dimension]float64 `json:"scores,omitempty"`
	Issues          []ValidationError     `json:"issues,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
}

// UncheckedAlignment 网关不可用时使用的结果
func UncheckedAlignment() *AlignmentResult {
	return &AlignmentResult{Checked: false, Aligned: true}
}

// ToMetadata 转为可写入任务元数据的 map
func (r *AlignmentResult) ToMetadata() map[string]any {
	if r == nil {
		return nil
	}
	m := map[string]any{
		"checked": r.Checked,
		"aligned": r.Aligned,
		"flagged": r.Flagged,
	}
	if len(r.Scores) > 0 {
		scores := make(map[string]any, len(r.Scores))
		for d, v := range r.Scores {
			scores[string(d)] = v
		}
		m["scores"] = scores
	}
	if len(r.Recommendations) > 0 {
		m["recommendations"] = append([]string(nil), r.Recommendations...)
	}
	return m
}

// GovernanceGate 在模型调用前决定任务是否允许执行
type GovernanceGate interface {
	Check(ctx context.Context, entityType, entityID, action, actorID string, attrs map[string]any) (*PolicyDecision, error)
}

// AlignmentGate 在模型调用后评估输出
type AlignmentGate interface {
	Check(ctx context.Context, content string, attrs map[string]any) (*AlignmentResult, error)
}
