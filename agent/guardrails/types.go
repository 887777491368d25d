package guardrails

import (
	"context"
	"math"
)

// Validator 内容验证器接口
// 用于对模型输出做安全性与合规性检查
type Validator interface {
	// Name 返回验证器名称
	Name() string
	// Validate 执行验证，返回验证结果
	Validate(ctx context.Context, content string) (*ValidationResult, error)
}

// Dimension 对齐评分维度
type Dimension string

const (
	DimensionSafety          Dimension = "safety"
	DimensionBias            Dimension = "bias"
	DimensionAppropriateness Dimension = "appropriateness"
)

// AllDimensions 返回全部评分维度
func AllDimensions() []Dimension {
	return []Dimension{DimensionSafety, DimensionBias, DimensionAppropriateness}
}

// Severity 常量定义
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Error 错误代码常量
const (
	ErrCodePIIDetected       = "PII_DETECTED"
	ErrCodeMaxLengthExceeded = "MAX_LENGTH_EXCEEDED"
	ErrCodeBlockedKeyword    = "BLOCKED_KEYWORD"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
)

// ValidationError 验证发现的问题
type ValidationError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"` // critical, high, medium, low
	Dimension Dimension `json:"dimension"`
	Field     string    `json:"field,omitempty"`
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// NewValidationResult 创建一个有效的验证结果
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		Metadata: make(map[string]any),
	}
}

// AddError 添加验证错误并将结果标记为无效
func (r *ValidationResult) AddError(err ValidationError) {
	r.Valid = false
	r.Errors = append(r.Errors, err)
}

// Merge 合并另一个验证结果
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	if !other.Valid {
		r.Valid = false
	}
	r.Errors = append(r.Errors, other.Errors...)
	for k, v := range other.Metadata {
		r.Metadata[k] = v
	}
}

// severityPenalty 每个问题按严重级别扣减所属维度的分数
func severityPenalty(severity string) float64 {
	switch severity {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.6
	case SeverityMedium:
		return 0.3
	default:
		return 0.1
	}
}

// Scores 按维度计算 [0,1] 分数，1 表示没有问题
func (r *ValidationResult) Scores() map[Dimension]float64 {
	scores := make(map[Dimension]float64, 3)
	for _, d := range AllDimensions() {
		scores[d] = 1
	}
	for _, e := range r.Errors {
		d := e.Dimension
		if d == "" {
			d = DimensionSafety
		}
		scores[d] = math.Max(0, scores[d]-severityPenalty(e.Severity))
	}
	return scores
}
