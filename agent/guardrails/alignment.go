package guardrails

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ContentAlignmentConfig 内容对齐网关配置
type ContentAlignmentConfig struct {
	MaxOutputLength int      `yaml:"max_output_length" json:"max_output_length"`
	BlockedKeywords []string `yaml:"blocked_keywords" json:"blocked_keywords"`
	BiasTerms       []string `yaml:"bias_terms" json:"bias_terms"`
	PIIDetection    bool     `yaml:"pii_detection" json:"pii_detection"`
	// FlagThreshold 任一维度分数低于该值即标记
	FlagThreshold float64 `yaml:"flag_threshold" json:"flag_threshold"`
}

// DefaultContentAlignmentConfig 返回默认配置
func DefaultContentAlignmentConfig() ContentAlignmentConfig {
	return ContentAlignmentConfig{
		MaxOutputLength: 10000,
		PIIDetection:    true,
		FlagThreshold:   0.7,
	}
}

// ContentAlignmentGate 用本地验证器评估模型输出
type ContentAlignmentGate struct {
	chain     *ValidatorChain
	threshold float64
	logger    *zap.Logger
}

// NewContentAlignmentGate 按配置组装验证器链
func NewContentAlignmentGate(config ContentAlignmentConfig, logger *zap.Logger) *ContentAlignmentGate {
	if logger == nil {
		logger = zap.NewNop()
	}

	chain := NewValidatorChain(NewLengthValidator(config.MaxOutputLength))
	if config.PIIDetection {
		chain.Add(NewPIIDetector(nil))
	}
	if len(config.BlockedKeywords) > 0 {
		chain.Add(NewKeywordValidator(KeywordValidatorConfig{
			Name:      "blocked_keywords",
			Keywords:  config.BlockedKeywords,
			Dimension: DimensionAppropriateness,
			Severity:  SeverityHigh,
		}))
	}
	if len(config.BiasTerms) > 0 {
		chain.Add(NewKeywordValidator(KeywordValidatorConfig{
			Name:      "bias_terms",
			Keywords:  config.BiasTerms,
			Dimension: DimensionBias,
			Severity:  SeverityHigh,
		}))
	}

	return NewContentAlignmentGateWithChain(chain, config.FlagThreshold, logger)
}

// NewContentAlignmentGateWithChain 使用自定义验证器链
func NewContentAlignmentGateWithChain(chain *ValidatorChain, threshold float64, logger *zap.Logger) *ContentAlignmentGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultContentAlignmentConfig().FlagThreshold
	}
	return &ContentAlignmentGate{
		chain:     chain,
		threshold: threshold,
		logger:    logger.With(zap.String("component", "alignment_gate")),
	}
}

// Check 并行运行验证器并按维度评分
func (g *ContentAlignmentGate) Check(ctx context.Context, content string, _ map[string]any) (*AlignmentResult, error) {
	vr, err := g.chain.Validate(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateUnavailable, err)
	}

	result := &AlignmentResult{
		Checked: true,
		Scores:  vr.Scores(),
		Issues:  vr.Errors,
	}
	for _, s := range result.Scores {
		if s < g.threshold {
			result.Flagged = true
			break
		}
	}
	result.Aligned = !result.Flagged
	result.Recommendations = recommendations(vr.Errors)

	if result.Flagged {
		g.logger.Debug("output flagged", zap.Int("issues", len(vr.Errors)))
	}
	return result, nil
}

var _ AlignmentGate = (*ContentAlignmentGate)(nil)

// recommendations 按错误码去重生成处理建议
func recommendations(issues []ValidationError) []string {
	seen := make(map[string]struct{}, len(issues))
	var out []string
	for _, issue := range issues {
		var rec string
		switch issue.Code {
		case ErrCodePIIDetected:
			rec = "remove or mask personal data before sharing the output"
		case ErrCodeMaxLengthExceeded:
			rec = "shorten the output"
		case ErrCodeBlockedKeyword:
			rec = "rephrase the output without restricted terms"
		default:
			rec = "review the output manually"
		}
		if _, ok := seen[rec]; ok {
			continue
		}
		seen[rec] = struct{}{}
		out = append(out, rec)
	}
	return out
}
