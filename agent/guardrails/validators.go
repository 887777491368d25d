package guardrails

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// LengthValidator 限制输出的字符数
type LengthValidator struct {
	maxLength int
}

// NewLengthValidator 创建长度验证器，maxLength 按 rune 计算
func NewLengthValidator(maxLength int) *LengthValidator {
	if maxLength <= 0 {
		maxLength = 10000
	}
	return &LengthValidator{maxLength: maxLength}
}

// Name 返回验证器名称
func (v *LengthValidator) Name() string {
	return "length_validator"
}

// Validate 超长时记为 appropriateness 维度的中等问题
func (v *LengthValidator) Validate(_ context.Context, content string) (*ValidationResult, error) {
	result := NewValidationResult()

	n := utf8.RuneCountInString(content)
	if n <= v.maxLength {
		return result, nil
	}

	result.AddError(ValidationError{
		Code:      ErrCodeMaxLengthExceeded,
		Message:   fmt.Sprintf("output length %d exceeds limit %d", n, v.maxLength),
		Severity:  SeverityMedium,
		Dimension: DimensionAppropriateness,
	})
	result.Metadata["original_length"] = n
	result.Metadata["max_length"] = v.maxLength

	return result, nil
}

// KeywordValidatorConfig 关键词验证器配置
type KeywordValidatorConfig struct {
	// Name 验证器名称，默认 keyword_validator
	Name string
	// Keywords 禁止的关键词
	Keywords []string
	// Dimension 命中时计入的维度
	Dimension Dimension
	// Severity 命中时的严重级别
	Severity string
	// CaseSensitive 是否区分大小写
	CaseSensitive bool
}

// KeywordMatch 关键词匹配结果
type KeywordMatch struct {
	Keyword  string `json:"keyword"`
	Position int    `json:"position"`
}

// KeywordValidator 检测禁止的关键词
type KeywordValidator struct {
	name          string
	keywords      []string
	dimension     Dimension
	severity      string
	caseSensitive bool
}

// NewKeywordValidator 创建关键词验证器
func NewKeywordValidator(config KeywordValidatorConfig) *KeywordValidator {
	v := &KeywordValidator{
		name:          config.Name,
		dimension:     config.Dimension,
		severity:      config.Severity,
		caseSensitive: config.CaseSensitive,
	}
	if v.name == "" {
		v.name = "keyword_validator"
	}
	if v.dimension == "" {
		v.dimension = DimensionAppropriateness
	}
	if v.severity == "" {
		v.severity = SeverityMedium
	}
	for _, k := range config.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			v.keywords = append(v.keywords, k)
		}
	}
	return v
}

// Name 返回验证器名称
func (v *KeywordValidator) Name() string {
	return v.name
}

// Validate 每个命中的关键词记为一个问题
func (v *KeywordValidator) Validate(_ context.Context, content string) (*ValidationResult, error) {
	result := NewValidationResult()

	matches := v.Detect(content)
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if seen[m.Keyword] {
			continue
		}
		seen[m.Keyword] = true
		result.AddError(ValidationError{
			Code:      ErrCodeBlockedKeyword,
			Message:   fmt.Sprintf("output contains blocked term %q", m.Keyword),
			Severity:  v.severity,
			Dimension: v.dimension,
		})
	}
	if len(matches) > 0 {
		result.Metadata[v.name+"_matches"] = matches
	}

	return result, nil
}

// Detect 返回全部命中位置，按位置排序
func (v *KeywordValidator) Detect(content string) []KeywordMatch {
	haystack := content
	if !v.caseSensitive {
		haystack = strings.ToLower(content)
	}

	var matches []KeywordMatch
	for _, k := range v.keywords {
		needle := k
		if !v.caseSensitive {
			needle = strings.ToLower(k)
		}
		offset := 0
		for {
			idx := strings.Index(haystack[offset:], needle)
			if idx < 0 {
				break
			}
			matches = append(matches, KeywordMatch{Keyword: k, Position: offset + idx})
			offset += idx + len(needle)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Position < matches[j].Position })
	return matches
}
