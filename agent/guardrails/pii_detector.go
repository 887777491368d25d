package guardrails

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// PIIType PII 类型
type PIIType string

const (
	// PIITypePhone 手机号
	PIITypePhone PIIType = "phone"
	// PIITypeEmail 邮箱
	PIITypeEmail PIIType = "email"
	// PIITypeIDCard 身份证号
	PIITypeIDCard PIIType = "id_card"
	// PIITypeBankCard 银行卡号
	PIITypeBankCard PIIType = "bank_card"
	// PIITypeStudentID 学号
	PIITypeStudentID PIIType = "student_id"
)

// PIIMatch PII 匹配结果
type PIIMatch struct {
	Type     PIIType `json:"type"`
	Masked   string  `json:"masked"`
	Position int     `json:"position"`
	Length   int     `json:"length"`
}

// PIIDetectorConfig PII 检测器配置
type PIIDetectorConfig struct {
	// EnabledTypes 启用的 PII 类型，为空则启用所有内置类型
	EnabledTypes []PIIType
	// CustomPatterns 自定义正则模式，覆盖同类型的内置模式
	CustomPatterns map[PIIType]*regexp.Regexp
	// Severity 发现 PII 时的严重级别
	Severity string
}

// PIIDetector 检测模型输出中的个人身份信息
type PIIDetector struct {
	types    []PIIType
	patterns map[PIIType]*regexp.Regexp
	severity string
}

// 学号默认形如 S2024001234
var defaultPatterns = map[PIIType]*regexp.Regexp{
	PIITypePhone:     regexp.MustCompile(`1[3-9]\d{9}`),
	PIITypeEmail:     regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	PIITypeIDCard:    regexp.MustCompile(`[1-9]\d{5}(?:19|20)\d{2}(?:0[1-9]|1[0-2])(?:0[1-9]|[12]\d|3[01])\d{3}[\dXx]`),
	PIITypeBankCard:  regexp.MustCompile(`\b\d{16,19}\b`),
	PIITypeStudentID: regexp.MustCompile(`\b[Ss]\d{10}\b`),
}

// NewPIIDetector 创建 PII 检测器
func NewPIIDetector(config *PIIDetectorConfig) *PIIDetector {
	if config == nil {
		config = &PIIDetectorConfig{}
	}

	enabled := config.EnabledTypes
	if len(enabled) == 0 {
		enabled = []PIIType{PIITypePhone, PIITypeEmail, PIITypeIDCard, PIITypeBankCard, PIITypeStudentID}
	}
	severity := config.Severity
	if severity == "" {
		severity = SeverityHigh
	}

	d := &PIIDetector{
		patterns: make(map[PIIType]*regexp.Regexp, len(enabled)),
		severity: severity,
	}
	for _, t := range enabled {
		if p, ok := config.CustomPatterns[t]; ok {
			d.patterns[t] = p
		} else if p, ok := defaultPatterns[t]; ok {
			d.patterns[t] = p
		} else {
			continue
		}
		d.types = append(d.types, t)
	}
	return d
}

// Name 返回验证器名称
func (d *PIIDetector) Name() string {
	return "pii_detector"
}

// Validate 每种检测到的 PII 类型记为一个 safety 维度问题
func (d *PIIDetector) Validate(_ context.Context, content string) (*ValidationResult, error) {
	result := NewValidationResult()

	matches := d.Detect(content)
	if len(matches) == 0 {
		return result, nil
	}

	counts := make(map[PIIType]int)
	for _, m := range matches {
		counts[m.Type]++
	}
	for _, t := range d.types {
		if counts[t] == 0 {
			continue
		}
		result.AddError(ValidationError{
			Code:      ErrCodePIIDetected,
			Message:   "output contains " + string(t),
			Severity:  d.severity,
			Dimension: DimensionSafety,
			Field:     string(t),
		})
	}
	result.Metadata["pii_matches"] = matches

	return result, nil
}

// Detect 检测内容中的所有 PII，按出现位置排序
func (d *PIIDetector) Detect(content string) []PIIMatch {
	var matches []PIIMatch

	for _, t := range d.types {
		for _, loc := range d.patterns[t].FindAllStringIndex(content, -1) {
			matches = append(matches, PIIMatch{
				Type:     t,
				Masked:   maskValue(t, content[loc[0]:loc[1]]),
				Position: loc[0],
				Length:   loc[1] - loc[0],
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Position < matches[j].Position })
	return matches
}

// Mask 对内容中的 PII 进行脱敏处理
func (d *PIIDetector) Mask(content string) string {
	result := content
	for _, t := range d.types {
		result = d.patterns[t].ReplaceAllStringFunc(result, func(match string) string {
			return maskValue(t, match)
		})
	}
	return result
}

// maskValue 根据 PII 类型对值进行脱敏
func maskValue(piiType PIIType, value string) string {
	switch piiType {
	case PIITypePhone:
		// 保留前3位和后4位
		if len(value) >= 7 {
			return value[:3] + "****" + value[len(value)-4:]
		}
	case PIITypeEmail:
		if at := strings.Index(value, "@"); at > 0 {
			return value[:1] + "***" + value[at:]
		}
	case PIITypeIDCard:
		if len(value) >= 10 {
			return value[:6] + "********" + value[len(value)-4:]
		}
	case PIITypeBankCard:
		if len(value) >= 8 {
			return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
		}
	case PIITypeStudentID:
		if len(value) >= 4 {
			return value[:1] + strings.Repeat("*", len(value)-4) + value[len(value)-3:]
		}
	}
	return strings.Repeat("*", len(value))
}
