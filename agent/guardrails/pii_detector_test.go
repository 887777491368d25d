package guardrails

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// ============================================================================
// PII 与关键词验证器测试
// ============================================================================

func TestPIIDetector_DetectAndMask(t *testing.T) {
	d := NewPIIDetector(nil)

	content := "call 13812345678 or mail li.wei@campus.edu, student S2024001234"
	matches := d.Detect(content)
	require.Len(t, matches, 3)
	assert.Equal(t, PIITypePhone, matches[0].Type)
	assert.Equal(t, PIITypeEmail, matches[1].Type)
	assert.Equal(t, PIITypeStudentID, matches[2].Type)

	masked := d.Mask(content)
	assert.Contains(t, masked, "138****5678")
	assert.Contains(t, masked, "l***@campus.edu")
	assert.Contains(t, masked, "S*******234")
	assert.NotContains(t, masked, "13812345678")

	r, err := d.Validate(context.Background(), content)
	require.NoError(t, err)
	assert.False(t, r.Valid)
	require.Len(t, r.Errors, 3)
	for _, e := range r.Errors {
		assert.Equal(t, DimensionSafety, e.Dimension)
		assert.Equal(t, SeverityHigh, e.Severity)
	}
}

func TestPIIDetector_EnabledTypesAndCustomPatterns(t *testing.T) {
	d := NewPIIDetector(&PIIDetectorConfig{
		EnabledTypes:   []PIIType{PIITypeStudentID},
		CustomPatterns: map[PIIType]*regexp.Regexp{PIITypeStudentID: regexp.MustCompile(`\bSTU-\d{6}\b`)},
		Severity:       SeverityCritical,
	})

	r, err := d.Validate(context.Background(), "STU-123456 called 13812345678")
	require.NoError(t, err)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, string(PIITypeStudentID), r.Errors[0].Field)
	assert.Equal(t, SeverityCritical, r.Errors[0].Severity)
}

func TestPIIDetector_MaskedPhoneNeverLeaks(t *testing.T) {
	d := NewPIIDetector(&PIIDetectorConfig{EnabledTypes: []PIIType{PIITypePhone}})

	rapid.Check(t, func(rt *rapid.T) {
		prefix := rapid.SampledFrom([]string{"13", "15", "17", "18", "19"}).Draw(rt, "prefix")
		phone := prefix + rapid.StringMatching(`[0-9]{9}`).Draw(rt, "suffix")
		around := rapid.StringMatching(`[a-z ]{0,20}`).Draw(rt, "around")

		content := around + phone + around
		masked := d.Mask(content)
		if strings.Contains(masked, phone) {
			rt.Fatalf("phone %s survived masking: %s", phone, masked)
		}
		r, err := d.Validate(context.Background(), content)
		if err != nil || r.Valid {
			rt.Fatalf("phone %s not detected", phone)
		}
	})
}

func TestKeywordValidator(t *testing.T) {
	v := NewKeywordValidator(KeywordValidatorConfig{Keywords: []string{"exam answers", " ", "leak"}})
	assert.Equal(t, "keyword_validator", v.Name())

	matches := v.Detect("LEAK the Exam Answers, then leak again")
	require.Len(t, matches, 3)
	assert.Equal(t, "leak", matches[0].Keyword)
	assert.Equal(t, "exam answers", matches[1].Keyword)

	r, err := v.Validate(context.Background(), "LEAK the Exam Answers, then leak again")
	require.NoError(t, err)
	assert.Len(t, r.Errors, 2, "one issue per distinct keyword")
	assert.Equal(t, DimensionAppropriateness, r.Errors[0].Dimension)

	r, err = v.Validate(context.Background(), "nothing to see")
	require.NoError(t, err)
	assert.True(t, r.Valid)
}

func TestKeywordValidator_CaseSensitive(t *testing.T) {
	v := NewKeywordValidator(KeywordValidatorConfig{Keywords: []string{"TODO"}, CaseSensitive: true})
	assert.Empty(t, v.Detect("todo"))
	assert.Len(t, v.Detect("TODO"), 1)
}

func TestLengthValidator_CountsRunes(t *testing.T) {
	v := NewLengthValidator(3)

	r, err := v.Validate(context.Background(), "你好吗")
	require.NoError(t, err)
	assert.True(t, r.Valid)

	r, err = v.Validate(context.Background(), "你好吗?")
	require.NoError(t, err)
	assert.False(t, r.Valid)
	assert.Equal(t, ErrCodeMaxLengthExceeded, r.Errors[0].Code)
	assert.Equal(t, 4, r.Metadata["original_length"])

	assert.Equal(t, 10000, NewLengthValidator(0).maxLength)
}
