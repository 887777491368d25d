package guardrails

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// ============================================================================
// ContentAlignmentGate 与 ValidatorChain 测试
// ============================================================================

func TestContentAlignmentGate_CleanOutput(t *testing.T) {
	gate := NewContentAlignmentGate(DefaultContentAlignmentConfig(), zap.NewNop())

	r, err := gate.Check(context.Background(), "low risk: attendance and grades are stable", nil)
	require.NoError(t, err)
	assert.False(t, r.Flagged)
	assert.True(t, r.Checked)
	assert.True(t, r.Aligned)
	assert.Empty(t, r.Issues)
	assert.Empty(t, r.Recommendations)
	for _, d := range AllDimensions() {
		assert.Equal(t, 1.0, r.Scores[d], string(d))
	}
}

func TestContentAlignmentGate_ScoresByDimension(t *testing.T) {
	cfg := DefaultContentAlignmentConfig()
	cfg.BlockedKeywords = []string{"cheat sheet"}
	cfg.BiasTerms = []string{"naturally worse"}
	gate := NewContentAlignmentGate(cfg, nil)

	tests := []struct {
		name    string
		content string
		dim     Dimension
		code    string
	}{
		{name: "pii", content: "contact them at 13812345678", dim: DimensionSafety, code: ErrCodePIIDetected},
		{name: "blocked keyword", content: "here is a Cheat Sheet for the exam", dim: DimensionAppropriateness, code: ErrCodeBlockedKeyword},
		{name: "bias", content: "this group is naturally worse at math", dim: DimensionBias, code: ErrCodeBlockedKeyword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := gate.Check(context.Background(), tt.content, nil)
			require.NoError(t, err)
			assert.True(t, r.Flagged)
			assert.False(t, r.Aligned)
			assert.Len(t, r.Recommendations, 1)
			require.Len(t, r.Issues, 1)
			assert.Equal(t, tt.code, r.Issues[0].Code)
			assert.InDelta(t, 0.4, r.Scores[tt.dim], 1e-9)
			for _, d := range AllDimensions() {
				if d != tt.dim {
					assert.Equal(t, 1.0, r.Scores[d])
				}
			}
		})
	}
}

func TestContentAlignmentGate_LengthOnlyLowersAppropriateness(t *testing.T) {
	cfg := DefaultContentAlignmentConfig()
	cfg.MaxOutputLength = 10
	gate := NewContentAlignmentGate(cfg, nil)

	r, err := gate.Check(context.Background(), strings.Repeat("好", 11), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, r.Scores[DimensionAppropriateness], 1e-9)
	assert.False(t, r.Flagged, "a score equal to the threshold is not flagged")
}

// stubValidator 可控的验证器
type stubValidator struct {
	name   string
	delay  time.Duration
	err    error
	issue  *ValidationError
	called atomic.Int32
}

func (s *stubValidator) Name() string { return s.name }

func (s *stubValidator) Validate(ctx context.Context, _ string) (*ValidationResult, error) {
	s.called.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	r := NewValidationResult()
	if s.issue != nil {
		r.AddError(*s.issue)
	}
	return r, nil
}

func TestValidatorChain_RunsInParallel(t *testing.T) {
	var validators []Validator
	for i := 0; i < 5; i++ {
		validators = append(validators, &stubValidator{name: "slow", delay: 100 * time.Millisecond})
	}
	chain := NewValidatorChain(validators...)

	start := time.Now()
	r, err := chain.Validate(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, r.Valid)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Len(t, r.Metadata["validators_executed"], 5)
}

func TestValidatorChain_MergesInRegistrationOrder(t *testing.T) {
	a := &stubValidator{name: "a", delay: 30 * time.Millisecond, issue: &ValidationError{Code: "A", Severity: SeverityLow}}
	b := &stubValidator{name: "b", issue: &ValidationError{Code: "B", Severity: SeverityLow}}
	chain := NewValidatorChain(a)
	chain.Add(b)
	assert.Equal(t, 2, chain.Len())

	r, err := chain.Validate(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, r.Errors, 2)
	assert.Equal(t, "A", r.Errors[0].Code)
	assert.Equal(t, "B", r.Errors[1].Code)
	assert.InDelta(t, 0.8, r.Scores()[DimensionSafety], 1e-9)
}

func TestContentAlignmentGate_ValidatorFailureIsUnavailable(t *testing.T) {
	chain := NewValidatorChain(
		&stubValidator{name: "ok"},
		&stubValidator{name: "broken", err: errors.New("classifier offline")},
	)
	gate := NewContentAlignmentGateWithChain(chain, 0.7, nil)

	_, err := gate.Check(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGateUnavailable))
	assert.Contains(t, err.Error(), "broken")
}

func TestContentAlignmentGate_Timeout(t *testing.T) {
	gate := NewContentAlignmentGateWithChain(NewValidatorChain(&stubValidator{name: "slow", delay: time.Second}), 0.7, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gate.Check(ctx, "x", nil)
	assert.True(t, errors.Is(err, ErrGateUnavailable))
}

func TestValidationResult_ScoresStayInRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := NewValidationResult()
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		for i := 0; i < n; i++ {
			r.AddError(ValidationError{
				Severity:  rapid.SampledFrom([]string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}).Draw(rt, "severity"),
				Dimension: rapid.SampledFrom(AllDimensions()).Draw(rt, "dimension"),
			})
		}
		for d, s := range r.Scores() {
			if s < 0 || s > 1 {
				rt.Fatalf("score %v for %s out of range", s, d)
			}
		}
		if n == 0 && !r.Valid {
			rt.Fatalf("empty result must be valid")
		}
	})
}

func TestAlignmentResult_Metadata(t *testing.T) {
	var nilResult *AlignmentResult
	assert.Nil(t, nilResult.ToMetadata())

	unchecked := UncheckedAlignment().ToMetadata()
	assert.Equal(t, false, unchecked["checked"])
	assert.NotContains(t, unchecked, "scores")

	m := (&AlignmentResult{
		Checked: true,
		Scores:  map[Dimension]float64{DimensionSafety: 0.4},
	}).ToMetadata()
	assert.Equal(t, map[string]any{"safety": 0.4}, m["scores"])
}
