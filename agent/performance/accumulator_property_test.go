package performance

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestProperty_RunningMeanMatchesArithmeticMean 对任意延迟序列，增量均值应等于算术平均值
func TestProperty_RunningMeanMatchesArithmeticMean(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		latencies := rapid.SliceOfN(rapid.Int64Range(0, 600_000), 1, 500).Draw(rt, "latencies")

		agg := NewAggregator()
		var sum float64
		for _, l := range latencies {
			agg.RecordExecution(context.Background(), "agent", l, true)
			sum += float64(l)
		}

		want := sum / float64(len(latencies))
		snap := agg.Snapshot("agent")

		require.Equal(rt, int64(len(latencies)), snap.TotalExecutions)
		tolerance := 1e-9 * math.Max(1, math.Abs(want))
		assert.InDelta(rt, want, snap.AvgLatencyMs, tolerance)
	})
}

// TestProperty_StdDevMatchesTwoPass 对任意样本，Welford 方差应与两遍算法一致
func TestProperty_StdDevMatchesTwoPass(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		samples := rapid.SliceOfN(rapid.Float64Range(0, 10_000), 2, 200).Draw(rt, "samples")

		var acc Accumulator
		var sum float64
		for _, s := range samples {
			acc.Add(s)
			sum += s
		}
		mean := sum / float64(len(samples))
		var sq float64
		for _, s := range samples {
			sq += (s - mean) * (s - mean)
		}
		want := math.Sqrt(sq / float64(len(samples)))

		assert.InDelta(rt, want, acc.StdDev(), 1e-6*math.Max(1, want))
	})
}

// Feature: performance aggregation, success rate equals the fraction of successful runs
func TestProperty_SuccessRateIsFractionOfSuccesses(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("success rate equals successes / executions", prop.ForAll(
		func(outcomes []bool) bool {
			if len(outcomes) == 0 {
				return true
			}

			agg := NewAggregator()
			successes := 0
			for _, ok := range outcomes {
				if ok {
					successes++
				}
				agg.RecordExecution(context.Background(), "agent", 10, ok)
			}

			snap := agg.Snapshot("agent")
			want := float64(successes) / float64(len(outcomes))
			return snap.TotalExecutions == int64(len(outcomes)) &&
				math.Abs(snap.SuccessRate-want) < 1e-9
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
