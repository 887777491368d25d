package performance

import "math"

// Accumulator keeps running statistics without storing samples.
// Mean and variance follow Welford's online algorithm.
type Accumulator struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// Add folds one sample into the accumulator.
func (a *Accumulator) Add(x float64) {
	a.Count++
	delta := x - a.Mean
	a.Mean += delta / float64(a.Count)
	a.M2 += delta * (x - a.Mean)
}

// Variance returns the population variance, or 0 before two samples.
func (a *Accumulator) Variance() float64 {
	if a.Count < 2 {
		return 0
	}
	return a.M2 / float64(a.Count)
}

// StdDev returns the population standard deviation.
func (a *Accumulator) StdDev() float64 {
	return math.Sqrt(a.Variance())
}
