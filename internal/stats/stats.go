// Package stats derives rolling statistics from an instrument's observation history.
//
// Every statistic requires at least MinSamples observations and a non-nil current value.
// When either is missing the result is nil, which callers must treat as undefined rather
// than zero.
package stats

import (
	"math"

	"github.com/shopspring/decimal"
)

// MinSamples is the minimum history length for any statistic.
const MinSamples = 5

// ZScore returns how many sample standard deviations current lies from the mean of history,
// rounded to 2 decimals. A history with zero spread yields 0. A history whose mean or spread
// overflows float64 yields nil.
func ZScore(history []float64, current *float64) *float64 {
	if !enough(history, current) {
		return nil
	}
	stdev := SampleStdDev(history)
	if !finite(stdev) {
		return nil
	}
	if stdev == 0 {
		return ptr(0)
	}
	mean := Mean(history)
	if !finite(mean) {
		return nil
	}
	z := (*current - mean) / stdev
	if !finite(z) {
		return nil
	}
	return ptr(Round2(z))
}

// PercentileRank returns the fraction of history strictly below current, rounded to 2 decimals.
func PercentileRank(history []float64, current *float64) *float64 {
	if !enough(history, current) {
		return nil
	}
	below := 0
	for _, v := range history {
		if v < *current {
			below++
		}
	}
	return ptr(Round2(float64(below) / float64(len(history))))
}

// Rank is kept as its own entry point for callers that ask for the IV rank.
// It currently shares the PercentileRank computation.
func Rank(history []float64, current *float64) *float64 {
	return PercentileRank(history, current)
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStdDev returns the n-1 standard deviation of values.
// Fewer than two values, or a constant series, yield exactly 0.
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 || constant(values) {
		return 0
	}
	mean := Mean(values)
	var m2 float64
	for _, v := range values {
		d := v - mean
		m2 += d * d
	}
	return math.Sqrt(m2 / float64(len(values)-1))
}

// Round2 rounds v to 2 decimal places, ties to even. NaN and ±Inf are returned unchanged.
func Round2(v float64) float64 {
	if !finite(v) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).RoundBank(2).Float64()
	return f
}

// enough also rejects a non-finite current value, which has no defined position in the window.
func enough(history []float64, current *float64) bool {
	return current != nil && finite(*current) && len(history) >= MinSamples
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// constant guards the zero-spread case against float noise in the mean.
func constant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func ptr(v float64) *float64 { return &v }
