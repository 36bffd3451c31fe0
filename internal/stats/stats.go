// Package stats holds the small numeric helpers shared by the engine.
package stats

import (
	"math"
	"strconv"
)

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Std returns the population standard deviation (ddof=0) of xs.
func Std(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// SampleStd returns the sample standard deviation (ddof=1) of the non-NaN
// values in xs. It returns NaN when fewer than two values remain.
func SampleStd(xs []float64) float64 {
	vals := DropNaN(xs)
	if len(vals) < 2 {
		return math.NaN()
	}
	m := Mean(vals)
	var ss float64
	for _, x := range vals {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// NaNMean returns the mean of the non-NaN values in xs, or NaN if none.
func NaNMean(xs []float64) float64 {
	vals := DropNaN(xs)
	if len(vals) == 0 {
		return math.NaN()
	}
	return Mean(vals)
}

// DropNaN returns the values of xs that are not NaN.
func DropNaN(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

// Max returns the largest value of xs, or 0 for an empty slice.
func Max(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// Round rounds the exact binary value of x to the given number of decimal
// places. Only exact ties go to even, so 51.55 (stored just below) gives 51.5.
func Round(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', places, 64), 64)
	if err != nil {
		return x
	}
	return r
}

// RoundScaled rounds x*10^places to the nearest integer, ties to even, and
// scales back. It is used for factor scores, where the scaled product decides.
func RoundScaled(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	p := math.Pow(10, float64(places))
	return math.RoundToEven(x*p) / p
}

// Clamp limits x to at most hi.
func Clamp(x, hi float64) float64 {
	if x > hi {
		return hi
	}
	return x
}
