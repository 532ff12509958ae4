package util

import "math"

// Last returns the trailing n entries of xs (all of xs when it is shorter).
func Last(xs []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

// Mean returns the arithmetic mean of xs, or NaN for an empty slice.
// Any ordered comparison against NaN is false, which is what the rule predicates rely on.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// MeanLast averages the trailing n entries of xs.
func MeanLast(xs []float64, n int) float64 {
	return Mean(Last(xs, n))
}

// PopulationVariance returns the population variance of xs, or NaN for an empty slice.
func PopulationVariance(xs []float64) float64 {
	m := Mean(xs)
	if math.IsNaN(m) {
		return m
	}
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return sq / float64(len(xs))
}

// AllLast reports whether xs has at least n entries and pred holds for each of the trailing n.
func AllLast(xs []float64, n int, pred func(float64) bool) bool {
	if n <= 0 || len(xs) < n {
		return false
	}
	for _, x := range xs[len(xs)-n:] {
		if !pred(x) {
			return false
		}
	}
	return true
}

// AnyLast reports whether pred holds for any of the trailing n entries of xs.
func AnyLast(xs []float64, n int, pred func(float64) bool) bool {
	for _, x := range Last(xs, n) {
		if pred(x) {
			return true
		}
	}
	return false
}

// Latest returns the final entry of xs, or NaN when xs is empty.
func Latest(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return xs[len(xs)-1]
}
