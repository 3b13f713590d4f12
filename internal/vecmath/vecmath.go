// Package vecmath provides the small set of dense float32 vector kernels used
// by the projection stage and the index.
package vecmath

import (
	"errors"
	"math"
)

// Dot returns the inner product of a and b, accumulated in float64.
// Vectors of different length yield 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	return math.Sqrt(Dot(v, v))
}

// Normalize returns a unit-length copy of v. A zero vector is returned as a
// zero copy.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// IsUnit reports whether |‖v‖ - 1| <= tol.
func IsUnit(v []float32, tol float64) bool {
	return math.Abs(Norm(v)-1) <= tol
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is empty, zero, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	denom := Norm(a) * Norm(b)
	if denom == 0 {
		return 0
	}
	return Dot(a, b) / denom
}

// ErrEmptyPool is returned by MeanPool when there is nothing to pool.
var ErrEmptyPool = errors.New("mean pool over zero vectors")

// ErrRaggedPool is returned by MeanPool when the vectors differ in length.
var ErrRaggedPool = errors.New("mean pool over vectors of different length")

// MeanPool returns the element-wise arithmetic mean of vs.
func MeanPool(vs [][]float32) ([]float32, error) {
	if len(vs) == 0 {
		return nil, ErrEmptyPool
	}
	dim := len(vs[0])
	acc := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, ErrRaggedPool
		}
		for i, x := range v {
			acc[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	n := float64(len(vs))
	for i, s := range acc {
		out[i] = float32(s / n)
	}
	return out, nil
}
