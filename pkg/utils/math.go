package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := 1.0 / math.Sqrt(sum)
	for i := range x {
		x[i] = float32(float64(x[i]) * norm)
	}
}

// L2Norm returns the L2 norm of x.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Dot returns the inner product of a and b, or 0 when the lengths differ.
// For unit vectors this is the cosine similarity.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// MeanPool averages a row-major [tokens x dim] matrix over its rows.
// Returns nil when hidden is shorter than tokens*dim.
func MeanPool(hidden []float32, tokens, dim int) []float32 {
	if tokens <= 0 || dim <= 0 || len(hidden) < tokens*dim {
		return nil
	}
	out := make([]float32, dim)
	acc := make([]float64, dim)
	for t := 0; t < tokens; t++ {
		row := hidden[t*dim : (t+1)*dim]
		for j, v := range row {
			acc[j] += float64(v)
		}
	}
	for j := range acc {
		out[j] = float32(acc[j] / float64(tokens))
	}
	return out
}
