package embeddings

import (
	"fmt"
	"math"

	"github.com/raaihank/sentinel-embed/internal/embederr"
)

// normEpsilon is the smallest norm Normalize will divide by
const normEpsilon = 1e-12

// Normalize returns v scaled to unit length. Vectors whose norm is not
// above 1e-12 are returned as an unchanged copy.
func Normalize(v []float32) []float32 {
	norm := l2Norm(v)

	out := make([]float32, len(v))
	if norm <= normEpsilon {
		copy(out, v)
		return out
	}
	for i, val := range v {
		out[i] = float32(float64(val) / norm)
	}
	return out
}

// NormalizeAll normalizes every vector in place of the slice.
func NormalizeAll(vs [][]float32) {
	for i := range vs {
		vs[i] = Normalize(vs[i])
	}
}

// CosineSimilarity calculates the cosine similarity of two equal-length vectors.
// Norms are always computed; a zero vector scores 0. The result is clamped to [-1, 1].
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("%w: %d vs %d", embederr.ErrDimensionMismatch, len(vec1), len(vec2))
	}

	var dotProduct, norm1, norm2 float64
	for i := range vec1 {
		a, b := float64(vec1[i]), float64(vec2[i])
		dotProduct += a * b
		norm1 += a * a
		norm2 += b * b
	}

	if norm1 == 0 || norm2 == 0 {
		return 0, nil
	}

	return clamp(dotProduct / (math.Sqrt(norm1) * math.Sqrt(norm2))), nil
}

// DotProduct is cosine similarity for vectors already known to be unit length.
func DotProduct(vec1, vec2 []float32) (float32, error) {
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("%w: %d vs %d", embederr.ErrDimensionMismatch, len(vec1), len(vec2))
	}

	var dot float64
	for i := range vec1 {
		dot += float64(vec1[i]) * float64(vec2[i])
	}
	return clamp(dot), nil
}

func l2Norm(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

func clamp(x float64) float32 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return float32(x)
}
