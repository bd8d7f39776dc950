// Package embedding provides the dual-fidelity embedding provider (spec.md
// 4.1, C1): a full-precision vector for module-side search and a
// compressed vector for CMI routing.
package embedding

import (
	"context"
	"math"
)

// Provider produces unit-normalised embeddings at two fidelities.
type Provider interface {
	// Full returns the F-dimensional embedding used by module search.
	Full(ctx context.Context, text string) ([]float32, error)
	// Compressed returns the C-dimensional embedding used by CMI routing.
	Compressed(ctx context.Context, text string) ([]float32, error)
	// FullDim and CompressedDim report the provider's configured dimensions.
	FullDim() int
	CompressedDim() int
}

// Normalize scales v to unit length in place and returns it. A zero vector
// is returned unchanged (there is no direction to normalise to).
func Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors, per spec.md 4.2 ("score = 1 - cos_distance").
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
