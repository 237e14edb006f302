// Package embedding defines the injected embed capability and the vector
// math shared by the memory ranking code.
package embedding

import (
	"context"
	"math"
)

// Vector is a fixed-length float32 embedding vector.
type Vector = []float32

// Embedder converts text into embedding vectors. The vector length must be
// stable for the lifetime of a deployment.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dimensions() int
}

// Cosine computes cosine similarity between two vectors. Mismatched or
// zero-norm inputs yield 0.
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
