package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// MockEmbedder produces deterministic bag-of-words embeddings for tests and
// local runs without a model. Each token is hashed into a bucket, so texts
// sharing words end up with correlated vectors.
type MockEmbedder struct {
	dims int
}

func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &MockEmbedder{dims: dims}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	vec := make(Vector, m.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:'\"()")
		if tok == "" {
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(m.dims))
		// Sign derived from a higher hash bit keeps buckets from only growing.
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}
	normalizeInPlace(vec)
	return vec, nil
}

func (m *MockEmbedder) Dimensions() int { return m.dims }

func normalizeInPlace(vec Vector) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
}
