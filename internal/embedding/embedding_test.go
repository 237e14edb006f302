package embedding

import (
	"context"
	"math"
	"testing"
)

func TestCosineIdenticalVectors(t *testing.T) {
	a := Vector{1, 2, 3}
	if got := Cosine(a, a); math.Abs(got-1) > 1e-6 {
		t.Fatalf("Cosine(a, a) = %v, want 1", got)
	}
}

func TestCosineOrthogonalAndMismatched(t *testing.T) {
	if got := Cosine(Vector{1, 0}, Vector{0, 1}); got != 0 {
		t.Fatalf("orthogonal cosine = %v, want 0", got)
	}
	if got := Cosine(Vector{1, 0}, Vector{1}); got != 0 {
		t.Fatalf("mismatched-length cosine = %v, want 0", got)
	}
	if got := Cosine(Vector{0, 0}, Vector{1, 1}); got != 0 {
		t.Fatalf("zero-norm cosine = %v, want 0", got)
	}
}

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	a, err := e.Embed(context.Background(), "the weather in lisbon")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, _ := e.Embed(context.Background(), "the weather in lisbon")
	if Cosine(a, b) < 0.999 {
		t.Fatalf("same text should embed identically, cosine = %v", Cosine(a, b))
	}
}

func TestMockEmbedderSharedWordsCorrelate(t *testing.T) {
	e := NewMockEmbedder(128)
	ctx := context.Background()
	base, _ := e.Embed(ctx, "hiking in the mountains with friends")
	near, _ := e.Embed(ctx, "hiking the mountains alone")
	far, _ := e.Embed(ctx, "quarterly tax filing deadline")

	if Cosine(base, near) <= Cosine(base, far) {
		t.Fatalf("overlapping text cosine %v should beat unrelated %v",
			Cosine(base, near), Cosine(base, far))
	}
}

func TestMockEmbedderDimensions(t *testing.T) {
	e := NewMockEmbedder(0)
	if e.Dimensions() != 384 {
		t.Fatalf("default dimensions = %d, want 384", e.Dimensions())
	}
	vec, _ := e.Embed(context.Background(), "hello")
	if len(vec) != 384 {
		t.Fatalf("vector length = %d, want 384", len(vec))
	}
}
