package retriever

import (
	"context"
	"crypto/sha256"
	"math"
)

// Embedder produces query and passage vectors. ModelID participates in chunk
// cache keys, so it must be stable for a given model + revision.
type Embedder interface {
	ModelID() string
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// HashEmbedder is a deterministic, low-fidelity embedder derived from the
// sha256 digest of the input. It exists so the pipeline (including chunk
// scoring and the cache key scheme) is fully exercisable without a real
// embedding back-end.
type HashEmbedder struct {
	dim     int
	modelID string
}

// NewHashEmbedder creates a hash embedder with the default dimension.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{dim: 16, modelID: "stub-embedder@v1"}
}

// ModelID implements Embedder.
func (e *HashEmbedder) ModelID() string { return e.modelID }

// EmbedQuery implements Embedder.
func (e *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.hashToVector(text), nil
}

// EmbedTexts implements Embedder.
func (e *HashEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = e.hashToVector(t)
	}
	return vecs, nil
}

func (e *HashEmbedder) hashToVector(text string) []float32 {
	digest := sha256.Sum256([]byte(text))
	vec := make([]float32, e.dim)
	for i := range vec {
		vec[i] = float32(digest[i%len(digest)]) / 255.0
	}
	return vec
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is empty or zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
