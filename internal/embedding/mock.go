package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// MockEngine produces deterministic pseudo-embeddings from token hashes.
// Texts sharing words land near each other, which is enough for tests
// and keyword-ish local search.
type MockEngine struct {
	dimensions int
}

func NewMockEngine(dimensions int) *MockEngine {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &MockEngine{dimensions: dimensions}
}

func (e *MockEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)

	start := 0
	addToken := func(token string) {
		if token == "" {
			return
		}
		h := fnv.New32a()
		h.Write([]byte(token))
		idx := int(h.Sum32()) % e.dimensions
		if idx < 0 {
			idx += e.dimensions
		}
		vec[idx] += 1
	}
	for i, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == ',' || r == '.' {
			addToken(text[start:i])
			start = i + 1
		}
	}
	addToken(text[start:])

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (e *MockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (e *MockEngine) Dimensions() int {
	return e.dimensions
}

func (e *MockEngine) Name() string {
	return "mock"
}
