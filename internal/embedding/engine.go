// Package embedding provides vector embedding generation for the
// long-term memory store.
package embedding

import (
	"context"
	"strings"

	"github.com/fdg312/coach-hub/internal/config"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

func NewEngine(cfg *config.Config) Engine {
	mode := strings.ToLower(strings.TrimSpace(cfg.EmbeddingMode))
	switch mode {
	case "openai":
		return NewOpenAIEngine(cfg)
	default:
		return NewMockEngine(64)
	}
}
