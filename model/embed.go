package model

import (
	"context"
	"fmt"
	"log/slog"

	"ragingest/config"
	"ragingest/types"
)

// Embedder turns texts into vectors, one per input and in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// NewEmbedder builds the embedding client selected by the configuration.
func NewEmbedder(cfg *config.Config, logger *slog.Logger) (Embedder, error) {
	switch cfg.Embedding.Provider {
	case "", "ollama":
		logger.Info("using ollama embeddings", "url", cfg.Embedding.URL, "model", cfg.Embedding.Model)
		return NewOllamaEmbedder(cfg.Embedding.URL, cfg.Embedding.Model,
			WithTimeout(cfg.Embedding.Timeout),
			WithBatchSize(cfg.Embedding.BatchSize),
		), nil
	case "openai":
		logger.Info("using openai-compatible embeddings", "url", cfg.Embedding.URL, "model", cfg.Embedding.Model)
		return NewOpenAIEmbedder(cfg.Embedding.URL, cfg.Embedding.Model, cfg.APIKey(),
			cfg.Embedding.BatchSize)
	default:
		return nil, types.Errorf(types.KindConfigurationError, "model.NewEmbedder", "unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, types.Errorf(types.KindProviderError, "model.EmbedOne", "expected 1 vector, got %d", len(vecs))
	}
	return vecs[0], nil
}

// checkVectors enforces the 1:1 contract and a single dimensionality.
func checkVectors(op string, vecs [][]float32, want, dim int) error {
	if len(vecs) != want {
		return types.Errorf(types.KindProviderError, op, "expected %d vectors, got %d", want, len(vecs))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return types.Errorf(types.KindProviderError, op, "empty vector at %d", i)
		}
		if dim > 0 && len(v) != dim {
			return types.Errorf(types.KindProviderError, op, "vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}

// ProbeText is the input Probe embeds.
const ProbeText = "dimension probe"

// Probe asks the provider for one vector and returns its dimensionality. The
// embedder pins that length for later calls.
func Probe(ctx context.Context, e Embedder) (int, error) {
	v, err := EmbedOne(ctx, e, ProbeText)
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}
	return len(v), nil
}
